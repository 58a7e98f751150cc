// Package veritytest provides an in-memory verity engine.
package veritytest

import (
	"context"
	"fmt"
	"sync"

	"github.com/subgraph/citadel/lib/verity"
)

// RootHash is the root hash the fake engine reports for every device.
const RootHash = "9d5e3c1f"

// Engine records verity calls.
type Engine struct {
	mu      sync.Mutex
	open    map[string]string
	formats int
	// VerifyResult is returned by Verify.
	VerifyResult bool
	// OpenErr, when set, is returned by Open.
	OpenErr error
}

var _ verity.Engine = (*Engine)(nil)

// New returns an engine whose Verify succeeds.
func New() *Engine {
	return &Engine{open: make(map[string]string), VerifyResult: true}
}

func (e *Engine) Format(ctx context.Context, dev string, p verity.Params) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.formats++
	return RootHash, nil
}

func (e *Engine) Verify(ctx context.Context, dev string, p verity.Params) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.VerifyResult && p.RootHash == RootHash, nil
}

func (e *Engine) Open(ctx context.Context, name, dev string, p verity.Params) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.OpenErr != nil {
		return e.OpenErr
	}
	if _, ok := e.open[name]; ok {
		return fmt.Errorf("device %s already exists", name)
	}
	e.open[name] = dev
	return nil
}

func (e *Engine) Close(ctx context.Context, name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.open[name]; !ok {
		return fmt.Errorf("device %s does not exist", name)
	}
	delete(e.open, name)
	return nil
}

// Formats returns how many times Format ran.
func (e *Engine) Formats() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.formats
}

// OpenDevices returns the names of open mappings.
func (e *Engine) OpenDevices() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []string
	for name := range e.open {
		out = append(out, name)
	}
	return out
}

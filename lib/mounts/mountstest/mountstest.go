// Package mountstest provides in-memory stand-ins for loop devices and
// mount(2).
package mountstest

import (
	"fmt"
	"os"
	"sync"

	"github.com/subgraph/citadel/lib/mounts"
)

// Loops hands out fake loop devices and remembers which are attached.
type Loops struct {
	mu       sync.Mutex
	next     int
	attached map[string]string
	// Err, when set, is returned by AttachLoop.
	Err error
}

var _ mounts.LoopAttacher = (*Loops)(nil)

// NewLoops returns an empty set of fake loop devices.
func NewLoops() *Loops {
	return &Loops{attached: make(map[string]string)}
}

type loopDev struct {
	loops  *Loops
	device string
}

func (l *loopDev) Device() string { return l.device }

func (l *loopDev) Detach() error {
	l.loops.mu.Lock()
	defer l.loops.mu.Unlock()
	if _, ok := l.loops.attached[l.device]; !ok {
		return fmt.Errorf("%s not attached", l.device)
	}
	delete(l.loops.attached, l.device)
	return nil
}

func (f *Loops) AttachLoop(file string, offset int64, readOnly bool) (mounts.Loop, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	dev := fmt.Sprintf("/dev/loop%d", f.next)
	f.next++
	f.attached[dev] = file
	return &loopDev{loops: f, device: dev}, nil
}

// Attached returns the number of loop devices still attached.
func (f *Loops) Attached() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.attached)
}

// Backing returns the file behind a fake device.
func (f *Loops) Backing(dev string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	file, ok := f.attached[dev]
	return file, ok
}

// Mounter records mounts instead of performing them.
type Mounter struct {
	mu      sync.Mutex
	mounted map[string]string
	binds   [][2]string
	// OnMount runs after a successful fake mount of source at target.
	OnMount func(source, target string) error
	// Err, when set, is returned by every mount call.
	Err error
}

var _ mounts.Mounter = (*Mounter)(nil)

// NewMounter returns a Mounter with nothing mounted.
func NewMounter() *Mounter {
	return &Mounter{mounted: make(map[string]string)}
}

func (m *Mounter) mount(source, target string) error {
	m.mu.Lock()
	if m.Err != nil {
		m.mu.Unlock()
		return m.Err
	}
	if err := os.MkdirAll(target, 0755); err != nil {
		m.mu.Unlock()
		return err
	}
	m.mounted[target] = source
	hook := m.OnMount
	m.mu.Unlock()

	if hook != nil {
		return hook(source, target)
	}
	return nil
}

func (m *Mounter) MountReadOnly(source, target string) error {
	return m.mount(source, target)
}

func (m *Mounter) Mount(source, target, fsType string, flags uintptr, data string) error {
	return m.mount(source, target)
}

func (m *Mounter) BindMount(source, target string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.binds = append(m.binds, [2]string{source, target})
	return nil
}

func (m *Mounter) Unmount(target string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.mounted[target]; !ok {
		return fmt.Errorf("%s not mounted", target)
	}
	delete(m.mounted, target)
	return nil
}

// Mounted returns the source mounted at target.
func (m *Mounter) Mounted(target string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.mounted[target]
	return s, ok
}

// Count returns the number of live mounts, not counting bind mounts.
func (m *Mounter) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.mounted)
}

// Binds returns the recorded bind mounts as source, target pairs.
func (m *Mounter) Binds() [][2]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][2]string(nil), m.binds...)
}

// Package verity drives dm-verity through the veritysetup command.
//
// The data and the hash tree live on the same device: the data occupies the
// first DataBlocks blocks and the tree starts at HashOffset.
package verity

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/subgraph/citadel/lib/logger"
)

// BlockSize is the data and hash block size used for every image.
const BlockSize = 4096

// Params describes the verity layout of a device.
type Params struct {
	DataBlocks uint64
	Salt       string
	// RootHash is required by Verify and Open.
	RootHash string
}

// HashOffset is the byte offset of the hash tree on the device.
func (p Params) HashOffset() int64 {
	return int64(p.DataBlocks) * BlockSize
}

// Engine builds, checks and maps verity hash trees.
type Engine interface {
	// Format writes the hash tree after the data and returns the root hash.
	Format(ctx context.Context, dev string, p Params) (string, error)
	// Verify checks the whole device against the root hash. It returns
	// false without error when the data does not match.
	Verify(ctx context.Context, dev string, p Params) (bool, error)
	// Open creates the mapping /dev/mapper/<name>.
	Open(ctx context.Context, name, dev string, p Params) error
	// Close removes a mapping created by Open.
	Close(ctx context.Context, name string) error
}

// DevicePath returns the device node of a mapping.
func DevicePath(name string) string {
	return "/dev/mapper/" + name
}

// VeritySetup implements Engine with the veritysetup binary.
type VeritySetup struct {
	// Binary defaults to "veritysetup" on PATH.
	Binary string
}

var _ Engine = (*VeritySetup)(nil)

func (v *VeritySetup) binary() string {
	if v.Binary == "" {
		return "veritysetup"
	}
	return v.Binary
}

func layoutArgs(p Params) []string {
	return []string{
		"--hash-offset=" + strconv.FormatInt(p.HashOffset(), 10),
		"--data-blocks=" + strconv.FormatUint(p.DataBlocks, 10),
		"--salt=" + p.Salt,
	}
}

func (v *VeritySetup) run(ctx context.Context, args ...string) ([]byte, error) {
	logger.FromContext(ctx).DebugContext(ctx, "running veritysetup", "args", args)
	cmd := exec.CommandContext(ctx, v.binary(), args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return output, fmt.Errorf("%w: %s: %w, output: %s", ErrCommandFailed, args[0], err, output)
	}
	return output, nil
}

func (v *VeritySetup) Format(ctx context.Context, dev string, p Params) (string, error) {
	args := append([]string{"format"}, layoutArgs(p)...)
	args = append(args, dev, dev)
	output, err := v.run(ctx, args...)
	if err != nil {
		return "", err
	}
	return ParseRootHash(output)
}

func (v *VeritySetup) Verify(ctx context.Context, dev string, p Params) (bool, error) {
	args := append([]string{"verify"}, layoutArgs(p)...)
	args = append(args, dev, dev, p.RootHash)
	_, err := v.run(ctx, args...)
	if err == nil {
		return true, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return false, nil
	}
	return false, err
}

func (v *VeritySetup) Open(ctx context.Context, name, dev string, p Params) error {
	args := append([]string{"open"}, layoutArgs(p)...)
	args = append(args, dev, name, dev, p.RootHash)
	_, err := v.run(ctx, args...)
	return err
}

func (v *VeritySetup) Close(ctx context.Context, name string) error {
	_, err := v.run(ctx, "close", name)
	return err
}

// ParseRootHash extracts the "Root hash:" line from veritysetup format output.
func ParseRootHash(output []byte) (string, error) {
	sc := bufio.NewScanner(bytes.NewReader(output))
	for sc.Scan() {
		k, val, ok := strings.Cut(sc.Text(), ":")
		if ok && strings.TrimSpace(k) == "Root hash" {
			return strings.TrimSpace(val), nil
		}
	}
	return "", ErrNoRootHash
}

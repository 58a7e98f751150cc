package partitions

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/subgraph/citadel/lib/header"
	"github.com/subgraph/citadel/lib/logger"
)

// Partition is one rootfs slot. Its header is read straight from the first
// block of the device.
type Partition struct {
	path    string
	header  *header.Header
	mounted bool
}

// Path returns the block device path.
func (p *Partition) Path() string { return p.path }

// Header returns the embedded header, or nil when the partition is uninitialized.
func (p *Partition) Header() *header.Header { return p.header }

// IsInitialized reports whether the partition carries a valid header.
func (p *Partition) IsInitialized() bool { return p.header != nil }

// IsMounted reports whether the partition was in use when it was probed.
func (p *Partition) IsMounted() bool { return p.mounted }

// WriteHeader rewrites the first block of the device with h.
func (p *Partition) WriteHeader(h *header.Header) error {
	if err := h.WriteTo(p.path); err != nil {
		return fmt.Errorf("write partition header: %w", err)
	}
	p.header = h.Clone()
	return nil
}

// ClearFlagAndWrite clears f in the embedded header and persists it.
func (p *Partition) ClearFlagAndWrite(f header.Flag) error {
	if p.header == nil {
		return fmt.Errorf("partition %s is not initialized", p.path)
	}
	h := p.header.Clone()
	h.ClearFlag(f)
	return p.WriteHeader(h)
}

// SetStatusAndWrite sets the header status and persists it.
func (p *Partition) SetStatusAndWrite(s header.Status) error {
	if p.header == nil {
		return fmt.Errorf("partition %s is not initialized", p.path)
	}
	h := p.header.Clone()
	h.SetStatus(s)
	return p.WriteHeader(h)
}

// WriteImage copies everything after the header block of the image file at
// src (payload plus any hash tree) to the same offset on the partition, then
// writes h with status New to the first block. The old header is zeroed
// before the copy and the new one is written only after the payload has been
// synced, so an interrupted write leaves the partition uninitialized.
func (p *Partition) WriteImage(ctx context.Context, src string, h *header.Header) error {
	log := logger.FromContext(ctx)

	mi, err := h.MetaInfo()
	if err != nil {
		return err
	}
	if mi.ImageType() != header.ImageTypeRootfs {
		return fmt.Errorf("%w: %s", ErrNotRootfs, mi.ImageType())
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open image: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(p.path, os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("open partition: %w", err)
	}
	defer out.Close()

	if err := p.invalidate(out); err != nil {
		return err
	}

	log.InfoContext(ctx, "writing rootfs image to partition", "image", src, "partition", p.path)
	r := io.NewSectionReader(in, header.BlockSize, 1<<62)
	w := io.NewOffsetWriter(out, header.BlockSize)
	n, err := io.Copy(w, r)
	if err != nil {
		return fmt.Errorf("copy image to %s: %w", p.path, err)
	}
	if err := out.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", p.path, err)
	}
	log.DebugContext(ctx, "rootfs payload written", "partition", p.path, "bytes", n)

	fresh := h.Clone()
	fresh.SetStatus(header.StatusNew)
	return p.WriteHeader(fresh)
}

func (p *Partition) invalidate(out *os.File) error {
	if _, err := out.WriteAt(make([]byte, header.BlockSize), 0); err != nil {
		return fmt.Errorf("clear header on %s: %w", p.path, err)
	}
	if err := out.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", p.path, err)
	}
	p.header = nil
	return nil
}

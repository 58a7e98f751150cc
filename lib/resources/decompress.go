package resources

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/subgraph/citadel/lib/header"
	"github.com/subgraph/citadel/lib/logger"
	"github.com/ulikunitz/xz"
)

// Decompress replaces an xz compressed payload with its decompressed form
// and clears the compressed flag. It is a no-op when the flag is not set.
//
// The new file is assembled beside the image and renamed over it, so the
// original is intact until the rename.
func (img *Image) Decompress(ctx context.Context) error {
	if !img.IsCompressed() {
		return nil
	}
	log := logger.FromContext(ctx)
	log.InfoContext(ctx, "decompressing image", "path", img.path)

	in, err := os.Open(img.path)
	if err != nil {
		return fmt.Errorf("open image: %w", err)
	}
	defer in.Close()

	if _, err := in.Seek(header.BlockSize, io.SeekStart); err != nil {
		return fmt.Errorf("seek past header: %w", err)
	}
	xzr, err := xz.NewReader(bufio.NewReader(in))
	if err != nil {
		return fmt.Errorf("%w: open xz stream in %s: %v", ErrCompressed, img.path, err)
	}

	h := img.header.Clone()
	h.ClearFlag(header.FlagDataCompressed)

	tmpPath := img.path + ".tmp"
	out, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmpPath, err)
	}
	ok := false
	defer func() {
		if !ok {
			out.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err := out.Write(h.Marshal()); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	n, err := io.Copy(out, xzr)
	if err != nil {
		return fmt.Errorf("decompress %s: %w", img.path, err)
	}
	if n < img.meta.PayloadSize() {
		return fmt.Errorf("%s: %w: decompressed %d of %d bytes", img.path, ErrTruncated, n, img.meta.PayloadSize())
	}
	if err := out.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", tmpPath, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, img.path); err != nil {
		return fmt.Errorf("rename %s: %w", tmpPath, err)
	}
	ok = true

	img.header = h
	log.DebugContext(ctx, "image decompressed", "path", img.path, "bytes", n)
	return nil
}

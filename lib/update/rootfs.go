package update

import (
	"context"
	"fmt"

	"github.com/subgraph/citadel/lib/header"
	"github.com/subgraph/citadel/lib/logger"
	"github.com/subgraph/citadel/lib/partitions"
	"github.com/subgraph/citadel/lib/resources"
)

// writeRootfs writes a prepared rootfs image to the chosen partition and
// returns the partition. Unless opts.NoPrefer is set, PREFER_BOOT
// is cleared everywhere else and set in the header written with the image.
func (i *Installer) writeRootfs(ctx context.Context, img *resources.Image, opts Options) (*partitions.Partition, error) {
	log := logger.FromContext(ctx)

	p, err := i.partitions.ChooseInstallPartition(ctx, opts.Verbose)
	if err != nil {
		return nil, err
	}

	h := img.Header().Clone()
	if !opts.NoPrefer {
		if err := i.partitions.ClearPreferBoot(ctx); err != nil {
			return nil, err
		}
		h.SetFlag(header.FlagPreferBoot)
	}
	if err := p.WriteImage(ctx, img.Path(), h); err != nil {
		return nil, err
	}
	log.InfoContext(ctx, "image written to partition", "partition", p.Path())
	opts.report(StageRootfsInstalled, p.Path())
	return p, nil
}

// InstallRootfsImage writes the rootfs image at path directly to a
// partition without staging it. A missing hash tree is generated in place.
func (i *Installer) InstallRootfsImage(ctx context.Context, path string, opts Options) (*partitions.Partition, error) {
	if !i.isRoot() {
		return nil, ErrNotRoot
	}
	img, err := resources.OpenImage(path)
	if err != nil {
		return nil, err
	}
	if img.Type() != header.ImageTypeRootfs {
		return nil, fmt.Errorf("%w: %s", partitions.ErrNotRootfs, img.Type())
	}
	if img.IsCompressed() {
		if err := img.Decompress(ctx); err != nil {
			return nil, err
		}
	}
	if !opts.SkipSha {
		logger.FromContext(ctx).InfoContext(ctx, "verifying sha256 hash of image")
		if err := img.VerifyShasum(); err != nil {
			return nil, err
		}
	}
	if err := i.store.GenerateVerity(ctx, img); err != nil {
		return nil, err
	}

	return i.writeRootfs(ctx, img, opts)
}

// Bless marks the running rootfs partition as successfully booted.
func (i *Installer) Bless(ctx context.Context) (*partitions.Partition, error) {
	return i.partitions.Bless(ctx)
}

package update

import (
	"context"
	"fmt"
	"os"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/hashicorp/go-multierror"
	"github.com/samber/lo"
	"github.com/subgraph/citadel/lib/header"
	"github.com/subgraph/citadel/lib/logger"
	"github.com/subgraph/citadel/lib/resources"
	"github.com/subgraph/citadel/lib/system"
)

// kernelPathInImage is where kernel images carry the kernel binary.
const kernelPathInImage = "kernel/bzImage"

func (i *Installer) installKernelImage(ctx context.Context, img *resources.Image, opts Options) (string, error) {
	log := logger.FromContext(ctx)

	if err := i.system.EnsureBootMounted(); err != nil {
		return "", err
	}
	mi := img.MetaInfo()
	kv, ok := mi.KernelVersion()
	if !ok {
		return "", ErrMissingKernelVersion
	}
	if strings.ContainsRune(kv, '/') {
		return "", fmt.Errorf("%w: kernel version %q", system.ErrInvalidKernelVersion, kv)
	}
	log.InfoContext(ctx, "installing kernel", "kernel_version", kv)

	if err := i.installKernelFile(ctx, img, kv); err != nil {
		return "", err
	}

	dest, err := i.installImageFile(ctx, img, fmt.Sprintf("citadel-kernel-%s-%03d.img", kv, mi.Version()))
	if err != nil {
		return "", err
	}
	opts.report(StageStorageInstalled, dest)

	if err := i.pruneKernelImages(ctx, mi.Channel()); err != nil {
		return "", err
	}
	return dest, nil
}

// installKernelFile mounts the image at a scratch mountpoint and copies
// the kernel it carries to /boot. The image is unmounted on every path.
func (i *Installer) installKernelFile(ctx context.Context, img *resources.Image, kv string) (err error) {
	log := logger.FromContext(ctx)

	mountpoint := i.store.Paths().KernelInstallMountPoint()
	log.InfoContext(ctx, "temporarily mounting kernel resource image", "mountpoint", mountpoint)
	m, err := i.store.MountAt(ctx, img, mountpoint)
	if err != nil {
		return err
	}
	defer func() {
		log.InfoContext(ctx, "unmounting kernel resource image")
		if uerr := m.Unmount(ctx); uerr != nil {
			err = multierror.Append(err, uerr).ErrorOrNil()
		}
	}()

	kernel, err := securejoin.SecureJoin(mountpoint, kernelPathInImage)
	if err != nil {
		return fmt.Errorf("resolve kernel path: %w", err)
	}
	if st, serr := os.Stat(kernel); serr != nil || !st.Mode().IsRegular() {
		return ErrKernelNotFound
	}
	return i.system.InstallKernel(ctx, kernel, kv)
}

// pruneKernelImages removes kernel images whose kernel version has no
// bzImage left in /boot.
func (i *Installer) pruneKernelImages(ctx context.Context, channel string) error {
	log := logger.FromContext(ctx)

	versions, err := i.system.BootKernelVersions()
	if err != nil {
		return err
	}
	inUse := lo.SliceToMap(versions, func(v system.KernelVersion) (string, struct{}) {
		return v.String(), struct{}{}
	})

	return i.removeImages(ctx, channel, func(path string, mi *header.MetaInfo) bool {
		if mi.ImageType() != header.ImageTypeKernel {
			return false
		}
		kv, ok := mi.KernelVersion()
		if !ok {
			log.WarnContext(ctx, "kernel image does not have kernel-version field", "path", path)
			return false
		}
		if _, ok := inUse[kv]; ok {
			return false
		}
		log.InfoContext(ctx, "removing kernel image because its kernel version is unused", "path", path, "kernel_version", kv)
		return true
	})
}

func (i *Installer) installExtraImage(ctx context.Context, img *resources.Image, opts Options) (string, error) {
	log := logger.FromContext(ctx)
	mi := img.MetaInfo()

	dest, err := i.installImageFile(ctx, img, fmt.Sprintf("citadel-extra-%03d.img", mi.Version()))
	if err != nil {
		return "", err
	}
	opts.report(StageStorageInstalled, dest)

	err = i.removeImages(ctx, mi.Channel(), func(path string, other *header.MetaInfo) bool {
		if other.ImageType() != header.ImageTypeExtra || other.Shasum() == mi.Shasum() {
			return false
		}
		log.InfoContext(ctx, "removing old extra resource image", "path", path)
		return true
	})
	if err != nil {
		return "", err
	}
	return dest, nil
}

func (i *Installer) installRootfsImage(ctx context.Context, img *resources.Image, opts Options) (string, error) {
	p, err := i.writeRootfs(ctx, img, opts)
	if err != nil {
		return "", err
	}
	if err := os.Remove(img.Path()); err != nil {
		return "", fmt.Errorf("remove installed image file: %w", err)
	}
	return p.Path(), nil
}

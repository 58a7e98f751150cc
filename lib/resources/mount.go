package resources

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/hashicorp/go-multierror"
	"github.com/subgraph/citadel/lib/header"
	"github.com/subgraph/citadel/lib/logger"
	"github.com/subgraph/citadel/lib/mounts"
)

// Mount is a mounted resource image. It owns the verity mapping or loop
// device behind the mount; Unmount releases both.
type Mount struct {
	target  string
	mounter mounts.Mounter
	verity  *VerityDevice
	loop    mounts.Loop
}

// Target returns the mountpoint.
func (m *Mount) Target() string { return m.target }

// Mode returns "verity", "loop" or "unmounted".
func (m *Mount) Mode() string {
	switch {
	case m.verity != nil:
		return "verity"
	case m.loop != nil:
		return "loop"
	}
	return "unmounted"
}

// Unmount unmounts the filesystem and then tears down the verity mapping or
// loop device. Calling it on an unmounted Mount only logs a warning.
func (m *Mount) Unmount(ctx context.Context) error {
	log := logger.FromContext(ctx)

	if m.verity == nil && m.loop == nil {
		log.WarnContext(ctx, "resource image already unmounted", "path", m.target)
		return nil
	}
	if err := m.mounter.Unmount(m.target); err != nil {
		return err
	}

	var result *multierror.Error
	if m.verity != nil {
		if err := m.verity.Close(ctx); err != nil {
			result = multierror.Append(result, err)
		}
	} else if err := m.loop.Detach(); err != nil {
		result = multierror.Append(result, err)
	}
	m.verity = nil
	m.loop = nil
	return result.ErrorOrNil()
}

// DefaultMountPoint is <run>/images/<type>.mountpoint, or
// <name>-realmfs.mountpoint for realmfs images.
func (s *Store) DefaultMountPoint(img *Image) string {
	if img.Type() == header.ImageTypeRealmFS {
		if name, ok := img.MetaInfo().RealmFSName(); ok {
			return s.paths.MountPoint(name + "-realmfs")
		}
	}
	return s.paths.MountPoint(string(img.Type()))
}

// MountAt mounts img read-only at target, through dm-verity unless the
// policy disables it. The manifest is not processed.
func (s *Store) MountAt(ctx context.Context, img *Image, target string) (m *Mount, err error) {
	if s.policy.NoVerity {
		defer func() { s.metrics.RecordMount(ctx, "loop", err) }()
		return s.mountLoop(ctx, img, target)
	}
	defer func() { s.metrics.RecordMount(ctx, "verity", err) }()
	return s.mountVerity(ctx, img, target)
}

func (s *Store) mountVerity(ctx context.Context, img *Image, target string) (*Mount, error) {
	dev, err := s.SetupVerityDevice(ctx, img)
	if err != nil {
		return nil, err
	}

	logger.FromContext(ctx).InfoContext(ctx, "mounting dm-verity device", "device", dev.Path(), "target", target)
	if err := s.mounter.MountReadOnly(dev.Path(), target); err != nil {
		if cerr := dev.Close(ctx); cerr != nil {
			err = multierror.Append(err, cerr)
		}
		return nil, fmt.Errorf("mount %s: %w", img.Path(), err)
	}
	return &Mount{target: target, mounter: s.mounter, verity: dev}, nil
}

func (s *Store) mountLoop(ctx context.Context, img *Image, target string) (*Mount, error) {
	log := logger.FromContext(ctx)
	log.WarnContext(ctx, "dm-verity disabled, loop mounting image", "path", img.Path(), "target", target)

	if err := img.Decompress(ctx); err != nil {
		return nil, err
	}
	loop, err := s.loops.AttachLoop(img.Path(), header.BlockSize, true)
	if err != nil {
		return nil, fmt.Errorf("attach %s: %w", img.Path(), err)
	}
	log.InfoContext(ctx, "loop device created", "device", loop.Device(), "target", target)

	if err := s.mounter.MountReadOnly(loop.Device(), target); err != nil {
		if derr := loop.Detach(); derr != nil {
			err = multierror.Append(err, derr)
		}
		return nil, fmt.Errorf("mount %s: %w", img.Path(), err)
	}
	return &Mount{target: target, mounter: s.mounter, loop: loop}, nil
}

// MountImage mounts img at its default mountpoint and, except for kernel
// images, applies the manifest found at the image root.
func (s *Store) MountImage(ctx context.Context, img *Image) (*Mount, error) {
	target := s.DefaultMountPoint(img)
	m, err := s.MountAt(ctx, img, target)
	if err != nil {
		return nil, err
	}
	if img.Type() != header.ImageTypeKernel {
		if err := s.ProcessManifest(ctx, target); err != nil {
			logger.FromContext(ctx).WarnContext(ctx, "failed to process manifest", "path", img.Path(), "error", err)
		}
	}
	return m, nil
}

// MountImageType finds the best image of type t and mounts it with MountImage.
func (s *Store) MountImageType(ctx context.Context, t header.ImageType) (*Mount, error) {
	img, err := s.Find(ctx, t)
	if err != nil {
		return nil, err
	}
	return s.MountImage(ctx, img)
}

// mountpointFile joins a path inside a mounted image.
func mountpointFile(mountpoint, rel string) string {
	return filepath.Join(mountpoint, filepath.Clean("/"+rel))
}

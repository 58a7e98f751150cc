package mounts

import (
	"fmt"
	"os"

	"github.com/u-root/u-root/pkg/mount"
	"golang.org/x/sys/unix"
)

// Mounter performs mount and unmount operations.
type Mounter interface {
	// MountReadOnly mounts a block device read-only at target.
	MountReadOnly(source, target string) error
	// Mount mounts source at target with a filesystem type, mount flags and
	// filesystem option string.
	Mount(source, target, fsType string, flags uintptr, data string) error
	// BindMount binds source onto target.
	BindMount(source, target string) error
	// Unmount unmounts target.
	Unmount(target string) error
}

// System implements Mounter and LoopAttacher against the running kernel.
type System struct{}

var (
	_ Mounter      = System{}
	_ LoopAttacher = System{}
)

// fsTypes are tried in order when mounting an image without a known type.
var fsTypes = []string{"ext4", "ext2", "squashfs", "erofs"}

func (System) MountReadOnly(source, target string) error {
	if err := os.MkdirAll(target, 0755); err != nil {
		return fmt.Errorf("create mountpoint %s: %w", target, err)
	}
	var lastErr error
	for _, fs := range fsTypes {
		if _, err := mount.Mount(source, target, fs, "", unix.MS_RDONLY); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("%w: %s on %s: %v", ErrMountFailed, source, target, lastErr)
}

func (System) Mount(source, target, fsType string, flags uintptr, data string) error {
	if err := os.MkdirAll(target, 0755); err != nil {
		return fmt.Errorf("create mountpoint %s: %w", target, err)
	}
	if _, err := mount.Mount(source, target, fsType, data, flags); err != nil {
		return fmt.Errorf("%w: %s on %s: %v", ErrMountFailed, source, target, err)
	}
	return nil
}

func (System) BindMount(source, target string) error {
	if _, err := mount.Mount(source, target, "", "", unix.MS_BIND); err != nil {
		return fmt.Errorf("%w: bind %s on %s: %v", ErrMountFailed, source, target, err)
	}
	return nil
}

func (System) Unmount(target string) error {
	if err := mount.Unmount(target, false, false); err != nil {
		return fmt.Errorf("unmount %s: %w", target, err)
	}
	return nil
}

func (System) AttachLoop(file string, offset int64, readOnly bool) (Loop, error) {
	l, err := AttachLoop(file, offset, readOnly)
	if err != nil {
		return nil, err
	}
	return l, nil
}

// Package mounts wraps loop devices, mount(2) and the kernel mount table.
package mounts

import (
	"fmt"
	"os"

	"github.com/u-root/u-root/pkg/mount/loop"
	"golang.org/x/sys/unix"
)

// Loop is an attached loop device.
type Loop interface {
	// Device returns the device node, e.g. /dev/loop3.
	Device() string
	// Detach unbinds the device from its backing file.
	Detach() error
}

// LoopAttacher binds files to loop devices.
type LoopAttacher interface {
	AttachLoop(file string, offset int64, readOnly bool) (Loop, error)
}

// LoopDevice is a kernel loop device bound to a file at an offset.
type LoopDevice struct {
	device  string
	backing string
	offset  int64
}

// Device returns the device node path.
func (l *LoopDevice) Device() string { return l.device }

func (l *LoopDevice) String() string {
	return fmt.Sprintf("%s (%s@%d)", l.device, l.backing, l.offset)
}

// AttachLoop binds file to a free loop device starting at offset. A
// read-only device is backed by a read-only file descriptor.
func AttachLoop(file string, offset int64, readOnly bool) (*LoopDevice, error) {
	dev, err := loop.FindDevice()
	if err != nil {
		return nil, fmt.Errorf("%w: find free loop device: %v", ErrLoopSetup, err)
	}

	flag := os.O_RDWR
	if readOnly {
		flag = os.O_RDONLY
	}
	f, err := os.OpenFile(file, flag, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", file, err)
	}
	defer f.Close()

	d, err := os.OpenFile(dev, flag, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dev, err)
	}
	defer d.Close()

	if err := unix.IoctlSetInt(int(d.Fd()), unix.LOOP_SET_FD, int(f.Fd())); err != nil {
		return nil, fmt.Errorf("%w: bind %s to %s: %v", ErrLoopSetup, file, dev, err)
	}

	info := &unix.LoopInfo64{Offset: uint64(offset)}
	copy(info.File_name[:len(info.File_name)-1], file)
	if err := unix.IoctlLoopSetStatus64(int(d.Fd()), info); err != nil {
		_ = unix.IoctlSetInt(int(d.Fd()), unix.LOOP_CLR_FD, 0)
		return nil, fmt.Errorf("%w: set offset on %s: %v", ErrLoopSetup, dev, err)
	}

	return &LoopDevice{device: dev, backing: file, offset: offset}, nil
}

// Detach unbinds the loop device.
func (l *LoopDevice) Detach() error {
	if err := loop.ClearFile(l.device); err != nil {
		return fmt.Errorf("detach %s: %w", l.device, err)
	}
	return nil
}

// Package paths centralizes every filesystem location the image tools touch.
//
// All paths hang off a root prefix so the whole tree can be relocated under a
// temporary directory in tests. Production code uses New("/").
//
// Directory structure:
//
//	{root}/
//	  run/citadel/images/            ephemeral images and mountpoints
//	  {storage}/resources/{channel}/ installed image files
//	  {storage}/resources/.tmp/      staging area for updates
//	  {sysroot}/                     live system root (bind mount targets)
//	  boot/                          kernels and loader configuration
package paths

import "path/filepath"

// Paths provides typed path construction for the image tools.
type Paths struct {
	root    string
	storage string
	sysroot string
	boot    string
}

// New creates a Paths rooted at root with the layout of a running system:
// storage at /storage and the live root at /sysroot.
func New(root string) *Paths {
	if root == "" {
		root = "/"
	}
	return &Paths{
		root:    root,
		storage: "storage",
		sysroot: "sysroot",
		boot:    "boot",
	}
}

// WithStorageDir returns a copy that places storage at dir (relative to root).
// The initramfs uses "sysroot/storage".
func (p *Paths) WithStorageDir(dir string) *Paths {
	c := *p
	c.storage = dir
	return &c
}

// WithSysrootDir returns a copy that places the live root at dir (relative to root).
func (p *Paths) WithSysrootDir(dir string) *Paths {
	c := *p
	c.sysroot = dir
	return &c
}

// WithBootDir returns a copy that places the boot partition at dir (relative to root).
func (p *Paths) WithBootDir(dir string) *Paths {
	c := *p
	c.boot = dir
	return &c
}

// Root returns the prefix all other paths hang off.
func (p *Paths) Root() string {
	return p.root
}

// Join returns an absolute path under root.
func (p *Paths) Join(elem ...string) string {
	return filepath.Join(append([]string{p.root}, elem...)...)
}

// Run path methods

// RunImages returns the ephemeral image directory searched before storage.
func (p *Paths) RunImages() string {
	return p.Join("run", "citadel", "images")
}

// MountPoint returns {run}/images/{name}.mountpoint.
func (p *Paths) MountPoint(name string) string {
	return filepath.Join(p.RunImages(), name+".mountpoint")
}

// KernelInstallMountPoint returns the scratch mountpoint used to extract kernels.
func (p *Paths) KernelInstallMountPoint() string {
	return p.MountPoint("kernel-install")
}

// Storage path methods

// Storage returns the persistent storage mountpoint.
func (p *Paths) Storage() string {
	return p.Join(p.storage)
}

// Resources returns {storage}/resources.
func (p *Paths) Resources() string {
	return filepath.Join(p.Storage(), "resources")
}

// ResourcesChannel returns {storage}/resources/{channel}. The channel must
// already be validated.
func (p *Paths) ResourcesChannel(channel string) string {
	return filepath.Join(p.Resources(), channel)
}

// ResourcesTmp returns the staging directory for incoming updates.
func (p *Paths) ResourcesTmp() string {
	return filepath.Join(p.Resources(), ".tmp")
}

// InstallLock returns the lock file that serializes installers.
func (p *Paths) InstallLock() string {
	return filepath.Join(p.Resources(), ".install.lock")
}

// Sysroot returns the live system root.
func (p *Paths) Sysroot() string {
	return p.Join(p.sysroot)
}

// Boot path methods

// Boot returns the boot partition mountpoint.
func (p *Paths) Boot() string {
	return p.Join(p.boot)
}

// BootLoaderConf returns the loader configuration whose presence proves /boot is mounted.
func (p *Paths) BootLoaderConf() string {
	return filepath.Join(p.Boot(), "loader", "loader.conf")
}

// BootKernel returns {boot}/bzImage-{version}.
func (p *Paths) BootKernel(version string) string {
	return filepath.Join(p.Boot(), "bzImage-"+version)
}

// Kernel interface paths

// ProcCmdline returns the kernel command line file.
func (p *Paths) ProcCmdline() string {
	return p.Join("proc", "cmdline")
}

// ProcMounts returns the mount table of the current process.
func (p *Paths) ProcMounts() string {
	return p.Join("proc", "self", "mounts")
}

// ProcPartitions returns the kernel partition table listing.
func (p *Paths) ProcPartitions() string {
	return p.Join("proc", "partitions")
}

// SysBlock returns the sysfs block device directory.
func (p *Paths) SysBlock() string {
	return p.Join("sys", "block")
}

// SysClassBlock returns the sysfs block class directory.
func (p *Paths) SysClassBlock() string {
	return p.Join("sys", "class", "block")
}

// OsRelease returns the os-release file.
func (p *Paths) OsRelease() string {
	return p.Join("etc", "os-release")
}

// LoaderDevicePartUUID returns the systemd-boot EFI variable naming the boot partition.
func (p *Paths) LoaderDevicePartUUID() string {
	return p.Join("sys", "firmware", "efi", "efivars", "LoaderDevicePartUUID-4a67b082-0a4c-41cf-b6c7-440b29bb8c4f")
}

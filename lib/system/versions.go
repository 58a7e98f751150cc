package system

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/coreos/go-semver/semver"
	"golang.org/x/sys/unix"
)

// kernelPrefix is the file name prefix of installed kernels in /boot.
const kernelPrefix = "bzImage-"

// KernelVersion is a kernel release number such as 6.1.12.
type KernelVersion struct {
	raw string
	v   semver.Version
}

// ParseKernelVersion parses a kernel version. Missing minor or patch numbers
// are treated as zero.
func ParseKernelVersion(s string) (KernelVersion, error) {
	parts := strings.Split(s, ".")
	if s == "" || len(parts) > 3 {
		return KernelVersion{}, fmt.Errorf("%w: %q", ErrInvalidKernelVersion, s)
	}
	for len(parts) < 3 {
		parts = append(parts, "0")
	}
	v, err := semver.NewVersion(strings.Join(parts, "."))
	if err != nil {
		return KernelVersion{}, fmt.Errorf("%w: %q: %v", ErrInvalidKernelVersion, s, err)
	}
	return KernelVersion{raw: s, v: *v}, nil
}

// KernelVersionFromPath extracts the version from a /boot/bzImage-<version> path.
func KernelVersionFromPath(path string) (KernelVersion, bool) {
	name := filepath.Base(path)
	if !strings.HasPrefix(name, kernelPrefix) {
		return KernelVersion{}, false
	}
	kv, err := ParseKernelVersion(strings.TrimPrefix(name, kernelPrefix))
	if err != nil {
		return KernelVersion{}, false
	}
	return kv, true
}

// String returns the version as written, e.g. "6.1".
func (k KernelVersion) String() string { return k.raw }

// LessThan orders versions numerically.
func (k KernelVersion) LessThan(o KernelVersion) bool { return k.v.LessThan(o.v) }

// SortKernelVersions sorts versions oldest first.
func SortKernelVersions(vs []KernelVersion) {
	sort.Slice(vs, func(i, j int) bool { return vs[i].LessThan(vs[j]) })
}

// ReleaseVersion returns the part of a kernel release string before the
// first '-', e.g. "6.1.12" for "6.1.12-citadel".
func ReleaseVersion(release string) string {
	v, _, _ := strings.Cut(release, "-")
	return v
}

// CurrentKernelVersion returns the version of the running kernel.
func CurrentKernelVersion() (string, error) {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return "", fmt.Errorf("uname: %w", err)
	}
	return ReleaseVersion(unix.ByteSliceToString(uts.Release[:])), nil
}

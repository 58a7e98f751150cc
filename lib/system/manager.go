// Package system manages kernel files on the boot partition.
package system

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/subgraph/citadel/lib/logger"
	"github.com/subgraph/citadel/lib/paths"
)

// Manager installs kernels under /boot and reports which are present.
type Manager interface {
	// EnsureBootMounted fails unless the boot loader configuration exists.
	EnsureBootMounted() error

	// InstallKernel copies the kernel at src to /boot/bzImage-<version>.
	InstallKernel(ctx context.Context, src string, version string) error

	// BootKernelVersions lists the versions of installed kernels, oldest first.
	BootKernelVersions() ([]KernelVersion, error)
}

type manager struct {
	paths *paths.Paths
}

// NewManager creates a new system manager
func NewManager(p *paths.Paths) Manager {
	return &manager{paths: p}
}

func (m *manager) EnsureBootMounted() error {
	if _, err := os.Stat(m.paths.BootLoaderConf()); err != nil {
		return fmt.Errorf("%w: %s missing, mount the boot partition manually", ErrBootNotMounted, m.paths.BootLoaderConf())
	}
	return nil
}

func (m *manager) InstallKernel(ctx context.Context, src string, version string) error {
	log := logger.FromContext(ctx)

	if _, err := ParseKernelVersion(version); err != nil {
		return err
	}
	if err := m.EnsureBootMounted(); err != nil {
		return err
	}

	dest := m.paths.BootKernel(version)
	log.InfoContext(ctx, "installing kernel", "src", src, "dest", dest)
	if err := copyFileAtomic(src, dest, 0644); err != nil {
		return fmt.Errorf("install kernel %s: %w", version, err)
	}
	return nil
}

func (m *manager) BootKernelVersions() ([]KernelVersion, error) {
	entries, err := os.ReadDir(m.paths.Boot())
	if err != nil {
		return nil, fmt.Errorf("read boot dir: %w", err)
	}
	var out []KernelVersion
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if kv, ok := KernelVersionFromPath(e.Name()); ok {
			out = append(out, kv)
		}
	}
	SortKernelVersions(out)
	return out, nil
}

// copyFileAtomic writes src to a temp file beside dest and renames it into place.
func copyFileAtomic(src, dest string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		return fmt.Errorf("copy: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, mode); err != nil {
		return fmt.Errorf("chmod: %w", err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

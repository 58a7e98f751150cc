package resources

import (
	"context"
	"os"

	"github.com/subgraph/citadel/lib/logger"
	"github.com/subgraph/citadel/lib/mounts"
	"golang.org/x/sys/unix"
)

// Persistent storage is btrfs mounted noatime,nossd,commit=120.
const (
	storageFSType  = "btrfs"
	storageFlags   = unix.MS_NOATIME
	storageOptions = "nossd,commit=120"
)

// EnsureStorageMounted mounts persistent storage if it is not already.
// It reports false when the storage device does not exist or the mount
// fails; the failure is logged.
func (s *Store) EnsureStorageMounted(ctx context.Context) (bool, error) {
	log := logger.FromContext(ctx)

	mounted, err := s.IsStorageMounted()
	if err != nil {
		return false, err
	}
	if mounted {
		return true, nil
	}
	if _, err := os.Stat(s.storageDevice); err != nil {
		log.DebugContext(ctx, "storage device not present", "device", s.storageDevice)
		return false, nil
	}

	log.InfoContext(ctx, "mounting storage", "device", s.storageDevice, "path", s.paths.Storage())
	if err := s.mounter.Mount(s.storageDevice, s.paths.Storage(), storageFSType, storageFlags, storageOptions); err != nil {
		log.WarnContext(ctx, "failed to mount storage", "path", s.paths.Storage(), "error", err)
		return false, nil
	}
	return true, nil
}

// IsStorageMounted reports whether the storage device appears in the mount table.
func (s *Store) IsStorageMounted() (bool, error) {
	tbl, err := mounts.ReadTable(s.paths.ProcMounts())
	if err != nil {
		return false, err
	}
	return tbl.IsSourceMounted(s.storageDevice), nil
}

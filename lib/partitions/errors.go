package partitions

import (
	"fmt"

	"github.com/subgraph/citadel/lib/errdefs"
)

var (
	// ErrNoInstallPartition is returned when every rootfs partition is in use.
	ErrNoInstallPartition = fmt.Errorf("%w: no suitable install partition found", errdefs.ErrResourceBusy)

	// ErrNoPartitions is returned when none of the rootfs devices exist.
	ErrNoPartitions = fmt.Errorf("%w: no rootfs partitions found", errdefs.ErrEnvironment)

	// ErrNotRootfs is returned when writing a non-rootfs image to a partition.
	ErrNotRootfs = fmt.Errorf("%w: image type is not rootfs", errdefs.ErrFormat)
)

package disks

import (
	"errors"
	"fmt"

	"github.com/subgraph/citadel/lib/errdefs"
)

var (
	// ErrBootPartitionNotFound is returned when no boot partition, or more
	// than one, matches.
	ErrBootPartitionNotFound = fmt.Errorf("%w: cannot uniquely determine boot partition", errdefs.ErrPlacement)

	// ErrLsblkFailed is returned when lsblk exits with an error.
	ErrLsblkFailed = errors.New("lsblk failed")
)

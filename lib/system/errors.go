package system

import (
	"fmt"

	"github.com/subgraph/citadel/lib/errdefs"
)

var (
	// ErrInvalidKernelVersion is returned when a kernel version cannot be parsed.
	ErrInvalidKernelVersion = fmt.Errorf("%w: invalid kernel version", errdefs.ErrFormat)

	// ErrBootNotMounted is returned when /boot does not hold a loader configuration.
	ErrBootNotMounted = fmt.Errorf("%w: boot partition not mounted", errdefs.ErrEnvironment)
)

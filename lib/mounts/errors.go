package mounts

import (
	"fmt"

	"github.com/subgraph/citadel/lib/errdefs"
)

var (
	// ErrLoopSetup is returned when a loop device cannot be bound to a file.
	ErrLoopSetup = fmt.Errorf("%w: loop device setup failed", errdefs.ErrEnvironment)

	// ErrMountFailed is returned when mount(2) fails.
	ErrMountFailed = fmt.Errorf("%w: mount failed", errdefs.ErrEnvironment)
)

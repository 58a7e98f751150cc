package verity

import (
	"fmt"

	"github.com/subgraph/citadel/lib/errdefs"
)

var (
	// ErrCommandFailed is returned when veritysetup cannot run or exits with an error.
	ErrCommandFailed = fmt.Errorf("%w: veritysetup failed", errdefs.ErrEnvironment)

	// ErrRootHashMismatch is returned when a generated root hash differs from the expected one.
	ErrRootHashMismatch = fmt.Errorf("%w: verity root hash mismatch", errdefs.ErrIntegrity)

	// ErrNoRootHash is returned when veritysetup output carries no root hash.
	ErrNoRootHash = fmt.Errorf("%w: no root hash in veritysetup output", errdefs.ErrEnvironment)
)

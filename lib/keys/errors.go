package keys

import (
	"fmt"

	"github.com/subgraph/citadel/lib/errdefs"
)

var (
	// ErrInvalidKey is returned for a hex key of the wrong length or encoding.
	ErrInvalidKey = fmt.Errorf("%w: invalid key", errdefs.ErrEnvironment)

	// ErrNoPublicKey is returned when signatures are required but no key is
	// known for the image channel.
	ErrNoPublicKey = fmt.Errorf("%w: no public key for channel", errdefs.ErrEnvironment)

	// ErrNoSignature is returned when a header that must be signed is not.
	ErrNoSignature = fmt.Errorf("%w: header is not signed", errdefs.ErrIntegrity)

	// ErrSignatureInvalid is returned when a header signature does not verify.
	ErrSignatureInvalid = fmt.Errorf("%w: signature verification failed", errdefs.ErrIntegrity)
)

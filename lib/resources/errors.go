package resources

import (
	"fmt"

	"github.com/subgraph/citadel/lib/errdefs"
)

var (
	// ErrNotFound is returned when no image of the requested type matches.
	ErrNotFound = fmt.Errorf("%w: resource image not found", errdefs.ErrPlacement)

	// ErrStorageUnavailable is returned when persistent storage cannot be mounted.
	ErrStorageUnavailable = fmt.Errorf("%w: storage not mounted", errdefs.ErrEnvironment)

	// ErrCompressed is returned by operations that need a decompressed payload.
	ErrCompressed = fmt.Errorf("%w: image payload is compressed", errdefs.ErrFormat)

	// ErrTruncated is returned when an image file is shorter than its metainfo claims.
	ErrTruncated = fmt.Errorf("%w: image payload truncated", errdefs.ErrFormat)

	// ErrNoHashTree is returned when verifying an image that has no hash tree.
	ErrNoHashTree = fmt.Errorf("%w: image has no verity hash tree", errdefs.ErrFormat)

	// ErrShasumMismatch is returned when the payload digest differs from the metainfo.
	ErrShasumMismatch = fmt.Errorf("%w: sha256 mismatch", errdefs.ErrIntegrity)

	// ErrNoVerityRoot is returned when an image carries no verity root hash to map against.
	ErrNoVerityRoot = fmt.Errorf("%w: image has no verity root hash", errdefs.ErrIntegrity)

	// ErrVerityFailed is returned when the payload does not match its hash tree.
	ErrVerityFailed = fmt.Errorf("%w: verity verification failed", errdefs.ErrIntegrity)
)

package header

import (
	"fmt"

	"github.com/subgraph/citadel/lib/errdefs"
)

var (
	// ErrInvalidMagic is returned when a block does not start with the image magic.
	ErrInvalidMagic = fmt.Errorf("%w: invalid header magic", errdefs.ErrFormat)

	// ErrMalformed is returned when the header block is truncated or its
	// metainfo length does not fit the block.
	ErrMalformed = fmt.Errorf("%w: malformed header", errdefs.ErrFormat)

	// ErrInvalidMetaInfo is returned when the metainfo text cannot be parsed
	// or names an unknown image type.
	ErrInvalidMetaInfo = fmt.Errorf("%w: invalid metainfo", errdefs.ErrFormat)

	// ErrInvalidChannel is returned when a channel name is not lowercase ASCII.
	ErrInvalidChannel = fmt.Errorf("%w: invalid channel name", errdefs.ErrFormat)
)

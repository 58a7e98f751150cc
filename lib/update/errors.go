package update

import (
	"fmt"

	"github.com/subgraph/citadel/lib/errdefs"
)

var (
	// ErrNotRoot is returned when the installer runs without root privileges.
	ErrNotRoot = fmt.Errorf("%w: image updates must be installed by the root user", errdefs.ErrEnvironment)

	// ErrSourceMissing is returned when the image file to install does not exist.
	ErrSourceMissing = fmt.Errorf("%w: image file does not exist", errdefs.ErrEnvironment)

	// ErrUnsupportedImageType is returned for image types the installer has no handler for.
	ErrUnsupportedImageType = fmt.Errorf("%w: cannot install image type", errdefs.ErrFormat)

	// ErrDuplicateImage is returned when an image with the same shasum is already installed.
	ErrDuplicateImage = fmt.Errorf("%w: duplicate image already installed", errdefs.ErrPlacement)

	// ErrMissingKernelVersion is returned for kernel images without a kernel-version field.
	ErrMissingKernelVersion = fmt.Errorf("%w: kernel image does not have a kernel-version field", errdefs.ErrFormat)

	// ErrKernelNotFound is returned when a kernel image has no /kernel/bzImage.
	ErrKernelNotFound = fmt.Errorf("%w: kernel not found in image at /kernel/bzImage", errdefs.ErrFormat)

	// ErrInstallInProgress is returned when another installer holds the install lock.
	ErrInstallInProgress = fmt.Errorf("%w: another install is in progress", errdefs.ErrResourceBusy)
)

// Package errdefs defines the error categories shared by every layer that
// handles resource images. Package-level sentinel errors wrap one of these so
// callers can classify a failure with errors.Is without knowing which
// component produced it.
package errdefs

import "errors"

var (
	// ErrFormat covers bad header magic and malformed metainfo. Fatal to the
	// single operation; never affects other images.
	ErrFormat = errors.New("format error")

	// ErrIntegrity covers shasum mismatches, verity failures and invalid or
	// missing signatures.
	ErrIntegrity = errors.New("integrity error")

	// ErrPlacement covers "nothing to act on": no matching image, no eligible
	// partition. Global state is left unchanged.
	ErrPlacement = errors.New("placement error")

	// ErrResourceBusy is returned when every candidate resource is in use.
	ErrResourceBusy = errors.New("resource busy")

	// ErrEnvironment covers missing keys, unmountable storage and missing
	// privileges.
	ErrEnvironment = errors.New("environment error")
)

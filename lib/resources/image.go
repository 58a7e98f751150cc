// Package resources locates, verifies and mounts resource images.
//
// A resource image is a file holding a header block followed by a
// filesystem payload and, once generated, a dm-verity hash tree. Images
// are searched for in the run directory first and then in the channel
// directory of persistent storage.
package resources

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/subgraph/citadel/lib/header"
)

// Image is one resource image file. Only the header block is read when the
// image is opened.
type Image struct {
	path   string
	header *header.Header
	meta   *header.MetaInfo
}

// OpenImage reads the header of the image file at path.
func OpenImage(path string) (*Image, error) {
	h, err := header.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return NewImage(path, h)
}

// NewImage pairs a header already read with the file it belongs to.
func NewImage(path string, h *header.Header) (*Image, error) {
	mi, err := h.MetaInfo()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &Image{path: path, header: h, meta: mi}, nil
}

func (img *Image) Path() string               { return img.path }
func (img *Image) Header() *header.Header     { return img.header }
func (img *Image) MetaInfo() *header.MetaInfo { return img.meta }

// Type returns the image type from the metainfo.
func (img *Image) Type() header.ImageType { return img.meta.ImageType() }

// IsCompressed reports whether the payload is still xz compressed.
func (img *Image) IsCompressed() bool {
	return img.header.HasFlag(header.FlagDataCompressed)
}

// HasVerityHashTree reports whether a hash tree follows the payload.
func (img *Image) HasVerityHashTree() bool {
	return img.header.HasFlag(header.FlagHashTree)
}

// WriteHeader rewrites the header block of the image file.
func (img *Image) WriteHeader() error {
	return img.header.WriteTo(img.path)
}

// Shasum returns the hex sha256 of the payload region
// [4096, 4096+nblocks*4096).
func (img *Image) Shasum() (string, error) {
	if img.IsCompressed() {
		return "", fmt.Errorf("%s: %w", img.path, ErrCompressed)
	}
	f, err := os.Open(img.path)
	if err != nil {
		return "", fmt.Errorf("open image: %w", err)
	}
	defer f.Close()

	size := img.meta.PayloadSize()
	h := sha256.New()
	n, err := io.Copy(h, io.NewSectionReader(f, header.BlockSize, size))
	if err != nil {
		return "", fmt.Errorf("read payload of %s: %w", img.path, err)
	}
	if n != size {
		return "", fmt.Errorf("%s: %w: read %d of %d bytes", img.path, ErrTruncated, n, size)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// VerifyShasum compares the payload digest with the metainfo shasum.
func (img *Image) VerifyShasum() error {
	sum, err := img.Shasum()
	if err != nil {
		return err
	}
	if sum != img.meta.Shasum() {
		return fmt.Errorf("%s: %w: got %s, expected %s", img.path, ErrShasumMismatch, sum, img.meta.Shasum())
	}
	return nil
}

// VerityDeviceName is the device-mapper name used for the image:
// verity-<type>, or verity-realmfs-<name> for realmfs images.
func (img *Image) VerityDeviceName() string {
	if img.Type() == header.ImageTypeRealmFS {
		if name, ok := img.meta.RealmFSName(); ok {
			return "verity-realmfs-" + name
		}
	}
	return "verity-" + string(img.Type())
}

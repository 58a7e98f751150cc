// Package header implements the 4096-byte block at the start of every
// resource image file and every rootfs partition.
//
// Block layout, big endian:
//
//	[0,4)        magic "SGOS"
//	[4]          status
//	[5]          flags
//	[6,8)        metainfo length L
//	[8,8+L)      metainfo (TOML)
//	[8+L,8+L+64) ed25519 signature over the metainfo, zero when unsigned
//
// The rest of the block is zero.
package header

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

const (
	// BlockSize is the size of the header block and the unit of nblocks.
	BlockSize = 4096
	// SignatureSize is the size of an ed25519 signature.
	SignatureSize = 64
	// MaxMetaInfoSize is the largest metainfo block that fits beside the signature.
	MaxMetaInfoSize = BlockSize - prefixSize - SignatureSize

	prefixSize = 8
)

var magic = []byte("SGOS")

// Header is the decoded header block. Status and flags may be rewritten in
// place; the metainfo and signature are fixed once the header is built.
type Header struct {
	status    Status
	flags     FlagSet
	metainfo  []byte
	signature []byte

	parsed *MetaInfo
}

// New returns an unsigned header with status New carrying metainfo.
func New(metainfo []byte) (*Header, error) {
	if len(metainfo) > MaxMetaInfoSize {
		return nil, fmt.Errorf("%w: metainfo is %d bytes", ErrMalformed, len(metainfo))
	}
	return &Header{
		status:   StatusNew,
		metainfo: bytes.Clone(metainfo),
	}, nil
}

// IsValidMagic reports whether b starts with the header magic.
func IsValidMagic(b []byte) bool {
	return len(b) >= len(magic) && bytes.Equal(b[:len(magic)], magic)
}

// Parse decodes a header block.
func Parse(b []byte) (*Header, error) {
	if len(b) < prefixSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrMalformed, len(b))
	}
	if !IsValidMagic(b) {
		return nil, ErrInvalidMagic
	}
	n := int(binary.BigEndian.Uint16(b[6:8]))
	if n > MaxMetaInfoSize || prefixSize+n+SignatureSize > len(b) {
		return nil, fmt.Errorf("%w: metainfo length %d", ErrMalformed, n)
	}
	h := &Header{
		status:   Status(b[4]),
		flags:    FlagSet(b[5]),
		metainfo: bytes.Clone(b[prefixSize : prefixSize+n]),
	}
	sig := b[prefixSize+n : prefixSize+n+SignatureSize]
	if !isZero(sig) {
		h.signature = bytes.Clone(sig)
	}
	return h, nil
}

func isZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

// Marshal encodes the header as a full block.
func (h *Header) Marshal() []byte {
	buf := make([]byte, BlockSize)
	copy(buf, magic)
	buf[4] = byte(h.status)
	buf[5] = byte(h.flags)
	binary.BigEndian.PutUint16(buf[6:8], uint16(len(h.metainfo)))
	copy(buf[prefixSize:], h.metainfo)
	copy(buf[prefixSize+len(h.metainfo):], h.signature)
	return buf
}

// Read decodes the header from the first block of r.
func Read(r io.Reader) (*Header, error) {
	buf := make([]byte, BlockSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			return nil, fmt.Errorf("%w: short header block", ErrMalformed)
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	return Parse(buf)
}

// ReadFile reads the header of an image file or block device. Only the
// first block is read.
func ReadFile(path string) (*Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	h, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return h, nil
}

// WriteTo rewrites the first block of path with h. The file is never
// truncated so a payload following the header is left intact.
func (h *Header) WriteTo(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE, 0644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.WriteAt(h.Marshal(), 0); err != nil {
		return fmt.Errorf("write header to %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", path, err)
	}
	return nil
}

// Clone returns a deep copy of h.
func (h *Header) Clone() *Header {
	return &Header{
		status:    h.status,
		flags:     h.flags,
		metainfo:  bytes.Clone(h.metainfo),
		signature: bytes.Clone(h.signature),
	}
}

// Equal reports whether two headers encode to the same block.
func (h *Header) Equal(o *Header) bool {
	return bytes.Equal(h.Marshal(), o.Marshal())
}

func (h *Header) Status() Status      { return h.status }
func (h *Header) SetStatus(s Status)  { h.status = s }
func (h *Header) Flags() FlagSet      { return h.flags }
func (h *Header) HasFlag(f Flag) bool { return h.flags.Has(f) }
func (h *Header) SetFlag(f Flag)      { h.flags = h.flags.Set(f) }
func (h *Header) ClearFlag(f Flag)    { h.flags = h.flags.Clear(f) }

// MetaInfoBytes returns the raw metainfo block, which is what gets signed.
func (h *Header) MetaInfoBytes() []byte {
	return h.metainfo
}

// Signature returns the detached signature, or nil when unsigned.
func (h *Header) Signature() []byte {
	return h.signature
}

// HasSignature reports whether a signature is present.
func (h *Header) HasSignature() bool {
	return len(h.signature) == SignatureSize
}

// SetSignature attaches a signature over the metainfo.
func (h *Header) SetSignature(sig []byte) error {
	if len(sig) != SignatureSize {
		return fmt.Errorf("%w: signature is %d bytes", ErrMalformed, len(sig))
	}
	h.signature = bytes.Clone(sig)
	return nil
}

// MetaInfo parses the metainfo block. The result is cached.
func (h *Header) MetaInfo() (*MetaInfo, error) {
	if h.parsed != nil {
		return h.parsed, nil
	}
	mi, err := ParseMetaInfo(h.metainfo)
	if err != nil {
		return nil, err
	}
	h.parsed = mi
	return mi, nil
}

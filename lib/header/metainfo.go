package header

import (
	"bytes"
	"fmt"
	"strconv"
	"unicode/utf8"

	"github.com/BurntSushi/toml"
)

// ImageType is the closed set of resource image kinds.
type ImageType string

const (
	ImageTypeKernel  ImageType = "kernel"
	ImageTypeExtra   ImageType = "extra"
	ImageTypeRootfs  ImageType = "rootfs"
	ImageTypeRealmFS ImageType = "realmfs"
)

// ParseImageType returns the ImageType named by s.
func ParseImageType(s string) (ImageType, error) {
	switch t := ImageType(s); t {
	case ImageTypeKernel, ImageTypeExtra, ImageTypeRootfs, ImageTypeRealmFS:
		return t, nil
	}
	return "", fmt.Errorf("%w: unknown image type %q", ErrInvalidMetaInfo, s)
}

func (t ImageType) String() string {
	return string(t)
}

// ValidateChannel checks that a channel name is non-empty lowercase ASCII.
// Channel names become directory names, so nothing else is accepted.
func ValidateChannel(channel string) error {
	if channel == "" {
		return fmt.Errorf("%w: empty", ErrInvalidChannel)
	}
	for _, c := range channel {
		if c < 'a' || c > 'z' {
			return fmt.Errorf("%w: %q", ErrInvalidChannel, channel)
		}
	}
	return nil
}

// metaInfoFields is the TOML form of the metainfo block.
type metaInfoFields struct {
	ImageType    ImageType `toml:"image-type"`
	Channel      string    `toml:"channel"`
	Version      uint32    `toml:"version"`
	Timestamp    string    `toml:"timestamp"`
	NBlocks      uint64    `toml:"nblocks"`
	Shasum       string    `toml:"shasum"`
	VeritySalt   string    `toml:"verity-salt"`
	VerityRoot   string    `toml:"verity-root,omitempty"`
	KernelVer    *string   `toml:"kernel-version,omitempty"`
	KernelID     *string   `toml:"kernel-id,omitempty"`
	RealmFSName  *string   `toml:"realmfs-name,omitempty"`
	RealmFSOwner *string   `toml:"realmfs-owner,omitempty"`
}

// MetaInfo is a read-only view of the metainfo block of a header.
type MetaInfo struct {
	f metaInfoFields
}

// MetaInfoParams describes a metainfo block to build with NewMetaInfo.
// Empty optional strings are left out of the encoded block.
type MetaInfoParams struct {
	ImageType     ImageType
	Channel       string
	Version       uint32
	Timestamp     string
	NBlocks       uint64
	Shasum        string
	VeritySalt    string
	VerityRoot    string
	KernelVersion string
	KernelID      string
	RealmFSName   string
	RealmFSOwner  string
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// NewMetaInfo validates p and returns the corresponding MetaInfo.
func NewMetaInfo(p MetaInfoParams) (*MetaInfo, error) {
	if _, err := ParseImageType(string(p.ImageType)); err != nil {
		return nil, err
	}
	if err := ValidateChannel(p.Channel); err != nil {
		return nil, err
	}
	return &MetaInfo{f: metaInfoFields{
		ImageType:    p.ImageType,
		Channel:      p.Channel,
		Version:      p.Version,
		Timestamp:    p.Timestamp,
		NBlocks:      p.NBlocks,
		Shasum:       p.Shasum,
		VeritySalt:   p.VeritySalt,
		VerityRoot:   p.VerityRoot,
		KernelVer:    optional(p.KernelVersion),
		KernelID:     optional(p.KernelID),
		RealmFSName:  optional(p.RealmFSName),
		RealmFSOwner: optional(p.RealmFSOwner),
	}}, nil
}

// ParseMetaInfo decodes a metainfo block. The image type must be one of the
// known types and image-type, channel and version must be present.
func ParseMetaInfo(b []byte) (*MetaInfo, error) {
	if !utf8.Valid(b) {
		return nil, fmt.Errorf("%w: not utf-8", ErrInvalidMetaInfo)
	}
	var f metaInfoFields
	md, err := toml.Decode(string(b), &f)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMetaInfo, err)
	}
	for _, key := range []string{"image-type", "channel", "version"} {
		if !md.IsDefined(key) {
			return nil, fmt.Errorf("%w: missing %s", ErrInvalidMetaInfo, key)
		}
	}
	if _, err := ParseImageType(string(f.ImageType)); err != nil {
		return nil, err
	}
	return &MetaInfo{f: f}, nil
}

// Marshal encodes the metainfo as TOML. Field order is fixed so the output is
// stable for signing.
func (m *MetaInfo) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(m.f); err != nil {
		return nil, fmt.Errorf("encode metainfo: %w", err)
	}
	return buf.Bytes(), nil
}

func (m *MetaInfo) ImageType() ImageType { return m.f.ImageType }
func (m *MetaInfo) Channel() string      { return m.f.Channel }
func (m *MetaInfo) Version() uint32      { return m.f.Version }
func (m *MetaInfo) Timestamp() string    { return m.f.Timestamp }
func (m *MetaInfo) NBlocks() uint64      { return m.f.NBlocks }
func (m *MetaInfo) Shasum() string       { return m.f.Shasum }
func (m *MetaInfo) VeritySalt() string   { return m.f.VeritySalt }
func (m *MetaInfo) VerityRoot() string   { return m.f.VerityRoot }

// TimestampValue returns the timestamp as an integer for ordering. A missing
// or non-numeric timestamp sorts first.
func (m *MetaInfo) TimestampValue() uint64 {
	v, err := strconv.ParseUint(m.f.Timestamp, 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// PayloadSize is the size in bytes of the uncompressed payload region.
func (m *MetaInfo) PayloadSize() int64 {
	return int64(m.f.NBlocks) * BlockSize
}

// KernelVersion is only set on kernel images.
func (m *MetaInfo) KernelVersion() (string, bool) { return deref(m.f.KernelVer) }

// KernelID is only set on kernel images.
func (m *MetaInfo) KernelID() (string, bool) { return deref(m.f.KernelID) }

// RealmFSName is only set on realmfs images.
func (m *MetaInfo) RealmFSName() (string, bool) { return deref(m.f.RealmFSName) }

// RealmFSOwner is only set on realmfs images.
func (m *MetaInfo) RealmFSOwner() (string, bool) { return deref(m.f.RealmFSOwner) }

func deref(s *string) (string, bool) {
	if s == nil {
		return "", false
	}
	return *s, true
}

package header

import "strings"

// Flag is a single header flag.
type Flag uint8

const (
	// FlagPreferBoot marks the rootfs partition the bootloader should pick next.
	FlagPreferBoot Flag = 0x01
	// FlagHashTree is set once a dm-verity hash tree follows the payload.
	FlagHashTree Flag = 0x02
	// FlagDataCompressed is set while the payload is xz compressed.
	FlagDataCompressed Flag = 0x04
)

var allFlags = []Flag{FlagPreferBoot, FlagHashTree, FlagDataCompressed}

func (f Flag) String() string {
	switch f {
	case FlagPreferBoot:
		return "PREFER_BOOT"
	case FlagHashTree:
		return "HASH_TREE"
	case FlagDataCompressed:
		return "DATA_COMPRESSED"
	default:
		return "UNKNOWN"
	}
}

// FlagSet is the set of flags stored in a header. Flags are independent:
// adding or removing one never touches another.
type FlagSet uint8

// NewFlagSet returns a set holding flags.
func NewFlagSet(flags ...Flag) FlagSet {
	var s FlagSet
	for _, f := range flags {
		s = s.Set(f)
	}
	return s
}

// Has reports whether f is in the set.
func (s FlagSet) Has(f Flag) bool {
	return s&FlagSet(f) != 0
}

// Set returns the set plus f.
func (s FlagSet) Set(f Flag) FlagSet {
	return s | FlagSet(f)
}

// Clear returns the set minus f.
func (s FlagSet) Clear(f Flag) FlagSet {
	return s &^ FlagSet(f)
}

// List returns the known flags in the set in ascending bit order.
func (s FlagSet) List() []Flag {
	var out []Flag
	for _, f := range allFlags {
		if s.Has(f) {
			out = append(out, f)
		}
	}
	return out
}

func (s FlagSet) String() string {
	list := s.List()
	if len(list) == 0 {
		return "none"
	}
	names := make([]string, len(list))
	for i, f := range list {
		names[i] = f.String()
	}
	return strings.Join(names, "|")
}

// Status records where an image or partition is in its boot lifecycle.
type Status uint8

const (
	StatusInvalid Status = iota
	StatusNew
	StatusTryBoot
	StatusBooted
	StatusFailed
	StatusBadSig
	StatusBadMeta
	StatusBadVersion
	StatusBadChannel
)

func (s Status) String() string {
	switch s {
	case StatusInvalid:
		return "INVALID"
	case StatusNew:
		return "NEW"
	case StatusTryBoot:
		return "TRY_BOOT"
	case StatusBooted:
		return "BOOTED"
	case StatusFailed:
		return "FAILED"
	case StatusBadSig:
		return "BAD_SIG"
	case StatusBadMeta:
		return "BAD_META"
	case StatusBadVersion:
		return "BAD_VERSION"
	case StatusBadChannel:
		return "BAD_CHANNEL"
	default:
		return "UNKNOWN"
	}
}

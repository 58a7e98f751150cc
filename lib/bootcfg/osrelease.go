package bootcfg

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
)

// OsRelease holds the variables of /etc/os-release.
type OsRelease struct {
	vars map[string]string
}

// LoadOsRelease parses an os-release file. A missing file yields an empty set.
func LoadOsRelease(path string) (*OsRelease, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &OsRelease{vars: map[string]string{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open os-release: %w", err)
	}
	defer f.Close()

	vars, err := godotenv.Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &OsRelease{vars: vars}, nil
}

// NewOsRelease builds an OsRelease from explicit variables.
func NewOsRelease(vars map[string]string) *OsRelease {
	m := make(map[string]string, len(vars))
	for k, v := range vars {
		m[k] = v
	}
	return &OsRelease{vars: m}
}

// Get returns a variable; empty values count as unset.
func (o *OsRelease) Get(key string) (string, bool) {
	v, ok := o.vars[key]
	return v, ok && v != ""
}

func (o *OsRelease) Channel() (string, bool)     { return o.Get("CITADEL_CHANNEL") }
func (o *OsRelease) ImagePubkey() (string, bool) { return o.Get("CITADEL_IMAGE_PUBKEY") }
func (o *OsRelease) KernelID() (string, bool)    { return o.Get("CITADEL_KERNEL_ID") }

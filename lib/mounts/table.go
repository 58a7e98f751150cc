package mounts

import (
	"fmt"
	"path/filepath"

	fstab "github.com/deniswernert/go-fstab"
)

// Table is a snapshot of the kernel mount table.
type Table struct {
	entries fstab.Mounts
}

// ReadTable parses a mount table file such as /proc/self/mounts.
func ReadTable(path string) (*Table, error) {
	entries, err := fstab.ParseFile(path)
	if err != nil {
		return nil, fmt.Errorf("parse mount table %s: %w", path, err)
	}
	return &Table{entries: entries}, nil
}

func canonical(p string) string {
	if r, err := filepath.EvalSymlinks(p); err == nil {
		return r
	}
	return filepath.Clean(p)
}

// IsSourceMounted reports whether the device at source is mounted anywhere.
func (t *Table) IsSourceMounted(source string) bool {
	want := canonical(source)
	for _, m := range t.entries {
		if m.Spec == source || canonical(m.Spec) == want {
			return true
		}
	}
	return false
}

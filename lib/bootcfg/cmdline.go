// Package bootcfg reads the boot-time configuration inputs: the kernel
// command line and /etc/os-release.
package bootcfg

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"unicode"

	"github.com/siderolabs/go-procfs/procfs"
)

// CommandLine is a parsed kernel command line. A bare word is a parameter
// with an empty value. When a key repeats, the first value is used.
type CommandLine struct {
	params *procfs.Cmdline
}

// ParseCommandLine parses s the way the kernel splits its arguments: on
// whitespace outside double quotes, with the quotes removed.
func ParseCommandLine(s string) *CommandLine {
	c := procfs.NewCmdline("")
	for _, word := range splitArgs(s) {
		k, v, _ := strings.Cut(word, "=")
		c.Append(k, v)
	}
	return &CommandLine{params: c}
}

func splitArgs(s string) []string {
	var (
		args    []string
		cur     strings.Builder
		quoted  bool
		pending bool
	)
	for _, r := range s {
		switch {
		case r == '"':
			quoted = !quoted
			pending = true
		case unicode.IsSpace(r) && !quoted:
			if pending {
				args = append(args, cur.String())
				cur.Reset()
				pending = false
			}
		default:
			cur.WriteRune(r)
			pending = true
		}
	}
	if pending {
		args = append(args, cur.String())
	}
	return args
}

// LoadCommandLine reads the command line from path. A missing file is an
// empty command line.
func LoadCommandLine(path string) (*CommandLine, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return ParseCommandLine(""), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read command line: %w", err)
	}
	return ParseCommandLine(string(b)), nil
}

// Get returns the value of a key=value parameter.
func (c *CommandLine) Get(key string) (string, bool) {
	p := c.params.Get(key)
	if p == nil {
		return "", false
	}
	v := p.First()
	if v == nil {
		return "", false
	}
	return *v, true
}

// Has reports whether key appears at all, with or without a value.
func (c *CommandLine) Has(key string) bool {
	return c.params.Get(key) != nil
}

func (c *CommandLine) NoVerity() bool     { return c.Has("citadel.noverity") }
func (c *CommandLine) NoSignatures() bool { return c.Has("citadel.nosignatures") }

// ChannelName returns the name part of citadel.channel=name[:pubkey].
func (c *CommandLine) ChannelName() (string, bool) {
	v, ok := c.Get("citadel.channel")
	if !ok {
		return "", false
	}
	name, _, _ := strings.Cut(v, ":")
	return name, name != ""
}

// ChannelPubkey returns the hex key part of citadel.channel=name:pubkey.
func (c *CommandLine) ChannelPubkey() (string, bool) {
	v, ok := c.Get("citadel.channel")
	if !ok {
		return "", false
	}
	_, key, found := strings.Cut(v, ":")
	return key, found && key != ""
}

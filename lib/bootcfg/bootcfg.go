package bootcfg

import (
	"github.com/subgraph/citadel/lib/paths"
)

// Config is the boot environment as seen by the image tools.
type Config struct {
	Cmdline   *CommandLine
	OsRelease *OsRelease
}

// Load reads the command line and os-release under p.
func Load(p *paths.Paths) (*Config, error) {
	cmdline, err := LoadCommandLine(p.ProcCmdline())
	if err != nil {
		return nil, err
	}
	osr, err := LoadOsRelease(p.OsRelease())
	if err != nil {
		return nil, err
	}
	return &Config{Cmdline: cmdline, OsRelease: osr}, nil
}

// Empty returns a Config with no command line and no os-release variables.
func Empty() *Config {
	return &Config{Cmdline: ParseCommandLine(""), OsRelease: NewOsRelease(nil)}
}

// Channel is the update channel images are looked up in: the command line
// channel if one is given, otherwise "dev".
func (c *Config) Channel() string {
	if name, ok := c.Cmdline.ChannelName(); ok {
		return name
	}
	return "dev"
}

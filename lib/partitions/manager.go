// Package partitions manages the A/B rootfs partitions: reading their
// embedded headers, choosing an install target and moving the
// PREFER_BOOT flag and boot status between them.
package partitions

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/subgraph/citadel/lib/header"
	"github.com/subgraph/citadel/lib/logger"
	"github.com/subgraph/citadel/lib/mounts"
	"github.com/subgraph/citadel/lib/paths"
)

// DefaultDevices are the rootfs partitions of an installed system.
var DefaultDevices = []string{
	"/dev/mapper/citadel-rootfsA",
	"/dev/mapper/citadel-rootfsB",
}

// InUseChecker decides whether a partition device is currently in use.
type InUseChecker interface {
	InUse(device string) (bool, error)
}

// InUseFunc adapts a function to InUseChecker.
type InUseFunc func(device string) (bool, error)

func (f InUseFunc) InUse(device string) (bool, error) { return f(device) }

// SystemInUse treats a partition as in use when it is mounted directly or
// when another block device (a dm-verity mapping) holds it.
type SystemInUse struct {
	Paths *paths.Paths
}

func (c SystemInUse) InUse(device string) (bool, error) {
	table, err := mounts.ReadTable(c.Paths.ProcMounts())
	if err != nil {
		return false, err
	}
	if table.IsSourceMounted(device) {
		return true, nil
	}
	real, err := filepath.EvalSymlinks(device)
	if err != nil {
		return false, nil
	}
	holders, err := os.ReadDir(filepath.Join(c.Paths.SysClassBlock(), filepath.Base(real), "holders"))
	if err != nil {
		return false, nil
	}
	return len(holders) > 0, nil
}

// Manager enumerates the rootfs partitions.
type Manager struct {
	devices []string
	inUse   InUseChecker
}

// NewManager creates a Manager over devices. A nil devices list selects
// DefaultDevices; a nil checker selects SystemInUse on the running system.
func NewManager(devices []string, inUse InUseChecker) *Manager {
	if len(devices) == 0 {
		devices = DefaultDevices
	}
	if inUse == nil {
		inUse = SystemInUse{Paths: paths.New("/")}
	}
	return &Manager{devices: devices, inUse: inUse}
}

// Devices returns the configured partition devices.
func (m *Manager) Devices() []string { return m.devices }

// RootfsPartitions probes every configured device. Devices that do not
// exist are skipped. A device whose first block is not a valid header is
// reported as uninitialized.
func (m *Manager) RootfsPartitions(ctx context.Context) ([]*Partition, error) {
	log := logger.FromContext(ctx)

	var out []*Partition
	for _, dev := range m.devices {
		if _, err := os.Stat(dev); err != nil {
			if os.IsNotExist(err) {
				log.WarnContext(ctx, "rootfs partition device missing", "device", dev)
				continue
			}
			return nil, fmt.Errorf("stat %s: %w", dev, err)
		}
		p, err := m.probe(ctx, dev)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if len(out) == 0 {
		return nil, ErrNoPartitions
	}
	return out, nil
}

func (m *Manager) probe(ctx context.Context, dev string) (*Partition, error) {
	log := logger.FromContext(ctx)

	mounted, err := m.inUse.InUse(dev)
	if err != nil {
		return nil, fmt.Errorf("check %s in use: %w", dev, err)
	}
	p := &Partition{path: dev, mounted: mounted}

	h, err := header.ReadFile(dev)
	switch {
	case err == nil:
		if _, merr := h.MetaInfo(); merr != nil {
			log.WarnContext(ctx, "partition header has invalid metainfo", "device", dev, "error", merr)
			return p, nil
		}
		p.header = h
	case errors.Is(err, header.ErrInvalidMagic):
		log.DebugContext(ctx, "partition is not initialized", "device", dev)
	case errors.Is(err, header.ErrMalformed):
		log.WarnContext(ctx, "partition header is malformed", "device", dev, "error", err)
	default:
		return nil, fmt.Errorf("read partition header: %w", err)
	}
	return p, nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// ChooseInstallPartition returns the partition a new rootfs should be
// written to: an empty unmounted one if there is one, otherwise any
// unmounted one. A mounted partition is never chosen.
func (m *Manager) ChooseInstallPartition(ctx context.Context, verbose bool) (*Partition, error) {
	log := logger.FromContext(ctx)
	report := log.DebugContext
	if verbose {
		report = log.InfoContext
	}

	parts, err := m.RootfsPartitions(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range parts {
		report(ctx, "rootfs partition", "device", p.Path(), "mounted", yesNo(p.IsMounted()), "empty", yesNo(!p.IsInitialized()))
	}

	for _, p := range parts {
		if !p.IsMounted() && !p.IsInitialized() {
			report(ctx, "choosing partition because it is empty and not mounted", "device", p.Path())
			return p, nil
		}
	}
	for _, p := range parts {
		if !p.IsMounted() {
			report(ctx, "choosing partition because it is not mounted", "device", p.Path(),
				"metainfo", string(p.Header().MetaInfoBytes()))
			return p, nil
		}
	}
	return nil, ErrNoInstallPartition
}

// ClearPreferBoot removes PREFER_BOOT from every initialized partition
// that carries it.
func (m *Manager) ClearPreferBoot(ctx context.Context) error {
	log := logger.FromContext(ctx)

	parts, err := m.RootfsPartitions(ctx)
	if err != nil {
		return err
	}
	for _, p := range parts {
		if !p.IsInitialized() || !p.Header().HasFlag(header.FlagPreferBoot) {
			continue
		}
		log.InfoContext(ctx, "clearing prefer-boot flag", "device", p.Path())
		if err := p.ClearFlagAndWrite(header.FlagPreferBoot); err != nil {
			return err
		}
	}
	return nil
}

// Bless marks the mounted, initialized partition as successfully booted.
// It returns that partition, or nil when no partition qualifies.
func (m *Manager) Bless(ctx context.Context) (*Partition, error) {
	log := logger.FromContext(ctx)

	parts, err := m.RootfsPartitions(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range parts {
		if !p.IsInitialized() || !p.IsMounted() {
			continue
		}
		if p.Header().Status() == header.StatusBooted {
			log.InfoContext(ctx, "partition already blessed", "device", p.Path())
			return p, nil
		}
		log.InfoContext(ctx, "blessing partition", "device", p.Path(), "previous_status", p.Header().Status().String())
		if err := p.SetStatusAndWrite(header.StatusBooted); err != nil {
			return nil, err
		}
		return p, nil
	}
	log.WarnContext(ctx, "no mounted partition found to bless")
	return nil, nil
}

package disks

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/samber/lo"
	"github.com/subgraph/citadel/lib/logger"
	"github.com/subgraph/citadel/lib/paths"
)

// ESPGUID is the GPT partition type of an EFI system partition.
const ESPGUID = "c12a7328-f81f-11d2-ba4b-00a0c93ec93b"

// Lsblk queries a single lsblk output column for a device.
type Lsblk interface {
	Query(ctx context.Context, device, column string) (string, error)
}

// ExecLsblk runs /usr/bin/lsblk.
type ExecLsblk struct {
	Binary string
}

func (l ExecLsblk) Query(ctx context.Context, device, column string) (string, error) {
	bin := l.Binary
	if bin == "" {
		bin = "/usr/bin/lsblk"
	}
	cmd := exec.CommandContext(ctx, bin, "-dno", column, device)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("%w: %s %s: %w, output: %s", ErrLsblkFailed, column, device, err, output)
	}
	return strings.TrimSpace(string(output)), nil
}

// Partition is one line of /proc/partitions.
type Partition struct {
	Path   string `json:"path"`
	Major  uint32 `json:"major"`
	Minor  uint32 `json:"minor"`
	Blocks uint64 `json:"blocks"`
}

// ParsePartitions parses the contents of /proc/partitions, skipping the
// two header lines.
func ParsePartitions(data []byte) ([]Partition, error) {
	var out []Partition
	sc := bufio.NewScanner(bytes.NewReader(data))
	for n := 0; sc.Scan(); n++ {
		if n < 2 {
			continue
		}
		line := sc.Text()
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if len(fields) != 4 {
			return nil, fmt.Errorf("parse partitions line %q", line)
		}
		major, err := strconv.ParseUint(fields[0], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("parse partitions line %q: %w", line, err)
		}
		minor, err := strconv.ParseUint(fields[1], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("parse partitions line %q: %w", line, err)
		}
		blocks, err := strconv.ParseUint(fields[2], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse partitions line %q: %w", line, err)
		}
		out = append(out, Partition{
			Path:   filepath.Join("/dev", fields[3]),
			Major:  uint32(major),
			Minor:  uint32(minor),
			Blocks: blocks,
		})
	}
	return out, sc.Err()
}

// Finder locates boot partitions.
type Finder struct {
	paths *paths.Paths
	lsblk Lsblk
}

// NewFinder creates a Finder. A nil lsblk runs the system binary.
func NewFinder(p *paths.Paths, lsblk Lsblk) *Finder {
	if lsblk == nil {
		lsblk = ExecLsblk{}
	}
	return &Finder{paths: p, lsblk: lsblk}
}

// BootPartitions returns every vfat partition, restricted to EFI system
// partitions when checkGUID is set.
func (f *Finder) BootPartitions(ctx context.Context, checkGUID bool) ([]Partition, error) {
	data, err := os.ReadFile(f.paths.ProcPartitions())
	if err != nil {
		return nil, fmt.Errorf("read partitions: %w", err)
	}
	parts, err := ParsePartitions(data)
	if err != nil {
		return nil, err
	}

	var out []Partition
	for _, p := range parts {
		fstype, err := f.lsblk.Query(ctx, p.Path, "FSTYPE")
		if err != nil {
			return nil, err
		}
		if fstype != "vfat" {
			continue
		}
		if checkGUID {
			guid, err := f.lsblk.Query(ctx, p.Path, "PARTTYPE")
			if err != nil {
				return nil, err
			}
			if strings.ToLower(guid) != ESPGUID {
				continue
			}
		}
		out = append(out, p)
	}
	return out, nil
}

// LoaderDevicePartUUID reads the partition UUID systemd-boot was loaded
// from. It returns "", false when the EFI variable is not set.
func (f *Finder) LoaderDevicePartUUID() (string, bool, error) {
	data, err := os.ReadFile(f.paths.LoaderDevicePartUUID())
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("read loader device EFI variable: %w", err)
	}
	return decodeEFIString(data), true, nil
}

// decodeEFIString drops the 4 byte attribute prefix of an efivarfs file and
// narrows the UTF-16 ASCII string that follows, lowercased.
func decodeEFIString(data []byte) string {
	if len(data) < 4 {
		return ""
	}
	var b strings.Builder
	for _, c := range data[4:] {
		if c != 0 {
			b.WriteByte(c)
		}
	}
	return strings.ToLower(b.String())
}

// FindBootPartition returns the single EFI system partition, preferring
// the one named by the loader EFI variable when it is set.
func (f *Finder) FindBootPartition(ctx context.Context) (string, error) {
	log := logger.FromContext(ctx)

	uuid, ok, err := f.LoaderDevicePartUUID()
	if err != nil {
		return "", err
	}
	if !ok {
		log.InfoContext(ctx, "loader device EFI variable is not set")
	}

	parts, err := f.BootPartitions(ctx, true)
	if err != nil {
		return "", err
	}
	matches := lo.Filter(parts, func(p Partition, _ int) bool {
		if !ok {
			return true
		}
		partUUID, err := f.lsblk.Query(ctx, p.Path, "PARTUUID")
		if err != nil {
			log.WarnContext(ctx, "error running lsblk", "device", p.Path, "error", err)
			return true
		}
		return strings.ToLower(partUUID) == uuid
	})
	if len(matches) != 1 {
		return "", fmt.Errorf("%w: %d candidates", ErrBootPartitionNotFound, len(matches))
	}
	return matches[0].Path, nil
}

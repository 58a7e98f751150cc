// Package disks enumerates the block devices an installer can target and
// finds the EFI system partition the system booted from.
package disks

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/c2h5oh/datasize"
	"github.com/subgraph/citadel/lib/paths"
)

// sectorSize is the unit of /sys/block/<dev>/size.
const sectorSize = 512

// Disk is a whole-disk block device.
type Disk struct {
	Path       string `json:"path"`
	Model      string `json:"model"`
	Size       uint64 `json:"size"`
	SizeString string `json:"size_string"`
	Removable  bool   `json:"removable"`
}

// ProbeAll lists the disks under /sys/block. Only devices with a
// device/model entry are disks; partitions, loop and dm devices are skipped.
func ProbeAll(p *paths.Paths) ([]Disk, error) {
	entries, err := os.ReadDir(p.SysBlock())
	if err != nil {
		return nil, fmt.Errorf("read sysfs block devices: %w", err)
	}

	var disks []Disk
	for _, entry := range entries {
		dir := filepath.Join(p.SysBlock(), entry.Name())
		if !isDiskDevice(dir) {
			continue
		}
		d, err := readDisk(dir)
		if err != nil {
			return nil, err
		}
		disks = append(disks, *d)
	}
	return disks, nil
}

func isDiskDevice(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, "device", "model"))
	return err == nil
}

// readDisk reads a disk from its sysfs directory
func readDisk(dir string) (*Disk, error) {
	name := filepath.Base(dir)

	sizeStr, err := readSysfsFile(filepath.Join(dir, "size"))
	if err != nil {
		return nil, fmt.Errorf("read size of %s: %w", name, err)
	}
	sectors, err := strconv.ParseUint(sizeStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse size of %s: %w", name, err)
	}

	model, err := readSysfsFile(filepath.Join(dir, "device", "model"))
	if err != nil {
		return nil, fmt.Errorf("read model of %s: %w", name, err)
	}

	// Missing removable attribute means fixed
	removable, _ := readSysfsFile(filepath.Join(dir, "removable"))

	size := sectors * sectorSize
	return &Disk{
		Path:       filepath.Join("/dev", name),
		Model:      model,
		Size:       size,
		SizeString: datasize.ByteSize(size).HumanReadable(),
		Removable:  removable == "1",
	}, nil
}

// readSysfsFile reads and trims a sysfs file
func readSysfsFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

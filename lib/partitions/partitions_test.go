package partitions

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/subgraph/citadel/lib/errdefs"
	"github.com/subgraph/citadel/lib/header"
	"github.com/subgraph/citadel/lib/header/headertest"
	"github.com/subgraph/citadel/lib/paths"
)

const partSize = 16 * header.BlockSize

type slot struct {
	version uint32
	prefer  bool
	status  header.Status
	mounted bool
	empty   bool
}

// newSlots creates one zero-filled file per slot and writes a rootfs header
// into the initialized ones.
func newSlots(t *testing.T, slots ...slot) (*Manager, []string) {
	t.Helper()
	dir := t.TempDir()
	mounted := make(map[string]bool)
	var devs []string
	for i, s := range slots {
		dev := filepath.Join(dir, "rootfs"+string(rune('A'+i)))
		require.NoError(t, os.WriteFile(dev, make([]byte, partSize), 0644))
		if !s.empty {
			img := headertest.Image{Type: header.ImageTypeRootfs, Version: s.version, Status: s.status}
			if s.prefer {
				img.Flags = []header.Flag{header.FlagPreferBoot}
			}
			h, _ := headertest.Build(t, img)
			require.NoError(t, h.WriteTo(dev))
		}
		mounted[dev] = s.mounted
		devs = append(devs, dev)
	}
	inUse := InUseFunc(func(dev string) (bool, error) { return mounted[dev], nil })
	return NewManager(devs, inUse), devs
}

func TestRootfsPartitions(t *testing.T) {
	ctx := context.Background()
	m, devs := newSlots(t, slot{version: 3, mounted: true}, slot{empty: true})

	parts, err := m.RootfsPartitions(ctx)
	require.NoError(t, err)
	require.Len(t, parts, 2)

	assert.Equal(t, devs[0], parts[0].Path())
	assert.True(t, parts[0].IsInitialized())
	assert.True(t, parts[0].IsMounted())
	mi, err := parts[0].Header().MetaInfo()
	require.NoError(t, err)
	assert.Equal(t, uint32(3), mi.Version())

	assert.False(t, parts[1].IsInitialized())
	assert.Nil(t, parts[1].Header())
}

func TestRootfsPartitionsMissingDevices(t *testing.T) {
	m := NewManager([]string{filepath.Join(t.TempDir(), "nope")}, InUseFunc(func(string) (bool, error) { return false, nil }))
	_, err := m.RootfsPartitions(context.Background())
	require.ErrorIs(t, err, ErrNoPartitions)
	require.ErrorIs(t, err, errdefs.ErrEnvironment)
}

func TestChooseInstallPartition(t *testing.T) {
	tests := []struct {
		name    string
		slots   []slot
		want    int
		wantErr error
	}{
		{
			name:  "prefers empty unmounted",
			slots: []slot{{version: 1}, {empty: true}},
			want:  1,
		},
		{
			name:  "empty but mounted is skipped",
			slots: []slot{{version: 1}, {empty: true, mounted: true}},
			want:  0,
		},
		{
			name:  "any unmounted",
			slots: []slot{{version: 1, mounted: true}, {version: 2}},
			want:  1,
		},
		{
			name:    "all mounted",
			slots:   []slot{{version: 1, mounted: true}, {empty: true, mounted: true}},
			wantErr: errdefs.ErrResourceBusy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, devs := newSlots(t, tt.slots...)
			p, err := m.ChooseInstallPartition(context.Background(), true)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				require.ErrorIs(t, err, ErrNoInstallPartition)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, devs[tt.want], p.Path())
			assert.False(t, p.IsMounted())
		})
	}
}

func countPreferBoot(t *testing.T, m *Manager) int {
	t.Helper()
	parts, err := m.RootfsPartitions(context.Background())
	require.NoError(t, err)
	n := 0
	for _, p := range parts {
		if p.IsInitialized() && p.Header().HasFlag(header.FlagPreferBoot) {
			n++
		}
	}
	return n
}

func TestClearPreferBootLeavesExactlyOne(t *testing.T) {
	ctx := context.Background()
	m, devs := newSlots(t, slot{version: 1, prefer: true, mounted: true}, slot{version: 2, prefer: true})
	require.Equal(t, 2, countPreferBoot(t, m))

	require.NoError(t, m.ClearPreferBoot(ctx))
	require.Equal(t, 0, countPreferBoot(t, m))

	target, err := m.ChooseInstallPartition(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, devs[1], target.Path())

	h := target.Header().Clone()
	h.SetFlag(header.FlagPreferBoot)
	require.NoError(t, target.WriteHeader(h))

	assert.Equal(t, 1, countPreferBoot(t, m))
	parts, err := m.RootfsPartitions(ctx)
	require.NoError(t, err)
	assert.False(t, parts[0].Header().HasFlag(header.FlagPreferBoot))
	assert.True(t, parts[1].Header().HasFlag(header.FlagPreferBoot))
}

func TestClearPreferBootKeepsOtherFields(t *testing.T) {
	ctx := context.Background()
	m, devs := newSlots(t, slot{version: 7, prefer: true, status: header.StatusTryBoot})

	require.NoError(t, m.ClearPreferBoot(ctx))

	h, err := header.ReadFile(devs[0])
	require.NoError(t, err)
	assert.False(t, h.HasFlag(header.FlagPreferBoot))
	assert.Equal(t, header.StatusTryBoot, h.Status())
	mi, err := h.MetaInfo()
	require.NoError(t, err)
	assert.Equal(t, uint32(7), mi.Version())
}

func TestBless(t *testing.T) {
	ctx := context.Background()

	t.Run("marks mounted partition booted", func(t *testing.T) {
		m, devs := newSlots(t, slot{version: 1, status: header.StatusNew}, slot{version: 2, status: header.StatusTryBoot, mounted: true})
		p, err := m.Bless(ctx)
		require.NoError(t, err)
		require.NotNil(t, p)
		assert.Equal(t, devs[1], p.Path())

		h, err := header.ReadFile(devs[1])
		require.NoError(t, err)
		assert.Equal(t, header.StatusBooted, h.Status())

		other, err := header.ReadFile(devs[0])
		require.NoError(t, err)
		assert.Equal(t, header.StatusNew, other.Status())
	})

	t.Run("nothing mounted", func(t *testing.T) {
		m, _ := newSlots(t, slot{version: 1}, slot{empty: true, mounted: true})
		p, err := m.Bless(ctx)
		require.NoError(t, err)
		assert.Nil(t, p)
	})
}

func TestWriteImage(t *testing.T) {
	ctx := context.Background()
	m, devs := newSlots(t, slot{version: 1, prefer: true}, slot{empty: true})

	src := filepath.Join(t.TempDir(), "rootfs.img")
	h := headertest.Write(t, src, headertest.Image{
		Type:    header.ImageTypeRootfs,
		Version: 9,
		Flags:   []header.Flag{header.FlagPreferBoot, header.FlagHashTree},
		Status:  header.StatusBooted,
		Payload: headertest.Payload(3, 0xab),
	})

	target, err := m.ChooseInstallPartition(ctx, false)
	require.NoError(t, err)
	require.Equal(t, devs[1], target.Path())
	require.NoError(t, target.WriteImage(ctx, src, h))

	data, err := os.ReadFile(devs[1])
	require.NoError(t, err)
	require.Len(t, data, partSize)
	assert.Equal(t, headertest.Payload(3, 0xab), data[header.BlockSize:4*header.BlockSize])

	written, err := header.Parse(data[:header.BlockSize])
	require.NoError(t, err)
	assert.Equal(t, header.StatusNew, written.Status())
	assert.True(t, written.HasFlag(header.FlagPreferBoot))
	assert.Equal(t, h.MetaInfoBytes(), written.MetaInfoBytes())

	// source header is untouched
	assert.Equal(t, header.StatusBooted, h.Status())
}

func TestWriteImageFailureClearsPreferBoot(t *testing.T) {
	ctx := context.Background()
	m, devs := newSlots(t,
		slot{version: 1, mounted: true},
		slot{version: 2, prefer: true, status: header.StatusNew},
	)

	h, _ := headertest.Build(t, headertest.Image{Type: header.ImageTypeRootfs, Version: 3})

	target, err := m.ChooseInstallPartition(ctx, false)
	require.NoError(t, err)
	require.Equal(t, devs[1], target.Path())

	// a directory opens fine but fails on read
	require.Error(t, target.WriteImage(ctx, t.TempDir(), h))
	assert.False(t, target.IsInitialized())

	parts, err := m.RootfsPartitions(ctx)
	require.NoError(t, err)
	assert.False(t, parts[1].IsInitialized())
	assert.Equal(t, 0, countPreferBoot(t, m))

	data, err := os.ReadFile(devs[1])
	require.NoError(t, err)
	_, err = header.Parse(data[:header.BlockSize])
	require.Error(t, err)
}

func TestWriteImageRejectsOtherTypes(t *testing.T) {
	_, devs := newSlots(t, slot{empty: true})
	src := filepath.Join(t.TempDir(), "extra.img")
	h := headertest.Write(t, src, headertest.Image{Type: header.ImageTypeExtra, Version: 1})

	p := &Partition{path: devs[0]}
	err := p.WriteImage(context.Background(), src, h)
	require.ErrorIs(t, err, ErrNotRootfs)

	_, err = header.ReadFile(devs[0])
	require.ErrorIs(t, err, header.ErrInvalidMagic)
}

func TestSystemInUse(t *testing.T) {
	root := t.TempDir()
	p := paths.New(root)
	dev := filepath.Join(root, "rootfsA")
	held := filepath.Join(root, "rootfsB")
	free := filepath.Join(root, "rootfsC")
	for _, f := range []string{dev, held, free} {
		require.NoError(t, os.WriteFile(f, nil, 0644))
	}
	require.NoError(t, os.MkdirAll(filepath.Dir(p.ProcMounts()), 0755))
	require.NoError(t, os.WriteFile(p.ProcMounts(), []byte(dev+" /sysroot ext4 ro 0 0\n"), 0644))
	holders := filepath.Join(p.SysClassBlock(), "rootfsB", "holders")
	require.NoError(t, os.MkdirAll(filepath.Join(holders, "dm-3"), 0755))

	c := SystemInUse{Paths: p}
	for _, tc := range []struct {
		dev  string
		want bool
	}{{dev, true}, {held, true}, {free, false}} {
		got, err := c.InUse(tc.dev)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, tc.dev)
	}
}

package header

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/subgraph/citadel/lib/errdefs"
)

func testMetaInfo(t *testing.T) []byte {
	t.Helper()
	mi, err := NewMetaInfo(MetaInfoParams{
		ImageType:     ImageTypeKernel,
		Channel:       "dev",
		Version:       7,
		Timestamp:     "20240101120000",
		NBlocks:       16,
		Shasum:        "ab",
		VeritySalt:    "cd",
		KernelVersion: "6.1.12",
		KernelID:      "4f2a",
	})
	require.NoError(t, err)
	b, err := mi.Marshal()
	require.NoError(t, err)
	return b
}

func TestRoundTrip(t *testing.T) {
	sig := make([]byte, SignatureSize)
	for i := range sig {
		sig[i] = byte(i + 1)
	}

	tests := []struct {
		name   string
		status Status
		flags  []Flag
		sig    []byte
	}{
		{name: "new unsigned", status: StatusNew},
		{name: "booted prefer", status: StatusBooted, flags: []Flag{FlagPreferBoot}},
		{name: "all flags signed", status: StatusTryBoot, flags: []Flag{FlagPreferBoot, FlagHashTree, FlagDataCompressed}, sig: sig},
		{name: "bad channel", status: StatusBadChannel, flags: []Flag{FlagHashTree}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := New(testMetaInfo(t))
			require.NoError(t, err)
			h.SetStatus(tt.status)
			for _, f := range tt.flags {
				h.SetFlag(f)
			}
			if tt.sig != nil {
				require.NoError(t, h.SetSignature(tt.sig))
			}

			block := h.Marshal()
			require.Len(t, block, BlockSize)

			parsed, err := Parse(block)
			require.NoError(t, err)
			assert.Equal(t, tt.status, parsed.Status())
			assert.Equal(t, h.Flags(), parsed.Flags())
			assert.Equal(t, h.MetaInfoBytes(), parsed.MetaInfoBytes())
			assert.Equal(t, tt.sig != nil, parsed.HasSignature())
			assert.True(t, h.Equal(parsed))
			assert.Equal(t, block, parsed.Marshal())
		})
	}
}

func TestParseErrors(t *testing.T) {
	h, err := New(testMetaInfo(t))
	require.NoError(t, err)
	good := h.Marshal()

	badMagic := append([]byte{}, good...)
	badMagic[0] = 'X'

	badLen := append([]byte{}, good...)
	badLen[6], badLen[7] = 0xff, 0xff

	tests := []struct {
		name string
		in   []byte
		want error
	}{
		{"short", good[:4], ErrMalformed},
		{"magic", badMagic, ErrInvalidMagic},
		{"length", badLen, ErrMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.in)
			require.ErrorIs(t, err, tt.want)
			require.True(t, errors.Is(err, errdefs.ErrFormat))
		})
	}
}

func TestFlagsIndependent(t *testing.T) {
	h, err := New(testMetaInfo(t))
	require.NoError(t, err)

	h.SetFlag(FlagHashTree)
	h.SetFlag(FlagPreferBoot)
	h.ClearFlag(FlagPreferBoot)
	h.SetStatus(StatusBooted)

	assert.True(t, h.HasFlag(FlagHashTree))
	assert.False(t, h.HasFlag(FlagPreferBoot))
	assert.False(t, h.HasFlag(FlagDataCompressed))
	assert.Equal(t, "HASH_TREE", h.Flags().String())
	assert.Equal(t, "BOOTED", h.Status().String())
}

func TestWriteToKeepsPayload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "image.img")

	payload := make([]byte, 3*BlockSize)
	for i := range payload {
		payload[i] = 0x5a
	}
	h, err := New(testMetaInfo(t))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, append(h.Marshal(), payload...), 0644))

	h.SetStatus(StatusFailed)
	h.SetFlag(FlagPreferBoot)
	require.NoError(t, h.WriteTo(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Len(t, data, BlockSize+len(payload))
	assert.Equal(t, payload, data[BlockSize:])

	got, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status())
	assert.True(t, got.HasFlag(FlagPreferBoot))
}

func TestReadFileShort(t *testing.T) {
	path := filepath.Join(t.TempDir(), "short.img")
	require.NoError(t, os.WriteFile(path, []byte("SGOS"), 0644))

	_, err := ReadFile(path)
	require.ErrorIs(t, err, ErrMalformed)
}

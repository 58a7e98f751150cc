package header

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMetaInfo(t *testing.T) {
	text := `image-type = "kernel"
channel = "dev"
version = 3
timestamp = "20230405"
nblocks = 1024
shasum = "deadbeef"
verity-salt = "aa"
verity-root = "bb"
kernel-version = "6.1.12"
kernel-id = "ff00"
`
	mi, err := ParseMetaInfo([]byte(text))
	require.NoError(t, err)

	assert.Equal(t, ImageTypeKernel, mi.ImageType())
	assert.Equal(t, "dev", mi.Channel())
	assert.Equal(t, uint32(3), mi.Version())
	assert.Equal(t, uint64(20230405), mi.TimestampValue())
	assert.Equal(t, int64(1024*BlockSize), mi.PayloadSize())
	assert.Equal(t, "bb", mi.VerityRoot())

	kv, ok := mi.KernelVersion()
	assert.True(t, ok)
	assert.Equal(t, "6.1.12", kv)

	_, ok = mi.RealmFSName()
	assert.False(t, ok)
}

func TestParseMetaInfoErrors(t *testing.T) {
	tests := map[string]string{
		"unknown type":  "image-type = \"bogus\"\nchannel = \"dev\"\nversion = 1\n",
		"missing type":  "channel = \"dev\"\nversion = 1\n",
		"missing chan":  "image-type = \"extra\"\nversion = 1\n",
		"not toml":      "image-type =",
		"invalid utf-8": "image-type = \"\xff\"",
	}
	for name, text := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseMetaInfo([]byte(text))
			require.ErrorIs(t, err, ErrInvalidMetaInfo)
		})
	}
}

func TestMetaInfoMarshalRoundTrip(t *testing.T) {
	mi, err := NewMetaInfo(MetaInfoParams{
		ImageType:   ImageTypeRealmFS,
		Channel:     "stable",
		Version:     1,
		Timestamp:   "1",
		NBlocks:     2,
		RealmFSName: "main",
	})
	require.NoError(t, err)

	b, err := mi.Marshal()
	require.NoError(t, err)
	assert.NotContains(t, string(b), "kernel-version")

	again, err := ParseMetaInfo(b)
	require.NoError(t, err)
	assert.Equal(t, mi, again)
}

func TestValidateChannel(t *testing.T) {
	for _, ok := range []string{"dev", "stable", "x"} {
		require.NoError(t, ValidateChannel(ok), ok)
	}
	for _, bad := range []string{"", "Dev", "../etc", "dev1", "a b"} {
		require.ErrorIs(t, ValidateChannel(bad), ErrInvalidChannel, bad)
	}
}

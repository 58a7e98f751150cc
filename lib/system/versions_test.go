package system

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKernelVersion(t *testing.T) {
	tests := []struct {
		in      string
		wantErr bool
	}{
		{"6.1.12", false},
		{"6.1", false},
		{"6", false},
		{"", true},
		{"6.1.2.3", true},
		{"six", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			kv, err := ParseKernelVersion(tt.in)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidKernelVersion)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.in, kv.String())
		})
	}
}

func TestSortKernelVersions(t *testing.T) {
	var vs []KernelVersion
	for _, s := range []string{"6.10.1", "6.1", "5.19.3", "6.2.0"} {
		kv, err := ParseKernelVersion(s)
		require.NoError(t, err)
		vs = append(vs, kv)
	}
	SortKernelVersions(vs)

	var got []string
	for _, v := range vs {
		got = append(got, v.String())
	}
	assert.Equal(t, []string{"5.19.3", "6.1", "6.2.0", "6.10.1"}, got)
}

func TestKernelVersionFromPath(t *testing.T) {
	kv, ok := KernelVersionFromPath("/boot/bzImage-6.1.12")
	require.True(t, ok)
	assert.Equal(t, "6.1.12", kv.String())

	_, ok = KernelVersionFromPath("/boot/vmlinuz-6.1.12")
	assert.False(t, ok)
	_, ok = KernelVersionFromPath("/boot/bzImage-old")
	assert.False(t, ok)
}

func TestReleaseVersion(t *testing.T) {
	assert.Equal(t, "6.1.12", ReleaseVersion("6.1.12-citadel"))
	assert.Equal(t, "6.1.12", ReleaseVersion("6.1.12"))
}

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	for _, k := range []string{"SOCKET_PATH", "ROOTFS_PARTITIONS", "OTEL_INSECURE", "JWT_SECRET"} {
		t.Setenv(k, "")
	}

	cfg := Load()
	assert.Equal(t, "/run/citadel/installd.sock", cfg.SocketPath)
	assert.Equal(t, "/", cfg.RootDir)
	assert.Nil(t, cfg.RootfsPartitions)
	assert.True(t, cfg.OtelInsecure)
	assert.Empty(t, cfg.JwtSecret)
}

func TestLoadFromEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("ROOTFS_PARTITIONS", " /dev/vda2, /dev/vda3 ,")
	t.Setenv("OTEL_INSECURE", "false")
	t.Setenv("STORAGE_DIR", "sysroot/storage")

	cfg := Load()
	assert.Equal(t, []string{"/dev/vda2", "/dev/vda3"}, cfg.RootfsPartitions)
	assert.False(t, cfg.OtelInsecure)
	assert.Equal(t, "sysroot/storage", cfg.StorageDir)
}

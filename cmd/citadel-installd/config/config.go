package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	SocketPath       string
	RootDir          string
	StorageDir       string
	SysrootDir       string
	BootDir          string
	RootfsPartitions []string
	StorageDevice    string
	LogLevel         string
	OtelEndpoint     string
	OtelServiceName  string
	OtelInsecure     bool
	JwtSecret        string
}

// Load loads configuration from environment variables
// Automatically loads .env file if present
func Load() *Config {
	// Try to load .env file (fail silently if not present)
	_ = godotenv.Load()

	return &Config{
		SocketPath:       getEnv("SOCKET_PATH", "/run/citadel/installd.sock"),
		RootDir:          getEnv("ROOT_DIR", "/"),
		StorageDir:       getEnv("STORAGE_DIR", "storage"),
		SysrootDir:       getEnv("SYSROOT_DIR", "sysroot"),
		BootDir:          getEnv("BOOT_DIR", "boot"),
		RootfsPartitions: getList("ROOTFS_PARTITIONS"),
		StorageDevice:    getEnv("STORAGE_DEVICE", ""),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		OtelEndpoint:     getEnv("OTEL_ENDPOINT", ""),
		OtelServiceName:  getEnv("OTEL_SERVICE_NAME", "citadel-installd"),
		OtelInsecure:     getBool("OTEL_INSECURE", true),
		JwtSecret:        getEnv("JWT_SECRET", ""),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getList splits a comma separated value; unset gives nil.
func getList(key string) []string {
	var out []string
	for _, s := range strings.Split(os.Getenv(key), ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func getBool(key string, defaultValue bool) bool {
	b, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return b
}

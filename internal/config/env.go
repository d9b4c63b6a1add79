package config

import (
	"os"
	"strconv"
	"time"
)

// GetEnv returns an environment variable or a default value.
func GetEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

// GetEnvUint64 returns an environment variable as uint64 or a default value.
func GetEnvUint64(key string, defaultValue uint64) uint64 {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.ParseUint(v, 0, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

// GetEnvDuration returns an environment variable as duration or a default value.
func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

package config

import (
	"fmt"
	"os"
	"time"
)

// getEnv gets environment variable with default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets integer environment variable with default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var intValue int
		if _, err := fmt.Sscanf(value, "%d", &intValue); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvInt64 gets int64 environment variable with default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		var intValue int64
		if _, err := fmt.Sscanf(value, "%d", &intValue); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvBool gets boolean environment variable with default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

// getEnvDuration gets a duration ("100ms", "3s") with default. A bare
// integer is read as milliseconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	var ms int64
	if _, err := fmt.Sscanf(value, "%d", &ms); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultValue
}

// Env returns the environment variable key, or defaultValue when unset
func Env(key, defaultValue string) string {
	return getEnv(key, defaultValue)
}

// EnvBool returns the boolean environment variable key, or defaultValue when unset
func EnvBool(key string, defaultValue bool) bool {
	return getEnvBool(key, defaultValue)
}

// Package concurrency resolves the worker count for local runs, respecting
// container CPU quotas and environment overrides.
package concurrency

import (
	"fmt"
	"log"
	"os"
	"runtime"
	"strconv"

	"go.uber.org/automaxprocs/maxprocs"
)

// Source indicates where the worker count came from
type Source string

const (
	SourceEnvVar     Source = "environment_variable"
	SourceAutoDetect Source = "auto_detect"
)

// Config holds the resolved worker configuration
type Config struct {
	Workers       int
	Source        Source
	IsKubernetes  bool
	EffectiveCPUs int
}

// InitializeForKubernetes sets GOMAXPROCS to match the container CPU quota.
// This should be called at the very start of main() before any other
// initialization. Returns an undo function restoring the original value.
func InitializeForKubernetes() func() {
	undo, err := maxprocs.Set(maxprocs.Logger(log.Printf))
	if err != nil {
		log.Printf("Failed to set maxprocs: %v", err)
		return func() {}
	}
	return undo
}

// LoadConfig resolves the worker count with priority: env var > CPU count.
func LoadConfig() *Config {
	config := &Config{
		IsKubernetes:  os.Getenv("KUBERNETES_SERVICE_HOST") != "",
		EffectiveCPUs: runtime.GOMAXPROCS(0),
	}

	if workers := getEnvInt("STRATA_WORKERS", 0); workers > 0 {
		config.Workers = workers
		config.Source = SourceEnvVar
	} else {
		config.Workers = config.EffectiveCPUs
		config.Source = SourceAutoDetect
	}

	if config.Workers < 1 {
		config.Workers = 1
	}
	return config
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// String returns a formatted string representation of the config
func (c *Config) String() string {
	return fmt.Sprintf("Config{Workers: %d, IsK8s: %t, CPUs: %d, Source: %s}",
		c.Workers, c.IsKubernetes, c.EffectiveCPUs, c.Source)
}

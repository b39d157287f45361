package concurrency

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadConfigAutoDetect(t *testing.T) {
	t.Setenv("STRATA_WORKERS", "")

	cfg := LoadConfig()
	assert.Equal(t, SourceAutoDetect, cfg.Source)
	assert.Equal(t, runtime.GOMAXPROCS(0), cfg.Workers)
	assert.GreaterOrEqual(t, cfg.Workers, 1)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("STRATA_WORKERS", "7")

	cfg := LoadConfig()
	assert.Equal(t, SourceEnvVar, cfg.Source)
	assert.Equal(t, 7, cfg.Workers)
}

func TestLoadConfigIgnoresGarbage(t *testing.T) {
	t.Setenv("STRATA_WORKERS", "not-a-number")

	cfg := LoadConfig()
	assert.Equal(t, SourceAutoDetect, cfg.Source)
}

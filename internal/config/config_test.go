package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Generation.MaxAttempts)
	assert.Equal(t, 30*time.Minute, cfg.SessionLog.IdleFlush)
	assert.Equal(t, int64(50*1024*1024), cfg.SessionLog.MaxBytes)
	assert.Equal(t, RotationArchive, cfg.SessionLog.Rotation)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("GENERATION_MAX_ATTEMPTS", "3")
	t.Setenv("GENERATION_RETRY_BACKOFF", "250ms")
	t.Setenv("SESSION_LOG_IDLE_FLUSH", "120")
	t.Setenv("SESSION_LOG_ROTATION", "DELETE")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Generation.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Generation.RetryBackoff)
	assert.Equal(t, 2*time.Minute, cfg.SessionLog.IdleFlush)
	assert.Equal(t, RotationDelete, cfg.SessionLog.Rotation)
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Setenv("SESSION_LOG_ROTATION", "gzip")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SESSION_LOG_ROTATION")
}

func TestLoadRejectsZeroAttempts(t *testing.T) {
	t.Setenv("GENERATION_MAX_ATTEMPTS", "0")

	_, err := Load()
	require.Error(t, err)
}

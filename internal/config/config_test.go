package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadRequiresCredentials(t *testing.T) {
	t.Setenv("DROPBOX_CONSUMER_KEY", "")
	t.Setenv("DROPBOX_CONSUMER_SECRET", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DROPBOX_CONSUMER_KEY")

	t.Setenv("DROPBOX_CONSUMER_KEY", "key")
	_, err = Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DROPBOX_CONSUMER_SECRET")
}

func TestLoadDefaultsAndOverrides(t *testing.T) {
	t.Setenv("DROPBOX_CONSUMER_KEY", "key")
	t.Setenv("DROPBOX_CONSUMER_SECRET", "secret")
	t.Setenv("DROPBOX_SSL", "")
	t.Setenv("DROPBOX_MODE", "")
	t.Setenv("DROPBOX_TIMEOUT", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.SSL)
	assert.Equal(t, "sandbox", cfg.Mode)
	assert.Equal(t, 60*time.Second, cfg.Timeout)
	assert.NotEmpty(t, cfg.SessionFile)

	t.Setenv("DROPBOX_SSL", "false")
	t.Setenv("DROPBOX_MODE", "dropbox")
	t.Setenv("DROPBOX_TIMEOUT", "5s")
	t.Setenv("DROPBOX_MEMO_SIZE", "not-a-number")

	cfg, err = Load()
	require.NoError(t, err)
	assert.False(t, cfg.SSL)
	assert.Equal(t, "dropbox", cfg.Mode)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
	assert.Equal(t, 256, cfg.MemoSize)
}

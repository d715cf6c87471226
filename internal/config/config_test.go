package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCreatesDefaultsOnFirstRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "etc", "config.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	st, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), st.Mode().Perm())

	again, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, again)
}

func TestLoadNormalizesPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
setup_url: https://example.test/setup/
restart_mode: sometimes
button:
  long_press: 1500ms
panel:
  mirror_x: false
audio:
  variant: boards
`)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://example.test/setup/", cfg.SetupURL)
	assert.Equal(t, "reboot", cfg.RestartMode)
	assert.Equal(t, 1500*time.Millisecond, cfg.Button.LongPress)
	assert.Equal(t, 100*time.Millisecond, cfg.Button.Poll)
	assert.Equal(t, "boards", cfg.Audio.Variant)
	assert.False(t, cfg.Panel.MirrorX)
	assert.Equal(t, 240, cfg.Panel.Width)
	assert.Equal(t, time.Second, cfg.Render.IdleTick)
	assert.Equal(t, "@every 30s", cfg.Heartbeat)
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("button: [\n"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := DefaultConfig()
	cfg.Audio.Variant = "boards"
	cfg.Panel.OffsetY = 80

	require.NoError(t, cfg.Save(path))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}

func TestLoadEmptyPath(t *testing.T) {
	_, err := Load("")
	assert.Error(t, err)
}

func TestLoadProvisionSection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
provision:
  http_listen: 127.0.0.1:8080
  basic_auth:
    username: admin
    password: hunter2
`)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8080", cfg.Provision.HTTPListen)
	require.NotNil(t, cfg.Provision.BasicAuth)
	assert.Equal(t, "admin", cfg.Provision.BasicAuth.Username)
	assert.Equal(t, "hunter2", cfg.Provision.BasicAuth.Password)

	assert.Empty(t, DefaultConfig().Provision.HTTPListen)
}

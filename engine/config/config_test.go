package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"

	"github.com/emberengine/ember/engine/renderer/gpu"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ember.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
[app]
name = "demo"
width = 1280
height = 720

[renderer]
frames_in_flight = 3
log_level = "debug"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "demo", cfg.App.Name)
	require.Equal(t, int32(1280), cfg.App.Width)
	require.Equal(t, 3, cfg.Renderer.FramesInFlight)
	require.Equal(t, "debug", cfg.Renderer.LogLevel)
	// Untouched keys keep their defaults.
	require.Equal(t, "shaders", cfg.Renderer.ShaderDir)
}

func TestLoadRejectsZeroFramesInFlight(t *testing.T) {
	path := writeConfig(t, `
[renderer]
frames_in_flight = 0
`)

	_, err := Load(path)
	require.True(t, errors.Is(err, gpu.ErrInvalidArgument))
}

func TestLoadRejectsMalformedTOML(t *testing.T) {
	path := writeConfig(t, "[app\nname=")

	_, err := Load(path)
	require.Error(t, err)
}

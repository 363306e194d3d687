// Package config loads the engine's TOML configuration file.
package config

import (
	"os"

	"github.com/cockroachdb/errors"
	"github.com/pelletier/go-toml/v2"

	"github.com/emberengine/ember/engine/renderer/gpu"
)

type AppConfig struct {
	Name   string `toml:"name"`
	Width  int32  `toml:"width"`
	Height int32  `toml:"height"`
}

type RendererConfig struct {
	FramesInFlight int        `toml:"frames_in_flight"`
	ClearColor     [4]float32 `toml:"clear_color"`
	LogLevel       string     `toml:"log_level"`
	ShaderDir      string     `toml:"shader_dir"`
}

type Config struct {
	App      AppConfig      `toml:"app"`
	Renderer RendererConfig `toml:"renderer"`
}

func Default() *Config {
	return &Config{
		App: AppConfig{
			Name:   "Ember",
			Width:  800,
			Height: 600,
		},
		Renderer: RendererConfig{
			FramesInFlight: 2,
			ClearColor:     [4]float32{0.0, 0.0, 0.2, 1.0},
			LogLevel:       "info",
			ShaderDir:      "shaders",
		},
	}
}

// Load reads the file at path over the defaults. A missing file is not an
// error: the defaults are returned as-is.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, errors.Wrapf(err, "reading config %s", path)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "parsing config %s", path)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.App.Width < 1 || c.App.Height < 1 {
		return errors.Wrapf(gpu.ErrInvalidArgument, "window size %dx%d", c.App.Width, c.App.Height)
	}
	if c.Renderer.FramesInFlight < 1 {
		return errors.Wrapf(gpu.ErrInvalidArgument, "frames_in_flight must be at least 1, got %d", c.Renderer.FramesInFlight)
	}
	return nil
}

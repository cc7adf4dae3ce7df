// Package config provides the configuration structure for voice-studio.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
	"github.com/pelletier/go-toml/v2"
)

// Default values applied to unset fields.
const (
	DefaultAddress                = ":7860"
	DefaultShutdownTimeoutSeconds = 10
	DefaultLogsDir                = "logs"
	DefaultModelPath              = "model.onnx"
	DefaultConfigPath             = "config.json"
	DefaultOutputDir              = "."
	DefaultAssetsDir              = "assets"
	DefaultBackend                = "piper"
	DefaultPiperBinary            = "piper"
	DefaultServiceURL             = "http://localhost:5002"
	DefaultFFmpegPath             = "ffmpeg"
	DefaultFormat                 = "wav"
	DefaultTitle                  = "VITS Voice Studio"
	DefaultLengthScale            = 1.0
	DefaultNoiseScale             = 0.5
	DefaultNoiseScaleDP           = 0.3
	DefaultSynthesizeSubject      = "voice.synthesize"
	DefaultAudioBucket            = "VOICE_AUDIO"
)

// Supported engine backends.
const (
	BackendPiper = "piper"
	BackendHTTP  = "http"
)

// ErrUnknownBackend is returned by Validate for backends other than piper and http.
var ErrUnknownBackend = errors.New("unknown engine backend")

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Address                string `toml:"address"`
	ShutdownTimeoutSeconds int    `toml:"shutdown_timeout_seconds"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
	ModelPath   string `toml:"model_path"`
	ConfigPath  string `toml:"config_path"`
	OutputDir   string `toml:"output_dir"`
	AssetsDir   string `toml:"assets_dir"`
}

// EngineConfig selects and configures the synthesis backend.
type EngineConfig struct {
	Backend        string `toml:"backend"`
	PiperBinary    string `toml:"piper_binary"`
	ServiceURL     string `toml:"service_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	FFmpegPath     string `toml:"ffmpeg_path"`
}

// OutputConfig controls how audio artifacts are named.
type OutputConfig struct {
	Scoped        bool   `toml:"scoped"`
	DefaultFormat string `toml:"default_format"`
}

// ExampleConfig is one reference recording shown below the form.
type ExampleConfig struct {
	File    string `toml:"file"`
	Caption string `toml:"caption"`
}

// UIConfig holds the page text and the initial slider positions.
type UIConfig struct {
	Title        string          `toml:"title"`
	Description  string          `toml:"description"`
	Image        string          `toml:"image"`
	LengthScale  float64         `toml:"length_scale"`
	NoiseScale   float64         `toml:"inference_noise_scale"`
	NoiseScaleDP float64         `toml:"inference_noise_scale_dp"`
	Examples     []ExampleConfig `toml:"examples"`
}

// NATSConfig holds the configuration for NATS. An empty URL disables it.
type NATSConfig struct {
	URL                    string `toml:"url"`
	SynthesizeSubject      string `toml:"synthesize_subject"`
	AudioObjectStoreBucket string `toml:"audio_object_store_bucket"`
}

// Config is the root configuration structure.
type Config struct {
	Server ServerConfig `toml:"server"`
	Paths  PathsConfig  `toml:"paths"`
	Engine EngineConfig `toml:"engine"`
	Output OutputConfig `toml:"output"`
	UI     UIConfig     `toml:"ui"`
	NATS   NATSConfig   `toml:"nats"`
}

// Load loads the project configuration through the central configurator.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	cfg.ApplyDefaults()

	return &cfg, nil
}

// LoadFile reads a TOML configuration file directly.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %s: %w", path, err)
	}

	var cfg Config

	err = toml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %s: %w", path, err)
	}

	cfg.ApplyDefaults()

	return &cfg, nil
}

// ApplyDefaults fills every unset field. Slider defaults are applied only when
// all three are zero, so an explicit 0 for one of them is kept.
func (c *Config) ApplyDefaults() {
	setString(&c.Server.Address, DefaultAddress)
	setInt(&c.Server.ShutdownTimeoutSeconds, DefaultShutdownTimeoutSeconds)

	setString(&c.Paths.BaseLogsDir, DefaultLogsDir)
	setString(&c.Paths.ModelPath, DefaultModelPath)
	setString(&c.Paths.ConfigPath, DefaultConfigPath)
	setString(&c.Paths.OutputDir, DefaultOutputDir)
	setString(&c.Paths.AssetsDir, DefaultAssetsDir)

	setString(&c.Engine.Backend, DefaultBackend)
	setString(&c.Engine.PiperBinary, DefaultPiperBinary)
	setString(&c.Engine.ServiceURL, DefaultServiceURL)
	setString(&c.Engine.FFmpegPath, DefaultFFmpegPath)

	setString(&c.Output.DefaultFormat, DefaultFormat)

	setString(&c.UI.Title, DefaultTitle)

	if c.UI.LengthScale == 0 && c.UI.NoiseScale == 0 && c.UI.NoiseScaleDP == 0 {
		c.UI.LengthScale = DefaultLengthScale
		c.UI.NoiseScale = DefaultNoiseScale
		c.UI.NoiseScaleDP = DefaultNoiseScaleDP
	}

	setString(&c.NATS.SynthesizeSubject, DefaultSynthesizeSubject)
	setString(&c.NATS.AudioObjectStoreBucket, DefaultAudioBucket)
}

// Validate reports configuration values that cannot be served.
func (c *Config) Validate() error {
	switch c.Engine.Backend {
	case BackendPiper, BackendHTTP:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownBackend, c.Engine.Backend)
	}
}

// EngineTimeout returns the per-call synthesis limit. Zero, the default, means
// engine calls are not bounded.
func (c *Config) EngineTimeout() time.Duration {
	return time.Duration(c.Engine.TimeoutSeconds) * time.Second
}

// ShutdownTimeout returns the graceful shutdown window of the HTTP server.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}

// NATSEnabled reports whether a NATS URL is configured.
func (c *Config) NATSEnabled() bool {
	return c.NATS.URL != ""
}

func setString(field *string, value string) {
	if *field == "" {
		*field = value
	}
}

func setInt(field *int, value int) {
	if *field == 0 {
		*field = value
	}
}

// Package app wires configuration into the synthesis service and its front ends.
package app

import (
	"context"

	"github.com/book-expert/logger"

	"github.com/book-expert/voice-studio/internal/config"
	"github.com/book-expert/voice-studio/internal/core"
	"github.com/book-expert/voice-studio/internal/synthesis"
	"github.com/book-expert/voice-studio/internal/tts"
	"github.com/book-expert/voice-studio/internal/tts/audio"
	"github.com/book-expert/voice-studio/internal/tts/text"
	"github.com/book-expert/voice-studio/internal/tts/ttsutils"
	"github.com/book-expert/voice-studio/internal/ui"
)

// NewBackend returns the engine backend selected by cfg.Engine.Backend.
func NewBackend(cfg *config.Config) (core.EngineBackend, error) {
	validateErr := cfg.Validate()
	if validateErr != nil {
		return nil, validateErr
	}

	if cfg.Engine.Backend == config.BackendHTTP {
		return tts.NewHTTPBackend(cfg.Engine.ServiceURL, cfg.EngineTimeout()), nil
	}

	return tts.NewPiperBackend(cfg.Engine.PiperBinary), nil
}

// ResolveModelPath locates the configured weights file. When it cannot be found
// the configured path is kept, and each request fails at model load.
func ResolveModelPath(cfg *config.Config, log *logger.Logger) string {
	resolved, err := ttsutils.ResolveModelPath(cfg.Paths.ModelPath)
	if err != nil {
		log.Warn("Model weights %s not found yet: %v", cfg.Paths.ModelPath, err)

		return cfg.Paths.ModelPath
	}

	return resolved
}

// NewService builds the synthesis service described by cfg on top of backend.
// store may be nil.
func NewService(
	cfg *config.Config,
	backend core.EngineBackend,
	store core.ObjectStore,
	log *logger.Logger,
) (*synthesis.Service, error) {
	dirErr := ttsutils.EnsureDir(cfg.Paths.OutputDir)
	if dirErr != nil {
		return nil, dirErr
	}

	opts := synthesis.Options{
		ModelPath:     ResolveModelPath(cfg, log),
		ConfigPath:    cfg.Paths.ConfigPath,
		OutputDir:     cfg.Paths.OutputDir,
		ScopedOutput:  cfg.Output.Scoped,
		EngineTimeout: cfg.EngineTimeout(),
	}

	return synthesis.New(
		opts,
		tts.NewModelLoader(backend, log),
		text.NewNormalizer(),
		audio.NewWriter(cfg.Engine.FFmpegPath),
		store,
		log,
	), nil
}

// CheckEngine probes the HTTP backend's health endpoint. Other backends have
// nothing to probe.
func CheckEngine(ctx context.Context, backend core.EngineBackend) error {
	httpBackend, ok := backend.(*tts.HTTPBackend)
	if !ok {
		return nil
	}

	probeCtx, cancel := context.WithTimeout(ctx, tts.HealthCheckTimeout)
	defer cancel()

	return httpBackend.Client().HealthCheck(probeCtx)
}

// UIOptions maps the [ui] and [paths] sections onto the page options.
func UIOptions(cfg *config.Config) ui.Options {
	examples := make([]ui.Example, 0, len(cfg.UI.Examples))
	for _, example := range cfg.UI.Examples {
		examples = append(examples, ui.Example{File: example.File, Caption: example.Caption})
	}

	format, formatErr := audio.ParseFormat(cfg.Output.DefaultFormat)
	if formatErr != nil {
		format = audio.FORMAT_WAV
	}

	return ui.Options{
		Title:       cfg.UI.Title,
		Description: cfg.UI.Description,
		Image:       cfg.UI.Image,
		Examples:    examples,
		Defaults: core.Params{
			LengthScale:  cfg.UI.LengthScale,
			NoiseScale:   cfg.UI.NoiseScale,
			NoiseScaleDP: cfg.UI.NoiseScaleDP,
		},
		DefaultFormat: format,
		OutputDir:     cfg.Paths.OutputDir,
		AssetsDir:     cfg.Paths.AssetsDir,
	}
}

// LoadConfig reads path when given, otherwise asks the central configurator.
func LoadConfig(path string, log *logger.Logger) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}

	return config.Load(log)
}

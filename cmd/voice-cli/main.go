// main package for the voice-cli single-shot synthesizer
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/book-expert/logger"

	"github.com/book-expert/voice-studio/internal/app"
	"github.com/book-expert/voice-studio/internal/config"
	"github.com/book-expert/voice-studio/internal/core"
	"github.com/book-expert/voice-studio/internal/synthesis"
)

// Flag names.
const (
	flagText         = "text"
	flagConfig       = "config"
	flagLengthScale  = "length-scale"
	flagNoiseScale   = "noise-scale"
	flagNoiseScaleDP = "noise-scale-dp"
	flagFormat       = "format"
	flagNormalize    = "normalize"
	flagHealth       = "health"
)

// Flag descriptions.
const (
	flagTextDesc         = "Text to convert to speech"
	flagConfigDesc       = "Path to project.toml (defaults to the configurator's lookup)"
	flagLengthScaleDesc  = "Length scale; negative uses the configured default"
	flagNoiseScaleDesc   = "Inference noise scale; negative uses the configured default"
	flagNoiseScaleDPDesc = "Duration predictor noise scale; negative uses the configured default"
	flagFormatDesc       = "Output format (wav or mp3); empty uses the configured default"
	flagNormalizeDesc    = "Normalize the text before synthesis"
	flagHealthDesc       = "Check the engine and exit"
)

const (
	logFileName    = "voice-cli.log"
	unsetParam     = -1.0
	msgHealthy     = "Engine is healthy"
	msgGenerated   = "Generated: %s (%d bytes, %d Hz)\n"
	exitCodeFailed = 1
)

// ErrTextRequired is returned when neither -text nor -health is given.
var ErrTextRequired = errors.New("--text must be provided")

// appFlags holds the parsed command-line flag values.
type appFlags struct {
	text         string
	config       string
	lengthScale  float64
	noiseScale   float64
	noiseScaleDP float64
	format       string
	normalize    bool
	health       bool
}

func main() {
	flags, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCodeFailed)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = run(ctx, flags, os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(exitCodeFailed)
	}
}

// parseFlags parses args and validates the combination.
func parseFlags(args []string) (appFlags, error) {
	var flags appFlags

	flagSet := flag.NewFlagSet("voice-cli", flag.ContinueOnError)
	flagSet.StringVar(&flags.text, flagText, "", flagTextDesc)
	flagSet.StringVar(&flags.config, flagConfig, "", flagConfigDesc)
	flagSet.Float64Var(&flags.lengthScale, flagLengthScale, unsetParam, flagLengthScaleDesc)
	flagSet.Float64Var(&flags.noiseScale, flagNoiseScale, unsetParam, flagNoiseScaleDesc)
	flagSet.Float64Var(&flags.noiseScaleDP, flagNoiseScaleDP, unsetParam, flagNoiseScaleDPDesc)
	flagSet.StringVar(&flags.format, flagFormat, "", flagFormatDesc)
	flagSet.BoolVar(&flags.normalize, flagNormalize, false, flagNormalizeDesc)
	flagSet.BoolVar(&flags.health, flagHealth, false, flagHealthDesc)

	err := flagSet.Parse(args)
	if err != nil {
		return flags, err
	}

	return flags, validateArguments(flags)
}

func validateArguments(flags appFlags) error {
	if flags.health || flags.text != "" {
		return nil
	}

	return ErrTextRequired
}

// buildRequest fills unset flags from the [ui] and [output] configuration.
func buildRequest(flags appFlags, cfg *config.Config) synthesis.Request {
	params := core.Params{
		LengthScale:  cfg.UI.LengthScale,
		NoiseScale:   cfg.UI.NoiseScale,
		NoiseScaleDP: cfg.UI.NoiseScaleDP,
	}

	if flags.lengthScale >= 0 {
		params.LengthScale = flags.lengthScale
	}

	if flags.noiseScale >= 0 {
		params.NoiseScale = flags.noiseScale
	}

	if flags.noiseScaleDP >= 0 {
		params.NoiseScaleDP = flags.noiseScaleDP
	}

	format := flags.format
	if format == "" {
		format = cfg.Output.DefaultFormat
	}

	return synthesis.Request{
		Text:      flags.text,
		Params:    params,
		Format:    format,
		Normalize: flags.normalize,
	}
}

func run(ctx context.Context, flags appFlags, out io.Writer) error {
	bootstrapLog, err := logger.New(os.TempDir(), logFileName)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	cfg, err := app.LoadConfig(flags.config, bootstrapLog)

	_ = bootstrapLog.Close()

	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := logger.New(cfg.Paths.BaseLogsDir, logFileName)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Close()

	backend, err := app.NewBackend(cfg)
	if err != nil {
		return err
	}

	if flags.health {
		healthErr := app.CheckEngine(ctx, backend)
		if healthErr != nil {
			return fmt.Errorf("engine is not healthy: %w", healthErr)
		}

		_, _ = fmt.Fprintln(out, msgHealthy)

		return nil
	}

	service, err := app.NewService(cfg, backend, nil, log)
	if err != nil {
		return err
	}

	result, err := service.Synthesize(ctx, buildRequest(flags, cfg))
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintf(out, msgGenerated, result.Path, result.Bytes, result.SampleRate)

	return nil
}

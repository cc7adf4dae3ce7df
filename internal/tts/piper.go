package tts

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/go-audio/audio"

	"github.com/book-expert/voice-studio/internal/core"
	"github.com/book-expert/voice-studio/internal/modelconfig"
)

// BackendPiper names the Piper command-line backend.
const BackendPiper = "piper"

const (
	pcmBitDepth       = 16
	pcmBytesPerSample = 2
	pcmChannels       = 1
)

// Static errors.
var (
	ErrModelFileMissing = errors.New("model weights file not found")
	ErrBinaryNotFound   = errors.New("synthesis binary not found")
	ErrEmptyAudio       = errors.New("engine produced no audio")
)

// PiperBackend opens engines that shell out to a Piper-compatible binary.
type PiperBackend struct {
	binaryPath string
}

// NewPiperBackend creates a backend that runs binaryPath for every synthesis.
func NewPiperBackend(binaryPath string) *PiperBackend {
	return &PiperBackend{binaryPath: binaryPath}
}

// Name returns the backend identifier.
func (b *PiperBackend) Name() string { return BackendPiper }

// Open checks the weights and binary and snapshots the inference controls and
// sample rate from configPath. Later edits to configPath do not affect the
// returned engine.
func (b *PiperBackend) Open(modelPath, configPath string) (core.SynthesisEngine, error) {
	statErr := checkModelFile(modelPath)
	if statErr != nil {
		return nil, statErr
	}

	binary, lookErr := exec.LookPath(b.binaryPath)
	if lookErr != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrBinaryNotFound, b.binaryPath, lookErr)
	}

	params, paramsErr := modelconfig.ReadParams(configPath)
	if paramsErr != nil {
		return nil, paramsErr
	}

	sampleRate, rateErr := modelconfig.SampleRate(configPath)
	if rateErr != nil {
		return nil, rateErr
	}

	return &PiperEngine{
		binaryPath: binary,
		modelPath:  modelPath,
		configPath: configPath,
		params:     params,
		sampleRate: sampleRate,
	}, nil
}

// PiperEngine synthesizes by piping text into the Piper binary and reading raw
// 16-bit little-endian mono PCM from its stdout.
type PiperEngine struct {
	binaryPath string
	modelPath  string
	configPath string
	params     core.Params
	sampleRate int
}

// Params returns the inference controls captured when the engine was opened.
func (e *PiperEngine) Params() core.Params {
	return e.params
}

// Synthesize runs the binary once for text.
func (e *PiperEngine) Synthesize(ctx context.Context, text string) (*audio.IntBuffer, error) {
	args := []string{
		"--model", e.modelPath,
		"--config", e.configPath,
		"--output_raw",
		"--length_scale", formatParam(e.params.LengthScale),
		"--noise_scale", formatParam(e.params.NoiseScale),
		"--noise_w", formatParam(e.params.NoiseScaleDP),
	}

	// #nosec G204 -- binary and paths come from service configuration
	cmd := exec.CommandContext(ctx, e.binaryPath, args...)
	cmd.Stdin = strings.NewReader(text)

	var stdout, stderr bytes.Buffer

	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if runErr != nil {
		return nil, fmt.Errorf("piper binary execution failed: %w - output: %s", runErr, stderr.String())
	}

	if stdout.Len() < pcmBytesPerSample {
		return nil, ErrEmptyAudio
	}

	return decodePCM16(stdout.Bytes(), e.sampleRate), nil
}

// decodePCM16 converts little-endian signed 16-bit mono PCM into an IntBuffer.
// A trailing odd byte is dropped.
func decodePCM16(pcm []byte, sampleRate int) *audio.IntBuffer {
	samples := make([]int, len(pcm)/pcmBytesPerSample)

	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*pcmBytesPerSample:])))
	}

	return &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: pcmChannels, SampleRate: sampleRate},
		Data:           samples,
		SourceBitDepth: pcmBitDepth,
	}
}

func formatParam(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}

func checkModelFile(modelPath string) error {
	info, err := os.Stat(modelPath)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrModelFileMissing, modelPath, err)
	}

	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrModelFileMissing, modelPath)
	}

	return nil
}

package tts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/book-expert/voice-studio/internal/core"
	"github.com/book-expert/voice-studio/internal/modelconfig"
)

// BackendHTTP names the HTTP service backend.
const BackendHTTP = "http"

// HealthCheckTimeout bounds health probes against the TTS service.
const HealthCheckTimeout = 10 * time.Second

// ErrInvalidWAV is returned when the service answers with bytes that are not a
// decodable WAV file.
var ErrInvalidWAV = errors.New("service returned an invalid wav file")

// HTTPBackend opens engines that delegate synthesis to a TTS HTTP service.
type HTTPBackend struct {
	client *HTTPClient
}

// NewHTTPBackend creates a backend for the service at serviceURL.
func NewHTTPBackend(serviceURL string, timeout time.Duration) *HTTPBackend {
	return NewHTTPBackendWithClient(NewHTTPClient(serviceURL, timeout))
}

// NewHTTPBackendWithClient creates a backend around an existing client.
func NewHTTPBackendWithClient(client *HTTPClient) *HTTPBackend {
	return &HTTPBackend{client: client}
}

// Name returns the backend identifier.
func (b *HTTPBackend) Name() string { return BackendHTTP }

// Client exposes the underlying HTTP client, e.g. for health checks.
func (b *HTTPBackend) Client() *HTTPClient { return b.client }

// Open checks the weights file and snapshots the inference controls from
// configPath.
func (b *HTTPBackend) Open(modelPath, configPath string) (core.SynthesisEngine, error) {
	statErr := checkModelFile(modelPath)
	if statErr != nil {
		return nil, statErr
	}

	params, paramsErr := modelconfig.ReadParams(configPath)
	if paramsErr != nil {
		return nil, paramsErr
	}

	return &HTTPEngine{
		client:    b.client,
		modelPath: modelPath,
		params:    params,
	}, nil
}

// HTTPEngine sends one generation request per synthesis.
type HTTPEngine struct {
	client    *HTTPClient
	modelPath string
	params    core.Params
}

// Params returns the inference controls captured when the engine was opened.
func (e *HTTPEngine) Params() core.Params {
	return e.params
}

// Synthesize requests speech for text and decodes the returned WAV.
func (e *HTTPEngine) Synthesize(ctx context.Context, text string) (*audio.IntBuffer, error) {
	req := SpeechRequest{
		Text:         text,
		ModelPath:    e.modelPath,
		Language:     defaultLanguage,
		LengthScale:  e.params.LengthScale,
		NoiseScale:   e.params.NoiseScale,
		NoiseScaleDP: e.params.NoiseScaleDP,
	}

	audioData, speechErr := e.client.GenerateSpeech(ctx, req)
	if speechErr != nil {
		return nil, fmt.Errorf("failed to generate speech: %w", speechErr)
	}

	return decodeWAV(audioData)
}

func decodeWAV(data []byte) (*audio.IntBuffer, error) {
	decoder := wav.NewDecoder(bytes.NewReader(data))
	if !decoder.IsValidFile() {
		return nil, ErrInvalidWAV
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidWAV, err)
	}

	buf.Format = &audio.Format{
		NumChannels: int(decoder.NumChans),
		SampleRate:  int(decoder.SampleRate),
	}
	buf.SourceBitDepth = int(decoder.BitDepth)

	return buf, nil
}

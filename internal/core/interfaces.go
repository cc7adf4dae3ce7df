// Package core defines the core business types and interfaces for the voice studio.
package core

import (
	"context"

	"github.com/go-audio/audio"
)

// ObjectStore defines the interface for interacting with a key-value blob store.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte) error
}

// Params holds the three inference controls patched into the model configuration
// before every synthesis. Values are passed through unvalidated.
type Params struct {
	LengthScale  float64 `json:"length_scale"`
	NoiseScale   float64 `json:"inference_noise_scale"`
	NoiseScaleDP float64 `json:"inference_noise_scale_dp"`
}

// SynthesisEngine converts text into PCM samples. An engine is bound to the model
// configuration that was current when it was opened.
type SynthesisEngine interface {
	Synthesize(ctx context.Context, text string) (*audio.IntBuffer, error)
}

// EngineBackend opens synthesis engines for a weights file and a configuration file.
type EngineBackend interface {
	Name() string
	Open(modelPath, configPath string) (SynthesisEngine, error)
}

// TextNormalizer prepares raw user text for synthesis.
type TextNormalizer interface {
	Normalize(text string) string
}

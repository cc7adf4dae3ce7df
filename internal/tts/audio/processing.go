// Package audio writes synthesized PCM to playable files.
//
// Every artifact is labelled with the service sample rate (22050 Hz) regardless
// of what the engine reported; samples are not resampled. WAV files are encoded
// in-process, MP3 files are transcoded from a WAV intermediate with ffmpeg.
package audio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Constants for output audio settings.
const (
	OUTPUT_SAMPLE_RATE = 22050 // Rate every artifact is labelled with.
	DEFAULT_BIT_DEPTH  = 16
	DEFAULT_CHANNELS   = 1
	PCM_AUDIO_FORMAT   = 1 // WAVE_FORMAT_PCM
)

// Constants for supported bit depths.
const (
	BIT_DEPTH_8  = 8
	BIT_DEPTH_16 = 16
	BIT_DEPTH_24 = 24
	BIT_DEPTH_32 = 32
)

// Constants for quality validation limits.
const (
	MAX_SAMPLE_RATE = 192000
	MAX_CHANNELS    = 8
)

// Constants for error messages and formats.
const (
	ERR_FMT_SAMPLE_RATE_RANGE = "%w: sample rate must be between 1 and %d Hz"
	ERR_FMT_BIT_DEPTH_VALUES  = "%w: bit depth must be 8, 16, 24, or 32"
	ERR_FMT_CHANNELS_RANGE    = "%w: channels must be between 1 and %d"
	ERR_FMT_TRANSCODE_FAILED  = "ffmpeg transcode failed: %w - output: %s"
)

const (
	filePermissions = 0o600
	dirPermissions  = 0o750
	tempWAVPattern  = ".transcode-*.wav"
	mp3Codec        = "libmp3lame"
	DEFAULT_FFMPEG  = "ffmpeg"
)

// Common errors for the audio package.
var (
	ErrInvalidQuality    = errors.New("invalid quality settings")
	ErrUnsupportedFormat = errors.New("unsupported audio format")
	ErrNilBuffer         = errors.New("audio buffer is nil")
)

// Format represents supported audio container formats.
type Format string

const (
	FORMAT_WAV Format = "wav"
	FORMAT_MP3 Format = "mp3"
)

// SupportedFormats lists the formats offered to users, in display order.
func SupportedFormats() []Format {
	return []Format{FORMAT_WAV, FORMAT_MP3}
}

// ParseFormat maps a user-supplied format name to a Format.
func ParseFormat(name string) (Format, error) {
	switch Format(name) {
	case FORMAT_WAV, FORMAT_MP3:
		return Format(name), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, name)
	}
}

// Extension returns the file extension for the format, including the dot.
func (f Format) Extension() string {
	return "." + string(f)
}

// ContentType returns the MIME type served for the format.
func (f Format) ContentType() string {
	if f == FORMAT_MP3 {
		return "audio/mpeg"
	}

	return "audio/wav"
}

// Quality describes the PCM layout written to disk.
type Quality struct {
	SampleRate int `json:"sampleRate"`
	BitDepth   int `json:"bitDepth"`
	Channels   int `json:"channels"`
}

// NewDefaultQuality returns 16-bit mono at the output sample rate.
func NewDefaultQuality() Quality {
	return Quality{
		SampleRate: OUTPUT_SAMPLE_RATE,
		BitDepth:   DEFAULT_BIT_DEPTH,
		Channels:   DEFAULT_CHANNELS,
	}
}

// Validate checks if quality settings are within reasonable bounds.
func (q *Quality) Validate() error {
	sampleRateErr := validateSampleRate(q.SampleRate)
	if sampleRateErr != nil {
		return sampleRateErr
	}

	bitDepthErr := validateBitDepth(q.BitDepth)
	if bitDepthErr != nil {
		return bitDepthErr
	}

	channelsErr := validateChannels(q.Channels)
	if channelsErr != nil {
		return channelsErr
	}

	return nil
}

// Writer persists PCM buffers as WAV or MP3 files.
type Writer struct {
	ffmpegPath string
}

// NewWriter creates a writer. An empty ffmpegPath means "ffmpeg" from PATH.
func NewWriter(ffmpegPath string) *Writer {
	if ffmpegPath == "" {
		ffmpegPath = DEFAULT_FFMPEG
	}

	return &Writer{ffmpegPath: ffmpegPath}
}

// Write encodes buf to path in the given format at 22050 Hz and returns the
// size of the written file. An existing file at path is replaced.
func (w *Writer) Write(ctx context.Context, buf *goaudio.IntBuffer, path string, format Format) (int64, error) {
	if buf == nil {
		return 0, ErrNilBuffer
	}

	quality := qualityFor(buf)

	validateErr := quality.Validate()
	if validateErr != nil {
		return 0, validateErr
	}

	dirErr := os.MkdirAll(filepath.Dir(path), dirPermissions)
	if dirErr != nil {
		return 0, fmt.Errorf("failed to create output directory: %w", dirErr)
	}

	var writeErr error

	switch format {
	case FORMAT_WAV:
		writeErr = writeWAV(path, buf, quality)
	case FORMAT_MP3:
		writeErr = w.writeMP3(ctx, path, buf, quality)
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}

	if writeErr != nil {
		return 0, writeErr
	}

	info, statErr := os.Stat(path)
	if statErr != nil {
		return 0, fmt.Errorf("failed to stat audio file: %w", statErr)
	}

	return info.Size(), nil
}

func (w *Writer) writeMP3(ctx context.Context, path string, buf *goaudio.IntBuffer, quality Quality) error {
	tempFile, err := os.CreateTemp(filepath.Dir(path), tempWAVPattern)
	if err != nil {
		return fmt.Errorf("failed to create temp file for transcode: %w", err)
	}

	tempPath := tempFile.Name()
	_ = tempFile.Close()

	defer func() {
		_ = os.Remove(tempPath)
	}()

	wavErr := writeWAV(tempPath, buf, quality)
	if wavErr != nil {
		return wavErr
	}

	args := []string{
		"-y",
		"-loglevel", "error",
		"-i", tempPath,
		"-codec:a", mp3Codec,
		"-ar", strconv.Itoa(quality.SampleRate),
		path,
	}

	// #nosec G204 -- binary path comes from service configuration
	cmd := exec.CommandContext(ctx, w.ffmpegPath, args...)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf(ERR_FMT_TRANSCODE_FAILED, err, string(output))
	}

	return nil
}

func writeWAV(path string, buf *goaudio.IntBuffer, quality Quality) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, filePermissions)
	if err != nil {
		return fmt.Errorf("failed to create audio file: %w", err)
	}

	encoder := wav.NewEncoder(file, quality.SampleRate, quality.BitDepth, quality.Channels, PCM_AUDIO_FORMAT)

	labelled := &goaudio.IntBuffer{
		Format: &goaudio.Format{
			NumChannels: quality.Channels,
			SampleRate:  quality.SampleRate,
		},
		Data:           buf.Data,
		SourceBitDepth: quality.BitDepth,
	}

	writeErr := encoder.Write(labelled)
	closeErr := encoder.Close()
	fileErr := file.Close()

	switch {
	case writeErr != nil:
		return fmt.Errorf("failed to encode wav: %w", writeErr)
	case closeErr != nil:
		return fmt.Errorf("failed to finalize wav: %w", closeErr)
	case fileErr != nil:
		return fmt.Errorf("failed to close audio file: %w", fileErr)
	}

	return nil
}

// qualityFor keeps the buffer's channel layout and bit depth and relabels the
// sample rate.
func qualityFor(buf *goaudio.IntBuffer) Quality {
	quality := NewDefaultQuality()

	if buf.Format != nil && buf.Format.NumChannels > 0 {
		quality.Channels = buf.Format.NumChannels
	}

	if buf.SourceBitDepth > 0 {
		quality.BitDepth = buf.SourceBitDepth
	}

	return quality
}

//
// Validation Helpers
//

func validateSampleRate(sampleRate int) error {
	if sampleRate <= 0 || sampleRate > MAX_SAMPLE_RATE {
		return fmt.Errorf(ERR_FMT_SAMPLE_RATE_RANGE, ErrInvalidQuality, MAX_SAMPLE_RATE)
	}

	return nil
}

func validateBitDepth(bitDepth int) error {
	switch bitDepth {
	case BIT_DEPTH_8, BIT_DEPTH_16, BIT_DEPTH_24, BIT_DEPTH_32:
		return nil
	default:
		return fmt.Errorf(ERR_FMT_BIT_DEPTH_VALUES, ErrInvalidQuality)
	}
}

func validateChannels(channels int) error {
	if channels <= 0 || channels > MAX_CHANNELS {
		return fmt.Errorf(ERR_FMT_CHANNELS_RANGE, ErrInvalidQuality, MAX_CHANNELS)
	}

	return nil
}

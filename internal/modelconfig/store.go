// Package modelconfig reads and patches the JSON configuration file that a voice
// model is loaded with.
//
// Updates rewrite the whole document in place. Key order is kept, whitespace is
// re-indented, and anything other than the three inference controls under
// model_args keeps its value.
package modelconfig

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"
	"github.com/tidwall/sjson"

	"github.com/book-expert/voice-studio/internal/core"
)

// Document paths inside the model configuration.
const (
	ModelArgsKey        = "model_args"
	pathLengthScale     = ModelArgsKey + ".length_scale"
	pathNoiseScale      = ModelArgsKey + ".inference_noise_scale"
	pathNoiseScaleDP    = ModelArgsKey + ".inference_noise_scale_dp"
	pathSampleRate      = "audio.sample_rate"
	defaultSampleRate   = 22050
	documentIndent      = "    "
	documentWidth       = 80
	filePermissions     = 0o600
	errFmtReadDocument  = "failed to read model config %s: %w"
	errFmtWriteDocument = "failed to write model config %s: %w"
)

var (
	// ErrInvalidDocument is returned when the file is not valid JSON.
	ErrInvalidDocument = errors.New("model config is not valid JSON")
	// ErrModelArgsMissing is returned when the document has no model_args object.
	ErrModelArgsMissing = errors.New("model config has no model_args section")
)

// Document is a decoded model configuration. Numbers are kept as json.Number so
// large integers and out-of-range literals survive a read.
type Document map[string]any

// ModelArgs returns the model_args section, or nil when it is absent.
func (d Document) ModelArgs() map[string]any {
	section, ok := d[ModelArgsKey].(map[string]any)
	if !ok {
		return nil
	}

	return section
}

var prettyOptions = &pretty.Options{
	Width:    documentWidth,
	Prefix:   "",
	Indent:   documentIndent,
	SortKeys: false,
}

// Read loads and decodes the configuration at path.
func Read(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf(errFmtReadDocument, path, err)
	}

	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidDocument, path)
	}

	var doc Document

	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()

	err = decoder.Decode(&doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidDocument, path, err)
	}

	return doc, nil
}

// ReadParams returns the inference controls currently stored at path.
func ReadParams(path string) (core.Params, error) {
	data, err := readValidated(path)
	if err != nil {
		return core.Params{}, err
	}

	return paramsFrom(data), nil
}

// SampleRate returns audio.sample_rate from the document at path, falling back to
// 22050 Hz when the key is absent.
func SampleRate(path string) (int, error) {
	data, err := readValidated(path)
	if err != nil {
		return 0, err
	}

	rate := gjson.GetBytes(data, pathSampleRate)
	if !rate.Exists() || rate.Int() <= 0 {
		return defaultSampleRate, nil
	}

	return int(rate.Int()), nil
}

// Update patches the three inference controls in place. It is not safe for
// concurrent callers; the file is left untouched when patching fails.
func Update(path string, params core.Params) error {
	file, err := os.OpenFile(path, os.O_RDWR, filePermissions)
	if err != nil {
		return fmt.Errorf(errFmtReadDocument, path, err)
	}

	defer func() {
		_ = file.Close()
	}()

	data, err := io.ReadAll(file)
	if err != nil {
		return fmt.Errorf(errFmtReadDocument, path, err)
	}

	patched, err := patch(data, params)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	return rewrite(file, path, patched)
}

func patch(data []byte, params core.Params) ([]byte, error) {
	if !gjson.ValidBytes(data) {
		return nil, ErrInvalidDocument
	}

	if !gjson.GetBytes(data, ModelArgsKey).IsObject() {
		return nil, ErrModelArgsMissing
	}

	fields := []struct {
		path  string
		value float64
	}{
		{pathLengthScale, params.LengthScale},
		{pathNoiseScale, params.NoiseScale},
		{pathNoiseScaleDP, params.NoiseScaleDP},
	}

	var err error

	for _, field := range fields {
		data, err = sjson.SetBytes(data, field.path, field.value)
		if err != nil {
			return nil, fmt.Errorf("failed to set %s: %w", field.path, err)
		}
	}

	return pretty.PrettyOptions(data, prettyOptions), nil
}

func rewrite(file *os.File, path string, data []byte) error {
	_, err := file.Seek(0, io.SeekStart)
	if err != nil {
		return fmt.Errorf(errFmtWriteDocument, path, err)
	}

	_, err = file.Write(data)
	if err != nil {
		return fmt.Errorf(errFmtWriteDocument, path, err)
	}

	err = file.Truncate(int64(len(data)))
	if err != nil {
		return fmt.Errorf(errFmtWriteDocument, path, err)
	}

	err = file.Sync()
	if err != nil {
		return fmt.Errorf(errFmtWriteDocument, path, err)
	}

	return nil
}

func readValidated(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf(errFmtReadDocument, path, err)
	}

	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidDocument, path)
	}

	if !gjson.GetBytes(data, ModelArgsKey).IsObject() {
		return nil, fmt.Errorf("%w: %s", ErrModelArgsMissing, path)
	}

	return data, nil
}

func paramsFrom(data []byte) core.Params {
	return core.Params{
		LengthScale:  gjson.GetBytes(data, pathLengthScale).Float(),
		NoiseScale:   gjson.GetBytes(data, pathNoiseScale).Float(),
		NoiseScaleDP: gjson.GetBytes(data, pathNoiseScaleDP).Float(),
	}
}

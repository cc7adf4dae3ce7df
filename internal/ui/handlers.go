package ui

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/book-expert/voice-studio/internal/core"
	"github.com/book-expert/voice-studio/internal/synthesis"
	"github.com/book-expert/voice-studio/internal/tts/audio"
	"github.com/book-expert/voice-studio/internal/tts/ttsutils"
)

const (
	audioRoute        = "/audio/"
	noAudioMessage    = "No audio produced."
	contentTypeJSON   = "application/json"
	headerContentType = "Content-Type"
	headerCache       = "Cache-Control"
	noStore           = "no-store"
	maxRequestBytes   = 1 << 20
	checkboxOn        = "on"
)

// Form field names.
const (
	fieldText         = "text"
	fieldLengthScale  = "length_scale"
	fieldNoiseScale   = "inference_noise_scale"
	fieldNoiseScaleDP = "inference_noise_scale_dp"
	fieldFormat       = "format"
	fieldNormalize    = "normalize"
)

// formState is what the form shows after a render.
type formState struct {
	Text         string
	LengthScale  float64
	NoiseScale   float64
	NoiseScaleDP float64
	Format       string
	Normalize    bool
}

type pageData struct {
	Title       string
	Description string
	Image       string
	Examples    []Example
	Formats     []audio.Format
	SliderMin   float64
	SliderMax   float64
	SliderStep  float64
	Form        formState
	AudioURL    string
	Message     string
}

// APIRequest is the JSON body of POST /api/synthesize.
type APIRequest struct {
	Text         string  `json:"text"`
	LengthScale  float64 `json:"length_scale"`
	NoiseScale   float64 `json:"inference_noise_scale"`
	NoiseScaleDP float64 `json:"inference_noise_scale_dp"`
	Format       string  `json:"format"`
	Normalize    bool    `json:"normalize"`
}

// APIResponse describes the produced file.
type APIResponse struct {
	Path       string `json:"path"`
	URL        string `json:"url"`
	Format     string `json:"format"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	Bytes      int64  `json:"bytes"`
	ObjectKey  string `json:"object_key,omitempty"`
}

// APIError is the JSON body of failed API calls.
type APIError struct {
	Error string `json:"error"`
}

func (s *Server) defaultForm() formState {
	return formState{
		LengthScale:  s.opts.Defaults.LengthScale,
		NoiseScale:   s.opts.Defaults.NoiseScale,
		NoiseScaleDP: s.opts.Defaults.NoiseScaleDP,
		Format:       string(s.opts.DefaultFormat),
		Normalize:    true,
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	s.render(w, s.defaultForm(), "", "")
}

func (s *Server) handleFormSubmit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)

	form, parseErr := s.parseForm(r)
	if parseErr != nil {
		s.log.Warn("Rejected form submission: %v", parseErr)
		s.render(w, form, "", noAudioMessage)

		return
	}

	result, err := s.synthesizer.Synthesize(r.Context(), synthesis.Request{
		Text: form.Text,
		Params: core.Params{
			LengthScale:  form.LengthScale,
			NoiseScale:   form.NoiseScale,
			NoiseScaleDP: form.NoiseScaleDP,
		},
		Format:    form.Format,
		Normalize: form.Normalize,
	})
	if err != nil {
		s.log.Error("Form synthesis failed: %v", err)
		s.render(w, form, "", noAudioMessage)

		return
	}

	s.render(w, form, audioURL(result), "")
}

func (s *Server) handleAPISynthesize(w http.ResponseWriter, r *http.Request) {
	var req APIRequest

	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))

	decodeErr := decoder.Decode(&req)
	if decodeErr != nil {
		writeJSON(w, http.StatusBadRequest, APIError{Error: "invalid json: " + decodeErr.Error()})

		return
	}

	if req.Format == "" {
		req.Format = string(s.opts.DefaultFormat)
	}

	result, err := s.synthesizer.Synthesize(r.Context(), synthesis.Request{
		Text: req.Text,
		Params: core.Params{
			LengthScale:  req.LengthScale,
			NoiseScale:   req.NoiseScale,
			NoiseScaleDP: req.NoiseScaleDP,
		},
		Format:    req.Format,
		Normalize: req.Normalize,
	})
	if err != nil {
		s.log.Error("API synthesis failed: %v", err)
		writeJSON(w, statusFor(err), APIError{Error: err.Error()})

		return
	}

	writeJSON(w, http.StatusOK, APIResponse{
		Path:       result.Path,
		URL:        audioURL(result),
		Format:     string(result.Format),
		SampleRate: result.SampleRate,
		Channels:   result.Channels,
		Bytes:      result.Bytes,
		ObjectKey:  result.ObjectKey,
	})
}

func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if !ttsutils.IsServableAudioFile(name) {
		http.NotFound(w, r)

		return
	}

	w.Header().Set(headerCache, noStore)
	s.serveFrom(w, r, s.opts.OutputDir, name)
}

func (s *Server) handleAsset(w http.ResponseWriter, r *http.Request) {
	s.serveFrom(w, r, s.opts.AssetsDir, r.PathValue("name"))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if !s.ready.Load() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready"})

		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// serveFrom serves dir/name when name is a plain file name.
func (s *Server) serveFrom(w http.ResponseWriter, r *http.Request, dir, name string) {
	if dir == "" || name == "" || ttsutils.SanitizeFilename(name) != name {
		http.NotFound(w, r)

		return
	}

	format, formatErr := audio.ParseFormat(strings.TrimPrefix(filepath.Ext(name), "."))
	if formatErr == nil {
		w.Header().Set(headerContentType, format.ContentType())
	}

	http.ServeFile(w, r, filepath.Join(dir, name))
}

func (s *Server) parseForm(r *http.Request) (formState, error) {
	form := s.defaultForm()

	err := r.ParseForm()
	if err != nil {
		return form, err
	}

	form.Text = r.PostForm.Get(fieldText)
	if format := r.PostForm.Get(fieldFormat); format != "" {
		form.Format = format
	}

	form.Normalize = r.PostForm.Get(fieldNormalize) == checkboxOn

	fields := []struct {
		name   string
		target *float64
	}{
		{fieldLengthScale, &form.LengthScale},
		{fieldNoiseScale, &form.NoiseScale},
		{fieldNoiseScaleDP, &form.NoiseScaleDP},
	}

	for _, field := range fields {
		raw := r.PostForm.Get(field.name)
		if raw == "" {
			continue
		}

		value, parseErr := strconv.ParseFloat(raw, 64)
		if parseErr != nil {
			return form, parseErr
		}

		*field.target = value
	}

	return form, nil
}

func (s *Server) render(w http.ResponseWriter, form formState, audioSrc, message string) {
	data := pageData{
		Title:       s.opts.Title,
		Description: s.opts.Description,
		Image:       s.opts.Image,
		Examples:    s.opts.Examples,
		Formats:     audio.SupportedFormats(),
		SliderMin:   SliderMin,
		SliderMax:   SliderMax,
		SliderStep:  SliderStep,
		Form:        form,
		AudioURL:    audioSrc,
		Message:     message,
	}

	w.Header().Set(headerContentType, "text/html; charset=utf-8")

	err := s.page.Execute(w, data)
	if err != nil {
		s.log.Error("Failed to render page: %v", err)
	}
}

// audioURL links the produced file. The fixed output name is reused across
// requests, so a version parameter keeps browsers from replaying a stale file.
func audioURL(result *synthesis.Result) string {
	return audioRoute + url.PathEscape(result.Name) + "?v=" + strconv.FormatInt(time.Now().UnixNano(), 10)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, synthesis.ErrUnsupportedFormat):
		return http.StatusBadRequest
	case errors.Is(err, synthesis.ErrModelUnavailable), errors.Is(err, synthesis.ErrNoAudio):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set(headerContentType, contentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

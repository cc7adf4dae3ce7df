// Package worker serves synthesis requests over NATS request/reply.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/book-expert/voice-studio/internal/core"
	"github.com/book-expert/voice-studio/internal/synthesis"
)

const (
	handleMessageTimeout = 5 * time.Minute
	queueGroup           = "voice-studio"
	defaultFormat        = "wav"

	// HeaderError carries the failure reason on error replies.
	HeaderError = "Voice-Studio-Error"
)

var (
	// ErrSubjectEmpty indicates that no request subject was configured.
	ErrSubjectEmpty = errors.New("subject cannot be empty")
	// ErrStoreRequired indicates that the worker was created without an object store.
	ErrStoreRequired = errors.New("object store is required")
)

// Synthesizer runs one synthesis request.
type Synthesizer interface {
	Synthesize(ctx context.Context, req synthesis.Request) (*synthesis.Result, error)
}

// SynthesizeRequest is the JSON payload accepted on the request subject. Text is
// taken from TextKey in the object store when Text is empty; a request with
// neither is synthesized from empty text.
type SynthesizeRequest struct {
	Header       events.EventHeader `json:"header"`
	Text         string             `json:"text"`
	TextKey      string             `json:"text_key,omitempty"`
	LengthScale  float64            `json:"length_scale"`
	NoiseScale   float64            `json:"inference_noise_scale"`
	NoiseScaleDP float64            `json:"inference_noise_scale_dp"`
	Format       string             `json:"format"`
	Normalize    bool               `json:"normalize"`
}

// NatsWorker answers synthesis requests with an AudioChunkCreatedEvent naming
// the published audio object.
type NatsWorker struct {
	natsConnection *nats.Conn
	subject        string
	store          core.ObjectStore
	synthesizer    Synthesizer
	log            *logger.Logger
}

// NewNatsWorker creates a new instance of a NATS worker.
func NewNatsWorker(
	natsConnection *nats.Conn,
	subject string,
	store core.ObjectStore,
	synthesizer Synthesizer,
	log *logger.Logger,
) (*NatsWorker, error) {
	if subject == "" {
		return nil, ErrSubjectEmpty
	}

	if store == nil {
		return nil, ErrStoreRequired
	}

	return &NatsWorker{
		natsConnection: natsConnection,
		subject:        subject,
		store:          store,
		synthesizer:    synthesizer,
		log:            log,
	}, nil
}

// Run subscribes and blocks until ctx is cancelled, then drains.
func (w *NatsWorker) Run(ctx context.Context) error {
	sub, err := w.natsConnection.QueueSubscribe(w.subject, queueGroup, w.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.subject, err)
	}

	w.log.Info("Listening for synthesis requests on %s", w.subject)

	<-ctx.Done()

	drainErr := sub.Drain()
	if drainErr != nil {
		return fmt.Errorf("failed to drain subscription: %w", drainErr)
	}

	return nil
}

func (w *NatsWorker) handleMessage(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), handleMessageTimeout)
	defer cancel()

	req, err := parseRequest(msg)
	if err != nil {
		w.log.Error("Failed to parse synthesis request: %v", err)
		w.respondError(msg, err)

		return
	}

	audioKey, processErr := w.process(ctx, req)
	if processErr != nil {
		w.log.Error("Failed to synthesize for workflow %s: %v", req.Header.WorkflowID, processErr)
		w.respondError(msg, processErr)

		return
	}

	replyHeader := req.Header
	replyHeader.EventID = uuid.NewString()
	replyHeader.Timestamp = time.Now()

	replyEvent := &events.AudioChunkCreatedEvent{
		Header:     replyHeader,
		AudioKey:   audioKey,
		PageNumber: 1,
		TotalPages: 1,
	}

	err = publishReplyEvent(msg, replyEvent)
	if err != nil {
		w.log.Error("Failed to publish reply event for workflow %s: %v", req.Header.WorkflowID, err)
	}
}

// process resolves the text, synthesizes it and returns the object key of the
// published audio.
func (w *NatsWorker) process(ctx context.Context, req *SynthesizeRequest) (string, error) {
	text := req.Text

	if text == "" && req.TextKey != "" {
		textData, err := w.store.Download(ctx, req.TextKey)
		if err != nil {
			return "", fmt.Errorf("failed to download text data for key '%s': %w", req.TextKey, err)
		}

		text = string(textData)
	}

	format := req.Format
	if format == "" {
		format = defaultFormat
	}

	result, err := w.synthesizer.Synthesize(ctx, synthesis.Request{
		Text: text,
		Params: core.Params{
			LengthScale:  req.LengthScale,
			NoiseScale:   req.NoiseScale,
			NoiseScaleDP: req.NoiseScaleDP,
		},
		Format:    format,
		Normalize: req.Normalize,
	})
	if err != nil {
		return "", fmt.Errorf("failed to synthesize: %w", err)
	}

	if result.ObjectKey != "" {
		return result.ObjectKey, nil
	}

	return w.upload(ctx, result)
}

// upload publishes a result that the synthesizer did not publish itself.
func (w *NatsWorker) upload(ctx context.Context, result *synthesis.Result) (string, error) {
	audioData, err := os.ReadFile(result.Path)
	if err != nil {
		return "", fmt.Errorf("failed to read audio file %s: %w", result.Path, err)
	}

	audioKey := uuid.NewString() + filepath.Ext(result.Path)

	err = w.store.Upload(ctx, audioKey, audioData)
	if err != nil {
		return "", fmt.Errorf("failed to upload audio data for key '%s': %w", audioKey, err)
	}

	return audioKey, nil
}

func (w *NatsWorker) respondError(msg *nats.Msg, cause error) {
	if msg.Reply == "" {
		return
	}

	reply := nats.NewMsg(msg.Reply)
	reply.Header.Set(HeaderError, cause.Error())

	err := msg.RespondMsg(reply)
	if err != nil {
		w.log.Error("Failed to publish error reply: %v", err)
	}
}

// publishReplyEvent marshals and responds with the AudioChunkCreatedEvent.
func publishReplyEvent(msg *nats.Msg, replyEvent *events.AudioChunkCreatedEvent) error {
	replyData, err := json.Marshal(replyEvent)
	if err != nil {
		return fmt.Errorf("failed to marshal reply event: %w", err)
	}

	err = msg.Respond(replyData)
	if err != nil {
		return fmt.Errorf("failed to publish reply event: %w", err)
	}

	return nil
}

func parseRequest(msg *nats.Msg) (*SynthesizeRequest, error) {
	var req SynthesizeRequest

	err := json.Unmarshal(msg.Data, &req)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal request: %w", err)
	}

	return &req, nil
}

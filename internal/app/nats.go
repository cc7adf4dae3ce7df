package app

import (
	"fmt"

	"github.com/book-expert/logger"
	"github.com/nats-io/nats.go"

	"github.com/book-expert/voice-studio/internal/config"
	"github.com/book-expert/voice-studio/internal/objectstore"
)

const natsClientName = "voice-studio"

// ConnectNATS opens the NATS connection and the audio bucket named in cfg.
// The caller owns the returned connection.
func ConnectNATS(cfg *config.Config, log *logger.Logger) (*nats.Conn, *objectstore.AudioStore, error) {
	natsConnection, err := nats.Connect(cfg.NATS.URL, nats.Name(natsClientName))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
	}

	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		natsConnection.Close()

		return nil, nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	store, err := objectstore.New(jetstreamContext, cfg.NATS.AudioObjectStoreBucket)
	if err != nil {
		natsConnection.Close()

		return nil, nil, err
	}

	log.Info("Connected to NATS at %s, publishing audio to bucket %s", cfg.NATS.URL, store.Bucket())

	return natsConnection, store, nil
}

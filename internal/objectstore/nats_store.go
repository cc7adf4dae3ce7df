// Package objectstore publishes synthesized audio to a NATS JetStream object store.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path/filepath"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	headerContentType  = "Content-Type"
	bucketDescription  = "Synthesized audio published by voice-studio (%s)."
	objectDescription  = "voice-studio audio"
	defaultContentType = "application/octet-stream"
)

// AudioStore implements core.ObjectStore on a JetStream object store bucket.
type AudioStore struct {
	bucket string
	store  nats.ObjectStore
}

// New creates the bucket, or binds to it when it already exists.
func New(jetstreamContext nats.JetStreamContext, bucketName string) (*AudioStore, error) {
	store, err := jetstreamContext.CreateObjectStore(&nats.ObjectStoreConfig{
		Bucket:      bucketName,
		Description: fmt.Sprintf(bucketDescription, bucketName),
		Storage:     nats.FileStorage,
		Replicas:    1,
	})
	if err != nil {
		if !errors.Is(err, jetstream.ErrBucketExists) {
			return nil, fmt.Errorf("failed to create object store bucket '%s': %w", bucketName, err)
		}

		store, err = jetstreamContext.ObjectStore(bucketName)
		if err != nil {
			return nil, fmt.Errorf("failed to bind to existing object store bucket '%s': %w", bucketName, err)
		}
	}

	return &AudioStore{
		bucket: bucketName,
		store:  store,
	}, nil
}

// Bucket returns the bucket name.
func (s *AudioStore) Bucket() string {
	return s.bucket
}

// Download retrieves an object.
func (s *AudioStore) Download(_ context.Context, key string) ([]byte, error) {
	obj, err := s.store.Get(key)
	if err != nil {
		return nil, fmt.Errorf("failed to get object '%s' from bucket '%s': %w", key, s.bucket, err)
	}

	data, readErr := io.ReadAll(obj)
	closeErr := obj.Close()

	if readErr != nil {
		return nil, fmt.Errorf("failed to read object '%s': %w", key, readErr)
	}

	if closeErr != nil {
		return data, fmt.Errorf("failed to close object '%s': %w", key, closeErr)
	}

	return data, nil
}

// Upload stores data under key with a Content-Type header derived from the
// key's extension.
func (s *AudioStore) Upload(_ context.Context, key string, data []byte) error {
	headers := nats.Header{}
	headers.Set(headerContentType, contentTypeFor(key))

	_, err := s.store.Put(&nats.ObjectMeta{
		Name:        key,
		Description: objectDescription,
		Headers:     headers,
	}, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to put object '%s' to bucket '%s': %w", key, s.bucket, err)
	}

	return nil
}

// ContentType returns the stored Content-Type header of key.
func (s *AudioStore) ContentType(key string) (string, error) {
	info, err := s.store.GetInfo(key)
	if err != nil {
		return "", fmt.Errorf("failed to stat object '%s' in bucket '%s': %w", key, s.bucket, err)
	}

	return info.Headers.Get(headerContentType), nil
}

func contentTypeFor(key string) string {
	switch filepath.Ext(key) {
	case ".wav":
		return "audio/wav"
	case ".mp3":
		return "audio/mpeg"
	}

	if byExt := mime.TypeByExtension(filepath.Ext(key)); byExt != "" {
		return byExt
	}

	return defaultContentType
}

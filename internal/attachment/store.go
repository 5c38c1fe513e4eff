// Package attachment stores attachment content outside the queue table so
// queue rows stay small.
package attachment

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	// ErrNotFound is returned when a requested attachment does not exist.
	ErrNotFound = errors.New("attachment: not found")
	// ErrInvalidKey is returned for keys that are not store-generated.
	ErrInvalidKey = errors.New("attachment: invalid key")
)

// Store defines the interface for attachment content backends.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// Config holds configuration for creating a Store.
type Config struct {
	Type       string // "local" or "s3"
	Path       string // base directory for local store
	S3Bucket   string
	S3Prefix   string
	S3Endpoint string
	S3Region   string
}

// New creates a Store based on the provided configuration.
// If Type is empty or unsupported, it defaults to local storage and logs a warning.
func New(ctx context.Context, cfg Config, logger zerolog.Logger) (Store, error) {
	switch cfg.Type {
	case "local":
		return NewLocal(cfg.Path)
	case "s3":
		return NewS3FromConfig(ctx, cfg)
	default:
		logger.Warn().
			Str("type", cfg.Type).
			Msg("unsupported or empty attachment store type, defaulting to local")
		return NewLocal(cfg.Path)
	}
}

// NewKey returns a fresh storage key.
func NewKey() string {
	return uuid.NewString()
}

func validateKey(key string) error {
	if _, err := uuid.Parse(key); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

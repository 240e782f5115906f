// Package uploader contains the transfer strategies: single-part and
// multipart uploaders, the presigning downloader, and the factories that
// select between them.
package uploader

import (
	"context"
	"encoding/hex"
	"time"

	"github.com/google/uuid"

	"github.com/prn-tf/alexander-uploads/internal/domain"
)

// Uploader plans a transfer and completes it once the client is done.
type Uploader interface {
	// Plan mints a session id and returns the URLs the client uploads to.
	Plan(ctx context.Context, req domain.UploadCtx) (*domain.UploadPlan, error)

	// Complete finalizes the transfer described by payload.
	Complete(ctx context.Context, payload domain.CompletionPayload) error

	// Type reports which plan type the strategy produces.
	Type() domain.UploadType
}

// Downloader issues delegated read URLs.
type Downloader interface {
	PresignGet(ctx context.Context, req domain.DownloadCtx) (string, error)
}

// IDGenerator returns a new opaque session id.
type IDGenerator func() string

// NewSessionID returns a random uuid v4 as 32 lowercase hex characters.
func NewSessionID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}

// Default URL validity.
const (
	DefaultPutURLExpiry  = time.Hour
	DefaultPartURLExpiry = time.Hour
	DefaultGetURLExpiry  = 900 * time.Second
)

// Config holds settings shared by the upload strategies.
type Config struct {
	// Bucket receives every upload.
	Bucket string

	// PutURLExpiry is the validity of single-part PUT URLs.
	PutURLExpiry time.Duration

	// PartURLExpiry is the validity of each multipart part URL.
	PartURLExpiry time.Duration

	// VerifySinglePart makes single-part completion check the object exists.
	VerifySinglePart bool

	// NewID overrides session id generation. Used by tests.
	NewID IDGenerator
}

// DefaultConfig returns the default strategy configuration for bucket.
func DefaultConfig(bucket string) Config {
	return Config{
		Bucket:        bucket,
		PutURLExpiry:  DefaultPutURLExpiry,
		PartURLExpiry: DefaultPartURLExpiry,
		NewID:         NewSessionID,
	}
}

func (c Config) withDefaults() Config {
	if c.PutURLExpiry <= 0 {
		c.PutURLExpiry = DefaultPutURLExpiry
	}
	if c.PartURLExpiry <= 0 {
		c.PartURLExpiry = DefaultPartURLExpiry
	}
	if c.NewID == nil {
		c.NewID = NewSessionID
	}
	return c
}

package uploader

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/prn-tf/alexander-uploads/internal/domain"
	"github.com/prn-tf/alexander-uploads/internal/storage"
)

// PresignDownloader issues presigned GET URLs.
type PresignDownloader struct {
	backend       storage.Backend
	defaultBucket string
	defaultExpiry time.Duration
	logger        zerolog.Logger
}

// NewPresignDownloader creates a new PresignDownloader. Requests without a
// bucket fall back to defaultBucket. A non-positive defaultExpiry selects 900s.
func NewPresignDownloader(backend storage.Backend, defaultBucket string, defaultExpiry time.Duration, logger zerolog.Logger) *PresignDownloader {
	if defaultExpiry <= 0 {
		defaultExpiry = DefaultGetURLExpiry
	}
	return &PresignDownloader{
		backend:       backend,
		defaultBucket: defaultBucket,
		defaultExpiry: defaultExpiry,
		logger:        logger.With().Str("component", "presign_downloader").Logger(),
	}
}

// PresignGet implements Downloader. Storage errors are returned unchanged.
func (d *PresignDownloader) PresignGet(ctx context.Context, req domain.DownloadCtx) (string, error) {
	bucket := req.Bucket
	if bucket == "" {
		bucket = d.defaultBucket
	}
	expires := req.Expires
	if expires <= 0 {
		expires = d.defaultExpiry
	}

	return d.backend.PresignGet(ctx, bucket, req.Key, expires, storage.GetOptions{
		ResponseContentType:        req.ResponseContentType,
		ResponseContentDisposition: req.ResponseContentDisposition,
	})
}

var _ Downloader = (*PresignDownloader)(nil)

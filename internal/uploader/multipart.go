package uploader

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/prn-tf/alexander-uploads/internal/domain"
	"github.com/prn-tf/alexander-uploads/internal/storage"
)

// MultipartUploader plans uploads as a multipart transfer with one
// presigned URL per part.
type MultipartUploader struct {
	backend storage.Backend
	config  Config
	logger  zerolog.Logger
}

// NewMultipartUploader creates a new MultipartUploader.
func NewMultipartUploader(backend storage.Backend, config Config, logger zerolog.Logger) *MultipartUploader {
	return &MultipartUploader{
		backend: backend,
		config:  config.withDefaults(),
		logger:  logger.With().Str("component", "multipart_uploader").Logger(),
	}
}

// Type implements Uploader.
func (u *MultipartUploader) Type() domain.UploadType {
	return domain.UploadTypeMultiPart
}

// Plan implements Uploader.
func (u *MultipartUploader) Plan(ctx context.Context, req domain.UploadCtx) (*domain.UploadPlan, error) {
	sessionID := u.config.NewID()
	bucket := u.config.Bucket
	key := storage.KeyForMultipart(req.Prefix, sessionID, req.FileMeta.Filename)

	mpuID, err := u.backend.CreateMultipartUpload(ctx, bucket, key, req.FileMeta.ContentType)
	if err != nil {
		return nil, err
	}

	partSize, totalParts := storage.PlanPartSize(req.FileMeta.SizeBytes)

	partURLs := make([]string, 0, totalParts)
	for n := 1; n <= totalParts; n++ {
		url, err := u.backend.PresignUploadPart(ctx, bucket, key, mpuID, int32(n), u.config.PartURLExpiry)
		if err != nil {
			u.abortQuietly(ctx, bucket, key, mpuID)
			return nil, err
		}
		partURLs = append(partURLs, url)
	}

	u.logger.Debug().
		Str("session_id", sessionID).
		Str("key", key).
		Str("mpu_upload_id", mpuID).
		Int64("part_size", partSize).
		Int("total_parts", totalParts).
		Msg("planned multipart upload")

	return &domain.UploadPlan{
		UploadType: domain.UploadTypeMultiPart,
		UploadID:   sessionID,
		Bucket:     bucket,
		Key:        key,
		PartSize:   &partSize,
		TotalParts: &totalParts,
		PartURLs:   partURLs,
		CompletePayload: &domain.CompletionPayload{
			Provider:          req.Provider,
			Bucket:            bucket,
			Key:               key,
			SessionID:         sessionID,
			MultipartUploadID: mpuID,
			Parts:             []domain.CompletedPart{},
		},
	}, nil
}

// Complete implements Uploader. The part list is submitted exactly as given.
func (u *MultipartUploader) Complete(ctx context.Context, payload domain.CompletionPayload) error {
	if payload.MultipartUploadID == "" || len(payload.Parts) == 0 {
		return domain.NewDomainError(domain.ErrIncompleteMultipart, "missing transfer id or parts", payload.SessionID)
	}

	return u.backend.CompleteMultipartUpload(ctx, payload.Bucket, payload.Key, payload.MultipartUploadID, payload.Parts)
}

// abortQuietly releases a transfer whose plan could not be finished.
func (u *MultipartUploader) abortQuietly(ctx context.Context, bucket, key, mpuID string) {
	if err := u.backend.AbortMultipartUpload(ctx, bucket, key, mpuID); err != nil {
		u.logger.Warn().
			Err(err).
			Str("mpu_upload_id", mpuID).
			Msg("failed to abort multipart upload after planning error")
	}
}

var _ Uploader = (*MultipartUploader)(nil)

package uploader

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/prn-tf/alexander-uploads/internal/domain"
	"github.com/prn-tf/alexander-uploads/internal/storage"
)

// singleFileSequence is the sequence number of the only file in a
// single-part session.
const singleFileSequence = 1

// SinglePartUploader plans uploads as one presigned PUT.
type SinglePartUploader struct {
	backend storage.Backend
	config  Config
	logger  zerolog.Logger
}

// NewSinglePartUploader creates a new SinglePartUploader.
func NewSinglePartUploader(backend storage.Backend, config Config, logger zerolog.Logger) *SinglePartUploader {
	return &SinglePartUploader{
		backend: backend,
		config:  config.withDefaults(),
		logger:  logger.With().Str("component", "single_part_uploader").Logger(),
	}
}

// Type implements Uploader.
func (u *SinglePartUploader) Type() domain.UploadType {
	return domain.UploadTypeSinglePart
}

// Plan implements Uploader.
func (u *SinglePartUploader) Plan(ctx context.Context, req domain.UploadCtx) (*domain.UploadPlan, error) {
	sessionID := u.config.NewID()
	key := storage.KeyForSingle(req.Prefix, sessionID, singleFileSequence, req.FileMeta.Filename)

	url, err := u.backend.PresignPut(ctx, u.config.Bucket, key, req.FileMeta.ContentType, u.config.PutURLExpiry)
	if err != nil {
		return nil, err
	}

	u.logger.Debug().
		Str("session_id", sessionID).
		Str("key", key).
		Msg("planned single-part upload")

	return &domain.UploadPlan{
		UploadType: domain.UploadTypeSinglePart,
		UploadID:   sessionID,
		Bucket:     u.config.Bucket,
		Key:        key,
		PutURL:     url,
		CompletePayload: &domain.CompletionPayload{
			Provider:  req.Provider,
			Bucket:    u.config.Bucket,
			Key:       key,
			SessionID: sessionID,
		},
	}, nil
}

// Complete implements Uploader. Verification is off unless configured.
func (u *SinglePartUploader) Complete(ctx context.Context, payload domain.CompletionPayload) error {
	if !u.config.VerifySinglePart {
		return nil
	}

	if _, err := u.backend.HeadObject(ctx, payload.Bucket, payload.Key); err != nil {
		if errors.Is(err, domain.ErrObjectNotFound) {
			return domain.NewDomainError(domain.ErrObjectNotFound, "uploaded object is missing", payload.Key)
		}
		return err
	}
	return nil
}

var _ Uploader = (*SinglePartUploader)(nil)

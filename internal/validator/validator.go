// Package validator provides the business-rule checks run before an
// upload is planned or a download is presigned.
package validator

import (
	"context"

	"github.com/prn-tf/alexander-uploads/internal/domain"
)

// UploadValidator checks an upload request.
// Returned errors wrap domain.ErrValidation.
type UploadValidator interface {
	Validate(ctx context.Context, req domain.UploadCtx) error
}

// DownloadValidator checks a download request.
// Returned errors wrap domain.ErrValidation.
type DownloadValidator interface {
	Validate(ctx context.Context, req domain.DownloadCtx) error
}

// RunUpload runs validators in order and stops at the first failure.
func RunUpload(ctx context.Context, validators []UploadValidator, req domain.UploadCtx) error {
	for _, v := range validators {
		if err := v.Validate(ctx, req); err != nil {
			return err
		}
	}
	return nil
}

// RunDownload runs validators in order and stops at the first failure.
func RunDownload(ctx context.Context, validators []DownloadValidator, req domain.DownloadCtx) error {
	for _, v := range validators {
		if err := v.Validate(ctx, req); err != nil {
			return err
		}
	}
	return nil
}

// DefaultUploadValidators returns the size-limit and content-type checks.
func DefaultUploadValidators(maxBytes int64, allowedContentTypes []string) []UploadValidator {
	return []UploadValidator{
		NewSizeLimit(maxBytes),
		NewContentType(allowedContentTypes),
	}
}

// DefaultDownloadValidators returns the empty-key check.
func DefaultDownloadValidators() []DownloadValidator {
	return []DownloadValidator{EmptyKey{}}
}

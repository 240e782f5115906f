package validator

import (
	"context"
	"fmt"

	"github.com/prn-tf/alexander-uploads/internal/domain"
)

// DefaultMaxUploadSize is the ceiling used when none is configured (5 GiB).
const DefaultMaxUploadSize int64 = 5 * 1024 * 1024 * 1024

// SizeLimit rejects files larger than MaxBytes.
type SizeLimit struct {
	MaxBytes int64
}

// NewSizeLimit creates a SizeLimit. A non-positive maxBytes selects the default.
func NewSizeLimit(maxBytes int64) SizeLimit {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxUploadSize
	}
	return SizeLimit{MaxBytes: maxBytes}
}

// Validate implements UploadValidator.
func (v SizeLimit) Validate(_ context.Context, req domain.UploadCtx) error {
	if req.FileMeta.SizeBytes < 0 {
		return domain.NewDomainError(domain.ErrValidation, "file size cannot be negative", req.FileMeta.Filename)
	}
	if req.FileMeta.SizeBytes > v.MaxBytes {
		return domain.NewDomainError(domain.ErrValidation,
			fmt.Sprintf("file size exceeds limit: %d", v.MaxBytes), req.FileMeta.Filename)
	}
	return nil
}

var _ UploadValidator = SizeLimit{}

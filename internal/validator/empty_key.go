package validator

import (
	"context"

	"github.com/prn-tf/alexander-uploads/internal/domain"
)

// EmptyKey rejects download requests without an object key.
type EmptyKey struct{}

// Validate implements DownloadValidator.
func (EmptyKey) Validate(_ context.Context, req domain.DownloadCtx) error {
	if req.Key == "" {
		return domain.NewDomainError(domain.ErrValidation, "key is required", req.Bucket)
	}
	return nil
}

var _ DownloadValidator = EmptyKey{}

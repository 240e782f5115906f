package validator

import (
	"context"
	"strings"

	"github.com/prn-tf/alexander-uploads/internal/domain"
)

// ContentType rejects content types outside an allow-list.
// An empty allow-list places no restriction.
type ContentType struct {
	allowed map[string]struct{}
}

// NewContentType creates a ContentType validator. Entries are compared
// case-insensitively.
func NewContentType(allowed []string) ContentType {
	set := make(map[string]struct{}, len(allowed))
	for _, ct := range allowed {
		ct = strings.ToLower(strings.TrimSpace(ct))
		if ct != "" {
			set[ct] = struct{}{}
		}
	}
	return ContentType{allowed: set}
}

// Validate implements UploadValidator.
func (v ContentType) Validate(_ context.Context, req domain.UploadCtx) error {
	if len(v.allowed) == 0 {
		return nil
	}
	if _, ok := v.allowed[strings.ToLower(req.FileMeta.ContentType)]; !ok {
		return domain.NewDomainError(domain.ErrValidation, "invalid content type", req.FileMeta.ContentType)
	}
	return nil
}

var _ UploadValidator = ContentType{}

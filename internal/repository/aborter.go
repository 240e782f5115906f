package repository

import (
	"context"

	"github.com/prn-tf/alexander-uploads/internal/domain"
)

// MultipartAborter cancels a provider-side multipart transfer.
// storage.Backend satisfies it.
type MultipartAborter interface {
	AbortMultipartUpload(ctx context.Context, bucket, key, uploadID string) error
}

// AbortSessionUpload aborts the transfer recorded on s. It reports false
// without error when s has no transfer id or no aborter is configured.
func AbortSessionUpload(ctx context.Context, aborter MultipartAborter, s *domain.UploadSession) (bool, error) {
	if s.MultipartUploadID == "" || aborter == nil {
		return false, nil
	}
	if err := aborter.AbortMultipartUpload(ctx, s.Bucket, s.Key, s.MultipartUploadID); err != nil {
		return false, err
	}
	return true, nil
}

// Package storage defines the blob storage port used by upload strategies.
// The storage layer never moves object bytes itself. It issues delegated
// URLs and drives the multipart bookkeeping that clients perform directly
// against the provider.
package storage

import (
	"context"
	"time"

	"github.com/prn-tf/alexander-uploads/internal/domain"
)

// Backend defines the operations upload strategies need from object storage.
// Implementations must be safe for concurrent use.
type Backend interface {
	// PresignPut returns a URL authorizing one PUT of key with the given
	// content type.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeouts
	//   - bucket, key: Target object
	//   - contentType: Content-Type the client must send
	//   - expires: URL validity
	PresignPut(ctx context.Context, bucket, key, contentType string, expires time.Duration) (string, error)

	// CreateMultipartUpload initiates a multipart transfer and returns the
	// provider-assigned transfer id.
	CreateMultipartUpload(ctx context.Context, bucket, key, contentType string) (string, error)

	// PresignUploadPart returns a URL authorizing the upload of one part.
	// Every part of a transfer addresses the same bucket, key and upload id.
	PresignUploadPart(ctx context.Context, bucket, key, uploadID string, partNumber int32, expires time.Duration) (string, error)

	// CompleteMultipartUpload finalizes a transfer with the ordered part list.
	CompleteMultipartUpload(ctx context.Context, bucket, key, uploadID string, parts []domain.CompletedPart) error

	// AbortMultipartUpload cancels a transfer and releases its parts.
	// Aborting an unknown or already aborted transfer is not an error.
	AbortMultipartUpload(ctx context.Context, bucket, key, uploadID string) error

	// PresignGet returns a URL authorizing one GET of key.
	PresignGet(ctx context.Context, bucket, key string, expires time.Duration, opts GetOptions) (string, error)

	// HeadObject returns object metadata.
	// Returns domain.ErrObjectNotFound if the object does not exist.
	HeadObject(ctx context.Context, bucket, key string) (*ObjectInfo, error)

	// HealthCheck verifies the bucket is reachable with the configured credentials.
	HealthCheck(ctx context.Context, bucket string) error
}

// GetOptions carries response header overrides for presigned GETs.
type GetOptions struct {
	ResponseContentType        string
	ResponseContentDisposition string
}

// ObjectInfo is the subset of object metadata the core inspects.
type ObjectInfo struct {
	Size         int64
	ContentType  string
	ETag         string
	LastModified time.Time
}

package s3

import (
	"context"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"

	"github.com/prn-tf/alexander-uploads/internal/domain"
	"github.com/prn-tf/alexander-uploads/internal/storage"
)

// Backend implements storage.Backend on S3.
type Backend struct {
	api       API
	presigner Presigner
	logger    zerolog.Logger
}

// NewBackend creates a Backend from an S3 client.
// The presign client shares the client's region, credentials and endpoint.
func NewBackend(client *s3.Client, logger zerolog.Logger) *Backend {
	return NewBackendWithAPI(client, s3.NewPresignClient(client), logger)
}

// NewBackendWithAPI creates a Backend from narrow interfaces. Used by tests.
func NewBackendWithAPI(api API, presigner Presigner, logger zerolog.Logger) *Backend {
	return &Backend{
		api:       api,
		presigner: presigner,
		logger:    logger.With().Str("component", "s3_backend").Logger(),
	}
}

// PresignPut returns a presigned PutObject URL.
func (b *Backend) PresignPut(ctx context.Context, bucket, key, contentType string, expires time.Duration) (string, error) {
	input := &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	req, err := b.presigner.PresignPutObject(ctx, input, s3.WithPresignExpires(expires))
	if err != nil {
		return "", newError("PresignPutObject", bucket, key, err)
	}
	return presignedURL("PresignPutObject", bucket, key, req.URL)
}

// CreateMultipartUpload initiates a multipart upload and returns its UploadId.
func (b *Backend) CreateMultipartUpload(ctx context.Context, bucket, key, contentType string) (string, error) {
	input := &s3.CreateMultipartUploadInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	out, err := b.api.CreateMultipartUpload(ctx, input)
	if err != nil {
		return "", newError("CreateMultipartUpload", bucket, key, err)
	}

	uploadID := aws.ToString(out.UploadId)
	if uploadID == "" {
		return "", newError("CreateMultipartUpload", bucket, key, errors.New("empty upload id in response"))
	}

	b.logger.Debug().
		Str("bucket", bucket).
		Str("key", key).
		Str("mpu_upload_id", uploadID).
		Msg("multipart upload initiated")

	return uploadID, nil
}

// PresignUploadPart returns a presigned UploadPart URL for one part number.
func (b *Backend) PresignUploadPart(ctx context.Context, bucket, key, uploadID string, partNumber int32, expires time.Duration) (string, error) {
	req, err := b.presigner.PresignUploadPart(ctx, &s3.UploadPartInput{
		Bucket:     aws.String(bucket),
		Key:        aws.String(key),
		UploadId:   aws.String(uploadID),
		PartNumber: aws.Int32(partNumber),
	}, s3.WithPresignExpires(expires))
	if err != nil {
		return "", newError("PresignUploadPart", bucket, key, err)
	}
	return presignedURL("PresignUploadPart", bucket, key, req.URL)
}

// CompleteMultipartUpload submits the ordered part list as given.
func (b *Backend) CompleteMultipartUpload(ctx context.Context, bucket, key, uploadID string, parts []domain.CompletedPart) error {
	completed := make([]types.CompletedPart, 0, len(parts))
	for _, p := range parts {
		completed = append(completed, types.CompletedPart{
			ETag:       aws.String(p.ETag),
			PartNumber: aws.Int32(p.PartNumber),
		})
	}

	_, err := b.api.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:   aws.String(bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{
			Parts: completed,
		},
	})
	if err != nil {
		return newError("CompleteMultipartUpload", bucket, key, err)
	}

	b.logger.Debug().
		Str("bucket", bucket).
		Str("key", key).
		Int("parts", len(parts)).
		Msg("multipart upload completed")

	return nil
}

// AbortMultipartUpload aborts a multipart upload.
// NoSuchUpload is treated as already aborted.
func (b *Backend) AbortMultipartUpload(ctx context.Context, bucket, key, uploadID string) error {
	_, err := b.api.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
	})
	if err != nil {
		if isNoSuchUpload(err) {
			b.logger.Debug().Str("mpu_upload_id", uploadID).Msg("multipart upload already gone")
			return nil
		}
		return newError("AbortMultipartUpload", bucket, key, err)
	}
	return nil
}

// PresignGet returns a presigned GetObject URL.
func (b *Backend) PresignGet(ctx context.Context, bucket, key string, expires time.Duration, opts storage.GetOptions) (string, error) {
	input := &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}
	if opts.ResponseContentType != "" {
		input.ResponseContentType = aws.String(opts.ResponseContentType)
	}
	if opts.ResponseContentDisposition != "" {
		input.ResponseContentDisposition = aws.String(opts.ResponseContentDisposition)
	}

	req, err := b.presigner.PresignGetObject(ctx, input, s3.WithPresignExpires(expires))
	if err != nil {
		return "", newError("PresignGetObject", bucket, key, err)
	}
	return presignedURL("PresignGetObject", bucket, key, req.URL)
}

// HeadObject returns object metadata.
func (b *Backend) HeadObject(ctx context.Context, bucket, key string) (*storage.ObjectInfo, error) {
	out, err := b.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, newError("HeadObject", bucket, key, err)
	}

	return &storage.ObjectInfo{
		Size:         aws.ToInt64(out.ContentLength),
		ContentType:  aws.ToString(out.ContentType),
		ETag:         aws.ToString(out.ETag),
		LastModified: aws.ToTime(out.LastModified),
	}, nil
}

// HealthCheck issues HeadBucket.
func (b *Backend) HealthCheck(ctx context.Context, bucket string) error {
	if _, err := b.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)}); err != nil {
		return newError("HeadBucket", bucket, "", err)
	}
	return nil
}

// presignedURL rejects empty URLs so a misconfigured client never yields
// a usable-looking result.
func presignedURL(op, bucket, key, url string) (string, error) {
	if url == "" {
		return "", newError(op, bucket, key, errors.New("presigner returned an empty URL"))
	}
	return url, nil
}

// Ensure Backend implements storage.Backend.
var _ storage.Backend = (*Backend)(nil)

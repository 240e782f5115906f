package validator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/alexander-uploads/internal/domain"
)

func uploadCtx(size int64, contentType string) domain.UploadCtx {
	return domain.UploadCtx{
		Provider: domain.ProviderAWS,
		UserSub:  "sub",
		FileMeta: domain.FileMeta{Filename: "f", ContentType: contentType, SizeBytes: size},
	}
}

func TestSizeLimit(t *testing.T) {
	v := NewSizeLimit(100)
	ctx := context.Background()

	require.NoError(t, v.Validate(ctx, uploadCtx(0, "")))
	require.NoError(t, v.Validate(ctx, uploadCtx(100, "")))
	require.ErrorIs(t, v.Validate(ctx, uploadCtx(101, "")), domain.ErrValidation)
	require.ErrorIs(t, v.Validate(ctx, uploadCtx(-1, "")), domain.ErrValidation)
}

func TestSizeLimit_Default(t *testing.T) {
	v := NewSizeLimit(0)
	assert.Equal(t, DefaultMaxUploadSize, v.MaxBytes)

	require.NoError(t, v.Validate(context.Background(), uploadCtx(DefaultMaxUploadSize, "")))
	require.ErrorIs(t, v.Validate(context.Background(), uploadCtx(DefaultMaxUploadSize+1, "")), domain.ErrValidation)
}

func TestContentType_AllowList(t *testing.T) {
	v := NewContentType([]string{"application/pdf"})
	ctx := context.Background()

	require.ErrorIs(t, v.Validate(ctx, uploadCtx(1, "image/png")), domain.ErrValidation)
	require.NoError(t, v.Validate(ctx, uploadCtx(1, "application/pdf")))
	require.NoError(t, v.Validate(ctx, uploadCtx(1, "Application/PDF")))
}

func TestContentType_EmptyAllowListAcceptsAll(t *testing.T) {
	v := NewContentType(nil)

	require.NoError(t, v.Validate(context.Background(), uploadCtx(1, "image/png")))
	require.NoError(t, v.Validate(context.Background(), uploadCtx(1, "")))
}

func TestEmptyKey(t *testing.T) {
	ctx := context.Background()

	require.ErrorIs(t, EmptyKey{}.Validate(ctx, domain.DownloadCtx{Bucket: "b"}), domain.ErrValidation)
	require.NoError(t, EmptyKey{}.Validate(ctx, domain.DownloadCtx{Bucket: "b", Key: "k"}))
}

type recordingValidator struct {
	calls *[]string
	name  string
	err   error
}

func (r recordingValidator) Validate(_ context.Context, _ domain.UploadCtx) error {
	*r.calls = append(*r.calls, r.name)
	return r.err
}

func TestRunUpload_StopsAtFirstFailure(t *testing.T) {
	var calls []string
	boom := errors.New("boom")
	validators := []UploadValidator{
		recordingValidator{calls: &calls, name: "first"},
		recordingValidator{calls: &calls, name: "second", err: boom},
		recordingValidator{calls: &calls, name: "third"},
	}

	err := RunUpload(context.Background(), validators, uploadCtx(1, ""))

	require.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"first", "second"}, calls)
}

func TestDefaultValidators(t *testing.T) {
	up := DefaultUploadValidators(10, []string{"text/plain"})
	require.Len(t, up, 2)
	require.ErrorIs(t, RunUpload(context.Background(), up, uploadCtx(11, "text/plain")), domain.ErrValidation)
	require.ErrorIs(t, RunUpload(context.Background(), up, uploadCtx(5, "image/png")), domain.ErrValidation)
	require.NoError(t, RunUpload(context.Background(), up, uploadCtx(5, "text/plain")))

	down := DefaultDownloadValidators()
	require.ErrorIs(t, RunDownload(context.Background(), down, domain.DownloadCtx{}), domain.ErrValidation)
}

package uploader

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/alexander-uploads/internal/domain"
	"github.com/prn-tf/alexander-uploads/internal/storage"
)

// =============================================================================
// Mock Storage Backend
// =============================================================================

type mockBackend struct {
	mock.Mock
}

func (m *mockBackend) PresignPut(ctx context.Context, bucket, key, contentType string, expires time.Duration) (string, error) {
	args := m.Called(ctx, bucket, key, contentType, expires)
	return args.String(0), args.Error(1)
}

func (m *mockBackend) CreateMultipartUpload(ctx context.Context, bucket, key, contentType string) (string, error) {
	args := m.Called(ctx, bucket, key, contentType)
	return args.String(0), args.Error(1)
}

func (m *mockBackend) PresignUploadPart(ctx context.Context, bucket, key, uploadID string, partNumber int32, expires time.Duration) (string, error) {
	args := m.Called(ctx, bucket, key, uploadID, partNumber, expires)
	if fn, ok := args.Get(0).(func(context.Context, string, string, string, int32, time.Duration) string); ok {
		return fn(ctx, bucket, key, uploadID, partNumber, expires), args.Error(1)
	}
	return args.String(0), args.Error(1)
}

func (m *mockBackend) CompleteMultipartUpload(ctx context.Context, bucket, key, uploadID string, parts []domain.CompletedPart) error {
	args := m.Called(ctx, bucket, key, uploadID, parts)
	return args.Error(0)
}

func (m *mockBackend) AbortMultipartUpload(ctx context.Context, bucket, key, uploadID string) error {
	args := m.Called(ctx, bucket, key, uploadID)
	return args.Error(0)
}

func (m *mockBackend) PresignGet(ctx context.Context, bucket, key string, expires time.Duration, opts storage.GetOptions) (string, error) {
	args := m.Called(ctx, bucket, key, expires, opts)
	return args.String(0), args.Error(1)
}

func (m *mockBackend) HeadObject(ctx context.Context, bucket, key string) (*storage.ObjectInfo, error) {
	args := m.Called(ctx, bucket, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*storage.ObjectInfo), args.Error(1)
}

func (m *mockBackend) HealthCheck(ctx context.Context, bucket string) error {
	args := m.Called(ctx, bucket)
	return args.Error(0)
}

// =============================================================================
// Helper Functions
// =============================================================================

const (
	testBucket = "uploads"
	testPrefix = "user/sub-1/project/p1/year=2026/month=10/day=14/"
	mib        = 1024 * 1024
)

func testConfig() Config {
	cfg := DefaultConfig(testBucket)
	cfg.NewID = func() string { return "sess1" }
	return cfg
}

func testCtx(size int64) domain.UploadCtx {
	return domain.UploadCtx{
		Provider:  domain.ProviderAWS,
		UserSub:   "sub-1",
		ProjectID: "p1",
		Prefix:    testPrefix,
		FileMeta:  domain.FileMeta{Filename: "my file.bin", ContentType: "application/octet-stream", SizeBytes: size},
	}
}

// =============================================================================
// Session ID Tests
// =============================================================================

func TestNewSessionID(t *testing.T) {
	a := NewSessionID()
	b := NewSessionID()

	assert.Regexp(t, regexp.MustCompile(`^[0-9a-f]{32}$`), a)
	assert.NotEqual(t, a, b)
}

// =============================================================================
// SinglePartUploader Tests
// =============================================================================

func TestSinglePartUploader_Plan_Success(t *testing.T) {
	backend := new(mockBackend)
	u := NewSinglePartUploader(backend, testConfig(), zerolog.Nop())

	wantKey := testPrefix + "sess1/0001__my_file.bin"
	backend.On("PresignPut", mock.Anything, testBucket, wantKey, "application/octet-stream", time.Hour).
		Return("https://put.example/url", nil)

	plan, err := u.Plan(context.Background(), testCtx(50_000_000))
	require.NoError(t, err)

	assert.Equal(t, domain.UploadTypeSinglePart, plan.UploadType)
	assert.Equal(t, "sess1", plan.UploadID)
	assert.Equal(t, wantKey, plan.Key)
	assert.Equal(t, "https://put.example/url", plan.PutURL)
	assert.Empty(t, plan.PartURLs)
	assert.Nil(t, plan.PartSize)
	assert.Nil(t, plan.TotalParts)

	require.NotNil(t, plan.CompletePayload)
	assert.Equal(t, plan.Bucket, plan.CompletePayload.Bucket)
	assert.Equal(t, plan.Key, plan.CompletePayload.Key)
	assert.Equal(t, plan.UploadID, plan.CompletePayload.SessionID)
	backend.AssertExpectations(t)
}

func TestSinglePartUploader_Plan_PresignError(t *testing.T) {
	backend := new(mockBackend)
	u := NewSinglePartUploader(backend, testConfig(), zerolog.Nop())

	backend.On("PresignPut", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return("", domain.ErrStorageBackend)

	_, err := u.Plan(context.Background(), testCtx(1))
	require.ErrorIs(t, err, domain.ErrStorageBackend)
}

func TestSinglePartUploader_Complete_NoVerification(t *testing.T) {
	backend := new(mockBackend)
	u := NewSinglePartUploader(backend, testConfig(), zerolog.Nop())

	require.NoError(t, u.Complete(context.Background(), domain.CompletionPayload{Bucket: testBucket, Key: "k"}))
	backend.AssertNotCalled(t, "HeadObject", mock.Anything, mock.Anything, mock.Anything)
}

func TestSinglePartUploader_Complete_VerifyMissingObject(t *testing.T) {
	backend := new(mockBackend)
	cfg := testConfig()
	cfg.VerifySinglePart = true
	u := NewSinglePartUploader(backend, cfg, zerolog.Nop())

	backend.On("HeadObject", mock.Anything, testBucket, "k").Return(nil, domain.ErrObjectNotFound)

	err := u.Complete(context.Background(), domain.CompletionPayload{Bucket: testBucket, Key: "k"})
	require.ErrorIs(t, err, domain.ErrObjectNotFound)
}

func TestSinglePartUploader_Complete_VerifyPresent(t *testing.T) {
	backend := new(mockBackend)
	cfg := testConfig()
	cfg.VerifySinglePart = true
	u := NewSinglePartUploader(backend, cfg, zerolog.Nop())

	backend.On("HeadObject", mock.Anything, testBucket, "k").Return(&storage.ObjectInfo{Size: 1}, nil)

	require.NoError(t, u.Complete(context.Background(), domain.CompletionPayload{Bucket: testBucket, Key: "k"}))
}

// =============================================================================
// MultipartUploader Tests
// =============================================================================

func TestMultipartUploader_Plan_500MB(t *testing.T) {
	backend := new(mockBackend)
	u := NewMultipartUploader(backend, testConfig(), zerolog.Nop())

	wantKey := testPrefix + "sess1/my_file.bin"
	backend.On("CreateMultipartUpload", mock.Anything, testBucket, wantKey, "application/octet-stream").
		Return("mpu-1", nil)
	backend.On("PresignUploadPart", mock.Anything, testBucket, wantKey, "mpu-1", mock.AnythingOfType("int32"), time.Hour).
		Return(func(_ context.Context, _, _, _ string, n int32, _ time.Duration) string {
			return fmt.Sprintf("https://part.example/%d", n)
		}, nil)

	plan, err := u.Plan(context.Background(), testCtx(524_288_000))
	require.NoError(t, err)

	assert.Equal(t, domain.UploadTypeMultiPart, plan.UploadType)
	require.NotNil(t, plan.PartSize)
	require.NotNil(t, plan.TotalParts)
	assert.Equal(t, int64(20*mib), *plan.PartSize)
	assert.Equal(t, 25, *plan.TotalParts)
	require.Len(t, plan.PartURLs, 25)
	for i, url := range plan.PartURLs {
		assert.Equal(t, fmt.Sprintf("https://part.example/%d", i+1), url)
	}
	assert.Empty(t, plan.PutURL)

	require.NotNil(t, plan.CompletePayload)
	assert.Equal(t, "mpu-1", plan.CompletePayload.MultipartUploadID)
	assert.Equal(t, wantKey, plan.CompletePayload.Key)
	assert.Equal(t, "sess1", plan.CompletePayload.SessionID)
	assert.NotNil(t, plan.CompletePayload.Parts)
	assert.Empty(t, plan.CompletePayload.Parts)
	backend.AssertNumberOfCalls(t, "PresignUploadPart", 25)
}

func TestMultipartUploader_Plan_CreateFails(t *testing.T) {
	backend := new(mockBackend)
	u := NewMultipartUploader(backend, testConfig(), zerolog.Nop())

	backend.On("CreateMultipartUpload", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return("", domain.ErrStorageBackend)

	_, err := u.Plan(context.Background(), testCtx(200*mib))
	require.ErrorIs(t, err, domain.ErrStorageBackend)
	backend.AssertNotCalled(t, "PresignUploadPart", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestMultipartUploader_Plan_PresignFailureAbortsTransfer(t *testing.T) {
	backend := new(mockBackend)
	u := NewMultipartUploader(backend, testConfig(), zerolog.Nop())

	boom := errors.New("presign failed")
	backend.On("CreateMultipartUpload", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("mpu-1", nil)
	backend.On("PresignUploadPart", mock.Anything, mock.Anything, mock.Anything, "mpu-1", int32(1), mock.Anything).Return("", boom)
	backend.On("AbortMultipartUpload", mock.Anything, testBucket, mock.Anything, "mpu-1").Return(nil)

	_, err := u.Plan(context.Background(), testCtx(200*mib))
	require.ErrorIs(t, err, boom)
	backend.AssertCalled(t, "AbortMultipartUpload", mock.Anything, testBucket, mock.Anything, "mpu-1")
}

func TestMultipartUploader_Complete_MissingParts(t *testing.T) {
	backend := new(mockBackend)
	u := NewMultipartUploader(backend, testConfig(), zerolog.Nop())

	err := u.Complete(context.Background(), domain.CompletionPayload{SessionID: "s", MultipartUploadID: "mpu-1"})
	require.ErrorIs(t, err, domain.ErrIncompleteMultipart)

	err = u.Complete(context.Background(), domain.CompletionPayload{
		SessionID: "s", Parts: []domain.CompletedPart{{PartNumber: 1, ETag: "e"}},
	})
	require.ErrorIs(t, err, domain.ErrIncompleteMultipart)
	backend.AssertNotCalled(t, "CompleteMultipartUpload", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestMultipartUploader_Complete_Success(t *testing.T) {
	backend := new(mockBackend)
	u := NewMultipartUploader(backend, testConfig(), zerolog.Nop())

	parts := []domain.CompletedPart{{PartNumber: 1, ETag: "a"}, {PartNumber: 2, ETag: "b"}}
	backend.On("CompleteMultipartUpload", mock.Anything, testBucket, "k", "mpu-1", parts).Return(nil)

	err := u.Complete(context.Background(), domain.CompletionPayload{
		Bucket: testBucket, Key: "k", SessionID: "s", MultipartUploadID: "mpu-1", Parts: parts,
	})
	require.NoError(t, err)
	backend.AssertExpectations(t)
}

// =============================================================================
// Downloader Tests
// =============================================================================

func TestPresignDownloader_Defaults(t *testing.T) {
	backend := new(mockBackend)
	d := NewPresignDownloader(backend, testBucket, 0, zerolog.Nop())

	backend.On("PresignGet", mock.Anything, testBucket, "k", 900*time.Second, storage.GetOptions{}).
		Return("https://get.example/k", nil)

	url, err := d.PresignGet(context.Background(), domain.DownloadCtx{Provider: domain.ProviderAWS, Key: "k"})
	require.NoError(t, err)
	assert.Equal(t, "https://get.example/k", url)
}

func TestPresignDownloader_Overrides(t *testing.T) {
	backend := new(mockBackend)
	d := NewPresignDownloader(backend, testBucket, 0, zerolog.Nop())

	opts := storage.GetOptions{ResponseContentType: "application/pdf", ResponseContentDisposition: "attachment"}
	backend.On("PresignGet", mock.Anything, "other", "k", time.Minute, opts).Return("https://get.example/k", nil)

	_, err := d.PresignGet(context.Background(), domain.DownloadCtx{
		Bucket: "other", Key: "k", Expires: time.Minute,
		ResponseContentType: "application/pdf", ResponseContentDisposition: "attachment",
	})
	require.NoError(t, err)
	backend.AssertExpectations(t)
}

func TestPresignDownloader_PropagatesError(t *testing.T) {
	backend := new(mockBackend)
	d := NewPresignDownloader(backend, testBucket, 0, zerolog.Nop())

	boom := errors.New("no credentials")
	backend.On("PresignGet", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("", boom)

	url, err := d.PresignGet(context.Background(), domain.DownloadCtx{Key: "k"})
	require.ErrorIs(t, err, boom)
	assert.Empty(t, url)
}

// =============================================================================
// Factory Tests
// =============================================================================

func TestUploaderFactory_ForCtx_Threshold(t *testing.T) {
	backend := new(mockBackend)
	single := NewSinglePartUploader(backend, testConfig(), zerolog.Nop())
	multi := NewMultipartUploader(backend, testConfig(), zerolog.Nop())
	f := NewUploaderFactory(single, multi, 0)

	tests := []struct {
		name string
		size int64
		want domain.UploadType
	}{
		{"empty file", 0, domain.UploadTypeSinglePart},
		{"50 MB", 50_000_000, domain.UploadTypeSinglePart},
		{"exactly 100 MiB", 100 * mib, domain.UploadTypeSinglePart},
		{"100 MiB plus one byte", 100*mib + 1, domain.UploadTypeMultiPart},
		{"500 MB", 524_288_000, domain.UploadTypeMultiPart},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := f.ForCtx(testCtx(tt.size))
			require.NoError(t, err)
			assert.Equal(t, tt.want, u.Type())
		})
	}
}

func TestUploaderFactory_ForCtx_UnsupportedProvider(t *testing.T) {
	f := NewUploaderFactory(nil, nil, 0)

	for _, p := range []domain.Provider{domain.ProviderAzure, domain.ProviderGCP, "other"} {
		req := testCtx(1)
		req.Provider = p
		_, err := f.ForCtx(req)
		require.ErrorIs(t, err, domain.ErrUnsupportedProvider)
	}
}

func TestUploaderFactory_ForType(t *testing.T) {
	backend := new(mockBackend)
	single := NewSinglePartUploader(backend, testConfig(), zerolog.Nop())
	multi := NewMultipartUploader(backend, testConfig(), zerolog.Nop())
	f := NewUploaderFactory(single, multi, 0)

	u, err := f.ForType(domain.ProviderAWS, domain.UploadTypeSinglePart)
	require.NoError(t, err)
	assert.Equal(t, domain.UploadTypeSinglePart, u.Type())

	u, err = f.ForType(domain.ProviderAWS, domain.UploadTypeMultiPart)
	require.NoError(t, err)
	assert.Equal(t, domain.UploadTypeMultiPart, u.Type())

	_, err = f.ForType(domain.ProviderAWS, "resumable")
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.ForType(domain.ProviderGCP, domain.UploadTypeSinglePart)
	require.ErrorIs(t, err, domain.ErrUnsupportedProvider)
}

func TestUploaderFactory_ForType_IgnoresThreshold(t *testing.T) {
	backend := new(mockBackend)
	single := NewSinglePartUploader(backend, testConfig(), zerolog.Nop())
	multi := NewMultipartUploader(backend, testConfig(), zerolog.Nop())

	// A 50 MB session planned multipart under a lower threshold still
	// resolves to multipart after the threshold is raised.
	f := NewUploaderFactory(single, multi, 200*mib)
	byCtx, err := f.ForCtx(testCtx(50_000_000))
	require.NoError(t, err)
	assert.Equal(t, domain.UploadTypeSinglePart, byCtx.Type())

	byType, err := f.ForType(domain.ProviderAWS, domain.UploadTypeMultiPart)
	require.NoError(t, err)
	assert.Equal(t, domain.UploadTypeMultiPart, byType.Type())
}

func TestDownloaderFactory_ForProvider(t *testing.T) {
	d := NewPresignDownloader(new(mockBackend), testBucket, 0, zerolog.Nop())
	f := NewDownloaderFactory(d)

	got, err := f.ForProvider(domain.ProviderAWS)
	require.NoError(t, err)
	assert.Same(t, d, got)

	_, err = f.ForProvider(domain.ProviderAzure)
	require.ErrorIs(t, err, domain.ErrUnsupportedProvider)
}

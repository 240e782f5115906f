package uploader

import (
	"github.com/prn-tf/alexander-uploads/internal/domain"
	"github.com/prn-tf/alexander-uploads/internal/storage"
)

// UploaderFactory maps (provider, size) onto an upload strategy.
type UploaderFactory struct {
	single    Uploader
	multi     Uploader
	threshold int64
}

// NewUploaderFactory creates a factory for the S3 strategies.
// A non-positive threshold selects storage.MultipartThreshold.
func NewUploaderFactory(single, multi Uploader, threshold int64) *UploaderFactory {
	if threshold <= 0 {
		threshold = storage.MultipartThreshold
	}
	return &UploaderFactory{
		single:    single,
		multi:     multi,
		threshold: threshold,
	}
}

// Threshold returns the largest size routed to the single-part strategy.
func (f *UploaderFactory) Threshold() int64 {
	return f.threshold
}

// ForCtx selects the strategy for req. Sizes at or below the threshold go
// single-part.
func (f *UploaderFactory) ForCtx(req domain.UploadCtx) (Uploader, error) {
	if req.Provider != domain.ProviderAWS {
		return nil, domain.NewDomainError(domain.ErrUnsupportedProvider, "no uploader implemented", string(req.Provider))
	}
	if req.FileMeta.SizeBytes > f.threshold {
		return f.multi, nil
	}
	return f.single, nil
}

// ForType selects the strategy a stored plan was made with, so a session
// completes the way it was planned even after the threshold changes.
func (f *UploaderFactory) ForType(provider domain.Provider, uploadType domain.UploadType) (Uploader, error) {
	if provider != domain.ProviderAWS {
		return nil, domain.NewDomainError(domain.ErrUnsupportedProvider, "no uploader implemented", string(provider))
	}
	switch uploadType {
	case domain.UploadTypeSinglePart:
		return f.single, nil
	case domain.UploadTypeMultiPart:
		return f.multi, nil
	default:
		return nil, domain.NewDomainError(domain.ErrValidation, "unknown upload type", string(uploadType))
	}
}

// DownloaderFactory maps a provider onto a downloader.
type DownloaderFactory struct {
	downloaders map[domain.Provider]Downloader
}

// NewDownloaderFactory creates a factory serving the S3 downloader.
func NewDownloaderFactory(s3 Downloader) *DownloaderFactory {
	return &DownloaderFactory{
		downloaders: map[domain.Provider]Downloader{
			domain.ProviderAWS: s3,
		},
	}
}

// ForProvider returns the downloader for provider.
func (f *DownloaderFactory) ForProvider(provider domain.Provider) (Downloader, error) {
	d, ok := f.downloaders[provider]
	if !ok || d == nil {
		return nil, domain.NewDomainError(domain.ErrUnsupportedProvider, "no downloader implemented", string(provider))
	}
	return d, nil
}

// Package domain contains the core business entities for Alexander Uploads.
package domain

import "time"

// Provider identifies the blob storage provider an upload targets.
type Provider string

const (
	// ProviderAWS is Amazon S3 (or an S3-compatible endpoint).
	ProviderAWS Provider = "aws"

	// ProviderAzure is Azure Blob Storage. No strategy is implemented for it.
	ProviderAzure Provider = "azure"

	// ProviderGCP is Google Cloud Storage. No strategy is implemented for it.
	ProviderGCP Provider = "gcp"
)

// IsValid returns true if the provider is a known value.
func (p Provider) IsValid() bool {
	switch p {
	case ProviderAWS, ProviderAzure, ProviderGCP:
		return true
	}
	return false
}

// UploadType describes how the bytes of an upload are transferred.
type UploadType string

const (
	// UploadTypeSinglePart is one presigned PUT for the whole object.
	UploadTypeSinglePart UploadType = "single_part"

	// UploadTypeMultiPart is one presigned URL per part of a multipart transfer.
	UploadTypeMultiPart UploadType = "multi_part"

	// UploadTypeResumable is reserved for providers with resumable sessions.
	UploadTypeResumable UploadType = "resumable"
)

// UploadStatus is the lifecycle state of an upload session.
type UploadStatus string

const (
	StatusUploading  UploadStatus = "uploading"
	StatusUploaded   UploadStatus = "uploaded"
	StatusCompleting UploadStatus = "completing"
	StatusAvailable  UploadStatus = "available"
	StatusError      UploadStatus = "error"
)

// IsValid returns true if the status is a known value.
func (s UploadStatus) IsValid() bool {
	switch s {
	case StatusUploading, StatusUploaded, StatusCompleting, StatusAvailable, StatusError:
		return true
	}
	return false
}

// IsTerminal returns true once a session can no longer change state
// through completion or abort.
func (s UploadStatus) IsTerminal() bool {
	return s == StatusAvailable || s == StatusError
}

// ParseUploadStatus converts a string into an UploadStatus.
func ParseUploadStatus(s string) (UploadStatus, error) {
	status := UploadStatus(s)
	if !status.IsValid() {
		return "", NewDomainError(ErrValidation, "unknown upload status", s)
	}
	return status, nil
}

// FileMeta describes the file a caller wants to upload.
type FileMeta struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	SizeBytes   int64  `json:"size_bytes"`
}

// UploadCtx is a validated upload request.
// Prefix is computed server-side and always ends with a slash.
type UploadCtx struct {
	Provider  Provider `json:"provider"`
	UserSub   string   `json:"user_sub"`
	ProjectID string   `json:"project_id"`
	FileMeta  FileMeta `json:"file_meta"`
	Prefix    string   `json:"prefix"`
}

// DownloadCtx is a validated download request.
type DownloadCtx struct {
	Provider Provider `json:"provider"`
	Bucket   string   `json:"bucket"`
	Key      string   `json:"key"`

	// Expires is the URL validity. Zero selects the downloader default.
	Expires time.Duration `json:"expires,omitempty"`

	// ResponseContentType overrides the Content-Type returned by storage.
	ResponseContentType string `json:"response_content_type,omitempty"`

	// ResponseContentDisposition overrides the Content-Disposition returned
	// by storage, e.g. `attachment; filename="report.pdf"`.
	ResponseContentDisposition string `json:"response_content_disposition,omitempty"`
}

// UploadPlan is returned once per plan request and is not mutated afterwards.
type UploadPlan struct {
	UploadType UploadType `json:"upload_type"`

	// UploadID is the session id. It is never the provider multipart id.
	UploadID string `json:"upload_id"`

	Bucket     string   `json:"bucket"`
	Key        string   `json:"key"`
	PartSize   *int64   `json:"part_size,omitempty"`
	TotalParts *int     `json:"total_parts,omitempty"`
	PutURL     string   `json:"put_url,omitempty"`
	PartURLs   []string `json:"part_urls,omitempty"`

	// CompletePayload is the skeleton the caller sends back on completion.
	CompletePayload *CompletionPayload `json:"complete_url_payload,omitempty"`
}

// IsMultipart returns true for plans with one URL per part.
func (p *UploadPlan) IsMultipart() bool {
	return p.UploadType == UploadTypeMultiPart
}

// MultipartUploadID returns the provider multipart id carried by the plan, if any.
func (p *UploadPlan) MultipartUploadID() string {
	if p.CompletePayload == nil {
		return ""
	}
	return p.CompletePayload.MultipartUploadID
}

// CompletedPart acknowledges one uploaded part.
type CompletedPart struct {
	PartNumber int32  `json:"part_number"`
	ETag       string `json:"etag"`
}

// CompletionPayload is sent by the caller after the bytes reached storage.
type CompletionPayload struct {
	Provider  Provider `json:"provider,omitempty"`
	Bucket    string   `json:"bucket"`
	Key       string   `json:"key"`
	SessionID string   `json:"session_id"`

	// MultipartUploadID is the provider-assigned transfer id.
	MultipartUploadID string `json:"mpu_upload_id,omitempty"`

	// Parts must be complete and ordered by part number.
	Parts    []CompletedPart `json:"parts"`
	Checksum string          `json:"checksum,omitempty"`
}

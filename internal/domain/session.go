package domain

import (
	"fmt"
	"time"
)

// Error codes persisted on failed sessions.
const (
	// ErrorCodeUpload marks a session whose completion failed.
	ErrorCodeUpload = "UPLOAD_ERROR"

	// ErrorCodeAborted marks a session aborted by the caller.
	ErrorCodeAborted = "UPLOAD_ABORTED"

	// AbortedMessage is the message stored with ErrorCodeAborted.
	AbortedMessage = "Upload aborted"
)

// DefaultSessionRetention is how long a session stays queryable after it starts.
const DefaultSessionRetention = 7 * 24 * time.Hour

// UploadSession is the persisted record of one planned upload.
type UploadSession struct {
	// UploadID is the session id.
	UploadID   string     `json:"upload_id"`
	UploadType UploadType `json:"upload_type"`
	Provider   Provider   `json:"provider"`
	UserSub    string     `json:"user_sub"`
	ProjectID  string     `json:"project_id"`

	Bucket      string `json:"bucket"`
	Key         string `json:"key"`
	ContentType string `json:"content_type,omitempty"`

	// TotalParts is nil for single-part sessions.
	TotalParts    *int   `json:"total_parts,omitempty"`
	PartsReceived int    `json:"parts_received"`
	PartSize      *int64 `json:"part_size,omitempty"`

	BytesTotal    int64 `json:"bytes_total"`
	BytesUploaded int64 `json:"bytes_uploaded"`

	Status UploadStatus `json:"status"`

	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// ExpiresAt is the passive expiry. Backends may drop the record afterwards.
	ExpiresAt time.Time `json:"expires_at"`

	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`

	// MultipartUploadID is the provider-assigned transfer id, if any.
	MultipartUploadID string `json:"mpu_upload_id,omitempty"`
}

// NewUploadSession builds the initial record for a freshly planned upload.
func NewUploadSession(ctx UploadCtx, plan *UploadPlan, now time.Time, retention time.Duration) *UploadSession {
	if retention <= 0 {
		retention = DefaultSessionRetention
	}
	// Second precision keeps the sort key timestamp and started_at in agreement.
	now = now.UTC().Truncate(time.Second)

	return &UploadSession{
		UploadID:          plan.UploadID,
		UploadType:        plan.UploadType,
		Provider:          ctx.Provider,
		UserSub:           ctx.UserSub,
		ProjectID:         ctx.ProjectID,
		Bucket:            plan.Bucket,
		Key:               plan.Key,
		ContentType:       ctx.FileMeta.ContentType,
		TotalParts:        plan.TotalParts,
		PartSize:          plan.PartSize,
		BytesTotal:        ctx.FileMeta.SizeBytes,
		Status:            StatusUploading,
		StartedAt:         now,
		ExpiresAt:         now.Add(retention),
		MultipartUploadID: plan.MultipartUploadID(),
	}
}

// Validate checks the invariants every write must preserve.
func (s *UploadSession) Validate() error {
	if s.UploadID == "" {
		return NewDomainError(ErrValidation, "session id is required", "")
	}
	if s.UserSub == "" {
		return NewDomainError(ErrValidation, "user sub is required", s.UploadID)
	}
	if !s.Status.IsValid() {
		return NewDomainError(ErrValidation, "unknown upload status", string(s.Status))
	}
	if s.PartsReceived < 0 {
		return NewDomainError(ErrValidation, "parts_received cannot be negative", s.UploadID)
	}
	if s.TotalParts != nil && s.PartsReceived > *s.TotalParts {
		return NewDomainError(ErrPartsExceedTotal,
			fmt.Sprintf("%d of %d", s.PartsReceived, *s.TotalParts), s.UploadID)
	}
	return nil
}

// IsExpired returns true once the retention window has elapsed.
func (s *UploadSession) IsExpired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// Ctx rehydrates the request that planned this session.
func (s *UploadSession) Ctx(prefix, filename string) UploadCtx {
	provider := s.Provider
	if provider == "" {
		provider = ProviderAWS
	}
	projectID := s.ProjectID
	if projectID == "" {
		projectID = "default"
	}
	contentType := s.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	return UploadCtx{
		Provider:  provider,
		UserSub:   s.UserSub,
		ProjectID: projectID,
		Prefix:    prefix,
		FileMeta: FileMeta{
			Filename:    filename,
			ContentType: contentType,
			SizeBytes:   s.BytesTotal,
		},
	}
}

// Plan rehydrates the plan skeleton. Presigned URLs are not persisted.
func (s *UploadSession) Plan() *UploadPlan {
	uploadType := UploadTypeSinglePart
	if s.TotalParts != nil {
		uploadType = UploadTypeMultiPart
	}

	return &UploadPlan{
		UploadType: uploadType,
		UploadID:   s.UploadID,
		Bucket:     s.Bucket,
		Key:        s.Key,
		PartSize:   s.PartSize,
		TotalParts: s.TotalParts,
	}
}

// UploadPart records one part acknowledged by storage.
type UploadPart struct {
	SessionID  string    `json:"session_id"`
	PartNumber int32     `json:"part_number"`
	ETag       string    `json:"etag"`
	Size       int64     `json:"size"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// MaxPartNumber is the largest part number S3 accepts.
const MaxPartNumber = 10000

// Validate checks the part fields before it is recorded.
func (p *UploadPart) Validate() error {
	if p.PartNumber < 1 || p.PartNumber > MaxPartNumber {
		return NewDomainError(ErrValidation, "part number must be between 1 and 10000", p.SessionID)
	}
	if p.ETag == "" {
		return NewDomainError(ErrValidation, "part etag is required", p.SessionID)
	}
	if p.Size < 0 {
		return NewDomainError(ErrValidation, "part size cannot be negative", p.SessionID)
	}
	return nil
}

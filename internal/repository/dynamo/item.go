package dynamo

import (
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/prn-tf/alexander-uploads/internal/domain"
	"github.com/prn-tf/alexander-uploads/internal/repository"
)

// sessionItem is the stored shape of an upload session.
type sessionItem struct {
	PK     string `dynamodbav:"PK"`
	SK     string `dynamodbav:"SK"`
	GSI1PK string `dynamodbav:"GSI1PK"`
	GSI1SK string `dynamodbav:"GSI1SK"`
	GSI2PK string `dynamodbav:"GSI2PK"`
	GSI2SK string `dynamodbav:"GSI2SK"`
	GSI3PK string `dynamodbav:"GSI3PK"`
	GSI3SK string `dynamodbav:"GSI3SK"`
	Entity string `dynamodbav:"entity"`

	UploadID    string `dynamodbav:"upload_id"`
	UploadType  string `dynamodbav:"upload_type"`
	Provider    string `dynamodbav:"provider"`
	UserSub     string `dynamodbav:"user_sub"`
	ProjectID   string `dynamodbav:"project_id"`
	Bucket      string `dynamodbav:"bucket"`
	Key         string `dynamodbav:"key"`
	ContentType string `dynamodbav:"content_type,omitempty"`

	TotalParts    *int   `dynamodbav:"total_parts,omitempty"`
	PartsReceived int    `dynamodbav:"parts_received"`
	PartSize      *int64 `dynamodbav:"part_size,omitempty"`
	BytesTotal    int64  `dynamodbav:"bytes_total"`
	BytesUploaded int64  `dynamodbav:"bytes_uploaded"`

	Status      string     `dynamodbav:"status"`
	StartedAt   time.Time  `dynamodbav:"started_at"`
	CompletedAt *time.Time `dynamodbav:"completed_at,omitempty"`
	ExpiresAt   time.Time  `dynamodbav:"expires_at"`
	TTL         int64      `dynamodbav:"ttl"`

	ErrorCode         string `dynamodbav:"error_code,omitempty"`
	ErrorMessage      string `dynamodbav:"error_message,omitempty"`
	MultipartUploadID string `dynamodbav:"s3_mpu_id,omitempty"`
}

func newSessionItem(s *domain.UploadSession) *sessionItem {
	keys := repository.KeysFor(s)
	return &sessionItem{
		PK:                keys.PK,
		SK:                keys.SK,
		GSI1PK:            keys.GSI1PK,
		GSI1SK:            keys.GSI1SK,
		GSI2PK:            keys.GSI2PK,
		GSI2SK:            keys.GSI2SK,
		GSI3PK:            keys.GSI3PK,
		GSI3SK:            keys.GSI3SK,
		Entity:            repository.EntitySession,
		UploadID:          s.UploadID,
		UploadType:        string(s.UploadType),
		Provider:          string(s.Provider),
		UserSub:           s.UserSub,
		ProjectID:         s.ProjectID,
		Bucket:            s.Bucket,
		Key:               s.Key,
		ContentType:       s.ContentType,
		TotalParts:        s.TotalParts,
		PartsReceived:     s.PartsReceived,
		PartSize:          s.PartSize,
		BytesTotal:        s.BytesTotal,
		BytesUploaded:     s.BytesUploaded,
		Status:            string(s.Status),
		StartedAt:         s.StartedAt,
		CompletedAt:       s.CompletedAt,
		ExpiresAt:         s.ExpiresAt,
		TTL:               s.ExpiresAt.Unix(),
		ErrorCode:         s.ErrorCode,
		ErrorMessage:      s.ErrorMessage,
		MultipartUploadID: s.MultipartUploadID,
	}
}

func (it *sessionItem) toDomain() *domain.UploadSession {
	return &domain.UploadSession{
		UploadID:          it.UploadID,
		UploadType:        domain.UploadType(it.UploadType),
		Provider:          domain.Provider(it.Provider),
		UserSub:           it.UserSub,
		ProjectID:         it.ProjectID,
		Bucket:            it.Bucket,
		Key:               it.Key,
		ContentType:       it.ContentType,
		TotalParts:        it.TotalParts,
		PartsReceived:     it.PartsReceived,
		PartSize:          it.PartSize,
		BytesTotal:        it.BytesTotal,
		BytesUploaded:     it.BytesUploaded,
		Status:            domain.UploadStatus(it.Status),
		StartedAt:         it.StartedAt,
		CompletedAt:       it.CompletedAt,
		ExpiresAt:         it.ExpiresAt,
		ErrorCode:         it.ErrorCode,
		ErrorMessage:      it.ErrorMessage,
		MultipartUploadID: it.MultipartUploadID,
	}
}

// partItem is the stored shape of one acknowledged part.
type partItem struct {
	PK         string    `dynamodbav:"PK"`
	SK         string    `dynamodbav:"SK"`
	GSI1PK     string    `dynamodbav:"GSI1PK"`
	GSI1SK     string    `dynamodbav:"GSI1SK"`
	Entity     string    `dynamodbav:"entity"`
	UploadID   string    `dynamodbav:"upload_id"`
	PartNumber int32     `dynamodbav:"part_number"`
	ETag       string    `dynamodbav:"etag"`
	Size       int64     `dynamodbav:"size"`
	UploadedAt time.Time `dynamodbav:"uploaded_at"`
	TTL        int64     `dynamodbav:"ttl"`
}

func newPartItem(owner *sessionItem, p *domain.UploadPart) *partItem {
	return &partItem{
		PK:         owner.PK,
		SK:         repository.PartSK(p.SessionID, p.PartNumber),
		GSI1PK:     owner.GSI1PK,
		GSI1SK:     repository.PartIndexSK(p.PartNumber),
		Entity:     repository.EntityPart,
		UploadID:   p.SessionID,
		PartNumber: p.PartNumber,
		ETag:       p.ETag,
		Size:       p.Size,
		UploadedAt: p.UploadedAt,
		TTL:        owner.TTL,
	}
}

// claimItem reserves a session id across owners and start times. It points
// at the session item so lookups stay on the base table.
type claimItem struct {
	PK        string `dynamodbav:"PK"`
	SK        string `dynamodbav:"SK"`
	Entity    string `dynamodbav:"entity"`
	UploadID  string `dynamodbav:"upload_id"`
	SessionPK string `dynamodbav:"session_pk"`
	SessionSK string `dynamodbav:"session_sk"`
	TTL       int64  `dynamodbav:"ttl"`
}

func newClaimItem(it *sessionItem) *claimItem {
	key := repository.SessionIDKey(it.UploadID)
	return &claimItem{
		PK:        key,
		SK:        key,
		Entity:    repository.EntityClaim,
		UploadID:  it.UploadID,
		SessionPK: it.PK,
		SessionSK: it.SK,
		TTL:       it.TTL,
	}
}

func claimKey(sessionID string) map[string]types.AttributeValue {
	key := repository.SessionIDKey(sessionID)
	return map[string]types.AttributeValue{
		"PK": str(key),
		"SK": str(key),
	}
}

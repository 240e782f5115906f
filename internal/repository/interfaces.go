// Package repository defines data access interfaces for Alexander Uploads.
// These interfaces abstract the session store, allowing for different
// implementations (DynamoDB, SQLite, PostgreSQL) while keeping the service
// layer clean.
package repository

import (
	"context"
	"time"

	"github.com/prn-tf/alexander-uploads/internal/domain"
)

// =============================================================================
// Session Repository
// =============================================================================

// SessionRepository is the only writer of upload session state.
//
// Sessions are stored under their owner (PK=USER#<sub>) with a time-ordered
// sort key and are indexed by session id in GSI1 (UPL#<id>). Session ids are
// unique across owners and start times, and a session is readable by id as
// soon as CreateSession returns. Status-derived projections (GSI2 by status, GSI3 by owner and
// status) are rewritten in the same write as the status itself.
type SessionRepository interface {
	// CreateSession inserts a new session in state uploading.
	// Returns domain.ErrDuplicateSession if the session id is already taken.
	CreateSession(ctx context.Context, req domain.UploadCtx, plan *domain.UploadPlan) error

	// SetStatus updates the status and its projections unconditionally.
	SetStatus(ctx context.Context, sessionID string, status domain.UploadStatus) error

	// TransitionStatus updates the status only if the current status is one of from.
	// Returns domain.ErrInvalidTransition otherwise.
	TransitionStatus(ctx context.Context, sessionID string, to domain.UploadStatus, from ...domain.UploadStatus) error

	// SaveMultipartID attaches the provider multipart transfer id.
	SaveMultipartID(ctx context.Context, sessionID, mpuUploadID string) error

	// MarkAvailable records the completion time and final location and
	// clears any stored error code and message.
	MarkAvailable(ctx context.Context, sessionID, bucket, key string) error

	// MarkError moves the session into state error with a code and message.
	// With no from the move is forced. Otherwise the current status must be
	// one of from, and domain.ErrInvalidTransition is returned if it is not.
	MarkError(ctx context.Context, sessionID, code, message string, from ...domain.UploadStatus) error

	// GetCtx rehydrates the upload request of a session.
	GetCtx(ctx context.Context, sessionID string) (*domain.UploadCtx, error)

	// GetPlan rehydrates the plan skeleton of a session.
	GetPlan(ctx context.Context, sessionID string) (*domain.UploadPlan, error)

	// GetSession returns the full session record.
	GetSession(ctx context.Context, sessionID string) (*domain.UploadSession, error)

	// GetMultipartID returns the provider transfer id, or "" if none is stored.
	GetMultipartID(ctx context.Context, sessionID string) (string, error)

	// AbortMultipart aborts the provider transfer if one is stored.
	// Returns whether an abort was sent. A missing transfer id is not an error.
	AbortMultipart(ctx context.Context, sessionID string) (bool, error)

	// RecordPart stores a part acknowledgment and increments parts_received.
	// Returns domain.ErrPartsExceedTotal when total_parts would be exceeded
	// and domain.ErrDuplicatePart when the part number is already recorded.
	RecordPart(ctx context.Context, part *domain.UploadPart) error

	// ListByStatus returns sessions in status, newest first.
	ListByStatus(ctx context.Context, status domain.UploadStatus, opts ListOptions) (*ListResult[domain.UploadSession], error)

	// ListByOwnerStatus returns sessions of userSub in status, newest first.
	ListByOwnerStatus(ctx context.Context, userSub string, status domain.UploadStatus, opts ListOptions) (*ListResult[domain.UploadSession], error)

	// Ping checks the store is reachable.
	Ping(ctx context.Context) error
}

// Every lookup-by-id method returns domain.ErrSessionNotFound when no live
// session matches. Expired sessions are treated as missing.

// =============================================================================
// Common Types
// =============================================================================

// ListOptions contains common options for list operations.
type ListOptions struct {
	// Limit is the maximum number of records to return.
	Limit int

	// Cursor continues a previous listing. It is opaque and backend-specific.
	Cursor string
}

// DefaultListLimit is used when ListOptions.Limit is not positive.
const DefaultListLimit = 100

// MaxListLimit caps ListOptions.Limit.
const MaxListLimit = 1000

// EffectiveLimit returns the limit clamped to [1, MaxListLimit].
func (o ListOptions) EffectiveLimit() int {
	switch {
	case o.Limit <= 0:
		return DefaultListLimit
	case o.Limit > MaxListLimit:
		return MaxListLimit
	}
	return o.Limit
}

// ListResult is a generic paginated list result.
type ListResult[T any] struct {
	// Items is the list of items.
	Items []*T

	// NextCursor continues the listing. Empty when there are no more items.
	NextCursor string
}

// Options configures behavior shared by every session store.
type Options struct {
	// Retention is the passive expiry window of a session.
	Retention time.Duration

	// Aborter reaches the storage provider on AbortMultipart. When nil,
	// AbortMultipart never contacts storage.
	Aborter MultipartAborter

	// Now overrides the clock. Used by tests.
	Now func() time.Time
}

// WithDefaults fills unset options.
func (o Options) WithDefaults() Options {
	if o.Retention <= 0 {
		o.Retention = domain.DefaultSessionRetention
	}
	if o.Now == nil {
		o.Now = func() time.Time { return time.Now().UTC() }
	}
	return o
}

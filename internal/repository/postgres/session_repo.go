package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/prn-tf/alexander-uploads/internal/domain"
	"github.com/prn-tf/alexander-uploads/internal/repository"
	"github.com/prn-tf/alexander-uploads/internal/storage"
)

// sessionRepository implements repository.SessionRepository for PostgreSQL.
type sessionRepository struct {
	db     *DB
	opts   repository.Options
	logger zerolog.Logger
}

// NewSessionRepository creates a new PostgreSQL session repository.
func NewSessionRepository(db *DB, opts repository.Options, logger zerolog.Logger) repository.SessionRepository {
	return &sessionRepository{
		db:     db,
		opts:   opts.WithDefaults(),
		logger: logger.With().Str("component", "postgres_sessions").Logger(),
	}
}

const sessionColumns = `
	sk, upload_id, upload_type, provider, user_sub, project_id, bucket, object_key, content_type,
	total_parts, parts_received, part_size, bytes_total, bytes_uploaded, status,
	started_at, completed_at, expires_at, error_code, error_message, mpu_upload_id`

// CreateSession inserts a new session.
func (r *sessionRepository) CreateSession(ctx context.Context, req domain.UploadCtx, plan *domain.UploadPlan) error {
	s := domain.NewUploadSession(req, plan, r.opts.Now(), r.opts.Retention)
	if err := s.Validate(); err != nil {
		return err
	}
	keys := repository.KeysFor(s)

	query := `
		INSERT INTO upload_sessions (
			pk, sk, gsi1pk, gsi2pk, gsi2sk, gsi3pk, gsi3sk,
			upload_id, upload_type, provider, user_sub, project_id, bucket, object_key, content_type,
			total_parts, parts_received, part_size, bytes_total, bytes_uploaded, status,
			started_at, expires_at, mpu_upload_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24)
	`

	_, err := r.db.Pool.Exec(ctx, query,
		keys.PK, keys.SK, keys.GSI1PK, keys.GSI2PK, keys.GSI2SK, keys.GSI3PK, keys.GSI3SK,
		s.UploadID, string(s.UploadType), string(s.Provider), s.UserSub, s.ProjectID, s.Bucket, s.Key,
		nullable(s.ContentType),
		s.TotalParts, s.PartsReceived, s.PartSize, s.BytesTotal, s.BytesUploaded, string(s.Status),
		s.StartedAt, s.ExpiresAt, nullable(s.MultipartUploadID),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.NewDomainError(domain.ErrDuplicateSession, "session already exists", s.UploadID)
		}
		return domain.BackendError("insert session", err)
	}

	r.logger.Debug().Str("session_id", s.UploadID).Str("upload_type", string(s.UploadType)).Msg("session created")
	return nil
}

// SetStatus updates the status unconditionally.
func (r *sessionRepository) SetStatus(ctx context.Context, sessionID string, status domain.UploadStatus) error {
	return r.TransitionStatus(ctx, sessionID, status)
}

// TransitionStatus updates the status when the current one is in from.
func (r *sessionRepository) TransitionStatus(ctx context.Context, sessionID string, to domain.UploadStatus, from ...domain.UploadStatus) error {
	if !to.IsValid() {
		return domain.NewDomainError(domain.ErrValidation, "unknown upload status", string(to))
	}

	s, sk, err := r.lookup(ctx, r.db.Pool, sessionID)
	if err != nil {
		return err
	}

	p := projection(s, sk, to)
	query := `
		UPDATE upload_sessions
		SET status = $1, gsi2pk = $2, gsi2sk = $3, gsi3pk = $4, gsi3sk = $5
		WHERE gsi1pk = $6 AND (cardinality($7::text[]) = 0 OR status = ANY($7::text[]))
	`
	allowed := make([]string, len(from))
	for i, st := range from {
		allowed[i] = string(st)
	}

	tag, err := r.db.Pool.Exec(ctx, query,
		string(to), p.GSI2PK, p.GSI2SK, p.GSI3PK, p.GSI3SK, repository.SessionIDKey(sessionID), allowed)
	if err != nil {
		return domain.BackendError("update status", err)
	}
	if tag.RowsAffected() == 0 {
		if len(from) == 0 {
			return domain.NewDomainError(domain.ErrSessionNotFound, "session disappeared", sessionID)
		}
		return domain.NewDomainError(domain.ErrInvalidTransition,
			fmt.Sprintf("cannot move from %s to %s", s.Status, to), sessionID)
	}
	return nil
}

// SaveMultipartID attaches the provider transfer id.
func (r *sessionRepository) SaveMultipartID(ctx context.Context, sessionID, mpuUploadID string) error {
	return r.updateLive(ctx, sessionID,
		`UPDATE upload_sessions SET mpu_upload_id = $1 WHERE gsi1pk = $2`,
		mpuUploadID)
}

// MarkAvailable records the completion time and final location and clears
// any stored error.
func (r *sessionRepository) MarkAvailable(ctx context.Context, sessionID, bucket, key string) error {
	return r.updateLive(ctx, sessionID,
		`UPDATE upload_sessions
		 SET completed_at = $1, bucket = $2, object_key = $3, bytes_uploaded = bytes_total,
		     error_code = NULL, error_message = NULL
		 WHERE gsi1pk = $4`,
		r.opts.Now().UTC(), bucket, key)
}

// MarkError moves the session to error and stores the code and message.
// With no from it is forced; otherwise the current status must be in from.
func (r *sessionRepository) MarkError(ctx context.Context, sessionID, code, message string, from ...domain.UploadStatus) error {
	s, sk, err := r.lookup(ctx, r.db.Pool, sessionID)
	if err != nil {
		return err
	}

	allowed := make([]string, len(from))
	for i, st := range from {
		allowed[i] = string(st)
	}

	p := projection(s, sk, domain.StatusError)
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE upload_sessions
		SET status = $1, gsi2pk = $2, gsi2sk = $3, gsi3pk = $4, gsi3sk = $5, error_code = $6, error_message = $7
		WHERE gsi1pk = $8 AND (cardinality($9::text[]) = 0 OR status = ANY($9::text[]))
	`, string(domain.StatusError), p.GSI2PK, p.GSI2SK, p.GSI3PK, p.GSI3SK, code, message,
		repository.SessionIDKey(sessionID), allowed)
	if err != nil {
		return domain.BackendError("mark error", err)
	}
	if tag.RowsAffected() == 0 {
		if len(from) == 0 {
			return domain.NewDomainError(domain.ErrSessionNotFound, "session disappeared", sessionID)
		}
		return domain.NewDomainError(domain.ErrInvalidTransition,
			fmt.Sprintf("cannot move from %s to %s", s.Status, domain.StatusError), sessionID)
	}

	r.logger.Info().Str("session_id", sessionID).Str("error_code", code).Msg("session marked as error")
	return nil
}

// RecordPart stores the part and bumps the counters in one transaction.
// The session row is locked so concurrent parts serialize on the cap check.
func (r *sessionRepository) RecordPart(ctx context.Context, part *domain.UploadPart) error {
	if err := part.Validate(); err != nil {
		return err
	}
	if part.UploadedAt.IsZero() {
		part.UploadedAt = r.opts.Now().UTC()
	}

	return r.db.WithTx(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		if _, _, err := r.lookup(ctx, tx, part.SessionID, "FOR UPDATE"); err != nil {
			return err
		}

		tag, err := tx.Exec(ctx, `
			UPDATE upload_sessions
			SET parts_received = parts_received + 1, bytes_uploaded = bytes_uploaded + $1
			WHERE gsi1pk = $2 AND (total_parts IS NULL OR parts_received < total_parts)
		`, part.Size, repository.SessionIDKey(part.SessionID))
		if err != nil {
			if isCheckViolation(err) {
				return domain.NewDomainError(domain.ErrPartsExceedTotal, fmt.Sprintf("part %d", part.PartNumber), part.SessionID)
			}
			return domain.BackendError("update parts_received", err)
		}
		if tag.RowsAffected() == 0 {
			return domain.NewDomainError(domain.ErrPartsExceedTotal, fmt.Sprintf("part %d", part.PartNumber), part.SessionID)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO upload_parts (upload_id, part_number, etag, size, uploaded_at)
			VALUES ($1, $2, $3, $4, $5)
		`, part.SessionID, part.PartNumber, part.ETag, part.Size, part.UploadedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return domain.NewDomainError(domain.ErrDuplicatePart, fmt.Sprintf("part %d", part.PartNumber), part.SessionID)
			}
			return domain.BackendError("insert part", err)
		}
		return nil
	})
}

// AbortMultipart aborts the stored provider transfer, if any.
func (r *sessionRepository) AbortMultipart(ctx context.Context, sessionID string) (bool, error) {
	s, _, err := r.lookup(ctx, r.db.Pool, sessionID)
	if err != nil {
		return false, err
	}
	return repository.AbortSessionUpload(ctx, r.opts.Aborter, s)
}

// GetSession returns the full session record.
func (r *sessionRepository) GetSession(ctx context.Context, sessionID string) (*domain.UploadSession, error) {
	s, _, err := r.lookup(ctx, r.db.Pool, sessionID)
	return s, err
}

// GetCtx rehydrates the upload request of a session.
func (r *sessionRepository) GetCtx(ctx context.Context, sessionID string) (*domain.UploadCtx, error) {
	s, err := r.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	prefix, filename := storage.SplitKey(s.Key)
	uc := s.Ctx(prefix, filename)
	return &uc, nil
}

// GetPlan rehydrates the plan skeleton of a session.
func (r *sessionRepository) GetPlan(ctx context.Context, sessionID string) (*domain.UploadPlan, error) {
	s, err := r.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return s.Plan(), nil
}

// GetMultipartID returns the provider transfer id, or "".
func (r *sessionRepository) GetMultipartID(ctx context.Context, sessionID string) (string, error) {
	s, err := r.GetSession(ctx, sessionID)
	if err != nil {
		return "", err
	}
	return s.MultipartUploadID, nil
}

// ListByStatus lists sessions in status, newest first.
func (r *sessionRepository) ListByStatus(ctx context.Context, status domain.UploadStatus, opts repository.ListOptions) (*repository.ListResult[domain.UploadSession], error) {
	return r.list(ctx, "gsi2pk", "gsi2sk", repository.StatusKey(status), opts)
}

// ListByOwnerStatus lists sessions of userSub in status, newest first.
func (r *sessionRepository) ListByOwnerStatus(ctx context.Context, userSub string, status domain.UploadStatus, opts repository.ListOptions) (*repository.ListResult[domain.UploadSession], error) {
	return r.list(ctx, "gsi3pk", "gsi3sk", repository.OwnerStatusKey(userSub, status), opts)
}

// Ping checks the database connection.
func (r *sessionRepository) Ping(ctx context.Context) error {
	return domain.BackendError("ping", r.db.Ping(ctx))
}

func (r *sessionRepository) list(ctx context.Context, pkCol, skCol, pk string, opts repository.ListOptions) (*repository.ListResult[domain.UploadSession], error) {
	after, err := repository.DecodeSortCursor(opts.Cursor)
	if err != nil {
		return nil, err
	}
	limit := opts.EffectiveLimit()

	query := fmt.Sprintf(`
		SELECT %[2]s, %[3]s FROM upload_sessions
		WHERE %[1]s = $1 AND expires_at > $2 AND ($3::text = '' OR %[2]s < $3::text)
		ORDER BY %[2]s DESC
		LIMIT $4
	`, pkCol, skCol, sessionColumns)

	rows, err := r.db.Pool.Query(ctx, query, pk, r.opts.Now(), after, limit+1)
	if err != nil {
		return nil, domain.BackendError("list sessions", err)
	}
	defer rows.Close()

	result := &repository.ListResult[domain.UploadSession]{}
	var sortKeys []string
	for rows.Next() {
		var indexSK string
		s, _, err := scanSession(rows, &indexSK)
		if err != nil {
			return nil, err
		}
		result.Items = append(result.Items, s)
		sortKeys = append(sortKeys, indexSK)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.BackendError("list sessions", err)
	}

	if len(result.Items) > limit {
		result.Items = result.Items[:limit]
		result.NextCursor = repository.EncodeSortCursor(sortKeys[limit-1])
	}
	return result, nil
}

// =============================================================================
// Helpers
// =============================================================================

// lookup resolves a session id through the gsi1pk unique index.
func (r *sessionRepository) lookup(ctx context.Context, q Querier, sessionID string, suffix ...string) (*domain.UploadSession, string, error) {
	if sessionID == "" {
		return nil, "", domain.NewDomainError(domain.ErrValidation, "session id is required", "")
	}

	query := `SELECT ` + sessionColumns + ` FROM upload_sessions WHERE gsi1pk = $1`
	for _, s := range suffix {
		query += " " + s
	}

	s, sk, err := scanSession(q.QueryRow(ctx, query, repository.SessionIDKey(sessionID)))
	if err != nil {
		if isNoRows(err) {
			return nil, "", domain.NewDomainError(domain.ErrSessionNotFound, "no session", sessionID)
		}
		return nil, "", err
	}
	if s.IsExpired(r.opts.Now()) {
		return nil, "", domain.NewDomainError(domain.ErrSessionNotFound, "session expired", sessionID)
	}
	return s, sk, nil
}

func (r *sessionRepository) updateLive(ctx context.Context, sessionID, query string, args ...any) error {
	if _, _, err := r.lookup(ctx, r.db.Pool, sessionID); err != nil {
		return err
	}

	args = append(args, repository.SessionIDKey(sessionID))
	tag, err := r.db.Pool.Exec(ctx, query, args...)
	if err != nil {
		return domain.BackendError("update session", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewDomainError(domain.ErrSessionNotFound, "session disappeared", sessionID)
	}
	return nil
}

func projection(s *domain.UploadSession, sk string, status domain.UploadStatus) repository.StatusProjection {
	ts, err := repository.TimestampFromSK(sk)
	if err != nil {
		ts = repository.Timestamp(s.StartedAt)
	}
	return repository.ProjectionFor(ts, s.UserSub, s.UploadID, status)
}

// scanSession reads sessionColumns, preceded by any extra destinations.
func scanSession(row pgx.Row, extra ...any) (*domain.UploadSession, string, error) {
	s := &domain.UploadSession{}
	var (
		sk, uploadType, provider, status string
		contentType, errorCode           *string
		errorMessage, mpuID              *string
		totalParts                       *int32
		startedAt, expiresAt             time.Time
	)

	dest := append(extra,
		&sk, &s.UploadID, &uploadType, &provider, &s.UserSub, &s.ProjectID, &s.Bucket, &s.Key, &contentType,
		&totalParts, &s.PartsReceived, &s.PartSize, &s.BytesTotal, &s.BytesUploaded, &status,
		&startedAt, &s.CompletedAt, &expiresAt, &errorCode, &errorMessage, &mpuID,
	)
	if err := row.Scan(dest...); err != nil {
		if isNoRows(err) {
			return nil, "", err
		}
		return nil, "", domain.BackendError("scan session", err)
	}

	s.UploadType = domain.UploadType(uploadType)
	s.Provider = domain.Provider(provider)
	s.Status = domain.UploadStatus(status)
	s.StartedAt = startedAt.UTC()
	s.ExpiresAt = expiresAt.UTC()
	s.ContentType = deref(contentType)
	s.ErrorCode = deref(errorCode)
	s.ErrorMessage = deref(errorMessage)
	s.MultipartUploadID = deref(mpuID)
	if totalParts != nil {
		v := int(*totalParts)
		s.TotalParts = &v
	}

	return s, sk, nil
}

func nullable(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

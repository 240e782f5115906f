package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/prn-tf/alexander-uploads/internal/domain"
	"github.com/prn-tf/alexander-uploads/internal/repository"
	"github.com/prn-tf/alexander-uploads/internal/storage"
)

// sessionRepository implements repository.SessionRepository for SQLite.
type sessionRepository struct {
	db     *DB
	opts   repository.Options
	logger zerolog.Logger
}

// NewSessionRepository creates a new SQLite session repository.
func NewSessionRepository(db *DB, opts repository.Options, logger zerolog.Logger) repository.SessionRepository {
	return &sessionRepository{
		db:     db,
		opts:   opts.WithDefaults(),
		logger: logger.With().Str("component", "sqlite_sessions").Logger(),
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
			started_at, expires_at, ttl, mpu_upload_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, query,
		keys.PK, keys.SK, keys.GSI1PK, keys.GSI2PK, keys.GSI2SK, keys.GSI3PK, keys.GSI3SK,
		s.UploadID, string(s.UploadType), string(s.Provider), s.UserSub, s.ProjectID, s.Bucket, s.Key,
		nullString(s.ContentType),
		nullInt(s.TotalParts), s.PartsReceived, nullInt64(s.PartSize), s.BytesTotal, s.BytesUploaded,
		string(s.Status),
		s.StartedAt.Format(time.RFC3339), s.ExpiresAt.Format(time.RFC3339), s.ExpiresAt.Unix(),
		nullString(s.MultipartUploadID),
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

	s, sk, err := r.lookup(ctx, sessionID)
	if err != nil {
		return err
	}

	set, args := statusSet(s, sk, to)
	query := `UPDATE upload_sessions SET ` + set + ` WHERE gsi1pk = ?`
	args = append(args, repository.SessionIDKey(sessionID))
	if len(from) > 0 {
		query += ` AND status IN (` + placeholders(len(from)) + `)`
		for _, st := range from {
			args = append(args, string(st))
		}
	}

	n, err := r.exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if n == 0 {
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
	return r.updateLive(ctx, sessionID, `mpu_upload_id = ?`, mpuUploadID)
}

// MarkAvailable records the completion time and final location and clears
// any stored error.
func (r *sessionRepository) MarkAvailable(ctx context.Context, sessionID, bucket, key string) error {
	return r.updateLive(ctx, sessionID,
		`completed_at = ?, bucket = ?, object_key = ?, bytes_uploaded = bytes_total, error_code = NULL, error_message = NULL`,
		r.opts.Now().UTC().Format(time.RFC3339), bucket, key)
}

// MarkError moves the session to error and stores the code and message.
// With no from it is forced; otherwise the current status must be in from.
func (r *sessionRepository) MarkError(ctx context.Context, sessionID, code, message string, from ...domain.UploadStatus) error {
	s, sk, err := r.lookup(ctx, sessionID)
	if err != nil {
		return err
	}

	set, args := statusSet(s, sk, domain.StatusError)
	query := `UPDATE upload_sessions SET ` + set + `, error_code = ?, error_message = ? WHERE gsi1pk = ?`
	args = append(args, code, message, repository.SessionIDKey(sessionID))
	if len(from) > 0 {
		query += ` AND status IN (` + placeholders(len(from)) + `)`
		for _, st := range from {
			args = append(args, string(st))
		}
	}

	n, err := r.exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if n == 0 {
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
func (r *sessionRepository) RecordPart(ctx context.Context, part *domain.UploadPart) error {
	if err := part.Validate(); err != nil {
		return err
	}
	if _, _, err := r.lookup(ctx, part.SessionID); err != nil {
		return err
	}
	if part.UploadedAt.IsZero() {
		part.UploadedAt = r.opts.Now().UTC()
	}

	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO upload_parts (upload_id, part_number, etag, size, uploaded_at)
			VALUES (?, ?, ?, ?, ?)
		`, part.SessionID, part.PartNumber, part.ETag, part.Size, part.UploadedAt.Format(time.RFC3339))
		if err != nil {
			if isUniqueViolation(err) {
				return domain.NewDomainError(domain.ErrDuplicatePart,
					fmt.Sprintf("part %d", part.PartNumber), part.SessionID)
			}
			return domain.BackendError("insert part", err)
		}

		result, err := tx.ExecContext(ctx, `
			UPDATE upload_sessions
			SET parts_received = parts_received + 1, bytes_uploaded = bytes_uploaded + ?
			WHERE gsi1pk = ? AND (total_parts IS NULL OR parts_received < total_parts)
		`, part.Size, repository.SessionIDKey(part.SessionID))
		if err != nil {
			return domain.BackendError("update parts_received", err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return domain.NewDomainError(domain.ErrPartsExceedTotal,
				fmt.Sprintf("part %d", part.PartNumber), part.SessionID)
		}
		return nil
	})
}

// AbortMultipart aborts the stored provider transfer, if any.
func (r *sessionRepository) AbortMultipart(ctx context.Context, sessionID string) (bool, error) {
	s, _, err := r.lookup(ctx, sessionID)
	if err != nil {
		return false, err
	}
	return repository.AbortSessionUpload(ctx, r.opts.Aborter, s)
}

// GetSession returns the full session record.
func (r *sessionRepository) GetSession(ctx context.Context, sessionID string) (*domain.UploadSession, error) {
	s, _, err := r.lookup(ctx, sessionID)
	return s, err
}

// GetCtx rehydrates the upload request of a session.
func (r *sessionRepository) GetCtx(ctx context.Context, sessionID string) (*domain.UploadCtx, error) {
	s, _, err := r.lookup(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	prefix, filename := storage.SplitKey(s.Key)
	uc := s.Ctx(prefix, filename)
	return &uc, nil
}

// GetPlan rehydrates the plan skeleton of a session.
func (r *sessionRepository) GetPlan(ctx context.Context, sessionID string) (*domain.UploadPlan, error) {
	s, _, err := r.lookup(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return s.Plan(), nil
}

// GetMultipartID returns the provider transfer id, or "".
func (r *sessionRepository) GetMultipartID(ctx context.Context, sessionID string) (string, error) {
	s, _, err := r.lookup(ctx, sessionID)
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

	query := `SELECT ` + skCol + `, ` + sessionColumns + ` FROM upload_sessions WHERE ` + pkCol + ` = ? AND ttl > ?`
	args := []any{pk, r.opts.Now().Unix()}
	if after != "" {
		query += ` AND ` + skCol + ` < ?`
		args = append(args, after)
	}
	query += ` ORDER BY ` + skCol + ` DESC LIMIT ?`
	args = append(args, limit+1)

	rows, err := r.db.QueryContext(ctx, query, args...)
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

// lookup resolves a session id through the gsi1pk index.
func (r *sessionRepository) lookup(ctx context.Context, sessionID string) (*domain.UploadSession, string, error) {
	if sessionID == "" {
		return nil, "", domain.NewDomainError(domain.ErrValidation, "session id is required", "")
	}

	row := r.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM upload_sessions WHERE gsi1pk = ?`,
		repository.SessionIDKey(sessionID))

	s, sk, err := scanSession(row)
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

// updateLive applies set to a live session.
func (r *sessionRepository) updateLive(ctx context.Context, sessionID, set string, args ...any) error {
	if _, _, err := r.lookup(ctx, sessionID); err != nil {
		return err
	}

	args = append(args, repository.SessionIDKey(sessionID))
	n, err := r.exec(ctx, `UPDATE upload_sessions SET `+set+` WHERE gsi1pk = ?`, args...)
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.NewDomainError(domain.ErrSessionNotFound, "session disappeared", sessionID)
	}
	return nil
}

func (r *sessionRepository) exec(ctx context.Context, query string, args ...any) (int64, error) {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, domain.BackendError("update session", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, domain.BackendError("update session", err)
	}
	return n, nil
}

// statusSet returns the SET clause for a status and its projections.
func statusSet(s *domain.UploadSession, sk string, status domain.UploadStatus) (string, []any) {
	ts, err := repository.TimestampFromSK(sk)
	if err != nil {
		ts = repository.Timestamp(s.StartedAt)
	}
	p := repository.ProjectionFor(ts, s.UserSub, s.UploadID, status)
	return `status = ?, gsi2pk = ?, gsi2sk = ?, gsi3pk = ?, gsi3sk = ?`,
		[]any{string(status), p.GSI2PK, p.GSI2SK, p.GSI3PK, p.GSI3SK}
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

type scanner interface {
	Scan(dest ...any) error
}

// scanSession reads sessionColumns, preceded by any extra destinations.
func scanSession(row scanner, extra ...any) (*domain.UploadSession, string, error) {
	s := &domain.UploadSession{}
	var (
		sk, uploadType, provider, status string
		startedAt, expiresAt             string
		contentType, completedAt         sql.NullString
		errorCode, errorMessage, mpuID   sql.NullString
		totalParts, partSize             sql.NullInt64
	)

	dest := append(extra,
		&sk, &s.UploadID, &uploadType, &provider, &s.UserSub, &s.ProjectID, &s.Bucket, &s.Key, &contentType,
		&totalParts, &s.PartsReceived, &partSize, &s.BytesTotal, &s.BytesUploaded, &status,
		&startedAt, &completedAt, &expiresAt, &errorCode, &errorMessage, &mpuID,
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
	s.ContentType = contentType.String
	s.ErrorCode = errorCode.String
	s.ErrorMessage = errorMessage.String
	s.MultipartUploadID = mpuID.String
	if totalParts.Valid {
		v := int(totalParts.Int64)
		s.TotalParts = &v
	}
	if partSize.Valid {
		v := partSize.Int64
		s.PartSize = &v
	}

	s.StartedAt, _ = time.Parse(time.RFC3339, startedAt)
	s.ExpiresAt, _ = time.Parse(time.RFC3339, expiresAt)
	if completedAt.Valid {
		t, _ := time.Parse(time.RFC3339, completedAt.String)
		s.CompletedAt = &t
	}

	return s, sk, nil
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

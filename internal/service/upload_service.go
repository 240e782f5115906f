package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/prn-tf/alexander-uploads/internal/domain"
	"github.com/prn-tf/alexander-uploads/internal/lock"
	"github.com/prn-tf/alexander-uploads/internal/metrics"
	"github.com/prn-tf/alexander-uploads/internal/repository"
	"github.com/prn-tf/alexander-uploads/internal/storage"
	"github.com/prn-tf/alexander-uploads/internal/uploader"
	"github.com/prn-tf/alexander-uploads/internal/validator"
)

// Operation names used for metrics and logs.
const (
	opPlan     = "plan"
	opComplete = "complete"
	opAbort    = "abort"
	opPresign  = "presign_download"
	opPart     = "record_part"
)

// Defaults for Config.
const (
	DefaultLockTTL          = 2 * time.Minute
	DefaultOperationTimeout = 30 * time.Second
	DefaultPlanRetries      = 1

	partLockRetries    = 20
	partLockRetryDelay = 50 * time.Millisecond
)

// Config holds the tunables of UploadService.
type Config struct {
	// LockTTL bounds how long a completion or abort may hold a session lock.
	LockTTL time.Duration

	// PlanRetries is how many times a plan is redone after a duplicate session id.
	PlanRetries int

	// OperationTimeout bounds each call. Zero disables the bound.
	OperationTimeout time.Duration

	// Now overrides the clock. Used by tests.
	Now func() time.Time
}

func (c Config) withDefaults() Config {
	if c.LockTTL <= 0 {
		c.LockTTL = DefaultLockTTL
	}
	if c.PlanRetries < 0 {
		c.PlanRetries = 0
	}
	if c.Now == nil {
		c.Now = func() time.Time { return time.Now().UTC() }
	}
	return c
}

// Dependencies groups the collaborators of UploadService.
type Dependencies struct {
	UploadValidators   []validator.UploadValidator
	DownloadValidators []validator.DownloadValidator
	Uploaders          *uploader.UploaderFactory
	Downloaders        *uploader.DownloaderFactory
	Sessions           repository.SessionRepository

	// Aborter releases provider transfers of plans that could not be stored.
	// Optional.
	Aborter repository.MultipartAborter

	Locker  lock.Locker
	Metrics *metrics.Metrics
}

// UploadService orchestrates planning, completion, abort and download
// presigning of direct-to-storage uploads.
type UploadService struct {
	uploadValidators   []validator.UploadValidator
	downloadValidators []validator.DownloadValidator
	uploaders          *uploader.UploaderFactory
	downloaders        *uploader.DownloaderFactory
	sessions           repository.SessionRepository
	aborter            repository.MultipartAborter
	locker             lock.Locker
	metrics            *metrics.Metrics
	config             Config
	logger             zerolog.Logger
}

// NewUploadService creates a new UploadService.
func NewUploadService(deps Dependencies, config Config, logger zerolog.Logger) *UploadService {
	locker := deps.Locker
	if locker == nil {
		locker = lock.NewNoOpLocker()
	}

	return &UploadService{
		uploadValidators:   deps.UploadValidators,
		downloadValidators: deps.DownloadValidators,
		uploaders:          deps.Uploaders,
		downloaders:        deps.Downloaders,
		sessions:           deps.Sessions,
		aborter:            deps.Aborter,
		locker:             locker,
		metrics:            deps.Metrics,
		config:             config.withDefaults(),
		logger:             logger.With().Str("service", "upload").Logger(),
	}
}

// =============================================================================
// Input/Output Structs
// =============================================================================

// CompleteUploadOutput describes a completed upload.
type CompleteUploadOutput struct {
	UploadID string              `json:"upload_id"`
	Bucket   string              `json:"bucket"`
	Key      string              `json:"key"`
	Status   domain.UploadStatus `json:"status"`
}

// AbortUploadOutput describes an aborted upload.
type AbortUploadOutput struct {
	UploadID string `json:"upload_id"`

	// MultipartAborted reports whether a provider transfer was cancelled.
	MultipartAborted bool                `json:"multipart_aborted"`
	Status           domain.UploadStatus `json:"status"`
}

// PresignDownloadOutput carries a delegated read URL.
type PresignDownloadOutput struct {
	URL string `json:"url"`
}

// ListSessionsInput selects sessions by status, optionally for one owner.
type ListSessionsInput struct {
	Status  domain.UploadStatus
	UserSub string
	Limit   int
	Cursor  string
}

// ListSessionsOutput is one page of sessions.
type ListSessionsOutput struct {
	Sessions   []*domain.UploadSession `json:"sessions"`
	NextCursor string                  `json:"next_cursor,omitempty"`
}

// =============================================================================
// Plan
// =============================================================================

// PlanUpload validates req, plans it with the strategy selected for its
// provider and size, and persists the new session.
// A validation failure persists nothing.
func (s *UploadService) PlanUpload(ctx context.Context, req domain.UploadCtx) (plan *domain.UploadPlan, err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveOperation(opPlan, start, err) }()

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if req.ProjectID == "" {
		req.ProjectID = "default"
	}
	if req.Prefix == "" {
		req.Prefix = storage.ComputePrefix(req.UserSub, req.ProjectID, s.config.Now())
	}

	if err := validator.RunUpload(ctx, s.uploadValidators, req); err != nil {
		return nil, err
	}

	strategy, err := s.uploaders.ForCtx(req)
	if err != nil {
		return nil, err
	}

	for attempt := 0; ; attempt++ {
		plan, err = strategy.Plan(ctx, req)
		if err != nil {
			return nil, err
		}

		err = s.sessions.CreateSession(ctx, req, plan)
		if err == nil {
			break
		}
		s.discardPlan(ctx, plan)

		if !errors.Is(err, domain.ErrDuplicateSession) || attempt >= s.config.PlanRetries {
			return nil, err
		}
		s.logger.Warn().
			Str("session_id", plan.UploadID).
			Int("attempt", attempt+1).
			Msg("session id already taken, planning again")
	}

	if plan.IsMultipart() {
		if err := s.sessions.SaveMultipartID(ctx, plan.UploadID, plan.MultipartUploadID()); err != nil {
			return nil, err
		}
	}
	if err := s.sessions.SetStatus(ctx, plan.UploadID, domain.StatusUploading); err != nil {
		return nil, err
	}

	putURLs := 0
	if plan.PutURL != "" {
		putURLs = 1
	}
	s.metrics.RecordPlan(string(plan.UploadType), putURLs, len(plan.PartURLs))

	s.logger.Info().
		Str("session_id", plan.UploadID).
		Str("upload_type", string(plan.UploadType)).
		Str("user_sub", req.UserSub).
		Int64("size_bytes", req.FileMeta.SizeBytes).
		Msg("upload planned")

	return plan, nil
}

// discardPlan releases the provider transfer of a plan that was never stored.
func (s *UploadService) discardPlan(ctx context.Context, plan *domain.UploadPlan) {
	mpuID := plan.MultipartUploadID()
	if mpuID == "" || s.aborter == nil {
		return
	}
	if err := s.aborter.AbortMultipartUpload(ctx, plan.Bucket, plan.Key, mpuID); err != nil {
		s.logger.Warn().
			Err(err).
			Str("session_id", plan.UploadID).
			Str("mpu_upload_id", mpuID).
			Msg("failed to abort multipart upload of discarded plan")
	}
}

// =============================================================================
// Complete
// =============================================================================

// CompleteUpload finalizes the transfer described by payload.
//
// Any failure after the session lookups is persisted on the session as
// UPLOAD_ERROR and returned wrapped with domain.ErrUpload.
func (s *UploadService) CompleteUpload(ctx context.Context, payload domain.CompletionPayload) (out *CompleteUploadOutput, err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveOperation(opComplete, start, err) }()

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	sessionID := payload.SessionID
	if sessionID == "" {
		return nil, ErrMissingSession
	}

	release, err := s.lockSession(ctx, sessionID, 0)
	if err != nil {
		return nil, err
	}
	defer release()

	uctx, err := s.sessions.GetCtx(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	plan, err := s.sessions.GetPlan(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if err := s.sessions.TransitionStatus(ctx, sessionID, domain.StatusCompleting,
		domain.StatusUploading, domain.StatusCompleting); err != nil {
		return nil, err
	}

	if payload.Bucket == "" {
		payload.Bucket = plan.Bucket
	}
	if payload.Key == "" {
		payload.Key = plan.Key
	}
	if payload.Provider == "" {
		payload.Provider = uctx.Provider
	}

	if err := s.complete(ctx, uctx.Provider, plan.UploadType, payload); err != nil {
		return nil, s.failCompletion(ctx, sessionID, err)
	}

	// Only a session still in completing may become available. An abort
	// that claimed it meanwhile keeps its error state.
	if err := s.sessions.TransitionStatus(ctx, sessionID, domain.StatusAvailable, domain.StatusCompleting); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			s.logger.Warn().
				Str("session_id", sessionID).
				Msg("session left completing while the transfer was finalized")
			return nil, fmt.Errorf("%w: %w", domain.ErrUpload, err)
		}
		return nil, s.failCompletion(ctx, sessionID, err)
	}
	if err := s.sessions.MarkAvailable(ctx, sessionID, payload.Bucket, payload.Key); err != nil {
		s.logger.Error().
			Err(err).
			Str("session_id", sessionID).
			Msg("failed to record completion details")
		return nil, fmt.Errorf("%w: %w", domain.ErrUpload, err)
	}

	s.metrics.RecordCompleted(string(plan.UploadType))
	s.logger.Info().
		Str("session_id", sessionID).
		Str("key", payload.Key).
		Msg("upload completed")

	return &CompleteUploadOutput{
		UploadID: sessionID,
		Bucket:   payload.Bucket,
		Key:      payload.Key,
		Status:   domain.StatusAvailable,
	}, nil
}

// complete finalizes with the strategy the session was planned with.
func (s *UploadService) complete(ctx context.Context, provider domain.Provider, uploadType domain.UploadType, payload domain.CompletionPayload) error {
	strategy, err := s.uploaders.ForType(provider, uploadType)
	if err != nil {
		return err
	}
	return strategy.Complete(ctx, payload)
}

// failCompletion persists cause on a session still in completing and returns
// it wrapped.
func (s *UploadService) failCompletion(ctx context.Context, sessionID string, cause error) error {
	err := s.sessions.MarkError(ctx, sessionID, domain.ErrorCodeUpload, cause.Error(), domain.StatusCompleting)
	switch {
	case errors.Is(err, domain.ErrInvalidTransition):
		s.logger.Warn().
			Str("session_id", sessionID).
			Msg("session left completing, completion error not recorded")
	case err != nil:
		s.logger.Error().
			Err(err).
			Str("session_id", sessionID).
			Msg("failed to record completion error")
	}
	s.metrics.RecordFailed(domain.ErrorCodeUpload)

	s.logger.Warn().
		Err(cause).
		Str("session_id", sessionID).
		Msg("upload completion failed")

	return fmt.Errorf("%w: %w", domain.ErrUpload, cause)
}

// =============================================================================
// Abort
// =============================================================================

// AbortUpload cancels an in-flight upload. The session ends in state error
// with UPLOAD_ABORTED, even if the provider abort fails afterwards.
func (s *UploadService) AbortUpload(ctx context.Context, sessionID string) (out *AbortUploadOutput, err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveOperation(opAbort, start, err) }()

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if sessionID == "" {
		return nil, ErrMissingSession
	}

	release, err := s.lockSession(ctx, sessionID, 0)
	if err != nil {
		return nil, err
	}
	defer release()

	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != domain.StatusUploading && session.Status != domain.StatusCompleting {
		return nil, domain.NewDomainError(domain.ErrInvalidTransition,
			fmt.Sprintf("cannot abort a session in status %s", session.Status), sessionID)
	}

	// The session is claimed before the provider is touched, so a
	// completion racing on another instance cannot publish it afterwards.
	if err := s.sessions.MarkError(ctx, sessionID, domain.ErrorCodeAborted, domain.AbortedMessage,
		domain.StatusUploading, domain.StatusCompleting); err != nil {
		return nil, err
	}

	aborted, err := s.sessions.AbortMultipart(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	s.metrics.RecordAborted()
	s.logger.Info().
		Str("session_id", sessionID).
		Bool("multipart_aborted", aborted).
		Msg("upload aborted")

	return &AbortUploadOutput{
		UploadID:         sessionID,
		MultipartAborted: aborted,
		Status:           domain.StatusError,
	}, nil
}

// =============================================================================
// Download
// =============================================================================

// PresignDownload returns a delegated read URL for a stored object.
func (s *UploadService) PresignDownload(ctx context.Context, req domain.DownloadCtx) (out *PresignDownloadOutput, err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveOperation(opPresign, start, err) }()

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if req.Provider == "" {
		req.Provider = domain.ProviderAWS
	}

	if err := validator.RunDownload(ctx, s.downloadValidators, req); err != nil {
		return nil, err
	}

	downloader, err := s.downloaders.ForProvider(req.Provider)
	if err != nil {
		return nil, err
	}

	url, err := downloader.PresignGet(ctx, req)
	if err != nil {
		return nil, err
	}

	s.metrics.RecordDownloadURL()
	return &PresignDownloadOutput{URL: url}, nil
}

// =============================================================================
// Parts and Queries
// =============================================================================

// RecordPart stores the acknowledgment of one uploaded part.
// Part writes wait briefly for a lock held by another writer.
func (s *UploadService) RecordPart(ctx context.Context, part domain.UploadPart) (err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveOperation(opPart, start, err) }()

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if part.SessionID == "" {
		return ErrMissingSession
	}
	if err := part.Validate(); err != nil {
		return err
	}
	if part.UploadedAt.IsZero() {
		part.UploadedAt = s.config.Now()
	}

	release, err := s.lockSession(ctx, part.SessionID, partLockRetries)
	if err != nil {
		return err
	}
	defer release()

	if err := s.sessions.RecordPart(ctx, &part); err != nil {
		return err
	}

	s.logger.Debug().
		Str("session_id", part.SessionID).
		Int32("part_number", part.PartNumber).
		Msg("part recorded")
	return nil
}

// GetSession returns the session record.
func (s *UploadService) GetSession(ctx context.Context, sessionID string) (*domain.UploadSession, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if sessionID == "" {
		return nil, ErrMissingSession
	}
	return s.sessions.GetSession(ctx, sessionID)
}

// ListSessions returns one page of sessions in the given status, newest first.
func (s *UploadService) ListSessions(ctx context.Context, input ListSessionsInput) (*ListSessionsOutput, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if input.Status == "" {
		return nil, ErrMissingStatus
	}
	if !input.Status.IsValid() {
		return nil, domain.NewDomainError(domain.ErrValidation, "unknown upload status", string(input.Status))
	}

	opts := repository.ListOptions{Limit: input.Limit, Cursor: input.Cursor}

	var (
		result *repository.ListResult[domain.UploadSession]
		err    error
	)
	if input.UserSub != "" {
		result, err = s.sessions.ListByOwnerStatus(ctx, input.UserSub, input.Status, opts)
	} else {
		result, err = s.sessions.ListByStatus(ctx, input.Status, opts)
	}
	if err != nil {
		return nil, err
	}

	return &ListSessionsOutput{
		Sessions:   result.Items,
		NextCursor: result.NextCursor,
	}, nil
}

// =============================================================================
// Helpers
// =============================================================================

func (s *UploadService) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.config.OperationTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.config.OperationTimeout)
}

// lockSession takes the per-session lock and returns its release func.
// ErrSessionBusy is returned when another operation holds the lock.
func (s *UploadService) lockSession(ctx context.Context, sessionID string, retries int) (func(), error) {
	key := lock.Keys.Session(sessionID)

	var (
		token    string
		acquired bool
		err      error
	)
	if retries > 0 {
		token, acquired, err = s.locker.AcquireWithRetry(ctx, key, s.config.LockTTL, retries, partLockRetryDelay)
	} else {
		token, acquired, err = s.locker.Acquire(ctx, key, s.config.LockTTL)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to acquire session lock: %w", err)
	}
	if !acquired {
		return nil, ErrSessionBusy
	}

	return func() {
		// The caller's context may already be done; release must still run.
		released, err := s.locker.Release(context.Background(), key, token)
		if err != nil {
			s.logger.Warn().Err(err).Str("session_id", sessionID).Msg("failed to release session lock")
			return
		}
		if !released {
			s.logger.Warn().Str("session_id", sessionID).Msg("session lock expired before release")
		}
	}, nil
}

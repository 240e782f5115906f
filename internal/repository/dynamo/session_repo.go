package dynamo

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog"

	"github.com/prn-tf/alexander-uploads/internal/domain"
	"github.com/prn-tf/alexander-uploads/internal/repository"
	"github.com/prn-tf/alexander-uploads/internal/storage"
)

// SessionRepository implements repository.SessionRepository for DynamoDB.
type SessionRepository struct {
	api    API
	table  string
	opts   repository.Options
	logger zerolog.Logger
}

// NewSessionRepository creates a new DynamoDB session repository.
func NewSessionRepository(api API, table string, opts repository.Options, logger zerolog.Logger) *SessionRepository {
	return &SessionRepository{
		api:    api,
		table:  table,
		opts:   opts.WithDefaults(),
		logger: logger.With().Str("component", "dynamo_sessions").Str("table", table).Logger(),
	}
}

// =============================================================================
// Writes
// =============================================================================

// CreateSession inserts a session keyed by owner and start time. The session
// id is claimed in the same transaction, so an id is unique across owners
// and start times.
func (r *SessionRepository) CreateSession(ctx context.Context, req domain.UploadCtx, plan *domain.UploadPlan) error {
	sess := domain.NewUploadSession(req, plan, r.opts.Now(), r.opts.Retention)
	if err := sess.Validate(); err != nil {
		return err
	}

	it := newSessionItem(sess)
	item, err := attributevalue.MarshalMap(it)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	claim, err := attributevalue.MarshalMap(newClaimItem(it))
	if err != nil {
		return fmt.Errorf("failed to marshal session claim: %w", err)
	}

	_, err = r.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:           aws.String(r.table),
					Item:                item,
					ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
				},
			},
			{
				Put: &types.Put{
					TableName:           aws.String(r.table),
					Item:                claim,
					ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
				},
			},
		},
	})
	if err != nil {
		var canceled *types.TransactionCanceledException
		if errors.As(err, &canceled) &&
			(reasonIsConditionFailed(canceled.CancellationReasons, 0) || reasonIsConditionFailed(canceled.CancellationReasons, 1)) {
			return domain.NewDomainError(domain.ErrDuplicateSession, "session already exists", sess.UploadID)
		}
		return domain.BackendError("TransactWriteItems", err)
	}

	r.logger.Debug().
		Str("session_id", sess.UploadID).
		Str("upload_type", string(sess.UploadType)).
		Msg("session created")

	return nil
}

// SetStatus updates the status and its projections unconditionally.
func (r *SessionRepository) SetStatus(ctx context.Context, sessionID string, status domain.UploadStatus) error {
	return r.TransitionStatus(ctx, sessionID, status)
}

// TransitionStatus updates the status when the current one is in from.
// An empty from makes the update unconditional.
func (r *SessionRepository) TransitionStatus(ctx context.Context, sessionID string, to domain.UploadStatus, from ...domain.UploadStatus) error {
	if !to.IsValid() {
		return domain.NewDomainError(domain.ErrValidation, "unknown upload status", string(to))
	}

	it, err := r.lookup(ctx, sessionID)
	if err != nil {
		return err
	}

	upd := newStatusUpdate(it, to)
	err = r.update(ctx, it, upd, statusCondition(upd, from))
	if len(from) == 0 {
		return r.mapMissing(err, sessionID)
	}
	if isConditionFailed(err) {
		return domain.NewDomainError(domain.ErrInvalidTransition,
			fmt.Sprintf("cannot move from %s to %s", it.Status, to), sessionID)
	}
	return err
}

// SaveMultipartID attaches the provider transfer id.
func (r *SessionRepository) SaveMultipartID(ctx context.Context, sessionID, mpuUploadID string) error {
	it, err := r.lookup(ctx, sessionID)
	if err != nil {
		return err
	}

	upd := update{
		set:    []string{"s3_mpu_id = :mpu"},
		names:  map[string]string{},
		values: map[string]types.AttributeValue{":mpu": str(mpuUploadID)},
	}
	return r.mapMissing(r.update(ctx, it, upd, "attribute_exists(PK)"), sessionID)
}

// MarkAvailable records the completion time and final location and clears
// any stored error.
func (r *SessionRepository) MarkAvailable(ctx context.Context, sessionID, bucket, key string) error {
	it, err := r.lookup(ctx, sessionID)
	if err != nil {
		return err
	}

	completedAt, err := attributevalue.Marshal(r.opts.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to marshal completion time: %w", err)
	}

	upd := update{
		set: []string{
			"completed_at = :done",
			"bucket = :bucket",
			"#key = :key",
			"bytes_uploaded = bytes_total",
		},
		remove: []string{"error_code", "error_message"},
		names:  map[string]string{"#key": "key"},
		values: map[string]types.AttributeValue{
			":done":   completedAt,
			":bucket": str(bucket),
			":key":    str(key),
		},
	}
	return r.mapMissing(r.update(ctx, it, upd, "attribute_exists(PK)"), sessionID)
}

// MarkError moves the session to error and stores the code and message.
// With no from it is forced; otherwise the current status must be in from.
func (r *SessionRepository) MarkError(ctx context.Context, sessionID, code, message string, from ...domain.UploadStatus) error {
	it, err := r.lookup(ctx, sessionID)
	if err != nil {
		return err
	}

	upd := newStatusUpdate(it, domain.StatusError)
	upd.set = append(upd.set, "error_code = :code", "error_message = :msg")
	upd.values[":code"] = str(code)
	upd.values[":msg"] = str(message)

	err = r.update(ctx, it, upd, statusCondition(upd, from))
	if len(from) > 0 && isConditionFailed(err) {
		return domain.NewDomainError(domain.ErrInvalidTransition,
			fmt.Sprintf("cannot move from %s to %s", it.Status, domain.StatusError), sessionID)
	}
	if err := r.mapMissing(err, sessionID); err != nil {
		return err
	}

	r.logger.Info().
		Str("session_id", sessionID).
		Str("error_code", code).
		Msg("session marked as error")

	return nil
}

// RecordPart stores the part and bumps the counters in one transaction.
func (r *SessionRepository) RecordPart(ctx context.Context, part *domain.UploadPart) error {
	if err := part.Validate(); err != nil {
		return err
	}

	it, err := r.lookup(ctx, part.SessionID)
	if err != nil {
		return err
	}
	if part.UploadedAt.IsZero() {
		part.UploadedAt = r.opts.Now().UTC()
	}

	partAV, err := attributevalue.MarshalMap(newPartItem(it, part))
	if err != nil {
		return fmt.Errorf("failed to marshal part: %w", err)
	}

	_, err = r.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:           aws.String(r.table),
					Item:                partAV,
					ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
				},
			},
			{
				Update: &types.Update{
					TableName:           aws.String(r.table),
					Key:                 itemKey(it),
					UpdateExpression:    aws.String("SET parts_received = parts_received + :one, bytes_uploaded = bytes_uploaded + :size"),
					ConditionExpression: aws.String("attribute_exists(PK) AND (attribute_not_exists(total_parts) OR parts_received < total_parts)"),
					ExpressionAttributeValues: map[string]types.AttributeValue{
						":one":  num(1),
						":size": num(part.Size),
					},
				},
			},
		},
	})
	if err != nil {
		var canceled *types.TransactionCanceledException
		if errors.As(err, &canceled) {
			reasons := canceled.CancellationReasons
			switch {
			case reasonIsConditionFailed(reasons, 0):
				return domain.NewDomainError(domain.ErrDuplicatePart,
					fmt.Sprintf("part %d", part.PartNumber), part.SessionID)
			case reasonIsConditionFailed(reasons, 1):
				return domain.NewDomainError(domain.ErrPartsExceedTotal,
					fmt.Sprintf("part %d", part.PartNumber), part.SessionID)
			}
		}
		return domain.BackendError("TransactWriteItems", err)
	}

	return nil
}

// AbortMultipart aborts the stored provider transfer, if any.
func (r *SessionRepository) AbortMultipart(ctx context.Context, sessionID string) (bool, error) {
	sess, err := r.GetSession(ctx, sessionID)
	if err != nil {
		return false, err
	}
	return repository.AbortSessionUpload(ctx, r.opts.Aborter, sess)
}

// =============================================================================
// Reads
// =============================================================================

// GetSession returns the full session record.
func (r *SessionRepository) GetSession(ctx context.Context, sessionID string) (*domain.UploadSession, error) {
	it, err := r.lookup(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return it.toDomain(), nil
}

// GetCtx rehydrates the upload request of a session.
func (r *SessionRepository) GetCtx(ctx context.Context, sessionID string) (*domain.UploadCtx, error) {
	sess, err := r.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	prefix, filename := storage.SplitKey(sess.Key)
	uc := sess.Ctx(prefix, filename)
	return &uc, nil
}

// GetPlan rehydrates the plan skeleton of a session.
func (r *SessionRepository) GetPlan(ctx context.Context, sessionID string) (*domain.UploadPlan, error) {
	sess, err := r.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return sess.Plan(), nil
}

// GetMultipartID returns the provider transfer id, or "".
func (r *SessionRepository) GetMultipartID(ctx context.Context, sessionID string) (string, error) {
	it, err := r.lookup(ctx, sessionID)
	if err != nil {
		return "", err
	}
	return it.MultipartUploadID, nil
}

// ListByStatus queries the status index newest first.
func (r *SessionRepository) ListByStatus(ctx context.Context, status domain.UploadStatus, opts repository.ListOptions) (*repository.ListResult[domain.UploadSession], error) {
	return r.list(ctx, IndexStatus, "GSI2PK", repository.StatusKey(status), opts)
}

// ListByOwnerStatus queries the owner-status index newest first.
func (r *SessionRepository) ListByOwnerStatus(ctx context.Context, userSub string, status domain.UploadStatus, opts repository.ListOptions) (*repository.ListResult[domain.UploadSession], error) {
	return r.list(ctx, IndexOwnerStatus, "GSI3PK", repository.OwnerStatusKey(userSub, status), opts)
}

// Ping describes the table.
func (r *SessionRepository) Ping(ctx context.Context) error {
	_, err := r.api.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(r.table)})
	return domain.BackendError("DescribeTable", err)
}

func (r *SessionRepository) list(ctx context.Context, index, pkAttr, pk string, opts repository.ListOptions) (*repository.ListResult[domain.UploadSession], error) {
	start, err := decodeCursor(opts.Cursor)
	if err != nil {
		return nil, err
	}

	out, err := r.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.table),
		IndexName:              aws.String(index),
		KeyConditionExpression: aws.String(pkAttr + " = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": str(pk),
		},
		ScanIndexForward:  aws.Bool(false),
		Limit:             aws.Int32(int32(opts.EffectiveLimit())),
		ExclusiveStartKey: start,
	})
	if err != nil {
		return nil, domain.BackendError("Query", err)
	}

	var items []sessionItem
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &items); err != nil {
		return nil, fmt.Errorf("failed to unmarshal sessions: %w", err)
	}

	now := r.opts.Now()
	result := &repository.ListResult[domain.UploadSession]{
		Items: make([]*domain.UploadSession, 0, len(items)),
	}
	for i := range items {
		sess := items[i].toDomain()
		if sess.IsExpired(now) {
			continue
		}
		result.Items = append(result.Items, sess)
	}

	result.NextCursor, err = encodeCursor(out.LastEvaluatedKey)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// =============================================================================
// Helpers
// =============================================================================

// lookup resolves a session id through its claim item. Both reads are
// strongly consistent, so a session is visible right after CreateSession.
func (r *SessionRepository) lookup(ctx context.Context, sessionID string) (*sessionItem, error) {
	if sessionID == "" {
		return nil, domain.NewDomainError(domain.ErrValidation, "session id is required", "")
	}

	var claim claimItem
	found, err := r.getItem(ctx, claimKey(sessionID), &claim)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, domain.NewDomainError(domain.ErrSessionNotFound, "no session", sessionID)
	}

	var it sessionItem
	found, err = r.getItem(ctx, map[string]types.AttributeValue{
		"PK": str(claim.SessionPK),
		"SK": str(claim.SessionSK),
	}, &it)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, domain.NewDomainError(domain.ErrSessionNotFound, "no session", sessionID)
	}
	if it.toDomain().IsExpired(r.opts.Now()) {
		return nil, domain.NewDomainError(domain.ErrSessionNotFound, "session expired", sessionID)
	}
	return &it, nil
}

func (r *SessionRepository) getItem(ctx context.Context, key map[string]types.AttributeValue, out any) (bool, error) {
	res, err := r.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.table),
		Key:            key,
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return false, domain.BackendError("GetItem", err)
	}
	if len(res.Item) == 0 {
		return false, nil
	}
	if err := attributevalue.UnmarshalMap(res.Item, out); err != nil {
		return false, fmt.Errorf("failed to unmarshal item: %w", err)
	}
	return true, nil
}

type update struct {
	set    []string
	remove []string
	names  map[string]string
	values map[string]types.AttributeValue
}

func (u update) expression() string {
	expr := "SET " + strings.Join(u.set, ", ")
	if len(u.remove) > 0 {
		expr += " REMOVE " + strings.Join(u.remove, ", ")
	}
	return expr
}

// statusCondition requires the item to exist and, when from is given, its
// status to be one of from. It adds the placeholders to upd.
func statusCondition(upd update, from []domain.UploadStatus) string {
	cond := "attribute_exists(PK)"
	if len(from) == 0 {
		return cond
	}
	placeholders := make([]string, len(from))
	for i, st := range from {
		name := fmt.Sprintf(":from%d", i)
		placeholders[i] = name
		upd.values[name] = str(string(st))
	}
	return cond + " AND #st IN (" + strings.Join(placeholders, ", ") + ")"
}

// newStatusUpdate sets the status together with its GSI2 and GSI3 keys.
func newStatusUpdate(it *sessionItem, status domain.UploadStatus) update {
	ts, err := repository.TimestampFromSK(it.SK)
	if err != nil {
		ts = repository.Timestamp(it.StartedAt)
	}
	p := repository.ProjectionFor(ts, it.UserSub, it.UploadID, status)

	return update{
		set: []string{
			"#st = :st",
			"GSI2PK = :gsi2pk",
			"GSI2SK = :gsi2sk",
			"GSI3PK = :gsi3pk",
			"GSI3SK = :gsi3sk",
		},
		names: map[string]string{"#st": "status"},
		values: map[string]types.AttributeValue{
			":st":     str(string(status)),
			":gsi2pk": str(p.GSI2PK),
			":gsi2sk": str(p.GSI2SK),
			":gsi3pk": str(p.GSI3PK),
			":gsi3sk": str(p.GSI3SK),
		},
	}
}

func (r *SessionRepository) update(ctx context.Context, it *sessionItem, upd update, condition string) error {
	input := &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.table),
		Key:                       itemKey(it),
		UpdateExpression:          aws.String(upd.expression()),
		ConditionExpression:       aws.String(condition),
		ExpressionAttributeValues: upd.values,
	}
	if len(upd.names) > 0 {
		input.ExpressionAttributeNames = upd.names
	}

	if _, err := r.api.UpdateItem(ctx, input); err != nil {
		if isConditionFailed(err) {
			return err
		}
		return domain.BackendError("UpdateItem", err)
	}
	return nil
}

// mapMissing turns a failed attribute_exists(PK) check into not found.
func (r *SessionRepository) mapMissing(err error, sessionID string) error {
	if isConditionFailed(err) {
		return domain.NewDomainError(domain.ErrSessionNotFound, "session disappeared", sessionID)
	}
	return err
}

func itemKey(it *sessionItem) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": str(it.PK),
		"SK": str(it.SK),
	}
}

func str(v string) types.AttributeValue {
	return &types.AttributeValueMemberS{Value: v}
}

func num(v int64) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", v)}
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

func reasonIsConditionFailed(reasons []types.CancellationReason, i int) bool {
	return i < len(reasons) && aws.ToString(reasons[i].Code) == "ConditionalCheckFailed"
}

// Cursors are base64 JSON of the string-typed LastEvaluatedKey.

func encodeCursor(key map[string]types.AttributeValue) (string, error) {
	if len(key) == 0 {
		return "", nil
	}
	flat := make(map[string]string, len(key))
	if err := attributevalue.UnmarshalMap(key, &flat); err != nil {
		return "", fmt.Errorf("failed to encode cursor: %w", err)
	}
	raw, err := json.Marshal(flat)
	if err != nil {
		return "", fmt.Errorf("failed to encode cursor: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

func decodeCursor(cursor string) (map[string]types.AttributeValue, error) {
	if cursor == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return nil, domain.NewDomainError(domain.ErrValidation, "malformed cursor", "")
	}
	var flat map[string]string
	if err := json.Unmarshal(raw, &flat); err != nil {
		return nil, domain.NewDomainError(domain.ErrValidation, "malformed cursor", "")
	}
	key := make(map[string]types.AttributeValue, len(flat))
	for k, v := range flat {
		key[k] = str(v)
	}
	return key, nil
}

// Ensure SessionRepository implements repository.SessionRepository.
var _ repository.SessionRepository = (*SessionRepository)(nil)

package dynamo

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/alexander-uploads/internal/domain"
	"github.com/prn-tf/alexander-uploads/internal/repository"
)

// =============================================================================
// Mock DynamoDB API
// =============================================================================

type mockAPI struct {
	mock.Mock
}

func (m *mockAPI) GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dynamodb.GetItemOutput), args.Error(1)
}

func (m *mockAPI) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dynamodb.PutItemOutput), args.Error(1)
}

func (m *mockAPI) UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dynamodb.UpdateItemOutput), args.Error(1)
}

func (m *mockAPI) Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dynamodb.QueryOutput), args.Error(1)
}

func (m *mockAPI) TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	args := m.Called(ctx, params)
	if fn, ok := args.Get(0).(func(context.Context, *dynamodb.TransactWriteItemsInput, ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)); ok {
		return fn(ctx, params, optFns...)
	}
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dynamodb.TransactWriteItemsOutput), args.Error(1)
}

func (m *mockAPI) DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dynamodb.DescribeTableOutput), args.Error(1)
}

func (m *mockAPI) CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dynamodb.CreateTableOutput), args.Error(1)
}

func (m *mockAPI) UpdateTimeToLive(ctx context.Context, params *dynamodb.UpdateTimeToLiveInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateTimeToLiveOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dynamodb.UpdateTimeToLiveOutput), args.Error(1)
}

type mockAborter struct {
	mock.Mock
}

func (m *mockAborter) AbortMultipartUpload(ctx context.Context, bucket, key, uploadID string) error {
	return m.Called(ctx, bucket, key, uploadID).Error(0)
}

// =============================================================================
// Helper Functions
// =============================================================================

var testNow = time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)

func newTestRepo(t *testing.T) (*SessionRepository, *mockAPI) {
	t.Helper()
	api := new(mockAPI)
	repo := NewSessionRepository(api, "uploads", repository.Options{
		Now: func() time.Time { return testNow },
	}, zerolog.Nop())
	return repo, api
}

func testSession() *domain.UploadSession {
	total := 3
	size := int64(20 << 20)
	return &domain.UploadSession{
		UploadID:          "abc",
		UploadType:        domain.UploadTypeMultiPart,
		Provider:          domain.ProviderAWS,
		UserSub:           "sub-1",
		ProjectID:         "p1",
		Bucket:            "bucket",
		Key:               "user/sub-1/project/p1/year=2026/month=10/day=14/abc/big.iso",
		ContentType:       "application/octet-stream",
		TotalParts:        &total,
		PartSize:          &size,
		BytesTotal:        60 << 20,
		Status:            domain.StatusUploading,
		StartedAt:         testNow.Add(-time.Hour),
		ExpiresAt:         testNow.Add(time.Hour),
		MultipartUploadID: "mpu-1",
	}
}

func marshalSession(t *testing.T, s *domain.UploadSession) map[string]types.AttributeValue {
	t.Helper()
	av, err := attributevalue.MarshalMap(newSessionItem(s))
	require.NoError(t, err)
	return av
}

func isGet(pk, sk string) interface{} {
	return mock.MatchedBy(func(in *dynamodb.GetItemInput) bool {
		p, _ := in.Key["PK"].(*types.AttributeValueMemberS)
		k, _ := in.Key["SK"].(*types.AttributeValueMemberS)
		return aws.ToBool(in.ConsistentRead) && p != nil && k != nil && p.Value == pk && k.Value == sk
	})
}

func expectLookup(t *testing.T, api *mockAPI, s *domain.UploadSession) {
	t.Helper()
	it := newSessionItem(s)
	claim, err := attributevalue.MarshalMap(newClaimItem(it))
	require.NoError(t, err)

	api.On("GetItem", mock.Anything, isGet("UPL#"+s.UploadID, "UPL#"+s.UploadID)).
		Return(&dynamodb.GetItemOutput{Item: claim}, nil)
	api.On("GetItem", mock.Anything, isGet(it.PK, it.SK)).
		Return(&dynamodb.GetItemOutput{Item: marshalSession(t, s)}, nil)
}

func expectMissing(api *mockAPI, id string) {
	api.On("GetItem", mock.Anything, isGet("UPL#"+id, "UPL#"+id)).
		Return(&dynamodb.GetItemOutput{}, nil)
}

func attrS(t *testing.T, m map[string]types.AttributeValue, name string) string {
	t.Helper()
	v, ok := m[name].(*types.AttributeValueMemberS)
	require.True(t, ok, "attribute %s is not a string", name)
	return v.Value
}

// =============================================================================
// Create Tests
// =============================================================================

func TestCreateSession_Success(t *testing.T) {
	repo, api := newTestRepo(t)
	req, plan := planFixture()

	var captured *dynamodb.TransactWriteItemsInput
	api.On("TransactWriteItems", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { captured = args.Get(1).(*dynamodb.TransactWriteItemsInput) }).
		Return(&dynamodb.TransactWriteItemsOutput{}, nil)

	require.NoError(t, repo.CreateSession(context.Background(), req, plan))

	require.NotNil(t, captured)
	require.Len(t, captured.TransactItems, 2)

	session := captured.TransactItems[0].Put
	require.NotNil(t, session)
	assert.Equal(t, "attribute_not_exists(PK) AND attribute_not_exists(SK)", aws.ToString(session.ConditionExpression))
	assert.Equal(t, "USER#sub-1", attrS(t, session.Item, "PK"))
	assert.Equal(t, "SESS#20261014090000#abc", attrS(t, session.Item, "SK"))
	assert.Equal(t, "UPL#abc", attrS(t, session.Item, "GSI1PK"))
	assert.Equal(t, "STATUS#uploading", attrS(t, session.Item, "GSI2PK"))
	assert.Equal(t, "USER#sub-1#STATUS#uploading", attrS(t, session.Item, "GSI3PK"))
	assert.Equal(t, "mpu-1", attrS(t, session.Item, "s3_mpu_id"))

	ttl, ok := session.Item["ttl"].(*types.AttributeValueMemberN)
	require.True(t, ok)
	assert.NotEmpty(t, ttl.Value)

	claim := captured.TransactItems[1].Put
	require.NotNil(t, claim)
	assert.Equal(t, "attribute_not_exists(PK) AND attribute_not_exists(SK)", aws.ToString(claim.ConditionExpression))
	assert.Equal(t, "UPL#abc", attrS(t, claim.Item, "PK"))
	assert.Equal(t, "UPL#abc", attrS(t, claim.Item, "SK"))
	assert.Equal(t, "SESS#20261014090000#abc", attrS(t, claim.Item, "session_sk"))
	assert.Equal(t, ttl, claim.Item["ttl"])
}

func TestCreateSession_Duplicate(t *testing.T) {
	repo, api := newTestRepo(t)
	req, plan := planFixture()

	api.On("TransactWriteItems", mock.Anything, mock.Anything).Return(nil, &types.TransactionCanceledException{
		CancellationReasons: []types.CancellationReason{
			{Code: aws.String("ConditionalCheckFailed")},
			{Code: aws.String("ConditionalCheckFailed")},
		},
	})

	err := repo.CreateSession(context.Background(), req, plan)
	require.ErrorIs(t, err, domain.ErrDuplicateSession)
}

func TestCreateSession_DuplicateIDLaterSecond(t *testing.T) {
	now := testNow
	api := new(mockAPI)
	repo := NewSessionRepository(api, "uploads", repository.Options{
		Now: func() time.Time { return now },
	}, zerolog.Nop())
	req, plan := planFixture()

	// Keys written so far, standing in for the table's conditional puts.
	stored := map[string]bool{}
	var sessionKeys []string
	api.On("TransactWriteItems", mock.Anything, mock.Anything).Return(func(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
		reasons := make([]types.CancellationReason, len(in.TransactItems))
		failed := false
		for i, item := range in.TransactItems {
			key := attrS(t, item.Put.Item, "PK") + "|" + attrS(t, item.Put.Item, "SK")
			reasons[i].Code = aws.String("None")
			if stored[key] {
				reasons[i].Code = aws.String("ConditionalCheckFailed")
				failed = true
			}
		}
		if failed {
			return nil, &types.TransactionCanceledException{CancellationReasons: reasons}
		}
		for _, item := range in.TransactItems {
			stored[attrS(t, item.Put.Item, "PK")+"|"+attrS(t, item.Put.Item, "SK")] = true
		}
		sessionKeys = append(sessionKeys, attrS(t, in.TransactItems[0].Put.Item, "SK"))
		return &dynamodb.TransactWriteItemsOutput{}, nil
	})

	require.NoError(t, repo.CreateSession(context.Background(), req, plan))

	now = now.Add(time.Second)
	err := repo.CreateSession(context.Background(), req, plan)
	require.ErrorIs(t, err, domain.ErrDuplicateSession)
	assert.Equal(t, []string{"SESS#20261014090000#abc"}, sessionKeys)
}

func TestCreateSession_BackendError(t *testing.T) {
	repo, api := newTestRepo(t)
	req, plan := planFixture()

	api.On("TransactWriteItems", mock.Anything, mock.Anything).Return(nil, errors.New("throttled"))

	err := repo.CreateSession(context.Background(), req, plan)
	require.ErrorIs(t, err, domain.ErrStorageBackend)
}

func planFixture() (domain.UploadCtx, *domain.UploadPlan) {
	total := 3
	size := int64(20 << 20)
	req := domain.UploadCtx{
		Provider:  domain.ProviderAWS,
		UserSub:   "sub-1",
		ProjectID: "p1",
		FileMeta:  domain.FileMeta{Filename: "big.iso", ContentType: "application/octet-stream", SizeBytes: 60 << 20},
		Prefix:    "user/sub-1/project/p1/year=2026/month=10/day=14/",
	}
	plan := &domain.UploadPlan{
		UploadType: domain.UploadTypeMultiPart,
		UploadID:   "abc",
		Bucket:     "bucket",
		Key:        req.Prefix + "abc/big.iso",
		PartSize:   &size,
		TotalParts: &total,
		CompletePayload: &domain.CompletionPayload{
			Provider: domain.ProviderAWS, Bucket: "bucket", Key: req.Prefix + "abc/big.iso",
			SessionID: "abc", MultipartUploadID: "mpu-1",
		},
	}
	return req, plan
}

// =============================================================================
// Lookup Tests
// =============================================================================

func TestGetCtx_Success(t *testing.T) {
	repo, api := newTestRepo(t)
	s := testSession()
	expectLookup(t, api, s)

	uc, err := repo.GetCtx(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, "sub-1", uc.UserSub)
	assert.Equal(t, "p1", uc.ProjectID)
	assert.Equal(t, "big.iso", uc.FileMeta.Filename)
	assert.Equal(t, int64(60<<20), uc.FileMeta.SizeBytes)
	assert.Equal(t, "user/sub-1/project/p1/year=2026/month=10/day=14/abc/", uc.Prefix)
}

func TestGetPlan_Multipart(t *testing.T) {
	repo, api := newTestRepo(t)
	expectLookup(t, api, testSession())

	plan, err := repo.GetPlan(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, domain.UploadTypeMultiPart, plan.UploadType)
	require.NotNil(t, plan.TotalParts)
	assert.Equal(t, 3, *plan.TotalParts)
}

func TestGetSession_NotFound(t *testing.T) {
	repo, api := newTestRepo(t)
	expectMissing(api, "missing")

	_, err := repo.GetSession(context.Background(), "missing")
	require.ErrorIs(t, err, domain.ErrSessionNotFound)

	_, err = repo.GetCtx(context.Background(), "missing")
	require.ErrorIs(t, err, domain.ErrSessionNotFound)

	_, err = repo.GetPlan(context.Background(), "missing")
	require.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestGetSession_ExpiredIsNotFound(t *testing.T) {
	repo, api := newTestRepo(t)
	s := testSession()
	s.ExpiresAt = testNow.Add(-time.Minute)
	expectLookup(t, api, s)

	_, err := repo.GetSession(context.Background(), "abc")
	require.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestGetMultipartID(t *testing.T) {
	repo, api := newTestRepo(t)
	expectLookup(t, api, testSession())

	id, err := repo.GetMultipartID(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, "mpu-1", id)
}

// =============================================================================
// Status Tests
// =============================================================================

func TestSetStatus_RewritesProjections(t *testing.T) {
	repo, api := newTestRepo(t)
	expectLookup(t, api, testSession())

	var captured *dynamodb.UpdateItemInput
	api.On("UpdateItem", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { captured = args.Get(1).(*dynamodb.UpdateItemInput) }).
		Return(&dynamodb.UpdateItemOutput{}, nil)

	require.NoError(t, repo.SetStatus(context.Background(), "abc", domain.StatusAvailable))

	require.NotNil(t, captured)
	assert.Equal(t, "USER#sub-1", attrS(t, captured.Key, "PK"))
	assert.Equal(t, "available", attrS(t, captured.ExpressionAttributeValues, ":st"))
	assert.Equal(t, "STATUS#available", attrS(t, captured.ExpressionAttributeValues, ":gsi2pk"))
	assert.Equal(t, "20261014080000#USER#sub-1#abc", attrS(t, captured.ExpressionAttributeValues, ":gsi2sk"))
	assert.Equal(t, "USER#sub-1#STATUS#available", attrS(t, captured.ExpressionAttributeValues, ":gsi3pk"))
	assert.Equal(t, "attribute_exists(PK)", aws.ToString(captured.ConditionExpression))
}

func TestTransitionStatus_Conditional(t *testing.T) {
	repo, api := newTestRepo(t)
	expectLookup(t, api, testSession())

	api.On("UpdateItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.UpdateItemInput) bool {
		return aws.ToString(in.ConditionExpression) == "attribute_exists(PK) AND #st IN (:from0, :from1)"
	})).Return(&dynamodb.UpdateItemOutput{}, nil)

	err := repo.TransitionStatus(context.Background(), "abc", domain.StatusCompleting, domain.StatusUploading, domain.StatusCompleting)
	require.NoError(t, err)
	api.AssertExpectations(t)
}

func TestTransitionStatus_Rejected(t *testing.T) {
	repo, api := newTestRepo(t)
	expectLookup(t, api, testSession())

	api.On("UpdateItem", mock.Anything, mock.Anything).
		Return(nil, &types.ConditionalCheckFailedException{})

	err := repo.TransitionStatus(context.Background(), "abc", domain.StatusCompleting, domain.StatusUploading)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestTransitionStatus_InvalidTarget(t *testing.T) {
	repo, _ := newTestRepo(t)

	err := repo.TransitionStatus(context.Background(), "abc", domain.UploadStatus("bogus"))
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestMarkError_StoresCodeAndForcesStatus(t *testing.T) {
	repo, api := newTestRepo(t)
	expectLookup(t, api, testSession())

	api.On("UpdateItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.UpdateItemInput) bool {
		v := in.ExpressionAttributeValues
		code, _ := v[":code"].(*types.AttributeValueMemberS)
		st, _ := v[":st"].(*types.AttributeValueMemberS)
		return code != nil && code.Value == domain.ErrorCodeAborted &&
			st != nil && st.Value == "error" &&
			aws.ToString(in.ConditionExpression) == "attribute_exists(PK)"
	})).Return(&dynamodb.UpdateItemOutput{}, nil)

	require.NoError(t, repo.MarkError(context.Background(), "abc", domain.ErrorCodeAborted, domain.AbortedMessage))
	api.AssertExpectations(t)
}

func TestMarkAvailable(t *testing.T) {
	repo, api := newTestRepo(t)
	expectLookup(t, api, testSession())

	api.On("UpdateItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.UpdateItemInput) bool {
		_, hasDone := in.ExpressionAttributeValues[":done"]
		return hasDone && in.ExpressionAttributeNames["#key"] == "key" &&
			strings.HasSuffix(aws.ToString(in.UpdateExpression), " REMOVE error_code, error_message")
	})).Return(&dynamodb.UpdateItemOutput{}, nil)

	require.NoError(t, repo.MarkAvailable(context.Background(), "abc", "bucket", "k"))
	api.AssertExpectations(t)
}

func TestMarkError_Conditional(t *testing.T) {
	repo, api := newTestRepo(t)
	expectLookup(t, api, testSession())

	api.On("UpdateItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.UpdateItemInput) bool {
		from, _ := in.ExpressionAttributeValues[":from0"].(*types.AttributeValueMemberS)
		return aws.ToString(in.ConditionExpression) == "attribute_exists(PK) AND #st IN (:from0)" &&
			from != nil && from.Value == "completing"
	})).Return(nil, &types.ConditionalCheckFailedException{})

	err := repo.MarkError(context.Background(), "abc", domain.ErrorCodeUpload, "boom", domain.StatusCompleting)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
	api.AssertExpectations(t)
}

func TestSaveMultipartID_SessionVanished(t *testing.T) {
	repo, api := newTestRepo(t)
	expectLookup(t, api, testSession())

	api.On("UpdateItem", mock.Anything, mock.Anything).
		Return(nil, &types.ConditionalCheckFailedException{})

	err := repo.SaveMultipartID(context.Background(), "abc", "mpu-2")
	require.ErrorIs(t, err, domain.ErrSessionNotFound)
}

// =============================================================================
// Part Tests
// =============================================================================

func TestRecordPart_Success(t *testing.T) {
	repo, api := newTestRepo(t)
	expectLookup(t, api, testSession())

	var captured *dynamodb.TransactWriteItemsInput
	api.On("TransactWriteItems", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { captured = args.Get(1).(*dynamodb.TransactWriteItemsInput) }).
		Return(&dynamodb.TransactWriteItemsOutput{}, nil)

	err := repo.RecordPart(context.Background(), &domain.UploadPart{SessionID: "abc", PartNumber: 2, ETag: `"e2"`, Size: 20 << 20})
	require.NoError(t, err)

	require.Len(t, captured.TransactItems, 2)
	put := captured.TransactItems[0].Put
	require.NotNil(t, put)
	assert.Equal(t, "PART#abc#00002", attrS(t, put.Item, "SK"))
	assert.Equal(t, "PART#00002", attrS(t, put.Item, "GSI1SK"))
	assert.Equal(t, "UPL#abc", attrS(t, put.Item, "GSI1PK"))

	upd := captured.TransactItems[1].Update
	require.NotNil(t, upd)
	assert.Contains(t, aws.ToString(upd.ConditionExpression), "parts_received < total_parts")
}

func TestRecordPart_ExceedsTotal(t *testing.T) {
	repo, api := newTestRepo(t)
	expectLookup(t, api, testSession())

	api.On("TransactWriteItems", mock.Anything, mock.Anything).Return(nil, &types.TransactionCanceledException{
		CancellationReasons: []types.CancellationReason{
			{Code: aws.String("None")},
			{Code: aws.String("ConditionalCheckFailed")},
		},
	})

	err := repo.RecordPart(context.Background(), &domain.UploadPart{SessionID: "abc", PartNumber: 4, ETag: "e"})
	require.ErrorIs(t, err, domain.ErrPartsExceedTotal)
}

func TestRecordPart_Duplicate(t *testing.T) {
	repo, api := newTestRepo(t)
	expectLookup(t, api, testSession())

	api.On("TransactWriteItems", mock.Anything, mock.Anything).Return(nil, &types.TransactionCanceledException{
		CancellationReasons: []types.CancellationReason{
			{Code: aws.String("ConditionalCheckFailed")},
			{Code: aws.String("None")},
		},
	})

	err := repo.RecordPart(context.Background(), &domain.UploadPart{SessionID: "abc", PartNumber: 1, ETag: "e"})
	require.ErrorIs(t, err, domain.ErrDuplicatePart)
}

func TestRecordPart_InvalidPart(t *testing.T) {
	repo, _ := newTestRepo(t)

	err := repo.RecordPart(context.Background(), &domain.UploadPart{SessionID: "abc", PartNumber: 0, ETag: "e"})
	require.ErrorIs(t, err, domain.ErrValidation)
}

// =============================================================================
// Abort Tests
// =============================================================================

func TestAbortMultipart_UsesStoredID(t *testing.T) {
	api := new(mockAPI)
	aborter := new(mockAborter)
	repo := NewSessionRepository(api, "uploads", repository.Options{
		Now:     func() time.Time { return testNow },
		Aborter: aborter,
	}, zerolog.Nop())

	s := testSession()
	expectLookup(t, api, s)
	aborter.On("AbortMultipartUpload", mock.Anything, "bucket", s.Key, "mpu-1").Return(nil)

	sent, err := repo.AbortMultipart(context.Background(), "abc")
	require.NoError(t, err)
	assert.True(t, sent)
	aborter.AssertExpectations(t)
}

func TestAbortMultipart_NoTransferID(t *testing.T) {
	api := new(mockAPI)
	aborter := new(mockAborter)
	repo := NewSessionRepository(api, "uploads", repository.Options{
		Now:     func() time.Time { return testNow },
		Aborter: aborter,
	}, zerolog.Nop())

	s := testSession()
	s.MultipartUploadID = ""
	expectLookup(t, api, s)

	sent, err := repo.AbortMultipart(context.Background(), "abc")
	require.NoError(t, err)
	assert.False(t, sent)
	aborter.AssertNotCalled(t, "AbortMultipartUpload", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

// =============================================================================
// List Tests
// =============================================================================

func TestListByOwnerStatus_CursorRoundTrip(t *testing.T) {
	repo, api := newTestRepo(t)
	s := testSession()

	last := map[string]types.AttributeValue{
		"PK":     str("USER#sub-1"),
		"SK":     str("SESS#20261014080000#abc"),
		"GSI3PK": str("USER#sub-1#STATUS#uploading"),
		"GSI3SK": str("20261014080000#abc"),
	}

	api.On("Query", mock.Anything, mock.MatchedBy(func(in *dynamodb.QueryInput) bool {
		return aws.ToString(in.IndexName) == IndexOwnerStatus && in.ExclusiveStartKey == nil
	})).Return(&dynamodb.QueryOutput{
		Items:            []map[string]types.AttributeValue{marshalSession(t, s)},
		LastEvaluatedKey: last,
	}, nil).Once()

	page, err := repo.ListByOwnerStatus(context.Background(), "sub-1", domain.StatusUploading, repository.ListOptions{Limit: 1})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "abc", page.Items[0].UploadID)
	require.NotEmpty(t, page.NextCursor)

	api.On("Query", mock.Anything, mock.MatchedBy(func(in *dynamodb.QueryInput) bool {
		if in.ExclusiveStartKey == nil {
			return false
		}
		v, ok := in.ExclusiveStartKey["GSI3SK"].(*types.AttributeValueMemberS)
		return ok && v.Value == "20261014080000#abc" && !aws.ToBool(in.ScanIndexForward)
	})).Return(&dynamodb.QueryOutput{}, nil).Once()

	page, err = repo.ListByOwnerStatus(context.Background(), "sub-1", domain.StatusUploading, repository.ListOptions{Limit: 1, Cursor: page.NextCursor})
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.Empty(t, page.NextCursor)
}

func TestListByStatus_MalformedCursor(t *testing.T) {
	repo, _ := newTestRepo(t)

	_, err := repo.ListByStatus(context.Background(), domain.StatusError, repository.ListOptions{Cursor: "%%%"})
	require.ErrorIs(t, err, domain.ErrValidation)
}

// =============================================================================
// Table Tests
// =============================================================================

func TestEnsureTable_ExistingTable(t *testing.T) {
	api := new(mockAPI)

	api.On("CreateTable", mock.Anything, mock.Anything).
		Return(nil, &types.ResourceInUseException{Message: aws.String("exists")})
	api.On("DescribeTable", mock.Anything, mock.Anything).
		Return(&dynamodb.DescribeTableOutput{Table: &types.TableDescription{TableStatus: types.TableStatusActive}}, nil)
	api.On("UpdateTimeToLive", mock.Anything, mock.MatchedBy(func(in *dynamodb.UpdateTimeToLiveInput) bool {
		return aws.ToString(in.TimeToLiveSpecification.AttributeName) == TTLAttribute
	})).Return(&dynamodb.UpdateTimeToLiveOutput{}, nil)

	require.NoError(t, EnsureTable(context.Background(), api, "uploads", time.Minute, zerolog.Nop()))
	api.AssertExpectations(t)
}

func TestTableDefinition(t *testing.T) {
	def := tableDefinition("uploads")

	assert.Equal(t, types.BillingModePayPerRequest, def.BillingMode)
	require.Len(t, def.GlobalSecondaryIndexes, 3)
	assert.Equal(t, IndexSessionID, aws.ToString(def.GlobalSecondaryIndexes[0].IndexName))
	assert.Equal(t, types.ProjectionTypeAll, def.GlobalSecondaryIndexes[2].Projection.ProjectionType)
	assert.Len(t, def.AttributeDefinitions, 8)
}

func TestPing(t *testing.T) {
	repo, api := newTestRepo(t)
	api.On("DescribeTable", mock.Anything, mock.Anything).Return(nil, errors.New("unreachable"))

	require.ErrorIs(t, repo.Ping(context.Background()), domain.ErrStorageBackend)
}

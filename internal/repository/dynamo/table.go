package dynamo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog"
)

// DefaultTableWait bounds how long EnsureTable waits for ACTIVE.
const DefaultTableWait = 2 * time.Minute

// EnsureTable creates the sessions table with its indexes and enables TTL.
// An existing table is left as is.
func EnsureTable(ctx context.Context, api TableAPI, table string, wait time.Duration, logger zerolog.Logger) error {
	if wait <= 0 {
		wait = DefaultTableWait
	}
	logger = logger.With().Str("component", "dynamo_table").Str("table", table).Logger()

	_, err := api.CreateTable(ctx, tableDefinition(table))
	switch {
	case err == nil:
		logger.Info().Msg("table creation started")
	case isResourceInUse(err):
		logger.Info().Msg("table already exists")
	default:
		return fmt.Errorf("failed to create table %s: %w", table, err)
	}

	waiter := dynamodb.NewTableExistsWaiter(api)
	if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(table)}, wait); err != nil {
		return fmt.Errorf("table %s did not become active: %w", table, err)
	}

	_, err = api.UpdateTimeToLive(ctx, &dynamodb.UpdateTimeToLiveInput{
		TableName: aws.String(table),
		TimeToLiveSpecification: &types.TimeToLiveSpecification{
			AttributeName: aws.String(TTLAttribute),
			Enabled:       aws.Bool(true),
		},
	})
	if err != nil && !isTTLAlreadyEnabled(err) {
		return fmt.Errorf("failed to enable ttl on %s: %w", table, err)
	}

	logger.Info().Str("ttl_attribute", TTLAttribute).Msg("table ready")
	return nil
}

func tableDefinition(table string) *dynamodb.CreateTableInput {
	attrs := []string{"PK", "SK", "GSI1PK", "GSI1SK", "GSI2PK", "GSI2SK", "GSI3PK", "GSI3SK"}
	defs := make([]types.AttributeDefinition, 0, len(attrs))
	for _, a := range attrs {
		defs = append(defs, types.AttributeDefinition{
			AttributeName: aws.String(a),
			AttributeType: types.ScalarAttributeTypeS,
		})
	}

	return &dynamodb.CreateTableInput{
		TableName:            aws.String(table),
		AttributeDefinitions: defs,
		KeySchema:            keySchema("PK", "SK"),
		BillingMode:          types.BillingModePayPerRequest,
		GlobalSecondaryIndexes: []types.GlobalSecondaryIndex{
			globalIndex(IndexSessionID, "GSI1PK", "GSI1SK"),
			globalIndex(IndexStatus, "GSI2PK", "GSI2SK"),
			globalIndex(IndexOwnerStatus, "GSI3PK", "GSI3SK"),
		},
	}
}

func keySchema(hash, rng string) []types.KeySchemaElement {
	return []types.KeySchemaElement{
		{AttributeName: aws.String(hash), KeyType: types.KeyTypeHash},
		{AttributeName: aws.String(rng), KeyType: types.KeyTypeRange},
	}
}

func globalIndex(name, hash, rng string) types.GlobalSecondaryIndex {
	return types.GlobalSecondaryIndex{
		IndexName:  aws.String(name),
		KeySchema:  keySchema(hash, rng),
		Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
	}
}

func isResourceInUse(err error) bool {
	var inUse *types.ResourceInUseException
	return errors.As(err, &inUse)
}

func isTTLAlreadyEnabled(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.ErrorCode() == "ValidationException" &&
		strings.Contains(strings.ToLower(apiErr.ErrorMessage()), "already enabled")
}

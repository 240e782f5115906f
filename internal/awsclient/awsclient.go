// Package awsclient builds the AWS SDK clients shared by the storage backend
// and the DynamoDB session store.
package awsclient

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/prn-tf/alexander-uploads/internal/config"
)

// Clients holds the SDK clients built from one aws.Config.
type Clients struct {
	Config   aws.Config
	S3       *s3.Client
	DynamoDB *dynamodb.Client
}

// Load resolves the AWS configuration from cfg: region, optional static
// credentials, and the default provider chain otherwise.
func Load(ctx context.Context, cfg config.AWSConfig) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.HasStaticCredentials() {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return awsCfg, nil
}

// New loads the AWS configuration and creates the S3 and DynamoDB clients.
// A configured endpoint is applied to both, so LocalStack serves either.
func New(ctx context.Context, cfg config.AWSConfig) (*Clients, error) {
	awsCfg, err := Load(ctx, cfg)
	if err != nil {
		return nil, err
	}

	return &Clients{
		Config:   awsCfg,
		S3:       s3.NewFromConfig(awsCfg, S3Options(cfg)),
		DynamoDB: dynamodb.NewFromConfig(awsCfg, DynamoDBOptions(cfg)),
	}, nil
}

// S3Options applies the custom endpoint and path-style addressing.
// MinIO and LocalStack need path style.
func S3Options(cfg config.AWSConfig) func(*s3.Options) {
	return func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	}
}

// DynamoDBOptions applies the custom endpoint.
func DynamoDBOptions(cfg config.AWSConfig) func(*dynamodb.Options) {
	return func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}
}

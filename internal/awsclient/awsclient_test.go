package awsclient

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/alexander-uploads/internal/config"
)

func TestLoad_StaticCredentials(t *testing.T) {
	awsCfg, err := Load(context.Background(), config.AWSConfig{
		Region:          "eu-west-1",
		AccessKeyID:     "AKIDEXAMPLE",
		SecretAccessKey: "secret",
	})
	require.NoError(t, err)
	assert.Equal(t, "eu-west-1", awsCfg.Region)

	creds, err := awsCfg.Credentials.Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "AKIDEXAMPLE", creds.AccessKeyID)
}

func TestS3Options_Endpoint(t *testing.T) {
	var o s3.Options
	S3Options(config.AWSConfig{Endpoint: "http://localhost:4566", UsePathStyle: true})(&o)

	assert.Equal(t, "http://localhost:4566", aws.ToString(o.BaseEndpoint))
	assert.True(t, o.UsePathStyle)
}

func TestS3Options_Default(t *testing.T) {
	var o s3.Options
	S3Options(config.AWSConfig{})(&o)

	assert.Nil(t, o.BaseEndpoint)
	assert.False(t, o.UsePathStyle)
}

func TestDynamoDBOptions_Endpoint(t *testing.T) {
	var o dynamodb.Options
	DynamoDBOptions(config.AWSConfig{Endpoint: "http://localhost:4566"})(&o)

	assert.Equal(t, "http://localhost:4566", aws.ToString(o.BaseEndpoint))
}

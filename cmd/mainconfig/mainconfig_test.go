package mainconfig

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "github.com/wolfman30/vetcare-platform/internal/config"
)

func TestLoadAWSConfigStaticCredentials(t *testing.T) {
	cfg := &appconfig.Config{
		AWSRegion:          "ap-south-1",
		AWSAccessKeyID:     "test",
		AWSSecretAccessKey: "test",
	}
	awsCfg, err := LoadAWSConfig(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "ap-south-1", awsCfg.Region)

	creds, err := awsCfg.Credentials.Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "test", creds.AccessKeyID)
}

func TestSESOptionsEndpointOverride(t *testing.T) {
	assert.Empty(t, sesOptions(&appconfig.Config{}))

	opts := sesOptions(&appconfig.Config{AWSEndpointOverride: "http://localhost:4566"})
	require.Len(t, opts, 1)
	var o sesv2.Options
	opts[0](&o)
	assert.Equal(t, "http://localhost:4566", aws.ToString(o.BaseEndpoint))
}

func TestNewSESClient(t *testing.T) {
	cfg := &appconfig.Config{AWSRegion: "ap-south-1", AWSEndpointOverride: "http://localhost:4566"}
	client := NewSESClient(aws.Config{Region: cfg.AWSRegion}, cfg)
	require.NotNil(t, client)
	assert.Equal(t, "http://localhost:4566", aws.ToString(client.Options().BaseEndpoint))
}

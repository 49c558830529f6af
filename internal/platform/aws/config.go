package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
)

// Config selects the region and endpoint for the audit pipeline's AWS clients
type Config struct {
	Region string
	// Endpoint overrides every service endpoint (LocalStack). Empty uses AWS.
	Endpoint string
	// SDKRetries caps the SDK's own retries. Zero keeps the SDK default.
	// SNSClient retries on top of these.
	SDKRetries int
}

// LoadAWSConfig resolves credentials through the default chain
func LoadAWSConfig(ctx context.Context, cfg Config) (aws.Config, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.SDKRetries > 0 {
		opts = append(opts, config.WithRetryMaxAttempts(cfg.SDKRetries))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load AWS config for %s: %w", cfg.Region, err)
	}
	if cfg.Endpoint != "" {
		awsCfg.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return awsCfg, nil
}

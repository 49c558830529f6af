package aws

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"

	"github.com/Bananapus/juice-buyback-hook/internal/platform/observability"
	"github.com/Bananapus/juice-buyback-hook/internal/platform/resilience"
)

// SNSAPI is the subset of the SNS client used here
type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Message is one SNS notification. GroupID and DedupID only apply to FIFO
// topics and are dropped for standard ones.
type Message struct {
	Body       []byte
	Attributes map[string]string
	GroupID    string
	DedupID    string
}

// SNSClient publishes to one topic behind a retry loop and a circuit breaker
type SNSClient struct {
	client   SNSAPI
	topicARN string
	fifo     bool
	breaker  *resilience.CircuitBreaker
	retry    resilience.RetryConfig
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// SNSClientConfig holds SNS client configuration
type SNSClientConfig struct {
	AWSConfig      aws.Config
	API            SNSAPI // overrides the client built from AWSConfig
	TopicARN       string
	Logger         *observability.Logger
	Metrics        *observability.Metrics
	RetryConfig    *resilience.RetryConfig
	CircuitBreaker *resilience.CircuitBreaker
}

// NewSNSClient binds a client to cfg.TopicARN
func NewSNSClient(cfg SNSClientConfig) *SNSClient {
	client := cfg.API
	if client == nil {
		client = sns.NewFromConfig(cfg.AWSConfig)
	}

	retry := resilience.DefaultRetryConfig()
	if cfg.RetryConfig != nil {
		retry = *cfg.RetryConfig
	}

	breaker := cfg.CircuitBreaker
	if breaker == nil {
		breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:             "sns",
			FailureThreshold: 5,
			SuccessThreshold: 2,
			Timeout:          30 * time.Second,
			OnStateChange: func(from, to resilience.State) {
				cfg.Logger.LogWarn(context.Background(), "audit topic breaker changed state",
					"topic_arn", cfg.TopicARN,
					"from", from.String(),
					"to", to.String(),
				)
				cfg.Metrics.SetCircuitBreakerState(context.Background(), "sns", int64(to))
			},
		})
	}

	return &SNSClient{
		client:   client,
		topicARN: cfg.TopicARN,
		fifo:     strings.HasSuffix(cfg.TopicARN, ".fifo"),
		breaker:  breaker,
		retry:    retry,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
	}
}

// TopicARN returns the bound topic
func (s *SNSClient) TopicARN() string { return s.topicARN }

// Publish sends msg, retrying transient failures while the breaker is closed
func (s *SNSClient) Publish(ctx context.Context, msg Message) error {
	if s.topicARN == "" {
		return fmt.Errorf("SNS topic ARN is not set")
	}
	input := s.input(msg)

	start := time.Now()
	err := s.breaker.Execute(ctx, func(ctx context.Context) error {
		return resilience.Retry(ctx, s.retry, func(ctx context.Context) error {
			if _, err := s.client.Publish(ctx, input); err != nil {
				return fmt.Errorf("SNS publish failed: %w", err)
			}
			return nil
		})
	})

	status := "success"
	if err != nil {
		status = "error"
		s.logger.LogError(ctx, "SNS publish failed", err,
			"topic_arn", s.topicARN,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
	s.metrics.RecordRPCCall(ctx, "sns.Publish", status, time.Since(start))
	return err
}

func (s *SNSClient) input(msg Message) *sns.PublishInput {
	attrs := make(map[string]types.MessageAttributeValue, len(msg.Attributes))
	for k, v := range msg.Attributes {
		attrs[k] = types.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(v),
		}
	}

	in := &sns.PublishInput{
		TopicArn:          aws.String(s.topicARN),
		Message:           aws.String(string(msg.Body)),
		MessageAttributes: attrs,
	}
	if s.fifo {
		if msg.GroupID != "" {
			in.MessageGroupId = aws.String(msg.GroupID)
		}
		if msg.DedupID != "" {
			in.MessageDeduplicationId = aws.String(msg.DedupID)
		}
	}
	return in
}

// CircuitBreakerState returns the breaker state
func (s *SNSClient) CircuitBreakerState() resilience.State {
	return s.breaker.State()
}

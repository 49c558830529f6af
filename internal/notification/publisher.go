// Package notification delivers audit records to SNS and to the log.
package notification

import (
	"context"
	"errors"
	"strconv"

	"go.opentelemetry.io/otel/attribute"

	"github.com/Bananapus/juice-buyback-hook/internal/events"
	"github.com/Bananapus/juice-buyback-hook/internal/platform/aws"
	"github.com/Bananapus/juice-buyback-hook/internal/platform/observability"
)

// Publisher sends audit records to the topic its SNS client is bound to.
// On FIFO topics records of one project keep their emission order.
type Publisher struct {
	sns     *aws.SNSClient
	logger  *observability.Logger
	metrics *observability.Metrics
	tracer  observability.Tracer
}

// PublisherConfig holds publisher dependencies
type PublisherConfig struct {
	SNSClient *aws.SNSClient
	Logger    *observability.Logger
	Metrics   *observability.Metrics
	Tracer    observability.Tracer
}

// NewPublisher validates cfg and returns a publisher
func NewPublisher(cfg PublisherConfig) (*Publisher, error) {
	if cfg.SNSClient == nil {
		return nil, errors.New("SNS client is required")
	}
	if cfg.SNSClient.TopicARN() == "" {
		return nil, errors.New("SNS topic ARN is required")
	}
	if cfg.Tracer == nil {
		cfg.Tracer = observability.NewNoopTracer()
	}

	return &Publisher{
		sns:     cfg.SNSClient,
		logger:  cfg.Logger.Component("audit-publisher"),
		metrics: cfg.Metrics,
		tracer:  cfg.Tracer,
	}, nil
}

// Publish sends one record. Message attributes carry the kind and project so
// subscribers can filter without parsing the body.
func (p *Publisher) Publish(ctx context.Context, rec events.Record) error {
	ctx, span := p.tracer.StartSpan(ctx, "Publisher.Publish",
		observability.WithAttributes(
			observability.ProjectAttr(rec.ProjectID),
			attribute.String("record_id", rec.ID),
			attribute.String("kind", string(rec.Kind)),
		),
	)
	defer span.End()

	payload, err := rec.ToJSON()
	if err != nil {
		span.NoticeError(err)
		return err
	}

	project := strconv.FormatUint(rec.ProjectID, 10)
	err = p.sns.Publish(ctx, aws.Message{
		Body: payload,
		Attributes: map[string]string{
			"kind":      string(rec.Kind),
			"projectId": project,
		},
		GroupID: "project-" + project,
		DedupID: rec.ID,
	})
	if err != nil {
		span.NoticeError(err)
		p.metrics.RecordEventPublished(ctx, "sns", "error")
		return err
	}

	p.metrics.RecordEventPublished(ctx, "sns", "success")
	p.logger.LogDebug(ctx, "published audit record",
		"record_id", rec.ID,
		"kind", rec.Kind,
		"project_id", rec.ProjectID,
	)
	return nil
}

// Emit implements events.Sink. Failures are logged, never returned.
func (p *Publisher) Emit(ctx context.Context, rec events.Record) {
	if err := p.Publish(ctx, rec); err != nil {
		p.logger.LogError(ctx, "failed to publish audit record", err,
			"record_id", rec.ID,
			"kind", rec.Kind,
			"breaker", p.sns.CircuitBreakerState().String(),
		)
	}
}

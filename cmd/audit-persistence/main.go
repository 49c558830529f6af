// Command audit-persistence is a Lambda that drains the audit queue (SNS
// fanned out to SQS) into DynamoDB.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	lambdaevents "github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/Bananapus/juice-buyback-hook/internal/events"
	"github.com/Bananapus/juice-buyback-hook/internal/notification"
	"github.com/Bananapus/juice-buyback-hook/internal/platform/aws"
	"github.com/Bananapus/juice-buyback-hook/internal/platform/observability"
)

const (
	defaultTable = "buyback-audit"
	retention    = 90 * 24 * time.Hour
)

// Writer stores one item
type Writer interface {
	Put(ctx context.Context, item any) error
}

// auditItem is a record with its expiry
type auditItem struct {
	events.Record
	TTL int64 `dynamodbav:"ttl" json:"ttl"`
}

type handler struct {
	writer Writer
	now    func() time.Time
	logger *observability.Logger
}

// Handle persists every record in the batch. Failed messages are reported
// back so SQS only redelivers those.
func (h *handler) Handle(ctx context.Context, batch lambdaevents.SQSEvent) (lambdaevents.SQSEventResponse, error) {
	var failures []lambdaevents.SQSBatchItemFailure

	for _, msg := range batch.Records {
		rec, err := notification.DecodeSNSEnvelope(msg.Body)
		if err != nil {
			h.logger.LogError(ctx, "failed to decode message", err, "message_id", msg.MessageId)
			failures = append(failures, lambdaevents.SQSBatchItemFailure{ItemIdentifier: msg.MessageId})
			continue
		}

		item := auditItem{Record: rec, TTL: h.now().Add(retention).Unix()}
		if err := h.writer.Put(ctx, item); err != nil {
			h.logger.LogError(ctx, "failed to persist record", err, "message_id", msg.MessageId, "record_id", rec.ID)
			failures = append(failures, lambdaevents.SQSBatchItemFailure{ItemIdentifier: msg.MessageId})
			continue
		}
		h.logger.LogDebug(ctx, "persisted record", "record_id", rec.ID, "kind", rec.Kind, "project_id", rec.ProjectID)
	}

	h.logger.LogInfo(ctx, "batch processed",
		"records", len(batch.Records),
		"failed", len(failures),
	)
	return lambdaevents.SQSEventResponse{BatchItemFailures: failures}, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	logger := observability.NewLogger(getenv("LOG_LEVEL", "info"), "json")

	awsCfg, err := aws.LoadAWSConfig(context.Background(), aws.Config{
		Region:   getenv("AWS_REGION", "us-east-1"),
		Endpoint: os.Getenv("AWS_ENDPOINT_URL"),
	})
	if err != nil {
		panic(fmt.Sprintf("failed to load AWS config: %v", err))
	}

	table := getenv("AUDIT_TABLE", defaultTable)
	h := &handler{
		writer: aws.NewTableWriter(awsCfg, nil, table),
		now:    time.Now,
		logger: logger,
	}
	logger.Info("audit persistence initialized", "table", table)

	lambda.Start(h.Handle)
}

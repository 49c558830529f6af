// Command audit-webhook is a Lambda that forwards audit records from the
// audit queue to an HTTP endpoint.
package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	lambdaevents "github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/Bananapus/juice-buyback-hook/internal/events"
	"github.com/Bananapus/juice-buyback-hook/internal/notification"
	"github.com/Bananapus/juice-buyback-hook/internal/platform/observability"
	"github.com/Bananapus/juice-buyback-hook/internal/platform/resilience"
)

// urlAttribute overrides the endpoint per message
const urlAttribute = "webhookURL"

// HTTPError is a non-2xx webhook response
type HTTPError struct {
	StatusCode int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("webhook failed with status %d", e.StatusCode)
}

// retryable retries transport errors, 429 and 5xx
func retryable(err error) bool {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == http.StatusTooManyRequests || httpErr.StatusCode >= 500
	}
	return !errors.Is(err, context.Canceled)
}

type handler struct {
	client     *http.Client
	defaultURL string
	retry      resilience.RetryConfig
	logger     *observability.Logger
}

// Handle delivers every record in the batch. Messages with no endpoint are
// skipped; failed deliveries are reported back for redelivery.
func (h *handler) Handle(ctx context.Context, batch lambdaevents.SQSEvent) (lambdaevents.SQSEventResponse, error) {
	var failures []lambdaevents.SQSBatchItemFailure

	for _, msg := range batch.Records {
		rec, err := notification.DecodeSNSEnvelope(msg.Body)
		if err != nil {
			h.logger.LogError(ctx, "failed to decode message", err, "message_id", msg.MessageId)
			failures = append(failures, lambdaevents.SQSBatchItemFailure{ItemIdentifier: msg.MessageId})
			continue
		}

		target := h.defaultURL
		if attr, ok := msg.MessageAttributes[urlAttribute]; ok && attr.StringValue != nil {
			target = *attr.StringValue
		}
		if target == "" {
			h.logger.LogWarn(ctx, "no webhook configured, skipping", "message_id", msg.MessageId)
			continue
		}

		err = resilience.RetryIf(ctx, h.retry, retryable, func(ctx context.Context) error {
			return h.send(ctx, target, rec)
		})
		if err != nil {
			h.logger.LogError(ctx, "failed to deliver record", err, "record_id", rec.ID, "url", maskURL(target))
			failures = append(failures, lambdaevents.SQSBatchItemFailure{ItemIdentifier: msg.MessageId})
			continue
		}
		h.logger.LogDebug(ctx, "delivered record", "record_id", rec.ID, "kind", rec.Kind, "url", maskURL(target))
	}

	h.logger.LogInfo(ctx, "batch processed", "records", len(batch.Records), "failed", len(failures))
	return lambdaevents.SQSEventResponse{BatchItemFailures: failures}, nil
}

func (h *handler) send(ctx context.Context, target string, rec events.Record) error {
	payload, err := rec.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "buyback-audit-webhook/1.0")
	req.Header.Set("X-Audit-Kind", string(rec.Kind))

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &HTTPError{StatusCode: resp.StatusCode}
	}
	return nil
}

// maskURL keeps the scheme and host only
func maskURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Scheme + "://" + u.Host + "/***"
}

func main() {
	logger := observability.NewLogger(os.Getenv("LOG_LEVEL"), "json")
	h := &handler{
		client:     &http.Client{Timeout: 5 * time.Second},
		defaultURL: os.Getenv("WEBHOOK_URL"),
		retry: resilience.RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   time.Second,
			MaxDelay:    4 * time.Second,
			Jitter:      0.1,
		},
		logger: logger,
	}
	logger.Info("audit webhook initialized", "default_url", maskURL(h.defaultURL))

	lambda.Start(h.Handle)
}

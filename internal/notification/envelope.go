package notification

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Bananapus/juice-buyback-hook/internal/events"
)

// ErrMalformedEnvelope is returned for queue messages that do not carry an
// audit record
var ErrMalformedEnvelope = errors.New("notification: malformed envelope")

// DecodeSNSEnvelope unwraps an SNS notification delivered through SQS and
// decodes the audit record it carries
func DecodeSNSEnvelope(body string) (events.Record, error) {
	var envelope struct {
		Message string `json:"Message"`
	}
	if err := json.Unmarshal([]byte(body), &envelope); err != nil {
		return events.Record{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}

	var rec events.Record
	if err := json.Unmarshal([]byte(envelope.Message), &rec); err != nil {
		return events.Record{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if rec.ID == "" || rec.Kind == "" {
		return events.Record{}, fmt.Errorf("%w: record without id or kind", ErrMalformedEnvelope)
	}
	return rec, nil
}

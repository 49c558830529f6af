package notification

import (
	"context"

	"github.com/Bananapus/juice-buyback-hook/internal/events"
	"github.com/Bananapus/juice-buyback-hook/internal/platform/observability"
)

// LogSink writes every record to the log.
// Used when SNS is not configured (local development, testing).
type LogSink struct {
	logger *observability.Logger
}

// NewLogSink creates a sink that only logs records.
func NewLogSink(logger *observability.Logger) *LogSink {
	return &LogSink{logger: logger.Component("audit")}
}

// Emit implements events.Sink.
func (s *LogSink) Emit(ctx context.Context, rec events.Record) {
	fields := []any{
		"record_id", rec.ID,
		"kind", rec.Kind,
		"project_id", rec.ProjectID,
		"caller", rec.Caller,
	}
	switch rec.Kind {
	case events.KindPoolConfigured:
		fields = append(fields, "settlement_token", rec.SettlementToken, "pool", rec.Pool, "fee", rec.Fee)
	case events.KindTwapWindowChanged, events.KindTwapSlippageToleranceChanged:
		fields = append(fields, "old", rec.OldValue, "new", rec.NewValue)
	case events.KindSwapExecuted:
		fields = append(fields, "pool", rec.Pool, "amount_in", rec.AmountIn, "amount_received", rec.AmountReceived)
	case events.KindSettlementMinted:
		fields = append(fields, "beneficiary", rec.Beneficiary, "deposited", rec.AmountDeposited, "minted", rec.TokensMinted)
	}
	s.logger.LogInfo(ctx, "audit record", fields...)
}

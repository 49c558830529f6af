package observability

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel/attribute"
)

func TestLogger_WritesJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, "info", "json").Component("registry")

	logger.LogInfo(context.Background(), "pool configured", "project_id", 7)
	logger.LogDebug(context.Background(), "hidden")

	out := buf.String()
	if !strings.Contains(out, `"component":"registry"`) {
		t.Errorf("missing component field: %s", out)
	}
	if !strings.Contains(out, `"project_id":7`) {
		t.Errorf("missing project_id field: %s", out)
	}
	if strings.Contains(out, "hidden") {
		t.Errorf("debug line written at info level: %s", out)
	}
}

func TestLogger_NilSafe(t *testing.T) {
	var logger *Logger
	logger.LogError(context.Background(), "ignored", errors.New("boom"))
	logger.LogInfo(context.Background(), "ignored")
	if logger.Component("x") != nil {
		t.Error("expected nil component logger")
	}
}

func TestMetrics_DisabledIsNoop(t *testing.T) {
	m, err := NewMetrics("test", "dev", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m.RecordQuote(context.Background(), "ok", time.Millisecond)
	m.RecordSwap(context.Background(), true)

	var nilMetrics *Metrics
	nilMetrics.RecordSettlement(context.Background(), "swap")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 from disabled metrics, got %d", rec.Code)
	}
}

func TestMetrics_Exported(t *testing.T) {
	m, err := NewMetrics("test", "dev", true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx := context.Background()
	m.RecordRoutingDecision(ctx, "swap", false)
	m.RecordSwap(ctx, true)

	// A second instance must not collide on registration
	if _, err := NewMetrics("test", "dev", true); err != nil {
		t.Fatalf("second instance: %v", err)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	if !strings.Contains(body, "buyback_routing_decisions") {
		t.Errorf("routing decisions not exported:\n%s", body)
	}
}

func TestNoopTracer(t *testing.T) {
	ctx, span := NewNoopTracer().StartSpan(context.Background(), "op")
	defer span.End()
	span.NoticeError(errors.New("ignored"))
	if span.TraceID() != "" {
		t.Error("noop span should have no trace id")
	}
	if ctx == nil {
		t.Error("nil context")
	}
}

func TestSpanAttributes(t *testing.T) {
	tests := []struct {
		name string
		kv   attribute.KeyValue
		want string
	}{
		{"project", ProjectAttr(7), "7"},
		{"address", AddressAttr("pool", common.HexToAddress("0xabc")), common.HexToAddress("0xabc").Hex()},
		{"amount beyond int64", AmountAttr("amount", new(big.Int).Lsh(big.NewInt(1), 100)), "1267650600228229401496703205376"},
		{"nil amount", AmountAttr("amount", nil), "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.kv.Value.Emit(); got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

// Package events defines the audit records emitted by the registry and the
// buyback hook.
package events

import (
	"context"
	"encoding/json"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// Kind names a record type.
type Kind string

const (
	KindPoolConfigured               Kind = "pool_configured"
	KindTwapWindowChanged            Kind = "twap_window_changed"
	KindTwapSlippageToleranceChanged Kind = "twap_slippage_tolerance_changed"
	KindSwapExecuted                 Kind = "swap_executed"
	KindSettlementMinted             Kind = "settlement_minted"
)

// Record is the serializable form of every audit event. Amounts are decimal
// strings so they survive JSON and DynamoDB without precision loss.
type Record struct {
	ID        string `json:"id" dynamodbav:"id"`
	Kind      Kind   `json:"kind" dynamodbav:"kind"`
	ProjectID uint64 `json:"projectId" dynamodbav:"projectId"`
	Caller    string `json:"caller" dynamodbav:"caller"`
	Timestamp int64  `json:"timestamp" dynamodbav:"timestamp"`

	SettlementToken string `json:"settlementToken,omitempty" dynamodbav:"settlementToken,omitempty"`
	ProjectToken    string `json:"projectToken,omitempty" dynamodbav:"projectToken,omitempty"`
	Pool            string `json:"pool,omitempty" dynamodbav:"pool,omitempty"`
	Fee             uint32 `json:"fee,omitempty" dynamodbav:"fee,omitempty"`

	// Configuration changes
	OldValue string `json:"oldValue,omitempty" dynamodbav:"oldValue,omitempty"`
	NewValue string `json:"newValue,omitempty" dynamodbav:"newValue,omitempty"`

	// Settlement
	Beneficiary     string `json:"beneficiary,omitempty" dynamodbav:"beneficiary,omitempty"`
	AmountIn        string `json:"amountIn,omitempty" dynamodbav:"amountIn,omitempty"`
	AmountReceived  string `json:"amountReceived,omitempty" dynamodbav:"amountReceived,omitempty"`
	AmountDeposited string `json:"amountDeposited,omitempty" dynamodbav:"amountDeposited,omitempty"`
	TokensMinted    string `json:"tokensMinted,omitempty" dynamodbav:"tokensMinted,omitempty"`
}

// ToJSON serializes the record.
func (r Record) ToJSON() ([]byte, error) {
	return json.Marshal(r)
}

func newRecord(kind Kind, projectID uint64, caller common.Address) Record {
	return Record{
		ID:        uuid.NewString(),
		Kind:      kind,
		ProjectID: projectID,
		Caller:    caller.Hex(),
		Timestamp: time.Now().Unix(),
	}
}

func amount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// PoolConfigured is emitted when a pool is registered for a pair.
func PoolConfigured(caller common.Address, projectID uint64, settlementToken, projectToken, pool common.Address, fee uint32) Record {
	r := newRecord(KindPoolConfigured, projectID, caller)
	r.SettlementToken = settlementToken.Hex()
	r.ProjectToken = projectToken.Hex()
	r.Pool = pool.Hex()
	r.Fee = fee
	return r
}

// TwapWindowChanged carries the old and new window in seconds.
func TwapWindowChanged(caller common.Address, projectID uint64, oldWindow, newWindow uint32) Record {
	r := newRecord(KindTwapWindowChanged, projectID, caller)
	r.OldValue = big.NewInt(int64(oldWindow)).String()
	r.NewValue = big.NewInt(int64(newWindow)).String()
	return r
}

// TwapSlippageToleranceChanged carries the old and new tolerance in bps.
func TwapSlippageToleranceChanged(caller common.Address, projectID uint64, oldBps, newBps uint32) Record {
	r := newRecord(KindTwapSlippageToleranceChanged, projectID, caller)
	r.OldValue = big.NewInt(int64(oldBps)).String()
	r.NewValue = big.NewInt(int64(newBps)).String()
	return r
}

// SwapExecuted is emitted after a successful swap.
func SwapExecuted(caller common.Address, projectID uint64, pool common.Address, amountIn, amountReceived *big.Int) Record {
	r := newRecord(KindSwapExecuted, projectID, caller)
	r.Pool = pool.Hex()
	r.AmountIn = amount(amountIn)
	r.AmountReceived = amount(amountReceived)
	return r
}

// SettlementMinted is emitted when unswapped funds are returned to the project
// balance and minted at the issuance rate.
func SettlementMinted(caller common.Address, projectID uint64, settlementToken, beneficiary common.Address, deposited, tokensMinted *big.Int) Record {
	r := newRecord(KindSettlementMinted, projectID, caller)
	r.SettlementToken = settlementToken.Hex()
	r.Beneficiary = beneficiary.Hex()
	r.AmountDeposited = amount(deposited)
	r.TokensMinted = amount(tokensMinted)
	return r
}

// Sink receives audit records.
type Sink interface {
	Emit(ctx context.Context, r Record)
}

// Discard drops every record.
type Discard struct{}

func (Discard) Emit(context.Context, Record) {}

// Multi fans a record out to several sinks.
type Multi []Sink

func (m Multi) Emit(ctx context.Context, r Record) {
	for _, s := range m {
		s.Emit(ctx, r)
	}
}

// Recorder keeps records in memory.
type Recorder struct {
	mu      sync.Mutex
	records []Record
}

func (r *Recorder) Emit(_ context.Context, rec Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
}

// Records returns a copy of everything emitted so far.
func (r *Recorder) Records() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, len(r.records))
	copy(out, r.records)
	return out
}

// OfKind returns the records of one kind.
func (r *Recorder) OfKind(kind Kind) []Record {
	var out []Record
	for _, rec := range r.Records() {
		if rec.Kind == kind {
			out = append(out, rec)
		}
	}
	return out
}

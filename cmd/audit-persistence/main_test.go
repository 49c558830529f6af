package main

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"testing"
	"time"

	lambdaevents "github.com/aws/aws-lambda-go/events"
	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/ethereum/go-ethereum/common"

	"github.com/Bananapus/juice-buyback-hook/internal/events"
	"github.com/Bananapus/juice-buyback-hook/internal/platform/aws"
	"github.com/Bananapus/juice-buyback-hook/internal/platform/observability"
)

type fakeDynamo struct {
	items []map[string]types.AttributeValue
	fail  map[string]bool
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	if id, ok := in.Item["id"].(*types.AttributeValueMemberS); ok && f.fail[id.Value] {
		return nil, errors.New("ProvisionedThroughputExceededException")
	}
	f.items = append(f.items, in.Item)
	return &dynamodb.PutItemOutput{}, nil
}

func envelope(t *testing.T, rec events.Record) string {
	t.Helper()
	payload, err := rec.ToJSON()
	if err != nil {
		t.Fatal(err)
	}
	body, err := json.Marshal(map[string]string{"Type": "Notification", "Message": string(payload)})
	if err != nil {
		t.Fatal(err)
	}
	return string(body)
}

func TestHandle(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	swap := events.SwapExecuted(common.HexToAddress("0xb0b0b0b0"), 1, common.HexToAddress("0x1234"), big.NewInt(10), big.NewInt(1500))
	window := events.TwapWindowChanged(common.HexToAddress("0xa11ce"), 1, 600, 1200)
	throttled := events.TwapSlippageToleranceChanged(common.HexToAddress("0xa11ce"), 1, 500, 250)

	db := &fakeDynamo{fail: map[string]bool{throttled.ID: true}}
	h := &handler{
		writer: aws.NewTableWriter(awssdk.Config{}, db, "buyback-audit"),
		now:    func() time.Time { return now },
		logger: observability.NewDiscardLogger(),
	}

	resp, err := h.Handle(context.Background(), lambdaevents.SQSEvent{Records: []lambdaevents.SQSMessage{
		{MessageId: "m1", Body: envelope(t, swap)},
		{MessageId: "m2", Body: "not an envelope"},
		{MessageId: "m3", Body: envelope(t, window)},
		{MessageId: "m4", Body: envelope(t, throttled)},
	}})
	if err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}

	var failed []string
	for _, f := range resp.BatchItemFailures {
		failed = append(failed, f.ItemIdentifier)
	}
	if len(failed) != 2 || failed[0] != "m2" || failed[1] != "m4" {
		t.Errorf("failures = %v, want [m2 m4]", failed)
	}

	if len(db.items) != 2 {
		t.Fatalf("persisted %d items, want 2", len(db.items))
	}
	first := db.items[0]
	if id := first["id"].(*types.AttributeValueMemberS).Value; id != swap.ID {
		t.Errorf("id = %s, want %s", id, swap.ID)
	}
	if got := first["amountReceived"].(*types.AttributeValueMemberS).Value; got != "1500" {
		t.Errorf("amountReceived = %s", got)
	}
	wantTTL := now.Add(retention).Unix()
	if got := first["ttl"].(*types.AttributeValueMemberN).Value; got != big.NewInt(wantTTL).String() {
		t.Errorf("ttl = %s, want %d", got, wantTTL)
	}
	if _, ok := db.items[1]["beneficiary"]; ok {
		t.Error("empty settlement fields should be omitted")
	}
}

package ingestion_test

import (
	"encoding/json"
	"testing"
	"time"

	"ClearLedger/internal/event"
	"ClearLedger/internal/ingestion"
)

func rawFromJSON(t *testing.T, v interface{}) ingestion.RawEvent {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return ingestion.RawEvent{
		Subject:   "test",
		Data:      data,
		Timestamp: time.Now(),
		AckFunc:   func() {},
		NakFunc:   func() {},
	}
}

func TestParseTradeFill(t *testing.T) {
	payload := map[string]interface{}{
		"fill_id":       "550e8400-e29b-41d4-a716-446655440000",
		"contract":      "BTC-USDT-PERP",
		"buyer":         "addr-buyer",
		"seller":        "addr-seller",
		"quantity":      int64(1_000_000_00),
		"price":         int64(50_000_000_000_00),
		"fee":           int64(5_000),
		"block_height":  int64(120),
		"fill_sequence": int64(42),
		"timestamp_us":  int64(1700000000000000),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "TradeFill")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	tf, ok := evt.(*event.TradeFill)
	if !ok {
		t.Fatalf("expected *event.TradeFill, got %T", evt)
	}

	if tf.Contract != "BTC-USDT-PERP" {
		t.Errorf("contract: got %s, want BTC-USDT-PERP", tf.Contract)
	}
	if tf.Buyer != "addr-buyer" || tf.Seller != "addr-seller" {
		t.Errorf("parties: got %s/%s", tf.Buyer, tf.Seller)
	}
	if tf.Quantity != 1_000_000_00 {
		t.Errorf("quantity: got %d, want 1_000_000_00", tf.Quantity)
	}
	if tf.BlockHeight != 120 {
		t.Errorf("block_height: got %d, want 120", tf.BlockHeight)
	}
	if tf.FillSequence != 42 {
		t.Errorf("fill_sequence: got %d, want 42", tf.FillSequence)
	}
	if tf.EventType() != event.EventTypeTradeFill {
		t.Errorf("event type: got %v, want TradeFill", tf.EventType())
	}
}

func TestParseTradeFillRejectsBadQuantity(t *testing.T) {
	payload := map[string]interface{}{
		"fill_id":  "550e8400-e29b-41d4-a716-446655440000",
		"contract": "BTC-USDT-PERP",
		"buyer":    "a",
		"seller":   "b",
		"quantity": int64(0),
		"price":    int64(100),
	}

	if _, err := ingestion.ParseRawEvent(rawFromJSON(t, payload), "TradeFill"); err == nil {
		t.Fatal("expected error for zero quantity")
	}
}

func TestParseMarkPriceUpdate(t *testing.T) {
	payload := map[string]interface{}{
		"contract":       "BTC-USDT-PERP",
		"mark_price":     int64(50_000_000_000_00),
		"index_price":    int64(50_010_000_000_00),
		"block_height":   int64(99),
		"price_sequence": int64(7),
		"timestamp_us":   int64(1700000000000000),
	}

	evt, err := ingestion.ParseRawEvent(rawFromJSON(t, payload), "MarkPriceUpdate")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	mp, ok := evt.(*event.MarkPriceUpdate)
	if !ok {
		t.Fatalf("expected *event.MarkPriceUpdate, got %T", evt)
	}
	if mp.MarkPrice != 50_000_000_000_00 {
		t.Errorf("mark_price: got %d", mp.MarkPrice)
	}
	if mp.PriceSequence != 7 {
		t.Errorf("price_sequence: got %d, want 7", mp.PriceSequence)
	}
	if mp.IdempotencyKey() != "BTC-USDT-PERP:price:7" {
		t.Errorf("idempotency key: got %s", mp.IdempotencyKey())
	}
}

func TestParseBlockCommit(t *testing.T) {
	payload := map[string]interface{}{
		"height":       int64(1234),
		"trade_count":  int64(9),
		"timestamp_us": int64(1700000000000000),
	}

	evt, err := ingestion.ParseRawEvent(rawFromJSON(t, payload), "BlockCommit")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	bc, ok := evt.(*event.BlockCommit)
	if !ok {
		t.Fatalf("expected *event.BlockCommit, got %T", evt)
	}
	if bc.Height != 1234 {
		t.Errorf("height: got %d, want 1234", bc.Height)
	}
	if bc.ContractID() != nil {
		t.Error("block commit should be a global event")
	}
}

func TestParseMarginAllocate(t *testing.T) {
	payload := map[string]interface{}{
		"transfer_id":  "550e8400-e29b-41d4-a716-446655440000",
		"address":      "addr-1",
		"contract":     "ETH-USDT-PERP",
		"amount":       int64(25_000_000_00),
		"block_height": int64(88),
		"sequence":     int64(3),
	}

	evt, err := ingestion.ParseRawEvent(rawFromJSON(t, payload), "MarginAllocate")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	ma, ok := evt.(*event.MarginAllocate)
	if !ok {
		t.Fatalf("expected *event.MarginAllocate, got %T", evt)
	}
	if ma.Address != "addr-1" {
		t.Errorf("address: got %s", ma.Address)
	}
	if ma.Amount != 25_000_000_00 {
		t.Errorf("amount: got %d", ma.Amount)
	}
}

func TestParseContractParamUpdate(t *testing.T) {
	payload := map[string]interface{}{
		"contract":         "BTC-USD-INVERSE",
		"collateral_asset": "BTC",
		"notional_value":   int64(100_000_000),
		"leverage":         int64(50),
		"inverse":          true,
		"perpetual":        true,
		"whitelisted":      true,
		"sequence":         int64(1),
	}

	evt, err := ingestion.ParseRawEvent(rawFromJSON(t, payload), "ContractParamUpdate")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	cp, ok := evt.(*event.ContractParamUpdate)
	if !ok {
		t.Fatalf("expected *event.ContractParamUpdate, got %T", evt)
	}
	if !cp.Inverse || !cp.Perpetual {
		t.Error("inverse/perpetual flags lost in parsing")
	}
	if cp.Leverage != 50 {
		t.Errorf("leverage: got %d, want 50", cp.Leverage)
	}
}

func TestParseBookDepthSnapshot(t *testing.T) {
	payload := map[string]interface{}{
		"contract": "BTC-USDT-PERP",
		"bids": []map[string]interface{}{
			{"address": "mm-1", "price": int64(49_900_000_000_00), "quantity": int64(2_000_000_00)},
		},
		"asks": []map[string]interface{}{
			{"address": "mm-2", "price": int64(50_100_000_000_00), "quantity": int64(1_000_000_00)},
		},
		"block_height": int64(77),
		"sequence":     int64(5),
	}

	evt, err := ingestion.ParseRawEvent(rawFromJSON(t, payload), "BookDepthSnapshot")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	bd, ok := evt.(*event.BookDepthSnapshot)
	if !ok {
		t.Fatalf("expected *event.BookDepthSnapshot, got %T", evt)
	}
	if len(bd.Bids) != 1 || len(bd.Asks) != 1 {
		t.Fatalf("depth levels: got %d bids, %d asks", len(bd.Bids), len(bd.Asks))
	}
	if bd.Bids[0].Address != "mm-1" {
		t.Errorf("bid address: got %s", bd.Bids[0].Address)
	}
}

func TestParseUnknownEventType(t *testing.T) {
	raw := rawFromJSON(t, map[string]interface{}{})
	if _, err := ingestion.ParseRawEvent(raw, "NoSuchEvent"); err == nil {
		t.Fatal("expected error for unknown event type")
	}
}

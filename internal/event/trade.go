package event

import (
	"time"

	"github.com/google/uuid"
)

// TradeFill represents a matched trade from the external matching engine.
// Both sides settle through the same fill; the buyer adds signed quantity,
// the seller subtracts it. Idempotency key: fill_id (UUID from matching).
type TradeFill struct {
	FillID       uuid.UUID // Idempotency key
	Contract     string
	Buyer        string
	Seller       string
	Quantity     int64 // Fixed-point, always positive (scale=100_000_000)
	Price        int64 // Fixed-point: price scale (scale=100_000_000)
	Fee          int64 // Fixed-point, collateral-asset units
	BlockHeight  int64
	FillSequence int64     // Source sequence from matching engine
	Timestamp    time.Time // Versioned input timestamp (NOT wall-clock)
}

func (t *TradeFill) IdempotencyKey() string {
	return t.FillID.String()
}

func (t *TradeFill) EventType() EventType {
	return EventTypeTradeFill
}

func (t *TradeFill) ContractID() *string {
	c := t.Contract
	return &c
}

func (t *TradeFill) SourceSequence() int64 {
	return t.FillSequence
}

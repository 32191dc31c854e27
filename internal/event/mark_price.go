package event

import "fmt"

// MarkPriceUpdate represents a mark price print from the oracle index.
type MarkPriceUpdate struct {
	Contract       string
	MarkPrice      int64 // Fixed-point: price scale
	IndexPrice     int64 // Optional, for reference
	BlockHeight    int64
	PriceSequence  int64 // Monotonic per contract
	PriceTimestamp int64 // Epoch microseconds (versioned input)
}

func (m *MarkPriceUpdate) IdempotencyKey() string {
	return fmt.Sprintf("%s:price:%d", m.Contract, m.PriceSequence)
}

func (m *MarkPriceUpdate) EventType() EventType {
	return EventTypeMarkPriceUpdate
}

func (m *MarkPriceUpdate) ContractID() *string {
	c := m.Contract
	return &c
}

func (m *MarkPriceUpdate) SourceSequence() int64 {
	return m.PriceSequence
}

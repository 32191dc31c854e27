package event

import (
	"fmt"
)

// FundingRateSnapshot is the published record of one contract's settled
// funding interval. It is an output of settlement, re-ingested only by
// downstream consumers, never by the settler itself.
type FundingRateSnapshot struct {
	Contract    string
	PremiumBps  int64 // Fixed-point bps (scale=100_000_000), signed
	HourlyBps   int64 // Clamped and capped hourly rate
	Collected   int64
	Distributed int64
	BadDebt     int64
	BlockHeight int64
}

func (f *FundingRateSnapshot) IdempotencyKey() string {
	return fmt.Sprintf("%s:funding:%d", f.Contract, f.BlockHeight)
}

func (f *FundingRateSnapshot) EventType() EventType {
	return EventTypeFundingRateSnapshot
}

func (f *FundingRateSnapshot) ContractID() *string {
	c := f.Contract
	return &c
}

func (f *FundingRateSnapshot) SourceSequence() int64 {
	return f.BlockHeight
}

package event

import "fmt"

// PriceLevel is one resting depth level in a book snapshot.
type PriceLevel struct {
	Address  string
	Price    int64
	Quantity int64
}

// BookDepthSnapshot replaces the settler's view of a contract's resting
// depth. Liquidation fill estimates run against the latest snapshot.
type BookDepthSnapshot struct {
	Contract    string
	Bids        []PriceLevel
	Asks        []PriceLevel
	BlockHeight int64
	Sequence    int64
}

func (d *BookDepthSnapshot) IdempotencyKey() string {
	return fmt.Sprintf("%s:depth:%d", d.Contract, d.Sequence)
}

func (d *BookDepthSnapshot) EventType() EventType {
	return EventTypeBookDepthSnapshot
}

func (d *BookDepthSnapshot) ContractID() *string {
	c := d.Contract
	return &c
}

func (d *BookDepthSnapshot) SourceSequence() int64 {
	return d.Sequence
}

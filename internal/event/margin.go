package event

import "github.com/google/uuid"

// MarginAllocate moves collateral from available into a position's margin.
type MarginAllocate struct {
	TransferID  uuid.UUID
	Address     string
	Contract    string
	Amount      int64 // Fixed-point
	BlockHeight int64
	Sequence    int64
}

func (m *MarginAllocate) IdempotencyKey() string {
	return m.TransferID.String()
}

func (m *MarginAllocate) EventType() EventType {
	return EventTypeMarginAllocate
}

func (m *MarginAllocate) ContractID() *string {
	c := m.Contract
	return &c
}

func (m *MarginAllocate) SourceSequence() int64 {
	return m.Sequence
}

// MarginRelease returns excess margin to available. The settler enforces
// the maintenance floor; releases below it are truncated.
type MarginRelease struct {
	TransferID  uuid.UUID
	Address     string
	Contract    string
	Amount      int64
	BlockHeight int64
	Sequence    int64
}

func (m *MarginRelease) IdempotencyKey() string {
	return m.TransferID.String()
}

func (m *MarginRelease) EventType() EventType {
	return EventTypeMarginRelease
}

func (m *MarginRelease) ContractID() *string {
	c := m.Contract
	return &c
}

func (m *MarginRelease) SourceSequence() int64 {
	return m.Sequence
}

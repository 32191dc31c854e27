package event

import (
	"fmt"
)

// ContractParamUpdate registers a contract or updates its parameters.
// The settler applies it to the registry before the next block settles.
type ContractParamUpdate struct {
	Contract        string
	CollateralAsset string
	NotionalValue   int64 // Fixed-point
	Leverage        int64 // Integer max leverage
	Inverse         bool
	Perpetual       bool
	Whitelisted     bool
	Sequence        int64
}

func (r *ContractParamUpdate) IdempotencyKey() string {
	return fmt.Sprintf("%s:params:%d", r.Contract, r.Sequence)
}

func (r *ContractParamUpdate) EventType() EventType {
	return EventTypeContractParamUpdate
}

func (r *ContractParamUpdate) ContractID() *string {
	c := r.Contract
	return &c
}

func (r *ContractParamUpdate) SourceSequence() int64 {
	return r.Sequence
}

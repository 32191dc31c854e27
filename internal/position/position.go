package position

import (
	"github.com/google/uuid"

	"ClearLedger/internal/fixed"
)

// Position is one address's exposure in one contract. Contracts is signed:
// positive long, negative short. AvgPrice is zero while flat; LiqPrice and
// BankruptcyPrice are nil when the position cannot be liquidated at a finite
// price.
type Position struct {
	Address    string
	ContractID string

	Contracts int64
	AvgPrice  int64
	Margin    int64

	UnrealizedPnL int64
	RealizedPnL   int64

	LiqPrice        *int64
	BankruptcyPrice *int64

	// LastMark is the mark this position was last cleared against. After a
	// clearing pass it must equal the block's mark for every open position.
	LastMark int64

	// NewPosThisBlock is the signed quantity opened this block outside of
	// clearing, used to separate fresh exposure from carried exposure.
	NewPosThisBlock int64

	Version int64
}

// IsFlat reports whether the position has no exposure.
func (p *Position) IsFlat() bool {
	return p.Contracts == 0
}

// IsLong reports the position direction. Flat positions are not long.
func (p *Position) IsLong() bool {
	return p.Contracts > 0
}

// SideSign returns +1 for long, -1 for short, 0 for flat.
func (p *Position) SideSign() int64 {
	return fixed.Sign(p.Contracts)
}

// AbsContracts returns the unsigned open quantity.
func (p *Position) AbsContracts() int64 {
	return fixed.Abs(p.Contracts)
}

// Clone returns a deep copy for the block-scoped position cache.
func (p *Position) Clone() *Position {
	cp := *p
	if p.LiqPrice != nil {
		v := *p.LiqPrice
		cp.LiqPrice = &v
	}
	if p.BankruptcyPrice != nil {
		v := *p.BankruptcyPrice
		cp.BankruptcyPrice = &v
	}
	return &cp
}

// Zero wipes the position after a total liquidation or complete close. The
// record itself persists with zero quantity for audit continuity.
func (p *Position) Zero(mark int64) {
	p.Contracts = 0
	p.AvgPrice = 0
	p.Margin = 0
	p.UnrealizedPnL = 0
	p.LiqPrice = nil
	p.BankruptcyPrice = nil
	p.LastMark = mark
	p.NewPosThisBlock = 0
	p.Version++
}

// DeltaMode labels the operation behind a position mutation.
type DeltaMode int32

const (
	DeltaModeFill DeltaMode = iota
	DeltaModeClearing
	DeltaModeLiquidation
	DeltaModeDeleverage
	DeltaModeMargin
	DeltaModeZeroed
)

func (m DeltaMode) String() string {
	switch m {
	case DeltaModeFill:
		return "fill"
	case DeltaModeClearing:
		return "clearing"
	case DeltaModeLiquidation:
		return "liquidation"
	case DeltaModeDeleverage:
		return "deleverage"
	case DeltaModeMargin:
		return "margin"
	case DeltaModeZeroed:
		return "zeroed"
	default:
		return "unknown"
	}
}

// Delta is the append-only audit record paired with every position
// mutation. It is write-only: the settlement algorithm never reads it back.
type Delta struct {
	DeltaID    uuid.UUID
	Address    string
	ContractID string
	Contracts  int64
	AvgPrice   int64
	Margin     int64
	Mode       DeltaMode
	Block      int64
}

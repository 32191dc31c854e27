package clearing

import (
	"github.com/google/uuid"

	"ClearLedger/internal/ledger"
)

const (
	// Half the position margin is usable to absorb clearing losses before
	// the position counts as insolvent: coverage = available + margin/2.
	// Policy constant carried over from the original risk design.
	solventMarginDivisor = 2

	// Funding settles once every FundingIntervalBlocks blocks.
	FundingIntervalBlocks = 24

	// Trailing VWAP window used for the funding premium, in blocks.
	FundingVWAPWindow = 24

	// Largest per-asset reconciliation drift, in base units, absorbed into
	// the insurance address instead of halting the block.
	supplyDustTolerance = 1
)

// LiquidationKind classifies how much of a position was force-closed.
type LiquidationKind int32

const (
	LiquidationPartial LiquidationKind = iota
	LiquidationTotal
)

func (k LiquidationKind) String() string {
	if k == LiquidationPartial {
		return "partial"
	}
	return "total"
}

// ADLFill records one counterparty's share of an auto-deleveraging match.
type ADLFill struct {
	Address    string
	Quantity   int64 // unsigned closed quantity
	Price      int64 // bankruptcy price the close was struck at
	MarkProfit int64 // counterparty entitlement on the closed quantity
	PoolShare  int64 // portion paid out of the seized collateral
}

// LiquidationEvent is the audit record for one forced close.
type LiquidationEvent struct {
	EventID         uuid.UUID
	ContractID      string
	Address         string
	Block           int64
	Kind            LiquidationKind
	LiqAmount       int64
	BookFilled      int64
	ADLSize         int64
	BankruptcyPrice int64
	Seized          int64
	SystemicLoss    int64
	ADLFills        []ADLFill
}

// FundingEvent is the audit record for one contract's funding settlement.
type FundingEvent struct {
	EventID     uuid.UUID
	ContractID  string
	Block       int64
	PremiumBps  int64
	HourlyBps   int64
	Collected   int64
	Distributed int64
	BadDebt     int64
}

// IOUPayout is one address's settled claim share for the block.
type IOUPayout struct {
	ContractID string
	AssetID    ledger.AssetID
	Address    string
	Amount     int64
}

// ContractResult is the per-contract outcome of one block's clearing.
type ContractResult struct {
	ContractID   string
	OldMark      int64
	NewMark      int64
	PnLDelta     int64 // total positive clearing PnL credited this block
	SystemicLoss int64
	Liquidations []LiquidationEvent
}

// BlockResult is the full settlement outcome handed to persistence and
// downstream reconciliation. It is never read back by the engine.
type BlockResult struct {
	Block         int64
	Contracts     []ContractResult
	Funding       []FundingEvent
	IOUPayouts    []IOUPayout
	InsurancePaid int64
	SystemicLoss  int64
}

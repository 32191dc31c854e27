package clearing

import (
	"github.com/google/uuid"

	"ClearLedger/internal/contract"
	"ClearLedger/internal/ledger"
)

// The engine depends on abstract collaborator capabilities rather than
// concrete modules so replicas can swap storage and feeds without touching
// settlement logic, and so tests can run against fakes.

// PriceSource answers mark-price and volume-index questions per block.
type PriceSource interface {
	// GetIndexPrice returns the mark price for a contract at a block
	// height, or false when no oracle print exists yet.
	GetIndexPrice(contractID string, block int64) (int64, bool)
	// GetVWAP returns the volume-weighted average price over the trailing
	// window of blocks ending at block.
	GetVWAP(contractID string, block, window int64) (int64, bool)
}

// BookFill is one counterparty fill produced by a forced liquidation order.
type BookFill struct {
	Address  string
	Quantity int64 // unsigned fill size
	Price    int64
}

// OrderBook is the matching collaborator used for liquidation fills.
type OrderBook interface {
	// EstimateLiquidation returns how many of size contracts can close at
	// or better than limitPrice without walking past it. Zero means the
	// whole size falls through to deleveraging.
	EstimateLiquidation(contractID string, size, limitPrice int64, sell, inverse bool) int64
	// ExecuteLiquidation inserts the forced order and matches it, returning
	// the counterparty fills. Implementations must never fill beyond the
	// estimated safe size.
	ExecuteLiquidation(contractID string, size, limitPrice int64, sell bool) []BookFill
}

// InsuranceFund absorbs systemic losses up to its balance.
type InsuranceFund interface {
	// CalcPayout returns how much of loss the fund can cover at this block.
	CalcPayout(loss, block int64) int64
	// Address is the system address holding the fund's collateral.
	Address() string
}

// Trade is a matched fill as recorded by the trade-history collaborator.
type Trade struct {
	TradeID    uuid.UUID
	ContractID string
	Buyer      string
	Seller     string
	Quantity   int64 // always positive
	Price      int64
	Block      int64
}

// TradeHistory serves same-block trades for settlement tie-off.
type TradeHistory interface {
	GetTradesBetween(contractID string, fromBlock, toBlock int64) []Trade
}

// BalanceLedger is the collateral tally store.
type BalanceLedger interface {
	GetTally(address string, assetID ledger.AssetID) ledger.Tally
	UpdateBalance(
		address string,
		assetID ledger.AssetID,
		availableDelta, reservedDelta, marginDelta int64,
		reason ledger.ReasonTag,
		block int64,
	) ledger.Tally
	MarginMutatedInBlock(block int64) bool
	SumBalances(assetID ledger.AssetID) int64
	CirculatingSupply(assetID ledger.AssetID) int64
	Assets() []ledger.AssetID
}

// ContractRegistry serves contract metadata in registration order.
type ContractRegistry interface {
	GetContractInfo(contractID string) (*contract.Info, bool)
	GetCollateralID(contractID string) (ledger.AssetID, bool)
	GetInitialMargin(contractID string, price int64) (int64, error)
	GetAllContracts() []string
	GetAllPerpContracts() []string
}

// Observer receives settlement telemetry. A nil observer is allowed.
type Observer interface {
	BlockSettled(block int64, contracts int, seconds float64)
	LiquidationRecorded(contractID, kind string)
	SystemicLossRecorded(contractID string, amount int64)
	FundingApplied(contractID string, hourlyBps int64)
	InvariantViolation(name string)
}

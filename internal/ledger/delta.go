package ledger

import "github.com/google/uuid"

// ReasonTag labels the settlement operation behind a balance mutation.
type ReasonTag int32

const (
	ReasonClearing ReasonTag = iota
	ReasonLiquidation
	ReasonDeleverage
	ReasonFunding
	ReasonFundingBadDebt
	ReasonIOUPayout
	ReasonInsurance
	ReasonDustAbsorb
	ReasonMarginTransfer
	ReasonTradeSettle
)

func (r ReasonTag) String() string {
	switch r {
	case ReasonClearing:
		return "clearing"
	case ReasonLiquidation:
		return "liquidation"
	case ReasonDeleverage:
		return "deleverage"
	case ReasonFunding:
		return "funding"
	case ReasonFundingBadDebt:
		return "funding_bad_debt"
	case ReasonIOUPayout:
		return "iou_payout"
	case ReasonInsurance:
		return "insurance"
	case ReasonDustAbsorb:
		return "dust_absorb"
	case ReasonMarginTransfer:
		return "margin_transfer"
	case ReasonTradeSettle:
		return "trade_settle"
	default:
		return "unknown"
	}
}

// BalanceDelta is one append-only audit record. It carries both the applied
// deltas and the post-mutation totals so replay debugging never has to
// reconstruct running balances.
type BalanceDelta struct {
	DeltaID        uuid.UUID
	Address        string
	AssetID        AssetID
	AvailableDelta int64
	ReservedDelta  int64
	MarginDelta    int64
	NewAvailable   int64
	NewReserved    int64
	NewMargin      int64
	Reason         ReasonTag
	Block          int64
}

func newBalanceDelta(
	address string,
	assetID AssetID,
	availableDelta, reservedDelta, marginDelta int64,
	newAvailable, newReserved, newMargin int64,
	reason ReasonTag,
	block int64,
) BalanceDelta {
	return BalanceDelta{
		DeltaID:        uuid.New(),
		Address:        address,
		AssetID:        assetID,
		AvailableDelta: availableDelta,
		ReservedDelta:  reservedDelta,
		MarginDelta:    marginDelta,
		NewAvailable:   newAvailable,
		NewReserved:    newReserved,
		NewMargin:      newMargin,
		Reason:         reason,
		Block:          block,
	}
}

package position

import (
	"fmt"
	"sort"

	"github.com/google/uuid"

	"ClearLedger/internal/fixed"
)

// Key identifies a position by contract and holder.
type Key struct {
	ContractID string
	Address    string
}

// Ledger is the persistent position store for all contracts. Like the tally
// ledger it is only touched from the single-threaded settlement pipeline.
type Ledger struct {
	positions map[Key]*Position
	deltas    []Delta
}

func NewLedger() *Ledger {
	return &Ledger{
		positions: make(map[Key]*Position),
	}
}

// Get returns an existing position or nil.
func (l *Ledger) Get(contractID, address string) *Position {
	return l.positions[Key{ContractID: contractID, Address: address}]
}

// GetOrCreate returns the position, creating a flat record on first use.
func (l *Ledger) GetOrCreate(contractID, address string) *Position {
	key := Key{ContractID: contractID, Address: address}
	pos := l.positions[key]
	if pos == nil {
		pos = &Position{
			Address:    address,
			ContractID: contractID,
		}
		l.positions[key] = pos
	}
	return pos
}

// GetAllPositions returns every position for a contract, sorted by address.
// The sort keeps iteration deterministic across replicas.
func (l *Ledger) GetAllPositions(contractID string) []*Position {
	out := make([]*Position, 0)
	for key, pos := range l.positions {
		if key.ContractID == contractID {
			out = append(out, pos)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Address < out[j].Address
	})
	return out
}

// GetAddressPositions returns every position held by an address, sorted by
// contract ID.
func (l *Ledger) GetAddressPositions(address string) []*Position {
	out := make([]*Position, 0)
	for key, pos := range l.positions {
		if key.Address == address {
			out = append(out, pos)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ContractID < out[j].ContractID
	})
	return out
}

// ApplyFill applies a signed fill quantity to a position at the given price.
//
// Average-price rule: opening from flat sets avgPrice to the fill price; a
// same-direction increase volume-weights it; a reduce or full close leaves
// it untouched; a flip sets it to the fill price outright. Realized PnL from
// any closed quantity is returned and accumulated on the position.
//
// After the quantity change the liquidation and bankruptcy prices are
// recomputed from the holder's current available collateral.
func (l *Ledger) ApplyFill(
	address, contractID string,
	signedAmount, price int64,
	notional int64,
	inverse bool,
	available int64,
	block int64,
) (*Position, int64, error) {
	if signedAmount == 0 {
		return nil, 0, fmt.Errorf("fill with zero quantity for %s/%s", contractID, address)
	}
	if price <= 0 {
		return nil, 0, fmt.Errorf("fill with non-positive price %d for %s/%s", price, contractID, address)
	}

	pos := l.GetOrCreate(contractID, address)
	var realized int64

	switch {
	case pos.IsFlat():
		pos.Contracts = signedAmount
		pos.AvgPrice = price
		pos.LastMark = price
		pos.NewPosThisBlock += signedAmount

	case fixed.Sign(pos.Contracts) == fixed.Sign(signedAmount):
		pos.AvgPrice = fixed.WeightedAvgPrice(
			pos.AbsContracts(), pos.AvgPrice,
			fixed.Abs(signedAmount), price,
		)
		pos.Contracts += signedAmount
		pos.NewPosThisBlock += signedAmount

	default:
		closing := fixed.Abs(signedAmount)
		held := pos.AbsContracts()

		if closing < held {
			// partial reduce: avg price unchanged
			closedQty := -signedAmount // signed like the held side
			realized = RealizePnl(closedQty, price, pos.AvgPrice, inverse, notional)
			pos.Contracts += signedAmount
			pos.RealizedPnL += realized
		} else if closing == held {
			realized = RealizePnl(pos.Contracts, price, pos.AvgPrice, inverse, notional)
			pos.Contracts = 0
			pos.AvgPrice = 0
			pos.RealizedPnL += realized
		} else {
			// flip: close out the held side, open the remainder fresh
			realized = RealizePnl(pos.Contracts, price, pos.AvgPrice, inverse, notional)
			remainder := signedAmount + pos.Contracts
			pos.Contracts = remainder
			pos.AvgPrice = price
			pos.RealizedPnL += realized
			pos.NewPosThisBlock += remainder
		}
	}

	pos.Version++
	l.updateDerivedPrices(pos, notional, inverse, available)
	l.recordDelta(pos, DeltaModeFill, block)

	return pos, realized, nil
}

// RealizePnl computes the profit on a closed quantity. closedQty is signed
// like the side being closed (positive when closing a long).
func RealizePnl(closedQty, tradePrice, avgPrice int64, inverse bool, notional int64) int64 {
	if avgPrice == 0 {
		return 0
	}
	return fixed.PnL(closedQty, avgPrice, tradePrice, notional, inverse)
}

// SetInitialMargin replaces the position's margin outright.
func (l *Ledger) SetInitialMargin(pos *Position, amount int64, block int64) {
	pos.Margin = amount
	pos.Version++
	l.recordDelta(pos, DeltaModeMargin, block)
}

// UpdateMargin applies a signed margin adjustment. Margin only moves through
// explicit transfer operations, never implicitly.
func (l *Ledger) UpdateMargin(pos *Position, delta int64, block int64) {
	pos.Margin += delta
	pos.Version++
	l.recordDelta(pos, DeltaModeMargin, block)
}

// ReduceMargin releases up to amount of margin without letting the position
// fall below |contracts| * requiredMarginPerContract. Returns the amount
// actually released.
func (l *Ledger) ReduceMargin(
	pos *Position,
	amount, requiredMarginPerContract int64,
	block int64,
) int64 {
	floor := fixed.MulDiv(pos.AbsContracts(), requiredMarginPerContract, fixed.Scale)
	excess := pos.Margin - floor
	if excess <= 0 {
		return 0
	}

	released := amount
	if released > excess {
		released = excess
	}
	pos.Margin -= released
	pos.Version++
	l.recordDelta(pos, DeltaModeMargin, block)

	return released
}

// updateDerivedPrices recomputes liqPrice/bankruptcyPrice from the holder's
// collateral.
func (l *Ledger) updateDerivedPrices(pos *Position, notional int64, inverse bool, available int64) {
	if pos.IsFlat() {
		pos.LiqPrice = nil
		pos.BankruptcyPrice = nil
		return
	}
	prices := CalculateLiquidationPrice(
		available, pos.Margin, pos.Contracts, notional,
		inverse, pos.IsLong(), pos.AvgPrice,
	)
	pos.LiqPrice = prices.Liquidation
	pos.BankruptcyPrice = prices.Bankruptcy
}

// SetPosition overwrites a record directly, used by the clearing engine's
// cache flush and by snapshot restore.
func (l *Ledger) SetPosition(pos *Position) {
	l.positions[Key{ContractID: pos.ContractID, Address: pos.Address}] = pos
}

// Commit stores a position and records an audit delta in one step. The
// clearing engine uses it when flushing a block's working copies back.
func (l *Ledger) Commit(pos *Position, mode DeltaMode, block int64) {
	l.SetPosition(pos)
	l.recordDelta(pos, mode, block)
}

// ResetBlockScoped clears per-block bookkeeping on every position of a
// contract after clearing completes.
func (l *Ledger) ResetBlockScoped(contractID string) {
	for key, pos := range l.positions {
		if key.ContractID == contractID && pos.NewPosThisBlock != 0 {
			pos.NewPosThisBlock = 0
		}
	}
}

// NetContracts sums signed contracts across all holders of a contract.
// After every clearing pass this must be exactly zero.
func (l *Ledger) NetContracts(contractID string) int64 {
	var net int64
	for key, pos := range l.positions {
		if key.ContractID == contractID {
			net += pos.Contracts
		}
	}
	return net
}

// ContractIDs returns the sorted set of contracts with at least one record.
func (l *Ledger) ContractIDs() []string {
	seen := make(map[string]bool)
	for key := range l.positions {
		seen[key.ContractID] = true
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Snapshot clones all positions for warm restart.
func (l *Ledger) Snapshot() []*Position {
	out := make([]*Position, 0, len(l.positions))
	for _, pos := range l.positions {
		out = append(out, pos.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ContractID != out[j].ContractID {
			return out[i].ContractID < out[j].ContractID
		}
		return out[i].Address < out[j].Address
	})
	return out
}

// DrainDeltas hands the audit records to the persistence layer.
func (l *Ledger) DrainDeltas() []Delta {
	out := l.deltas
	l.deltas = nil
	return out
}

func (l *Ledger) recordDelta(pos *Position, mode DeltaMode, block int64) {
	l.deltas = append(l.deltas, Delta{
		DeltaID:    uuid.New(),
		Address:    pos.Address,
		ContractID: pos.ContractID,
		Contracts:  pos.Contracts,
		AvgPrice:   pos.AvgPrice,
		Margin:     pos.Margin,
		Mode:       mode,
		Block:      block,
	})
}

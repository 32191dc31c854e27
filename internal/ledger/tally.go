package ledger

import (
	"fmt"
	"sort"
)

// Tally is a per (address, asset) collateral record.
// Available is freely usable, Reserved is order-locked, Margin is earmarked
// against open positions.
type Tally struct {
	Available int64
	Reserved  int64
	Margin    int64
}

// Total returns the full collateral held under this tally.
func (t Tally) Total() int64 {
	return t.Available + t.Reserved + t.Margin
}

type TallyKey struct {
	Address string
	AssetID AssetID
}

// TallyLedger is the in-memory balance store. It is mutated only from the
// single-threaded settlement pipeline, so no locking is needed.
type TallyLedger struct {
	tallies map[TallyKey]*Tally
	supply  map[AssetID]int64

	// deltas is the append-only audit trail, drained by the persistence
	// worker after each block. It is write-only for the settlement logic.
	deltas []BalanceDelta

	// mutatedBlock records the last block in which any margin field moved;
	// the engine uses it to decide whether the global invariant check runs.
	mutatedBlock int64
}

func NewTallyLedger() *TallyLedger {
	return &TallyLedger{
		tallies:      make(map[TallyKey]*Tally),
		supply:       make(map[AssetID]int64),
		mutatedBlock: -1,
	}
}

// GetTally returns the current tally for an address+asset. A missing entry
// reads as all-zero.
func (tl *TallyLedger) GetTally(address string, assetID AssetID) Tally {
	if t, ok := tl.tallies[TallyKey{Address: address, AssetID: assetID}]; ok {
		return *t
	}
	return Tally{}
}

// UpdateBalance applies signed deltas to a tally and appends an audit
// record. Balances are allowed to pass through zero during a clearing pass;
// the invariant checks at block end are authoritative.
func (tl *TallyLedger) UpdateBalance(
	address string,
	assetID AssetID,
	availableDelta, reservedDelta, marginDelta int64,
	reason ReasonTag,
	block int64,
) Tally {
	key := TallyKey{Address: address, AssetID: assetID}
	t, ok := tl.tallies[key]
	if !ok {
		t = &Tally{}
		tl.tallies[key] = t
	}

	t.Available += availableDelta
	t.Reserved += reservedDelta
	t.Margin += marginDelta

	if marginDelta != 0 {
		tl.mutatedBlock = block
	}

	tl.deltas = append(tl.deltas, newBalanceDelta(
		address, assetID,
		availableDelta, reservedDelta, marginDelta,
		t.Available, t.Reserved, t.Margin,
		reason, block,
	))

	return *t
}

// MarginMutatedInBlock reports whether any margin field changed in the block.
func (tl *TallyLedger) MarginMutatedInBlock(block int64) bool {
	return tl.mutatedBlock == block
}

// DrainDeltas hands the accumulated audit records to the caller and resets
// the buffer.
func (tl *TallyLedger) DrainDeltas() []BalanceDelta {
	out := tl.deltas
	tl.deltas = nil
	return out
}

// SetCirculatingSupply records the authoritative circulating supply of an
// asset, used by the reconciliation check.
func (tl *TallyLedger) SetCirculatingSupply(assetID AssetID, amount int64) {
	tl.supply[assetID] = amount
}

// AdjustCirculatingSupply moves the recorded supply, used when tokens enter
// or leave the clearing layer.
func (tl *TallyLedger) AdjustCirculatingSupply(assetID AssetID, delta int64) {
	tl.supply[assetID] += delta
}

// CirculatingSupply returns the recorded supply for an asset.
func (tl *TallyLedger) CirculatingSupply(assetID AssetID) int64 {
	return tl.supply[assetID]
}

// SumBalances totals every tally for an asset, system addresses included.
func (tl *TallyLedger) SumBalances(assetID AssetID) int64 {
	var total int64
	for key, t := range tl.tallies {
		if key.AssetID == assetID {
			total += t.Total()
		}
	}
	return total
}

// Assets returns the sorted list of assets with a recorded supply or at
// least one tally. An asset holding balances without a recorded supply
// still has to show up for reconciliation.
func (tl *TallyLedger) Assets() []AssetID {
	seen := make(map[AssetID]bool, len(tl.supply))
	for id := range tl.supply {
		seen[id] = true
	}
	for key := range tl.tallies {
		seen[key.AssetID] = true
	}
	out := make([]AssetID, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Snapshot copies all tallies for warm restart.
func (tl *TallyLedger) Snapshot() map[TallyKey]Tally {
	out := make(map[TallyKey]Tally, len(tl.tallies))
	for k, v := range tl.tallies {
		out[k] = *v
	}
	return out
}

// Restore overwrites tallies from a snapshot.
func (tl *TallyLedger) Restore(tallies map[TallyKey]Tally, supply map[AssetID]int64) {
	tl.tallies = make(map[TallyKey]*Tally, len(tallies))
	for k, v := range tallies {
		t := v
		tl.tallies[k] = &t
	}
	tl.supply = make(map[AssetID]int64, len(supply))
	for k, v := range supply {
		tl.supply[k] = v
	}
}

// ValidateNonNegative checks a tally has no negative component. Used by
// tests and the block post-checks for addresses touched by withdrawals.
func (tl *TallyLedger) ValidateNonNegative(address string, assetID AssetID) error {
	t := tl.GetTally(address, assetID)
	if t.Available < 0 || t.Reserved < 0 || t.Margin < 0 {
		return fmt.Errorf("address %s has negative tally for asset %d: %+v", address, assetID, t)
	}
	return nil
}

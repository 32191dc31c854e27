package state

import (
	"sort"

	"ClearLedger/internal/clearing"
	"ClearLedger/internal/fixed"
)

// TradeStore keeps recent matched trades per contract, serving the
// settlement engine's same-block tie-off and the funding VWAP. Trades are
// appended in fill order and pruned past the retention horizon.
// Not thread-safe — only accessed from the single-threaded settler.
type TradeStore struct {
	byContract map[string][]clearing.Trade
	maxAge     int64
}

func NewTradeStore(maxAge int64) *TradeStore {
	if maxAge <= 0 {
		maxAge = 10_000
	}
	return &TradeStore{
		byContract: make(map[string][]clearing.Trade),
		maxAge:     maxAge,
	}
}

// Record appends a trade. Blocks must be non-decreasing per contract;
// stale appends are dropped.
func (ts *TradeStore) Record(t clearing.Trade) {
	trades := ts.byContract[t.ContractID]
	if n := len(trades); n > 0 && trades[n-1].Block > t.Block {
		return
	}
	ts.byContract[t.ContractID] = append(trades, t)
}

// GetTradesBetween returns trades with fromBlock <= Block <= toBlock in
// fill order.
func (ts *TradeStore) GetTradesBetween(contractID string, fromBlock, toBlock int64) []clearing.Trade {
	trades := ts.byContract[contractID]
	lo := sort.Search(len(trades), func(i int) bool { return trades[i].Block >= fromBlock })
	hi := sort.Search(len(trades), func(i int) bool { return trades[i].Block > toBlock })
	if lo >= hi {
		return nil
	}
	out := make([]clearing.Trade, hi-lo)
	copy(out, trades[lo:hi])
	return out
}

// VWAP computes the volume-weighted average price over the trailing
// window of blocks ending at block. Returns false when no volume traded.
func (ts *TradeStore) VWAP(contractID string, block, window int64) (int64, bool) {
	from := block - window + 1
	if from < 0 {
		from = 0
	}

	var volume int64
	num := fixed.MulInt128(0, 0)
	defer fixed.PutInt128(num)
	for _, t := range ts.GetTradesBetween(contractID, from, block) {
		pq := fixed.MulInt128(t.Price, t.Quantity)
		num.Add(num, pq)
		fixed.PutInt128(pq)
		volume += t.Quantity
	}
	if volume == 0 {
		return 0, false
	}

	den := fixed.MulInt128(volume, 1)
	vwap := fixed.DivInt128(num, den, fixed.RoundHalfEven)
	fixed.PutInt128(den)
	return vwap, true
}

// Prune drops trades older than the retention horizon relative to block.
func (ts *TradeStore) Prune(block int64) {
	cutoff := block - ts.maxAge
	for id, trades := range ts.byContract {
		i := sort.Search(len(trades), func(i int) bool { return trades[i].Block >= cutoff })
		if i > 0 {
			ts.byContract[id] = append(trades[:0:0], trades[i:]...)
		}
	}
}

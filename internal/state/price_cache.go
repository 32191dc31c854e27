package state

import (
	"sort"
)

// pricePoint is one oracle print for a contract.
type pricePoint struct {
	Block int64
	Mark  int64
	Index int64
}

// PriceCache holds per-contract oracle prints and answers the settlement
// engine's price questions. Prints are kept in block order; lookups return
// the latest print at or before the asked block, so replaying a block range
// sees exactly the prices known at each height.
// Not thread-safe — only accessed from the single-threaded settler.
type PriceCache struct {
	points map[string][]pricePoint
	trades *TradeStore

	// retention horizon in blocks; older prints are pruned
	maxAge int64
}

func NewPriceCache(trades *TradeStore, maxAge int64) *PriceCache {
	if maxAge <= 0 {
		maxAge = 10_000
	}
	return &PriceCache{
		points: make(map[string][]pricePoint),
		trades: trades,
		maxAge: maxAge,
	}
}

// Record stores an oracle print. Out-of-order prints for past blocks are
// ignored; the first print wins for a given height.
func (pc *PriceCache) Record(contractID string, block, mark, index int64) {
	pts := pc.points[contractID]
	if n := len(pts); n > 0 && pts[n-1].Block >= block {
		return
	}
	pc.points[contractID] = append(pts, pricePoint{Block: block, Mark: mark, Index: index})
}

// GetIndexPrice returns the mark price effective at a block height.
func (pc *PriceCache) GetIndexPrice(contractID string, block int64) (int64, bool) {
	pt, ok := pc.at(contractID, block)
	if !ok {
		return 0, false
	}
	return pt.Mark, true
}

// GetVWAP returns the volume-weighted average trade price over the
// trailing window of blocks ending at block, falling back to the mark
// print when no trades exist in the window.
func (pc *PriceCache) GetVWAP(contractID string, block, window int64) (int64, bool) {
	if pc.trades != nil {
		if vwap, ok := pc.trades.VWAP(contractID, block, window); ok {
			return vwap, true
		}
	}
	return pc.GetIndexPrice(contractID, block)
}

func (pc *PriceCache) at(contractID string, block int64) (pricePoint, bool) {
	pts := pc.points[contractID]
	if len(pts) == 0 {
		return pricePoint{}, false
	}
	// first print after block
	i := sort.Search(len(pts), func(i int) bool { return pts[i].Block > block })
	if i == 0 {
		return pricePoint{}, false
	}
	return pts[i-1], true
}

// Prune drops prints older than the retention horizon relative to block.
func (pc *PriceCache) Prune(block int64) {
	cutoff := block - pc.maxAge
	for id, pts := range pc.points {
		i := sort.Search(len(pts), func(i int) bool { return pts[i].Block >= cutoff })
		if i > 0 {
			pc.points[id] = append(pts[:0:0], pts[i:]...)
		}
	}
}

package book

import (
	"sort"

	"ClearLedger/internal/clearing"
)

// Level is resting depth at one price from one address.
type Level struct {
	Address  string
	Price    int64
	Quantity int64
}

// LevelBook is a depth-level view of the external matching engine, enough
// to answer liquidation fill estimates and consume the matched prefix.
// Depth is replaced wholesale per contract as book snapshots arrive; the
// settlement pipeline is single-threaded, so no locking.
type LevelBook struct {
	bids map[string][]Level // sorted by price descending
	asks map[string][]Level // sorted by price ascending
}

func NewLevelBook() *LevelBook {
	return &LevelBook{
		bids: make(map[string][]Level),
		asks: make(map[string][]Level),
	}
}

// SetDepth replaces a contract's resting depth.
func (b *LevelBook) SetDepth(contractID string, bids, asks []Level) {
	bs := append([]Level(nil), bids...)
	as := append([]Level(nil), asks...)
	sort.SliceStable(bs, func(i, j int) bool { return bs[i].Price > bs[j].Price })
	sort.SliceStable(as, func(i, j int) bool { return as[i].Price < as[j].Price })
	b.bids[contractID] = bs
	b.asks[contractID] = as
}

// EstimateLiquidation returns how much of size can fill at or better than
// limitPrice: against bids when selling, against asks when buying.
func (b *LevelBook) EstimateLiquidation(contractID string, size, limitPrice int64, sell, inverse bool) int64 {
	var filled int64
	for _, lvl := range b.eligible(contractID, limitPrice, sell) {
		if filled >= size {
			break
		}
		take := lvl.Quantity
		if filled+take > size {
			take = size - filled
		}
		filled += take
	}
	return filled
}

// ExecuteLiquidation consumes the safe prefix and returns the counterparty
// fills, never exceeding size.
func (b *LevelBook) ExecuteLiquidation(contractID string, size, limitPrice int64, sell bool) []clearing.BookFill {
	var fills []clearing.BookFill
	var filled int64

	side := b.asks
	if sell {
		side = b.bids
	}
	levels := side[contractID]
	remaining := levels[:0:0]

	for _, lvl := range levels {
		if filled >= size || !priceEligible(lvl.Price, limitPrice, sell) {
			remaining = append(remaining, lvl)
			continue
		}
		take := lvl.Quantity
		if filled+take > size {
			take = size - filled
		}
		fills = append(fills, clearing.BookFill{
			Address:  lvl.Address,
			Quantity: take,
			Price:    lvl.Price,
		})
		filled += take
		if take < lvl.Quantity {
			lvl.Quantity -= take
			remaining = append(remaining, lvl)
		}
	}
	side[contractID] = remaining

	return fills
}

func (b *LevelBook) eligible(contractID string, limitPrice int64, sell bool) []Level {
	side := b.asks
	if sell {
		side = b.bids
	}
	var out []Level
	for _, lvl := range side[contractID] {
		if !priceEligible(lvl.Price, limitPrice, sell) {
			break
		}
		out = append(out, lvl)
	}
	return out
}

func priceEligible(price, limit int64, sell bool) bool {
	if sell {
		return price >= limit
	}
	return price <= limit
}

// NullBook is the no-depth fallback: every liquidation falls through to
// deleveraging. Used when no matching collaborator is wired.
type NullBook struct{}

func (NullBook) EstimateLiquidation(string, int64, int64, bool, bool) int64 { return 0 }

func (NullBook) ExecuteLiquidation(string, int64, int64, bool) []clearing.BookFill { return nil }

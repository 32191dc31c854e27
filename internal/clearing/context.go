package clearing

import (
	"fmt"
	"sort"

	"ClearLedger/internal/ledger"
	"ClearLedger/internal/position"
)

// ClearingContext owns the block-scoped working state of a settlement run:
// the position cache for the contract currently being cleared and the
// deleveraging gaps accumulated across contracts for end-of-block insurance
// and IOU handling. One context is created per block and discarded at block
// end.
//
// The cache exists so the multi-pass algorithm can mutate positions
// speculatively without partial writes reaching the position ledger; it is
// initialized once per contract, mutated only through accessors, and
// flushed exactly once. Reading it outside an active pass is a sequencing
// bug and halts the process.
type ClearingContext struct {
	Block int64

	contractID string
	cache      map[string]*position.Position
	order      []string

	adlGaps []adlGap
}

// adlGap is a deleveraging counterparty's unfunded entitlement, owed first
// from the insurance fund and then as an IOU claim.
type adlGap struct {
	ContractID     string
	AssetID        ledger.AssetID
	Address        string
	LiquidatedAddr string
	Amount         int64
}

func NewClearingContext(block int64) *ClearingContext {
	return &ClearingContext{Block: block}
}

// InitPositionCache clones a contract's positions into the working cache.
// Initializing while another contract's cache is still active means a pass
// was never flushed or discarded.
func (c *ClearingContext) InitPositionCache(contractID string, positions []*position.Position) {
	if c.contractID != "" {
		panic(fmt.Sprintf(
			"FATAL: position cache init for %s while %s still active (block=%d)",
			contractID, c.contractID, c.Block,
		))
	}

	c.contractID = contractID
	c.cache = make(map[string]*position.Position, len(positions))
	c.order = make([]string, 0, len(positions))
	for _, pos := range positions {
		c.cache[pos.Address] = pos.Clone()
		c.order = append(c.order, pos.Address)
	}
	sort.Strings(c.order)
}

func (c *ClearingContext) mustActive() {
	if c.contractID == "" {
		panic(fmt.Sprintf("FATAL: position cache read before init (block=%d)", c.Block))
	}
}

// Cached returns the working copy for an address, or nil.
func (c *ClearingContext) Cached(address string) *position.Position {
	c.mustActive()
	return c.cache[address]
}

// CachedOrCreate returns the working copy for an address, materializing an
// empty position when a liquidation fill brings a new party into the
// market mid-pass.
func (c *ClearingContext) CachedOrCreate(address string) *position.Position {
	c.mustActive()
	if pos := c.cache[address]; pos != nil {
		return pos
	}
	pos := &position.Position{Address: address, ContractID: c.contractID}
	c.cache[address] = pos
	c.order = append(c.order, address)
	sort.Strings(c.order)
	return pos
}

// Positions returns the cached working copies in address order. Iteration
// order is consensus-relevant; callers must not re-sort.
func (c *ClearingContext) Positions() []*position.Position {
	c.mustActive()
	out := make([]*position.Position, 0, len(c.order))
	for _, addr := range c.order {
		out = append(out, c.cache[addr])
	}
	return out
}

// FlushTo writes the working copies back to the position ledger and
// deactivates the cache.
func (c *ClearingContext) FlushTo(pl *position.Ledger, mode position.DeltaMode) {
	c.mustActive()
	for _, addr := range c.order {
		pl.Commit(c.cache[addr], mode, c.Block)
	}
	c.reset()
}

func (c *ClearingContext) reset() {
	c.contractID = ""
	c.cache = nil
	c.order = nil
}

// AddADLGap records an unfunded deleveraging entitlement for end-of-block
// insurance and IOU settlement.
func (c *ClearingContext) AddADLGap(contractID string, assetID ledger.AssetID, address, liquidatedAddr string, amount int64) {
	if amount <= 0 {
		return
	}
	c.adlGaps = append(c.adlGaps, adlGap{
		ContractID:     contractID,
		AssetID:        assetID,
		Address:        address,
		LiquidatedAddr: liquidatedAddr,
		Amount:         amount,
	})
}

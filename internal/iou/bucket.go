package iou

import (
	"sort"

	"ClearLedger/internal/fixed"
	"ClearLedger/internal/ledger"
)

// BucketKey identifies an IOU bucket by contract and collateral asset.
type BucketKey struct {
	ContractID string
	AssetID    ledger.AssetID
}

// Bucket tracks unfunded profit obligations against realized losses for one
// contract. Amount is signed: positive means real tokens held in reserve
// beyond claims, negative means the system owes more than it holds.
type Bucket struct {
	Amount       int64
	BlockLosses  int64 // real collateral debited from losers this block
	BlockProfits int64 // unfunded gains created this block
	LastBlock    int64
}

// Payout is one address's share of an IOU settlement.
type Payout struct {
	Address string
	Amount  int64
}

// Ledger owns all IOU buckets and the per-contract claim maps.
type Ledger struct {
	buckets map[BucketKey]*Bucket
	claims  map[BucketKey]map[string]int64
}

func NewLedger() *Ledger {
	return &Ledger{
		buckets: make(map[BucketKey]*Bucket),
		claims:  make(map[BucketKey]map[string]int64),
	}
}

func (l *Ledger) bucket(contractID string, assetID ledger.AssetID) *Bucket {
	key := BucketKey{ContractID: contractID, AssetID: assetID}
	b := l.buckets[key]
	if b == nil {
		b = &Bucket{LastBlock: -1}
		l.buckets[key] = b
	}
	return b
}

// rollBlock resets the per-block accumulators at a block boundary. The
// outstanding Amount and the claim map carry across blocks; only the payout
// pool is block-scoped.
func (b *Bucket) rollBlock(block int64) {
	if b.LastBlock != block {
		b.BlockLosses = 0
		b.BlockProfits = 0
		b.LastBlock = block
	}
}

// AddLoss records real collateral debited from a loser this block.
func (l *Ledger) AddLoss(contractID string, assetID ledger.AssetID, amount, block int64) {
	if amount <= 0 {
		return
	}
	b := l.bucket(contractID, assetID)
	b.rollBlock(block)
	b.Amount += amount
	b.BlockLosses += amount
}

// AddProfit records an unfunded gain created this block. Profits create new
// claims against the bucket; they never increase the payout pool, which
// would double-count unfunded gains as funded ones.
func (l *Ledger) AddProfit(contractID string, assetID ledger.AssetID, amount, block int64) {
	if amount <= 0 {
		return
	}
	b := l.bucket(contractID, assetID)
	b.rollBlock(block)
	b.Amount -= amount
	b.BlockProfits += amount
}

// AddClaims splits a same-block settlement shortfall across the positive-PnL
// parties of a trade pair, proportionally to each party's share of the total
// positive PnL, and accrues the shares into the claim map.
func (l *Ledger) AddClaims(
	contractID string,
	assetID ledger.AssetID,
	block int64,
	buyerAddr, sellerAddr string,
	buyerPnl, sellerPnl int64,
	delta int64,
) {
	if delta <= 0 {
		return
	}

	var totalPositive int64
	if buyerPnl > 0 {
		totalPositive += buyerPnl
	}
	if sellerPnl > 0 {
		totalPositive += sellerPnl
	}
	if totalPositive == 0 {
		return
	}

	b := l.bucket(contractID, assetID)
	b.rollBlock(block)

	key := BucketKey{ContractID: contractID, AssetID: assetID}
	claims := l.claims[key]
	if claims == nil {
		claims = make(map[string]int64)
		l.claims[key] = claims
	}

	var assigned int64
	if buyerPnl > 0 {
		share := fixed.MulDiv(delta, buyerPnl, totalPositive)
		claims[buyerAddr] += share
		assigned += share
	}
	if sellerPnl > 0 {
		// remainder goes to the last party so rounding never loses a unit
		share := delta - assigned
		claims[sellerAddr] += share
	}
}

// PayOutstanding settles claims against the current block's realized losses.
// Payouts are only permitted against losses recorded in this block, never
// stale ones. The pool is min(markDelta, blockLosses); the total paid is
// capped at min(pool, totalClaims) and distributed pro-rata over claims.
func (l *Ledger) PayOutstanding(
	contractID string,
	assetID ledger.AssetID,
	markDelta, block int64,
) []Payout {
	key := BucketKey{ContractID: contractID, AssetID: assetID}
	b := l.buckets[key]
	if b == nil || b.LastBlock != block {
		return nil
	}

	pool := markDelta
	if b.BlockLosses < pool {
		pool = b.BlockLosses
	}
	if pool <= 0 {
		return nil
	}

	claims := l.claims[key]
	if len(claims) == 0 {
		return nil
	}

	addrs := make([]string, 0, len(claims))
	var totalClaims int64
	for addr, amount := range claims {
		if amount > 0 {
			addrs = append(addrs, addr)
			totalClaims += amount
		}
	}
	if totalClaims == 0 {
		return nil
	}
	sort.Strings(addrs)

	toPay := pool
	if totalClaims < toPay {
		toPay = totalClaims
	}

	payouts := make([]Payout, 0, len(addrs))
	var paid int64
	for i, addr := range addrs {
		var share int64
		if i == len(addrs)-1 {
			share = toPay - paid
		} else {
			share = fixed.MulDiv(toPay, claims[addr], totalClaims)
		}
		if share <= 0 {
			continue
		}
		if share > claims[addr] {
			share = claims[addr]
		}

		claims[addr] -= share
		if claims[addr] == 0 {
			delete(claims, addr)
		}
		paid += share
		payouts = append(payouts, Payout{Address: addr, Amount: share})
	}

	b.Amount -= paid
	b.BlockLosses -= paid

	return payouts
}

// GetBucket returns a copy of a bucket's current state.
func (l *Ledger) GetBucket(contractID string, assetID ledger.AssetID) (Bucket, bool) {
	b, ok := l.buckets[BucketKey{ContractID: contractID, AssetID: assetID}]
	if !ok {
		return Bucket{}, false
	}
	return *b, true
}

// OutstandingClaims returns the total claim amount against a bucket.
func (l *Ledger) OutstandingClaims(contractID string, assetID ledger.AssetID) int64 {
	var total int64
	for _, amount := range l.claims[BucketKey{ContractID: contractID, AssetID: assetID}] {
		total += amount
	}
	return total
}

// NetAmount sums bucket amounts for one asset across all contracts. The
// supply reconciliation includes this as the IOU net term.
func (l *Ledger) NetAmount(assetID ledger.AssetID) int64 {
	var total int64
	for key, b := range l.buckets {
		if key.AssetID == assetID {
			total += b.Amount
		}
	}
	return total
}

// Snapshot exports buckets and claims for warm restart.
func (l *Ledger) Snapshot() (map[BucketKey]Bucket, map[BucketKey]map[string]int64) {
	buckets := make(map[BucketKey]Bucket, len(l.buckets))
	for k, v := range l.buckets {
		buckets[k] = *v
	}
	claims := make(map[BucketKey]map[string]int64, len(l.claims))
	for k, m := range l.claims {
		cp := make(map[string]int64, len(m))
		for addr, amount := range m {
			cp[addr] = amount
		}
		claims[k] = cp
	}
	return buckets, claims
}

// Restore overwrites state from a snapshot.
func (l *Ledger) Restore(buckets map[BucketKey]Bucket, claims map[BucketKey]map[string]int64) {
	l.buckets = make(map[BucketKey]*Bucket, len(buckets))
	for k, v := range buckets {
		b := v
		l.buckets[k] = &b
	}
	l.claims = make(map[BucketKey]map[string]int64, len(claims))
	for k, m := range claims {
		cp := make(map[string]int64, len(m))
		for addr, amount := range m {
			cp[addr] = amount
		}
		l.claims[k] = cp
	}
}

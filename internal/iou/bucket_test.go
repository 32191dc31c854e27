package iou

import (
	"testing"

	"ClearLedger/internal/ledger"
)

const (
	testContract = "PERP-BTC-USDT"
	testAsset    = ledger.AssetID(1)
)

func TestAddLossAndProfit_NetAmount(t *testing.T) {
	l := NewLedger()

	l.AddLoss(testContract, testAsset, 100, 1)
	l.AddProfit(testContract, testAsset, 60, 1)

	b, ok := l.GetBucket(testContract, testAsset)
	if !ok {
		t.Fatal("bucket not created")
	}
	if b.Amount != 40 {
		t.Errorf("amount = %d, want 40", b.Amount)
	}
	if b.BlockLosses != 100 {
		t.Errorf("block losses = %d, want 100", b.BlockLosses)
	}
	if b.BlockProfits != 60 {
		t.Errorf("block profits = %d, want 60", b.BlockProfits)
	}
	if net := l.NetAmount(testAsset); net != 40 {
		t.Errorf("net amount = %d, want 40", net)
	}
}

func TestRollBlock_ResetsAccumulatorsKeepsAmount(t *testing.T) {
	l := NewLedger()

	l.AddLoss(testContract, testAsset, 100, 1)
	l.AddLoss(testContract, testAsset, 50, 2)

	b, _ := l.GetBucket(testContract, testAsset)
	if b.Amount != 150 {
		t.Errorf("amount = %d, want 150 carried across blocks", b.Amount)
	}
	if b.BlockLosses != 50 {
		t.Errorf("block losses = %d, want 50 (block-scoped)", b.BlockLosses)
	}
	if b.LastBlock != 2 {
		t.Errorf("last block = %d, want 2", b.LastBlock)
	}
}

func TestAddClaims_SplitsByPositivePnL(t *testing.T) {
	l := NewLedger()

	// buyer carries 3/4 of the positive PnL, seller 1/4
	l.AddClaims(testContract, testAsset, 1, "buyer", "seller", 75, 25, 100)

	if total := l.OutstandingClaims(testContract, testAsset); total != 100 {
		t.Errorf("outstanding claims = %d, want 100", total)
	}

	_, claims := l.Snapshot()
	got := claims[BucketKey{ContractID: testContract, AssetID: testAsset}]
	if got["buyer"] != 75 {
		t.Errorf("buyer claim = %d, want 75", got["buyer"])
	}
	if got["seller"] != 25 {
		t.Errorf("seller claim = %d, want 25", got["seller"])
	}
}

func TestAddClaims_OnlyLosingSideGetsNothing(t *testing.T) {
	l := NewLedger()

	l.AddClaims(testContract, testAsset, 1, "buyer", "seller", 100, -100, 40)

	_, claims := l.Snapshot()
	got := claims[BucketKey{ContractID: testContract, AssetID: testAsset}]
	if got["buyer"] != 40 {
		t.Errorf("buyer claim = %d, want the whole 40", got["buyer"])
	}
	if _, ok := got["seller"]; ok {
		t.Error("seller with negative pnl must not receive a claim share")
	}
}

func TestPayOutstanding_ProRataCappedAtPool(t *testing.T) {
	l := NewLedger()

	// claims {a: 40, b: 60} against a pool of 50 pays {20, 30}
	l.AddClaims(testContract, testAsset, 5, "a", "b", 40, 60, 100)
	l.AddLoss(testContract, testAsset, 50, 5)

	payouts := l.PayOutstanding(testContract, testAsset, 200, 5)
	if len(payouts) != 2 {
		t.Fatalf("payouts = %d, want 2", len(payouts))
	}
	if payouts[0].Address != "a" || payouts[0].Amount != 20 {
		t.Errorf("payout[0] = %+v, want a:20", payouts[0])
	}
	if payouts[1].Address != "b" || payouts[1].Amount != 30 {
		t.Errorf("payout[1] = %+v, want b:30", payouts[1])
	}

	if total := l.OutstandingClaims(testContract, testAsset); total != 50 {
		t.Errorf("remaining claims = %d, want 50", total)
	}
	b, _ := l.GetBucket(testContract, testAsset)
	if b.Amount != 0 {
		t.Errorf("bucket amount = %d, want 0 after payout", b.Amount)
	}
}

func TestPayOutstanding_CappedAtMarkDelta(t *testing.T) {
	l := NewLedger()

	l.AddClaims(testContract, testAsset, 3, "a", "b", 50, 50, 100)
	l.AddLoss(testContract, testAsset, 80, 3)

	// markDelta below blockLosses bounds the pool
	payouts := l.PayOutstanding(testContract, testAsset, 30, 3)
	var paid int64
	for _, p := range payouts {
		paid += p.Amount
	}
	if paid != 30 {
		t.Errorf("total paid = %d, want 30", paid)
	}
}

func TestPayOutstanding_RefusesStaleBlock(t *testing.T) {
	l := NewLedger()

	l.AddClaims(testContract, testAsset, 1, "a", "b", 50, 50, 100)
	l.AddLoss(testContract, testAsset, 100, 1)

	// losses were recorded in block 1, settlement asked for block 2
	if payouts := l.PayOutstanding(testContract, testAsset, 100, 2); payouts != nil {
		t.Fatalf("payouts = %+v, want nil against stale losses", payouts)
	}
}

func TestPayOutstanding_ClaimsSmallerThanPool(t *testing.T) {
	l := NewLedger()

	l.AddClaims(testContract, testAsset, 7, "a", "b", 10, 10, 20)
	l.AddLoss(testContract, testAsset, 500, 7)

	payouts := l.PayOutstanding(testContract, testAsset, 500, 7)
	var paid int64
	for _, p := range payouts {
		paid += p.Amount
	}
	if paid != 20 {
		t.Errorf("total paid = %d, want 20 (claims exhausted)", paid)
	}
	if total := l.OutstandingClaims(testContract, testAsset); total != 0 {
		t.Errorf("remaining claims = %d, want 0", total)
	}
}

func TestSnapshotRestore_RoundTrip(t *testing.T) {
	l := NewLedger()
	l.AddLoss(testContract, testAsset, 100, 1)
	l.AddProfit(testContract, testAsset, 30, 1)
	l.AddClaims(testContract, testAsset, 1, "a", "b", 60, 40, 50)

	buckets, claims := l.Snapshot()

	restored := NewLedger()
	restored.Restore(buckets, claims)

	if net := restored.NetAmount(testAsset); net != 70 {
		t.Errorf("restored net = %d, want 70", net)
	}
	if total := restored.OutstandingClaims(testContract, testAsset); total != 50 {
		t.Errorf("restored claims = %d, want 50", total)
	}

	// mutations on the restored copy must not leak back
	restored.AddLoss(testContract, testAsset, 5, 2)
	if net := l.NetAmount(testAsset); net != 70 {
		t.Errorf("original net = %d, want 70 after restored-copy mutation", net)
	}
}

package position

import (
	"testing"

	"ClearLedger/internal/fixed"
)

const (
	testContract = "PERP-BTC-USDT"
	testAddr     = "addr-alice"
)

func price(units int64) int64 { return units * fixed.Scale }

// one contract at notional = Scale makes PnL equal to the raw price move,
// which keeps the expected values below readable.
func applyTestFill(t *testing.T, l *Ledger, qty, px, available int64) (*Position, int64) {
	t.Helper()
	pos, realized, err := l.ApplyFill(testAddr, testContract, qty, px, fixed.Scale, false, available, 1)
	if err != nil {
		t.Fatalf("ApplyFill(%d, %d): %v", qty, px, err)
	}
	return pos, realized
}

func TestApplyFill_OpenFromFlat(t *testing.T) {
	l := NewLedger()

	pos, realized := applyTestFill(t, l, fixed.Scale, price(100), price(50))

	if realized != 0 {
		t.Fatalf("realized = %d, want 0 on open", realized)
	}
	if pos.Contracts != fixed.Scale {
		t.Errorf("Contracts = %d, want %d", pos.Contracts, fixed.Scale)
	}
	if pos.AvgPrice != price(100) {
		t.Errorf("AvgPrice = %d, want %d", pos.AvgPrice, price(100))
	}
	if pos.LastMark != price(100) {
		t.Errorf("LastMark = %d, want %d", pos.LastMark, price(100))
	}
	if pos.NewPosThisBlock != fixed.Scale {
		t.Errorf("NewPosThisBlock = %d, want %d", pos.NewPosThisBlock, fixed.Scale)
	}
	if pos.LiqPrice == nil || pos.BankruptcyPrice == nil {
		t.Error("derived prices not set after open")
	}
}

func TestApplyFill_IncreaseWeightsAvgPrice(t *testing.T) {
	l := NewLedger()
	applyTestFill(t, l, fixed.Scale, price(100), price(50))

	pos, realized := applyTestFill(t, l, fixed.Scale, price(110), price(50))

	if realized != 0 {
		t.Fatalf("realized = %d, want 0 on increase", realized)
	}
	if pos.Contracts != 2*fixed.Scale {
		t.Errorf("Contracts = %d, want %d", pos.Contracts, 2*fixed.Scale)
	}
	if pos.AvgPrice != price(105) {
		t.Errorf("AvgPrice = %d, want %d", pos.AvgPrice, price(105))
	}
}

func TestApplyFill_PartialReduceRealizesPnL(t *testing.T) {
	l := NewLedger()
	applyTestFill(t, l, 2*fixed.Scale, price(100), price(50))

	pos, realized := applyTestFill(t, l, -fixed.Scale, price(110), price(50))

	if realized != price(10) {
		t.Errorf("realized = %d, want %d", realized, price(10))
	}
	if pos.Contracts != fixed.Scale {
		t.Errorf("Contracts = %d, want %d", pos.Contracts, fixed.Scale)
	}
	if pos.AvgPrice != price(100) {
		t.Errorf("AvgPrice = %d, want unchanged %d", pos.AvgPrice, price(100))
	}
	if pos.RealizedPnL != price(10) {
		t.Errorf("RealizedPnL = %d, want %d", pos.RealizedPnL, price(10))
	}
}

func TestApplyFill_FullCloseResetsAvgPrice(t *testing.T) {
	l := NewLedger()
	applyTestFill(t, l, fixed.Scale, price(100), price(50))

	pos, realized := applyTestFill(t, l, -fixed.Scale, price(90), price(50))

	if realized != -price(10) {
		t.Errorf("realized = %d, want %d", realized, -price(10))
	}
	if pos.Contracts != 0 {
		t.Errorf("Contracts = %d, want 0", pos.Contracts)
	}
	if pos.AvgPrice != 0 {
		t.Errorf("AvgPrice = %d, want 0 after full close", pos.AvgPrice)
	}
	if pos.LiqPrice != nil || pos.BankruptcyPrice != nil {
		t.Error("derived prices should be nil when flat")
	}
}

func TestApplyFill_FlipOpensRemainderAtFillPrice(t *testing.T) {
	l := NewLedger()
	applyTestFill(t, l, fixed.Scale, price(100), price(50))

	pos, realized := applyTestFill(t, l, -2*fixed.Scale, price(110), price(50))

	if realized != price(10) {
		t.Errorf("realized = %d, want %d", realized, price(10))
	}
	if pos.Contracts != -fixed.Scale {
		t.Errorf("Contracts = %d, want %d", pos.Contracts, -fixed.Scale)
	}
	if pos.AvgPrice != price(110) {
		t.Errorf("AvgPrice = %d, want %d", pos.AvgPrice, price(110))
	}
}

func TestApplyFill_RejectsBadInputs(t *testing.T) {
	l := NewLedger()

	if _, _, err := l.ApplyFill(testAddr, testContract, 0, price(100), fixed.Scale, false, 0, 1); err == nil {
		t.Error("zero quantity accepted")
	}
	if _, _, err := l.ApplyFill(testAddr, testContract, fixed.Scale, 0, fixed.Scale, false, 0, 1); err == nil {
		t.Error("zero price accepted")
	}
	if _, _, err := l.ApplyFill(testAddr, testContract, fixed.Scale, -price(1), fixed.Scale, false, 0, 1); err == nil {
		t.Error("negative price accepted")
	}
}

func TestReduceMargin_HonorsFloor(t *testing.T) {
	l := NewLedger()
	pos, _ := applyTestFill(t, l, fixed.Scale, price(100), price(50))
	l.SetInitialMargin(pos, 50, 1)

	// floor = 1 contract * 30 per contract = 30, so only 20 is releasable
	released := l.ReduceMargin(pos, 100, 30, 1)
	if released != 20 {
		t.Errorf("released = %d, want 20", released)
	}
	if pos.Margin != 30 {
		t.Errorf("Margin = %d, want 30", pos.Margin)
	}

	// already at the floor
	if got := l.ReduceMargin(pos, 100, 30, 1); got != 0 {
		t.Errorf("released at floor = %d, want 0", got)
	}
}

func TestReduceMargin_PartialRequest(t *testing.T) {
	l := NewLedger()
	pos, _ := applyTestFill(t, l, fixed.Scale, price(100), price(50))
	l.SetInitialMargin(pos, 50, 1)

	released := l.ReduceMargin(pos, 5, 30, 1)
	if released != 5 {
		t.Errorf("released = %d, want 5", released)
	}
	if pos.Margin != 45 {
		t.Errorf("Margin = %d, want 45", pos.Margin)
	}
}

func TestCalculateLiquidationPrice_LinearLong(t *testing.T) {
	// 1 contract long at 100 with 10 total collateral: the position is
	// bankrupt once the price has dropped by the full collateral.
	got := CalculateLiquidationPrice(0, price(10), fixed.Scale, fixed.Scale, false, true, price(100))

	wantBank := fixed.MulDiv(price(90), BankruptcySafetyLong, fixed.Scale)
	if got.Bankruptcy == nil || *got.Bankruptcy != wantBank {
		t.Fatalf("Bankruptcy = %v, want %d", got.Bankruptcy, wantBank)
	}
	// liquidation sits margin/(2*qty) = 5 above bankruptcy
	wantLiq := wantBank + price(5)
	if got.Liquidation == nil || *got.Liquidation != wantLiq {
		t.Errorf("Liquidation = %v, want %d", got.Liquidation, wantLiq)
	}
}

func TestCalculateLiquidationPrice_FlatReturnsNil(t *testing.T) {
	got := CalculateLiquidationPrice(price(10), price(10), 0, fixed.Scale, false, true, price(100))
	if got.Liquidation != nil || got.Bankruptcy != nil {
		t.Error("flat position should have no derived prices")
	}
}

func TestBankruptcyForBudget_Linear(t *testing.T) {
	// drop = budget / (qty * notional) = 10 price units
	gotLong := BankruptcyForBudget(price(10), fixed.Scale, fixed.Scale, false, true, price(100))
	wantLong := fixed.MulDiv(price(90), BankruptcySafetyLong, fixed.Scale)
	if gotLong != wantLong {
		t.Errorf("long = %d, want %d", gotLong, wantLong)
	}

	gotShort := BankruptcyForBudget(price(10), fixed.Scale, fixed.Scale, false, false, price(100))
	wantShort := fixed.MulDiv(price(110), BankruptcySafetyShort, fixed.Scale)
	if gotShort != wantShort {
		t.Errorf("short = %d, want %d", gotShort, wantShort)
	}

	// negative budgets clamp to zero loss capacity
	if got := BankruptcyForBudget(-price(5), fixed.Scale, fixed.Scale, false, true, price(100)); got != fixed.MulDiv(price(100), BankruptcySafetyLong, fixed.Scale) {
		t.Errorf("negative budget = %d, want anchor with safety only", got)
	}
}

func TestNetContracts_ZeroAcrossMatchedFills(t *testing.T) {
	l := NewLedger()
	if _, _, err := l.ApplyFill("addr-a", testContract, 3*fixed.Scale, price(100), fixed.Scale, false, price(50), 1); err != nil {
		t.Fatal(err)
	}
	if _, _, err := l.ApplyFill("addr-b", testContract, -3*fixed.Scale, price(100), fixed.Scale, false, price(50), 1); err != nil {
		t.Fatal(err)
	}

	if net := l.NetContracts(testContract); net != 0 {
		t.Errorf("NetContracts = %d, want 0", net)
	}
}

func TestSnapshot_SortedDeepCopy(t *testing.T) {
	l := NewLedger()
	if _, _, err := l.ApplyFill("addr-b", testContract, fixed.Scale, price(100), fixed.Scale, false, price(50), 1); err != nil {
		t.Fatal(err)
	}
	if _, _, err := l.ApplyFill("addr-a", testContract, -fixed.Scale, price(100), fixed.Scale, false, price(50), 1); err != nil {
		t.Fatal(err)
	}

	snap := l.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("len(snap) = %d, want 2", len(snap))
	}
	if snap[0].Address != "addr-a" || snap[1].Address != "addr-b" {
		t.Errorf("snapshot order = [%s, %s], want sorted by address", snap[0].Address, snap[1].Address)
	}

	// mutating the clone must not reach back into the ledger
	snap[0].Contracts = 99
	if live := l.Get(testContract, "addr-a"); live.Contracts == 99 {
		t.Error("Snapshot returned a shared pointer")
	}
}

func TestDrainDeltas_ResetsBuffer(t *testing.T) {
	l := NewLedger()
	applyTestFill(t, l, fixed.Scale, price(100), price(50))

	deltas := l.DrainDeltas()
	if len(deltas) != 1 {
		t.Fatalf("len(deltas) = %d, want 1", len(deltas))
	}
	if deltas[0].Mode != DeltaModeFill {
		t.Errorf("Mode = %v, want fill", deltas[0].Mode)
	}
	if deltas[0].Contracts != fixed.Scale {
		t.Errorf("delta Contracts = %d, want %d", deltas[0].Contracts, fixed.Scale)
	}

	if again := l.DrainDeltas(); len(again) != 0 {
		t.Errorf("second drain returned %d deltas, want 0", len(again))
	}
}

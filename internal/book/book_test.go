package book

import (
	"testing"

	"ClearLedger/internal/fixed"
)

const bookContract = "PERP-BTC-USDT"

func price(units int64) int64 { return units * fixed.Scale }

func TestEstimateLiquidation_SellAgainstBids(t *testing.T) {
	b := NewLevelBook()
	b.SetDepth(bookContract, []Level{
		{Address: "addr-a", Price: price(101), Quantity: 3},
		{Address: "addr-b", Price: price(100), Quantity: 5},
		{Address: "addr-c", Price: price(98), Quantity: 10},
	}, nil)

	// limit 100: the 98 bid is below the limit, so only 3+5 are fillable
	if got := b.EstimateLiquidation(bookContract, 20, price(100), true, false); got != 8 {
		t.Errorf("EstimateLiquidation = %d, want 8", got)
	}

	// size caps the fill before depth runs out
	if got := b.EstimateLiquidation(bookContract, 2, price(100), true, false); got != 2 {
		t.Errorf("capped EstimateLiquidation = %d, want 2", got)
	}
}

func TestEstimateLiquidation_BuyAgainstAsks(t *testing.T) {
	b := NewLevelBook()
	b.SetDepth(bookContract, nil, []Level{
		{Address: "addr-a", Price: price(99), Quantity: 4},
		{Address: "addr-b", Price: price(102), Quantity: 4},
	})

	if got := b.EstimateLiquidation(bookContract, 10, price(100), false, false); got != 4 {
		t.Errorf("EstimateLiquidation = %d, want 4 (only the 99 ask is eligible)", got)
	}
}

func TestExecuteLiquidation_ConsumesPrefix(t *testing.T) {
	b := NewLevelBook()
	b.SetDepth(bookContract, []Level{
		{Address: "addr-a", Price: price(101), Quantity: 3},
		{Address: "addr-b", Price: price(100), Quantity: 5},
	}, nil)

	fills := b.ExecuteLiquidation(bookContract, 6, price(100), true)
	if len(fills) != 2 {
		t.Fatalf("len(fills) = %d, want 2", len(fills))
	}
	if fills[0].Address != "addr-a" || fills[0].Quantity != 3 || fills[0].Price != price(101) {
		t.Errorf("first fill = %+v", fills[0])
	}
	if fills[1].Address != "addr-b" || fills[1].Quantity != 3 || fills[1].Price != price(100) {
		t.Errorf("second fill = %+v", fills[1])
	}

	// the partially eaten level keeps its residual quantity
	if got := b.EstimateLiquidation(bookContract, 10, price(100), true, false); got != 2 {
		t.Errorf("residual depth = %d, want 2", got)
	}
}

func TestExecuteLiquidation_SkipsIneligibleLevels(t *testing.T) {
	b := NewLevelBook()
	b.SetDepth(bookContract, []Level{
		{Address: "addr-a", Price: price(95), Quantity: 10},
	}, nil)

	fills := b.ExecuteLiquidation(bookContract, 5, price(100), true)
	if len(fills) != 0 {
		t.Fatalf("fills = %v, want none below the limit", fills)
	}
	// the untouched level survives
	if got := b.EstimateLiquidation(bookContract, 10, price(90), true, false); got != 10 {
		t.Errorf("depth after no-op execute = %d, want 10", got)
	}
}

func TestSetDepth_SortsUnorderedInput(t *testing.T) {
	b := NewLevelBook()
	b.SetDepth(bookContract, []Level{
		{Address: "addr-a", Price: price(99), Quantity: 1},
		{Address: "addr-b", Price: price(101), Quantity: 1},
	}, nil)

	fills := b.ExecuteLiquidation(bookContract, 2, price(100), true)
	if len(fills) != 1 || fills[0].Price != price(101) {
		t.Errorf("fills = %+v, want best bid first and 99 skipped", fills)
	}
}

func TestNullBook_NeverFills(t *testing.T) {
	var b NullBook
	if got := b.EstimateLiquidation(bookContract, 10, price(100), true, false); got != 0 {
		t.Errorf("NullBook estimate = %d, want 0", got)
	}
	if fills := b.ExecuteLiquidation(bookContract, 10, price(100), true); fills != nil {
		t.Errorf("NullBook fills = %v, want nil", fills)
	}
}

package fixed_test

import (
	"testing"

	"ClearLedger/internal/fixed"
)

func fp(units int64) int64 {
	return units * fixed.Scale
}

func TestLinearPnL_LongGains(t *testing.T) {
	// 10 contracts, notional 1, mark 100 -> 110 => +100 for the long
	pnl := fixed.LinearPnL(fp(10), fp(100), fp(110), fp(1))
	if pnl != fp(100) {
		t.Errorf("long pnl: got %d, want %d", pnl, fp(100))
	}

	// short side is the exact mirror
	short := fixed.LinearPnL(fp(-10), fp(100), fp(110), fp(1))
	if short != -fp(100) {
		t.Errorf("short pnl: got %d, want %d", short, -fp(100))
	}
}

func TestInversePnL_LongGains(t *testing.T) {
	// 100 contracts, notional 1, mark 50000 -> 55000
	// pnl = 100 * (1/50000 - 1/55000) * 1 = 0.000181818...
	pnl := fixed.InversePnL(fp(100), fp(50_000), fp(55_000), fp(1))
	want := int64(18_182) // 0.00018182 at 1e8
	if pnl != want {
		t.Errorf("inverse pnl: got %d, want %d", pnl, want)
	}

	short := fixed.InversePnL(fp(-100), fp(50_000), fp(55_000), fp(1))
	if short != -want {
		t.Errorf("inverse short pnl: got %d, want %d", short, -want)
	}
}

func TestPnL_RoundTripIsZero(t *testing.T) {
	// A -> B -> A with no trades must net to zero
	up := fixed.LinearPnL(fp(7), fp(250), fp(300), fp(2))
	down := fixed.LinearPnL(fp(7), fp(300), fp(250), fp(2))
	if up+down != 0 {
		t.Errorf("linear round trip: %d + %d != 0", up, down)
	}

	upInv := fixed.InversePnL(fp(3), fp(40_000), fp(45_000), fp(1))
	downInv := fixed.InversePnL(fp(3), fp(45_000), fp(40_000), fp(1))
	if upInv+downInv != 0 {
		t.Errorf("inverse round trip: %d + %d != 0", upInv, downInv)
	}
}

func TestWeightedAvgPrice(t *testing.T) {
	// open from flat: avg = fill price
	if got := fixed.WeightedAvgPrice(0, 0, fp(5), fp(100)); got != fp(100) {
		t.Errorf("flat open: got %d, want %d", got, fp(100))
	}

	// 10 @ 100 increased by 10 @ 110 => avg 105
	if got := fixed.WeightedAvgPrice(fp(10), fp(100), fp(10), fp(110)); got != fp(105) {
		t.Errorf("increase: got %d, want %d", got, fp(105))
	}
}

func TestRecip(t *testing.T) {
	if got := fixed.Recip(fp(50_000)); got != 2_000 {
		t.Errorf("recip(50000): got %d, want 2000", got)
	}
	if got := fixed.Recip(0); got != 0 {
		t.Errorf("recip(0): got %d, want 0", got)
	}
}

func TestNotional(t *testing.T) {
	// linear: 10 contracts * 100 * notional 1 = 1000
	if got := fixed.Notional(fp(10), fp(100), fp(1), false); got != fp(1000) {
		t.Errorf("linear notional: got %d, want %d", got, fp(1000))
	}

	// inverse: 100 contracts * notional 1 / 50000 = 0.002
	if got := fixed.Notional(fp(100), fp(50_000), fp(1), true); got != 200_000 {
		t.Errorf("inverse notional: got %d, want 200000", got)
	}

	// sign is ignored
	if got := fixed.Notional(fp(-10), fp(100), fp(1), false); got != fp(1000) {
		t.Errorf("short notional: got %d, want %d", got, fp(1000))
	}
}

func TestClampFundingBps(t *testing.T) {
	cases := []struct {
		in, want int64
	}{
		{fp(3), 0},
		{fp(5), 0},
		{fp(12), fp(7)},
		{fp(-20), fp(-15)},
	}

	for _, tc := range cases {
		if got := fixed.ClampFundingBps(tc.in); got != tc.want {
			t.Errorf("clamp(%d): got %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestHourlyFundingBps_Cap(t *testing.T) {
	// 7 bps / 8 = 0.875 bps
	if got := fixed.HourlyFundingBps(fp(7)); got != fp(7)/8 {
		t.Errorf("hourly: got %d, want %d", got, fp(7)/8)
	}

	// 200 bps / 8 = 25, capped at 12.5
	if got := fixed.HourlyFundingBps(fp(200)); got != fixed.HourlyFundingCapBps {
		t.Errorf("cap: got %d, want %d", got, fixed.HourlyFundingCapBps)
	}
	if got := fixed.HourlyFundingBps(fp(-200)); got != -fixed.HourlyFundingCapBps {
		t.Errorf("neg cap: got %d, want %d", got, -fixed.HourlyFundingCapBps)
	}
}

func TestDivInt128_BankersRounding(t *testing.T) {
	// 5/2 = 2.5 rounds to even: 2
	if got := fixed.MulDiv(5, 1, 2); got != 2 {
		t.Errorf("5/2: got %d, want 2", got)
	}
	// 7/2 = 3.5 rounds to even: 4
	if got := fixed.MulDiv(7, 1, 2); got != 4 {
		t.Errorf("7/2: got %d, want 4", got)
	}
	// negative symmetric: -5/2 -> -2
	if got := fixed.MulDiv(-5, 1, 2); got != -2 {
		t.Errorf("-5/2: got %d, want -2", got)
	}
}

func TestPremiumBps(t *testing.T) {
	// index 101, vwap 100 => 100 * 1/100 = 1 bps... premium is in percent-bps
	// units: 100*(101-100)/100 = 1
	if got := fixed.PremiumBps(fp(101), fp(100)); got != fp(1) {
		t.Errorf("premium: got %d, want %d", got, fp(1))
	}
	if got := fixed.PremiumBps(fp(101), 0); got != 0 {
		t.Errorf("zero vwap: got %d, want 0", got)
	}
}

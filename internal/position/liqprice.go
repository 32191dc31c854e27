package position

import (
	"math/big"

	"ClearLedger/internal/fixed"
)

// Safety multipliers applied to the computed bankruptcy price. These are
// policy constants carried over from the original risk design; they have no
// documented derivation and must not be changed without risk sign-off.
const (
	BankruptcySafetyLong  = 100_500_000 // x1.005
	BankruptcySafetyShort = 99_500_000  // x0.995
)

// Prices bundles the derived liquidation and bankruptcy prices. Nil fields
// mean no finite price exists (the position cannot be liquidated by price
// movement alone).
type Prices struct {
	Liquidation *int64
	Bankruptcy  *int64
}

// CalculateLiquidationPrice derives the liquidation and bankruptcy prices
// for a position from the address's current collateral.
//
// Linear contracts: bankruptcy is the price at which available+margin is
// exhausted, nudged by the safety multiplier; liquidation sits
// margin/(2*|contracts|) inside it. Inverse contracts are solved in
// reciprocal-price space and inverted back; a reciprocal that would go
// non-positive has no finite solution and yields nil.
func CalculateLiquidationPrice(
	available, margin, contracts, notional int64,
	inverse, isLong bool,
	avgPrice int64,
) Prices {
	if contracts == 0 || avgPrice == 0 {
		return Prices{}
	}

	absQty := fixed.Abs(contracts)
	totalCollateral := available + margin

	if inverse {
		return inversePrices(totalCollateral, margin, absQty, notional, isLong, avgPrice)
	}
	return linearPrices(totalCollateral, margin, absQty, notional, isLong, avgPrice)
}

// BankruptcyForBudget solves the price at which a given loss budget is
// exactly exhausted over liqAmount contracts, anchored at refPrice. The
// liquidation path uses it to price forced closes: the budget is the
// liquidating party's remaining collateral pool (or its known shortfall,
// when smaller), not the full position collateral.
func BankruptcyForBudget(
	budget, liqAmount, notional int64,
	inverse, isLong bool,
	refPrice int64,
) int64 {
	if liqAmount == 0 || refPrice == 0 {
		return refPrice
	}
	if budget < 0 {
		budget = 0
	}

	if inverse {
		recipRef := fixed.Recip(refPrice)
		num := fixed.MulInt128(budget, fixed.Scale)
		num.Mul(num, big.NewInt(fixed.Scale))
		den := fixed.MulInt128(liqAmount, notional)
		term := fixed.DivInt128(num, den, fixed.RoundHalfEven)
		fixed.PutInt128(num)
		fixed.PutInt128(den)

		var recip int64
		if isLong {
			recip = recipRef + term
		} else {
			recip = recipRef - term
		}
		if recip <= 0 {
			return 0
		}
		price := fixed.Recip(recip)
		if isLong {
			return fixed.MulDiv(price, BankruptcySafetyLong, fixed.Scale)
		}
		return fixed.MulDiv(price, BankruptcySafetyShort, fixed.Scale)
	}

	num := fixed.MulInt128(budget, fixed.Scale)
	num.Mul(num, big.NewInt(fixed.Scale))
	den := fixed.MulInt128(liqAmount, notional)
	drop := fixed.DivInt128(num, den, fixed.RoundHalfEven)
	fixed.PutInt128(num)
	fixed.PutInt128(den)

	var price int64
	if isLong {
		price = fixed.MulDiv(refPrice-drop, BankruptcySafetyLong, fixed.Scale)
		if price < 0 {
			price = 0
		}
	} else {
		price = fixed.MulDiv(refPrice+drop, BankruptcySafetyShort, fixed.Scale)
	}
	return price
}

func linearPrices(totalCollateral, margin, absQty, notional int64, isLong bool, avgPrice int64) Prices {
	// drop = totalCollateral / (|contracts| * notional), in price units
	num := fixed.MulInt128(totalCollateral, fixed.Scale)
	num.Mul(num, big.NewInt(fixed.Scale))
	den := fixed.MulInt128(absQty, notional)
	drop := fixed.DivInt128(num, den, fixed.RoundHalfEven)
	fixed.PutInt128(num)
	fixed.PutInt128(den)

	var bankruptcy int64
	if isLong {
		bankruptcy = fixed.MulDiv(avgPrice-drop, BankruptcySafetyLong, fixed.Scale)
		if bankruptcy < 0 {
			bankruptcy = 0
		}
	} else {
		bankruptcy = fixed.MulDiv(avgPrice+drop, BankruptcySafetyShort, fixed.Scale)
	}

	// liquidation offset: margin / (2 * |contracts|)
	offset := fixed.MulDiv(margin, fixed.Scale, 2*absQty)

	var liquidation int64
	if isLong {
		liquidation = bankruptcy + offset
	} else {
		liquidation = bankruptcy - offset
		if liquidation < 0 {
			liquidation = 0
		}
	}

	return Prices{Liquidation: &liquidation, Bankruptcy: &bankruptcy}
}

func inversePrices(totalCollateral, margin, absQty, notional int64, isLong bool, avgPrice int64) Prices {
	recipAvg := fixed.Recip(avgPrice)

	// reciprocal-space terms: collateral / (k * |contracts| * notional)
	recipTerm := func(budget int64, k int64) int64 {
		num := fixed.MulInt128(budget, fixed.Scale)
		num.Mul(num, big.NewInt(fixed.Scale))
		den := fixed.MulInt128(k*absQty, notional)
		out := fixed.DivInt128(num, den, fixed.RoundHalfEven)
		fixed.PutInt128(num)
		fixed.PutInt128(den)
		return out
	}

	bankTerm := recipTerm(totalCollateral, 1)
	liqTerm := recipTerm(margin, 2)

	// Inverse long loses as price falls (1/p rises), short as price rises
	// (1/p falls). A non-positive reciprocal means the price would have to
	// pass through infinity: no finite liquidation exists.
	solve := func(term int64) *int64 {
		var recip int64
		if isLong {
			recip = recipAvg + term
		} else {
			recip = recipAvg - term
		}
		if recip <= 0 {
			return nil
		}
		price := fixed.Recip(recip)
		return &price
	}

	bankruptcy := solve(bankTerm)
	liquidation := solve(liqTerm)
	if bankruptcy == nil || liquidation == nil {
		return Prices{}
	}
	return Prices{Liquidation: liquidation, Bankruptcy: bankruptcy}
}

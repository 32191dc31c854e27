package fixed

import (
	"math/big"
	"sync"
)

// All balance, price and quantity arithmetic uses a single fixed-point
// representation with 8 fractional digits. Binary floating point is never
// used for ledger state: every replica must compute byte-identical results.
const (
	Precision = 8
	Scale     = 100_000_000 // 10^8
)

// ScaleSq is Scale*Scale, the divisor for two-factor products.
var ScaleSq = new(big.Int).Mul(big.NewInt(Scale), big.NewInt(Scale))

// Int128 pool for intermediate products
var int128Pool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt128() *big.Int {
	return int128Pool.Get().(*big.Int)
}

func putInt128(v *big.Int) {
	v.SetInt64(0)
	int128Pool.Put(v)
}

// MulInt128 performs a * b in 128-bit space to prevent overflow.
// The caller must return the result to the pool via PutInt128.
func MulInt128(a, b int64) *big.Int {
	result := getInt128()
	result.Mul(big.NewInt(a), big.NewInt(b))
	return result
}

// PutInt128 returns an intermediate to the pool.
func PutInt128(v *big.Int) {
	putInt128(v)
}

type RoundingMode int

const (
	RoundHalfEven RoundingMode = iota // banker's rounding (default)
	RoundDown
	RoundUp
)

// DivInt128 performs numerator / denominator with the given rounding mode.
// Negative numerators round symmetrically around zero.
func DivInt128(numerator, denominator *big.Int, mode RoundingMode) int64 {
	neg := numerator.Sign() < 0
	absNum := getInt128()
	absNum.Abs(numerator)

	absDen := getInt128()
	absDen.Abs(denominator)

	quotient := getInt128()
	remainder := getInt128()
	quotient.QuoRem(absNum, absDen, remainder)

	result := quotient.Int64()

	switch mode {
	case RoundHalfEven:
		twice := getInt128()
		twice.Lsh(remainder, 1)
		cmp := twice.Cmp(absDen)
		if cmp > 0 {
			result++
		} else if cmp == 0 && result%2 != 0 {
			result++
		}
		putInt128(twice)
	case RoundUp:
		if remainder.Sign() != 0 {
			result++
		}
	case RoundDown:
		// truncation, nothing to do
	}

	putInt128(absNum)
	putInt128(absDen)
	putInt128(quotient)
	putInt128(remainder)

	if neg {
		return -result
	}
	return result
}

// MulDiv computes a * b / c with banker's rounding.
func MulDiv(a, b, c int64) int64 {
	num := MulInt128(a, b)
	den := getInt128()
	den.SetInt64(c)
	result := DivInt128(num, den, RoundHalfEven)
	putInt128(num)
	putInt128(den)
	return result
}

// Recip returns the fixed-point reciprocal 1/price.
// Returns 0 when price is zero (no finite reciprocal).
func Recip(price int64) int64 {
	if price == 0 {
		return 0
	}
	den := getInt128()
	den.SetInt64(price)
	result := DivInt128(ScaleSq, den, RoundHalfEven)
	putInt128(den)
	return result
}

// WeightedAvgPrice computes the volume-weighted entry price after a
// same-direction increase. Quantities are unsigned magnitudes.
func WeightedAvgPrice(oldQty, oldAvg, fillQty, fillPrice int64) int64 {
	if oldQty == 0 {
		return fillPrice
	}

	term1 := MulInt128(oldQty, oldAvg)
	term2 := MulInt128(fillQty, fillPrice)
	numerator := getInt128()
	numerator.Add(term1, term2)

	den := getInt128()
	den.SetInt64(oldQty + fillQty)

	result := DivInt128(numerator, den, RoundHalfEven)

	putInt128(term1)
	putInt128(term2)
	putInt128(numerator)
	putInt128(den)

	return result
}

// LinearPnL computes contracts * (newMark - oldMark) * notional for a linear
// contract. The contracts quantity is signed (long positive, short negative).
func LinearPnL(contracts, oldMark, newMark, notional int64) int64 {
	diff := newMark - oldMark
	temp := MulInt128(contracts, diff)
	temp.Mul(temp, big.NewInt(notional))
	result := DivInt128(temp, ScaleSq, RoundHalfEven)
	putInt128(temp)
	return result
}

// InversePnL computes contracts * (1/oldMark - 1/newMark) * notional for an
// inverse contract. Computed as contracts*notional*(newMark-oldMark) /
// (oldMark*newMark) so the reciprocals never lose precision to intermediate
// rounding.
func InversePnL(contracts, oldMark, newMark, notional int64) int64 {
	if oldMark == 0 || newMark == 0 {
		return 0
	}

	num := MulInt128(contracts, notional)
	num.Mul(num, big.NewInt(newMark-oldMark))

	den := MulInt128(oldMark, newMark)

	result := DivInt128(num, den, RoundHalfEven)
	putInt128(num)
	putInt128(den)
	return result
}

// PnL dispatches on the contract's settlement form.
func PnL(contracts, oldMark, newMark, notional int64, inverse bool) int64 {
	if inverse {
		return InversePnL(contracts, oldMark, newMark, notional)
	}
	return LinearPnL(contracts, oldMark, newMark, notional)
}

// Notional converts a contract quantity into collateral-asset units at the
// given price. For linear contracts that is |qty|*price*notional; for inverse
// contracts the collateral asset is the base, so it is |qty|*notional/price.
func Notional(contracts, price, notional int64, inverse bool) int64 {
	qty := contracts
	if qty < 0 {
		qty = -qty
	}

	if inverse {
		if price == 0 {
			return 0
		}
		num := MulInt128(qty, notional)
		num.Mul(num, big.NewInt(Scale))
		den := getInt128()
		den.SetInt64(price)
		den.Mul(den, big.NewInt(Scale))
		result := DivInt128(num, den, RoundHalfEven)
		putInt128(num)
		putInt128(den)
		return result
	}

	num := MulInt128(qty, price)
	num.Mul(num, big.NewInt(notional))
	result := DivInt128(num, ScaleSq, RoundHalfEven)
	putInt128(num)
	return result
}

// Abs returns the absolute value of a fixed-point quantity.
func Abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// Sign returns -1, 0 or +1.
func Sign(v int64) int64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

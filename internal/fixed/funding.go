package fixed

// Funding rate constants, in basis points at fixed-point scale.
const (
	// FundingDeadBandBps is the premium band inside which no funding applies.
	FundingDeadBandBps = 5 * Scale

	// HourlyFundingCapBps caps the hourly rate at ±12.5 bps.
	HourlyFundingCapBps = 125 * Scale / 10

	// FundingEpochDivisor spreads the clamped daily premium across 8 funding
	// intervals.
	FundingEpochDivisor = 8
)

// PremiumBps computes 100 * (indexPrice - vwap) / vwap in basis-point
// fixed-point units. Returns 0 when the VWAP is unavailable.
func PremiumBps(indexPrice, vwap int64) int64 {
	if vwap == 0 {
		return 0
	}
	diff := indexPrice - vwap
	num := MulInt128(diff, 100*Scale)
	den := getInt128()
	den.SetInt64(vwap)
	result := DivInt128(num, den, RoundHalfEven)
	putInt128(num)
	putInt128(den)
	return result
}

// ClampFundingBps applies the dead band: premiums under 5 bps in magnitude
// produce no funding, larger premiums are reduced by the band width.
func ClampFundingBps(bps int64) int64 {
	abs := Abs(bps)
	if abs < FundingDeadBandBps {
		return 0
	}
	return Sign(bps) * (abs - FundingDeadBandBps)
}

// HourlyFundingBps converts a clamped premium into the hourly rate, capped
// at ±12.5 bps/hour.
func HourlyFundingBps(clampedBps int64) int64 {
	hourly := clampedBps / FundingEpochDivisor
	if hourly > HourlyFundingCapBps {
		return HourlyFundingCapBps
	}
	if hourly < -HourlyFundingCapBps {
		return -HourlyFundingCapBps
	}
	return hourly
}

// FundingPayment converts a position's notional exposure and an hourly rate
// in bps into a collateral amount. Positive means the position pays.
func FundingPayment(exposure, hourlyBps int64) int64 {
	// exposure * bps / 10000, where bps carries the fixed-point scale
	num := MulInt128(exposure, hourlyBps)
	den := MulInt128(10_000, Scale)
	result := DivInt128(num, den, RoundHalfEven)
	putInt128(num)
	putInt128(den)
	return result
}

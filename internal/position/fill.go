package position

import (
	"ClearLedger/internal/fixed"
)

// Fill applies a signed fill quantity to the position struct alone, without
// touching the ledger, derived prices, or audit records. The clearing
// engine uses it on block-scoped cache copies; Ledger.ApplyFill wraps it
// for the persistent store. Returns the realized PnL on any closed
// quantity.
func (p *Position) Fill(signedAmount, price, notional int64, inverse bool) int64 {
	var realized int64

	switch {
	case p.IsFlat():
		p.Contracts = signedAmount
		p.AvgPrice = price
		p.LastMark = price

	case fixed.Sign(p.Contracts) == fixed.Sign(signedAmount):
		p.AvgPrice = fixed.WeightedAvgPrice(
			p.AbsContracts(), p.AvgPrice,
			fixed.Abs(signedAmount), price,
		)
		p.Contracts += signedAmount

	default:
		closing := fixed.Abs(signedAmount)
		held := p.AbsContracts()

		if closing < held {
			realized = RealizePnl(-signedAmount, price, p.AvgPrice, inverse, notional)
			p.Contracts += signedAmount
			p.RealizedPnL += realized
		} else if closing == held {
			realized = RealizePnl(p.Contracts, price, p.AvgPrice, inverse, notional)
			p.Contracts = 0
			p.AvgPrice = 0
			p.RealizedPnL += realized
		} else {
			realized = RealizePnl(p.Contracts, price, p.AvgPrice, inverse, notional)
			p.Contracts = signedAmount + p.Contracts
			p.AvgPrice = price
			p.RealizedPnL += realized
		}
	}

	p.Version++
	return realized
}

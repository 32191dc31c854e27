package clearing

import (
	"sort"

	"ClearLedger/internal/fixed"
	"ClearLedger/internal/ledger"
	"ClearLedger/internal/position"
)

// deleverage force-closes opposite-side counterparties against the
// residual liquidation size the order book could not absorb. Counterparties
// are ranked most-profitable-first; ties break on address so every replica
// walks the same order. Each counterparty's entitlement on the closed
// quantity is paid from the seized collateral pro-rata; anything beyond
// that is owed via insurance and the IOU claim map.
func (e *Engine) deleverage(
	ctx *ClearingContext,
	st *contractState,
	pos *position.Position,
	side, adlSize, bankPrice, seized int64,
) []ADLFill {
	candidates := e.rankCounterparties(ctx, st, pos, side)
	if len(candidates) == 0 {
		e.log.Warn().
			Str("contract", st.info.ContractID).
			Int64("block", ctx.Block).
			Int64("unfilled", adlSize).
			Msg("deleveraging found no counterparties; liquidation left unfilled")
		return nil
	}

	var fills []ADLFill
	remaining := adlSize
	for _, cp := range candidates {
		if remaining <= 0 {
			break
		}
		take := cp.AbsContracts()
		if take > remaining {
			take = remaining
		}
		if take <= 0 {
			continue
		}

		fills = append(fills, e.closeCounterparty(ctx, st, pos, cp, side, take, bankPrice))
		remaining -= take
	}

	if remaining > 0 {
		// expected when counterparties are exhausted, not exceptional
		e.log.Warn().
			Str("contract", st.info.ContractID).
			Int64("block", ctx.Block).
			Int64("unfilled", remaining).
			Msg("deleveraging exhausted counterparties with size unfilled")
	}

	e.payPoolShares(ctx, st, pos, fills, seized)
	return fills
}

// rankCounterparties selects opposite-side, non-liquidated, non-zero
// positions ordered by unrealized PnL descending.
func (e *Engine) rankCounterparties(
	ctx *ClearingContext,
	st *contractState,
	pos *position.Position,
	side int64,
) []*position.Position {
	var out []*position.Position
	upnl := make(map[string]int64)

	for _, cp := range ctx.Positions() {
		if cp.Address == pos.Address || cp.IsFlat() {
			continue
		}
		if st.liquidated[cp.Address] || st.shortfalls[cp.Address] > 0 {
			continue
		}
		if fixed.Sign(cp.Contracts) != -side {
			continue
		}
		upnl[cp.Address] = fixed.PnL(cp.Contracts, cp.AvgPrice, st.newMark, st.info.NotionalValue, st.info.Inverse)
		out = append(out, cp)
	}

	// ctx.Positions is address-ordered, so a stable sort leaves ties in
	// address order
	sort.SliceStable(out, func(i, j int) bool {
		return upnl[out[i].Address] > upnl[out[j].Address]
	})
	return out
}

// closeCounterparty strikes one deleveraging match at the bankruptcy price.
// The closed quantity leaves the counterparty's pass-3 mark settlement and
// becomes an entitlement from the last cleared mark to the strike price;
// margin backing the closed quantity is released to available.
func (e *Engine) closeCounterparty(
	ctx *ClearingContext,
	st *contractState,
	pos *position.Position,
	cp *position.Position,
	side, take, bankPrice int64,
) ADLFill {
	closedHolding := -side * take // the quantity as the counterparty held it

	entitlement := fixed.PnL(closedHolding, cp.LastMark, bankPrice, st.info.NotionalValue, st.info.Inverse)
	markPnl := fixed.PnL(closedHolding, cp.LastMark, st.newMark, st.info.NotionalValue, st.info.Inverse)
	st.pending[cp.Address] -= markPnl

	oldAbs := cp.AbsContracts()
	cp.Fill(side*take, bankPrice, st.info.NotionalValue, st.info.Inverse)
	pos.Fill(-side*take, bankPrice, st.info.NotionalValue, st.info.Inverse)

	// release the margin backing the closed quantity
	if cp.Margin > 0 && oldAbs > 0 {
		released := fixed.MulDiv(cp.Margin, take, oldAbs)
		if released > 0 {
			e.balances.UpdateBalance(cp.Address, st.assetID, released, 0, -released, ledger.ReasonMarginTransfer, ctx.Block)
			cp.Margin -= released
		}
	}

	if entitlement < 0 {
		// a counterparty closed at a price worse than its last mark owes
		// the difference like any other clearing loss
		e.debitLoss(ctx.Block, st, cp, -entitlement, ledger.ReasonDeleverage)
		entitlement = 0
	}

	return ADLFill{
		Address:    cp.Address,
		Quantity:   take,
		Price:      bankPrice,
		MarkProfit: entitlement,
	}
}

// payPoolShares distributes the seized collateral across the deleveraged
// counterparties pro-rata by entitlement, capped at what was actually
// seized. Unpaid remainders are recorded for insurance and IOU settlement.
func (e *Engine) payPoolShares(
	ctx *ClearingContext,
	st *contractState,
	pos *position.Position,
	fills []ADLFill,
	seized int64,
) {
	var entSum int64
	for _, f := range fills {
		entSum += f.MarkProfit
	}
	if entSum <= 0 {
		return
	}

	distributable := seized
	if distributable > entSum {
		distributable = entSum
	}

	var paid int64
	for i := range fills {
		f := &fills[i]
		if f.MarkProfit <= 0 {
			continue
		}
		var share int64
		if i == len(fills)-1 {
			share = distributable - paid
		} else {
			share = fixed.MulDiv(distributable, f.MarkProfit, entSum)
		}
		if share > f.MarkProfit {
			share = f.MarkProfit
		}
		if share > 0 {
			e.creditProfit(ctx.Block, st, f.Address, share, ledger.ReasonDeleverage)
			paid += share
		}
		f.PoolShare = share

		if gap := f.MarkProfit - share; gap > 0 {
			ctx.AddADLGap(st.info.ContractID, st.assetID, f.Address, pos.Address, gap)
		}
	}
}

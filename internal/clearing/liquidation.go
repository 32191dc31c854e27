package clearing

import (
	"github.com/google/uuid"

	"ClearLedger/internal/fixed"
	"ClearLedger/internal/ledger"
	"ClearLedger/internal/position"
)

// runLiquidations is the second pass: process the insolvency queue in
// enqueue order. FIFO, no reordering; cross-replica agreement depends on it.
func (e *Engine) runLiquidations(ctx *ClearingContext, st *contractState) {
	for _, pos := range st.queue {
		ev := e.liquidatePosition(ctx, st, pos)
		st.events = append(st.events, ev)
		st.systemicLoss += ev.SystemicLoss
		st.liquidated[pos.Address] = true

		if e.observer != nil {
			e.observer.LiquidationRecorded(st.info.ContractID, ev.Kind.String())
			if ev.SystemicLoss > 0 {
				e.observer.SystemicLossRecorded(st.info.ContractID, ev.SystemicLoss)
			}
		}
		e.log.Info().
			Str("contract", st.info.ContractID).
			Str("address", pos.Address).
			Int64("block", ctx.Block).
			Str("kind", ev.Kind.String()).
			Int64("liq_amount", ev.LiqAmount).
			Int64("book_filled", ev.BookFilled).
			Int64("adl_size", ev.ADLSize).
			Int64("seized", ev.Seized).
			Int64("systemic_loss", ev.SystemicLoss).
			Msg("position liquidated")
	}
}

// liquidatePosition walks one position through the waterfall: sizing,
// bankruptcy pricing, order-book fill, deleveraging, pool confiscation,
// systemic-loss accrual, zero-out.
func (e *Engine) liquidatePosition(ctx *ClearingContext, st *contractState, pos *position.Position) LiquidationEvent {
	side := pos.SideSign()
	isLong := pos.IsLong()
	loss := st.losses[pos.Address]

	kind, liqAmount := e.sizeLiquidation(st, pos, loss)

	// bankruptcy price: the price at which the actual loss budget is
	// exactly exhausted over the liquidated quantity
	tally := e.balances.GetTally(pos.Address, st.assetID)
	pool := tally.Available + pos.Margin
	budget := pool
	if sf := st.shortfalls[pos.Address]; sf > 0 && sf < budget {
		budget = sf
	}
	bankPrice := position.BankruptcyForBudget(
		budget, liqAmount, st.info.NotionalValue,
		st.info.Inverse, isLong, pos.AvgPrice,
	)
	if bankPrice <= 0 {
		bankPrice = st.newMark
	}

	ev := LiquidationEvent{
		EventID:         uuid.New(),
		ContractID:      st.info.ContractID,
		Address:         pos.Address,
		Block:           ctx.Block,
		Kind:            kind,
		LiqAmount:       liqAmount,
		BankruptcyPrice: bankPrice,
	}

	// order-book fill attempt: only the safe prefix is inserted
	sell := isLong
	safe := e.book.EstimateLiquidation(st.info.ContractID, liqAmount, bankPrice, sell, st.info.Inverse)
	if safe > liqAmount {
		safe = liqAmount
	}
	var bookFilled int64
	if safe > 0 {
		fills := e.book.ExecuteLiquidation(st.info.ContractID, safe, bankPrice, sell)
		bookFilled = e.applyBookFills(ctx, st, pos, side, safe, bankPrice, fills)
	}
	ev.BookFilled = bookFilled

	// the book-filled quantity exits at the fill price; its loss from the
	// last cleared mark is owed in full
	var taken int64
	if bookFilled > 0 {
		lossBook := fixed.PnL(side*bookFilled, pos.LastMark, bankPrice, st.info.NotionalValue, st.info.Inverse)
		if lossBook < 0 {
			taken += e.debitLoss(ctx.Block, st, pos, -lossBook, ledger.ReasonLiquidation)
		}
	}

	// residual quantity is socialized at the current mark
	adlSize := liqAmount - bookFilled
	ev.ADLSize = adlSize
	var seized int64
	if adlSize > 0 {
		residualLoss := fixed.PnL(side*adlSize, pos.LastMark, st.newMark, st.info.NotionalValue, st.info.Inverse)
		if residualLoss < 0 {
			residualLoss = -residualLoss
		} else {
			residualLoss = 0
		}

		seized = e.debitLoss(ctx.Block, st, pos, residualLoss, ledger.ReasonLiquidation)
		taken += seized

		ev.ADLFills = e.deleverage(ctx, st, pos, side, adlSize, bankPrice, seized)
	}
	ev.Seized = seized

	// partial liquidations keep the remainder open; its mark loss is still
	// owed to the extent the pool can pay
	if kind == LiquidationPartial && !pos.IsFlat() {
		lossRemain := fixed.PnL(pos.Contracts, pos.LastMark, st.newMark, st.info.NotionalValue, st.info.Inverse)
		if lossRemain < 0 {
			taken += e.debitLoss(ctx.Block, st, pos, -lossRemain, ledger.ReasonLiquidation)
		}
	}

	// the socialized amount is the pass-1 shortfall net of everything the
	// waterfall collected; the solvency haircut already counted the rest
	// as covered
	uncovered := st.shortfalls[pos.Address] - taken
	if uncovered < 0 {
		uncovered = 0
	}
	ev.SystemicLoss = uncovered

	if kind == LiquidationTotal || pos.IsFlat() {
		// release any margin the waterfall did not consume, then retire
		// the record
		if pos.Margin > 0 {
			e.balances.UpdateBalance(pos.Address, st.assetID, pos.Margin, 0, -pos.Margin, ledger.ReasonMarginTransfer, ctx.Block)
			pos.Margin = 0
		}
		pos.Zero(st.newMark)
	}

	return ev
}

// sizeLiquidation classifies partial vs total. Partial only when the
// maintenance deficit is curable within existing margin; a computed size
// that is non-positive or covers the whole position forces total.
func (e *Engine) sizeLiquidation(st *contractState, pos *position.Position, loss int64) (LiquidationKind, int64) {
	absQty := pos.AbsContracts()

	imPerContract, err := e.registry.GetInitialMargin(st.info.ContractID, st.newMark)
	if err != nil || imPerContract <= 0 {
		return LiquidationTotal, absQty
	}

	tally := e.balances.GetTally(pos.Address, st.assetID)
	equity := tally.Available + pos.Margin - loss
	maintenance := fixed.MulDiv(absQty, imPerContract, solventMarginDivisor*fixed.Scale)

	deficit := maintenance - equity
	if deficit > pos.Margin {
		return LiquidationTotal, absQty
	}

	liqAmount := fixed.MulDiv(deficit, fixed.Scale, imPerContract)
	if liqAmount <= 0 || liqAmount >= absQty {
		return LiquidationTotal, absQty
	}
	return LiquidationPartial, liqAmount
}

// applyBookFills reduces the liquidated position by the matched quantity
// and hands the exposure to each filling counterparty. New counterparty
// exposure is marked from its fill price through the pending PnL map, so
// pass 3 settles it against the block mark.
func (e *Engine) applyBookFills(
	ctx *ClearingContext,
	st *contractState,
	pos *position.Position,
	side, safe, bankPrice int64,
	fills []BookFill,
) int64 {
	var filled int64
	for _, f := range fills {
		if f.Quantity <= 0 || f.Address == pos.Address {
			continue
		}
		q := f.Quantity
		if filled+q > safe {
			q = safe - filled
		}
		if q <= 0 {
			break
		}
		price := f.Price
		if price <= 0 {
			price = bankPrice
		}

		pos.Fill(-side*q, price, st.info.NotionalValue, st.info.Inverse)

		cp := ctx.CachedOrCreate(f.Address)
		cpDelta := side * q
		cp.Fill(cpDelta, price, st.info.NotionalValue, st.info.Inverse)
		st.pending[f.Address] += fixed.PnL(cpDelta, price, st.newMark, st.info.NotionalValue, st.info.Inverse)

		filled += q
	}
	return filled
}

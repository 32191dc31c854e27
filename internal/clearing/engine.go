package clearing

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"ClearLedger/internal/contract"
	"ClearLedger/internal/fixed"
	"ClearLedger/internal/iou"
	"ClearLedger/internal/ledger"
	"ClearLedger/internal/position"
)

// Engine settles one block at a time across all registered contracts:
// price-update detection, the three-pass solvency/liquidation/profit
// algorithm, funding, IOU settlement, and invariant verification. It is
// strictly single-threaded; determinism across replicas is the correctness
// requirement, not throughput.
type Engine struct {
	registry  ContractRegistry
	balances  BalanceLedger
	positions *position.Ledger
	ious      *iou.Ledger
	prices    PriceSource
	book      OrderBook
	insurance InsuranceFund
	trades    TradeHistory
	observer  Observer
	log       zerolog.Logger

	// last settled mark per contract, to skip redundant mark-to-market
	lastMarks map[string]int64
}

// EngineParams collects the engine's constructor-injected collaborators.
type EngineParams struct {
	Registry  ContractRegistry
	Balances  BalanceLedger
	Positions *position.Ledger
	IOUs      *iou.Ledger
	Prices    PriceSource
	Book      OrderBook
	Insurance InsuranceFund
	Trades    TradeHistory
	Observer  Observer
	Logger    zerolog.Logger
}

func NewEngine(p EngineParams) *Engine {
	return &Engine{
		registry:  p.Registry,
		balances:  p.Balances,
		positions: p.Positions,
		ious:      p.IOUs,
		prices:    p.Prices,
		book:      p.Book,
		insurance: p.Insurance,
		trades:    p.Trades,
		observer:  p.Observer,
		log:       p.Logger.With().Str("component", "clearing").Logger(),
		lastMarks: make(map[string]int64),
	}
}

// contractState is the scratch accounting for one contract's settlement
// within a block.
type contractState struct {
	info    *contract.Info
	assetID ledger.AssetID
	oldMark int64
	newMark int64

	// pending signed mark PnL per address, adjusted by liquidation fills;
	// positive entries are credited in pass 3
	pending map[string]int64
	// full mark losses per address, for tie-off proration
	losses map[string]int64
	// collateral actually taken per address this block
	debited map[string]int64

	queue      []*position.Position
	shortfalls map[string]int64
	liquidated map[string]bool

	profitMass   int64
	systemicLoss int64
	events       []LiquidationEvent
}

// SettleBlock runs one block's full settlement. Contracts are processed
// strictly in registry order; a missing mark price defers that contract,
// an invariant violation halts the process.
func (e *Engine) SettleBlock(block int64) (*BlockResult, error) {
	start := time.Now()
	ctx := NewClearingContext(block)
	res := &BlockResult{Block: block}

	for _, id := range e.registry.GetAllContracts() {
		cres, err := e.settleContract(ctx, id)
		if err != nil {
			// recoverable: settlement for this contract is deferred
			e.log.Warn().Err(err).Str("contract", id).Int64("block", block).
				Msg("contract settlement deferred")
			continue
		}
		if cres == nil {
			continue
		}
		res.Contracts = append(res.Contracts, *cres)
		res.SystemicLoss += cres.SystemicLoss
	}

	if block%FundingIntervalBlocks == 0 {
		res.Funding = e.applyFunding(block)
	}

	res.InsurancePaid = e.settleADLGaps(ctx, res.SystemicLoss)
	res.IOUPayouts = e.payOutstandingIOUs(ctx, res)

	if e.balances.MarginMutatedInBlock(block) {
		e.verifyNetContracts(block)
	}
	e.reconcileSupply(block)

	elapsed := time.Since(start).Seconds()
	if e.observer != nil {
		e.observer.BlockSettled(block, len(res.Contracts), elapsed)
	}
	e.log.Info().
		Int64("block", block).
		Int("contracts", len(res.Contracts)).
		Int64("systemic_loss", res.SystemicLoss).
		Float64("seconds", elapsed).
		Msg("block settled")

	return res, nil
}

func (e *Engine) settleContract(ctx *ClearingContext, contractID string) (*ContractResult, error) {
	info, ok := e.registry.GetContractInfo(contractID)
	if !ok {
		return nil, fmt.Errorf("unknown contract: %s", contractID)
	}

	newMark, ok := e.prices.GetIndexPrice(contractID, ctx.Block)
	if !ok {
		return nil, fmt.Errorf("no mark price for %s at block %d", contractID, ctx.Block)
	}

	oldMark, seen := e.lastMarks[contractID]
	priceChanged := !seen || newMark != oldMark

	positions := e.positions.GetAllPositions(contractID)
	if len(positions) == 0 {
		e.lastMarks[contractID] = newMark
		return nil, nil
	}

	ctx.InitPositionCache(contractID, positions)

	st := &contractState{
		info:       info,
		assetID:    info.CollateralAssetID,
		oldMark:    oldMark,
		newMark:    newMark,
		pending:    make(map[string]int64),
		losses:     make(map[string]int64),
		debited:    make(map[string]int64),
		shortfalls: make(map[string]int64),
		liquidated: make(map[string]bool),
	}

	if priceChanged {
		e.evaluateSolvency(ctx, st)
		e.runLiquidations(ctx, st)
		e.creditProfits(ctx, st)
	}
	e.tieOffBlockTrades(ctx, st, contractID)
	e.normalizeMarks(ctx, st)

	ctx.FlushTo(e.positions, position.DeltaModeClearing)
	e.positions.ResetBlockScoped(contractID)
	e.lastMarks[contractID] = newMark

	if !priceChanged && len(st.events) == 0 {
		return nil, nil
	}
	return &ContractResult{
		ContractID:   contractID,
		OldMark:      oldMark,
		NewMark:      newMark,
		PnLDelta:     st.profitMass,
		SystemicLoss: st.systemicLoss,
		Liquidations: st.events,
	}, nil
}

// evaluateSolvency is the first pass: mark every position to the new price,
// debit covered losses immediately, defer profits, and queue insolvent
// positions for liquidation. Queue order is the sorted-address iteration
// order and must never be re-sorted.
func (e *Engine) evaluateSolvency(ctx *ClearingContext, st *contractState) {
	for _, pos := range ctx.Positions() {
		if pos.IsFlat() {
			continue
		}
		pnl := fixed.PnL(pos.Contracts, pos.LastMark, st.newMark, st.info.NotionalValue, st.info.Inverse)
		if pnl == 0 {
			continue
		}
		if pnl > 0 {
			st.pending[pos.Address] += pnl
			continue
		}

		loss := -pnl
		st.losses[pos.Address] = loss

		tally := e.balances.GetTally(pos.Address, st.assetID)
		coverage := tally.Available + pos.Margin/solventMarginDivisor
		if coverage >= loss {
			e.debitLoss(ctx.Block, st, pos, loss, ledger.ReasonClearing)
			continue
		}

		st.queue = append(st.queue, pos)
		st.shortfalls[pos.Address] = loss - coverage
	}
}

// debitLoss takes collateral from an address, available first then margin,
// and records it as a realized loss in the IOU bucket. Returns what was
// actually taken.
func (e *Engine) debitLoss(block int64, st *contractState, pos *position.Position, amount int64, reason ledger.ReasonTag) int64 {
	if amount <= 0 {
		return 0
	}

	tally := e.balances.GetTally(pos.Address, st.assetID)
	fromAvail := amount
	if tally.Available < fromAvail {
		fromAvail = tally.Available
	}
	if fromAvail < 0 {
		fromAvail = 0
	}
	fromMargin := amount - fromAvail
	if fromMargin > pos.Margin {
		fromMargin = pos.Margin
	}
	taken := fromAvail + fromMargin
	if taken <= 0 {
		return 0
	}

	e.balances.UpdateBalance(pos.Address, st.assetID, -fromAvail, 0, -fromMargin, reason, block)
	pos.Margin -= fromMargin
	st.debited[pos.Address] += taken
	e.ious.AddLoss(pos.ContractID, st.assetID, taken, block)
	return taken
}

// creditProfits is the third pass: credit every pending positive PnL to
// available. It runs after liquidations so deleveraged counterparties are
// credited only on their surviving quantity; fills during liquidation have
// already adjusted the pending amounts.
func (e *Engine) creditProfits(ctx *ClearingContext, st *contractState) {
	for _, pos := range ctx.Positions() {
		pnl := st.pending[pos.Address]
		if pnl <= 0 {
			continue
		}
		e.creditProfit(ctx.Block, st, pos.Address, pnl, ledger.ReasonClearing)
	}
}

// creditProfit pays a realized gain into available and records the
// unfunded-gain side in the IOU bucket so supply reconciliation balances.
func (e *Engine) creditProfit(block int64, st *contractState, address string, amount int64, reason ledger.ReasonTag) {
	if amount <= 0 {
		return
	}
	e.balances.UpdateBalance(address, st.assetID, amount, 0, 0, reason, block)
	e.ious.AddProfit(st.info.ContractID, st.assetID, amount, block)
	st.profitMass += amount
}

// tieOffBlockTrades reconciles same-block trades against what losers
// actually paid. When a trade's winning side is owed more than the losing
// side's prorated debit, the gap accrues as an IOU claim instead of
// disappearing.
func (e *Engine) tieOffBlockTrades(ctx *ClearingContext, st *contractState, contractID string) {
	trades := e.trades.GetTradesBetween(contractID, ctx.Block, ctx.Block)
	for _, t := range trades {
		if t.Quantity <= 0 || t.Price == 0 {
			continue
		}
		buyerPnl := fixed.PnL(t.Quantity, t.Price, st.newMark, st.info.NotionalValue, st.info.Inverse)
		sellerPnl := fixed.PnL(-t.Quantity, t.Price, st.newMark, st.info.NotionalValue, st.info.Inverse)

		loser, loserPnl := t.Buyer, buyerPnl
		if sellerPnl < loserPnl {
			loser, loserPnl = t.Seller, sellerPnl
		}
		if loserPnl >= 0 {
			continue
		}

		totalLoss := st.losses[loser]
		if totalLoss <= 0 {
			continue
		}
		lossShare := -loserPnl
		if lossShare > totalLoss {
			lossShare = totalLoss
		}
		paidShare := fixed.MulDiv(st.debited[loser], lossShare, totalLoss)
		delta := lossShare - paidShare
		if delta <= 0 {
			continue
		}
		e.ious.AddClaims(contractID, st.assetID, ctx.Block, t.Buyer, t.Seller, buyerPnl, sellerPnl, delta)
	}
}

// normalizeMarks sets every surviving position's lastMark to the block's
// mark and refreshes unrealized PnL, so the next block's clearing starts
// from a symmetric baseline.
func (e *Engine) normalizeMarks(ctx *ClearingContext, st *contractState) {
	for _, pos := range ctx.Positions() {
		pos.LastMark = st.newMark
		if pos.IsFlat() {
			pos.UnrealizedPnL = 0
			continue
		}
		pos.UnrealizedPnL = fixed.PnL(
			pos.Contracts, pos.AvgPrice, st.newMark,
			st.info.NotionalValue, st.info.Inverse,
		)
	}
}

// settleADLGaps pays deleveraging counterparties' unfunded entitlements:
// first pro-rata from the insurance fund, then as IOU claims against
// future block losses. Returns the total insurance payout.
func (e *Engine) settleADLGaps(ctx *ClearingContext, systemicLoss int64) int64 {
	if len(ctx.adlGaps) == 0 {
		return 0
	}

	var totalGap int64
	for _, g := range ctx.adlGaps {
		totalGap += g.Amount
	}

	payout := e.insurance.CalcPayout(systemicLoss, ctx.Block)
	if payout > totalGap {
		payout = totalGap
	}

	var paid int64
	for i, g := range ctx.adlGaps {
		var share int64
		if i == len(ctx.adlGaps)-1 {
			share = payout - paid
		} else {
			share = fixed.MulDiv(payout, g.Amount, totalGap)
		}
		if share > g.Amount {
			share = g.Amount
		}
		if share > 0 {
			e.balances.UpdateBalance(e.insurance.Address(), g.AssetID, -share, 0, 0, ledger.ReasonInsurance, ctx.Block)
			e.balances.UpdateBalance(g.Address, g.AssetID, share, 0, 0, ledger.ReasonInsurance, ctx.Block)
			paid += share
		}

		remaining := g.Amount - share
		if remaining > 0 {
			e.ious.AddClaims(
				g.ContractID, g.AssetID, ctx.Block,
				g.Address, g.LiquidatedAddr,
				remaining, -remaining,
				remaining,
			)
		}
	}
	return paid
}

// payOutstandingIOUs settles claim maps against the block's realized
// losses, one bucket per settled contract.
func (e *Engine) payOutstandingIOUs(ctx *ClearingContext, res *BlockResult) []IOUPayout {
	var out []IOUPayout
	for _, cres := range res.Contracts {
		assetID, ok := e.registry.GetCollateralID(cres.ContractID)
		if !ok {
			continue
		}
		payouts := e.ious.PayOutstanding(cres.ContractID, assetID, cres.PnLDelta, ctx.Block)
		for _, p := range payouts {
			e.balances.UpdateBalance(p.Address, assetID, p.Amount, 0, 0, ledger.ReasonIOUPayout, ctx.Block)
			out = append(out, IOUPayout{
				ContractID: cres.ContractID,
				AssetID:    assetID,
				Address:    p.Address,
				Amount:     p.Amount,
			})
		}
	}
	return out
}

package clearing

import (
	"github.com/google/uuid"

	"ClearLedger/internal/fixed"
	"ClearLedger/internal/ledger"
	"ClearLedger/internal/position"
)

// applyFunding settles the periodic funding transfer for every perpetual
// contract. Payers fund a pot pro-rata by exposure; the pot is distributed
// pro-rata by quantity to the receiving side. Collected and distributed
// totals always match, so funding never moves net supply.
func (e *Engine) applyFunding(block int64) []FundingEvent {
	var out []FundingEvent
	for _, id := range e.registry.GetAllPerpContracts() {
		ev, ok := e.fundContract(id, block)
		if !ok {
			continue
		}
		out = append(out, ev)
		if e.observer != nil {
			e.observer.FundingApplied(id, ev.HourlyBps)
		}
	}
	return out
}

func (e *Engine) fundContract(contractID string, block int64) (FundingEvent, bool) {
	info, ok := e.registry.GetContractInfo(contractID)
	if !ok {
		return FundingEvent{}, false
	}

	index, ok := e.prices.GetIndexPrice(contractID, block)
	if !ok || index == 0 {
		return FundingEvent{}, false
	}
	vwap, ok := e.prices.GetVWAP(contractID, block, FundingVWAPWindow)
	if !ok || vwap == 0 {
		return FundingEvent{}, false
	}

	premium := fixed.PremiumBps(index, vwap)
	hourly := fixed.HourlyFundingBps(fixed.ClampFundingBps(premium))
	if hourly == 0 {
		return FundingEvent{}, false
	}

	mark := e.lastMarks[contractID]
	if mark == 0 {
		mark = index
	}

	// hourly > 0: longs pay shorts; hourly < 0: shorts pay longs
	paySign := int64(1)
	rate := hourly
	if hourly < 0 {
		paySign = -1
		rate = -hourly
	}

	var payers, receivers []*position.Position
	var receiverQty int64
	for _, pos := range e.positions.GetAllPositions(contractID) {
		if pos.IsFlat() {
			continue
		}
		if fixed.Sign(pos.Contracts) == paySign {
			payers = append(payers, pos)
		} else {
			receivers = append(receivers, pos)
			receiverQty += pos.AbsContracts()
		}
	}
	if len(payers) == 0 || receiverQty == 0 {
		return FundingEvent{}, false
	}

	ev := FundingEvent{
		EventID:    uuid.New(),
		ContractID: contractID,
		Block:      block,
		PremiumBps: premium,
		HourlyBps:  hourly,
	}

	for _, pos := range payers {
		exposure := fixed.Abs(fixed.Notional(pos.Contracts, mark, info.NotionalValue, info.Inverse))
		payment := fixed.FundingPayment(exposure, rate)
		if payment <= 0 {
			continue
		}

		tally := e.balances.GetTally(pos.Address, info.CollateralAssetID)
		debit := payment
		reason := ledger.ReasonFunding
		if tally.Available < debit {
			debit = tally.Available
			reason = ledger.ReasonFundingBadDebt
			ev.BadDebt += payment - debit
		}
		if debit <= 0 {
			continue
		}
		e.balances.UpdateBalance(pos.Address, info.CollateralAssetID, -debit, 0, 0, reason, block)
		ev.Collected += debit
	}

	if ev.BadDebt > 0 {
		e.log.Warn().
			Str("contract", contractID).
			Int64("block", block).
			Int64("bad_debt", ev.BadDebt).
			Msg("funding collection short of obligation")
	}

	if ev.Collected > 0 {
		var distributed int64
		for i, pos := range receivers {
			var share int64
			if i == len(receivers)-1 {
				share = ev.Collected - distributed
			} else {
				share = fixed.MulDiv(ev.Collected, pos.AbsContracts(), receiverQty)
			}
			if share <= 0 {
				continue
			}
			e.balances.UpdateBalance(pos.Address, info.CollateralAssetID, share, 0, 0, ledger.ReasonFunding, block)
			distributed += share
		}
		ev.Distributed = distributed
	}

	return ev, true
}

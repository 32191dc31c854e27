package clearing

import (
	"fmt"

	"ClearLedger/internal/fixed"
	"ClearLedger/internal/ledger"
)

// verifyNetContracts enforces the zero-sum invariant: for every contract,
// signed quantities across all addresses must sum to exactly zero after
// clearing. A violated invariant is a consensus error; replicas must halt
// rather than replicate a divergent ledger.
func (e *Engine) verifyNetContracts(block int64) {
	for _, id := range e.positions.ContractIDs() {
		net := e.positions.NetContracts(id)
		if net == 0 {
			continue
		}
		if e.observer != nil {
			e.observer.InvariantViolation("net_contracts")
		}
		e.log.Error().
			Str("contract", id).
			Int64("block", block).
			Int64("net", net).
			Msg("net contracts invariant violated")
		panic(fmt.Sprintf(
			"FATAL: net contracts invariant violated: contract=%s block=%d net=%d",
			id, block, net,
		))
	}
}

// reconcileSupply checks, per asset, that tally balances plus the IOU net
// equal the recorded circulating supply. Drift within the dust tolerance
// is absorbed into the insurance fund and logged; anything larger halts.
func (e *Engine) reconcileSupply(block int64) {
	for _, assetID := range e.balances.Assets() {
		supply := e.balances.CirculatingSupply(assetID)
		if supply == 0 {
			continue
		}
		total := e.balances.SumBalances(assetID) + e.ious.NetAmount(assetID)
		diff := supply - total
		if diff == 0 {
			continue
		}

		if fixed.Abs(diff) <= supplyDustTolerance {
			e.balances.UpdateBalance(e.insurance.Address(), assetID, diff, 0, 0, ledger.ReasonDustAbsorb, block)
			e.log.Warn().
				Int64("block", block).
				Str("asset", ledger.AssetName(assetID)).
				Int64("dust", diff).
				Msg("supply reconciliation dust absorbed into insurance")
			continue
		}

		if e.observer != nil {
			e.observer.InvariantViolation("supply_reconciliation")
		}
		e.log.Error().
			Int64("block", block).
			Str("asset", ledger.AssetName(assetID)).
			Int64("supply", supply).
			Int64("total", total).
			Int64("diff", diff).
			Msg("token supply reconciliation mismatch")
		panic(fmt.Sprintf(
			"FATAL: supply reconciliation mismatch: asset=%s block=%d supply=%d total=%d diff=%d",
			ledger.AssetName(assetID), block, supply, total, diff,
		))
	}
}

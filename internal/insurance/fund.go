package insurance

import (
	"github.com/rs/zerolog"

	"ClearLedger/internal/ledger"
)

// Fund is the system-held collateral pool that absorbs systemic losses
// before they are socialized. Its balance lives in the tally ledger under
// the insurance system address; the fund itself holds no state beyond its
// collaborators.
type Fund struct {
	balances *ledger.TallyLedger
	assetID  ledger.AssetID
	log      zerolog.Logger
}

func NewFund(balances *ledger.TallyLedger, assetID ledger.AssetID, logger zerolog.Logger) *Fund {
	return &Fund{
		balances: balances,
		assetID:  assetID,
		log:      logger.With().Str("component", "insurance").Logger(),
	}
}

// Address returns the system address holding the fund's collateral.
func (f *Fund) Address() string {
	return ledger.InsuranceAddress
}

// Balance returns the fund's available collateral.
func (f *Fund) Balance() int64 {
	return f.balances.GetTally(ledger.InsuranceAddress, f.assetID).Available
}

// CalcPayout returns how much of a loss the fund can absorb at this block:
// the full loss when the balance allows, the whole balance otherwise.
func (f *Fund) CalcPayout(loss, block int64) int64 {
	if loss <= 0 {
		return 0
	}
	bal := f.Balance()
	if bal <= 0 {
		return 0
	}
	payout := loss
	if payout > bal {
		payout = bal
	}
	f.log.Debug().
		Int64("block", block).
		Int64("loss", loss).
		Int64("payout", payout).
		Int64("balance", bal).
		Msg("insurance payout computed")
	return payout
}

// Credit adds collateral to the fund, typically a fee share or an external
// top-up.
func (f *Fund) Credit(amount, block int64) {
	if amount <= 0 {
		return
	}
	f.balances.UpdateBalance(ledger.InsuranceAddress, f.assetID, amount, 0, 0, ledger.ReasonInsurance, block)
}

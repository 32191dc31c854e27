package contract

import (
	"fmt"

	"ClearLedger/internal/fixed"
	"ClearLedger/internal/ledger"
)

// Info describes a listed derivatives contract.
type Info struct {
	ContractID        string
	CollateralAssetID ledger.AssetID
	NotionalValue     int64 // fixed-point contract-size multiplier
	Inverse           bool
	Leverage          int64 // max leverage, whole units
	Perpetual         bool
	Native            bool
	Whitelisted       bool
}

// Registry is the in-memory contract metadata store. Contracts are settled
// in registration order, which every replica must share, so the order slice
// is part of consensus state.
type Registry struct {
	infos map[string]*Info
	order []string
}

func NewRegistry() *Registry {
	return &Registry{
		infos: make(map[string]*Info),
	}
}

// Register adds or replaces a contract definition.
func (r *Registry) Register(info *Info) error {
	if info.ContractID == "" {
		return fmt.Errorf("contract id is empty")
	}
	if info.Leverage <= 0 {
		return fmt.Errorf("contract %s: leverage must be > 0, got %d", info.ContractID, info.Leverage)
	}
	if info.NotionalValue <= 0 {
		return fmt.Errorf("contract %s: notional must be > 0, got %d", info.ContractID, info.NotionalValue)
	}

	if _, exists := r.infos[info.ContractID]; !exists {
		r.order = append(r.order, info.ContractID)
	}
	r.infos[info.ContractID] = info
	return nil
}

// GetContractInfo returns metadata for a contract.
func (r *Registry) GetContractInfo(contractID string) (*Info, bool) {
	info, ok := r.infos[contractID]
	return info, ok
}

// GetCollateralID returns the collateral asset for a contract.
func (r *Registry) GetCollateralID(contractID string) (ledger.AssetID, bool) {
	info, ok := r.infos[contractID]
	if !ok {
		return 0, false
	}
	return info.CollateralAssetID, true
}

// GetInitialMargin returns the initial margin required per contract at the
// given price: the per-contract notional exposure divided by max leverage.
func (r *Registry) GetInitialMargin(contractID string, price int64) (int64, error) {
	info, ok := r.infos[contractID]
	if !ok {
		return 0, fmt.Errorf("unknown contract: %s", contractID)
	}

	exposure := fixed.Notional(fixed.Scale, price, info.NotionalValue, info.Inverse)
	return exposure / info.Leverage, nil
}

// GetAllContracts returns every contract ID in registration order.
func (r *Registry) GetAllContracts() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// GetAllPerpContracts returns perpetual contract IDs in registration order.
func (r *Registry) GetAllPerpContracts() []string {
	out := make([]string, 0, len(r.order))
	for _, id := range r.order {
		if r.infos[id].Perpetual {
			out = append(out, id)
		}
	}
	return out
}

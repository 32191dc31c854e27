package projection

// LiquidationHistoryEntry is one liquidation, queryable by address.
type LiquidationHistoryEntry struct {
	Address         string
	ContractID      string
	BlockHeight     int64
	Kind            string
	LiqAmount       int64
	BankruptcyPrice int64
	SystemicLoss    int64
}

// FundingHistoryEntry is one funding round for a contract.
type FundingHistoryEntry struct {
	ContractID  string
	BlockHeight int64
	PremiumBps  int64
	HourlyBps   int64
	Collected   int64
	Distributed int64
	BadDebt     int64
}

// History is the in-memory settlement history projection backing the
// query API's recent-activity endpoints. Bounded: oldest entries are
// dropped past the cap.
type History struct {
	liquidations []LiquidationHistoryEntry
	funding      []FundingHistoryEntry
	cap          int
}

func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = 10_000
	}
	return &History{cap: capacity}
}

func (h *History) AddLiquidation(e LiquidationHistoryEntry) {
	h.liquidations = append(h.liquidations, e)
	if len(h.liquidations) > h.cap {
		h.liquidations = h.liquidations[len(h.liquidations)-h.cap:]
	}
}

func (h *History) AddFunding(e FundingHistoryEntry) {
	h.funding = append(h.funding, e)
	if len(h.funding) > h.cap {
		h.funding = h.funding[len(h.funding)-h.cap:]
	}
}

// LiquidationsByAddress returns the most recent liquidations for an
// address, newest first.
func (h *History) LiquidationsByAddress(address string, limit int) []LiquidationHistoryEntry {
	var out []LiquidationHistoryEntry
	for i := len(h.liquidations) - 1; i >= 0 && len(out) < limit; i-- {
		if h.liquidations[i].Address == address {
			out = append(out, h.liquidations[i])
		}
	}
	return out
}

// FundingByContract returns the most recent funding rounds for a
// contract, newest first.
func (h *History) FundingByContract(contractID string, limit int) []FundingHistoryEntry {
	var out []FundingHistoryEntry
	for i := len(h.funding) - 1; i >= 0 && len(out) < limit; i-- {
		if h.funding[i].ContractID == contractID {
			out = append(out, h.funding[i])
		}
	}
	return out
}

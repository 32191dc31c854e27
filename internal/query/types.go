package query

// PositionResponse is a position for API queries.
type PositionResponse struct {
	Address      string `json:"address"`
	ContractID   string `json:"contract_id"`
	Contracts    int64  `json:"contracts"`
	AvgPrice     int64  `json:"avg_price"`
	Margin       int64  `json:"margin"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

// LiquidationResponse is one executed liquidation.
type LiquidationResponse struct {
	EventID         string `json:"event_id"`
	Address         string `json:"address"`
	ContractID      string `json:"contract_id"`
	BlockHeight     int64  `json:"block_height"`
	Kind            string `json:"kind"`
	LiqAmount       int64  `json:"liq_amount"`
	BookFilled      int64  `json:"book_filled"`
	ADLSize         int64  `json:"adl_size"`
	BankruptcyPrice int64  `json:"bankruptcy_price"`
	Seized          int64  `json:"seized"`
	SystemicLoss    int64  `json:"systemic_loss"`
}

// FundingRoundResponse is one funding round for a contract.
type FundingRoundResponse struct {
	EventID     string `json:"event_id"`
	ContractID  string `json:"contract_id"`
	BlockHeight int64  `json:"block_height"`
	PremiumBps  int64  `json:"premium_bps"`
	HourlyBps   int64  `json:"hourly_bps"`
	Collected   int64  `json:"collected"`
	Distributed int64  `json:"distributed"`
	BadDebt     int64  `json:"bad_debt"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy       bool             `json:"is_healthy"`
	HashChainBreaks []int64          `json:"hash_chain_breaks,omitempty"`
	UnbalancedBooks []UnbalancedBook `json:"unbalanced_books,omitempty"`
}

// UnbalancedBook is a contract whose projected net open interest is not
// zero: every long contract must be matched by a short.
type UnbalancedBook struct {
	ContractID   string `json:"contract_id"`
	NetContracts int64  `json:"net_contracts"`
}

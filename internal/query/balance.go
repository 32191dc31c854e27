package query

// BalanceResponse is an address's collateral tally for API queries.
type BalanceResponse struct {
	Address string `json:"address"`
	Asset   string `json:"asset"`

	Available int64 `json:"available"`
	Reserved  int64 `json:"reserved"`
	Margin    int64 `json:"margin"`
	Total     int64 `json:"total"`

	// AsOfSequence is the projection watermark at read time: the highest
	// settler sequence folded into the returned values.
	AsOfSequence int64 `json:"as_of_sequence"`
}

// BalanceHistoryEntry is one audit-trail mutation of an address's tally.
type BalanceHistoryEntry struct {
	DeltaID        string `json:"delta_id"`
	Sequence       int64  `json:"sequence"`
	AvailableDelta int64  `json:"available_delta"`
	ReservedDelta  int64  `json:"reserved_delta"`
	MarginDelta    int64  `json:"margin_delta"`
	NewAvailable   int64  `json:"new_available"`
	NewReserved    int64  `json:"new_reserved"`
	NewMargin      int64  `json:"new_margin"`
	Reason         string `json:"reason"`
	BlockHeight    int64  `json:"block_height"`
}

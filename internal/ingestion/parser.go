package ingestion

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"ClearLedger/internal/event"
)

// ParseRawEvent converts a RawEvent (JSON bytes + event type string) into a
// typed event.Event. The ingestion shell validates, parses, and converts
// raw events before sending to the deterministic settler.
func ParseRawEvent(raw RawEvent, eventType string) (event.Event, error) {
	switch eventType {
	case "TradeFill":
		return parseTradeFill(raw.Data)
	case "MarkPriceUpdate":
		return parseMarkPriceUpdate(raw.Data)
	case "BlockCommit":
		return parseBlockCommit(raw.Data)
	case "MarginAllocate":
		return parseMarginAllocate(raw.Data)
	case "MarginRelease":
		return parseMarginRelease(raw.Data)
	case "ContractParamUpdate":
		return parseContractParamUpdate(raw.Data)
	case "BookDepthSnapshot":
		return parseBookDepthSnapshot(raw.Data)
	default:
		return nil, fmt.Errorf("unknown event type: %s", eventType)
	}
}

// --- JSON wire formats ---
// These structs represent the JSON payloads received from NATS.
// Field names use snake_case to match upstream producers.

type tradeFillJSON struct {
	FillID       string `json:"fill_id"`
	Contract     string `json:"contract"`
	Buyer        string `json:"buyer"`
	Seller       string `json:"seller"`
	Quantity     int64  `json:"quantity"`
	Price        int64  `json:"price"`
	Fee          int64  `json:"fee"`
	BlockHeight  int64  `json:"block_height"`
	FillSequence int64  `json:"fill_sequence"`
	TimestampUs  int64  `json:"timestamp_us"`
}

func parseTradeFill(data []byte) (*event.TradeFill, error) {
	var j tradeFillJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse TradeFill: %w", err)
	}

	fillID, err := uuid.Parse(j.FillID)
	if err != nil {
		return nil, fmt.Errorf("parse fill_id: %w", err)
	}
	if j.Contract == "" {
		return nil, fmt.Errorf("TradeFill missing contract")
	}
	if j.Buyer == "" || j.Seller == "" {
		return nil, fmt.Errorf("TradeFill missing party address")
	}
	if j.Quantity <= 0 {
		return nil, fmt.Errorf("TradeFill quantity must be positive, got %d", j.Quantity)
	}
	if j.Price <= 0 {
		return nil, fmt.Errorf("TradeFill price must be positive, got %d", j.Price)
	}

	return &event.TradeFill{
		FillID:       fillID,
		Contract:     j.Contract,
		Buyer:        j.Buyer,
		Seller:       j.Seller,
		Quantity:     j.Quantity,
		Price:        j.Price,
		Fee:          j.Fee,
		BlockHeight:  j.BlockHeight,
		FillSequence: j.FillSequence,
		Timestamp:    time.UnixMicro(j.TimestampUs),
	}, nil
}

type markPriceJSON struct {
	Contract      string `json:"contract"`
	MarkPrice     int64  `json:"mark_price"`
	IndexPrice    int64  `json:"index_price"`
	BlockHeight   int64  `json:"block_height"`
	PriceSequence int64  `json:"price_sequence"`
	TimestampUs   int64  `json:"timestamp_us"`
}

func parseMarkPriceUpdate(data []byte) (*event.MarkPriceUpdate, error) {
	var j markPriceJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse MarkPriceUpdate: %w", err)
	}
	if j.Contract == "" {
		return nil, fmt.Errorf("MarkPriceUpdate missing contract")
	}
	if j.MarkPrice <= 0 {
		return nil, fmt.Errorf("MarkPriceUpdate price must be positive, got %d", j.MarkPrice)
	}

	return &event.MarkPriceUpdate{
		Contract:       j.Contract,
		MarkPrice:      j.MarkPrice,
		IndexPrice:     j.IndexPrice,
		BlockHeight:    j.BlockHeight,
		PriceSequence:  j.PriceSequence,
		PriceTimestamp: j.TimestampUs,
	}, nil
}

type blockCommitJSON struct {
	Height      int64 `json:"height"`
	TradeCount  int64 `json:"trade_count"`
	TimestampUs int64 `json:"timestamp_us"`
}

func parseBlockCommit(data []byte) (*event.BlockCommit, error) {
	var j blockCommitJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse BlockCommit: %w", err)
	}
	if j.Height < 0 {
		return nil, fmt.Errorf("BlockCommit height must be non-negative, got %d", j.Height)
	}

	return &event.BlockCommit{
		Height:     j.Height,
		TradeCount: j.TradeCount,
		Timestamp:  time.UnixMicro(j.TimestampUs),
	}, nil
}

type marginTransferJSON struct {
	TransferID  string `json:"transfer_id"`
	Address     string `json:"address"`
	Contract    string `json:"contract"`
	Amount      int64  `json:"amount"`
	BlockHeight int64  `json:"block_height"`
	Sequence    int64  `json:"sequence"`
}

func parseMarginAllocate(data []byte) (*event.MarginAllocate, error) {
	j, err := parseMarginTransfer(data, "MarginAllocate")
	if err != nil {
		return nil, err
	}
	transferID, err := uuid.Parse(j.TransferID)
	if err != nil {
		return nil, fmt.Errorf("parse transfer_id: %w", err)
	}
	return &event.MarginAllocate{
		TransferID:  transferID,
		Address:     j.Address,
		Contract:    j.Contract,
		Amount:      j.Amount,
		BlockHeight: j.BlockHeight,
		Sequence:    j.Sequence,
	}, nil
}

func parseMarginRelease(data []byte) (*event.MarginRelease, error) {
	j, err := parseMarginTransfer(data, "MarginRelease")
	if err != nil {
		return nil, err
	}
	transferID, err := uuid.Parse(j.TransferID)
	if err != nil {
		return nil, fmt.Errorf("parse transfer_id: %w", err)
	}
	return &event.MarginRelease{
		TransferID:  transferID,
		Address:     j.Address,
		Contract:    j.Contract,
		Amount:      j.Amount,
		BlockHeight: j.BlockHeight,
		Sequence:    j.Sequence,
	}, nil
}

func parseMarginTransfer(data []byte, kind string) (*marginTransferJSON, error) {
	var j marginTransferJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse %s: %w", kind, err)
	}
	if j.Address == "" {
		return nil, fmt.Errorf("%s missing address", kind)
	}
	if j.Contract == "" {
		return nil, fmt.Errorf("%s missing contract", kind)
	}
	if j.Amount <= 0 {
		return nil, fmt.Errorf("%s amount must be positive, got %d", kind, j.Amount)
	}
	return &j, nil
}

type contractParamJSON struct {
	Contract        string `json:"contract"`
	CollateralAsset string `json:"collateral_asset"`
	NotionalValue   int64  `json:"notional_value"`
	Leverage        int64  `json:"leverage"`
	Inverse         bool   `json:"inverse"`
	Perpetual       bool   `json:"perpetual"`
	Whitelisted     bool   `json:"whitelisted"`
	Sequence        int64  `json:"sequence"`
}

func parseContractParamUpdate(data []byte) (*event.ContractParamUpdate, error) {
	var j contractParamJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse ContractParamUpdate: %w", err)
	}
	if j.Contract == "" {
		return nil, fmt.Errorf("ContractParamUpdate missing contract")
	}
	if j.CollateralAsset == "" {
		return nil, fmt.Errorf("ContractParamUpdate missing collateral_asset")
	}
	if j.NotionalValue <= 0 {
		return nil, fmt.Errorf("ContractParamUpdate notional_value must be positive, got %d", j.NotionalValue)
	}
	if j.Leverage <= 0 {
		return nil, fmt.Errorf("ContractParamUpdate leverage must be positive, got %d", j.Leverage)
	}

	return &event.ContractParamUpdate{
		Contract:        j.Contract,
		CollateralAsset: j.CollateralAsset,
		NotionalValue:   j.NotionalValue,
		Leverage:        j.Leverage,
		Inverse:         j.Inverse,
		Perpetual:       j.Perpetual,
		Whitelisted:     j.Whitelisted,
		Sequence:        j.Sequence,
	}, nil
}

type priceLevelJSON struct {
	Address  string `json:"address"`
	Price    int64  `json:"price"`
	Quantity int64  `json:"quantity"`
}

type bookDepthJSON struct {
	Contract    string           `json:"contract"`
	Bids        []priceLevelJSON `json:"bids"`
	Asks        []priceLevelJSON `json:"asks"`
	BlockHeight int64            `json:"block_height"`
	Sequence    int64            `json:"sequence"`
}

func parseBookDepthSnapshot(data []byte) (*event.BookDepthSnapshot, error) {
	var j bookDepthJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse BookDepthSnapshot: %w", err)
	}
	if j.Contract == "" {
		return nil, fmt.Errorf("BookDepthSnapshot missing contract")
	}

	convert := func(in []priceLevelJSON, side string) ([]event.PriceLevel, error) {
		out := make([]event.PriceLevel, 0, len(in))
		for _, lvl := range in {
			if lvl.Price <= 0 || lvl.Quantity <= 0 {
				return nil, fmt.Errorf("BookDepthSnapshot invalid %s level: price=%d quantity=%d", side, lvl.Price, lvl.Quantity)
			}
			out = append(out, event.PriceLevel{
				Address:  lvl.Address,
				Price:    lvl.Price,
				Quantity: lvl.Quantity,
			})
		}
		return out, nil
	}

	bids, err := convert(j.Bids, "bid")
	if err != nil {
		return nil, err
	}
	asks, err := convert(j.Asks, "ask")
	if err != nil {
		return nil, err
	}

	return &event.BookDepthSnapshot{
		Contract:    j.Contract,
		Bids:        bids,
		Asks:        asks,
		BlockHeight: j.BlockHeight,
		Sequence:    j.Sequence,
	}, nil
}

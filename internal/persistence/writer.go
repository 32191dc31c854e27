package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// EventLogWriter writes the settlement event log and audit deltas to
// Postgres using multi-row INSERTs. All writes are idempotent: replayed
// batches hit ON CONFLICT DO NOTHING on their natural keys.
type EventLogWriter struct {
	db *sql.DB
}

// EventRow is a row in settlement.events.
type EventRow struct {
	Sequence       int64
	EventType      string
	IdempotencyKey string
	ContractID     *string
	BlockHeight    int64
	Payload        []byte
	StateHash      []byte
	PrevHash       []byte
	Timestamp      time.Time
	SourceSequence int64
}

// BalanceDeltaRow is a row in settlement.balance_deltas.
type BalanceDeltaRow struct {
	DeltaID        string
	Sequence       int64
	Address        string
	AssetID        uint16
	AvailableDelta int64
	ReservedDelta  int64
	MarginDelta    int64
	NewAvailable   int64
	NewReserved    int64
	NewMargin      int64
	Reason         string
	BlockHeight    int64
}

// PositionDeltaRow is a row in settlement.position_deltas.
type PositionDeltaRow struct {
	DeltaID     string
	Sequence    int64
	Address     string
	ContractID  string
	Contracts   int64
	AvgPrice    int64
	Margin      int64
	Mode        string
	BlockHeight int64
}

// LiquidationRow is a row in settlement.liquidations.
type LiquidationRow struct {
	EventID         string
	ContractID      string
	Address         string
	BlockHeight     int64
	Kind            string
	LiqAmount       int64
	BookFilled      int64
	ADLSize         int64
	BankruptcyPrice int64
	Seized          int64
	SystemicLoss    int64
}

// FundingRow is a row in settlement.funding_rounds.
type FundingRow struct {
	EventID     string
	ContractID  string
	BlockHeight int64
	PremiumBps  int64
	HourlyBps   int64
	Collected   int64
	Distributed int64
	BadDebt     int64
}

func NewEventLogWriter(db *sql.DB) *EventLogWriter {
	return &EventLogWriter{db: db}
}

// WriteEventBatch inserts events into settlement.events.
func (w *EventLogWriter) WriteEventBatch(ctx context.Context, tx *sql.Tx, events []EventRow) error {
	if len(events) == 0 {
		return nil
	}

	query := `INSERT INTO settlement.events
		(sequence, event_type, idempotency_key, contract_id, block_height, payload, state_hash, prev_hash, timestamp, source_sequence)
		VALUES `

	values := make([]string, 0, len(events))
	args := make([]interface{}, 0, len(events)*10)
	for i, e := range events {
		values = append(values, placeholders(i*10, 10))
		args = append(args,
			e.Sequence, e.EventType, e.IdempotencyKey, e.ContractID, e.BlockHeight,
			e.Payload, e.StateHash, e.PrevHash, e.Timestamp, e.SourceSequence,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// WriteBalanceDeltaBatch inserts balance audit records.
func (w *EventLogWriter) WriteBalanceDeltaBatch(ctx context.Context, tx *sql.Tx, deltas []BalanceDeltaRow) error {
	if len(deltas) == 0 {
		return nil
	}

	query := `INSERT INTO settlement.balance_deltas
		(delta_id, sequence, address, asset_id, available_delta, reserved_delta, margin_delta,
		 new_available, new_reserved, new_margin, reason, block_height)
		VALUES `

	values := make([]string, 0, len(deltas))
	args := make([]interface{}, 0, len(deltas)*12)
	for i, d := range deltas {
		values = append(values, placeholders(i*12, 12))
		args = append(args,
			d.DeltaID, d.Sequence, d.Address, d.AssetID,
			d.AvailableDelta, d.ReservedDelta, d.MarginDelta,
			d.NewAvailable, d.NewReserved, d.NewMargin,
			d.Reason, d.BlockHeight,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (delta_id) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// WritePositionDeltaBatch inserts position audit records.
func (w *EventLogWriter) WritePositionDeltaBatch(ctx context.Context, tx *sql.Tx, deltas []PositionDeltaRow) error {
	if len(deltas) == 0 {
		return nil
	}

	query := `INSERT INTO settlement.position_deltas
		(delta_id, sequence, address, contract_id, contracts, avg_price, margin, mode, block_height)
		VALUES `

	values := make([]string, 0, len(deltas))
	args := make([]interface{}, 0, len(deltas)*9)
	for i, d := range deltas {
		values = append(values, placeholders(i*9, 9))
		args = append(args,
			d.DeltaID, d.Sequence, d.Address, d.ContractID,
			d.Contracts, d.AvgPrice, d.Margin, d.Mode, d.BlockHeight,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (delta_id) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// WriteLiquidationBatch inserts liquidation records.
func (w *EventLogWriter) WriteLiquidationBatch(ctx context.Context, tx *sql.Tx, rows []LiquidationRow) error {
	if len(rows) == 0 {
		return nil
	}

	query := `INSERT INTO settlement.liquidations
		(event_id, contract_id, address, block_height, kind, liq_amount, book_filled,
		 adl_size, bankruptcy_price, seized, systemic_loss)
		VALUES `

	values := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*11)
	for i, r := range rows {
		values = append(values, placeholders(i*11, 11))
		args = append(args,
			r.EventID, r.ContractID, r.Address, r.BlockHeight, r.Kind,
			r.LiqAmount, r.BookFilled, r.ADLSize, r.BankruptcyPrice,
			r.Seized, r.SystemicLoss,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (event_id) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// WriteFundingBatch inserts funding round records.
func (w *EventLogWriter) WriteFundingBatch(ctx context.Context, tx *sql.Tx, rows []FundingRow) error {
	if len(rows) == 0 {
		return nil
	}

	query := `INSERT INTO settlement.funding_rounds
		(event_id, contract_id, block_height, premium_bps, hourly_bps, collected, distributed, bad_debt)
		VALUES `

	values := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*8)
	for i, r := range rows {
		values = append(values, placeholders(i*8, 8))
		args = append(args,
			r.EventID, r.ContractID, r.BlockHeight, r.PremiumBps,
			r.HourlyBps, r.Collected, r.Distributed, r.BadDebt,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (event_id) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// placeholders renders "($n+1, $n+2, ...)" for one row of width cols.
func placeholders(base, cols int) string {
	parts := make([]string, cols)
	for i := 0; i < cols; i++ {
		parts[i] = fmt.Sprintf("$%d", base+i+1)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

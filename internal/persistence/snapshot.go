package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SnapshotManager creates and loads state snapshots for recovery. On warm
// restart the node loads the latest verified snapshot and replays events
// from snapshot.sequence+1 forward; on cold restart it replays everything.
type SnapshotManager struct {
	db *sql.DB
}

// SnapshotData is the full settler state at a point in time.
type SnapshotData struct {
	Sequence  int64  `json:"sequence"`
	LastBlock int64  `json:"last_block"`
	StateHash []byte `json:"state_hash"`

	Contracts []ContractSnapshot `json:"contracts"`
	Tallies   []TallySnapshot    `json:"tallies"`
	Supply    map[uint16]int64   `json:"supply"` // asset_id -> circulating
	Positions []PositionSnapshot `json:"positions"`
	IOUs      []IOUSnapshot      `json:"ious"`

	SequenceState   map[string]int64 `json:"sequence_state"`   // partition -> expected seq
	LastEventTime   int64            `json:"last_event_time"`  // unix micros, timestamp high-water mark
	IdempotencyKeys []string         `json:"idempotency_keys"` // recent keys for LRU warming

	CreatedAt time.Time `json:"created_at"`
}

// ContractSnapshot is one registered contract's parameters.
type ContractSnapshot struct {
	ContractID      string `json:"contract_id"`
	CollateralAsset uint16 `json:"collateral_asset"`
	NotionalValue   int64  `json:"notional_value"`
	Inverse         bool   `json:"inverse"`
	Leverage        int64  `json:"leverage"`
	Perpetual       bool   `json:"perpetual"`
	Native          bool   `json:"native"`
	Whitelisted     bool   `json:"whitelisted"`
}

// TallySnapshot is one address+asset balance record.
type TallySnapshot struct {
	Address   string `json:"address"`
	AssetID   uint16 `json:"asset_id"`
	Available int64  `json:"available"`
	Reserved  int64  `json:"reserved"`
	Margin    int64  `json:"margin"`
}

// PositionSnapshot is a serializable position.
type PositionSnapshot struct {
	Address     string `json:"address"`
	ContractID  string `json:"contract_id"`
	Contracts   int64  `json:"contracts"`
	AvgPrice    int64  `json:"avg_price"`
	Margin      int64  `json:"margin"`
	LastMark    int64  `json:"last_mark"`
	RealizedPnL int64  `json:"realized_pnl"`
	Version     int64  `json:"version"`
}

// IOUSnapshot is one contract+asset loss bucket with its open claims.
type IOUSnapshot struct {
	ContractID   string           `json:"contract_id"`
	AssetID      uint16           `json:"asset_id"`
	Amount       int64            `json:"amount"`
	BlockLosses  int64            `json:"block_losses"`
	BlockProfits int64            `json:"block_profits"`
	LastBlock    int64            `json:"last_block"`
	Claims       map[string]int64 `json:"claims"` // address -> outstanding
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// SaveSnapshot persists a snapshot. Snapshots are taken periodically and
// verified by replaying the event log forward from the snapshot sequence.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap *SnapshotData) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	snapshotID := uuid.New()
	formatVersion := int32(1) // v1: JSON-encoded SnapshotData

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO settlement.snapshots
			(snapshot_id, sequence, block_height, data, state_hash, format_version, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE, $8)
		ON CONFLICT (sequence) DO UPDATE SET data = $4, state_hash = $5, size_bytes = $7
	`, snapshotID, snap.Sequence, snap.LastBlock, data, snap.StateHash, formatVersion, len(data), snap.CreatedAt)

	return err
}

// LoadLatestSnapshot loads the most recent verified snapshot, or nil on a
// cold start.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*SnapshotData, error) {
	row := sm.db.QueryRowContext(ctx, `
		SELECT data FROM settlement.snapshots
		WHERE verified = TRUE
		ORDER BY sequence DESC
		LIMIT 1
	`)

	var data []byte
	if err := row.Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap SnapshotData
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// MarkVerified marks a snapshot as usable after an integrity check.
func (sm *SnapshotManager) MarkVerified(ctx context.Context, sequence int64) error {
	_, err := sm.db.ExecContext(ctx, `
		UPDATE settlement.snapshots SET verified = TRUE WHERE sequence = $1
	`, sequence)
	return err
}

// LoadEventsFrom pages events out of the log for replay.
func (sm *SnapshotManager) LoadEventsFrom(ctx context.Context, fromSequence int64, limit int) ([]EventRow, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT sequence, event_type, idempotency_key, contract_id, block_height,
		       payload, state_hash, prev_hash, timestamp, source_sequence
		FROM settlement.events
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventRow
	for rows.Next() {
		var e EventRow
		if err := rows.Scan(
			&e.Sequence, &e.EventType, &e.IdempotencyKey, &e.ContractID, &e.BlockHeight,
			&e.Payload, &e.StateHash, &e.PrevHash, &e.Timestamp, &e.SourceSequence,
		); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// GetLatestSequence returns the highest sequence in the event log.
func (sm *SnapshotManager) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := sm.db.QueryRowContext(ctx, `
		SELECT MAX(sequence) FROM settlement.events
	`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil
	}
	return seq.Int64, nil
}

// LoadRecentIdempotencyKeys returns composite dedup keys for the most
// recent events, newest first, for warming the settler's LRU.
func (sm *SnapshotManager) LoadRecentIdempotencyKeys(ctx context.Context, limit int) ([]string, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT event_type, idempotency_key
		FROM settlement.events
		ORDER BY sequence DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var eventType, key string
		if err := rows.Scan(&eventType, &key); err != nil {
			return nil, err
		}
		keys = append(keys, eventType+":"+key)
	}
	return keys, rows.Err()
}

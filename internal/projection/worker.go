package projection

import (
	"context"
	"database/sql"

	"github.com/rs/zerolog"
)

// Output carries the per-event state changes the projection worker folds
// into queryable tables. The orchestrator in cmd/clearledger bridges from
// core.SettlerOutput, which keeps this package out of an import cycle.
type Output struct {
	Sequence   int64
	EventType  string
	ContractID *string

	Balances  []BalanceUpdate
	Positions []PositionUpdate
}

// BalanceUpdate is the post-mutation tally for one address+asset.
type BalanceUpdate struct {
	Address   string
	AssetID   uint16
	Available int64
	Reserved  int64
	Margin    int64
}

// PositionUpdate is the post-mutation state for one position.
type PositionUpdate struct {
	Address    string
	ContractID string
	Contracts  int64
	AvgPrice   int64
	Margin     int64
}

// Worker folds settler outputs into the projections schema. Its input
// channel is fed with non-blocking sends: dropped updates are tolerated
// because projections carry post-state values and can always be rebuilt
// from the audit tables.
type Worker struct {
	db        *sql.DB
	inputChan <-chan Output
	log       zerolog.Logger
	lastSeq   int64
}

func NewWorker(db *sql.DB, inputChan <-chan Output, logger zerolog.Logger) *Worker {
	return &Worker{
		db:        db,
		inputChan: inputChan,
		log:       logger,
	}
}

// Run is the worker loop; blocks until ctx is cancelled or the channel
// closes.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case out, ok := <-w.inputChan:
			if !ok {
				return nil
			}

			if err := w.apply(ctx, out); err != nil {
				// Projections are eventually consistent; a failed update
				// is recovered by rebuild, not by stalling the stream.
				w.log.Warn().Err(err).Int64("sequence", out.Sequence).Msg("projection update failed")
			}
			w.lastSeq = out.Sequence
		}
	}
}

func (w *Worker) apply(ctx context.Context, out Output) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, b := range out.Balances {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.balances (address, asset_id, available, reserved, margin, last_sequence)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (address, asset_id) DO UPDATE SET
				available = $3, reserved = $4, margin = $5, last_sequence = $6
			WHERE projections.balances.last_sequence <= $6
		`, b.Address, b.AssetID, b.Available, b.Reserved, b.Margin, out.Sequence); err != nil {
			return err
		}
	}

	for _, p := range out.Positions {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.positions (contract_id, address, contracts, avg_price, margin, last_sequence)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (contract_id, address) DO UPDATE SET
				contracts = $3, avg_price = $4, margin = $5, last_sequence = $6
			WHERE projections.positions.last_sequence <= $6
		`, p.ContractID, p.Address, p.Contracts, p.AvgPrice, p.Margin, out.Sequence); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ('main', $1, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $1, updated_at = NOW()
	`, out.Sequence); err != nil {
		return err
	}

	return tx.Commit()
}

// Rebuild repopulates the projection tables from the audit trail: the
// latest delta row per key carries the authoritative post-state.
func Rebuild(ctx context.Context, db *sql.DB, logger zerolog.Logger) error {
	statements := []string{
		`TRUNCATE projections.balances`,
		`TRUNCATE projections.positions`,
		`DELETE FROM projections.watermark WHERE worker_id = 'main'`,

		`INSERT INTO projections.balances (address, asset_id, available, reserved, margin, last_sequence)
		 SELECT DISTINCT ON (address, asset_id)
			address, asset_id, new_available, new_reserved, new_margin, sequence
		 FROM settlement.balance_deltas
		 ORDER BY address, asset_id, sequence DESC`,

		`INSERT INTO projections.positions (contract_id, address, contracts, avg_price, margin, last_sequence)
		 SELECT DISTINCT ON (contract_id, address)
			contract_id, address, contracts, avg_price, margin, sequence
		 FROM settlement.position_deltas
		 ORDER BY contract_id, address, sequence DESC`,
	}

	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}

	logger.Info().Msg("projection rebuild complete")
	return nil
}

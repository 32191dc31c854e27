package query

import (
	"context"
	"database/sql"
	"fmt"

	"ClearLedger/internal/ledger"
)

// Service provides read-only access to the projection and audit tables.
// Queries are served over gRPC-Gateway HTTP/JSON; every response carries
// as_of_sequence so callers can reason about freshness.
type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// GetBalance returns an address's tally for one asset.
func (s *Service) GetBalance(ctx context.Context, address, asset string) (*BalanceResponse, error) {
	assetID, ok := ledger.GetAssetID(asset)
	if !ok {
		return nil, fmt.Errorf("unknown asset %q", asset)
	}

	resp := &BalanceResponse{Address: address, Asset: asset}

	err := s.db.QueryRowContext(ctx, `
		SELECT available, reserved, margin, last_sequence
		FROM projections.balances
		WHERE address = $1 AND asset_id = $2
	`, address, assetID).Scan(&resp.Available, &resp.Reserved, &resp.Margin, &resp.AsOfSequence)
	if err == sql.ErrNoRows {
		// Unknown address reads as zero at the current watermark.
		watermark, werr := s.getWatermark(ctx)
		if werr != nil {
			return nil, werr
		}
		resp.AsOfSequence = watermark
		return resp, nil
	}
	if err != nil {
		return nil, err
	}

	resp.Total = resp.Available + resp.Reserved + resp.Margin
	return resp, nil
}

// GetPositions returns an address's open positions across contracts.
func (s *Service) GetPositions(ctx context.Context, address string) ([]PositionResponse, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT contract_id, contracts, avg_price, margin, last_sequence
		FROM projections.positions
		WHERE address = $1 AND contracts != 0
		ORDER BY contract_id
	`, address)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []PositionResponse
	for rows.Next() {
		p := PositionResponse{Address: address}
		if err := rows.Scan(&p.ContractID, &p.Contracts, &p.AvgPrice, &p.Margin, &p.AsOfSequence); err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// GetLiquidations returns liquidations for an address, newest first, with
// cursor pagination on block height.
func (s *Service) GetLiquidations(
	ctx context.Context,
	address string,
	limit int,
	beforeBlock *int64,
) ([]LiquidationResponse, error) {
	query := `
		SELECT event_id, contract_id, block_height, kind, liq_amount, book_filled,
		       adl_size, bankruptcy_price, seized, systemic_loss
		FROM settlement.liquidations
		WHERE address = $1
	`
	args := []interface{}{address}
	argIdx := 2

	if beforeBlock != nil {
		query += fmt.Sprintf(" AND block_height < $%d", argIdx)
		args = append(args, *beforeBlock)
		argIdx++
	}

	query += fmt.Sprintf(" ORDER BY block_height DESC LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []LiquidationResponse
	for rows.Next() {
		r := LiquidationResponse{Address: address}
		if err := rows.Scan(
			&r.EventID, &r.ContractID, &r.BlockHeight, &r.Kind, &r.LiqAmount,
			&r.BookFilled, &r.ADLSize, &r.BankruptcyPrice, &r.Seized, &r.SystemicLoss,
		); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// GetFundingRounds returns funding rounds for a contract, newest first,
// with cursor pagination on block height.
func (s *Service) GetFundingRounds(
	ctx context.Context,
	contractID string,
	limit int,
	beforeBlock *int64,
) ([]FundingRoundResponse, error) {
	query := `
		SELECT event_id, block_height, premium_bps, hourly_bps, collected, distributed, bad_debt
		FROM settlement.funding_rounds
		WHERE contract_id = $1
	`
	args := []interface{}{contractID}
	argIdx := 2

	if beforeBlock != nil {
		query += fmt.Sprintf(" AND block_height < $%d", argIdx)
		args = append(args, *beforeBlock)
		argIdx++
	}

	query += fmt.Sprintf(" ORDER BY block_height DESC LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []FundingRoundResponse
	for rows.Next() {
		r := FundingRoundResponse{ContractID: contractID}
		if err := rows.Scan(
			&r.EventID, &r.BlockHeight, &r.PremiumBps, &r.HourlyBps,
			&r.Collected, &r.Distributed, &r.BadDebt,
		); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// GetBalanceHistory returns an address's tally audit trail, newest first,
// with cursor pagination on sequence.
func (s *Service) GetBalanceHistory(
	ctx context.Context,
	address, asset string,
	limit int,
	beforeSequence *int64,
) ([]BalanceHistoryEntry, error) {
	assetID, ok := ledger.GetAssetID(asset)
	if !ok {
		return nil, fmt.Errorf("unknown asset %q", asset)
	}

	query := `
		SELECT delta_id, sequence, available_delta, reserved_delta, margin_delta,
		       new_available, new_reserved, new_margin, reason, block_height
		FROM settlement.balance_deltas
		WHERE address = $1 AND asset_id = $2
	`
	args := []interface{}{address, assetID}
	argIdx := 3

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += fmt.Sprintf(" ORDER BY sequence DESC LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []BalanceHistoryEntry
	for rows.Next() {
		var e BalanceHistoryEntry
		if err := rows.Scan(
			&e.DeltaID, &e.Sequence, &e.AvailableDelta, &e.ReservedDelta, &e.MarginDelta,
			&e.NewAvailable, &e.NewReserved, &e.NewMargin, &e.Reason, &e.BlockHeight,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity checks hash chain continuity in the event log and that
// projected open interest nets to zero per contract.
func (s *Service) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	rows, err := s.db.QueryContext(ctx, `
		SELECT e1.sequence
		FROM settlement.events e1
		JOIN settlement.events e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.prev_hash != e2.state_hash
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	netRows, err := s.db.QueryContext(ctx, `
		SELECT contract_id, SUM(contracts) AS net
		FROM projections.positions
		GROUP BY contract_id
		HAVING SUM(contracts) != 0
	`)
	if err != nil {
		return nil, err
	}
	defer netRows.Close()

	for netRows.Next() {
		var b UnbalancedBook
		if err := netRows.Scan(&b.ContractID, &b.NetContracts); err != nil {
			return nil, err
		}
		report.UnbalancedBooks = append(report.UnbalancedBooks, b)
	}
	if err := netRows.Err(); err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && len(report.UnbalancedBooks) == 0
	return report, nil
}

// --- helpers ---

func (s *Service) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(last_sequence, 0) FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return seq, err
}

package persistence

import (
	"context"
	"database/sql"
	"time"

	"github.com/rs/zerolog"

	"ClearLedger/internal/observability"
)

// Output mirrors core.SettlerOutput flattened into rows. The orchestrator
// in cmd/clearledger bridges the two, which keeps this package free of an
// import cycle with core.
type Output struct {
	Event          EventRow
	BalanceDeltas  []BalanceDeltaRow
	PositionDeltas []PositionDeltaRow
	Liquidations   []LiquidationRow
	FundingRounds  []FundingRow
}

// Worker drains the persist channel and batch-writes to Postgres. The
// settler sends on this channel with a blocking send, so when the worker
// falls behind the settler stalls rather than lose a durable record.
type Worker struct {
	writer       *EventLogWriter
	db           *sql.DB
	inputChan    <-chan Output
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
	log          zerolog.Logger
}

func NewWorker(
	db *sql.DB,
	inputChan <-chan Output,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Worker {
	return &Worker{
		writer:       NewEventLogWriter(db),
		db:           db,
		inputChan:    inputChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
		log:          logger,
	}
}

// Run is the worker loop: batch until full or the flush timer fires, then
// write everything in one transaction. Blocks until ctx is cancelled or
// the input channel closes.
func (w *Worker) Run(ctx context.Context) error {
	var batch []Output

	timer := time.NewTimer(w.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if len(batch) > 0 {
				if err := w.flush(context.Background(), batch); err != nil {
					w.log.Error().Err(err).Msg("final flush failed")
				}
			}
			return ctx.Err()

		case out, ok := <-w.inputChan:
			if !ok {
				if len(batch) > 0 {
					if err := w.flush(context.Background(), batch); err != nil {
						w.log.Error().Err(err).Msg("final flush failed")
					}
				}
				return nil
			}

			batch = append(batch, out)
			if len(batch) >= w.batchSize {
				w.flushWithRetry(ctx, batch)
				batch = batch[:0]
				timer.Reset(w.flushTimeout)
			}

		case <-timer.C:
			if len(batch) > 0 {
				w.flushWithRetry(ctx, batch)
				batch = batch[:0]
			}
			timer.Reset(w.flushTimeout)
		}
	}
}

// flushWithRetry retries with exponential backoff. The worker never drops
// a batch: it retries until the write succeeds or the context is
// cancelled, and even then attempts one final write.
func (w *Worker) flushWithRetry(ctx context.Context, batch []Output) {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			w.log.Warn().
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Int("events", len(batch)).
				Msg("persistence retry")

			select {
			case <-ctx.Done():
				if err := w.flush(context.Background(), batch); err != nil {
					w.log.Error().Err(err).Msg("final flush on shutdown failed")
				}
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			if w.metrics != nil {
				w.metrics.PersistRetry.Inc()
			}
		}

		if err := w.flush(ctx, batch); err == nil {
			if attempt > 0 {
				w.log.Info().Int("attempts", attempt).Msg("persistence flush recovered")
			}
			return
		}
	}
}

func (w *Worker) flush(ctx context.Context, batch []Output) error {
	events := make([]EventRow, 0, len(batch))
	var balDeltas []BalanceDeltaRow
	var posDeltas []PositionDeltaRow
	var liqs []LiquidationRow
	var funding []FundingRow

	for _, out := range batch {
		events = append(events, out.Event)
		balDeltas = append(balDeltas, out.BalanceDeltas...)
		posDeltas = append(posDeltas, out.PositionDeltas...)
		liqs = append(liqs, out.Liquidations...)
		funding = append(funding, out.FundingRounds...)
	}

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		w.persistError("tx_begin")
		return err
	}
	defer tx.Rollback()

	if err := w.writer.WriteEventBatch(ctx, tx, events); err != nil {
		w.persistError("events")
		return err
	}
	if err := w.writer.WriteBalanceDeltaBatch(ctx, tx, balDeltas); err != nil {
		w.persistError("balance_deltas")
		return err
	}
	if err := w.writer.WritePositionDeltaBatch(ctx, tx, posDeltas); err != nil {
		w.persistError("position_deltas")
		return err
	}
	if err := w.writer.WriteLiquidationBatch(ctx, tx, liqs); err != nil {
		w.persistError("liquidations")
		return err
	}
	if err := w.writer.WriteFundingBatch(ctx, tx, funding); err != nil {
		w.persistError("funding_rounds")
		return err
	}

	if err := tx.Commit(); err != nil {
		w.persistError("tx_commit")
		return err
	}

	if w.metrics != nil {
		w.metrics.PersistBatchSize.Observe(float64(len(events)))
		w.metrics.PersistEventsWritten.Add(float64(len(events)))
		if len(events) > 0 {
			w.metrics.PersistLastSequence.Set(float64(events[len(events)-1].Sequence))
		}
	}
	return nil
}

func (w *Worker) persistError(table string) {
	if w.metrics != nil {
		w.metrics.PersistErrors.WithLabelValues(table).Inc()
	}
}

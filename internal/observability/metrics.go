package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics exposed by the settlement node.
type Metrics struct {
	// --- Event pipeline ---
	EventsApplied  *prometheus.CounterVec
	EventsRejected *prometheus.CounterVec
	EventDuration  *prometheus.HistogramVec
	StateHashDur   prometheus.Histogram
	CoreSequence   prometheus.Gauge

	// --- Block settlement ---
	BlocksSettled     prometheus.Counter
	BlockSettleDur    prometheus.Histogram
	ContractsSettled  prometheus.Counter
	SystemicLoss      *prometheus.CounterVec
	InvariantFailures *prometheus.CounterVec

	// --- Liquidation & deleveraging ---
	Liquidations     *prometheus.CounterVec
	DeleverageFills  prometheus.Counter
	InsuranceBalance prometheus.Gauge

	// --- Funding ---
	FundingRounds  *prometheus.CounterVec
	FundingRateBps *prometheus.GaugeVec

	// --- Channel & backpressure ---
	ChannelSize         *prometheus.GaugeVec
	ChannelCapacity     *prometheus.GaugeVec
	ProjectionDrops     *prometheus.CounterVec
	PublishDrops        prometheus.Counter
	PersistBackpressure prometheus.Counter

	// --- Idempotency & ordering ---
	IdempotencyDuplicates *prometheus.CounterVec
	DedupLRUSize          prometheus.Gauge
	SequenceGaps          *prometheus.CounterVec
	EventsOutOfOrder      *prometheus.CounterVec

	// --- Persistence ---
	PersistEventsWritten prometheus.Counter
	PersistBatchSize     prometheus.Histogram
	PersistErrors        *prometheus.CounterVec
	PersistRetry         prometheus.Counter
	PersistLastSequence  prometheus.Gauge

	// --- Snapshot & replay ---
	SnapshotTaken     prometheus.Counter
	SnapshotDuration  prometheus.Histogram
	SnapshotLastSeq   prometheus.Gauge
	ReplayEventsTotal prometheus.Counter

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	QueryErrors   *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	settleBuckets := []float64{
		0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005,
		0.01, 0.025, 0.05, 0.1, 0.25,
	}

	return &Metrics{
		EventsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "clear_events_applied_total",
			Help: "Events successfully applied by the settler",
		}, []string{"event_type"}),

		EventsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "clear_events_rejected_total",
			Help: "Events rejected (dedup, gap, validation)",
		}, []string{"event_type", "reason"}),

		EventDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "clear_event_apply_duration_seconds",
			Help:    "Time to apply a single event",
			Buckets: latencyBuckets,
		}, []string{"event_type"}),

		StateHashDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "clear_state_hash_duration_seconds",
			Help:    "Time to compute the state hash",
			Buckets: latencyBuckets,
		}),

		CoreSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "clear_core_sequence",
			Help: "Last applied core sequence number",
		}),

		BlocksSettled: promauto.NewCounter(prometheus.CounterOpts{
			Name: "clear_blocks_settled_total",
			Help: "Blocks fully settled",
		}),

		BlockSettleDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "clear_block_settle_duration_seconds",
			Help:    "Wall time per block settlement",
			Buckets: settleBuckets,
		}),

		ContractsSettled: promauto.NewCounter(prometheus.CounterOpts{
			Name: "clear_contracts_settled_total",
			Help: "Per-contract settlement passes completed",
		}),

		SystemicLoss: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "clear_systemic_loss_total",
			Help: "Unrecovered losses socialized into the IOU bucket, in collateral units",
		}, []string{"contract"}),

		InvariantFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "clear_invariant_failures_total",
			Help: "Settlement invariant violations detected",
		}, []string{"invariant"}),

		Liquidations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "clear_liquidations_total",
			Help: "Liquidations executed",
		}, []string{"contract", "kind"}),

		DeleverageFills: promauto.NewCounter(prometheus.CounterOpts{
			Name: "clear_deleverage_fills_total",
			Help: "Counterparty positions closed by auto-deleveraging",
		}),

		InsuranceBalance: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "clear_insurance_balance",
			Help: "Insurance fund available balance",
		}),

		FundingRounds: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "clear_funding_rounds_total",
			Help: "Funding rounds applied",
		}, []string{"contract"}),

		FundingRateBps: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "clear_funding_rate_bps",
			Help: "Last hourly funding rate in basis points",
		}, []string{"contract"}),

		ChannelSize: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "clear_channel_size",
			Help: "Current channel occupancy",
		}, []string{"channel"}),

		ChannelCapacity: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "clear_channel_capacity",
			Help: "Channel capacity",
		}, []string{"channel"}),

		ProjectionDrops: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "clear_projection_drops_total",
			Help: "Projection updates dropped due to full channel",
		}, []string{"projection"}),

		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "clear_publish_drops_total",
			Help: "Outbound event publishes dropped",
		}),

		PersistBackpressure: promauto.NewCounter(prometheus.CounterOpts{
			Name: "clear_persist_backpressure_total",
			Help: "Times the settler blocked on the persist channel",
		}),

		IdempotencyDuplicates: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "clear_idempotency_duplicates_total",
			Help: "Duplicate events rejected",
		}, []string{"event_type", "tier"}),

		DedupLRUSize: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "clear_dedup_lru_size",
			Help: "Idempotency LRU entry count",
		}),

		SequenceGaps: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "clear_sequence_gaps_total",
			Help: "Source sequence gaps detected",
		}, []string{"partition"}),

		EventsOutOfOrder: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "clear_events_out_of_order_total",
			Help: "Out-of-order events rejected",
		}, []string{"partition"}),

		PersistEventsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "clear_persist_events_written_total",
			Help: "Events written to Postgres",
		}),

		PersistBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "clear_persist_batch_size",
			Help:    "Events per persistence batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "clear_persist_errors_total",
			Help: "Persistence write errors",
		}, []string{"table"}),

		PersistRetry: promauto.NewCounter(prometheus.CounterOpts{
			Name: "clear_persist_retries_total",
			Help: "Persistence batch retries",
		}),

		PersistLastSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "clear_persist_last_sequence",
			Help: "Highest sequence durably persisted",
		}),

		SnapshotTaken: promauto.NewCounter(prometheus.CounterOpts{
			Name: "clear_snapshots_taken_total",
			Help: "State snapshots written",
		}),

		SnapshotDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "clear_snapshot_duration_seconds",
			Help:    "Time to write a state snapshot",
			Buckets: settleBuckets,
		}),

		SnapshotLastSeq: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "clear_snapshot_last_sequence",
			Help: "Sequence of the latest snapshot",
		}),

		ReplayEventsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "clear_replay_events_total",
			Help: "Events replayed during recovery",
		}),

		QueryRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "clear_query_requests_total",
			Help: "Query API requests",
		}, []string{"endpoint"}),

		QueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "clear_query_duration_seconds",
			Help:    "Query API request duration",
			Buckets: settleBuckets,
		}, []string{"endpoint"}),

		QueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "clear_query_errors_total",
			Help: "Query API errors",
		}, []string{"endpoint"}),
	}
}

// SetChannelMetrics records occupancy for a named channel.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
}

// --- clearing.Observer implementation ---

func (m *Metrics) BlockSettled(block int64, contracts int, seconds float64) {
	m.BlocksSettled.Inc()
	m.BlockSettleDur.Observe(seconds)
	m.ContractsSettled.Add(float64(contracts))
}

func (m *Metrics) LiquidationRecorded(contractID, kind string) {
	m.Liquidations.WithLabelValues(contractID, kind).Inc()
}

func (m *Metrics) SystemicLossRecorded(contractID string, amount int64) {
	m.SystemicLoss.WithLabelValues(contractID).Add(float64(amount))
}

func (m *Metrics) FundingApplied(contractID string, hourlyBps int64) {
	m.FundingRounds.WithLabelValues(contractID).Inc()
	m.FundingRateBps.WithLabelValues(contractID).Set(float64(hourlyBps))
}

func (m *Metrics) InvariantViolation(name string) {
	m.InvariantFailures.WithLabelValues(name).Inc()
}

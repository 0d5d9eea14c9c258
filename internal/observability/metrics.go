package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for FundLedger.
type Metrics struct {
	// --- Hub processing ---
	HubOpsApplied  *prometheus.CounterVec
	HubOpsRejected *prometheus.CounterVec
	HubOpDuration  *prometheus.HistogramVec
	HubBatchSize   prometheus.Histogram
	HubRollbacks   prometheus.Counter

	// --- Epoch lifecycle ---
	EpochsApproved    *prometheus.CounterVec
	EpochsFulfilled   *prometheus.CounterVec
	ApprovedAmount    *prometheus.CounterVec
	ClaimsSettled     *prometheus.CounterVec
	ClaimEpochsWalked prometheus.Histogram

	// --- Delta queue ---
	QueueSubmissions  *prometheus.CounterVec
	QueueNonce        *prometheus.GaugeVec
	QueueDeltaFlips   *prometheus.CounterVec
	QueuePendingAssets prometheus.Gauge

	// --- Ingestion ---
	IngestReceived        *prometheus.CounterVec
	IngestToApply         *prometheus.HistogramVec
	IdempotencyDuplicates *prometheus.CounterVec
	DedupLRUSize          prometheus.Gauge
	DedupLRUEvictions     prometheus.Counter
	SequenceGap           *prometheus.CounterVec
	OutOfOrder            *prometheus.CounterVec
	PublishDrops          prometheus.Counter

	// --- Persistence ---
	PersistRowsWritten prometheus.Counter
	PersistBatchDur    prometheus.Histogram
	PersistBatchSize   prometheus.Histogram
	PersistErrors      *prometheus.CounterVec
	PersistRetry       prometheus.Counter
	PersistBackpressure prometheus.Counter

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

	ingestBuckets := []float64{
		0.00001, 0.000025, 0.00005, 0.0001, 0.00025,
		0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		HubOpsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fund_hub_ops_applied_total",
			Help: "Operations successfully applied by the hub",
		}, []string{"op"}),

		HubOpsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fund_hub_ops_rejected_total",
			Help: "Operations rejected (auth, validation, overflow)",
		}, []string{"op", "reason"}),

		HubOpDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fund_hub_op_duration_seconds",
			Help:    "Time to apply a single hub operation",
			Buckets: latencyBuckets,
		}, []string{"op"}),

		HubBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "fund_hub_batch_size",
			Help:    "Operations per atomic batch",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100},
		}),

		HubRollbacks: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fund_hub_rollbacks_total",
			Help: "Snapshot restores after a failed op or batch",
		}),

		EpochsApproved: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fund_epochs_approved_total",
			Help: "Epoch approvals",
		}, []string{"flow"}),

		EpochsFulfilled: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fund_epochs_fulfilled_total",
			Help: "Epochs issued or revoked",
		}, []string{"flow"}),

		ApprovedAmount: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fund_approved_amount_total",
			Help: "Amounts swept into approved epochs",
		}, []string{"flow"}),

		ClaimsSettled: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fund_claims_settled_total",
			Help: "Claim calls that settled at least one epoch",
		}, []string{"flow"}),

		ClaimEpochsWalked: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "fund_claim_epochs_walked",
			Help:    "Fulfilled epochs settled per claim call",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100},
		}),

		QueueSubmissions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fund_queue_submissions_total",
			Help: "Batched cross-network submissions",
		}, []string{"kind"}),

		QueueNonce: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fund_queue_nonce",
			Help: "Last submission nonce per share class",
		}, []string{"pool"}),

		QueueDeltaFlips: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fund_queue_delta_flips_total",
			Help: "Net share delta sign transitions",
		}, []string{"pool"}),

		QueuePendingAssets: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "fund_queue_pending_assets",
			Help: "Asset accumulators with queued movement",
		}),

		IngestReceived: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fund_ingest_received_total",
			Help: "Inbound messages received",
		}, []string{"kind"}),

		IngestToApply: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fund_ingest_to_apply_seconds",
			Help:    "NATS receive to hub apply complete",
			Buckets: ingestBuckets,
		}, []string{"kind"}),

		IdempotencyDuplicates: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fund_idempotency_duplicates_total",
			Help: "Duplicates caught (lru/postgres)",
		}, []string{"kind", "tier"}),

		DedupLRUSize: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "fund_dedup_lru_size",
			Help: "Current LRU occupancy",
		}),

		DedupLRUEvictions: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fund_dedup_lru_evictions_total",
			Help: "LRU evictions",
		}),

		SequenceGap: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fund_sequence_gap_total",
			Help: "Source sequence gaps per origin",
		}, []string{"origin"}),

		OutOfOrder: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fund_out_of_order_total",
			Help: "Out-of-order rejections per origin",
		}, []string{"origin"}),

		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fund_publish_drops_total",
			Help: "Outbound messages dropped due to full publish channel",
		}),

		PersistRowsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fund_persist_rows_written_total",
			Help: "Rows written to Postgres",
		}),

		PersistBatchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "fund_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		PersistBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "fund_persist_batch_size",
			Help:    "Rows per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fund_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistRetry: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fund_persist_retry_total",
			Help: "Persistence retries",
		}),

		PersistBackpressure: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fund_persist_backpressure_total",
			Help: "Times the hub blocked on the persist channel",
		}),

		QueryRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fund_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fund_query_duration_seconds",
			Help:    "Query latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),

		QueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fund_query_errors_total",
			Help: "Query errors",
		}, []string{"endpoint", "code"}),
	}
}

package telemetry

// PublishBuckets covers a single sink write, from an in-memory enqueue to a
// synchronous broker round trip
var PublishBuckets = []float64{0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1}

// Callback metrics; status is "success" or "failed"
var (
	UploadAccountsTotal     CounterVec = noopCounterVec{}
	UploadSlotsTotal        CounterVec = noopCounterVec{}
	UploadTransactionsTotal CounterVec = noopCounterVec{}

	// PublishDurationSeconds measures Publish latency by environment and kind
	PublishDurationSeconds HistogramVec = noopHistogramVec{}

	// SyntheticDeletionsTotal counts deletion events derived from balances
	SyntheticDeletionsTotal Counter = NoopStat{}
)

// Allow-list metrics
var (
	// AllowlistRefreshTotal counts remote refreshes by environment and result (success, failed)
	AllowlistRefreshTotal CounterVec = noopCounterVec{}

	// AllowlistSize tracks program count per environment
	AllowlistSize GaugeVec = noopGaugeVec{}
)

// Sink metrics, sampled by MetricsCollector
var (
	SinkMessagesTotal CounterVec = noopCounterVec{}
	SinkBytesTotal    CounterVec = noopCounterVec{}
	SinkErrorsTotal   CounterVec = noopCounterVec{}
)

// InitMetrics initializes all Prometheus metrics.
// Must be called after InitializeTelemetry().
func InitMetrics() {
	UploadAccountsTotal = NewCounterVec(
		"upload_accounts_total",
		"Account updates published by status",
		[]string{"status"},
	)
	UploadSlotsTotal = NewCounterVec(
		"upload_slots_total",
		"Slot status updates published by status",
		[]string{"status"},
	)
	UploadTransactionsTotal = NewCounterVec(
		"upload_transactions_total",
		"Transactions published by status",
		[]string{"status"},
	)
	PublishDurationSeconds = NewHistogramVec(
		"publish_duration_seconds",
		"Publish duration in seconds",
		[]string{"environment", "kind"},
		PublishBuckets,
	)
	SyntheticDeletionsTotal = NewCounter(
		"synthetic_deletions_total",
		"Deleted-account events synthesized from transaction balances",
	)

	AllowlistRefreshTotal = NewCounterVec(
		"allowlist_refresh_total",
		"Remote allowlist refreshes by environment and result",
		[]string{"environment", "result"},
	)
	AllowlistSize = NewGaugeVec(
		"allowlist_size",
		"Number of programs in the allowlist",
		[]string{"environment"},
	)

	SinkMessagesTotal = NewCounterVec(
		"sink_messages_total",
		"Messages written by the sink transport",
		[]string{"environment"},
	)
	SinkBytesTotal = NewCounterVec(
		"sink_bytes_total",
		"Bytes written by the sink transport",
		[]string{"environment"},
	)
	SinkErrorsTotal = NewCounterVec(
		"sink_errors_total",
		"Write errors reported by the sink transport",
		[]string{"environment"},
	)
}

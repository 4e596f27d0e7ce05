package telemetry

// Dispatch latency buckets: socket writes are sub-millisecond, push relay
// exchanges include network round trips and backoff waits.
var (
	SocketWriteBuckets  = []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1}
	RelayRequestBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}
)

// Intake metrics
var (
	// EventsIngestedTotal counts change events received from the feed
	EventsIngestedTotal Counter = NoopStat{}

	// BatchesTotal counts processed event batches by result (ok, failed)
	BatchesTotal CounterVec = noopCounterVec{}

	// BatchSize measures events per batch
	BatchSize Histogram = NoopStat{}
)

// Generator metrics
var (
	// NotificationsCreatedTotal counts persisted notifications by type
	NotificationsCreatedTotal CounterVec = noopCounterVec{}

	// EventsDiscardedTotal counts events dropped before rules ran
	// (reason: undelete, stale)
	EventsDiscardedTotal CounterVec = noopCounterVec{}
)

// Dispatch metrics
var (
	// MessagesTotal counts dispatched messages by channel and result
	// (channel: socket, push; result: sent, suppressed, stale, failed)
	MessagesTotal CounterVec = noopCounterVec{}

	// PushUnitsMergedTotal counts messages folded into an existing unit by
	// payload dedup
	PushUnitsMergedTotal Counter = NoopStat{}

	// RelayRequestsTotal counts relay HTTP exchanges by result
	// (success, rate_limited, transient, fatal)
	RelayRequestsTotal CounterVec = noopCounterVec{}

	// RelayRequestSeconds measures one relay group's full exchange,
	// retries included
	RelayRequestSeconds Histogram = NoopStat{}

	// StaleSubscriptionsTotal counts soft-deleted subscriptions by cause
	// (socket_gone, invalid_token)
	StaleSubscriptionsTotal CounterVec = noopCounterVec{}

	// OpenSockets tracks the current open-socket count
	OpenSockets Gauge = NoopStat{}

	// SocketWriteSeconds measures socket frame write latency
	SocketWriteSeconds Histogram = NoopStat{}
)

// InitMetrics initializes all Prometheus metrics.
// Must be called after InitializeTelemetry().
func InitMetrics() {
	EventsIngestedTotal = NewCounter(
		"events_ingested_total",
		"Change events received from the storage feed",
	)
	BatchesTotal = NewCounterVec(
		"batches_total",
		"Processed event batches by result",
		[]string{"result"},
	)
	BatchSize = NewHistogram(
		"batch_size",
		"Events per coalesced batch",
		[]float64{1, 2, 5, 10, 25, 50, 100, 250, 500},
	)

	NotificationsCreatedTotal = NewCounterVec(
		"notifications_created_total",
		"Persisted notifications by type",
		[]string{"type"},
	)
	EventsDiscardedTotal = NewCounterVec(
		"events_discarded_total",
		"Events dropped before rule evaluation",
		[]string{"reason"},
	)

	MessagesTotal = NewCounterVec(
		"messages_total",
		"Dispatched messages by channel and result",
		[]string{"channel", "result"},
	)
	PushUnitsMergedTotal = NewCounter(
		"push_units_merged_total",
		"Push messages folded into an existing unit by payload dedup",
	)
	RelayRequestsTotal = NewCounterVec(
		"relay_requests_total",
		"Push relay HTTP exchanges by result",
		[]string{"result"},
	)
	RelayRequestSeconds = NewHistogram(
		"relay_request_seconds",
		"Relay group exchange duration including retries",
		RelayRequestBuckets,
	)
	StaleSubscriptionsTotal = NewCounterVec(
		"stale_subscriptions_total",
		"Subscriptions soft-deleted for staleness",
		[]string{"cause"},
	)
	OpenSockets = NewGauge(
		"open_sockets",
		"Current open socket connections",
	)
	SocketWriteSeconds = NewHistogram(
		"socket_write_seconds",
		"Socket frame write latency",
		SocketWriteBuckets,
	)
}

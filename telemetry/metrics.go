package telemetry

// Histogram bucket definitions for different latency profiles
var (
	// CommandBuckets for line protocol commands served from memory
	CommandBuckets = []float64{0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1}

	// DeliveryBuckets for replica deliveries (dial + write + ack, with retries)
	DeliveryBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}
)

// Command Server Metrics
var (
	// CommandsTotal counts commands by name (put, get, ...) and result (ok, fenced, error)
	CommandsTotal CounterVec = noopCounterVec{}

	// CommandDurationSeconds measures command latency by name
	CommandDurationSeconds HistogramVec = noopHistogramVec{}

	// FencedWritesTotal counts writes rejected because this node does not lead the key's block
	FencedWritesTotal CounterVec = noopCounterVec{}

	// ProtocolErrorsTotal counts malformed or unknown command lines
	ProtocolErrorsTotal Counter = NoopStat{}

	// ActiveConnections tracks open line protocol connections
	ActiveConnections Gauge = NoopStat{}

	// StoreKeys tracks the number of keys held locally
	StoreKeys Gauge = NoopStat{}
)

// Cluster Metrics
var (
	// RingRebuildsTotal counts ring rebuilds by result (success, failed)
	RingRebuildsTotal CounterVec = noopCounterVec{}

	// RingLeaders tracks the number of leaders on the current ring
	RingLeaders Gauge = NoopStat{}

	// RingVirtualNodes tracks the number of positions on the current ring
	RingVirtualNodes Gauge = NoopStat{}

	// LeadershipAcquiredTotal counts successful leader elections won by this process
	LeadershipAcquiredTotal Counter = NoopStat{}

	// IsLeader is 1 while this process holds its block's leadership record
	IsLeader Gauge = NoopStat{}

	// WatchEventsTotal counts coordination watch events by watch (leadership, leaders) and type
	WatchEventsTotal CounterVec = noopCounterVec{}

	// CoordinationErrorsTotal counts failed coordination calls by operation
	CoordinationErrorsTotal CounterVec = noopCounterVec{}
)

// Replication Metrics
var (
	// ReplicationAttemptsTotal counts delivery attempts by result (success, failed)
	ReplicationAttemptsTotal CounterVec = noopCounterVec{}

	// ReplicationDroppedTotal counts commands dropped after exhausting retries or on a full queue
	ReplicationDroppedTotal CounterVec = noopCounterVec{}

	// ReplicationDeliverySeconds measures time from enqueue to final outcome
	ReplicationDeliverySeconds Histogram = NoopStat{}

	// ReplicationQueueDepth tracks queued commands per replica
	ReplicationQueueDepth GaugeVec = noopGaugeVec{}
)

// Change Feed Metrics
var (
	// ChangeEventsTotal counts mutations appended to the publish log by origin (client, replicated)
	ChangeEventsTotal CounterVec = noopCounterVec{}

	// PublishTotal counts sink publishes by sink and result
	PublishTotal CounterVec = noopCounterVec{}
)

// InitMetrics initializes all Prometheus metrics.
// Must be called after InitializeTelemetry().
func InitMetrics() {
	// Command Server Metrics
	CommandsTotal = NewCounterVec(
		"commands_total",
		"Commands by name and result",
		[]string{"command", "result"},
	)
	CommandDurationSeconds = NewHistogramVec(
		"command_duration_seconds",
		"Command duration in seconds",
		[]string{"command"},
		CommandBuckets,
	)
	FencedWritesTotal = NewCounterVec(
		"fenced_writes_total",
		"Writes rejected by leader fencing",
		[]string{"reason"},
	)
	ProtocolErrorsTotal = NewCounter(
		"protocol_errors_total",
		"Malformed or unknown command lines",
	)
	ActiveConnections = NewGauge(
		"active_connections",
		"Number of open command connections",
	)
	StoreKeys = NewGauge(
		"store_keys",
		"Number of keys held in the local store",
	)

	// Cluster Metrics
	RingRebuildsTotal = NewCounterVec(
		"ring_rebuilds_total",
		"Hash ring rebuilds by result",
		[]string{"result"},
	)
	RingLeaders = NewGauge(
		"ring_leaders",
		"Leaders on the current hash ring",
	)
	RingVirtualNodes = NewGauge(
		"ring_virtual_nodes",
		"Positions on the current hash ring",
	)
	LeadershipAcquiredTotal = NewCounter(
		"leadership_acquired_total",
		"Leader elections won by this process",
	)
	IsLeader = NewGauge(
		"is_leader",
		"Whether this process leads its block (1=yes, 0=no)",
	)
	WatchEventsTotal = NewCounterVec(
		"watch_events_total",
		"Coordination watch events by watch and type",
		[]string{"watch", "type"},
	)
	CoordinationErrorsTotal = NewCounterVec(
		"coordination_errors_total",
		"Failed coordination calls by operation",
		[]string{"op"},
	)

	// Replication Metrics
	ReplicationAttemptsTotal = NewCounterVec(
		"replication_attempts_total",
		"Replica delivery attempts by result",
		[]string{"result"},
	)
	ReplicationDroppedTotal = NewCounterVec(
		"replication_dropped_total",
		"Replicated commands dropped by reason",
		[]string{"reason"},
	)
	ReplicationDeliverySeconds = NewHistogramWithBuckets(
		"replication_delivery_seconds",
		"Time from enqueue to final delivery outcome in seconds",
		DeliveryBuckets,
	)
	ReplicationQueueDepth = NewGaugeVec(
		"replication_queue_depth",
		"Queued commands per replica",
		[]string{"replica"},
	)

	// Change Feed Metrics
	ChangeEventsTotal = NewCounterVec(
		"change_events_total",
		"Mutations appended to the publish log by origin",
		[]string{"origin"},
	)
	PublishTotal = NewCounterVec(
		"publish_total",
		"Change feed publishes by sink and result",
		[]string{"sink", "result"},
	)
}

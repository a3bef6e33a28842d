package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TasksDelegated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supervisor_tasks_delegated_total",
			Help: "Total number of tasks delegated",
		},
		[]string{"priority"},
	)

	TasksCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supervisor_tasks_completed_total",
			Help: "Total number of tasks reaching a terminal state",
		},
		[]string{"status"},
	)

	TaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "supervisor_task_duration_seconds",
			Help:    "Task execution duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 20),
		},
		[]string{"priority"},
	)

	TaskRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "supervisor_task_retries_total",
			Help: "Total number of retry() calls",
		},
	)

	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "supervisor_queue_depth",
			Help: "Current number of tasks waiting in the priority queue",
		},
		[]string{"priority"},
	)

	TasksBlocked = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "supervisor_tasks_blocked",
			Help: "Current number of tasks blocked on unresolved dependencies",
		},
	)

	ActiveWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "supervisor_active_workers",
			Help: "Current number of live worker subprocesses",
		},
	)

	WorkerSpawns = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "supervisor_worker_spawns_total",
			Help: "Total number of successful worker spawns",
		},
	)

	WorkerSpawnFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "supervisor_worker_spawn_failures_total",
			Help: "Total number of failed worker spawn attempts",
		},
	)

	WorkerKills = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supervisor_worker_kills_total",
			Help: "Total number of worker kills by escalation level",
		},
		[]string{"signal"},
	)

	SpawnGateDenied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supervisor_spawn_gate_denied_total",
			Help: "Total number of spawn attempts denied by a gate",
		},
		[]string{"gate"},
	)

	RateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supervisor_rate_limit_rejections_total",
			Help: "Total number of HTTP requests rejected by a rate limiter",
		},
		[]string{"scope"},
	)

	ResourceCPUPercent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "supervisor_resource_cpu_usage_percent",
			Help: "Most recently sampled host CPU usage percent",
		},
	)

	ResourceAvailableMemoryBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "supervisor_resource_available_memory_bytes",
			Help: "Most recently sampled available host memory in bytes",
		},
	)

	OutputDropMarkers = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "supervisor_output_drop_markers_total",
			Help: "Total number of drop markers emitted by output capture",
		},
	)

	RecoveryTasksMarkedFailed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "supervisor_recovery_tasks_marked_failed_total",
			Help: "Total number of tasks marked FAILED by boot-time recovery",
		},
	)

	RecoveryTasksRecovered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "supervisor_recovery_tasks_recovered_total",
			Help: "Total number of QUEUED tasks re-enqueued by boot-time recovery",
		},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "supervisor_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supervisor_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "supervisor_websocket_connections",
			Help: "Current number of WebSocket event-stream connections",
		},
	)

	WebSocketMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supervisor_websocket_messages_total",
			Help: "Total number of WebSocket messages broadcast",
		},
		[]string{"type"},
	)
)

func RecordTaskDelegated(priority string) {
	TasksDelegated.WithLabelValues(priority).Inc()
}

func RecordTaskCompletion(status, priority string, durationSeconds float64) {
	TasksCompleted.WithLabelValues(status).Inc()
	TaskDuration.WithLabelValues(priority).Observe(durationSeconds)
}

func RecordTaskRetry() {
	TaskRetries.Inc()
}

func SetQueueDepth(priority string, depth float64) {
	QueueDepth.WithLabelValues(priority).Set(depth)
}

func SetTasksBlocked(count float64) {
	TasksBlocked.Set(count)
}

func SetActiveWorkers(count float64) {
	ActiveWorkers.Set(count)
}

func RecordWorkerSpawn() {
	WorkerSpawns.Inc()
}

func RecordWorkerSpawnFailure() {
	WorkerSpawnFailures.Inc()
}

func RecordWorkerKill(signal string) {
	WorkerKills.WithLabelValues(signal).Inc()
}

func RecordSpawnGateDenied(gate string) {
	SpawnGateDenied.WithLabelValues(gate).Inc()
}

func RecordRateLimitRejection(scope string) {
	RateLimitRejections.WithLabelValues(scope).Inc()
}

func SetResourceSample(cpuPercent float64, availableMemoryBytes int64) {
	ResourceCPUPercent.Set(cpuPercent)
	ResourceAvailableMemoryBytes.Set(float64(availableMemoryBytes))
}

func RecordOutputDropMarker() {
	OutputDropMarkers.Inc()
}

func RecordRecovery(tasksRecovered, tasksMarkedFailed int) {
	RecoveryTasksRecovered.Add(float64(tasksRecovered))
	RecoveryTasksMarkedFailed.Add(float64(tasksMarkedFailed))
}

func RecordHTTPRequest(method, path, status string, durationSeconds float64) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(durationSeconds)
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
}

func SetWebSocketConnections(count float64) {
	WebSocketConnections.Set(count)
}

func RecordWebSocketMessage(msgType string) {
	WebSocketMessages.WithLabelValues(msgType).Inc()
}

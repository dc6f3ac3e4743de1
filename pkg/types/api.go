package types

// PredictRequest is the payload for POST /predict.
type PredictRequest struct {
	// Market state keyed by section identifier.
	State MarketState `json:"state"`
	// If true, enqueue for background scoring and return immediately.
	// Overflow and staleness drops are silent by contract.
	Async bool `json:"async,omitempty"`
}

// PredictResponse is returned by the synchronous prediction path.
type PredictResponse struct {
	// Per-section price adjustments, same keys as the request state.
	Adjustments map[string]float64 `json:"adjustments"`
	// Version id of the artifact that produced the adjustments.
	ModelVersion string `json:"model_version"`
	// Server-generated id for this prediction.
	PredictionID string `json:"prediction_id"`
	// Wall-clock time spent in inference only, milliseconds.
	LatencyMs float64 `json:"latency_ms"`
}

// DeployRequest is the payload for POST /deploy.
type DeployRequest struct {
	VersionID   string `json:"version_id"`
	Description string `json:"description,omitempty"`
	// Dry runs report verification/requirement results with no side effects.
	DryRun bool `json:"dry_run,omitempty"`
}

// DeployResponse is returned by POST /deploy.
type DeployResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	// Record id of the appended deployment; empty for dry runs.
	DeploymentID string `json:"deployment_id,omitempty"`
}

// RollbackRequest is the payload for POST /rollback.
type RollbackRequest struct {
	// Number of deployments to step back; defaults to 1.
	Steps int `json:"steps,omitempty"`
}

// RollbackResponse is returned by POST /rollback.
type RollbackResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// PerformanceAverages holds windowed means of performance samples.
type PerformanceAverages struct {
	AvgLatencyMs  float64 `json:"avg_latency_ms"`
	AvgThroughput float64 `json:"avg_throughput"`
	AvgErrorRate  float64 `json:"avg_error_rate"`
	AvgAccuracy   float64 `json:"avg_accuracy"`
}

// HealthAverages holds windowed means of health samples.
type HealthAverages struct {
	AvgMemoryMB   float64 `json:"avg_memory_mb"`
	AvgCPUPercent float64 `json:"avg_cpu_percent"`
	AvgQueueSize  float64 `json:"avg_queue_size"`
}

// Summary aggregates recent samples. A nil section means no samples fell
// inside the window ("no data"), never a NaN average.
type Summary struct {
	Performance *PerformanceAverages `json:"performance,omitempty"`
	Health      *HealthAverages      `json:"health,omitempty"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Version currently loaded in the serving engine; empty before the
	// first deployment.
	CurrentVersion string `json:"current_version,omitempty"`
	// Time of the most recent deployment of the current version (RFC 3339).
	DeploymentTime string `json:"deployment_time,omitempty"`
	// Recent metric averages.
	Metrics Summary `json:"metrics"`
	// Active threshold alerts.
	Alerts []string `json:"alerts"`
	// "degraded" iff alerts is non-empty, else "healthy".
	HealthStatus string `json:"health_status"`
}

// MetricsResponse is returned by GET /metrics/summary.
type MetricsResponse struct {
	WindowHours float64  `json:"window_hours"`
	Summary     Summary  `json:"summary"`
	Alerts      []string `json:"alerts"`
}

// VersionsResponse wraps the version listing.
type VersionsResponse struct {
	Versions []VersionInfo `json:"versions"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

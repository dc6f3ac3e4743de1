package types

import "time"

// SectionKind discriminates the two shapes a market-state section can take.
type SectionKind string

const (
	// SectionQuote carries paired bid/ask curves.
	SectionQuote SectionKind = "quote"
	// SectionMid carries a single midpoint curve.
	SectionMid SectionKind = "mid"
)

// Section is one named slice of the market state. Exactly the fields for its
// Kind are populated: Bid/Ask for quote sections, Mid for mid sections.
type Section struct {
	Kind SectionKind `json:"kind"`
	Bid  []float64   `json:"bid,omitempty"`
	Ask  []float64   `json:"ask,omitempty"`
	Mid  []float64   `json:"mid,omitempty"`
}

// MarketState maps section identifiers to their current curves. Prediction
// results are keyed by the same identifiers.
type MarketState map[string]Section

// VersionInfo is the metadata recorded for one registered artifact version.
type VersionInfo struct {
	// Stable identifier, e.g. v20250114_093011_a1b2c3d4.
	VersionID string `json:"version_id"`
	// Creation time of the registration.
	CreatedAt time.Time `json:"created_at"`
	// Human description supplied at registration.
	Description string `json:"description"`
	// Free-form tags; filterable via the versions listing.
	Tags []string `json:"tags"`
	// Recorded evaluation metrics (accuracy, latency, ...).
	Metrics map[string]float64 `json:"metrics"`
	// Content hash of the stored artifact.
	Hash string `json:"hash"`
	// Absolute path of the stored artifact file.
	Path string `json:"path"`
}

// DeploymentRecord is one append-only history entry. Ordering is insertion
// order; timestamps are informational.
type DeploymentRecord struct {
	ID          int64     `json:"id"`
	VersionID   string    `json:"version_id"`
	Timestamp   time.Time `json:"timestamp"`
	Description string    `json:"description"`
	IsRollback  bool      `json:"is_rollback"`
}

package store

import (
	"context"
	"encoding/json"
	"time"

	"pricingd/pkg/types"
)

// AppendDeployment appends one history record and returns its id. The
// autoincrement id is the authoritative ordering for rollback math.
func (s *Store) AppendDeployment(ctx context.Context, rec types.DeploymentRecord) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
INSERT INTO deployments(version_id, ts, description, is_rollback)
VALUES(?, ?, ?, ?);
`, rec.VersionID, rec.Timestamp.UnixNano(), rec.Description, boolToInt(rec.IsRollback))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// Deployments returns the full history in append order.
func (s *Store) Deployments(ctx context.Context) ([]types.DeploymentRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, version_id, ts, description, is_rollback FROM deployments ORDER BY id;
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []types.DeploymentRecord
	for rows.Next() {
		var rec types.DeploymentRecord
		var ts int64
		var rb int
		if err := rows.Scan(&rec.ID, &rec.VersionID, &ts, &rec.Description, &rb); err != nil {
			return nil, err
		}
		rec.Timestamp = time.Unix(0, ts)
		rec.IsRollback = rb != 0
		out = append(out, rec)
	}
	return out, rows.Err()
}

// PredictionRecord is one served prediction persisted by the async worker.
type PredictionRecord struct {
	PredictionID string
	Timestamp    time.Time
	ModelVersion string
	LatencyMs    float64
	QueueSize    int
	Adjustments  map[string]float64
}

// StorePrediction appends one prediction record.
func (s *Store) StorePrediction(ctx context.Context, rec PredictionRecord) error {
	adj, err := json.Marshal(rec.Adjustments)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO predictions(prediction_id, ts, model_version, latency_ms, queue_size, adjustments)
VALUES(?, ?, ?, ?, ?, ?);
`, rec.PredictionID, rec.Timestamp.UnixNano(), rec.ModelVersion, rec.LatencyMs, rec.QueueSize, string(adj))
	return err
}

// PredictionCount reports how many predictions have been persisted. Used by
// tests and operational checks.
func (s *Store) PredictionCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM predictions;`).Scan(&n)
	return n, err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

package store

import (
	"context"
	"time"
)

// PerfSample is one raw performance measurement.
type PerfSample struct {
	Timestamp       time.Time
	LatencyMs       float64
	Error           bool
	QueueSize       int
	Accuracy        float64
	SpreadCompliant bool
}

// HealthSample is one raw health measurement.
type HealthSample struct {
	Timestamp   time.Time
	MemoryMB    float64
	CPUPercent  float64
	QueueSize   int
	Workers     int
	UptimeHours float64
}

// AppendPerfSample appends one performance sample.
func (s *Store) AppendPerfSample(ctx context.Context, p PerfSample) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO perf_samples(ts, latency_ms, error, queue_size, accuracy, spread_compliant)
VALUES(?, ?, ?, ?, ?, ?);
`, p.Timestamp.UnixNano(), p.LatencyMs, boolToInt(p.Error), p.QueueSize, p.Accuracy, boolToInt(p.SpreadCompliant))
	return err
}

// PerfSamplesSince returns performance samples newer than cutoff, oldest first.
func (s *Store) PerfSamplesSince(ctx context.Context, cutoff time.Time) ([]PerfSample, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT ts, latency_ms, error, queue_size, accuracy, spread_compliant
FROM perf_samples WHERE ts > ? ORDER BY ts;
`, cutoff.UnixNano())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PerfSample
	for rows.Next() {
		var p PerfSample
		var ts int64
		var errFlag, spread int
		if err := rows.Scan(&ts, &p.LatencyMs, &errFlag, &p.QueueSize, &p.Accuracy, &spread); err != nil {
			return nil, err
		}
		p.Timestamp = time.Unix(0, ts)
		p.Error = errFlag != 0
		p.SpreadCompliant = spread != 0
		out = append(out, p)
	}
	return out, rows.Err()
}

// AppendHealthSample appends one health sample.
func (s *Store) AppendHealthSample(ctx context.Context, h HealthSample) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO health_samples(ts, memory_mb, cpu_percent, queue_size, workers, uptime_hours)
VALUES(?, ?, ?, ?, ?, ?);
`, h.Timestamp.UnixNano(), h.MemoryMB, h.CPUPercent, h.QueueSize, h.Workers, h.UptimeHours)
	return err
}

// HealthSamplesSince returns health samples newer than cutoff, oldest first.
func (s *Store) HealthSamplesSince(ctx context.Context, cutoff time.Time) ([]HealthSample, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT ts, memory_mb, cpu_percent, queue_size, workers, uptime_hours
FROM health_samples WHERE ts > ? ORDER BY ts;
`, cutoff.UnixNano())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []HealthSample
	for rows.Next() {
		var h HealthSample
		var ts int64
		if err := rows.Scan(&ts, &h.MemoryMB, &h.CPUPercent, &h.QueueSize, &h.Workers, &h.UptimeHours); err != nil {
			return nil, err
		}
		h.Timestamp = time.Unix(0, ts)
		out = append(out, h)
	}
	return out, rows.Err()
}

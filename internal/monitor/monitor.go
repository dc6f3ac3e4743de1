// Package monitor turns raw metric samples into windowed summaries and
// threshold alerts. Samples live in the durable store so alert windows
// survive restarts.
package monitor

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/rs/zerolog"

	"pricingd/internal/store"
	"pricingd/pkg/types"
)

// SampleStore is the persistence the monitor needs from the durable store.
type SampleStore interface {
	AppendPerfSample(ctx context.Context, p store.PerfSample) error
	PerfSamplesSince(ctx context.Context, cutoff time.Time) ([]store.PerfSample, error)
	AppendHealthSample(ctx context.Context, h store.HealthSample) error
	HealthSamplesSince(ctx context.Context, cutoff time.Time) ([]store.HealthSample, error)
}

// QueueStats reports the serving queue's current depth, capacity and worker
// count.
type QueueStats func() (depth, capacity, workers int)

// Thresholds configure alerting. Zero disables the corresponding check.
type Thresholds struct {
	MaxLatencyMs  float64
	MaxErrorRate  float64
	MaxMemoryMB   float64
	MaxCPUPercent float64
}

type Config struct {
	Store            SampleStore
	Queue            QueueStats
	Probe            ResourceProbe
	Thresholds       Thresholds
	AlertWindowHours float64
	Logger           zerolog.Logger
}

const defaultAlertWindowHours = 1.0

type Monitor struct {
	store      SampleStore
	queue      QueueStats
	probe      ResourceProbe
	thresholds Thresholds
	alertHours float64
	start      time.Time
	log        zerolog.Logger
}

func New(cfg Config) *Monitor {
	if cfg.AlertWindowHours <= 0 {
		cfg.AlertWindowHours = defaultAlertWindowHours
	}
	return &Monitor{
		store:      cfg.Store,
		queue:      cfg.Queue,
		probe:      cfg.Probe,
		thresholds: cfg.Thresholds,
		alertHours: cfg.AlertWindowHours,
		start:      time.Now(),
		log:        cfg.Logger.With().Str("component", "monitor").Logger(),
	}
}

// SetQueueStats wires the serving queue after construction. The engine and
// the monitor reference each other, so one side has to be attached late.
func (m *Monitor) SetQueueStats(fn QueueStats) { m.queue = fn }

// RecordPrediction appends one performance sample. It satisfies the serving
// engine's SampleRecorder; append failures are logged, never surfaced to the
// request path.
func (m *Monitor) RecordPrediction(latencyMs float64, failed bool, queueSize int, accuracy float64, spreadCompliant bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := m.store.AppendPerfSample(ctx, store.PerfSample{
		Timestamp:       time.Now(),
		LatencyMs:       latencyMs,
		Error:           failed,
		QueueSize:       queueSize,
		Accuracy:        accuracy,
		SpreadCompliant: spreadCompliant,
	})
	if err != nil {
		m.log.Error().Err(err).Msg("failed to append performance sample")
	}
}

// PerformanceMetrics aggregates performance samples over one window.
type PerformanceMetrics struct {
	LatencyMs        float64 `json:"latency_ms"`
	Throughput       float64 `json:"throughput"`
	ErrorRate        float64 `json:"error_rate"`
	QueueUtilization float64 `json:"queue_utilization"`
	Accuracy         float64 `json:"accuracy"`
	SpreadCompliance float64 `json:"spread_compliance"`
	Samples          int     `json:"samples"`
}

// CollectPerformance aggregates samples newer than now-window. Throughput is
// sample count over the elapsed span of the window's samples; a zero span
// yields zero throughput.
func (m *Monitor) CollectPerformance(ctx context.Context, window time.Duration) (PerformanceMetrics, error) {
	samples, err := m.store.PerfSamplesSince(ctx, time.Now().Add(-window))
	if err != nil {
		return PerformanceMetrics{}, err
	}
	out := PerformanceMetrics{Samples: len(samples)}
	if len(samples) == 0 {
		return out, nil
	}
	var capacity int
	if m.queue != nil {
		_, capacity, _ = m.queue()
	}
	var latency, queueSum, accuracy float64
	var errs, compliant int
	for _, s := range samples {
		latency += s.LatencyMs
		queueSum += float64(s.QueueSize)
		accuracy += s.Accuracy
		if s.Error {
			errs++
		}
		if s.SpreadCompliant {
			compliant++
		}
	}
	n := float64(len(samples))
	out.LatencyMs = latency / n
	out.ErrorRate = float64(errs) / n
	out.Accuracy = accuracy / n
	out.SpreadCompliance = float64(compliant) / n
	if capacity > 0 {
		out.QueueUtilization = queueSum / n / float64(capacity)
	}
	if span := samples[len(samples)-1].Timestamp.Sub(samples[0].Timestamp).Seconds(); span > 0 {
		out.Throughput = n / span
	}
	return out, nil
}

// HealthMetrics is a point-in-time health reading.
type HealthMetrics struct {
	MemoryMB      float64 `json:"memory_mb"`
	CPUPercent    float64 `json:"cpu_percent"`
	QueueSize     int     `json:"queue_size"`
	ActiveWorkers int     `json:"active_workers"`
	UptimeHours   float64 `json:"uptime_hours"`
}

// CollectHealth gathers a health reading and appends it to the sample
// history.
func (m *Monitor) CollectHealth(ctx context.Context) (HealthMetrics, error) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	h := HealthMetrics{
		MemoryMB:    float64(ms.Alloc) / (1024 * 1024),
		UptimeHours: time.Since(m.start).Hours(),
	}
	if m.queue != nil {
		depth, _, workers := m.queue()
		h.QueueSize = depth
		h.ActiveWorkers = workers
	}
	if m.probe != nil {
		if cpu, err := m.probe.CPUPercent(); err == nil {
			h.CPUPercent = cpu
		}
	}
	err := m.store.AppendHealthSample(ctx, store.HealthSample{
		Timestamp:   time.Now(),
		MemoryMB:    h.MemoryMB,
		CPUPercent:  h.CPUPercent,
		QueueSize:   h.QueueSize,
		Workers:     h.ActiveWorkers,
		UptimeHours: h.UptimeHours,
	})
	if err != nil {
		return h, err
	}
	return h, nil
}

// Summary averages samples newer than now minus windowHours. Sections with
// no samples come back nil rather than as zeroed numbers.
func (m *Monitor) Summary(ctx context.Context, windowHours float64) (types.Summary, error) {
	cutoff := time.Now().Add(-time.Duration(windowHours * float64(time.Hour)))
	var out types.Summary

	perf, err := m.store.PerfSamplesSince(ctx, cutoff)
	if err != nil {
		return out, err
	}
	if len(perf) > 0 {
		avg := &types.PerformanceAverages{}
		var errs int
		for _, s := range perf {
			avg.AvgLatencyMs += s.LatencyMs
			avg.AvgAccuracy += s.Accuracy
			if s.Error {
				errs++
			}
		}
		n := float64(len(perf))
		avg.AvgLatencyMs /= n
		avg.AvgAccuracy /= n
		avg.AvgErrorRate = float64(errs) / n
		if span := perf[len(perf)-1].Timestamp.Sub(perf[0].Timestamp).Seconds(); span > 0 {
			avg.AvgThroughput = n / span
		}
		out.Performance = avg
	}

	health, err := m.store.HealthSamplesSince(ctx, cutoff)
	if err != nil {
		return out, err
	}
	if len(health) > 0 {
		avg := &types.HealthAverages{}
		for _, s := range health {
			avg.AvgMemoryMB += s.MemoryMB
			avg.AvgCPUPercent += s.CPUPercent
			avg.AvgQueueSize += float64(s.QueueSize)
		}
		n := float64(len(health))
		avg.AvgMemoryMB /= n
		avg.AvgCPUPercent /= n
		avg.AvgQueueSize /= n
		out.Health = avg
	}
	return out, nil
}

// CheckAlerts evaluates the alert-window summary against the configured
// thresholds. Each breached threshold contributes exactly one alert string;
// the checks are independent.
func (m *Monitor) CheckAlerts(ctx context.Context) []string {
	summary, err := m.Summary(ctx, m.alertHours)
	if err != nil {
		m.log.Error().Err(err).Msg("alert summary failed")
		return nil
	}

	var alerts []string
	if p := summary.Performance; p != nil {
		if m.thresholds.MaxLatencyMs > 0 && p.AvgLatencyMs > m.thresholds.MaxLatencyMs {
			alerts = append(alerts, fmt.Sprintf("high prediction latency: %.2fms (limit %.0fms)", p.AvgLatencyMs, m.thresholds.MaxLatencyMs))
		}
		if m.thresholds.MaxErrorRate > 0 && p.AvgErrorRate > m.thresholds.MaxErrorRate {
			alerts = append(alerts, fmt.Sprintf("high error rate: %.2f%% (limit %.2f%%)", p.AvgErrorRate*100, m.thresholds.MaxErrorRate*100))
		}
	}
	if h := summary.Health; h != nil {
		if m.thresholds.MaxMemoryMB > 0 && h.AvgMemoryMB > m.thresholds.MaxMemoryMB {
			alerts = append(alerts, fmt.Sprintf("high memory usage: %.0fMB (limit %.0fMB)", h.AvgMemoryMB, m.thresholds.MaxMemoryMB))
		}
		if m.thresholds.MaxCPUPercent > 0 && h.AvgCPUPercent > m.thresholds.MaxCPUPercent {
			alerts = append(alerts, fmt.Sprintf("high CPU usage: %.1f%% (limit %.0f%%)", h.AvgCPUPercent, m.thresholds.MaxCPUPercent))
		}
	}
	return alerts
}

// Package serving holds exactly one active pricing artifact and answers
// prediction requests against it. Readers share the artifact; swaps replace
// the handle wholesale under an exclusive lock, so a reader sees either the
// whole old artifact or the whole new one.
package serving

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"pricingd/internal/artifact"
	"pricingd/internal/store"
	"pricingd/pkg/types"
)

// Catalog is the slice of the version registry the engine needs: resolving
// the active version and locating artifact files. The engine never walks the
// catalog itself.
type Catalog interface {
	ActiveVersion() (string, bool, error)
	ArtifactPath(versionID string) string
	Info(ctx context.Context, versionID string) (types.VersionInfo, bool, error)
}

// PredictionSink receives results from the async worker. Failures are logged
// and never propagate to request handling.
type PredictionSink interface {
	StorePrediction(ctx context.Context, rec store.PredictionRecord) error
}

// SampleRecorder observes each inference for monitoring.
type SampleRecorder interface {
	RecordPrediction(latencyMs float64, failed bool, queueSize int, accuracy float64, spreadCompliant bool)
}

// Config carries the engine tunables. Zero values fall back to defaults.
type Config struct {
	QueueSize int
	// MaxDelay is the staleness bound: queued requests older than this at
	// dequeue time are dropped unscored.
	MaxDelay time.Duration
	Loader   artifact.Loader
	Catalog  Catalog
	Sink     PredictionSink
	Recorder SampleRecorder
	Logger   zerolog.Logger
}

const (
	defaultQueueSize = 64
	defaultMaxDelay  = 5 * time.Second
	sinkTimeout      = 3 * time.Second
)

// loaded is the active artifact handle. It is replaced atomically as a unit;
// fields are never mutated in place.
type loaded struct {
	art       artifact.Artifact
	versionID string
	// accuracy recorded at registration time, attached to samples so the
	// monitor can window it.
	accuracy float64
	loadedAt time.Time
}

type queued struct {
	state      types.MarketState
	enqueuedAt time.Time
}

type Engine struct {
	mu  sync.RWMutex
	cur *loaded

	loader   artifact.Loader
	catalog  Catalog
	sink     PredictionSink
	recorder SampleRecorder
	log      zerolog.Logger

	maxDelay time.Duration
	queue    chan queued
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New builds the engine and starts its background worker.
func New(cfg Config) *Engine {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = defaultMaxDelay
	}
	e := &Engine{
		loader:   cfg.Loader,
		catalog:  cfg.Catalog,
		sink:     cfg.Sink,
		recorder: cfg.Recorder,
		log:      cfg.Logger.With().Str("component", "serving").Logger(),
		maxDelay: cfg.MaxDelay,
		queue:    make(chan queued, cfg.QueueSize),
		stopCh:   make(chan struct{}),
	}
	e.wg.Add(1)
	go e.worker()
	return e
}

func (e *Engine) current() *loaded {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cur
}

// Predict runs synchronous inference against the active artifact.
func (e *Engine) Predict(ctx context.Context, state types.MarketState) (types.PredictResponse, error) {
	cur := e.current()
	if cur == nil {
		return types.PredictResponse{}, ErrNoModelLoaded()
	}

	start := time.Now()
	adjustments, err := cur.art.Infer(state)
	latencyMs := float64(time.Since(start)) / float64(time.Millisecond)

	if e.recorder != nil {
		e.recorder.RecordPrediction(latencyMs, err != nil, len(e.queue), cur.accuracy, err == nil && spreadCompliant(state, adjustments))
	}
	if err != nil {
		return types.PredictResponse{}, fmt.Errorf("infer: %w", err)
	}
	predictionsTotal.WithLabelValues("sync").Inc()
	return types.PredictResponse{
		Adjustments:  adjustments,
		ModelVersion: cur.versionID,
		PredictionID: uuid.NewString(),
		LatencyMs:    latencyMs,
	}, nil
}

// PredictAsync enqueues a request for background scoring. A full queue drops
// the request: the caller gets no result and no error, only the drop counter
// moves. This is load shedding, not a fault.
func (e *Engine) PredictAsync(state types.MarketState) {
	select {
	case <-e.stopCh:
		droppedTotal.WithLabelValues("stopped").Inc()
		return
	default:
	}
	select {
	case e.queue <- queued{state: state, enqueuedAt: time.Now()}:
		queueDepth.Set(float64(len(e.queue)))
	default:
		droppedTotal.WithLabelValues("queue_full").Inc()
		e.log.Warn().Msg("prediction queue full, dropping request")
	}
}

// UpdateModel loads versionID (or the catalog's active version when empty)
// and swaps it into the serving slot. In-flight readers finish against the
// old handle; the swap itself is exclusive.
func (e *Engine) UpdateModel(ctx context.Context, versionID string) error {
	id := versionID
	if id == "" {
		active, ok, err := e.catalog.ActiveVersion()
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("no active version to load")
		}
		id = active
	}

	art, err := e.loader.Load(e.catalog.ArtifactPath(id))
	if err != nil {
		return fmt.Errorf("load version %s: %w", id, err)
	}
	var accuracy float64
	if info, ok, err := e.catalog.Info(ctx, id); err == nil && ok {
		accuracy = info.Metrics["accuracy"]
	}

	e.mu.Lock()
	e.cur = &loaded{art: art, versionID: id, accuracy: accuracy, loadedAt: time.Now()}
	e.mu.Unlock()

	swapsTotal.Inc()
	e.log.Info().Str("version", id).Msg("active model updated")
	return nil
}

// CurrentVersion returns the version id in the serving slot.
func (e *Engine) CurrentVersion() (string, bool) {
	cur := e.current()
	if cur == nil {
		return "", false
	}
	return cur.versionID, true
}

// Ready reports whether an artifact is loaded.
func (e *Engine) Ready() bool { return e.current() != nil }

// QueueStats reports the async queue depth, its capacity and the number of
// background workers.
func (e *Engine) QueueStats() (depth, capacity, workers int) {
	return len(e.queue), cap(e.queue), 1
}

// Shutdown stops the worker and waits for it. Queued requests not yet
// dequeued are abandoned; in-flight sync predictions are unaffected.
func (e *Engine) Shutdown() {
	e.stopOnce.Do(func() { close(e.stopCh) })
	e.wg.Wait()
}

// spreadCompliant reports whether every quote-section adjustment keeps the
// adjusted bid below the adjusted ask, i.e. stays under half the mean spread.
// Malformed sections are skipped; rejecting them is Infer's job.
func spreadCompliant(state types.MarketState, adjustments map[string]float64) bool {
	for name, sec := range state {
		if sec.Kind != types.SectionQuote || len(sec.Bid) == 0 || len(sec.Bid) != len(sec.Ask) {
			continue
		}
		var spread float64
		for i := range sec.Bid {
			spread += sec.Ask[i] - sec.Bid[i]
		}
		spread /= float64(len(sec.Bid))
		adj, ok := adjustments[name]
		if !ok {
			continue
		}
		if adj > spread/2 || adj < -spread/2 {
			return false
		}
	}
	return true
}

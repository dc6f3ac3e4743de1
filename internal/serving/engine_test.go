package serving

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"pricingd/internal/artifact"
	"pricingd/internal/store"
	"pricingd/pkg/types"
)

// fakeCatalog serves a fixed active version with a fixed accuracy metric.
type fakeCatalog struct {
	active   string
	accuracy float64
}

func (c *fakeCatalog) ActiveVersion() (string, bool, error) {
	return c.active, c.active != "", nil
}

func (c *fakeCatalog) ArtifactPath(versionID string) string { return "/fake/" + versionID }

func (c *fakeCatalog) Info(ctx context.Context, versionID string) (types.VersionInfo, bool, error) {
	return types.VersionInfo{
		VersionID: versionID,
		Metrics:   map[string]float64{"accuracy": c.accuracy},
	}, true, nil
}

// fakeLoader hands back a pre-built artifact regardless of path.
type fakeLoader struct{ art artifact.Artifact }

func (l fakeLoader) Load(path string) (artifact.Artifact, error) { return l.art, nil }

// memSink collects stored predictions in memory.
type memSink struct {
	mu   sync.Mutex
	recs []store.PredictionRecord
}

func (s *memSink) StorePrediction(ctx context.Context, rec store.PredictionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = append(s.recs, rec)
	return nil
}

func (s *memSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.recs)
}

// memRecorder collects monitoring samples in memory.
type memRecorder struct {
	mu      sync.Mutex
	samples []float64 // accuracy per sample
}

func (r *memRecorder) RecordPrediction(latencyMs float64, failed bool, queueSize int, accuracy float64, spreadCompliant bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = append(r.samples, accuracy)
}

func (r *memRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.samples)
}

// blockingArtifact parks Infer until released, so tests can hold the worker
// mid-request deterministically.
type blockingArtifact struct {
	started chan struct{}
	release chan struct{}
}

func newBlockingArtifact() *blockingArtifact {
	return &blockingArtifact{started: make(chan struct{}, 16), release: make(chan struct{})}
}

func (a *blockingArtifact) Infer(state types.MarketState) (map[string]float64, error) {
	a.started <- struct{}{}
	<-a.release
	return map[string]float64{"s": 0}, nil
}

func (a *blockingArtifact) Hash() string           { return "blocking" }
func (a *blockingArtifact) Save(path string) error { return nil }

func testModel(t *testing.T) artifact.Artifact {
	t.Helper()
	m, err := artifact.NewPriceModel(make([]float64, 6), make([]float64, 2), 0.05)
	if err != nil {
		t.Fatalf("new model: %v", err)
	}
	return m
}

func testState() types.MarketState {
	return types.MarketState{
		"front": {Kind: types.SectionQuote, Bid: []float64{99, 100}, Ask: []float64{101, 102}},
	}
}

// raggedState is a quote section with mismatched bid/ask lengths, which
// inference must reject.
func raggedState() types.MarketState {
	return types.MarketState{
		"front": {Kind: types.SectionQuote, Bid: []float64{99, 100}, Ask: []float64{101}},
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestPredict_NoModelLoaded(t *testing.T) {
	e := New(Config{Loader: fakeLoader{}, Catalog: &fakeCatalog{}, Logger: zerolog.Nop()})
	defer e.Shutdown()

	_, err := e.Predict(context.Background(), testState())
	if !IsNoModelLoaded(err) {
		t.Fatalf("expected no-model-loaded, got %v", err)
	}
	if e.Ready() {
		t.Fatal("engine reported ready with empty slot")
	}
	if _, ok := e.CurrentVersion(); ok {
		t.Fatal("current version reported with empty slot")
	}
}

func TestPredict_Sync(t *testing.T) {
	rec := &memRecorder{}
	e := New(Config{
		Loader:   fakeLoader{art: testModel(t)},
		Catalog:  &fakeCatalog{active: "v1", accuracy: 0.9},
		Recorder: rec,
		Logger:   zerolog.Nop(),
	})
	defer e.Shutdown()

	if err := e.UpdateModel(context.Background(), "v1"); err != nil {
		t.Fatalf("update model: %v", err)
	}
	resp, err := e.Predict(context.Background(), testState())
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if resp.ModelVersion != "v1" {
		t.Fatalf("model version = %q", resp.ModelVersion)
	}
	if resp.PredictionID == "" {
		t.Fatal("empty prediction id")
	}
	if _, ok := resp.Adjustments["front"]; !ok {
		t.Fatalf("missing adjustment: %+v", resp.Adjustments)
	}
	if rec.count() != 1 {
		t.Fatalf("expected 1 recorded sample, got %d", rec.count())
	}
}

func TestPredict_RaggedQuoteIsAnError(t *testing.T) {
	rec := &memRecorder{}
	e := New(Config{
		Loader:   fakeLoader{art: testModel(t)},
		Catalog:  &fakeCatalog{active: "v1", accuracy: 0.9},
		Recorder: rec,
		Logger:   zerolog.Nop(),
	})
	defer e.Shutdown()

	if err := e.UpdateModel(context.Background(), "v1"); err != nil {
		t.Fatalf("update model: %v", err)
	}
	if _, err := e.Predict(context.Background(), raggedState()); err == nil {
		t.Fatal("expected inference error for mismatched bid/ask")
	}
	// The failure is still sampled for monitoring.
	if rec.count() != 1 {
		t.Fatalf("expected 1 recorded sample, got %d", rec.count())
	}
}

func TestPredictAsync_RaggedQuoteKeepsWorkerAlive(t *testing.T) {
	sink := &memSink{}
	e := New(Config{
		Loader:  fakeLoader{art: testModel(t)},
		Catalog: &fakeCatalog{active: "v1"},
		Sink:    sink,
		Logger:  zerolog.Nop(),
	})
	defer e.Shutdown()

	if err := e.UpdateModel(context.Background(), "v1"); err != nil {
		t.Fatalf("update model: %v", err)
	}

	// A rejected request must not take the worker down; the valid one
	// behind it still gets served and persisted.
	e.PredictAsync(raggedState())
	e.PredictAsync(testState())
	waitFor(t, 2*time.Second, func() bool { return sink.count() == 1 })
}

func TestUpdateModel_UsesActiveVersionWhenEmpty(t *testing.T) {
	e := New(Config{
		Loader:  fakeLoader{art: testModel(t)},
		Catalog: &fakeCatalog{active: "v7"},
		Logger:  zerolog.Nop(),
	})
	defer e.Shutdown()

	if err := e.UpdateModel(context.Background(), ""); err != nil {
		t.Fatalf("update model: %v", err)
	}
	cur, ok := e.CurrentVersion()
	if !ok || cur != "v7" {
		t.Fatalf("current = %q ok=%v", cur, ok)
	}
}

func TestUpdateModel_NoActiveVersion(t *testing.T) {
	e := New(Config{Loader: fakeLoader{art: testModel(t)}, Catalog: &fakeCatalog{}, Logger: zerolog.Nop()})
	defer e.Shutdown()

	if err := e.UpdateModel(context.Background(), ""); err == nil {
		t.Fatal("expected error when nothing is active")
	}
}

func TestPredictAsync_StoresPrediction(t *testing.T) {
	sink := &memSink{}
	e := New(Config{
		Loader:  fakeLoader{art: testModel(t)},
		Catalog: &fakeCatalog{active: "v1"},
		Sink:    sink,
		Logger:  zerolog.Nop(),
	})
	defer e.Shutdown()

	if err := e.UpdateModel(context.Background(), "v1"); err != nil {
		t.Fatalf("update model: %v", err)
	}
	e.PredictAsync(testState())
	waitFor(t, 2*time.Second, func() bool { return sink.count() == 1 })
	sink.mu.Lock()
	got := sink.recs[0]
	sink.mu.Unlock()
	if got.ModelVersion != "v1" || got.PredictionID == "" {
		t.Fatalf("bad prediction record: %+v", got)
	}
}

func TestPredictAsync_QueueFullDropsSilently(t *testing.T) {
	art := newBlockingArtifact()
	sink := &memSink{}
	e := New(Config{
		QueueSize: 1,
		Loader:    fakeLoader{art: art},
		Catalog:   &fakeCatalog{active: "v1"},
		Sink:      sink,
		Logger:    zerolog.Nop(),
	})
	defer e.Shutdown()

	if err := e.UpdateModel(context.Background(), "v1"); err != nil {
		t.Fatalf("update model: %v", err)
	}

	// First request reaches the worker and parks inside Infer.
	e.PredictAsync(testState())
	<-art.started
	// Second fills the queue; third must be shed without blocking.
	e.PredictAsync(testState())
	done := make(chan struct{})
	go func() {
		e.PredictAsync(testState())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("PredictAsync blocked on a full queue")
	}

	close(art.release)
	waitFor(t, 2*time.Second, func() bool { return sink.count() == 2 })
	// Give the worker a beat; the shed request must never surface.
	time.Sleep(20 * time.Millisecond)
	if sink.count() != 2 {
		t.Fatalf("expected exactly 2 stored predictions, got %d", sink.count())
	}
}

func TestPredictAsync_StaleRequestsDropped(t *testing.T) {
	art := newBlockingArtifact()
	sink := &memSink{}
	e := New(Config{
		QueueSize: 4,
		MaxDelay:  30 * time.Millisecond,
		Loader:    fakeLoader{art: art},
		Catalog:   &fakeCatalog{active: "v1"},
		Sink:      sink,
		Logger:    zerolog.Nop(),
	})
	defer e.Shutdown()

	if err := e.UpdateModel(context.Background(), "v1"); err != nil {
		t.Fatalf("update model: %v", err)
	}

	// Park the worker, then let a queued request go stale behind it.
	e.PredictAsync(testState())
	<-art.started
	e.PredictAsync(testState())
	time.Sleep(80 * time.Millisecond)
	close(art.release)

	waitFor(t, 2*time.Second, func() bool { return sink.count() == 1 })
	time.Sleep(20 * time.Millisecond)
	if sink.count() != 1 {
		t.Fatalf("stale request was served: %d stored", sink.count())
	}
}

func TestUpdateModel_SwapDuringReads(t *testing.T) {
	e := New(Config{
		Loader:  fakeLoader{art: testModel(t)},
		Catalog: &fakeCatalog{active: "v1"},
		Logger:  zerolog.Nop(),
	})
	defer e.Shutdown()

	if err := e.UpdateModel(context.Background(), "v1"); err != nil {
		t.Fatalf("update model: %v", err)
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	errs := make(chan error, 1)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				resp, err := e.Predict(context.Background(), testState())
				if err != nil {
					select {
					case errs <- err:
					default:
					}
					return
				}
				if resp.ModelVersion != "v1" && resp.ModelVersion != "v2" {
					select {
					case errs <- fmt.Errorf("unexpected version %q", resp.ModelVersion):
					default:
					}
					return
				}
			}
		}()
	}

	for i := 0; i < 50; i++ {
		id := "v1"
		if i%2 == 1 {
			id = "v2"
		}
		if err := e.UpdateModel(context.Background(), id); err != nil {
			t.Fatalf("swap %d: %v", i, err)
		}
	}
	close(stop)
	wg.Wait()
	select {
	case err := <-errs:
		t.Fatalf("reader failed during swaps: %v", err)
	default:
	}
}

func TestShutdown_Idempotent(t *testing.T) {
	e := New(Config{Loader: fakeLoader{}, Catalog: &fakeCatalog{}, Logger: zerolog.Nop()})
	e.Shutdown()
	e.Shutdown()
	// Enqueue after shutdown must not block or panic.
	e.PredictAsync(testState())
}

func TestSpreadCompliant(t *testing.T) {
	state := types.MarketState{
		"q": {Kind: types.SectionQuote, Bid: []float64{99}, Ask: []float64{101}}, // spread 2
		"m": {Kind: types.SectionMid, Mid: []float64{50}},
	}
	if !spreadCompliant(state, map[string]float64{"q": 0.5, "m": 100}) {
		t.Fatal("adjustment inside half-spread flagged non-compliant")
	}
	if spreadCompliant(state, map[string]float64{"q": 1.5}) {
		t.Fatal("adjustment beyond half-spread passed")
	}
	if !spreadCompliant(state, map[string]float64{}) {
		t.Fatal("missing adjustment should not violate compliance")
	}
	if !spreadCompliant(raggedState(), map[string]float64{"front": 100}) {
		t.Fatal("malformed quote section must be skipped, not evaluated")
	}
}

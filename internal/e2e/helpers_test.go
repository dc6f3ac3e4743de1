package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"pricingd/internal/artifact"
	"pricingd/internal/deploy"
	"pricingd/internal/httpapi"
	"pricingd/internal/monitor"
	"pricingd/internal/registry"
	"pricingd/internal/serving"
	"pricingd/internal/store"
)

// stack is a fully wired daemon minus the process scaffolding, backed by a
// temp directory.
type stack struct {
	srv  *httptest.Server
	st   *store.Store
	reg  *registry.Registry
	eng  *serving.Engine
	orch *deploy.Orchestrator
	mon  *monitor.Monitor
}

func newStack(t *testing.T, requirements map[string]float64) *stack {
	t.Helper()
	dir := t.TempDir()

	st, err := store.Open(filepath.Join(dir, "pricingd.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	reg, err := registry.New(dir, st, zerolog.Nop())
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}

	mon := monitor.New(monitor.Config{Store: st, Logger: zerolog.Nop()})

	eng := serving.New(serving.Config{
		Loader:   artifact.FileLoader{},
		Catalog:  reg,
		Sink:     st,
		Recorder: mon,
		Logger:   zerolog.Nop(),
	})
	t.Cleanup(eng.Shutdown)
	mon.SetQueueStats(eng.QueueStats)

	orch, err := deploy.New(deploy.Config{
		Catalog:      reg,
		Engine:       eng,
		History:      st,
		Monitor:      mon,
		Requirements: requirements,
		Checks:       []deploy.Check{deploy.LoadableCheck(artifact.FileLoader{}, reg)},
		BackupDir:    filepath.Join(dir, "backups"),
		Logger:       zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}

	srv := httptest.NewServer(httpapi.NewMux(httpapi.Deps{
		Predictor: eng,
		Deployer:  orch,
		Catalog:   reg,
		Metrics:   mon,
	}))
	t.Cleanup(srv.Close)

	return &stack{srv: srv, st: st, reg: reg, eng: eng, orch: orch, mon: mon}
}

func (s *stack) register(t *testing.T, seed float64, metrics map[string]float64, tags ...string) string {
	t.Helper()
	m, err := artifact.NewPriceModel(
		[]float64{seed, 0, 0, 0, 0, 0},
		[]float64{seed, 0},
		0.05,
	)
	if err != nil {
		t.Fatalf("new model: %v", err)
	}
	id, err := s.reg.Register(context.Background(), m, metrics, "", tags)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	return id
}

func httpPost(t *testing.T, url, body string) (int, []byte) {
	t.Helper()
	resp, err := http.Post(url, "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, b
}

func httpGet(t *testing.T, url string) (int, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, b
}

func decode(t *testing.T, b []byte, v any) {
	t.Helper()
	if err := json.Unmarshal(b, v); err != nil {
		t.Fatalf("decode %s: %v", b, err)
	}
}

package deploy

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"pricingd/internal/artifact"
	"pricingd/internal/monitor"
	"pricingd/internal/registry"
	"pricingd/internal/serving"
	"pricingd/internal/store"
)

// env wires real components (sqlite store, filesystem registry, serving
// engine) around the orchestrator, mirroring the production assembly.
type env struct {
	st   *store.Store
	reg  *registry.Registry
	eng  *serving.Engine
	orch *Orchestrator
}

func newEnv(t *testing.T, requirements map[string]float64, checks []Check) *env {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	reg, err := registry.New(dir, st, zerolog.Nop())
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	eng := serving.New(serving.Config{
		Loader:  artifact.FileLoader{},
		Catalog: reg,
		Logger:  zerolog.Nop(),
	})
	t.Cleanup(eng.Shutdown)

	mon := monitor.New(monitor.Config{Store: st, Logger: zerolog.Nop()})
	orch, err := New(Config{
		Catalog:      reg,
		Engine:       eng,
		History:      st,
		Monitor:      mon,
		Requirements: requirements,
		Checks:       checks,
		BackupDir:    filepath.Join(dir, "backups"),
		Logger:       zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	return &env{st: st, reg: reg, eng: eng, orch: orch}
}

func (e *env) register(t *testing.T, seed float64, metrics map[string]float64) string {
	t.Helper()
	m, err := artifact.NewPriceModel(
		[]float64{seed, 0, 0, 0, 0, 0},
		[]float64{seed, 0},
		0.05,
	)
	if err != nil {
		t.Fatalf("new model: %v", err)
	}
	id, err := e.reg.Register(context.Background(), m, metrics, "", nil)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	return id
}

func TestDeploy_HappyPath(t *testing.T) {
	e := newEnv(t, map[string]float64{"accuracy": 0.85}, nil)
	ctx := context.Background()
	id := e.register(t, 1, map[string]float64{"accuracy": 0.90})

	resp, err := e.orch.Deploy(ctx, id, "ship it", false)
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}
	if !resp.Success || resp.Message != "deployed "+id {
		t.Fatalf("bad response: %+v", resp)
	}
	if resp.DeploymentID == "" {
		t.Fatal("missing deployment id")
	}

	if cur, ok := e.eng.CurrentVersion(); !ok || cur != id {
		t.Fatalf("engine serving %q ok=%v, want %s", cur, ok, id)
	}
	if active, ok, err := e.reg.ActiveVersion(); err != nil || !ok || active != id {
		t.Fatalf("active = %q ok=%v err=%v", active, ok, err)
	}
	recs, err := e.st.Deployments(ctx)
	if err != nil {
		t.Fatalf("deployments: %v", err)
	}
	if len(recs) != 1 || recs[0].VersionID != id || recs[0].IsRollback {
		t.Fatalf("history mismatch: %+v", recs)
	}
	if recs[0].Description != "ship it" {
		t.Fatalf("description lost: %+v", recs[0])
	}
	if e.orch.State() != StateIdle {
		t.Fatalf("state after deploy: %s", e.orch.State())
	}
}

func TestDeploy_UnknownVersion(t *testing.T) {
	e := newEnv(t, nil, nil)
	_, err := e.orch.Deploy(context.Background(), "v_missing", "", false)
	if !registry.IsVersionNotFound(err) {
		t.Fatalf("expected version-not-found, got %v", err)
	}
}

func TestDeploy_RequirementNotMet(t *testing.T) {
	e := newEnv(t, map[string]float64{"accuracy": 0.85}, nil)
	ctx := context.Background()
	id := e.register(t, 1, map[string]float64{"accuracy": 0.80})

	_, err := e.orch.Deploy(ctx, id, "", false)
	if !IsRequirementNotMet(err) {
		t.Fatalf("expected requirement-not-met, got %v", err)
	}
	if e.eng.Ready() {
		t.Fatal("engine loaded a rejected version")
	}
	if recs, _ := e.st.Deployments(ctx); len(recs) != 0 {
		t.Fatalf("rejected deployment recorded: %+v", recs)
	}
}

func TestDeploy_MissingMetricCountsAsZero(t *testing.T) {
	e := newEnv(t, map[string]float64{"accuracy": 0.85}, nil)
	id := e.register(t, 1, map[string]float64{"mae": 0.01})

	_, err := e.orch.Deploy(context.Background(), id, "", false)
	if !IsRequirementNotMet(err) {
		t.Fatalf("expected requirement-not-met for absent metric, got %v", err)
	}
}

func TestDeploy_DryRunHasNoSideEffects(t *testing.T) {
	e := newEnv(t, map[string]float64{"accuracy": 0.85}, nil)
	ctx := context.Background()
	id := e.register(t, 1, map[string]float64{"accuracy": 0.90})

	resp, err := e.orch.Deploy(ctx, id, "", true)
	if err != nil {
		t.Fatalf("dry run: %v", err)
	}
	if !resp.Success || resp.DeploymentID != "" {
		t.Fatalf("bad dry-run response: %+v", resp)
	}
	if e.eng.Ready() {
		t.Fatal("dry run loaded a model")
	}
	if _, ok, _ := e.reg.ActiveVersion(); ok {
		t.Fatal("dry run activated a version")
	}
	if recs, _ := e.st.Deployments(ctx); len(recs) != 0 {
		t.Fatalf("dry run recorded history: %+v", recs)
	}
}

func TestDeploy_FailingCheckAborts(t *testing.T) {
	boom := errors.New("synthetic failure")
	failing := Check{
		Name: "always-fails",
		Run:  func(ctx context.Context, versionID string) error { return boom },
	}
	e := newEnv(t, nil, []Check{failing})
	id := e.register(t, 1, nil)

	_, err := e.orch.Deploy(context.Background(), id, "", false)
	if !IsCheckFailed(err) {
		t.Fatalf("expected check-failed, got %v", err)
	}
	if !errors.Is(err, boom) {
		t.Fatalf("check cause not wrapped: %v", err)
	}
	if e.eng.Ready() {
		t.Fatal("failed check still deployed")
	}
}

func TestDeploy_SwapFailureRestoresPrevious(t *testing.T) {
	e := newEnv(t, nil, nil)
	ctx := context.Background()

	id1 := e.register(t, 1, nil)
	if _, err := e.orch.Deploy(ctx, id1, "", false); err != nil {
		t.Fatalf("deploy v1: %v", err)
	}

	id2 := e.register(t, 2, nil)
	// Corrupt the stored artifact so the engine cannot load it.
	if err := os.WriteFile(e.reg.ArtifactPath(id2), []byte("not json"), 0o644); err != nil {
		t.Fatalf("corrupt artifact: %v", err)
	}

	_, err := e.orch.Deploy(ctx, id2, "", false)
	if !IsSwapFailed(err) {
		t.Fatalf("expected swap-failed, got %v", err)
	}
	// The previous version must still be serving and active.
	if cur, ok := e.eng.CurrentVersion(); !ok || cur != id1 {
		t.Fatalf("engine serving %q ok=%v after failed swap, want %s", cur, ok, id1)
	}
	if active, ok, aerr := e.reg.ActiveVersion(); aerr != nil || !ok || active != id1 {
		t.Fatalf("active = %q ok=%v err=%v after failed swap", active, ok, aerr)
	}
	recs, _ := e.st.Deployments(ctx)
	if len(recs) != 1 {
		t.Fatalf("failed swap recorded history: %+v", recs)
	}
}

func TestRollback(t *testing.T) {
	e := newEnv(t, nil, nil)
	ctx := context.Background()

	id1 := e.register(t, 1, nil)
	id2 := e.register(t, 2, nil)
	if _, err := e.orch.Deploy(ctx, id1, "", false); err != nil {
		t.Fatalf("deploy v1: %v", err)
	}
	if _, err := e.orch.Deploy(ctx, id2, "", false); err != nil {
		t.Fatalf("deploy v2: %v", err)
	}

	resp, err := e.orch.Rollback(ctx, 1)
	if err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if !resp.Success || resp.Message != "rolled back to "+id1 {
		t.Fatalf("bad rollback response: %+v", resp)
	}
	if cur, ok := e.eng.CurrentVersion(); !ok || cur != id1 {
		t.Fatalf("engine serving %q ok=%v after rollback, want %s", cur, ok, id1)
	}

	// History is append-only: deploy, deploy, rollback.
	recs, err := e.st.Deployments(ctx)
	if err != nil {
		t.Fatalf("deployments: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("expected 3 history records, got %d", len(recs))
	}
	last := recs[2]
	if last.VersionID != id1 || !last.IsRollback {
		t.Fatalf("rollback record wrong: %+v", last)
	}
}

func TestRollback_ZeroStepsDefaultsToOne(t *testing.T) {
	e := newEnv(t, nil, nil)
	ctx := context.Background()
	id1 := e.register(t, 1, nil)
	id2 := e.register(t, 2, nil)
	if _, err := e.orch.Deploy(ctx, id1, "", false); err != nil {
		t.Fatalf("deploy v1: %v", err)
	}
	if _, err := e.orch.Deploy(ctx, id2, "", false); err != nil {
		t.Fatalf("deploy v2: %v", err)
	}
	if _, err := e.orch.Rollback(ctx, 0); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if cur, _ := e.eng.CurrentVersion(); cur != id1 {
		t.Fatalf("serving %q, want %s", cur, id1)
	}
}

func TestRollback_InsufficientHistory(t *testing.T) {
	e := newEnv(t, nil, nil)
	ctx := context.Background()
	id := e.register(t, 1, nil)
	if _, err := e.orch.Deploy(ctx, id, "", false); err != nil {
		t.Fatalf("deploy: %v", err)
	}

	_, err := e.orch.Rollback(ctx, 1)
	if !IsInsufficientHistory(err) {
		t.Fatalf("expected insufficient-history, got %v", err)
	}
	// Nothing changed.
	if cur, ok := e.eng.CurrentVersion(); !ok || cur != id {
		t.Fatalf("serving %q ok=%v, want %s", cur, ok, id)
	}
	if recs, _ := e.st.Deployments(ctx); len(recs) != 1 {
		t.Fatalf("history mutated: %+v", recs)
	}
}

// vanishedEntry mimics a directory entry removed between ReadDir and Info.
type vanishedEntry struct{ name string }

func (e vanishedEntry) Name() string               { return e.name }
func (e vanishedEntry) IsDir() bool                { return true }
func (e vanishedEntry) Type() fs.FileMode          { return fs.ModeDir }
func (e vanishedEntry) Info() (fs.FileInfo, error) { return nil, fs.ErrNotExist }

func TestNewestEntry(t *testing.T) {
	if got := newestEntry(nil); got != nil {
		t.Fatalf("empty input yielded %v", got)
	}
	// Entries that cannot be stat'd are skipped; all-unreadable yields nil.
	if got := newestEntry([]os.DirEntry{vanishedEntry{"v1"}, vanishedEntry{"v2"}}); got != nil {
		t.Fatalf("unreadable entries yielded %v", got)
	}

	dir := t.TempDir()
	for _, name := range []string{"older", "newer"} {
		if err := os.Mkdir(filepath.Join(dir, name), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
	}
	past := time.Now().Add(-time.Hour)
	if err := os.Chtimes(filepath.Join(dir, "older"), past, past); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	got := newestEntry(append(entries, vanishedEntry{"ghost"}))
	if got == nil || got.Name() != "newer" {
		t.Fatalf("newest = %v", got)
	}
}

func TestStatus(t *testing.T) {
	e := newEnv(t, nil, nil)
	ctx := context.Background()

	resp, err := e.orch.Status(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if resp.CurrentVersion != "" || resp.HealthStatus != "healthy" {
		t.Fatalf("empty-system status wrong: %+v", resp)
	}

	id := e.register(t, 1, nil)
	if _, err := e.orch.Deploy(ctx, id, "", false); err != nil {
		t.Fatalf("deploy: %v", err)
	}
	resp, err = e.orch.Status(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if resp.CurrentVersion != id {
		t.Fatalf("current = %q, want %s", resp.CurrentVersion, id)
	}
	if resp.DeploymentTime == "" {
		t.Fatal("missing deployment time")
	}
	if _, err := time.Parse(time.RFC3339, resp.DeploymentTime); err != nil {
		t.Fatalf("deployment time not RFC3339: %q", resp.DeploymentTime)
	}
	if resp.HealthStatus != "healthy" || len(resp.Alerts) != 0 {
		t.Fatalf("unexpected alerts: %+v", resp)
	}
}

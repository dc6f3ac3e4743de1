// Package deploy is the top-level deployment state machine: it verifies a
// requested version, gates it on metric requirements and pluggable checks,
// backs up the current artifact, swaps, records, and can roll back N steps.
package deploy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"pricingd/internal/common/fsutil"
	"pricingd/internal/registry"
	"pricingd/pkg/types"
)

// State is the orchestrator's lifecycle position. Only one deployment runs
// at a time; State is observable for status reporting.
type State string

const (
	StateIdle      State = "idle"
	StateVerifying State = "verifying"
	StateChecking  State = "checking_requirements"
	StateBackingUp State = "backing_up"
	StateSwapping  State = "swapping"
	StateRecording State = "recording"
	StateRestoring State = "restoring"
)

// Catalog is the registry surface the orchestrator consumes.
type Catalog interface {
	Info(ctx context.Context, versionID string) (types.VersionInfo, bool, error)
	Activate(ctx context.Context, versionID string) error
	ArtifactPath(versionID string) string
}

// Engine is the serving surface: swap and current-version lookup.
type Engine interface {
	UpdateModel(ctx context.Context, versionID string) error
	CurrentVersion() (string, bool)
}

// History is the append-only deployment record store.
type History interface {
	AppendDeployment(ctx context.Context, rec types.DeploymentRecord) (int64, error)
	Deployments(ctx context.Context) ([]types.DeploymentRecord, error)
}

// Reporter is the monitor surface feeding status.
type Reporter interface {
	Summary(ctx context.Context, windowHours float64) (types.Summary, error)
	CheckAlerts(ctx context.Context) []string
}

type Config struct {
	Catalog Catalog
	Engine  Engine
	History History
	Monitor Reporter
	// Requirements are metric floors a version must meet to deploy.
	Requirements map[string]float64
	Checks       []Check
	BackupDir    string
	// StatusWindowHours bounds the metrics summary in Status.
	StatusWindowHours float64
	Logger            zerolog.Logger
}

const defaultStatusWindowHours = 24

type Orchestrator struct {
	catalog      Catalog
	engine       Engine
	history      History
	monitor      Reporter
	requirements map[string]float64
	checks       []Check
	backupDir    string
	statusHours  float64
	log          zerolog.Logger

	// Serializes deployments and guards state.
	mu    sync.Mutex
	state State
}

func New(cfg Config) (*Orchestrator, error) {
	if cfg.StatusWindowHours <= 0 {
		cfg.StatusWindowHours = defaultStatusWindowHours
	}
	if err := os.MkdirAll(cfg.BackupDir, 0o755); err != nil {
		return nil, registry.ErrStorage("mkdir backup dir", err)
	}
	return &Orchestrator{
		catalog:      cfg.Catalog,
		engine:       cfg.Engine,
		history:      cfg.History,
		monitor:      cfg.Monitor,
		requirements: cfg.Requirements,
		checks:       cfg.Checks,
		backupDir:    cfg.BackupDir,
		statusHours:  cfg.StatusWindowHours,
		log:          cfg.Logger.With().Str("component", "deploy").Logger(),
		state:        StateIdle,
	}, nil
}

// State returns the orchestrator's current lifecycle position.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) setState(s State) { o.state = s }

// Deploy makes versionID the active serving artifact. Dry runs stop after
// verification, requirements and checks, with no production side effects.
func (o *Orchestrator) Deploy(ctx context.Context, versionID, description string, dryRun bool) (types.DeployResponse, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	defer o.setState(StateIdle)

	o.setState(StateVerifying)
	info, ok, err := o.catalog.Info(ctx, versionID)
	if err != nil {
		return types.DeployResponse{}, registry.ErrStorage("read version metadata", err)
	}
	if !ok {
		return types.DeployResponse{}, registry.ErrVersionNotFound(versionID)
	}

	o.setState(StateChecking)
	if err := o.checkRequirements(info); err != nil {
		return types.DeployResponse{}, err
	}
	for _, c := range o.checks {
		if err := c.Run(ctx, versionID); err != nil {
			return types.DeployResponse{}, ErrCheckFailed(c.Name, err)
		}
	}

	if dryRun {
		o.log.Info().Str("version", versionID).Msg("dry run passed")
		return types.DeployResponse{Success: true, Message: "dry run passed for " + versionID}, nil
	}

	o.setState(StateBackingUp)
	if err := o.backupCurrent(); err != nil {
		return types.DeployResponse{}, err
	}

	o.setState(StateSwapping)
	if err := o.swapTo(ctx, versionID); err != nil {
		o.setState(StateRestoring)
		o.restoreBackup(ctx)
		return types.DeployResponse{}, ErrSwapFailed(err)
	}

	o.setState(StateRecording)
	id, err := o.record(ctx, versionID, description, false)
	if err != nil {
		// The swap already succeeded; reverting a healthy deployment
		// over a bookkeeping failure would be worse than surfacing it.
		o.log.Error().Err(err).Str("version", versionID).Msg("deployment record write failed")
		return types.DeployResponse{}, registry.ErrStorage("record deployment", err)
	}

	o.log.Info().Str("version", versionID).Int64("deployment", id).Msg("deployed")
	return types.DeployResponse{
		Success:      true,
		Message:      "deployed " + versionID,
		DeploymentID: fmt.Sprintf("%d", id),
	}, nil
}

// Rollback redeploys the version that was active before the most recent
// `steps` deployments. It appends to history rather than truncating it, so
// rolling back from a rollback is symmetric.
func (o *Orchestrator) Rollback(ctx context.Context, steps int) (types.RollbackResponse, error) {
	if steps <= 0 {
		steps = 1
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	defer o.setState(StateIdle)

	records, err := o.history.Deployments(ctx)
	if err != nil {
		return types.RollbackResponse{}, registry.ErrStorage("read deployment history", err)
	}
	if len(records) < steps+1 {
		return types.RollbackResponse{}, ErrInsufficientHistory(steps, len(records))
	}
	target := records[len(records)-1-steps]

	o.setState(StateBackingUp)
	if err := o.backupCurrent(); err != nil {
		return types.RollbackResponse{}, err
	}

	o.setState(StateSwapping)
	if err := o.swapTo(ctx, target.VersionID); err != nil {
		o.setState(StateRestoring)
		o.restoreBackup(ctx)
		return types.RollbackResponse{}, ErrSwapFailed(err)
	}

	o.setState(StateRecording)
	if _, err := o.record(ctx, target.VersionID, "rollback to "+target.VersionID, true); err != nil {
		o.log.Error().Err(err).Str("version", target.VersionID).Msg("rollback record write failed")
		return types.RollbackResponse{}, registry.ErrStorage("record rollback", err)
	}

	o.log.Info().Str("version", target.VersionID).Int("steps", steps).Msg("rolled back")
	return types.RollbackResponse{Success: true, Message: "rolled back to " + target.VersionID}, nil
}

// Status reports the current version, its last deployment time, recent
// metric averages and active alerts. healthStatus is derived from the alert
// list, never tracked separately.
func (o *Orchestrator) Status(ctx context.Context) (types.StatusResponse, error) {
	resp := types.StatusResponse{Alerts: []string{}, HealthStatus: "healthy"}

	if cur, ok := o.engine.CurrentVersion(); ok {
		resp.CurrentVersion = cur
		if records, err := o.history.Deployments(ctx); err == nil {
			for i := len(records) - 1; i >= 0; i-- {
				if records[i].VersionID == cur {
					resp.DeploymentTime = records[i].Timestamp.Format(time.RFC3339)
					break
				}
			}
		}
	}

	if summary, err := o.monitor.Summary(ctx, o.statusHours); err == nil {
		resp.Metrics = summary
	} else {
		o.log.Error().Err(err).Msg("status summary failed")
	}
	if alerts := o.monitor.CheckAlerts(ctx); len(alerts) > 0 {
		resp.Alerts = alerts
		resp.HealthStatus = "degraded"
	}
	return resp, nil
}

func (o *Orchestrator) checkRequirements(info types.VersionInfo) error {
	// Sorted iteration keeps failure messages deterministic.
	metrics := make([]string, 0, len(o.requirements))
	for m := range o.requirements {
		metrics = append(metrics, m)
	}
	sort.Strings(metrics)
	for _, metric := range metrics {
		required := o.requirements[metric]
		actual := info.Metrics[metric]
		if actual < required {
			return ErrRequirementNotMet(metric, required, actual)
		}
	}
	return nil
}

// backupCurrent snapshots the current version's artifact directory. Nothing
// active yet means nothing to back up.
func (o *Orchestrator) backupCurrent() error {
	cur, ok := o.engine.CurrentVersion()
	if !ok {
		return nil
	}
	src := filepath.Dir(o.catalog.ArtifactPath(cur))
	if err := fsutil.CopyDir(src, filepath.Join(o.backupDir, cur)); err != nil {
		return registry.ErrStorage("backup", err)
	}
	return nil
}

// restoreBackup reloads the most recent backup so a failed swap never leaves
// the system without a usable artifact. Restore failures are logged; the
// original swap error is what the caller sees.
func (o *Orchestrator) restoreBackup(ctx context.Context) {
	entries, err := os.ReadDir(o.backupDir)
	if err != nil || len(entries) == 0 {
		return
	}
	latest := newestEntry(entries)
	if latest == nil {
		o.log.Error().Str("dir", o.backupDir).Msg("no readable backup entries")
		return
	}
	versionID := latest.Name()

	// Put the backed-up files back under models/ first: a crash between
	// backup and swap may have damaged them, and copying is idempotent.
	dst := filepath.Dir(o.catalog.ArtifactPath(versionID))
	if err := fsutil.CopyDir(filepath.Join(o.backupDir, versionID), dst); err != nil {
		o.log.Error().Err(err).Str("version", versionID).Msg("backup restore copy failed")
		return
	}
	if err := o.catalog.Activate(ctx, versionID); err != nil {
		o.log.Error().Err(err).Str("version", versionID).Msg("backup re-activate failed")
	}
	if err := o.engine.UpdateModel(ctx, versionID); err != nil {
		o.log.Error().Err(err).Str("version", versionID).Msg("backup reload failed")
		return
	}
	o.log.Info().Str("version", versionID).Msg("restored backup version")
}

// newestEntry returns the entry with the most recent mod time, or nil when
// none of the entries can be stat'd (e.g. removed between ReadDir and here).
func newestEntry(entries []os.DirEntry) os.DirEntry {
	var latest os.DirEntry
	var latestMod time.Time
	for _, e := range entries {
		fi, err := e.Info()
		if err != nil {
			continue
		}
		if latest == nil || fi.ModTime().After(latestMod) {
			latest, latestMod = e, fi.ModTime()
		}
	}
	return latest
}

func (o *Orchestrator) swapTo(ctx context.Context, versionID string) error {
	if err := o.catalog.Activate(ctx, versionID); err != nil {
		return err
	}
	return o.engine.UpdateModel(ctx, versionID)
}

func (o *Orchestrator) record(ctx context.Context, versionID, description string, isRollback bool) (int64, error) {
	return o.history.AppendDeployment(ctx, types.DeploymentRecord{
		VersionID:   versionID,
		Timestamp:   time.Now(),
		Description: description,
		IsRollback:  isRollback,
	})
}

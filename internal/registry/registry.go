// Package registry is the durable catalog of artifact versions. It owns the
// filesystem artifact store (models/, active/, archive/) and the metadata
// index kept in the durable store.
package registry

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"pricingd/internal/artifact"
	"pricingd/internal/common/fsutil"
	"pricingd/pkg/types"
)

const (
	// ArtifactFileName is the file each version directory stores its
	// artifact under.
	ArtifactFileName = "model.json"
	metadataFileName = "metadata.json"
)

// Index is the metadata persistence the registry needs from the durable
// store.
type Index interface {
	AppendVersion(ctx context.Context, v types.VersionInfo) error
	GetVersion(ctx context.Context, id string) (types.VersionInfo, bool, error)
	ListVersions(ctx context.Context) ([]types.VersionInfo, error)
	HashExists(ctx context.Context, hash string) (bool, error)
}

type Registry struct {
	baseDir    string
	modelsDir  string
	activeDir  string
	archiveDir string

	idx Index
	log zerolog.Logger

	// Guards filesystem mutations (register/activate). Reads of the
	// active dir are cheap and unguarded.
	mu sync.Mutex
}

// New creates the directory structure under baseDir and returns a Registry
// backed by idx.
func New(baseDir string, idx Index, log zerolog.Logger) (*Registry, error) {
	r := &Registry{
		baseDir:    baseDir,
		modelsDir:  filepath.Join(baseDir, "models"),
		activeDir:  filepath.Join(baseDir, "active"),
		archiveDir: filepath.Join(baseDir, "archive"),
		idx:        idx,
		log:        log.With().Str("component", "registry").Logger(),
	}
	for _, dir := range []string{r.modelsDir, r.activeDir, r.archiveDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, ErrStorage("mkdir", err)
		}
	}
	return r, nil
}

// Register persists a new artifact version and returns its id. The id is
// derived from the registration time and a prefix of the content hash, so it
// is unique and roughly ordered by creation.
func (r *Registry) Register(ctx context.Context, art artifact.Artifact, metrics map[string]float64, description string, tags []string) (string, error) {
	if err := validateMetrics(metrics); err != nil {
		return "", err
	}

	hash := art.Hash()
	now := time.Now()
	versionID := fmt.Sprintf("v%s_%s", now.Format("20060102_150405"), hash[:8])

	if dup, err := r.idx.HashExists(ctx, hash); err == nil && dup {
		// Detectable but not deduplicated: auditors can find the twin
		// via the recorded hash.
		r.log.Warn().Str("hash", hash).Str("version", versionID).Msg("content hash already registered")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	versionDir := filepath.Join(r.modelsDir, versionID)
	if err := os.Mkdir(versionDir, 0o755); err != nil {
		return "", ErrStorage("create version dir", err)
	}
	artPath := filepath.Join(versionDir, ArtifactFileName)
	if err := art.Save(artPath); err != nil {
		return "", ErrStorage("save artifact", err)
	}

	info := types.VersionInfo{
		VersionID:   versionID,
		CreatedAt:   now,
		Description: description,
		Tags:        append([]string(nil), tags...),
		Metrics:     metrics,
		Hash:        hash,
		Path:        artPath,
	}
	if err := writeMetadata(filepath.Join(versionDir, metadataFileName), info); err != nil {
		return "", ErrStorage("write metadata", err)
	}
	if err := r.idx.AppendVersion(ctx, info); err != nil {
		return "", ErrStorage("index version", err)
	}

	r.log.Info().Str("version", versionID).Str("hash", hash[:8]).Msg("registered artifact version")
	return versionID, nil
}

// Activate copies the named version into the active area, moving whatever
// was previously active into the archive. The archive is never pruned;
// growth is the cost of a full audit trail.
func (r *Registry) Activate(ctx context.Context, versionID string) error {
	versionDir := filepath.Join(r.modelsDir, versionID)
	if !fsutil.PathExists(versionDir) {
		return ErrVersionNotFound(versionID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := os.ReadDir(r.activeDir)
	if err != nil {
		return ErrStorage("read active dir", err)
	}
	for _, e := range entries {
		src := filepath.Join(r.activeDir, e.Name())
		dst := filepath.Join(r.archiveDir, e.Name())
		if err := fsutil.MoveDir(src, dst); err != nil {
			return ErrStorage("archive previous active", err)
		}
	}
	if err := fsutil.CopyDir(versionDir, filepath.Join(r.activeDir, versionID)); err != nil {
		return ErrStorage("copy to active", err)
	}
	r.log.Info().Str("version", versionID).Msg("activated artifact version")
	return nil
}

// ActiveVersion reads the active area. More than one entry means the store
// is corrupted; that is reported, not repaired.
func (r *Registry) ActiveVersion() (string, bool, error) {
	entries, err := os.ReadDir(r.activeDir)
	if err != nil {
		return "", false, ErrStorage("read active dir", err)
	}
	switch len(entries) {
	case 0:
		return "", false, nil
	case 1:
		return entries[0].Name(), true, nil
	default:
		return "", false, ErrStorage("active dir", fmt.Errorf("expected at most one active version, found %d", len(entries)))
	}
}

// Info returns the recorded metadata for one version.
func (r *Registry) Info(ctx context.Context, versionID string) (types.VersionInfo, bool, error) {
	return r.idx.GetVersion(ctx, versionID)
}

// List returns versions matching any of tags (all versions when tags is
// empty) whose metrics meet every lower bound in metricMins, ordered by
// descending creation time.
func (r *Registry) List(ctx context.Context, tags []string, metricMins map[string]float64) ([]types.VersionInfo, error) {
	all, err := r.idx.ListVersions(ctx)
	if err != nil {
		return nil, ErrStorage("list versions", err)
	}
	out := all[:0]
	for _, v := range all {
		if len(tags) > 0 && !anyTagMatch(v.Tags, tags) {
			continue
		}
		if !meetsAll(v.Metrics, metricMins) {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

// ArtifactPath returns the canonical artifact file for a version.
func (r *Registry) ArtifactPath(versionID string) string {
	return filepath.Join(r.modelsDir, versionID, ArtifactFileName)
}

func validateMetrics(metrics map[string]float64) error {
	for k, v := range metrics {
		if k == "" {
			return ErrValidation("empty metric name")
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return ErrValidation(fmt.Sprintf("metric %q is not finite", k))
		}
	}
	return nil
}

func anyTagMatch(have, want []string) bool {
	for _, w := range want {
		for _, h := range have {
			if h == w {
				return true
			}
		}
	}
	return false
}

func meetsAll(metrics, mins map[string]float64) bool {
	for name, min := range mins {
		if metrics[name] < min {
			return false
		}
	}
	return true
}

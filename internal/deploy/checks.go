package deploy

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"pricingd/internal/artifact"
	"pricingd/internal/monitor"
)

// Check is a pluggable pre-deployment predicate. A non-nil error aborts the
// deployment before any backup or swap happens.
type Check struct {
	Name string
	Run  func(ctx context.Context, versionID string) error
}

// ArtifactPaths locates the stored artifact for a version.
type ArtifactPaths interface {
	ArtifactPath(versionID string) string
}

// LoadableCheck verifies the target artifact actually loads before the
// serving slot is touched.
func LoadableCheck(loader artifact.Loader, paths ArtifactPaths) Check {
	return Check{
		Name: "artifact-loadable",
		Run: func(ctx context.Context, versionID string) error {
			_, err := loader.Load(paths.ArtifactPath(versionID))
			return err
		},
	}
}

// ResourceCheck gates deployment on system headroom: available memory at or
// above the floor, CPU at or below the ceiling. Zero limits disable the
// corresponding half.
func ResourceCheck(probe monitor.ResourceProbe, minMemoryMB, maxCPUPercent float64) Check {
	return Check{
		Name: "resources",
		Run: func(ctx context.Context, versionID string) error {
			if minMemoryMB > 0 {
				avail, err := probe.AvailableMemoryMB()
				if err != nil {
					return fmt.Errorf("memory probe: %w", err)
				}
				if avail < minMemoryMB {
					return fmt.Errorf("insufficient memory: %.0fMB available, need %.0fMB", avail, minMemoryMB)
				}
			}
			if maxCPUPercent > 0 {
				cpu, err := probe.CPUPercent()
				if err != nil {
					return fmt.Errorf("cpu probe: %w", err)
				}
				if cpu > maxCPUPercent {
					return fmt.Errorf("cpu too high: %.1f%%, limit %.0f%%", cpu, maxCPUPercent)
				}
			}
			return nil
		},
	}
}

// CommandCheck runs an external test command synchronously; a non-zero exit
// fails the check with the tail of its combined output.
func CommandCheck(name string, argv []string) Check {
	return Check{
		Name: name,
		Run: func(ctx context.Context, versionID string) error {
			if len(argv) == 0 {
				return nil
			}
			cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
			out, err := cmd.CombinedOutput()
			if err != nil {
				return fmt.Errorf("%w: %s", err, tail(string(out), 512))
			}
			return nil
		},
	}
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}

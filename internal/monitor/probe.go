package monitor

import (
	"bufio"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// ResourceProbe reports system headroom. It feeds both the health metrics
// and the pre-deployment resource gate.
type ResourceProbe interface {
	AvailableMemoryMB() (float64, error)
	CPUPercent() (float64, error)
}

// procProbe reads /proc. CPU is approximated from the 1-minute load average
// normalized by CPU count; good enough to gate deployments, not a profiler.
type procProbe struct {
	meminfoPath string
	loadavgPath string
	numCPU      int
}

// NewProcProbe returns the /proc-backed probe.
func NewProcProbe() ResourceProbe {
	return &procProbe{meminfoPath: "/proc/meminfo", loadavgPath: "/proc/loadavg", numCPU: runtime.NumCPU()}
}

func (p *procProbe) AvailableMemoryMB() (float64, error) {
	f, err := os.Open(p.meminfoPath)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "MemAvailable:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			break
		}
		kb, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return 0, err
		}
		return kb / 1024, nil
	}
	return 0, fmt.Errorf("MemAvailable not found in %s", p.meminfoPath)
}

func (p *procProbe) CPUPercent() (float64, error) {
	b, err := os.ReadFile(p.loadavgPath)
	if err != nil {
		return 0, err
	}
	fields := strings.Fields(string(b))
	if len(fields) == 0 {
		return 0, fmt.Errorf("empty %s", p.loadavgPath)
	}
	load1, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, err
	}
	if p.numCPU <= 0 {
		p.numCPU = 1
	}
	return load1 / float64(p.numCPU) * 100, nil
}

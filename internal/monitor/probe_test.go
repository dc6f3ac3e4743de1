package monitor

import (
	"runtime"
	"testing"
)

func TestProcProbe(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("proc probe reads /proc, linux only")
	}
	p := NewProcProbe()
	mem, err := p.AvailableMemoryMB()
	if err != nil {
		t.Fatalf("available memory: %v", err)
	}
	if mem <= 0 {
		t.Fatalf("implausible memory reading: %v", mem)
	}
	cpu, err := p.CPUPercent()
	if err != nil {
		t.Fatalf("cpu percent: %v", err)
	}
	if cpu < 0 {
		t.Fatalf("negative cpu reading: %v", cpu)
	}
}

package agewatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// Probe reads the instantaneous utilization of every monitored resource.
type Probe interface {
	Read(ctx context.Context) (Sample, error)
}

// ProbeFunc adapts a function to the Probe interface.
type ProbeFunc func(ctx context.Context) (Sample, error)

// Read calls f.
func (f ProbeFunc) Read(ctx context.Context) (Sample, error) {
	return f(ctx)
}

// HostProbe reads CPU, memory and disk utilization of the local host.
type HostProbe struct {
	// DiskPath is the mount point whose usage is reported. Default: "/".
	DiskPath string
}

// NewHostProbe creates a probe reporting disk usage for diskPath.
func NewHostProbe(diskPath string) *HostProbe {
	if diskPath == "" {
		diskPath = "/"
	}
	return &HostProbe{DiskPath: diskPath}
}

// Read samples the host. CPU utilization is measured since the previous
// call, so the first reading after start may cover a longer window.
func (p *HostProbe) Read(ctx context.Context) (Sample, error) {
	smp := Sample{Timestamp: time.Now().UnixNano()}

	pct, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return Sample{}, fmt.Errorf("read cpu: %w", err)
	}
	if len(pct) == 0 {
		return Sample{}, errors.New("read cpu: no data")
	}
	smp.CPU = clampPercent(pct[0])

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return Sample{}, fmt.Errorf("read memory: %w", err)
	}
	smp.Mem = clampPercent(vm.UsedPercent)

	du, err := disk.UsageWithContext(ctx, p.DiskPath)
	if err != nil {
		return Sample{}, fmt.Errorf("read disk %s: %w", p.DiskPath, err)
	}
	smp.Disk = clampPercent(du.UsedPercent)

	return smp, nil
}

func clampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

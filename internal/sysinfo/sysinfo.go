// Package sysinfo describes the host a daemon runs on. It is collected once
// at startup and reported by the status command so operators can tell
// instances apart.
package sysinfo

import (
	"context"
	"runtime"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
)

// Host contains static information about the machine.
type Host struct {
	Hostname        string `json:"hostname"`
	OS              string `json:"os"`
	Platform        string `json:"platform,omitempty"`
	PlatformVersion string `json:"platform_version,omitempty"`
	KernelVersion   string `json:"kernel_version,omitempty"`
	Arch            string `json:"arch"`
	Virtualization  string `json:"virtualization,omitempty"`
	CPUThreads      int    `json:"cpu_threads,omitempty"`
	MemoryTotal     uint64 `json:"memory_total,omitempty"`
	BootTime        uint64 `json:"boot_time,omitempty"`
}

// Collect gathers host information. Sources that fail are left empty; only
// a done ctx is an error.
func Collect(ctx context.Context) (*Host, error) {
	h := &Host{
		OS:   runtime.GOOS,
		Arch: runtime.GOARCH,
	}

	if info, err := host.InfoWithContext(ctx); err == nil {
		h.Hostname = info.Hostname
		h.Platform = info.Platform
		h.PlatformVersion = info.PlatformVersion
		h.KernelVersion = info.KernelVersion
		h.Virtualization = info.VirtualizationSystem
		h.BootTime = info.BootTime
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	if n, err := cpu.CountsWithContext(ctx, true); err == nil {
		h.CPUThreads = n
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		h.MemoryTotal = vm.Total
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	return h, nil
}

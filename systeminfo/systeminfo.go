// Package systeminfo describes the host a run executed on. The descriptor
// is stored in the run configuration so an audit can tell machines apart.
package systeminfo

import (
	"context"
	"runtime"
	"time"

	"veil/logger"
	"veil/version"

	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
)

type Host struct {
	Hostname        string `json:"hostname,omitempty"`
	OS              string `json:"os"`
	Platform        string `json:"platform,omitempty"`
	PlatformFamily  string `json:"platform_family,omitempty"`
	PlatformVersion string `json:"platform_version,omitempty"`
	KernelVersion   string `json:"kernel_version,omitempty"`
	KernelArch      string `json:"kernel_arch,omitempty"`
	Virtualization  string `json:"virtualization,omitempty"`
	BootTime        string `json:"boot_time,omitempty"`
	NumCPU          int    `json:"num_cpu"`
	MemoryTotal     uint64 `json:"memory_total_bytes,omitempty"`
	GoVersion       string `json:"go_version"`
	ToolVersion     string `json:"tool_version"`
}

// Describe gathers the host descriptor. Lookups that fail are logged and
// left empty; the runtime fields are always filled.
func Describe(ctx context.Context) *Host {
	h := &Host{
		OS:          runtime.GOOS,
		KernelArch:  runtime.GOARCH,
		NumCPU:      runtime.NumCPU(),
		GoVersion:   runtime.Version(),
		ToolVersion: version.Version,
	}

	info, err := host.InfoWithContext(ctx)
	if err != nil {
		logger.Warnf("Failed to gather host info: %v", err)
	} else {
		h.Hostname = info.Hostname
		if info.OS != "" {
			h.OS = info.OS
		}
		h.Platform = info.Platform
		h.PlatformFamily = info.PlatformFamily
		h.PlatformVersion = info.PlatformVersion
		h.KernelVersion = info.KernelVersion
		if info.KernelArch != "" {
			h.KernelArch = info.KernelArch
		}
		if info.VirtualizationSystem != "" {
			h.Virtualization = info.VirtualizationSystem + "/" + info.VirtualizationRole
		}
		if info.BootTime > 0 {
			h.BootTime = time.Unix(int64(info.BootTime), 0).UTC().Format(time.RFC3339)
		}
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		logger.Warnf("Failed to gather memory info: %v", err)
	} else {
		h.MemoryTotal = vm.Total
	}
	return h
}

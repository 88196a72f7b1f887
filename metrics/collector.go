// Package metrics 采集主机与进程指标，供 /stats 与定时统计日志使用。
package metrics

import (
	"context"
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

const gb = 1024 * 1024 * 1024

// Snapshot 一次采样结果，采集失败的字段保持零值。
type Snapshot struct {
	CPULoad        float64 `json:"cpu_load"`
	CPUProcessors  int     `json:"cpu_processors"`
	Goroutines     int     `json:"goroutines"`
	DiskTotalGB    float64 `json:"disk_total_gb"`
	DiskUsedGB     float64 `json:"disk_used_gb"`
	DiskUsageRatio float64 `json:"disk_usage_ratio"`
	HostMemoryGB   float64 `json:"host_memory_gb"`
	ProcRSSGB      float64 `json:"proc_rss_gb"`
	ProcMemUsage   float64 `json:"proc_mem_usage"`
	Score          float64 `json:"score"`
}

// Collect 采集系统/进程指标。
// 参数：diskPath 统计磁盘占用的挂载点，空则为 "/"。
func Collect(ctx context.Context, diskPath string) Snapshot {
	if diskPath == "" {
		diskPath = "/"
	}
	out := Snapshot{CPUProcessors: runtime.NumCPU(), Goroutines: runtime.NumGoroutine()}
	if avg, err := load.AvgWithContext(ctx); err == nil {
		out.CPULoad = avg.Load1
	}
	if du, err := disk.UsageWithContext(ctx, diskPath); err == nil && du.Total > 0 {
		out.DiskTotalGB = float64(du.Total) / gb
		out.DiskUsedGB = float64(du.Used) / gb
		out.DiskUsageRatio = du.UsedPercent / 100.0
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil && vm.Total > 0 {
		out.HostMemoryGB = float64(vm.Total) / gb
	}
	if p, err := process.NewProcessWithContext(ctx, int32(os.Getpid())); err == nil {
		if pm, err := p.MemoryInfoWithContext(ctx); err == nil && pm != nil {
			out.ProcRSSGB = float64(pm.RSS) / gb
			if out.HostMemoryGB > 0 {
				out.ProcMemUsage = out.ProcRSSGB / out.HostMemoryGB
			}
		}
	}
	out.Score = score(out)
	return out
}

// score 0~100 的健康分，负载、磁盘与内存占用越高分越低。
func score(s Snapshot) float64 {
	v := 100.0
	if s.CPULoad > 0 {
		v -= s.CPULoad * 5
	}
	if s.DiskUsageRatio > 0 {
		v -= s.DiskUsageRatio * 20
	}
	if s.ProcMemUsage > 0 {
		v -= s.ProcMemUsage * 30
	}
	if v < 0 {
		v = 0
	}
	return v
}

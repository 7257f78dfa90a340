// Package statsutil derives usage figures from raw Engine stats samples.
package statsutil

import (
	"github.com/docker/docker/api/types/container"
)

// Usage is the condensed view of one stats sample.
type Usage struct {
	CPUPercent    float64 `json:"cpuPercent"`
	MemoryUsage   uint64  `json:"memoryUsage"`
	MemoryLimit   uint64  `json:"memoryLimit"`
	MemoryPercent float64 `json:"memoryPercent"`
	NetworkRx     uint64  `json:"networkRx"`
	NetworkTx     uint64  `json:"networkTx"`
	BlockRead     uint64  `json:"blockRead"`
	BlockWrite    uint64  `json:"blockWrite"`
	PIDs          uint64  `json:"pids"`
}

// Summarize condenses a stats sample.
func Summarize(stats *container.StatsResponse) Usage {
	if stats == nil {
		return Usage{}
	}
	return Usage{
		CPUPercent:    CPUPercent(stats),
		MemoryUsage:   MemoryUsage(stats),
		MemoryLimit:   stats.MemoryStats.Limit,
		MemoryPercent: MemoryPercent(stats),
		NetworkRx:     NetworkRx(stats),
		NetworkTx:     NetworkTx(stats),
		BlockRead:     BlockRead(stats),
		BlockWrite:    BlockWrite(stats),
		PIDs:          stats.PidsStats.Current,
	}
}

// CPUPercent computes CPU usage between the sample and its predecessor,
// scaled by the number of online CPUs.
func CPUPercent(stats *container.StatsResponse) float64 {
	cpu := stats.CPUStats.CPUUsage.TotalUsage
	preCPU := stats.PreCPUStats.CPUUsage.TotalUsage
	system := stats.CPUStats.SystemUsage
	preSystem := stats.PreCPUStats.SystemUsage
	if cpu <= preCPU || system <= preSystem {
		return 0.0
	}

	cpus := float64(stats.CPUStats.OnlineCPUs)
	if cpus == 0 {
		// cgroup v1 daemons leave OnlineCPUs unset
		cpus = float64(len(stats.CPUStats.CPUUsage.PercpuUsage))
	}
	if cpus == 0 {
		cpus = 1
	}

	return float64(cpu-preCPU) / float64(system-preSystem) * cpus * 100.0
}

// MemoryUsage returns the working set: raw usage minus reclaimable page cache.
func MemoryUsage(stats *container.StatsResponse) uint64 {
	usage := stats.MemoryStats.Usage
	cache, ok := stats.MemoryStats.Stats["inactive_file"] // cgroup v2
	if !ok {
		cache = stats.MemoryStats.Stats["total_inactive_file"] // cgroup v1
	}
	if cache < usage {
		return usage - cache
	}
	return usage
}

// MemoryPercent returns the working set as a share of the limit.
func MemoryPercent(stats *container.StatsResponse) float64 {
	if stats.MemoryStats.Limit == 0 {
		return 0.0
	}
	return float64(MemoryUsage(stats)) / float64(stats.MemoryStats.Limit) * 100.0
}

// NetworkRx returns total received bytes across all network interfaces.
func NetworkRx(stats *container.StatsResponse) uint64 {
	var total uint64
	for _, v := range stats.Networks {
		total += v.RxBytes
	}
	return total
}

// NetworkTx returns total transmitted bytes across all network interfaces.
func NetworkTx(stats *container.StatsResponse) uint64 {
	var total uint64
	for _, v := range stats.Networks {
		total += v.TxBytes
	}
	return total
}

// BlockRead returns total bytes read from block devices.
func BlockRead(stats *container.StatsResponse) uint64 {
	return blkio(stats, "read")
}

// BlockWrite returns total bytes written to block devices.
func BlockWrite(stats *container.StatsResponse) uint64 {
	return blkio(stats, "write")
}

func blkio(stats *container.StatsResponse, op string) uint64 {
	var total uint64
	for _, entry := range stats.BlkioStats.IoServiceBytesRecursive {
		if entry.Op == op || entry.Op == capitalize(op) {
			total += entry.Value
		}
	}
	return total
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return string(s[0]-'a'+'A') + s[1:]
}

// Package sensors provides gopsutil-backed metric producers for the
// local host. Each collector gathers one section's metric values; the
// Runner feeds them through change detection into the aggregator
// pipeline. How a given metric is computed lives entirely here;
// downstream components only see section field maps.
package sensors

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	psnet "github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"
)

// Collector gathers one section's current metric values.
type Collector interface {
	// Section is the record section this collector feeds.
	Section() string

	// Collect returns the current metric values.
	Collect() (map[string]any, error)
}

// ComputeCollector samples CPU utilization and load.
type ComputeCollector struct{}

func (ComputeCollector) Section() string { return "compute" }

// cpuPercent is stubbed in tests.
var cpuPercent = cpu.Percent

func (ComputeCollector) Collect() (map[string]any, error) {
	percents, err := cpuPercent(0, false)
	if err != nil {
		return nil, fmt.Errorf("cpu sample failed: %w", err)
	}
	if len(percents) == 0 {
		return nil, fmt.Errorf("cpu sample returned no values")
	}

	fields := map[string]any{
		"cpu_percent": percents[0],
	}
	if counts, err := cpu.Counts(true); err == nil {
		fields["cpu_count"] = counts
	}
	if avg, err := load.Avg(); err == nil {
		fields["load_average_1m"] = avg.Load1
		fields["load_average_5m"] = avg.Load5
		fields["load_average_15m"] = avg.Load15
	}
	return fields, nil
}

// MemoryCollector samples virtual memory and swap.
type MemoryCollector struct{}

func (MemoryCollector) Section() string { return "memory" }

func (MemoryCollector) Collect() (map[string]any, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return nil, fmt.Errorf("memory sample failed: %w", err)
	}

	fields := map[string]any{
		"memory_percent":  vm.UsedPercent,
		"memory_used_mb":  float64(vm.Used) / 1024 / 1024,
		"memory_total_mb": float64(vm.Total) / 1024 / 1024,
	}
	if swap, err := mem.SwapMemory(); err == nil {
		fields["swap_percent"] = swap.UsedPercent
	}
	return fields, nil
}

// StorageCollector samples filesystem usage for one mount point.
type StorageCollector struct {
	// Mount is the path to sample; defaults to "/".
	Mount string
}

func (StorageCollector) Section() string { return "storage" }

func (c StorageCollector) Collect() (map[string]any, error) {
	mount := c.Mount
	if mount == "" {
		mount = "/"
	}

	usage, err := disk.Usage(mount)
	if err != nil {
		return nil, fmt.Errorf("storage sample failed for %s: %w", mount, err)
	}

	return map[string]any{
		"disk_percent":  usage.UsedPercent,
		"disk_used_gb":  float64(usage.Used) / 1024 / 1024 / 1024,
		"disk_total_gb": float64(usage.Total) / 1024 / 1024 / 1024,
		"mount":         mount,
	}, nil
}

// NetworkCollector samples connection counts and interface IO.
type NetworkCollector struct{}

func (NetworkCollector) Section() string { return "network" }

func (NetworkCollector) Collect() (map[string]any, error) {
	conns, err := psnet.Connections("inet")
	if err != nil {
		return nil, fmt.Errorf("network sample failed: %w", err)
	}

	established := 0
	listening := 0
	for _, conn := range conns {
		switch conn.Status {
		case "ESTABLISHED":
			established++
		case "LISTEN":
			listening++
		}
	}

	fields := map[string]any{
		"connections_total":       len(conns),
		"connections_established": established,
		"connections_listening":   listening,
	}
	if counters, err := psnet.IOCounters(false); err == nil && len(counters) > 0 {
		fields["bytes_sent"] = counters[0].BytesSent
		fields["bytes_recv"] = counters[0].BytesRecv
	}
	return fields, nil
}

// ServicesCollector samples the process population as a coarse view of
// what is running on the asset.
type ServicesCollector struct{}

func (ServicesCollector) Section() string { return "services" }

func (ServicesCollector) Collect() (map[string]any, error) {
	pids, err := process.Pids()
	if err != nil {
		return nil, fmt.Errorf("services sample failed: %w", err)
	}
	return map[string]any{
		"process_count": len(pids),
	}, nil
}

// HostCollectors returns the default collector set for a host asset.
func HostCollectors() []Collector {
	return []Collector{
		ComputeCollector{},
		MemoryCollector{},
		StorageCollector{},
		NetworkCollector{},
		ServicesCollector{},
	}
}

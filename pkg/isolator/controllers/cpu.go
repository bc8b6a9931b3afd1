package controllers

import (
	"fmt"
	"time"

	"github.com/oceanweave/cg2-isolator/pkg/isolator/types"
	specs "github.com/opencontainers/runtime-spec/specs-go"
)

const (
	cpuMaxFile    = "cpu.max"
	cpuWeightFile = "cpu.weight"
	cpuStatFile   = "cpu.stat"

	// cpu.max 的默认调度周期，微秒
	defaultCPUPeriod = 100000
)

type cpu struct {
	base
}

func newCPU(flags *types.Flags, dm DeviceManager) (Controller, error) {
	return &cpu{base{name: "cpu"}}, nil
}

// weightFromShares 把 v1 的 cpu.shares [2, 262144] 映射到 v2 的 cpu.weight [1, 10000]
// 与 runc 使用同一条换算公式，保证两代内核下调度倾斜一致
func weightFromShares(shares uint64) uint64 {
	return 1 + ((shares-2)*9999)/262142
}

func (c *cpu) Update(id types.ContainerID, cgroup string, requests *specs.LinuxResources, limits map[string]float64) error {
	if requests != nil && requests.CPU != nil && requests.CPU.Shares != nil {
		weight := weightFromShares(*requests.CPU.Shares)
		if err := writeControl(cgroup, cpuWeightFile, fmt.Sprintf("%d", weight)); err != nil {
			return err
		}
	}

	// 硬上限优先取 limits 中的 cpus(核数)，否则取 requests 里的 quota/period
	period := uint64(defaultCPUPeriod)
	if requests != nil && requests.CPU != nil && requests.CPU.Period != nil && *requests.CPU.Period > 0 {
		period = *requests.CPU.Period
	}

	quota := "max"
	if cores, ok := limits["cpus"]; ok && cores > 0 {
		quota = fmt.Sprintf("%d", int64(cores*float64(period)))
	} else if requests != nil && requests.CPU != nil && requests.CPU.Quota != nil && *requests.CPU.Quota > 0 {
		quota = fmt.Sprintf("%d", *requests.CPU.Quota)
	}

	return writeControl(cgroup, cpuMaxFile, fmt.Sprintf("%s %d", quota, period))
}

func (c *cpu) Usage(id types.ContainerID, cgroup string) (*types.Statistics, error) {
	stat, err := readStat(cgroup, cpuStatFile)
	if err != nil {
		return nil, err
	}
	return &types.Statistics{
		Timestamp: time.Now(),
		CPU: &types.CPUStatistics{
			UsageUsec:     stat["usage_usec"],
			UserUsec:      stat["user_usec"],
			SystemUsec:    stat["system_usec"],
			NrPeriods:     stat["nr_periods"],
			NrThrottled:   stat["nr_throttled"],
			ThrottledUsec: stat["throttled_usec"],
		},
	}, nil
}

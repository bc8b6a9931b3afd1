package controllers

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/oceanweave/cg2-isolator/pkg/isolator/types"
	specs "github.com/opencontainers/runtime-spec/specs-go"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	memoryMaxFile      = "memory.max"
	memoryLowFile      = "memory.low"
	memorySwapMaxFile  = "memory.swap.max"
	memoryCurrentFile  = "memory.current"
	memorySwapCurrent  = "memory.swap.current"
	memoryStatFile     = "memory.stat"
	memoryEventsFile   = "memory.events"
	memoryPressureFile = "memory.pressure"

	// OOM 检测的轮询间隔
	// 目录 watch 不在本模块范围内，memory.events 靠轮询读取
	memoryWatchInterval = time.Second
)

type memory struct {
	base
	// 是否允许容器使用 swap，为 false 时 prepare 阶段写 memory.swap.max=0
	limitSwap bool
}

func newMemory(flags *types.Flags, dm DeviceManager) (Controller, error) {
	limitSwap := false
	if flags != nil {
		limitSwap = flags.CgroupsLimitSwap
	}
	return &memory{base: base{name: "memory"}, limitSwap: limitSwap}, nil
}

func (m *memory) Prepare(id types.ContainerID, cgroup string, cfg *types.ContainerConfig) error {
	if !m.limitSwap {
		return writeControl(cgroup, memorySwapMaxFile, "0")
	}
	return nil
}

func (m *memory) Update(id types.ContainerID, cgroup string, requests *specs.LinuxResources, limits map[string]float64) error {
	// mem 上限优先取 limits(单位 MB)，否则取 requests 中的字节数
	max := int64(-1)
	if mb, ok := limits["mem"]; ok && mb > 0 {
		max = int64(mb * 1024 * 1024)
	} else if requests != nil && requests.Memory != nil && requests.Memory.Limit != nil {
		max = *requests.Memory.Limit
	}
	if max >= 0 {
		if err := writeControl(cgroup, memoryMaxFile, strconv.FormatInt(max, 10)); err != nil {
			return err
		}
	}

	if requests != nil && requests.Memory != nil && requests.Memory.Reservation != nil {
		if err := writeControl(cgroup, memoryLowFile, strconv.FormatInt(*requests.Memory.Reservation, 10)); err != nil {
			return err
		}
	}

	if m.limitSwap && requests != nil && requests.Memory != nil && requests.Memory.Swap != nil {
		// specs 里的 Swap 是 memory+swap 总量，v2 的 swap.max 只算 swap 部分
		swap := *requests.Memory.Swap
		if max >= 0 && swap >= max {
			swap -= max
		}
		if err := writeControl(cgroup, memorySwapMaxFile, strconv.FormatInt(swap, 10)); err != nil {
			return err
		}
	}
	return nil
}

// Watch 轮询 memory.events，oom_kill 计数增长即上报一次资源违规
func (m *memory) Watch(ctx context.Context, id types.ContainerID, cgroup string) (<-chan types.Limitation, error) {
	baseline, err := m.oomKills(cgroup)
	if err != nil {
		return nil, err
	}

	ch := make(chan types.Limitation, 1)
	go func() {
		ticker := time.NewTicker(memoryWatchInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			kills, err := m.oomKills(cgroup)
			if err != nil {
				// cleanup 进行中 cgroup 可能已被删除，watch 随之结束
				log.Debugf("Stop watching memory events of container %s: %v", id, err)
				return
			}
			if kills > baseline {
				usage, _, _ := readUint(cgroup, memoryCurrentFile)
				ch <- types.Limitation{
					Controller: "memory",
					Resource:   "mem",
					Reason:     fmt.Sprintf("Memory limit exceeded, OOM killer invoked for container %s", id),
					Amount:     usage,
				}
				return
			}
		}
	}()
	return ch, nil
}

func (m *memory) oomKills(cgroup string) (uint64, error) {
	stat, err := readStat(cgroup, memoryEventsFile)
	if err != nil {
		return 0, err
	}
	return stat["oom_kill"], nil
}

func (m *memory) Usage(id types.ContainerID, cgroup string) (*types.Statistics, error) {
	usage, _, err := readUint(cgroup, memoryCurrentFile)
	if err != nil {
		return nil, err
	}

	stats := &types.MemoryStatistics{UsageBytes: usage}

	// swap 未必开启，读取失败只降级不报错
	if swap, ok, err := readUint(cgroup, memorySwapCurrent); err == nil && ok {
		stats.SwapBytes = swap
	}
	if detail, err := readStat(cgroup, memoryStatFile); err == nil {
		stats.AnonBytes = detail["anon"]
		stats.FileBytes = detail["file"]
		stats.KernelBytes = detail["kernel"]
	}
	if events, err := readStat(cgroup, memoryEventsFile); err == nil {
		stats.OOMKills = events["oom_kill"]
	}

	return &types.Statistics{Timestamp: time.Now(), Memory: stats}, nil
}

func (m *memory) Status(id types.ContainerID, cgroup string) (*types.Status, error) {
	pressure, err := readControl(cgroup, memoryPressureFile)
	if err != nil {
		return &types.Status{}, nil
	}
	status := &types.Status{}
	// 形如 "some avg10=0.00 avg60=0.00 avg300=0.00 total=0"
	for _, line := range strings.Split(pressure, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 || fields[0] != "some" {
			continue
		}
		p := &types.PressureStatus{}
		for _, field := range fields[1:] {
			key, value, found := strings.Cut(field, "=")
			if !found {
				continue
			}
			avg, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return nil, errors.Wrapf(err, "parse memory.pressure of cgroup %s", cgroup)
			}
			switch key {
			case "avg10":
				p.Avg10 = avg
			case "avg60":
				p.Avg60 = avg
			case "avg300":
				p.Avg300 = avg
			}
		}
		status.MemoryPressure = p
	}
	return status, nil
}

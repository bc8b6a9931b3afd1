package controllers

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/oceanweave/cg2-isolator/pkg/isolator/types"
	specs "github.com/opencontainers/runtime-spec/specs-go"
)

type hugetlb struct {
	base
}

func newHugetlb(flags *types.Flags, dm DeviceManager) (Controller, error) {
	return &hugetlb{base{name: "hugetlb"}}, nil
}

func (h *hugetlb) Update(id types.ContainerID, cgroup string, requests *specs.LinuxResources, limits map[string]float64) error {
	if requests == nil {
		return nil
	}
	for _, limit := range requests.HugepageLimits {
		file := fmt.Sprintf("hugetlb.%s.max", limit.Pagesize)
		if err := writeControl(cgroup, file, strconv.FormatUint(limit.Limit, 10)); err != nil {
			return err
		}
	}
	return nil
}

func (h *hugetlb) Usage(id types.ContainerID, cgroup string) (*types.Statistics, error) {
	// 页大小靠枚举磁盘上的 hugetlb.<size>.current 文件发现
	matches, err := filepath.Glob(filepath.Join(cgroup, "hugetlb.*.current"))
	if err != nil {
		return nil, err
	}

	stats := make(map[string]types.HugetlbStatistics, len(matches))
	for _, match := range matches {
		name := filepath.Base(match)
		size := strings.TrimSuffix(strings.TrimPrefix(name, "hugetlb."), ".current")

		usage, _, err := readUint(cgroup, name)
		if err != nil {
			return nil, err
		}
		stat := types.HugetlbStatistics{UsageBytes: usage}
		if limit, ok, err := readUint(cgroup, fmt.Sprintf("hugetlb.%s.max", size)); err == nil && ok {
			stat.LimitBytes = limit
		}
		stats[size] = stat
	}
	return &types.Statistics{Timestamp: time.Now(), Hugetlb: stats}, nil
}

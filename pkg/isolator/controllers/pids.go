package controllers

import (
	"strconv"
	"time"

	"github.com/oceanweave/cg2-isolator/pkg/isolator/types"
	specs "github.com/opencontainers/runtime-spec/specs-go"
)

const (
	pidsMaxFile     = "pids.max"
	pidsCurrentFile = "pids.current"
)

type pids struct {
	base
}

func newPids(flags *types.Flags, dm DeviceManager) (Controller, error) {
	return &pids{base{name: "pids"}}, nil
}

func (p *pids) Update(id types.ContainerID, cgroup string, requests *specs.LinuxResources, limits map[string]float64) error {
	max := int64(0)
	if n, ok := limits["pids"]; ok && n > 0 {
		max = int64(n)
	} else if requests != nil && requests.Pids != nil && requests.Pids.Limit > 0 {
		max = requests.Pids.Limit
	}
	if max == 0 {
		return nil
	}
	return writeControl(cgroup, pidsMaxFile, strconv.FormatInt(max, 10))
}

func (p *pids) Usage(id types.ContainerID, cgroup string) (*types.Statistics, error) {
	current, _, err := readUint(cgroup, pidsCurrentFile)
	if err != nil {
		return nil, err
	}
	stats := &types.PidsStatistics{Current: current}
	if limit, ok, err := readUint(cgroup, pidsMaxFile); err == nil && ok {
		stats.Limit = limit
	}
	return &types.Statistics{Timestamp: time.Now(), Pids: stats}, nil
}

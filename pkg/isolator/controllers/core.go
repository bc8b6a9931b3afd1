package controllers

import (
	"path/filepath"

	"github.com/oceanweave/cg2-isolator/pkg/cgroups2"
	"github.com/oceanweave/cg2-isolator/pkg/constant"
	"github.com/oceanweave/cg2-isolator/pkg/isolator/types"
)

// core 始终开启
// cgroup.* 控制文件在每个 cgroup 中都存在，core 基于它们提供进程数统计
type core struct {
	base
}

func newCore(flags *types.Flags, dm DeviceManager) (Controller, error) {
	return &core{base{name: "core"}}, nil
}

func (c *core) Usage(id types.ContainerID, cgroup string) (*types.Statistics, error) {
	// 进程都在叶子 cgroup 里，非叶子的 cgroup.procs 恒为空
	pids, err := cgroups2.Processes(filepath.Join(cgroup, constant.LeafCgroup))
	if err != nil {
		return nil, err
	}
	return &types.Statistics{Processes: uint64(len(pids))}, nil
}

func (c *core) Status(id types.ContainerID, cgroup string) (*types.Status, error) {
	pids, err := cgroups2.Processes(filepath.Join(cgroup, constant.LeafCgroup))
	if err != nil {
		return nil, err
	}
	return &types.Status{Cgroup: cgroup, Pids: pids}, nil
}

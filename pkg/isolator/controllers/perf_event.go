package controllers

import (
	"github.com/oceanweave/cg2-isolator/pkg/isolator/types"
)

// perf_event 是隐式 controller，不出现在 cgroup.controllers 中，
// 对每个 cgroup 天然可用。挂上它只是为了让 perf 能按容器分组采样，
// 本身没有任何控制文件需要操作
type perfEvent struct {
	base
}

func newPerfEvent(flags *types.Flags, dm DeviceManager) (Controller, error) {
	return &perfEvent{base{name: "perf_event"}}, nil
}

package controllers

import (
	"context"
	"sort"

	"github.com/oceanweave/cg2-isolator/pkg/isolator/types"
	specs "github.com/opencontainers/runtime-spec/specs-go"
	"github.com/pkg/errors"
)

// Controller 每种资源 controller 实现的统一接口
// 方法都以容器的非叶子 cgroup 路径为操作对象，controller 之间没有共享状态
type Controller interface {
	// Name 返回 controller 名称，比如 cpu、memory
	Name() string
	// Prepare 容器创建时的一次性初始化，例如禁用 swap
	Prepare(id types.ContainerID, cgroup string, cfg *types.ContainerConfig) error
	// Isolate 在 launcher 把进程写入叶子 cgroup 之后调用
	Isolate(id types.ContainerID, cgroup string, pid int) error
	// Watch 返回一个资源违规事件通道，检测到违规时发送一次
	// 不做检测的 controller 返回 nil 通道；ctx 取消后必须退出
	Watch(ctx context.Context, id types.ContainerID, cgroup string) (<-chan types.Limitation, error)
	// Update 应用新的资源请求与上限，相同输入下幂等
	Update(id types.ContainerID, cgroup string, requests *specs.LinuxResources, limits map[string]float64) error
	// Usage 采集即时统计
	Usage(id types.ContainerID, cgroup string) (*types.Statistics, error)
	// Status 采集即时状态
	Status(id types.ContainerID, cgroup string) (*types.Status, error)
	// Recover agent 重启后从磁盘上的 cgroup 文件恢复内存状态
	Recover(id types.ContainerID, cgroup string) error
	// Cleanup 释放 controller 自身的状态，必须容忍 Prepare 从未执行过；
	// cgroup 目录本身由 isolator 在所有 controller 清理完后删除
	Cleanup(id types.ContainerID, cgroup string) error
}

// DeviceManager 设备访问控制的协作方接口，由宿主注入
// devices controller 只负责在容器生命周期的对应节点调用它
type DeviceManager interface {
	Configure(id types.ContainerID, cgroup string) error
	Recover(ids []types.ContainerID) error
	Remove(id types.ContainerID) error
}

// core、perf_event、devices 不出现在 cgroup.controllers 中，
// 不能写入 cgroup.subtree_control，隐式存在于每个 cgroup
var implicit = map[string]struct{}{
	"core":       {},
	"perf_event": {},
	"devices":    {},
}

// Implicit 判断 controller 是否为隐式 controller
func Implicit(name string) bool {
	_, ok := implicit[name]
	return ok
}

type creator func(flags *types.Flags, dm DeviceManager) (Controller, error)

// 键是 isolation 配置里的 token，token 和内核 controller 名称不完全一致，
// 比如 cgroups/mem 对应的 controller 名为 memory
var creators = map[string]creator{
	"core":       newCore,
	"cpu":        newCPU,
	"mem":        newMemory,
	"io":         newIO,
	"pids":       newPids,
	"cpuset":     newCpuset,
	"hugetlb":    newHugetlb,
	"perf_event": newPerfEvent,
	"devices":    newDevices,
}

// Known 返回所有支持的 isolation token
func Known() []string {
	var names []string
	for name := range creators {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Supported 判断 token 是否对应一个受支持的 controller
func Supported(token string) bool {
	_, ok := creators[token]
	return ok
}

// Create 按 token 构造 controller 集合，结果以 controller 名称为键
func Create(tokens []string, flags *types.Flags, dm DeviceManager) (map[string]Controller, error) {
	controllers := make(map[string]Controller, len(tokens))
	for _, token := range tokens {
		create, ok := creators[token]
		if !ok {
			return nil, errors.Errorf("cgroups v2 controller %q is not supported", token)
		}
		controller, err := create(flags, dm)
		if err != nil {
			return nil, errors.Wrapf(err, "create controller %q", token)
		}
		controllers[controller.Name()] = controller
	}
	return controllers, nil
}

// base 提供各方法的空实现，controller 按需覆盖
type base struct {
	name string
}

func (b *base) Name() string { return b.name }

func (b *base) Prepare(types.ContainerID, string, *types.ContainerConfig) error { return nil }

func (b *base) Isolate(types.ContainerID, string, int) error { return nil }

func (b *base) Watch(context.Context, types.ContainerID, string) (<-chan types.Limitation, error) {
	return nil, nil
}

func (b *base) Update(types.ContainerID, string, *specs.LinuxResources, map[string]float64) error {
	return nil
}

func (b *base) Usage(types.ContainerID, string) (*types.Statistics, error) {
	return &types.Statistics{}, nil
}

func (b *base) Status(types.ContainerID, string) (*types.Status, error) {
	return &types.Status{}, nil
}

func (b *base) Recover(types.ContainerID, string) error { return nil }

func (b *base) Cleanup(types.ContainerID, string) error { return nil }

package types

import (
	"encoding/json"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

/*
	prepare 成功后返回给 launcher 的启动指令
	launcher 据此克隆命名空间、完成容器内的 cgroup 挂载，
	并在把进程写入叶子 cgroup 的 cgroup.procs 之后才调用 isolate
*/

// Mount 容器启动时需要执行的一条挂载指令
type Mount struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Flags  uint   `json:"flags"`
}

// LaunchInfo 启动指令集合
type LaunchInfo struct {
	// 需要新建的命名空间，CLONE_NEWCGROUP / CLONE_NEWNS 等 clone 标志位
	CloneNamespaces []int   `json:"clone_namespaces,omitempty"`
	Mounts          []Mount `json:"mounts,omitempty"`
	// 追加到被启动命令上的参数
	Arguments []string `json:"arguments,omitempty"`
}

// BindMount 构造一条递归 bind 挂载指令
func BindMount(source, target string) Mount {
	return Mount{
		Source: source,
		Target: target,
		Flags:  unix.MS_BIND | unix.MS_REC,
	}
}

// TaskLaunchArgument 将启动指令包装为 --task_launch_info=<json> 参数
// command task 的 cgroup 挂载必须发生在 task 自己的 mount namespace 中，
// 而不是 executor 的，所以借助参数把指令透传给 command executor
func (l *LaunchInfo) TaskLaunchArgument() (string, error) {
	data, err := json.Marshal(l)
	if err != nil {
		return "", errors.Wrap(err, "marshal launch info")
	}
	return "--task_launch_info=" + string(data), nil
}

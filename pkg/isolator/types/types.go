package types

import (
	"time"

	specs "github.com/opencontainers/runtime-spec/specs-go"
)

// ContainerClass 区分普通容器和 debug 容器
type ContainerClass int

const (
	ClassDefault ContainerClass = iota
	ClassDebug
)

// Flags agent 传入的配置
type Flags struct {
	// 配置的根 cgroup 绝对路径，例如 /sys/fs/cgroup/containers
	CgroupsRoot string
	// 逗号分隔的隔离配置，cgroups/ 前缀的 token 选择 controller，
	// cgroups/all 开启全部，其余 token 忽略
	Isolation string
	// agent 自身所在的保留 cgroup 名称
	AgentCgroup string
	// 为 false 时在 prepare 阶段写入 memory.swap.max=0 禁用交换
	CgroupsLimitSwap bool
	// 销毁单个 cgroup 子树的超时
	CgroupsDestroyTimeout time.Duration
}

// LinuxInfo 容器的 linux 专属配置
type LinuxInfo struct {
	// 嵌套容器是否共享父容器的 cgroup，不设置时默认共享
	ShareCgroups *bool
}

// ContainerInfo 容器描述信息中与本模块相关的部分
type ContainerInfo struct {
	LinuxInfo *LinuxInfo
}

// TaskInfo command task 的描述，仅保留本模块需要的字段
type TaskInfo struct {
	// task 命令指定的运行用户，优先于 executor 的用户
	User string
}

// ContainerConfig prepare 时由 containerizer 传入的容器配置
type ContainerConfig struct {
	User          string
	Rootfs        string
	Class         ContainerClass
	TaskInfo      *TaskInfo
	ContainerInfo *ContainerInfo

	// 资源请求与上限，直接采用 OCI runtime-spec 的资源形状
	// Limits 是按资源名(cpus/mem/pids)的硬上限，覆盖 Resources 中的同类配置
	Resources *specs.LinuxResources
	Limits    map[string]float64
}

// ContainerState agent 重启后用于恢复的 checkpoint 状态
type ContainerState struct {
	ID            ContainerID
	ContainerInfo *ContainerInfo
}

// ShareCgroups 计算容器是否共享父容器的 cgroup
// 只有嵌套容器可以共享；linux-info 未设置该位时默认共享
func ShareCgroups(id ContainerID, info *ContainerInfo) bool {
	if !id.HasParent() {
		return false
	}
	if info == nil || info.LinuxInfo == nil || info.LinuxInfo.ShareCgroups == nil {
		return true
	}
	return *info.LinuxInfo.ShareCgroups
}

// Limitation controller 检测到的资源违规事件，例如内存触发 OOM
type Limitation struct {
	// 上报事件的 controller 名称
	Controller string
	// 相关的资源名，如 mem
	Resource string
	Reason   string
	// 事件发生时的资源量
	Amount uint64
}

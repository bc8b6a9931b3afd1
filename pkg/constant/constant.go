package constant

import (
	"os"
)

const (
	Perm0755 os.FileMode = 0755
	Perm0644 os.FileMode = 0644

	// cgroup v2 统一层级的标准挂载点
	CgroupMountPoint = "/sys/fs/cgroup"

	// 每个容器真正存放进程的叶子 cgroup 名称
	// 非叶子 cgroup 只负责开启 controller 和写入资源限制，进程全部放在 leaf 中，
	// 否则会违反 cgroup v2 的 no-internal-processes 约束
	LeafCgroup = "leaf"

	// agent 自身所在的保留 cgroup 名称，恢复扫描时跳过
	AgentCgroup = "agent"
)

package paths

import (
	"path/filepath"
	"strings"

	"github.com/oceanweave/cg2-isolator/pkg/constant"
	"github.com/oceanweave/cg2-isolator/pkg/isolator/types"
)

/*
	容器 ID 与 cgroup 路径的相互转换
	根为 R、容器 ID 的祖先链为 a1/a2/.../an 时：
	- 非叶子 cgroup: R/a1/a2/.../an        controller 在这里开启、限制写在这里
	- 叶子 cgroup:   R/a1/a2/.../an/leaf   容器进程放在这里
*/

// Container 返回容器的 cgroup 路径，leaf 为 true 时返回叶子路径
func Container(root string, id types.ContainerID, leaf bool) string {
	parts := append([]string{root}, id.Components()...)
	if leaf {
		parts = append(parts, constant.LeafCgroup)
	}
	return filepath.Join(parts...)
}

// Agent 返回 agent 自身保留 cgroup 的路径
func Agent(root string, name string) string {
	if name == "" {
		name = constant.AgentCgroup
	}
	return filepath.Join(root, name)
}

// Parse 尝试把一个 cgroup 路径解析回容器 ID
// 不符合路径布局的返回 false，例如 root 本身、agent 的默认保留 cgroup
// (constant.AgentCgroup)及其内部、或者任何包含叶子名的路径(叶子及其内部不是独立的容器)
func Parse(root string, cgroup string) (types.ContainerID, bool) {
	rel, err := filepath.Rel(root, cgroup)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return types.ContainerID{}, false
	}

	parts := strings.Split(rel, string(filepath.Separator))
	if parts[0] == constant.AgentCgroup {
		return types.ContainerID{}, false
	}
	for _, part := range parts {
		if part == constant.LeafCgroup {
			return types.ContainerID{}, false
		}
	}

	id := types.NewContainerID(parts[0])
	for _, part := range parts[1:] {
		id = types.NewNestedContainerID(id, part)
	}
	return id, true
}

package cgroups2

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/oceanweave/cg2-isolator/pkg/constant"
	"github.com/oceanweave/cg2-isolator/pkg/util"
	"github.com/pkg/errors"
)

// Controllers 读取 cgroup.controllers，返回该 cgroup 可用的 controller 集合
func Controllers(cgroup string) (map[string]struct{}, error) {
	fields, err := util.ReadFields(filepath.Join(cgroup, controllersFile))
	if err != nil {
		return nil, errors.Wrapf(err, "read available controllers of cgroup %s", cgroup)
	}
	return toSet(fields), nil
}

// EnabledControllers 读取 cgroup.subtree_control，返回对子级开启的 controller 集合
// 文件缺失按空集处理，等价于没有对子级开启任何 controller
func EnabledControllers(cgroup string) (map[string]struct{}, error) {
	fields, err := util.ReadFields(filepath.Join(cgroup, subtreeControlFile))
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]struct{}{}, nil
		}
		return nil, errors.Wrapf(err, "read enabled controllers of cgroup %s", cgroup)
	}
	return toSet(fields), nil
}

// EnableControllers 向 cgroup.subtree_control 写入 "+name" 开启 controller
// 所有名称放在一次写入中提交。名称不在 cgroup.controllers 中时内核会拒绝写入，
// 和 runc 一样把可用性校验交给内核，这里只负责把错误信息补充完整
func EnableControllers(cgroup string, names []string) error {
	if len(names) == 0 {
		return nil
	}
	var tokens []string
	for _, name := range names {
		tokens = append(tokens, "+"+name)
	}
	entry := strings.Join(tokens, " ")
	path := filepath.Join(cgroup, subtreeControlFile)
	if err := os.WriteFile(path, []byte(entry), constant.Perm0644); err != nil {
		if available, readErr := Controllers(cgroup); readErr == nil {
			return errors.Wrapf(err, "enable controllers %q in cgroup %s (available: %s)",
				entry, cgroup, strings.Join(setToSlice(available), " "))
		}
		return errors.Wrapf(err, "enable controllers %q in cgroup %s", entry, cgroup)
	}
	return nil
}

func toSet(fields []string) map[string]struct{} {
	set := make(map[string]struct{}, len(fields))
	for _, field := range fields {
		// 正常内核输出里没有 +/- 前缀，这里兼容测试目录中直接落盘的写入内容
		set[strings.TrimPrefix(field, "+")] = struct{}{}
	}
	return set
}

func setToSlice(set map[string]struct{}) []string {
	var names []string
	for name := range set {
		names = append(names, name)
	}
	return names
}

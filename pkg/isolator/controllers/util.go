package controllers

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/oceanweave/cg2-isolator/pkg/constant"
	"github.com/oceanweave/cg2-isolator/pkg/util"
	"github.com/pkg/errors"
)

// writeControl 写入 cgroup 的一个控制文件
func writeControl(cgroup, file, value string) error {
	path := filepath.Join(cgroup, file)
	if err := os.WriteFile(path, []byte(value), constant.Perm0644); err != nil {
		return errors.Wrapf(err, "write %q to %s", value, path)
	}
	return nil
}

// readControl 读取 cgroup 的一个控制文件并去掉末尾换行
func readControl(cgroup, file string) (string, error) {
	path := filepath.Join(cgroup, file)
	data, err := os.ReadFile(path)
	if err != nil {
		return "", errors.Wrapf(err, "read %s", path)
	}
	return strings.TrimSpace(string(data)), nil
}

// readUint 读取内容为单个数值的控制文件，如 memory.current
// "max" 返回 0 和 false
func readUint(cgroup, file string) (uint64, bool, error) {
	value, err := readControl(cgroup, file)
	if err != nil {
		return 0, false, err
	}
	if value == "max" {
		return 0, false, nil
	}
	n, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0, false, errors.Wrapf(err, "parse %s of cgroup %s", file, cgroup)
	}
	return n, true, nil
}

// readStat 解析 "key value" 格式的统计文件，如 cpu.stat、memory.stat
func readStat(cgroup, file string) (map[string]uint64, error) {
	lines, err := util.ReadLines(filepath.Join(cgroup, file))
	if err != nil {
		return nil, errors.Wrapf(err, "read %s of cgroup %s", file, cgroup)
	}
	stats := make(map[string]uint64, len(lines))
	for _, line := range lines {
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		n, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			continue
		}
		stats[fields[0]] = n
	}
	return stats, nil
}

package cgroups2

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/oceanweave/cg2-isolator/pkg/constant"
	"github.com/oceanweave/cg2-isolator/pkg/util"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

/*
	cgroup v2 虚拟文件系统的同步封装
	- 这里的 path 都是绝对路径，例如 /sys/fs/cgroup/containers/c1
	- 只做目录和控制文件的读写，不持有任何内存状态
	- 上层(isolator)负责 controller 的选择和容器生命周期
*/

const (
	procsFile         = "cgroup.procs"
	killFile          = "cgroup.kill"
	controllersFile   = "cgroup.controllers"
	subtreeControlFile = "cgroup.subtree_control"
)

// 删除 cgroup 目录时的 EBUSY 重试参数
// 内核在进程尚未完全退出前会拒绝 rmdir，这里做有限次退避重试
const (
	destroyRetries  = 10
	destroyInterval = 100 * time.Millisecond
)

// Exists 判断 cgroup 目录是否存在
func Exists(cgroup string) bool {
	exists, err := util.PathExists(cgroup)
	if err != nil {
		log.Warnf("Stat cgroup %s error: %v", cgroup, err)
		return false
	}
	return exists
}

// Create 创建 cgroup 目录
// recursive 为 true 时连同缺失的父级一起创建，目录已存在不报错
func Create(cgroup string, recursive bool) error {
	var err error
	if recursive {
		err = os.MkdirAll(cgroup, constant.Perm0755)
	} else {
		err = os.Mkdir(cgroup, constant.Perm0755)
	}
	if err != nil {
		return errors.Wrapf(err, "create cgroup %s", cgroup)
	}
	return nil
}

// Children 列出直接子 cgroup 的名称
func Children(cgroup string) ([]string, error) {
	entries, err := os.ReadDir(cgroup)
	if err != nil {
		return nil, errors.Wrapf(err, "read cgroup %s", cgroup)
	}
	var children []string
	for _, entry := range entries {
		if entry.IsDir() {
			children = append(children, entry.Name())
		}
	}
	sort.Strings(children)
	return children, nil
}

// Processes 读取 cgroup.procs，返回该 cgroup 内的进程号
// 伪造的测试目录里没有 cgroup.procs 文件，按空处理
func Processes(cgroup string) ([]int, error) {
	lines, err := util.ReadLines(filepath.Join(cgroup, procsFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "read processes of cgroup %s", cgroup)
	}
	var pids []int
	for _, line := range lines {
		pid, err := strconv.Atoi(line)
		if err != nil {
			return nil, errors.Wrapf(err, "parse pid %q in cgroup %s", line, cgroup)
		}
		pids = append(pids, pid)
	}
	return pids, nil
}

// Kill 杀掉 cgroup 内的所有进程
// 5.14 以上内核提供 cgroup.kill，一次写入即可递归杀掉整个子树；
// 老内核回退为逐个 SIGKILL cgroup.procs 中的进程
func Kill(cgroup string) error {
	killPath := filepath.Join(cgroup, killFile)
	if exists, _ := util.PathExists(killPath); exists {
		if err := os.WriteFile(killPath, []byte("1"), constant.Perm0644); err != nil {
			return errors.Wrapf(err, "write %s", killPath)
		}
		return nil
	}

	pids, err := Processes(cgroup)
	if err != nil {
		return err
	}
	for _, pid := range pids {
		// 进程可能已经退出，ESRCH 不算错误
		if err := unix.Kill(pid, unix.SIGKILL); err != nil && err != unix.ESRCH {
			return errors.Wrapf(err, "kill process %d in cgroup %s", pid, cgroup)
		}
	}
	return nil
}

// Destroy 递归删除 cgroup 及其所有后代
// 先自底向上清空进程再 rmdir，内核不允许删除非空的 cgroup；
// 进程退出有延迟，遇到 EBUSY 做有限次重试，超出后报错
func Destroy(ctx context.Context, cgroup string) error {
	if !Exists(cgroup) {
		return nil
	}

	children, err := Children(cgroup)
	if err != nil {
		return err
	}
	for _, child := range children {
		if err := Destroy(ctx, filepath.Join(cgroup, child)); err != nil {
			return err
		}
	}

	if err := Kill(cgroup); err != nil {
		return err
	}

	for attempt := 0; ; attempt++ {
		err = os.Remove(cgroup)
		if err == nil || os.IsNotExist(err) {
			return nil
		}
		if !errors.Is(err, unix.EBUSY) || attempt >= destroyRetries {
			return errors.Wrapf(err, "remove cgroup %s", cgroup)
		}
		select {
		case <-ctx.Done():
			return errors.Wrapf(ctx.Err(), "remove cgroup %s", cgroup)
		case <-time.After(destroyInterval):
		}
	}
}

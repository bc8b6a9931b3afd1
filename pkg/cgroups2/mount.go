package cgroups2

import (
	"github.com/moby/sys/mount"
	"github.com/moby/sys/mountinfo"
	"github.com/oceanweave/cg2-isolator/pkg/constant"
	"github.com/oceanweave/cg2-isolator/pkg/util"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

/*
	cgroup2 文件系统本身的挂载管理
	isolator 假定文件系统已经挂载好，不会主动调用 Mount/Unmount，
	这两个操作留给 agent 启动逻辑使用；check 子命令只调用 Enabled 和 Mounted
*/

// Enabled 判断内核是否支持 cgroup v2
func Enabled() (bool, error) {
	lines, err := util.ReadLines("/proc/filesystems")
	if err != nil {
		return false, errors.Wrap(err, "read /proc/filesystems")
	}
	for _, line := range lines {
		if line == "nodev\tcgroup2" || line == "cgroup2" {
			return true, nil
		}
	}
	return false, nil
}

// Mounted 判断 cgroup2 是否挂载在标准位置 /sys/fs/cgroup
// 挂载在其他位置属于异常环境，返回错误
func Mounted() (bool, error) {
	mounts, err := mountinfo.GetMounts(mountinfo.FSTypeFilter("cgroup2"))
	if err != nil {
		return false, errors.Wrap(err, "get cgroup2 mounts")
	}
	for _, m := range mounts {
		if m.Mountpoint == constant.CgroupMountPoint {
			return true, nil
		}
	}
	if len(mounts) > 0 {
		return false, errors.Errorf("cgroup2 file system is mounted at unexpected location %s",
			mounts[0].Mountpoint)
	}

	// mountinfo 的 fstype 过滤不可用时(极老内核)，退回 statfs 魔数判断
	var stat unix.Statfs_t
	if err := unix.Statfs(constant.CgroupMountPoint, &stat); err != nil {
		return false, errors.Wrapf(err, "statfs %s", constant.CgroupMountPoint)
	}
	return stat.Type == unix.CGROUP2_SUPER_MAGIC, nil
}

// Mount 将 cgroup2 文件系统挂载到 /sys/fs/cgroup
// 已经挂载时报错，由调用方先通过 Mounted 判断
func Mount() error {
	mounted, err := Mounted()
	if err != nil {
		return err
	}
	if mounted {
		return errors.Errorf("cgroup2 file system is already mounted at %s",
			constant.CgroupMountPoint)
	}
	if err := mount.Mount("cgroup2", constant.CgroupMountPoint, "cgroup2", ""); err != nil {
		return errors.Wrapf(err, "mount cgroup2 at %s", constant.CgroupMountPoint)
	}
	return nil
}

// Unmount 卸载 /sys/fs/cgroup 上的 cgroup2 文件系统
// 调用方需保证所有子 cgroup 已经销毁
func Unmount() error {
	mounted, err := Mounted()
	if err != nil {
		return err
	}
	if !mounted {
		return errors.Errorf("cgroup2 file system is not mounted at %s",
			constant.CgroupMountPoint)
	}
	if err := mount.Unmount(constant.CgroupMountPoint); err != nil {
		return errors.Wrapf(err, "unmount %s", constant.CgroupMountPoint)
	}
	return nil
}

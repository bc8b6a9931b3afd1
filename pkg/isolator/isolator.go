package isolator

import (
	"context"
	"os/user"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/oceanweave/cg2-isolator/pkg/cgroups2"
	"github.com/oceanweave/cg2-isolator/pkg/constant"
	"github.com/oceanweave/cg2-isolator/pkg/isolator/controllers"
	"github.com/oceanweave/cg2-isolator/pkg/isolator/paths"
	"github.com/oceanweave/cg2-isolator/pkg/isolator/types"
	specs "github.com/opencontainers/runtime-spec/specs-go"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

/*
	cgroup v2 isolator
	为每个容器维护 非叶子/叶子 cgroup 对，把生命周期操作扇出到各 controller，
	容器状态集中在 infos 注册表中，注册表的所有修改由 mu 串行化，
	controller 调用都发生在锁外
*/

const defaultDestroyTimeout = 60 * time.Second

type Isolator struct {
	flags       *types.Flags
	controllers map[string]controllers.Controller
	dm          controllers.DeviceManager

	mu    sync.Mutex
	infos map[string]*Info
}

// New 构造 isolator
// 解析 flags.Isolation 中 cgroups/ 前缀的 token，未知 token 直接报错；
// core 无论配置与否都会启用
func New(flags *types.Flags, dm controllers.DeviceManager) (*Isolator, error) {
	tokens, err := parseIsolation(flags.Isolation)
	if err != nil {
		return nil, err
	}

	ctrls, err := controllers.Create(tokens, flags, dm)
	if err != nil {
		return nil, err
	}

	if dm == nil {
		dm = controllers.NoopDeviceManager()
	}

	return &Isolator{
		flags:       flags,
		controllers: ctrls,
		dm:          dm,
		infos:       make(map[string]*Info),
	}, nil
}

func parseIsolation(isolation string) ([]string, error) {
	want := map[string]struct{}{"core": {}}

	if strings.Contains(isolation, "cgroups/all") {
		for _, token := range controllers.Known() {
			want[token] = struct{}{}
		}
	} else {
		for _, token := range strings.Split(isolation, ",") {
			token = strings.TrimSpace(token)
			// cgroups/ 前缀之外的 token 属于其他 isolator，忽略
			if !strings.HasPrefix(token, "cgroups/") {
				continue
			}
			name := strings.TrimPrefix(token, "cgroups/")
			if !controllers.Supported(name) {
				return nil, errors.Errorf("unknown or unsupported isolator 'cgroups/%s'", name)
			}
			want[name] = struct{}{}
		}
	}

	tokens := make([]string, 0, len(want))
	for token := range want {
		tokens = append(tokens, token)
	}
	sort.Strings(tokens)
	return tokens, nil
}

// Prepare 为容器创建 cgroup 对并初始化各 controller，返回启动指令
func (iso *Isolator) Prepare(id types.ContainerID, cfg *types.ContainerConfig) (*types.LaunchInfo, error) {
	if _, ok := iso.getInfo(id); ok {
		return nil, errors.Errorf("container %s has already been prepared", id)
	}

	// 根 cgroup 被删说明环境已经坏掉，无法依赖 subtree_control 推导任何结论，
	// 直接退出让 agent 重启时重建根 cgroup
	if !cgroups2.Exists(iso.flags.CgroupsRoot) {
		log.Fatalf("Root cgroup %s does not exist", iso.flags.CgroupsRoot)
	}

	nonLeaf := paths.Container(iso.flags.CgroupsRoot, id, false)
	leaf := paths.Container(iso.flags.CgroupsRoot, id, true)

	share := types.ShareCgroups(id, cfg.ContainerInfo)
	if share {
		// 共享 cgroup 的嵌套容器不建自己的 cgroup 对，也不开启 controller，
		// 进程住在父容器的叶子里，限制继承父容器
		iso.putInfo(newInfo(id, nonLeaf, leaf, false))
		return iso.launchInfo(id, cfg)
	}

	// debug 容器必须共享父容器的 cgroup，违反属于前置条件错误，
	// 和 prepare 重复调用一样在任何改动发生之前拒绝
	if cfg.Class == types.ClassDebug {
		return nil, errors.Errorf("debug container %s cannot have its own cgroups", id)
	}

	if cgroups2.Exists(nonLeaf) {
		return nil, errors.Errorf("cgroup %s already exists", nonLeaf)
	}
	if cgroups2.Exists(leaf) {
		return nil, errors.Errorf("cgroup %s already exists", leaf)
	}

	if err := cgroups2.Create(nonLeaf, true); err != nil {
		return nil, err
	}
	if err := cgroups2.Create(leaf, true); err != nil {
		return nil, err
	}
	log.Infof("Created cgroups %s and %s", nonLeaf, leaf)

	info := newInfo(id, nonLeaf, leaf, true)
	iso.putInfo(info)

	if err := iso.enableControllers(nonLeaf); err != nil {
		return nil, err
	}

	iso.mu.Lock()
	for name := range iso.controllers {
		info.Controllers[name] = struct{}{}
	}
	iso.mu.Unlock()

	// controller 的 prepare 并发执行，chown 穿插其间
	// chown 失败时已经 prepare 过的 controller 不回滚，由调用方 cleanup
	prepared := make(chan error, 1)
	go func() {
		prepared <- iso.await(info.Controllers, "prepare", func(c controllers.Controller) error {
			return c.Prepare(id, nonLeaf, cfg)
		})
	}()

	chownErr := iso.chownLeaf(id, leaf, cfg)

	if err := <-prepared; err != nil {
		return nil, err
	}
	if chownErr != nil {
		return nil, chownErr
	}

	if err := iso.Update(id, cfg.Resources, cfg.Limits); err != nil {
		return nil, err
	}

	return iso.launchInfo(id, cfg)
}

// enableControllers 沿根到非叶子 cgroup 的祖先链逐级开启全部显式 controller
// 开启在内核侧幂等，这里不缓存已开启状态，每次 prepare 都完整走一遍
func (iso *Isolator) enableControllers(nonLeaf string) error {
	var names []string
	for name := range iso.controllers {
		// core/perf_event/devices 不在 cgroup.controllers 中，写 subtree_control 会被拒绝
		if !controllers.Implicit(name) {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return nil
	}
	sort.Strings(names)

	rel, err := filepath.Rel(iso.flags.CgroupsRoot, nonLeaf)
	if err != nil {
		return errors.Wrapf(err, "relativize cgroup %s", nonLeaf)
	}

	current := iso.flags.CgroupsRoot
	if err := cgroups2.EnableControllers(current, names); err != nil {
		return err
	}
	for _, token := range strings.Split(rel, string(filepath.Separator)) {
		current = filepath.Join(current, token)
		if err := cgroups2.EnableControllers(current, names); err != nil {
			return err
		}
	}
	return nil
}

// chownLeaf 把叶子 cgroup 目录交给容器用户
// 不递归：容器进程可以在 leaf 下自建子 cgroup 自治，
// 但 leaf 的控制文件仍归 agent 所有
func (iso *Isolator) chownLeaf(id types.ContainerID, leaf string, cfg *types.ContainerConfig) error {
	if cfg.User == "" {
		return nil
	}

	name := cfg.User
	if cfg.TaskInfo != nil && cfg.Rootfs != "" {
		// 带 rootfs 的 command task：executor 以 root 运行，
		// task 命令未指定用户时无从得知最终用户，跳过
		if cfg.TaskInfo.User == "" {
			return nil
		}
		name = cfg.TaskInfo.User
	}

	u, err := user.Lookup(name)
	if err != nil {
		return errors.Wrapf(err, "lookup user %q", name)
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return errors.Wrapf(err, "parse uid of user %q", name)
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return errors.Wrapf(err, "parse gid of user %q", name)
	}

	log.Debugf("Chown the cgroup at %s to user %q for container %s", leaf, name, id)
	if err := unix.Chown(leaf, uid, gid); err != nil {
		return errors.Wrapf(err, "chown cgroup %s to user %q", leaf, name)
	}
	return nil
}

// launchInfo 生成返回给 launcher 的启动指令
func (iso *Isolator) launchInfo(id types.ContainerID, cfg *types.ContainerConfig) (*types.LaunchInfo, error) {
	info := iso.cgroupInfo(id)
	// 共享 cgroup 的容器挂载最近的自隔离祖先的叶子
	for info != nil && !info.Isolate && info.ID.Parent != nil {
		info = iso.cgroupInfo(*info.ID.Parent)
	}
	if info == nil {
		return nil, errors.Errorf("failed to find cgroup for container %s", id)
	}

	// 容器进入新的 cgroup namespace，只能看到以自己为根的子树
	launch := &types.LaunchInfo{CloneNamespaces: []int{unix.CLONE_NEWCGROUP}}

	// 没有 rootfs 就没有可供挂载的文件系统视图，不生成挂载指令
	if cfg.Rootfs == "" {
		return launch, nil
	}

	launch.CloneNamespaces = append(launch.CloneNamespaces, unix.CLONE_NEWNS)
	launch.Mounts = append(launch.Mounts, types.BindMount(
		info.LeafCgroup,
		filepath.Join(cfg.Rootfs, constant.CgroupMountPoint)))

	// command task 的挂载要发生在 task 的 mount namespace 里，
	// 指令整体打包成参数透传给 command executor
	if cfg.TaskInfo != nil {
		argument, err := launch.TaskLaunchArgument()
		if err != nil {
			return nil, err
		}
		return &types.LaunchInfo{Arguments: []string{argument}}, nil
	}
	return launch, nil
}

// Isolate 在 launcher 把进程写入叶子 cgroup 之后调用
// 共享 cgroup 的容器无事可做
func (iso *Isolator) Isolate(id types.ContainerID, pid int) error {
	info, ok := iso.getInfo(id)
	if !ok {
		return errors.Errorf("unknown container %s", id)
	}
	if !info.Isolate {
		return nil
	}

	return iso.await(info.Controllers, "isolate", func(c controllers.Controller) error {
		return c.Isolate(id, info.NonLeafCgroup, pid)
	})
}

// Update 应用新的资源请求与上限
// 共享 cgroup 的嵌套容器继承祖先的限制，不允许单独更新
func (iso *Isolator) Update(id types.ContainerID, requests *specs.LinuxResources, limits map[string]float64) error {
	info, ok := iso.getInfo(id)
	if !ok {
		return errors.Errorf("unknown container %s", id)
	}
	if !info.Isolate {
		return errors.Errorf("update is not supported for nested containers")
	}

	log.Infof("Updating controllers for cgroup %s", info.NonLeafCgroup)

	return iso.await(info.Controllers, "update", func(c controllers.Controller) error {
		return c.Update(id, info.NonLeafCgroup, requests, limits)
	})
}

// Watch 返回容器的资源违规事件通道
// 第一次调用时为每个已挂载 controller 启动 watch，最先上报的事件完成通道，
// 后续上报全部丢弃
func (iso *Isolator) Watch(id types.ContainerID) (<-chan types.Limitation, error) {
	info, ok := iso.getInfo(id)
	if !ok {
		return nil, errors.Errorf("unknown container %s", id)
	}

	iso.mu.Lock()
	started := info.watching
	info.watching = true
	iso.mu.Unlock()

	if !started {
		for name := range info.Controllers {
			c, ok := iso.controllers[name]
			if !ok {
				continue
			}
			ch, err := c.Watch(info.watchCtx, id, info.NonLeafCgroup)
			if err != nil {
				log.Warnf("Failed to watch controller %s for container %s: %v", name, id, err)
				continue
			}
			if ch == nil {
				continue
			}
			go func() {
				select {
				case limitation := <-ch:
					info.resolve(limitation)
				case <-info.watchCtx.Done():
				}
			}()
		}
	}

	return info.limitation, nil
}

// Usage 合并各 controller 的统计，单个 controller 失败只降级
func (iso *Isolator) Usage(id types.ContainerID) (*types.Statistics, error) {
	info, ok := iso.getInfo(id)
	if !ok {
		return nil, errors.Errorf("unknown container %s", id)
	}
	if !info.Isolate {
		// 共享 cgroup 的嵌套容器用最近的自隔离祖先的统计
		if info.ID.Parent == nil {
			return nil, errors.Errorf("container %s shares cgroups but has no parent", id)
		}
		return iso.Usage(*info.ID.Parent)
	}

	result := &types.Statistics{Timestamp: time.Now()}
	var wg sync.WaitGroup
	var mu sync.Mutex
	for name := range info.Controllers {
		c, ok := iso.controllers[name]
		if !ok {
			continue
		}
		wg.Add(1)
		go func(c controllers.Controller) {
			defer wg.Done()
			statistics, err := c.Usage(id, info.NonLeafCgroup)
			if err != nil {
				log.Warnf("Skipping resource statistics of controller %s for container %s: %v",
					c.Name(), id, err)
				return
			}
			mu.Lock()
			result.Merge(statistics)
			mu.Unlock()
		}(c)
	}
	wg.Wait()
	return result, nil
}

// Status 合并各 controller 的即时状态
func (iso *Isolator) Status(id types.ContainerID) (*types.Status, error) {
	info, ok := iso.getInfo(id)
	if !ok {
		return nil, errors.Errorf("unknown container %s", id)
	}
	if !info.Isolate {
		if info.ID.Parent == nil {
			return nil, errors.Errorf("container %s shares cgroups but has no parent", id)
		}
		return iso.Status(*info.ID.Parent)
	}

	result := &types.Status{}
	var wg sync.WaitGroup
	var mu sync.Mutex
	for name := range info.Controllers {
		c, ok := iso.controllers[name]
		if !ok {
			continue
		}
		wg.Add(1)
		go func(c controllers.Controller) {
			defer wg.Done()
			status, err := c.Status(id, info.NonLeafCgroup)
			if err != nil {
				log.Warnf("Skipping status of controller %s for container %s: %v", c.Name(), id, err)
				return
			}
			mu.Lock()
			result.Merge(status)
			mu.Unlock()
		}(c)
	}
	wg.Wait()
	return result, nil
}

// Cleanup 清理 controller 状态并销毁容器的 cgroup 子树
// 未知容器直接忽略，方便恢复路径统一调用；
// controller 清理失败不阻止销毁，销毁失败保留 Info 供调用方重试
func (iso *Isolator) Cleanup(id types.ContainerID) error {
	info, ok := iso.getInfo(id)
	if !ok {
		log.Debugf("Ignoring cleanup request for unknown container %s", id)
		return nil
	}

	// 先停掉 watch 协程，未决的 limitation 不再等待
	info.watchCancel()

	cleanupErr := iso.await(info.Controllers, "cleanup", func(c controllers.Controller) error {
		return c.Cleanup(id, info.NonLeafCgroup)
	})

	if cgroups2.Exists(info.NonLeafCgroup) {
		timeout := iso.flags.CgroupsDestroyTimeout
		if timeout <= 0 {
			timeout = defaultDestroyTimeout
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := cgroups2.Destroy(ctx, info.NonLeafCgroup); err != nil {
			return errors.Wrapf(err, "destroy cgroup %s", info.NonLeafCgroup)
		}
	}

	iso.eraseInfo(id)
	return cleanupErr
}

// await 把 fn 并发扇出到 names 中的每个 controller，聚合全部失败原因
// 被取消的调用以 discarded 计入
func (iso *Isolator) await(names map[string]struct{}, verb string, fn func(c controllers.Controller) error) error {
	var wg sync.WaitGroup
	var mu sync.Mutex
	var reasons []string

	for name := range names {
		c, ok := iso.controllers[name]
		if !ok {
			continue
		}
		wg.Add(1)
		go func(c controllers.Controller) {
			defer wg.Done()
			if err := fn(c); err != nil {
				reason := err.Error()
				if errors.Is(err, context.Canceled) {
					reason = "discarded"
				}
				mu.Lock()
				reasons = append(reasons, reason)
				mu.Unlock()
			}
		}(c)
	}
	wg.Wait()

	if len(reasons) == 0 {
		return nil
	}
	sort.Strings(reasons)
	return errors.Errorf("failed to %s controllers: %s", verb, strings.Join(reasons, ", "))
}

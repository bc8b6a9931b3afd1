package isolator

import (
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/oceanweave/cg2-isolator/pkg/cgroups2"
	"github.com/oceanweave/cg2-isolator/pkg/constant"
	"github.com/oceanweave/cg2-isolator/pkg/isolator/controllers"
	"github.com/oceanweave/cg2-isolator/pkg/isolator/paths"
	"github.com/oceanweave/cg2-isolator/pkg/isolator/types"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

/*
	agent 重启后的恢复流程
	1. 按 checkpoint 状态恢复容器
	2. 扫描磁盘上的 cgroup，把残留的容器分成已知孤儿和未知孤儿：
	   已知孤儿在 containerizer 提供的孤儿集合里，走常规 cleanup 路径销毁；
	   未知孤儿磁盘上有、checkpoint 和孤儿集合里都没有，恢复后就地清理
	3. agent 自身的保留 cgroup 跳过
*/

// Recover 用 checkpoint 状态和孤儿集合重建注册表
func (iso *Isolator) Recover(states []types.ContainerState, orphans []types.ContainerID) error {
	var wg sync.WaitGroup
	var mu sync.Mutex
	var reasons []string

	for _, state := range states {
		isolate := !types.ShareCgroups(state.ID, state.ContainerInfo)
		wg.Add(1)
		go func(id types.ContainerID, isolate bool) {
			defer wg.Done()
			if err := iso.recoverContainer(id, isolate); err != nil {
				mu.Lock()
				reasons = append(reasons, err.Error())
				mu.Unlock()
			}
		}(state.ID, isolate)
	}
	wg.Wait()

	if len(reasons) > 0 {
		sort.Strings(reasons)
		return errors.Errorf("failed to recover active containers: %s", strings.Join(reasons, ", "))
	}

	knownOrphans, unknownOrphans, err := iso.classifyOrphans(orphans)
	if err != nil {
		return err
	}

	for _, id := range append(knownOrphans, unknownOrphans...) {
		wg.Add(1)
		go func(id types.ContainerID) {
			defer wg.Done()
			if err := iso.recoverContainer(id, true); err != nil {
				mu.Lock()
				reasons = append(reasons, err.Error())
				mu.Unlock()
			}
		}(id)
	}
	wg.Wait()

	if len(reasons) > 0 {
		sort.Strings(reasons)
		return errors.Errorf("failed to recover orphan containers: %s", strings.Join(reasons, ", "))
	}

	ids := make([]types.ContainerID, 0, len(states))
	for _, state := range states {
		ids = append(ids, state.ID)
	}
	if err := iso.dm.Recover(ids); err != nil {
		return errors.Wrap(err, "recover device manager")
	}

	// 已知孤儿留给 containerizer 的常规 cleanup，未知孤儿这里直接清掉
	for _, id := range unknownOrphans {
		log.Infof("Cleaning up unknown orphaned container %s", id)
		if err := iso.Cleanup(id); err != nil {
			log.Warnf("Failed to clean up unknown orphaned container %s: %v", id, err)
		}
	}
	return nil
}

// classifyOrphans 扫描根下的容器 cgroup，跳过已恢复的和 agent 的保留 cgroup
func (iso *Isolator) classifyOrphans(orphans []types.ContainerID) (known, unknown []types.ContainerID, err error) {
	orphanSet := make(map[string]struct{}, len(orphans))
	for _, id := range orphans {
		orphanSet[id.String()] = struct{}{}
	}

	candidates, err := iso.scan(iso.flags.CgroupsRoot)
	if err != nil {
		return nil, nil, err
	}

	for _, id := range candidates {
		if _, ok := iso.getInfo(id); ok {
			// checkpoint 阶段已经恢复过
			continue
		}
		if _, ok := orphanSet[id.String()]; ok {
			known = append(known, id)
		} else {
			unknown = append(unknown, id)
		}
	}
	return known, unknown, nil
}

// scan 递归枚举 dir 下所有形如容器的 cgroup
func (iso *Isolator) scan(dir string) ([]types.ContainerID, error) {
	agent := paths.Agent(iso.flags.CgroupsRoot, iso.flags.AgentCgroup)

	children, err := cgroups2.Children(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "list cgroups under %s", dir)
	}

	var ids []types.ContainerID
	for _, child := range children {
		cgroup := filepath.Join(dir, child)
		if cgroup == agent {
			continue
		}
		// 叶子里是容器进程自建的子 cgroup，不是独立容器
		if child == constant.LeafCgroup {
			continue
		}

		id, ok := paths.Parse(iso.flags.CgroupsRoot, cgroup)
		if !ok {
			log.Infof("Cgroup %s does not correspond to a container id and will not be recovered", cgroup)
			continue
		}
		ids = append(ids, id)

		// 嵌套容器的 cgroup 在父容器的非叶子 cgroup 之下
		nested, err := iso.scan(cgroup)
		if err != nil {
			return nil, err
		}
		ids = append(ids, nested...)
	}
	return ids, nil
}

// recoverContainer 恢复单个容器
// 缺失的 cgroup 重建并告警，保证后续 cleanup 能统一走销毁路径；
// subtree_control 里没有的 controller 按从未开启处理，只告警不补开
func (iso *Isolator) recoverContainer(id types.ContainerID, isolate bool) error {
	nonLeaf := paths.Container(iso.flags.CgroupsRoot, id, false)
	leaf := paths.Container(iso.flags.CgroupsRoot, id, true)

	if !cgroups2.Exists(nonLeaf) {
		log.Warnf("Container %s is missing the cgroup %s; creating missing cgroup", id, nonLeaf)
		if err := cgroups2.Create(nonLeaf, true); err != nil {
			return err
		}
	}
	if !cgroups2.Exists(leaf) {
		log.Warnf("Container %s is missing the cgroup %s; creating missing cgroup", id, leaf)
		if err := cgroups2.Create(leaf, true); err != nil {
			return err
		}
	}

	enabled, err := cgroups2.EnabledControllers(nonLeaf)
	if err != nil {
		return errors.Wrapf(err, "get enabled controllers of container %s", id)
	}

	attached := make(map[string]struct{})
	var wg sync.WaitGroup
	var mu sync.Mutex
	var reasons []string

	for name, c := range iso.controllers {
		if _, ok := enabled[name]; !ok {
			log.Warnf("Controller %s is not enabled for container %s", name, id)
			continue
		}
		attached[name] = struct{}{}

		wg.Add(1)
		go func(c controllers.Controller) {
			defer wg.Done()
			if err := c.Recover(id, nonLeaf); err != nil {
				mu.Lock()
				reasons = append(reasons, err.Error())
				mu.Unlock()
			}
		}(c)
	}
	wg.Wait()

	if len(reasons) > 0 {
		sort.Strings(reasons)
		return errors.Errorf("failed to recover controllers: %s", strings.Join(reasons, ", "))
	}

	if _, ok := iso.getInfo(id); ok {
		return errors.Errorf("container %s has already been recovered", id)
	}

	info := newInfo(id, nonLeaf, leaf, isolate)
	info.Controllers = attached
	iso.putInfo(info)
	return nil
}

package isolator

import (
	"context"
	"sync"

	"github.com/oceanweave/cg2-isolator/pkg/isolator/types"
)

// Info 每个已 prepare 或已恢复容器的注册表条目
type Info struct {
	ID types.ContainerID
	// controller 在这里开启、限制写在这里
	NonLeafCgroup string
	// 容器进程所在的叶子 cgroup
	LeafCgroup string
	// true 表示容器拥有自己的 cgroup 子树；
	// false 表示嵌套容器共享父容器的 cgroup，自己不挂任何 controller
	Isolate bool
	// 挂载到该容器上的 controller 名称集合
	Controllers map[string]struct{}

	// 资源违规事件的单次通道，第一个上报的 controller 完成它，后续上报丢弃
	limitation chan types.Limitation
	limitOnce  sync.Once
	// watch 协程的生命周期，cleanup 时取消
	watchCtx    context.Context
	watchCancel context.CancelFunc
	watching    bool
}

func newInfo(id types.ContainerID, nonLeaf, leaf string, isolate bool) *Info {
	ctx, cancel := context.WithCancel(context.Background())
	return &Info{
		ID:            id,
		NonLeafCgroup: nonLeaf,
		LeafCgroup:    leaf,
		Isolate:       isolate,
		Controllers:   make(map[string]struct{}),
		limitation:    make(chan types.Limitation, 1),
		watchCtx:      ctx,
		watchCancel:   cancel,
	}
}

// resolve 完成 limitation 通道，至多生效一次
func (i *Info) resolve(limitation types.Limitation) {
	i.limitOnce.Do(func() {
		i.limitation <- limitation
	})
}

// getInfo 精确查找
func (iso *Isolator) getInfo(id types.ContainerID) (*Info, bool) {
	iso.mu.Lock()
	defer iso.mu.Unlock()
	info, ok := iso.infos[id.String()]
	return info, ok
}

// cgroupInfo 带父级回退的查找
// 共享 cgroup 的嵌套容器在注册表里没有对应条目时，沿祖先链向上找到
// 最近一个有条目的容器；走到根还没有命中返回 nil
func (iso *Isolator) cgroupInfo(id types.ContainerID) *Info {
	iso.mu.Lock()
	defer iso.mu.Unlock()

	current := &id
	for current != nil {
		if info, ok := iso.infos[current.String()]; ok {
			return info
		}
		current = current.Parent
	}
	return nil
}

func (iso *Isolator) putInfo(info *Info) {
	iso.mu.Lock()
	defer iso.mu.Unlock()
	iso.infos[info.ID.String()] = info
}

// eraseInfo 精确删除，不做父级回退
func (iso *Isolator) eraseInfo(id types.ContainerID) {
	iso.mu.Lock()
	defer iso.mu.Unlock()
	delete(iso.infos, id.String())
}

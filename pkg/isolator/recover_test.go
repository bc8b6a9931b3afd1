package isolator

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/oceanweave/cg2-isolator/pkg/cgroups2"
	"github.com/oceanweave/cg2-isolator/pkg/constant"
	"github.com/oceanweave/cg2-isolator/pkg/isolator/paths"
	"github.com/oceanweave/cg2-isolator/pkg/isolator/types"
)

func mkCgroup(t *testing.T, parts ...string) string {
	t.Helper()
	cgroup := filepath.Join(parts...)
	if err := os.MkdirAll(cgroup, 0755); err != nil {
		t.Fatal(err)
	}
	return cgroup
}

func TestRecoverClassifiesOrphans(t *testing.T) {
	cpu := newFakeController("cpu")
	iso := newTestIsolator(t, cpu)
	root := iso.flags.CgroupsRoot

	// 磁盘上有：已知孤儿 c1，未知孤儿 c2，agent 的保留 cgroup
	mkCgroup(t, root, "c1", constant.LeafCgroup)
	mkCgroup(t, root, "c2", constant.LeafCgroup)
	mkCgroup(t, root, constant.AgentCgroup)

	// c1 的 subtree_control 里开着 cpu，恢复时应重新挂上
	if err := os.WriteFile(
		filepath.Join(root, "c1", "cgroup.subtree_control"), []byte("cpu\n"), 0644); err != nil {
		t.Fatal(err)
	}

	c1 := types.NewContainerID("c1")
	c2 := types.NewContainerID("c2")
	if err := iso.Recover(nil, []types.ContainerID{c1}); err != nil {
		t.Fatal(err)
	}

	// 已知孤儿注册后留给 containerizer 的常规 cleanup
	info, ok := iso.getInfo(c1)
	if !ok {
		t.Fatal("known orphan must be registered")
	}
	if _, ok := info.Controllers["cpu"]; !ok {
		t.Fatalf("cpu should be attached after recovery, got %v", info.Controllers)
	}
	if cpu.callCount("recover") == 0 {
		t.Fatal("expected controller recover to be invoked")
	}
	if !cgroups2.Exists(filepath.Join(root, "c1")) {
		t.Fatal("known orphan must not be destroyed during recovery")
	}

	// 未知孤儿就地清理
	if _, ok := iso.getInfo(c2); ok {
		t.Fatal("unknown orphan must be cleaned up during recovery")
	}
	if cgroups2.Exists(filepath.Join(root, "c2")) {
		t.Fatal("unknown orphan cgroups must be destroyed")
	}

	// agent 的保留 cgroup 原样跳过
	if !cgroups2.Exists(filepath.Join(root, constant.AgentCgroup)) {
		t.Fatal("agent cgroup must be left alone")
	}
}

func TestRecoverRecreatesMissingLeaf(t *testing.T) {
	iso := newTestIsolator(t, newFakeController("core"))
	root := iso.flags.CgroupsRoot

	// 叶子被外部删掉
	mkCgroup(t, root, "c1")

	c1 := types.NewContainerID("c1")
	if err := iso.Recover([]types.ContainerState{{ID: c1}}, nil); err != nil {
		t.Fatal(err)
	}

	leaf := paths.Container(root, c1, true)
	if !cgroups2.Exists(leaf) {
		t.Fatal("missing leaf cgroup must be recreated during recovery")
	}

	// 重建之后常规 cleanup 可以统一销毁
	if err := iso.Cleanup(c1); err != nil {
		t.Fatal(err)
	}
	if cgroups2.Exists(paths.Container(root, c1, false)) {
		t.Fatal("cleanup after recovery must remove the cgroup pair")
	}
}

func TestRecoverNestedContainers(t *testing.T) {
	iso := newTestIsolator(t, newFakeController("core"))
	root := iso.flags.CgroupsRoot

	mkCgroup(t, root, "c1", constant.LeafCgroup)
	mkCgroup(t, root, "c1", "c2", constant.LeafCgroup)

	if err := iso.Recover(nil, nil); err != nil {
		t.Fatal(err)
	}

	// 两个未知孤儿都被注册并清理，嵌套的也不例外
	for _, s := range []string{"c1", "c1/c2"} {
		if _, ok := iso.getInfo(types.ParseContainerID(s)); ok {
			t.Fatalf("unknown orphan %s must be cleaned up", s)
		}
	}
	if cgroups2.Exists(filepath.Join(root, "c1")) {
		t.Fatal("unknown orphan subtree must be destroyed")
	}
}

func TestRecoverSharedNestedState(t *testing.T) {
	iso := newTestIsolator(t, newFakeController("core"))
	root := iso.flags.CgroupsRoot

	parent := types.NewContainerID("c1")
	child := types.NewNestedContainerID(parent, "c2")
	mkCgroup(t, root, "c1", constant.LeafCgroup)

	states := []types.ContainerState{{ID: parent}, {ID: child}}
	if err := iso.Recover(states, nil); err != nil {
		t.Fatal(err)
	}

	// 共享 cgroup 的嵌套容器恢复后依旧禁止单独更新
	if err := iso.Update(child, nil, nil); err == nil {
		t.Fatal("expected update of a recovered nested container to fail")
	}
	if err := iso.Update(parent, nil, nil); err != nil {
		t.Fatal(err)
	}
}

package cgroups2

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

// 测试用的伪 cgroup 树：普通目录即可，控制文件按需手工落盘

func TestCreateAndExists(t *testing.T) {
	root := t.TempDir()
	cgroup := filepath.Join(root, "containers", "c1")

	if Exists(cgroup) {
		t.Fatalf("cgroup %s should not exist yet", cgroup)
	}
	if err := Create(cgroup, true); err != nil {
		t.Fatal(err)
	}
	if !Exists(cgroup) {
		t.Fatalf("cgroup %s should exist", cgroup)
	}
	// recursive 模式下重复创建不是错误
	if err := Create(cgroup, true); err != nil {
		t.Fatal(err)
	}
	// 非 recursive 模式下父级缺失直接失败
	if err := Create(filepath.Join(root, "missing", "c2"), false); err == nil {
		t.Fatal("expected create without recursive to fail for missing parent")
	}
}

func TestChildren(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"b", "a", "c"} {
		if err := Create(filepath.Join(root, name), false); err != nil {
			t.Fatal(err)
		}
	}
	// 混进一个普通文件，不能被当成子 cgroup
	if err := os.WriteFile(filepath.Join(root, "cgroup.procs"), nil, 0644); err != nil {
		t.Fatal(err)
	}

	children, err := Children(root)
	if err != nil {
		t.Fatal(err)
	}
	if len(children) != 3 || children[0] != "a" || children[2] != "c" {
		t.Fatalf("unexpected children: %v", children)
	}
}

func TestEnableControllers(t *testing.T) {
	root := t.TempDir()

	if err := EnableControllers(root, []string{"cpu", "memory"}); err != nil {
		t.Fatal(err)
	}

	enabled, err := EnabledControllers(root)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := enabled["cpu"]; !ok {
		t.Fatalf("cpu should be enabled, got %v", enabled)
	}
	if _, ok := enabled["memory"]; !ok {
		t.Fatalf("memory should be enabled, got %v", enabled)
	}
}

func TestEnabledControllersMissingFile(t *testing.T) {
	enabled, err := EnabledControllers(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if len(enabled) != 0 {
		t.Fatalf("expected no controllers, got %v", enabled)
	}
}

func TestControllersMissingFileFails(t *testing.T) {
	if _, err := Controllers(t.TempDir()); err == nil {
		t.Fatal("expected reading cgroup.controllers of a bogus cgroup to fail")
	}
}

func TestDestroyRemovesSubtree(t *testing.T) {
	root := t.TempDir()
	nonLeaf := filepath.Join(root, "c1")
	leaf := filepath.Join(nonLeaf, "leaf")
	if err := Create(leaf, true); err != nil {
		t.Fatal(err)
	}

	if err := Destroy(context.Background(), nonLeaf); err != nil {
		t.Fatal(err)
	}
	if Exists(nonLeaf) {
		t.Fatalf("cgroup %s should have been destroyed", nonLeaf)
	}
	// 销毁不存在的 cgroup 不是错误
	if err := Destroy(context.Background(), nonLeaf); err != nil {
		t.Fatal(err)
	}
}

func TestProcessesMissingFile(t *testing.T) {
	pids, err := Processes(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if len(pids) != 0 {
		t.Fatalf("expected no processes, got %v", pids)
	}
}

func TestProcesses(t *testing.T) {
	cgroup := t.TempDir()
	if err := os.WriteFile(filepath.Join(cgroup, "cgroup.procs"), []byte("1\n42\n"), 0644); err != nil {
		t.Fatal(err)
	}
	pids, err := Processes(cgroup)
	if err != nil {
		t.Fatal(err)
	}
	if len(pids) != 2 || pids[0] != 1 || pids[1] != 42 {
		t.Fatalf("unexpected pids: %v", pids)
	}
}

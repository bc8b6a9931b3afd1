package types

import (
	"strings"
	"testing"
)

func TestContainerIDComponents(t *testing.T) {
	id := ParseContainerID("a/b/c")
	components := id.Components()
	if len(components) != 3 || components[0] != "a" || components[2] != "c" {
		t.Fatalf("unexpected components: %v", components)
	}
	if id.String() != "a/b/c" {
		t.Fatalf("unexpected string form: %s", id)
	}
	if !id.HasParent() || id.Parent.String() != "a/b" {
		t.Fatalf("unexpected parent: %v", id.Parent)
	}
}

func TestContainerIDEqual(t *testing.T) {
	a := ParseContainerID("a/b")
	b := NewNestedContainerID(NewContainerID("a"), "b")
	if !a.Equal(b) {
		t.Fatalf("expected %s and %s to be equal", a, b)
	}
	if a.Equal(ParseContainerID("a")) {
		t.Fatal("expected ids with different ancestor chains to differ")
	}
}

func TestShareCgroups(t *testing.T) {
	top := NewContainerID("c1")
	nested := NewNestedContainerID(top, "c2")
	yes, no := true, false

	// 顶层容器永远不共享
	if ShareCgroups(top, nil) {
		t.Fatal("top level container must not share cgroups")
	}
	// 嵌套容器默认共享
	if !ShareCgroups(nested, nil) {
		t.Fatal("nested container shares cgroups by default")
	}
	if !ShareCgroups(nested, &ContainerInfo{LinuxInfo: &LinuxInfo{}}) {
		t.Fatal("nested container shares cgroups when the bit is unset")
	}
	if !ShareCgroups(nested, &ContainerInfo{LinuxInfo: &LinuxInfo{ShareCgroups: &yes}}) {
		t.Fatal("nested container shares cgroups when the bit is set")
	}
	if ShareCgroups(nested, &ContainerInfo{LinuxInfo: &LinuxInfo{ShareCgroups: &no}}) {
		t.Fatal("nested container must not share cgroups when the bit is cleared")
	}
}

func TestTaskLaunchArgument(t *testing.T) {
	launch := &LaunchInfo{
		Mounts: []Mount{BindMount("/sys/fs/cgroup/containers/c1/leaf", "/rootfs/sys/fs/cgroup")},
	}
	argument, err := launch.TaskLaunchArgument()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(argument, "--task_launch_info={") {
		t.Fatalf("unexpected argument: %s", argument)
	}
	if !strings.Contains(argument, "/rootfs/sys/fs/cgroup") {
		t.Fatalf("argument is missing the mount target: %s", argument)
	}
}

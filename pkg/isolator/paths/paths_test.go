package paths

import (
	"testing"

	"github.com/oceanweave/cg2-isolator/pkg/isolator/types"
)

func TestContainerPath(t *testing.T) {
	root := "/sys/fs/cgroup/containers"
	id := types.ParseContainerID("parent/child")

	nonLeaf := Container(root, id, false)
	if nonLeaf != "/sys/fs/cgroup/containers/parent/child" {
		t.Fatalf("unexpected non-leaf path: %s", nonLeaf)
	}

	leaf := Container(root, id, true)
	if leaf != "/sys/fs/cgroup/containers/parent/child/leaf" {
		t.Fatalf("unexpected leaf path: %s", leaf)
	}
}

func TestParseRoundTrip(t *testing.T) {
	root := "/sys/fs/cgroup/containers"
	for _, s := range []string{"c1", "c1/c2", "a/b/c"} {
		id := types.ParseContainerID(s)
		parsed, ok := Parse(root, Container(root, id, false))
		if !ok {
			t.Fatalf("expected %s to parse back to a container id", s)
		}
		if !parsed.Equal(id) {
			t.Fatalf("expected %s, got %s", id, parsed)
		}
	}
}

func TestParseRejectsNonContainers(t *testing.T) {
	root := "/sys/fs/cgroup/containers"
	for _, cgroup := range []string{
		root,                       // 根本身
		"/sys/fs/cgroup/other/c1",  // 根之外
		root + "/c1/leaf",          // 叶子
		root + "/c1/leaf/mycgroup", // 叶子内部的自建 cgroup
	} {
		if _, ok := Parse(root, cgroup); ok {
			t.Fatalf("expected %s not to parse to a container id", cgroup)
		}
	}
}

func TestAgentPath(t *testing.T) {
	if got := Agent("/sys/fs/cgroup/containers", ""); got != "/sys/fs/cgroup/containers/agent" {
		t.Fatalf("unexpected agent path: %s", got)
	}
	if got := Agent("/sys/fs/cgroup/containers", "slave"); got != "/sys/fs/cgroup/containers/slave" {
		t.Fatalf("unexpected agent path: %s", got)
	}
}

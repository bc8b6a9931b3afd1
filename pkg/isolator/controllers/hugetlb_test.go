package controllers

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/oceanweave/cg2-isolator/pkg/isolator/types"
	specs "github.com/opencontainers/runtime-spec/specs-go"
)

func TestHugetlbUpdate(t *testing.T) {
	cgroup := t.TempDir()
	c, err := newHugetlb(nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	requests := &specs.LinuxResources{
		HugepageLimits: []specs.LinuxHugepageLimit{
			{Pagesize: "2MB", Limit: 4194304},
			{Pagesize: "1GB", Limit: 1073741824},
		},
	}
	if err := c.Update(types.NewContainerID("c1"), cgroup, requests, nil); err != nil {
		t.Fatal(err)
	}

	for pagesize, limit := range map[string]string{
		"2MB": "4194304",
		"1GB": "1073741824",
	} {
		max, err := os.ReadFile(filepath.Join(cgroup, "hugetlb."+pagesize+".max"))
		if err != nil {
			t.Fatal(err)
		}
		if string(max) != limit {
			t.Fatalf("unexpected hugetlb.%s.max: %q", pagesize, max)
		}
	}
}

func TestHugetlbUsage(t *testing.T) {
	cgroup := t.TempDir()
	files := map[string]string{
		"hugetlb.2MB.current": "2097152\n",
		"hugetlb.2MB.max":     "4194304\n",
		"hugetlb.1GB.current": "0\n",
		"hugetlb.1GB.max":     "max\n",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(cgroup, name), []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}

	c, _ := newHugetlb(nil, nil)
	statistics, err := c.Usage(types.NewContainerID("c1"), cgroup)
	if err != nil {
		t.Fatal(err)
	}

	stat, ok := statistics.Hugetlb["2MB"]
	if !ok || stat.UsageBytes != 2097152 || stat.LimitBytes != 4194304 {
		t.Fatalf("unexpected 2MB hugetlb statistics: %+v", statistics.Hugetlb)
	}
	// 上限为 max 时不计数值
	stat, ok = statistics.Hugetlb["1GB"]
	if !ok || stat.UsageBytes != 0 || stat.LimitBytes != 0 {
		t.Fatalf("unexpected 1GB hugetlb statistics: %+v", statistics.Hugetlb)
	}
}

func TestHugetlbUsageWithoutFiles(t *testing.T) {
	c, _ := newHugetlb(nil, nil)
	statistics, err := c.Usage(types.NewContainerID("c1"), t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if len(statistics.Hugetlb) != 0 {
		t.Fatalf("expected no hugetlb statistics, got %v", statistics.Hugetlb)
	}
}

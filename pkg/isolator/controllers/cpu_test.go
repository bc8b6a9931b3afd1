package controllers

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/oceanweave/cg2-isolator/pkg/isolator/types"
	specs "github.com/opencontainers/runtime-spec/specs-go"
)

func TestWeightFromShares(t *testing.T) {
	// 边界值和默认值与 runc 的换算结果一致
	for shares, weight := range map[uint64]uint64{
		2:      1,
		1024:   39,
		262144: 10000,
	} {
		if got := weightFromShares(shares); got != weight {
			t.Fatalf("shares %d: expected weight %d, got %d", shares, weight, got)
		}
	}
}

func TestCPUUpdate(t *testing.T) {
	cgroup := t.TempDir()
	c, err := newCPU(nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	shares := uint64(1024)
	requests := &specs.LinuxResources{CPU: &specs.LinuxCPU{Shares: &shares}}
	if err := c.Update(types.NewContainerID("c1"), cgroup, requests, map[string]float64{"cpus": 2.0}); err != nil {
		t.Fatal(err)
	}

	max, err := os.ReadFile(filepath.Join(cgroup, "cpu.max"))
	if err != nil {
		t.Fatal(err)
	}
	if string(max) != "200000 100000" {
		t.Fatalf("unexpected cpu.max: %q", max)
	}

	weight, err := os.ReadFile(filepath.Join(cgroup, "cpu.weight"))
	if err != nil {
		t.Fatal(err)
	}
	if string(weight) != "39" {
		t.Fatalf("unexpected cpu.weight: %q", weight)
	}
}

func TestCPUUpdateWithoutLimit(t *testing.T) {
	cgroup := t.TempDir()
	c, _ := newCPU(nil, nil)

	if err := c.Update(types.NewContainerID("c1"), cgroup, nil, nil); err != nil {
		t.Fatal(err)
	}
	max, err := os.ReadFile(filepath.Join(cgroup, "cpu.max"))
	if err != nil {
		t.Fatal(err)
	}
	if string(max) != "max 100000" {
		t.Fatalf("unexpected cpu.max: %q", max)
	}
}

func TestCPUUsage(t *testing.T) {
	cgroup := t.TempDir()
	stat := "usage_usec 1000\nuser_usec 600\nsystem_usec 400\nnr_periods 10\nnr_throttled 2\nthrottled_usec 50\n"
	if err := os.WriteFile(filepath.Join(cgroup, "cpu.stat"), []byte(stat), 0644); err != nil {
		t.Fatal(err)
	}

	c, _ := newCPU(nil, nil)
	statistics, err := c.Usage(types.NewContainerID("c1"), cgroup)
	if err != nil {
		t.Fatal(err)
	}
	if statistics.CPU == nil || statistics.CPU.UsageUsec != 1000 || statistics.CPU.ThrottledUsec != 50 {
		t.Fatalf("unexpected cpu statistics: %+v", statistics.CPU)
	}
}

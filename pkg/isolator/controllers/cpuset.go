package controllers

import (
	"github.com/oceanweave/cg2-isolator/pkg/isolator/types"
	specs "github.com/opencontainers/runtime-spec/specs-go"
)

const (
	cpusetCpusFile = "cpuset.cpus"
	cpusetMemsFile = "cpuset.mems"
)

type cpuset struct {
	base
}

func newCpuset(flags *types.Flags, dm DeviceManager) (Controller, error) {
	return &cpuset{base{name: "cpuset"}}, nil
}

func (c *cpuset) Update(id types.ContainerID, cgroup string, requests *specs.LinuxResources, limits map[string]float64) error {
	if requests == nil || requests.CPU == nil {
		return nil
	}
	if requests.CPU.Cpus != "" {
		if err := writeControl(cgroup, cpusetCpusFile, requests.CPU.Cpus); err != nil {
			return err
		}
	}
	if requests.CPU.Mems != "" {
		if err := writeControl(cgroup, cpusetMemsFile, requests.CPU.Mems); err != nil {
			return err
		}
	}
	return nil
}

package controllers

import (
	"github.com/oceanweave/cg2-isolator/pkg/isolator/types"
	"github.com/pkg/errors"
)

// devices 同样是隐式 controller
// v2 下设备访问控制通过 eBPF 程序实现，挂载和撤销程序由外部注入的
// DeviceManager 完成，这里只在生命周期的对应节点转发调用
type devices struct {
	base
	dm DeviceManager
}

func newDevices(flags *types.Flags, dm DeviceManager) (Controller, error) {
	if dm == nil {
		dm = noopDeviceManager{}
	}
	return &devices{base: base{name: "devices"}, dm: dm}, nil
}

func (d *devices) Prepare(id types.ContainerID, cgroup string, cfg *types.ContainerConfig) error {
	if err := d.dm.Configure(id, cgroup); err != nil {
		return errors.Wrapf(err, "configure device access for container %s", id)
	}
	return nil
}

func (d *devices) Cleanup(id types.ContainerID, cgroup string) error {
	if err := d.dm.Remove(id); err != nil {
		return errors.Wrapf(err, "remove device access state of container %s", id)
	}
	return nil
}

// NoopDeviceManager 返回不做任何设备限制的空实现
func NoopDeviceManager() DeviceManager {
	return noopDeviceManager{}
}

// noopDeviceManager 宿主没有注入 DeviceManager 时的空实现，不做任何设备限制
type noopDeviceManager struct{}

func (noopDeviceManager) Configure(types.ContainerID, string) error { return nil }

func (noopDeviceManager) Recover([]types.ContainerID) error { return nil }

func (noopDeviceManager) Remove(types.ContainerID) error { return nil }

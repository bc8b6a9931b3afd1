package controllers

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/oceanweave/cg2-isolator/pkg/isolator/types"
	"github.com/oceanweave/cg2-isolator/pkg/util"
	specs "github.com/opencontainers/runtime-spec/specs-go"
	"github.com/pkg/errors"
)

const (
	ioMaxFile    = "io.max"
	ioWeightFile = "io.weight"
	ioStatFile   = "io.stat"
)

type ioController struct {
	base
}

func newIO(flags *types.Flags, dm DeviceManager) (Controller, error) {
	return &ioController{base{name: "io"}}, nil
}

func (c *ioController) Update(id types.ContainerID, cgroup string, requests *specs.LinuxResources, limits map[string]float64) error {
	if requests == nil || requests.BlockIO == nil {
		return nil
	}
	blkio := requests.BlockIO

	if blkio.Weight != nil && *blkio.Weight > 0 {
		if err := writeControl(cgroup, ioWeightFile, fmt.Sprintf("%d", *blkio.Weight)); err != nil {
			return err
		}
	}

	// io.max 每行一个设备："maj:min rbps=x wbps=y riops=z wiops=w"
	throttle := map[string]map[string]uint64{}
	add := func(devices []specs.LinuxThrottleDevice, key string) {
		for _, d := range devices {
			dev := fmt.Sprintf("%d:%d", d.Major, d.Minor)
			if throttle[dev] == nil {
				throttle[dev] = map[string]uint64{}
			}
			throttle[dev][key] = d.Rate
		}
	}
	add(blkio.ThrottleReadBpsDevice, "rbps")
	add(blkio.ThrottleWriteBpsDevice, "wbps")
	add(blkio.ThrottleReadIOPSDevice, "riops")
	add(blkio.ThrottleWriteIOPSDevice, "wiops")

	for dev, rates := range throttle {
		entry := dev
		for _, key := range []string{"rbps", "wbps", "riops", "wiops"} {
			if rate, ok := rates[key]; ok && rate > 0 {
				entry += fmt.Sprintf(" %s=%d", key, rate)
			}
		}
		if err := writeControl(cgroup, ioMaxFile, entry); err != nil {
			return err
		}
	}
	return nil
}

func (c *ioController) Usage(id types.ContainerID, cgroup string) (*types.Statistics, error) {
	lines, err := util.ReadLines(filepath.Join(cgroup, ioStatFile))
	if err != nil {
		return nil, errors.Wrapf(err, "read io.stat of cgroup %s", cgroup)
	}

	// io.stat 每行形如 "8:0 rbytes=1024 wbytes=0 rios=4 wios=0 ..."
	// 这里不区分设备，按全部设备累加
	total := &types.IOStatistics{}
	for _, line := range lines {
		for _, field := range strings.Fields(line)[1:] {
			key, value, found := strings.Cut(field, "=")
			if !found {
				continue
			}
			n, err := strconv.ParseUint(value, 10, 64)
			if err != nil {
				continue
			}
			switch key {
			case "rbytes":
				total.ReadBytes += n
			case "wbytes":
				total.WriteBytes += n
			case "rios":
				total.ReadOps += n
			case "wios":
				total.WriteOps += n
			}
		}
	}
	return &types.Statistics{Timestamp: time.Now(), IO: total}, nil
}

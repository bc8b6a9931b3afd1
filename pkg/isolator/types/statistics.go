package types

import "time"

/*
	各 controller 采集的统计信息，Usage 时由 isolator 合并成一个 Statistics
	字段为 nil 表示对应 controller 未开启或未上报
*/

type CPUStatistics struct {
	// cpu.stat 中的累计值，单位微秒
	UsageUsec     uint64
	UserUsec      uint64
	SystemUsec    uint64
	NrPeriods     uint64
	NrThrottled   uint64
	ThrottledUsec uint64
}

type MemoryStatistics struct {
	// memory.current / memory.swap.current，单位字节
	UsageBytes uint64
	SwapBytes  uint64
	// memory.stat 的常用条目
	AnonBytes   uint64
	FileBytes   uint64
	KernelBytes uint64
	// memory.events 中的累计 OOM 次数
	OOMKills uint64
}

type IOStatistics struct {
	// io.stat 按设备累加后的总量
	ReadBytes  uint64
	WriteBytes uint64
	ReadOps    uint64
	WriteOps   uint64
}

type PidsStatistics struct {
	Current uint64
	Limit   uint64
}

type HugetlbStatistics struct {
	UsageBytes uint64
	LimitBytes uint64
}

// Statistics 单个容器某一时刻的资源使用快照
type Statistics struct {
	Timestamp time.Time
	// 容器内的进程数，由 core controller 统计
	Processes uint64

	CPU     *CPUStatistics
	Memory  *MemoryStatistics
	IO      *IOStatistics
	Pids    *PidsStatistics
	Hugetlb map[string]HugetlbStatistics
}

// Merge 将另一个 controller 的统计合并进来，非空字段覆盖
func (s *Statistics) Merge(other *Statistics) {
	if other == nil {
		return
	}
	if other.Timestamp.After(s.Timestamp) {
		s.Timestamp = other.Timestamp
	}
	if other.Processes > 0 {
		s.Processes = other.Processes
	}
	if other.CPU != nil {
		s.CPU = other.CPU
	}
	if other.Memory != nil {
		s.Memory = other.Memory
	}
	if other.IO != nil {
		s.IO = other.IO
	}
	if other.Pids != nil {
		s.Pids = other.Pids
	}
	if len(other.Hugetlb) > 0 {
		if s.Hugetlb == nil {
			s.Hugetlb = make(map[string]HugetlbStatistics, len(other.Hugetlb))
		}
		for size, stat := range other.Hugetlb {
			s.Hugetlb[size] = stat
		}
	}
}

// PressureStatus memory.pressure 等 PSI 文件的 some 行
type PressureStatus struct {
	Avg10  float64
	Avg60  float64
	Avg300 float64
}

// Status 单个容器的即时状态
type Status struct {
	// 容器非叶子 cgroup 的路径
	Cgroup string
	// 叶子 cgroup 中的进程号
	Pids []int
	// 内存压力，memory controller 上报
	MemoryPressure *PressureStatus
}

// Merge 合并另一个 controller 上报的状态
func (s *Status) Merge(other *Status) {
	if other == nil {
		return
	}
	if other.Cgroup != "" {
		s.Cgroup = other.Cgroup
	}
	if len(other.Pids) > 0 {
		s.Pids = other.Pids
	}
	if other.MemoryPressure != nil {
		s.MemoryPressure = other.MemoryPressure
	}
}

package bench

import (
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// Usage is the process resource footprint over a bench run
type Usage struct {
	CPUPercent            float64 `json:"cpu_percent"`
	MemoryRSS             uint64  `json:"memory_rss"`
	MemoryVMS             uint64  `json:"memory_vms"`
	SystemMemoryPercent   float64 `json:"system_memory_percent"`
	SystemMemoryAvailable uint64  `json:"system_memory_available"`
	GoroutineCount        int     `json:"goroutines"`
	ThreadCount           int32   `json:"threads"`
	HeapAlloc             uint64  `json:"heap_alloc"`
	NumGC                 uint32  `json:"num_gc"`
}

// resourceMonitor measures CPU time used since it was started
type resourceMonitor struct {
	proc         *process.Process
	startCPUTime float64
	startTime    time.Time
	startGC      uint32
}

func startMonitor() *resourceMonitor {
	rm := &resourceMonitor{startTime: time.Now()}
	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		rm.proc = proc
		if t, err := proc.Times(); err == nil {
			rm.startCPUTime = t.Total()
		}
	}
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	rm.startGC = ms.NumGC
	return rm
}

// usage samples the process. Fields gopsutil cannot read on this platform stay zero.
func (rm *resourceMonitor) usage() Usage {
	var u Usage
	if rm.proc != nil {
		if t, err := rm.proc.Times(); err == nil {
			if elapsed := time.Since(rm.startTime).Seconds(); elapsed > 0 {
				u.CPUPercent = (t.Total() - rm.startCPUTime) / elapsed * 100
			}
		}
		if mi, err := rm.proc.MemoryInfo(); err == nil {
			u.MemoryRSS = mi.RSS
			u.MemoryVMS = mi.VMS
		}
		u.ThreadCount, _ = rm.proc.NumThreads()
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		u.SystemMemoryPercent = vm.UsedPercent
		u.SystemMemoryAvailable = vm.Available
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	u.HeapAlloc = ms.HeapAlloc
	u.NumGC = ms.NumGC - rm.startGC
	u.GoroutineCount = runtime.NumGoroutine()
	return u
}

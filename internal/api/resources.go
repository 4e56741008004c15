package api

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"l4book/logger"
)

// hostSample is one reading of host and process resource usage.
type hostSample struct {
	Timestamp  time.Time `json:"timestamp"`
	CPUPercent float64   `json:"cpu_percent"`
	MemPercent float64   `json:"memory_percent"`
	ProcessRSS uint64    `json:"process_rss"`
	DiskPath   string    `json:"disk_path"`
	DiskPct    float64   `json:"disk_percent"`
}

var (
	cpuPercentFn = func(ctx context.Context, interval time.Duration) ([]float64, error) {
		return cpu.PercentWithContext(ctx, interval, false)
	}
	memoryStatsFn = mem.VirtualMemoryWithContext
	diskUsageFn   = disk.UsageWithContext
	processRSSFn  = processRSS
)

func processRSS(ctx context.Context) (uint64, error) {
	p, err := process.NewProcessWithContext(ctx, int32(os.Getpid()))
	if err != nil {
		return 0, err
	}
	info, err := p.MemoryInfoWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return info.RSS, nil
}

// hostSampler keeps the latest resource sample. Books are memory bound, so
// the process RSS is sampled next to the host figures.
type hostSampler struct {
	interval time.Duration
	diskPath string
	log      *logger.Entry

	mu     sync.RWMutex
	latest hostSample
	wg     sync.WaitGroup
}

func newHostSampler(interval time.Duration, diskPath string) *hostSampler {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if diskPath == "" {
		diskPath = "/"
	}
	return &hostSampler{
		interval: interval,
		diskPath: diskPath,
		log:      logger.GetLogger().WithComponent("host_sampler"),
	}
}

func (s *hostSampler) start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for ctx.Err() == nil {
			// cpu.Percent blocks for one interval, which paces the loop.
			if sample, ok := s.sample(ctx); ok {
				s.mu.Lock()
				s.latest = sample
				s.mu.Unlock()
			} else {
				select {
				case <-ctx.Done():
				case <-time.After(s.interval):
				}
			}
		}
	}()
}

func (s *hostSampler) wait() { s.wg.Wait() }

func (s *hostSampler) sample(ctx context.Context) (hostSample, bool) {
	cpuPct, err := cpuPercentFn(ctx, s.interval)
	if err != nil {
		s.log.WithError(err).Debug("failed to sample cpu usage")
		return hostSample{}, false
	}
	vm, err := memoryStatsFn(ctx)
	if err != nil {
		s.log.WithError(err).Debug("failed to sample memory usage")
		return hostSample{}, false
	}
	du, err := diskUsageFn(ctx, s.diskPath)
	if err != nil {
		s.log.WithError(err).Debug("failed to sample disk usage")
		return hostSample{}, false
	}
	rss, err := processRSSFn(ctx)
	if err != nil {
		s.log.WithError(err).Debug("failed to sample process memory")
	}

	out := hostSample{
		Timestamp:  time.Now(),
		MemPercent: vm.UsedPercent,
		ProcessRSS: rss,
		DiskPath:   s.diskPath,
		DiskPct:    du.UsedPercent,
	}
	if len(cpuPct) > 0 {
		out.CPUPercent = cpuPct[0]
	}
	return out, true
}

func (s *hostSampler) snapshot() hostSample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest
}

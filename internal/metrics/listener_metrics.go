package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/process"
)

// ListenerSample holds one CPU/memory observation of the listener subprocess.
type ListenerSample struct {
	PID        int32     `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryMB   float64   `json:"memory_mb"`
	MemoryRSS  uint64    `json:"memory_rss"`
	NumThreads int32     `json:"num_threads"`
	NumFDs     int32     `json:"num_fds,omitempty"` // Unix only
	Timestamp  time.Time `json:"timestamp"`
}

// ListenerSamplerConfig holds configuration for listener resource sampling.
type ListenerSamplerConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

// ListenerSampler periodically samples resource usage of the listener
// subprocess and exposes it through Prometheus gauges. The sampler is
// inert until Start is called with a PID provider.
type ListenerSampler struct {
	enabled  bool
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu     sync.RWMutex
	latest ListenerSample

	cpuPercent prometheus.Gauge
	memoryMB   prometheus.Gauge
	numThreads prometheus.Gauge
	numFDs     prometheus.Gauge
}

// NewListenerSampler creates a sampler from config. Interval defaults
// to 5s.
func NewListenerSampler(cfg ListenerSamplerConfig) *ListenerSampler {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &ListenerSampler{
		enabled:  cfg.Enabled,
		interval: interval,
		stopCh:   make(chan struct{}),
		cpuPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "buildgate",
			Subsystem: "listener",
			Name:      "cpu_percent",
			Help:      "CPU usage percentage of the listener subprocess.",
		}),
		memoryMB: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "buildgate",
			Subsystem: "listener",
			Name:      "memory_mb",
			Help:      "Resident memory of the listener subprocess in MB.",
		}),
		numThreads: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "buildgate",
			Subsystem: "listener",
			Name:      "num_threads",
			Help:      "Thread count of the listener subprocess.",
		}),
		numFDs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "buildgate",
			Subsystem: "listener",
			Name:      "num_fds",
			Help:      "Open file descriptors of the listener subprocess (Unix only).",
		}),
	}
}

// RegisterMetrics registers the sampler gauges with the provided registerer.
func (s *ListenerSampler) RegisterMetrics(r prometheus.Registerer) error {
	if !s.enabled {
		return nil
	}
	cs := []prometheus.Collector{s.cpuPercent, s.memoryMB, s.numThreads}
	if runtime.GOOS != "windows" {
		cs = append(cs, s.numFDs)
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

// Start begins periodic sampling. pidFn returns the current listener
// PID, or a value <= 0 while no subprocess is running.
func (s *ListenerSampler) Start(ctx context.Context, pidFn func() int32) {
	if !s.enabled {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				pid := pidFn()
				if pid <= 0 {
					continue
				}
				if err := s.sample(pid); err != nil {
					slog.Debug("listener sample failed", "pid", pid, "error", err)
				}
			}
		}
	}()
}

// Stop halts sampling and waits for the sampling goroutine to exit.
func (s *ListenerSampler) Stop() {
	if !s.enabled {
		return
	}
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

// Latest returns the most recent sample and whether one was taken.
func (s *ListenerSampler) Latest() (ListenerSample, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest, !s.latest.Timestamp.IsZero()
}

func (s *ListenerSampler) sample(pid int32) error {
	proc, err := process.NewProcess(pid)
	if err != nil {
		return fmt.Errorf("process handle: %w", err)
	}
	cpu, err := proc.CPUPercent()
	if err != nil {
		cpu = 0
	}
	mem, err := proc.MemoryInfo()
	if err != nil {
		return fmt.Errorf("memory info: %w", err)
	}
	threads, err := proc.NumThreads()
	if err != nil {
		threads = 0
	}

	sm := ListenerSample{
		PID:        pid,
		CPUPercent: cpu,
		MemoryMB:   float64(mem.RSS) / 1024 / 1024,
		MemoryRSS:  mem.RSS,
		NumThreads: threads,
		Timestamp:  time.Now(),
	}
	if runtime.GOOS != "windows" {
		if fds, err := proc.NumFDs(); err == nil {
			sm.NumFDs = fds
			s.numFDs.Set(float64(fds))
		}
	}

	s.cpuPercent.Set(sm.CPUPercent)
	s.memoryMB.Set(sm.MemoryMB)
	s.numThreads.Set(float64(sm.NumThreads))

	s.mu.Lock()
	s.latest = sm
	s.mu.Unlock()
	return nil
}

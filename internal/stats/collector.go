// Package stats samples process resource usage while a command runs and
// renders it as a text report next to the reconciliation summary.
package stats

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/royalcat/rgeomatch/reconcile"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/process"
)

type RuntimeStats struct {
	StartTime    time.Time     `json:"start_time"`
	EndTime      time.Time     `json:"end_time"`
	TotalElapsed time.Duration `json:"total_elapsed_ns"`
	Samples      []Sample      `json:"samples"`
	Summary      Summary       `json:"summary"`

	// Reconciliation is attached by the caller after the run.
	Reconciliation *reconcile.Stats `json:"reconciliation,omitempty"`
}

type Sample struct {
	Timestamp time.Time     `json:"timestamp"`
	Elapsed   time.Duration `json:"elapsed_ns"`

	HeapAlloc       uint64 `json:"heap_alloc"`
	HeapSys         uint64 `json:"heap_sys"`
	Sys             uint64 `json:"sys"`
	NumGC           uint32 `json:"num_gc"`
	ProcessRSSBytes uint64 `json:"process_rss_bytes"`

	CPUPercent    float64 `json:"cpu_percent"`
	SystemCPU     float64 `json:"system_cpu_percent"`
	NumGoroutines int     `json:"num_goroutines"`
}

type Summary struct {
	PeakHeapAlloc  uint64        `json:"peak_heap_alloc"`
	PeakSys        uint64        `json:"peak_sys"`
	PeakProcessRSS uint64        `json:"peak_process_rss"`
	PeakCPUPercent float64       `json:"peak_cpu_percent"`
	AvgCPUPercent  float64       `json:"avg_cpu_percent"`
	PeakGoroutines int           `json:"peak_goroutines"`
	GCCycles       uint32        `json:"gc_cycles"`
	SampleCount    int           `json:"sample_count"`
	SampleInterval time.Duration `json:"sample_interval_ns"`
}

// Collector samples runtime and process statistics on a fixed interval
// between Start and Stop.
type Collector struct {
	mu       sync.Mutex
	stats    RuntimeStats
	interval time.Duration
	proc     *process.Process

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func NewCollector(interval time.Duration) (*Collector, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("failed to get process info: %w", err)
	}

	return &Collector{
		stats: RuntimeStats{
			Samples: make([]Sample, 0, 256),
		},
		interval: interval,
		proc:     proc,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

func (c *Collector) Start() {
	c.stats.StartTime = time.Now()
	go c.collect()
}

func (c *Collector) collect() {
	defer close(c.done)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.sample()
	for {
		select {
		case <-c.stop:
			c.sample()
			return
		case <-ticker.C:
			c.sample()
		}
	}
}

func (c *Collector) sample() {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	now := time.Now()
	s := Sample{
		Timestamp:     now,
		Elapsed:       now.Sub(c.stats.StartTime),
		HeapAlloc:     mem.HeapAlloc,
		HeapSys:       mem.HeapSys,
		Sys:           mem.Sys,
		NumGC:         mem.NumGC,
		NumGoroutines: runtime.NumGoroutine(),
	}

	if memInfo, err := c.proc.MemoryInfo(); err == nil && memInfo != nil {
		s.ProcessRSSBytes = memInfo.RSS
	}
	if percent, err := c.proc.CPUPercent(); err == nil {
		s.CPUPercent = percent
	}
	if total, err := cpu.Percent(0, false); err == nil && len(total) > 0 {
		s.SystemCPU = total[0]
	}

	c.mu.Lock()
	c.stats.Samples = append(c.stats.Samples, s)
	c.mu.Unlock()
}

// Stop ends sampling and returns the collected statistics. It must be called
// after Start; later calls return the stats of the first.
func (c *Collector) Stop() RuntimeStats {
	c.stopOnce.Do(func() {
		close(c.stop)
		<-c.done

		c.mu.Lock()
		defer c.mu.Unlock()

		c.stats.EndTime = time.Now()
		c.stats.TotalElapsed = c.stats.EndTime.Sub(c.stats.StartTime)
		c.stats.Summary = summarize(c.stats.Samples, c.interval)
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

func summarize(samples []Sample, interval time.Duration) Summary {
	sum := Summary{
		SampleCount:    len(samples),
		SampleInterval: interval,
	}
	if len(samples) == 0 {
		return sum
	}

	var totalCPU float64
	for _, s := range samples {
		sum.PeakHeapAlloc = max(sum.PeakHeapAlloc, s.HeapAlloc)
		sum.PeakSys = max(sum.PeakSys, s.Sys)
		sum.PeakProcessRSS = max(sum.PeakProcessRSS, s.ProcessRSSBytes)
		sum.PeakCPUPercent = max(sum.PeakCPUPercent, s.CPUPercent)
		sum.PeakGoroutines = max(sum.PeakGoroutines, s.NumGoroutines)
		totalCPU += s.CPUPercent
	}
	sum.GCCycles = samples[len(samples)-1].NumGC - samples[0].NumGC
	sum.AvgCPUPercent = totalCPU / float64(len(samples))
	return sum
}

const (
	rule     = "--------------------------------------------------------------------------------\n"
	heavy    = "================================================================================\n"
	maxShown = 100
)

// WriteTo renders a human-readable report.
func (stats *RuntimeStats) WriteTo(w io.Writer) (int64, error) {
	var sb strings.Builder

	sb.WriteString(heavy)
	sb.WriteString("                         RGEOMATCH RUN REPORT\n")
	sb.WriteString(heavy + "\n")

	sb.WriteString("TIME\n" + rule)
	fmt.Fprintf(&sb, "  Start:           %s\n", stats.StartTime.Format(time.RFC3339))
	fmt.Fprintf(&sb, "  End:             %s\n", stats.EndTime.Format(time.RFC3339))
	fmt.Fprintf(&sb, "  Duration:        %s\n\n", stats.TotalElapsed.Round(time.Millisecond))

	if r := stats.Reconciliation; r != nil {
		sb.WriteString("RECONCILIATION\n" + rule)
		fmt.Fprintf(&sb, "  References:      %s\n", humanize.Comma(int64(r.References)))
		fmt.Fprintf(&sb, "  Observations:    %s\n", humanize.Comma(int64(r.Observations)))
		fmt.Fprintf(&sb, "  Matched:         %s\n", humanize.Comma(int64(r.Matched)))
		fmt.Fprintf(&sb, "  Unmatched:       %s\n", humanize.Comma(int64(r.Unmatched)))
		fmt.Fprintf(&sb, "  Displaced:       %s\n", humanize.Comma(int64(r.Displaced)))
		fmt.Fprintf(&sb, "  Unclaimed:       %s\n", humanize.Comma(int64(r.Unclaimed)))
		fmt.Fprintf(&sb, "  Collisions:      %s (%d contested)\n", humanize.Comma(int64(r.Collisions)), r.Contested)
		fmt.Fprintf(&sb, "  Max distance:    %.2f m\n", r.MaxDistance)
		fmt.Fprintf(&sb, "  Mean distance:   %.2f m\n", r.MeanDistance)
		fmt.Fprintf(&sb, "  Index build:     %s\n", r.IndexBuild)
		fmt.Fprintf(&sb, "  Queries:         %s\n\n", r.Query)
	}

	sum := stats.Summary
	sb.WriteString("RESOURCES\n" + rule)
	fmt.Fprintf(&sb, "  Samples:         %d every %s\n", sum.SampleCount, sum.SampleInterval)
	fmt.Fprintf(&sb, "  Peak heap:       %s\n", humanize.IBytes(sum.PeakHeapAlloc))
	fmt.Fprintf(&sb, "  Peak sys:        %s\n", humanize.IBytes(sum.PeakSys))
	fmt.Fprintf(&sb, "  Peak RSS:        %s\n", humanize.IBytes(sum.PeakProcessRSS))
	fmt.Fprintf(&sb, "  CPU peak/avg:    %.2f%% / %.2f%%\n", sum.PeakCPUPercent, sum.AvgCPUPercent)
	fmt.Fprintf(&sb, "  Goroutines peak: %d\n", sum.PeakGoroutines)
	fmt.Fprintf(&sb, "  GC cycles:       %d\n\n", sum.GCCycles)

	sb.WriteString("SAMPLES\n" + rule)
	shown := stats.Samples
	if len(shown) > maxShown {
		shown = make([]Sample, 0, maxShown)
		step := float64(len(stats.Samples)-1) / float64(maxShown-1)
		for i := range maxShown {
			shown = append(shown, stats.Samples[int(float64(i)*step)])
		}
		fmt.Fprintf(&sb, "  (%d of %d samples, evenly distributed)\n\n", maxShown, len(stats.Samples))
	}

	fmt.Fprintf(&sb, "%-12s %-14s %-14s %-10s %-10s\n", "Elapsed(s)", "Heap", "RSS", "CPU %", "Goroutines")
	for _, s := range shown {
		fmt.Fprintf(&sb, "%-12.1f %-14s %-14s %-10.1f %-10d\n",
			s.Elapsed.Seconds(),
			humanize.IBytes(s.HeapAlloc),
			humanize.IBytes(s.ProcessRSSBytes),
			s.CPUPercent,
			s.NumGoroutines)
	}
	sb.WriteString("\n" + heavy)

	n, err := io.WriteString(w, sb.String())
	return int64(n), err
}

func (stats *RuntimeStats) SaveToFile(filename string) error {
	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create stats file: %w", err)
	}
	defer f.Close()

	if _, err := stats.WriteTo(f); err != nil {
		return fmt.Errorf("failed to write stats file: %w", err)
	}
	return f.Close()
}

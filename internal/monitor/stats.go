// Package monitor provides the observer surfaces over the pipeline's
// metrics: a periodic sampler with history, an ANSI terminal dashboard,
// an HTTP webserver with JSON stats and charts, and a websocket hub for
// live frames. Observers only read the lock-free stage counters and the
// queue counters; they never touch the data path.
package monitor

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/dashcam.report/internal/infra"
)

// QueueView exposes one queue's counters to observers without the
// queue's element type.
type QueueView struct {
	Name     string
	Capacity int
	Size     func() int
	Pushes   func() uint64
	Pops     func() uint64
	Drops    func() uint64
}

// StageSample is one stage's derived rates at a sample instant.
type StageSample struct {
	Name         string  `json:"name"`
	FPS          float64 `json:"fps"`
	Busy         float64 `json:"busy"` // fraction of wall time spent working
	AvgLatencyMS float64 `json:"avg_latency_ms"`
	LastEventMS  float64 `json:"last_event_ms"` // time since last item
	Count        uint64  `json:"count"`
}

// QueueSample is one queue's state at a sample instant.
type QueueSample struct {
	Name     string  `json:"name"`
	Size     int     `json:"size"`
	Capacity int     `json:"capacity"`
	Utilized float64 `json:"utilized"`
	Pushes   uint64  `json:"pushes_total"`
	Pops     uint64  `json:"pops_total"`
	Drops    uint64  `json:"drops_total"`
}

// Sample is one periodic snapshot of the whole pipeline.
type Sample struct {
	TakenAt time.Time     `json:"taken_at"`
	Stages  []StageSample `json:"stages"`
	Queues  []QueueSample `json:"queues"`
}

// historyLen bounds the sampler's ring buffer (10 minutes at 1s).
const historyLen = 600

// Sampler periodically derives per-stage rates from the raw counters
// and keeps a bounded history for charts and percentile summaries.
type Sampler struct {
	metrics  *infra.Metrics
	queues   []QueueView
	interval time.Duration
	runner   *infra.ThreadRunner

	csvPath string
	csvOnce sync.Once
	csvFile *os.File
	csvW    *csv.Writer

	mu      sync.RWMutex
	history []Sample
	prev    map[*infra.StageMetrics]prevCounters
}

type prevCounters struct {
	count  uint64
	workNS uint64
	at     time.Time
}

// NewSampler creates a sampler over the given metrics and queue views.
// csvPath, when non-empty, appends one row per stage per sample.
func NewSampler(metrics *infra.Metrics, queues []QueueView, interval time.Duration, csvPath string) *Sampler {
	if interval <= 0 {
		interval = time.Second
	}
	return &Sampler{
		metrics:  metrics,
		queues:   queues,
		interval: interval,
		runner:   infra.NewThreadRunner("metrics-sampler"),
		csvPath:  csvPath,
		prev:     map[*infra.StageMetrics]prevCounters{},
	}
}

// Start launches the sampling loop.
func (s *Sampler) Start(global infra.StopToken) error {
	return s.runner.Start(global, func(g infra.StopToken, local *atomic.Bool) {
		for !infra.Stopping(g, local) {
			time.Sleep(s.interval)
			s.TakeSample()
		}
		s.closeCSV()
	})
}

// Stop halts sampling.
func (s *Sampler) Stop() {
	s.runner.RequestStop()
	s.runner.Join()
}

// TakeSample snapshots the counters now and appends to the history.
func (s *Sampler) TakeSample() Sample {
	now := time.Now()
	nowNS := infra.NowNS()

	s.mu.Lock()
	defer s.mu.Unlock()

	sample := Sample{TakenAt: now}
	for _, m := range s.metrics.Stages() {
		prev := s.prev[m]
		count := m.Count()
		work := m.WorkNSTotal()

		dt := now.Sub(prev.at).Seconds()
		var fps, busy float64
		if !prev.at.IsZero() && dt > 0 {
			fps = float64(count-prev.count) / dt
			busy = float64(work-prev.workNS) / (dt * 1e9)
			if busy < 0 {
				busy = 0
			}
			if busy > 1 {
				busy = 1
			}
		}
		s.prev[m] = prevCounters{count: count, workNS: work, at: now}

		last := m.LastEventNS()
		var lastMS float64
		if last != 0 && nowNS > last {
			lastMS = float64(nowNS-last) / 1e6
		}

		sample.Stages = append(sample.Stages, StageSample{
			Name:         m.Name(),
			FPS:          fps,
			Busy:         busy,
			AvgLatencyMS: float64(m.AvgLatencyNS()) / 1e6,
			LastEventMS:  lastMS,
			Count:        count,
		})
	}

	for _, q := range s.queues {
		size := q.Size()
		util := 0.0
		if q.Capacity > 0 {
			util = float64(size) / float64(q.Capacity)
		}
		sample.Queues = append(sample.Queues, QueueSample{
			Name:     q.Name,
			Size:     size,
			Capacity: q.Capacity,
			Utilized: util,
			Pushes:   q.Pushes(),
			Pops:     q.Pops(),
			Drops:    q.Drops(),
		})
	}

	s.history = append(s.history, sample)
	if len(s.history) > historyLen {
		s.history = s.history[len(s.history)-historyLen:]
	}

	s.appendCSVLocked(sample)
	return sample
}

// Latest returns the most recent sample, if any.
func (s *Sampler) Latest() (Sample, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.history) == 0 {
		return Sample{}, false
	}
	return s.history[len(s.history)-1], true
}

// History returns up to n recent samples, oldest first.
func (s *Sampler) History(n int) []Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n <= 0 || n > len(s.history) {
		n = len(s.history)
	}
	out := make([]Sample, n)
	copy(out, s.history[len(s.history)-n:])
	return out
}

// LatencySummary holds percentile statistics over the recent history of
// one stage's smoothed latency.
type LatencySummary struct {
	Stage   string  `json:"stage"`
	P50MS   float64 `json:"p50_ms"`
	P95MS   float64 `json:"p95_ms"`
	MeanMS  float64 `json:"mean_ms"`
	Samples int     `json:"samples"`
}

// LatencySummaries computes per-stage latency percentiles over the
// sampled history.
func (s *Sampler) LatencySummaries() []LatencySummary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byStage := map[string][]float64{}
	var order []string
	for _, sample := range s.history {
		for _, st := range sample.Stages {
			if _, seen := byStage[st.Name]; !seen {
				order = append(order, st.Name)
			}
			byStage[st.Name] = append(byStage[st.Name], st.AvgLatencyMS)
		}
	}

	out := make([]LatencySummary, 0, len(order))
	for _, name := range order {
		vals := byStage[name]
		sorted := append([]float64(nil), vals...)
		sort.Float64s(sorted)
		out = append(out, LatencySummary{
			Stage:   name,
			P50MS:   stat.Quantile(0.50, stat.Empirical, sorted, nil),
			P95MS:   stat.Quantile(0.95, stat.Empirical, sorted, nil),
			MeanMS:  stat.Mean(sorted, nil),
			Samples: len(sorted),
		})
	}
	return out
}

func (s *Sampler) appendCSVLocked(sample Sample) {
	if s.csvPath == "" {
		return
	}
	s.csvOnce.Do(func() {
		if err := os.MkdirAll(filepath.Dir(s.csvPath), 0o755); err != nil {
			infra.Opsf("metrics csv: create dir: %v", err)
			return
		}
		f, err := os.OpenFile(s.csvPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			infra.Opsf("metrics csv: open %s: %v", s.csvPath, err)
			return
		}
		s.csvFile = f
		s.csvW = csv.NewWriter(f)
		fi, err := f.Stat()
		if err == nil && fi.Size() == 0 {
			s.csvW.Write([]string{"ts", "stage", "fps", "busy", "avg_latency_ms", "count"})
		}
	})
	if s.csvW == nil {
		return
	}
	ts := sample.TakenAt.Format(time.RFC3339Nano)
	for _, st := range sample.Stages {
		s.csvW.Write([]string{
			ts,
			st.Name,
			fmt.Sprintf("%.2f", st.FPS),
			fmt.Sprintf("%.3f", st.Busy),
			fmt.Sprintf("%.3f", st.AvgLatencyMS),
			strconv.FormatUint(st.Count, 10),
		})
	}
	s.csvW.Flush()
}

func (s *Sampler) closeCSV() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.csvW != nil {
		s.csvW.Flush()
	}
	if s.csvFile != nil {
		s.csvFile.Close()
		s.csvFile = nil
		s.csvW = nil
	}
}

package monitor

import (
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"github.com/banshee-data/dashcam.report/internal/infra"
)

const (
	ansiReset  = "\033[0m"
	ansiRed    = "\033[31m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiHome   = "\033[H"
	ansiClear  = "\033[2J\033[H"
)

// dashboardPeriod is the terminal redraw interval.
const dashboardPeriod = 300 * time.Millisecond

// Dashboard redraws a terminal view of the stage metrics and queue
// utilization. It reads the lock-free counters directly so it stays live
// even when the sampler interval is long.
type Dashboard struct {
	metrics *infra.Metrics
	queues  []QueueView
	out     io.Writer
	runner  *infra.ThreadRunner

	prev map[*infra.StageMetrics]prevCounters
}

// NewDashboard creates a dashboard writing ANSI frames to out.
func NewDashboard(metrics *infra.Metrics, queues []QueueView, out io.Writer) *Dashboard {
	return &Dashboard{
		metrics: metrics,
		queues:  queues,
		out:     out,
		runner:  infra.NewThreadRunner("ansi-dashboard"),
		prev:    map[*infra.StageMetrics]prevCounters{},
	}
}

// Start launches the redraw loop.
func (d *Dashboard) Start(global infra.StopToken) error {
	return d.runner.Start(global, func(g infra.StopToken, local *atomic.Bool) {
		fmt.Fprint(d.out, ansiClear)
		last := time.Now()
		for !infra.Stopping(g, local) {
			time.Sleep(dashboardPeriod)
			now := time.Now()
			d.draw(now.Sub(last).Seconds())
			last = now
		}
	})
}

// Stop halts the redraw loop.
func (d *Dashboard) Stop() {
	d.runner.RequestStop()
	d.runner.Join()
}

func (d *Dashboard) draw(dt float64) {
	var b strings.Builder
	nowNS := infra.NowNS()

	b.WriteString(ansiHome)
	b.WriteString("DASHCAM PERCEPTION PIPELINE\n\n")
	fmt.Fprintf(&b, "%-14s%-10s%-10s%-12s%-14s\n", "STAGE", "FPS", "BUSY%", "LAT(ms)", "LAST(ms)")
	b.WriteString(strings.Repeat("-", 60))
	b.WriteString("\n")

	for _, m := range d.metrics.Stages() {
		p := d.prev[m]
		count := m.Count()
		work := m.WorkNSTotal()

		var fps, busy float64
		if dt > 0 {
			fps = float64(count-p.count) / dt
			busy = float64(work-p.workNS) / (dt * 1e9)
			if busy < 0 {
				busy = 0
			}
			if busy > 1 {
				busy = 1
			}
		}
		d.prev[m] = prevCounters{count: count, workNS: work}

		busyColor := ansiGreen
		if busy > 0.85 {
			busyColor = ansiRed
		} else if busy > 0.60 {
			busyColor = ansiYellow
		}

		latMS := float64(m.AvgLatencyNS()) / 1e6
		var lastMS float64
		if le := m.LastEventNS(); le != 0 && nowNS > le {
			lastMS = float64(nowNS-le) / 1e6
		}

		fmt.Fprintf(&b, "%-14s%-10.1f%s%-10.1f%s%-12.1f%-14.1f\n",
			m.Name(), fps, busyColor, busy*100, ansiReset, latMS, lastMS)
	}

	b.WriteString("\nQUEUES\n")
	for _, q := range d.queues {
		size := q.Size()
		bar := utilBar(size, q.Capacity, 20)
		color := ansiGreen
		if q.Capacity > 0 {
			frac := float64(size) / float64(q.Capacity)
			if frac > 0.85 {
				color = ansiRed
			} else if frac > 0.60 {
				color = ansiYellow
			}
		}
		fmt.Fprintf(&b, "%-28s%s[%s]%s %d/%d  drops=%d\n",
			q.Name, color, bar, ansiReset, size, q.Capacity, q.Drops())
	}

	fmt.Fprint(d.out, b.String())
}

// utilBar renders a fixed-width fill bar for used/cap.
func utilBar(used, cap, width int) string {
	if cap <= 0 {
		return strings.Repeat(".", width)
	}
	filled := used * width / cap
	if filled > width {
		filled = width
	}
	return strings.Repeat("I", filled) + strings.Repeat("_", width-filled)
}

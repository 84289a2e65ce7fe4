package monitor

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/dashcam.report/internal/httputil"
	"github.com/banshee-data/dashcam.report/internal/infra"
	"github.com/banshee-data/dashcam.report/internal/storage/sqlite"
)

// RunLister is the slice of the track store the webserver needs.
type RunLister interface {
	ListRuns(limit int) ([]sqlite.RunSummary, error)
}

// WebServer is the HTTP monitoring surface: health, JSON stats, chart
// pages, stored runs, and the live websocket view.
type WebServer struct {
	address string
	sampler *Sampler
	hub     *Hub
	runs    RunLister // may be nil
	server  *http.Server
}

// WebServerConfig wires the webserver's collaborators.
type WebServerConfig struct {
	Address string
	Sampler *Sampler
	Hub     *Hub
	Runs    RunLister
}

// NewWebServer builds the server; Start actually listens.
func NewWebServer(cfg WebServerConfig) *WebServer {
	ws := &WebServer{
		address: cfg.Address,
		sampler: cfg.Sampler,
		hub:     cfg.Hub,
		runs:    cfg.Runs,
	}
	ws.server = &http.Server{
		Addr:    ws.address,
		Handler: ws.routes(),
	}
	return ws
}

func (ws *WebServer) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", ws.handleHealth)
	mux.HandleFunc("/api/stats", ws.handleStats)
	mux.HandleFunc("/api/history", ws.handleHistory)
	mux.HandleFunc("/api/latency", ws.handleLatency)
	mux.HandleFunc("/api/runs", ws.handleRuns)
	mux.HandleFunc("/charts", ws.handleCharts)
	if ws.hub != nil {
		mux.HandleFunc("/live", ws.hub.ServeWS)
	}
	return mux
}

// Start serves until the context is cancelled, then shuts down
// gracefully.
func (ws *WebServer) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		infra.Opsf("monitor webserver listening on %s", ws.address)
		if err := ws.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		ws.server.Shutdown(shutdownCtx)
	}()

	select {
	case err := <-errCh:
		return err
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, map[string]string{"status": "ok"})
}

func (ws *WebServer) handleStats(w http.ResponseWriter, r *http.Request) {
	sample, ok := ws.sampler.Latest()
	if !ok {
		// First sample may not have been taken yet; take one now.
		sample = ws.sampler.TakeSample()
	}
	httputil.WriteJSONOK(w, sample)
}

func (ws *WebServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	n := 0
	if v := r.URL.Query().Get("n"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			httputil.BadRequest(w, fmt.Sprintf("invalid n %q", v))
			return
		}
		n = parsed
	}
	httputil.WriteJSONOK(w, ws.sampler.History(n))
}

func (ws *WebServer) handleLatency(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, ws.sampler.LatencySummaries())
}

func (ws *WebServer) handleRuns(w http.ResponseWriter, r *http.Request) {
	if ws.runs == nil {
		httputil.NotFound(w, "storage not enabled")
		return
	}
	runs, err := ws.runs.ListRuns(50)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, runs)
}

// handleCharts renders FPS and latency time-series for every stage.
func (ws *WebServer) handleCharts(w http.ResponseWriter, r *http.Request) {
	history := ws.sampler.History(0)
	if len(history) == 0 {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "no samples yet")
		return
	}

	timestamps := make([]string, len(history))
	fpsSeries := map[string][]opts.LineData{}
	latSeries := map[string][]opts.LineData{}
	var stageOrder []string

	for i, sample := range history {
		timestamps[i] = sample.TakenAt.Format("15:04:05")
		for _, st := range sample.Stages {
			if _, seen := fpsSeries[st.Name]; !seen {
				stageOrder = append(stageOrder, st.Name)
			}
			fpsSeries[st.Name] = append(fpsSeries[st.Name], opts.LineData{Value: st.FPS})
			latSeries[st.Name] = append(latSeries[st.Name], opts.LineData{Value: st.AvgLatencyMS})
		}
	}

	fpsChart := charts.NewLine()
	fpsChart.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Stage throughput (fps)"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
	)
	fpsChart.SetXAxis(timestamps)
	for _, name := range stageOrder {
		fpsChart.AddSeries(name, fpsSeries[name])
	}

	latChart := charts.NewLine()
	latChart.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Stage latency (ms, EMA)"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
	)
	latChart.SetXAxis(timestamps)
	for _, name := range stageOrder {
		latChart.AddSeries(name, latSeries[name])
	}

	page := components.NewPage()
	page.PageTitle = "dashcam pipeline"
	page.AddCharts(fpsChart, latChart)
	if err := page.Render(w); err != nil {
		infra.Opsf("monitor: render charts: %v", err)
	}
}

// Package monitor serves the latest filter step over HTTP for debugging.
// Handlers read immutable snapshots only and never touch live filter state.
package monitor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/localiser/internal/httputil"
	"github.com/banshee-data/localiser/internal/localiser"
	"github.com/banshee-data/localiser/internal/monitoring"
	"github.com/banshee-data/localiser/internal/report"
	"github.com/banshee-data/localiser/internal/version"
)

// DefaultMaxParticles caps the particles returned by a snapshot request.
const DefaultMaxParticles = 5000

// Source provides the latest step result. *localiser.Filter implements it.
type Source interface {
	Snapshot() (localiser.StepResult, bool)
}

// Config configures a Server.
type Config struct {
	Address string
	Source  Source
	Beacons []localiser.Beacon
}

// Server is the HTTP debug server.
type Server struct {
	address string
	source  Source
	beacons []localiser.Beacon
	started time.Time
	server  *http.Server
}

// NewServer creates a server for cfg. It does not listen until Start.
func NewServer(cfg Config) *Server {
	s := &Server{
		address: cfg.Address,
		source:  cfg.Source,
		beacons: append([]localiser.Beacon(nil), cfg.Beacons...),
		started: time.Now(),
	}
	s.server = &http.Server{
		Addr:              s.address,
		Handler:           s.setupRoutes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the server's routes.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start serves until ctx is cancelled, then shuts down gracefully. It
// returns early if the listener fails.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		monitoring.Logf("[Monitor] listening on %s", s.address)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("monitor server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		monitoring.Logf("[Monitor] shutdown error: %v", err)
		if err := s.server.Close(); err != nil {
			monitoring.Logf("[Monitor] force close error: %v", err)
		}
	}
	monitoring.Logf("[Monitor] stopped")
	return nil
}

func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/snapshot", s.handleSnapshot)
	mux.HandleFunc("/api/estimate", s.handleEstimate)
	mux.HandleFunc("/api/beacons", s.handleBeacons)
	mux.HandleFunc("/particles", s.handleParticleChart)
	mux.HandleFunc("/", s.handleIndex)
	return mux
}

func (s *Server) snapshot(w http.ResponseWriter, r *http.Request) (localiser.StepResult, bool) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return localiser.StepResult{}, false
	}
	res, ok := s.source.Snapshot()
	if !ok {
		httputil.NotFound(w, "filter has not started")
		return localiser.StepResult{}, false
	}
	return res, true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status":  "ok",
		"version": version.String(),
		"uptime":  time.Since(s.started).Round(time.Millisecond).String(),
	}
	if res, ok := s.source.Snapshot(); ok {
		resp["step"] = res.Step
		resp["state"] = res.State
	}
	httputil.WriteJSONOK(w, resp)
}

// handleSnapshot returns the latest StepResult.
// Query params:
//   - max_particles (optional; default DefaultMaxParticles, 0 omits the cloud)
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	res, ok := s.snapshot(w, r)
	if !ok {
		return
	}
	limit := DefaultMaxParticles
	if v := r.URL.Query().Get("max_particles"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			httputil.WriteJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid max_particles %q", v))
			return
		}
		limit = n
	}
	res.Particles = downsample(res.Particles, limit)
	httputil.WriteJSONOK(w, res)
}

func (s *Server) handleEstimate(w http.ResponseWriter, r *http.Request) {
	res, ok := s.snapshot(w, r)
	if !ok {
		return
	}
	httputil.WriteJSONOK(w, map[string]interface{}{
		"step":      res.Step,
		"time":      res.Time,
		"state":     res.State,
		"estimate":  res.Estimate,
		"particles": res.Particles.Len(),
		"ess":       res.ESS,
		"beacon_id": res.BeaconID,
	})
}

func (s *Server) handleBeacons(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	httputil.WriteJSONOK(w, s.beacons)
}

// handleParticleChart renders the particle cloud, estimate and beacons as an
// echarts scatter page.
func (s *Server) handleParticleChart(w http.ResponseWriter, r *http.Request) {
	res, ok := s.snapshot(w, r)
	if !ok {
		return
	}
	cloud := downsample(res.Particles, DefaultMaxParticles)

	particles := make([]opts.ScatterData, cloud.Len())
	maxW := 0.0
	for i, p := range cloud.Poses {
		particles[i] = opts.ScatterData{Value: []interface{}{p.X, p.Y, cloud.Weights[i]}}
		maxW = math.Max(maxW, cloud.Weights[i])
	}
	if maxW == 0 {
		maxW = 1
	}
	marks := make([]opts.ScatterData, len(s.beacons))
	for i, b := range s.beacons {
		marks[i] = opts.ScatterData{Value: []interface{}{b.Pose.X, b.Pose.Y}, Name: "beacon " + strconv.Itoa(b.ID), Symbol: "triangle"}
	}
	est := []opts.ScatterData{{Value: []interface{}{res.Estimate.X, res.Estimate.Y}, Name: "estimate", Symbol: "diamond"}}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Particle cloud", Theme: "dark", Width: "900px", Height: "900px", AssetsHost: report.EchartsAssetsHost}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Particle cloud",
			Subtitle: fmt.Sprintf("step=%d state=%s particles=%d ess=%.1f", res.Step, res.State, res.Particles.Len(), res.ESS),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Bottom: "0"}),
		charts.WithXAxisOpts(opts.XAxis{Type: "value", Name: "X (m)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", Name: "Y (m)", NameLocation: "middle", NameGap: 30}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        0,
			Max:        float32(maxW),
			Dimension:  "2",
			InRange:    &opts.VisualMapInRange{Color: []string{"#440154", "#31688e", "#35b779", "#fde725"}},
		}),
	)
	scatter.AddSeries("particles", particles, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 3})).
		AddSeries("beacons", marks, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 12})).
		AddSeries("estimate", est, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 14}))

	var buf bytes.Buffer
	if err := scatter.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	httputil.WriteHTML(w, buf.Bytes())
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		httputil.NotFound(w, "not found")
		return
	}
	httputil.WriteHTML(w, []byte(indexHTML))
}

const indexHTML = `<!doctype html>
<html><head><meta charset="utf-8"><title>Localiser monitor</title></head>
<body>
<h1>Localiser monitor</h1>
<ul>
<li><a href="/particles">Particle cloud</a></li>
<li><a href="/api/snapshot">Latest snapshot (JSON)</a></li>
<li><a href="/api/estimate">Latest estimate (JSON)</a></li>
<li><a href="/api/beacons">Beacon map (JSON)</a></li>
<li><a href="/health">Health</a></li>
</ul>
</body></html>
`

// downsample keeps at most limit particles by stride. Weights are carried
// unchanged.
func downsample(set localiser.ParticleSet, limit int) localiser.ParticleSet {
	n := set.Len()
	if limit <= 0 {
		return localiser.ParticleSet{}
	}
	if n <= limit {
		return set
	}
	stride := int(math.Ceil(float64(n) / float64(limit)))
	out := localiser.ParticleSet{
		Poses:   make([]localiser.Pose, 0, n/stride+1),
		Weights: make([]float64, 0, n/stride+1),
	}
	for i := 0; i < n; i += stride {
		out.Poses = append(out.Poses, set.Poses[i])
		out.Weights = append(out.Weights, set.Weights[i])
	}
	return out
}

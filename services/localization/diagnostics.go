package localization

import (
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"go.viam.com/utils"
	"goji.io"
	"goji.io/pat"

	"github.com/labviros/is-aruco-localization/services/localization/pipeline"
)

// LatencySummary describes the recent cycle latencies of a camera in milliseconds.
type LatencySummary struct {
	Samples int     `json:"samples"`
	MeanMs  float64 `json:"mean_ms"`
	P50Ms   float64 `json:"p50_ms"`
	P90Ms   float64 `json:"p90_ms"`
	P99Ms   float64 `json:"p99_ms"`
	MaxMs   float64 `json:"max_ms"`
}

// CameraReport is what the diagnostics endpoint returns per camera.
type CameraReport struct {
	pipeline.Stats
	Latency LatencySummary `json:"latency"`
}

func summarize(latencies []time.Duration) LatencySummary {
	data := make(stats.Float64Data, len(latencies))
	for i, l := range latencies {
		data[i] = float64(l) / float64(time.Millisecond)
	}
	summary := LatencySummary{Samples: len(data)}
	if len(data) == 0 {
		return summary
	}
	// errors only come back for empty input
	summary.MeanMs, _ = stats.Mean(data)
	summary.P50Ms, _ = stats.Median(data)
	summary.P90Ms, _ = stats.Percentile(data, 90)
	summary.P99Ms, _ = stats.Percentile(data, 99)
	summary.MaxMs, _ = stats.Max(data)
	return summary
}

func report(s pipeline.Stats) CameraReport {
	return CameraReport{Stats: s, Latency: summarize(s.RecentLatencies)}
}

// Handler serves the diagnostics API:
//
//	GET /cameras       every camera
//	GET /cameras/:id   one camera
func (s *Service) Handler() http.Handler {
	mux := goji.NewMux()
	mux.HandleFunc(pat.Get("/cameras"), func(w http.ResponseWriter, r *http.Request) {
		all := s.Stats()
		reports := make([]CameraReport, 0, len(all))
		for _, st := range all {
			reports = append(reports, report(st))
		}
		s.writeJSON(w, http.StatusOK, reports)
	})
	mux.HandleFunc(pat.Get("/cameras/:id"), func(w http.ResponseWriter, r *http.Request) {
		id := pat.Param(r, "id")
		p, ok := s.Pipeline(id)
		if !ok {
			s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown camera " + id})
			return
		}
		s.writeJSON(w, http.StatusOK, report(p.Stats()))
	})
	return mux
}

func (s *Service) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debugw("cannot write diagnostics response", "error", err)
	}
}

// ServeDiagnostics serves Handler on addr until Close. It returns the bound address, which is
// useful with port 0.
func (s *Service) ServeDiagnostics(addr string) (string, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", errors.Wrap(err, "cannot listen for diagnostics")
	}
	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.mu.Lock()
	if s.httpServer != nil {
		s.mu.Unlock()
		utils.UncheckedError(listener.Close())
		return "", errors.New("diagnostics already served")
	}
	s.httpServer = server
	s.mu.Unlock()

	s.activeBackgroundWorkers.Add(1)
	utils.PanicCapturingGo(func() {
		defer s.activeBackgroundWorkers.Done()
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Errorw("diagnostics server stopped", "error", err)
		}
	})
	s.logger.Infow("serving diagnostics", "address", listener.Addr().String())
	return listener.Addr().String(), nil
}

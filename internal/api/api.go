// Package api implements the REST and WebSocket handler surface described
// in spec.md §6: job submission/status/cancel/delete, capabilities/health/
// stats/status endpoints, and the /ws/progress upgrade. Grounded on the
// gorilla/mux routing style used throughout the pack (e.g.
// TheEntropyCollective-noisefs's announce-webui-simple main.go,
// jontk-slurm-client's tests/mocks/server.go route table) and
// jontk-slurm-client's pkg/streaming/websocket.go for the upgrader/pump
// shape, replacing the teacher's single bare http.HandleFunc("/jobs").
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"transcodeserver/internal/apierror"
	"transcodeserver/internal/hardware"
	"transcodeserver/internal/loadmonitor"
	"transcodeserver/internal/progressbus"
	"transcodeserver/internal/registry"
	"transcodeserver/internal/streamserver"
	"transcodeserver/pkg/models"
)

const requestTimeout = 30 * time.Second

// Server holds every collaborator the REST/WS surface dispatches to.
type Server struct {
	registry  *registry.Registry
	monitor   *loadmonitor.Monitor
	caps      *hardware.Profile
	bus       *progressbus.Hub
	stream    *streamserver.Server
	apiKey    string
	startedAt time.Time
	version   string
	log       zerolog.Logger
}

// New constructs a Server.
func New(reg *registry.Registry, mon *loadmonitor.Monitor, caps *hardware.Profile, bus *progressbus.Hub, stream *streamserver.Server, apiKey, version string, log zerolog.Logger) *Server {
	return &Server{
		registry:  reg,
		monitor:   mon,
		caps:      caps,
		bus:       bus,
		stream:    stream,
		apiKey:    apiKey,
		startedAt: time.Now(),
		version:   version,
		log:       log,
	}
}

// Router builds the full mux.Router, wiring middleware, REST handlers, the
// WebSocket upgrade endpoint, and the stream server's static file routes.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.timeoutMiddleware, s.authMiddleware)

	r.HandleFunc("/api/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/capabilities", s.handleCapabilities).Methods(http.MethodGet)
	r.HandleFunc("/api/stats", s.handleStats).Methods(http.MethodGet)
	r.HandleFunc("/api/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/transcode/start", s.handleStart).Methods(http.MethodPost)
	r.HandleFunc("/api/transcode/{id}/status", s.handleJobStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/transcode/{id}/cancel", s.handleCancel).Methods(http.MethodPost)
	r.HandleFunc("/api/transcode/{id}", s.handleDelete).Methods(http.MethodDelete)
	r.HandleFunc("/ws/progress", s.handleWebSocket)

	s.stream.Register(r)

	return r
}

func (s *Server) timeoutMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ws/progress" {
			next.ServeHTTP(w, r) // long-lived connection, not subject to the request timeout
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// authMiddleware enforces the optional single shared API key, §6. A
// blank configured key disables auth entirely.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey == "" {
			next.ServeHTTP(w, r)
			return
		}
		if r.Header.Get("X-API-Key") != s.apiKey {
			writeError(w, apierror.New(apierror.CodeValidation, "invalid or missing API key"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := models.HealthResponse{
		Status:        "ok",
		Version:       s.version,
		UptimeSeconds: time.Since(s.startedAt).Seconds(),
		CurrentJobs:   s.registry.CountByStatus(registry.StatusProcessing),
		QueuedJobs:    s.registry.CountByStatus(registry.StatusQueued),
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.caps.Capabilities)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := s.registry.Stats()
	writeJSON(w, http.StatusOK, models.StatsResponse{
		TotalSubmitted:   stats.TotalSubmitted,
		TotalCompleted:   stats.TotalCompleted,
		TotalFailed:      stats.TotalFailed,
		TotalCancelled:   stats.TotalCancelled,
		HWAccelHistogram: stats.HWAccelHistogram,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	jobs := s.registry.ListForJanitor()
	views := make([]models.JobView, 0, len(jobs))
	for _, j := range jobs {
		views = append(views, j.View())
	}
	writeJSON(w, http.StatusOK, models.StatusResponse{
		Hardware: s.caps.Capabilities,
		Realtime: s.monitor.Latest(),
		Jobs:     views,
	})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var body models.TranscodeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, apierror.New(apierror.CodeValidation, "malformed request body"))
		return
	}

	req, err := validateRequest(body, s.caps)
	if err != nil {
		writeError(w, err)
		return
	}

	job, err := s.registry.Submit(req)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, models.StartResponse{
		JobID:     job.ID,
		Status:    string(job.Status),
		StreamURL: job.StreamURL,
		Duration:  job.DurationS,
	})
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	job, err := s.registry.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job.View())
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.registry.Cancel(id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models.CancelResponse{Status: "cancelling", JobID: id})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.registry.Delete(id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	code := apierror.CodeInternal
	msg := err.Error()
	if e, ok := apierror.As(err); ok {
		code = e.Code
		msg = e.Message
	}
	writeJSON(w, apierror.HTTPStatus(code), models.ErrorBody{Error: models.ErrorDetail{Code: string(code), Message: msg}})
}

// Package server exposes the pipeline over HTTP: synchronous analysis,
// realtime analysis streamed over websockets, Prometheus metrics and
// health probes.
package server

import (
	"context"
	"errors"
	"fmt"
	"math"
	"mime"
	"net/http"

	"github.com/google/uuid"
	"github.com/heptiolabs/healthcheck"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/hed1ad/liftguard/pkg/emitter"
	"github.com/hed1ad/liftguard/pkg/io/csv"
	"github.com/hed1ad/liftguard/pkg/pipeline"
	"github.com/hed1ad/liftguard/pkg/sensor"
)

var (
	log  = logrus.WithField("component", "server")
	json = jsoniter.ConfigCompatibleWithStandardLibrary
)

const maxBody = 32 << 20

// Server routes requests to a Pipeline.
type Server struct {
	ctx      context.Context
	pipeline *pipeline.Pipeline
	hub      *emitter.Hub
	health   healthcheck.Handler
}

// New creates a Server. Realtime runs live under ctx, not under the
// request that started them.
func New(ctx context.Context, p *pipeline.Pipeline, hub *emitter.Hub) *Server {
	health := healthcheck.NewHandler()
	health.AddLivenessCheck("PipelineCheck", p.IsAlive())
	health.AddReadinessCheck("PipelineCheck", p.IsReady())

	return &Server{
		ctx:      ctx,
		pipeline: p,
		hub:      hub,
		health:   health,
	}
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /analyze", s.analyze)
	mux.HandleFunc("POST /analyze/realtime", s.analyzeRealtime)
	mux.HandleFunc("POST /session/metrics", s.sessionMetrics)
	mux.Handle("GET /ws", s.hub)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

// HealthHandler serves /live and /ready.
func (s *Server) HealthHandler() http.Handler {
	return s.health
}

func (s *Server) analyze(w http.ResponseWriter, r *http.Request) {
	samples, err := decodeSamples(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	res, err := s.pipeline.Analyze(r.Context(), samples)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type accepted struct {
	SessionID string `json:"session_id"`
}

func (s *Server) analyzeRealtime(w http.ResponseWriter, r *http.Request) {
	samples, err := decodeSamples(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	if err := s.pipeline.AnalyzeRealtime(s.ctx, sessionID, samples, s.hub); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	log.WithField("session", sessionID).Info("realtime analysis started")
	writeJSON(w, http.StatusAccepted, accepted{SessionID: sessionID})
}

func (s *Server) sessionMetrics(w http.ResponseWriter, r *http.Request) {
	samples, err := decodeSamples(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	m, err := s.pipeline.SessionMetrics(samples)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// wireSample distinguishes absent fields from zero readings.
type wireSample struct {
	LeftFootPressure  *float64 `json:"left_foot_pressure"`
	RightFootPressure *float64 `json:"right_foot_pressure"`
	CoreStability     *float64 `json:"core_stability"`
}

type wireBatch struct {
	Samples []wireSample `json:"samples"`
}

// decodeSamples reads a text/csv body or a JSON body {"samples": [...]}.
func decodeSamples(w http.ResponseWriter, r *http.Request) ([]sensor.Sample, error) {
	body := http.MaxBytesReader(w, r.Body, maxBody)
	defer body.Close()

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "text/csv" {
		cr, err := csv.NewReaderFrom(body)
		if err != nil {
			return nil, err
		}
		return cr.Read()
	}

	var batch wireBatch
	if err := json.NewDecoder(body).Decode(&batch); err != nil {
		return nil, fmt.Errorf("decoding samples: %w", err)
	}
	samples := make([]sensor.Sample, len(batch.Samples))
	for i, ws := range batch.Samples {
		samples[i] = sensor.Sample{
			LeftFootPressure:  orNaN(ws.LeftFootPressure),
			RightFootPressure: orNaN(ws.RightFootPressure),
			CoreStability:     orNaN(ws.CoreStability),
		}
	}
	return samples, nil
}

func orNaN(v *float64) float64 {
	if v == nil {
		return math.NaN()
	}
	return *v
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, sensor.ErrInsufficientData), errors.Is(err, sensor.ErrDegenerateFeature):
		return http.StatusUnprocessableEntity
	case errors.Is(err, pipeline.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, pipeline.ErrCancelled):
		return http.StatusRequestTimeout
	}
	return http.StatusInternalServerError
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		log.WithError(err).Error("request failed")
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Warn("writing response")
	}
}

/*
Copyright 2025 The shiplift Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package server exposes the HTTP API: change submission, run queries,
// history, health probes and the Prometheus metrics endpoint.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/taskops/shiplift/internal/buildinfo"
	"github.com/taskops/shiplift/internal/collector"
	"github.com/taskops/shiplift/internal/pipeline"
	"github.com/taskops/shiplift/internal/store"
)

const (
	defaultHistoryLimit = 50
	healthPingTimeout   = 2 * time.Second
)

// SamplesProvider reports the retained load samples for a managed
// service. The scaler manager implements it.
type SamplesProvider interface {
	RecentSamples(service string) ([]collector.DataPoint, bool)
}

// Server wires the HTTP handlers around the orchestrator.
type Server struct {
	orchestrator *pipeline.Orchestrator
	history      store.Historian
	samples      SamplesProvider
	gatherer     prometheus.Gatherer
	log          logr.Logger
}

// New builds the server. history may be nil when persistence is
// disabled; the history endpoints then report 503. samples may be nil
// when the autoscaler is not running.
func New(orchestrator *pipeline.Orchestrator, history store.Historian, samples SamplesProvider, gatherer prometheus.Gatherer, log logr.Logger) *Server {
	return &Server{
		orchestrator: orchestrator,
		history:      history,
		samples:      samples,
		gatherer:     gatherer,
		log:          log,
	}
}

// Handler returns the fully routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	mux.HandleFunc("POST /api/changes", s.handleSubmitChange)
	mux.HandleFunc("GET /api/runs", s.handleListRuns)
	mux.HandleFunc("GET /api/runs/{id}", s.handleGetRun)
	mux.HandleFunc("POST /api/runs/{id}/cancel", s.handleCancelRun)

	mux.HandleFunc("GET /api/services/{service}/samples", s.handleServiceSamples)

	mux.HandleFunc("GET /api/history/runs", s.handleHistoryRuns)
	mux.HandleFunc("GET /api/history/scaling-actions", s.handleHistoryScalingActions)

	return mux
}

// ListenAndServe runs the server until the listener fails.
func (s *Server) ListenAndServe(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.log.Info("http server listening", "addr", addr)
	return srv.ListenAndServe()
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"service": "shiplift",
		"version": buildinfo.Version(),
	})
}

// handleHealth probes the history store when persistence is enabled, so
// the endpoint reflects the ability to serve, not just liveness.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.history != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthPingTimeout)
		defer cancel()
		if err := s.history.Ping(ctx); err != nil {
			s.log.Error(err, "history store ping failed")
			s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  "history store unreachable",
			})
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleSubmitChange(w http.ResponseWriter, r *http.Request) {
	var change pipeline.Change
	if err := json.NewDecoder(r.Body).Decode(&change); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	run, err := s.orchestrator.Submit(r.Context(), change)
	if err != nil {
		if errors.Is(err, pipeline.ErrInvalidChange) {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.log.Error(err, "change submission failed", "change", change.ID)
		s.writeError(w, http.StatusInternalServerError, "submission failed")
		return
	}
	s.writeJSON(w, http.StatusAccepted, run)
}

func (s *Server) handleListRuns(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.orchestrator.ListRuns())
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.orchestrator.GetRun(r.PathValue("id"))
	if err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	if err := s.orchestrator.Cancel(r.PathValue("id")); err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancellation requested"})
}

func (s *Server) handleServiceSamples(w http.ResponseWriter, r *http.Request) {
	if s.samples == nil {
		s.writeError(w, http.StatusServiceUnavailable, "autoscaler is not running")
		return
	}
	service := r.PathValue("service")
	points, ok := s.samples.RecentSamples(service)
	if !ok {
		s.writeError(w, http.StatusNotFound, "unknown service: "+service)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"service": service,
		"samples": points,
	})
}

func (s *Server) handleHistoryRuns(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeError(w, http.StatusServiceUnavailable, "history persistence is disabled")
		return
	}
	runs, err := s.history.ListRuns(r.Context(), limitParam(r))
	if err != nil {
		s.log.Error(err, "listing run history failed")
		s.writeError(w, http.StatusInternalServerError, "history query failed")
		return
	}
	s.writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleHistoryScalingActions(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeError(w, http.StatusServiceUnavailable, "history persistence is disabled")
		return
	}
	actions, err := s.history.ListScalingActions(r.Context(), r.URL.Query().Get("service"), limitParam(r))
	if err != nil {
		s.log.Error(err, "listing scaling history failed")
		s.writeError(w, http.StatusInternalServerError, "history query failed")
		return
	}
	s.writeJSON(w, http.StatusOK, actions)
}

func limitParam(r *http.Request) int {
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			return n
		}
	}
	return defaultHistoryLimit
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Error(err, "writing response failed")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"lanerunner/internal/lane"
	"lanerunner/internal/orchestrator"
	"lanerunner/pkg/logx"
)

type startRequest struct {
	Targets    []string `json:"targets"`
	StartIndex int      `json:"start_index"`
}

type resumeRequest struct {
	Targets []string `json:"targets"`
}

type runResponse struct {
	Lane  string `json:"lane"`
	RunID string `json:"run_id"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Handler returns the routed mux. A non-empty token requires
// "Authorization: Bearer <token>" (or ?token= for the websocket) on /api/.
func (s *Server) Handler(token string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	api := http.NewServeMux()
	api.HandleFunc("GET /api/lanes", s.listLanes)
	api.HandleFunc("GET /api/lanes/{lane}", s.getLane)
	api.HandleFunc("POST /api/lanes/{lane}/start", s.startLane)
	api.HandleFunc("POST /api/lanes/{lane}/resume", s.resumeLane)
	api.HandleFunc("POST /api/lanes/{lane}/stop", s.stopLane)
	api.HandleFunc("POST /api/lanes/{lane}/override", s.setOverride)
	api.HandleFunc("DELETE /api/lanes/{lane}/override", s.clearOverride)
	api.HandleFunc("GET /api/ws", s.hub.serve)

	mux.Handle("/api/", requireToken(token, api))
	return mux
}

func requireToken(token string, next http.Handler) http.Handler {
	if token == "" {
		return next
	}
	want := []byte(token)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if got == "" {
			got = r.URL.Query().Get("token")
		}
		if subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) listLanes(w http.ResponseWriter, r *http.Request) {
	ids, err := s.ctl.Lanes(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	out := make([]orchestrator.Progress, 0, len(ids))
	for _, id := range ids {
		p, err := s.ctl.Progress(r.Context(), id)
		if err != nil {
			s.fail(w, err)
			return
		}
		p.Results = nil
		out = append(out, p)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getLane(w http.ResponseWriter, r *http.Request) {
	p, err := s.ctl.Progress(r.Context(), r.PathValue("lane"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) startLane(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if !decodeBody(w, r, &req) {
		return
	}
	name := r.PathValue("lane")
	runID, err := s.ctl.Start(r.Context(), name, req.Targets, req.StartIndex)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, runResponse{Lane: name, RunID: runID})
}

func (s *Server) resumeLane(w http.ResponseWriter, r *http.Request) {
	var req resumeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	name := r.PathValue("lane")
	runID, err := s.ctl.Resume(r.Context(), name, req.Targets)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, runResponse{Lane: name, RunID: runID})
}

func (s *Server) stopLane(w http.ResponseWriter, r *http.Request) {
	if err := s.ctl.Stop(r.Context(), r.PathValue("lane")); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) setOverride(w http.ResponseWriter, r *http.Request) {
	if err := s.ctl.Override(r.Context(), r.PathValue("lane")); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) clearOverride(w http.ResponseWriter, r *http.Request) {
	if err := s.ctl.ClearOverride(r.Context(), r.PathValue("lane")); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// decodeBody accepts an empty body as the zero request.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return false
	}
	return true
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, orchestrator.ErrUnknownLane):
		status = http.StatusNotFound
	case errors.Is(err, orchestrator.ErrNoTargets), errors.Is(err, lane.ErrInvalidID):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		s.log.Error("api request failed", logx.Err(err))
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

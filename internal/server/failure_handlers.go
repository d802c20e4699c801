package server

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"faultline/pkg/chaos"
)

func (s *Server) handleActiveFailures(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, "", s.chaos.ActiveFailures())
}

type crashRequest struct {
	NodeID    string `json:"node_id"`
	CrashType string `json:"crash_type"`
}

func (s *Server) handleCrash(w http.ResponseWriter, r *http.Request) {
	var req crashRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, "%v", err)
		return
	}

	var crashType chaos.CrashType
	switch req.CrashType {
	case "", "clean":
		crashType = chaos.CrashClean
	case "hard":
		crashType = chaos.CrashHard
	default:
		badRequest(w, "unknown crash type %q (want clean or hard)", req.CrashType)
		return
	}

	f, err := s.chaos.CrashNode(r.Context(), req.NodeID, crashType)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusCreated, fmt.Sprintf("node %s crashed", req.NodeID), f)
}

type restoreRequest struct {
	NodeID string `json:"node_id"`
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	var req restoreRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, "%v", err)
		return
	}
	if _, err := s.chaos.RestoreNode(r.Context(), req.NodeID); err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, fmt.Sprintf("node %s restored", req.NodeID), nil)
}

type partitionRequest struct {
	ReplicaSet  string   `json:"replica_set"`
	GroupA      []string `json:"group_a"`
	GroupB      []string `json:"group_b"`
	Description string   `json:"description"`
}

func (s *Server) handlePartition(w http.ResponseWriter, r *http.Request) {
	var req partitionRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, "%v", err)
		return
	}
	f, err := s.chaos.CreatePartition(r.Context(), req.ReplicaSet, req.GroupA, req.GroupB, req.Description)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusCreated, fmt.Sprintf("partition created on %s", req.ReplicaSet), f)
}

func (s *Server) handleHealPartition(w http.ResponseWriter, r *http.Request) {
	if _, err := s.chaos.HealPartition(r.Context()); err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, "partitions healed", nil)
}

type latencyRequest struct {
	NodeID    string `json:"node_id"`
	LatencyMS int    `json:"latency_ms"`
	JitterMS  int    `json:"jitter_ms"`
}

func (s *Server) handleLatency(w http.ResponseWriter, r *http.Request) {
	var req latencyRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, "%v", err)
		return
	}
	if req.LatencyMS <= 0 {
		badRequest(w, "latency_ms must be positive")
		return
	}
	f, err := s.chaos.InjectLatency(r.Context(), req.NodeID, req.LatencyMS, req.JitterMS)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusCreated, fmt.Sprintf("latency injected on %s", req.NodeID), f)
}

func (s *Server) handleClearFailure(w http.ResponseWriter, r *http.Request) {
	failureID := chi.URLParam(r, "failureID")
	cleared, err := s.chaos.ClearFailure(r.Context(), failureID)
	if err != nil {
		respondError(w, err)
		return
	}
	if !cleared {
		respond(w, http.StatusNotFound, fmt.Sprintf("no active failure %s", failureID), nil)
		return
	}
	respond(w, http.StatusOK, fmt.Sprintf("failure %s cleared", failureID), nil)
}

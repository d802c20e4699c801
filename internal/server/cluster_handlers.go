package server

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"faultline/pkg/cluster"
	"faultline/pkg/query"
)

type initializeRequest struct {
	ReplicaSet   string `json:"replica_set"`
	NodeCount    int    `json:"node_count"`
	StartingPort int    `json:"starting_port"`
}

func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request) {
	var req initializeRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, "%v", err)
		return
	}
	st, err := s.cluster.Initialize(r.Context(), req.ReplicaSet, req.NodeCount, req.StartingPort)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusCreated, fmt.Sprintf("replica set %s initialized", req.ReplicaSet), st)
}

func (s *Server) handleClusterStatus(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, "", s.cluster.ClusterStatus(r.Context()))
}

func (s *Server) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.cluster.Status(r.Context(), chi.URLParam(r, "set"))
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, "", st)
}

type addNodeRequest struct {
	ReplicaSet string   `json:"replica_set"`
	Role       string   `json:"role"`
	Priority   *float64 `json:"priority"`
}

func (s *Server) handleAddNode(w http.ResponseWriter, r *http.Request) {
	var req addNodeRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, "%v", err)
		return
	}

	var role cluster.Role
	switch req.Role {
	case "", "replica":
		role = cluster.RoleReplica
	case "arbiter":
		role = cluster.RoleArbiter
	default:
		badRequest(w, "unknown role %q (want replica or arbiter)", req.Role)
		return
	}

	priority := 1.0
	if req.Priority != nil {
		priority = *req.Priority
	}

	node, err := s.cluster.AddMember(r.Context(), req.ReplicaSet, role, priority)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusCreated, fmt.Sprintf("node %s added to %s", node.ID, req.ReplicaSet), node)
}

func (s *Server) handleRemoveNode(w http.ResponseWriter, r *http.Request) {
	nodeID := chi.URLParam(r, "nodeID")
	setName := r.URL.Query().Get("replica_set")
	if setName == "" {
		badRequest(w, "replica_set query parameter is required")
		return
	}

	if _, err := s.cluster.RemoveMember(r.Context(), setName, nodeID); err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, fmt.Sprintf("node %s removed from %s", nodeID, setName), nil)
}

type stepDownRequest struct {
	ReplicaSet   string `json:"replica_set"`
	StepDownSecs int    `json:"step_down_secs"`
}

func (s *Server) handleStepDown(w http.ResponseWriter, r *http.Request) {
	var req stepDownRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, "%v", err)
		return
	}
	if _, err := s.cluster.StepDownPrimary(r.Context(), req.ReplicaSet, req.StepDownSecs); err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, fmt.Sprintf("primary of %s stepped down", req.ReplicaSet), nil)
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	setName := chi.URLParam(r, "set")
	s.cluster.Cleanup(r.Context(), setName)
	respond(w, http.StatusOK, fmt.Sprintf("replica set %s removed", setName), nil)
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req query.Request
	if err := decode(r, &req); err != nil {
		badRequest(w, "%v", err)
		return
	}
	respond(w, http.StatusOK, "", s.query.Execute(r.Context(), req))
}

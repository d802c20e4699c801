// Package server exposes the control plane over HTTP and WebSocket: REST
// routes for cluster and failure operations, a query endpoint, a metrics
// endpoint and an observer socket fed by the broadcaster.
package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"faultline/internal/telemetry"
	"faultline/pkg/broadcast"
	"faultline/pkg/chaos"
	"faultline/pkg/cluster"
	"faultline/pkg/query"
)

// ClusterAPI is the cluster surface the routes call; satisfied by
// cluster.Manager.
type ClusterAPI interface {
	Initialize(ctx context.Context, name string, nodeCount, startingPort int) (*cluster.SetStatus, error)
	Status(ctx context.Context, name string) (*cluster.SetStatus, error)
	ClusterStatus(ctx context.Context) *cluster.ClusterState
	AddMember(ctx context.Context, name string, role cluster.Role, priority float64) (*cluster.Node, error)
	RemoveMember(ctx context.Context, name, nodeID string) (bool, error)
	StepDownPrimary(ctx context.Context, name string, stepDownSecs int) (bool, error)
	Cleanup(ctx context.Context, name string)
}

// ChaosAPI is the failure-injection surface; satisfied by chaos.Simulator.
type ChaosAPI interface {
	CrashNode(ctx context.Context, nodeID string, crashType chaos.CrashType) (*chaos.Failure, error)
	RestoreNode(ctx context.Context, nodeID string) (bool, error)
	CreatePartition(ctx context.Context, setName string, groupA, groupB []string, description string) (*chaos.Failure, error)
	HealPartition(ctx context.Context) (bool, error)
	InjectLatency(ctx context.Context, nodeID string, latencyMS, jitterMS int) (*chaos.Failure, error)
	ClearFailure(ctx context.Context, failureID string) (bool, error)
	ActiveFailures() map[string]*chaos.Failure
}

// QueryAPI is the data-operation surface; satisfied by query.Executor.
type QueryAPI interface {
	Execute(ctx context.Context, req query.Request) *query.Result
}

// StreamAPI is the log-stream surface; satisfied by stream.Streamer.
type StreamAPI interface {
	Subscribe(nodeID, subscriberID string)
	Unsubscribe(nodeID, subscriberID string)
	DropSubscriber(subscriberID string)
}

type Server struct {
	cluster  ClusterAPI
	chaos    ChaosAPI
	query    QueryAPI
	streams  StreamAPI
	bcast    *broadcast.Broadcaster
	metrics  *telemetry.Metrics
	upgrader websocket.Upgrader
}

func New(c ClusterAPI, sim ChaosAPI, q QueryAPI, st StreamAPI, b *broadcast.Broadcaster, metrics *telemetry.Metrics) *Server {
	return &Server{
		cluster: c,
		chaos:   sim,
		query:   q,
		streams: st,
		bcast:   b,
		metrics: metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/metrics", s.metrics.Handler().ServeHTTP)
	r.Get("/ws", s.handleWS)

	r.Route("/api", func(r chi.Router) {
		r.Route("/cluster", func(r chi.Router) {
			r.Get("/status", s.handleClusterStatus)
			r.Get("/status/{set}", s.handleSetStatus)
			r.Post("/initialize", s.handleInitialize)
			r.Post("/add-node", s.handleAddNode)
			r.Delete("/remove-node/{nodeID}", s.handleRemoveNode)
			r.Post("/step-down", s.handleStepDown)
			r.Delete("/{set}", s.handleCleanup)
		})
		r.Route("/failures", func(r chi.Router) {
			r.Get("/", s.handleActiveFailures)
			r.Post("/crash", s.handleCrash)
			r.Post("/restore", s.handleRestore)
			r.Post("/partition", s.handlePartition)
			r.Post("/heal-partition", s.handleHealPartition)
			r.Post("/latency", s.handleLatency)
			r.Delete("/{failureID}", s.handleClearFailure)
		})
		r.Post("/query", s.handleQuery)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, "", map[string]string{"status": "ok"})
}

package query

import (
	"context"
	"fmt"
	"time"

	"faultline/internal/errdefs"
	"faultline/internal/mongo"
	"faultline/internal/telemetry"
	"faultline/pkg/cluster"
)

// Cluster is the topology and status surface node resolution works
// against; satisfied by cluster.Manager.
type Cluster interface {
	Topology(name string) (*cluster.Topology, bool)
	Status(ctx context.Context, setName string) (*cluster.SetStatus, error)
}

// DataSession is the per-node data surface; satisfied by *mongo.Session.
type DataSession interface {
	Ping(ctx context.Context) error
	IsPrimary(ctx context.Context) (bool, error)
	Find(ctx context.Context, db, coll string, filter map[string]interface{}, limit int64, c mongo.Concerns) ([]map[string]interface{}, error)
	FindOne(ctx context.Context, db, coll string, filter map[string]interface{}, c mongo.Concerns) (map[string]interface{}, error)
	Count(ctx context.Context, db, coll string, filter map[string]interface{}, c mongo.Concerns) (int64, error)
	Aggregate(ctx context.Context, db, coll string, pipeline []interface{}, c mongo.Concerns) ([]map[string]interface{}, error)
	InsertOne(ctx context.Context, db, coll string, doc map[string]interface{}, c mongo.Concerns) (string, error)
	InsertMany(ctx context.Context, db, coll string, docs []map[string]interface{}, c mongo.Concerns) ([]string, error)
	UpdateOne(ctx context.Context, db, coll string, filter, update map[string]interface{}, c mongo.Concerns) (mongo.UpdateResult, error)
	UpdateMany(ctx context.Context, db, coll string, filter, update map[string]interface{}, c mongo.Concerns) (mongo.UpdateResult, error)
	DeleteOne(ctx context.Context, db, coll string, filter map[string]interface{}, c mongo.Concerns) (int64, error)
	DeleteMany(ctx context.Context, db, coll string, filter map[string]interface{}, c mongo.Concerns) (int64, error)
}

// Sessions hands out data sessions by node address.
type Sessions interface {
	Get(ctx context.Context, addr string) (DataSession, error)
}

// Executor resolves one node per request and runs the operation on it.
type Executor struct {
	cluster  Cluster
	sessions Sessions
	metrics  *telemetry.Metrics
}

func NewExecutor(c Cluster, s Sessions, metrics *telemetry.Metrics) *Executor {
	return &Executor{cluster: c, sessions: s, metrics: metrics}
}

// Execute runs one operation and always returns a populated envelope.
func (e *Executor) Execute(ctx context.Context, req Request) *Result {
	started := time.Now()
	res := &Result{
		Operation:    req.Operation,
		ReadConcern:  req.ReadConcern,
		WriteConcern: req.WriteConcern,
	}
	if reads[req.Operation] {
		res.ReadPreference = effectivePref(req)
	}

	err := e.run(ctx, req, res)
	elapsed := time.Since(started)
	res.DurationMS = float64(elapsed) / float64(time.Millisecond)
	if err != nil {
		res.Error = err.Error()
	} else {
		res.Success = true
	}
	e.metrics.RecordQuery(req.Operation, elapsed, err == nil)
	return res
}

func (e *Executor) run(ctx context.Context, req Request, res *Result) error {
	op, ok := operations[req.Operation]
	if !ok {
		return errdefs.Unsupported("unsupported operation %q", req.Operation)
	}
	if req.Database == "" || req.Collection == "" {
		return fmt.Errorf("database and collection are required")
	}

	node, err := e.resolve(ctx, req)
	if err != nil {
		return err
	}
	res.Node = node.Addr()

	sess, err := e.sessions.Get(ctx, node.Addr())
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", node.Addr(), err)
	}

	count, data, err := op(ctx, sess, req, concernsFor(req))
	if err != nil {
		return err
	}
	res.Count = count
	res.Data = data
	return nil
}

// resolve picks the target node. An explicit node wins outright; writes and
// primary reads need the current primary; other reads take the first node
// answering a liveness probe, in topology order.
func (e *Executor) resolve(ctx context.Context, req Request) (*cluster.Node, error) {
	topo, ok := e.cluster.Topology(req.ReplicaSet)
	if !ok {
		return nil, errdefs.NotFound("replica set %q not found", req.ReplicaSet)
	}

	if req.Node != "" {
		node, ok := topo.Node(req.Node)
		if !ok {
			return nil, errdefs.NodeNotFound("node %q not found in replica set %q", req.Node, req.ReplicaSet)
		}
		return node, nil
	}

	if writes[req.Operation] || effectivePref(req) == "primary" {
		return e.resolvePrimary(ctx, topo)
	}
	return e.firstLive(ctx, topo)
}

func (e *Executor) resolvePrimary(ctx context.Context, topo *cluster.Topology) (*cluster.Node, error) {
	if st, err := e.cluster.Status(ctx, topo.Name); err == nil && st.Primary != nil {
		if node, ok := topo.Node(*st.Primary); ok {
			return node, nil
		}
	}

	// Status could not name a primary; ask each node directly.
	for i := range topo.Nodes {
		node := &topo.Nodes[i]
		sess, err := e.sessions.Get(ctx, node.Addr())
		if err != nil {
			continue
		}
		if ok, err := sess.IsPrimary(ctx); err == nil && ok {
			return node, nil
		}
	}
	return nil, errdefs.NoPrimary("no primary visible in replica set %q", topo.Name)
}

func (e *Executor) firstLive(ctx context.Context, topo *cluster.Topology) (*cluster.Node, error) {
	for i := range topo.Nodes {
		node := &topo.Nodes[i]
		sess, err := e.sessions.Get(ctx, node.Addr())
		if err != nil {
			continue
		}
		if err := sess.Ping(ctx); err == nil {
			return node, nil
		}
	}
	return nil, errdefs.NotFound("no reachable node in replica set %q", topo.Name)
}

func effectivePref(req Request) string {
	if req.ReadPreference == "" {
		return "primary"
	}
	return req.ReadPreference
}

func concernsFor(req Request) mongo.Concerns {
	return mongo.Concerns{
		ReadPreference: req.ReadPreference,
		ReadConcern:    req.ReadConcern,
		WriteConcern:   req.WriteConcern,
		Journal:        req.Journal,
	}
}

package mongo

import (
	"context"
	"fmt"
	"time"

	"faultline/internal/constants"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Options tunes the timeouts applied when dialing a node.
type Options struct {
	ConnectTimeout         time.Duration
	ServerSelectionTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = constants.ConnectTimeout
	}
	if o.ServerSelectionTimeout <= 0 {
		o.ServerSelectionTimeout = constants.ServerSelectionTimeout
	}
	return o
}

// URI builds a direct connection string for a single node. Direct mode
// keeps the driver from discovering the rest of the replica set, which is
// exactly what per-node probing needs.
func URI(addr string) string {
	return fmt.Sprintf("mongodb://%s/?directConnection=true", addr)
}

// Session wraps a driver client pinned to a single node.
type Session struct {
	client *mongo.Client
	addr   string
}

// Connect dials a node and verifies it answers a ping before handing the
// session out, so cached sessions are known good at creation time.
func Connect(ctx context.Context, addr string, opts Options) (*Session, error) {
	opts = opts.withDefaults()
	clientOpts := options.Client().
		ApplyURI(URI(addr)).
		SetConnectTimeout(opts.ConnectTimeout).
		SetServerSelectionTimeout(opts.ServerSelectionTimeout)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to reach %s: %w", addr, Classify(err))
	}

	return &Session{client: client, addr: addr}, nil
}

// Addr returns the address this session is pinned to.
func (s *Session) Addr() string {
	return s.addr
}

// Close tears the underlying client down.
func (s *Session) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Ping checks liveness of the node.
func (s *Session) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx, nil); err != nil {
		return Classify(err)
	}
	return nil
}

func (s *Session) runAdmin(ctx context.Context, cmd interface{}, out interface{}) error {
	res := s.client.Database("admin").RunCommand(ctx, cmd)
	if err := res.Err(); err != nil {
		return Classify(err)
	}
	if out != nil {
		if err := res.Decode(out); err != nil {
			return fmt.Errorf("failed to decode admin command response: %w", err)
		}
	}
	return nil
}

// Initiate runs replSetInitiate with the given seed configuration.
func (s *Session) Initiate(ctx context.Context, cfg Config) error {
	return s.runAdmin(ctx, bson.D{{Key: "replSetInitiate", Value: cfg}}, nil)
}

// ReplSetConfig fetches the current replica set configuration document.
func (s *Session) ReplSetConfig(ctx context.Context) (*Config, error) {
	var out struct {
		Config Config `bson:"config"`
	}
	if err := s.runAdmin(ctx, bson.D{{Key: "replSetGetConfig", Value: 1}}, &out); err != nil {
		return nil, err
	}
	return &out.Config, nil
}

// Reconfig applies a new replica set configuration. Callers must bump
// Version before calling.
func (s *Session) Reconfig(ctx context.Context, cfg Config) error {
	return s.runAdmin(ctx, bson.D{{Key: "replSetReconfig", Value: cfg}}, nil)
}

// ReplSetStatus fetches the replica set status as this node sees it.
func (s *Session) ReplSetStatus(ctx context.Context) (*Status, error) {
	var st Status
	if err := s.runAdmin(ctx, bson.D{{Key: "replSetGetStatus", Value: 1}}, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// StepDown asks the node to resign its primary role for the given number
// of seconds. The server drops all connections when it succeeds, so a
// network error here is classified for the caller to treat as success.
func (s *Session) StepDown(ctx context.Context, seconds int) error {
	return s.runAdmin(ctx, bson.D{{Key: "replSetStepDown", Value: seconds}}, nil)
}

// IsPrimary reports whether the node currently believes it is primary.
func (s *Session) IsPrimary(ctx context.Context) (bool, error) {
	var out struct {
		IsWritablePrimary bool `bson:"isWritablePrimary"`
		IsMaster          bool `bson:"ismaster"`
	}
	if err := s.runAdmin(ctx, bson.D{{Key: "hello", Value: 1}}, &out); err != nil {
		return false, err
	}
	return out.IsWritablePrimary || out.IsMaster, nil
}

package app

import (
	"context"

	"faultline/internal/mongo"
	"faultline/pkg/cluster"
	"faultline/pkg/query"
)

// The pool hands out *mongo.Session values; the consumers declare their
// own narrower session interfaces, so the pool is bridged per consumer.

type adminSessions struct {
	pool *mongo.Pool
}

func (a adminSessions) Get(ctx context.Context, addr string) (cluster.AdminSession, error) {
	return a.pool.Get(ctx, addr)
}

func (a adminSessions) Evict(addr string) {
	a.pool.Evict(addr)
}

type dataSessions struct {
	pool *mongo.Pool
}

func (d dataSessions) Get(ctx context.Context, addr string) (query.DataSession, error) {
	return d.pool.Get(ctx, addr)
}

package cluster

import (
	"context"
	"fmt"
	"time"

	"faultline/internal/errdefs"

	"github.com/cenkalti/backoff/v4"
)

// settleBackoff builds the retry schedule used while waiting for external
// state (a fresh mongod accepting connections, an election completing).
func settleBackoff(ctx context.Context, window time.Duration) backoff.BackOffContext {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 3 * time.Second
	bo.MaxElapsedTime = window
	return backoff.WithContext(bo, ctx)
}

// awaitReachable blocks until the node at addr answers a ping or the
// window elapses.
func (m *Manager) awaitReachable(ctx context.Context, addr string, window time.Duration) error {
	op := func() error {
		sess, err := m.sessions.Get(ctx, addr)
		if err != nil {
			return err
		}
		return sess.Ping(ctx)
	}
	if err := backoff.Retry(op, settleBackoff(ctx, window)); err != nil {
		return fmt.Errorf("node at %s not reachable within %s: %w", addr, window, err)
	}
	return nil
}

// awaitPrimary blocks until any node reports a primary or the window
// elapses.
func (m *Manager) awaitPrimary(ctx context.Context, nodes []Node, window time.Duration) error {
	op := func() error {
		raw := m.liveStatus(ctx, nodes)
		if raw == nil {
			return fmt.Errorf("no node answered a status query")
		}
		if raw.PrimaryName() == "" {
			return fmt.Errorf("no primary elected yet")
		}
		return nil
	}
	if err := backoff.Retry(op, settleBackoff(ctx, window)); err != nil {
		return fmt.Errorf("no primary within %s: %w", window, err)
	}
	return nil
}

// awaitElectedPrimary polls once per interval for up to the step-down
// window, returning the elected primary node or ElectionTimeout.
func (m *Manager) awaitElectedPrimary(ctx context.Context, topo *Topology) (*Node, error) {
	var primary *Node
	op := func() error {
		if p := m.currentPrimary(ctx, topo); p != nil {
			primary = p
			return nil
		}
		return fmt.Errorf("no primary yet")
	}

	retries := uint64(m.opts.StepDownWindow / m.opts.StepDownPoll)
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(m.opts.StepDownPoll), retries), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		return nil, errdefs.ElectionTimeout("no primary elected in %q within %s", topo.Name, m.opts.StepDownWindow)
	}
	return primary, nil
}

package mongo

import (
	"context"
	"sync"
	"time"
)

const evictTimeout = 3 * time.Second

// Pool caches node sessions by address. Sessions stay open until they are
// evicted after a failure or the pool shuts down.
type Pool struct {
	opts Options

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewPool(opts Options) *Pool {
	return &Pool{
		opts:     opts,
		sessions: make(map[string]*Session),
	}
}

// Get returns the cached session for addr, dialing a fresh one on a miss.
// Dialing happens outside the lock so a slow node does not stall lookups
// for other nodes.
func (p *Pool) Get(ctx context.Context, addr string) (*Session, error) {
	p.mu.Lock()
	if s, ok := p.sessions[addr]; ok {
		p.mu.Unlock()
		return s, nil
	}
	p.mu.Unlock()

	s, err := Connect(ctx, addr, p.opts)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.sessions[addr]; ok {
		go s.Close(context.Background())
		return existing, nil
	}
	p.sessions[addr] = s
	return s, nil
}

// Evict drops the cached session for addr, closing it in the background.
// Callers evict after a node crash or partition so the next Get redials.
func (p *Pool) Evict(addr string) {
	p.mu.Lock()
	s, ok := p.sessions[addr]
	delete(p.sessions, addr)
	p.mu.Unlock()
	if !ok {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), evictTimeout)
		defer cancel()
		_ = s.Close(ctx)
	}()
}

// Close tears down every cached session.
func (p *Pool) Close(ctx context.Context) {
	p.mu.Lock()
	sessions := p.sessions
	p.sessions = make(map[string]*Session)
	p.mu.Unlock()
	for _, s := range sessions {
		_ = s.Close(ctx)
	}
}

package userstore

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

const (
	DEFAULT_POOL_SIZE = 8
)

// Session is a leased handle on the backend. It must be handed back with
// Pool.Release.
type Session struct {
	Id      int
	backend Backend
}

func (s *Session) List(ctx context.Context) (map[string]string, error) {
	return s.backend.List(ctx)
}

func (s *Session) Lookup(ctx context.Context, user string) (string, bool, error) {
	return s.backend.Lookup(ctx, user)
}

func (s *Session) Insert(ctx context.Context, user, password string) error {
	return s.backend.Insert(ctx, user, password)
}

// Pool bounds the number of concurrent callers on a backend.
type Pool struct {
	backend Backend
	sem     *semaphore.Weighted
	size    int
	mu      sync.Mutex
	free    []*Session
	closed  bool
}

func NewPool(backend Backend, size int) *Pool {
	if size <= 0 {
		size = DEFAULT_POOL_SIZE
	}
	var p = &Pool{
		backend: backend,
		sem:     semaphore.NewWeighted(int64(size)),
		size:    size,
		free:    make([]*Session, 0, size),
	}
	for i := 0; i < size; i++ {
		p.free = append(p.free, &Session{Id: i, backend: backend})
	}
	return p
}

// Lease blocks until a session is free or ctx is done.
func (p *Pool) Lease(ctx context.Context) (*Session, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		p.sem.Release(1)
		return nil, ErrClosed
	}
	var s = p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	return s, nil
}

func (p *Pool) Release(s *Session) {
	if s == nil {
		return
	}
	p.mu.Lock()
	p.free = append(p.free, s)
	p.mu.Unlock()
	p.sem.Release(1)
}

func (p *Pool) Size() int {
	return p.size
}

// Free returns the number of sessions not currently leased.
func (p *Pool) Free() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

func (p *Pool) Backend() Backend {
	return p.backend
}

// LoadAll reads every credential through a leased session.
func (p *Pool) LoadAll(ctx context.Context) (map[string]string, error) {
	var s, err = p.Lease(ctx)
	if err != nil {
		return nil, err
	}
	defer p.Release(s)
	return s.List(ctx)
}

// Insert persists one credential through a leased session.
func (p *Pool) Insert(ctx context.Context, user, password string) error {
	var s, err = p.Lease(ctx)
	if err != nil {
		return err
	}
	defer p.Release(s)
	return s.Insert(ctx, user, password)
}

func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()
	return p.backend.Close()
}

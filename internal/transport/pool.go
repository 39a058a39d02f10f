package transport

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// poolEntry pairs a Connection with its last-use time, for idle eviction.
type poolEntry struct {
	conn     Connection
	lastUsed time.Time
}

// Pool reuses one Connection per (host, user, key) for the lifetime of a
// run. Idle connections close after IdleTimeout;
// an unhealthy connection is dropped and re-dialed on next use.
type Pool struct {
	mu          sync.Mutex
	entries     map[string]*poolEntry
	IdleTimeout time.Duration
}

// NewPool returns a Pool with a 10-minute default idle timeout.
func NewPool() *Pool {
	return &Pool{entries: map[string]*poolEntry{}, IdleTimeout: 10 * time.Minute}
}

func poolKey(hostName, user, keyFile string) string {
	return hostName + "|" + user + "|" + keyFile
}

// Get returns the pooled connection for key, dialing via factory if absent
// or unhealthy.
func (p *Pool) Get(ctx context.Context, hostName, user, keyFile string, factory func() Connection) (Connection, error) {
	key := poolKey(hostName, user, keyFile)

	p.mu.Lock()
	entry, ok := p.entries[key]
	p.mu.Unlock()

	if ok && entry.conn.Healthy() {
		p.touch(key)
		return entry.conn, nil
	}
	if ok {
		_ = entry.conn.Close()
	}

	conn := factory()
	if err := conn.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect %s: %w", hostName, err)
	}
	p.mu.Lock()
	p.entries[key] = &poolEntry{conn: conn, lastUsed: time.Now()}
	p.mu.Unlock()
	return conn, nil
}

func (p *Pool) touch(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.entries[key]; ok {
		e.lastUsed = time.Now()
	}
}

// SweepIdle closes and evicts every connection idle longer than
// p.IdleTimeout. Callers run this periodically (or on shutdown with
// IdleTimeout=0 to close everything).
func (p *Pool) SweepIdle() {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	for key, e := range p.entries {
		if now.Sub(e.lastUsed) >= p.IdleTimeout {
			_ = e.conn.Close()
			delete(p.entries, key)
		}
	}
}

// CloseAll closes every pooled connection, for engine shutdown.
func (p *Pool) CloseAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, e := range p.entries {
		_ = e.conn.Close()
		delete(p.entries, key)
	}
}

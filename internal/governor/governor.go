package governor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"conclave/internal/modules"
)

// Gate arbitrates concurrent task execution across hosts:
//   - a weighted semaphore bounds total in-flight tasks to the configured
//     fork width (mirrors ansible's "forks")
//   - HostExclusive modules take an exclusive per-host lock
//   - GlobalExclusive modules take a process-wide write lock whose read
//     side every other task holds, so nothing overlaps them anywhere
//   - RateLimited modules draw from a per-(host, module) token bucket
type Gate struct {
	forkSem *semaphore.Weighted

	hostMu sync.Mutex
	hosts  map[string]*sync.Mutex

	// globalMu's write side is held by GlobalExclusive tasks; every other
	// task holds the read side, so a GlobalExclusive task cannot overlap
	// any task anywhere.
	globalMu sync.RWMutex

	bucketMu sync.Mutex
	buckets  map[string]*tokenBucket
}

// NewGate builds a Gate with the given fork width (concurrent task cap).
func NewGate(forkWidth int) *Gate {
	if forkWidth < 1 {
		forkWidth = 1
	}
	return &Gate{
		forkSem: semaphore.NewWeighted(int64(forkWidth)),
		hosts:   map[string]*sync.Mutex{},
		buckets: map[string]*tokenBucket{},
	}
}

// Release undoes whatever Acquire took; callers must call it exactly once
// per successful Acquire, typically via defer.
type Release func()

// Acquire blocks until the task for hostName running module moduleName is
// clear to execute under hint, then returns a Release to call when the
// task completes. It always takes the fork-width slot first; hint then
// layers on any additional serialization the module declares.
func (g *Gate) Acquire(ctx context.Context, hostName, moduleName string, hint modules.ParallelizationHint) (Release, error) {
	if err := g.forkSem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("fork width: %w", err)
	}

	if hint.Kind == modules.GlobalExclusive {
		if err := lockCtx(ctx, &g.globalMu); err != nil {
			g.forkSem.Release(1)
			return nil, err
		}
		return func() { g.globalMu.Unlock(); g.forkSem.Release(1) }, nil
	}

	// Every non-exclusive task takes the shared side of the guard so an
	// in-flight GlobalExclusive writer blocks it (and vice versa).
	rguard := g.globalMu.RLocker()
	if err := lockCtx(ctx, rguard); err != nil {
		g.forkSem.Release(1)
		return nil, err
	}

	switch hint.Kind {
	case modules.HostExclusive:
		lock := g.hostLock(hostName)
		if err := lockCtx(ctx, lock); err != nil {
			rguard.Unlock()
			g.forkSem.Release(1)
			return nil, err
		}
		return func() { lock.Unlock(); rguard.Unlock(); g.forkSem.Release(1) }, nil

	case modules.RateLimited:
		if err := g.waitForToken(ctx, hostName, moduleName, hint.RPS); err != nil {
			rguard.Unlock()
			g.forkSem.Release(1)
			return nil, err
		}
		return func() { rguard.Unlock(); g.forkSem.Release(1) }, nil

	default: // FullyParallel
		return func() { rguard.Unlock(); g.forkSem.Release(1) }, nil
	}
}

func (g *Gate) hostLock(hostName string) *sync.Mutex {
	g.hostMu.Lock()
	defer g.hostMu.Unlock()
	lock, ok := g.hosts[hostName]
	if !ok {
		lock = &sync.Mutex{}
		g.hosts[hostName] = lock
	}
	return lock
}

func (g *Gate) bucket(hostName, moduleName string, rps float64) *tokenBucket {
	key := hostName + "/" + moduleName
	g.bucketMu.Lock()
	defer g.bucketMu.Unlock()
	b, ok := g.buckets[key]
	if !ok {
		burst := rps
		if burst < 1 {
			burst = 1
		}
		b = newTokenBucket(rps, int(burst))
		g.buckets[key] = b
	}
	return b
}

func (g *Gate) waitForToken(ctx context.Context, hostName, moduleName string, rps float64) error {
	b := g.bucket(hostName, moduleName, rps)
	for {
		if b.tryConsume() {
			return nil
		}
		wait := b.timeUntilAvailable()
		if wait <= 0 {
			wait = 10 * time.Millisecond
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// lockCtx acquires l respecting ctx cancellation, since the sync locks
// have no native context-aware acquire.
func lockCtx(ctx context.Context, l sync.Locker) error {
	done := make(chan struct{})
	go func() {
		l.Lock()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		go func() { <-done; l.Unlock() }()
		return ctx.Err()
	}
}

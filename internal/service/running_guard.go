package service

import (
	"context"
	"sync"
)

// ExportedRunningGuard is an exported alias so _test packages can test the guard.
type ExportedRunningGuard = runningJobsGuard

// ─────────────────────────────────────────────────────────────
// runningJobsGuard — prevents concurrent runs of the same flow
// ─────────────────────────────────────────────────────────────

// runningJobsGuard ensures only one run of a given flow ID is in flight.
// A schedule tick or file change that lands during a run is refused.
type runningJobsGuard struct {
	mu      sync.Mutex
	running map[string]struct{}
	wg      sync.WaitGroup
}

// TryLock attempts to mark id as running. Returns false if it already is.
func (g *runningJobsGuard) TryLock(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.running == nil {
		g.running = make(map[string]struct{})
	}
	if _, ok := g.running[id]; ok {
		return false
	}
	g.running[id] = struct{}{}
	g.wg.Add(1)
	return true
}

// Unlock marks the flow as no longer running. Must follow a successful TryLock.
func (g *runningJobsGuard) Unlock(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.running, id)
	g.wg.Done()
}

// Running reports whether id currently holds the guard.
func (g *runningJobsGuard) Running(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.running[id]
	return ok
}

// WaitAll blocks until all in-flight runs complete or ctx is cancelled.
func (g *runningJobsGuard) WaitAll(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

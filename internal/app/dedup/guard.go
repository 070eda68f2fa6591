// Package dedup suppresses re-processing of identical audio submitted within a short window.
package dedup

import (
	"context"
	"sync"
	"time"
)

// DefaultWindow is the suppression window.
const DefaultWindow = 60 * time.Second

// Guard decides whether a fingerprint may be processed.
// ShouldProcess records the fingerprint with now when it returns true.
type Guard interface {
	ShouldProcess(ctx context.Context, fingerprint string, now time.Time) (bool, error)
}

// MemoryGuard is the process-wide in-memory Guard.
type MemoryGuard struct {
	window time.Duration
	mu     sync.Mutex
	seen   map[string]time.Time
}

// NewMemoryGuard creates a MemoryGuard; a non-positive window means DefaultWindow.
func NewMemoryGuard(window time.Duration) *MemoryGuard {
	if window <= 0 {
		window = DefaultWindow
	}
	return &MemoryGuard{window: window, seen: make(map[string]time.Time)}
}

// ShouldProcess implements Guard. Expired entries are pruned on the way.
func (g *MemoryGuard) ShouldProcess(_ context.Context, fingerprint string, now time.Time) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for fp, at := range g.seen {
		if now.Sub(at) >= g.window {
			delete(g.seen, fp)
		}
	}

	if at, ok := g.seen[fingerprint]; ok && now.Sub(at) < g.window {
		return false, nil
	}
	g.seen[fingerprint] = now
	return true, nil
}

// Len returns the number of live entries, including ones not yet pruned.
func (g *MemoryGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.seen)
}

// Window returns the suppression window.
func (g *MemoryGuard) Window() time.Duration {
	return g.window
}

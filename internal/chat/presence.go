package chat

import (
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/lo"
)

// PresenceTracker is a concurrency-safe set of online usernames.
type PresenceTracker struct {
	mu     sync.RWMutex
	online map[string]struct{}
	gauge  prometheus.Gauge
}

// PresenceOption configures a PresenceTracker.
type PresenceOption func(*PresenceTracker)

// WithOnlineGauge makes the tracker report its size to g after every change.
// Only one tracker should report to a given gauge.
func WithOnlineGauge(g prometheus.Gauge) PresenceOption {
	return func(p *PresenceTracker) { p.gauge = g }
}

// NewPresenceTracker creates an empty tracker.
func NewPresenceTracker(opts ...PresenceOption) *PresenceTracker {
	p := &PresenceTracker{online: make(map[string]struct{})}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// MarkOnline adds username and returns the resulting snapshot. Idempotent.
func (p *PresenceTracker) MarkOnline(username string) Presence {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.online[username] = struct{}{}
	p.reportLocked()
	return p.snapshotLocked()
}

// MarkOffline removes username and returns the resulting snapshot. Idempotent.
func (p *PresenceTracker) MarkOffline(username string) Presence {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.online, username)
	p.reportLocked()
	return p.snapshotLocked()
}

// Snapshot returns the current online set.
func (p *PresenceTracker) Snapshot() Presence {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.snapshotLocked()
}

// IsOnline reports whether username is in the set.
func (p *PresenceTracker) IsOnline(username string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	_, ok := p.online[username]
	return ok
}

func (p *PresenceTracker) snapshotLocked() Presence {
	users := lo.Keys(p.online)
	sort.Strings(users)
	return Presence{OnlineCount: len(users), OnlineUsers: users}
}

func (p *PresenceTracker) reportLocked() {
	if p.gauge != nil {
		p.gauge.Set(float64(len(p.online)))
	}
}

package transport

import (
	"sync"
	"time"
)

// ThrottleGuard suppresses calls for a key for a cooldown window after the ERP
// answered "too many requests". Expired entries are never evicted; they are
// ignored by the freshness check and the key space is bounded by the number of
// actors and instances.
type ThrottleGuard struct {
	cooldown time.Duration
	entries  sync.Map // key -> time.Time
	now      func() time.Time
}

// NewThrottleGuard creates a guard with the given cooldown window
func NewThrottleGuard(cooldown time.Duration) *ThrottleGuard {
	return &ThrottleGuard{cooldown: cooldown, now: time.Now}
}

// ThrottleKey scopes a cooldown to one actor on one remote instance
func ThrottleKey(actorKey, instanceID string) string {
	return instanceID + "|" + actorKey
}

// IsThrottled reports whether key is inside its cooldown window
func (g *ThrottleGuard) IsThrottled(key string) bool {
	v, ok := g.entries.Load(key)
	if !ok {
		return false
	}
	return g.now().Sub(v.(time.Time)) < g.cooldown
}

// RecordTooManyRequests starts a new cooldown window for key
func (g *ThrottleGuard) RecordTooManyRequests(key string) {
	g.entries.Store(key, g.now())
}

package transport

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jafarshop/erpsync/internal/domain"
	"github.com/jafarshop/erpsync/internal/hooks"
	"github.com/jafarshop/erpsync/internal/metrics"
)

// Prober issues a lightweight request to check that an endpoint answers
type Prober interface {
	Ping(ctx context.Context, ep Endpoint) error
}

// HealthMonitor caches the last known reachability of every endpoint. Reads and
// writes for the same endpoint may race; a stale "reachable" answer only costs
// one wasted attempt, so no ordering beyond the map's own is enforced.
type HealthMonitor struct {
	statuses sync.Map // endpoint key -> domain.EndpointHealthStatus
	ttl      time.Duration
	prober   Prober
	observer hooks.ConnectionObserver
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

// NewHealthMonitor creates a monitor whose cached answers stay fresh for ttl
func NewHealthMonitor(ttl time.Duration, prober Prober, observer hooks.ConnectionObserver, m *metrics.Metrics, logger *zap.Logger) *HealthMonitor {
	if observer == nil {
		observer = hooks.Nop{}
	}
	return &HealthMonitor{
		ttl:      ttl,
		prober:   prober,
		observer: observer,
		metrics:  m,
		logger:   logger,
		now:      time.Now,
	}
}

// IsStillValid reports whether the cached status is stale and, if not, whether
// the endpoint was reachable. An endpoint never checked is stale.
func (m *HealthMonitor) IsStillValid(key string) (stale bool, reachable bool) {
	status, ok := m.GetStatus(key)
	if !ok {
		return true, false
	}
	if m.now().Sub(status.LastChecked) >= m.ttl {
		return true, status.Reachable
	}
	return false, status.Reachable
}

// IsReachable answers from the cache when fresh and probes otherwise
func (m *HealthMonitor) IsReachable(ctx context.Context, ep Endpoint) bool {
	stale, reachable := m.IsStillValid(ep.Key())
	if !stale {
		return reachable
	}
	return m.Probe(ctx, ep)
}

// Probe checks the endpoint regardless of the cache and records the outcome
func (m *HealthMonitor) Probe(ctx context.Context, ep Endpoint) bool {
	if err := m.prober.Ping(ctx, ep); err != nil {
		m.logger.Debug("ERP endpoint probe failed",
			zap.String("endpoint", ep.ID),
			zap.Error(err),
		)
		m.RecordFailure(ep)
		return false
	}
	m.RecordSuccess(ep)
	return true
}

// RecordSuccess marks the endpoint reachable
func (m *HealthMonitor) RecordSuccess(ep Endpoint) {
	now := m.now()
	prev, loaded := m.swap(ep.Key(), domain.EndpointHealthStatus{
		EndpointKey:                 ep.Key(),
		LastChecked:                 now,
		Reachable:                   true,
		LastSuccessfulCommunication: &now,
	})
	m.metrics.SetReachable(ep.Key(), true)

	if loaded && !prev.Reachable {
		m.logger.Info("ERP communication restored", zap.String("endpoint", ep.ID))
		m.observer.ConnectionRestored(hooks.ConnectionEvent{
			EndpointKey:                 ep.Key(),
			URL:                         ep.URL,
			LastSuccessfulCommunication: prev.LastSuccessfulCommunication,
		})
	}
}

// RecordFailure marks the endpoint unreachable, keeping its last good timestamp
func (m *HealthMonitor) RecordFailure(ep Endpoint) {
	var lastGood *time.Time
	if prev, ok := m.GetStatus(ep.Key()); ok {
		lastGood = prev.LastSuccessfulCommunication
	}

	prev, loaded := m.swap(ep.Key(), domain.EndpointHealthStatus{
		EndpointKey:                 ep.Key(),
		LastChecked:                 m.now(),
		Reachable:                   false,
		LastSuccessfulCommunication: lastGood,
	})
	m.metrics.SetReachable(ep.Key(), false)

	if !loaded || prev.Reachable {
		m.logger.Warn("ERP communication lost", zap.String("endpoint", ep.ID))
		m.observer.ConnectionLost(hooks.ConnectionEvent{
			EndpointKey:                 ep.Key(),
			URL:                         ep.URL,
			LastSuccessfulCommunication: lastGood,
		})
	}
}

// GetStatus returns the cached status of an endpoint
func (m *HealthMonitor) GetStatus(key string) (domain.EndpointHealthStatus, bool) {
	v, ok := m.statuses.Load(key)
	if !ok {
		return domain.EndpointHealthStatus{}, false
	}
	return v.(domain.EndpointHealthStatus), true
}

func (m *HealthMonitor) swap(key string, status domain.EndpointHealthStatus) (domain.EndpointHealthStatus, bool) {
	prev, loaded := m.statuses.Swap(key, status)
	if !loaded {
		return domain.EndpointHealthStatus{}, false
	}
	return prev.(domain.EndpointHealthStatus), true
}

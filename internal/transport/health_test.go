package transport

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jafarshop/erpsync/internal/config"
	"github.com/jafarshop/erpsync/internal/domain"
	"github.com/jafarshop/erpsync/internal/hooks"
)

type fakeProber struct {
	err   error
	calls int
}

func (p *fakeProber) Ping(ctx context.Context, ep Endpoint) error {
	p.calls++
	return p.err
}

type connectionRecorder struct {
	hooks.Nop
	lost     []hooks.ConnectionEvent
	restored []hooks.ConnectionEvent
}

func (r *connectionRecorder) ConnectionLost(ev hooks.ConnectionEvent)     { r.lost = append(r.lost, ev) }
func (r *connectionRecorder) ConnectionRestored(ev hooks.ConnectionEvent) { r.restored = append(r.restored, ev) }

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }
func newFakeClock() *fakeClock               { return &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)} }

func newTestMonitor(prober Prober, obs hooks.ConnectionObserver, clock *fakeClock) *HealthMonitor {
	m := NewHealthMonitor(time.Minute, prober, obs, nil, zap.NewNop())
	m.now = clock.now
	return m
}

// TestHealthMonitor_NeverCheckedIsStale verifies an unknown endpoint must be probed
func TestHealthMonitor_NeverCheckedIsStale(t *testing.T) {
	m := newTestMonitor(&fakeProber{}, nil, newFakeClock())
	stale, reachable := m.IsStillValid("main")
	assert.True(t, stale)
	assert.False(t, reachable)
}

// TestHealthMonitor_CachesWithinTTL verifies probes happen only when the cache is stale
func TestHealthMonitor_CachesWithinTTL(t *testing.T) {
	prober := &fakeProber{}
	clock := newFakeClock()
	m := newTestMonitor(prober, nil, clock)
	ep := Endpoint{ID: "main", URL: "http://erp"}

	assert.True(t, m.IsReachable(context.Background(), ep))
	clock.advance(30 * time.Second)
	assert.True(t, m.IsReachable(context.Background(), ep))
	assert.Equal(t, 1, prober.calls)

	clock.advance(30 * time.Second)
	stale, _ := m.IsStillValid(ep.Key())
	assert.True(t, stale, "an entry exactly one TTL old is stale")
	assert.True(t, m.IsReachable(context.Background(), ep))
	assert.Equal(t, 2, prober.calls)
}

// TestHealthMonitor_Transitions verifies lost and restored events fire once per flip
func TestHealthMonitor_Transitions(t *testing.T) {
	prober := &fakeProber{}
	rec := &connectionRecorder{}
	clock := newFakeClock()
	m := newTestMonitor(prober, rec, clock)
	ep := Endpoint{ID: "main", URL: "http://erp"}

	require.True(t, m.Probe(context.Background(), ep))
	goodAt := clock.now()
	assert.Empty(t, rec.restored, "first success is not a restoration")

	clock.advance(time.Minute)
	prober.err = fmt.Errorf("connection refused")
	assert.False(t, m.Probe(context.Background(), ep))
	assert.False(t, m.Probe(context.Background(), ep))
	require.Len(t, rec.lost, 1)
	require.NotNil(t, rec.lost[0].LastSuccessfulCommunication)
	assert.Equal(t, goodAt, *rec.lost[0].LastSuccessfulCommunication)

	st, ok := m.GetStatus(ep.Key())
	require.True(t, ok)
	assert.False(t, st.Reachable)
	assert.Equal(t, goodAt, *st.LastSuccessfulCommunication)

	clock.advance(time.Minute)
	prober.err = nil
	assert.True(t, m.Probe(context.Background(), ep))
	require.Len(t, rec.restored, 1)
	assert.Equal(t, goodAt, *rec.restored[0].LastSuccessfulCommunication)
}

// TestHealthMonitor_FirstFailureIsLost verifies an endpoint never seen healthy still reports the loss
func TestHealthMonitor_FirstFailureIsLost(t *testing.T) {
	rec := &connectionRecorder{}
	m := newTestMonitor(&fakeProber{err: fmt.Errorf("down")}, rec, newFakeClock())

	assert.False(t, m.IsReachable(context.Background(), Endpoint{ID: "main"}))
	require.Len(t, rec.lost, 1)
	assert.Nil(t, rec.lost[0].LastSuccessfulCommunication)
}

// TestThrottleGuard_Cooldown verifies suppression ends after the cooldown
func TestThrottleGuard_Cooldown(t *testing.T) {
	clock := newFakeClock()
	g := NewThrottleGuard(time.Minute)
	g.now = clock.now

	keyA := ThrottleKey("actor-a", "shop-a")
	keyB := ThrottleKey("actor-b", "shop-a")

	assert.False(t, g.IsThrottled(keyA))
	g.RecordTooManyRequests(keyA)
	assert.True(t, g.IsThrottled(keyA))
	assert.False(t, g.IsThrottled(keyB))
	assert.False(t, g.IsThrottled(ThrottleKey("actor-a", "shop-b")))

	clock.advance(59 * time.Second)
	assert.True(t, g.IsThrottled(keyA))
	clock.advance(time.Second)
	assert.False(t, g.IsThrottled(keyA))
}

// TestRuleResolver_Resolve verifies routing rules and the default endpoint
func TestRuleResolver_Resolve(t *testing.T) {
	cfg := config.ERPConfig{
		Endpoints: []config.EndpointConfig{
			{ID: "main", URL: "http://main"},
			{ID: "nordic", URL: "http://nordic"},
			{ID: "b2b", URL: "http://b2b"},
		},
		DefaultEndpointID: "main",
		InstanceID:        "inst",
		Routes: []config.RouteConfig{
			{EndpointID: "nordic", Key: "shop", Value: "SHOP-NO"},
			{EndpointID: "b2b", Key: "Channel", Value: "B2B"},
		},
	}
	r := NewRuleResolver(cfg)

	tests := []struct {
		name     string
		sc       domain.SyncContext
		order    *domain.Order
		expected string
	}{
		{name: "order shop", order: &domain.Order{ShopID: "SHOP-NO"}, expected: "nordic"},
		{name: "context shop", sc: domain.SyncContext{ShopID: "SHOP-NO"}, order: &domain.Order{}, expected: "nordic"},
		{name: "order custom field", order: &domain.Order{CustomFields: map[string]string{"Channel": "B2B"}}, expected: "b2b"},
		{name: "user field", sc: domain.SyncContext{UserFields: map[string]string{"Channel": "B2B"}}, order: &domain.Order{}, expected: "b2b"},
		{name: "default", order: &domain.Order{ShopID: "SHOP-DK"}, expected: "main"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ep, err := r.Resolve(tt.sc, tt.order)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, ep.ID)
			assert.Equal(t, "inst", ep.InstanceID)
		})
	}

	_, err := NewRuleResolver(config.ERPConfig{DefaultEndpointID: "missing"}).Resolve(domain.SyncContext{}, &domain.Order{})
	assert.Error(t, err)
}

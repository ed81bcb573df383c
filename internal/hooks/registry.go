package hooks

import (
	"context"
	"sync"
)

// Registry fans events out to every registered observer in registration order.
// It implements TransportObserver, ConnectionObserver and OrderObserver itself.
type Registry struct {
	mu         sync.RWMutex
	transport  []TransportObserver
	connection []ConnectionObserver
	order      []OrderObserver
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{}
}

// OnTransport registers a transport observer
func (r *Registry) OnTransport(o TransportObserver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transport = append(r.transport, o)
}

// OnConnection registers a connection observer
func (r *Registry) OnConnection(o ConnectionObserver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connection = append(r.connection, o)
}

// OnOrder registers an order observer
func (r *Registry) OnOrder(o OrderObserver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.order = append(r.order, o)
}

// BeforeSend returns false as soon as one observer vetoes
func (r *Registry) BeforeSend(ctx context.Context, ev *SendEvent) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, o := range r.transport {
		if !o.BeforeSend(ctx, ev) {
			return false
		}
	}
	return true
}

func (r *Registry) AfterSend(ctx context.Context, ev *SendEvent) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, o := range r.transport {
		o.AfterSend(ctx, ev)
	}
}

func (r *Registry) AfterException(ctx context.Context, ev *SendEvent) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, o := range r.transport {
		o.AfterException(ctx, ev)
	}
}

func (r *Registry) ConnectionLost(ev ConnectionEvent) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, o := range r.connection {
		o.ConnectionLost(ev)
	}
}

func (r *Registry) ConnectionRestored(ev ConnectionEvent) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, o := range r.connection {
		o.ConnectionRestored(ev)
	}
}

// BeforeCreateOrder returns false as soon as one observer vetoes
func (r *Registry) BeforeCreateOrder(ctx context.Context, ev *OrderEvent) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, o := range r.order {
		if !o.BeforeCreateOrder(ctx, ev) {
			return false
		}
	}
	return true
}

func (r *Registry) AfterCreateOrder(ctx context.Context, ev *OrderEvent) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, o := range r.order {
		o.AfterCreateOrder(ctx, ev)
	}
}

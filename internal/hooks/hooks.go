// Package hooks defines the typed extension points of the synchronization
// engine. Hosts implement the interfaces they care about (embedding Nop for the
// rest) and register them on a Registry.
package hooks

import (
	"context"
	"time"

	"github.com/jafarshop/erpsync/internal/domain"
	"github.com/jafarshop/erpsync/internal/erp"
)

// SendEvent describes one exchange with the ERP
type SendEvent struct {
	EndpointID  string
	URL         string
	Attempt     int
	Request     string
	Response    string
	SyncContext domain.SyncContext
	Order       *domain.Order
	Err         error
}

// ConnectionEvent describes a change in an endpoint's reachability
type ConnectionEvent struct {
	EndpointKey                 string
	URL                         string
	LastSuccessfulCommunication *time.Time
}

// OrderEvent describes an order creation submission
type OrderEvent struct {
	SyncContext domain.SyncContext
	Order       *domain.Order
	Request     *erp.Document
	Response    *erp.Document
	Succeeded   bool
	Err         error
}

// TransportObserver is notified around every exchange. Returning false from
// BeforeSend cancels the call before anything is sent.
type TransportObserver interface {
	BeforeSend(ctx context.Context, ev *SendEvent) bool
	AfterSend(ctx context.Context, ev *SendEvent)
	AfterException(ctx context.Context, ev *SendEvent)
}

// ConnectionObserver is notified when an endpoint flips between reachable and unreachable
type ConnectionObserver interface {
	ConnectionLost(ev ConnectionEvent)
	ConnectionRestored(ev ConnectionEvent)
}

// OrderObserver is notified around order creation. Returning false from
// BeforeCreateOrder cancels the submission.
type OrderObserver interface {
	BeforeCreateOrder(ctx context.Context, ev *OrderEvent) bool
	AfterCreateOrder(ctx context.Context, ev *OrderEvent)
}

// Nop implements every observer interface and does nothing
type Nop struct{}

func (Nop) BeforeSend(context.Context, *SendEvent) bool         { return true }
func (Nop) AfterSend(context.Context, *SendEvent)               {}
func (Nop) AfterException(context.Context, *SendEvent)          {}
func (Nop) ConnectionLost(ConnectionEvent)                      {}
func (Nop) ConnectionRestored(ConnectionEvent)                  {}
func (Nop) BeforeCreateOrder(context.Context, *OrderEvent) bool { return true }
func (Nop) AfterCreateOrder(context.Context, *OrderEvent)       {}

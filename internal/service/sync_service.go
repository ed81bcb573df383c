package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jafarshop/erpsync/internal/domain"
	"github.com/jafarshop/erpsync/internal/erp"
	"github.com/jafarshop/erpsync/internal/hooks"
	"github.com/jafarshop/erpsync/internal/idempotency"
	"github.com/jafarshop/erpsync/internal/metrics"
	"github.com/jafarshop/erpsync/internal/reconcile"
	"github.com/jafarshop/erpsync/internal/repository"
	"github.com/jafarshop/erpsync/internal/transport"
	"github.com/jafarshop/erpsync/pkg/errors"
)

// Audit event types written for every synchronization that reaches a decision
const (
	EventSyncSucceeded     = "sync_succeeded"
	EventSyncFailed        = "sync_failed"
	EventSyncSkipped       = "sync_skipped"
	EventOrderExported     = "order_exported"
	EventOrderExportFailed = "order_export_failed"
)

// Transport delivers a request document to the ERP
type Transport interface {
	Execute(ctx context.Context, req transport.Request) (*transport.Reply, error)
}

// EndpointResolver picks the endpoint an order is sent to
type EndpointResolver interface {
	Resolve(sc domain.SyncContext, order *domain.Order) (transport.Endpoint, error)
}

// RequestBuilder renders an order into a request document
type RequestBuilder interface {
	BuildRequest(sc domain.SyncContext, order *domain.Order, kind domain.SubmissionKind) (*erp.Document, error)
}

// Merger applies a response document to an order
type Merger interface {
	Merge(ctx context.Context, sc domain.SyncContext, order *domain.Order, doc *erp.Document, isCreate bool) (*reconcile.Result, error)
}

// SyncService synchronizes orders with the ERP
type SyncService interface {
	SynchronizeByID(ctx context.Context, sc domain.SyncContext, orderID uuid.UUID, kind domain.SubmissionKind) (*domain.Order, *domain.SyncResult, error)
	Synchronize(ctx context.Context, sc domain.SyncContext, order *domain.Order, kind domain.SubmissionKind) (*domain.SyncResult, error)
}

// Dependencies groups the collaborators of the sync service
type Dependencies struct {
	Repos     *repository.Repositories
	Transport Transport
	Resolver  EndpointResolver
	Codec     RequestBuilder
	Guard     *idempotency.Guard
	Merger    Merger
	Orders    hooks.OrderObserver
	Metrics   *metrics.Metrics
}

type syncService struct {
	repos     *repository.Repositories
	transport Transport
	resolver  EndpointResolver
	codec     RequestBuilder
	guard     *idempotency.Guard
	merger    Merger
	orders    hooks.OrderObserver
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

// NewSyncService creates the order synchronization orchestrator
func NewSyncService(deps Dependencies, logger *zap.Logger) *syncService {
	orders := deps.Orders
	if orders == nil {
		orders = hooks.Nop{}
	}
	codec := deps.Codec
	if codec == nil {
		codec = erp.NewOrderCodec()
	}
	return &syncService{
		repos:     deps.Repos,
		transport: deps.Transport,
		resolver:  deps.Resolver,
		codec:     codec,
		guard:     deps.Guard,
		merger:    deps.Merger,
		orders:    orders,
		metrics:   deps.Metrics,
		logger:    logger,
		now:       time.Now,
	}
}

// SynchronizeByID loads an order and synchronizes it
func (s *syncService) SynchronizeByID(ctx context.Context, sc domain.SyncContext, orderID uuid.UUID, kind domain.SubmissionKind) (*domain.Order, *domain.SyncResult, error) {
	order, err := s.repos.Order.GetByID(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	result, err := s.Synchronize(ctx, sc, order, kind)
	return order, result, err
}

// Synchronize sends order to the ERP and merges the answer back. The returned
// error is non-nil only for a failure when the context asks for errors to be
// surfaced, or when the outcome could not be persisted.
func (s *syncService) Synchronize(ctx context.Context, sc domain.SyncContext, order *domain.Order, kind domain.SubmissionKind) (*domain.SyncResult, error) {
	started := s.now()

	if order == nil {
		return &domain.SyncResult{Status: domain.SyncFailed, Reason: "order is required"}, nil
	}
	if !kind.IsValid() {
		return &domain.SyncResult{Status: domain.SyncFailed, Reason: fmt.Sprintf("unknown submission kind %q", kind)}, nil
	}

	log := s.logger.With(
		zap.String("order_id", order.ID.String()),
		zap.String("kind", string(kind)),
		zap.String("actor", sc.ActorKey),
	)

	if reason, skip := s.precondition(sc, order, kind); skip {
		log.Debug("Order not synchronized", zap.String("reason", reason))
		return s.done(kind, started, &domain.SyncResult{Status: domain.SyncUnattempted, Reason: reason}), nil
	}

	ep, err := s.resolver.Resolve(sc, order)
	if err != nil {
		log.Error("Failed to resolve ERP endpoint", zap.Error(err))
		return s.fail(ctx, sc, order, kind, started, err)
	}
	log = log.With(zap.String("endpoint", ep.ID))

	doc, err := s.codec.BuildRequest(sc, order, kind)
	if err != nil {
		log.Error("Failed to build ERP request", zap.Error(err))
		return s.fail(ctx, sc, order, kind, started, err)
	}

	hash := s.guard.Hash(doc)
	if !s.guard.ShouldSend(sc.ActorKey, hash, kind) {
		log.Debug("Request unchanged since last successful submission")
		s.audit(ctx, order, EventSyncSkipped, kind, ep.ID, nil)
		return s.done(kind, started, &domain.SyncResult{Status: domain.SyncSucceeded, Skipped: true, Reason: "unchanged"}), nil
	}

	if kind.CreatesOrder() {
		ev := &hooks.OrderEvent{SyncContext: sc, Order: order, Request: doc}
		if !s.orders.BeforeCreateOrder(ctx, ev) {
			log.Info("Order creation cancelled by hook")
			return s.done(kind, started, &domain.SyncResult{
				Status: domain.SyncUnattempted,
				Reason: "cancelled",
				Err:    errors.New(errors.KindCancelled, "before create order", nil),
			}), nil
		}
	}

	throwOnError := sc.ThrowOnError || sc.Settings.ThrowOnError
	reply, err := s.transport.Execute(ctx, transport.Request{
		Endpoint:     ep,
		Document:     doc,
		ActorKey:     sc.ActorKey,
		RetryAllowed: !sc.DisableRetry,
		ThrowOnError: throwOnError,
		SyncContext:  sc,
		Order:        order,
	})
	if reply == nil {
		reply = &transport.Reply{Status: domain.SyncFailed, Err: err}
	}

	result := &domain.SyncResult{Status: reply.Status, Err: reply.Err}
	if reply.Status == domain.SyncSucceeded {
		if err := s.merge(ctx, sc, order, kind, reply.Document, log); err != nil {
			// reconciliation failures are final for this call; the transport is not retried
			result = &domain.SyncResult{Status: domain.SyncFailed, Err: err}
		}
	}

	if result.Status == domain.SyncSucceeded {
		now := s.now()
		order.LastSyncedAt = &now
	}
	if kind.CreatesOrder() {
		s.createBookkeeping(ctx, sc, order, doc, reply.Document, result, log)
	}

	if err := s.repos.Order.Save(ctx, order); err != nil {
		log.Error("Failed to persist synchronized order", zap.Error(err))
		return s.done(kind, started, result), fmt.Errorf("failed to persist order: %w", err)
	}

	switch result.Status {
	case domain.SyncSucceeded:
		s.audit(ctx, order, EventSyncSucceeded, kind, ep.ID, nil)
		log.Info("Order synchronized", zap.Int("attempts", reply.Attempts))
	case domain.SyncFailed:
		s.audit(ctx, order, EventSyncFailed, kind, ep.ID, result.Err)
		log.Error("Order synchronization failed", zap.Error(result.Err))
	default:
		result.Reason = string(errors.KindOf(result.Err))
		log.Warn("Order synchronization not attempted", zap.Error(result.Err))
	}

	s.done(kind, started, result)
	if result.Status == domain.SyncFailed && throwOnError {
		return result, result.Err
	}
	return result, nil
}

// merge applies the response to a copy of order and adopts the copy only when
// the whole merge succeeded. Lines persisted by an aborted merge are removed
// again; the following Save restores the lines it deleted.
func (s *syncService) merge(ctx context.Context, sc domain.SyncContext, order *domain.Order, kind domain.SubmissionKind, response *erp.Document, log *zap.Logger) error {
	working := order.Clone()
	merged, err := s.merger.Merge(ctx, sc, working, response, kind.CreatesOrder())
	if err != nil {
		s.guard.Invalidate(sc.ActorKey)
		for _, line := range working.Lines {
			if !line.IsSaved() || order.Line(line.ID) != nil {
				continue
			}
			if derr := s.repos.Order.DeleteLine(ctx, order, line); derr != nil {
				log.Error("Failed to remove line of aborted merge", zap.String("line_id", line.ID.String()), zap.Error(derr))
			}
		}
		return err
	}
	*order = *working

	if merged.LinesChanged {
		// the order no longer matches what was sent
		s.guard.Invalidate(sc.ActorKey)
		return nil
	}

	// the ERP may have filled in header values, so the next unchanged call
	// builds the merged order rather than the one that was sent
	next, err := s.codec.BuildRequest(sc, order, kind)
	if err != nil {
		s.guard.Invalidate(sc.ActorKey)
		return nil
	}
	s.guard.Record(sc.ActorKey, s.guard.Hash(next))
	return nil
}

// precondition reports why an order must not be sent at all
func (s *syncService) precondition(sc domain.SyncContext, order *domain.Order, kind domain.SubmissionKind) (string, bool) {
	switch {
	case len(order.Lines) == 0:
		return "order has no lines", true
	case order.IsLedgerEntry && sc.Settings.SkipLedgerOrders:
		return "ledger entries are not synchronized", true
	case (kind == domain.SubmissionCreateOrder || kind == domain.SubmissionScheduled) && order.ERPOrderID != "":
		return "order already exists in the ERP", true
	case kind == domain.SubmissionInteractiveCart && !order.IsCart() && order.ERPOrderID != "":
		return "order already exists in the ERP", true
	}
	return "", false
}

// createBookkeeping moves the order to the configured state after an order
// creation attempt. A cancelled send leaves the order untouched.
func (s *syncService) createBookkeeping(ctx context.Context, sc domain.SyncContext, order *domain.Order, request, response *erp.Document, result *domain.SyncResult, log *zap.Logger) {
	if errors.IsKind(result.Err, errors.KindCancelled) {
		return
	}

	ev := &hooks.OrderEvent{SyncContext: sc, Order: order, Request: request, Response: response, Err: result.Err}

	if result.Status == domain.SyncSucceeded {
		order.SyncFailed = false
		s.transition(order, sc.Settings.SucceededState, log)
		s.audit(ctx, order, EventOrderExported, "", "", nil)
		ev.Succeeded = true
		s.orders.AfterCreateOrder(ctx, ev)
		return
	}

	order.SyncFailed = true
	s.transition(order, sc.Settings.FailedState, log)
	if sc.Settings.QueueFailedOrders {
		s.transition(order, domain.OrderStatusCart, log)
	}
	s.audit(ctx, order, EventOrderExportFailed, "", "", result.Err)
	s.orders.AfterCreateOrder(ctx, ev)
}

func (s *syncService) transition(order *domain.Order, to domain.OrderStatus, log *zap.Logger) {
	if to == "" || order.Status == to {
		return
	}
	from := order.Status
	if from == "" {
		from = domain.OrderStatusCart
	}
	if !from.CanTransitionTo(to) {
		log.Warn("Order status not changed",
			zap.Error(&errors.ErrInvalidStateTransition{From: from, To: to}))
		return
	}
	order.Status = to
}

func (s *syncService) fail(ctx context.Context, sc domain.SyncContext, order *domain.Order, kind domain.SubmissionKind, started time.Time, err error) (*domain.SyncResult, error) {
	result := &domain.SyncResult{Status: domain.SyncFailed, Err: err}
	s.audit(ctx, order, EventSyncFailed, kind, "", err)
	s.done(kind, started, result)
	if sc.ThrowOnError || sc.Settings.ThrowOnError {
		return result, err
	}
	return result, nil
}

func (s *syncService) done(kind domain.SubmissionKind, started time.Time, result *domain.SyncResult) *domain.SyncResult {
	s.metrics.ObserveResult(string(kind), result.Status.String(), s.now().Sub(started))
	return result
}

func (s *syncService) audit(ctx context.Context, order *domain.Order, eventType string, kind domain.SubmissionKind, endpointID string, cause error) {
	data := map[string]interface{}{
		"status": order.Status,
	}
	if kind != "" {
		data["kind"] = kind
	}
	if endpointID != "" {
		data["endpoint"] = endpointID
	}
	if order.ERPOrderID != "" {
		data["erp_order_id"] = order.ERPOrderID
	}
	if cause != nil {
		data["error"] = cause.Error()
		if k := errors.KindOf(cause); k != "" {
			data["error_kind"] = k
		}
	}

	event := &domain.OrderEvent{
		OrderID:   order.ID,
		EventType: eventType,
		EventData: data,
	}
	if err := s.repos.OrderEvent.Create(ctx, event); err != nil {
		s.logger.Warn("Failed to record order event", zap.String("event_type", eventType), zap.Error(err))
	}
}

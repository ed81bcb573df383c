package service

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jafarshop/erpsync/internal/config"
	"github.com/jafarshop/erpsync/internal/domain"
	"github.com/jafarshop/erpsync/internal/erp"
	"github.com/jafarshop/erpsync/internal/hooks"
	"github.com/jafarshop/erpsync/internal/idempotency"
	"github.com/jafarshop/erpsync/internal/reconcile"
	"github.com/jafarshop/erpsync/internal/repository"
	"github.com/jafarshop/erpsync/internal/repository/memory"
	"github.com/jafarshop/erpsync/internal/transport"
	"github.com/jafarshop/erpsync/pkg/errors"
)

// fakeTransport answers with the request document, optionally altered by respond
type fakeTransport struct {
	calls   int
	reply   *transport.Reply
	respond func(doc *erp.Document)
	last    transport.Request
}

func (f *fakeTransport) Execute(ctx context.Context, req transport.Request) (*transport.Reply, error) {
	f.calls++
	f.last = req
	if f.reply != nil {
		return f.reply, nil
	}

	body, err := req.Document.Marshal()
	if err != nil {
		return nil, err
	}
	doc, err := erp.ParseDocument(body)
	if err != nil {
		return nil, err
	}
	if f.respond != nil {
		f.respond(doc)
	}
	return &transport.Reply{Status: domain.SyncSucceeded, Document: doc, Attempts: 1}, nil
}

type orderHooks struct {
	hooks.Nop
	veto    bool
	created []*hooks.OrderEvent
}

func (h *orderHooks) BeforeCreateOrder(ctx context.Context, ev *hooks.OrderEvent) bool {
	return !h.veto
}

func (h *orderHooks) AfterCreateOrder(ctx context.Context, ev *hooks.OrderEvent) {
	h.created = append(h.created, ev)
}

type fixture struct {
	svc       *syncService
	store     *memory.Store
	transport *fakeTransport
	hooks     *orderHooks
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zap.NewNop()
	store := memory.NewStore()
	tr := &fakeTransport{}
	oh := &orderHooks{}

	erpCfg := config.ERPConfig{
		Endpoints:         []config.EndpointConfig{{ID: "main", URL: "http://erp.local/connector"}},
		DefaultEndpointID: "main",
	}

	svc := NewSyncService(Dependencies{
		Repos:     store.Repositories(),
		Transport: tr,
		Resolver:  transport.NewRuleResolver(erpCfg),
		Guard:     idempotency.NewGuard(strings.Split(config.DefaultVolatileColumns, ",")),
		Merger:    reconcile.NewReconciler(store, logger),
		Orders:    oh,
	}, logger)

	return &fixture{svc: svc, store: store, transport: tr, hooks: oh}
}

func syncContext() domain.SyncContext {
	return domain.SyncContext{
		ActorKey: "user-1",
		ShopID:   "SHOP1",
		Currency: "EUR",
		Settings: domain.SyncSettings{
			SucceededState: domain.OrderStatusExported,
			FailedState:    domain.OrderStatusExportFailed,
		},
	}
}

func cartWithLine() *domain.Order {
	order := &domain.Order{ID: uuid.New(), Status: domain.OrderStatusCart, Currency: "EUR"}
	order.Lines = []*domain.OrderLine{{
		OrderID:   order.ID,
		Type:      domain.LineTypeProduct,
		ProductID: "P1",
		Quantity:  2,
		UnitPrice: domain.Price{WithVAT: 12.5, WithoutVAT: 10, VAT: 2.5},
	}}
	return order
}

func withERPOrderID(id string) func(doc *erp.Document) {
	return withOrderColumn(erp.ColOrderIntegrationID, id)
}

// withOrderColumn overwrites a header column of the response, adding it when missing
func withOrderColumn(name, value string) func(doc *erp.Document) {
	return func(doc *erp.Document) {
		cols := doc.Table(erp.TableOrders).Items[0].Columns
		for i := range cols {
			if cols[i].Name == name {
				cols[i].Value = value
				return
			}
		}
		doc.Table(erp.TableOrders).Items[0].Columns = append(cols, erp.Column{Name: name, Value: value})
	}
}

// setLineColumn overwrites a column of the response line for productID
func setLineColumn(doc *erp.Document, productID, name, value string) {
	items := doc.Table(erp.TableOrderLines).Items
	for i := range items {
		if v, _ := items[i].Value(erp.ColLineProductID); v != productID {
			continue
		}
		for j := range items[i].Columns {
			if items[i].Columns[j].Name == name {
				items[i].Columns[j].Value = value
			}
		}
	}
}

func eventTypes(t *testing.T, f *fixture, orderID uuid.UUID) []string {
	t.Helper()
	events, err := f.store.Repositories().OrderEvent.ListByOrder(context.Background(), orderID)
	require.NoError(t, err)
	types := make([]string, 0, len(events))
	for _, ev := range events {
		types = append(types, ev.EventType)
	}
	return types
}

// TestSynchronize_UnchangedCartSentOnce verifies the idempotency guard suppresses resubmission
func TestSynchronize_UnchangedCartSentOnce(t *testing.T) {
	f := newFixture(t)
	order := cartWithLine()
	sc := syncContext()

	first, err := f.svc.Synchronize(context.Background(), sc, order, domain.SubmissionInteractiveCart)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncSucceeded, first.Status)
	assert.False(t, first.Skipped)
	require.True(t, order.Lines[0].IsSaved())

	second, err := f.svc.Synchronize(context.Background(), sc, order, domain.SubmissionInteractiveCart)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncSucceeded, second.Status)
	assert.True(t, second.Skipped)

	assert.Equal(t, 1, f.transport.calls)
	assert.Equal(t, []string{EventSyncSucceeded, EventSyncSkipped}, eventTypes(t, f, order.ID))
}

// TestSynchronize_ChangedCartIsResent verifies a quantity change produces a new hash
func TestSynchronize_ChangedCartIsResent(t *testing.T) {
	f := newFixture(t)
	order := cartWithLine()
	sc := syncContext()

	_, err := f.svc.Synchronize(context.Background(), sc, order, domain.SubmissionInteractiveCart)
	require.NoError(t, err)

	order.Lines[0].Quantity = 3
	result, err := f.svc.Synchronize(context.Background(), sc, order, domain.SubmissionInteractiveCart)
	require.NoError(t, err)
	assert.False(t, result.Skipped)
	assert.Equal(t, 2, f.transport.calls)
}

// TestSynchronize_GuardIsPerActor verifies hashes of different actors do not interact
func TestSynchronize_GuardIsPerActor(t *testing.T) {
	f := newFixture(t)
	order := cartWithLine()
	sc := syncContext()

	_, err := f.svc.Synchronize(context.Background(), sc, order, domain.SubmissionInteractiveCart)
	require.NoError(t, err)

	sc.ActorKey = "user-2"
	result, err := f.svc.Synchronize(context.Background(), sc, order, domain.SubmissionInteractiveCart)
	require.NoError(t, err)
	assert.False(t, result.Skipped)
	assert.Equal(t, 2, f.transport.calls)
}

// TestSynchronize_LineChangesInvalidateHash verifies a merge that changes lines forces the next send
func TestSynchronize_LineChangesInvalidateHash(t *testing.T) {
	f := newFixture(t)
	order := cartWithLine()
	sc := syncContext()

	f.transport.respond = func(doc *erp.Document) {
		doc.AddItem(erp.TableOrderLines,
			erp.Column{Name: erp.ColLineType, Value: "0"},
			erp.Column{Name: erp.ColLineProductID, Value: "FREEGIFT"},
			erp.Column{Name: erp.ColLineQuantity, Value: "1"},
		)
	}
	_, err := f.svc.Synchronize(context.Background(), sc, order, domain.SubmissionInteractiveCart)
	require.NoError(t, err)
	require.Len(t, order.Lines, 2)

	_, err = f.svc.Synchronize(context.Background(), sc, order, domain.SubmissionInteractiveCart)
	require.NoError(t, err)
	assert.Equal(t, 2, f.transport.calls)
}

// TestSynchronize_CreateOrderSuccess verifies success bookkeeping for order creation
func TestSynchronize_CreateOrderSuccess(t *testing.T) {
	f := newFixture(t)
	order := cartWithLine()
	order.SyncFailed = true
	f.transport.respond = withERPOrderID("SO-1001")

	result, err := f.svc.Synchronize(context.Background(), syncContext(), order, domain.SubmissionCreateOrder)
	require.NoError(t, err)

	assert.Equal(t, domain.SyncSucceeded, result.Status)
	assert.Equal(t, domain.OrderStatusExported, order.Status)
	assert.Equal(t, "SO-1001", order.ERPOrderID)
	assert.False(t, order.SyncFailed)
	assert.NotNil(t, order.LastSyncedAt)

	require.Len(t, f.hooks.created, 1)
	assert.True(t, f.hooks.created[0].Succeeded)

	stored, err := f.store.GetByID(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusExported, stored.Status)
	assert.Equal(t, []string{EventOrderExported, EventSyncSucceeded}, eventTypes(t, f, order.ID))
}

// TestSynchronize_CreateOrderAlwaysSends verifies order creation bypasses the idempotency guard
func TestSynchronize_CreateOrderAlwaysSends(t *testing.T) {
	f := newFixture(t)
	order := cartWithLine()
	sc := syncContext()

	_, err := f.svc.Synchronize(context.Background(), sc, order, domain.SubmissionInteractiveCart)
	require.NoError(t, err)

	f.transport.respond = withERPOrderID("SO-1")
	result, err := f.svc.Synchronize(context.Background(), sc, order, domain.SubmissionCreateOrder)
	require.NoError(t, err)
	assert.False(t, result.Skipped)
	assert.Equal(t, 2, f.transport.calls)
}

// TestSynchronize_CreateOrderFailure verifies failure bookkeeping and the queue downgrade
func TestSynchronize_CreateOrderFailure(t *testing.T) {
	tests := []struct {
		name   string
		queue  bool
		status domain.OrderStatus
	}{
		{name: "failed state", queue: false, status: domain.OrderStatusExportFailed},
		{name: "queued back to cart", queue: true, status: domain.OrderStatusCart},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			order := cartWithLine()
			sc := syncContext()
			sc.Settings.QueueFailedOrders = tt.queue
			f.transport.reply = &transport.Reply{
				Status:   domain.SyncFailed,
				Attempts: 3,
				Err:      errors.New(errors.KindConnection, "send", fmt.Errorf("connection refused")),
			}

			result, err := f.svc.Synchronize(context.Background(), sc, order, domain.SubmissionCreateOrder)
			require.NoError(t, err)

			assert.Equal(t, domain.SyncFailed, result.Status)
			assert.Equal(t, tt.status, order.Status)
			assert.True(t, order.SyncFailed)
			require.Len(t, f.hooks.created, 1)
			assert.False(t, f.hooks.created[0].Succeeded)
			assert.Contains(t, eventTypes(t, f, order.ID), EventOrderExportFailed)
		})
	}
}

// TestSynchronize_UnattemptedCreateRunsFailureBookkeeping verifies an unreachable ERP marks the order failed
func TestSynchronize_UnattemptedCreateRunsFailureBookkeeping(t *testing.T) {
	f := newFixture(t)
	order := cartWithLine()
	f.transport.reply = &transport.Reply{
		Status: domain.SyncUnattempted,
		Err:    errors.New(errors.KindConnection, "check liveness", fmt.Errorf("unreachable")),
	}

	result, err := f.svc.Synchronize(context.Background(), syncContext(), order, domain.SubmissionCreateOrder)
	require.NoError(t, err)

	assert.Equal(t, domain.SyncUnattempted, result.Status)
	assert.Equal(t, string(errors.KindConnection), result.Reason)
	assert.Equal(t, domain.OrderStatusExportFailed, order.Status)
	assert.True(t, order.SyncFailed)
}

// TestSynchronize_CancelledCreateLeavesOrderUntouched verifies a vetoing hook stops the send
func TestSynchronize_CancelledCreateLeavesOrderUntouched(t *testing.T) {
	f := newFixture(t)
	f.hooks.veto = true
	order := cartWithLine()

	result, err := f.svc.Synchronize(context.Background(), syncContext(), order, domain.SubmissionCreateOrder)
	require.NoError(t, err)

	assert.Equal(t, domain.SyncUnattempted, result.Status)
	assert.True(t, errors.IsKind(result.Err, errors.KindCancelled))
	assert.Equal(t, 0, f.transport.calls)
	assert.Equal(t, domain.OrderStatusCart, order.Status)
	assert.False(t, order.SyncFailed)
	assert.Empty(t, f.hooks.created)
}

// TestSynchronize_TransportCancelledCreateSkipsBookkeeping verifies a before-send veto is not a failure
func TestSynchronize_TransportCancelledCreateSkipsBookkeeping(t *testing.T) {
	f := newFixture(t)
	order := cartWithLine()
	f.transport.reply = &transport.Reply{
		Status: domain.SyncUnattempted,
		Err:    errors.New(errors.KindCancelled, "before send", nil),
	}

	result, err := f.svc.Synchronize(context.Background(), syncContext(), order, domain.SubmissionCreateOrder)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncUnattempted, result.Status)
	assert.Equal(t, domain.OrderStatusCart, order.Status)
	assert.False(t, order.SyncFailed)
}

// TestSynchronize_ReconciliationFailureNotRetried verifies a merge error fails the call after one send
func TestSynchronize_ReconciliationFailureNotRetried(t *testing.T) {
	f := newFixture(t)
	order := cartWithLine()

	// no ERP order id in the answer to a create request
	result, err := f.svc.Synchronize(context.Background(), syncContext(), order, domain.SubmissionCreateOrder)
	require.NoError(t, err)

	assert.Equal(t, domain.SyncFailed, result.Status)
	assert.True(t, errors.IsKind(result.Err, errors.KindReconciliation))
	assert.Equal(t, 1, f.transport.calls)
	assert.Equal(t, domain.OrderStatusExportFailed, order.Status)
}

// TestSynchronize_ThrowOnErrorSurfacesFailure verifies the error is returned when requested
func TestSynchronize_ThrowOnErrorSurfacesFailure(t *testing.T) {
	f := newFixture(t)
	order := cartWithLine()
	sc := syncContext()
	sc.ThrowOnError = true
	cause := errors.New(errors.KindServerRejected, "send", fmt.Errorf("boom"))
	f.transport.reply = &transport.Reply{Status: domain.SyncFailed, Err: cause}

	result, err := f.svc.Synchronize(context.Background(), sc, order, domain.SubmissionInteractiveCart)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindServerRejected))
	assert.Equal(t, domain.SyncFailed, result.Status)
}

// TestSynchronize_Preconditions verifies orders that must not be sent are left unattempted
func TestSynchronize_Preconditions(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(o *domain.Order, sc *domain.SyncContext)
		kind     domain.SubmissionKind
		expected domain.SyncStatus
	}{
		{
			name:     "no lines",
			mutate:   func(o *domain.Order, sc *domain.SyncContext) { o.Lines = nil },
			kind:     domain.SubmissionInteractiveCart,
			expected: domain.SyncUnattempted,
		},
		{
			name: "ledger entry skipped",
			mutate: func(o *domain.Order, sc *domain.SyncContext) {
				o.IsLedgerEntry = true
				sc.Settings.SkipLedgerOrders = true
			},
			kind:     domain.SubmissionInteractiveCart,
			expected: domain.SyncUnattempted,
		},
		{
			name:     "already created",
			mutate:   func(o *domain.Order, sc *domain.SyncContext) { o.ERPOrderID = "SO-1" },
			kind:     domain.SubmissionCreateOrder,
			expected: domain.SyncUnattempted,
		},
		{
			name: "placed order recalculated",
			mutate: func(o *domain.Order, sc *domain.SyncContext) {
				o.ERPOrderID = "SO-1"
				o.Status = domain.OrderStatusExported
			},
			kind:     domain.SubmissionInteractiveCart,
			expected: domain.SyncUnattempted,
		},
		{
			name:     "unknown kind",
			mutate:   func(o *domain.Order, sc *domain.SyncContext) {},
			kind:     domain.SubmissionKind("Bogus"),
			expected: domain.SyncFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			order := cartWithLine()
			sc := syncContext()
			tt.mutate(order, &sc)

			result, err := f.svc.Synchronize(context.Background(), sc, order, tt.kind)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result.Status)
			assert.Equal(t, 0, f.transport.calls)
		})
	}
}

// TestSynchronize_NilOrder verifies a nil order fails without a send
func TestSynchronize_NilOrder(t *testing.T) {
	f := newFixture(t)
	result, err := f.svc.Synchronize(context.Background(), syncContext(), nil, domain.SubmissionInteractiveCart)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncFailed, result.Status)
}

// TestSynchronize_RetryFlagsPassedToTransport verifies the context controls retries
func TestSynchronize_RetryFlagsPassedToTransport(t *testing.T) {
	f := newFixture(t)
	sc := syncContext()
	sc.DisableRetry = true

	_, err := f.svc.Synchronize(context.Background(), sc, cartWithLine(), domain.SubmissionInteractiveCart)
	require.NoError(t, err)
	assert.False(t, f.transport.last.RetryAllowed)
	assert.Equal(t, "main", f.transport.last.Endpoint.ID)
	assert.Equal(t, "user-1", f.transport.last.ActorKey)
}

// TestSynchronizeByID verifies orders are loaded from the repository
func TestSynchronizeByID(t *testing.T) {
	f := newFixture(t)
	order := cartWithLine()
	require.NoError(t, f.store.Save(context.Background(), order))

	loaded, result, err := f.svc.SynchronizeByID(context.Background(), syncContext(), order.ID, domain.SubmissionInteractiveCart)
	require.NoError(t, err)
	assert.Equal(t, order.ID, loaded.ID)
	assert.Equal(t, domain.SyncSucceeded, result.Status)

	_, _, err = f.svc.SynchronizeByID(context.Background(), syncContext(), uuid.New(), domain.SubmissionInteractiveCart)
	var notFound *errors.ErrNotFound
	assert.ErrorAs(t, err, &notFound)
}

// TestSynchronize_HeaderFilledByERPSentOnce verifies values the ERP fills in do not defeat the guard
func TestSynchronize_HeaderFilledByERPSentOnce(t *testing.T) {
	f := newFixture(t)
	order := cartWithLine()
	sc := syncContext()
	f.transport.respond = withOrderColumn(erp.ColOrderCustomerNumber, "C100")

	_, err := f.svc.Synchronize(context.Background(), sc, order, domain.SubmissionInteractiveCart)
	require.NoError(t, err)
	require.Equal(t, "C100", order.CustomerNumber)

	second, err := f.svc.Synchronize(context.Background(), sc, order, domain.SubmissionInteractiveCart)
	require.NoError(t, err)
	assert.True(t, second.Skipped)
	assert.Equal(t, 1, f.transport.calls)
}

// TestSynchronize_FailedMergeLeavesOrderIntact verifies a merge that fails halfway changes nothing
func TestSynchronize_FailedMergeLeavesOrderIntact(t *testing.T) {
	f := newFixture(t)
	order := cartWithLine()
	order.Lines = append(order.Lines, &domain.OrderLine{
		OrderID:   order.ID,
		Type:      domain.LineTypeProduct,
		ProductID: "P2",
		Quantity:  1,
	})
	require.NoError(t, f.store.Save(context.Background(), order))

	f.transport.respond = func(doc *erp.Document) {
		withOrderColumn(erp.ColOrderCustomerNumber, "C100")(doc)
		setLineColumn(doc, "P1", erp.ColLineQuantity, "7")
		setLineColumn(doc, "P2", erp.ColLineProductID, "")
	}

	result, err := f.svc.Synchronize(context.Background(), syncContext(), order, domain.SubmissionInteractiveCart)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncFailed, result.Status)
	assert.True(t, errors.IsKind(result.Err, errors.KindReconciliation))

	assert.Equal(t, 2.0, order.Lines[0].Quantity)
	assert.Empty(t, order.CustomerNumber)
	assert.Nil(t, order.LastSyncedAt)

	stored, err := f.store.GetByID(context.Background(), order.ID)
	require.NoError(t, err)
	require.Len(t, stored.Lines, 2)
	assert.Equal(t, 2.0, stored.Line(order.Lines[0].ID).Quantity)
	assert.Empty(t, stored.CustomerNumber)
	assert.Equal(t, []string{EventSyncFailed}, eventTypes(t, f, order.ID))
}

type failingShipping struct{}

func (failingShipping) CalculateShipping(ctx context.Context, order *domain.Order) (domain.Price, error) {
	return domain.Price{}, fmt.Errorf("shipping rates unavailable")
}

// deleteRecorder records the lines deleted through the order repository
type deleteRecorder struct {
	repository.OrderRepository
	deleted []string
}

func (d *deleteRecorder) DeleteLine(ctx context.Context, order *domain.Order, line *domain.OrderLine) error {
	d.deleted = append(d.deleted, line.ProductID)
	return d.OrderRepository.DeleteLine(ctx, order, line)
}

// TestSynchronize_FailedMergeRemovesSavedLines verifies lines persisted before the failure are dropped
func TestSynchronize_FailedMergeRemovesSavedLines(t *testing.T) {
	f := newFixture(t)
	recorder := &deleteRecorder{OrderRepository: f.store}
	f.svc.repos = &repository.Repositories{Order: recorder, OrderEvent: f.store.Repositories().OrderEvent}
	f.svc.merger = reconcile.NewReconciler(f.store, zap.NewNop(), reconcile.WithShippingCalculator(failingShipping{}))

	order := cartWithLine()
	require.NoError(t, f.store.Save(context.Background(), order))

	// the new GIFT line is saved as the parent of its discount before shipping fails
	f.transport.respond = func(doc *erp.Document) {
		doc.AddItem(erp.TableOrderLines,
			erp.Column{Name: erp.ColLineType, Value: "0"},
			erp.Column{Name: erp.ColLineProductID, Value: "GIFT"},
			erp.Column{Name: erp.ColLineQuantity, Value: "1"},
		)
		doc.AddItem(erp.TableOrderLines,
			erp.Column{Name: erp.ColLineType, Value: "3"},
			erp.Column{Name: erp.ColLineProductID, Value: "GIFT"},
			erp.Column{Name: erp.ColLinePriceWithVAT, Value: "5"},
		)
	}

	result, err := f.svc.Synchronize(context.Background(), syncContext(), order, domain.SubmissionInteractiveCart)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncFailed, result.Status)
	assert.Equal(t, []string{"GIFT"}, recorder.deleted)
	require.Len(t, order.Lines, 1)

	stored, err := f.store.GetByID(context.Background(), order.ID)
	require.NoError(t, err)
	require.Len(t, stored.Lines, 1)
	assert.Equal(t, "P1", stored.Lines[0].ProductID)
}

// TestSynchronize_ThrowOnErrorPassedToTransport verifies the settings flag reaches the transport
func TestSynchronize_ThrowOnErrorPassedToTransport(t *testing.T) {
	f := newFixture(t)
	sc := syncContext()
	sc.Settings.ThrowOnError = true

	_, err := f.svc.Synchronize(context.Background(), sc, cartWithLine(), domain.SubmissionInteractiveCart)
	require.NoError(t, err)
	assert.True(t, f.transport.last.ThrowOnError)
}

// Package reconcile merges an ERP response back into the local order graph.
//
// The ERP answers with a flat list of typed lines. Product lines are matched to
// local lines, discount and tax lines are re-attached to their product line,
// lines the ERP no longer knows about are removed, and duplicate cart lines
// are folded together.
package reconcile

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jafarshop/erpsync/internal/domain"
	"github.com/jafarshop/erpsync/internal/erp"
	"github.com/jafarshop/erpsync/pkg/errors"
)

// LineStore persists individual lines while a merge is in progress. SaveLine
// must assign an id to an unsaved line.
type LineStore interface {
	SaveLine(ctx context.Context, order *domain.Order, line *domain.OrderLine) error
	DeleteLine(ctx context.Context, order *domain.Order, line *domain.OrderLine) error
}

// ShippingCalculator computes the locally configured shipping fee
type ShippingCalculator interface {
	CalculateShipping(ctx context.Context, order *domain.Order) (domain.Price, error)
}

// ShippingOverride lets the host take over shipping reconciliation. Returning
// true suppresses the default correction.
type ShippingOverride interface {
	OverrideShipping(ctx context.Context, order *domain.Order, resp *erp.Response) bool
}

// Result summarizes what a merge did to the order
type Result struct {
	Created int
	Updated int
	Deleted int
	Merged  int
	// LinesChanged is set when the line structure or quantities changed, which
	// invalidates the idempotency hash of the request that produced the response
	LinesChanged bool
}

type Reconciler struct {
	store    LineStore
	shipping ShippingCalculator
	override ShippingOverride
	logger   *zap.Logger
}

// Option customizes a Reconciler
type Option func(*Reconciler)

func WithShippingCalculator(calc ShippingCalculator) Option {
	return func(r *Reconciler) { r.shipping = calc }
}

func WithShippingOverride(o ShippingOverride) Option {
	return func(r *Reconciler) { r.override = o }
}

// NewReconciler creates a reconciler that persists lines through store
func NewReconciler(store LineStore, logger *zap.Logger, opts ...Option) *Reconciler {
	r := &Reconciler{store: store, logger: logger}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Merge applies the response document to order. Any failure aborts the merge
// and is returned as a non-retryable reconciliation error.
func (r *Reconciler) Merge(ctx context.Context, sc domain.SyncContext, order *domain.Order, doc *erp.Document, isCreate bool) (*Result, error) {
	if order == nil {
		return nil, errors.New(errors.KindReconciliation, "merge", fmt.Errorf("order is required"))
	}
	resp, err := erp.DecodeResponse(doc)
	if err != nil {
		return nil, errors.New(errors.KindReconciliation, "decode response", err)
	}

	p := &pass{
		Reconciler: r,
		ctx:        ctx,
		settings:   sc.Settings,
		order:      order,
		confirmed:  make(map[*domain.OrderLine]bool),
		result:     &Result{},
	}

	if err := p.applyOrder(resp.Order, isCreate); err != nil {
		return nil, errors.New(errors.KindReconciliation, "apply order", err)
	}

	// products first so discount and tax lines find their parent
	for _, rec := range resp.Lines {
		if rec.Type != domain.LineTypeProduct {
			continue
		}
		if err := p.applyProduct(rec); err != nil {
			return nil, p.lineError(rec, err)
		}
	}
	for _, rec := range resp.Lines {
		if rec.Type == domain.LineTypeProduct {
			continue
		}
		if err := p.applyNonProduct(rec); err != nil {
			return nil, p.lineError(rec, err)
		}
	}

	if err := p.deleteUnconfirmed(); err != nil {
		return nil, errors.New(errors.KindReconciliation, "delete lines", err)
	}
	if order.IsCart() {
		p.mergeDuplicates()
	}
	if err := p.reconcileShipping(resp); err != nil {
		return nil, errors.New(errors.KindReconciliation, "reconcile shipping", err)
	}

	return p.result, nil
}

// pass holds the state of a single Merge call
type pass struct {
	*Reconciler
	ctx               context.Context
	settings          domain.SyncSettings
	order             *domain.Order
	confirmed         map[*domain.OrderLine]bool
	result            *Result
	orderPriceApplied bool
}

func (p *pass) lineError(rec erp.LineRecord, err error) error {
	p.logger.Error("Failed to merge ERP order line",
		zap.String("order_id", p.order.ID.String()),
		zap.String("line_id", rec.LineID),
		zap.String("line_type", rec.Type.String()),
		zap.String("product_id", rec.ProductID),
		zap.String("variant_id", rec.VariantID),
		zap.Error(err),
	)
	return errors.New(errors.KindReconciliation, "merge line "+rec.ProductID, err)
}

func (p *pass) applyOrder(rec erp.OrderRecord, isCreate bool) error {
	if rec.CustomerNumber != "" {
		p.order.CustomerNumber = rec.CustomerNumber
	}
	if rec.IntegrationOrderID != "" {
		p.order.ERPOrderID = rec.IntegrationOrderID
	}
	if isCreate && p.order.ERPOrderID == "" {
		return fmt.Errorf("ERP did not return an order id for a created order")
	}
	if price, ok := rec.Price.Over(p.order.Price); ok {
		p.order.Price = price
		p.orderPriceApplied = true
	}

	if p.settings.ERPControlsShipping {
		if rec.ShippingMethodCode != "" {
			p.order.ShippingMethodCode = rec.ShippingMethodCode
		}
		if rec.ShippingMethod != "" {
			p.order.ShippingMethod = rec.ShippingMethod
		}
		if fee, ok := rec.ShippingFee.Over(p.order.ShippingFee); ok {
			p.order.ShippingFee = fee
		}
	}
	return nil
}

func (p *pass) confirm(line *domain.OrderLine) {
	p.confirmed[line] = true
}

func (p *pass) created(line *domain.OrderLine) {
	p.order.Lines = append(p.order.Lines, line)
	p.result.Created++
	p.result.LinesChanged = true
}

func (p *pass) setQuantity(line *domain.OrderLine, qty *float64, fallback float64) {
	q := fallback
	if qty != nil {
		q = *qty
	}
	if line.Quantity != q {
		if line.IsSaved() {
			p.result.LinesChanged = true
		}
		line.Quantity = q
	}
}

// applyPrices takes the received line prices. A lone component is completed
// from the line's current price. Discounts are compared as magnitudes.
func applyPrices(line *domain.OrderLine, rec erp.LineRecord) {
	unitFields, priceFields := rec.UnitPrice, rec.Price
	unitBase, priceBase := line.UnitPrice, line.Price
	if line.Type.IsDiscount() {
		unitFields, priceFields = unitFields.Abs(), priceFields.Abs()
		unitBase, priceBase = unitBase.Abs(), priceBase.Abs()
	}

	unit, unitOK := unitFields.Over(unitBase)
	if unitOK {
		line.UnitPrice = unit
	}
	if price, ok := priceFields.Over(priceBase); ok {
		line.Price = price
	} else if unitOK {
		line.Price = unit.Scale(line.Quantity)
	}
	line.RemotePriceAuthoritative = true
}

func parseLineID(raw string) (uuid.UUID, bool) {
	if raw == "" {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, false
	}
	return id, true
}

package reconcile

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/jafarshop/erpsync/internal/domain"
	"github.com/jafarshop/erpsync/internal/erp"
)

func (p *pass) applyProduct(rec erp.LineRecord) error {
	if rec.ProductID == "" {
		return fmt.Errorf("product line without product id")
	}

	line := p.matchProduct(rec)
	if line == nil {
		line = &domain.OrderLine{
			OrderID:     p.order.ID,
			Type:        domain.LineTypeProduct,
			ProductID:   rec.ProductID,
			VariantID:   rec.VariantID,
			UnitID:      rec.UnitID,
			ProductName: rec.ProductName,
			IsBOMPart:   rec.IsBOMPart,
		}
		if rec.IsBOMPart {
			if parentID, ok := parseLineID(rec.ParentLineID); ok && p.order.Line(parentID) != nil {
				line.ParentLineID = &parentID
			}
		}
		p.created(line)
	} else {
		p.result.Updated++
	}

	p.setQuantity(line, rec.Quantity, line.Quantity)
	if rec.UnitID != "" {
		line.UnitID = rec.UnitID
	}
	if rec.ProductName != "" {
		line.ProductName = rec.ProductName
	}
	applyPrices(line, rec)
	p.confirm(line)
	return nil
}

// matchProduct finds the local line a product record refers to: by line id,
// then by product identity among unconfirmed lines, then among the BOM parts
// of the record's parent line
func (p *pass) matchProduct(rec erp.LineRecord) *domain.OrderLine {
	if id, ok := parseLineID(rec.LineID); ok {
		if line := p.order.Line(id); line != nil && line.Type == domain.LineTypeProduct && !p.confirmed[line] {
			return line
		}
	}

	if !rec.IsBOMPart {
		// saved lines win so unsaved duplicates are left for the merge pass
		var unsaved *domain.OrderLine
		for _, line := range p.order.Lines {
			if line.IsBOMPart || !p.sameProduct(line, rec) {
				continue
			}
			if line.IsSaved() {
				return line
			}
			if unsaved == nil {
				unsaved = line
			}
		}
		return unsaved
	}

	if !p.settings.BOMEnabled {
		return nil
	}
	parentID, ok := parseLineID(rec.ParentLineID)
	if !ok {
		return nil
	}
	for _, part := range p.order.BOMParts(parentID) {
		if p.sameProduct(part, rec) {
			return part
		}
	}
	return nil
}

func (p *pass) sameProduct(line *domain.OrderLine, rec erp.LineRecord) bool {
	if line.Type != domain.LineTypeProduct || p.confirmed[line] {
		return false
	}
	if line.ProductID != rec.ProductID || line.VariantID != rec.VariantID {
		return false
	}
	return !p.settings.UnitPricing || line.UnitID == rec.UnitID
}

func (p *pass) applyNonProduct(rec erp.LineRecord) error {
	var parent *domain.OrderLine
	if rec.Type.AttachesToProduct() {
		parent = p.findParent(rec)
		if parent == nil {
			p.logger.Warn("No product line for ERP line; attaching to order",
				zap.String("order_id", p.order.ID.String()),
				zap.String("line_type", rec.Type.String()),
				zap.String("product_id", rec.ProductID),
				zap.String("discount_id", rec.DiscountID),
			)
		} else if !parent.IsSaved() {
			// the child stores the parent's id, so the parent needs one first
			if err := p.store.SaveLine(p.ctx, p.order, parent); err != nil {
				return fmt.Errorf("save parent line: %w", err)
			}
		}
	}

	line := p.matchChild(rec, parent)
	if line == nil {
		line = &domain.OrderLine{
			OrderID:     p.order.ID,
			Type:        rec.Type,
			ProductID:   rec.ProductID,
			VariantID:   rec.VariantID,
			UnitID:      rec.UnitID,
			ProductName: rec.ProductName,
			DiscountID:  rec.DiscountID,
		}
		if parent != nil {
			parentID := parent.ID
			line.ParentLineID = &parentID
		}
		p.created(line)
	} else {
		p.result.Updated++
	}

	p.setQuantity(line, rec.Quantity, 1)
	if rec.ProductName != "" {
		line.ProductName = rec.ProductName
	}
	applyPrices(line, rec)
	if line.Type.IsDiscount() {
		line.UnitPrice = line.UnitPrice.Negative()
		line.Price = line.Price.Negative()
	}
	p.confirm(line)
	return nil
}

// findParent prefers a product line with the record's exact variant over one
// that only matches the product
func (p *pass) findParent(rec erp.LineRecord) *domain.OrderLine {
	if rec.ProductID == "" {
		return nil
	}
	var fallback *domain.OrderLine
	for _, line := range p.order.Lines {
		if line.Type != domain.LineTypeProduct || line.IsBOMPart || line.ProductID != rec.ProductID {
			continue
		}
		if p.settings.UnitPricing && rec.UnitID != "" && line.UnitID != rec.UnitID {
			continue
		}
		if line.VariantID == rec.VariantID {
			return line
		}
		if fallback == nil {
			fallback = line
		}
	}
	return fallback
}

func (p *pass) matchChild(rec erp.LineRecord, parent *domain.OrderLine) *domain.OrderLine {
	if id, ok := parseLineID(rec.LineID); ok {
		if line := p.order.Line(id); line != nil && line.Type == rec.Type && !p.confirmed[line] {
			return line
		}
	}

	for _, line := range p.order.Lines {
		if line.Type != rec.Type || p.confirmed[line] || line.DiscountID != rec.DiscountID {
			continue
		}
		if parent != nil {
			if parent.IsSaved() && line.HasParent(parent.ID) {
				return line
			}
			continue
		}
		if line.ParentLineID == nil && line.ProductID == rec.ProductID {
			return line
		}
	}
	return nil
}

// deleteUnconfirmed removes saved lines the ERP did not return. Local discount
// lines survive on a completed order when discounts are not ERP controlled.
func (p *pass) deleteUnconfirmed() error {
	keepDiscounts := !p.settings.ERPControlsDiscount && p.order.Complete

	stale := make([]*domain.OrderLine, 0)
	for _, line := range p.order.Lines {
		if p.confirmed[line] || !line.IsSaved() {
			continue
		}
		if keepDiscounts && line.Type.IsDiscount() {
			continue
		}
		stale = append(stale, line)
	}

	for _, line := range stale {
		if err := p.store.DeleteLine(p.ctx, p.order, line); err != nil {
			return fmt.Errorf("delete line %s: %w", line.ID, err)
		}
		p.order.RemoveLine(line)
		p.result.Deleted++
		p.result.LinesChanged = true
	}

	// lines kept without their deleted parent are detached from it
	for _, line := range p.order.Lines {
		if line.ParentLineID != nil && p.order.Line(*line.ParentLineID) == nil {
			line.ParentLineID = nil
			p.result.LinesChanged = true
		}
	}
	return nil
}

// mergeDuplicates folds unsaved product lines into a saved line for the same
// product, variant and unit. BOM parts of the surviving line are scaled with it.
func (p *pass) mergeDuplicates() {
	pending := make([]*domain.OrderLine, 0)
	for _, line := range p.order.Lines {
		if !line.IsSaved() && mergeable(line) {
			pending = append(pending, line)
		}
	}

	for _, line := range pending {
		target := p.mergeTarget(line)
		if target == nil {
			continue
		}

		oldQty := target.Quantity
		newQty := oldQty + line.Quantity
		if oldQty != 0 {
			factor := newQty / oldQty
			target.Price = target.Price.Scale(factor)
			for _, part := range p.order.BOMParts(target.ID) {
				part.Quantity *= factor
				part.Price = part.Price.Scale(factor)
				part.RemotePriceAuthoritative = false
			}
		} else {
			target.Price = target.UnitPrice.Scale(newQty)
		}
		target.Quantity = newQty
		target.RemotePriceAuthoritative = false

		p.order.RemoveLine(line)
		p.result.Merged++
		p.result.LinesChanged = true
	}
}

func (p *pass) mergeTarget(line *domain.OrderLine) *domain.OrderLine {
	for _, candidate := range p.order.Lines {
		if candidate == line || !candidate.IsSaved() || !mergeable(candidate) {
			continue
		}
		if candidate.ProductID == line.ProductID &&
			candidate.VariantID == line.VariantID &&
			candidate.UnitID == line.UnitID {
			return candidate
		}
	}
	return nil
}

func mergeable(line *domain.OrderLine) bool {
	return line.Type == domain.LineTypeProduct && !line.IsBOMPart && line.DiscountID == ""
}

// reconcileShipping keeps the order total consistent with the locally
// configured shipping fee when the ERP does not control shipping
func (p *pass) reconcileShipping(resp *erp.Response) error {
	if p.settings.ERPControlsShipping {
		return nil
	}
	if p.override != nil && p.override.OverrideShipping(p.ctx, p.order, resp) {
		return nil
	}

	local := p.order.ShippingFee
	if p.shipping != nil {
		fee, err := p.shipping.CalculateShipping(p.ctx, p.order)
		if err != nil {
			return err
		}
		local = fee
		p.order.ShippingFee = fee
	}

	if !p.orderPriceApplied {
		return nil
	}
	remote, _ := resp.Order.ShippingFee.Price()
	if delta := local.Sub(remote); !delta.IsZero() {
		p.order.Price = p.order.Price.Add(delta)
	}
	return nil
}

package domain

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// Price holds the three price components of an amount
type Price struct {
	WithVAT    float64
	WithoutVAT float64
	VAT        float64
}

// Add returns the component-wise sum of two prices
func (p Price) Add(other Price) Price {
	return Price{
		WithVAT:    p.WithVAT + other.WithVAT,
		WithoutVAT: p.WithoutVAT + other.WithoutVAT,
		VAT:        p.VAT + other.VAT,
	}
}

// Sub returns the component-wise difference of two prices
func (p Price) Sub(other Price) Price {
	return Price{
		WithVAT:    p.WithVAT - other.WithVAT,
		WithoutVAT: p.WithoutVAT - other.WithoutVAT,
		VAT:        p.VAT - other.VAT,
	}
}

// Scale multiplies every component by factor
func (p Price) Scale(factor float64) Price {
	return Price{
		WithVAT:    p.WithVAT * factor,
		WithoutVAT: p.WithoutVAT * factor,
		VAT:        p.VAT * factor,
	}
}

// Negative returns the price with every component forced to a non-positive value
func (p Price) Negative() Price {
	return Price{
		WithVAT:    -math.Abs(p.WithVAT),
		WithoutVAT: -math.Abs(p.WithoutVAT),
		VAT:        -math.Abs(p.VAT),
	}
}

// IsZero reports whether every component is zero
func (p Price) IsZero() bool {
	return p.WithVAT == 0 && p.WithoutVAT == 0 && p.VAT == 0
}

// DerivePrice builds a consistent Price from up to three independently received
// components. Exactly two components are trusted and the third is rederived:
// withVAT+withoutVAT wins over withoutVAT+VAT, which wins over withVAT+VAT.
// A single known component is taken as is with the others zeroed. ok is false
// when no component is known.
func DerivePrice(withVAT, withoutVAT, vat *float64) (price Price, ok bool) {
	switch {
	case withVAT != nil && withoutVAT != nil:
		return Price{WithVAT: *withVAT, WithoutVAT: *withoutVAT, VAT: *withVAT - *withoutVAT}, true
	case withoutVAT != nil && vat != nil:
		return Price{WithVAT: *withoutVAT + *vat, WithoutVAT: *withoutVAT, VAT: *vat}, true
	case withVAT != nil && vat != nil:
		return Price{WithVAT: *withVAT, WithoutVAT: *withVAT - *vat, VAT: *vat}, true
	case withVAT != nil:
		return Price{WithVAT: *withVAT, WithoutVAT: *withVAT}, true
	case withoutVAT != nil:
		return Price{WithVAT: *withoutVAT, WithoutVAT: *withoutVAT}, true
	default:
		return Price{}, false
	}
}

// Complete builds a Price from the received components like DerivePrice, except
// that a lone component is paired with the matching component of p instead of
// zeroing the others: withVAT or withoutVAT keep p.VAT, VAT keeps p.WithoutVAT.
func (p Price) Complete(withVAT, withoutVAT, vat *float64) (Price, bool) {
	known := 0
	for _, c := range []*float64{withVAT, withoutVAT, vat} {
		if c != nil {
			known++
		}
	}
	if known != 1 {
		return DerivePrice(withVAT, withoutVAT, vat)
	}
	if vat != nil {
		base := p.WithoutVAT
		return DerivePrice(nil, &base, vat)
	}
	base := p.VAT
	if withoutVAT != nil {
		return DerivePrice(nil, withoutVAT, &base)
	}
	return DerivePrice(withVAT, nil, &base)
}

// Abs returns the price with every component made non-negative
func (p Price) Abs() Price {
	return Price{
		WithVAT:    math.Abs(p.WithVAT),
		WithoutVAT: math.Abs(p.WithoutVAT),
		VAT:        math.Abs(p.VAT),
	}
}

// OrderLine is a single line of an order. Discount and tax lines point at their
// product line through ParentLineID; BOM part lines are product lines whose
// ParentLineID points at the assembled product.
type OrderLine struct {
	ID           uuid.UUID
	OrderID      uuid.UUID
	ParentLineID *uuid.UUID
	Type         LineType
	ProductID    string
	VariantID    string
	UnitID       string
	ProductName  string
	DiscountID   string
	Quantity     float64
	UnitPrice    Price
	Price        Price
	// RemotePriceAuthoritative marks a line whose prices came from the ERP in
	// the current pass and must not be recomputed locally.
	RemotePriceAuthoritative bool
	IsBOMPart                bool
	CreatedAt                time.Time
	UpdatedAt                time.Time
}

// IsSaved reports whether the line has been persisted and carries an id
func (l *OrderLine) IsSaved() bool {
	return l.ID != uuid.Nil
}

// HasParent reports whether the line is attached to parentID
func (l *OrderLine) HasParent(parentID uuid.UUID) bool {
	return l.ParentLineID != nil && *l.ParentLineID == parentID
}

// Order is the local cart/order aggregate mirrored into the ERP
type Order struct {
	ID                 uuid.UUID
	ShopID             string
	CustomerID         string
	CustomerNumber     string
	ERPOrderID         string
	Currency           string
	Status             OrderStatus
	IsLedgerEntry      bool
	Complete           bool
	SyncFailed         bool
	Price              Price
	ShippingMethodCode string
	ShippingMethod     string
	ShippingFee        Price
	CustomFields       map[string]string
	Lines              []*OrderLine
	LastSyncedAt       *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Clone returns a deep copy of the order and its lines
func (o *Order) Clone() *Order {
	copied := *o
	if o.CustomFields != nil {
		copied.CustomFields = make(map[string]string, len(o.CustomFields))
		for k, v := range o.CustomFields {
			copied.CustomFields[k] = v
		}
	}
	if o.LastSyncedAt != nil {
		synced := *o.LastSyncedAt
		copied.LastSyncedAt = &synced
	}
	copied.Lines = make([]*OrderLine, 0, len(o.Lines))
	for _, line := range o.Lines {
		l := *line
		if line.ParentLineID != nil {
			parent := *line.ParentLineID
			l.ParentLineID = &parent
		}
		copied.Lines = append(copied.Lines, &l)
	}
	return &copied
}

// IsCart reports whether the order is still an editable cart
func (o *Order) IsCart() bool {
	return o.Status == OrderStatusCart || o.Status == ""
}

// Line returns the line with the given id
func (o *Order) Line(id uuid.UUID) *OrderLine {
	if id == uuid.Nil {
		return nil
	}
	for _, line := range o.Lines {
		if line.ID == id {
			return line
		}
	}
	return nil
}

// Children returns the lines attached to parentID
func (o *Order) Children(parentID uuid.UUID) []*OrderLine {
	var children []*OrderLine
	for _, line := range o.Lines {
		if line.HasParent(parentID) {
			children = append(children, line)
		}
	}
	return children
}

// BOMParts returns the bill-of-materials part lines of parentID
func (o *Order) BOMParts(parentID uuid.UUID) []*OrderLine {
	var parts []*OrderLine
	for _, line := range o.Lines {
		if line.IsBOMPart && line.HasParent(parentID) {
			parts = append(parts, line)
		}
	}
	return parts
}

// RemoveLine drops line from the order's line collection
func (o *Order) RemoveLine(line *OrderLine) {
	for i, l := range o.Lines {
		if l == line {
			o.Lines = append(o.Lines[:i], o.Lines[i+1:]...)
			return
		}
	}
}

// SyncSettings is the policy snapshot in force for a synchronization call
type SyncSettings struct {
	SkipLedgerOrders    bool
	QueueFailedOrders   bool
	SucceededState      OrderStatus
	FailedState         OrderStatus
	ERPControlsDiscount bool
	ERPControlsShipping bool
	UnitPricing         bool
	BOMEnabled          bool
	ThrowOnError        bool
	VolatileColumns     []string
}

// SyncContext carries everything a synchronization call needs to know about the
// caller. It replaces ambient lookups of the current user, shop and settings.
type SyncContext struct {
	// ActorKey scopes idempotency and throttling: the authenticated user id or an anonymous key
	ActorKey     string
	ShopID       string
	Currency     string
	UserFields   map[string]string
	Settings     SyncSettings
	ThrowOnError bool
	// DisableRetry turns off liveness and send retries for this call
	DisableRetry bool
}

// SyncResult is the outcome of Synchronize
type SyncResult struct {
	Status SyncStatus
	// Skipped is set when an unchanged request hash short-circuited the send
	Skipped bool
	Reason  string
	Err     error
}

// Attempted reports whether the ERP was actually contacted (or a cached success reused)
func (r *SyncResult) Attempted() bool {
	return r != nil && r.Status != SyncUnattempted
}

// EndpointHealthStatus is the cached liveness of a single endpoint
type EndpointHealthStatus struct {
	EndpointKey                 string
	LastChecked                 time.Time
	Reachable                   bool
	LastSuccessfulCommunication *time.Time
}

// OrderEvent represents an audit event for an order
type OrderEvent struct {
	ID        uuid.UUID
	OrderID   uuid.UUID
	EventType string
	EventData map[string]interface{} // JSONB
	CreatedAt time.Time
}

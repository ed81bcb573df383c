package domain

import "fmt"

// OrderStatus represents where an order is in its export lifecycle
type OrderStatus string

const (
	OrderStatusCart          OrderStatus = "CART"
	OrderStatusPendingExport OrderStatus = "PENDING_EXPORT"
	OrderStatusExported      OrderStatus = "EXPORTED"
	OrderStatusExportFailed  OrderStatus = "EXPORT_FAILED"
)

// IsValid checks if the order status is valid
func (s OrderStatus) IsValid() bool {
	switch s {
	case OrderStatusCart,
		OrderStatusPendingExport,
		OrderStatusExported,
		OrderStatusExportFailed:
		return true
	default:
		return false
	}
}

// CanTransitionTo checks if a status transition is valid
func (s OrderStatus) CanTransitionTo(newStatus OrderStatus) bool {
	switch s {
	case OrderStatusCart:
		return newStatus == OrderStatusPendingExport ||
			newStatus == OrderStatusExported ||
			newStatus == OrderStatusExportFailed
	case OrderStatusPendingExport:
		return newStatus == OrderStatusExported ||
			newStatus == OrderStatusExportFailed ||
			newStatus == OrderStatusCart
	case OrderStatusExportFailed:
		// queued orders are either downgraded back to a cart or retried
		return newStatus == OrderStatusCart ||
			newStatus == OrderStatusPendingExport ||
			newStatus == OrderStatusExported ||
			newStatus == OrderStatusExportFailed
	case OrderStatusExported:
		return false // Terminal state
	default:
		return false
	}
}

// LineType is the discriminator carried by every order line on the wire
type LineType int

const (
	LineTypeProduct         LineType = 0
	LineTypeOrderDiscount   LineType = 1
	LineTypeFixed           LineType = 2
	LineTypeProductDiscount LineType = 3
	LineTypeTax             LineType = 4
)

// IsDiscount reports whether the line reduces the order or a product line
func (t LineType) IsDiscount() bool {
	return t == LineTypeOrderDiscount || t == LineTypeProductDiscount
}

// AttachesToProduct reports whether the line hangs off a parent product line
func (t LineType) AttachesToProduct() bool {
	return t == LineTypeProductDiscount || t == LineTypeTax
}

func (t LineType) String() string {
	switch t {
	case LineTypeProduct:
		return "product"
	case LineTypeOrderDiscount:
		return "order_discount"
	case LineTypeFixed:
		return "fixed"
	case LineTypeProductDiscount:
		return "product_discount"
	case LineTypeTax:
		return "tax"
	default:
		return fmt.Sprintf("line_type(%d)", int(t))
	}
}

// SubmissionKind classifies why a synchronization is happening
type SubmissionKind string

const (
	SubmissionInteractiveCart SubmissionKind = "LiveOrderOrCart"
	SubmissionCreateOrder     SubmissionKind = "CreateOrder"
	SubmissionScheduled       SubmissionKind = "ScheduledTask"
	SubmissionCapture         SubmissionKind = "CaptureTask"
	SubmissionManual          SubmissionKind = "ManualSubmit"
	SubmissionTemplate        SubmissionKind = "OrderTemplate"
	SubmissionBackend         SubmissionKind = "Backend"
)

// IsValid checks if the submission kind is known
func (k SubmissionKind) IsValid() bool {
	switch k {
	case SubmissionInteractiveCart,
		SubmissionCreateOrder,
		SubmissionScheduled,
		SubmissionCapture,
		SubmissionManual,
		SubmissionTemplate,
		SubmissionBackend:
		return true
	default:
		return false
	}
}

// CreatesOrder reports whether the submission asks the ERP to create the order
func (k SubmissionKind) CreatesOrder() bool {
	return k == SubmissionCreateOrder || k == SubmissionScheduled ||
		k == SubmissionCapture || k == SubmissionManual
}

// IsForced reports whether the submission always reaches the ERP regardless of
// an unchanged request hash
func (k SubmissionKind) IsForced() bool {
	return k == SubmissionScheduled || k == SubmissionCapture || k == SubmissionManual
}

// SyncStatus is the tri-state outcome of a synchronization call
type SyncStatus int

const (
	// SyncUnattempted means no communication was attempted or warranted
	SyncUnattempted SyncStatus = iota
	SyncSucceeded
	SyncFailed
)

func (s SyncStatus) String() string {
	switch s {
	case SyncSucceeded:
		return "success"
	case SyncFailed:
		return "failure"
	default:
		return "unattempted"
	}
}

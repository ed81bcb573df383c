package errors

import (
	stderrors "errors"
	"fmt"

	"github.com/jafarshop/erpsync/internal/domain"
)

// Kind classifies a synchronization failure
type Kind string

const (
	KindConnection            Kind = "connection_error"
	KindTooManyRequests       Kind = "too_many_requests"
	KindServerRejected        Kind = "server_rejected"
	KindInvalidResponseFormat Kind = "invalid_response_format"
	KindLicenseInvalid        Kind = "license_invalid"
	KindReconciliation        Kind = "reconciliation_error"
	KindCancelled             Kind = "cancelled"
)

// Retryable reports whether the transport may try again after this kind of failure
func (k Kind) Retryable() bool {
	return k == KindConnection || k == KindInvalidResponseFormat
}

// SyncError is the error returned by every stage of a synchronization call
type SyncError struct {
	Kind       Kind
	Op         string
	StatusCode int
	Err        error
}

func (e *SyncError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Op, e.Kind)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// New creates a SyncError of the given kind
func New(kind Kind, op string, err error) *SyncError {
	return &SyncError{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the first SyncError in err's chain, or "" if none
func KindOf(err error) Kind {
	var syncErr *SyncError
	if stderrors.As(err, &syncErr) {
		return syncErr.Kind
	}
	return ""
}

// IsKind reports whether err carries a SyncError of the given kind
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// ErrNotFound is returned when a resource does not exist
type ErrNotFound struct {
	Resource string
	ID       string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ErrInvalidStateTransition is returned when an order status change is not allowed
type ErrInvalidStateTransition struct {
	From domain.OrderStatus
	To   domain.OrderStatus
}

func (e *ErrInvalidStateTransition) Error() string {
	return fmt.Sprintf("invalid state transition from %s to %s", e.From, e.To)
}

package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/jafarshop/erpsync/internal/domain"
)

// OrderRepository persists orders and their lines
type OrderRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	// Save upserts the order header and every line, assigning ids to unsaved lines
	Save(ctx context.Context, order *domain.Order) error
	SaveLine(ctx context.Context, order *domain.Order, line *domain.OrderLine) error
	DeleteLine(ctx context.Context, order *domain.Order, line *domain.OrderLine) error
}

// OrderEventRepository stores the audit trail of synchronization attempts
type OrderEventRepository interface {
	Create(ctx context.Context, event *domain.OrderEvent) error
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]*domain.OrderEvent, error)
}

type Repositories struct {
	Order      OrderRepository
	OrderEvent OrderEventRepository
}

// Package memory provides process-local repositories for tests and for running
// the sync engine without a database.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jafarshop/erpsync/internal/domain"
	"github.com/jafarshop/erpsync/internal/repository"
	"github.com/jafarshop/erpsync/pkg/errors"
)

// Store keeps deep copies of orders so callers cannot mutate stored state
type Store struct {
	mu     sync.RWMutex
	orders map[uuid.UUID]*domain.Order
	events map[uuid.UUID][]*domain.OrderEvent
}

func NewStore() *Store {
	return &Store{
		orders: make(map[uuid.UUID]*domain.Order),
		events: make(map[uuid.UUID][]*domain.OrderEvent),
	}
}

// Repositories exposes the store through the repository interfaces
func (s *Store) Repositories() *repository.Repositories {
	return &repository.Repositories{Order: s, OrderEvent: (*eventStore)(s)}
}

func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.orders[id]
	if !ok {
		return nil, &errors.ErrNotFound{Resource: "order", ID: id.String()}
	}
	return order.Clone(), nil
}

func (s *Store) Save(ctx context.Context, order *domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now
	for _, line := range order.Lines {
		stampLine(order, line, now)
	}

	s.orders[order.ID] = order.Clone()
	return nil
}

func (s *Store) SaveLine(ctx context.Context, order *domain.Order, line *domain.OrderLine) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stampLine(order, line, time.Now())

	stored, ok := s.orders[order.ID]
	if !ok {
		return nil
	}
	copied := *line
	for i, l := range stored.Lines {
		if l.ID == line.ID {
			stored.Lines[i] = &copied
			return nil
		}
	}
	stored.Lines = append(stored.Lines, &copied)
	return nil
}

func (s *Store) DeleteLine(ctx context.Context, order *domain.Order, line *domain.OrderLine) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.orders[order.ID]
	if !ok || !line.IsSaved() {
		return nil
	}
	for i, l := range stored.Lines {
		if l.ID == line.ID {
			stored.Lines = append(stored.Lines[:i], stored.Lines[i+1:]...)
			break
		}
	}
	return nil
}

type eventStore Store

func (e *eventStore) Create(ctx context.Context, event *domain.OrderEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	copied := *event
	e.events[event.OrderID] = append(e.events[event.OrderID], &copied)
	return nil
}

func (e *eventStore) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]*domain.OrderEvent, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	events := make([]*domain.OrderEvent, 0, len(e.events[orderID]))
	for _, ev := range e.events[orderID] {
		copied := *ev
		events = append(events, &copied)
	}
	return events, nil
}

// Helper functions

func stampLine(order *domain.Order, line *domain.OrderLine, now time.Time) {
	if line.ID == uuid.Nil {
		line.ID = uuid.New()
	}
	line.OrderID = order.ID
	if line.CreatedAt.IsZero() {
		line.CreatedAt = now
	}
	line.UpdatedAt = now
}

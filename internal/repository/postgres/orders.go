package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jafarshop/erpsync/internal/domain"
	"github.com/jafarshop/erpsync/pkg/errors"
)

// execer is satisfied by both *sql.DB and *sql.Tx
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

type orderRepository struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

// NewOrderRepository creates a new order repository
func NewOrderRepository(db *sql.DB, logger *zap.Logger) *orderRepository {
	return &orderRepository{
		db:     db,
		logger: logger,
		now:    time.Now,
	}
}

func (r *orderRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	query := `
		SELECT id, shop_id, customer_id, customer_number, erp_order_id, currency, status,
		       is_ledger_entry, complete, sync_failed,
		       price_with_vat, price_without_vat, price_vat,
		       shipping_method_code, shipping_method,
		       shipping_fee_with_vat, shipping_fee_without_vat, shipping_fee_vat,
		       custom_fields, last_synced_at, created_at, updated_at
		FROM orders
		WHERE id = $1
	`

	var order domain.Order
	var customerNumber, erpOrderID, shippingCode, shippingMethod sql.NullString
	var customFields []byte
	var lastSynced sql.NullTime

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&order.ID,
		&order.ShopID,
		&order.CustomerID,
		&customerNumber,
		&erpOrderID,
		&order.Currency,
		&order.Status,
		&order.IsLedgerEntry,
		&order.Complete,
		&order.SyncFailed,
		&order.Price.WithVAT,
		&order.Price.WithoutVAT,
		&order.Price.VAT,
		&shippingCode,
		&shippingMethod,
		&order.ShippingFee.WithVAT,
		&order.ShippingFee.WithoutVAT,
		&order.ShippingFee.VAT,
		&customFields,
		&lastSynced,
		&order.CreatedAt,
		&order.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, &errors.ErrNotFound{Resource: "order", ID: id.String()}
	}
	if err != nil {
		r.logger.Error("Failed to get order by ID", zap.Error(err))
		return nil, err
	}

	order.CustomerNumber = customerNumber.String
	order.ERPOrderID = erpOrderID.String
	order.ShippingMethodCode = shippingCode.String
	order.ShippingMethod = shippingMethod.String
	if lastSynced.Valid {
		order.LastSyncedAt = &lastSynced.Time
	}
	if len(customFields) > 0 {
		if err := json.Unmarshal(customFields, &order.CustomFields); err != nil {
			r.logger.Warn("Failed to decode order custom fields", zap.String("order_id", id.String()), zap.Error(err))
		}
	}

	lines, err := r.getLines(ctx, id)
	if err != nil {
		return nil, err
	}
	order.Lines = lines

	return &order, nil
}

func (r *orderRepository) getLines(ctx context.Context, orderID uuid.UUID) ([]*domain.OrderLine, error) {
	query := `
		SELECT id, order_id, parent_line_id, line_type, product_id, variant_id, unit_id,
		       product_name, discount_id, quantity,
		       unit_price_with_vat, unit_price_without_vat, unit_price_vat,
		       price_with_vat, price_without_vat, price_vat,
		       is_bom_part, created_at, updated_at
		FROM order_lines
		WHERE order_id = $1
		ORDER BY created_at, id
	`

	rows, err := r.db.QueryContext(ctx, query, orderID)
	if err != nil {
		r.logger.Error("Failed to query order lines", zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	var lines []*domain.OrderLine
	for rows.Next() {
		var line domain.OrderLine
		var parent uuid.NullUUID

		err := rows.Scan(
			&line.ID,
			&line.OrderID,
			&parent,
			&line.Type,
			&line.ProductID,
			&line.VariantID,
			&line.UnitID,
			&line.ProductName,
			&line.DiscountID,
			&line.Quantity,
			&line.UnitPrice.WithVAT,
			&line.UnitPrice.WithoutVAT,
			&line.UnitPrice.VAT,
			&line.Price.WithVAT,
			&line.Price.WithoutVAT,
			&line.Price.VAT,
			&line.IsBOMPart,
			&line.CreatedAt,
			&line.UpdatedAt,
		)
		if err != nil {
			r.logger.Error("Failed to scan order line", zap.Error(err))
			return nil, err
		}
		if parent.Valid {
			line.ParentLineID = &parent.UUID
		}
		lines = append(lines, &line)
	}

	return lines, rows.Err()
}

// Save writes the header and every line in one transaction
func (r *orderRepository) Save(ctx context.Context, order *domain.Order) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		r.logger.Error("Failed to begin order transaction", zap.Error(err))
		return err
	}
	defer tx.Rollback()

	if err := r.upsertOrder(ctx, tx, order); err != nil {
		return err
	}
	for _, line := range order.Lines {
		if err := r.upsertLine(ctx, tx, order, line); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		r.logger.Error("Failed to commit order", zap.Error(err))
		return err
	}
	return nil
}

func (r *orderRepository) SaveLine(ctx context.Context, order *domain.Order, line *domain.OrderLine) error {
	return r.upsertLine(ctx, r.db, order, line)
}

func (r *orderRepository) DeleteLine(ctx context.Context, order *domain.Order, line *domain.OrderLine) error {
	if !line.IsSaved() {
		return nil
	}

	_, err := r.db.ExecContext(ctx, `DELETE FROM order_lines WHERE id = $1 AND order_id = $2`, line.ID, order.ID)
	if err != nil {
		r.logger.Error("Failed to delete order line", zap.String("line_id", line.ID.String()), zap.Error(err))
		return err
	}
	return nil
}

func (r *orderRepository) upsertOrder(ctx context.Context, db execer, order *domain.Order) error {
	query := `
		INSERT INTO orders (id, shop_id, customer_id, customer_number, erp_order_id, currency, status,
		                    is_ledger_entry, complete, sync_failed,
		                    price_with_vat, price_without_vat, price_vat,
		                    shipping_method_code, shipping_method,
		                    shipping_fee_with_vat, shipping_fee_without_vat, shipping_fee_vat,
		                    custom_fields, last_synced_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
		ON CONFLICT (id) DO UPDATE SET
			customer_number = EXCLUDED.customer_number,
			erp_order_id = EXCLUDED.erp_order_id,
			currency = EXCLUDED.currency,
			status = EXCLUDED.status,
			complete = EXCLUDED.complete,
			sync_failed = EXCLUDED.sync_failed,
			price_with_vat = EXCLUDED.price_with_vat,
			price_without_vat = EXCLUDED.price_without_vat,
			price_vat = EXCLUDED.price_vat,
			shipping_method_code = EXCLUDED.shipping_method_code,
			shipping_method = EXCLUDED.shipping_method,
			shipping_fee_with_vat = EXCLUDED.shipping_fee_with_vat,
			shipping_fee_without_vat = EXCLUDED.shipping_fee_without_vat,
			shipping_fee_vat = EXCLUDED.shipping_fee_vat,
			custom_fields = EXCLUDED.custom_fields,
			last_synced_at = EXCLUDED.last_synced_at,
			updated_at = EXCLUDED.updated_at
	`

	now := r.now()
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now

	customFields, err := json.Marshal(order.CustomFields)
	if err != nil {
		return fmt.Errorf("failed to encode custom fields: %w", err)
	}

	_, err = db.ExecContext(ctx, query,
		order.ID,
		order.ShopID,
		order.CustomerID,
		nullString(order.CustomerNumber),
		nullString(order.ERPOrderID),
		order.Currency,
		string(order.Status),
		order.IsLedgerEntry,
		order.Complete,
		order.SyncFailed,
		order.Price.WithVAT,
		order.Price.WithoutVAT,
		order.Price.VAT,
		nullString(order.ShippingMethodCode),
		nullString(order.ShippingMethod),
		order.ShippingFee.WithVAT,
		order.ShippingFee.WithoutVAT,
		order.ShippingFee.VAT,
		customFields,
		order.LastSyncedAt,
		order.CreatedAt,
		order.UpdatedAt,
	)

	if err != nil {
		r.logger.Error("Failed to save order", zap.String("order_id", order.ID.String()), zap.Error(err))
		return err
	}
	return nil
}

func (r *orderRepository) upsertLine(ctx context.Context, db execer, order *domain.Order, line *domain.OrderLine) error {
	query := `
		INSERT INTO order_lines (id, order_id, parent_line_id, line_type, product_id, variant_id, unit_id,
		                         product_name, discount_id, quantity,
		                         unit_price_with_vat, unit_price_without_vat, unit_price_vat,
		                         price_with_vat, price_without_vat, price_vat,
		                         is_bom_part, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		ON CONFLICT (id) DO UPDATE SET
			parent_line_id = EXCLUDED.parent_line_id,
			unit_id = EXCLUDED.unit_id,
			product_name = EXCLUDED.product_name,
			quantity = EXCLUDED.quantity,
			unit_price_with_vat = EXCLUDED.unit_price_with_vat,
			unit_price_without_vat = EXCLUDED.unit_price_without_vat,
			unit_price_vat = EXCLUDED.unit_price_vat,
			price_with_vat = EXCLUDED.price_with_vat,
			price_without_vat = EXCLUDED.price_without_vat,
			price_vat = EXCLUDED.price_vat,
			is_bom_part = EXCLUDED.is_bom_part,
			updated_at = EXCLUDED.updated_at
	`

	now := r.now()
	if line.ID == uuid.Nil {
		line.ID = uuid.New()
	}
	line.OrderID = order.ID
	if line.CreatedAt.IsZero() {
		line.CreatedAt = now
	}
	line.UpdatedAt = now

	var parent uuid.NullUUID
	if line.ParentLineID != nil {
		parent = uuid.NullUUID{UUID: *line.ParentLineID, Valid: true}
	}

	_, err := db.ExecContext(ctx, query,
		line.ID,
		line.OrderID,
		parent,
		int(line.Type),
		line.ProductID,
		line.VariantID,
		line.UnitID,
		line.ProductName,
		line.DiscountID,
		line.Quantity,
		line.UnitPrice.WithVAT,
		line.UnitPrice.WithoutVAT,
		line.UnitPrice.VAT,
		line.Price.WithVAT,
		line.Price.WithoutVAT,
		line.Price.VAT,
		line.IsBOMPart,
		line.CreatedAt,
		line.UpdatedAt,
	)

	if err != nil {
		r.logger.Error("Failed to save order line", zap.String("order_id", order.ID.String()), zap.Error(err))
		return err
	}
	return nil
}

// Helper functions

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

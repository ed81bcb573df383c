package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jafarshop/erpsync/internal/domain"
	"github.com/jafarshop/erpsync/internal/repository"
	"github.com/jafarshop/erpsync/pkg/errors"
)

// OrderResponse represents the order response
type OrderResponse struct {
	ID                 string              `json:"id"`
	ShopID             string              `json:"shop_id,omitempty"`
	CustomerNumber     string              `json:"customer_number,omitempty"`
	ERPOrderID         string              `json:"erp_order_id,omitempty"`
	Status             domain.OrderStatus  `json:"status"`
	Currency           string              `json:"currency"`
	Complete           bool                `json:"complete"`
	SyncFailed         bool                `json:"sync_failed"`
	Price              PriceResponse       `json:"price"`
	ShippingMethodCode string              `json:"shipping_method_code,omitempty"`
	ShippingFee        PriceResponse       `json:"shipping_fee"`
	Lines              []OrderLineResponse `json:"lines"`
	LastSyncedAt       *string             `json:"last_synced_at,omitempty"`
	UpdatedAt          string              `json:"updated_at"`
}

type PriceResponse struct {
	WithVAT    float64 `json:"with_vat"`
	WithoutVAT float64 `json:"without_vat"`
	VAT        float64 `json:"vat"`
}

type OrderLineResponse struct {
	ID           string        `json:"id"`
	ParentLineID *string       `json:"parent_line_id,omitempty"`
	Type         string        `json:"type"`
	ProductID    string        `json:"product_id,omitempty"`
	VariantID    string        `json:"variant_id,omitempty"`
	UnitID       string        `json:"unit_id,omitempty"`
	DiscountID   string        `json:"discount_id,omitempty"`
	Quantity     float64       `json:"quantity"`
	UnitPrice    PriceResponse `json:"unit_price"`
	Price        PriceResponse `json:"price"`
	IsBOMPart    bool          `json:"is_bom_part,omitempty"`
}

// OrderEventResponse is one audit trail entry
type OrderEventResponse struct {
	EventType string                 `json:"event_type"`
	EventData map[string]interface{} `json:"event_data,omitempty"`
	CreatedAt string                 `json:"created_at"`
}

// HandleGetOrder handles GET /v1/orders/:id
func HandleGetOrder(repos *repository.Repositories, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		orderID, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order ID"})
			return
		}

		order, err := repos.Order.GetByID(c.Request.Context(), orderID)
		if err != nil {
			if _, ok := err.(*errors.ErrNotFound); ok {
				c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
				return
			}
			logger.Error("Failed to get order", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}

		c.JSON(http.StatusOK, orderResponse(order))
	}
}

// HandleListOrderEvents handles GET /v1/orders/:id/events
func HandleListOrderEvents(repos *repository.Repositories, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		orderID, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order ID"})
			return
		}

		events, err := repos.OrderEvent.ListByOrder(c.Request.Context(), orderID)
		if err != nil {
			logger.Error("Failed to list order events", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}

		resp := make([]OrderEventResponse, len(events))
		for i, ev := range events {
			resp[i] = OrderEventResponse{
				EventType: ev.EventType,
				EventData: ev.EventData,
				CreatedAt: ev.CreatedAt.Format(time.RFC3339),
			}
		}
		c.JSON(http.StatusOK, gin.H{"events": resp})
	}
}

func orderResponse(order *domain.Order) OrderResponse {
	lines := make([]OrderLineResponse, len(order.Lines))
	for i, line := range order.Lines {
		lines[i] = OrderLineResponse{
			ID:         line.ID.String(),
			Type:       line.Type.String(),
			ProductID:  line.ProductID,
			VariantID:  line.VariantID,
			UnitID:     line.UnitID,
			DiscountID: line.DiscountID,
			Quantity:   line.Quantity,
			UnitPrice:  priceResponse(line.UnitPrice),
			Price:      priceResponse(line.Price),
			IsBOMPart:  line.IsBOMPart,
		}
		if line.ParentLineID != nil {
			parent := line.ParentLineID.String()
			lines[i].ParentLineID = &parent
		}
	}

	resp := OrderResponse{
		ID:                 order.ID.String(),
		ShopID:             order.ShopID,
		CustomerNumber:     order.CustomerNumber,
		ERPOrderID:         order.ERPOrderID,
		Status:             order.Status,
		Currency:           order.Currency,
		Complete:           order.Complete,
		SyncFailed:         order.SyncFailed,
		Price:              priceResponse(order.Price),
		ShippingMethodCode: order.ShippingMethodCode,
		ShippingFee:        priceResponse(order.ShippingFee),
		Lines:              lines,
		UpdatedAt:          order.UpdatedAt.Format(time.RFC3339),
	}
	if order.LastSyncedAt != nil {
		synced := order.LastSyncedAt.Format(time.RFC3339)
		resp.LastSyncedAt = &synced
	}
	return resp
}

func priceResponse(p domain.Price) PriceResponse {
	return PriceResponse{WithVAT: p.WithVAT, WithoutVAT: p.WithoutVAT, VAT: p.VAT}
}

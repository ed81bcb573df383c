package handlers

import (
	"context"
	stderrors "errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jafarshop/erpsync/internal/api/middleware"
	"github.com/jafarshop/erpsync/internal/config"
	"github.com/jafarshop/erpsync/internal/domain"
	"github.com/jafarshop/erpsync/pkg/errors"
)

// Syncer synchronizes a stored order
type Syncer interface {
	SynchronizeByID(ctx context.Context, sc domain.SyncContext, orderID uuid.UUID, kind domain.SubmissionKind) (*domain.Order, *domain.SyncResult, error)
}

// SyncOrderRequest represents the sync order payload
type SyncOrderRequest struct {
	Kind         domain.SubmissionKind `json:"kind"`
	ShopID       string                `json:"shop_id"`
	Currency     string                `json:"currency"`
	UserFields   map[string]string     `json:"user_fields"`
	DisableRetry bool                  `json:"disable_retry"`
}

// SyncOrderResponse represents the outcome of a sync
type SyncOrderResponse struct {
	OrderID    string             `json:"order_id"`
	Result     string             `json:"result"`
	Skipped    bool               `json:"skipped"`
	Reason     string             `json:"reason,omitempty"`
	Error      string             `json:"error,omitempty"`
	ErrorKind  string             `json:"error_kind,omitempty"`
	Status     domain.OrderStatus `json:"status"`
	ERPOrderID string             `json:"erp_order_id,omitempty"`
}

// HandleSyncOrder handles POST /v1/orders/:id/sync
func HandleSyncOrder(cfg *config.Config, syncer Syncer, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := middleware.GetActorKey(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		orderID, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order ID"})
			return
		}

		var req SyncOrderRequest
		if c.Request.ContentLength != 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusUnprocessableEntity, gin.H{
					"error":   "validation failed",
					"details": err.Error(),
				})
				return
			}
		}
		if req.Kind == "" {
			req.Kind = domain.SubmissionInteractiveCart
		}
		if !req.Kind.IsValid() {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "unknown submission kind"})
			return
		}

		sc := domain.SyncContext{
			ActorKey:     actor,
			ShopID:       req.ShopID,
			Currency:     req.Currency,
			UserFields:   req.UserFields,
			Settings:     cfg.Sync,
			DisableRetry: req.DisableRetry,
		}

		order, result, err := syncer.SynchronizeByID(c.Request.Context(), sc, orderID, req.Kind)
		if err != nil {
			var notFound *errors.ErrNotFound
			if stderrors.As(err, &notFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
				return
			}
			if result == nil {
				logger.Error("Failed to sync order", zap.String("order_id", orderID.String()), zap.Error(err))
				c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
				return
			}
		}

		resp := SyncOrderResponse{
			OrderID:    orderID.String(),
			Result:     result.Status.String(),
			Skipped:    result.Skipped,
			Reason:     result.Reason,
			Status:     order.Status,
			ERPOrderID: order.ERPOrderID,
		}
		if result.Err != nil {
			resp.Error = result.Err.Error()
			resp.ErrorKind = string(errors.KindOf(result.Err))
		}

		status := http.StatusOK
		if result.Status == domain.SyncFailed {
			status = http.StatusBadGateway
		}
		c.JSON(status, resp)
	}
}

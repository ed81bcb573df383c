package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jafarshop/erpsync/internal/domain"
	"github.com/jafarshop/erpsync/internal/transport"
)

// EndpointDirectory lists the configured ERP endpoints
type EndpointDirectory interface {
	All() []transport.Endpoint
	ByID(id string) (transport.Endpoint, bool)
}

// HealthChecker exposes the endpoint health cache
type HealthChecker interface {
	GetStatus(key string) (domain.EndpointHealthStatus, bool)
	Probe(ctx context.Context, ep transport.Endpoint) bool
}

// EndpointResponse represents one endpoint with its cached health
type EndpointResponse struct {
	ID                          string     `json:"id"`
	URL                         string     `json:"url"`
	Checked                     bool       `json:"checked"`
	Reachable                   bool       `json:"reachable"`
	LastChecked                 *time.Time `json:"last_checked,omitempty"`
	LastSuccessfulCommunication *time.Time `json:"last_successful_communication,omitempty"`
}

// HandleListEndpoints handles GET /v1/endpoints
func HandleListEndpoints(endpoints EndpointDirectory, health HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		all := endpoints.All()
		resp := make([]EndpointResponse, 0, len(all))
		for _, ep := range all {
			resp = append(resp, endpointResponse(ep, health))
		}
		c.JSON(http.StatusOK, gin.H{"endpoints": resp})
	}
}

// HandleProbeEndpoint handles POST /v1/endpoints/:id/probe
func HandleProbeEndpoint(endpoints EndpointDirectory, health HealthChecker, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ep, ok := endpoints.ByID(c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
			return
		}

		reachable := health.Probe(c.Request.Context(), ep)
		logger.Info("ERP endpoint probed",
			zap.String("endpoint", ep.ID),
			zap.Bool("reachable", reachable),
		)
		c.JSON(http.StatusOK, endpointResponse(ep, health))
	}
}

func endpointResponse(ep transport.Endpoint, health HealthChecker) EndpointResponse {
	resp := EndpointResponse{ID: ep.ID, URL: ep.URL}
	if status, ok := health.GetStatus(ep.Key()); ok {
		checked := status.LastChecked
		resp.Checked = true
		resp.Reachable = status.Reachable
		resp.LastChecked = &checked
		resp.LastSuccessfulCommunication = status.LastSuccessfulCommunication
	}
	return resp
}

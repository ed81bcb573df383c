package transport

import (
	"fmt"

	"github.com/jafarshop/erpsync/internal/config"
	"github.com/jafarshop/erpsync/internal/domain"
)

// Endpoint identifies one remote connector URL
type Endpoint struct {
	ID         string
	URL        string
	InstanceID string
}

// Key is the identity used by the health cache
func (e Endpoint) Key() string {
	return e.ID
}

// RuleResolver picks the endpoint for an order from the configured routes.
// Routes are evaluated in order; the first match wins, otherwise the default
// endpoint is used.
type RuleResolver struct {
	cfg config.ERPConfig
}

// NewRuleResolver creates a resolver over the configured endpoints and routes
func NewRuleResolver(cfg config.ERPConfig) *RuleResolver {
	return &RuleResolver{cfg: cfg}
}

// Resolve returns the endpoint that should receive the order
func (r *RuleResolver) Resolve(sc domain.SyncContext, order *domain.Order) (Endpoint, error) {
	for _, route := range r.cfg.Routes {
		if r.matches(route, sc, order) {
			if ep, ok := r.ByID(route.EndpointID); ok {
				return ep, nil
			}
		}
	}

	ep, ok := r.ByID(r.cfg.DefaultEndpointID)
	if !ok {
		return Endpoint{}, fmt.Errorf("default endpoint %q is not configured", r.cfg.DefaultEndpointID)
	}
	return ep, nil
}

func (r *RuleResolver) matches(route config.RouteConfig, sc domain.SyncContext, order *domain.Order) bool {
	if route.Key == "shop" {
		shopID := sc.ShopID
		if order != nil && order.ShopID != "" {
			shopID = order.ShopID
		}
		return shopID == route.Value
	}
	if order != nil {
		if v, ok := order.CustomFields[route.Key]; ok {
			return v == route.Value
		}
	}
	v, ok := sc.UserFields[route.Key]
	return ok && v == route.Value
}

// ByID returns the configured endpoint with the given id
func (r *RuleResolver) ByID(id string) (Endpoint, bool) {
	ep, ok := r.cfg.Endpoint(id)
	if !ok {
		return Endpoint{}, false
	}
	return Endpoint{ID: ep.ID, URL: ep.URL, InstanceID: r.cfg.InstanceID}, true
}

// All returns every configured endpoint
func (r *RuleResolver) All() []Endpoint {
	endpoints := make([]Endpoint, 0, len(r.cfg.Endpoints))
	for _, ep := range r.cfg.Endpoints {
		endpoints = append(endpoints, Endpoint{ID: ep.ID, URL: ep.URL, InstanceID: r.cfg.InstanceID})
	}
	return endpoints
}

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/jafarshop/erpsync/internal/domain"
)

type Config struct {
	Port        string
	Environment string
	Database    DatabaseConfig
	ERP         ERPConfig
	Sync        SyncConfig
	API         APIConfig
	LogLevel    string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// EndpointConfig is one remote ERP connector URL
type EndpointConfig struct {
	ID  string
	URL string
}

// RouteConfig sends orders matching Key=Value to EndpointID. Key "shop" matches
// the order's shop id; any other key matches an order or user custom field.
type RouteConfig struct {
	EndpointID string
	Key        string
	Value      string
}

type ERPConfig struct {
	Endpoints         []EndpointConfig
	DefaultEndpointID string
	InstanceID        string
	Routes            []RouteConfig
	MaxRetryCount     int
	RetryInterval     time.Duration
	ConnectionTimeout time.Duration
	ProbeTimeout      time.Duration
	HealthTTL         time.Duration
	ThrottleCooldown  time.Duration
	LicenseKey        string
	LicenseKeyHash    string
	LicensedHosts     []string
}

// Endpoint returns the endpoint with the given id
func (c ERPConfig) Endpoint(id string) (EndpointConfig, bool) {
	for _, ep := range c.Endpoints {
		if ep.ID == id {
			return ep, true
		}
	}
	return EndpointConfig{}, false
}

// DefaultVolatileColumns change on every request or after the first save and
// are left out of the idempotency hash
const DefaultVolatileColumns = "RequestId,OrderDate,OrderModified,OrderLineModified,OrderLineId,OrderLineParentLineId"

// SyncConfig is the settings snapshot handed to every synchronization call
type SyncConfig = domain.SyncSettings

type APIConfig struct {
	KeyHash string
}

func Load() (*Config, error) {
	viper.SetConfigType("env")
	viper.SetConfigName(".env")
	viper.AddConfigPath(".")
	viper.AddConfigPath("..")
	viper.AddConfigPath("../..")

	// Set defaults
	viper.SetDefault("PORT", "8080")
	viper.SetDefault("ENVIRONMENT", "development")
	viper.SetDefault("DB_PORT", "5432")
	viper.SetDefault("DB_SSLMODE", "disable")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("ERP_INSTANCE_ID", "default")
	viper.SetDefault("ERP_MAX_RETRY_COUNT", 3)
	viper.SetDefault("ERP_RETRY_INTERVAL", "500ms")
	viper.SetDefault("ERP_CONNECTION_TIMEOUT", "20s")
	viper.SetDefault("ERP_PROBE_TIMEOUT", "5s")
	viper.SetDefault("ERP_HEALTH_TTL", "60s")
	viper.SetDefault("ERP_THROTTLE_COOLDOWN", "60s")
	viper.SetDefault("SYNC_SKIP_LEDGER_ORDERS", true)
	viper.SetDefault("SYNC_QUEUE_FAILED_ORDERS", true)
	viper.SetDefault("SYNC_ORDER_STATE_SUCCEEDED", string(domain.OrderStatusExported))
	viper.SetDefault("SYNC_ORDER_STATE_FAILED", string(domain.OrderStatusExportFailed))
	viper.SetDefault("SYNC_ERP_CONTROLS_DISCOUNTS", true)
	viper.SetDefault("SYNC_ERP_CONTROLS_SHIPPING", false)
	viper.SetDefault("SYNC_VOLATILE_COLUMNS", DefaultVolatileColumns)

	// Read from environment variables
	viper.AutomaticEnv()

	// Try to read .env file (optional)
	if err := viper.ReadInConfig(); err != nil {
		// It's okay if .env doesn't exist, we'll use env vars
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	endpoints, err := ParseEndpoints(getEnvOrViper("ERP_ENDPOINTS", ""))
	if err != nil {
		return nil, err
	}
	routes, err := ParseRoutes(getEnvOrViper("ERP_ROUTES", ""))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Port:        getEnvOrViper("PORT", "8080"),
		Environment: getEnvOrViper("ENVIRONMENT", "development"),
		Database: DatabaseConfig{
			Host:     getEnvOrViper("DB_HOST", "localhost"),
			Port:     getEnvOrViper("DB_PORT", "5432"),
			User:     getEnvOrViper("DB_USER", "postgres"),
			Password: getEnvOrViper("DB_PASSWORD", "postgres"),
			DBName:   getEnvOrViper("DB_NAME", "erpsync"),
			SSLMode:  getEnvOrViper("DB_SSLMODE", "disable"),
		},
		ERP: ERPConfig{
			Endpoints:         endpoints,
			DefaultEndpointID: getEnvOrViper("ERP_DEFAULT_ENDPOINT", ""),
			InstanceID:        getEnvOrViper("ERP_INSTANCE_ID", "default"),
			Routes:            routes,
			MaxRetryCount:     viper.GetInt("ERP_MAX_RETRY_COUNT"),
			RetryInterval:     viper.GetDuration("ERP_RETRY_INTERVAL"),
			ConnectionTimeout: viper.GetDuration("ERP_CONNECTION_TIMEOUT"),
			ProbeTimeout:      viper.GetDuration("ERP_PROBE_TIMEOUT"),
			HealthTTL:         viper.GetDuration("ERP_HEALTH_TTL"),
			ThrottleCooldown:  viper.GetDuration("ERP_THROTTLE_COOLDOWN"),
			LicenseKey:        getEnvOrViper("ERP_LICENSE_KEY", ""),
			LicenseKeyHash:    getEnvOrViper("ERP_LICENSE_KEY_HASH", ""),
			LicensedHosts:     splitList(getEnvOrViper("ERP_LICENSED_HOSTS", "")),
		},
		Sync: SyncConfig{
			SkipLedgerOrders:    viper.GetBool("SYNC_SKIP_LEDGER_ORDERS"),
			QueueFailedOrders:   viper.GetBool("SYNC_QUEUE_FAILED_ORDERS"),
			SucceededState:      domain.OrderStatus(getEnvOrViper("SYNC_ORDER_STATE_SUCCEEDED", string(domain.OrderStatusExported))),
			FailedState:         domain.OrderStatus(getEnvOrViper("SYNC_ORDER_STATE_FAILED", string(domain.OrderStatusExportFailed))),
			ERPControlsDiscount: viper.GetBool("SYNC_ERP_CONTROLS_DISCOUNTS"),
			ERPControlsShipping: viper.GetBool("SYNC_ERP_CONTROLS_SHIPPING"),
			UnitPricing:         viper.GetBool("SYNC_UNIT_PRICING"),
			BOMEnabled:          viper.GetBool("SYNC_BOM_ENABLED"),
			ThrowOnError:        viper.GetBool("SYNC_THROW_ON_ERROR"),
			VolatileColumns:     splitList(getEnvOrViper("SYNC_VOLATILE_COLUMNS", "")),
		},
		API: APIConfig{
			KeyHash: getEnvOrViper("API_KEY_HASH", ""),
		},
		LogLevel: getEnvOrViper("LOG_LEVEL", "info"),
	}

	if cfg.ERP.DefaultEndpointID == "" && len(cfg.ERP.Endpoints) > 0 {
		cfg.ERP.DefaultEndpointID = cfg.ERP.Endpoints[0].ID
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate ensures configuration is valid
func (c *Config) Validate() error {
	if len(c.ERP.Endpoints) == 0 {
		return fmt.Errorf("ERP_ENDPOINTS is required")
	}
	if _, ok := c.ERP.Endpoint(c.ERP.DefaultEndpointID); !ok {
		return fmt.Errorf("ERP_DEFAULT_ENDPOINT %q is not a configured endpoint", c.ERP.DefaultEndpointID)
	}
	for _, route := range c.ERP.Routes {
		if _, ok := c.ERP.Endpoint(route.EndpointID); !ok {
			return fmt.Errorf("ERP_ROUTES references unknown endpoint %q", route.EndpointID)
		}
	}
	if c.ERP.MaxRetryCount < 1 {
		return fmt.Errorf("ERP_MAX_RETRY_COUNT must be at least 1")
	}
	if c.ERP.ConnectionTimeout <= 0 {
		return fmt.Errorf("ERP_CONNECTION_TIMEOUT must be positive")
	}
	if !c.Sync.SucceededState.IsValid() {
		return fmt.Errorf("SYNC_ORDER_STATE_SUCCEEDED %q is not a valid order status", c.Sync.SucceededState)
	}
	if !c.Sync.FailedState.IsValid() {
		return fmt.Errorf("SYNC_ORDER_STATE_FAILED %q is not a valid order status", c.Sync.FailedState)
	}
	return nil
}

// ParseEndpoints parses "id=url;id2=url2"
func ParseEndpoints(raw string) ([]EndpointConfig, error) {
	var endpoints []EndpointConfig
	for _, entry := range strings.Split(raw, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		id, url, ok := strings.Cut(entry, "=")
		if !ok || strings.TrimSpace(id) == "" || strings.TrimSpace(url) == "" {
			return nil, fmt.Errorf("invalid ERP_ENDPOINTS entry %q, expected id=url", entry)
		}
		endpoints = append(endpoints, EndpointConfig{ID: strings.TrimSpace(id), URL: strings.TrimSpace(url)})
	}
	return endpoints, nil
}

// ParseRoutes parses "endpointID:key=value,endpointID2:key2=value2"
func ParseRoutes(raw string) ([]RouteConfig, error) {
	var routes []RouteConfig
	for _, entry := range splitList(raw) {
		endpointID, rule, ok := strings.Cut(entry, ":")
		if !ok {
			return nil, fmt.Errorf("invalid ERP_ROUTES entry %q, expected endpoint:key=value", entry)
		}
		key, value, ok := strings.Cut(rule, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid ERP_ROUTES entry %q, expected endpoint:key=value", entry)
		}
		routes = append(routes, RouteConfig{EndpointID: endpointID, Key: key, Value: value})
	}
	return routes, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvOrViper(key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	if viper.IsSet(key) {
		return viper.GetString(key)
	}
	return defaultValue
}

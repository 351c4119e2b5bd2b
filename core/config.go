package core

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	BalanceModeCheck = "check"
	BalanceModeDebit = "debit"

	IdempotencyFailOpen   = "fail_open"
	IdempotencyFailClosed = "fail_closed"

	DatabaseDriverPostgres = "postgres"
	DatabaseDriverSQLite   = "sqlite3"
)

type HTTPConfig struct {
	Addr           string        `koanf:"addr" mapstructure:"addr"`
	MaxBodyBytes   int64         `koanf:"max_body_bytes" mapstructure:"max_body_bytes"`
	RequestTimeout time.Duration `koanf:"request_timeout" mapstructure:"request_timeout"`
	RateLimitRPS   float64       `koanf:"rate_limit_rps" mapstructure:"rate_limit_rps"`
	RateLimitBurst int           `koanf:"rate_limit_burst" mapstructure:"rate_limit_burst"`
}

type AuthConfig struct {
	// JWTSecret verifies inbound bearer tokens.
	JWTSecret string `koanf:"jwt_secret" mapstructure:"jwt_secret"`
	// HMACSecret keys body signatures in both directions.
	HMACSecret      string `koanf:"hmac_secret" mapstructure:"hmac_secret"`
	ServiceName     string `koanf:"service_name" mapstructure:"service_name"`
	SignatureHeader string `koanf:"signature_header" mapstructure:"signature_header"`
	// ServiceJWTSecret mints outbound bearer tokens. Empty disables minting.
	ServiceJWTSecret string        `koanf:"service_jwt_secret" mapstructure:"service_jwt_secret"`
	TokenTTL         time.Duration `koanf:"token_ttl" mapstructure:"token_ttl"`
	ClockSkew        time.Duration `koanf:"clock_skew" mapstructure:"clock_skew"`
}

type WorkflowConfig struct {
	URL           string        `koanf:"url" mapstructure:"url"`
	Timeout       time.Duration `koanf:"timeout" mapstructure:"timeout"`
	PublicBaseURL string        `koanf:"public_base_url" mapstructure:"public_base_url"`
	CallbackPath  string        `koanf:"callback_path" mapstructure:"callback_path"`
}

type BalanceConfig struct {
	Mode                    string           `koanf:"mode" mapstructure:"mode"`
	Costs                   map[string]int64 `koanf:"costs" mapstructure:"costs"`
	EstimatedProcessingTime string           `koanf:"estimated_processing_time" mapstructure:"estimated_processing_time"`
}

// Cost returns the estimated cost for an event type.
func (c BalanceConfig) Cost(event EventType) int64 {
	if cost, ok := c.Costs[string(event)]; ok {
		return cost
	}
	return c.Costs["default"]
}

type IdempotencyConfig struct {
	FailurePolicy string `koanf:"failure_policy" mapstructure:"failure_policy"`
}

type ThreadsConfig struct {
	DefaultType string        `koanf:"default_type" mapstructure:"default_type"`
	CacheTTL    time.Duration `koanf:"cache_ttl" mapstructure:"cache_ttl"`
}

type DatabaseConfig struct {
	Driver      string        `koanf:"driver" mapstructure:"driver"`
	DSN         string        `koanf:"dsn" mapstructure:"dsn"`
	Debug       bool          `koanf:"debug" mapstructure:"debug"`
	PingTimeout time.Duration `koanf:"ping_timeout" mapstructure:"ping_timeout"`
}

type Config struct {
	ServiceName string            `koanf:"service_name" mapstructure:"service_name"`
	Version     string            `koanf:"version" mapstructure:"version"`
	HTTP        HTTPConfig        `koanf:"http" mapstructure:"http"`
	Auth        AuthConfig        `koanf:"auth" mapstructure:"auth"`
	Workflow    WorkflowConfig    `koanf:"workflow" mapstructure:"workflow"`
	Balance     BalanceConfig     `koanf:"balance" mapstructure:"balance"`
	Idempotency IdempotencyConfig `koanf:"idempotency" mapstructure:"idempotency"`
	Threads     ThreadsConfig     `koanf:"threads" mapstructure:"threads"`
	Database    DatabaseConfig    `koanf:"database" mapstructure:"database"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "ingress-gateway",
		Version:     "dev",
		HTTP: HTTPConfig{
			Addr:           ":8080",
			MaxBodyBytes:   1 << 20,
			RequestTimeout: 30 * time.Second,
		},
		Auth: AuthConfig{
			ServiceName:     "ingress-gateway",
			SignatureHeader: "X-Webhook-Signature",
			TokenTTL:        5 * time.Minute,
			ClockSkew:       30 * time.Second,
		},
		Workflow: WorkflowConfig{
			Timeout:      10 * time.Second,
			CallbackPath: "/v1/ingress/callbacks",
		},
		Balance: BalanceConfig{
			Mode: BalanceModeDebit,
			Costs: map[string]int64{
				string(EventMessageCreated):   1,
				string(EventBlackboardUpdate): 0,
				string(EventTaskUpdate):       0,
			},
			EstimatedProcessingTime: "30s",
		},
		Idempotency: IdempotencyConfig{
			FailurePolicy: IdempotencyFailOpen,
		},
		Threads: ThreadsConfig{
			DefaultType: "chat",
			CacheTTL:    time.Minute,
		},
		Database: DatabaseConfig{
			Driver:      DatabaseDriverSQLite,
			DSN:         "file:ingress.db?cache=shared&_foreign_keys=on",
			PingTimeout: 5 * time.Second,
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	switch strings.TrimSpace(c.Balance.Mode) {
	case BalanceModeCheck, BalanceModeDebit:
	default:
		return fmt.Errorf("core: balance.mode must be %q or %q", BalanceModeCheck, BalanceModeDebit)
	}
	for event, cost := range c.Balance.Costs {
		if cost < 0 {
			return fmt.Errorf("core: balance.costs[%s] must be >= 0", event)
		}
	}
	switch strings.TrimSpace(c.Idempotency.FailurePolicy) {
	case IdempotencyFailOpen, IdempotencyFailClosed:
	default:
		return fmt.Errorf("core: idempotency.failure_policy must be %q or %q", IdempotencyFailOpen, IdempotencyFailClosed)
	}
	if strings.TrimSpace(c.Auth.SignatureHeader) == "" {
		return fmt.Errorf("core: auth.signature_header is required")
	}
	if c.Auth.TokenTTL < 0 || c.Auth.ClockSkew < 0 {
		return fmt.Errorf("core: auth durations must be >= 0")
	}
	if c.Workflow.Timeout < 0 || c.HTTP.RequestTimeout < 0 {
		return fmt.Errorf("core: timeouts must be >= 0")
	}
	if raw := strings.TrimSpace(c.Workflow.URL); raw != "" {
		if err := validateAbsoluteURL("workflow.url", raw); err != nil {
			return err
		}
	}
	if raw := strings.TrimSpace(c.Workflow.PublicBaseURL); raw != "" {
		if err := validateAbsoluteURL("workflow.public_base_url", raw); err != nil {
			return err
		}
	}
	if c.HTTP.MaxBodyBytes < 0 {
		return fmt.Errorf("core: http.max_body_bytes must be >= 0")
	}
	if c.HTTP.RateLimitRPS < 0 || c.HTTP.RateLimitBurst < 0 {
		return fmt.Errorf("core: http rate limit values must be >= 0")
	}
	return nil
}

// ValidateForServing checks the settings only a running gateway needs.
func (c Config) ValidateForServing() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(c.Auth.HMACSecret) == "" && strings.TrimSpace(c.Auth.JWTSecret) == "" {
		return fmt.Errorf("core: at least one of auth.hmac_secret or auth.jwt_secret is required")
	}
	if strings.TrimSpace(c.Auth.JWTSecret) != "" && strings.TrimSpace(c.Auth.ServiceName) == "" {
		return fmt.Errorf("core: auth.service_name is required when auth.jwt_secret is set")
	}
	if strings.TrimSpace(c.Workflow.URL) == "" {
		return fmt.Errorf("core: workflow.url is required")
	}
	if strings.TrimSpace(c.Workflow.PublicBaseURL) == "" {
		return fmt.Errorf("core: workflow.public_base_url is required")
	}
	switch strings.TrimSpace(c.Database.Driver) {
	case DatabaseDriverPostgres, DatabaseDriverSQLite:
	default:
		return fmt.Errorf("core: database.driver must be %q or %q", DatabaseDriverPostgres, DatabaseDriverSQLite)
	}
	if strings.TrimSpace(c.Database.DSN) == "" {
		return fmt.Errorf("core: database.dsn is required")
	}
	return nil
}

func validateAbsoluteURL(field string, raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("core: %s is invalid: %w", field, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("core: %s must use http or https", field)
	}
	if parsed.Host == "" {
		return fmt.Errorf("core: %s must include a host", field)
	}
	return nil
}

package conf

import (
	"time"

	"google.golang.org/protobuf/types/known/durationpb"
)

// Bootstrap is the root configuration for the genesis-relay service.
type Bootstrap struct {
	Server    *Server
	Data      *Data
	Log       *Log
	Router    *Router
	Gateway   *Gateway
	Notify    *Notify
	Breakers  []*BreakerRule
	Providers []*Provider
	Sources   []*Source
	UseCases  []*UseCase
}

// Server holds the inbound transport configuration.
type Server struct {
	Http *HTTPServer
}

// HTTPServer configures the Kratos HTTP server.
type HTTPServer struct {
	Network string
	Addr    string
	Timeout *durationpb.Duration
	// AdminToken guards the admin routes when set. Empty disables the
	// guard, which is only acceptable on private deployments.
	AdminToken string
}

// Data holds backing store configuration.
type Data struct {
	// Store selects the rate limiter / cache backend: "memory" (default)
	// or "redis" for multi-instance deployments.
	Store    string
	Database *Database
	Redis    *Redis
}

// Database configures the audit sink database.
type Database struct {
	Driver string
	Source string
}

// Redis configures the optional shared Redis backend.
type Redis struct {
	Network      string
	Addr         string
	ReadTimeout  *durationpb.Duration
	WriteTimeout *durationpb.Duration
}

// Log configures the Zap logger.
type Log struct {
	Level      string
	Format     string
	Env        string
	OutputFile string
}

// Router configures provider fallback routing.
type Router struct {
	// RequestTimeout bounds every single provider attempt.
	RequestTimeout *durationpb.Duration
	// MonitoringPeriod is how often the breaker monitor job reports state.
	MonitoringPeriod *durationpb.Duration
	// Routes maps a request classification to an ordered provider
	// candidate list. The "default" row serves unknown classifications.
	Routes map[string][]string
}

// Gateway configures the rate limited cache gateway.
type Gateway struct {
	CallTimeout     *durationpb.Duration
	CacheTTL        *durationpb.Duration
	CacheMaxEntries int
}

// Notify configures degraded-service notifications.
type Notify struct {
	Enabled    bool
	WebhookURL string
}

// BreakerRule overrides breaker settings for a named breaker.
type BreakerRule struct {
	Name             string        `mapstructure:"name"`
	FailureThreshold int           `mapstructure:"failure_threshold"`
	ResetTimeout     time.Duration `mapstructure:"reset_timeout"`
	HalfOpenMaxCalls int           `mapstructure:"half_open_max_calls"`
}

// Provider describes one AI provider endpoint.
type Provider struct {
	ID       string `mapstructure:"id"`
	BaseURL  string `mapstructure:"base_url"`
	APIKey   string `mapstructure:"api_key"`
	Model    string `mapstructure:"model"`
	Enabled  bool   `mapstructure:"enabled"`
	Breaker  string `mapstructure:"breaker"`
	Metadata string `mapstructure:"metadata"`
}

// Source describes one third-party data source served by the gateway.
type Source struct {
	ID          string   `mapstructure:"id"`
	Name        string   `mapstructure:"name"`
	Description string   `mapstructure:"description"`
	Type        string   `mapstructure:"type"`
	BaseURL     string   `mapstructure:"base_url"`
	AuthType    string   `mapstructure:"auth_type"`
	APIKey      string   `mapstructure:"api_key"`
	RateLimit   float64  `mapstructure:"rate_limit"`
	Enabled     bool     `mapstructure:"enabled"`
	Categories  []string `mapstructure:"categories"`
	Metadata    string   `mapstructure:"metadata"`
}

// UseCase groups sources serving one research scenario.
type UseCase struct {
	ID          string   `mapstructure:"id"`
	Name        string   `mapstructure:"name"`
	Description string   `mapstructure:"description"`
	Categories  []string `mapstructure:"categories"`
	Sources     []string `mapstructure:"sources"`
}

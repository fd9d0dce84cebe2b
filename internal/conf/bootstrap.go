// Package conf provides configuration management using Viper.
// It supports loading configuration from YAML files and environment variables,
// with CLI flag overrides.
package conf

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"google.golang.org/protobuf/types/known/durationpb"
)

// NewBootstrap creates and initializes a Bootstrap configuration.
// It loads configuration from the specified config file path, applies defaults,
// and allows overrides from environment variables prefixed with RELAY_.
//
// Configuration priority: CLI flags > Environment variables > Config file > Defaults
//
// Optional environment variables:
//   - MYSQL_DSN or RELAY_DATA_DATABASE_SOURCE: audit database connection
//     string. Without it audit events are logged but not persisted.
//
// Parameters:
//   - configPath: Path to the configuration file or directory
//
// Returns:
//   - *Bootstrap: Loaded configuration
//   - error: Configuration loading or validation error
func NewBootstrap(configPath string) (*Bootstrap, error) {
	v := viper.New()

	// Set default values
	setDefaults(v)

	// Enable environment variable support with RELAY_ prefix
	v.SetEnvPrefix("RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Bind specific environment variables for required fields, allowing
	// unprefixed names for compatibility with deployment templates
	_ = v.BindEnv("data.database.source", "MYSQL_DSN", "RELAY_DATA_DATABASE_SOURCE")
	_ = v.BindEnv("data.redis.addr", "RELAY_DATA_REDIS_ADDR")
	_ = v.BindEnv("notify.webhook_url", "RELAY_NOTIFY_WEBHOOK_URL")

	// Load configuration file
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// If config file is specified but not found, return error
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	}

	// Parse configuration into Bootstrap structure
	bc := &Bootstrap{
		Server: &Server{
			Http: &HTTPServer{
				Network:    v.GetString("server.http.network"),
				Addr:       v.GetString("server.http.addr"),
				Timeout:    durationpb.New(v.GetDuration("server.http.timeout")),
				AdminToken: v.GetString("server.http.admin_token"),
			},
		},
		Data: &Data{
			Store: v.GetString("data.store"),
			Database: &Database{
				Driver: v.GetString("data.database.driver"),
				Source: v.GetString("data.database.source"),
			},
			Redis: &Redis{
				Network:      v.GetString("data.redis.network"),
				Addr:         v.GetString("data.redis.addr"),
				ReadTimeout:  durationpb.New(v.GetDuration("data.redis.read_timeout")),
				WriteTimeout: durationpb.New(v.GetDuration("data.redis.write_timeout")),
			},
		},
		Log: &Log{
			Level:      v.GetString("log.level"),
			Format:     v.GetString("log.format"),
			Env:        v.GetString("log.env"),
			OutputFile: v.GetString("log.output_file"),
		},
		Router: &Router{
			RequestTimeout:   durationpb.New(v.GetDuration("router.request_timeout")),
			MonitoringPeriod: durationpb.New(v.GetDuration("router.monitoring_period")),
			Routes:           v.GetStringMapStringSlice("router.routes"),
		},
		Gateway: &Gateway{
			CallTimeout:     durationpb.New(v.GetDuration("gateway.call_timeout")),
			CacheTTL:        durationpb.New(v.GetDuration("gateway.cache_ttl")),
			CacheMaxEntries: v.GetInt("gateway.cache_max_entries"),
		},
		Notify: &Notify{
			Enabled:    v.GetBool("notify.enabled"),
			WebhookURL: v.GetString("notify.webhook_url"),
		},
	}

	// Descriptor lists decode through mapstructure; viper's default hooks
	// handle duration strings like "60s" inside the entries.
	if err := v.UnmarshalKey("breakers", &bc.Breakers); err != nil {
		return nil, fmt.Errorf("failed to parse breakers config: %w", err)
	}
	if err := v.UnmarshalKey("providers", &bc.Providers); err != nil {
		return nil, fmt.Errorf("failed to parse providers config: %w", err)
	}
	if err := v.UnmarshalKey("sources", &bc.Sources); err != nil {
		return nil, fmt.Errorf("failed to parse sources config: %w", err)
	}
	if err := v.UnmarshalKey("use_cases", &bc.UseCases); err != nil {
		return nil, fmt.Errorf("failed to parse use_cases config: %w", err)
	}

	// Credentials in descriptor entries may reference environment
	// variables, e.g. api_key: ${OPENAI_API_KEY}
	expandSecrets(bc)

	// Validate required fields
	if err := Validate(bc); err != nil {
		return nil, err
	}

	return bc, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.http.network", "tcp")
	v.SetDefault("server.http.addr", ":8080")
	v.SetDefault("server.http.timeout", 10*time.Minute)

	// Data defaults
	v.SetDefault("data.store", "memory")
	v.SetDefault("data.database.driver", "mysql")
	// data.database.source (MYSQL_DSN) is optional; without it the audit
	// trail runs log-only

	v.SetDefault("data.redis.network", "tcp")
	v.SetDefault("data.redis.addr", "127.0.0.1:6379")
	v.SetDefault("data.redis.read_timeout", 200*time.Millisecond)
	v.SetDefault("data.redis.write_timeout", 200*time.Millisecond)

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Router defaults
	v.SetDefault("router.request_timeout", 120*time.Second)
	v.SetDefault("router.monitoring_period", 10*time.Second)

	// Gateway defaults
	v.SetDefault("gateway.call_timeout", 15*time.Second)
	v.SetDefault("gateway.cache_ttl", 5*time.Minute)
	v.SetDefault("gateway.cache_max_entries", 1024)

	// Notify defaults
	v.SetDefault("notify.enabled", false)
}

// expandSecrets resolves ${ENV_VAR} references in descriptor credentials.
func expandSecrets(bc *Bootstrap) {
	for _, p := range bc.Providers {
		p.APIKey = expandEnvRef(p.APIKey)
	}
	for _, s := range bc.Sources {
		s.APIKey = expandEnvRef(s.APIKey)
	}
	if bc.Server != nil && bc.Server.Http != nil {
		bc.Server.Http.AdminToken = expandEnvRef(bc.Server.Http.AdminToken)
	}
}

// expandEnvRef expands a value of the exact form ${NAME}. Literal values
// pass through untouched, so keys containing $ still work.
func expandEnvRef(value string) string {
	if strings.HasPrefix(value, "${") && strings.HasSuffix(value, "}") {
		return os.Getenv(strings.TrimSuffix(strings.TrimPrefix(value, "${"), "}"))
	}
	return value
}

// Validate checks that all required configuration fields are present and valid.
// It returns an error listing all missing required fields.
func Validate(bc *Bootstrap) error {
	var missingFields []string

	if bc.Data != nil && bc.Data.Store == "redis" {
		if bc.Data.Redis == nil || bc.Data.Redis.Addr == "" {
			missingFields = append(missingFields, "data.redis.addr (RELAY_DATA_REDIS_ADDR)")
		}
	}

	if bc.Notify != nil && bc.Notify.Enabled && bc.Notify.WebhookURL == "" {
		missingFields = append(missingFields, "notify.webhook_url (RELAY_NOTIFY_WEBHOOK_URL)")
	}

	if len(missingFields) > 0 {
		return fmt.Errorf("missing required configuration fields: %s", strings.Join(missingFields, ", "))
	}

	// Routing rows may only reference providers declared in the provider list.
	if bc.Router != nil && len(bc.Router.Routes) > 0 {
		known := make(map[string]bool, len(bc.Providers))
		for _, p := range bc.Providers {
			known[p.ID] = true
		}
		for classification, ids := range bc.Router.Routes {
			for _, id := range ids {
				if !known[id] {
					return fmt.Errorf("router.routes[%s] references unknown provider %q", classification, id)
				}
			}
		}
	}

	return nil
}

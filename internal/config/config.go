// Package config loads Titan's hierarchical runtime configuration from
// flags and environment variables (file-based config loading is an
// explicit non-goal per spec.md §1 — this stays flag/env only).
package config

import (
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Cluster mirrors spec.md §6's `cluster` block.
type Cluster struct {
	ServiceID       string `mapstructure:"service_id"`
	MembershipStore string `mapstructure:"membership_store"`
	Workers         int    `mapstructure:"workers"`
}

// StorageRetry mirrors `storage.retry`.
type StorageRetry struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialBackoff  time.Duration `mapstructure:"initial_backoff"`
	Jitter          float64       `mapstructure:"jitter"`
	BreakerTripAt   int           `mapstructure:"breaker_trip_at"`
	BreakerOpenFor  time.Duration `mapstructure:"breaker_open_for"`
}

// Storage mirrors `storage`.
type Storage struct {
	Connection string       `mapstructure:"connection"`
	Retry      StorageRetry `mapstructure:"retry"`
}

// RateLimitRule is one `(maxHits, periodSeconds, timeoutSeconds)` rule.
type RateLimitRule struct {
	MaxHits int           `mapstructure:"max_hits"`
	Period  time.Duration `mapstructure:"period"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// RateLimitPolicy is a named ordered list of rules.
type RateLimitPolicy struct {
	Name  string          `mapstructure:"name"`
	Rules []RateLimitRule `mapstructure:"rules"`
}

// RateLimitMapping maps an endpoint glob to a policy name.
type RateLimitMapping struct {
	Pattern string `mapstructure:"pattern"`
	Policy  string `mapstructure:"policy"`
}

// RateLimiting mirrors `rateLimiting`.
type RateLimiting struct {
	Enabled          bool               `mapstructure:"enabled"`
	DefaultPolicy    string             `mapstructure:"default_policy"`
	Policies         []RateLimitPolicy  `mapstructure:"policies"`
	Mappings         []RateLimitMapping `mapstructure:"mappings"`
	ConfigCacheTTL   time.Duration      `mapstructure:"config_cache_ttl"`
	SnapshotPath     string             `mapstructure:"snapshot_path"`
}

// AuthSession mirrors `auth.session`.
type AuthSession struct {
	Lifetime   time.Duration `mapstructure:"lifetime"`
	Sliding    bool          `mapstructure:"sliding"`
	MaxPerUser int           `mapstructure:"max_per_user"`
}

// AuthTicket mirrors `auth.ticket`.
type AuthTicket struct {
	Lifetime time.Duration `mapstructure:"lifetime"`
}

// Auth mirrors `auth`.
type Auth struct {
	Providers []string    `mapstructure:"providers"`
	Session   AuthSession `mapstructure:"session"`
	Ticket    AuthTicket  `mapstructure:"ticket"`
}

// Transactions mirrors `transactions`.
type Transactions struct {
	Deadline    time.Duration `mapstructure:"deadline"`
	MaxLockWait time.Duration `mapstructure:"max_lock_wait"`
}

// Streams mirrors `streams`.
type Streams struct {
	ProviderName     string `mapstructure:"provider_name"`
	PerStreamBufMax  int    `mapstructure:"per_stream_buffer_max"`
	AMQPURL          string `mapstructure:"amqp_url"`
}

// Gateway configures the HTTP/websocket/gRPC listen addresses.
type Gateway struct {
	HTTPAddr string `mapstructure:"http_addr"`
	GRPCAddr string `mapstructure:"grpc_addr"`
}

// Config is the top-level object read by both the silo and the gateway
// process; each only consumes the sections relevant to it.
type Config struct {
	Cluster      Cluster      `mapstructure:"cluster"`
	Storage      Storage      `mapstructure:"storage"`
	RateLimiting RateLimiting `mapstructure:"rateLimiting"`
	Auth         Auth         `mapstructure:"auth"`
	Transactions Transactions `mapstructure:"transactions"`
	Streams      Streams      `mapstructure:"streams"`
	Gateway      Gateway      `mapstructure:"gateway"`
}

func defaults(v *viper.Viper) {
	v.SetDefault("cluster.service_id", "titan-silo")
	v.SetDefault("cluster.membership_store", "") // "" == single-silo, no consul
	v.SetDefault("cluster.workers", 0) // 0 == GOMAXPROCS

	v.SetDefault("storage.connection", "memory://")
	v.SetDefault("storage.retry.max_attempts", 5)
	v.SetDefault("storage.retry.initial_backoff", 50*time.Millisecond)
	v.SetDefault("storage.retry.jitter", 0.2)
	v.SetDefault("storage.retry.breaker_trip_at", 8)
	v.SetDefault("storage.retry.breaker_open_for", 10*time.Second)

	v.SetDefault("rateLimiting.enabled", true)
	v.SetDefault("rateLimiting.default_policy", "default")
	v.SetDefault("rateLimiting.config_cache_ttl", 30*time.Second)
	v.SetDefault("rateLimiting.snapshot_path", "ratelimit-policy.snapshot.json")

	v.SetDefault("auth.session.lifetime", 24*time.Hour)
	v.SetDefault("auth.session.sliding", true)
	v.SetDefault("auth.session.max_per_user", 8)
	v.SetDefault("auth.ticket.lifetime", 30*time.Second)

	v.SetDefault("transactions.deadline", 15*time.Second)
	v.SetDefault("transactions.max_lock_wait", 5*time.Second)

	v.SetDefault("streams.provider_name", "memory")
	v.SetDefault("streams.per_stream_buffer_max", 1024)

	v.SetDefault("gateway.http_addr", ":8080")
	v.SetDefault("gateway.grpc_addr", ":8081")
}

// Load reads configuration from the process's flag set and environment,
// following the `TITAN_` env prefix with `_` replacing config-key dots.
func Load(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	defaults(v)

	v.SetEnvPrefix("TITAN")
	v.SetEnvKeyReplacer(NewDotReplacer())
	v.AutomaticEnv()

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

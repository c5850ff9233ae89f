// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
// Server, agent and worker binaries share it; each validates the fields it needs.
type Config struct {
	// GRPCAddr is the address the gRPC server listens on (e.g. :8080).
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// DatabaseURL is the Postgres DSN of the session store.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// RedisURL is the Redis URL used to cache geolocation lookups (e.g. redis://localhost:6379/0). Empty disables the cache.
	RedisURL string `mapstructure:"REDIS_URL"`
	// GeoLookupURL is the ipapi-style endpoint; "{ip}" is replaced with the client IP. Empty disables geo enrichment.
	GeoLookupURL string `mapstructure:"GEO_LOOKUP_URL"`
	// GeoCacheTTL is how long a successful geo lookup is cached (e.g. "6h").
	GeoCacheTTL string `mapstructure:"GEO_CACHE_TTL"`
	// TrustWindow is the recency window within which a trusted device stays trusted (default 24h).
	TrustWindow string `mapstructure:"TRUST_WINDOW"`
	// MFAThresholdMinutes: a new device whose token lifetime reaches this many minutes requires MFA.
	MFAThresholdMinutes int `mapstructure:"MFA_THRESHOLD_MINUTES"`
	// PolicyEngine selects the token policy evaluator: "table" or "opa".
	PolicyEngine string `mapstructure:"POLICY_ENGINE"`
	// MFAChallengeTTL is how long a second-factor challenge stays answerable (e.g. "10m").
	MFAChallengeTTL string `mapstructure:"MFA_CHALLENGE_TTL"`
	// DevOTPEnabled returns the one-time code in the login response. Refused in production.
	DevOTPEnabled bool `mapstructure:"DEV_OTP_ENABLED"`
	// BcryptCost is the password hashing cost used by the seed command.
	BcryptCost int `mapstructure:"BCRYPT_COST"`

	// JWTPrivateKey is the PEM-encoded private key (RSA or ECDSA) or path to file.
	JWTPrivateKey string `mapstructure:"JWT_PRIVATE_KEY"`
	// JWTPublicKey is the PEM-encoded public key or path to file; used with JWT_PRIVATE_KEY.
	JWTPublicKey string `mapstructure:"JWT_PUBLIC_KEY"`
	// JWTIssuer is the iss claim.
	JWTIssuer string `mapstructure:"JWT_ISSUER"`
	// JWTAudience is the aud claim.
	JWTAudience string `mapstructure:"JWT_AUDIENCE"`
	// JWTRefreshTTL is the refresh token lifetime (e.g. "168h"). Access token lifetime comes from the token policy.
	JWTRefreshTTL string `mapstructure:"JWT_REFRESH_TTL"`

	// OTLPEndpoint is the OTLP gRPC collector endpoint; empty installs no-op providers.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	// OTLPInsecure forces plaintext to the collector even for https endpoints.
	OTLPInsecure bool `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`

	// KafkaBrokers is a comma-separated list of Kafka brokers for the security event stream. Empty disables it.
	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// SecurityEventsTopic is the Kafka topic security events are written to.
	SecurityEventsTopic string `mapstructure:"SECURITY_EVENTS_TOPIC"`
	// KafkaGroupID is the consumer group of the event worker.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`
	// LokiURL is where the worker pushes security events (e.g. http://localhost:3100).
	LokiURL string `mapstructure:"LOKI_URL"`

	// AgentServerAddr is the SessionService address the agent dials.
	AgentServerAddr string `mapstructure:"AGENT_SERVER_ADDR"`
	// AgentStateDir holds the agent's identity channels (key-value file and cookie file).
	AgentStateDir string `mapstructure:"AGENT_STATE_DIR"`
	// AgentEmail and AgentPassword sign the agent in.
	AgentEmail    string `mapstructure:"AGENT_EMAIL"`
	AgentPassword string `mapstructure:"AGENT_PASSWORD"`
	// AgentNativeID uses the host hardware id as the stable device id instead of the stored one.
	AgentNativeID bool `mapstructure:"AGENT_NATIVE_ID"`

	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
	// LogLevel is the zap level (debug, info, warn, error).
	LogLevel string `mapstructure:"LOG_LEVEL"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("GRPC_ADDR", ":8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("GEO_LOOKUP_URL", "")
	v.SetDefault("GEO_CACHE_TTL", "6h")
	v.SetDefault("TRUST_WINDOW", "24h")
	v.SetDefault("MFA_THRESHOLD_MINUTES", 20)
	v.SetDefault("POLICY_ENGINE", "table")
	v.SetDefault("MFA_CHALLENGE_TTL", "10m")
	v.SetDefault("DEV_OTP_ENABLED", false)
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("JWT_ISSUER", "devicetrust-auth")
	v.SetDefault("JWT_AUDIENCE", "devicetrust-api")
	v.SetDefault("JWT_REFRESH_TTL", "168h") // 7d
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("SECURITY_EVENTS_TOPIC", "devicetrust-security-events")
	v.SetDefault("KAFKA_GROUP_ID", "devicetrust-event-worker")
	v.SetDefault("LOKI_URL", "")
	v.SetDefault("AGENT_SERVER_ADDR", "localhost:8080")
	v.SetDefault("AGENT_STATE_DIR", ".devicetrust")
	v.SetDefault("AGENT_EMAIL", "")
	v.SetDefault("AGENT_PASSWORD", "")
	v.SetDefault("AGENT_NATIVE_ID", false)
	v.SetDefault("APP_ENV", "")
	v.SetDefault("LOG_LEVEL", "info")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.GRPCAddr == "" {
		return nil, errors.New("config: GRPC_ADDR must be set")
	}
	if cfg.MFAThresholdMinutes <= 0 {
		return nil, errors.New("config: MFA_THRESHOLD_MINUTES must be positive")
	}
	if cfg.DevOTPEnabled && strings.EqualFold(cfg.Env, "production") {
		return nil, errors.New("config: DEV_OTP_ENABLED must not be set in production")
	}
	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		return nil, errors.New("config: BCRYPT_COST must be between 4 and 31")
	}
	switch cfg.PolicyEngine {
	case "table", "opa":
	default:
		return nil, errors.New("config: POLICY_ENGINE must be table or opa")
	}

	return &cfg, nil
}

// TrustWindowDuration parses TrustWindow. Returns 24h if unset or invalid.
func (c *Config) TrustWindowDuration() time.Duration {
	return parseDurationOr(c.TrustWindow, 24*time.Hour)
}

// RefreshTTL parses JWTRefreshTTL as a time.Duration. Returns 168h if unset or invalid.
func (c *Config) RefreshTTL() time.Duration {
	return parseDurationOr(c.JWTRefreshTTL, 168*time.Hour)
}

// ChallengeTTL parses MFAChallengeTTL. Returns 10m if unset or invalid.
func (c *Config) ChallengeTTL() time.Duration {
	return parseDurationOr(c.MFAChallengeTTL, 10*time.Minute)
}

// GeoCacheTTLDuration parses GeoCacheTTL. Returns 6h if unset or invalid.
func (c *Config) GeoCacheTTLDuration() time.Duration {
	return parseDurationOr(c.GeoCacheTTL, 6*time.Hour)
}

// KafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// Used to decide if the security event stream is enabled (non-empty list).
func (c *Config) KafkaBrokersList() []string {
	if c == nil || c.KafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.KafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func parseDurationOr(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil || d <= 0 {
		return def
	}
	return d
}

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	fileKey := envKey + "_FILE"
	filePath := os.Getenv(fileKey)
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	val := strings.TrimSpace(string(data))
	os.Setenv(envKey, val)
}

type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	JWT       JWTConfig
	RateLimit RateLimitConfig
	Graph     GraphConfig
	Engine    EngineConfig
	R2        R2Config
	Zitadel   ZitadelConfig
	Gateway   GatewayConfig
}

type ServerConfig struct {
	Port      string
	Env       string
	LogLevel  string
	ApiDomain string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration int // hours
}

type RateLimitConfig struct {
	BulkPerHour    int
	ReadsPerMin    int
	ReportsPerHour int
}

// GraphConfig drives the device management API client. With TenantID,
// ClientID and ClientSecret set, tokens come from the client
// credentials grant; StaticToken short-circuits that for gateway
// deployments and local testing.
type GraphConfig struct {
	BaseURL         string
	TenantID        string
	ClientID        string
	ClientSecret    string
	Scope           string
	StaticToken     string
	Concurrency     int
	BatchSize       int
	RequestTimeout  time.Duration
	ResourceTimeout time.Duration
}

// TokenURL returns the client credentials endpoint for the tenant.
func (g *GraphConfig) TokenURL() string {
	return fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", g.TenantID)
}

// IsConfigured reports whether any credential source is present.
func (g *GraphConfig) IsConfigured() bool {
	return g.StaticToken != "" || (g.TenantID != "" && g.ClientID != "" && g.ClientSecret != "")
}

// EngineConfig bounds the retry machinery and worker pool.
type EngineConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	JobTTL     time.Duration
	Workers    int
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
}

type ZitadelConfig struct {
	Domain   string
	ClientID string
	Issuer   string
}

type GatewayConfig struct {
	Enabled bool
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("GRAPH_CLIENT_SECRET")
	readSecret("GRAPH_STATIC_TOKEN")
	readSecret("R2_ACCOUNT_ID")
	readSecret("R2_ACCESS_KEY_ID")
	readSecret("R2_SECRET_ACCESS_KEY")
	readSecret("ZITADEL_CLIENT_ID")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Environment variables
	viper.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = viper.BindEnv("server.port", "SERVER_PORT")
	_ = viper.BindEnv("server.env", "SERVER_ENV")
	_ = viper.BindEnv("server.log_level", "LOG_LEVEL")
	_ = viper.BindEnv("server.api_domain", "API_DOMAIN")
	_ = viper.BindEnv("redis.addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = viper.BindEnv("redis.db", "REDIS_DB")
	_ = viper.BindEnv("jwt.secret", "JWT_SECRET")
	_ = viper.BindEnv("jwt.expiration", "JWT_EXPIRATION")
	_ = viper.BindEnv("ratelimit.bulk_per_hour", "RATELIMIT_BULK_PER_HOUR")
	_ = viper.BindEnv("ratelimit.reads_per_min", "RATELIMIT_READS_PER_MIN")
	_ = viper.BindEnv("ratelimit.reports_per_hour", "RATELIMIT_REPORTS_PER_HOUR")
	_ = viper.BindEnv("graph.base_url", "GRAPH_BASE_URL")
	_ = viper.BindEnv("graph.tenant_id", "GRAPH_TENANT_ID")
	_ = viper.BindEnv("graph.client_id", "GRAPH_CLIENT_ID")
	_ = viper.BindEnv("graph.client_secret", "GRAPH_CLIENT_SECRET")
	_ = viper.BindEnv("graph.scope", "GRAPH_SCOPE")
	_ = viper.BindEnv("graph.static_token", "GRAPH_STATIC_TOKEN")
	_ = viper.BindEnv("graph.concurrency", "GRAPH_CONCURRENCY")
	_ = viper.BindEnv("graph.batch_size", "GRAPH_BATCH_SIZE")
	_ = viper.BindEnv("graph.request_timeout", "GRAPH_REQUEST_TIMEOUT")
	_ = viper.BindEnv("graph.resource_timeout", "GRAPH_RESOURCE_TIMEOUT")
	_ = viper.BindEnv("engine.max_retries", "ENGINE_MAX_RETRIES")
	_ = viper.BindEnv("engine.base_delay", "ENGINE_BASE_DELAY")
	_ = viper.BindEnv("engine.max_delay", "ENGINE_MAX_DELAY")
	_ = viper.BindEnv("engine.job_ttl", "ENGINE_JOB_TTL")
	_ = viper.BindEnv("engine.workers", "ENGINE_WORKERS")
	_ = viper.BindEnv("r2.account_id", "R2_ACCOUNT_ID")
	_ = viper.BindEnv("r2.access_key_id", "R2_ACCESS_KEY_ID")
	_ = viper.BindEnv("r2.secret_access_key", "R2_SECRET_ACCESS_KEY")
	_ = viper.BindEnv("r2.bucket_name", "R2_BUCKET_NAME")
	_ = viper.BindEnv("zitadel.domain", "ZITADEL_DOMAIN")
	_ = viper.BindEnv("zitadel.client_id", "ZITADEL_CLIENT_ID")
	_ = viper.BindEnv("zitadel.issuer", "ZITADEL_ISSUER")
	_ = viper.BindEnv("gateway.enabled", "GATEWAY_ENABLED")

	// Defaults
	viper.SetDefault("server.port", "8000")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("server.log_level", "info")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("jwt.secret", "change-me-in-production")
	viper.SetDefault("jwt.expiration", 24)
	viper.SetDefault("ratelimit.bulk_per_hour", 20)
	viper.SetDefault("ratelimit.reads_per_min", 120)
	viper.SetDefault("ratelimit.reports_per_hour", 30)

	// Graph defaults
	viper.SetDefault("graph.base_url", "https://graph.microsoft.com/beta")
	viper.SetDefault("graph.scope", "https://graph.microsoft.com/.default")
	viper.SetDefault("graph.concurrency", 5)
	viper.SetDefault("graph.batch_size", 20)
	viper.SetDefault("graph.request_timeout", "30s")
	viper.SetDefault("graph.resource_timeout", "2m")

	// Engine defaults
	viper.SetDefault("engine.max_retries", 3)
	viper.SetDefault("engine.base_delay", "2s")
	viper.SetDefault("engine.max_delay", "60s")
	viper.SetDefault("engine.job_ttl", "24h")
	viper.SetDefault("engine.workers", 10)

	// Gateway defaults
	viper.SetDefault("gateway.enabled", false)

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:      viper.GetString("server.port"),
			Env:       viper.GetString("server.env"),
			LogLevel:  viper.GetString("server.log_level"),
			ApiDomain: viper.GetString("server.api_domain"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret:     viper.GetString("jwt.secret"),
			Expiration: viper.GetInt("jwt.expiration"),
		},
		RateLimit: RateLimitConfig{
			BulkPerHour:    viper.GetInt("ratelimit.bulk_per_hour"),
			ReadsPerMin:    viper.GetInt("ratelimit.reads_per_min"),
			ReportsPerHour: viper.GetInt("ratelimit.reports_per_hour"),
		},
		Graph: GraphConfig{
			BaseURL:         viper.GetString("graph.base_url"),
			TenantID:        viper.GetString("graph.tenant_id"),
			ClientID:        viper.GetString("graph.client_id"),
			ClientSecret:    viper.GetString("graph.client_secret"),
			Scope:           viper.GetString("graph.scope"),
			StaticToken:     viper.GetString("graph.static_token"),
			Concurrency:     viper.GetInt("graph.concurrency"),
			BatchSize:       viper.GetInt("graph.batch_size"),
			RequestTimeout:  viper.GetDuration("graph.request_timeout"),
			ResourceTimeout: viper.GetDuration("graph.resource_timeout"),
		},
		Engine: EngineConfig{
			MaxRetries: viper.GetInt("engine.max_retries"),
			BaseDelay:  viper.GetDuration("engine.base_delay"),
			MaxDelay:   viper.GetDuration("engine.max_delay"),
			JobTTL:     viper.GetDuration("engine.job_ttl"),
			Workers:    viper.GetInt("engine.workers"),
		},
		R2: R2Config{
			AccountID:       viper.GetString("r2.account_id"),
			AccessKeyID:     viper.GetString("r2.access_key_id"),
			SecretAccessKey: viper.GetString("r2.secret_access_key"),
			BucketName:      viper.GetString("r2.bucket_name"),
		},
		Zitadel: ZitadelConfig{
			Domain:   viper.GetString("zitadel.domain"),
			ClientID: viper.GetString("zitadel.client_id"),
			Issuer:   viper.GetString("zitadel.issuer"),
		},
		Gateway: GatewayConfig{
			Enabled: viper.GetBool("gateway.enabled"),
		},
	}

	return cfg, nil
}

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config holds all application configuration in a structured way.
type Config struct {
	App           AppConfig
	MCP           MCPConfig
	Database      DatabaseConfig
	Gateway       GatewayConfig
	Breaker       BreakerConfig
	Webhook       WebhookConfig
	AI            AIConfig
	Security      SecurityConfig
	Observability ObservabilityConfig
}

type AppConfig struct {
	Version            string
	Port               string
	Debug              bool
	Environment        string
	BasicAuth          []string
	BasePath           string
	TrustedProxies     []string
	BaseUrl            string
	CorsAllowedOrigins []string
	ServerID           string
	StorageDir         string
	// PollRatePerMinute bounds status/QR polling per instance.
	PollRatePerMinute int
}

type MCPConfig struct {
	Port string
	Host string
}

type DatabaseConfig struct {
	Driver          string
	Host            string
	Port            int
	User            string
	Password        string
	Name            string // File path for SQLite, DB Name for Postgres
	ValkeyEnabled   bool
	ValkeyAddress   string
	ValkeyPassword  string
	ValkeyDB        int
	ValkeyKeyPrefix string
}

// GatewayConfig describes the external WhatsApp gateway HTTP API.
type GatewayConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	// PublicWebhookURL is the externally reachable base the gateway posts events to.
	PublicWebhookURL string
	Integration      string
}

type BreakerConfig struct {
	Window           time.Duration
	MaxRequests      int
	FailureThreshold int
	Cooldown         time.Duration
}

type WebhookConfig struct {
	Secret          string
	DedupTTL        time.Duration
	WorkerPoolSize  int
	WorkerQueueSize int
}

type AIConfig struct {
	OpenAIKey    string
	DefaultModel string
}

type SecurityConfig struct {
	SecretKey string
}

type ObservabilityConfig struct {
	OTelEnabled  bool
	OTelEndpoint string
	OTelInsecure bool
	ServiceName  string
	SampleRatio  float64
}

// Global provides access to the loaded configuration globally.
var Global *Config

// LoadConfig loads configuration from Environment Variables or defaults.
func LoadConfig() (*Config, error) {
	storageDir := getEnv("APP_STORAGE_DIR", "storages")

	debug := getEnvBool("APP_DEBUG", false)

	var basicAuth []string
	if v := os.Getenv("APP_BASIC_AUTH"); v != "" {
		basicAuth = strings.Split(v, ",")
	}

	corsOrigins := []string{"http://localhost:3000", "http://localhost:5173"}
	if v := os.Getenv("APP_CORS_ALLOWED_ORIGINS"); v != "" {
		corsOrigins = strings.Split(v, ",")
	}

	appCfg := AppConfig{
		Version:            getEnv("APP_VERSION", "v1.0.0"),
		Port:               getEnv("APP_PORT", "3000"),
		Debug:              debug,
		Environment:        getEnv("APP_ENV", "development"),
		BasicAuth:          basicAuth,
		BasePath:           getEnv("APP_BASE_PATH", ""),
		BaseUrl:            getEnv("APP_BASE_URL", "http://localhost:3000"),
		CorsAllowedOrigins: corsOrigins,
		ServerID:           getEnv("SERVER_ID", ""),
		StorageDir:         storageDir,
		PollRatePerMinute:  getEnvInt("APP_POLL_RATE_PER_MINUTE", 20),
	}
	if v := os.Getenv("APP_TRUSTED_PROXIES"); v != "" {
		appCfg.TrustedProxies = strings.Split(v, ",")
	}

	dbCfg := DatabaseConfig{
		Driver:          getEnv("DB_DRIVER", "sqlite"),
		Name:            getEnv("DB_NAME", filepath.Join(storageDir, "channels.db")),
		Host:            getEnv("DB_HOST", "localhost"),
		Port:            getEnvInt("DB_PORT", 5432),
		User:            getEnv("DB_USER", "postgres"),
		Password:        getEnv("DB_PASSWORD", ""),
		ValkeyEnabled:   getEnvBool("VALKEY_ENABLED", false),
		ValkeyAddress:   getEnv("VALKEY_ADDRESS", "localhost:6379"),
		ValkeyPassword:  getEnv("VALKEY_PASSWORD", ""),
		ValkeyDB:        getEnvInt("VALKEY_DB", 0),
		ValkeyKeyPrefix: getEnv("VALKEY_KEY_PREFIX", "channels:"),
	}

	gwCfg := GatewayConfig{
		BaseURL:          strings.TrimRight(getEnv("GATEWAY_BASE_URL", "http://localhost:8080"), "/"),
		APIKey:           getEnv("GATEWAY_API_KEY", ""),
		Timeout:          getEnvDuration("GATEWAY_TIMEOUT", 8*time.Second),
		PublicWebhookURL: strings.TrimRight(getEnv("GATEWAY_PUBLIC_WEBHOOK_URL", appCfg.BaseUrl), "/"),
		Integration:      getEnv("GATEWAY_INTEGRATION", "WHATSAPP-BAILEYS"),
	}

	brCfg := BreakerConfig{
		Window:           getEnvDuration("BREAKER_WINDOW", 60*time.Second),
		MaxRequests:      getEnvInt("BREAKER_MAX_REQUESTS", 30),
		FailureThreshold: getEnvInt("BREAKER_FAILURE_THRESHOLD", 5),
		Cooldown:         getEnvDuration("BREAKER_COOLDOWN", 30*time.Second),
	}

	whCfg := WebhookConfig{
		Secret:          getEnv("WEBHOOK_SECRET", ""),
		DedupTTL:        getEnvDuration("WEBHOOK_DEDUP_TTL", 24*time.Hour),
		WorkerPoolSize:  getEnvInt("WEBHOOK_WORKER_POOL_SIZE", 8),
		WorkerQueueSize: getEnvInt("WEBHOOK_WORKER_QUEUE_SIZE", 500),
	}

	cfg := &Config{
		App:      appCfg,
		MCP:      MCPConfig{Port: getEnv("MCP_PORT", "8081"), Host: getEnv("MCP_HOST", "localhost")},
		Database: dbCfg,
		Gateway:  gwCfg,
		Breaker:  brCfg,
		Webhook:  whCfg,
		AI: AIConfig{
			OpenAIKey:    getEnv("OPENAI_API_KEY", ""),
			DefaultModel: getEnv("AI_DEFAULT_MODEL", "gpt-4o-mini"),
		},
		Security: SecurityConfig{SecretKey: getEnv("APP_SECRET_KEY", "")},
		Observability: ObservabilityConfig{
			OTelEnabled:  getEnvBool("OTEL_ENABLED", false),
			OTelEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			OTelInsecure: getEnvBool("OTEL_INSECURE", true),
			ServiceName:  getEnv("OTEL_SERVICE_NAME", "channel-orchestrator"),
			SampleRatio:  getEnvFloat("OTEL_SAMPLE_RATIO", 1.0),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	Global = cfg
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres", "":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.Database.Driver)
	}
	if c.Breaker.MaxRequests <= 0 || c.Breaker.FailureThreshold <= 0 {
		return fmt.Errorf("breaker limits must be positive (max_requests=%d, failure_threshold=%d)",
			c.Breaker.MaxRequests, c.Breaker.FailureThreshold)
	}
	if c.Breaker.Window <= 0 || c.Breaker.Cooldown <= 0 {
		return fmt.Errorf("breaker window and cooldown must be positive")
	}
	if c.Gateway.Timeout <= 0 {
		return fmt.Errorf("GATEWAY_TIMEOUT must be positive")
	}
	return nil
}

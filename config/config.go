package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/joho/godotenv"

	"github.com/upb/ai-gateway/services/credentials"
	"github.com/upb/ai-gateway/services/providers"
)

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig
	Database      *DatabaseConfig // Optional: credentials stay in memory when nil
	Gateway       GatewayConfig
	Secrets       SecretsConfig
	Archive       ArchiveConfig
	Observability ObservabilityConfig
	Providers     map[string]ProviderConfig
	AdminToken    string
	Environment   string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
	TLS             struct {
		Enabled  bool
		CertFile string
		KeyFile  string
	}
}

// DatabaseConfig holds PostgreSQL database configuration.
// When ConnectionString (from DATABASE_URL) is set, it takes precedence over individual fields.
type DatabaseConfig struct {
	ConnectionString string // From DATABASE_URL when set
	Host             string
	Port             int
	User             string
	Password         string
	Database         string
	SSLMode          string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
}

// GatewayConfig holds dispatcher and pricing settings
type GatewayConfig struct {
	RequestTimeout   time.Duration
	BatchConcurrency int
	PricingFile      string  // Optional YAML overlay on the built-in price table
	CNYRate          float64 // 0 keeps the built-in rate
}

// SecretsConfig holds credential encryption settings
type SecretsConfig struct {
	EncryptionKey string // 32 bytes, base64 or hex
}

// ArchiveConfig holds usage archive settings. S3 wins when a bucket is set.
type ArchiveConfig struct {
	Enabled       bool
	Dir           string
	S3Bucket      string
	S3Region      string
	S3Endpoint    string
	S3Prefix      string
	S3AccessKey   string
	S3SecretKey   string
	FlushInterval time.Duration
	BufferSize    int
}

// ObservabilityConfig holds monitoring and logging configuration
type ObservabilityConfig struct {
	LogLevel       string
	LogFormat      string // json or console
	MetricsEnabled bool
}

// ProviderConfig holds per-provider overrides and bootstrap credentials
type ProviderConfig struct {
	Credentials map[string]string // From <PROVIDER>_<FIELD>, e.g. BAIDU_SECRET_KEY
	BaseURL     string
	Timeout     time.Duration
}

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load(".env")

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getPort(),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 90*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			AllowedOrigins:  getEnvAsSlice("CORS_ALLOWED_ORIGINS", []string{"http://localhost:*"}),
			TLS: struct {
				Enabled  bool
				CertFile string
				KeyFile  string
			}{
				Enabled:  getEnvAsBool("TLS_ENABLED", false),
				CertFile: getEnv("TLS_CERT_FILE", "certs/cert.pem"),
				KeyFile:  getEnv("TLS_KEY_FILE", "certs/key.pem"),
			},
		},
		Database: loadDatabaseConfig(),
		Gateway: GatewayConfig{
			RequestTimeout:   getEnvAsDuration("GATEWAY_REQUEST_TIMEOUT", 60*time.Second),
			BatchConcurrency: getEnvAsInt("GATEWAY_BATCH_CONCURRENCY", 8),
			PricingFile:      getEnv("GATEWAY_PRICING_FILE", ""),
			CNYRate:          getEnvAsFloat("GATEWAY_CNY_RATE", 0),
		},
		Secrets: SecretsConfig{
			EncryptionKey: getEnv("SECRETS_ENCRYPTION_KEY", ""),
		},
		Archive: ArchiveConfig{
			Enabled:       getEnvAsBool("ARCHIVE_ENABLED", false),
			Dir:           getEnv("ARCHIVE_DIR", "data/usage"),
			S3Bucket:      getEnv("ARCHIVE_S3_BUCKET", ""),
			S3Region:      getEnv("ARCHIVE_S3_REGION", "us-east-1"),
			S3Endpoint:    getEnv("ARCHIVE_S3_ENDPOINT", ""),
			S3Prefix:      getEnv("ARCHIVE_S3_PREFIX", "usage"),
			S3AccessKey:   getEnv("ARCHIVE_S3_ACCESS_KEY", ""),
			S3SecretKey:   getEnv("ARCHIVE_S3_SECRET_KEY", ""),
			FlushInterval: getEnvAsDuration("ARCHIVE_FLUSH_INTERVAL", time.Minute),
			BufferSize:    getEnvAsInt("ARCHIVE_BUFFER_SIZE", 1024),
		},
		Observability: ObservabilityConfig{
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			LogFormat:      getEnv("LOG_FORMAT", "json"),
			MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
		},
		Providers:  loadProvidersConfig(providers.BuiltinDescriptors()),
		AdminToken: getEnv("ADMIN_TOKEN", ""),
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if all required configuration fields are set
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d is out of range", c.Server.Port)
	}

	if c.Database != nil && c.Database.ConnectionString == "" {
		if c.Database.User == "" {
			return fmt.Errorf("database user is required")
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	}

	if c.Gateway.RequestTimeout <= 0 {
		return fmt.Errorf("gateway request timeout must be positive")
	}
	if c.Gateway.BatchConcurrency <= 0 {
		return fmt.Errorf("gateway batch concurrency must be positive")
	}
	if c.Gateway.CNYRate < 0 {
		return fmt.Errorf("CNY exchange rate cannot be negative")
	}

	if c.Secrets.EncryptionKey != "" {
		if _, err := credentials.ParseKey(c.Secrets.EncryptionKey); err != nil {
			return fmt.Errorf("invalid SECRETS_ENCRYPTION_KEY: %w", err)
		}
	}

	if c.Archive.Enabled && c.Archive.FlushInterval <= 0 {
		return fmt.Errorf("archive flush interval must be positive")
	}

	// Secrets and admin routes must be protected in production
	if c.IsProduction() {
		if c.AdminToken == "" {
			return fmt.Errorf("admin token is required in production")
		}
		if c.Database != nil && c.Secrets.EncryptionKey == "" {
			return fmt.Errorf("encryption key is required in production when credentials are persisted")
		}
	}

	if c.Observability.LogLevel == "" {
		return fmt.Errorf("log level is required")
	}

	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// ProviderTimeouts returns the per-provider timeout overrides
func (c *Config) ProviderTimeouts() map[string]time.Duration {
	out := make(map[string]time.Duration)
	for id, p := range c.Providers {
		if p.Timeout > 0 {
			out[id] = p.Timeout
		}
	}
	return out
}

// MaxRequestTimeout returns the longest deadline any single vendor call can get
func (c *Config) MaxRequestTimeout() time.Duration {
	longest := c.Gateway.RequestTimeout
	for _, d := range c.ProviderTimeouts() {
		longest = max(longest, d)
	}
	return longest
}

// DSN returns the PostgreSQL connection string.
// Uses ConnectionString (from DATABASE_URL) when set; otherwise builds from individual fields.
func (c *DatabaseConfig) DSN() string {
	if c.ConnectionString != "" {
		return c.ConnectionString
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// LogString returns a safe string for logging (no password). Parses ConnectionString when set.
func (c *DatabaseConfig) LogString() string {
	if c.ConnectionString != "" {
		u, err := url.Parse(c.ConnectionString)
		if err == nil {
			host := u.Hostname()
			port := u.Port()
			if port == "" {
				port = "5432"
			}
			db := strings.TrimPrefix(u.Path, "/")
			return fmt.Sprintf("host=%s port=%s database=%s", host, port, db)
		}
		return "host=<from DATABASE_URL>"
	}
	return fmt.Sprintf("host=%s port=%d database=%s", c.Host, c.Port, c.Database)
}

// loadDatabaseConfig loads database config from DATABASE_URL or DB_* env vars.
// Returns nil when neither is set.
func loadDatabaseConfig() *DatabaseConfig {
	dbURL := getEnv("DATABASE_URL", "")
	if dbURL != "" {
		return &DatabaseConfig{
			ConnectionString: dbURL,
			MaxOpenConns:     getEnvAsInt("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:     getEnvAsInt("DB_MAX_IDLE_CONNS", 2),
			ConnMaxLifetime:  getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		}
	}
	if getEnv("DB_HOST", "") == "" {
		return nil
	}
	return &DatabaseConfig{
		Host:            getEnv("DB_HOST", "localhost"),
		Port:            getEnvAsInt("DB_PORT", 5432),
		User:            getEnv("DB_USER", "gateway"),
		Password:        getEnv("DB_PASSWORD", ""),
		Database:        getEnv("DB_NAME", "gateway"),
		SSLMode:         getEnv("DB_SSLMODE", "disable"),
		MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 10),
		MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 2),
		ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}
}

// loadProvidersConfig reads overrides and bootstrap credentials for every
// descriptor. Providers with nothing set are left out.
func loadProvidersConfig(descriptors []providers.ProviderDescriptor) map[string]ProviderConfig {
	out := make(map[string]ProviderConfig)
	for _, d := range descriptors {
		pc := ProviderConfig{
			Credentials: make(map[string]string),
			BaseURL:     getEnv(EnvName(d.ID, "baseUrl"), ""),
			Timeout:     getEnvAsDuration(EnvName(d.ID, "timeout"), 0),
		}
		for _, f := range d.CredentialFields {
			if v := getEnv(EnvName(d.ID, f.Key), ""); v != "" {
				pc.Credentials[f.Key] = v
			}
		}
		if len(pc.Credentials) > 0 || pc.BaseURL != "" || pc.Timeout > 0 {
			out[d.ID] = pc
		}
	}
	return out
}

// EnvName returns the variable a provider setting is read from:
// EnvName("baidu", "secretKey") is BAIDU_SECRET_KEY.
func EnvName(providerID, key string) string {
	var b strings.Builder
	for _, r := range providerID {
		if r == '-' || r == '.' {
			r = '_'
		}
		b.WriteRune(unicode.ToUpper(r))
	}
	b.WriteByte('_')
	for i, r := range key {
		if unicode.IsUpper(r) && i > 0 {
			b.WriteByte('_')
		}
		b.WriteRune(unicode.ToUpper(r))
	}
	return b.String()
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Helper functions

// getPort returns the server port from PORT or SERVER_PORT env vars (default: 8080)
func getPort() int {
	if value := os.Getenv("PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	if value := os.Getenv("SERVER_PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	return 8080
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

package config

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/wndmngr/backend/utils"
)

// AuthMode selects how requests are authenticated
type AuthMode string

const (
	// AuthModeBearer verifies Entra ID tokens from the Authorization header
	AuthModeBearer AuthMode = "bearer"
	// AuthModeSession validates Supabase session cookies server-side
	AuthModeSession AuthMode = "session"
	// AuthModeProxy trusts identity headers set by an access proxy
	AuthModeProxy AuthMode = "proxy"
)

// Config represents the complete application configuration
type Config struct {
	Environment   string `env:"ENVIRONMENT" envDefault:"production" validate:"required"`
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Auth          AuthConfig
	Entra         EntraConfig
	Supabase      SupabaseConfig
	Proxy         ProxyConfig
	Roles         RolesConfig
	Audit         AuditConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `env:"SERVER_HOST" envDefault:"0.0.0.0"`
	Port            int           `env:"SERVER_PORT" envDefault:"8080" validate:"gt=0,lte=65535"`
	ReadTimeout     time.Duration `env:"SERVER_READ_TIMEOUT" envDefault:"30s"`
	WriteTimeout    time.Duration `env:"SERVER_WRITE_TIMEOUT" envDefault:"30s"`
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" envDefault:"10s"`
	RequestTimeout  time.Duration `env:"SERVER_REQUEST_TIMEOUT" envDefault:"60s"`
	AllowedOrigins  []string      `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:5173"`
	FrontEndURL     string        `env:"FRONT_END_URL" envDefault:"http://localhost:5173"`
	TLS             TLSConfig
}

// TLSConfig holds the optional certificate pair
type TLSConfig struct {
	Enabled  bool   `env:"TLS_ENABLED" envDefault:"false"`
	CertFile string `env:"TLS_CERT_FILE" envDefault:"certs/cert.pem"`
	KeyFile  string `env:"TLS_KEY_FILE" envDefault:"certs/key.pem"`
}

// DatabaseConfig holds PostgreSQL configuration. Persistence is disabled
// when ConnectionString is empty.
type DatabaseConfig struct {
	ConnectionString string        `env:"DATABASE_URL"`
	MaxOpenConns     int           `env:"DB_MAX_OPEN_CONNS" envDefault:"25" validate:"gte=0"`
	MaxIdleConns     int           `env:"DB_MAX_IDLE_CONNS" envDefault:"5" validate:"gte=0"`
	ConnMaxLifetime  time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"5m"`
	RunMigrations    bool          `env:"DB_RUN_MIGRATIONS" envDefault:"true"`
}

// RedisConfig holds the optional OAuth state store connection
type RedisConfig struct {
	URL      string        `env:"REDIS_URL"`
	StateTTL time.Duration `env:"AUTH_STATE_TTL" envDefault:"10m"`
}

// AuthConfig holds settings shared by every authentication mode
type AuthConfig struct {
	Mode              AuthMode      `env:"AUTH_MODE" envDefault:"bearer" validate:"oneof=bearer session proxy"`
	AllowedDomains    []string      `env:"AUTH_ALLOWED_DOMAINS" envSeparator:"," envDefault:"wpd.fr"`
	AllowAllDomains   bool          `env:"AUTH_ALLOW_ALL_DOMAINS" envDefault:"false"`
	ProtectedPrefixes []string      `env:"AUTH_PROTECTED_PREFIXES" envSeparator:"," envDefault:"/dashboard,/data,/api/v1"`
	VerifyTimeout     time.Duration `env:"AUTH_VERIFY_TIMEOUT" envDefault:"5s" validate:"gt=0"`
	ClockSkew         time.Duration `env:"AUTH_CLOCK_SKEW" envDefault:"0s" validate:"gte=0"`
	LoginPath         string        `env:"AUTH_LOGIN_PATH" envDefault:"/auth/login"`
	SessionCookieName string        `env:"AUTH_SESSION_COOKIE" envDefault:"session"`
	CookieSecure      bool          `env:"AUTH_COOKIE_SECURE" envDefault:"true"`
	PolicyFile        string        `env:"AUTH_POLICY_FILE"`
}

// EntraConfig holds Microsoft Entra ID settings
type EntraConfig struct {
	TenantID        string        `env:"ENTRA_TENANT_ID"`
	ClientID        string        `env:"ENTRA_CLIENT_ID"`
	ClientSecret    string        `env:"ENTRA_CLIENT_SECRET"`
	Authority       string        `env:"ENTRA_AUTHORITY" envDefault:"https://login.microsoftonline.com" validate:"url"`
	RedirectURI     string        `env:"ENTRA_REDIRECT_URI" envDefault:"http://localhost:8080/auth/callback"`
	Scopes          string        `env:"ENTRA_SCOPES" envDefault:"openid profile email"`
	KeySetTTL       time.Duration `env:"ENTRA_JWKS_TTL" envDefault:"24h" validate:"gte=0"`
	RefetchInterval time.Duration `env:"ENTRA_JWKS_REFETCH_INTERVAL" envDefault:"30s" validate:"gt=0"`
	HTTPTimeout     time.Duration `env:"ENTRA_HTTP_TIMEOUT" envDefault:"10s" validate:"gt=0"`
}

// SupabaseConfig holds the session backend settings
type SupabaseConfig struct {
	URL     string        `env:"SUPABASE_URL"`
	AnonKey string        `env:"SUPABASE_ANON_KEY"`
	Timeout time.Duration `env:"SUPABASE_TIMEOUT" envDefault:"5s" validate:"gt=0"`
}

// ProxyConfig holds the access proxy header names and the development mock
type ProxyConfig struct {
	EmailHeader  string `env:"PROXY_EMAIL_HEADER" envDefault:"Cf-Access-Authenticated-User-Email" validate:"required"`
	NameHeader   string `env:"PROXY_NAME_HEADER" envDefault:"Cf-Access-Authenticated-User-Common-Name"`
	DevMockEmail string `env:"DEV_MOCK_EMAIL"`
}

// RolesConfig holds the role cache settings
type RolesConfig struct {
	CacheSize int           `env:"ROLE_CACHE_SIZE" envDefault:"1000" validate:"gt=0"`
	CacheTTL  time.Duration `env:"ROLE_CACHE_TTL" envDefault:"5m" validate:"gt=0"`
}

// AuditConfig holds the auth event worker pool settings
type AuditConfig struct {
	Enabled    bool `env:"AUDIT_ENABLED" envDefault:"true"`
	BufferSize int  `env:"AUDIT_BUFFER_SIZE" envDefault:"1000" validate:"gt=0"`
	Workers    int  `env:"AUDIT_WORKERS" envDefault:"2" validate:"gt=0"`
}

// ObservabilityConfig holds logging and tracing configuration
type ObservabilityConfig struct {
	LogLevel          string  `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`
	LogFormat         string  `env:"LOG_FORMAT" envDefault:"json" validate:"oneof=json text"`
	ServiceName       string  `env:"OTEL_SERVICE_NAME" envDefault:"wndmngr-backend"`
	TracingEndpoint   string  `env:"OTEL_EXPORTER_ENDPOINT"`
	TracingInsecure   bool    `env:"OTEL_EXPORTER_INSECURE" envDefault:"false"`
	TracingSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"0.1" validate:"gte=0,lte=1"`
}

// defaultDevMockEmail is the proxy identity used when ENVIRONMENT is
// explicitly set to development and DEV_MOCK_EMAIL is not set
const defaultDevMockEmail = "dev@wpd.fr"

// New creates a new Config instance from .env, the environment and the
// optional policy file
func New(ctx context.Context) (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	if port := getPort(); port != 0 {
		cfg.Server.Port = port
	}
	if _, set := os.LookupEnv("AUTH_ALLOWED_DOMAINS"); cfg.Auth.AllowAllDomains && !set {
		cfg.Auth.AllowedDomains = nil
	}

	if cfg.Auth.PolicyFile != "" {
		policy, err := LoadPolicyFile(cfg.Auth.PolicyFile)
		if err != nil {
			return nil, err
		}
		policy.Apply(&cfg.Auth)
	}

	// ENVIRONMENT defaults to production; the mock needs an explicit development setting
	if cfg.IsDevelopment() && cfg.Auth.Mode == AuthModeProxy && cfg.Proxy.DevMockEmail == "" {
		cfg.Proxy.DevMockEmail = defaultDevMockEmail
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks field constraints and cross-field rules
func (c *Config) Validate() error {
	if err := utils.ValidateStruct(c); err != nil {
		if fields := utils.GetValidationFields(err); len(fields) > 0 {
			return fmt.Errorf("%w: %v", err, fields)
		}
		return err
	}

	switch c.Auth.Mode {
	case AuthModeBearer:
		if c.Entra.TenantID == "" {
			return errors.New("ENTRA_TENANT_ID is required in bearer mode")
		}
		if c.Entra.ClientID == "" {
			return errors.New("ENTRA_CLIENT_ID is required in bearer mode")
		}
	case AuthModeSession:
		if c.Supabase.URL == "" {
			return errors.New("SUPABASE_URL is required in session mode")
		}
		if _, err := url.ParseRequestURI(c.Supabase.URL); err != nil {
			return fmt.Errorf("SUPABASE_URL is invalid: %w", err)
		}
		if c.Supabase.AnonKey == "" {
			return errors.New("SUPABASE_ANON_KEY is required in session mode")
		}
	}

	if len(c.Auth.AllowedDomains) == 0 && !c.Auth.AllowAllDomains {
		return errors.New("AUTH_ALLOWED_DOMAINS is empty: set AUTH_ALLOW_ALL_DOMAINS=true to allow every domain")
	}
	if len(c.Auth.AllowedDomains) > 0 && c.Auth.AllowAllDomains {
		return errors.New("AUTH_ALLOWED_DOMAINS and AUTH_ALLOW_ALL_DOMAINS are mutually exclusive")
	}

	for _, prefix := range c.Auth.ProtectedPrefixes {
		if !strings.HasPrefix(prefix, "/") {
			return fmt.Errorf("protected prefix %q must start with /", prefix)
		}
	}

	if c.IsProduction() {
		if c.Proxy.DevMockEmail != "" {
			return errors.New("DEV_MOCK_EMAIL must not be set in production")
		}
		if !c.Auth.CookieSecure {
			return errors.New("AUTH_COOKIE_SECURE must be enabled in production")
		}
	}

	if c.Server.TLS.Enabled && (c.Server.TLS.CertFile == "" || c.Server.TLS.KeyFile == "") {
		return errors.New("TLS_CERT_FILE and TLS_KEY_FILE are required when TLS is enabled")
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

// Enabled reports whether a database is configured
func (c *DatabaseConfig) Enabled() bool {
	return c.ConnectionString != ""
}

// DSN returns the PostgreSQL connection string
func (c *DatabaseConfig) DSN() string {
	return c.ConnectionString
}

// LogString returns a safe string for logging (no password)
func (c *DatabaseConfig) LogString() string {
	u, err := url.Parse(c.ConnectionString)
	if err != nil || u.Host == "" {
		return "host=<from DATABASE_URL>"
	}
	port := u.Port()
	if port == "" {
		port = "5432"
	}
	return fmt.Sprintf("host=%s port=%s database=%s", u.Hostname(), port, strings.TrimPrefix(u.Path, "/"))
}

// Enabled reports whether a Redis state store is configured
func (c *RedisConfig) Enabled() bool {
	return c.URL != ""
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// getPort returns the platform-assigned PORT, 0 when unset or invalid
func getPort() int {
	if value := os.Getenv("PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	return 0
}

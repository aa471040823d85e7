package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/cassiomorais/pospay/internal/domain/payment"
	"github.com/spf13/viper"
)

// Provider names a station can be wired to.
const (
	ProviderNone        = "none"
	ProviderMock        = "mock"
	ProviderMercadoPago = "mercadopago"
	ProviderStone       = "stone"
)

// Lock store backends.
const (
	LockStoreMemory   = "memory"
	LockStoreRedis    = "redis"
	LockStorePostgres = "postgres"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Station       StationConfig       `mapstructure:"station"`
	Providers     ProvidersConfig     `mapstructure:"providers"`
	Storage       StorageConfig       `mapstructure:"storage"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Auth          AuthConfig          `mapstructure:"auth"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	RateLimit       int           `mapstructure:"rate_limit"`
	CORS            CORSConfig    `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	// Permission required on checkout routes.
	Permission string `mapstructure:"permission"`
}

// StationConfig describes the POS station this process serves.
type StationConfig struct {
	ID           string `mapstructure:"id"`
	TerminalHint string `mapstructure:"terminal_hint"`
	Provider     string `mapstructure:"provider"`
	// TimeoutSeconds is the authorization timeout; see Timeout.
	TimeoutSeconds    int            `mapstructure:"timeout_seconds"`
	PollInterval      time.Duration  `mapstructure:"poll_interval"`
	BusyRetryAttempts uint           `mapstructure:"busy_retry_attempts"`
	BusyRetryDelay    time.Duration  `mapstructure:"busy_retry_delay"`
	Description       string         `mapstructure:"description"`
	LeaseTTL          time.Duration  `mapstructure:"lease_ttl"`
	Methods           []MethodConfig `mapstructure:"methods"`
}

// MethodConfig is one configured payment method.
type MethodConfig struct {
	ID        string `mapstructure:"id"`
	Name      string `mapstructure:"name"`
	Type      string `mapstructure:"type"`
	TefMethod string `mapstructure:"tef_method"`
	NFCeCode  string `mapstructure:"nfce_code"`
	SortOrder int    `mapstructure:"sort_order"`
	Active    bool   `mapstructure:"active"`
}

type ProvidersConfig struct {
	RequestTimeout          time.Duration     `mapstructure:"request_timeout"`
	CircuitBreakerThreshold uint32            `mapstructure:"circuit_breaker_threshold"`
	CircuitBreakerTimeout   time.Duration     `mapstructure:"circuit_breaker_timeout"`
	MercadoPago             MercadoPagoConfig `mapstructure:"mercadopago"`
	Stone                   StoneConfig       `mapstructure:"stone"`
	Mock                    MockConfig        `mapstructure:"mock"`
}

type MercadoPagoConfig struct {
	BaseURL     string `mapstructure:"base_url"`
	AccessToken string `mapstructure:"access_token"`
	PixPOSID    string `mapstructure:"pix_pos_id"`
}

type StoneConfig struct {
	ClientID     string         `mapstructure:"client_id"`
	ClientSecret string         `mapstructure:"client_secret"`
	Environment  string         `mapstructure:"environment"`
	Homologacao  StoneURLConfig `mapstructure:"homologacao"`
	Producao     StoneURLConfig `mapstructure:"producao"`
}

type StoneURLConfig struct {
	AuthURL    string `mapstructure:"auth_url"`
	PaymentURL string `mapstructure:"payment_url"`
	StatusURL  string `mapstructure:"status_url"`
	CancelURL  string `mapstructure:"cancel_url"`
}

type MockConfig struct {
	Latency      time.Duration `mapstructure:"latency"`
	ApproveAfter int           `mapstructure:"approve_after"`
	FailureRate  float64       `mapstructure:"failure_rate"`
	DeclineRate  float64       `mapstructure:"decline_rate"`
	CancelOK     bool          `mapstructure:"cancel_ok"`
}

// StorageConfig selects where station state and the audit trail live.
type StorageConfig struct {
	LockStore     string `mapstructure:"lock_store"`
	AuditEnabled  bool   `mapstructure:"audit_enabled"`
	StreamEnabled bool   `mapstructure:"stream_enabled"`
	StreamMaxLen  int64  `mapstructure:"stream_max_len"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	MaxConnections  int           `mapstructure:"max_connections"`
	MinConnections  int           `mapstructure:"min_connections"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	SSLMode         string        `mapstructure:"ssl_mode"`
}

type RedisConfig struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	DB                int           `mapstructure:"db"`
	Password          string        `mapstructure:"password"`
	KeyPrefix         string        `mapstructure:"key_prefix"`
	ConnectRetries    int           `mapstructure:"connect_retries"`
	ConnectRetryDelay time.Duration `mapstructure:"connect_retry_delay"`
}

type ObservabilityConfig struct {
	LogLevel       string `mapstructure:"log_level"`
	LogFormat      string `mapstructure:"log_format"`
	JaegerEndpoint string `mapstructure:"jaeger_endpoint"`
	EnableMetrics  bool   `mapstructure:"enable_metrics"`
	EnableTracing  bool   `mapstructure:"enable_tracing"`
}

func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	// POSPAY_STATION_ID overrides station.id, and so on.
	v.SetEnvPrefix("POSPAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/pospay")

	// Config file is optional
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Server.ReadTimeout <= 0 {
		errs = append(errs, fmt.Errorf("server.read_timeout must be positive"))
	}
	if c.Server.WriteTimeout <= 0 {
		errs = append(errs, fmt.Errorf("server.write_timeout must be positive"))
	}
	if strings.TrimSpace(c.Station.ID) == "" {
		errs = append(errs, fmt.Errorf("station.id is required"))
	}
	if c.Station.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("station.poll_interval must be positive"))
	}
	if c.Station.BusyRetryAttempts == 0 {
		errs = append(errs, fmt.Errorf("station.busy_retry_attempts must be at least 1"))
	}

	switch c.Station.Provider {
	case ProviderNone, ProviderMock:
	case ProviderMercadoPago:
		if c.Providers.MercadoPago.AccessToken == "" {
			errs = append(errs, fmt.Errorf("providers.mercadopago.access_token is required"))
		}
	case ProviderStone:
		s := c.Providers.Stone
		if s.ClientID == "" || s.ClientSecret == "" {
			errs = append(errs, fmt.Errorf("providers.stone.client_id and client_secret are required"))
		}
		if s.Environment != "homologacao" && s.Environment != "producao" {
			errs = append(errs, fmt.Errorf("providers.stone.environment must be homologacao or producao, got %q", s.Environment))
		}
	default:
		errs = append(errs, fmt.Errorf("station.provider %q is not supported", c.Station.Provider))
	}
	if c.Station.Provider != ProviderNone && c.Station.Provider != ProviderMock && c.Station.TerminalHint == "" {
		errs = append(errs, fmt.Errorf("station.terminal_hint is required for provider %s", c.Station.Provider))
	}

	seen := make(map[string]bool, len(c.Station.Methods))
	for i, m := range c.Station.Methods {
		if m.ID == "" {
			errs = append(errs, fmt.Errorf("station.methods[%d].id is required", i))
			continue
		}
		if seen[m.ID] {
			errs = append(errs, fmt.Errorf("station.methods[%d].id %q is duplicated", i, m.ID))
		}
		seen[m.ID] = true
	}

	if !slices.Contains([]string{LockStoreMemory, LockStoreRedis, LockStorePostgres}, c.Storage.LockStore) {
		errs = append(errs, fmt.Errorf("storage.lock_store %q is not supported", c.Storage.LockStore))
	}
	if c.usesRedis() && c.Redis.Port <= 0 {
		errs = append(errs, fmt.Errorf("redis.port must be positive"))
	}
	if c.usesDatabase() {
		if c.Database.Host == "" {
			errs = append(errs, fmt.Errorf("database.host is required"))
		}
		if c.Database.Port <= 0 {
			errs = append(errs, fmt.Errorf("database.port must be positive"))
		}
	}

	// Production environment checks
	env := os.Getenv("ENV")
	if env == "production" || env == "prod" {
		if c.usesDatabase() && c.Database.Password == "" {
			errs = append(errs, fmt.Errorf("database.password required in production"))
		}
		if c.Auth.JWTSecret == "" {
			errs = append(errs, fmt.Errorf("auth.jwt_secret required in production"))
		}
		if c.Storage.LockStore == LockStoreMemory {
			errs = append(errs, fmt.Errorf("storage.lock_store must be persistent in production"))
		}
	}

	// JWT secret length validation
	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 32 {
		errs = append(errs, fmt.Errorf("auth.jwt_secret must be at least 32 characters"))
	}

	return errors.Join(errs...)
}

func (c *Config) usesRedis() bool {
	return c.Storage.LockStore == LockStoreRedis || c.Storage.StreamEnabled
}

func (c *Config) usesDatabase() bool {
	return c.Storage.LockStore == LockStorePostgres || c.Storage.AuditEnabled
}

// UsesRedis reports whether any configured component needs Redis.
func (c *Config) UsesRedis() bool { return c.usesRedis() }

// UsesDatabase reports whether any configured component needs PostgreSQL.
func (c *Config) UsesDatabase() bool { return c.usesDatabase() }

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.rate_limit", 120)
	v.SetDefault("server.cors.allowed_origins", []string{"*"})
	v.SetDefault("server.cors.allow_credentials", false)

	// Station defaults
	v.SetDefault("station.id", "station-1")
	v.SetDefault("station.provider", ProviderMock)
	v.SetDefault("station.timeout_seconds", 30)
	v.SetDefault("station.poll_interval", "3s")
	v.SetDefault("station.busy_retry_attempts", 3)
	v.SetDefault("station.busy_retry_delay", "5s")
	v.SetDefault("station.description", "Venda PDV")
	v.SetDefault("station.lease_ttl", "30s")

	// Provider defaults
	v.SetDefault("providers.request_timeout", "15s")
	v.SetDefault("providers.circuit_breaker_threshold", 5)
	v.SetDefault("providers.circuit_breaker_timeout", "30s")
	v.SetDefault("providers.mercadopago.base_url", "https://api.mercadopago.com")
	v.SetDefault("providers.stone.environment", "homologacao")
	v.SetDefault("providers.mock.latency", "200ms")
	v.SetDefault("providers.mock.approve_after", 2)
	v.SetDefault("providers.mock.cancel_ok", true)

	// Storage defaults
	v.SetDefault("storage.lock_store", LockStoreMemory)
	v.SetDefault("storage.audit_enabled", false)
	v.SetDefault("storage.stream_enabled", false)
	v.SetDefault("storage.stream_max_len", 10000)

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "pospay")
	v.SetDefault("database.database", "pospay")
	v.SetDefault("database.max_connections", 10)
	v.SetDefault("database.min_connections", 2)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.ssl_mode", "disable")

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "pospay")
	v.SetDefault("redis.connect_retries", 5)
	v.SetDefault("redis.connect_retry_delay", "1s")

	// Observability defaults
	v.SetDefault("observability.log_level", "info")
	v.SetDefault("observability.log_format", "json")
	v.SetDefault("observability.jaeger_endpoint", "http://localhost:14268/api/traces")
	v.SetDefault("observability.enable_metrics", true)
	v.SetDefault("observability.enable_tracing", false)

	// Auth defaults
	v.SetDefault("auth.permission", "pos:sell")
}

// Timeout is the authorization timeout clamped to [10s, 300s], 30s when unset.
func (s StationConfig) Timeout() time.Duration {
	return payment.ClampTimeout(s.TimeoutSeconds)
}

// PaymentMethods converts the configured methods to domain methods.
func (s StationConfig) PaymentMethods() []payment.PaymentMethod {
	out := make([]payment.PaymentMethod, 0, len(s.Methods))
	for _, m := range s.Methods {
		out = append(out, payment.PaymentMethod{
			ID:          m.ID,
			DisplayName: m.Name,
			Kind:        payment.ChannelKind(strings.ToLower(strings.TrimSpace(m.Type))),
			TefMethod:   m.TefMethod,
			NFCeCode:    m.NFCeCode,
			SortOrder:   m.SortOrder,
			Active:      m.Active,
		})
	}
	return out
}

// URLs returns the endpoints of one Stone environment.
func (s StoneConfig) URLs(env string) StoneURLConfig {
	if env == "producao" {
		return s.Producao
	}
	return s.Homologacao
}

func (c *DatabaseConfig) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// DatabaseURL is the URL form of the DSN used by migrations.
func (c *DatabaseConfig) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

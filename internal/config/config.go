package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
// Values are loaded from environment variables with sensible defaults.
type Config struct {
	// Server
	Port     int
	LogLevel string
	AppEnv   string // production, sandbox, development

	// HTTP client
	HTTPTimeout time.Duration

	// Bank API
	Santander SantanderConfig

	// mTLS client certificate
	Certificate CertificateConfig

	// Token cache
	TokenSafetyMargin time.Duration
	TokenDefaultTTL   time.Duration

	// Persistence
	StoreBackend       string // postgres, supabase, sqlite
	DatabaseURL        string
	SupabaseURL        string
	SupabaseAnonKey    string
	SupabaseServiceKey string

	// Sequencer lock; empty means in-process only
	RedisURL string

	// Resilience
	MaxRetries     int
	InitialBackoff time.Duration
	MaxConcurrency int

	// Cache
	StatusCacheTTL time.Duration

	// Reconciliation; zero disables the periodic run
	ReconcileInterval time.Duration

	// Observability
	OTLPEndpoint string

	// JWT / Auth
	JWTSecret string
}

// SantanderConfig is the bank endpoint and credential block.
type SantanderConfig struct {
	BaseURL            string
	WorkspaceID        string
	CovenantCode       string
	ClientID           string
	ClientSecret       string
	ApplicationKey     string
	Simulation         bool
	InsecureSkipVerify bool
	CAFile             string
	PixKey             string
	PixKeyType         string
	DocumentKind       string
}

// CertificateConfig locates the mTLS client certificate.
type CertificateConfig struct {
	Thumbprint     string
	Path           string
	Password       string
	KnownPasswords []string
	PlatformDirs   []string
	UserStore      string
	MachineStore   string
}

// LoadDotEnv reads a .env file into the environment. Existing variables win.
func LoadDotEnv(paths ...string) error {
	return godotenv.Load(paths...)
}

// Load reads configuration from environment variables with defaults.
func Load() *Config {
	clientID := getEnv("SANTANDER_CLIENT_ID", "")
	home, _ := os.UserHomeDir()

	return &Config{
		Port:     getEnvInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		AppEnv:   strings.ToLower(getEnv("APP_ENV", "development")),

		HTTPTimeout: getEnvDuration("HTTP_TIMEOUT", 30*time.Second),

		Santander: SantanderConfig{
			BaseURL:            strings.TrimRight(getEnv("SANTANDER_BASE_URL", "https://trust-open.api.santander.com.br"), "/"),
			WorkspaceID:        getEnv("SANTANDER_WORKSPACE_ID", ""),
			CovenantCode:       getEnv("SANTANDER_COVENANT_CODE", ""),
			ClientID:           clientID,
			ClientSecret:       getEnv("SANTANDER_CLIENT_SECRET", ""),
			ApplicationKey:     getEnv("SANTANDER_APPLICATION_KEY", clientID),
			Simulation:         getEnvBool("SANTANDER_SIMULATION", false),
			InsecureSkipVerify: getEnvBool("SANTANDER_INSECURE_SKIP_VERIFY", false),
			CAFile:             getEnv("SANTANDER_CA_FILE", ""),
			PixKey:             getEnv("SANTANDER_PIX_KEY", ""),
			PixKeyType:         getEnv("SANTANDER_PIX_KEY_TYPE", "CNPJ"),
			DocumentKind:       getEnv("SANTANDER_DOCUMENT_KIND", "DUPLICATA_MERCANTIL"),
		},

		Certificate: CertificateConfig{
			Thumbprint:     strings.ToUpper(strings.ReplaceAll(getEnv("CERT_THUMBPRINT", ""), ":", "")),
			Path:           getEnv("CERT_PATH", ""),
			Password:       getEnv("CERT_PASSWORD", ""),
			KnownPasswords: getEnvList("CERT_KNOWN_PASSWORDS", nil),
			PlatformDirs:   getEnvList("CERT_PLATFORM_DIRS", []string{"/var/ssl/private", "/var/ssl/certs"}),
			UserStore:      getEnv("CERT_USER_STORE", joinHome(home, ".certs")),
			MachineStore:   getEnv("CERT_MACHINE_STORE", "/etc/ssl/private"),
		},

		TokenSafetyMargin: getEnvDuration("TOKEN_SAFETY_MARGIN", 5*time.Minute),
		TokenDefaultTTL:   getEnvDuration("TOKEN_DEFAULT_TTL", time.Hour),

		StoreBackend:       strings.ToLower(getEnv("STORE_BACKEND", "postgres")),
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		SupabaseURL:        getEnv("SUPABASE_URL", ""),
		SupabaseAnonKey:    getEnv("SUPABASE_ANON_KEY", ""),
		SupabaseServiceKey: getEnv("SUPABASE_SERVICE_ROLE_KEY", ""),

		RedisURL: getEnv("REDIS_URL", ""),

		MaxRetries:     getEnvInt("MAX_RETRIES", 3),
		InitialBackoff: getEnvDuration("INITIAL_BACKOFF", 200*time.Millisecond),
		MaxConcurrency: getEnvInt("MAX_CONCURRENCY", 10),

		StatusCacheTTL: getEnvDuration("STATUS_CACHE_TTL", time.Minute),

		ReconcileInterval: getEnvDuration("RECONCILE_INTERVAL", 0),

		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),

		JWTSecret: getEnv("JWT_SECRET", "boletos-default-dev-secret-change-me"),
	}
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// Validate rejects combinations that must never reach production.
func (c *Config) Validate() error {
	var errs []error
	if c.IsProduction() {
		if c.Santander.InsecureSkipVerify {
			errs = append(errs, errors.New("SANTANDER_INSECURE_SKIP_VERIFY is not allowed in production"))
		}
		if c.Santander.Simulation {
			errs = append(errs, errors.New("SANTANDER_SIMULATION is not allowed in production"))
		}
		if c.JWTSecret == "boletos-default-dev-secret-change-me" {
			errs = append(errs, errors.New("JWT_SECRET must be set in production"))
		}
	}
	if !c.Santander.Simulation {
		if c.Santander.ClientID == "" || c.Santander.ClientSecret == "" {
			errs = append(errs, errors.New("SANTANDER_CLIENT_ID and SANTANDER_CLIENT_SECRET are required"))
		}
		if c.Santander.WorkspaceID == "" {
			errs = append(errs, errors.New("SANTANDER_WORKSPACE_ID is required"))
		}
	}
	if c.Santander.CovenantCode == "" {
		errs = append(errs, errors.New("SANTANDER_COVENANT_CODE is required"))
	}
	switch c.StoreBackend {
	case "postgres":
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres store"))
		}
	case "supabase":
		if c.SupabaseURL == "" || c.SupabaseServiceKey == "" {
			errs = append(errs, errors.New("SUPABASE_URL and SUPABASE_SERVICE_ROLE_KEY are required for the supabase store"))
		}
	case "sqlite":
		if c.IsProduction() {
			errs = append(errs, errors.New("the sqlite store is for local development only"))
		}
	default:
		errs = append(errs, errors.New("STORE_BACKEND must be postgres, supabase or sqlite"))
	}
	return errors.Join(errs...)
}

func joinHome(home, dir string) string {
	if home == "" {
		return ""
	}
	return home + string(os.PathSeparator) + dir
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

// getEnvList splits a comma-separated value. Blank entries are kept so an
// empty password can be listed explicitly ("a,,b").
func getEnvList(key string, fallback []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// Package config provides application configuration loaded from environment variables.
// Use the package-level Get() function to obtain the singleton Config instance.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// ──────────────────────────────────────────────────────────────────────────────
// Sub-config structs
// ──────────────────────────────────────────────────────────────────────────────

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port                 string        // e.g. "8080"
	BackofficePort       string        // e.g. "8081"
	Env                  string        // "development" | "production"
	ReadTimeout          time.Duration // default 10s
	WriteTimeout         time.Duration // default 10s
	BackofficeAllowedIPs string        // comma-separated IPs; "" = allow all
}

// DBConfig holds PostgreSQL connection settings.
type DBConfig struct {
	DSN             string        // full postgres DSN
	MaxOpenConns    int           // default 25
	MaxIdleConns    int           // default 10
	ConnMaxLifetime time.Duration // default 5m
	MigrationsDir   string        // default "migrations"
}

// AuthConfig holds the secrets used to verify identity tokens. Tokens are
// issued by the wallet-signature layer; this service only verifies them.
type AuthConfig struct {
	WalletSecret string // HMAC secret of wallet identity tokens
	AdminSecret  string // HMAC secret of backoffice tokens
}

// ManagedConfig holds subscription and withdrawal policy.
type ManagedConfig struct {
	MinPrincipal           float64 // default 500
	CooldownHours          float64 // default 6, clamped to [0, 168]
	EarlyWithdrawFeeRate   float64 // default 0.01, clamped to [0, 0.5]
	DrawdownAlertThreshold float64 // default 0.35, clamped to [0, 1]
	TrialTermDays          int     // default 1
	CatalogFile            string  // optional YAML catalog synced at boot
}

// WorkerConfig holds reconciliation worker settings.
type WorkerConfig struct {
	Enabled         bool          // default true
	RunOnce         bool          // run a single cycle and exit
	Interval        time.Duration // default 60s, minimum 10s
	MapBatch        int           // default 100
	NavBatch        int           // default 500
	SettlementBatch int           // default 300
	LeaseTTL        time.Duration // default 5m
	RedisURL        string        // "" = no cross-process lease
}

// AffiliateConfig holds the profit-fee distribution endpoint.
type AffiliateConfig struct {
	BaseURL string        // "" = distribution disabled
	APIKey  string        // sent as a bearer token
	Timeout time.Duration // default 5s
}

// RateLimitConfig holds the per-client request limiter.
type RateLimitConfig struct {
	RPS   float64 // default 5
	Burst int     // default 20
}

// ──────────────────────────────────────────────────────────────────────────────
// Top-level Config
// ──────────────────────────────────────────────────────────────────────────────

// Config is the root configuration object for the entire application.
type Config struct {
	Server    ServerConfig
	DB        DBConfig
	Auth      AuthConfig
	Managed   ManagedConfig
	Worker    WorkerConfig
	Affiliate AffiliateConfig
	RateLimit RateLimitConfig
}

// MinWorkerInterval is the shortest accepted worker interval.
const MinWorkerInterval = 10 * time.Second

// IsProd returns true when running in the production environment.
func (c *Config) IsProd() bool {
	return c.Server.Env == "production"
}

// Validate checks that all required configuration values are present and valid.
func (c *Config) Validate() error {
	var errs []error

	if c.Auth.WalletSecret == "" {
		errs = append(errs, errors.New("JWT_WALLET_SECRET must be set"))
	}
	if c.IsProd() && c.Auth.AdminSecret == "" {
		errs = append(errs, errors.New("JWT_ADMIN_SECRET must be set in production"))
	}
	if c.IsProd() && c.DB.DSN == "" {
		errs = append(errs, errors.New("DATABASE_DSN must be set in production"))
	}

	if c.Managed.MinPrincipal < 0 {
		errs = append(errs, fmt.Errorf("PARTICIPATION_MANAGED_MIN_PRINCIPAL_USD must be >= 0, got %.2f", c.Managed.MinPrincipal))
	}
	if c.Managed.TrialTermDays < 0 {
		errs = append(errs, fmt.Errorf("MANAGED_TRIAL_TERM_DAYS must be >= 0, got %d", c.Managed.TrialTermDays))
	}

	if c.Worker.MapBatch <= 0 || c.Worker.NavBatch <= 0 || c.Worker.SettlementBatch <= 0 {
		errs = append(errs, fmt.Errorf(
			"worker batch sizes must be positive (map=%d nav=%d settlement=%d)",
			c.Worker.MapBatch, c.Worker.NavBatch, c.Worker.SettlementBatch,
		))
	}

	if c.RateLimit.RPS <= 0 || c.RateLimit.Burst <= 0 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Singleton
// ──────────────────────────────────────────────────────────────────────────────

var (
	instance *Config
	once     sync.Once
	loadErr  error
)

// Get returns the singleton Config, loading it once from environment variables.
// Panics if loading fails — call this early in main() to catch misconfigurations
// at startup.
func Get() *Config {
	once.Do(func() {
		instance, loadErr = load()
	})
	if loadErr != nil {
		panic(fmt.Sprintf("config: failed to load: %v", loadErr))
	}
	return instance
}

// MustLoad loads and validates configuration. Intended for use in main().
// Panics on any error so misconfiguration is caught immediately at boot.
func MustLoad() *Config {
	cfg := Get()
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("config: validation failed: %v", err))
	}
	return cfg
}

// ──────────────────────────────────────────────────────────────────────────────
// Internal loader
// ──────────────────────────────────────────────────────────────────────────────

func load() (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg := &Config{}

	// ── Server ────────────────────────────────────────────────────────────────
	cfg.Server = ServerConfig{
		Port:                 getEnv("SERVER_PORT", "8080"),
		BackofficePort:       getEnv("BACKOFFICE_PORT", "8081"),
		Env:                  getEnv("ENVIRONMENT", "development"),
		ReadTimeout:          getDuration("SERVER_READ_TIMEOUT", 10*time.Second),
		WriteTimeout:         getDuration("SERVER_WRITE_TIMEOUT", 10*time.Second),
		BackofficeAllowedIPs: getEnv("BACKOFFICE_ALLOWED_IPS", ""),
	}

	// ── Database ──────────────────────────────────────────────────────────────
	dsn := os.Getenv("DATABASE_DSN")
	if dsn == "" {
		// Build DSN from individual components for convenience in dev
		dsn = fmt.Sprintf(
			"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
			getEnv("DB_HOST", "localhost"),
			getEnv("DB_PORT", "5432"),
			getEnv("DB_USER", "postgres"),
			getEnv("DB_PASSWORD", ""),
			getEnv("DB_NAME", "evetabi_managed"),
			getEnv("DB_SSLMODE", "disable"),
		)
	}

	maxOpen, err := getInt("DB_MAX_OPEN_CONNS", 25)
	if err != nil {
		return nil, fmt.Errorf("DB_MAX_OPEN_CONNS: %w", err)
	}
	maxIdle, err := getInt("DB_MAX_IDLE_CONNS", 10)
	if err != nil {
		return nil, fmt.Errorf("DB_MAX_IDLE_CONNS: %w", err)
	}

	cfg.DB = DBConfig{
		DSN:             dsn,
		MaxOpenConns:    maxOpen,
		MaxIdleConns:    maxIdle,
		ConnMaxLifetime: getDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		MigrationsDir:   getEnv("MIGRATIONS_DIR", "migrations"),
	}

	// ── Auth ──────────────────────────────────────────────────────────────────
	cfg.Auth = AuthConfig{
		WalletSecret: getEnv("JWT_WALLET_SECRET", ""),
		AdminSecret:  getEnv("JWT_ADMIN_SECRET", ""),
	}

	// ── Managed wealth policy ─────────────────────────────────────────────────
	minPrincipal, err := getFloat("PARTICIPATION_MANAGED_MIN_PRINCIPAL_USD", 500)
	if err != nil {
		return nil, fmt.Errorf("PARTICIPATION_MANAGED_MIN_PRINCIPAL_USD: %w", err)
	}
	cooldown, err := getClampedFloat("MANAGED_WITHDRAW_COOLDOWN_HOURS", 6, 0, 168)
	if err != nil {
		return nil, fmt.Errorf("MANAGED_WITHDRAW_COOLDOWN_HOURS: %w", err)
	}
	feeRate, err := getClampedFloat("MANAGED_EARLY_WITHDRAW_FEE_RATE", 0.01, 0, 0.5)
	if err != nil {
		return nil, fmt.Errorf("MANAGED_EARLY_WITHDRAW_FEE_RATE: %w", err)
	}
	drawdown, err := getClampedFloat("MANAGED_WITHDRAW_DRAWDOWN_ALERT_THRESHOLD", 0.35, 0, 1)
	if err != nil {
		return nil, fmt.Errorf("MANAGED_WITHDRAW_DRAWDOWN_ALERT_THRESHOLD: %w", err)
	}
	trialDays, err := getInt("MANAGED_TRIAL_TERM_DAYS", 1)
	if err != nil {
		return nil, fmt.Errorf("MANAGED_TRIAL_TERM_DAYS: %w", err)
	}

	cfg.Managed = ManagedConfig{
		MinPrincipal:           minPrincipal,
		CooldownHours:          cooldown,
		EarlyWithdrawFeeRate:   feeRate,
		DrawdownAlertThreshold: drawdown,
		TrialTermDays:          trialDays,
		CatalogFile:            getEnv("MANAGED_CATALOG_FILE", ""),
	}

	// ── Worker ────────────────────────────────────────────────────────────────
	mapBatch, err := getInt("MANAGED_WEALTH_MAP_BATCH", 100)
	if err != nil {
		return nil, fmt.Errorf("MANAGED_WEALTH_MAP_BATCH: %w", err)
	}
	navBatch, err := getInt("MANAGED_WEALTH_NAV_BATCH", 500)
	if err != nil {
		return nil, fmt.Errorf("MANAGED_WEALTH_NAV_BATCH: %w", err)
	}
	settleBatch, err := getInt("MANAGED_WEALTH_SETTLEMENT_BATCH", 300)
	if err != nil {
		return nil, fmt.Errorf("MANAGED_WEALTH_SETTLEMENT_BATCH: %w", err)
	}
	interval := getDuration("MANAGED_WEALTH_LOOP_INTERVAL", 60*time.Second)
	if interval < MinWorkerInterval {
		interval = MinWorkerInterval
	}

	cfg.Worker = WorkerConfig{
		Enabled:         getBool("MANAGED_WEALTH_ENABLED", true),
		RunOnce:         getBool("MANAGED_WEALTH_RUN_ONCE", false),
		Interval:        interval,
		MapBatch:        mapBatch,
		NavBatch:        navBatch,
		SettlementBatch: settleBatch,
		LeaseTTL:        getDuration("MANAGED_WEALTH_LEASE_TTL", 5*time.Minute),
		RedisURL:        getEnv("REDIS_URL", ""),
	}

	// ── Affiliate ─────────────────────────────────────────────────────────────
	cfg.Affiliate = AffiliateConfig{
		BaseURL: getEnv("AFFILIATE_API_URL", ""),
		APIKey:  getEnv("AFFILIATE_API_KEY", ""),
		Timeout: getDuration("AFFILIATE_API_TIMEOUT", 5*time.Second),
	}

	// ── Rate limit ────────────────────────────────────────────────────────────
	rps, err := getFloat("RATE_LIMIT_RPS", 5)
	if err != nil {
		return nil, fmt.Errorf("RATE_LIMIT_RPS: %w", err)
	}
	burst, err := getInt("RATE_LIMIT_BURST", 20)
	if err != nil {
		return nil, fmt.Errorf("RATE_LIMIT_BURST: %w", err)
	}
	cfg.RateLimit = RateLimitConfig{RPS: rps, Burst: burst}

	return cfg, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Helper functions
// ──────────────────────────────────────────────────────────────────────────────

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q", v)
	}
	return n, nil
}

func getFloat(key string, defaultVal float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("invalid float %q", v)
	}
	return f, nil
}

// getClampedFloat parses a float and clamps it into [lo, hi].
func getClampedFloat(key string, defaultVal, lo, hi float64) (float64, error) {
	f, err := getFloat(key, defaultVal)
	if err != nil {
		return 0, err
	}
	return math.Min(hi, math.Max(lo, f)), nil
}

// getBool accepts the forms strconv.ParseBool understands. Unparseable
// values fall back to defaultVal.
func getBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

// getDuration parses an env var as a Go duration string (e.g. "15m", "2s").
// A bare integer is read as seconds. Falls back to defaultVal if the variable
// is unset or unparseable.
func getDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

// config.go

// Environment variable loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store drivers accepted by STORE_DRIVER.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Password hashers accepted by PASSWORD_HASHER.
const (
	HasherArgon2id = "argon2id"
	HasherBcrypt   = "bcrypt"
)

// RatePolicy is a fixed-window limit: Max attempts per Window, then locked for Lockout.
type RatePolicy struct {
	Max     int
	Window  time.Duration
	Lockout time.Duration
}

// Config holds all env configuration for gatehouse.
type Config struct {
	Port     string
	LogLevel slog.Level

	// Persistence. DatabaseURL is required for postgres; SQLitePath for sqlite.
	StoreDriver string
	DatabaseURL string
	SQLitePath  string

	// RedisURL is optional. Empty disables the session cache, rate limiting, and the mail queue.
	RedisURL string

	// CookieSecure marks cookies Secure and uses the __Host- prefix. Only "false" disables it.
	CookieSecure bool

	SessionTTL        time.Duration
	VerifyTokenTTL    time.Duration
	ResetTokenTTL     time.Duration
	TokenGCInterval   time.Duration
	SessionGCInterval time.Duration

	PasswordHasher  string
	BcryptCost      int
	Argon2Time      uint32
	Argon2MemoryKiB uint32
	Argon2Threads   uint8

	// SMTP is optional; empty Host means email goes to NopMailer.
	SMTPHost          string
	SMTPPort          string
	SMTPUsername      string
	SMTPPassword      string
	SMTPFromAddress   string
	SMTPResetURLBase  string
	SMTPVerifyURLBase string
	MailQueueMax      int

	// Google sign-in is enabled when GoogleClientID is set.
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	RateLogin  RatePolicy
	RateSignup RatePolicy
	RateForgot RatePolicy
}

// LoadConfig reads the environment (after an optional .env file) and returns a validated Config.
func LoadConfig() (*Config, error) {
	// A missing .env is normal outside local dev.
	_ = godotenv.Load()

	cfg := &Config{}

	cfg.Port = os.Getenv("PORT")
	if cfg.Port == "" {
		cfg.Port = "7865"
	}

	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		cfg.LogLevel = slog.LevelDebug
	case "warn":
		cfg.LogLevel = slog.LevelWarn
	case "error":
		cfg.LogLevel = slog.LevelError
	default:
		cfg.LogLevel = slog.LevelInfo
	}

	cfg.StoreDriver = strings.ToLower(os.Getenv("STORE_DRIVER"))
	if cfg.StoreDriver == "" {
		cfg.StoreDriver = DriverPostgres
	}
	switch cfg.StoreDriver {
	case DriverPostgres:
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required when STORE_DRIVER=postgres")
		}
	case DriverSQLite:
		cfg.SQLitePath = os.Getenv("SQLITE_PATH")
		if cfg.SQLitePath == "" {
			cfg.SQLitePath = "gatehouse.db"
		}
	default:
		return nil, fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", DriverPostgres, DriverSQLite, cfg.StoreDriver)
	}

	cfg.RedisURL = os.Getenv("REDIS_URL")

	// Default true; only explicit "false" disables.
	cfg.CookieSecure = os.Getenv("COOKIE_SECURE") != "false"

	cfg.SessionTTL = envDuration("SESSION_TTL", 24*time.Hour)
	cfg.VerifyTokenTTL = envDuration("VERIFY_TOKEN_TTL", 24*time.Hour)
	cfg.ResetTokenTTL = envDuration("RESET_TOKEN_TTL", time.Hour)
	cfg.TokenGCInterval = envDuration("TOKEN_GC_INTERVAL", time.Hour)
	cfg.SessionGCInterval = envDuration("SESSION_GC_INTERVAL", 24*time.Hour)

	cfg.PasswordHasher = strings.ToLower(os.Getenv("PASSWORD_HASHER"))
	if cfg.PasswordHasher == "" {
		cfg.PasswordHasher = HasherArgon2id
	}
	if cfg.PasswordHasher != HasherArgon2id && cfg.PasswordHasher != HasherBcrypt {
		return nil, fmt.Errorf("PASSWORD_HASHER must be %q or %q, got %q", HasherArgon2id, HasherBcrypt, cfg.PasswordHasher)
	}
	cfg.BcryptCost = envInt("BCRYPT_COST", 12)
	cfg.Argon2Time = uint32(envInt("ARGON2_TIME", 3))
	cfg.Argon2MemoryKiB = uint32(envInt("ARGON2_MEMORY_KIB", 64*1024))
	cfg.Argon2Threads = uint8(min(envInt("ARGON2_THREADS", 2), 255))

	cfg.SMTPHost = os.Getenv("SMTP_HOST")
	cfg.SMTPPort = os.Getenv("SMTP_PORT")
	if cfg.SMTPPort == "" {
		cfg.SMTPPort = "587"
	}
	cfg.SMTPUsername = os.Getenv("SMTP_USERNAME")
	cfg.SMTPPassword = os.Getenv("SMTP_PASSWORD")
	cfg.SMTPFromAddress = os.Getenv("SMTP_FROM")
	cfg.SMTPResetURLBase = os.Getenv("SMTP_RESET_URL")
	cfg.SMTPVerifyURLBase = os.Getenv("SMTP_VERIFY_URL")
	cfg.MailQueueMax = envInt("MAIL_QUEUE_MAX", 1000)

	// Tokens in emailed links must not travel over plain HTTP.
	if cfg.SMTPHost != "" {
		if cfg.SMTPFromAddress == "" {
			return nil, fmt.Errorf("SMTP_FROM is required when SMTP_HOST is set")
		}
		if !strings.HasPrefix(cfg.SMTPResetURLBase, "https://") {
			return nil, fmt.Errorf("SMTP_RESET_URL must be set and start with https://")
		}
		if !strings.HasPrefix(cfg.SMTPVerifyURLBase, "https://") {
			return nil, fmt.Errorf("SMTP_VERIFY_URL must be set and start with https://")
		}
	}

	cfg.GoogleClientID = os.Getenv("GOOGLE_CLIENT_ID")
	cfg.GoogleClientSecret = os.Getenv("GOOGLE_CLIENT_SECRET")
	cfg.GoogleRedirectURL = os.Getenv("GOOGLE_REDIRECT_URL")
	if cfg.GoogleClientID != "" && (cfg.GoogleClientSecret == "" || cfg.GoogleRedirectURL == "") {
		return nil, fmt.Errorf("GOOGLE_CLIENT_SECRET and GOOGLE_REDIRECT_URL are required when GOOGLE_CLIENT_ID is set")
	}

	// Invalid or missing values fall back to defaults so a typo never disables limiting.
	cfg.RateLogin = envRate("RATE_LOGIN", RatePolicy{Max: 10, Window: 10 * time.Minute, Lockout: 15 * time.Minute})
	cfg.RateSignup = envRate("RATE_SIGNUP", RatePolicy{Max: 5, Window: time.Hour, Lockout: time.Hour})
	cfg.RateForgot = envRate("RATE_FORGOT", RatePolicy{Max: 3, Window: time.Hour, Lockout: time.Hour})

	return cfg, nil
}

// envRate reads <prefix>_MAX, <prefix>_WINDOW, and <prefix>_LOCKOUT.
func envRate(prefix string, def RatePolicy) RatePolicy {
	return RatePolicy{
		Max:     envInt(prefix+"_MAX", def.Max),
		Window:  envDuration(prefix+"_WINDOW", def.Window),
		Lockout: envDuration(prefix+"_LOCKOUT", def.Lockout),
	}
}

// envInt reads an env var as a positive int, returning def if missing or unparseable.
func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		slog.Warn("invalid env var, using default", "key", key, "value", v, "default", def)
		return def
	}
	return n
}

// envDuration reads an env var as a positive time.Duration, returning def if missing or unparseable.
func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		slog.Warn("invalid env var, using default", "key", key, "value", v, "default", def)
		return def
	}
	return d
}

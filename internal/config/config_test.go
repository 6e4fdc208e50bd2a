package config

import (
	"testing"
	"time"
)

// --- LoadConfig ---

func TestLoadConfig(t *testing.T) {
	// Helper sets the minimum env for a valid postgres config.
	setRequired := func(t *testing.T) {
		t.Helper()
		t.Setenv("STORE_DRIVER", "")
		t.Setenv("DATABASE_URL", "postgres://localhost/gatehouse")
		t.Setenv("SMTP_HOST", "")
		t.Setenv("GOOGLE_CLIENT_ID", "")
		t.Setenv("PASSWORD_HASHER", "")
	}

	t.Run("returns valid config with required vars", func(t *testing.T) {
		setRequired(t)
		t.Setenv("REDIS_URL", "redis://localhost:6379")

		cfg, err := LoadConfig()
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		if cfg.StoreDriver != DriverPostgres {
			t.Errorf("StoreDriver: expected %q, got %q", DriverPostgres, cfg.StoreDriver)
		}
		if cfg.DatabaseURL != "postgres://localhost/gatehouse" {
			t.Errorf("DatabaseURL: expected %q, got %q", "postgres://localhost/gatehouse", cfg.DatabaseURL)
		}
		if cfg.RedisURL != "redis://localhost:6379" {
			t.Errorf("RedisURL: expected %q, got %q", "redis://localhost:6379", cfg.RedisURL)
		}
	})

	t.Run("errors when DATABASE_URL is missing for postgres", func(t *testing.T) {
		setRequired(t)
		t.Setenv("DATABASE_URL", "")

		if _, err := LoadConfig(); err == nil {
			t.Fatal("expected error for missing DATABASE_URL, got nil")
		}
	})

	t.Run("sqlite needs no DATABASE_URL and defaults its path", func(t *testing.T) {
		setRequired(t)
		t.Setenv("STORE_DRIVER", "sqlite")
		t.Setenv("DATABASE_URL", "")
		t.Setenv("SQLITE_PATH", "")

		cfg, err := LoadConfig()
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		if cfg.SQLitePath != "gatehouse.db" {
			t.Errorf("SQLitePath: expected %q, got %q", "gatehouse.db", cfg.SQLitePath)
		}
	})

	t.Run("rejects unknown STORE_DRIVER", func(t *testing.T) {
		setRequired(t)
		t.Setenv("STORE_DRIVER", "mysql")

		if _, err := LoadConfig(); err == nil {
			t.Fatal("expected error for unknown driver, got nil")
		}
	})

	t.Run("REDIS_URL is optional", func(t *testing.T) {
		setRequired(t)
		t.Setenv("REDIS_URL", "")

		cfg, err := LoadConfig()
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		if cfg.RedisURL != "" {
			t.Errorf("RedisURL: expected empty, got %q", cfg.RedisURL)
		}
	})

	t.Run("defaults PORT to 7865", func(t *testing.T) {
		setRequired(t)
		t.Setenv("PORT", "")

		cfg, err := LoadConfig()
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		if cfg.Port != "7865" {
			t.Errorf("Port: expected %q, got %q", "7865", cfg.Port)
		}
	})

	t.Run("token and gc defaults", func(t *testing.T) {
		setRequired(t)
		for _, k := range []string{"SESSION_TTL", "VERIFY_TOKEN_TTL", "RESET_TOKEN_TTL", "TOKEN_GC_INTERVAL", "SESSION_GC_INTERVAL"} {
			t.Setenv(k, "")
		}

		cfg, err := LoadConfig()
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		checks := []struct {
			name      string
			got, want time.Duration
		}{
			{"SessionTTL", cfg.SessionTTL, 24 * time.Hour},
			{"VerifyTokenTTL", cfg.VerifyTokenTTL, 24 * time.Hour},
			{"ResetTokenTTL", cfg.ResetTokenTTL, time.Hour},
			{"TokenGCInterval", cfg.TokenGCInterval, time.Hour},
			{"SessionGCInterval", cfg.SessionGCInterval, 24 * time.Hour},
		}
		for _, c := range checks {
			if c.got != c.want {
				t.Errorf("%s: expected %v, got %v", c.name, c.want, c.got)
			}
		}
	})

	t.Run("password hasher selection", func(t *testing.T) {
		setRequired(t)
		t.Setenv("PASSWORD_HASHER", "BCRYPT")
		cfg, err := LoadConfig()
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		if cfg.PasswordHasher != HasherBcrypt {
			t.Errorf("PasswordHasher: expected %q, got %q", HasherBcrypt, cfg.PasswordHasher)
		}

		t.Setenv("PASSWORD_HASHER", "md5")
		if _, err := LoadConfig(); err == nil {
			t.Error("expected error for unsupported hasher, got nil")
		}
	})

	t.Run("SMTP requires https link bases", func(t *testing.T) {
		setRequired(t)
		t.Setenv("SMTP_HOST", "smtp.example.com")
		t.Setenv("SMTP_FROM", "noreply@example.com")
		t.Setenv("SMTP_RESET_URL", "http://example.com/reset")
		t.Setenv("SMTP_VERIFY_URL", "https://example.com/verify")

		if _, err := LoadConfig(); err == nil {
			t.Fatal("expected error for plain-http reset url, got nil")
		}

		t.Setenv("SMTP_RESET_URL", "https://example.com/reset")
		if _, err := LoadConfig(); err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
	})

	t.Run("Google needs secret and redirect", func(t *testing.T) {
		setRequired(t)
		t.Setenv("GOOGLE_CLIENT_ID", "client")
		t.Setenv("GOOGLE_CLIENT_SECRET", "")

		if _, err := LoadConfig(); err == nil {
			t.Fatal("expected error for missing GOOGLE_CLIENT_SECRET, got nil")
		}
	})

	t.Run("CookieSecure is false only when explicitly set to false", func(t *testing.T) {
		setRequired(t)
		for _, val := range []string{"", "true", "1", "FALSE", "typo"} {
			t.Setenv("COOKIE_SECURE", val)
			cfg, err := LoadConfig()
			if err != nil {
				t.Fatalf("LoadConfig failed for %q: %v", val, err)
			}
			if !cfg.CookieSecure {
				t.Errorf("CookieSecure should be true for %q", val)
			}
		}

		t.Setenv("COOKIE_SECURE", "false")
		cfg, err := LoadConfig()
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		if cfg.CookieSecure {
			t.Error("CookieSecure should be false when COOKIE_SECURE is \"false\"")
		}
	})

	t.Run("invalid rate values fall back to defaults", func(t *testing.T) {
		setRequired(t)
		t.Setenv("RATE_LOGIN_MAX", "-4")
		t.Setenv("RATE_LOGIN_WINDOW", "soon")
		t.Setenv("RATE_LOGIN_LOCKOUT", "30m")

		cfg, err := LoadConfig()
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		want := RatePolicy{Max: 10, Window: 10 * time.Minute, Lockout: 30 * time.Minute}
		if cfg.RateLogin != want {
			t.Errorf("RateLogin: expected %+v, got %+v", want, cfg.RateLogin)
		}
	})
}

// --- env helpers ---

func TestEnvInt(t *testing.T) {
	t.Setenv("GH_TEST_INT", "42")
	if got := envInt("GH_TEST_INT", 1); got != 42 {
		t.Errorf("expected 42, got %d", got)
	}
	t.Setenv("GH_TEST_INT", "0")
	if got := envInt("GH_TEST_INT", 1); got != 1 {
		t.Errorf("zero should fall back: got %d", got)
	}
}

func TestEnvDuration(t *testing.T) {
	t.Setenv("GH_TEST_DUR", "90s")
	if got := envDuration("GH_TEST_DUR", time.Second); got != 90*time.Second {
		t.Errorf("expected 90s, got %v", got)
	}
	t.Setenv("GH_TEST_DUR", "-5m")
	if got := envDuration("GH_TEST_DUR", time.Second); got != time.Second {
		t.Errorf("negative should fall back: got %v", got)
	}
}

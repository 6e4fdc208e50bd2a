package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/MGallo-Code/gatehouse/internal/auth"
	"github.com/MGallo-Code/gatehouse/internal/config"
	"github.com/MGallo-Code/gatehouse/internal/credential"
	"github.com/MGallo-Code/gatehouse/internal/gc"
	"github.com/MGallo-Code/gatehouse/internal/mail"
	"github.com/MGallo-Code/gatehouse/internal/oauth"
	"github.com/MGallo-Code/gatehouse/internal/store"
	"github.com/MGallo-Code/gatehouse/internal/tokens"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		// Fallback logger if config never loaded.
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

// setupLogging installs the JSON slog handler at the configured level.
// Source locations are included at debug level only.
func setupLogging(cfg *config.Config) {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     cfg.LogLevel,
		AddSource: cfg.LogLevel == slog.LevelDebug,
	})))
}

// durableStore is the SQL backend: Postgres in production, SQLite for
// development and tests.
type durableStore interface {
	credential.Repository
	tokens.Repository
	auth.SessionStore
	auth.Directory
	DeleteExpiredSessions(ctx context.Context, cutoff time.Time) (int64, error)
	CheckHealth(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// openStore connects to the configured driver. Migrations are the caller's concern.
func openStore(ctx context.Context, cfg *config.Config) (durableStore, error) {
	switch cfg.StoreDriver {
	case config.DriverSQLite:
		db, err := store.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		return db, nil
	default:
		db, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to set up postgres store: %w", err)
		}
		return db, nil
	}
}

// newHasher returns the hasher new passwords are stored with.
func newHasher(cfg *config.Config) credential.Hasher {
	if cfg.PasswordHasher == config.HasherBcrypt {
		return credential.NewBcryptHasher(cfg.BcryptCost)
	}
	return credential.NewArgon2Hasher(credential.Argon2Params{
		Time:      cfg.Argon2Time,
		MemoryKiB: cfg.Argon2MemoryKiB,
		Threads:   cfg.Argon2Threads,
	})
}

func rateLimit(p config.RatePolicy) store.RateLimit {
	return store.RateLimit{MaxAttempts: p.Max, Window: p.Window, LockoutTTL: p.Lockout}
}

// sessionSweep deletes sessions whose expiry has passed.
func sessionSweep(db durableStore) gc.SweepFunc {
	return func(ctx context.Context) (int64, error) {
		return db.DeleteExpiredSessions(ctx, time.Now())
	}
}

// run holds all server logic and returns error instead of calling os.Exit,
// so deferred resource cleanup always runs.
// Shuts down when ctx is cancelled (signal handling is the caller's concern).
// If ready is non-nil, the server's base URL is sent on it once the listener is bound.
func run(ctx context.Context, cfg *config.Config, ready chan<- string) error {
	db, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	// Redis is optional; without it sessions live only in SQL and nothing is rate limited.
	var (
		rdb     *redis.Client
		cache   interface {
			auth.SessionCache
			auth.HealthChecker
		} = store.NoopSessionCache{}
		limiter auth.RateLimiter = store.NoopRateLimiter{}
	)
	if cfg.RedisURL != "" {
		rdb, err = store.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to set up redis client: %w", err)
		}
		defer rdb.Close()
		cache = store.NewRedisStore(rdb)
		limiter = store.NewRedisRateLimiter(rdb)
	} else {
		slog.Warn("REDIS_URL not set: session cache and rate limiting disabled")
	}

	users, err := credential.New(db, newHasher(cfg))
	if err != nil {
		return fmt.Errorf("failed to set up credential store: %w", err)
	}
	toks := tokens.NewManager(db)

	// Background workers share workerCtx and are waited on before run returns.
	workerCtx, cancelWorkers := context.WithCancel(ctx)
	var workers sync.WaitGroup
	defer func() {
		cancelWorkers()
		workers.Wait()
	}()

	var mailer mail.Mailer = mail.NopMailer{}
	if cfg.SMTPHost != "" {
		smtp := mail.NewSMTPMailer(mail.SMTPConfig{
			Host:          cfg.SMTPHost,
			Port:          cfg.SMTPPort,
			Username:      cfg.SMTPUsername,
			Password:      cfg.SMTPPassword,
			FromAddress:   cfg.SMTPFromAddress,
			VerifyURLBase: cfg.SMTPVerifyURLBase,
			ResetURLBase:  cfg.SMTPResetURLBase,
		})
		mailer = smtp
		if rdb != nil {
			q := mail.NewQueuedMailer(smtp, rdb, int64(cfg.MailQueueMax))
			workers.Add(1)
			go func() {
				defer workers.Done()
				q.Run(workerCtx)
			}()
			mailer = q
		}
	} else {
		slog.Warn("SMTP_HOST not set: emails are dropped")
	}

	providers := oauth.NewRegistry()
	if cfg.GoogleClientID != "" {
		google, err := oauth.NewGoogleProvider(ctx, cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURL)
		if err != nil {
			return fmt.Errorf("failed to set up google provider: %w", err)
		}
		providers = oauth.NewRegistry(google)
	}

	sessions := auth.NewSessionManager(db, cache, cfg.SessionTTL)
	h := &auth.Handler{
		Svc: auth.NewService(users, toks, mailer, sessions, db, auth.TokenTTLs{
			Verify: cfg.VerifyTokenTTL,
			Reset:  cfg.ResetTokenTTL,
		}),
		Sessions:  sessions,
		Limiter:   limiter,
		Providers: providers,
		Cookies:   auth.Cookies{Secure: cfg.CookieSecure},
		Rates: auth.RatePolicies{
			Login:  rateLimit(cfg.RateLogin),
			Signup: rateLimit(cfg.RateSignup),
			Forgot: rateLimit(cfg.RateForgot),
		},
		DB:    db,
		Cache: cache,
	}

	tokenGC := gc.New("tokens", toks.SweepExpired)
	tokenGC.Start(cfg.TokenGCInterval)
	defer tokenGC.Stop()
	sessionGC := gc.New("sessions", sessionSweep(db))
	sessionGC.Start(cfg.SessionGCInterval)
	defer sessionGC.Stop()

	// Bind listener; ":0" picks a free port (useful in tests).
	ln, err := net.Listen("tcp", ":"+cfg.Port)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	server := &http.Server{Handler: buildRouter(h)}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("gatehouse listening", "addr", ln.Addr().String(), "store", cfg.StoreDriver)
		// Send error only if server stops for a reason other than explicit shutdown.
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Signal readiness to caller (used by tests; nil in production).
	if ready != nil {
		ready <- "http://" + ln.Addr().String()
	}

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	// Stops accepting, then waits for in-flight requests or the timeout.
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}

	slog.Info("server stopped")
	return nil
}

// buildRouter wires all routes and middleware.
// Called from run() and from smoke tests.
func buildRouter(h *auth.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	h.Routes(r)
	return r
}

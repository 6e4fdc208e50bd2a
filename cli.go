// cli.go -- Command tree: serve (default), migrate, gc, user create.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/MGallo-Code/gatehouse/internal/auth"
	"github.com/MGallo-Code/gatehouse/internal/config"
	"github.com/MGallo-Code/gatehouse/internal/credential"
	"github.com/MGallo-Code/gatehouse/internal/gc"
	"github.com/MGallo-Code/gatehouse/internal/tokens"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// readPassword is a test seam for term.ReadPassword.
var readPassword = term.ReadPassword

// loadConfig is a test seam for config.LoadConfig.
var loadConfig = config.LoadConfig

func newRootCmd() *cobra.Command {
	var cfg *config.Config

	root := &cobra.Command{
		Use:           "gatehouse",
		Short:         "Session-based authentication and profile service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			var err error
			if cfg, err = loadConfig(); err != nil {
				return err
			}
			setupLogging(cfg)
			return nil
		},
	}

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run migrations and start the HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Cancel ctx on SIGINT/SIGTERM; run() shuts down when ctx is done.
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, nil)
		},
	}
	root.RunE = serve.RunE

	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd.Context(), cfg, false, func(db durableStore) error {
				if err := db.Migrate(cmd.Context()); err != nil {
					return fmt.Errorf("failed to run migrations: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
				return nil
			})
		},
	}

	sweep := &cobra.Command{
		Use:   "gc",
		Short: "Delete expired tokens and sessions once and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd.Context(), cfg, true, func(db durableStore) error {
				return runGC(cmd.Context(), cmd.OutOrStdout(), db)
			})
		},
	}

	root.AddCommand(serve, migrate, sweep, newUserCmd(&cfg))
	return root
}

// withStore opens the configured store for the duration of fn,
// migrating first when migrate is set.
func withStore(ctx context.Context, cfg *config.Config, migrate bool, fn func(db durableStore) error) error {
	db, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	if migrate {
		if err := db.Migrate(ctx); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}
	return fn(db)
}

// runGC runs one sweep of each collector.
func runGC(ctx context.Context, out io.Writer, db durableStore) error {
	for _, c := range []*gc.Collector{
		gc.New("tokens", tokens.NewManager(db).SweepExpired),
		gc.New("sessions", sessionSweep(db)),
	} {
		n := c.RunOnce(ctx)
		fmt.Fprintf(out, "%s: deleted %d\n", c.Name(), n)
	}
	return nil
}

func newUserCmd(cfg **config.Config) *cobra.Command {
	user := &cobra.Command{
		Use:   "user",
		Short: "Manage users",
	}

	var email, name string
	var verified bool
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a local user; the password is read from the terminal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if msg := auth.ValidateEmail(email); msg != "" {
				return errors.New(msg)
			}
			if msg := auth.ValidateName(name); msg != "" {
				return errors.New(msg)
			}

			fmt.Fprint(cmd.ErrOrStderr(), "Enter password: ")
			pw, err := readPassword(int(os.Stdin.Fd()))
			fmt.Fprintln(cmd.ErrOrStderr())
			if err != nil {
				return fmt.Errorf("reading password: %w", err)
			}
			if msg := auth.ValidatePassword(string(pw)); msg != "" {
				return errors.New(msg)
			}

			return withStore(cmd.Context(), *cfg, true, func(db durableStore) error {
				return createUser(cmd.Context(), cmd.OutOrStdout(), db, newHasher(*cfg), name, email, string(pw), verified)
			})
		},
	}
	create.Flags().StringVar(&email, "email", "", "account email (required)")
	create.Flags().StringVar(&name, "name", "", "display name (required)")
	create.Flags().BoolVar(&verified, "verified", false, "mark the email as already verified")
	create.MarkFlagRequired("email")
	create.MarkFlagRequired("name")

	user.AddCommand(create)
	return user
}

func createUser(ctx context.Context, out io.Writer, repo credential.Repository, hasher credential.Hasher, name, email, password string, verified bool) error {
	users, err := credential.New(repo, hasher)
	if err != nil {
		return err
	}
	u, err := users.CreateUser(ctx, name, email, credential.Password(password))
	if errors.Is(err, credential.ErrDuplicateIdentity) {
		return fmt.Errorf("an account with email %q already exists", credential.NormalizeEmail(email))
	}
	if err != nil {
		return fmt.Errorf("creating user: %w", err)
	}
	if verified {
		if err := users.MarkEmailVerified(ctx, u.ID); err != nil {
			return fmt.Errorf("marking email verified: %w", err)
		}
	}
	fmt.Fprintf(out, "created user %d <%s>\n", u.ID, u.Email)
	return nil
}

package main

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/MGallo-Code/gatehouse/internal/config"
	"github.com/MGallo-Code/gatehouse/internal/credential"
	"github.com/MGallo-Code/gatehouse/internal/store"
	"github.com/MGallo-Code/gatehouse/internal/testutil"
	"github.com/MGallo-Code/gatehouse/internal/tokens"
	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestCreateUser(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewSQLiteStore(t)
	hasher := credential.NewBcryptHasher(bcrypt.MinCost)

	var out bytes.Buffer
	require.NoError(t, createUser(ctx, &out, db, hasher, "Admin", "Admin@Example.com", smokePassword, true))
	assert.Contains(t, out.String(), "<admin@example.com>")

	u, err := db.GetUserByEmail(ctx, "admin@example.com")
	require.NoError(t, err)
	assert.True(t, u.EmailVerified)
	assert.Equal(t, store.StrategyLocal, u.AuthStrategy)

	err = createUser(ctx, &out, db, hasher, "Again", "admin@example.com", smokePassword, false)
	assert.ErrorContains(t, err, "already exists")
}

func TestRunGC(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewSQLiteStore(t)
	u, err := db.CreateUser(ctx, store.NewUser{
		Email: "gc@example.com", Name: "GC", AuthStrategy: store.StrategyLocal, PasswordHash: new(string),
	})
	require.NoError(t, err)

	past := time.Now().Add(-48 * time.Hour)
	stale := tokens.NewManager(db, tokens.WithClock(func() time.Time { return past }))
	_, err = stale.Issue(ctx, u.ID, store.PurposeVerifyEmail, time.Hour)
	require.NoError(t, err)
	_, err = tokens.NewManager(db).Issue(ctx, u.ID, store.PurposeResetPassword, time.Hour)
	require.NoError(t, err)

	for i, expires := range []time.Time{past, time.Now().Add(time.Hour)} {
		require.NoError(t, db.CreateSession(ctx, store.Session{
			ID:        uuid.Must(uuid.NewV7()),
			UserID:    u.ID,
			TokenHash: []byte{byte(i), 1, 2, 3},
			CSRFToken: []byte{4, 5, 6},
			ExpiresAt: expires,
			CreatedAt: past,
		}))
	}

	var out bytes.Buffer
	require.NoError(t, runGC(ctx, &out, db))
	assert.Equal(t, "tokens: deleted 1\nsessions: deleted 1\n", out.String())

	out.Reset()
	require.NoError(t, runGC(ctx, &out, db))
	assert.Equal(t, "tokens: deleted 0\nsessions: deleted 0\n", out.String())
}

// stubCLI points the command tree at a SQLite file and a canned password.
func stubCLI(t *testing.T, password string, readErr error) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gatehouse.db")
	origLoad, origRead := loadConfig, readPassword
	t.Cleanup(func() { loadConfig, readPassword = origLoad, origRead })

	loadConfig = func() (*config.Config, error) {
		return &config.Config{
			StoreDriver:    config.DriverSQLite,
			SQLitePath:     path,
			PasswordHasher: config.HasherBcrypt,
			BcryptCost:     bcrypt.MinCost,
		}, nil
	}
	readPassword = func(int) ([]byte, error) { return []byte(password), readErr }
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestUserCreateCommand(t *testing.T) {
	t.Run("creates a verified user", func(t *testing.T) {
		path := stubCLI(t, smokePassword, nil)
		out, err := execute(t, "user", "create", "--email", "ops@example.com", "--name", "Ops", "--verified")
		require.NoError(t, err)
		assert.Contains(t, out, "created user")

		db, err := store.OpenSQLite(context.Background(), path)
		require.NoError(t, err)
		defer db.Close()
		u, err := db.GetUserByEmail(context.Background(), "ops@example.com")
		require.NoError(t, err)
		assert.True(t, u.EmailVerified)
	})

	t.Run("rejects a weak password", func(t *testing.T) {
		stubCLI(t, "short", nil)
		_, err := execute(t, "user", "create", "--email", "ops@example.com", "--name", "Ops")
		assert.EqualError(t, err, "Password must be at least 8 characters")
	})

	t.Run("rejects a bad email before prompting", func(t *testing.T) {
		stubCLI(t, smokePassword, errors.New("should not be read"))
		_, err := execute(t, "user", "create", "--email", "nope", "--name", "Ops")
		assert.EqualError(t, err, "Invalid email format")
	})

	t.Run("terminal read failure", func(t *testing.T) {
		stubCLI(t, "", errors.New("not a terminal"))
		_, err := execute(t, "user", "create", "--email", "ops@example.com", "--name", "Ops")
		assert.ErrorContains(t, err, "reading password")
	})

	t.Run("flags are required", func(t *testing.T) {
		stubCLI(t, smokePassword, nil)
		_, err := execute(t, "user", "create", "--email", "ops@example.com")
		assert.Error(t, err)
	})
}

func TestMigrateCommand(t *testing.T) {
	stubCLI(t, "", nil)
	out, err := execute(t, "migrate")
	require.NoError(t, err)
	assert.Equal(t, "migrations applied\n", out)

	out, err = execute(t, "gc")
	require.NoError(t, err)
	assert.Contains(t, out, "tokens: deleted 0")
}

package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func newMockSQLite(t *testing.T) (*SQLiteStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewSQLiteStore(db), mock
}

func TestRecordActivityTransaction(t *testing.T) {
	ctx := context.Background()
	at := time.UnixMilli(1_700_000_000_000)

	t.Run("login increments inside one transaction", func(t *testing.T) {
		s, mock := newMockSQLite(t)
		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT login_count FROM users WHERE id = \?`).
			WithArgs(int64(7)).
			WillReturnRows(sqlmock.NewRows([]string{"login_count"}).AddRow(int64(3)))
		mock.ExpectExec(`UPDATE users SET last_active_at = \?, login_count = \? WHERE id = \?`).
			WithArgs(at.UnixMilli(), int64(4), int64(7)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		if err := s.RecordActivity(ctx, 7, at, true); err != nil {
			t.Fatalf("RecordActivity: %v", err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
	})

	t.Run("failed update rolls back", func(t *testing.T) {
		s, mock := newMockSQLite(t)
		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT login_count FROM users`).
			WithArgs(int64(7)).
			WillReturnRows(sqlmock.NewRows([]string{"login_count"}).AddRow(int64(3)))
		mock.ExpectExec(`UPDATE users SET last_active_at`).
			WillReturnError(errors.New("disk I/O error"))
		mock.ExpectRollback()

		if err := s.RecordActivity(ctx, 7, at, true); err == nil {
			t.Fatal("expected error")
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
	})

	t.Run("missing row rolls back with ErrNotFound", func(t *testing.T) {
		s, mock := newMockSQLite(t)
		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT login_count FROM users`).
			WithArgs(int64(9)).
			WillReturnRows(sqlmock.NewRows([]string{"login_count"}))
		mock.ExpectRollback()

		if err := s.RecordActivity(ctx, 9, at, false); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
	})
}

func TestSQLiteMigrateIsIdempotent(t *testing.T) {
	if err := testSQLite.Migrate(context.Background()); err != nil {
		t.Errorf("second Migrate should be a no-op, got %v", err)
	}
}

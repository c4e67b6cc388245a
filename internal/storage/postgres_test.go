package storage

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"gitlab.com/hearthline/api/telephony-engine/internal/apperrors"
	"gitlab.com/hearthline/api/telephony-engine/pkg/logger"
)

// Note on SQL query matching in tests:
// GORM appends clauses like ORDER BY and LIMIT that make exact string matching
// brittle, so these tests use sqlmock.QueryMatcherRegexp with loose patterns
// and sqlmock.AnyArg() for arguments whose format may vary.

// AnyTime matches any time.Time argument.
type AnyTime struct{}

// Match satisfies sqlmock.Argument interface
func (a AnyTime) Match(v driver.Value) bool {
	_, ok := v.(time.Time)
	return ok
}

func newTestRepo(t *testing.T) (*PostgresRepo, sqlmock.Sqlmock, func()) {
	logger.Log = zaptest.NewLogger(t).Named("test")
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn:                 db,
		PreferSimpleProtocol: true,
	}), &gorm.Config{
		Logger:                 gormLogger.Default.LogMode(gormLogger.Silent),
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)
	repo := &PostgresRepo{db: gormDB}
	teardown := func() {
		assert.NoError(t, mock.ExpectationsWereMet())
	}
	return repo, mock, teardown
}

func TestIsTransientError(t *testing.T) {
	testCases := []struct {
		name     string
		err      error
		expected bool
	}{
		{name: "nil error", err: nil, expected: false},
		{name: "deadline exceeded", err: context.DeadlineExceeded, expected: true},
		{name: "connection refused", err: errors.New("dial tcp: connection refused"), expected: true},
		{name: "broken pipe", err: errors.New("write: broken pipe"), expected: true},
		{name: "pg connection exception", err: &pgconn.PgError{Code: "08006"}, expected: true},
		{name: "pg insufficient resources", err: &pgconn.PgError{Code: "53300"}, expected: true},
		{name: "pg deadlock", err: &pgconn.PgError{Code: "40P01"}, expected: true},
		{name: "pg serialization failure", err: &pgconn.PgError{Code: "40001"}, expected: true},
		{name: "pg unique violation", err: &pgconn.PgError{Code: "23505"}, expected: false},
		{name: "plain error", err: errors.New("boom"), expected: false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, isTransientError(tc.err))
		})
	}
}

func TestRetryableOperation_HonorsErrorClassification(t *testing.T) {
	logger.Log = zaptest.NewLogger(t).Named("test")
	ctx := context.Background()

	t.Run("explicit retryable is retried", func(t *testing.T) {
		attempts := 0
		op := func() error {
			attempts++
			if attempts < 2 {
				return apperrors.NewRetryable(errors.New("boom"), "flaky write")
			}
			return nil
		}
		err := retryableOperation(ctx, newRetryPolicy(ctx, time.Second), "FlakyWrite", op)
		require.NoError(t, err)
		assert.Equal(t, 2, attempts)
	})

	t.Run("explicit fatal stops immediately", func(t *testing.T) {
		attempts := 0
		op := func() error {
			attempts++
			// Message text looks transient but the classification wins.
			return apperrors.NewFatal(errors.New("connection refused"), "bad write")
		}
		err := retryableOperation(ctx, newRetryPolicy(ctx, time.Second), "BadWrite", op)
		require.Error(t, err)
		assert.True(t, apperrors.IsFatal(err))
		assert.Equal(t, 1, attempts)
	})

	t.Run("unclassified plain error stops immediately", func(t *testing.T) {
		attempts := 0
		op := func() error {
			attempts++
			return errors.New("boom")
		}
		err := retryableOperation(ctx, newRetryPolicy(ctx, time.Second), "PlainWrite", op)
		require.Error(t, err)
		assert.Equal(t, 1, attempts)
	})
}

func TestCheckConstraintViolation(t *testing.T) {
	testCases := []struct {
		name     string
		err      error
		sentinel error
	}{
		{name: "record not found", err: gorm.ErrRecordNotFound, sentinel: apperrors.ErrNotFound},
		{name: "gorm duplicated key", err: gorm.ErrDuplicatedKey, sentinel: apperrors.ErrDuplicate},
		{name: "pg unique violation", err: &pgconn.PgError{Code: "23505", ConstraintName: "idx_session"}, sentinel: apperrors.ErrDuplicate},
		{name: "pg fk violation", err: &pgconn.PgError{Code: "23503"}, sentinel: apperrors.ErrBadRequest},
		{name: "pg not null violation", err: &pgconn.PgError{Code: "23502"}, sentinel: apperrors.ErrBadRequest},
		{name: "pg deadlock", err: &pgconn.PgError{Code: "40P01"}, sentinel: apperrors.ErrDatabase},
		{name: "pg connection error", err: &pgconn.PgError{Code: "08003"}, sentinel: apperrors.ErrDatabase},
		{name: "wrapped pg error", err: fmt.Errorf("query: %w", &pgconn.PgError{Code: "23505"}), sentinel: apperrors.ErrDuplicate},
		{name: "unknown error", err: errors.New("boom"), sentinel: apperrors.ErrDatabase},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			mapped := checkConstraintViolation(tc.err)
			assert.ErrorIs(t, mapped, tc.sentinel)
		})
	}

	t.Run("nil error", func(t *testing.T) {
		assert.NoError(t, checkConstraintViolation(nil))
	})
}

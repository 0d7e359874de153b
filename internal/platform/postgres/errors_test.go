package postgres

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/oakhurst/playnest-api/internal/store"
)

func TestMapError(t *testing.T) {
	t.Run("nil passes through", func(t *testing.T) {
		assert.NoError(t, MapError(nil))
	})

	t.Run("no rows maps to task not found", func(t *testing.T) {
		err := MapError(sql.ErrNoRows)
		assert.ErrorIs(t, err, store.ErrTaskNotFound)
	})

	t.Run("wrapped no rows maps to task not found", func(t *testing.T) {
		err := MapError(fmt.Errorf("query failed: %w", sql.ErrNoRows))
		assert.ErrorIs(t, err, store.ErrTaskNotFound)
	})

	t.Run("unique violation maps to invalid entity", func(t *testing.T) {
		pgErr := &pgconn.PgError{Code: uniqueViolationCode}
		err := MapError(pgErr)
		assert.ErrorIs(t, err, store.ErrInvalidEntity)
	})

	t.Run("check violation carries the constraint name", func(t *testing.T) {
		pgErr := &pgconn.PgError{Code: checkViolationCode, ConstraintName: "tasks_max_attempts_check"}
		err := MapError(pgErr)
		assert.ErrorIs(t, err, store.ErrInvalidEntity)
		assert.Contains(t, err.Error(), "tasks_max_attempts_check")
	})

	t.Run("not null violation carries the column name", func(t *testing.T) {
		pgErr := &pgconn.PgError{Code: notNullViolationCode, ColumnName: "type"}
		err := MapError(pgErr)
		assert.ErrorIs(t, err, store.ErrInvalidEntity)
		assert.Contains(t, err.Error(), "type")
	})

	t.Run("unrecognized errors pass through unchanged", func(t *testing.T) {
		original := errors.New("connection refused")
		assert.Equal(t, original, MapError(original))
	})
}

package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/oakhurst/playnest-api/internal/platform/logger"
	"github.com/oakhurst/playnest-api/internal/store"
	"github.com/oakhurst/playnest-api/internal/task"
)

// taskColumns is the column list shared by every query that scans a full task
// row.
const taskColumns = `id, type, status, owner_id, payload, result, error_message,
	attempts, max_attempts, next_run_at, created_at, updated_at`

// PostgresTaskStore implements the task.TaskStore interface using PostgreSQL.
// Claim atomicity relies on FOR UPDATE SKIP LOCKED inside a read-committed
// transaction, so N concurrent claimers never select the same row.
//
// Single-row reads and conditional updates go through the store.DBTX
// abstraction so they work against either a connection or a transaction;
// only the claim path needs the concrete *sql.DB to begin its own
// transaction.
type PostgresTaskStore struct {
	db    store.DBTX
	sqlDB *sql.DB
}

// NewPostgresTaskStore creates a new PostgresTaskStore.
func NewPostgresTaskStore(db *sql.DB) *PostgresTaskStore {
	return &PostgresTaskStore{
		db:    db,
		sqlDB: db,
	}
}

// CreateTask persists a new task row.
func (s *PostgresTaskStore) CreateTask(ctx context.Context, t *task.Task) error {
	log := logger.FromContext(ctx)

	query := `
		INSERT INTO tasks (` + taskColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := s.db.ExecContext(ctx, query,
		t.ID,
		t.Type,
		t.Status,
		t.OwnerID,
		[]byte(t.Payload),
		nullableJSON(t.Result),
		nullableString(t.ErrorMessage),
		t.Attempts,
		t.MaxAttempts,
		t.NextRunAt,
		t.CreatedAt,
		t.UpdatedAt,
	)
	if err != nil {
		log.Error("failed to save task",
			"task_id", t.ID,
			"task_type", t.Type,
			"error", err)
		return store.NewStoreError("task", "create", "failed to save task", MapError(err))
	}

	return nil
}

// GetTask retrieves a task by ID.
func (s *PostgresTaskStore) GetTask(ctx context.Context, id uuid.UUID) (*task.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`

	t, err := scanTask(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, store.NewStoreError("task", "get", "query failed", MapError(err))
	}
	return t, nil
}

// ClaimNextReady selects the single oldest ready pending row under an
// exclusive row lock, skipping rows locked by other in-flight claims, and
// transitions it to processing within the same transaction.
func (s *PostgresTaskStore) ClaimNextReady(ctx context.Context) (*task.Task, error) {
	var claimed *task.Task

	txOpts := &sql.TxOptions{Isolation: sql.LevelReadCommitted}
	err := store.RunInTransaction(ctx, s.sqlDB, txOpts, func(ctx context.Context, tx *sql.Tx) error {
		selectQuery := `
			SELECT ` + taskColumns + `
			FROM tasks
			WHERE status = $1 AND next_run_at <= now()
			ORDER BY created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		`

		t, err := scanTask(tx.QueryRowContext(ctx, selectQuery, task.StatusPending))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return store.ErrNoTaskReady
			}
			return fmt.Errorf("failed to select claimable task: %w", MapError(err))
		}

		updateQuery := `
			UPDATE tasks
			SET status = $1, attempts = attempts + 1, updated_at = now()
			WHERE id = $2
			RETURNING attempts, updated_at
		`

		err = tx.QueryRowContext(ctx, updateQuery, task.StatusProcessing, t.ID).
			Scan(&t.Attempts, &t.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to mark task processing: %w", MapError(err))
		}

		t.Status = task.StatusProcessing
		claimed = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.FromContext(ctx).Debug("claimed task",
		"task_id", claimed.ID,
		"task_type", claimed.Type,
		"attempt", claimed.Attempts)

	return claimed, nil
}

// MarkCompleted records a successful execution. Only a processing row may
// complete; terminal rows are immutable.
func (s *PostgresTaskStore) MarkCompleted(
	ctx context.Context,
	id uuid.UUID,
	result json.RawMessage,
) (*task.Task, error) {
	query := `
		UPDATE tasks
		SET status = $1, result = $2, error_message = NULL, updated_at = now()
		WHERE id = $3 AND status = $4
		RETURNING ` + taskColumns

	t, err := scanTask(s.db.QueryRowContext(ctx, query,
		task.StatusCompleted, []byte(result), id, task.StatusProcessing))
	if err != nil {
		return nil, s.updateFailure(ctx, id, "complete", err)
	}
	return t, nil
}

// ScheduleRetry returns a failed task to pending with the failure message
// recorded and next_run_at pushed into the future.
func (s *PostgresTaskStore) ScheduleRetry(
	ctx context.Context,
	id uuid.UUID,
	errMsg string,
	nextRunAt time.Time,
) (*task.Task, error) {
	query := `
		UPDATE tasks
		SET status = $1, error_message = $2, next_run_at = $3, updated_at = now()
		WHERE id = $4 AND status = $5
		RETURNING ` + taskColumns

	t, err := scanTask(s.db.QueryRowContext(ctx, query,
		task.StatusPending, errMsg, nextRunAt, id, task.StatusProcessing))
	if err != nil {
		return nil, s.updateFailure(ctx, id, "schedule retry for", err)
	}
	return t, nil
}

// MarkDeadLetter permanently quarantines a task with the failure message.
func (s *PostgresTaskStore) MarkDeadLetter(
	ctx context.Context,
	id uuid.UUID,
	errMsg string,
) (*task.Task, error) {
	query := `
		UPDATE tasks
		SET status = $1, error_message = $2, updated_at = now()
		WHERE id = $3 AND status = $4
		RETURNING ` + taskColumns

	t, err := scanTask(s.db.QueryRowContext(ctx, query,
		task.StatusDeadLetter, errMsg, id, task.StatusProcessing))
	if err != nil {
		return nil, s.updateFailure(ctx, id, "dead-letter", err)
	}
	return t, nil
}

// RequeueDeadLetter resets a dead-lettered task to pending with a fresh
// attempt budget.
func (s *PostgresTaskStore) RequeueDeadLetter(
	ctx context.Context,
	id uuid.UUID,
) (*task.Task, error) {
	query := `
		UPDATE tasks
		SET status = $1, attempts = 0, error_message = NULL,
			next_run_at = now(), updated_at = now()
		WHERE id = $2 AND status = $3
		RETURNING ` + taskColumns

	t, err := scanTask(s.db.QueryRowContext(ctx, query,
		task.StatusPending, id, task.StatusDeadLetter))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Distinguish an unknown task from one that simply is not
			// dead-lettered.
			if _, getErr := s.GetTask(ctx, id); getErr != nil {
				return nil, getErr
			}
			return nil, task.ErrNotDeadLetter
		}
		return nil, fmt.Errorf("failed to requeue task: %w", MapError(err))
	}
	return t, nil
}

// ResetAbandoned returns tasks stuck in processing longer than olderThan to
// pending so the worker loop reclaims them after a crash.
func (s *PostgresTaskStore) ResetAbandoned(
	ctx context.Context,
	olderThan time.Duration,
) (int, error) {
	log := logger.FromContext(ctx)

	query := `
		UPDATE tasks
		SET status = $1, error_message = $2, next_run_at = now(), updated_at = now()
		WHERE status = $3 AND updated_at < $4
	`

	cutoff := time.Now().UTC().Add(-olderThan)
	result, err := s.db.ExecContext(ctx, query,
		task.StatusPending,
		"reset after being abandoned in processing",
		task.StatusProcessing,
		cutoff,
	)
	if err != nil {
		log.Error("failed to reset abandoned tasks", "error", err)
		return 0, fmt.Errorf("failed to reset abandoned tasks: %w", MapError(err))
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(rowsAffected), nil
}

// ListTasks returns tasks matching the filter, newest first.
func (s *PostgresTaskStore) ListTasks(
	ctx context.Context,
	filter task.ListFilter,
) ([]*task.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks`
	var args []any

	where := ""
	addClause := func(clause string, arg any) {
		args = append(args, arg)
		if where == "" {
			where = " WHERE "
		} else {
			where += " AND "
		}
		where += fmt.Sprintf(clause, len(args))
	}

	if filter.Status != "" {
		addClause("status = $%d", filter.Status)
	}
	if filter.OwnerID != nil {
		addClause("owner_id = $%d", *filter.OwnerID)
	}

	query += where + " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, store.NewStoreError("task", "list", "query failed", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	var tasks []*task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task row: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating task rows: %w", err)
	}

	return tasks, nil
}

// updateFailure turns a failed conditional update into the right domain
// error: not found, terminal-state violation, or the mapped database error.
func (s *PostgresTaskStore) updateFailure(
	ctx context.Context,
	id uuid.UUID,
	op string,
	err error,
) error {
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to %s task: %w", op, MapError(err))
	}

	current, getErr := s.GetTask(ctx, id)
	if getErr != nil {
		return getErr
	}
	if current.Status.IsTerminal() {
		return fmt.Errorf("%w: cannot %s task in status %s",
			store.ErrTerminalState, op, current.Status)
	}
	return fmt.Errorf("%w: cannot %s task in status %s",
		store.ErrUpdateFailed, op, current.Status)
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanTask reads one full task row.
func scanTask(row rowScanner) (*task.Task, error) {
	var (
		t            task.Task
		ownerID      sql.NullInt64
		payload      []byte
		result       []byte
		errorMessage sql.NullString
	)

	err := row.Scan(
		&t.ID,
		&t.Type,
		&t.Status,
		&ownerID,
		&payload,
		&result,
		&errorMessage,
		&t.Attempts,
		&t.MaxAttempts,
		&t.NextRunAt,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if ownerID.Valid {
		owner := ownerID.Int64
		t.OwnerID = &owner
	}
	t.Payload = json.RawMessage(payload)
	if result != nil {
		t.Result = json.RawMessage(result)
	}
	t.ErrorMessage = errorMessage.String

	return &t, nil
}

// nullableJSON stores nil raw messages as SQL NULL instead of empty bytea.
func nullableJSON(raw json.RawMessage) any {
	if raw == nil {
		return nil
	}
	return []byte(raw)
}

// nullableString stores empty strings as SQL NULL.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

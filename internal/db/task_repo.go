package db

import (
	"context"
	"time"

	"github.com/google/uuid"

	"medevent/internal/types"
)

// TaskRepository provides data access for the cert_tasks table, the persisted
// queue of scheduled certificate work.
//
// Schema contract:
//
//	cert_tasks (
//	  id              TEXT PRIMARY KEY,          -- "task_" || uuid
//	  task_type       TEXT NOT NULL,
//	  event_id        TEXT NOT NULL,
//	  user_id         TEXT,                      -- NULL marks a fan-out task
//	  idempotency_key TEXT NOT NULL UNIQUE,
//	  status          TEXT NOT NULL DEFAULT 'pending',
//	  run_at          TIMESTAMPTZ NOT NULL,
//	  processed_at    TIMESTAMPTZ,
//	  error_message   TEXT,
//	  created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
//	)
//
// The UNIQUE index on idempotency_key is the first idempotency layer: it makes
// duplicate scheduling from any trigger path a constraint violation instead of
// a second row.
type TaskRepository struct {
	db DBTX
}

// NewTaskRepository creates a new TaskRepository backed by the given database
// connection (pool or transaction).
func NewTaskRepository(db DBTX) *TaskRepository {
	return &TaskRepository{db: db}
}

// Insert creates a new task row. If the task's ID is empty, a prefixed UUID
// is generated. A unique violation on idempotency_key is returned as an
// AppError with ErrCodeConflictDuplicateTask; callers on enqueue paths treat
// that as benign (the work is already scheduled).
func (r *TaskRepository) Insert(ctx context.Context, t *types.Task) error {
	if t.ID == "" {
		t.ID = "task_" + uuid.New().String()
	}
	if t.Status == "" {
		t.Status = types.TaskStatusPending
	}

	_, err := r.db.Exec(ctx,
		`INSERT INTO cert_tasks
		 (id, task_type, event_id, user_id, idempotency_key, status, run_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE($8, NOW()))`,
		t.ID,
		string(t.TaskType),
		t.EventID,
		nilIfEmpty(t.UserID),
		t.IdempotencyKey,
		string(t.Status),
		t.RunAt,
		nilIfZeroTime(t.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return types.NewAppError(types.ErrCodeConflictDuplicateTask,
				"task already scheduled for this idempotency key", err)
		}
		return types.NewAppError(types.ErrCodeInternalDB, "failed to insert task", err)
	}
	return nil
}

// ExistsByKey reports whether any task row exists for the idempotency key.
// The fan-out resolution step uses this as a cheap pre-insert check before
// relying on the unique constraint as the backstop.
func (r *TaskRepository) ExistsByKey(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM cert_tasks WHERE idempotency_key = $1)`,
		key,
	).Scan(&exists)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to check task existence", err)
	}
	return exists, nil
}

// ClaimDue atomically claims up to limit due pending tasks of the given type,
// flipping them to 'processing' so an overlapping sweep cannot claim the same
// rows. Ordering is run_at ascending (oldest due first); with concurrent
// sweeps this approximates fairness rather than guaranteeing strict FIFO.
//
// SQL pattern:
//
//	UPDATE cert_tasks SET status = 'processing'
//	WHERE id IN (
//	  SELECT id FROM cert_tasks
//	  WHERE task_type = $1 AND status = 'pending' AND run_at <= $2
//	  ORDER BY run_at
//	  LIMIT $3
//	  FOR UPDATE SKIP LOCKED
//	)
//	RETURNING ...
//
// FOR UPDATE SKIP LOCKED makes two concurrent claims partition the due set
// instead of blocking on or double-claiming each other's rows.
func (r *TaskRepository) ClaimDue(ctx context.Context, taskType types.TaskType, now time.Time, limit int) ([]*types.Task, error) {
	rows, err := r.db.Query(ctx,
		`UPDATE cert_tasks SET status = $4
		 WHERE id IN (
		   SELECT id FROM cert_tasks
		   WHERE task_type = $1 AND status = $5 AND run_at <= $2
		   ORDER BY run_at
		   LIMIT $3
		   FOR UPDATE SKIP LOCKED
		 )
		 RETURNING id, task_type, event_id, user_id, idempotency_key, status,
		           run_at, processed_at, error_message, created_at`,
		string(taskType),
		now,
		limit,
		string(types.TaskStatusProcessing),
		string(types.TaskStatusPending),
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to claim due tasks", err)
	}
	defer rows.Close()

	var tasks []*types.Task
	for rows.Next() {
		t, scanErr := scanTask(rows)
		if scanErr != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan claimed task", scanErr)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating claimed tasks", err)
	}

	return tasks, nil
}

// MarkFailed transitions a task to 'failed' and records the diagnostic
// message and processing time. Only a claimed task may fail: the status
// predicate makes a stale write against an already-resolved task a no-op
// instead of a backward transition.
func (r *TaskRepository) MarkFailed(ctx context.Context, id string, errMsg string, now time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE cert_tasks
		 SET status = $2, error_message = $3, processed_at = $4
		 WHERE id = $1 AND status = $5`,
		id,
		string(types.TaskStatusFailed),
		errMsg,
		now,
		string(types.TaskStatusProcessing),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to mark task failed", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundTask, "task not found or not processing", nil)
	}
	return nil
}

// MarkCompleted transitions a single task to 'completed'. Used for fan-out
// markers, which resolve inline rather than in the bulk pass. The status
// predicate restricts the write to the processing state, same as MarkFailed.
func (r *TaskRepository) MarkCompleted(ctx context.Context, id string, now time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE cert_tasks
		 SET status = $2, processed_at = $3
		 WHERE id = $1 AND status = $4`,
		id,
		string(types.TaskStatusCompleted),
		now,
		string(types.TaskStatusProcessing),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to mark task completed", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundTask, "task not found or not processing", nil)
	}
	return nil
}

// BulkComplete marks the given tasks 'completed' with a shared processed_at
// in one statement. The processor calls this once at the end of a sweep for
// every task whose generation call succeeded. Rows no longer in processing
// (an operator retried a task mid-sweep, say) are left untouched.
func (r *TaskRepository) BulkComplete(ctx context.Context, ids []string, now time.Time) error {
	if len(ids) == 0 {
		return nil
	}

	_, err := r.db.Exec(ctx,
		`UPDATE cert_tasks
		 SET status = $2, processed_at = $3
		 WHERE id = ANY($1) AND status = $4`,
		ids,
		string(types.TaskStatusCompleted),
		now,
		string(types.TaskStatusProcessing),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to bulk-complete tasks", err)
	}
	return nil
}

// Delete removes a task row outright. The only caller is the policy
// contradiction cleanup: a task that should never have existed under the
// event's current feedback gating is erased rather than terminally marked.
func (r *TaskRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM cert_tasks WHERE id = $1`, id)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to delete task", err)
	}
	return nil
}

// scanTask scans a full cert_tasks row. Nullable columns are read through
// pointers and normalized to zero values.
func scanTask(row interface{ Scan(dest ...any) error }) (*types.Task, error) {
	var (
		t           types.Task
		taskType    string
		status      string
		userID      *string
		processedAt *time.Time
		errMsg      *string
	)

	err := row.Scan(
		&t.ID,
		&taskType,
		&t.EventID,
		&userID,
		&t.IdempotencyKey,
		&status,
		&t.RunAt,
		&processedAt,
		&errMsg,
		&t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.TaskType = types.TaskType(taskType)
	t.Status = types.TaskStatus(status)
	t.UserID = derefString(userID)
	t.ProcessedAt = derefTime(processedAt)
	t.ErrorMessage = derefString(errMsg)

	return &t, nil
}

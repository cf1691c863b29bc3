package db

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"medevent/internal/types"
)

// --- Mock DBTX ---

type mockDBTX struct {
	mock.Mock
}

func (m *mockDBTX) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgconn.CommandTag), args.Error(1)
}

func (m *mockDBTX) Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error) {
	args := m.Called(ctx, sql, arguments)
	if r := args.Get(0); r != nil {
		return r.(pgx.Rows), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockDBTX) QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgx.Row)
}

// --- Mock Row ---

type mockRow struct {
	scanErr error
	scanFn  func(dest ...any) error
}

func (r *mockRow) Scan(dest ...any) error {
	if r.scanFn != nil {
		return r.scanFn(dest...)
	}
	return r.scanErr
}

// --- Mock Rows for Query ---

// mockRows implements pgx.Rows. Row values may be nil to simulate SQL NULL
// for the pointer-scanned columns.
type mockRows struct {
	data    [][]any
	idx     int
	closed  bool
	scanErr error
	errVal  error
}

func newMockRows(data [][]any) *mockRows {
	return &mockRows{data: data, idx: -1}
}

func (r *mockRows) Next() bool {
	if r.closed {
		return false
	}
	r.idx++
	return r.idx < len(r.data)
}

func (r *mockRows) Scan(dest ...any) error {
	if r.scanErr != nil {
		return r.scanErr
	}
	row := r.data[r.idx]
	for i, d := range dest {
		switch v := d.(type) {
		case *string:
			*v = row[i].(string)
		case **string:
			if row[i] == nil {
				*v = nil
			} else {
				s := row[i].(string)
				*v = &s
			}
		case *time.Time:
			*v = row[i].(time.Time)
		case **time.Time:
			if row[i] == nil {
				*v = nil
			} else {
				t := row[i].(time.Time)
				*v = &t
			}
		case *bool:
			*v = row[i].(bool)
		case *int:
			*v = row[i].(int)
		}
	}
	return nil
}

func (r *mockRows) Close()                                       { r.closed = true }
func (r *mockRows) Err() error                                   { return r.errVal }
func (r *mockRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *mockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *mockRows) RawValues() [][]byte                          { return nil }
func (r *mockRows) Values() ([]any, error)                       { return nil, nil }
func (r *mockRows) Conn() *pgx.Conn                              { return nil }

// uniqueViolation builds the error Postgres returns when a unique index
// rejects an insert.
func uniqueViolation(constraint string) error {
	return &pgconn.PgError{Code: "23505", ConstraintName: constraint}
}

// --- TaskRepository Tests ---

func TestTaskRepository_Insert_GeneratesIDAndDefaults(t *testing.T) {
	db := new(mockDBTX)
	repo := NewTaskRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	task := &types.Task{
		TaskType:       types.TaskCertificatesAutoGenerate,
		EventID:        "evt_1",
		UserID:         "usr_1",
		IdempotencyKey: "certificates_auto_generate:evt_1:usr_1:2026-07-10",
		RunAt:          time.Date(2026, 7, 10, 17, 0, 0, 0, time.UTC),
	}

	err := repo.Insert(context.Background(), task)
	require.NoError(t, err)

	assert.True(t, len(task.ID) > len("task_"), "expected a generated id, got %q", task.ID)
	assert.Equal(t, "task_", task.ID[:5])
	assert.Equal(t, types.TaskStatusPending, task.Status)
	db.AssertExpectations(t)
}

func TestTaskRepository_Insert_DuplicateKey(t *testing.T) {
	db := new(mockDBTX)
	repo := NewTaskRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.CommandTag{}, uniqueViolation("cert_tasks_idempotency_key_key"))

	err := repo.Insert(context.Background(), &types.Task{
		TaskType:       types.TaskCertificatesAutoGenerate,
		EventID:        "evt_1",
		UserID:         "usr_1",
		IdempotencyKey: "certificates_auto_generate:evt_1:usr_1:2026-07-10",
	})
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeConflictDuplicateTask, appErr.Code)
}

func TestTaskRepository_Insert_DBError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewTaskRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.CommandTag{}, errors.New("connection refused"))

	err := repo.Insert(context.Background(), &types.Task{EventID: "evt_1"})
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
}

func TestTaskRepository_ExistsByKey(t *testing.T) {
	db := new(mockDBTX)
	repo := NewTaskRepository(db)

	row := &mockRow{
		scanFn: func(dest ...any) error {
			*dest[0].(*bool) = true
			return nil
		},
	}
	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).Return(row)

	exists, err := repo.ExistsByKey(context.Background(), "certificates_auto_generate:evt_1:usr_1:2026-07-10")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestTaskRepository_ClaimDue_ScansRows(t *testing.T) {
	db := new(mockDBTX)
	repo := NewTaskRepository(db)

	runAt := time.Date(2026, 7, 10, 17, 0, 0, 0, time.UTC)
	created := runAt.Add(-2 * time.Hour)

	// Columns: id, task_type, event_id, user_id, idempotency_key, status,
	// run_at, processed_at, error_message, created_at.
	rows := newMockRows([][]any{
		{"task_a", "certificates_auto_generate", "evt_1", "usr_1",
			"certificates_auto_generate:evt_1:usr_1:2026-07-10", "processing",
			runAt, nil, nil, created},
		{"task_b", "certificates_auto_generate", "evt_1", nil,
			"certificates_auto_generate:evt_1:all:2026-07-10", "processing",
			runAt, nil, nil, created},
	})
	db.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(rows, nil)

	now := time.Date(2026, 7, 11, 6, 0, 0, 0, time.UTC)
	tasks, err := repo.ClaimDue(context.Background(), types.TaskCertificatesAutoGenerate, now, 50)
	require.NoError(t, err)
	require.Len(t, tasks, 2)

	assert.Equal(t, "task_a", tasks[0].ID)
	assert.Equal(t, "usr_1", tasks[0].UserID)
	assert.Equal(t, types.TaskStatusProcessing, tasks[0].Status)
	assert.Equal(t, runAt, tasks[0].RunAt)

	// NULL user_id marks the fan-out task.
	assert.Equal(t, "task_b", tasks[1].ID)
	assert.Empty(t, tasks[1].UserID)
	assert.True(t, tasks[1].IsFanOut())

	db.AssertExpectations(t)
}

func TestTaskRepository_ClaimDue_QueryError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewTaskRepository(db)

	db.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(nil, errors.New("deadlock detected"))

	_, err := repo.ClaimDue(context.Background(), types.TaskCertificatesAutoGenerate, time.Now(), 50)
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
}

func TestTaskRepository_MarkFailed_NotFound(t *testing.T) {
	db := new(mockDBTX)
	repo := NewTaskRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	err := repo.MarkFailed(context.Background(), "task_missing", "upstream timeout", time.Now())
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeNotFoundTask, appErr.Code)
}

func TestTaskRepository_StatusWritesGuardOnProcessing(t *testing.T) {
	// Every terminal-status write must carry the status predicate, so a stale
	// or duplicate sweep cannot flip a task that already left processing.
	statusGuarded := mock.MatchedBy(func(sql string) bool {
		return strings.Contains(sql, "AND status")
	})

	db := new(mockDBTX)
	repo := NewTaskRepository(db)
	db.On("Exec", mock.Anything, statusGuarded, mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	require.NoError(t, repo.MarkFailed(context.Background(), "task_a", "upstream timeout", time.Now()))
	require.NoError(t, repo.MarkCompleted(context.Background(), "task_a", time.Now()))
	require.NoError(t, repo.BulkComplete(context.Background(), []string{"task_a"}, time.Now()))
	db.AssertExpectations(t)
}

func TestTaskRepository_MarkCompleted_AlreadyResolved(t *testing.T) {
	db := new(mockDBTX)
	repo := NewTaskRepository(db)

	// Zero rows affected: the row exists but is no longer in processing.
	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	err := repo.MarkCompleted(context.Background(), "task_done", time.Now())
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeNotFoundTask, appErr.Code)
}

func TestTaskRepository_MarkCompleted_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewTaskRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	err := repo.MarkCompleted(context.Background(), "task_a", time.Now())
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestTaskRepository_BulkComplete_EmptySliceSkipsQuery(t *testing.T) {
	db := new(mockDBTX)
	repo := NewTaskRepository(db)

	err := repo.BulkComplete(context.Background(), nil, time.Now())
	require.NoError(t, err)
	db.AssertNotCalled(t, "Exec")
}

func TestTaskRepository_BulkComplete_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewTaskRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 3"), nil)

	err := repo.BulkComplete(context.Background(), []string{"task_a", "task_b", "task_c"}, time.Now())
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestTaskRepository_Delete_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewTaskRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("DELETE 1"), nil)

	err := repo.Delete(context.Background(), "task_a")
	require.NoError(t, err)
	db.AssertExpectations(t)
}

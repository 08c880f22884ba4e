package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/docsage-api/internal/domain"
	"github.com/phrazzld/docsage-api/internal/platform/logger"
	"github.com/phrazzld/docsage-api/internal/store"
)

// PostgresTaskStore implements the store.TaskStore interface using PostgreSQL.
// Status changes are single conditional UPDATE statements, so two writers
// racing on one row cannot both succeed.
type PostgresTaskStore struct {
	db store.DBTX
}

var _ store.TaskStore = (*PostgresTaskStore)(nil)

// NewPostgresTaskStore creates a new PostgresTaskStore
func NewPostgresTaskStore(db store.DBTX) *PostgresTaskStore {
	return &PostgresTaskStore{
		db: db,
	}
}

const taskColumns = `id, type, owner_id, content_id, status, progress, options, result,
	error_kind, error_message, attempts, dispatch_token,
	created_at, updated_at, started_at, completed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*domain.Task, error) {
	var (
		t            domain.Task
		options      []byte
		result       []byte
		errorKind    sql.NullString
		errorMessage sql.NullString
		startedAt    sql.NullTime
		completedAt  sql.NullTime
	)
	err := row.Scan(
		&t.ID, &t.Type, &t.OwnerID, &t.ContentID, &t.Status, &t.Progress, &options, &result,
		&errorKind, &errorMessage, &t.Attempts, &t.DispatchToken,
		&t.CreatedAt, &t.UpdatedAt, &startedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(options) > 0 {
		t.Options = options
	}
	if len(result) > 0 {
		t.Result = result
	}
	if errorKind.Valid {
		t.Error = &domain.TaskError{Kind: domain.ErrorKind(errorKind.String), Message: errorMessage.String}
	}
	if startedAt.Valid {
		s := startedAt.Time.UTC()
		t.StartedAt = &s
	}
	if completedAt.Valid {
		c := completedAt.Time.UTC()
		t.CompletedAt = &c
	}
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return &t, nil
}

func scanTasks(rows *sql.Rows) ([]*domain.Task, error) {
	defer func() { _ = rows.Close() }()

	var tasks []*domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tasks: %w", err)
	}
	return tasks, nil
}

// jsonParam converts raw JSON to a parameter that encodes as SQL NULL when empty.
func jsonParam(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

// Create implements store.TaskStore.
func (s *PostgresTaskStore) Create(ctx context.Context, task *domain.Task) error {
	log := logger.FromContext(ctx)

	if err := task.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	var errorKind, errorMessage any
	if task.Error != nil {
		errorKind, errorMessage = string(task.Error.Kind), task.Error.Message
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8::jsonb, $9, $10, $11, $12, $13, $14, $15, $16)`,
		task.ID, string(task.Type), task.OwnerID, task.ContentID, string(task.Status), task.Progress,
		jsonParam(task.Options), jsonParam(task.Result), errorKind, errorMessage,
		task.Attempts, task.DispatchToken, task.CreatedAt, task.UpdatedAt, task.StartedAt, task.CompletedAt,
	)
	if err != nil {
		mapped := MapError(err)
		if !store.IsDuplicateError(mapped) {
			log.Error("failed to create task",
				"task_id", task.ID,
				"task_type", task.Type,
				"error", err)
		}
		return mapped
	}
	return nil
}

// Get implements store.TaskStore.
func (s *PostgresTaskStore) Get(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	t, err := scanTask(s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", MapError(err))
	}
	return t, nil
}

// List implements store.TaskStore.
func (s *PostgresTaskStore) List(
	ctx context.Context,
	ownerID uuid.UUID,
	filter store.TaskFilter,
	page store.Page,
) ([]*domain.Task, int, error) {
	const where = `WHERE owner_id = $1
		AND ($2::text = '' OR status = $2::text)
		AND ($3::text = '' OR type = $3::text)`

	var total int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks `+where,
		ownerID, string(filter.Status), string(filter.Type)).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count tasks: %w", MapError(err))
	}
	if total == 0 {
		return []*domain.Task{}, 0, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+taskColumns+` FROM tasks `+where+`
		ORDER BY created_at DESC, id
		LIMIT $4 OFFSET $5`,
		ownerID, string(filter.Status), string(filter.Type), page.Size, page.Offset())
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list tasks: %w", MapError(err))
	}
	tasks, err := scanTasks(rows)
	if err != nil {
		return nil, 0, err
	}
	if tasks == nil {
		tasks = []*domain.Task{}
	}
	return tasks, total, nil
}

// FindActive implements store.TaskStore.
func (s *PostgresTaskStore) FindActive(
	ctx context.Context,
	ownerID, contentID uuid.UUID,
	taskType domain.TaskType,
) (*domain.Task, error) {
	return s.findOne(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE owner_id = $1 AND content_id = $2 AND type = $3
			AND status IN ('pending', 'processing')
		LIMIT 1`,
		ownerID, contentID, string(taskType))
}

// FindLatestCompleted implements store.TaskStore.
func (s *PostgresTaskStore) FindLatestCompleted(
	ctx context.Context,
	ownerID, contentID uuid.UUID,
	taskType domain.TaskType,
) (*domain.Task, error) {
	return s.findOne(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE owner_id = $1 AND content_id = $2 AND type = $3 AND status = 'completed'
		ORDER BY completed_at DESC
		LIMIT 1`,
		ownerID, contentID, string(taskType))
}

func (s *PostgresTaskStore) findOne(ctx context.Context, query string, args ...any) (*domain.Task, error) {
	t, err := scanTask(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find task: %w", MapError(err))
	}
	return t, nil
}

func statusArray(statuses []domain.TaskStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

// Transition implements store.TaskStore.
func (s *PostgresTaskStore) Transition(
	ctx context.Context,
	id uuid.UUID,
	req store.TransitionRequest,
) (*domain.Task, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	from := req.Permitted()

	at := req.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	claim := 0
	if req.ClaimAttempt {
		claim = 1
	}
	var errorKind, errorMessage any
	if req.Error != nil && (req.To == domain.TaskStatusFailed || req.To == domain.TaskStatusCancelled) {
		errorKind, errorMessage = string(req.Error.Kind), req.Error.Message
	}
	var result any
	if req.To == domain.TaskStatusCompleted {
		result = jsonParam(req.Result)
	}

	t, err := scanTask(s.db.QueryRowContext(ctx, `
		UPDATE tasks SET
			status = $2::text,
			updated_at = $3,
			attempts = attempts + $4,
			started_at = CASE WHEN $2::text = 'processing' THEN COALESCE(started_at, $3) ELSE started_at END,
			progress = CASE WHEN $2::text = 'completed' THEN 100 ELSE progress END,
			result = $5::jsonb,
			error_kind = $6,
			error_message = $7,
			completed_at = CASE WHEN $2::text IN ('completed', 'failed', 'cancelled') THEN $3 ELSE completed_at END
		WHERE id = $1
			AND status = ANY($8::text[])
			AND ($9::text = '' OR dispatch_token = $9::text)
		RETURNING `+taskColumns,
		id, string(req.To), at, claim, result, errorKind, errorMessage, statusArray(from), req.DispatchToken,
	))
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		logger.FromContext(ctx).Error("failed to transition task",
			"task_id", id,
			"to", req.To,
			"error", err)
		return nil, fmt.Errorf("failed to transition task: %w", MapError(err))
	}
	return nil, s.conflictOrMissing(ctx, id)
}

// conflictOrMissing classifies an UPDATE that matched no row.
func (s *PostgresTaskStore) conflictOrMissing(ctx context.Context, id uuid.UUID) error {
	var status string
	err := s.db.QueryRowContext(ctx, `SELECT status FROM tasks WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrTaskNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read task status: %w", MapError(err))
	}
	return fmt.Errorf("%w: task %s is %s", store.ErrTransitionConflict, id, status)
}

// DiscardPending implements store.TaskStore.
func (s *PostgresTaskStore) DiscardPending(ctx context.Context, id uuid.UUID, token string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM tasks WHERE id = $1 AND status = 'pending' AND dispatch_token = $2`,
		id, token)
	if err != nil {
		return fmt.Errorf("failed to discard task: %w", MapError(err))
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	return s.conflictOrMissing(ctx, id)
}

// UpdateProgress implements store.TaskStore.
func (s *PostgresTaskStore) UpdateProgress(
	ctx context.Context,
	id uuid.UUID,
	token string,
	progress int,
) (*domain.Task, error) {
	t, err := scanTask(s.db.QueryRowContext(ctx, `
		UPDATE tasks SET
			progress = GREATEST(progress, $3),
			updated_at = $4
		WHERE id = $1 AND status = 'processing' AND dispatch_token = $2
		RETURNING `+taskColumns,
		id, token, domain.ClampProgress(progress), time.Now().UTC(),
	))
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to update task progress: %w", MapError(err))
	}
	return nil, s.conflictOrMissing(ctx, id)
}

// ListByStatus implements store.TaskStore.
func (s *PostgresTaskStore) ListByStatus(ctx context.Context, status domain.TaskStatus) ([]*domain.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE status = $1
		ORDER BY created_at ASC`,
		string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks by status: %w", MapError(err))
	}
	return scanTasks(rows)
}

// ListStale implements store.TaskStore.
func (s *PostgresTaskStore) ListStale(ctx context.Context, olderThan time.Duration) ([]*domain.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE status = 'processing' AND updated_at < $1
		ORDER BY created_at ASC`,
		time.Now().UTC().Add(-olderThan))
	if err != nil {
		return nil, fmt.Errorf("failed to list stale tasks: %w", MapError(err))
	}
	return scanTasks(rows)
}

// CountByStatus implements store.TaskStore.
func (s *PostgresTaskStore) CountByStatus(ctx context.Context, ownerID uuid.UUID) (map[domain.TaskStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM tasks
		WHERE owner_id = $1
		GROUP BY status`,
		ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to count tasks: %w", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[domain.TaskStatus]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan task count: %w", err)
		}
		counts[domain.TaskStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate task counts: %w", err)
	}
	return counts, nil
}

// Package task persists tasks and their execution logs in PostgreSQL
// and notifies event bus observers after each durable write.
package task

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ospreylabs/conduct/internal/bus"
	"github.com/ospreylabs/conduct/internal/fault"
	"go.uber.org/zap"
)

// Store wraps a PostgreSQL connection pool.
type Store struct {
	db     *pgxpool.Pool
	bus    *bus.Bus
	logger *zap.Logger
}

// New creates a Store with a pgx connection pool. The bus may be nil;
// writes then go unannounced.
func New(dsn string, b *bus.Bus, logger *zap.Logger) (*Store, error) {
	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	logger.Info("PostgreSQL connected")
	return &Store{db: pool, bus: b, logger: logger}, nil
}

// Migrate reads and executes all .up.sql files from the migrations
// directory in lexical order.
func (s *Store) Migrate(ctx context.Context, migrationsDir string) error {
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".up.sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	for _, f := range files {
		data, err := os.ReadFile(filepath.Join(migrationsDir, f))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", f, err)
		}
		if _, err := s.db.Exec(ctx, string(data)); err != nil {
			return fmt.Errorf("exec migration %s: %w", f, err)
		}
		s.logger.Info("Migration applied", zap.String("file", f))
	}
	return nil
}

// CreateTask inserts a new pending task and returns it.
func (s *Store) CreateTask(ctx context.Context, title, description string) (*Task, error) {
	t := &Task{
		ID:          uuid.New().String(),
		Title:       title,
		Description: description,
		Status:      StatusPending,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO tasks (id, title, description, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)`,
		t.ID, t.Title, t.Description, string(t.Status), t.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	return t, nil
}

// GetTask retrieves a task and its log by id. Unknown ids are a
// NOT_FOUND fault.
func (s *Store) GetTask(ctx context.Context, id string) (*Task, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, title, description, status,
		       COALESCE(branch,''), COALESCE(commit_sha,''),
		       COALESCE(pr_ref,''), COALESCE(pr_url,''),
		       created_at, updated_at
		FROM tasks WHERE id = $1`, id)

	var t Task
	err := row.Scan(
		&t.ID, &t.Title, &t.Description, &t.Status,
		&t.Branch, &t.CommitSHA, &t.PRRef, &t.PRURL,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fault.New(fault.NotFound, "task %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}

	logs, err := s.taskLogs(ctx, id)
	if err != nil {
		return nil, err
	}
	t.Logs = logs
	return &t, nil
}

// ListTasks returns all tasks newest first, without logs.
func (s *Store) ListTasks(ctx context.Context) ([]*Task, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, title, description, status,
		       COALESCE(branch,''), COALESCE(commit_sha,''),
		       COALESCE(pr_ref,''), COALESCE(pr_url,''),
		       created_at, updated_at
		FROM tasks ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		var t Task
		if err := rows.Scan(
			&t.ID, &t.Title, &t.Description, &t.Status,
			&t.Branch, &t.CommitSHA, &t.PRRef, &t.PRURL,
			&t.CreatedAt, &t.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, &t)
	}
	return tasks, nil
}

// UpdateTaskStatus sets the task status and notifies observers.
func (s *Store) UpdateTaskStatus(ctx context.Context, id string, status Status) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE tasks SET status = $2, updated_at = NOW() WHERE id = $1`,
		id, string(status))
	if err != nil {
		return fmt.Errorf("update task status %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fault.New(fault.NotFound, "task %s not found", id)
	}

	s.publish(id, "task:status_changed", map[string]interface{}{
		"status": string(status),
	})
	return nil
}

// AddTaskLog appends a log line to the task and notifies observers.
func (s *Store) AddTaskLog(ctx context.Context, id, message string) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO task_logs (task_id, message, created_at) VALUES ($1, $2, NOW())`,
		id, message)
	if err != nil {
		return fmt.Errorf("add task log %s: %w", id, err)
	}

	s.publish(id, "task:log_added", map[string]interface{}{
		"message": message,
	})
	return nil
}

// UpdateTask writes the non-nil fields of upd and notifies observers.
func (s *Store) UpdateTask(ctx context.Context, id string, upd Update) error {
	sets := []string{"updated_at = NOW()"}
	args := []interface{}{id}

	add := func(col string, v *string) {
		if v != nil {
			args = append(args, *v)
			sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
		}
	}
	add("branch", upd.Branch)
	add("commit_sha", upd.CommitSHA)
	add("pr_ref", upd.PRRef)
	add("pr_url", upd.PRURL)

	query := fmt.Sprintf("UPDATE tasks SET %s WHERE id = $1", strings.Join(sets, ", "))
	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update task %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fault.New(fault.NotFound, "task %s not found", id)
	}

	s.publish(id, "task:updated", map[string]interface{}{})
	return nil
}

func (s *Store) taskLogs(ctx context.Context, id string) ([]LogEntry, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, task_id, message, created_at
		FROM task_logs WHERE task_id = $1 ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("list task logs %s: %w", id, err)
	}
	defer rows.Close()

	var logs []LogEntry
	for rows.Next() {
		var l LogEntry
		if err := rows.Scan(&l.ID, &l.TaskID, &l.Message, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan task log: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, nil
}

func (s *Store) publish(taskID, eventType string, data map[string]interface{}) {
	if s.bus != nil {
		s.bus.Publish(taskID, eventType, data)
	}
}

// Close shuts down the connection pool.
func (s *Store) Close() {
	s.db.Close()
}

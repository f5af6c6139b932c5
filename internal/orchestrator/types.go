package orchestrator

import (
	"context"
	"time"

	"github.com/ospreylabs/conduct/internal/knowledge"
	"github.com/ospreylabs/conduct/internal/task"
	"github.com/ospreylabs/conduct/internal/vcs"
)

// StepRecord captures one pipeline stage run for a task. Records live
// only while the task is in the running registry.
type StepRecord struct {
	Agent       string        `json:"agent"`
	Action      string        `json:"action"`
	StartedAt   time.Time     `json:"started_at"`
	EndedAt     time.Time     `json:"ended_at"`
	Duration    time.Duration `json:"duration"`
	GenDuration time.Duration `json:"gen_duration,omitempty"`
	Status      string        `json:"status"` // "completed" or "failed"
	Error       string        `json:"error,omitempty"`
}

// runningTask is the registry record for an in-flight execution.
// Membership in the registry alone is the source of truth for
// "is running".
type runningTask struct {
	TaskID    string
	StartedAt time.Time
	Steps     []StepRecord
}

// TaskStore is the persistent task collaborator.
type TaskStore interface {
	GetTask(ctx context.Context, id string) (*task.Task, error)
	UpdateTaskStatus(ctx context.Context, id string, status task.Status) error
	AddTaskLog(ctx context.Context, id, message string) error
	UpdateTask(ctx context.Context, id string, upd task.Update) error
}

// KnowledgeStore is the per-agent artifact collaborator.
type KnowledgeStore interface {
	Add(ctx context.Context, agent string, entry knowledge.Entry) error
	Query(ctx context.Context, agent, taskID string, limit int) ([]knowledge.Entry, error)
}

// Analytics receives fire-and-forget telemetry.
type Analytics interface {
	Track(eventType string, payload map[string]interface{})
}

// VCS performs the integration-stage version-control operations.
type VCS interface {
	IsRepo(ctx context.Context) bool
	CreateBranch(ctx context.Context, name string) error
	StageAll(ctx context.Context) error
	Commit(ctx context.Context, message string) (string, error)
	Push(ctx context.Context, branch string) error
	CreatePullRequest(ctx context.Context, branch, title string) (*vcs.PullRequest, error)
}

package task

import "time"

// Status tracks a task through its lifecycle. Completed and failed are
// terminal.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Task is one unit of work driven through the pipeline.
type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Status      Status     `json:"status"`
	Branch      string     `json:"branch,omitempty"`
	CommitSHA   string     `json:"commit_sha,omitempty"`
	PRRef       string     `json:"pr_ref,omitempty"`
	PRURL       string     `json:"pr_url,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	Logs        []LogEntry `json:"logs,omitempty"`
}

// LogEntry is one line of the task's execution narrative.
type LogEntry struct {
	ID        int64     `json:"id"`
	TaskID    string    `json:"task_id"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// Update carries the mutable fields UpdateTask writes. Nil fields are
// left untouched.
type Update struct {
	Branch    *string
	CommitSHA *string
	PRRef     *string
	PRURL     *string
}

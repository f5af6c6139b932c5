package orchestrator

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ospreylabs/conduct/internal/bus"
	"github.com/ospreylabs/conduct/internal/fault"
	"github.com/ospreylabs/conduct/internal/gateway"
	"github.com/ospreylabs/conduct/internal/knowledge"
	"github.com/ospreylabs/conduct/internal/provider"
	"github.com/ospreylabs/conduct/internal/task"
	"github.com/ospreylabs/conduct/internal/vcs"
	"go.uber.org/zap"
)

const testPlan = `# Overview
Refactor the storage layer.

# Steps
1. Update ` + "`store.go`" + ` and ` + "`store_test.go`" + ` with the new interface.
2. Adjust ` + "`main.go`" + ` wiring.

# Risks
- Behavior drift.

# Tests
- Round trip survives restart.
`

// stageProvider answers by prompt shape so every pipeline stage gets a
// plausible response. gate, when set, blocks the first call until
// released.
type stageProvider struct {
	mu       sync.Mutex
	calls    int
	byStage  map[string]int
	prompts  map[string]string
	failOn   string
	readyErr error
	gate     chan struct{}
	gated    bool
}

func newStageProvider() *stageProvider {
	return &stageProvider{byStage: make(map[string]int), prompts: make(map[string]string)}
}

func (p *stageProvider) ID() string           { return "fake" }
func (p *stageProvider) Kind() provider.Kind  { return provider.KindOllama }
func (p *stageProvider) Name() string         { return "fake" }
func (p *stageProvider) DefaultModel() string { return "fake-model" }
func (p *stageProvider) Ready() error         { return p.readyErr }

func (p *stageProvider) stageOf(prompt string) string {
	switch {
	case strings.HasPrefix(prompt, "Analyze the following"):
		return "analysis"
	case strings.HasPrefix(prompt, "Create an implementation plan"):
		return "planning"
	case strings.HasPrefix(prompt, "Implement the change"):
		return "execution"
	case strings.HasPrefix(prompt, "Review the following"):
		return "validation"
	case strings.HasPrefix(prompt, "Draft a pull request"):
		return "integration"
	}
	return "unknown"
}

func (p *stageProvider) Complete(ctx context.Context, req *provider.Request) (string, error) {
	p.mu.Lock()
	if p.gate != nil && !p.gated {
		p.gated = true
		gate := p.gate
		p.mu.Unlock()
		<-gate
		p.mu.Lock()
	}
	p.calls++
	stage := p.stageOf(req.Prompt)
	p.byStage[stage]++
	p.prompts[stage] = req.Prompt
	fail := p.failOn != "" && p.failOn == stage
	p.mu.Unlock()

	if fail {
		return "", fault.New(fault.AIError, "scripted failure in %s", stage)
	}

	switch stage {
	case "planning":
		return testPlan, nil
	case "validation":
		return "# Verdict\nPASS. Looks correct.\n", nil
	default:
		return "generated text for " + stage, nil
	}
}

func (p *stageProvider) totalCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *stageProvider) stageCalls(stage string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.byStage[stage]
}

func (p *stageProvider) promptFor(stage string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.prompts[stage]
}

// memStore is an in-memory TaskStore.
type memStore struct {
	mu       sync.Mutex
	tasks    map[string]*task.Task
	statuses []task.Status
	logs     []string
	updates  []task.Update
}

func newMemStore(ids ...string) *memStore {
	s := &memStore{tasks: make(map[string]*task.Task)}
	for _, id := range ids {
		s.tasks[id] = &task.Task{ID: id, Title: "Task " + id, Description: "desc", Status: task.StatusPending}
	}
	return s
}

func (s *memStore) GetTask(ctx context.Context, id string) (*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, fault.New(fault.NotFound, "task %s not found", id)
	}
	cp := *t
	return &cp, nil
}

func (s *memStore) UpdateTaskStatus(ctx context.Context, id string, status task.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return fault.New(fault.NotFound, "task %s not found", id)
	}
	t.Status = status
	s.statuses = append(s.statuses, status)
	return nil
}

func (s *memStore) AddTaskLog(ctx context.Context, id, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, message)
	return nil
}

func (s *memStore) UpdateTask(ctx context.Context, id string, upd task.Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, upd)
	return nil
}

func (s *memStore) status(id string) task.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tasks[id].Status
}

func (s *memStore) hasLog(substr string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.logs {
		if strings.Contains(l, substr) {
			return true
		}
	}
	return false
}

// memKnowledge is an in-memory KnowledgeStore.
type memKnowledge struct {
	mu      sync.Mutex
	entries map[string][]knowledge.Entry // agent → entries
}

func newMemKnowledge() *memKnowledge {
	return &memKnowledge{entries: make(map[string][]knowledge.Entry)}
}

func (k *memKnowledge) Add(ctx context.Context, agent string, e knowledge.Entry) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.entries[agent] = append(k.entries[agent], e)
	return nil
}

func (k *memKnowledge) Query(ctx context.Context, agent, taskID string, limit int) ([]knowledge.Entry, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	var out []knowledge.Entry
	for _, e := range k.entries[agent] {
		if e.Metadata["task_id"] == taskID {
			out = append(out, e)
		}
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (k *memKnowledge) countByType(agent, typ string) int {
	k.mu.Lock()
	defer k.mu.Unlock()
	n := 0
	for _, e := range k.entries[agent] {
		if e.Metadata["type"] == typ {
			n++
		}
	}
	return n
}

// fakeVCS records the integration calls.
type fakeVCS struct {
	mu       sync.Mutex
	repo     bool
	branches []string
	commits  []string
	pushed   []string
}

func (v *fakeVCS) IsRepo(ctx context.Context) bool { return v.repo }

func (v *fakeVCS) CreateBranch(ctx context.Context, name string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.branches = append(v.branches, name)
	return nil
}

func (v *fakeVCS) StageAll(ctx context.Context) error { return nil }

func (v *fakeVCS) Commit(ctx context.Context, message string) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.commits = append(v.commits, message)
	return "abc123", nil
}

func (v *fakeVCS) Push(ctx context.Context, branch string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.pushed = append(v.pushed, branch)
	return nil
}

func (v *fakeVCS) CreatePullRequest(ctx context.Context, branch, title string) (*vcs.PullRequest, error) {
	return &vcs.PullRequest{Ref: "PR-1", URL: "https://example.com/pr/1"}, nil
}

func newTestOrchestrator(t *testing.T, p *stageProvider, store TaskStore, know KnowledgeStore, vc VCS) (*Orchestrator, *bus.Bus) {
	t.Helper()
	logger := zap.NewNop()
	reg := provider.NewRegistry(logger)
	reg.Register(p)
	gw := gateway.New(reg, gateway.Options{CacheTTL: time.Hour}, logger)
	b := bus.New(logger)
	return New(gw, reg, store, know, nil, vc, b, t.TempDir(), logger), b
}

func TestPipelineHappyPath(t *testing.T) {
	p := newStageProvider()
	store := newMemStore("t1")
	know := newMemKnowledge()
	o, b := newTestOrchestrator(t, p, store, know, nil)

	var stages []string
	defer b.Subscribe("execution:stage_completed", func(ev bus.Event) {
		stages = append(stages, ev.Data["stage"].(string))
	})()

	if err := o.StartExecution(context.Background(), "t1"); err != nil {
		t.Fatalf("execution failed: %v", err)
	}

	if store.status("t1") != task.StatusCompleted {
		t.Errorf("expected completed, got %s", store.status("t1"))
	}

	// Plan has 2 steps touching 3 files: 4 fixed calls + 3 generation calls.
	if p.totalCalls() != 7 {
		t.Errorf("expected 7 provider calls, got %d", p.totalCalls())
	}
	if p.stageCalls("execution") != 3 {
		t.Errorf("expected 3 code generation calls, got %d", p.stageCalls("execution"))
	}

	wantStages := []string{"analysis", "planning", "execution", "validation", "integration"}
	if len(stages) != len(wantStages) {
		t.Fatalf("expected %d completed stages, got %v", len(wantStages), stages)
	}
	for i, s := range wantStages {
		if stages[i] != s {
			t.Errorf("stage %d: expected %s, got %s", i, s, stages[i])
		}
	}

	// Artifacts per agent: 1 analysis, 1 plan, 3 implementations, 1 validation.
	if n := know.countByType(AgentAdmin, "task_analysis"); n != 1 {
		t.Errorf("expected 1 analysis entry, got %d", n)
	}
	if n := know.countByType(AgentConfigName, "task_plan"); n != 1 {
		t.Errorf("expected 1 plan entry, got %d", n)
	}
	if n := know.countByType(AgentDeveloper, "implementation"); n != 3 {
		t.Errorf("expected 3 implementation entries, got %d", n)
	}
	if n := know.countByType(AgentValidator, "validation"); n != 1 {
		t.Errorf("expected 1 validation entry, got %d", n)
	}

	// Without a repository the summary is still drafted and recorded.
	if !store.hasLog("No repository configured") {
		t.Error("expected missing-repository log entry")
	}
	if o.IsRunning("t1") {
		t.Error("expected task deregistered after completion")
	}
}

func TestPlanningUsesFreshAnalysisOverStored(t *testing.T) {
	p := newStageProvider()
	store := newMemStore("t1")
	know := newMemKnowledge()
	// A record left behind by an earlier run of the same task.
	know.Add(context.Background(), AgentAdmin, knowledge.Entry{
		Document: "analysis left over from a previous run",
		Metadata: map[string]string{"type": "task_analysis", "task_id": "t1"},
	})
	o, _ := newTestOrchestrator(t, p, store, know, nil)

	if err := o.StartExecution(context.Background(), "t1"); err != nil {
		t.Fatalf("execution failed: %v", err)
	}

	prompt := p.promptFor("planning")
	if !strings.Contains(prompt, "generated text for analysis") {
		t.Errorf("planning prompt missing the current analysis: %q", prompt)
	}
	if strings.Contains(prompt, "left over from a previous run") {
		t.Errorf("planning prompt embeds a stale analysis: %q", prompt)
	}
}

func TestPipelineUnknownTask(t *testing.T) {
	p := newStageProvider()
	o, _ := newTestOrchestrator(t, p, newMemStore(), newMemKnowledge(), nil)

	err := o.StartExecution(context.Background(), "nope")
	if fault.KindOf(err) != fault.NotFound {
		t.Errorf("expected NOT_FOUND, got %v", err)
	}
	if p.totalCalls() != 0 {
		t.Errorf("expected no provider calls, got %d", p.totalCalls())
	}
}

func TestPipelineSingleFlight(t *testing.T) {
	p := newStageProvider()
	p.gate = make(chan struct{})
	store := newMemStore("t1")
	o, _ := newTestOrchestrator(t, p, store, newMemKnowledge(), nil)

	done := make(chan error, 1)
	go func() { done <- o.StartExecution(context.Background(), "t1") }()

	deadline := time.After(2 * time.Second)
	for !o.IsRunning("t1") {
		select {
		case <-deadline:
			t.Fatal("task never entered the running registry")
		case <-time.After(time.Millisecond):
		}
	}

	err := o.StartExecution(context.Background(), "t1")
	if fault.KindOf(err) != fault.TaskRunning {
		t.Errorf("expected TASK_RUNNING, got %v", err)
	}

	close(p.gate)
	if err := <-done; err != nil {
		t.Fatalf("first execution failed: %v", err)
	}
	if o.IsRunning("t1") {
		t.Error("expected deregistration after completion")
	}

	// A finished task can run again.
	if err := o.StartExecution(context.Background(), "t1"); err != nil {
		t.Errorf("rerun failed: %v", err)
	}
}

func TestPipelineStageFailureAbortsRest(t *testing.T) {
	p := newStageProvider()
	p.failOn = "validation"
	store := newMemStore("t1")
	o, b := newTestOrchestrator(t, p, store, newMemKnowledge(), nil)

	var failedStage string
	defer b.Subscribe("execution:stage_failed", func(ev bus.Event) {
		failedStage = ev.Data["stage"].(string)
	})()
	var executionFailed bool
	defer b.Subscribe("execution:failed", func(bus.Event) { executionFailed = true })()

	err := o.StartExecution(context.Background(), "t1")
	if fault.KindOf(err) != fault.AIError {
		t.Fatalf("expected AI_ERROR, got %v", err)
	}

	if store.status("t1") != task.StatusFailed {
		t.Errorf("expected failed status, got %s", store.status("t1"))
	}
	if failedStage != "validation" {
		t.Errorf("expected validation stage failure, got %q", failedStage)
	}
	if !executionFailed {
		t.Error("expected execution:failed event")
	}
	// The integration stage never runs after a failure.
	if p.stageCalls("integration") != 0 {
		t.Errorf("expected no integration calls, got %d", p.stageCalls("integration"))
	}
	if o.IsRunning("t1") {
		t.Error("expected deregistration after failure")
	}
}

func TestPipelineCredentialPreflight(t *testing.T) {
	p := newStageProvider()
	p.readyErr = fault.New(fault.ConfigError, "provider fake: API key not configured")
	store := newMemStore("t1")
	o, _ := newTestOrchestrator(t, p, store, newMemKnowledge(), nil)

	err := o.StartExecution(context.Background(), "t1")
	if fault.KindOf(err) != fault.ConfigError {
		t.Fatalf("expected CONFIG_ERROR, got %v", err)
	}
	if p.totalCalls() != 0 {
		t.Errorf("expected preflight to block all provider calls, got %d", p.totalCalls())
	}
	if store.status("t1") != task.StatusFailed {
		t.Errorf("expected failed status, got %s", store.status("t1"))
	}
}

func TestPipelineIntegrationWithRepo(t *testing.T) {
	p := newStageProvider()
	store := newMemStore("t1")
	vc := &fakeVCS{repo: true}
	o, _ := newTestOrchestrator(t, p, store, newMemKnowledge(), vc)

	if err := o.StartExecution(context.Background(), "t1"); err != nil {
		t.Fatalf("execution failed: %v", err)
	}

	if len(vc.branches) != 1 || !strings.HasPrefix(vc.branches[0], "conduct/task-") {
		t.Errorf("unexpected branches: %v", vc.branches)
	}
	if len(vc.commits) != 1 {
		t.Errorf("expected 1 commit, got %d", len(vc.commits))
	}
	if len(vc.pushed) != 1 {
		t.Errorf("expected 1 push, got %d", len(vc.pushed))
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.updates) != 1 {
		t.Fatalf("expected 1 task update, got %d", len(store.updates))
	}
	upd := store.updates[0]
	if upd.Branch == nil || upd.CommitSHA == nil || upd.PRRef == nil || upd.PRURL == nil {
		t.Errorf("expected all integration fields set, got %+v", upd)
	}
	if upd.CommitSHA != nil && *upd.CommitSHA != "abc123" {
		t.Errorf("expected commit sha abc123, got %s", *upd.CommitSHA)
	}
}

func TestRunningStepsSnapshot(t *testing.T) {
	p := newStageProvider()
	o, _ := newTestOrchestrator(t, p, newMemStore("t1"), newMemKnowledge(), nil)

	if steps := o.RunningSteps("t1"); steps != nil {
		t.Errorf("expected nil steps for idle task, got %v", steps)
	}

	if err := o.StartExecution(context.Background(), "t1"); err != nil {
		t.Fatalf("execution failed: %v", err)
	}

	// Records are dropped with the registry entry.
	if steps := o.RunningSteps("t1"); steps != nil {
		t.Errorf("expected nil steps after completion, got %v", steps)
	}
}

// Package orchestrator drives the fixed five-stage pipeline (analysis,
// planning, execution, validation, integration) for one task at a time
// per identifier.
package orchestrator

import (
	"context"
	"fmt"
	"strconv"
	"sync"
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

// Orchestrator owns the running-task registry and the agent
// configuration set. All dependencies are injected; nothing here is a
// process-wide singleton.
type Orchestrator struct {
	gw        *gateway.Gateway
	registry  *provider.Registry
	tasks     TaskStore
	know      KnowledgeStore
	analytics Analytics
	vcs       VCS
	bus       *bus.Bus
	logger    *zap.Logger

	promptsDir string

	agentMu sync.RWMutex
	agents  map[string]*AgentConfig

	runMu   sync.Mutex
	running map[string]*runningTask
}

// New creates an Orchestrator and reconciles persisted prompt
// overrides. analytics and vc may be nil.
func New(
	gw *gateway.Gateway,
	registry *provider.Registry,
	tasks TaskStore,
	know KnowledgeStore,
	analytics Analytics,
	vc VCS,
	b *bus.Bus,
	promptsDir string,
	logger *zap.Logger,
) *Orchestrator {
	o := &Orchestrator{
		gw:         gw,
		registry:   registry,
		tasks:      tasks,
		know:       know,
		analytics:  analytics,
		vcs:        vc,
		bus:        b,
		logger:     logger,
		promptsDir: promptsDir,
		agents:     defaultAgents(registry.DefaultID()),
		running:    make(map[string]*runningTask),
	}
	o.reconcilePrompts()
	return o
}

// IsRunning reports registry membership for a task id.
func (o *Orchestrator) IsRunning(taskID string) bool {
	o.runMu.Lock()
	defer o.runMu.Unlock()
	_, ok := o.running[taskID]
	return ok
}

// RunningSteps returns a snapshot of the step records for an in-flight
// task, or nil when it is not running.
func (o *Orchestrator) RunningSteps(taskID string) []StepRecord {
	o.runMu.Lock()
	defer o.runMu.Unlock()
	rt, ok := o.running[taskID]
	if !ok {
		return nil
	}
	out := make([]StepRecord, len(rt.Steps))
	copy(out, rt.Steps)
	return out
}

// StartExecution runs the full pipeline for the task. It fails with
// NOT_FOUND for unknown ids, TASK_RUNNING when an execution is already
// in flight, and CONFIG_ERROR when a required provider credential is
// absent. The task always leaves the running registry on return.
func (o *Orchestrator) StartExecution(ctx context.Context, taskID string) error {
	t, err := o.tasks.GetTask(ctx, taskID)
	if err != nil {
		return err
	}

	// Check-and-insert under one lock: the single-flight guarantee.
	o.runMu.Lock()
	if _, exists := o.running[taskID]; exists {
		o.runMu.Unlock()
		return fault.New(fault.TaskRunning, "task %s is already running", taskID)
	}
	o.running[taskID] = &runningTask{TaskID: taskID, StartedAt: time.Now()}
	o.runMu.Unlock()

	defer func() {
		o.runMu.Lock()
		delete(o.running, taskID)
		o.runMu.Unlock()
	}()

	if err := o.checkCredentials(); err != nil {
		o.failTask(ctx, taskID, err)
		return err
	}

	if err := o.tasks.UpdateTaskStatus(ctx, taskID, task.StatusRunning); err != nil {
		return err
	}
	o.log(ctx, taskID, "Execution started: "+t.Title)
	o.publish(taskID, "execution:started", map[string]interface{}{"title": t.Title})
	o.track("execution_started", map[string]interface{}{"task_id": taskID})

	var (
		analysis string
		plan     *gateway.Plan
	)

	err = o.runStage(ctx, taskID, AgentAdmin, "analysis", func(ctx context.Context, rec *StepRecord) error {
		var err error
		analysis, err = o.stageAnalysis(ctx, t, rec)
		return err
	})
	if err == nil {
		err = o.runStage(ctx, taskID, AgentConfigName, "planning", func(ctx context.Context, rec *StepRecord) error {
			var err error
			plan, err = o.stagePlanning(ctx, t, analysis, rec)
			return err
		})
	}
	if err == nil {
		err = o.runStage(ctx, taskID, AgentDeveloper, "execution", func(ctx context.Context, rec *StepRecord) error {
			return o.stageExecution(ctx, t, plan, rec)
		})
	}
	if err == nil {
		err = o.runStage(ctx, taskID, AgentValidator, "validation", func(ctx context.Context, rec *StepRecord) error {
			return o.stageValidation(ctx, t, rec)
		})
	}
	if err == nil {
		err = o.runStage(ctx, taskID, AgentGit, "integration", func(ctx context.Context, rec *StepRecord) error {
			return o.stageIntegration(ctx, t, plan, rec)
		})
	}

	if err != nil {
		o.failTask(ctx, taskID, err)
		return err
	}

	if uErr := o.tasks.UpdateTaskStatus(ctx, taskID, task.StatusCompleted); uErr != nil {
		return uErr
	}
	o.log(ctx, taskID, "Execution completed")
	o.publish(taskID, "execution:completed", map[string]interface{}{})
	o.track("execution_completed", map[string]interface{}{"task_id": taskID})
	return nil
}

// runStage executes one pipeline stage, appending its step record to
// the running registry and translating any failure into the task's
// narrative before re-raising it.
func (o *Orchestrator) runStage(ctx context.Context, taskID, agent, action string, fn func(context.Context, *StepRecord) error) error {
	rec := StepRecord{
		Agent:     agent,
		Action:    action,
		StartedAt: time.Now(),
	}
	o.publish(taskID, "execution:stage_started", map[string]interface{}{
		"stage": action, "agent": agent,
	})

	err := fn(ctx, &rec)

	rec.EndedAt = time.Now()
	rec.Duration = rec.EndedAt.Sub(rec.StartedAt)
	if err != nil {
		rec.Status = "failed"
		rec.Error = err.Error()
	} else {
		rec.Status = "completed"
	}

	o.runMu.Lock()
	if rt, ok := o.running[taskID]; ok {
		rt.Steps = append(rt.Steps, rec)
	}
	o.runMu.Unlock()

	if err != nil {
		o.log(ctx, taskID, fmt.Sprintf("Stage %s failed: %s", action, err.Error()))
		o.publish(taskID, "execution:stage_failed", map[string]interface{}{
			"stage": action, "agent": agent, "error": err.Error(),
		})
		o.track("stage_failed", map[string]interface{}{
			"task_id": taskID, "stage": action,
		})
		return err
	}

	o.log(ctx, taskID, fmt.Sprintf("Stage %s completed in %s", action, rec.Duration.Round(time.Millisecond)))
	o.publish(taskID, "execution:stage_completed", map[string]interface{}{
		"stage": action, "agent": agent, "duration_ms": rec.Duration.Milliseconds(),
	})
	o.track("stage_completed", map[string]interface{}{
		"task_id": taskID, "stage": action,
	})
	return nil
}

func (o *Orchestrator) stageAnalysis(ctx context.Context, t *task.Task, rec *StepRecord) (string, error) {
	spec := o.agentSpec(AgentAdmin)

	genStart := time.Now()
	analysis, err := o.gw.AnalyzeTask(ctx, spec, t.Title, t.Description)
	rec.GenDuration = time.Since(genStart)
	if err != nil {
		return "", err
	}

	o.log(ctx, t.ID, "Analysis:\n"+analysis)
	if err := o.know.Add(ctx, AgentAdmin, knowledge.Entry{
		Document: analysis,
		Metadata: map[string]string{"type": "task_analysis", "task_id": t.ID},
	}); err != nil {
		return "", err
	}
	return analysis, nil
}

func (o *Orchestrator) stagePlanning(ctx context.Context, t *task.Task, analysis string, rec *StepRecord) (*gateway.Plan, error) {
	// The analysis from stage 1 of this run is authoritative. The store
	// may also hold records from earlier runs of the same task, so it is
	// only consulted when no in-memory analysis is available.
	if analysis == "" {
		entries, err := o.know.Query(ctx, AgentAdmin, t.ID, 1)
		if err != nil {
			return nil, err
		}
		if len(entries) > 0 {
			analysis = entries[0].Document
		}
	}

	spec := o.agentSpec(AgentConfigName)
	genStart := time.Now()
	plan, raw, err := o.gw.GeneratePlan(ctx, spec, t.Title, t.Description, analysis)
	rec.GenDuration = time.Since(genStart)
	if err != nil {
		return nil, err
	}

	o.log(ctx, t.ID, fmt.Sprintf("Plan generated: %d steps, %d risks, %d tests", len(plan.Steps), len(plan.Risks), len(plan.Tests)))
	if err := o.know.Add(ctx, AgentConfigName, knowledge.Entry{
		Document: raw,
		Metadata: map[string]string{"type": "task_plan", "task_id": t.ID},
	}); err != nil {
		return nil, err
	}
	return plan, nil
}

func (o *Orchestrator) stageExecution(ctx context.Context, t *task.Task, plan *gateway.Plan, rec *StepRecord) error {
	spec := o.agentSpec(AgentDeveloper)

	for i, step := range plan.Steps {
		for _, file := range step.Files {
			genStart := time.Now()
			code, err := o.gw.GenerateCode(ctx, spec, plan.Overview, step.Detail, file)
			rec.GenDuration += time.Since(genStart)
			if err != nil {
				return err
			}

			if err := o.know.Add(ctx, AgentDeveloper, knowledge.Entry{
				Document: code,
				Metadata: map[string]string{
					"type":       "implementation",
					"task_id":    t.ID,
					"step_index": strconv.Itoa(i + 1),
					"file_path":  file,
				},
			}); err != nil {
				return err
			}
			o.log(ctx, t.ID, fmt.Sprintf("Implemented step %d: %s", i+1, file))
		}
	}
	return nil
}

func (o *Orchestrator) stageValidation(ctx context.Context, t *task.Task, rec *StepRecord) error {
	entries, err := o.know.Query(ctx, AgentDeveloper, t.ID, 200)
	if err != nil {
		return err
	}
	artifacts := make([]gateway.FileArtifact, 0, len(entries))
	for _, e := range entries {
		if e.Metadata["type"] != "implementation" {
			continue
		}
		artifacts = append(artifacts, gateway.FileArtifact{
			Path:    e.Metadata["file_path"],
			Content: e.Document,
		})
	}

	spec := o.agentSpec(AgentValidator)
	genStart := time.Now()
	validation, raw, err := o.gw.ValidateChanges(ctx, spec, t.Title, artifacts)
	rec.GenDuration = time.Since(genStart)
	if err != nil {
		return err
	}

	verdict := "FAIL"
	if validation.Passed {
		verdict = "PASS"
	}
	o.log(ctx, t.ID, fmt.Sprintf("Validation %s: %d issues, %d suggestions", verdict, len(validation.Issues), len(validation.Suggestions)))
	return o.know.Add(ctx, AgentValidator, knowledge.Entry{
		Document: raw,
		Metadata: map[string]string{"type": "validation", "task_id": t.ID},
	})
}

func (o *Orchestrator) stageIntegration(ctx context.Context, t *task.Task, plan *gateway.Plan, rec *StepRecord) error {
	var files []string
	for _, s := range plan.Steps {
		files = append(files, s.Files...)
	}

	spec := o.agentSpec(AgentGit)
	genStart := time.Now()
	summary, err := o.gw.DraftChangeSummary(ctx, spec, t.Title, plan.Overview, files)
	rec.GenDuration = time.Since(genStart)
	if err != nil {
		return err
	}
	o.log(ctx, t.ID, "Change summary:\n"+summary)

	if o.vcs == nil || !o.vcs.IsRepo(ctx) {
		o.log(ctx, t.ID, "No repository configured; summary recorded without a pull request")
		return nil
	}

	branch := vcs.BranchName(t.ID)
	if err := o.vcs.CreateBranch(ctx, branch); err != nil {
		return err
	}
	if err := o.vcs.StageAll(ctx); err != nil {
		return err
	}
	sha, err := o.vcs.Commit(ctx, t.Title+"\n\n"+summary)
	if err != nil {
		return err
	}
	if err := o.vcs.Push(ctx, branch); err != nil {
		return err
	}
	pr, err := o.vcs.CreatePullRequest(ctx, branch, t.Title)
	if err != nil {
		return err
	}

	o.log(ctx, t.ID, fmt.Sprintf("Opened %s: %s", pr.Ref, pr.URL))
	return o.tasks.UpdateTask(ctx, t.ID, task.Update{
		Branch:    &branch,
		CommitSHA: &sha,
		PRRef:     &pr.Ref,
		PRURL:     &pr.URL,
	})
}

// checkCredentials verifies every provider the agent set references has
// its credentials present before any stage executes.
func (o *Orchestrator) checkCredentials() error {
	o.agentMu.RLock()
	defer o.agentMu.RUnlock()

	checked := make(map[string]bool)
	for _, a := range o.agents {
		p := o.registry.Resolve(a.Provider)
		if p == nil {
			return fault.New(fault.ConfigError, "no provider available for agent %s", a.Name)
		}
		if checked[p.ID()] {
			continue
		}
		checked[p.ID()] = true
		if err := p.Ready(); err != nil {
			return err
		}
	}
	return nil
}

// failTask records the failure narrative and terminal status. Storage
// errors here are logged only: the original failure must surface.
func (o *Orchestrator) failTask(ctx context.Context, taskID string, cause error) {
	o.log(ctx, taskID, "Execution failed: "+cause.Error())
	if err := o.tasks.UpdateTaskStatus(ctx, taskID, task.StatusFailed); err != nil {
		o.logger.Error("failed status write", zap.String("task", taskID), zap.Error(err))
	}
	o.publish(taskID, "execution:failed", map[string]interface{}{"error": cause.Error()})
	o.track("execution_failed", map[string]interface{}{
		"task_id": taskID, "error": cause.Error(),
	})
}

func (o *Orchestrator) agentSpec(name string) gateway.AgentSpec {
	o.agentMu.RLock()
	defer o.agentMu.RUnlock()
	a, ok := o.agents[name]
	if !ok {
		return gateway.AgentSpec{}
	}
	return gateway.AgentSpec{
		ProviderID:   a.Provider,
		Model:        a.Model,
		SystemPrompt: a.SystemPrompt,
		Temperature:  a.Temperature,
	}
}

func (o *Orchestrator) log(ctx context.Context, taskID, message string) {
	if err := o.tasks.AddTaskLog(ctx, taskID, message); err != nil {
		o.logger.Warn("task log write failed", zap.String("task", taskID), zap.Error(err))
	}
}

func (o *Orchestrator) publish(taskID, eventType string, data map[string]interface{}) {
	if o.bus != nil {
		o.bus.Publish(taskID, eventType, data)
	}
}

func (o *Orchestrator) track(eventType string, payload map[string]interface{}) {
	if o.analytics != nil {
		o.analytics.Track(eventType, payload)
	}
}

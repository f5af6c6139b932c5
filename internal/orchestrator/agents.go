package orchestrator

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/ospreylabs/conduct/internal/fault"
	"go.uber.org/zap"
)

// AgentConfig is the static per-agent generation configuration. The
// system prompt is the only runtime-mutable field.
type AgentConfig struct {
	Name         string  `json:"name"`
	Provider     string  `json:"provider"`
	Model        string  `json:"model,omitempty"` // empty means provider default
	Temperature  float64 `json:"temperature"`
	SystemPrompt string  `json:"system_prompt"`
}

const minPromptLen = 10

// Pipeline agent names. Every stage references one of these, so every
// name must have a configuration entry.
const (
	AgentAdmin      = "Admin"
	AgentConfigName = "Config"
	AgentDeveloper  = "Developer"
	AgentValidator  = "Validator"
	AgentGit        = "Git"
)

var defaultPrompts = map[string]string{
	AgentAdmin:      "You are a senior engineer analyzing development tasks. Assess scope, approach, affected areas and risk. Be concrete and brief.",
	AgentConfigName: "You are a technical planner. Turn a task and its analysis into an ordered implementation plan with explicit files, risks and tests.",
	AgentDeveloper:  "You are a careful developer. Produce complete, working file contents for exactly the requested change. No commentary outside code.",
	AgentValidator:  "You are a code reviewer. Judge whether the generated changes implement the plan correctly. Report concrete issues, not style nits.",
	AgentGit:        "You write pull request descriptions. Summarize what changed and why in a few short paragraphs.",
}

// defaultAgents builds the compiled-in agent set, all bound to the
// given provider id.
func defaultAgents(providerID string) map[string]*AgentConfig {
	temps := map[string]float64{
		AgentAdmin:      0.2,
		AgentConfigName: 0.3,
		AgentDeveloper:  0.2,
		AgentValidator:  0.1,
		AgentGit:        0.3,
	}
	agents := make(map[string]*AgentConfig, len(defaultPrompts))
	for name, prompt := range defaultPrompts {
		agents[name] = &AgentConfig{
			Name:         name,
			Provider:     providerID,
			Temperature:  temps[name],
			SystemPrompt: prompt,
		}
	}
	return agents
}

// GetAgentConfig returns a copy of the named agent's configuration.
func (o *Orchestrator) GetAgentConfig(name string) (*AgentConfig, error) {
	o.agentMu.RLock()
	defer o.agentMu.RUnlock()
	a, ok := o.agents[name]
	if !ok {
		return nil, fault.New(fault.NotFound, "agent %s not found", name)
	}
	cp := *a
	return &cp, nil
}

// ListAgents returns copies of every agent configuration.
func (o *Orchestrator) ListAgents() []*AgentConfig {
	o.agentMu.RLock()
	defer o.agentMu.RUnlock()
	out := make([]*AgentConfig, 0, len(o.agents))
	for _, a := range o.agents {
		cp := *a
		out = append(out, &cp)
	}
	return out
}

// UpdateSystemPrompt replaces the agent's system prompt and persists it
// for durability across restarts. File I/O failures are logged but do
// not fail the mutation.
func (o *Orchestrator) UpdateSystemPrompt(name, text string) error {
	if utf8.RuneCountInString(text) < minPromptLen {
		return fmt.Errorf("system prompt must be at least %d characters", minPromptLen)
	}

	o.agentMu.Lock()
	a, ok := o.agents[name]
	if !ok {
		o.agentMu.Unlock()
		return fault.New(fault.NotFound, "agent %s not found", name)
	}
	a.SystemPrompt = text
	o.agentMu.Unlock()

	if err := o.writePromptFile(name, text); err != nil {
		o.logger.Warn("prompt persistence failed", zap.String("agent", name), zap.Error(err))
	}
	return nil
}

// ResetSystemPrompt restores the compiled-in default prompt and drops
// the persisted override by rewriting the file with the default.
func (o *Orchestrator) ResetSystemPrompt(name string) error {
	def, ok := defaultPrompts[name]
	if !ok {
		return fault.New(fault.NotFound, "agent %s not found", name)
	}

	o.agentMu.Lock()
	if a, exists := o.agents[name]; exists {
		a.SystemPrompt = def
	}
	o.agentMu.Unlock()

	if err := o.writePromptFile(name, def); err != nil {
		o.logger.Warn("prompt persistence failed", zap.String("agent", name), zap.Error(err))
	}
	return nil
}

var promptNameRe = regexp.MustCompile(`[^a-z0-9]+`)

// normalizeAgentName lowercases and strips punctuation so persisted
// filenames match agent names loosely.
func normalizeAgentName(name string) string {
	return promptNameRe.ReplaceAllString(strings.ToLower(name), "")
}

// promptFileName is the sanitized on-disk name for an agent's prompt.
func promptFileName(name string) string {
	return normalizeAgentName(name) + ".txt"
}

func (o *Orchestrator) writePromptFile(agent, text string) error {
	if err := os.MkdirAll(o.promptsDir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(o.promptsDir, promptFileName(agent)), []byte(text), 0o644)
}

// reconcilePrompts loads persisted prompt overrides and writes default
// prompt files for agents lacking one. Idempotent; a missing prompts
// directory is created, and unreadable files are skipped with a log.
func (o *Orchestrator) reconcilePrompts() {
	if err := os.MkdirAll(o.promptsDir, 0o755); err != nil {
		o.logger.Warn("prompts dir unavailable", zap.String("dir", o.promptsDir), zap.Error(err))
		return
	}

	byNorm := make(map[string]string, len(o.agents))
	o.agentMu.RLock()
	for name := range o.agents {
		byNorm[normalizeAgentName(name)] = name
	}
	o.agentMu.RUnlock()

	entries, err := os.ReadDir(o.promptsDir)
	if err != nil {
		o.logger.Warn("prompts dir unreadable", zap.String("dir", o.promptsDir), zap.Error(err))
		return
	}

	seen := make(map[string]bool)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		base := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		agent, ok := byNorm[normalizeAgentName(base)]
		if !ok {
			continue
		}
		data, err := os.ReadFile(filepath.Join(o.promptsDir, e.Name()))
		if err != nil {
			o.logger.Warn("prompt file unreadable", zap.String("file", e.Name()), zap.Error(err))
			continue
		}
		text := strings.TrimSpace(string(data))
		if utf8.RuneCountInString(text) < minPromptLen {
			continue
		}
		o.agentMu.Lock()
		o.agents[agent].SystemPrompt = text
		o.agentMu.Unlock()
		seen[agent] = true
	}

	for name := range byNorm {
		agent := byNorm[name]
		if seen[agent] {
			continue
		}
		if err := o.writePromptFile(agent, defaultPrompts[agent]); err != nil {
			o.logger.Warn("default prompt write failed", zap.String("agent", agent), zap.Error(err))
		}
	}
}

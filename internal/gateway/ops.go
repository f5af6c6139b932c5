package gateway

import (
	"context"
	"fmt"
	"strings"
)

// AgentSpec carries the per-agent generation settings the higher-level
// operations need. Callers own the mapping from their agent registry.
type AgentSpec struct {
	ProviderID   string
	Model        string
	SystemPrompt string
	Temperature  float64
}

// FileArtifact is one generated file change presented to validation.
type FileArtifact struct {
	Path    string
	Content string
}

// AnalyzeTask asks the model to assess scope, approach and risk for a
// task. Results are cacheable: identical tasks analyze identically.
func (g *Gateway) AnalyzeTask(ctx context.Context, spec AgentSpec, title, description string) (string, error) {
	prompt := fmt.Sprintf(`Analyze the following development task.

Task: %s

Description:
%s

Cover: scope of the change, suggested approach, affected areas, and risks.`, title, description)

	return g.Generate(ctx, Request{
		Prompt:       prompt,
		SystemPrompt: spec.SystemPrompt,
		Model:        spec.Model,
		ProviderID:   spec.ProviderID,
		Temperature:  spec.Temperature,
	})
}

// GeneratePlan asks the model for a structured implementation plan and
// parses it. Planning is never cached: plans must reflect the latest
// analysis.
func (g *Gateway) GeneratePlan(ctx context.Context, spec AgentSpec, title, description, analysis string) (*Plan, string, error) {
	prompt := fmt.Sprintf(`Create an implementation plan for the following task.

Task: %s

Description:
%s

Prior analysis:
%s

Respond using exactly these sections:

# Overview
One paragraph summary.

# Steps
Numbered steps. Name every touched file in backticks, then describe the change.

# Risks
Bulleted risks.

# Tests
Bulleted test cases.`, title, description, analysis)

	raw, err := g.Generate(ctx, Request{
		Prompt:       prompt,
		SystemPrompt: spec.SystemPrompt,
		Model:        spec.Model,
		ProviderID:   spec.ProviderID,
		Temperature:  spec.Temperature,
		NoCache:      true,
	})
	if err != nil {
		return nil, "", err
	}
	return ParsePlan(raw), raw, nil
}

// GenerateCode asks the model for the new content of one file within
// one plan step. Never cached.
func (g *Gateway) GenerateCode(ctx context.Context, spec AgentSpec, overview, stepDetail, file string) (string, error) {
	prompt := fmt.Sprintf(`Implement the change for one file of a larger plan.

Plan overview:
%s

Current step:
%s

Target file: %s

Produce the complete updated content for this file only.`, overview, stepDetail, file)

	return g.Generate(ctx, Request{
		Prompt:       prompt,
		SystemPrompt: spec.SystemPrompt,
		Model:        spec.Model,
		ProviderID:   spec.ProviderID,
		Temperature:  spec.Temperature,
		NoCache:      true,
	})
}

// ValidateChanges asks the model to review all generated artifacts for
// a task and parses the verdict. Never cached.
func (g *Gateway) ValidateChanges(ctx context.Context, spec AgentSpec, title string, artifacts []FileArtifact) (*Validation, string, error) {
	var b strings.Builder
	for _, a := range artifacts {
		fmt.Fprintf(&b, "--- %s ---\n%s\n\n", a.Path, a.Content)
	}

	prompt := fmt.Sprintf(`Review the following generated changes for the task %q.

%s
Respond using exactly these sections:

# Verdict
PASS or FAIL with one sentence.

# Issues
Bulleted problems found, or nothing.

# Suggestions
Bulleted improvements, or nothing.`, title, b.String())

	raw, err := g.Generate(ctx, Request{
		Prompt:       prompt,
		SystemPrompt: spec.SystemPrompt,
		Model:        spec.Model,
		ProviderID:   spec.ProviderID,
		Temperature:  spec.Temperature,
		NoCache:      true,
	})
	if err != nil {
		return nil, "", err
	}
	return ParseValidation(raw), raw, nil
}

// DraftChangeSummary asks the model for a pull-request description of
// the completed work.
func (g *Gateway) DraftChangeSummary(ctx context.Context, spec AgentSpec, title, planOverview string, files []string) (string, error) {
	prompt := fmt.Sprintf(`Draft a pull request description for the task %q.

Plan overview:
%s

Changed files:
%s

Keep it short: what changed and why.`, title, planOverview, strings.Join(files, "\n"))

	return g.Generate(ctx, Request{
		Prompt:       prompt,
		SystemPrompt: spec.SystemPrompt,
		Model:        spec.Model,
		ProviderID:   spec.ProviderID,
		Temperature:  spec.Temperature,
		NoCache:      true,
	})
}

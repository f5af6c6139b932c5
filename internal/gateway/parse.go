package gateway

import (
	"regexp"
	"strings"
)

// Plan is the structured form of a planning-stage response.
type Plan struct {
	Overview string
	Steps    []PlanStep
	Risks    []string
	Tests    []string
}

// PlanStep is one ordered unit of work with the files it touches.
type PlanStep struct {
	Files  []string
	Detail string
}

// Validation is the structured form of a validation-stage response.
type Validation struct {
	Passed      bool
	Verdict     string
	Issues      []string
	Suggestions []string
}

var (
	headingRe  = regexp.MustCompile(`^#+\s*(.+?)\s*$`)
	numberedRe = regexp.MustCompile(`^\d+[.)]\s+(.+)`)
	bulletRe   = regexp.MustCompile(`^[-*]\s+(.+)`)
	backtickRe = regexp.MustCompile("`([^`]+)`")
)

// ParsePlan extracts plan sections from model output. Parsing is
// best-effort: absent or malformed sections yield empty fields, never
// an error. Model output is not a grammar.
func ParsePlan(text string) *Plan {
	plan := &Plan{}
	section := ""
	var overview []string
	var current *PlanStep

	flush := func() {
		if current != nil {
			current.Detail = strings.TrimSpace(current.Detail)
			plan.Steps = append(plan.Steps, *current)
			current = nil
		}
	}

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)

		if m := headingRe.FindStringSubmatch(trimmed); m != nil {
			flush()
			section = strings.ToLower(m[1])
			continue
		}
		if trimmed == "" {
			continue
		}

		switch {
		case strings.Contains(section, "overview"):
			overview = append(overview, trimmed)

		case strings.Contains(section, "step"):
			if m := numberedRe.FindStringSubmatch(trimmed); m != nil {
				flush()
				current = &PlanStep{
					Files:  extractFiles(m[1]),
					Detail: m[1],
				}
			} else if current != nil {
				// Continuation of the previous step.
				current.Files = appendFiles(current.Files, extractFiles(trimmed))
				current.Detail += "\n" + trimmed
			}

		case strings.Contains(section, "risk"):
			if item := listItem(trimmed); item != "" {
				plan.Risks = append(plan.Risks, item)
			}

		case strings.Contains(section, "test"):
			if item := listItem(trimmed); item != "" {
				plan.Tests = append(plan.Tests, item)
			}
		}
	}
	flush()

	plan.Overview = strings.Join(overview, " ")
	return plan
}

// ParseValidation extracts the verdict and findings from model output.
// Best-effort, like ParsePlan.
func ParseValidation(text string) *Validation {
	v := &Validation{}
	section := ""

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)

		if m := headingRe.FindStringSubmatch(trimmed); m != nil {
			section = strings.ToLower(m[1])
			continue
		}
		if trimmed == "" {
			continue
		}

		switch {
		case strings.Contains(section, "verdict"):
			if v.Verdict == "" {
				v.Verdict = trimmed
				upper := strings.ToUpper(trimmed)
				v.Passed = strings.Contains(upper, "PASS") && !strings.Contains(upper, "FAIL")
			}

		case strings.Contains(section, "issue"):
			if item := listItem(trimmed); item != "" {
				v.Issues = append(v.Issues, item)
			}

		case strings.Contains(section, "suggestion"):
			if item := listItem(trimmed); item != "" {
				v.Suggestions = append(v.Suggestions, item)
			}
		}
	}
	return v
}

// listItem strips bullet or number markers, returning "" for lines that
// are not list items.
func listItem(line string) string {
	if m := bulletRe.FindStringSubmatch(line); m != nil {
		return strings.TrimSpace(m[1])
	}
	if m := numberedRe.FindStringSubmatch(line); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}

// extractFiles pulls backtick-quoted path-like tokens out of a step line.
func extractFiles(s string) []string {
	var files []string
	for _, m := range backtickRe.FindAllStringSubmatch(s, -1) {
		token := strings.TrimSpace(m[1])
		if token != "" && (strings.Contains(token, ".") || strings.Contains(token, "/")) {
			files = append(files, token)
		}
	}
	return files
}

func appendFiles(existing, more []string) []string {
	for _, f := range more {
		dup := false
		for _, e := range existing {
			if e == f {
				dup = true
				break
			}
		}
		if !dup {
			existing = append(existing, f)
		}
	}
	return existing
}

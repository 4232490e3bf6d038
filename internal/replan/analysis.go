// Package replan turns failed executions into corrected plans:
// failure classification, strategy selection, local plan transforms,
// and planner-backed replanning with strict acceptance.
package replan

import (
	"strings"

	"github.com/arlen/aegis/internal/exec"
	"github.com/arlen/aegis/internal/plan"
)

// FailureCause is the primary classified cause of a failed run.
type FailureCause string

const (
	CauseResourceUnavailable FailureCause = "resource_unavailable"
	CauseTimeout             FailureCause = "timeout"
	CauseDependencyFailure   FailureCause = "dependency_failure"
	CauseValidationError     FailureCause = "validation_error"
	CauseUnknown             FailureCause = "unknown"
)

// FailureAnalysis summarizes why an execution failed.
type FailureAnalysis struct {
	PrimaryCause    FailureCause `json:"primary_cause"`
	FailureRate     float64      `json:"failure_rate"`
	ResourceLeak    bool         `json:"resource_leak"`
	RequiresCleanup bool         `json:"requires_cleanup"`
	LeakedResources []string     `json:"leaked_resources,omitempty"`
	FailedSteps     []string     `json:"failed_steps,omitempty"`
}

// Analyze classifies an execution result. The plurality error kind
// determines the cause; ties and unclassified failures fall back to
// DependencyFailure when any step failed, else Unknown.
func Analyze(p *plan.ExecutionPlan, res *exec.ExecutionResult) FailureAnalysis {
	a := FailureAnalysis{
		FailureRate: res.FailureRate(),
	}
	for _, id := range res.Failed {
		if s := p.StepByID(id); s != nil {
			a.FailedSteps = append(a.FailedSteps, s.Name)
		}
	}

	a.PrimaryCause = classify(res)

	if leaked := leakedFamilies(p, res); len(leaked) > 0 {
		a.ResourceLeak = true
		a.RequiresCleanup = true
		for _, fam := range leaked {
			a.LeakedResources = append(a.LeakedResources, fam.resource)
		}
	}
	return a
}

func classify(res *exec.ExecutionResult) FailureCause {
	counts := map[exec.ErrorKind]int{}
	for _, e := range res.Errors {
		counts[e.Kind]++
	}

	var winner exec.ErrorKind
	best, tied := 0, false
	for _, kind := range []exec.ErrorKind{exec.KindTimeout, exec.KindTool, exec.KindConfiguration, exec.KindOther} {
		switch n := counts[kind]; {
		case n > best:
			winner, best, tied = kind, n, false
		case n == best && n > 0:
			tied = true
		}
	}

	if best == 0 || tied {
		if len(res.Failed) > 0 {
			return CauseDependencyFailure
		}
		return CauseUnknown
	}

	switch winner {
	case exec.KindTimeout:
		return CauseTimeout
	case exec.KindTool:
		return CauseResourceUnavailable
	case exec.KindConfiguration:
		return CauseValidationError
	default:
		return CauseUnknown
	}
}

// leakFamily pairs an "open" marker list with its "close" markers.
type leakFamily struct {
	resource string
	opens    []string
	closes   []string
	cleanup  string // tool name for the generated cleanup step
}

var leakFamilies = []leakFamily{
	{
		resource: "browser session",
		opens:    []string{"open_browser", "navigate"},
		closes:   []string{"close_browser"},
		cleanup:  "close_browser",
	},
	{
		resource: "network listener",
		opens:    []string{"start_listener", "start_proxy"},
		closes:   []string{"stop_listener", "stop_proxy"},
		cleanup:  "stop_listener",
	},
}

// leakedFamilies returns the leak families whose open operation
// completed without a close, for cleanup-step generation.
func leakedFamilies(p *plan.ExecutionPlan, res *exec.ExecutionResult) []leakFamily {
	var names []string
	for _, id := range res.Completed {
		if s := p.StepByID(id); s != nil {
			names = append(names, normalizeName(s.Name))
		}
	}

	var leaked []leakFamily
	for _, fam := range leakFamilies {
		if matchesAny(names, fam.opens) && !matchesAny(names, fam.closes) {
			leaked = append(leaked, fam)
		}
	}
	return leaked
}

func normalizeName(name string) string {
	return strings.ReplaceAll(strings.ToLower(name), "-", "_")
}

func matchesAny(names, markers []string) bool {
	for _, n := range names {
		for _, m := range markers {
			if strings.Contains(n, m) {
				return true
			}
		}
	}
	return false
}

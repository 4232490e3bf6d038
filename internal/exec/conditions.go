package exec

import (
	"fmt"
	"strings"
)

// OutputKey is the key under which a step's output is recorded in
// the shared output map.
func OutputKey(stepName string) string {
	return "step_result_" + stepName
}

// EvaluateCondition evaluates one predicate against accumulated step
// outputs and the set of completed step names. Supported forms:
//
//	non_empty_output(step)  output recorded for step and not empty
//	completed(step)         step finished with status Completed
//	exists(key)             raw key present in the output map
//
// Unrecognized predicates evaluate to true so that planner-authored
// free-text conditions never block execution.
func EvaluateCondition(cond string, outputs map[string]any, completed map[string]bool) bool {
	cond = strings.TrimSpace(cond)

	name, arg, ok := splitCall(cond)
	if !ok {
		return true
	}

	switch name {
	case "non_empty_output":
		v, present := outputs[OutputKey(arg)]
		if !present {
			return false
		}
		s, isStr := v.(string)
		return !isStr || s != ""
	case "completed":
		return completed[arg]
	case "exists":
		_, present := outputs[arg]
		return present
	default:
		return true
	}
}

// EvaluateAll returns false on the first failing condition, along
// with that condition for error reporting.
func EvaluateAll(conds []string, outputs map[string]any, completed map[string]bool) (bool, string) {
	for _, c := range conds {
		if !EvaluateCondition(c, outputs, completed) {
			return false, c
		}
	}
	return true, ""
}

// splitCall parses "name(arg)" into its parts.
func splitCall(s string) (name, arg string, ok bool) {
	open := strings.IndexByte(s, '(')
	if open <= 0 || !strings.HasSuffix(s, ")") {
		return "", "", false
	}
	name = strings.TrimSpace(s[:open])
	arg = strings.TrimSpace(s[open+1 : len(s)-1])
	if name == "" || arg == "" {
		return "", "", false
	}
	return name, arg, true
}

// PostconditionError formats a failed postcondition as an error.
func PostconditionError(stepName, cond string) error {
	return fmt.Errorf("postcondition %q not satisfied after step %s", cond, stepName)
}

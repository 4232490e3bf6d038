package exec

import (
	"fmt"
	"sort"
	"time"

	"github.com/arlen/aegis/internal/plan"
)

// buildFeedback condenses a run into the summary block the replanner
// consumes: failure patterns, bottleneck steps, success factors.
func buildFeedback(p *plan.ExecutionPlan, res *ExecutionResult) Feedback {
	fb := Feedback{
		Summary: fmt.Sprintf("%d/%d steps completed (%d failed, %d skipped) in %s",
			len(res.Completed), len(p.Steps), len(res.Failed), len(res.Skipped),
			res.Duration.Round(time.Millisecond)),
	}

	// Failure patterns: error kinds with counts, plus repeated retries.
	kindCounts := map[ErrorKind]int{}
	for _, e := range res.Errors {
		kindCounts[e.Kind]++
	}
	for _, kind := range []ErrorKind{KindTimeout, KindTool, KindConfiguration, KindOther} {
		if n := kindCounts[kind]; n > 0 {
			fb.FailurePatterns = append(fb.FailurePatterns, fmt.Sprintf("%d %s failure(s)", n, kind))
		}
	}
	for _, id := range res.Failed {
		if sr := res.StepResults[id]; sr.Attempts > 1 {
			fb.FailurePatterns = append(fb.FailurePatterns,
				fmt.Sprintf("step %s failed after %d attempts", sr.Name, sr.Attempts))
		}
	}

	fb.Bottlenecks = bottlenecks(res)

	if len(res.Failed) == 0 && len(res.Completed) > 0 {
		fb.SuccessFactors = append(fb.SuccessFactors, "all executed steps completed")
	}
	firstTry := true
	for _, id := range res.Completed {
		if res.StepResults[id].Attempts > 1 {
			firstTry = false
			break
		}
	}
	if firstTry && len(res.Completed) > 0 {
		fb.SuccessFactors = append(fb.SuccessFactors, "completed steps succeeded on first attempt")
	}

	return fb
}

// bottlenecks lists steps that took more than twice the average
// executed-step duration.
func bottlenecks(res *ExecutionResult) []string {
	var total time.Duration
	var executed []StepResult
	for _, sr := range res.StepResults {
		if sr.Duration > 0 {
			total += sr.Duration
			executed = append(executed, sr)
		}
	}
	if len(executed) < 2 {
		return nil
	}
	avg := total / time.Duration(len(executed))

	var slow []string
	for _, sr := range executed {
		if sr.Duration > 2*avg {
			slow = append(slow, sr.Name)
		}
	}
	// StepResults is a map; sort so identical runs feed the
	// replanner identical feedback.
	sort.Strings(slow)
	return slow
}

package plan

import (
	"errors"
	"fmt"
)

// Validation errors.
var (
	ErrNoSteps       = errors.New("plan has no steps")
	ErrDuplicateStep = errors.New("duplicate step id")
	ErrUnknownDep    = errors.New("dependency references unknown step")
	ErrCycle         = errors.New("dependency cycle")
	ErrEmptyName     = errors.New("step has empty name")
)

// Validate checks structural integrity: at least one step, unique
// step ids, non-empty names, dependencies pointing at known steps,
// and an acyclic dependency map.
func (p *ExecutionPlan) Validate() error {
	if len(p.Steps) == 0 {
		return ErrNoSteps
	}

	known := make(map[string]bool, len(p.Steps))
	for _, s := range p.Steps {
		if s.Name == "" {
			return fmt.Errorf("%w: %s", ErrEmptyName, s.StepID)
		}
		if known[s.StepID] {
			return fmt.Errorf("%w: %s", ErrDuplicateStep, s.StepID)
		}
		known[s.StepID] = true
	}

	for stepID, deps := range p.Dependencies {
		if !known[stepID] {
			return fmt.Errorf("%w: %s", ErrUnknownDep, stepID)
		}
		for _, dep := range deps {
			if !known[dep] {
				return fmt.Errorf("%w: %s -> %s", ErrUnknownDep, stepID, dep)
			}
		}
	}

	return p.checkAcyclic()
}

const (
	colorWhite = iota // unvisited
	colorGray         // on the current DFS path
	colorBlack        // fully explored
)

// checkAcyclic runs a DFS over the dependency map.
func (p *ExecutionPlan) checkAcyclic() error {
	color := make(map[string]int, len(p.Steps))

	var visit func(id string) error
	visit = func(id string) error {
		switch color[id] {
		case colorGray:
			return fmt.Errorf("%w: involving step %s", ErrCycle, id)
		case colorBlack:
			return nil
		}
		color[id] = colorGray
		for _, dep := range p.Dependencies[id] {
			if err := visit(dep); err != nil {
				return err
			}
		}
		color[id] = colorBlack
		return nil
	}

	for _, s := range p.Steps {
		if err := visit(s.StepID); err != nil {
			return err
		}
	}
	return nil
}

// ExecutionOrder returns a topological order of step ids consistent
// with the dependency map. Ties among ready steps are broken by the
// step's position in the plan, so the order is deterministic for
// identical inputs.
func (p *ExecutionPlan) ExecutionOrder() ([]string, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	done := make(map[string]bool, len(p.Steps))
	order := make([]string, 0, len(p.Steps))

	for len(order) < len(p.Steps) {
		progressed := false
		for _, s := range p.Steps {
			if done[s.StepID] {
				continue
			}
			ready := true
			for _, dep := range p.Dependencies[s.StepID] {
				if !done[dep] {
					ready = false
					break
				}
			}
			if ready {
				done[s.StepID] = true
				order = append(order, s.StepID)
				progressed = true
			}
		}
		if !progressed {
			return nil, ErrCycle
		}
	}
	return order, nil
}

package decision

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/liamcoop/loanorchestrator/condition"
)

const (
	maxPipelineSteps = 100
	maxTerminalRules = 100
	maxIdentifierLen = 100
)

var validIdentifier = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ValidatePipeline checks a pipeline definition before it is stored.
// The executor never calls it: a stored pipeline always runs, and its unknown step types
// and broken conditions are handled at run time.
func ValidatePipeline(p *Pipeline) error {
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("pipeline id cannot be empty")
	}
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("pipeline %s: name cannot be empty", p.ID)
	}

	if len(p.Steps) > maxPipelineSteps {
		return fmt.Errorf("pipeline %s contains %d steps, maximum allowed is %d", p.ID, len(p.Steps), maxPipelineSteps)
	}
	stepOrders := make(map[int]string, len(p.Steps))
	for _, sc := range p.Steps {
		if err := validateIdentifier(sc.StepType); err != nil {
			return fmt.Errorf("pipeline %s: invalid step type %q: %w", p.ID, sc.StepType, err)
		}
		if prev, dup := stepOrders[sc.Order]; dup {
			return fmt.Errorf("pipeline %s: steps %q and %q share order %d", p.ID, prev, sc.StepType, sc.Order)
		}
		stepOrders[sc.Order] = sc.StepType
	}

	if len(p.Rules) > maxTerminalRules {
		return fmt.Errorf("pipeline %s contains %d terminal rules, maximum allowed is %d", p.ID, len(p.Rules), maxTerminalRules)
	}
	ruleOrders := make(map[int]bool, len(p.Rules))
	for _, r := range p.Rules {
		if ruleOrders[r.Order] {
			return fmt.Errorf("pipeline %s: more than one terminal rule with order %d", p.ID, r.Order)
		}
		ruleOrders[r.Order] = true

		if !r.FinalStatus.Valid() {
			return fmt.Errorf("pipeline %s: rule %d has invalid final status %q", p.ID, r.Order, r.FinalStatus)
		}
		if strings.TrimSpace(r.Condition) == "" {
			return fmt.Errorf("pipeline %s: rule %d has an empty condition", p.ID, r.Order)
		}
		if _, err := condition.Compile(r.Condition); err != nil {
			return fmt.Errorf("pipeline %s: rule %d: %w", p.ID, r.Order, err)
		}
	}

	return nil
}

func validateIdentifier(name string) error {
	if len(name) == 0 {
		return fmt.Errorf("identifier cannot be empty")
	}
	if len(name) > maxIdentifierLen {
		return fmt.Errorf("identifier length %d exceeds maximum of %d characters", len(name), maxIdentifierLen)
	}
	if !validIdentifier.MatchString(name) {
		return fmt.Errorf("must match pattern ^[a-zA-Z_][a-zA-Z0-9_]*$ (start with letter or underscore, followed by letters, digits, or underscores)")
	}
	return nil
}

package decision

import (
	"fmt"
	"strings"
	"testing"
)

func validPipeline() *Pipeline {
	return &Pipeline{
		ID:   "default",
		Name: "default",
		Steps: []StepConfig{
			{StepType: "dti_rule", Order: 1},
			{StepType: "amount_policy", Order: 2},
		},
		Rules: []TerminalRule{
			{Order: 1, Condition: "dti_rule.outcome == 'FAIL'", FinalStatus: StatusRejected},
			{Order: 2, Condition: "amount_policy.outcome == 'PASS'", FinalStatus: StatusApproved},
		},
	}
}

func TestValidatePipeline_Valid(t *testing.T) {
	if err := ValidatePipeline(validPipeline()); err != nil {
		t.Errorf("Expected valid pipeline, got: %v", err)
	}
}

func TestValidatePipeline_Invalid(t *testing.T) {
	testCases := []struct {
		name    string
		mutate  func(p *Pipeline)
		wantMsg string
	}{
		{"empty id", func(p *Pipeline) { p.ID = " " }, "id"},
		{"empty name", func(p *Pipeline) { p.Name = "" }, "name"},
		{"duplicate step order", func(p *Pipeline) { p.Steps[1].Order = 1 }, "share order 1"},
		{"duplicate rule order", func(p *Pipeline) { p.Rules[1].Order = 1 }, "order 1"},
		{"step type with spaces", func(p *Pipeline) { p.Steps[0].StepType = "dti rule" }, "invalid step type"},
		{"step type starting with digit", func(p *Pipeline) { p.Steps[0].StepType = "1dti" }, "must match pattern"},
		{"step type too long", func(p *Pipeline) { p.Steps[0].StepType = strings.Repeat("a", 101) }, "exceeds maximum"},
		{"bad final status", func(p *Pipeline) { p.Rules[0].FinalStatus = "DECLINED" }, "invalid final status"},
		{"empty condition", func(p *Pipeline) { p.Rules[0].Condition = "  " }, "empty condition"},
		{"unparseable condition", func(p *Pipeline) { p.Rules[0].Condition = "dti_rule.outcome = 'FAIL'" }, "syntax error"},
		{"too many steps", func(p *Pipeline) {
			p.Steps = nil
			for i := 0; i < 101; i++ {
				p.Steps = append(p.Steps, StepConfig{StepType: fmt.Sprintf("s%d", i), Order: i})
			}
		}, "maximum allowed is 100"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			p := validPipeline()
			tc.mutate(p)

			err := ValidatePipeline(p)
			if err == nil {
				t.Fatal("Expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tc.wantMsg) {
				t.Errorf("Expected error mentioning %q, got: %v", tc.wantMsg, err)
			}
		})
	}
}

// Conditions may reference steps the pipeline does not run; that is a run-time concern.
func TestValidatePipeline_AllowsUnknownReferences(t *testing.T) {
	p := validPipeline()
	p.Rules[0].Condition = "credit_bureau.outcome == 'FAIL'"
	if err := ValidatePipeline(p); err != nil {
		t.Errorf("Expected valid pipeline, got: %v", err)
	}
}

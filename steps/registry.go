package steps

import (
	"context"
	"sort"

	"github.com/liamcoop/loanorchestrator/condition"
	"github.com/liamcoop/loanorchestrator/sentiment"
)

// Registry maps step type names to processors. It is built once and read-only afterwards.
type Registry struct {
	processors map[string]Processor
}

// NewRegistry copies processors into a new registry.
func NewRegistry(processors map[string]Processor) *Registry {
	r := &Registry{processors: make(map[string]Processor, len(processors))}
	for name, p := range processors {
		r.processors[name] = p
	}
	return r
}

// DefaultRegistry registers the four built-in steps. classifier backs the "llm" sentiment
// mode and may be nil, in which case that mode always falls back to keywords.
func DefaultRegistry(classifier sentiment.Classifier) *Registry {
	return NewRegistry(map[string]Processor{
		DebtToIncomeType: DebtToIncomeRule{},
		AmountPolicyType: AmountPolicyRule{},
		RiskScoringType:  RiskScoringStep{},
		SentimentType:    &SentimentCheckStep{Remote: classifier},
	})
}

// Lookup resolves stepType. A miss is not an error; callers decide what to do with it.
func (r *Registry) Lookup(stepType string) (Processor, bool) {
	p, ok := r.processors[stepType]
	return p, ok
}

// Run resolves stepType, applies the default parameter layer and executes the step.
func (r *Registry) Run(ctx context.Context, stepType string, app Application, params Params) (condition.Result, bool) {
	p, ok := r.Lookup(stepType)
	if !ok {
		return condition.Result{}, false
	}
	return p.Execute(ctx, app, WithDefaults(stepType, params)), true
}

// Types lists the registered step types in sorted order.
func (r *Registry) Types() []string {
	out := make([]string, 0, len(r.processors))
	for name := range r.processors {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

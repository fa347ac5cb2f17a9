package steps

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/liamcoop/loanorchestrator/condition"
)

const (
	fallbackDTIThreshold = "0.35"
	fallbackCountryCap   = "25000"
	fallbackMaxScore     = "40"
	otherCountry         = "OTHER"
)

var (
	errInvalidIncome = errors.New("invalid income data")
	errZeroCap       = errors.New("country cap is zero")

	hundred = decimal.NewFromInt(100)
	twenty  = decimal.NewFromInt(20)
)

// DebtToIncomeRule passes when declared debts / monthly income is below max_dti_threshold.
type DebtToIncomeRule struct{}

func (DebtToIncomeRule) Execute(_ context.Context, app Application, params Params) condition.Result {
	ratio, err := debtToIncome(app)
	if err != nil {
		return condition.Result{
			Outcome: OutcomeError,
			Detail:  map[string]any{"reason": err.Error(), "dti": "N/A"},
		}
	}
	threshold, err := params.Decimal("max_dti_threshold", fallbackDTIThreshold)
	if err != nil {
		return errorResult(err, map[string]any{"dti": formatRatio(ratio)})
	}

	outcome := OutcomeFail
	if ratio.LessThan(threshold) {
		outcome = OutcomePass
	}
	return condition.Result{
		Outcome: outcome,
		Detail: map[string]any{
			"dti":       formatRatio(ratio),
			"threshold": threshold.String(),
		},
	}
}

// AmountPolicyRule passes when the requested amount is within the cap for the
// application's country. Country codes are matched case-insensitively and fall back to
// the OTHER entry of max_amounts.
type AmountPolicyRule struct{}

func (AmountPolicyRule) Execute(_ context.Context, app Application, params Params) condition.Result {
	limit, err := countryCap(app, params)
	if err != nil {
		return errorResult(err, map[string]any{"application_amount": app.Amount.String()})
	}

	outcome := OutcomeFail
	if app.Amount.LessThanOrEqual(limit) {
		outcome = OutcomePass
	}
	return condition.Result{
		Outcome: outcome,
		Detail: map[string]any{
			"country_max":        limit.String(),
			"application_amount": app.Amount.String(),
		},
	}
}

// RiskScoringStep recomputes the DTI ratio and country cap from its own parameters and
// scores the application as dti*100 + (amount/cap)*20. It passes when the score does not
// exceed max_score.
//
// The step does not read the results of earlier dti_rule or amount_policy steps, so its
// numbers follow its own parameters even when they differ from those steps'.
type RiskScoringStep struct{}

func (RiskScoringStep) Execute(_ context.Context, app Application, params Params) condition.Result {
	ratio, err := debtToIncome(app)
	if err != nil {
		return errorResult(err, map[string]any{"dti": "N/A"})
	}
	limit, err := countryCap(app, WithDefaults(AmountPolicyType, params))
	if err != nil {
		return errorResult(err, nil)
	}
	if limit.IsZero() {
		return errorResult(errZeroCap, map[string]any{"country_max": limit.String()})
	}
	maxScore, err := params.Decimal("max_score", fallbackMaxScore)
	if err != nil {
		return errorResult(err, nil)
	}

	score := ratio.Mul(hundred).Add(app.Amount.Div(limit).Mul(twenty)).Round(4)
	outcome := OutcomeFail
	if score.LessThanOrEqual(maxScore) {
		outcome = OutcomePass
	}
	return condition.Result{
		Outcome: outcome,
		Detail: map[string]any{
			"score":       score.InexactFloat64(),
			"threshold":   maxScore.InexactFloat64(),
			"dti":         formatRatio(ratio),
			"country_max": limit.String(),
		},
	}
}

func debtToIncome(app Application) (decimal.Decimal, error) {
	if !app.MonthlyIncome.IsPositive() {
		return decimal.Zero, errInvalidIncome
	}
	return app.DeclaredDebts.Div(app.MonthlyIncome), nil
}

func countryCap(app Application, params Params) (decimal.Decimal, error) {
	caps, err := params.Caps("max_amounts")
	if err != nil {
		return decimal.Zero, err
	}
	if limit, ok := caps[strings.ToUpper(strings.TrimSpace(app.Country))]; ok {
		return limit, nil
	}
	if limit, ok := caps[otherCountry]; ok {
		return limit, nil
	}
	return decimal.RequireFromString(fallbackCountryCap), nil
}

func formatRatio(d decimal.Decimal) string {
	return d.Round(4).String()
}

func errorResult(err error, detail map[string]any) condition.Result {
	out := map[string]any{"reason": err.Error()}
	for k, v := range detail {
		out[k] = v
	}
	return condition.Result{Outcome: OutcomeError, Detail: out}
}

package steps

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liamcoop/loanorchestrator/condition"
	"github.com/liamcoop/loanorchestrator/internal/logger"
	"github.com/liamcoop/loanorchestrator/sentiment"
)

func application(amount, income, debts int64, country, purpose string) Application {
	return Application{
		ID:            "app-1",
		Amount:        decimal.NewFromInt(amount),
		MonthlyIncome: decimal.NewFromInt(income),
		DeclaredDebts: decimal.NewFromInt(debts),
		Country:       country,
		Purpose:       purpose,
	}
}

func TestDebtToIncomeRule(t *testing.T) {
	testCases := []struct {
		name   string
		app    Application
		params Params
		want   condition.Result
	}{
		{
			name:   "below threshold",
			app:    application(12000, 4000, 500, "ES", ""),
			params: Params{"max_dti_threshold": "0.35"},
			want: condition.Result{
				Outcome: OutcomePass,
				Detail:  map[string]any{"dti": "0.125", "threshold": "0.35"},
			},
		},
		{
			name:   "at threshold fails",
			app:    application(1000, 1000, 350, "ES", ""),
			params: Params{"max_dti_threshold": "0.35"},
			want: condition.Result{
				Outcome: OutcomeFail,
				Detail:  map[string]any{"dti": "0.35", "threshold": "0.35"},
			},
		},
		{
			name:   "processor fallback threshold",
			app:    application(1000, 1000, 360, "ES", ""),
			params: Params{},
			want: condition.Result{
				Outcome: OutcomeFail,
				Detail:  map[string]any{"dti": "0.36", "threshold": "0.35"},
			},
		},
		{
			name:   "numeric threshold",
			app:    application(1000, 3000, 1000, "ES", ""),
			params: Params{"max_dti_threshold": 0.5},
			want: condition.Result{
				Outcome: OutcomePass,
				Detail:  map[string]any{"dti": "0.3333", "threshold": "0.5"},
			},
		},
		{
			name:   "zero income",
			app:    application(1000, 0, 100, "ES", ""),
			params: Params{},
			want: condition.Result{
				Outcome: OutcomeError,
				Detail:  map[string]any{"reason": "invalid income data", "dti": "N/A"},
			},
		},
		{
			name:   "negative income",
			app:    application(1000, -10, 100, "ES", ""),
			params: Params{},
			want: condition.Result{
				Outcome: OutcomeError,
				Detail:  map[string]any{"reason": "invalid income data", "dti": "N/A"},
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := DebtToIncomeRule{}.Execute(context.Background(), tc.app, tc.params)
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("result mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDebtToIncomeRuleBadThreshold(t *testing.T) {
	got := DebtToIncomeRule{}.Execute(context.Background(), application(1, 4000, 500, "ES", ""), Params{"max_dti_threshold": "lots"})
	assert.Equal(t, OutcomeError, got.Outcome)
	assert.Equal(t, "0.125", got.Detail["dti"])
	assert.Contains(t, got.Detail["reason"], "max_dti_threshold")
}

func TestAmountPolicyRule(t *testing.T) {
	caps := map[string]any{"ES": "30000", "OTHER": 25000}

	testCases := []struct {
		name        string
		app         Application
		params      Params
		wantOutcome string
		wantCap     string
	}{
		{"within country cap", application(12000, 1, 0, "ES", ""), Params{"max_amounts": caps}, OutcomePass, "30000"},
		{"lower-case country", application(30000, 1, 0, "es", ""), Params{"max_amounts": caps}, OutcomePass, "30000"},
		{"over country cap", application(30001, 1, 0, "ES", ""), Params{"max_amounts": caps}, OutcomeFail, "30000"},
		{"falls back to OTHER", application(26000, 1, 0, "PT", ""), Params{"max_amounts": caps}, OutcomeFail, "25000"},
		{"no caps configured", application(25000, 1, 0, "PT", ""), Params{}, OutcomePass, "25000"},
		{"string map", application(100, 1, 0, "FR", ""), Params{"max_amounts": map[string]string{"fr": "50"}}, OutcomeFail, "50"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := AmountPolicyRule{}.Execute(context.Background(), tc.app, tc.params)
			assert.Equal(t, tc.wantOutcome, got.Outcome)
			assert.Equal(t, tc.wantCap, got.Detail["country_max"])
			assert.Equal(t, tc.app.Amount.String(), got.Detail["application_amount"])
		})
	}
}

func TestAmountPolicyRuleBadCaps(t *testing.T) {
	got := AmountPolicyRule{}.Execute(context.Background(), application(1, 1, 0, "ES", ""), Params{"max_amounts": "ES=1"})
	assert.Equal(t, OutcomeError, got.Outcome)

	got = AmountPolicyRule{}.Execute(context.Background(), application(1, 1, 0, "ES", ""), Params{"max_amounts": map[string]any{"ES": true}})
	assert.Equal(t, OutcomeError, got.Outcome)
}

func TestRiskScoringStep(t *testing.T) {
	testCases := []struct {
		name        string
		app         Application
		params      Params
		wantOutcome string
		wantScore   float64
	}{
		{"low risk", application(12000, 4000, 500, "ES", ""), DefaultParams(RiskScoringType), OutcomePass, 20.5},
		{"score over threshold", application(20000, 3000, 900, "FR", ""), DefaultParams(RiskScoringType), OutcomeFail, 50},
		{"exactly at threshold", application(20000, 3000, 900, "FR", ""), Params{"max_score": 50}, OutcomePass, 50},
		{"own caps win", application(20000, 3000, 900, "FR", ""), Params{"max_amounts": map[string]any{"FR": "40000"}}, OutcomePass, 40},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := RiskScoringStep{}.Execute(context.Background(), tc.app, tc.params)
			assert.Equal(t, tc.wantOutcome, got.Outcome)
			assert.InDelta(t, tc.wantScore, got.Detail["score"], 1e-9)
			assert.Contains(t, got.Detail, "threshold")
		})
	}
}

func TestRiskScoringStepFaults(t *testing.T) {
	got := RiskScoringStep{}.Execute(context.Background(), application(1000, 0, 1, "ES", ""), Params{})
	assert.Equal(t, OutcomeError, got.Outcome)
	assert.Equal(t, "N/A", got.Detail["dti"])

	got = RiskScoringStep{}.Execute(context.Background(), application(1000, 10, 1, "ES", ""), Params{"max_amounts": map[string]any{"ES": 0}})
	assert.Equal(t, OutcomeError, got.Outcome)
	assert.Equal(t, errZeroCap.Error(), got.Detail["reason"])
}

type stubClassifier struct {
	risky bool
	err   error
	calls int
}

func (s *stubClassifier) Classify(ctx context.Context, text string) (bool, error) {
	s.calls++
	return s.risky, s.err
}

func TestSentimentCheckStep(t *testing.T) {
	remoteDown := &sentiment.ClassificationError{Strategy: "llm", StatusCode: 503, Err: errors.New("unavailable")}

	testCases := []struct {
		name         string
		remote       sentiment.Classifier
		purpose      string
		params       Params
		wantOutcome  string
		wantMode     string
		wantFallback bool
	}{
		{"keyword risky", nil, "gambling trip", Params{"mode": "keyword", "risky_keywords": []any{"gambling", "crypto"}}, OutcomeRisky, "keyword", false},
		{"keyword safe", nil, "home renovation", Params{"risky_keywords": []string{"gambling"}}, OutcomeSafe, "keyword", false},
		{"default keywords", nil, "Crypto mining rig", DefaultParams(SentimentType), OutcomeRisky, "keyword", false},
		{"llm answers", &stubClassifier{risky: true}, "weekend away", Params{"mode": "llm"}, OutcomeRisky, "llm", false},
		{"llm failure falls back", &stubClassifier{err: remoteDown}, "home renovation", Params{"mode": "LLM", "risky_keywords": []any{"gambling"}}, OutcomeSafe, "keyword", true},
		{"llm failure still catches keywords", &stubClassifier{err: remoteDown}, "gambling debts", Params{"mode": "llm", "risky_keywords": []any{"gambling"}}, OutcomeRisky, "keyword", true},
		{"no remote configured", nil, "home renovation", Params{"mode": "llm"}, OutcomeSafe, "keyword", true},
		{"unknown mode", nil, "home renovation", Params{"mode": "tarot"}, OutcomeSafe, "keyword", true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			step := &SentimentCheckStep{Remote: tc.remote}
			got := step.Execute(context.Background(), application(1, 1, 0, "ES", tc.purpose), tc.params)

			assert.Equal(t, tc.wantOutcome, got.Outcome)
			assert.Equal(t, tc.wantMode, got.Detail["mode"])
			_, hasFallback := got.Detail["fallback_reason"]
			assert.Equal(t, tc.wantFallback, hasFallback)
			assert.Equal(t, got.Outcome == OutcomeRisky, got.Detail["risky"])
		})
	}
}

func TestSentimentCheckStepCountsFallbacks(t *testing.T) {
	before := logger.SentimentFallbacks.Load()
	step := &SentimentCheckStep{Remote: &stubClassifier{err: errors.New("boom")}}
	step.Execute(context.Background(), application(1, 1, 0, "ES", "car"), Params{"mode": "llm"})
	assert.Equal(t, before+1, logger.SentimentFallbacks.Load())
}

func TestSentimentCheckStepTruncatesPurpose(t *testing.T) {
	purpose := strings.Repeat("ñ", 80)
	got := (&SentimentCheckStep{}).Execute(context.Background(), application(1, 1, 0, "ES", purpose), Params{})
	assert.Equal(t, strings.Repeat("ñ", 50), got.Detail["purpose"])
}

func TestSentimentCheckStepAppliesTimeout(t *testing.T) {
	remote := classifierFunc(func(ctx context.Context, _ string) (bool, error) {
		_, ok := ctx.Deadline()
		assert.True(t, ok, "remote call should carry a deadline")
		return false, nil
	})
	step := &SentimentCheckStep{Remote: remote}
	got := step.Execute(context.Background(), application(1, 1, 0, "ES", "car"), Params{"mode": "llm", "timeout": "2s"})
	assert.Equal(t, "llm", got.Detail["mode"])
}

type classifierFunc func(ctx context.Context, text string) (bool, error)

func (f classifierFunc) Classify(ctx context.Context, text string) (bool, error) { return f(ctx, text) }

func TestRegistry(t *testing.T) {
	r := DefaultRegistry(nil)
	assert.Equal(t, []string{"amount_policy", "dti_rule", "risk_scoring", "sentiment_check"}, r.Types())

	_, ok := r.Lookup("credit_bureau")
	assert.False(t, ok)

	p, ok := r.Lookup(DebtToIncomeType)
	require.True(t, ok)
	assert.IsType(t, DebtToIncomeRule{}, p)
}

func TestRegistryRunAppliesDefaults(t *testing.T) {
	r := DefaultRegistry(nil)
	app := application(20000, 3000, 900, "FR", "home renovation")

	dti, ok := r.Run(context.Background(), DebtToIncomeType, app, nil)
	require.True(t, ok)
	assert.Equal(t, OutcomePass, dti.Outcome)
	assert.Equal(t, "0.4", dti.Detail["threshold"])

	amount, ok := r.Run(context.Background(), AmountPolicyType, app, nil)
	require.True(t, ok)
	assert.Equal(t, "20000", amount.Detail["country_max"])

	_, ok = r.Run(context.Background(), "credit_bureau", app, nil)
	assert.False(t, ok)
}

func TestWithDefaultsDoesNotMutate(t *testing.T) {
	params := Params{"max_dti_threshold": "0.2"}
	merged := WithDefaults(DebtToIncomeType, params)
	merged["extra"] = 1

	assert.Equal(t, "0.2", merged["max_dti_threshold"])
	assert.Len(t, params, 1)
	assert.Equal(t, "0.40", DefaultParams(DebtToIncomeType)["max_dti_threshold"])
	assert.Empty(t, DefaultParams("unknown"))
}

func TestProcessorFunc(t *testing.T) {
	var p Processor = ProcessorFunc(func(context.Context, Application, Params) condition.Result {
		return condition.Result{Outcome: OutcomePass}
	})
	assert.Equal(t, OutcomePass, p.Execute(context.Background(), Application{}, nil).Outcome)
}

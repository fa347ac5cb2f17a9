package steps

// Step type names as they appear in pipeline configuration.
const (
	DebtToIncomeType = "dti_rule"
	AmountPolicyType = "amount_policy"
	RiskScoringType  = "risk_scoring"
	SentimentType    = "sentiment_check"
)

// defaultParams is filled once at init and never written afterwards.
var defaultParams = map[string]Params{
	DebtToIncomeType: {
		"max_dti_threshold": "0.40",
	},
	AmountPolicyType: {
		"max_amounts": map[string]any{
			"ES":    "30000",
			"FR":    "20000",
			"DE":    "35000",
			"OTHER": "25000",
		},
	},
	RiskScoringType: {
		"max_score": "40",
	},
	SentimentType: {
		"mode":           SentimentModeKeyword,
		"risky_keywords": defaultRiskyKeywords,
	},
}

// DefaultParams returns a copy of the default parameter layer for stepType.
// Unknown types get an empty bag.
func DefaultParams(stepType string) Params {
	return WithDefaults(stepType, nil)
}

// WithDefaults returns params layered over the defaults for stepType.
// Keys present in params win; neither input is modified.
func WithDefaults(stepType string, params Params) Params {
	defaults := defaultParams[stepType]
	out := make(Params, len(defaults)+len(params))
	for k, v := range defaults {
		out[k] = v
	}
	for k, v := range params {
		out[k] = v
	}
	return out
}

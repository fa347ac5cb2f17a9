// Package steps holds the step processors a pipeline is built from and the registry
// that resolves a configured step type to its processor.
//
// A processor is a pure function of an application snapshot and a parameter bag.
// Business failures (a DTI over threshold, an amount over cap) are FAIL outcomes.
// Arithmetic faults are ERROR outcomes. Neither is returned as a Go error, so a single
// bad step never aborts a run.
package steps

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/liamcoop/loanorchestrator/condition"
)

// Outcomes shared by the rule steps. The sentiment step has its own alphabet.
const (
	OutcomePass  = "PASS"
	OutcomeFail  = "FAIL"
	OutcomeError = "ERROR"
	OutcomeRisky = "RISKY"
	OutcomeSafe  = "SAFE"
)

// Application is the immutable financial snapshot a processor evaluates.
type Application struct {
	ID            string
	Amount        decimal.Decimal
	MonthlyIncome decimal.Decimal
	DeclaredDebts decimal.Decimal
	Country       string
	Purpose       string
}

// Processor evaluates one rule against one application.
type Processor interface {
	Execute(ctx context.Context, app Application, params Params) condition.Result
}

// ProcessorFunc adapts a plain function to Processor.
type ProcessorFunc func(ctx context.Context, app Application, params Params) condition.Result

func (f ProcessorFunc) Execute(ctx context.Context, app Application, params Params) condition.Result {
	return f(ctx, app, params)
}

// Params is a step's open key-value configuration, typically decoded from JSON or YAML.
type Params map[string]any

// Decimal reads key as a decimal. Strings, JSON numbers and Go numerics are accepted.
// fallback is used when the key is absent.
func (p Params) Decimal(key, fallback string) (decimal.Decimal, error) {
	raw, ok := p[key]
	if !ok || raw == nil {
		return decimal.NewFromString(fallback)
	}
	d, err := toDecimal(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("param %s: %w", key, err)
	}
	return d, nil
}

// String reads key as a string, or returns fallback.
func (p Params) String(key, fallback string) string {
	if s, ok := p[key].(string); ok && s != "" {
		return s
	}
	return fallback
}

// Strings reads key as a list of strings, or returns fallback.
func (p Params) Strings(key string, fallback []string) []string {
	switch v := p[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return fallback
}

// Duration reads key as a Go duration string ("5s") or a number of seconds.
func (p Params) Duration(key string, fallback time.Duration) time.Duration {
	switch v := p[key].(type) {
	case string:
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	case float64:
		return time.Duration(v * float64(time.Second))
	case int:
		return time.Duration(v) * time.Second
	}
	return fallback
}

// Caps reads key as a map of upper-cased country code to decimal cap.
// Entries that are not numeric are reported as an error.
func (p Params) Caps(key string) (map[string]decimal.Decimal, error) {
	out := map[string]decimal.Decimal{}
	var entries map[string]any
	switch v := p[key].(type) {
	case nil:
		return out, nil
	case map[string]any:
		entries = v
	case map[string]string:
		entries = make(map[string]any, len(v))
		for k, s := range v {
			entries[k] = s
		}
	default:
		return nil, fmt.Errorf("param %s: want map, got %T", key, v)
	}
	for country, raw := range entries {
		d, err := toDecimal(raw)
		if err != nil {
			return nil, fmt.Errorf("param %s.%s: %w", key, country, err)
		}
		out[strings.ToUpper(strings.TrimSpace(country))] = d
	}
	return out, nil
}

func toDecimal(v any) (decimal.Decimal, error) {
	switch x := v.(type) {
	case decimal.Decimal:
		return x, nil
	case string:
		return decimal.NewFromString(strings.TrimSpace(x))
	case json.Number:
		return decimal.NewFromString(x.String())
	case float64:
		return decimal.NewFromFloat(x), nil
	case float32:
		return decimal.NewFromFloat32(x), nil
	case int:
		return decimal.NewFromInt(int64(x)), nil
	case int64:
		return decimal.NewFromInt(x), nil
	case int32:
		return decimal.NewFromInt32(x), nil
	}
	return decimal.Zero, fmt.Errorf("cannot use %T as a number", v)
}

package decision

import (
	"os"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFixtures(t *testing.T) {
	f, err := os.Open("testdata/e2e.yaml")
	require.NoError(t, err)
	defer f.Close()

	fixtures, err := LoadFixtures(f)
	require.NoError(t, err)
	require.Len(t, fixtures.Pipelines, 1)
	require.Len(t, fixtures.Applications, 4)

	p := fixtures.Pipelines[0]
	assert.Equal(t, "default-pipeline", p.ID)
	assert.True(t, p.Active)
	require.Len(t, p.Steps, 4)
	assert.Equal(t, "llm", p.Steps[2].Params["mode"])

	wantRules := []TerminalRule{
		{Order: 1, Condition: "dti_rule.outcome == 'FAIL' or amount_policy.outcome == 'FAIL'", FinalStatus: StatusRejected},
		{Order: 2, Condition: "sentiment_check.outcome == 'RISKY'", FinalStatus: StatusRejected},
		{Order: 3, Condition: "risk_scoring.outcome == 'PASS'", FinalStatus: StatusApproved},
	}
	if diff := cmp.Diff(wantRules, p.Rules); diff != "" {
		t.Errorf("rules mismatch (-want +got):\n%s", diff)
	}

	ana := fixtures.Applications[0]
	assert.Equal(t, "12000", ana.Amount.String())
	assert.Equal(t, "4000", ana.MonthlyIncome.String())
	assert.Equal(t, StatusNeedsReview, ana.Status)
}

func TestLoadFixturesRejectsBadInput(t *testing.T) {
	testCases := []struct {
		name string
		doc  string
	}{
		{"unknown field", "applications:\n  - id: a\n    salary: 10\n"},
		{"bad amount", "applications:\n  - id: a\n    amount: lots\n    monthly_income: 1\n    declared_debts: 0\n"},
		{"missing id", "applications:\n  - amount: 1\n    monthly_income: 1\n    declared_debts: 0\n"},
		{"bad status", "applications:\n  - id: a\n    amount: 1\n    monthly_income: 1\n    declared_debts: 0\n    status: maybe\n"},
		{"invalid pipeline", "pipelines:\n  - id: p\n    name: p\n    terminal_rules:\n      - order: 1\n        condition: \"x.outcome ==\"\n        final_status: APPROVED\n"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadFixtures(strings.NewReader(tc.doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadFixturesEmpty(t *testing.T) {
	fixtures, err := LoadFixtures(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, fixtures.Applications)
	assert.Empty(t, fixtures.Pipelines)
}

package decision

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/liamcoop/loanorchestrator/steps"
)

// Status is an application's decision state.
type Status string

const (
	StatusApproved    Status = "APPROVED"
	StatusRejected    Status = "REJECTED"
	StatusNeedsReview Status = "NEEDS_REVIEW"
)

// Valid reports whether s is one of the three decision states.
func (s Status) Valid() bool {
	switch s {
	case StatusApproved, StatusRejected, StatusNeedsReview:
		return true
	}
	return false
}

// ParseStatus validates s.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("invalid status %q (want APPROVED, REJECTED or NEEDS_REVIEW)", s)
	}
	return st, nil
}

// Application is a loan application. Everything but Status is fixed at submission.
type Application struct {
	ID            string          `json:"id" yaml:"id"`
	ApplicantName string          `json:"applicantName" yaml:"applicant_name"`
	Amount        decimal.Decimal `json:"amount" yaml:"amount"`
	MonthlyIncome decimal.Decimal `json:"monthlyIncome" yaml:"monthly_income"`
	DeclaredDebts decimal.Decimal `json:"declaredDebts" yaml:"declared_debts"`
	Country       string          `json:"country" yaml:"country"`
	Purpose       string          `json:"purpose" yaml:"purpose"`
	Status        Status          `json:"status" yaml:"status"`
	CreatedAt     time.Time       `json:"createdAt" yaml:"-"`
}

// Snapshot is the read-only view handed to step processors.
func (a *Application) Snapshot() steps.Application {
	return steps.Application{
		ID:            a.ID,
		Amount:        a.Amount,
		MonthlyIncome: a.MonthlyIncome,
		DeclaredDebts: a.DeclaredDebts,
		Country:       a.Country,
		Purpose:       a.Purpose,
	}
}

// StepConfig is one configured step of a pipeline.
type StepConfig struct {
	StepType string       `json:"stepType" yaml:"step_type"`
	Order    int          `json:"order" yaml:"order"`
	Params   steps.Params `json:"params,omitempty" yaml:"params,omitempty"`
}

// TerminalRule maps a condition over step outcomes to a final status.
type TerminalRule struct {
	Order       int    `json:"order" yaml:"order"`
	Condition   string `json:"condition" yaml:"condition"`
	FinalStatus Status `json:"finalStatus" yaml:"final_status"`
}

// Pipeline is an ordered set of steps plus an ordered set of terminal rules.
type Pipeline struct {
	ID          string         `json:"id" yaml:"id"`
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Active      bool           `json:"active" yaml:"active"`
	Steps       []StepConfig   `json:"steps" yaml:"steps"`
	Rules       []TerminalRule `json:"terminalRules" yaml:"terminal_rules"`
}

// Run records one execution of a pipeline against an application.
// EndTime and FinalStatus stay nil until the run completes.
type Run struct {
	ID            int64      `json:"id"`
	ApplicationID string     `json:"applicationId"`
	PipelineID    string     `json:"pipelineId"`
	StartTime     time.Time  `json:"startTime"`
	EndTime       *time.Time `json:"endTime"`
	FinalStatus   *Status    `json:"finalStatus"`
	StepLogs      []StepLog  `json:"stepLogs"`
}

// StepLog is the append-only record of one executed step.
type StepLog struct {
	RunID         int64          `json:"-"`
	StepType      string         `json:"stepType"`
	Outcome       string         `json:"outcome"`
	Detail        map[string]any `json:"detail"`
	ExecutionTime time.Time      `json:"executionTime"`
}

package decision

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Fixtures is a batch of applications and pipelines loaded from YAML.
type Fixtures struct {
	Applications []Application
	Pipelines    []Pipeline
}

type fixtureFile struct {
	Applications []fixtureApplication `yaml:"applications"`
	Pipelines    []Pipeline           `yaml:"pipelines"`
}

// fixtureApplication keeps money as text so YAML numbers never pass through float64.
type fixtureApplication struct {
	ID            string `yaml:"id"`
	ApplicantName string `yaml:"applicant_name"`
	Amount        string `yaml:"amount"`
	MonthlyIncome string `yaml:"monthly_income"`
	DeclaredDebts string `yaml:"declared_debts"`
	Country       string `yaml:"country"`
	Purpose       string `yaml:"purpose"`
	Status        string `yaml:"status"`
}

// LoadFixtures decodes and validates a fixture document.
func LoadFixtures(r io.Reader) (*Fixtures, error) {
	var file fixtureFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		if err == io.EOF {
			return &Fixtures{}, nil
		}
		return nil, fmt.Errorf("failed to decode fixtures: %w", err)
	}

	out := &Fixtures{Pipelines: file.Pipelines}
	for _, fa := range file.Applications {
		app, err := fa.toApplication()
		if err != nil {
			return nil, fmt.Errorf("application %s: %w", fa.ID, err)
		}
		out.Applications = append(out.Applications, app)
	}
	for i := range out.Pipelines {
		if err := ValidatePipeline(&out.Pipelines[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (fa fixtureApplication) toApplication() (Application, error) {
	if strings.TrimSpace(fa.ID) == "" {
		return Application{}, fmt.Errorf("id is required")
	}
	amount, err := decimal.NewFromString(fa.Amount)
	if err != nil {
		return Application{}, fmt.Errorf("amount: %w", err)
	}
	income, err := decimal.NewFromString(fa.MonthlyIncome)
	if err != nil {
		return Application{}, fmt.Errorf("monthly_income: %w", err)
	}
	debts, err := decimal.NewFromString(fa.DeclaredDebts)
	if err != nil {
		return Application{}, fmt.Errorf("declared_debts: %w", err)
	}
	status := StatusNeedsReview
	if fa.Status != "" {
		if status, err = ParseStatus(fa.Status); err != nil {
			return Application{}, err
		}
	}
	return Application{
		ID:            fa.ID,
		ApplicantName: fa.ApplicantName,
		Amount:        amount,
		MonthlyIncome: income,
		DeclaredDebts: debts,
		Country:       fa.Country,
		Purpose:       fa.Purpose,
		Status:        status,
	}, nil
}

// Seed saves every fixture to store, pipelines first.
func Seed(ctx context.Context, store Store, f *Fixtures) error {
	for i := range f.Pipelines {
		if err := store.SavePipeline(ctx, &f.Pipelines[i]); err != nil {
			return fmt.Errorf("seed pipeline %s: %w", f.Pipelines[i].ID, err)
		}
	}
	for i := range f.Applications {
		if err := store.SaveApplication(ctx, &f.Applications[i]); err != nil {
			return fmt.Errorf("seed application %s: %w", f.Applications[i].ID, err)
		}
	}
	return nil
}

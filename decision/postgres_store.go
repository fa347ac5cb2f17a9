package decision

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/liamcoop/loanorchestrator/internal/logger"
)

// lockNotAvailable is the SQLSTATE Postgres raises for FOR UPDATE NOWAIT on a held row.
const lockNotAvailable = "55P03"

// PostgresStore implements Store backed by PostgreSQL
type PostgresStore struct {
	db     *sql.DB
	policy LockPolicy
}

// NewPostgresStore creates a store over an open database handle.
func NewPostgresStore(db *sql.DB, policy LockPolicy) *PostgresStore {
	if policy == "" {
		policy = LockWait
	}
	return &PostgresStore{db: db, policy: policy}
}

// OpenPostgres opens and pings a lib/pq connection.
func OpenPostgres(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const applicationColumns = `id, applicant_name, amount, monthly_income, declared_debts, country, purpose, status, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanApplication(row rowScanner) (*Application, error) {
	var app Application
	var status string
	if err := row.Scan(&app.ID, &app.ApplicantName, &app.Amount, &app.MonthlyIncome,
		&app.DeclaredDebts, &app.Country, &app.Purpose, &status, &app.CreatedAt); err != nil {
		return nil, err
	}
	app.Status = Status(status)
	return &app, nil
}

func (s *PostgresStore) GetApplication(ctx context.Context, id string) (*Application, error) {
	app, err := scanApplication(s.db.QueryRowContext(ctx,
		`SELECT `+applicationColumns+` FROM applications WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrApplicationNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get application: %w", err)
	}
	return app, nil
}

// SaveApplication upserts an application.
func (s *PostgresStore) SaveApplication(ctx context.Context, app *Application) error {
	if app.ID == "" {
		return fmt.Errorf("application id is required")
	}
	status := app.Status
	if status == "" {
		status = StatusNeedsReview
	}
	createdAt := app.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO applications (`+applicationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			applicant_name = EXCLUDED.applicant_name,
			amount = EXCLUDED.amount,
			monthly_income = EXCLUDED.monthly_income,
			declared_debts = EXCLUDED.declared_debts,
			country = EXCLUDED.country,
			purpose = EXCLUDED.purpose,
			status = EXCLUDED.status
	`, app.ID, app.ApplicantName, app.Amount, app.MonthlyIncome, app.DeclaredDebts,
		app.Country, app.Purpose, string(status), createdAt)
	if err != nil {
		return fmt.Errorf("failed to save application: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPipeline(ctx context.Context, id string) (*Pipeline, error) {
	var p Pipeline
	var description sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, active FROM pipelines WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &description, &p.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrPipelineNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pipeline: %w", err)
	}
	p.Description = description.String

	stepRows, err := s.db.QueryContext(ctx, `
		SELECT step_type, step_order, params
		FROM pipeline_steps
		WHERE pipeline_id = $1
		ORDER BY step_order ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list pipeline steps: %w", err)
	}
	defer stepRows.Close()

	for stepRows.Next() {
		var sc StepConfig
		var params []byte
		if err := stepRows.Scan(&sc.StepType, &sc.Order, &params); err != nil {
			return nil, fmt.Errorf("failed to scan pipeline step: %w", err)
		}
		if len(params) > 0 {
			if err := json.Unmarshal(params, &sc.Params); err != nil {
				return nil, fmt.Errorf("failed to decode params of step %s: %w", sc.StepType, err)
			}
		}
		p.Steps = append(p.Steps, sc)
	}
	if err := stepRows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pipeline steps: %w", err)
	}

	ruleRows, err := s.db.QueryContext(ctx, `
		SELECT rule_order, condition, final_status
		FROM terminal_rules
		WHERE pipeline_id = $1
		ORDER BY rule_order ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list terminal rules: %w", err)
	}
	defer ruleRows.Close()

	for ruleRows.Next() {
		var r TerminalRule
		var status string
		if err := ruleRows.Scan(&r.Order, &r.Condition, &status); err != nil {
			return nil, fmt.Errorf("failed to scan terminal rule: %w", err)
		}
		r.FinalStatus = Status(status)
		p.Rules = append(p.Rules, r)
	}
	if err := ruleRows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating terminal rules: %w", err)
	}

	return &p, nil
}

// SavePipeline replaces a pipeline and all of its steps and rules in one transaction.
func (s *PostgresStore) SavePipeline(ctx context.Context, p *Pipeline) error {
	if p.ID == "" {
		return fmt.Errorf("pipeline id is required")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO pipelines (id, name, description, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			active = EXCLUDED.active,
			updated_at = EXCLUDED.updated_at
	`, p.ID, p.Name, p.Description, p.Active, now); err != nil {
		return fmt.Errorf("failed to save pipeline: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM pipeline_steps WHERE pipeline_id = $1`, p.ID); err != nil {
		return fmt.Errorf("failed to clear pipeline steps: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM terminal_rules WHERE pipeline_id = $1`, p.ID); err != nil {
		return fmt.Errorf("failed to clear terminal rules: %w", err)
	}

	for _, sc := range p.Steps {
		params, err := json.Marshal(sc.Params)
		if err != nil {
			return fmt.Errorf("failed to encode params of step %s: %w", sc.StepType, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO pipeline_steps (pipeline_id, step_type, step_order, params)
			VALUES ($1, $2, $3, $4)
		`, p.ID, sc.StepType, sc.Order, string(params)); err != nil {
			return fmt.Errorf("failed to insert step %s: %w", sc.StepType, err)
		}
	}
	for _, r := range p.Rules {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO terminal_rules (pipeline_id, rule_order, condition, final_status)
			VALUES ($1, $2, $3, $4)
		`, p.ID, r.Order, r.Condition, string(r.FinalStatus)); err != nil {
			return fmt.Errorf("failed to insert terminal rule %d: %w", r.Order, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit pipeline: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, applicationID string) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, application_id, pipeline_id, start_time, end_time, final_status
		FROM pipeline_runs
		WHERE application_id = $1
		ORDER BY start_time DESC, id DESC
	`, applicationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	index := map[int64]int{}
	var ids []int64
	for rows.Next() {
		var r Run
		var end sql.NullTime
		var status sql.NullString
		if err := rows.Scan(&r.ID, &r.ApplicationID, &r.PipelineID, &r.StartTime, &end, &status); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		if end.Valid {
			t := end.Time
			r.EndTime = &t
		}
		if status.Valid {
			st := Status(status.String)
			r.FinalStatus = &st
		}
		index[r.ID] = len(runs)
		ids = append(ids, r.ID)
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	if len(ids) == 0 {
		return runs, nil
	}

	logRows, err := s.db.QueryContext(ctx, `
		SELECT run_id, step_type, outcome, detail, execution_time
		FROM step_logs
		WHERE run_id = ANY($1)
		ORDER BY execution_time ASC, id ASC
	`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to list step logs: %w", err)
	}
	defer logRows.Close()

	for logRows.Next() {
		var l StepLog
		var detail []byte
		if err := logRows.Scan(&l.RunID, &l.StepType, &l.Outcome, &detail, &l.ExecutionTime); err != nil {
			return nil, fmt.Errorf("failed to scan step log: %w", err)
		}
		if len(detail) > 0 {
			if err := json.Unmarshal(detail, &l.Detail); err != nil {
				return nil, fmt.Errorf("failed to decode step log detail: %w", err)
			}
		}
		i := index[l.RunID]
		runs[i].StepLogs = append(runs[i].StepLogs, l)
	}
	if err := logRows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating step logs: %w", err)
	}
	return runs, nil
}

// WithApplicationLock runs fn inside a transaction holding SELECT ... FOR UPDATE on the
// application row. Under LockNoWait the select uses NOWAIT and a held row is reported
// as ErrLockUnavailable.
func (s *PostgresStore) WithApplicationLock(ctx context.Context, applicationID string, fn func(context.Context, UnitOfWork) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `SELECT ` + applicationColumns + ` FROM applications WHERE id = $1 FOR UPDATE`
	if s.policy == LockNoWait {
		query += ` NOWAIT`
	}
	app, err := scanApplication(tx.QueryRowContext(ctx, query, applicationID))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("%w: %s", ErrApplicationNotFound, applicationID)
	case isLockNotAvailable(err):
		logger.LockContention.Add(1)
		return fmt.Errorf("%w: %s", ErrLockUnavailable, applicationID)
	case err != nil:
		return fmt.Errorf("failed to lock application: %w", err)
	}

	if err := fn(ctx, &postgresUnitOfWork{tx: tx, app: app}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	return nil
}

func isLockNotAvailable(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == lockNotAvailable
}

type postgresUnitOfWork struct {
	tx  *sql.Tx
	app *Application
}

func (u *postgresUnitOfWork) Application() *Application { return u.app }

func (u *postgresUnitOfWork) CreateRun(ctx context.Context, pipelineID string, start time.Time) (int64, error) {
	var id int64
	err := u.tx.QueryRowContext(ctx, `
		INSERT INTO pipeline_runs (application_id, pipeline_id, start_time)
		VALUES ($1, $2, $3)
		RETURNING id
	`, u.app.ID, pipelineID, start).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to create run: %w", err)
	}
	return id, nil
}

func (u *postgresUnitOfWork) AppendStepLog(ctx context.Context, log StepLog) error {
	detail, err := json.Marshal(log.Detail)
	if err != nil {
		return fmt.Errorf("failed to encode step detail: %w", err)
	}
	if _, err := u.tx.ExecContext(ctx, `
		INSERT INTO step_logs (run_id, step_type, outcome, detail, execution_time)
		VALUES ($1, $2, $3, $4, $5)
	`, log.RunID, log.StepType, log.Outcome, string(detail), log.ExecutionTime); err != nil {
		return fmt.Errorf("failed to insert step log: %w", err)
	}
	return nil
}

func (u *postgresUnitOfWork) SetApplicationStatus(ctx context.Context, status Status) error {
	if _, err := u.tx.ExecContext(ctx,
		`UPDATE applications SET status = $1 WHERE id = $2`, string(status), u.app.ID); err != nil {
		return fmt.Errorf("failed to update application status: %w", err)
	}
	return nil
}

func (u *postgresUnitOfWork) CompleteRun(ctx context.Context, runID int64, status Status, end time.Time) error {
	result, err := u.tx.ExecContext(ctx, `
		UPDATE pipeline_runs
		SET end_time = $1, final_status = $2
		WHERE id = $3 AND end_time IS NULL
	`, end, string(status), runID)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("run %d not found or already completed", runID)
	}
	return nil
}

package decision

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/liamcoop/loanorchestrator/internal/logger"
)

// MemoryStore implements Store in process memory.
// Writes made through a unit of work are staged and applied under one lock at commit.
type MemoryStore struct {
	mu           sync.RWMutex
	applications map[string]*Application
	pipelines    map[string]*Pipeline
	runs         map[string][]*Run
	nextRunID    int64

	locksMu sync.Mutex
	locks   map[string]chan struct{}
	policy  LockPolicy
}

// NewMemoryStore creates an empty store using the given lock policy.
func NewMemoryStore(policy LockPolicy) *MemoryStore {
	if policy == "" {
		policy = LockWait
	}
	return &MemoryStore{
		applications: make(map[string]*Application),
		pipelines:    make(map[string]*Pipeline),
		runs:         make(map[string][]*Run),
		locks:        make(map[string]chan struct{}),
		policy:       policy,
	}
}

func (s *MemoryStore) GetApplication(_ context.Context, id string) (*Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	app, ok := s.applications[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrApplicationNotFound, id)
	}
	cp := *app
	return &cp, nil
}

// SaveApplication inserts or replaces an application. A missing status defaults to
// NEEDS_REVIEW and a missing creation time to now.
func (s *MemoryStore) SaveApplication(_ context.Context, app *Application) error {
	if app.ID == "" {
		return fmt.Errorf("application id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *app
	if cp.Status == "" {
		cp.Status = StatusNeedsReview
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	s.applications[cp.ID] = &cp
	return nil
}

func (s *MemoryStore) GetPipeline(_ context.Context, id string) (*Pipeline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.pipelines[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPipelineNotFound, id)
	}
	return clonePipeline(p), nil
}

func (s *MemoryStore) SavePipeline(_ context.Context, p *Pipeline) error {
	if p.ID == "" {
		return fmt.Errorf("pipeline id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pipelines[p.ID] = clonePipeline(p)
	return nil
}

func (s *MemoryStore) ListRuns(_ context.Context, applicationID string) ([]Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := s.runs[applicationID]
	out := make([]Run, 0, len(stored))
	for i := len(stored) - 1; i >= 0; i-- {
		r := *stored[i]
		r.StepLogs = append([]StepLog(nil), stored[i].StepLogs...)
		out = append(out, r)
	}
	return out, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) WithApplicationLock(ctx context.Context, applicationID string, fn func(context.Context, UnitOfWork) error) error {
	release, err := s.acquire(ctx, applicationID)
	if err != nil {
		return err
	}
	defer release()

	app, err := s.GetApplication(ctx, applicationID)
	if err != nil {
		return err
	}

	uow := &memoryUnitOfWork{store: s, app: app}
	if err := fn(ctx, uow); err != nil {
		return err
	}
	return uow.commit()
}

// acquire takes the per-application semaphore according to the store's lock policy.
func (s *MemoryStore) acquire(ctx context.Context, applicationID string) (func(), error) {
	s.locksMu.Lock()
	sem, ok := s.locks[applicationID]
	if !ok {
		sem = make(chan struct{}, 1)
		s.locks[applicationID] = sem
	}
	s.locksMu.Unlock()

	release := func() { <-sem }

	select {
	case sem <- struct{}{}:
		return release, nil
	default:
	}

	logger.LockContention.Add(1)
	if s.policy == LockNoWait {
		return nil, fmt.Errorf("%w: %s", ErrLockUnavailable, applicationID)
	}

	select {
	case sem <- struct{}{}:
		return release, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for application lock %s: %w", applicationID, ctx.Err())
	}
}

type memoryUnitOfWork struct {
	store  *MemoryStore
	app    *Application
	status *Status
	runs   []*Run
}

func (u *memoryUnitOfWork) Application() *Application { return u.app }

func (u *memoryUnitOfWork) CreateRun(_ context.Context, pipelineID string, start time.Time) (int64, error) {
	u.store.mu.Lock()
	u.store.nextRunID++
	id := u.store.nextRunID
	u.store.mu.Unlock()

	u.runs = append(u.runs, &Run{
		ID:            id,
		ApplicationID: u.app.ID,
		PipelineID:    pipelineID,
		StartTime:     start,
	})
	return id, nil
}

func (u *memoryUnitOfWork) AppendStepLog(_ context.Context, log StepLog) error {
	run, err := u.run(log.RunID)
	if err != nil {
		return err
	}
	run.StepLogs = append(run.StepLogs, log)
	return nil
}

func (u *memoryUnitOfWork) SetApplicationStatus(_ context.Context, status Status) error {
	if !status.Valid() {
		return fmt.Errorf("invalid status %q", status)
	}
	u.status = &status
	return nil
}

func (u *memoryUnitOfWork) CompleteRun(_ context.Context, runID int64, status Status, end time.Time) error {
	run, err := u.run(runID)
	if err != nil {
		return err
	}
	if run.EndTime != nil {
		return fmt.Errorf("run %d already completed", runID)
	}
	run.EndTime = &end
	run.FinalStatus = &status
	return nil
}

func (u *memoryUnitOfWork) run(id int64) (*Run, error) {
	for _, r := range u.runs {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, fmt.Errorf("run %d not found in this unit of work", id)
}

func (u *memoryUnitOfWork) commit() error {
	s := u.store
	s.mu.Lock()
	defer s.mu.Unlock()

	app, ok := s.applications[u.app.ID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrApplicationNotFound, u.app.ID)
	}
	if u.status != nil {
		updated := *app
		updated.Status = *u.status
		s.applications[app.ID] = &updated
	}
	s.runs[app.ID] = append(s.runs[app.ID], u.runs...)
	return nil
}

func clonePipeline(p *Pipeline) *Pipeline {
	cp := *p
	cp.Steps = make([]StepConfig, len(p.Steps))
	for i, sc := range p.Steps {
		cp.Steps[i] = sc
		if sc.Params != nil {
			cp.Steps[i].Params = make(map[string]any, len(sc.Params))
			for k, v := range sc.Params {
				cp.Steps[i].Params[k] = v
			}
		}
	}
	cp.Rules = append([]TerminalRule(nil), p.Rules...)
	sortPipeline(&cp)
	return &cp
}

// sortPipeline orders steps and rules by their configured order.
func sortPipeline(p *Pipeline) {
	sort.SliceStable(p.Steps, func(i, j int) bool { return p.Steps[i].Order < p.Steps[j].Order })
	sort.SliceStable(p.Rules, func(i, j int) bool { return p.Rules[i].Order < p.Rules[j].Order })
}

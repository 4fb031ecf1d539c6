package ikou

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/root-talis/ikou/graph"
	"github.com/root-talis/ikou/history"
	"github.com/root-talis/ikou/source"
	"github.com/root-talis/ikou/state"
	"github.com/root-talis/ikou/unit"
)

// ---

// Ikou applies one-time, dependency-ordered migration units to a host and
// tracks which of them have already run.
type Ikou interface {
	// Validate derives the current per-unit status from the unit store and
	// the state tracker.
	Validate() (*ValidationResult, error)

	// Plan resolves the execution order and decides, without running
	// anything, what Apply would do for each unit.
	Plan() (*PlanResult, error)

	// Apply runs every pending unit in resolved order. The first body
	// failure aborts the run; units applied before it stay applied.
	Apply(ctx context.Context) (*ApplyResult, error)

	// Rollback runs the paired rollback body of a single unit and clears
	// its applied marker. It never cascades to dependents.
	Rollback(ctx context.Context, unitID string) error

	// Reset clears every applied marker in the migration namespace.
	Reset() error

	// Report combines the validation view with the full history log.
	Report() (*Report, error)
}

// ---

type ValidationResult struct {
	Units             []unit.State
	AppliedCount      uint
	PendingCount      uint
	RollbackableCount uint
}

// ---

type Decision uint

const (
	Run Decision = iota
	SkipApplied
	SkipLegacy
)

type PlannedStep struct {
	Description unit.Description
	Decision    Decision
}

type PlanResult struct {
	Steps        []PlannedStep
	DroppedEdges []unit.Edge
}

// ---

type ApplyResult struct {
	ExecutedCount uint
	SkippedCount  uint
	ImportedCount uint
}

// ---

type Report struct {
	Validation ValidationResult
	History    []history.Entry
}

// ---

type ikouImpl struct {
	source  source.Source
	store   state.Store
	legacy  state.Reader
	history history.Recorder
	logger  *zap.Logger
}

type Option func(*ikouImpl)

func WithLogger(logger *zap.Logger) Option {
	return func(m *ikouImpl) {
		m.logger = logger
	}
}

func WithHistory(recorder history.Recorder) Option {
	return func(m *ikouImpl) {
		m.history = recorder
	}
}

// WithLegacyState attaches the read-only pre-ikou marker location. Units
// found applied there are imported into the current store without running
// their bodies.
func WithLegacyState(reader state.Reader) Option {
	return func(m *ikouImpl) {
		m.legacy = reader
	}
}

func New(src source.Source, store state.Store, opts ...Option) Ikou {
	m := &ikouImpl{
		source:  src,
		store:   store,
		history: history.NewDiscardRecorder(),
		logger:  zap.NewNop(),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// ---

func (m *ikouImpl) Validate() (*ValidationResult, error) {
	availableUnits, err := m.source.ListUnits()
	if err != nil {
		return nil, fmt.Errorf("failed to get the list of available units: %w", err)
	}

	result := ValidationResult{
		Units: make([]unit.State, 0, len(availableUnits)),
	}

	for _, availableUnit := range availableUnits {
		applied, err := m.store.IsApplied(availableUnit.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to get the state of unit %s: %w", availableUnit.ID, err)
		}

		status := unit.Pending
		if applied {
			status = unit.Applied
			result.AppliedCount++
		} else {
			result.PendingCount++
		}

		if availableUnit.CanRollback {
			result.RollbackableCount++
		}

		result.Units = append(result.Units, unit.State{
			Description: availableUnit,
			Status:      status,
		})
	}

	return &result, nil
}

// ---

func (m *ikouImpl) Plan() (*PlanResult, error) {
	availableUnits, err := m.source.ListUnits()
	if err != nil {
		return nil, fmt.Errorf("failed to get the list of available units: %w", err)
	}

	ids := make([]string, 0, len(availableUnits))
	edges := make([]unit.Edge, 0)
	byID := make(map[string]unit.Description, len(availableUnits))

	for _, availableUnit := range availableUnits {
		ids = append(ids, availableUnit.ID)
		byID[availableUnit.ID] = availableUnit

		for _, dependency := range availableUnit.Dependencies {
			edges = append(edges, unit.Edge{
				Dependent:  availableUnit.ID,
				Dependency: dependency,
			})
		}
	}

	resolution, err := graph.Resolve(ids, edges)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve unit order: %w", err)
	}

	for _, edge := range resolution.Dropped {
		m.logger.Warn("dependency references an unknown unit; edge dropped",
			zap.String("unit", edge.Dependent),
			zap.String("dependency", edge.Dependency))
	}

	result := PlanResult{
		Steps:        make([]PlannedStep, 0, len(resolution.Order)),
		DroppedEdges: resolution.Dropped,
	}

	for _, id := range resolution.Order {
		decision, err := m.decide(id)
		if err != nil {
			return nil, err
		}

		result.Steps = append(result.Steps, PlannedStep{
			Description: byID[id],
			Decision:    decision,
		})
	}

	return &result, nil
}

func (m *ikouImpl) decide(id string) (Decision, error) {
	applied, err := m.store.IsApplied(id)
	if err != nil {
		return Run, fmt.Errorf("failed to get the state of unit %s: %w", id, err)
	}
	if applied {
		return SkipApplied, nil
	}

	if m.legacy != nil {
		imported, err := m.legacy.IsApplied(id)
		if err != nil {
			return Run, fmt.Errorf("failed to get the legacy state of unit %s: %w", id, err)
		}
		if imported {
			return SkipLegacy, nil
		}
	}

	return Run, nil
}

// ---

func (m *ikouImpl) Apply(ctx context.Context) (*ApplyResult, error) {
	plan, err := m.Plan()
	if err != nil {
		return nil, err
	}

	result := ApplyResult{}

	for _, step := range plan.Steps {
		id := step.Description.ID

		switch step.Decision {
		case SkipApplied:
			m.logger.Info("unit already applied; skipping", zap.String("unit", id))
			result.SkippedCount++

		case SkipLegacy:
			if err := m.importLegacy(id); err != nil {
				return &result, err
			}
			result.ImportedCount++

		case Run:
			if err := m.applyUnit(ctx, id); err != nil {
				return &result, err
			}
			result.ExecutedCount++
		}
	}

	return &result, nil
}

func (m *ikouImpl) importLegacy(id string) error {
	m.logger.Info("unit applied under legacy state tracking; importing marker",
		zap.String("unit", id))

	if err := m.store.MarkApplied(id); err != nil {
		return fmt.Errorf("failed to import legacy marker for unit %s: %w", id, err)
	}

	m.record(history.ImportLegacy, id)

	return nil
}

func (m *ikouImpl) applyUnit(ctx context.Context, id string) error {
	action, err := m.source.Action(id, unit.Forward)
	if err != nil {
		return fmt.Errorf("failed to load the body of unit %s: %w", id, err)
	}

	m.logger.Info("applying unit", zap.String("unit", id))

	if err := action.Run(ctx); err != nil {
		return fmt.Errorf("unit %s failed: %w", id, err)
	}

	if err := m.store.MarkApplied(id); err != nil {
		return fmt.Errorf("failed to mark unit %s as applied: %w", id, err)
	}

	m.record(history.Applied, id)

	return nil
}

// ---

func (m *ikouImpl) Rollback(ctx context.Context, unitID string) error {
	applied, err := m.store.IsApplied(unitID)
	if err != nil {
		return fmt.Errorf("failed to get the state of unit %s: %w", unitID, err)
	}
	if !applied {
		// Rollback of an unapplied unit may still be desired to clean up
		// manual or external side effects.
		m.logger.Warn("rolling back a unit that is not marked as applied",
			zap.String("unit", unitID))
	}

	action, err := m.source.Action(unitID, unit.Rollback)
	if err != nil {
		return fmt.Errorf("failed to load the rollback body of unit %s: %w", unitID, err)
	}

	m.logger.Info("rolling back unit", zap.String("unit", unitID))

	if err := action.Run(ctx); err != nil {
		// The marker stays untouched: the inverse did not provably succeed.
		return fmt.Errorf("rollback of unit %s failed: %w", unitID, err)
	}

	if err := m.store.Clear(unitID); err != nil {
		return fmt.Errorf("failed to clear the marker of unit %s: %w", unitID, err)
	}

	m.record(history.Rollback, unitID)

	return nil
}

// ---

func (m *ikouImpl) Reset() error {
	if err := m.store.Reset(); err != nil {
		return fmt.Errorf("failed to reset migration state: %w", err)
	}

	return nil
}

// ---

func (m *ikouImpl) Report() (*Report, error) {
	validation, err := m.Validate()
	if err != nil {
		return nil, err
	}

	entries, err := m.history.Entries()
	if err != nil {
		// A missing or corrupt history log degrades reporting only.
		m.logger.Warn("failed to read history log", zap.Error(err))
		entries = []history.Entry{}
	}

	return &Report{
		Validation: *validation,
		History:    entries,
	}, nil
}

// ---

func (m *ikouImpl) record(action history.Action, unitID string) {
	if err := m.history.Record(action, unitID); err != nil {
		m.logger.Warn("failed to append history entry",
			zap.String("action", string(action)),
			zap.String("unit", unitID),
			zap.Error(err))
	}
}

/*
Package tutor is the action layer of the tutor ledger.

PURPOSE:
  Engine wraps the pure reducer with validation, derived fields (ids,
  timestamps, clamped quantities) and the compound package/refund logic of
  lesson edits. It is the only writer of the state.

FLOW:
  1. Validate input; on failure notify and return the error, state unchanged
  2. Compute the next state with one or more ledger.Reduce calls
  3. Commit the result in one step and persist it best-effort
  4. Notify the outcome

CONCURRENCY:
  One mutex guards the single state slot. Every command holds it from the
  first read to the commit, so no caller ever observes a half-applied
  command and no two transitions run concurrently. Reads return the current
  State value; states are never mutated after commit, so sharing is safe.

FAILURE SEMANTICS:
  - Not found: silent no-op, (nil, nil) or false
  - Validation: warning notification + ledger.ErrValidation
  - Exhausted package in UpdateLesson: error notification + ErrNoLessonsLeft,
    nothing committed
  - ConsumeLessonSlot on an empty package: silent no-op (see lessons.go)
  - Persistence failure: logged, never returned

SEE ALSO:
  - ledger/reducer.go: State transitions
  - ledger/migrate.go: Load/import normalization
*/
package tutor

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/tutor-ledger/ledger"
)

// =============================================================================
// ENGINE
// =============================================================================

type Engine struct {
	mu       sync.Mutex
	state    ledger.State
	store    ledger.Persister
	notifier ledger.Notifier
	logger   *zap.Logger
	now      func() time.Time
	newID    ledger.IDGenerator
	migrator *ledger.Migrator

	// pending holds notifications raised under mu; unlock delivers them.
	pending []ledger.Notification
}

type Option func(*Engine)

func WithNotifier(n ledger.Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithIDGenerator(g ledger.IDGenerator) Option {
	return func(e *Engine) { e.newID = g }
}

// NewEngine returns an engine holding the default state. Call Open to load
// the persisted document.
func NewEngine(store ledger.Persister, opts ...Option) *Engine {
	e := &Engine{
		state:    ledger.DefaultState(),
		store:    store,
		notifier: ledger.Discard,
		logger:   zap.NewNop(),
		now:      time.Now,
		newID:    ledger.NewID,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.migrator = &ledger.Migrator{Now: e.now, NewID: e.newID}
	return e
}

// Open loads and migrates the persisted document. A missing, unreadable or
// corrupt document leaves the engine on a fresh default state.
func (e *Engine) Open(ctx context.Context) {
	e.mu.Lock()
	defer e.unlock()

	doc, err := e.store.Load(ctx)
	if err != nil {
		e.logger.Warn("failed to load persisted state, starting empty", zap.Error(err))
		e.state = ledger.DefaultState()
		return
	}
	if doc == nil {
		e.logger.Info("no persisted state found, starting empty")
		e.state = ledger.DefaultState()
		return
	}
	e.state = e.migrator.MigrateJSON(doc)
	e.logger.Info("state loaded",
		zap.Int("students", len(e.state.Students)),
		zap.Int("lessons", len(e.state.Lessons)))
}

// State returns the current state. Callers must treat it as read-only.
func (e *Engine) State() ledger.State {
	e.mu.Lock()
	defer e.unlock()
	return e.state
}

// Export serializes the current state as an importable document.
func (e *Engine) Export() ([]byte, error) {
	return json.MarshalIndent(e.State(), "", "  ")
}

// SetStateFromImport migrates raw and replaces the whole state with it.
func (e *Engine) SetStateFromImport(ctx context.Context, raw any) ledger.State {
	e.mu.Lock()
	defer e.unlock()

	migrated := e.migrator.Migrate(raw)
	e.commit(ctx, ledger.Reduce(e.state, ledger.SetState{State: migrated}))
	e.notify(ledger.SeveritySuccess, "Data imported.")
	return migrated
}

// =============================================================================
// SETTINGS
// =============================================================================

// UpdateDefaultLessonPrice sets the price suggested for new lessons.
func (e *Engine) UpdateDefaultLessonPrice(ctx context.Context, price ledger.Money) error {
	e.mu.Lock()
	defer e.unlock()

	if !price.IsPositive() {
		return e.reject(ledger.Invalid("defaultLessonPrice", "lesson price must be greater than zero"))
	}
	if price.Equal(e.state.Settings.DefaultLessonPrice) {
		e.notify(ledger.SeverityInfo, "Lesson price unchanged.")
		return nil
	}
	e.commit(ctx, ledger.Reduce(e.state, ledger.UpdateSettings{
		Patch: ledger.SettingsPatch{DefaultLessonPrice: &price},
	}))
	e.notify(ledger.SeveritySuccess, "Lesson price updated.")
	return nil
}

// UpdateSettings merges patch into the settings.
func (e *Engine) UpdateSettings(ctx context.Context, patch ledger.SettingsPatch) (ledger.Settings, error) {
	e.mu.Lock()
	defer e.unlock()

	if patch.DefaultLessonDuration != nil {
		if err := validateDuration(*patch.DefaultLessonDuration); err != nil {
			return e.state.Settings, e.reject(err)
		}
	}
	if patch.DefaultLessonPrice != nil && !patch.DefaultLessonPrice.IsPositive() {
		return e.state.Settings, e.reject(ledger.Invalid("defaultLessonPrice", "lesson price must be greater than zero"))
	}
	e.commit(ctx, ledger.Reduce(e.state, ledger.UpdateSettings{Patch: patch}))
	e.notify(ledger.SeveritySuccess, "Settings updated.")
	return e.state.Settings, nil
}

// =============================================================================
// SUMMARIES
// =============================================================================

func (e *Engine) Summary(period ledger.Range, metric ledger.Metric) ledger.Summary {
	s := e.State()
	return ledger.Summarize(s, period, metric, e.now())
}

func (e *Engine) StudentSummary(studentID string) (ledger.StudentSummary, bool) {
	s := e.State()
	return ledger.SummarizeStudent(s, studentID, e.now())
}

// Now is the engine clock.
func (e *Engine) Now() time.Time {
	return e.now()
}

// =============================================================================
// COMMIT / NOTIFY (callers hold e.mu)
// =============================================================================

// unlock releases mu, then hands queued notifications to the notifier so a
// slow sink never holds up other commands.
func (e *Engine) unlock() {
	pending := e.pending
	e.pending = nil
	e.mu.Unlock()

	for _, n := range pending {
		e.notifier.Notify(n)
	}
}

func (e *Engine) commit(ctx context.Context, next ledger.State) {
	e.state = next
	e.persist(ctx, next)
}

func (e *Engine) persist(ctx context.Context, s ledger.State) {
	doc, err := json.Marshal(s)
	if err != nil {
		e.logger.Error("failed to serialize state", zap.Error(err))
		return
	}
	if err := e.store.Save(ctx, doc); err != nil {
		e.logger.Warn("failed to persist state", zap.Error(err), zap.Int("bytes", len(doc)))
	}
}

func (e *Engine) notify(severity ledger.Severity, message string) {
	e.pending = append(e.pending, ledger.Notification{
		Severity: severity,
		Message:  message,
		Duration: ledger.DurationFor(severity),
		At:       e.now(),
	})
}

// reject reports err to the user and returns it.
func (e *Engine) reject(err error) error {
	severity := ledger.SeverityWarning
	message := err.Error()

	var verr *ledger.ValidationError
	switch {
	case errors.As(err, &verr):
		message = capitalize(verr.Message) + "."
	case errors.Is(err, ledger.ErrNoLessonsLeft):
		severity = ledger.SeverityError
		message = "The selected package has no lessons left."
	case errors.Is(err, ledger.ErrPackageNotFound):
		severity = ledger.SeverityError
		message = "Package not found. Add a package to the student first."
	}

	e.logger.Debug("command rejected", zap.Error(err))
	e.notify(severity, message)
	return err
}

func (e *Engine) clock() time.Time {
	return e.now().UTC()
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	if s[0] >= 'a' && s[0] <= 'z' {
		return string(s[0]-'a'+'A') + s[1:]
	}
	return s
}

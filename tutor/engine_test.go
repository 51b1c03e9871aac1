package tutor_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/tutor-ledger/ledger"
	"github.com/warp/tutor-ledger/ledger/store"
	"github.com/warp/tutor-ledger/tutor"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var now = time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)

// recorder collects notifications.
type recorder struct {
	mu    sync.Mutex
	items []ledger.Notification
}

func (r *recorder) Notify(n ledger.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, n)
}

func (r *recorder) last(t *testing.T) ledger.Notification {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	require.NotEmpty(t, r.items, "expected a notification")
	return r.items[len(r.items)-1]
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

func sequentialIDs() ledger.IDGenerator {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("id-%d", n)
	}
}

func newTestEngine(t *testing.T) (*tutor.Engine, *store.Memory, *recorder) {
	t.Helper()
	mem := store.NewMemory()
	rec := &recorder{}
	e := tutor.NewEngine(mem,
		tutor.WithNotifier(rec),
		tutor.WithClock(func() time.Time { return now }),
		tutor.WithIDGenerator(sequentialIDs()),
	)
	e.Open(context.Background())
	return e, mem, rec
}

func money(v int64) ledger.Money {
	return ledger.NewMoneyFromInt(v)
}

func ptr[T any](v T) *T {
	return &v
}

// addStudent creates a student with one package of count lessons at price.
func addStudent(t *testing.T, e *tutor.Engine, name string, count int, price int64) (ledger.Student, ledger.Package) {
	t.Helper()
	s, err := e.AddStudent(context.Background(), tutor.StudentInput{
		Name:     name,
		Packages: []tutor.PackageInput{{Count: count, Price: money(price)}},
	})
	require.NoError(t, err)
	require.NotNil(t, s)
	return *s, s.Packages[0]
}

func currentPackage(t *testing.T, e *tutor.Engine, studentID, packageID string) ledger.Package {
	t.Helper()
	s, ok := e.State().Student(studentID)
	require.True(t, ok)
	p, ok := s.Package(packageID)
	require.True(t, ok)
	return p
}

func currentLesson(t *testing.T, e *tutor.Engine, id string) ledger.Lesson {
	t.Helper()
	l, ok := e.State().Lesson(id)
	require.True(t, ok)
	return l
}

// assertPackagesValid checks 0 <= remaining <= total and consumed = total - remaining.
func assertPackagesValid(t *testing.T, s ledger.State) {
	t.Helper()
	for _, st := range s.Students {
		for _, p := range st.Packages {
			assert.GreaterOrEqual(t, p.RemainingLessons, 0, "package %s", p.ID)
			assert.LessOrEqual(t, p.RemainingLessons, p.TotalLessons, "package %s", p.ID)
			assert.Equal(t, p.TotalLessons-p.RemainingLessons, p.ConsumedLessons, "package %s", p.ID)
		}
	}
	for _, l := range s.Lessons {
		_, ok := s.Student(l.StudentID)
		assert.True(t, ok, "lesson %s references a missing student", l.ID)
	}
}

// =============================================================================
// OPEN / PERSISTENCE
// =============================================================================

type failingStore struct {
	loadErr error
	saveErr error
}

func (f failingStore) Load(context.Context) ([]byte, error) { return nil, f.loadErr }
func (f failingStore) Save(context.Context, []byte) error   { return f.saveErr }

func TestEngine_OpenWithoutDocument(t *testing.T) {
	e, _, _ := newTestEngine(t)

	s := e.State()
	assert.Empty(t, s.Students)
	assert.Equal(t, ledger.SchemaVersion, s.Version)
}

func TestEngine_OpenMigratesStoredDocument(t *testing.T) {
	mem := store.NewMemoryWith([]byte(`{"students": [{"id": "s1", "name": "Anna",
		"packages": [{"id": "p1", "price": 1500, "totalLessons": 5, "remainingLessons": 9}]}]}`))
	e := tutor.NewEngine(mem)

	e.Open(context.Background())

	s := e.State()
	require.Len(t, s.Students, 1)
	assert.Equal(t, 5, s.Students[0].Packages[0].RemainingLessons)
}

func TestEngine_OpenCorruptOrUnreadable(t *testing.T) {
	corrupt := tutor.NewEngine(store.NewMemoryWith([]byte(`{{{`)))
	corrupt.Open(context.Background())
	assert.Empty(t, corrupt.State().Students)

	broken := tutor.NewEngine(failingStore{loadErr: errors.New("disk gone")})
	broken.Open(context.Background())
	assert.Empty(t, broken.State().Students)
}

func TestEngine_PersistsEveryCommit(t *testing.T) {
	e, mem, _ := newTestEngine(t)
	ctx := context.Background()

	st, _ := addStudent(t, e, "Anna", 5, 1500)
	_, err := e.AddLesson(ctx, tutor.LessonInput{StudentID: st.ID, Start: now})
	require.NoError(t, err)

	assert.Equal(t, 2, mem.Saves())

	// Round trip: what was saved loads back to the same state.
	reopened := tutor.NewEngine(mem)
	reopened.Open(ctx)
	want, err := e.Export()
	require.NoError(t, err)
	got, err := reopened.Export()
	require.NoError(t, err)
	assert.JSONEq(t, string(want), string(got))
}

func TestEngine_SaveFailureIsSwallowed(t *testing.T) {
	// GIVEN: A store that rejects every save
	// WHEN: Adding a student
	// THEN: The command succeeds and the in-memory state has the student

	rec := &recorder{}
	e := tutor.NewEngine(failingStore{saveErr: errors.New("quota exceeded")}, tutor.WithNotifier(rec))
	e.Open(context.Background())

	s, err := e.AddStudent(context.Background(), tutor.StudentInput{
		Name:     "Anna",
		Packages: []tutor.PackageInput{{Count: 5, Price: money(1500)}},
	})

	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Len(t, e.State().Students, 1)
	assert.Equal(t, ledger.SeveritySuccess, rec.last(t).Severity)
}

// =============================================================================
// IMPORT / EXPORT
// =============================================================================

func TestEngine_ExportImportRoundTrip(t *testing.T) {
	// GIVEN: A state with students, packages and lessons
	// WHEN: Exporting and importing into a fresh engine
	// THEN: Both states serialize identically

	e, _, _ := newTestEngine(t)
	ctx := context.Background()
	st, p := addStudent(t, e, "Anna", 5, 1500)
	l, err := e.AddLesson(ctx, tutor.LessonInput{StudentID: st.ID, PackageID: p.ID, Start: now.Add(time.Hour)})
	require.NoError(t, err)
	e.ConsumeLessonSlot(ctx, st.ID, p.ID)
	_, err = e.UpdateLesson(ctx, l.ID, ledger.LessonPatch{Status: ptr(ledger.StatusCompleted)})
	require.NoError(t, err)

	doc, err := e.Export()
	require.NoError(t, err)

	other, _, rec := newTestEngine(t)
	imported := other.SetStateFromImport(ctx, doc)

	again, err := other.Export()
	require.NoError(t, err)
	assert.JSONEq(t, string(doc), string(again))
	assert.Len(t, imported.Lessons, 1)
	assert.Equal(t, ledger.SeveritySuccess, rec.last(t).Severity)
}

func TestEngine_ImportGarbage(t *testing.T) {
	e, _, _ := newTestEngine(t)
	addStudent(t, e, "Anna", 5, 1500)

	s := e.SetStateFromImport(context.Background(), "not a document")

	assert.Empty(t, s.Students)
	assert.Empty(t, e.State().Students)
}

// =============================================================================
// SETTINGS
// =============================================================================

func TestEngine_UpdateDefaultLessonPrice(t *testing.T) {
	e, mem, rec := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.UpdateDefaultLessonPrice(ctx, money(2000)))
	assert.Equal(t, "2000", e.State().Settings.DefaultLessonPrice.String())
	assert.Equal(t, ledger.SeveritySuccess, rec.last(t).Severity)

	saves := mem.Saves()
	require.NoError(t, e.UpdateDefaultLessonPrice(ctx, money(2000)))
	assert.Equal(t, ledger.SeverityInfo, rec.last(t).Severity)
	assert.Equal(t, saves, mem.Saves(), "unchanged price is not persisted")

	err := e.UpdateDefaultLessonPrice(ctx, money(0))
	assert.ErrorIs(t, err, ledger.ErrValidation)
	assert.Equal(t, ledger.SeverityWarning, rec.last(t).Severity)
	assert.Equal(t, "2000", e.State().Settings.DefaultLessonPrice.String())
}

func TestEngine_UpdateSettings(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	got, err := e.UpdateSettings(ctx, ledger.SettingsPatch{DefaultLessonDuration: ptr(90)})
	require.NoError(t, err)
	assert.Equal(t, 90, got.DefaultLessonDuration)

	_, err = e.UpdateSettings(ctx, ledger.SettingsPatch{DefaultLessonDuration: ptr(50)})
	assert.ErrorIs(t, err, ledger.ErrValidation)
	assert.Equal(t, 90, e.State().Settings.DefaultLessonDuration)
}

// =============================================================================
// NOTIFICATIONS
// =============================================================================

func TestEngine_NotificationDurations(t *testing.T) {
	e, _, rec := newTestEngine(t)
	ctx := context.Background()

	addStudent(t, e, "Anna", 5, 1500)
	success := rec.last(t)
	assert.Equal(t, ledger.SeveritySuccess, success.Severity)
	assert.Equal(t, 4*time.Second, success.Duration)
	assert.Equal(t, now, success.At)
	assert.Equal(t, `Student "Anna" added.`, success.Message)

	_, err := e.AddLesson(ctx, tutor.LessonInput{StudentID: "nobody", Start: now})
	require.Error(t, err)
	warning := rec.last(t)
	assert.Equal(t, ledger.SeverityWarning, warning.Severity)
	assert.Equal(t, "Choose a student.", warning.Message)
	assert.Equal(t, 4*time.Second, warning.Duration)
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestEngine_ConcurrentCommandsAreSerialized(t *testing.T) {
	// GIVEN: A package with 50 lessons
	// WHEN: 50 goroutines each take one slot
	// THEN: Exactly 50 slots are consumed

	e, _, _ := newTestEngine(t)
	st, p := addStudent(t, e, "Anna", 50, 1500)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.ConsumeLessonSlot(context.Background(), st.ID, p.ID)
		}()
	}
	wg.Wait()

	got := currentPackage(t, e, st.ID, p.ID)
	assert.Equal(t, 0, got.RemainingLessons)
	assert.Equal(t, 50, got.ConsumedLessons)
}

func TestEngine_NotifiesAfterReleasingTheLock(t *testing.T) {
	// GIVEN: A notifier that blocks until another command has finished
	// WHEN: A command raises a notification
	// THEN: The other command is not held up by the slow notifier

	release := make(chan struct{})
	var blocked atomic.Bool
	e := tutor.NewEngine(store.NewMemory(),
		tutor.WithClock(func() time.Time { return now }),
		tutor.WithNotifier(ledger.NotifierFunc(func(ledger.Notification) {
			if blocked.CompareAndSwap(false, true) {
				<-release
			}
		})),
	)
	e.Open(context.Background())

	go e.UpdateSettings(context.Background(), ledger.SettingsPatch{DefaultLessonDuration: ptr(45)})

	require.Eventually(t, func() bool {
		return e.State().Settings.DefaultLessonDuration == 45
	}, 2*time.Second, 10*time.Millisecond)

	done := make(chan struct{})
	go func() {
		e.UpdateSettings(context.Background(), ledger.SettingsPatch{DefaultLessonDuration: ptr(30)})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("second command blocked behind the notifier")
	}
	close(release)
	assert.Equal(t, 30, e.State().Settings.DefaultLessonDuration)
}

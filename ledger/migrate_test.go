package ledger_test

import (
	"encoding/json"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/tutor-ledger/ledger"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func testMigrator() *ledger.Migrator {
	n := 0
	return &ledger.Migrator{
		Now: func() time.Time { return t0 },
		NewID: func() string {
			n++
			return fmt.Sprintf("gen-%d", n)
		},
	}
}

func migrateString(t *testing.T, doc string) ledger.State {
	t.Helper()
	return testMigrator().MigrateJSON([]byte(doc))
}

func asJSON(t *testing.T, s ledger.State) string {
	t.Helper()
	data, err := json.Marshal(s)
	require.NoError(t, err)
	return string(data)
}

// =============================================================================
// GARBAGE IN, DEFAULTS OUT
// =============================================================================

func TestMigrate_NonObjectYieldsDefaultState(t *testing.T) {
	for _, doc := range []string{`null`, `42`, `"hello"`, `[1,2]`, `{not json`, ``} {
		t.Run(doc, func(t *testing.T) {
			s := migrateString(t, doc)
			assert.Equal(t, ledger.SchemaVersion, s.Version)
			assert.Empty(t, s.Students)
			assert.Empty(t, s.Lessons)
			assert.NotNil(t, s.Students)
			assert.NotNil(t, s.Lessons)
			assert.Equal(t, 60, s.Settings.DefaultLessonDuration)
		})
	}
}

func TestMigrate_NilAndUnknownValues(t *testing.T) {
	assert.Empty(t, ledger.Migrate(nil).Students)
	assert.Empty(t, ledger.Migrate(3.14).Students)
}

func TestMigrate_MissingArraysBecomeEmpty(t *testing.T) {
	s := migrateString(t, `{"settings": {"defaultLessonPrice": "2 000"}}`)

	assert.Empty(t, s.Students)
	assert.Empty(t, s.Lessons)
	assert.Equal(t, "2000", s.Settings.DefaultLessonPrice.String())
}

func TestMigrate_InvalidSettingsFallBack(t *testing.T) {
	s := migrateString(t, `{"settings": {"defaultLessonDuration": 5, "defaultLessonPrice": -1}}`)

	assert.Equal(t, 60, s.Settings.DefaultLessonDuration)
	assert.True(t, s.Settings.DefaultLessonPrice.Equal(ledger.DefaultLessonPrice))
}

// =============================================================================
// STUDENTS AND PACKAGES
// =============================================================================

func TestMigrate_ClampsRemainingAboveTotal(t *testing.T) {
	// GIVEN: A package claiming 9 of 5 lessons remain
	// WHEN: Migrating
	// THEN: remaining is clamped to 5 and consumed recomputed to 0

	s := migrateString(t, `{"students": [{"id": "s1", "name": "Anna",
		"packages": [{"id": "p1", "price": 1500, "totalLessons": 5, "remainingLessons": 9, "consumedLessons": 3}]}]}`)

	require.Len(t, s.Students, 1)
	require.Len(t, s.Students[0].Packages, 1)
	p := s.Students[0].Packages[0]
	assert.Equal(t, 5, p.TotalLessons)
	assert.Equal(t, 5, p.RemainingLessons)
	assert.Equal(t, 0, p.ConsumedLessons)
}

func TestMigrate_PackageRules(t *testing.T) {
	s := migrateString(t, `{"students": [{"id": "s1", "name": "  Anna  ", "packages": [
		{"id": "zero", "price": 1500, "totalLessons": 0},
		{"id": "negative-price", "price": -20, "totalLessons": 4, "remainingLessons": -2},
		{"id": "legacy", "price": "1 200,50", "count": 8, "rest": 3},
		{"price": 900, "totalLessons": "6"},
		{"id": "legacy", "price": 1, "totalLessons": 1}
	]}]}`)

	require.Len(t, s.Students, 1)
	st := s.Students[0]
	assert.Equal(t, "Anna", st.Name)
	require.Len(t, st.Packages, 3)

	neg := st.Packages[0]
	assert.Equal(t, "negative-price", neg.ID)
	assert.True(t, neg.Price.IsZero())
	assert.Equal(t, 0, neg.RemainingLessons)
	assert.Equal(t, 4, neg.ConsumedLessons)

	legacy := st.Packages[1]
	assert.Equal(t, "legacy", legacy.ID)
	assert.Equal(t, "1200.5", legacy.Price.String())
	assert.Equal(t, 8, legacy.TotalLessons)
	assert.Equal(t, 3, legacy.RemainingLessons)

	fresh := st.Packages[2]
	assert.Equal(t, "gen-1", fresh.ID)
	assert.Equal(t, 6, fresh.RemainingLessons, "missing remaining means full package")
	assert.Equal(t, t0, fresh.CreatedAt)
}

func TestMigrate_StudentDefaults(t *testing.T) {
	s := migrateString(t, `{"students": [{"name": ""}, {"id": "x", "name": "Boris"}, {"id": "x", "name": "Dup"}, "junk"]}`)

	require.Len(t, s.Students, 2)
	assert.Equal(t, []string{"Boris", ledger.UnnamedStudent}, names(s.Students))
	for _, st := range s.Students {
		assert.NotEmpty(t, st.ID)
		assert.NotNil(t, st.Packages)
	}
}

// =============================================================================
// LESSONS
// =============================================================================

func TestMigrate_LessonRules(t *testing.T) {
	s := migrateString(t, `{
		"settings": {"defaultLessonDuration": 45, "defaultLessonPrice": 1800},
		"students": [{"id": "s1", "name": "Anna", "packages": [{"id": "p1", "price": 1500, "totalLessons": 5}]}],
		"lessons": [
			{"id": "no-student", "start": "2025-03-10T09:00:00Z"},
			{"id": "orphan", "studentId": "gone", "start": "2025-03-10T09:00:00Z"},
			{"id": "no-start", "studentId": "s1"},
			{"id": "cancelled", "studentId": "s1", "start": "2025-03-12T09:00:00Z", "status": "cancelled", "durationMinutes": 50},
			{"id": "done", "studentId": "s1", "packageId": "p1", "start": "2025-03-11T09:00:00Z", "status": "completed", "price": "1 500", "durationMinutes": 10},
			{"id": "foreign-pkg", "studentId": "s1", "packageId": "other", "start": 1741770000000}
		]
	}`)

	require.Equal(t, []string{"done", "cancelled", "foreign-pkg"}, lessonIDs(s.Lessons))

	done, _ := s.Lesson("done")
	assert.Equal(t, ledger.StatusCompleted, done.Status)
	assert.Equal(t, "p1", done.PackageID)
	assert.Equal(t, "1500", done.Price.String())
	assert.Equal(t, 45, done.DurationMinutes, "below minimum falls back to default")

	cancelled, _ := s.Lesson("cancelled")
	assert.Equal(t, ledger.StatusScheduled, cancelled.Status)
	assert.Equal(t, 45, cancelled.DurationMinutes, "snapped to the 15 minute grid")
	assert.Equal(t, "1800", cancelled.Price.String(), "missing price uses settings")

	foreign, _ := s.Lesson("foreign-pkg")
	assert.Empty(t, foreign.PackageID)
	assert.Equal(t, time.UnixMilli(1741770000000).UTC(), foreign.Start)
}

func TestNormalizeDuration(t *testing.T) {
	assert.Equal(t, 60, ledger.NormalizeDuration(0, 60))
	assert.Equal(t, 60, ledger.NormalizeDuration(14, 60))
	assert.Equal(t, 15, ledger.NormalizeDuration(15, 60))
	assert.Equal(t, 15, ledger.NormalizeDuration(22, 60))
	assert.Equal(t, 30, ledger.NormalizeDuration(23, 60))
	assert.Equal(t, 30, ledger.NormalizeDuration(37, 60))
	assert.Equal(t, 45, ledger.NormalizeDuration(38, 60))
	assert.Equal(t, 60, ledger.NormalizeDuration(5, 3))
	assert.Equal(t, ledger.MaxLessonDuration, ledger.NormalizeDuration(1450, 60))
	assert.Equal(t, ledger.MaxLessonDuration, ledger.NormalizeDuration(math.MaxInt, 60))
	assert.Equal(t, ledger.MaxLessonDuration, ledger.NormalizeDuration(5, math.MaxInt))
}

func TestMigrate_HugeDurationsAreCapped(t *testing.T) {
	// GIVEN: Durations near the top of the int range
	// WHEN: Migrating
	// THEN: Both land on one day instead of wrapping negative

	s := migrateString(t, `{"settings": {"defaultLessonDuration": 9223372036854775805},
		"students": [{"id": "s1", "name": "Anna"}],
		"lessons": [{"studentId": "s1", "start": "2025-03-10T12:00:00Z", "durationMinutes": 9223372036854775805}]}`)

	assert.Equal(t, ledger.MaxLessonDuration, s.Settings.DefaultLessonDuration)
	require.Len(t, s.Lessons, 1)
	assert.Equal(t, ledger.MaxLessonDuration, s.Lessons[0].DurationMinutes)
}

// =============================================================================
// IDEMPOTENCE
// =============================================================================

func TestMigrate_Idempotent(t *testing.T) {
	// GIVEN: A messy legacy document
	// WHEN: Migrating it, then migrating the result again
	// THEN: The second pass changes nothing

	docs := []string{
		`{}`,
		`{"students": [{"name": "Anna", "packages": [{"count": 5, "rest": 9, "price": "1 500,5"}]}]}`,
		`{"settings": {"defaultLessonDuration": 50},
		  "students": [{"id": "s1", "packages": [{"id": "p1", "totalLessons": 3, "remainingLessons": 1, "price": 1000}]}],
		  "lessons": [{"studentId": "s1", "packageId": "p1", "start": "2025-03-10T12:00:00+03:00", "status": "completed", "refunded": true},
		              {"studentId": "s1", "start": 1741770000000, "durationMinutes": "100"}]}`,
		`{"settings": {"defaultLessonDuration": 9223372036854775805},
		  "students": [{"id": "s1", "name": "Anna"}],
		  "lessons": [{"studentId": "s1", "start": "2025-03-10T12:00:00Z", "durationMinutes": 9223372036854775805}]}`,
	}

	for i, doc := range docs {
		t.Run(fmt.Sprint(i), func(t *testing.T) {
			m := testMigrator()
			once := m.MigrateJSON([]byte(doc))
			twice := m.Migrate(once)

			assert.JSONEq(t, asJSON(t, once), asJSON(t, twice))
		})
	}
}

func TestMigrate_AcceptsStateValue(t *testing.T) {
	base := ledger.ReduceAll(ledger.DefaultState(),
		ledger.AddStudent{Student: student("s1", "Anna", pkg("p1", 5, 2, 1500))},
		ledger.AddLesson{Lesson: lesson("l1", "s1", t0)},
	)

	migrated := testMigrator().Migrate(base)

	assert.JSONEq(t, asJSON(t, base), asJSON(t, migrated))
}

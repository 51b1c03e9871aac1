/*
migrate.go - Schema normalization for persisted documents

PURPOSE:
  Migrate turns anything that was loaded from storage or imported by the
  user into a valid current-schema State. It never fails: malformed, partial
  or missing fields are replaced with safe defaults, and records that cannot
  be repaired are discarded.

RULES:
  - Not an object                     -> fresh default state
  - Missing students/lessons arrays   -> empty
  - Student without id                -> generated id; without name -> placeholder
  - Package with totalLessons <= 0    -> dropped
  - remainingLessons                  -> clamped into [0, totalLessons]
  - consumedLessons                   -> recomputed, input value ignored
  - Lesson without studentId or start -> dropped (also when the student is gone)
  - Lesson status other than completed (e.g. "cancelled") -> scheduled
  - Numbers are parsed leniently ("1 600,50"); failures fall back to defaults

  Legacy package fields "count" and "rest" are read when the current names
  are absent.

IDEMPOTENCE:
  Migrate(Migrate(x)) == Migrate(x) for every x. Anything the first pass
  generates (ids, timestamps) is carried through unchanged by the second.
*/
package ledger

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// UnnamedStudent is the placeholder name for students stored without one.
const UnnamedStudent = "Unnamed student"

// Migrator normalizes raw documents. Now and NewID are injectable so tests
// can pin generated values.
type Migrator struct {
	Now   func() time.Time
	NewID IDGenerator
}

func NewMigrator() *Migrator {
	return &Migrator{Now: time.Now, NewID: NewID}
}

// Migrate normalizes raw with the default clock and id generator.
func Migrate(raw any) State {
	return NewMigrator().Migrate(raw)
}

// MigrateJSON decodes and normalizes a serialized document. Unparseable
// input yields the default state.
func MigrateJSON(data []byte) State {
	return NewMigrator().MigrateJSON(data)
}

func (m *Migrator) MigrateJSON(data []byte) State {
	tree, err := decodeTree(data)
	if err != nil {
		return DefaultState()
	}
	return m.Migrate(tree)
}

// Migrate accepts a decoded JSON tree, raw JSON bytes, or a State value.
func (m *Migrator) Migrate(raw any) State {
	obj, ok := toTree(raw).(map[string]any)
	if !ok {
		return DefaultState()
	}

	now := m.Now().UTC()
	state := DefaultState()
	state.Settings = migrateSettings(obj["settings"])

	seenStudents := make(map[string]bool)
	for _, rawStudent := range asSlice(obj["students"]) {
		student, ok := m.migrateStudent(rawStudent, now)
		if !ok || seenStudents[student.ID] {
			continue
		}
		seenStudents[student.ID] = true
		state.Students = append(state.Students, student)
	}

	owners := make(map[string]Student, len(state.Students))
	for _, s := range state.Students {
		owners[s.ID] = s
	}

	seenLessons := make(map[string]bool)
	for _, rawLesson := range asSlice(obj["lessons"]) {
		lesson, ok := m.migrateLesson(rawLesson, owners, state.Settings, now)
		if !ok || seenLessons[lesson.ID] {
			continue
		}
		seenLessons[lesson.ID] = true
		state.Lessons = append(state.Lessons, lesson)
	}

	sortStudents(state.Students)
	sortLessons(state.Lessons)
	state.Version = SchemaVersion
	return state
}

// =============================================================================
// RECORD NORMALIZATION
// =============================================================================

func migrateSettings(raw any) Settings {
	settings := DefaultSettings()
	obj, ok := raw.(map[string]any)
	if !ok {
		return settings
	}
	if d, ok := ParseCount(obj["defaultLessonDuration"]); ok {
		settings.DefaultLessonDuration = NormalizeDuration(d, DefaultLessonDuration)
	}
	if p, ok := ParseMoney(obj["defaultLessonPrice"]); ok && p.IsPositive() {
		settings.DefaultLessonPrice = p
	}
	return settings
}

func (m *Migrator) migrateStudent(raw any, now time.Time) (Student, bool) {
	obj, ok := raw.(map[string]any)
	if !ok {
		return Student{}, false
	}

	student := Student{
		ID:        stringField(obj, "id"),
		Name:      strings.TrimSpace(stringField(obj, "name")),
		Contact:   stringField(obj, "contact"),
		Notes:     stringField(obj, "notes"),
		Archived:  boolField(obj, "archived"),
		Packages:  []Package{},
		CreatedAt: timeField(obj, "createdAt", now),
		UpdatedAt: timeField(obj, "updatedAt", now),
	}
	if student.ID == "" {
		student.ID = m.NewID()
	}
	if student.Name == "" {
		student.Name = UnnamedStudent
	}

	seen := make(map[string]bool)
	for _, rawPkg := range asSlice(obj["packages"]) {
		pkg, ok := m.migratePackage(rawPkg, now)
		if !ok || seen[pkg.ID] {
			continue
		}
		seen[pkg.ID] = true
		student.Packages = append(student.Packages, pkg)
	}
	return student, true
}

func (m *Migrator) migratePackage(raw any, now time.Time) (Package, bool) {
	obj, ok := raw.(map[string]any)
	if !ok {
		return Package{}, false
	}

	total, ok := ParseCount(obj["totalLessons"])
	if !ok || total == 0 {
		total, _ = ParseCount(obj["count"])
	}
	if total <= 0 {
		return Package{}, false
	}

	remaining, ok := ParseCount(firstPresent(obj, "remainingLessons", "rest"))
	if !ok {
		remaining = total
	}

	price, _ := ParseMoney(obj["price"])

	pkg := Package{
		ID:               stringField(obj, "id"),
		Price:            price.ClampZero(),
		TotalLessons:     total,
		RemainingLessons: remaining,
		CreatedAt:        timeField(obj, "createdAt", now),
		UpdatedAt:        timeField(obj, "updatedAt", now),
	}
	if pkg.ID == "" {
		pkg.ID = m.NewID()
	}
	return pkg.Normalize(), true
}

func (m *Migrator) migrateLesson(raw any, owners map[string]Student, settings Settings, now time.Time) (Lesson, bool) {
	obj, ok := raw.(map[string]any)
	if !ok {
		return Lesson{}, false
	}

	studentID := stringField(obj, "studentId")
	owner, ok := owners[studentID]
	if studentID == "" || !ok {
		return Lesson{}, false
	}
	start, ok := parseTime(obj["start"])
	if !ok {
		return Lesson{}, false
	}

	duration, ok := ParseCount(obj["durationMinutes"])
	if !ok {
		duration = settings.DefaultLessonDuration
	}
	price, ok := ParseMoney(obj["price"])
	if !ok {
		price = settings.DefaultLessonPrice
	}

	lesson := Lesson{
		ID:              stringField(obj, "id"),
		StudentID:       studentID,
		PackageID:       stringField(obj, "packageId"),
		Start:           start,
		DurationMinutes: NormalizeDuration(duration, settings.DefaultLessonDuration),
		Price:           price.ClampZero(),
		Notes:           stringField(obj, "notes"),
		Status:          StatusScheduled,
		Refunded:        boolField(obj, "refunded"),
		CreatedAt:       timeField(obj, "createdAt", now),
		UpdatedAt:       timeField(obj, "updatedAt", now),
	}
	if lesson.ID == "" {
		lesson.ID = m.NewID()
	}
	if Status(stringField(obj, "status")) == StatusCompleted {
		lesson.Status = StatusCompleted
	}
	if _, owned := owner.Package(lesson.PackageID); !owned {
		lesson.PackageID = ""
	}
	return lesson, true
}

// NormalizeDuration snaps minutes onto the 15-minute grid. Values below the
// minimum are replaced by fallback, values above a day are capped to a day.
func NormalizeDuration(minutes, fallback int) int {
	if minutes < MinLessonDuration {
		if fallback < MinLessonDuration {
			return DefaultLessonDuration
		}
		minutes = fallback
	}
	if minutes > MaxLessonDuration {
		minutes = MaxLessonDuration
	}
	return ((minutes + DurationStep/2) / DurationStep) * DurationStep
}

// =============================================================================
// TREE HELPERS
// =============================================================================

func decodeTree(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return nil, err
	}
	return tree, nil
}

func toTree(raw any) any {
	switch v := raw.(type) {
	case nil:
		return nil
	case map[string]any:
		return v
	case []byte:
		tree, err := decodeTree(v)
		if err != nil {
			return nil
		}
		return tree
	case json.RawMessage:
		return toTree([]byte(v))
	case State, *State:
		data, err := json.Marshal(v)
		if err != nil {
			return nil
		}
		return toTree(data)
	default:
		return v
	}
}

func asSlice(v any) []any {
	s, _ := v.([]any)
	return s
}

func firstPresent(obj map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := obj[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func stringField(obj map[string]any, key string) string {
	switch v := obj[key].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	default:
		return ""
	}
}

func boolField(obj map[string]any, key string) bool {
	switch v := obj[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	case json.Number:
		f, err := v.Float64()
		return err == nil && f != 0
	default:
		return false
	}
}

func timeField(obj map[string]any, key string, fallback time.Time) time.Time {
	if t, ok := parseTime(obj[key]); ok {
		return t
	}
	return fallback
}

// parseTime accepts RFC 3339 strings and Unix milliseconds.
func parseTime(v any) (time.Time, bool) {
	switch x := v.(type) {
	case string:
		t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(x))
		if err != nil {
			return time.Time{}, false
		}
		return t.UTC(), true
	case json.Number:
		ms, err := x.Int64()
		if err != nil {
			return time.Time{}, false
		}
		return time.UnixMilli(ms).UTC(), true
	case float64:
		return time.UnixMilli(int64(x)).UTC(), true
	default:
		return time.Time{}, false
	}
}

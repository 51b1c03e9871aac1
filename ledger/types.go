/*
Package ledger provides the tutor's scheduling and billing state engine.

PURPOSE:
  This package owns the domain model (students, lesson packages, lessons,
  settings), the pure reducer that moves the model from one state to the
  next, and the migration pass that turns any persisted document into a
  valid current-schema state. It performs no I/O; persistence and
  notifications are collaborators described by interfaces.

KEY CONCEPTS IN THIS FILE (types.go):
  - Student: a learner with an ordered list of prepaid lesson packages
  - Package: a prepaid bundle (price per lesson, total and remaining slots)
  - Lesson: a booked or completed lesson, optionally billed to a package
  - State: the single document holding everything, versioned for migration

INVARIANTS:
  1. 0 <= RemainingLessons <= TotalLessons for every package
  2. ConsumedLessons is derived from the pair above, never trusted as input
  3. Every lesson references an existing student (cascade delete)
  4. Students are ordered by name, lessons by start time

SEE ALSO:
  - reducer.go: State transitions
  - migrate.go: Schema normalization
  - summary.go: Derived financial figures
*/
package ledger

import (
	"time"
)

// SchemaVersion is stamped on every migrated state.
const SchemaVersion = 2

// =============================================================================
// SETTINGS
// =============================================================================

const (
	DefaultLessonDuration = 60
	DurationStep          = 15
	MinLessonDuration     = 15
	MaxLessonDuration     = 24 * 60
)

// DefaultLessonPrice is the per-lesson price used when nothing else is known.
var DefaultLessonPrice = NewMoneyFromInt(1600)

type Settings struct {
	DefaultLessonDuration int   `json:"defaultLessonDuration"`
	DefaultLessonPrice    Money `json:"defaultLessonPrice"`
}

func DefaultSettings() Settings {
	return Settings{
		DefaultLessonDuration: DefaultLessonDuration,
		DefaultLessonPrice:    DefaultLessonPrice,
	}
}

// =============================================================================
// PACKAGE - Prepaid bundle of lessons
// =============================================================================

type Package struct {
	ID               string    `json:"id"`
	Price            Money     `json:"price"`
	TotalLessons     int       `json:"totalLessons"`
	RemainingLessons int       `json:"remainingLessons"`
	ConsumedLessons  int       `json:"consumedLessons"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// Normalize clamps RemainingLessons into [0, TotalLessons] and recomputes
// ConsumedLessons from the pair.
func (p Package) Normalize() Package {
	if p.TotalLessons < 0 {
		p.TotalLessons = 0
	}
	p.RemainingLessons = clamp(p.RemainingLessons, 0, p.TotalLessons)
	p.ConsumedLessons = p.TotalLessons - p.RemainingLessons
	return p
}

// RemainingValue is the prepaid money still held by the package.
func (p Package) RemainingValue() Money {
	return p.Price.MulInt(p.RemainingLessons)
}

// Consume takes one slot. A package with no slots left is returned unchanged.
func (p Package) Consume() Package {
	if p.RemainingLessons <= 0 {
		return p
	}
	p.RemainingLessons--
	return p.Normalize()
}

// Restore gives one slot back, never exceeding TotalLessons.
func (p Package) Restore() Package {
	p.RemainingLessons++
	return p.Normalize()
}

// =============================================================================
// STUDENT
// =============================================================================

type Student struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Contact   string    `json:"contact"`
	Notes     string    `json:"notes"`
	Archived  bool      `json:"archived"`
	Packages  []Package `json:"packages"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Package returns the student's package with the given id.
func (s Student) Package(id string) (Package, bool) {
	for _, p := range s.Packages {
		if p.ID == id {
			return p, true
		}
	}
	return Package{}, false
}

// RemainingLessons sums the remaining slots over all packages.
func (s Student) RemainingLessons() int {
	n := 0
	for _, p := range s.Packages {
		n += p.RemainingLessons
	}
	return n
}

// RemainingValue sums remaining x price over all packages.
func (s Student) RemainingValue() Money {
	total := Money{}
	for _, p := range s.Packages {
		total = total.Add(p.RemainingValue())
	}
	return total
}

// =============================================================================
// LESSON
// =============================================================================

type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusCompleted Status = "completed"
)

func (s Status) Valid() bool {
	return s == StatusScheduled || s == StatusCompleted
}

type Lesson struct {
	ID              string    `json:"id"`
	StudentID       string    `json:"studentId"`
	PackageID       string    `json:"packageId,omitempty"`
	Start           time.Time `json:"start"`
	DurationMinutes int       `json:"durationMinutes"`
	Price           Money     `json:"price"`
	Notes           string    `json:"notes"`
	Status          Status    `json:"status"`
	Refunded        bool      `json:"refunded"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// End is the instant the lesson finishes.
func (l Lesson) End() time.Time {
	return l.Start.Add(time.Duration(l.DurationMinutes) * time.Minute)
}

// HoldsSlot reports whether the lesson currently occupies a package slot.
func (l Lesson) HoldsSlot() bool {
	return l.PackageID != "" && !l.Refunded
}

// =============================================================================
// STATE - The persisted document
// =============================================================================

type State struct {
	Version  int       `json:"version"`
	Students []Student `json:"students"`
	Lessons  []Lesson  `json:"lessons"`
	Settings Settings  `json:"settings"`
}

func DefaultState() State {
	return State{
		Version:  SchemaVersion,
		Students: []Student{},
		Lessons:  []Lesson{},
		Settings: DefaultSettings(),
	}
}

func (s State) Student(id string) (Student, bool) {
	for _, st := range s.Students {
		if st.ID == id {
			return st, true
		}
	}
	return Student{}, false
}

func (s State) Lesson(id string) (Lesson, bool) {
	for _, l := range s.Lessons {
		if l.ID == id {
			return l, true
		}
	}
	return Lesson{}, false
}

// LessonsOf returns the lessons of one student in start order.
func (s State) LessonsOf(studentID string) []Lesson {
	var out []Lesson
	for _, l := range s.Lessons {
		if l.StudentID == studentID {
			out = append(out, l)
		}
	}
	return out
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

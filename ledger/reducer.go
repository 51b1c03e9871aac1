/*
reducer.go - Pure state transitions

PURPOSE:
  Reduce maps (state, action) to the next state. It is synchronous and
  total: unknown ids are ignored, unknown actions return the input. It never
  mutates its input; every transition builds fresh slices so a caller holding
  the previous State can keep reading it.

ACTIONS:
  AddStudent, UpdateStudent, DeleteStudent (cascades to lessons),
  AddLesson, UpdateLesson, DeleteLesson, UpdateSettings, SetState.

ORDERING:
  Students are kept sorted by name using Russian collation; lessons by start
  time. Both sorts are stable so equal keys keep insertion order.

SEE ALSO:
  - tutor/engine.go: The only caller that commits reducer output
*/
package ledger

import (
	"sort"
	"time"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// CollationLocale orders student names.
var CollationLocale = language.Russian

// =============================================================================
// ACTIONS - Sealed sum type
// =============================================================================

// Action is one state transition request. Only types in this package
// implement it.
type Action interface {
	action()
}

type AddStudent struct{ Student Student }

type UpdateStudent struct {
	ID    string
	Patch StudentPatch
}

type DeleteStudent struct{ ID string }

type AddLesson struct{ Lesson Lesson }

type UpdateLesson struct {
	ID    string
	Patch LessonPatch
}

type DeleteLesson struct{ ID string }

type UpdateSettings struct{ Patch SettingsPatch }

// SetState replaces the whole state. The state must already be migrated.
type SetState struct{ State State }

func (AddStudent) action()     {}
func (UpdateStudent) action()  {}
func (DeleteStudent) action()  {}
func (AddLesson) action()      {}
func (UpdateLesson) action()   {}
func (DeleteLesson) action()   {}
func (UpdateSettings) action() {}
func (SetState) action()       {}

// =============================================================================
// PATCHES - nil fields are left untouched
// =============================================================================

type StudentPatch struct {
	Name      *string    `json:"name,omitempty"`
	Contact   *string    `json:"contact,omitempty"`
	Notes     *string    `json:"notes,omitempty"`
	Archived  *bool      `json:"archived,omitempty"`
	Packages  []Package  `json:"packages,omitempty"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
}

func (p StudentPatch) apply(s Student) Student {
	if p.Name != nil {
		s.Name = *p.Name
	}
	if p.Contact != nil {
		s.Contact = *p.Contact
	}
	if p.Notes != nil {
		s.Notes = *p.Notes
	}
	if p.Archived != nil {
		s.Archived = *p.Archived
	}
	if p.Packages != nil {
		s.Packages = append([]Package(nil), p.Packages...)
	}
	if p.UpdatedAt != nil {
		s.UpdatedAt = *p.UpdatedAt
	}
	return s
}

type LessonPatch struct {
	PackageID       *string    `json:"packageId,omitempty"`
	Start           *time.Time `json:"start,omitempty"`
	DurationMinutes *int       `json:"durationMinutes,omitempty"`
	Price           *Money     `json:"price,omitempty"`
	Notes           *string    `json:"notes,omitempty"`
	Status          *Status    `json:"status,omitempty"`
	Refunded        *bool      `json:"refunded,omitempty"`
	UpdatedAt       *time.Time `json:"updatedAt,omitempty"`
}

func (p LessonPatch) apply(l Lesson) Lesson {
	if p.PackageID != nil {
		l.PackageID = *p.PackageID
	}
	if p.Start != nil {
		l.Start = *p.Start
	}
	if p.DurationMinutes != nil {
		l.DurationMinutes = *p.DurationMinutes
	}
	if p.Price != nil {
		l.Price = *p.Price
	}
	if p.Notes != nil {
		l.Notes = *p.Notes
	}
	if p.Status != nil {
		l.Status = *p.Status
	}
	if p.Refunded != nil {
		l.Refunded = *p.Refunded
	}
	if p.UpdatedAt != nil {
		l.UpdatedAt = *p.UpdatedAt
	}
	return l
}

type SettingsPatch struct {
	DefaultLessonDuration *int   `json:"defaultLessonDuration,omitempty"`
	DefaultLessonPrice    *Money `json:"defaultLessonPrice,omitempty"`
}

func (p SettingsPatch) apply(s Settings) Settings {
	if p.DefaultLessonDuration != nil {
		s.DefaultLessonDuration = *p.DefaultLessonDuration
	}
	if p.DefaultLessonPrice != nil {
		s.DefaultLessonPrice = *p.DefaultLessonPrice
	}
	return s
}

// =============================================================================
// REDUCE
// =============================================================================

// Reduce returns the state that results from applying a to s.
func Reduce(s State, a Action) State {
	switch a := a.(type) {
	case AddStudent:
		students := append(cloneStudents(s.Students), a.Student)
		sortStudents(students)
		s.Students = students
		return s

	case UpdateStudent:
		students := cloneStudents(s.Students)
		for i := range students {
			if students[i].ID == a.ID {
				students[i] = a.Patch.apply(students[i])
			}
		}
		s.Students = students
		return s

	case DeleteStudent:
		s.Students = filter(s.Students, func(st Student) bool { return st.ID != a.ID })
		s.Lessons = filter(s.Lessons, func(l Lesson) bool { return l.StudentID != a.ID })
		return s

	case AddLesson:
		lessons := append(cloneLessons(s.Lessons), a.Lesson)
		sortLessons(lessons)
		s.Lessons = lessons
		return s

	case UpdateLesson:
		lessons := cloneLessons(s.Lessons)
		for i := range lessons {
			if lessons[i].ID == a.ID {
				lessons[i] = a.Patch.apply(lessons[i])
			}
		}
		sortLessons(lessons)
		s.Lessons = lessons
		return s

	case DeleteLesson:
		s.Lessons = filter(s.Lessons, func(l Lesson) bool { return l.ID != a.ID })
		return s

	case UpdateSettings:
		s.Settings = a.Patch.apply(s.Settings)
		return s

	case SetState:
		return a.State

	default:
		return s
	}
}

// ReduceAll folds a sequence of actions over s.
func ReduceAll(s State, actions ...Action) State {
	for _, a := range actions {
		s = Reduce(s, a)
	}
	return s
}

// =============================================================================
// HELPERS
// =============================================================================

func cloneStudents(in []Student) []Student {
	out := make([]Student, len(in), len(in)+1)
	copy(out, in)
	return out
}

func cloneLessons(in []Lesson) []Lesson {
	out := make([]Lesson, len(in), len(in)+1)
	copy(out, in)
	return out
}

func filter[T any](in []T, keep func(T) bool) []T {
	out := make([]T, 0, len(in))
	for _, v := range in {
		if keep(v) {
			out = append(out, v)
		}
	}
	return out
}

func sortStudents(students []Student) {
	c := collate.New(CollationLocale)
	sort.SliceStable(students, func(i, j int) bool {
		return c.CompareString(students[i].Name, students[j].Name) < 0
	})
}

func sortLessons(lessons []Lesson) {
	sort.SliceStable(lessons, func(i, j int) bool {
		return lessons[i].Start.Before(lessons[j].Start)
	})
}

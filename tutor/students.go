package tutor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/warp/tutor-ledger/ledger"
)

// PackageInput describes a package bought at student creation or later.
type PackageInput struct {
	Count int          `json:"count"`
	Price ledger.Money `json:"price"`
}

func (p PackageInput) valid() bool {
	return p.Count > 0 && p.Price.IsPositive()
}

type StudentInput struct {
	Name     string         `json:"name"`
	Contact  string         `json:"contact"`
	Notes    string         `json:"notes"`
	Packages []PackageInput `json:"packages"`
}

// StudentUpdate is an edit from the student editor. Packages, when set,
// replace the student's package list; entries without an id are new.
type StudentUpdate struct {
	Name     *string          `json:"name,omitempty"`
	Contact  *string          `json:"contact,omitempty"`
	Notes    *string          `json:"notes,omitempty"`
	Archived *bool            `json:"archived,omitempty"`
	Packages []ledger.Package `json:"packages,omitempty"`
}

// AddStudent creates a student with one full package per valid input
// package. Invalid packages are dropped; at least one must remain.
func (e *Engine) AddStudent(ctx context.Context, in StudentInput) (*ledger.Student, error) {
	e.mu.Lock()
	defer e.unlock()

	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, e.reject(ledger.Invalid("name", "enter the student's name"))
	}

	now := e.clock()
	packages := make([]ledger.Package, 0, len(in.Packages))
	for _, p := range in.Packages {
		if !p.valid() {
			continue
		}
		packages = append(packages, e.newPackage(p, now))
	}
	if len(packages) == 0 {
		return nil, e.reject(ledger.Invalid("packages", "add at least one valid lesson package"))
	}

	student := ledger.Student{
		ID:        e.newID(),
		Name:      name,
		Contact:   strings.TrimSpace(in.Contact),
		Notes:     strings.TrimSpace(in.Notes),
		Packages:  packages,
		CreatedAt: now,
		UpdatedAt: now,
	}
	e.commit(ctx, ledger.Reduce(e.state, ledger.AddStudent{Student: student}))
	e.notify(ledger.SeveritySuccess, fmt.Sprintf("Student %q added.", student.Name))
	return &student, nil
}

// UpdateStudent edits profile fields and, optionally, the package list.
// Lessons billed to a package that is no longer listed lose their package.
func (e *Engine) UpdateStudent(ctx context.Context, id string, upd StudentUpdate) (*ledger.Student, error) {
	e.mu.Lock()
	defer e.unlock()

	current, ok := e.state.Student(id)
	if !ok {
		return nil, nil
	}

	now := e.clock()
	patch := ledger.StudentPatch{Archived: upd.Archived, UpdatedAt: &now}
	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if name == "" {
			return nil, e.reject(ledger.Invalid("name", "student name cannot be empty"))
		}
		patch.Name = &name
	}
	if upd.Contact != nil {
		contact := strings.TrimSpace(*upd.Contact)
		patch.Contact = &contact
	}
	if upd.Notes != nil {
		notes := strings.TrimSpace(*upd.Notes)
		patch.Notes = &notes
	}

	next := e.state
	if upd.Packages != nil {
		packages := e.editedPackages(current, upd.Packages, now)
		if len(packages) == 0 {
			return nil, e.reject(ledger.Invalid("packages", "add at least one valid lesson package"))
		}
		patch.Packages = packages
		next = detachLessons(next, id, packages, now)
	}

	next = ledger.Reduce(next, ledger.UpdateStudent{ID: id, Patch: patch})
	e.commit(ctx, next)
	e.notify(ledger.SeveritySuccess, "Student updated.")

	updated, _ := next.Student(id)
	return &updated, nil
}

// DeleteStudent removes the student and every lesson of that student.
func (e *Engine) DeleteStudent(ctx context.Context, id string) bool {
	e.mu.Lock()
	defer e.unlock()

	if _, ok := e.state.Student(id); !ok {
		return false
	}
	e.commit(ctx, ledger.Reduce(e.state, ledger.DeleteStudent{ID: id}))
	e.notify(ledger.SeverityWarning, "Student and all their lessons deleted.")
	return true
}

// =============================================================================
// HELPERS
// =============================================================================

func (e *Engine) newPackage(in PackageInput, now time.Time) ledger.Package {
	return ledger.Package{
		ID:               e.newID(),
		Price:            in.Price,
		TotalLessons:     in.Count,
		RemainingLessons: in.Count,
		ConsumedLessons:  0,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// editedPackages sanitizes a package list coming from the editor: negative
// numbers become zero, entries without lessons or price are dropped,
// remaining is clamped, and unknown ids get fresh identities.
func (e *Engine) editedPackages(current ledger.Student, in []ledger.Package, now time.Time) []ledger.Package {
	out := make([]ledger.Package, 0, len(in))
	for _, p := range in {
		p.Price = p.Price.ClampZero()
		if p.TotalLessons < 0 {
			p.TotalLessons = 0
		}
		if p.RemainingLessons < 0 {
			p.RemainingLessons = 0
		}
		if p.TotalLessons == 0 || !p.Price.IsPositive() {
			continue
		}

		if existing, ok := current.Package(p.ID); ok && p.ID != "" {
			p.CreatedAt = existing.CreatedAt
		} else {
			p.ID = e.newID()
			p.CreatedAt = now
		}
		p.UpdatedAt = now
		out = append(out, p.Normalize())
	}
	return out
}

// detachLessons clears the package of the student's lessons whose package is
// not in keep.
func detachLessons(s ledger.State, studentID string, keep []ledger.Package, now time.Time) ledger.State {
	owned := make(map[string]bool, len(keep))
	for _, p := range keep {
		owned[p.ID] = true
	}
	none := ""
	for _, l := range s.LessonsOf(studentID) {
		if l.PackageID == "" || owned[l.PackageID] {
			continue
		}
		s = ledger.Reduce(s, ledger.UpdateLesson{
			ID:    l.ID,
			Patch: ledger.LessonPatch{PackageID: &none, UpdatedAt: &now},
		})
	}
	return s
}

package tutor

import (
	"context"
	"time"

	"github.com/warp/tutor-ledger/ledger"
)

// PackagePatch edits one package. Lowering TotalLessons below the remaining
// count lowers the remaining count with it.
type PackagePatch struct {
	Price            *ledger.Money `json:"price,omitempty"`
	TotalLessons     *int          `json:"totalLessons,omitempty"`
	RemainingLessons *int          `json:"remainingLessons,omitempty"`
}

// AddPackage sells the student another full package.
func (e *Engine) AddPackage(ctx context.Context, studentID string, in PackageInput) (*ledger.Package, error) {
	e.mu.Lock()
	defer e.unlock()

	student, ok := e.state.Student(studentID)
	if !ok {
		return nil, nil
	}
	if !in.valid() {
		return nil, e.reject(ledger.Invalid("package", "lesson count and price must be greater than zero"))
	}

	now := e.clock()
	pkg := e.newPackage(in, now)
	packages := append(append([]ledger.Package(nil), student.Packages...), pkg)
	e.commit(ctx, ledger.Reduce(e.state, ledger.UpdateStudent{
		ID:    studentID,
		Patch: ledger.StudentPatch{Packages: packages, UpdatedAt: &now},
	}))
	e.notify(ledger.SeveritySuccess, "Package added.")
	return &pkg, nil
}

// UpdatePackage edits price and counters of one package.
func (e *Engine) UpdatePackage(ctx context.Context, studentID, packageID string, patch PackagePatch) (*ledger.Package, error) {
	e.mu.Lock()
	defer e.unlock()

	student, ok := e.state.Student(studentID)
	if !ok {
		return nil, nil
	}
	if _, ok := student.Package(packageID); !ok {
		return nil, nil
	}
	if patch.Price != nil && !patch.Price.IsPositive() {
		return nil, e.reject(ledger.Invalid("price", "package price must be greater than zero"))
	}
	if patch.TotalLessons != nil && *patch.TotalLessons <= 0 {
		return nil, e.reject(ledger.Invalid("totalLessons", "lesson count must be greater than zero"))
	}
	if patch.RemainingLessons != nil && *patch.RemainingLessons < 0 {
		return nil, e.reject(ledger.Invalid("remainingLessons", "remaining lessons cannot be negative"))
	}

	next, pkg := withPackage(e.state, studentID, packageID, e.clock(), func(p ledger.Package) ledger.Package {
		if patch.Price != nil {
			p.Price = *patch.Price
		}
		if patch.TotalLessons != nil {
			p.TotalLessons = *patch.TotalLessons
		}
		if patch.RemainingLessons != nil {
			p.RemainingLessons = *patch.RemainingLessons
		}
		return p.Normalize()
	})
	e.commit(ctx, next)
	e.notify(ledger.SeveritySuccess, "Package updated.")
	return pkg, nil
}

// DeletePackage removes a package. Lessons billed to it lose their package.
func (e *Engine) DeletePackage(ctx context.Context, studentID, packageID string) bool {
	e.mu.Lock()
	defer e.unlock()

	student, ok := e.state.Student(studentID)
	if !ok {
		return false
	}
	if _, ok := student.Package(packageID); !ok {
		return false
	}

	now := e.clock()
	keep := make([]ledger.Package, 0, len(student.Packages))
	for _, p := range student.Packages {
		if p.ID != packageID {
			keep = append(keep, p)
		}
	}
	next := detachLessons(e.state, studentID, keep, now)
	next = ledger.Reduce(next, ledger.UpdateStudent{
		ID:    studentID,
		Patch: ledger.StudentPatch{Packages: keep, UpdatedAt: &now},
	})
	e.commit(ctx, next)
	e.notify(ledger.SeverityWarning, "Package deleted.")
	return true
}

// =============================================================================
// SLOT CONSUMPTION
// =============================================================================

// ConsumeLessonSlot takes one lesson from the package. A package with no
// lessons left is left unchanged without any error: callers are expected to
// check RemainingLessons first. UpdateLesson, in contrast, rejects the same
// situation with ErrNoLessonsLeft. Returns nil when the student or package
// does not exist.
func (e *Engine) ConsumeLessonSlot(ctx context.Context, studentID, packageID string) *ledger.Package {
	return e.moveSlot(ctx, studentID, packageID, ledger.Package.Consume)
}

// RestoreLessonSlot gives one lesson back, never above TotalLessons.
func (e *Engine) RestoreLessonSlot(ctx context.Context, studentID, packageID string) *ledger.Package {
	return e.moveSlot(ctx, studentID, packageID, ledger.Package.Restore)
}

func (e *Engine) moveSlot(ctx context.Context, studentID, packageID string, fn func(ledger.Package) ledger.Package) *ledger.Package {
	e.mu.Lock()
	defer e.unlock()

	next, pkg := withPackage(e.state, studentID, packageID, e.clock(), fn)
	if pkg == nil {
		return nil
	}
	e.commit(ctx, next)
	return pkg
}

// withPackage applies fn to one package of one student and returns the
// resulting state and package. The state is returned unchanged with a nil
// package when either id is unknown.
func withPackage(s ledger.State, studentID, packageID string, now time.Time, fn func(ledger.Package) ledger.Package) (ledger.State, *ledger.Package) {
	student, ok := s.Student(studentID)
	if !ok {
		return s, nil
	}

	var updated *ledger.Package
	packages := make([]ledger.Package, len(student.Packages))
	for i, p := range student.Packages {
		if p.ID == packageID && updated == nil {
			p = fn(p)
			p.UpdatedAt = now
			updated = &p
		}
		packages[i] = p
	}
	if updated == nil {
		return s, nil
	}

	next := ledger.Reduce(s, ledger.UpdateStudent{
		ID:    studentID,
		Patch: ledger.StudentPatch{Packages: packages, UpdatedAt: &now},
	})
	return next, updated
}

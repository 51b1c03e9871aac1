package tutor

import (
	"context"
	"strings"
	"time"

	"github.com/warp/tutor-ledger/ledger"
)

// LessonInput books a lesson. A zero DurationMinutes or a nil Price falls
// back to the settings defaults.
type LessonInput struct {
	StudentID       string        `json:"studentId"`
	PackageID       string        `json:"packageId,omitempty"`
	Start           time.Time     `json:"start"`
	DurationMinutes int           `json:"durationMinutes"`
	Price           *ledger.Money `json:"price,omitempty"`
	Notes           string        `json:"notes"`
}

// AddLesson books a lesson in status scheduled.
//
// Booking and billing are separate steps: AddLesson never consumes a package
// slot, even when PackageID is set. Callers that bill at booking time must
// follow up with ConsumeLessonSlot; callers that bill later may do so when
// the lesson happens.
func (e *Engine) AddLesson(ctx context.Context, in LessonInput) (*ledger.Lesson, error) {
	e.mu.Lock()
	defer e.unlock()

	settings := e.state.Settings
	student, ok := e.state.Student(in.StudentID)
	if in.StudentID == "" || !ok {
		return nil, e.reject(ledger.Invalid("studentId", "choose a student"))
	}
	if in.Start.IsZero() {
		return nil, e.reject(ledger.Invalid("start", "enter the lesson date and time"))
	}

	duration := in.DurationMinutes
	if duration == 0 {
		duration = settings.DefaultLessonDuration
	}
	if err := validateDuration(duration); err != nil {
		return nil, e.reject(err)
	}

	price := settings.DefaultLessonPrice
	if in.Price != nil {
		price = in.Price.ClampZero()
	}

	if in.PackageID != "" {
		if _, ok := student.Package(in.PackageID); !ok {
			return nil, e.reject(ledger.ErrPackageNotFound)
		}
	}

	now := e.clock()
	lesson := ledger.Lesson{
		ID:              e.newID(),
		StudentID:       in.StudentID,
		PackageID:       in.PackageID,
		Start:           in.Start.UTC(),
		DurationMinutes: duration,
		Price:           price,
		Notes:           strings.TrimSpace(in.Notes),
		Status:          ledger.StatusScheduled,
		Refunded:        false,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	e.commit(ctx, ledger.Reduce(e.state, ledger.AddLesson{Lesson: lesson}))
	e.notify(ledger.SeveritySuccess, "Lesson added to the schedule.")
	return &lesson, nil
}

// UpdateLesson edits a lesson and keeps package slots consistent with its
// package and refunded flag.
//
// With old package P0, new package P1, old flag R0 and new flag R1:
//
//	P0 == P1: R0=false,R1=true  -> restore P0
//	          R0=true, R1=false -> consume P1
//	          otherwise         -> nothing
//	P0 != P1: R0=false -> restore P0
//	          R1=false -> consume P1
//
// At most one restore and one consume happen. If the consume target has no
// lessons left, or P1 is not one of the student's packages, the whole edit
// is rejected and nothing is committed. A PackageID patch of "" detaches the
// lesson from its package. Moving to another package without an explicit
// price adopts that package's price.
func (e *Engine) UpdateLesson(ctx context.Context, id string, patch ledger.LessonPatch) (*ledger.Lesson, error) {
	e.mu.Lock()
	defer e.unlock()

	old, ok := e.state.Lesson(id)
	if !ok {
		return nil, nil
	}
	student, ok := e.state.Student(old.StudentID)
	if !ok {
		return nil, nil
	}

	if patch.Status != nil && !patch.Status.Valid() {
		return nil, e.reject(ledger.Invalid("status", "status must be scheduled or completed"))
	}
	if patch.Start != nil && patch.Start.IsZero() {
		return nil, e.reject(ledger.Invalid("start", "enter the lesson date and time"))
	}
	if patch.DurationMinutes != nil {
		if *patch.DurationMinutes == 0 {
			patch.DurationMinutes = nil
		} else if err := validateDuration(*patch.DurationMinutes); err != nil {
			return nil, e.reject(err)
		}
	}
	if patch.Start != nil {
		start := patch.Start.UTC()
		patch.Start = &start
	}
	if patch.Price != nil {
		price := patch.Price.ClampZero()
		patch.Price = &price
	}
	if patch.Notes != nil {
		notes := strings.TrimSpace(*patch.Notes)
		patch.Notes = &notes
	}

	p0, r0 := old.PackageID, old.Refunded
	p1, r1 := p0, r0
	if patch.PackageID != nil {
		p1 = *patch.PackageID
	}
	if patch.Refunded != nil {
		r1 = *patch.Refunded
	}

	var target ledger.Package
	if p1 != "" {
		pkg, ok := student.Package(p1)
		if !ok {
			return nil, e.reject(ledger.ErrPackageNotFound)
		}
		target = pkg
	}

	restore, consume := slotMoves(p0, p1, r0, r1)
	if consume != "" && target.RemainingLessons <= 0 {
		return nil, e.reject(&ledger.ExhaustedError{StudentID: student.ID, PackageID: consume})
	}

	if p1 != p0 && p1 != "" && patch.Price == nil {
		price := target.Price
		patch.Price = &price
	}

	now := e.clock()
	next := e.state
	if restore != "" {
		next, _ = withPackage(next, student.ID, restore, now, ledger.Package.Restore)
	}
	if consume != "" {
		next, _ = withPackage(next, student.ID, consume, now, ledger.Package.Consume)
	}

	patch.PackageID = &p1
	patch.Refunded = &r1
	patch.UpdatedAt = &now
	next = ledger.Reduce(next, ledger.UpdateLesson{ID: id, Patch: patch})

	e.commit(ctx, next)
	e.notify(ledger.SeveritySuccess, "Lesson updated.")

	updated, _ := next.Lesson(id)
	return &updated, nil
}

// slotMoves returns the package to restore and the package to consume for a
// package/refund transition; empty means none.
func slotMoves(p0, p1 string, r0, r1 bool) (restore, consume string) {
	if p0 != p1 {
		if !r0 && p0 != "" {
			restore = p0
		}
		if !r1 && p1 != "" {
			consume = p1
		}
		return restore, consume
	}
	if !r0 && r1 && p0 != "" {
		restore = p0
	}
	if r0 && !r1 && p1 != "" {
		consume = p1
	}
	return restore, consume
}

// DeleteLesson removes a lesson. A completed lesson still holding a package
// slot gives it back first.
func (e *Engine) DeleteLesson(ctx context.Context, id string) bool {
	e.mu.Lock()
	defer e.unlock()

	lesson, ok := e.state.Lesson(id)
	if !ok {
		return false
	}

	next := e.state
	if lesson.Status == ledger.StatusCompleted && lesson.HoldsSlot() {
		next, _ = withPackage(next, lesson.StudentID, lesson.PackageID, e.clock(), ledger.Package.Restore)
	}
	next = ledger.Reduce(next, ledger.DeleteLesson{ID: id})

	e.commit(ctx, next)
	e.notify(ledger.SeverityWarning, "Lesson deleted.")
	return true
}

func validateDuration(minutes int) error {
	if minutes < ledger.MinLessonDuration || minutes > ledger.MaxLessonDuration || minutes%ledger.DurationStep != 0 {
		return ledger.Invalid("durationMinutes", "duration must be between 15 minutes and 24 hours in steps of 15")
	}
	return nil
}

/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Domain types already
  carry the JSON shape of the persisted document (camelCase), so responses
  reuse them; requests get their own types so the API can evolve without
  touching the document schema.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Validation is done by the action layer (package tutor), not in DTOs.
  Money fields accept numbers and numeric strings such as "1 600,50".

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/warp/tutor-ledger/ledger"
	"github.com/warp/tutor-ledger/tutor"
)

// =============================================================================
// STUDENTS
// =============================================================================

type PackageRequest struct {
	Count int          `json:"count"`
	Price ledger.Money `json:"price"`
}

func (p PackageRequest) input() tutor.PackageInput {
	return tutor.PackageInput{Count: p.Count, Price: p.Price}
}

type CreateStudentRequest struct {
	Name     string           `json:"name"`
	Contact  string           `json:"contact"`
	Notes    string           `json:"notes"`
	Packages []PackageRequest `json:"packages"`
}

func (r CreateStudentRequest) input() tutor.StudentInput {
	in := tutor.StudentInput{Name: r.Name, Contact: r.Contact, Notes: r.Notes}
	for _, p := range r.Packages {
		in.Packages = append(in.Packages, p.input())
	}
	return in
}

// StudentDTO is a student with its derived card figures.
type StudentDTO struct {
	ledger.Student
	Summary ledger.StudentSummary `json:"summary"`
}

// =============================================================================
// LESSONS
// =============================================================================

// CreateLessonRequest books a lesson. ConsumeSlot additionally bills the
// lesson to its package right away.
type CreateLessonRequest struct {
	StudentID       string        `json:"studentId"`
	PackageID       string        `json:"packageId"`
	Start           time.Time     `json:"start"`
	DurationMinutes int           `json:"durationMinutes"`
	Price           *ledger.Money `json:"price"`
	Notes           string        `json:"notes"`
	ConsumeSlot     bool          `json:"consumeSlot"`
}

func (r CreateLessonRequest) input() tutor.LessonInput {
	return tutor.LessonInput{
		StudentID:       r.StudentID,
		PackageID:       r.PackageID,
		Start:           r.Start,
		DurationMinutes: r.DurationMinutes,
		Price:           r.Price,
		Notes:           r.Notes,
	}
}

type CreateLessonResponse struct {
	Lesson  ledger.Lesson   `json:"lesson"`
	Package *ledger.Package `json:"package,omitempty"`
}

// =============================================================================
// SETTINGS / SUMMARY / MISC
// =============================================================================

type LessonPriceRequest struct {
	Price ledger.Money `json:"price"`
}

type RevisionDTO struct {
	ID      int64     `json:"id"`
	SavedAt time.Time `json:"savedAt"`
}

type HealthDTO struct {
	Status        string `json:"status"`
	SchemaVersion int    `json:"schemaVersion"`
	Students      int    `json:"students"`
	Lessons       int    `json:"lessons"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

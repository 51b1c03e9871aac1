/*
handlers.go - HTTP API handlers for the tutor ledger

PURPOSE:
  Exposes the action layer (tutor.Engine) over REST so a browser UI can
  call it and render the state it returns. Handlers only translate HTTP to
  engine calls; every business rule lives in the engine.

ENDPOINTS:
  Students:
    GET    /api/students                          List students
    POST   /api/students                          Create student with packages
    GET    /api/students/{id}                     Student with card figures
    PUT    /api/students/{id}                     Edit student (and package list)
    DELETE /api/students/{id}                     Delete student and lessons

  Packages:
    POST   /api/students/{id}/packages            Add package
    PUT    /api/students/{id}/packages/{pid}      Edit package
    DELETE /api/students/{id}/packages/{pid}      Delete package
    POST   /api/students/{id}/packages/{pid}/consume  Take one lesson
    POST   /api/students/{id}/packages/{pid}/restore  Give one lesson back

  Lessons:
    GET    /api/lessons?studentId=&from=&to=      List lessons
    POST   /api/lessons                           Book lesson
    GET    /api/lessons/{id}                      Get lesson
    PUT    /api/lessons/{id}                      Edit lesson (package/refund aware)
    DELETE /api/lessons/{id}                      Delete lesson

  State / settings / summary:
    GET    /api/state                             Export document
    POST   /api/state                             Import document (migrated)
    GET    /api/settings, PUT /api/settings, PUT /api/settings/price
    GET    /api/summary?period=month|year&metric=earnings|lessons
    GET    /api/notifications, DELETE /api/notifications/{nid}

ERROR HANDLING:
  - 400: Validation errors, unknown package, malformed body
  - 404: Student or lesson not found
  - 409: Package has no lessons left
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - proxy.go: Upstream scheduling API relay
  - server.go: Router setup and middleware
*/
package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/warp/tutor-ledger/ledger"
	"github.com/warp/tutor-ledger/notify"
	"github.com/warp/tutor-ledger/store/sqlite"
	"github.com/warp/tutor-ledger/tutor"
)

// MaxImportBytes bounds an imported document.
const MaxImportBytes = 10 << 20

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *tutor.Engine
	Board  *notify.Board

	// Revisions is set when the state store keeps history (SQLite).
	Revisions *sqlite.Store

	Logger *zap.Logger
}

// NewHandler creates a handler around engine. board may be nil.
func NewHandler(engine *tutor.Engine, board *notify.Board, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{Engine: engine, Board: board, Logger: logger}
}

// =============================================================================
// STUDENT HANDLERS
// =============================================================================

// ListStudents returns all students ordered by name.
func (h *Handler) ListStudents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Engine.State().Students)
}

// GetStudent returns one student with its card figures.
func (h *Handler) GetStudent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	student, ok := h.Engine.State().Student(id)
	if !ok {
		writeError(w, http.StatusNotFound, "Student not found", nil)
		return
	}
	summary, _ := h.Engine.StudentSummary(id)
	writeJSON(w, http.StatusOK, StudentDTO{Student: student, Summary: summary})
}

// CreateStudent creates a student with initial packages.
func (h *Handler) CreateStudent(w http.ResponseWriter, r *http.Request) {
	var req CreateStudentRequest
	if !decode(w, r, &req) {
		return
	}

	student, err := h.Engine.AddStudent(r.Context(), req.input())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, student)
}

// UpdateStudent edits a student.
func (h *Handler) UpdateStudent(w http.ResponseWriter, r *http.Request) {
	var req tutor.StudentUpdate
	if !decode(w, r, &req) {
		return
	}

	student, err := h.Engine.UpdateStudent(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if student == nil {
		writeError(w, http.StatusNotFound, "Student not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, student)
}

// DeleteStudent deletes a student and all of its lessons.
func (h *Handler) DeleteStudent(w http.ResponseWriter, r *http.Request) {
	if !h.Engine.DeleteStudent(r.Context(), chi.URLParam(r, "id")) {
		writeError(w, http.StatusNotFound, "Student not found", nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// PACKAGE HANDLERS
// =============================================================================

func (h *Handler) CreatePackage(w http.ResponseWriter, r *http.Request) {
	var req PackageRequest
	if !decode(w, r, &req) {
		return
	}

	pkg, err := h.Engine.AddPackage(r.Context(), chi.URLParam(r, "id"), req.input())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if pkg == nil {
		writeError(w, http.StatusNotFound, "Student not found", nil)
		return
	}
	writeJSON(w, http.StatusCreated, pkg)
}

func (h *Handler) UpdatePackage(w http.ResponseWriter, r *http.Request) {
	var req tutor.PackagePatch
	if !decode(w, r, &req) {
		return
	}

	pkg, err := h.Engine.UpdatePackage(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "pid"), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if pkg == nil {
		writeError(w, http.StatusNotFound, "Package not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, pkg)
}

func (h *Handler) DeletePackage(w http.ResponseWriter, r *http.Request) {
	if !h.Engine.DeletePackage(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "pid")) {
		writeError(w, http.StatusNotFound, "Package not found", nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ConsumeSlot takes one lesson from a package. An empty package is returned
// unchanged.
func (h *Handler) ConsumeSlot(w http.ResponseWriter, r *http.Request) {
	pkg := h.Engine.ConsumeLessonSlot(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "pid"))
	if pkg == nil {
		writeError(w, http.StatusNotFound, "Package not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, pkg)
}

// RestoreSlot gives one lesson back to a package.
func (h *Handler) RestoreSlot(w http.ResponseWriter, r *http.Request) {
	pkg := h.Engine.RestoreLessonSlot(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "pid"))
	if pkg == nil {
		writeError(w, http.StatusNotFound, "Package not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, pkg)
}

// =============================================================================
// LESSON HANDLERS
// =============================================================================

// ListLessons returns lessons in start order, optionally filtered by
// student and by a start-time window.
func (h *Handler) ListLessons(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	studentID := q.Get("studentId")

	from, err := parseOptionalTime(q.Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid from (use RFC 3339)", err)
		return
	}
	to, err := parseOptionalTime(q.Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid to (use RFC 3339)", err)
		return
	}

	lessons := []ledger.Lesson{}
	for _, l := range h.Engine.State().Lessons {
		if studentID != "" && l.StudentID != studentID {
			continue
		}
		if !from.IsZero() && l.Start.Before(from) {
			continue
		}
		if !to.IsZero() && l.Start.After(to) {
			continue
		}
		lessons = append(lessons, l)
	}
	writeJSON(w, http.StatusOK, lessons)
}

func (h *Handler) GetLesson(w http.ResponseWriter, r *http.Request) {
	lesson, ok := h.Engine.State().Lesson(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "Lesson not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, lesson)
}

// CreateLesson books a lesson and, when asked, bills it to its package.
func (h *Handler) CreateLesson(w http.ResponseWriter, r *http.Request) {
	var req CreateLessonRequest
	if !decode(w, r, &req) {
		return
	}

	lesson, err := h.Engine.AddLesson(r.Context(), req.input())
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := CreateLessonResponse{Lesson: *lesson}
	if req.ConsumeSlot && lesson.PackageID != "" {
		resp.Package = h.Engine.ConsumeLessonSlot(r.Context(), lesson.StudentID, lesson.PackageID)
	}
	writeJSON(w, http.StatusCreated, resp)
}

// UpdateLesson edits a lesson; package and refund changes move slots.
func (h *Handler) UpdateLesson(w http.ResponseWriter, r *http.Request) {
	var req ledger.LessonPatch
	if !decode(w, r, &req) {
		return
	}
	req.UpdatedAt = nil

	lesson, err := h.Engine.UpdateLesson(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if lesson == nil {
		writeError(w, http.StatusNotFound, "Lesson not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, lesson)
}

func (h *Handler) DeleteLesson(w http.ResponseWriter, r *http.Request) {
	if !h.Engine.DeleteLesson(r.Context(), chi.URLParam(r, "id")) {
		writeError(w, http.StatusNotFound, "Lesson not found", nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// SETTINGS HANDLERS
// =============================================================================

func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Engine.State().Settings)
}

func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req ledger.SettingsPatch
	if !decode(w, r, &req) {
		return
	}

	settings, err := h.Engine.UpdateSettings(r.Context(), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (h *Handler) UpdateLessonPrice(w http.ResponseWriter, r *http.Request) {
	var req LessonPriceRequest
	if !decode(w, r, &req) {
		return
	}

	if err := h.Engine.UpdateDefaultLessonPrice(r.Context(), req.Price); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.Engine.State().Settings)
}

// =============================================================================
// STATE HANDLERS
// =============================================================================

// ExportState returns the full document for backup.
func (h *Handler) ExportState(w http.ResponseWriter, r *http.Request) {
	doc, err := h.Engine.Export()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to export state", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="tutor-ledger.json"`)
	w.WriteHeader(http.StatusOK)
	w.Write(doc)
}

// ImportState replaces the state with a migrated copy of the body. The body
// must be a JSON object; fields inside it are repaired by migration.
func (h *Handler) ImportState(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxImportBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "Document too large", err)
			return
		}
		writeError(w, http.StatusBadRequest, "Failed to read body", err)
		return
	}
	if !isJSONObject(body) {
		writeError(w, http.StatusBadRequest, "Document is not a JSON object", nil)
		return
	}
	state := h.Engine.SetStateFromImport(r.Context(), body)
	writeJSON(w, http.StatusOK, state)
}

// ListRevisions lists previously saved documents, newest first.
func (h *Handler) ListRevisions(w http.ResponseWriter, r *http.Request) {
	if h.Revisions == nil {
		writeJSON(w, http.StatusOK, []RevisionDTO{})
		return
	}
	revs, err := h.Revisions.Revisions(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list revisions", err)
		return
	}
	dtos := make([]RevisionDTO, len(revs))
	for i, rev := range revs {
		dtos[i] = RevisionDTO{ID: rev.ID, SavedAt: rev.SavedAt}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// RestoreRevision imports a previously saved document.
func (h *Handler) RestoreRevision(w http.ResponseWriter, r *http.Request) {
	if h.Revisions == nil {
		writeError(w, http.StatusNotFound, "Revisions not available", nil)
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "rid"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid revision id", err)
		return
	}
	doc, err := h.Revisions.Revision(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load revision", err)
		return
	}
	if doc == nil {
		writeError(w, http.StatusNotFound, "Revision not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, h.Engine.SetStateFromImport(r.Context(), doc))
}

// =============================================================================
// SUMMARY / NOTIFICATION HANDLERS
// =============================================================================

// GetSummary returns dashboard figures for the current month or year.
func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	now := h.Engine.Now()

	var period ledger.Range
	switch q.Get("period") {
	case "", "month":
		period = ledger.MonthRange(now)
	case "year":
		period = ledger.YearRange(now)
	default:
		writeError(w, http.StatusBadRequest, "Invalid period (use month or year)", nil)
		return
	}

	metric := ledger.Metric(q.Get("metric"))
	switch metric {
	case "":
		metric = ledger.MetricEarnings
	case ledger.MetricEarnings, ledger.MetricLessons:
	default:
		writeError(w, http.StatusBadRequest, "Invalid metric (use earnings or lessons)", nil)
		return
	}

	writeJSON(w, http.StatusOK, h.Engine.Summary(period, metric))
}

// ListNotifications returns notifications that have not auto-dismissed yet.
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	if h.Board == nil {
		writeJSON(w, http.StatusOK, []ledger.Notification{})
		return
	}
	writeJSON(w, http.StatusOK, h.Board.Active(time.Now()))
}

func (h *Handler) DismissNotification(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "nid"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid notification id", err)
		return
	}
	if h.Board == nil || !h.Board.Dismiss(id) {
		writeError(w, http.StatusNotFound, "Notification not found", nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Health reports liveness and a few counters.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	s := h.Engine.State()
	writeJSON(w, http.StatusOK, HealthDTO{
		Status:        "ok",
		SchemaVersion: s.Version,
		Students:      len(s.Students),
		Lessons:       len(s.Lessons),
	})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func isJSONObject(body []byte) bool {
	trimmed := bytes.TrimSpace(body)
	return len(trimmed) > 0 && trimmed[0] == '{' && json.Valid(trimmed)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps action layer errors to HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	var verr *ledger.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: verr.Message, Code: "validation", Details: verr.Field})
	case errors.Is(err, ledger.ErrPackageNotFound):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "package_not_found"})
	case ledger.IsConflict(err):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: err.Error(), Code: "no_lessons_left"})
	default:
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

func parseOptionalTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}

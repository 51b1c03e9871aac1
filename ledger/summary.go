package ledger

import (
	"sort"
	"time"
)

// =============================================================================
// PERIODS
// =============================================================================

// Range is a closed time interval [From, To].
type Range struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

func (r Range) Contains(t time.Time) bool {
	return !t.Before(r.From) && !t.After(r.To)
}

// MonthRange covers the calendar month containing now, in now's location.
func MonthRange(now time.Time) Range {
	from := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	return Range{From: from, To: from.AddDate(0, 1, 0).Add(-time.Nanosecond)}
}

// YearRange covers the calendar year containing now, in now's location.
func YearRange(now time.Time) Range {
	from := time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, now.Location())
	return Range{From: from, To: from.AddDate(1, 0, 0).Add(-time.Nanosecond)}
}

// Metric orders per-student statistics.
type Metric string

const (
	MetricEarnings Metric = "earnings"
	MetricLessons  Metric = "lessons"
)

// =============================================================================
// DASHBOARD SUMMARY
// =============================================================================

type Summary struct {
	Period          Range          `json:"period"`
	TotalStudents   int            `json:"totalStudents"`
	Earnings        Money          `json:"earnings"`
	LessonsCount    int            `json:"lessonsCount"`
	UpcomingLessons int            `json:"upcomingLessons"`
	AveragePrice    *Money         `json:"averagePrice"`
	RemainingValue  Money          `json:"remainingValue"`
	Students        []StudentStats `json:"students"`
}

type StudentStats struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Contact      string `json:"contact"`
	Earnings     Money  `json:"earnings"`
	LessonsCount int    `json:"lessonsCount"`
}

// Summarize computes earnings and lesson figures for completed lessons that
// start inside period. Upcoming lessons are scheduled lessons starting at or
// after now. Students with no completed lessons in the period are omitted
// from Students, which is ordered by metric, highest first.
func Summarize(s State, period Range, metric Metric, now time.Time) Summary {
	sum := Summary{
		Period:        period,
		TotalStudents: len(s.Students),
		Students:      []StudentStats{},
	}

	perStudent := make(map[string]*StudentStats)
	for _, l := range s.Lessons {
		if l.Status == StatusScheduled && !l.Start.Before(now) {
			sum.UpcomingLessons++
		}
		if l.Status != StatusCompleted || !period.Contains(l.Start) {
			continue
		}
		sum.Earnings = sum.Earnings.Add(l.Price)
		sum.LessonsCount++

		st, ok := perStudent[l.StudentID]
		if !ok {
			st = &StudentStats{ID: l.StudentID}
			perStudent[l.StudentID] = st
		}
		st.Earnings = st.Earnings.Add(l.Price)
		st.LessonsCount++
	}

	if sum.LessonsCount > 0 {
		avg := sum.Earnings.DivInt(sum.LessonsCount)
		sum.AveragePrice = &avg
	}

	for _, student := range s.Students {
		sum.RemainingValue = sum.RemainingValue.Add(student.RemainingValue())
		st, ok := perStudent[student.ID]
		if !ok {
			continue
		}
		st.Name = student.Name
		st.Contact = student.Contact
		sum.Students = append(sum.Students, *st)
	}

	sort.SliceStable(sum.Students, func(i, j int) bool {
		a, b := sum.Students[i], sum.Students[j]
		if metric == MetricLessons {
			return a.LessonsCount > b.LessonsCount
		}
		return a.Earnings.GreaterThan(b.Earnings)
	})
	return sum
}

// =============================================================================
// STUDENT CARD
// =============================================================================

type StudentSummary struct {
	StudentID        string     `json:"studentId"`
	CompletedLessons int        `json:"completedLessons"`
	Earned           Money      `json:"earned"`
	UpcomingLessons  int        `json:"upcomingLessons"`
	NextLesson       *time.Time `json:"nextLesson,omitempty"`
	LastLesson       *time.Time `json:"lastLesson,omitempty"`
	RemainingLessons int        `json:"remainingLessons"`
	RemainingValue   Money      `json:"remainingValue"`
}

// SummarizeStudent returns the figures for one student. The boolean is
// false when the student does not exist.
func SummarizeStudent(s State, studentID string, now time.Time) (StudentSummary, bool) {
	student, ok := s.Student(studentID)
	if !ok {
		return StudentSummary{}, false
	}

	out := StudentSummary{
		StudentID:        student.ID,
		RemainingLessons: student.RemainingLessons(),
		RemainingValue:   student.RemainingValue(),
	}
	for _, l := range s.LessonsOf(studentID) {
		start := l.Start
		switch {
		case l.Status == StatusCompleted:
			out.CompletedLessons++
			out.Earned = out.Earned.Add(l.Price)
			if out.LastLesson == nil || start.After(*out.LastLesson) {
				out.LastLesson = &start
			}
		case !start.Before(now):
			out.UpcomingLessons++
			if out.NextLesson == nil || start.Before(*out.NextLesson) {
				out.NextLesson = &start
			}
		}
	}
	return out, true
}

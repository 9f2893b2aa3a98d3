package schedule

import "time"

// IntervalRule is a break inside a period: class-free minutes inserted
// into the class sequence.
type IntervalRule struct {
	StartMinute int
	Minutes     int
}

// PeriodRule describes one named block of the day (morning, afternoon,
// evening). Intervals must be sorted ascending by StartMinute and must
// not overlap; the rule author is responsible for a sane configuration.
type PeriodRule struct {
	ID               string
	FirstClassMinute int
	ClassMinutes     int
	ClassCount       int
	Intervals        []IntervalRule
}

// DefaultPeriodOrder is the fixed set of period ids the institution
// schedules against. A period without a configured rule still shows up
// in the day schedule with an empty slot list.
var DefaultPeriodOrder = []string{"morning", "afternoon", "evening"}

type NonTeachingKind string

const (
	NonTeachingDate    NonTeachingKind = "date"
	NonTeachingWeekday NonTeachingKind = "weekday"
)

// NonTeachingDayRule excludes a whole day from booking. The date variant
// matches one calendar date (every year when Annual); the weekday variant
// matches a day of the week.
type NonTeachingDayRule struct {
	Kind    NonTeachingKind
	Date    string // YYYY-MM-DD, date kind only
	Annual  bool
	Weekday time.Weekday // weekday kind only
	Reason  string
}

func (r NonTeachingDayRule) Matches(day Day) bool {
	switch r.Kind {
	case NonTeachingDate:
		if r.Annual {
			return len(r.Date) == len("2006-01-02") && r.Date[5:] == day.Date()[5:]
		}
		return r.Date == day.Date()
	case NonTeachingWeekday:
		return r.Weekday == day.Weekday()
	}
	return false
}

// FindNonTeaching returns the first rule matching the day; rule order is
// the configured order, first match wins.
func FindNonTeaching(rules []NonTeachingDayRule, day Day) (NonTeachingDayRule, bool) {
	for _, r := range rules {
		if r.Matches(day) {
			return r, true
		}
	}
	return NonTeachingDayRule{}, false
}

// AcademicPeriod is an administrator-defined term. Start is local
// midnight of the first day, End local midnight after the last day.
type AcademicPeriod struct {
	ID    string
	Name  string
	Start time.Time
	End   time.Time
}

func (p AcademicPeriod) Contains(day Day) bool {
	s := day.Start()
	return !s.Before(p.Start) && s.Before(p.End)
}

// WeeklyOccurrencesFrom counts the weekly occurrences that fit between
// the given day and the end of the term, the day itself included.
func (p AcademicPeriod) WeeklyOccurrencesFrom(day Day) int {
	n := 0
	for t := day.Start(); t.Before(p.End); t = t.AddDate(0, 0, 7) {
		n++
	}
	return n
}

// Ruleset is the immutable per-request snapshot of institutional time
// rules supplied by the system-rules collaborator.
type Ruleset struct {
	Location        *time.Location
	PeriodOrder     []string
	Periods         map[string]PeriodRule
	NonTeaching     []NonTeachingDayRule
	AcademicPeriods []AcademicPeriod
}

func (rs Ruleset) AcademicPeriod(id string) (AcademicPeriod, bool) {
	for _, p := range rs.AcademicPeriods {
		if p.ID == id {
			return p, true
		}
	}
	return AcademicPeriod{}, false
}

package schedule

import (
	"errors"
	"time"
)

const DateLayout = "2006-01-02"

var ErrInvalidDateFormat = errors.New("invalid date format, want YYYY-MM-DD")

// Day anchors a calendar date in the institution's timezone. All instant
// arithmetic goes through time.Date so the UTC offset is resolved for the
// specific date, including DST transitions.
type Day struct {
	year  int
	month time.Month
	day   int
	loc   *time.Location
}

func NewDay(date string, loc *time.Location) (Day, error) {
	t, err := time.ParseInLocation(DateLayout, date, loc)
	if err != nil {
		return Day{}, ErrInvalidDateFormat
	}
	y, m, d := t.Date()
	return Day{year: y, month: m, day: d, loc: loc}, nil
}

// Start is local midnight of the date.
func (d Day) Start() time.Time {
	return time.Date(d.year, d.month, d.day, 0, 0, 0, 0, d.loc)
}

// End is local midnight of the following date. On a DST transition the
// day is 23 or 25 hours long; End reflects that.
func (d Day) End() time.Time {
	return time.Date(d.year, d.month, d.day+1, 0, 0, 0, 0, d.loc)
}

// At resolves a minutes-since-midnight offset to the absolute instant of
// that local wall-clock time.
func (d Day) At(minutes int) time.Time {
	return time.Date(d.year, d.month, d.day, 0, minutes, 0, 0, d.loc)
}

func (d Day) Date() string {
	return d.Start().Format(DateLayout)
}

func (d Day) Weekday() time.Weekday {
	return d.Start().Weekday()
}

// Contains reports whether the instant falls within [Start, End).
func (d Day) Contains(t time.Time) bool {
	return !t.Before(d.Start()) && t.Before(d.End())
}

func (d Day) Location() *time.Location {
	return d.loc
}

// AddWeeks shifts an instant by whole weeks preserving local wall-clock
// time, so weekly occurrences stay at the same hour across DST changes.
func AddWeeks(t time.Time, weeks int, loc *time.Location) time.Time {
	return t.In(loc).AddDate(0, 0, 7*weeks)
}

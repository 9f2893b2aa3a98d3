package schedule

import (
	"time"

	"github.com/campuslabs/labbooking/internal/model"
)

// Slot is one bookable class-length window, computed fresh on every
// schedule read and never persisted.
type Slot struct {
	PeriodID string
	Index    int // 1-based class index within the period
	Start    time.Time
	End      time.Time
	Past     bool
	Reserved *model.Reservation
}

// PeriodSlots expands a period rule into exactly ClassCount slots for the
// given day. A running cursor walks the period in minutes-since-midnight:
// intervals the cursor has reached are consumed, and a class that would
// extend into the next interval is shifted past it (at most one interval
// per class). Once intervals run out, remaining classes sit back-to-back.
func PeriodSlots(rule PeriodRule, day Day, now time.Time) []Slot {
	slots := make([]Slot, 0, rule.ClassCount)
	cur := rule.FirstClassMinute
	next := 0

	for i := 1; i <= rule.ClassCount; i++ {
		for next < len(rule.Intervals) && cur >= rule.Intervals[next].StartMinute {
			cur = max(cur, rule.Intervals[next].StartMinute) + rule.Intervals[next].Minutes
			next++
		}
		// Interval takes precedence over class placement: a class never
		// straddles a break. A class ending exactly at the interval start
		// is left in place.
		if next < len(rule.Intervals) && cur+rule.ClassMinutes > rule.Intervals[next].StartMinute {
			cur = max(cur, rule.Intervals[next].StartMinute) + rule.Intervals[next].Minutes
			next++
		}

		start := day.At(cur)
		end := day.At(cur + rule.ClassMinutes)
		slots = append(slots, Slot{
			PeriodID: rule.ID,
			Index:    i,
			Start:    start,
			End:      end,
			Past:     !end.After(now),
		})
		cur += rule.ClassMinutes
	}
	return slots
}

type PeriodSchedule struct {
	PeriodID string
	Slots    []Slot
}

// DaySchedule is the full computed schedule for one laboratory day.
// Slots are generated even on a non-teaching day so the day can still be
// displayed; booking against a flagged day is rejected downstream.
type DaySchedule struct {
	Date              string
	NonTeaching       bool
	NonTeachingReason string
	Periods           []PeriodSchedule
}

// BuildDaySchedule assembles the day: non-teaching lookup first, then one
// slot sequence per configured period with occupancy marked against the
// supplied reservations. The reservations must be the day's non-cancelled
// rows for the laboratory, ordered by start.
func BuildDaySchedule(rs Ruleset, day Day, reservations []model.Reservation, now time.Time) DaySchedule {
	ds := DaySchedule{Date: day.Date()}
	if rule, ok := FindNonTeaching(rs.NonTeaching, day); ok {
		ds.NonTeaching = true
		ds.NonTeachingReason = rule.Reason
	}

	for _, id := range rs.PeriodOrder {
		ps := PeriodSchedule{PeriodID: id}
		if rule, ok := rs.Periods[id]; ok {
			ps.Slots = PeriodSlots(rule, day, now)
			for i := range ps.Slots {
				ps.Slots[i].Reserved = FirstConflict(reservations, ps.Slots[i].Start, ps.Slots[i].End)
			}
		}
		ds.Periods = append(ds.Periods, ps)
	}
	return ds
}

// SlotIndex maps slot start instants to slots across all periods of the
// day, keyed by Unix nanoseconds. The booking path uses it to resolve
// caller-supplied slot identifiers to full spans.
func SlotIndex(rs Ruleset, day Day, now time.Time) map[int64]Slot {
	index := make(map[int64]Slot)
	for _, id := range rs.PeriodOrder {
		rule, ok := rs.Periods[id]
		if !ok {
			continue
		}
		for _, s := range PeriodSlots(rule, day, now) {
			index[s.Start.UnixNano()] = s
		}
	}
	return index
}

package schedule

import (
	"testing"
	"time"

	"github.com/campuslabs/labbooking/internal/model"
)

func mustDay(t *testing.T, date string, loc *time.Location) Day {
	t.Helper()
	day, err := NewDay(date, loc)
	if err != nil {
		t.Fatalf("NewDay(%q) failed: %v", date, err)
	}
	return day
}

func minuteOfDay(t *testing.T, day Day, instant time.Time) int {
	t.Helper()
	return int(instant.Sub(day.Start()) / time.Minute)
}

func TestPeriodSlotsBackToBackWithoutIntervals(t *testing.T) {
	day := mustDay(t, "2026-08-31", time.UTC)
	rule := PeriodRule{ID: "morning", FirstClassMinute: 7 * 60, ClassMinutes: 50, ClassCount: 4}

	slots := PeriodSlots(rule, day, day.Start())
	if len(slots) != 4 {
		t.Fatalf("expected 4 slots, got %d", len(slots))
	}
	for i, s := range slots {
		wantStart := 7*60 + i*50
		if got := minuteOfDay(t, day, s.Start); got != wantStart {
			t.Fatalf("slot %d start: got minute %d, want %d", i+1, got, wantStart)
		}
		if s.End.Sub(s.Start) != 50*time.Minute {
			t.Fatalf("slot %d duration: got %s", i+1, s.End.Sub(s.Start))
		}
		if s.Index != i+1 {
			t.Fatalf("slot %d index: got %d", i+1, s.Index)
		}
	}
}

func TestPeriodSlotsClassEndingAtIntervalStartIsNotShifted(t *testing.T) {
	day := mustDay(t, "2026-08-31", time.UTC)
	// Classes 07:00-07:50, 07:50-08:40, 08:40-09:30, 09:30-10:20; the
	// interval begins 10:20 exactly when class 4 ends, so class 4 stays
	// put and class 5 starts after the break at 10:40.
	rule := PeriodRule{
		ID:               "morning",
		FirstClassMinute: 7 * 60,
		ClassMinutes:     50,
		ClassCount:       6,
		Intervals:        []IntervalRule{{StartMinute: 10*60 + 20, Minutes: 20}},
	}

	slots := PeriodSlots(rule, day, day.Start())
	if len(slots) != 6 {
		t.Fatalf("expected 6 slots, got %d", len(slots))
	}
	if got := minuteOfDay(t, day, slots[3].End); got != 10*60+20 {
		t.Fatalf("slot 4 end: got minute %d, want 620", got)
	}
	if got := minuteOfDay(t, day, slots[4].Start); got != 10*60+40 {
		t.Fatalf("slot 5 start: got minute %d, want 640 (after the interval)", got)
	}
	if got := minuteOfDay(t, day, slots[5].Start); got != 11*60+30 {
		t.Fatalf("slot 6 start: got minute %d, want 690", got)
	}
}

func TestPeriodSlotsClassCrossingIntervalIsShiftedPastIt(t *testing.T) {
	day := mustDay(t, "2026-08-31", time.UTC)
	// Class 2 would span 07:50-08:40 but the break starts 08:00; the
	// class moves to 08:15, after the break.
	rule := PeriodRule{
		ID:               "morning",
		FirstClassMinute: 7 * 60,
		ClassMinutes:     50,
		ClassCount:       3,
		Intervals:        []IntervalRule{{StartMinute: 8 * 60, Minutes: 15}},
	}

	slots := PeriodSlots(rule, day, day.Start())
	if got := minuteOfDay(t, day, slots[0].Start); got != 7*60 {
		t.Fatalf("slot 1 start: got minute %d", got)
	}
	if got := minuteOfDay(t, day, slots[1].Start); got != 8*60+15 {
		t.Fatalf("slot 2 start: got minute %d, want 495", got)
	}
	if got := minuteOfDay(t, day, slots[2].Start); got != 9*60+5 {
		t.Fatalf("slot 3 start: got minute %d, want 545", got)
	}
}

func TestPeriodSlotsNeverOverlapIntervalsOrEachOther(t *testing.T) {
	day := mustDay(t, "2026-08-31", time.UTC)
	rule := PeriodRule{
		ID:               "afternoon",
		FirstClassMinute: 13 * 60,
		ClassMinutes:     45,
		ClassCount:       8,
		Intervals: []IntervalRule{
			{StartMinute: 14 * 60, Minutes: 10},
			{StartMinute: 16 * 60, Minutes: 30},
		},
	}

	slots := PeriodSlots(rule, day, day.Start())
	if len(slots) != rule.ClassCount {
		t.Fatalf("expected %d slots, got %d", rule.ClassCount, len(slots))
	}
	for i := 1; i < len(slots); i++ {
		if slots[i].Start.Before(slots[i-1].End) {
			t.Fatalf("slot %d overlaps slot %d", i+1, i)
		}
	}
	for _, s := range slots {
		start := minuteOfDay(t, day, s.Start)
		end := minuteOfDay(t, day, s.End)
		for _, iv := range rule.Intervals {
			if start < iv.StartMinute+iv.Minutes && iv.StartMinute < end {
				t.Fatalf("slot [%d,%d) overlaps interval at %d", start, end, iv.StartMinute)
			}
		}
	}
}

func TestPeriodSlotsPastFlag(t *testing.T) {
	day := mustDay(t, "2026-08-31", time.UTC)
	rule := PeriodRule{ID: "morning", FirstClassMinute: 7 * 60, ClassMinutes: 60, ClassCount: 3}

	// Now is 09:00: slots ending 08:00 and 09:00 are past, the 10:00 one is not.
	now := day.At(9 * 60)
	slots := PeriodSlots(rule, day, now)
	if !slots[0].Past || !slots[1].Past {
		t.Fatal("slots ending at or before now must be past")
	}
	if slots[2].Past {
		t.Fatal("slot ending after now must not be past")
	}
}

func TestFindNonTeachingVariants(t *testing.T) {
	loc := time.UTC
	rules := []NonTeachingDayRule{
		{Kind: NonTeachingWeekday, Weekday: time.Sunday, Reason: "weekend"},
		{Kind: NonTeachingDate, Date: "2026-09-07", Annual: true, Reason: "independence day"},
		{Kind: NonTeachingDate, Date: "2026-10-12", Reason: "maintenance"},
	}

	sunday := mustDay(t, "2026-09-06", loc)
	if rule, ok := FindNonTeaching(rules, sunday); !ok || rule.Reason != "weekend" {
		t.Fatalf("sunday: got %+v ok=%v", rule, ok)
	}

	// Annual rule matches the same month+day in another year.
	holiday := mustDay(t, "2027-09-07", loc)
	if rule, ok := FindNonTeaching(rules, holiday); !ok || rule.Reason != "independence day" {
		t.Fatalf("annual holiday: got %+v ok=%v", rule, ok)
	}

	// Exact-date rule does not carry over to other years.
	if _, ok := FindNonTeaching(rules, mustDay(t, "2027-10-12", loc)); ok {
		t.Fatal("non-annual date rule must not match another year")
	}

	if _, ok := FindNonTeaching(rules, mustDay(t, "2026-09-08", loc)); ok {
		t.Fatal("ordinary teaching day matched a rule")
	}

	// First match wins: a date rule on a Sunday still reports the
	// weekday rule listed first.
	first := append([]NonTeachingDayRule{{Kind: NonTeachingWeekday, Weekday: time.Monday, Reason: "first"}},
		NonTeachingDayRule{Kind: NonTeachingDate, Date: "2026-09-07", Reason: "second"})
	monday := mustDay(t, "2026-09-07", loc)
	if rule, _ := FindNonTeaching(first, monday); rule.Reason != "first" {
		t.Fatalf("first match should win, got %q", rule.Reason)
	}
}

func TestBuildDaySchedule(t *testing.T) {
	day := mustDay(t, "2026-08-31", time.UTC)
	rs := Ruleset{
		Location:    time.UTC,
		PeriodOrder: []string{"morning", "afternoon", "evening"},
		Periods: map[string]PeriodRule{
			"morning": {ID: "morning", FirstClassMinute: 7 * 60, ClassMinutes: 50, ClassCount: 2},
		},
	}
	reserved := model.Reservation{
		ID:     "res-1",
		LabID:  "lab-1",
		Start:  day.At(7 * 60),
		End:    day.At(7*60 + 50),
		Status: model.StatusConfirmed,
	}

	ds := BuildDaySchedule(rs, day, []model.Reservation{reserved}, day.Start())
	if ds.NonTeaching {
		t.Fatal("unexpected non-teaching flag")
	}
	if len(ds.Periods) != 3 {
		t.Fatalf("expected 3 period entries, got %d", len(ds.Periods))
	}
	morning := ds.Periods[0]
	if morning.Slots[0].Reserved == nil || morning.Slots[0].Reserved.ID != "res-1" {
		t.Fatal("first slot should be marked reserved")
	}
	if morning.Slots[1].Reserved != nil {
		t.Fatal("second slot should be free")
	}
	// Unconfigured periods still appear, with no slots.
	if ds.Periods[1].PeriodID != "afternoon" || len(ds.Periods[1].Slots) != 0 {
		t.Fatalf("afternoon should be empty, got %+v", ds.Periods[1])
	}
}

func TestBuildDayScheduleFlagsNonTeachingButKeepsSlots(t *testing.T) {
	day := mustDay(t, "2026-09-06", time.UTC) // a Sunday
	rs := Ruleset{
		Location:    time.UTC,
		PeriodOrder: []string{"morning"},
		Periods: map[string]PeriodRule{
			"morning": {ID: "morning", FirstClassMinute: 8 * 60, ClassMinutes: 50, ClassCount: 2},
		},
		NonTeaching: []NonTeachingDayRule{{Kind: NonTeachingWeekday, Weekday: time.Sunday, Reason: "weekend"}},
	}

	ds := BuildDaySchedule(rs, day, nil, day.Start())
	if !ds.NonTeaching || ds.NonTeachingReason != "weekend" {
		t.Fatalf("expected non-teaching day, got %+v", ds)
	}
	if len(ds.Periods[0].Slots) != 2 {
		t.Fatal("slots are still generated for display on non-teaching days")
	}
}

func TestSlotIndexCoversAllPeriods(t *testing.T) {
	day := mustDay(t, "2026-08-31", time.UTC)
	rs := Ruleset{
		Location:    time.UTC,
		PeriodOrder: []string{"morning", "evening"},
		Periods: map[string]PeriodRule{
			"morning": {ID: "morning", FirstClassMinute: 7 * 60, ClassMinutes: 50, ClassCount: 2},
			"evening": {ID: "evening", FirstClassMinute: 19 * 60, ClassMinutes: 45, ClassCount: 3},
		},
	}

	index := SlotIndex(rs, day, day.Start())
	if len(index) != 5 {
		t.Fatalf("expected 5 indexed slots, got %d", len(index))
	}
	if s, ok := index[day.At(19*60).UnixNano()]; !ok || s.PeriodID != "evening" || s.Index != 1 {
		t.Fatalf("evening first slot lookup failed: %+v ok=%v", s, ok)
	}
}

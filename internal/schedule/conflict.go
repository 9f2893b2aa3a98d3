package schedule

import (
	"time"

	"github.com/campuslabs/labbooking/internal/model"
)

// FirstConflict returns the first reservation whose [Start, End) overlaps
// the half-open window [start, end), or nil. Cancelled reservations never
// conflict. Callers pass reservations ordered by start, so "first" is the
// earliest overlapping one.
func FirstConflict(reservations []model.Reservation, start, end time.Time) *model.Reservation {
	for i := range reservations {
		r := reservations[i]
		if !r.Active() {
			continue
		}
		// Half-open intervals: [start,end) overlaps [r.Start,r.End) iff start < r.End && r.Start < end.
		if start.Before(r.End) && r.Start.Before(end) {
			return &r
		}
	}
	return nil
}

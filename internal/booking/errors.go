package booking

import (
	"errors"
	"fmt"
	"time"
)

// Validation failures are all detected before a transaction is opened.
// SlotConflictError is the exception: it can only be known inside the
// transaction's authoritative conflict re-check.
var (
	ErrInvalidSlot               = errors.New("invalid slot identifier")
	ErrCrossDayBooking           = errors.New("slot not on the requested date")
	ErrDuplicateSlot             = errors.New("duplicate slot identifier")
	ErrForbidden                 = errors.New("forbidden")
	ErrOwnerNotFound             = errors.New("owner is not an active account")
	ErrDateOutsideAcademicPeriod = errors.New("date outside academic period")
	ErrNonTeachingDay            = errors.New("non-teaching day")
	ErrReservationNotFound       = errors.New("reservation not found")
)

// SlotConflictError reports the first occurrence of a booking request
// that overlapped an existing reservation. Date carries enough detail
// for the caller to retry with a different selection.
type SlotConflictError struct {
	Date       string // YYYY-MM-DD of the conflicting occurrence, institution-local
	Start      time.Time
	ExistingID string
}

func (e *SlotConflictError) Error() string {
	if e.ExistingID == "" {
		return fmt.Sprintf("slot on %s already reserved", e.Date)
	}
	return fmt.Sprintf("slot on %s already reserved by reservation %s", e.Date, e.ExistingID)
}

// IsSlotConflict reports whether err is a slot conflict and returns it.
func IsSlotConflict(err error) (*SlotConflictError, bool) {
	var conflict *SlotConflictError
	if errors.As(err, &conflict) {
		return conflict, true
	}
	return nil, false
}

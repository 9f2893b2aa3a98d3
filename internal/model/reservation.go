package model

import (
	"time"

	"github.com/google/uuid"
)

type ReservationStatus string

const (
	StatusPending   ReservationStatus = "pending"
	StatusConfirmed ReservationStatus = "confirmed"
	StatusCancelled ReservationStatus = "cancelled"
)

// Reservation is a persisted booking of one slot in one laboratory.
// Rows are only ever created (status confirmed) or cancelled (status
// transition plus cancellation fields); they are never deleted.
type Reservation struct {
	ID           string
	LabID        string
	OwnerID      string
	CreatedBy    string
	Start        time.Time
	End          time.Time
	Status       ReservationStatus
	GroupID      *uuid.UUID
	Subject      string
	CancelReason string
	CancelledAt  *time.Time
	CreatedAt    time.Time
}

// Active reports whether the reservation still blocks its time window.
func (r Reservation) Active() bool {
	return r.Status != StatusCancelled
}

const FrequencyWeekly = "weekly"

// RecurrenceGroup ties together the reservations created by one weekly
// series request. It is immutable after creation; reservations keep a
// back-reference for series cancellation.
type RecurrenceGroup struct {
	ID            uuid.UUID
	LabID         string
	CreatedBy     string
	Frequency     string
	IntervalWeeks int
	Weekday       time.Weekday
	SeriesStart   time.Time
	SeriesEnd     time.Time
	CreatedAt     time.Time
}

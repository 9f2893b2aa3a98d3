package booking

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/campuslabs/labbooking/internal/model"
	"github.com/campuslabs/labbooking/internal/outbox"
	"github.com/campuslabs/labbooking/internal/schedule"
)

// Actor is the caller as resolved by the identity collaborator: an
// account id plus the coarse role tier used for authorization.
type Actor struct {
	ID      string
	Manager bool
}

// Tx is the transactional view of the persistence collaborator. Every
// method runs inside the unit of work opened by Repository.InTx.
type Tx interface {
	// ReservationsInWindow returns the laboratory's non-cancelled
	// reservations overlapping [start, end), ordered by start. With lock
	// set the rows are read FOR UPDATE so two concurrent bookings of the
	// same window serialize on the conflict check.
	ReservationsInWindow(ctx context.Context, labID string, start, end time.Time, lock bool) ([]model.Reservation, error)
	CreateRecurrenceGroup(ctx context.Context, group *model.RecurrenceGroup) error
	CreateReservation(ctx context.Context, res *model.Reservation) error
	// ReservationForUpdate loads and row-locks one reservation; returns
	// ErrReservationNotFound for an unknown id.
	ReservationForUpdate(ctx context.Context, id string) (model.Reservation, error)
	CancelReservation(ctx context.Context, id, reason string, at time.Time) error
	// CancelSeriesFrom cancels every non-cancelled reservation of the
	// group whose start is >= from, returning the number of rows updated.
	CancelSeriesFrom(ctx context.Context, groupID uuid.UUID, from time.Time, reason string, at time.Time) (int64, error)
	InsertEvent(ctx context.Context, evt outbox.Event) error
}

type Repository interface {
	// InTx runs fn inside one transaction, committing when fn returns nil
	// and rolling back otherwise. Nothing fn wrote is visible on error.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	// ReservationsInWindow is the non-transactional read used for
	// advisory occupancy display.
	ReservationsInWindow(ctx context.Context, labID string, start, end time.Time) ([]model.Reservation, error)
	// IsConflict reports whether err is the store's unique/exclusion
	// constraint violation raised by a commit race.
	IsConflict(err error) bool
}

// RulesProvider supplies the institutional time rules as an immutable
// snapshot per request.
type RulesProvider interface {
	Ruleset(ctx context.Context) (schedule.Ruleset, error)
}

// Directory answers whether an account exists and is active; used only
// for the delegated-owner check.
type Directory interface {
	ActiveAccount(ctx context.Context, id string) (bool, error)
}

type Service struct {
	repo      Repository
	rules     RulesProvider
	directory Directory
	logger    *slog.Logger
	now       func() time.Time
}

func NewService(repo Repository, rules RulesProvider, directory Directory, logger *slog.Logger, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{repo: repo, rules: rules, directory: directory, logger: logger, now: now}
}

// DaySchedule computes the laboratory's schedule for one date with
// advisory occupancy. The authoritative conflict check happens again
// inside Book's transaction.
func (s *Service) DaySchedule(ctx context.Context, labID, date string) (schedule.DaySchedule, error) {
	rs, err := s.rules.Ruleset(ctx)
	if err != nil {
		return schedule.DaySchedule{}, fmt.Errorf("load ruleset: %w", err)
	}
	day, err := schedule.NewDay(date, rs.Location)
	if err != nil {
		return schedule.DaySchedule{}, err
	}
	reservations, err := s.repo.ReservationsInWindow(ctx, labID, day.Start(), day.End())
	if err != nil {
		return schedule.DaySchedule{}, fmt.Errorf("load reservations: %w", err)
	}
	return schedule.BuildDaySchedule(rs, day, reservations, s.now()), nil
}

type BookRequest struct {
	LabID            string
	Date             string   // YYYY-MM-DD, institution-local
	SlotIDs          []string // RFC 3339 start instants of generated slots
	Occurrences      int      // 1 when not recurring; manager tier only above 1
	AcademicPeriodID string   // manager tier only; overrides Occurrences
	OwnerID          string   // delegated owner, manager tier only
	Subject          string
}

type BookResult struct {
	Reservations []model.Reservation
	GroupID      *uuid.UUID
}

// Book validates the request and commits all occurrences in a single
// transaction. Either every occurrence is persisted CONFIRMED or none
// is; a caller never observes a partially-booked series.
func (s *Service) Book(ctx context.Context, actor Actor, req BookRequest) (BookResult, error) {
	rs, err := s.rules.Ruleset(ctx)
	if err != nil {
		return BookResult{}, fmt.Errorf("load ruleset: %w", err)
	}

	day, err := schedule.NewDay(req.Date, rs.Location)
	if err != nil {
		return BookResult{}, err
	}

	slots, err := s.resolveSlots(rs, day, req.SlotIDs)
	if err != nil {
		return BookResult{}, err
	}

	owner := actor.ID
	if req.OwnerID != "" && req.OwnerID != actor.ID {
		if !actor.Manager {
			return BookResult{}, fmt.Errorf("delegated owner: %w", ErrForbidden)
		}
		active, err := s.directory.ActiveAccount(ctx, req.OwnerID)
		if err != nil {
			return BookResult{}, fmt.Errorf("look up owner: %w", err)
		}
		if !active {
			return BookResult{}, fmt.Errorf("owner %q: %w", req.OwnerID, ErrOwnerNotFound)
		}
		owner = req.OwnerID
	}

	occurrences := req.Occurrences
	if occurrences < 1 {
		occurrences = 1
	}
	// Recurring booking is a manager-tier capability. For the base tier
	// a higher count is clamped, not rejected.
	if !actor.Manager && occurrences > 1 {
		occurrences = 1
	}

	if req.AcademicPeriodID != "" {
		if !actor.Manager {
			return BookResult{}, fmt.Errorf("academic period booking: %w", ErrForbidden)
		}
		period, ok := rs.AcademicPeriod(req.AcademicPeriodID)
		if !ok || !period.Contains(day) {
			return BookResult{}, fmt.Errorf("date %s, academic period %q: %w", req.Date, req.AcademicPeriodID, ErrDateOutsideAcademicPeriod)
		}
		occurrences = period.WeeklyOccurrencesFrom(day)
	}

	if rule, ok := schedule.FindNonTeaching(rs.NonTeaching, day); ok {
		if rule.Reason != "" {
			return BookResult{}, fmt.Errorf("%s (%s): %w", req.Date, rule.Reason, ErrNonTeachingDay)
		}
		return BookResult{}, fmt.Errorf("%s: %w", req.Date, ErrNonTeachingDay)
	}

	result, err := s.bookAll(ctx, actor, req, rs, day, slots, owner, occurrences)
	if err != nil && s.repo.IsConflict(err) {
		// The store's overlap constraint caught a commit race our locked
		// read did not serialize. One retry re-runs the conflict check
		// against the winner's rows.
		s.logger.Warn("booking commit race, retrying once", "lab_id", req.LabID, "date", req.Date)
		result, err = s.bookAll(ctx, actor, req, rs, day, slots, owner, occurrences)
		if err != nil && s.repo.IsConflict(err) {
			err = &SlotConflictError{Date: req.Date, Start: slots[0].Start}
		}
	}
	if err != nil {
		return BookResult{}, err
	}

	s.logger.Info("reservations confirmed",
		"lab_id", req.LabID,
		"date", req.Date,
		"owner", owner,
		"actor", actor.ID,
		"slots", len(slots),
		"occurrences", occurrences,
	)
	return result, nil
}

// resolveSlots maps the caller's slot identifiers onto the day's
// generated slots, enforcing the identifier validation order.
func (s *Service) resolveSlots(rs schedule.Ruleset, day schedule.Day, slotIDs []string) ([]schedule.Slot, error) {
	if len(slotIDs) == 0 {
		return nil, fmt.Errorf("no slots requested: %w", ErrInvalidSlot)
	}

	starts := make([]time.Time, 0, len(slotIDs))
	for _, id := range slotIDs {
		t, err := time.Parse(time.RFC3339, id)
		if err != nil {
			return nil, fmt.Errorf("slot %q: %w", id, ErrInvalidSlot)
		}
		starts = append(starts, t)
	}
	for _, t := range starts {
		if !day.Contains(t) {
			return nil, fmt.Errorf("slot %s: %w", t.Format(time.RFC3339), ErrCrossDayBooking)
		}
	}
	seen := make(map[int64]struct{}, len(starts))
	for _, t := range starts {
		if _, dup := seen[t.UnixNano()]; dup {
			return nil, fmt.Errorf("slot %s: %w", t.Format(time.RFC3339), ErrDuplicateSlot)
		}
		seen[t.UnixNano()] = struct{}{}
	}

	index := schedule.SlotIndex(rs, day, s.now())
	slots := make([]schedule.Slot, 0, len(starts))
	for _, t := range starts {
		slot, ok := index[t.UnixNano()]
		if !ok {
			return nil, fmt.Errorf("slot %s matches no bookable slot: %w", t.Format(time.RFC3339), ErrInvalidSlot)
		}
		slots = append(slots, slot)
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i].Start.Before(slots[j].Start) })
	return slots, nil
}

func (s *Service) bookAll(ctx context.Context, actor Actor, req BookRequest, rs schedule.Ruleset, day schedule.Day, slots []schedule.Slot, owner string, occurrences int) (BookResult, error) {
	var result BookResult
	now := s.now()

	err := s.repo.InTx(ctx, func(ctx context.Context, tx Tx) error {
		result = BookResult{}

		var groupID *uuid.UUID
		if occurrences > 1 {
			group := model.RecurrenceGroup{
				ID:            uuid.New(),
				LabID:         req.LabID,
				CreatedBy:     actor.ID,
				Frequency:     model.FrequencyWeekly,
				IntervalWeeks: 1,
				Weekday:       day.Weekday(),
				SeriesStart:   slots[0].Start,
				SeriesEnd:     schedule.AddWeeks(slots[len(slots)-1].End, occurrences-1, rs.Location),
				CreatedAt:     now,
			}
			if err := tx.CreateRecurrenceGroup(ctx, &group); err != nil {
				return fmt.Errorf("create recurrence group: %w", err)
			}
			groupID = &group.ID
			result.GroupID = groupID
		}

		for i := 0; i < occurrences; i++ {
			for _, slot := range slots {
				start := schedule.AddWeeks(slot.Start, i, rs.Location)
				end := schedule.AddWeeks(slot.End, i, rs.Location)

				existing, err := tx.ReservationsInWindow(ctx, req.LabID, start, end, true)
				if err != nil {
					return fmt.Errorf("load reservations for conflict check: %w", err)
				}
				if conflict := schedule.FirstConflict(existing, start, end); conflict != nil {
					return &SlotConflictError{
						Date:       start.In(rs.Location).Format(schedule.DateLayout),
						Start:      start,
						ExistingID: conflict.ID,
					}
				}

				res := model.Reservation{
					ID:        uuid.NewString(),
					LabID:     req.LabID,
					OwnerID:   owner,
					CreatedBy: actor.ID,
					Start:     start,
					End:       end,
					Status:    model.StatusConfirmed,
					GroupID:   groupID,
					Subject:   req.Subject,
					CreatedAt: now,
				}
				if err := tx.CreateReservation(ctx, &res); err != nil {
					return fmt.Errorf("create reservation: %w", err)
				}
				result.Reservations = append(result.Reservations, res)
			}
		}

		first := result.Reservations[0]
		last := result.Reservations[len(result.Reservations)-1]
		payload, err := json.Marshal(map[string]any{
			"lab_id":      req.LabID,
			"owner_id":    owner,
			"actor_id":    actor.ID,
			"start_time":  first.Start.UTC().Format(time.RFC3339),
			"end_time":    last.End.UTC().Format(time.RFC3339),
			"occurrences": occurrences,
			"slots":       len(slots),
		})
		if err != nil {
			return fmt.Errorf("build confirmation payload: %w", err)
		}
		return tx.InsertEvent(ctx, outbox.Event{
			AggregateType: "reservation",
			AggregateID:   first.ID,
			EventType:     outbox.EventReservationConfirmed,
			Payload:       payload,
		})
	})
	if err != nil {
		return BookResult{}, err
	}
	return result, nil
}

type CancelRequest struct {
	ReservationID string
	Reason        string
	CancelSeries  bool
}

type CancelResult struct {
	CancelledAt      time.Time
	Cancelled        int64
	AlreadyCancelled bool
}

// Cancel voids one reservation or, with CancelSeries, every future
// occurrence of its recurrence group. Repeating a cancel is a successful
// no-op that leaves the original cancellation fields untouched.
func (s *Service) Cancel(ctx context.Context, actor Actor, req CancelRequest) (CancelResult, error) {
	var result CancelResult
	now := s.now()

	err := s.repo.InTx(ctx, func(ctx context.Context, tx Tx) error {
		res, err := tx.ReservationForUpdate(ctx, req.ReservationID)
		if err != nil {
			return err
		}
		if res.OwnerID != actor.ID && !actor.Manager {
			return fmt.Errorf("reservation %s: %w", res.ID, ErrForbidden)
		}

		if res.Status == model.StatusCancelled {
			result = CancelResult{AlreadyCancelled: true}
			if res.CancelledAt != nil {
				result.CancelledAt = *res.CancelledAt
			}
			return nil
		}

		if req.CancelSeries && res.GroupID != nil {
			n, err := tx.CancelSeriesFrom(ctx, *res.GroupID, res.Start, req.Reason, now)
			if err != nil {
				return fmt.Errorf("cancel series: %w", err)
			}
			result = CancelResult{CancelledAt: now, Cancelled: n}
		} else {
			if err := tx.CancelReservation(ctx, res.ID, req.Reason, now); err != nil {
				return fmt.Errorf("cancel reservation: %w", err)
			}
			result = CancelResult{CancelledAt: now, Cancelled: 1}
		}

		payload, err := json.Marshal(map[string]any{
			"lab_id":       res.LabID,
			"owner_id":     res.OwnerID,
			"actor_id":     actor.ID,
			"start_time":   res.Start.UTC().Format(time.RFC3339),
			"end_time":     res.End.UTC().Format(time.RFC3339),
			"series":       req.CancelSeries && res.GroupID != nil,
			"cancelled":    result.Cancelled,
			"cancelled_at": now.UTC().Format(time.RFC3339),
			"reason":       req.Reason,
		})
		if err != nil {
			return fmt.Errorf("build cancellation payload: %w", err)
		}
		return tx.InsertEvent(ctx, outbox.Event{
			AggregateType: "reservation",
			AggregateID:   res.ID,
			EventType:     outbox.EventReservationCancelled,
			Payload:       payload,
		})
	})
	if err != nil {
		return CancelResult{}, err
	}

	s.logger.Info("reservation cancelled",
		"reservation_id", req.ReservationID,
		"actor", actor.ID,
		"series", req.CancelSeries,
		"cancelled", result.Cancelled,
		"already_cancelled", result.AlreadyCancelled,
	)
	return result, nil
}

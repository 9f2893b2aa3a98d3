package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/campuslabs/labbooking/internal/booking"
	"github.com/campuslabs/labbooking/internal/db"
	"github.com/campuslabs/labbooking/internal/model"
	"github.com/campuslabs/labbooking/internal/outbox"
)

const reservationColumns = `
	id, lab_id, owner_id, created_by, start_time, end_time, status,
	group_id, COALESCE(subject, ''), COALESCE(cancellation_reason, ''), cancelled_at, created_at`

// ReservationRepository implements booking.Repository over Postgres.
// The per-lab overlap exclusion constraint on the reservations table is
// the backstop for commit races the FOR UPDATE window read cannot
// serialize (e.g. two inserts into an empty window).
type ReservationRepository struct {
	pool   *db.Pool
	outbox *outbox.Repository
}

func NewReservationRepository(pool *db.Pool, outboxRepo *outbox.Repository) *ReservationRepository {
	return &ReservationRepository{pool: pool, outbox: outboxRepo}
}

func (r *ReservationRepository) InTx(ctx context.Context, fn func(ctx context.Context, tx booking.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, &reservationTx{tx: tx, outbox: r.outbox}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (r *ReservationRepository) ReservationsInWindow(ctx context.Context, labID string, start, end time.Time) ([]model.Reservation, error) {
	rows, err := r.pool.Query(ctx, windowQuery(false), labID, start, end)
	if err != nil {
		return nil, fmt.Errorf("query reservations: %w", err)
	}
	defer rows.Close()
	return scanReservations(rows)
}

// IsConflict reports an exclusion (23P01) or unique (23505) constraint
// violation raised by a commit race on overlapping reservations.
func (r *ReservationRepository) IsConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && (pgErr.Code == "23P01" || pgErr.Code == "23505")
}

type reservationTx struct {
	tx     pgx.Tx
	outbox *outbox.Repository
}

func windowQuery(lock bool) string {
	q := `
		SELECT` + reservationColumns + `
		FROM reservations
		WHERE lab_id = $1
			AND status <> 'cancelled'
			AND start_time < $3
			AND end_time > $2
		ORDER BY start_time ASC`
	if lock {
		q += `
		FOR UPDATE`
	}
	return q
}

func (t *reservationTx) ReservationsInWindow(ctx context.Context, labID string, start, end time.Time, lock bool) ([]model.Reservation, error) {
	rows, err := t.tx.Query(ctx, windowQuery(lock), labID, start, end)
	if err != nil {
		return nil, fmt.Errorf("query reservations: %w", err)
	}
	defer rows.Close()
	return scanReservations(rows)
}

func (t *reservationTx) CreateRecurrenceGroup(ctx context.Context, group *model.RecurrenceGroup) error {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO recurrence_groups
			(id, lab_id, created_by, frequency, interval_weeks, weekday, series_start, series_end)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`, group.ID, group.LabID, group.CreatedBy, group.Frequency, group.IntervalWeeks,
		int(group.Weekday), group.SeriesStart, group.SeriesEnd).Scan(&group.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert recurrence group: %w", err)
	}
	return nil
}

func (t *reservationTx) CreateReservation(ctx context.Context, res *model.Reservation) error {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO reservations
			(id, lab_id, owner_id, created_by, start_time, end_time, status, group_id, subject)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''))
		RETURNING created_at
	`, res.ID, res.LabID, res.OwnerID, res.CreatedBy, res.Start, res.End,
		res.Status, res.GroupID, res.Subject).Scan(&res.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert reservation: %w", err)
	}
	return nil
}

func (t *reservationTx) ReservationForUpdate(ctx context.Context, id string) (model.Reservation, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT`+reservationColumns+`
		FROM reservations
		WHERE id = $1
		FOR UPDATE
	`, id)
	res, err := scanReservation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Reservation{}, fmt.Errorf("reservation %s: %w", id, booking.ErrReservationNotFound)
		}
		return model.Reservation{}, fmt.Errorf("load reservation: %w", err)
	}
	return res, nil
}

func (t *reservationTx) CancelReservation(ctx context.Context, id, reason string, at time.Time) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE reservations
		SET status = 'cancelled',
			cancelled_at = $2,
			cancellation_reason = NULLIF($3, '')
		WHERE id = $1 AND status <> 'cancelled'
	`, id, at, reason)
	if err != nil {
		return fmt.Errorf("cancel reservation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("reservation %s: %w", id, booking.ErrReservationNotFound)
	}
	return nil
}

func (t *reservationTx) CancelSeriesFrom(ctx context.Context, groupID uuid.UUID, from time.Time, reason string, at time.Time) (int64, error) {
	tag, err := t.tx.Exec(ctx, `
		UPDATE reservations
		SET status = 'cancelled',
			cancelled_at = $3,
			cancellation_reason = NULLIF($4, '')
		WHERE group_id = $1
			AND start_time >= $2
			AND status <> 'cancelled'
	`, groupID, from, at, reason)
	if err != nil {
		return 0, fmt.Errorf("cancel series: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (t *reservationTx) InsertEvent(ctx context.Context, evt outbox.Event) error {
	return t.outbox.Insert(ctx, t.tx, evt)
}

func scanReservation(row pgx.Row) (model.Reservation, error) {
	var res model.Reservation
	var groupID *uuid.UUID
	var cancelledAt *time.Time
	err := row.Scan(
		&res.ID,
		&res.LabID,
		&res.OwnerID,
		&res.CreatedBy,
		&res.Start,
		&res.End,
		&res.Status,
		&groupID,
		&res.Subject,
		&res.CancelReason,
		&cancelledAt,
		&res.CreatedAt,
	)
	if err != nil {
		return model.Reservation{}, err
	}
	res.GroupID = groupID
	res.CancelledAt = cancelledAt
	return res, nil
}

func scanReservations(rows pgx.Rows) ([]model.Reservation, error) {
	var reservations []model.Reservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reservation: %w", err)
		}
		reservations = append(reservations, res)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return reservations, nil
}

package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/campuslabs/labbooking/internal/db"
	"github.com/campuslabs/labbooking/internal/schedule"
)

// RulesRepository loads the institutional time rules into an immutable
// schedule.Ruleset snapshot. The rules tables are administered outside
// this service; every request gets a fresh read.
type RulesRepository struct {
	pool *db.Pool
	loc  *time.Location
}

func NewRulesRepository(pool *db.Pool, loc *time.Location) *RulesRepository {
	return &RulesRepository{pool: pool, loc: loc}
}

func (r *RulesRepository) Ruleset(ctx context.Context) (schedule.Ruleset, error) {
	rs := schedule.Ruleset{
		Location:    r.loc,
		PeriodOrder: schedule.DefaultPeriodOrder,
		Periods:     make(map[string]schedule.PeriodRule),
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, first_class_minute, class_minutes, class_count
		FROM period_rules
	`)
	if err != nil {
		return schedule.Ruleset{}, fmt.Errorf("query period rules: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var rule schedule.PeriodRule
		if err := rows.Scan(&rule.ID, &rule.FirstClassMinute, &rule.ClassMinutes, &rule.ClassCount); err != nil {
			return schedule.Ruleset{}, fmt.Errorf("scan period rule: %w", err)
		}
		rs.Periods[rule.ID] = rule
	}
	if rows.Err() != nil {
		return schedule.Ruleset{}, rows.Err()
	}

	ivRows, err := r.pool.Query(ctx, `
		SELECT period_id, start_minute, minutes
		FROM period_intervals
		ORDER BY period_id, start_minute ASC
	`)
	if err != nil {
		return schedule.Ruleset{}, fmt.Errorf("query period intervals: %w", err)
	}
	defer ivRows.Close()
	for ivRows.Next() {
		var periodID string
		var iv schedule.IntervalRule
		if err := ivRows.Scan(&periodID, &iv.StartMinute, &iv.Minutes); err != nil {
			return schedule.Ruleset{}, fmt.Errorf("scan period interval: %w", err)
		}
		rule, ok := rs.Periods[periodID]
		if !ok {
			continue
		}
		rule.Intervals = append(rule.Intervals, iv)
		rs.Periods[periodID] = rule
	}
	if ivRows.Err() != nil {
		return schedule.Ruleset{}, ivRows.Err()
	}

	ntRows, err := r.pool.Query(ctx, `
		SELECT kind, COALESCE(rule_date::text, ''), annual, COALESCE(weekday, 0), COALESCE(reason, '')
		FROM non_teaching_days
		ORDER BY position, id ASC
	`)
	if err != nil {
		return schedule.Ruleset{}, fmt.Errorf("query non-teaching days: %w", err)
	}
	defer ntRows.Close()
	for ntRows.Next() {
		var rule schedule.NonTeachingDayRule
		var weekday int
		if err := ntRows.Scan(&rule.Kind, &rule.Date, &rule.Annual, &weekday, &rule.Reason); err != nil {
			return schedule.Ruleset{}, fmt.Errorf("scan non-teaching day: %w", err)
		}
		rule.Weekday = time.Weekday(weekday)
		rs.NonTeaching = append(rs.NonTeaching, rule)
	}
	if ntRows.Err() != nil {
		return schedule.Ruleset{}, ntRows.Err()
	}

	apRows, err := r.pool.Query(ctx, `
		SELECT id, name, start_date::text, end_date::text
		FROM academic_periods
		ORDER BY start_date ASC
	`)
	if err != nil {
		return schedule.Ruleset{}, fmt.Errorf("query academic periods: %w", err)
	}
	defer apRows.Close()
	for apRows.Next() {
		var id, name, startDate, endDate string
		if err := apRows.Scan(&id, &name, &startDate, &endDate); err != nil {
			return schedule.Ruleset{}, fmt.Errorf("scan academic period: %w", err)
		}
		start, err := schedule.NewDay(startDate, r.loc)
		if err != nil {
			return schedule.Ruleset{}, fmt.Errorf("academic period %s start: %w", id, err)
		}
		end, err := schedule.NewDay(endDate, r.loc)
		if err != nil {
			return schedule.Ruleset{}, fmt.Errorf("academic period %s end: %w", id, err)
		}
		rs.AcademicPeriods = append(rs.AcademicPeriods, schedule.AcademicPeriod{
			ID:    id,
			Name:  name,
			Start: start.Start(),
			End:   end.End(), // end_date is the inclusive last day of the term
		})
	}
	if apRows.Err() != nil {
		return schedule.Ruleset{}, apRows.Err()
	}

	return rs, nil
}

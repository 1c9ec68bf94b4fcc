package types

import (
	"fmt"
	"time"
)

// NextBillingDate calculates the next billing date based on the given start
// time, recurrence unit, and recurrence period (the frequency multiplier).
// For example:
// - If the unit is month and the period is 2, we add two months.
// - If the unit is year and the period is 1, we add one year.
// - If the unit is week and the period is 3, we add 21 days (3 weeks).
// - If the unit is day and the period is 10, we add 10 days.
// Month and year additions clamp to the last valid day of the target month
// so that e.g. Jan 31 + 1 month lands on Feb 28/29 instead of Mar 2/3.
func NextBillingDate(start time.Time, period int, unit RecurrenceUnit) (time.Time, error) {
	if period <= 0 {
		return start, fmt.Errorf("recurrence period must be a positive integer, got %d", period)
	}

	switch unit {
	case RECURRENCE_UNIT_DAY:
		// Day and week arithmetic rolls over month boundaries; only
		// month and year additions clamp.
		return start.AddDate(0, 0, period), nil
	case RECURRENCE_UNIT_WEEK:
		// 1 week = 7 days
		return start.AddDate(0, 0, 7*period), nil
	case RECURRENCE_UNIT_MONTH:
		return AddClampedDate(start, 0, period), nil
	case RECURRENCE_UNIT_YEAR:
		return AddClampedDate(start, period, 0), nil
	default:
		return start, fmt.Errorf("invalid recurrence unit: %s", unit)
	}
}

// AddClampedDate adds years and months like time.AddDate but clamps the
// day of month to the last valid day instead of normalizing into the
// following month.
func AddClampedDate(t time.Time, years, months int) time.Time {
	y, m, d := t.Date()
	h, min, sec := t.Clock()

	newY := y + years
	newM := time.Month(int(m) + months)

	// If we move beyond December, it adjusts correctly,
	// for example adding 2 months to November will land on January next year.
	for newM > 12 {
		newM -= 12
		newY++
	}
	for newM < 1 {
		newM += 12
		newY--
	}

	// Find the last valid day of the new month
	firstOfNextMonth := time.Date(newY, newM+1, 1, 0, 0, 0, 0, t.Location())
	lastDay := firstOfNextMonth.Add(-24 * time.Hour).Day()

	newD := d
	if newD > lastDay {
		newD = lastDay
	}

	return time.Date(newY, newM, newD, h, min, sec, t.Nanosecond(), t.Location())
}

package types

import (
	ierr "github.com/joemash/enhanced-subscriptions/internal/errors"
	"github.com/samber/lo"
)

// RecurrenceUnit is the calendar unit of a billing interval. Combined with
// a positive recurrence period it defines how far apart renewals fall,
// e.g. period=3 unit=month bills quarterly.
type RecurrenceUnit string

const (
	RECURRENCE_UNIT_DAY   RecurrenceUnit = "day"
	RECURRENCE_UNIT_WEEK  RecurrenceUnit = "week"
	RECURRENCE_UNIT_MONTH RecurrenceUnit = "month"
	RECURRENCE_UNIT_YEAR  RecurrenceUnit = "year"
)

func (u RecurrenceUnit) String() string {
	return string(u)
}

func (u RecurrenceUnit) Validate() error {
	allowed := []RecurrenceUnit{
		RECURRENCE_UNIT_DAY,
		RECURRENCE_UNIT_WEEK,
		RECURRENCE_UNIT_MONTH,
		RECURRENCE_UNIT_YEAR,
	}
	if !lo.Contains(allowed, u) {
		return ierr.NewError("invalid recurrence unit").
			WithHint("Invalid recurrence unit").
			WithReportableDetails(map[string]any{
				"allowed": allowed,
				"unit":    u,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

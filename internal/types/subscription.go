package types

import (
	"time"

	ierr "github.com/joemash/enhanced-subscriptions/internal/errors"
	"github.com/samber/lo"
)

// SubscriptionStatus is the status of a subscription in its billing
// state machine:
//
//	pending -> active <-> past_due -> {active, expired}
//	active|past_due -> cancelled
//
// expired and cancelled are terminal.
type SubscriptionStatus string

const (
	SubscriptionStatusPending   SubscriptionStatus = "pending"
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusPastDue   SubscriptionStatus = "past_due"
	SubscriptionStatusExpired   SubscriptionStatus = "expired"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
)

func (s SubscriptionStatus) String() string {
	return string(s)
}

// IsTerminal reports whether no further automatic transitions apply.
func (s SubscriptionStatus) IsTerminal() bool {
	return s == SubscriptionStatusExpired || s == SubscriptionStatusCancelled
}

func (s SubscriptionStatus) Validate() error {
	allowed := []SubscriptionStatus{
		SubscriptionStatusPending,
		SubscriptionStatusActive,
		SubscriptionStatusPastDue,
		SubscriptionStatusExpired,
		SubscriptionStatusCancelled,
	}
	if !lo.Contains(allowed, s) {
		return ierr.NewError("invalid subscription status").
			WithHint("Invalid subscription status").
			WithReportableDetails(map[string]any{
				"allowed": allowed,
				"status":  s,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// SubscriptionFilter narrows subscription listings at the persistence
// boundary. Zero-value fields are ignored.
type SubscriptionFilter struct {
	CustomerID        string               `json:"customer_id,omitempty"`
	Statuses          []SubscriptionStatus `json:"statuses,omitempty"`
	BillingNextBefore *time.Time           `json:"billing_next_before,omitempty"`
	GraceUntilBefore  *time.Time           `json:"grace_until_before,omitempty"`
}

func (f *SubscriptionFilter) Validate() error {
	for _, s := range f.Statuses {
		if err := s.Validate(); err != nil {
			return err
		}
	}
	return nil
}

package customer

import (
	ierr "github.com/joemash/enhanced-subscriptions/internal/errors"
	"github.com/joemash/enhanced-subscriptions/internal/types"
)

// Customer is the billed account. It owns one wallet and zero or more
// subscriptions.
type Customer struct {
	ID         string `db:"id" json:"id"`
	ExternalID string `db:"external_id" json:"external_id"`
	Name       string `db:"name" json:"name"`
	Email      string `db:"email" json:"email"`
	types.BaseModel
}

func (c *Customer) TableName() string {
	return "customers"
}

func (c *Customer) Validate() error {
	if c.ExternalID == "" {
		return ierr.NewError("external_id is required").
			WithHint("Please provide an external customer identifier").
			Mark(ierr.ErrValidation)
	}
	return nil
}

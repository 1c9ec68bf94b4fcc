package types

// Status is a type for the status of a stored record in the persistence
// boundary. This is used to track the lifecycle of a record and to
// determine if it should be included in queries.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusDeleted  Status = "deleted"
)

package errors

import "fmt"

// ErrNotFound is returned when a requested resource does not exist
type ErrNotFound struct {
	Resource string
	ID       string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ErrUnauthorized is returned when authentication fails
type ErrUnauthorized struct {
	Message string
}

func (e *ErrUnauthorized) Error() string {
	return e.Message
}

// ErrInvalidTransition is returned when an order status transition violates the
// state machine
type ErrInvalidTransition struct {
	From string
	To   string
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("invalid status transition from %s to %s", e.From, e.To)
}

// ErrServiceUnavailable is returned when a carrier does not serve the
// destination pincode
type ErrServiceUnavailable struct {
	Carrier string
	Pincode string
}

func (e *ErrServiceUnavailable) Error() string {
	return fmt.Sprintf("%s does not service pincode %s", e.Carrier, e.Pincode)
}

// ErrAuthFailure is returned when carrier credentials are rejected. It is fatal
// for that carrier until reconfigured, never fatal for the order.
type ErrAuthFailure struct {
	Carrier string
}

func (e *ErrAuthFailure) Error() string {
	return fmt.Sprintf("%s authentication failed", e.Carrier)
}

// ErrAlreadyAssigned is returned when an AWB already exists for a shipment.
// Callers that detect it proactively treat it as success with existing data.
type ErrAlreadyAssigned struct {
	AWB string
}

func (e *ErrAlreadyAssigned) Error() string {
	return fmt.Sprintf("AWB already assigned: %s", e.AWB)
}

// ErrNotCancellable is returned when a carrier reports a terminal state for the
// shipment
type ErrNotCancellable struct {
	TrackingID string
}

func (e *ErrNotCancellable) Error() string {
	return fmt.Sprintf("shipment %s can no longer be cancelled", e.TrackingID)
}

// ErrConflict is returned when a guarded update matched no row because a
// concurrent writer changed the order first. The losing transition is a no-op,
// never a data loss on the audit trail.
type ErrConflict struct {
	Resource string
	ID       string
}

func (e *ErrConflict) Error() string {
	return fmt.Sprintf("%s %s was modified concurrently", e.Resource, e.ID)
}

// ErrNetwork wraps a transient transport failure. Safe to retry the same call;
// the core does not retry automatically.
type ErrNetwork struct {
	Carrier string
	Op      string
	Err     error
}

func (e *ErrNetwork) Error() string {
	return fmt.Sprintf("%s %s: network error: %v", e.Carrier, e.Op, e.Err)
}

func (e *ErrNetwork) Unwrap() error {
	return e.Err
}

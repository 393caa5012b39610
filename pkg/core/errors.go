package core

import (
	"errors"
	"fmt"
)

// ErrConsistencyViolation is the base error for detected corruption of
// the history invariant (for example two current rows for one master
// id at batch start). These are never silently repaired.
var ErrConsistencyViolation = errors.New("history consistency violation")

// ConsistencyError wraps ErrConsistencyViolation with the full detail
// required by the error-handling contract: entity, master id, and what
// was found.
type ConsistencyError struct {
	EntityType string
	MasterID   string
	Detail     string
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("history consistency violation for %s/%s: %s", e.EntityType, e.MasterID, e.Detail)
}

// Unwrap lets errors.Is match ErrConsistencyViolation.
func (e *ConsistencyError) Unwrap() error {
	return ErrConsistencyViolation
}

// PolicyError marks a fatal configuration problem for one entity type.
// It fails that entity type's batch; other entity types continue.
type PolicyError struct {
	EntityType string
	Err        error
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("policy error for entity type %s: %v", e.EntityType, e.Err)
}

func (e *PolicyError) Unwrap() error {
	return e.Err
}

package domain

import "fmt"

// ValidationError indicates caller input failed shape, charset, or length
// rules. The HTTP layer maps it to 400.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Reason)
}

// NotFoundError indicates a lookup by id found nothing. The HTTP layer
// maps it to 404.
type NotFoundError struct {
	Kind string // "agent", "task", "session"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// ConflictError indicates an operation conflicts with current entity state,
// such as deleting an agent that still has a running task.
type ConflictError struct {
	Kind   string
	ID     string
	Reason string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Kind, e.ID, e.Reason)
}

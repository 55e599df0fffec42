package engine

import (
	"errors"
	"fmt"
	"strings"

	"policyline/internal/domain"
)

var (
	// ErrNotFound is returned when the referenced task or policy does not exist.
	ErrNotFound       = errors.New("not found")
	ErrTaskNotFound   = fmt.Errorf("Task %w", ErrNotFound)
	ErrPolicyNotFound = fmt.Errorf("Policy %w", ErrNotFound)
	// ErrPolicyExists is returned when ingesting a policy id that is already stored.
	ErrPolicyExists = errors.New("policy already exists")
	// ErrConflict is returned when a task kept changing underneath a mutation.
	ErrConflict = errors.New("task was modified concurrently; retry")
)

type InvalidTransitionError struct {
	From domain.Status
	To   domain.Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("Invalid transition from %s to %s", e.From, e.To)
}

type EscalationNotAllowedError struct {
	Role domain.Role
}

func (e *EscalationNotAllowedError) Error() string {
	return fmt.Sprintf("Cannot escalate from %s. Already at highest level or invalid role.", e.Role)
}

// ValidationError reports input rejected before any write.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid input: " + strings.Join(e.Problems, "; ")
}

func invalid(problems ...string) error {
	return &ValidationError{Problems: problems}
}

// StorageError wraps an underlying persistence failure. Its message names the
// operation only; the driver error is reachable through Unwrap.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return "storage failure during " + e.Op
}

func (e *StorageError) Unwrap() error { return e.Err }

func storage(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

package star

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInvariantViolation = errors.New("materialization invariant violation")
)

// NotFoundError is returned by surrogate key lookups.
type NotFoundError struct {
	Table string
	Key   int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s: key %d not found", e.Table, e.Key)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// Violation is one disagreement between a dimensional row and the value
// recomputed from the normalized records.
type Violation struct {
	Table       string
	EncounterID int64
	Field       string
	Want        string
	Got         string
}

func (v Violation) String() string {
	if v.EncounterID != 0 {
		return fmt.Sprintf("%s encounter %d %s: want %s, got %s", v.Table, v.EncounterID, v.Field, v.Want, v.Got)
	}
	return fmt.Sprintf("%s %s: want %s, got %s", v.Table, v.Field, v.Want, v.Got)
}

// InvariantViolationError lists every disagreement Verify found.
type InvariantViolationError struct {
	Violations []Violation
}

func (e *InvariantViolationError) Error() string {
	switch len(e.Violations) {
	case 0:
		return ErrInvariantViolation.Error()
	case 1:
		return fmt.Sprintf("%v: %s", ErrInvariantViolation, e.Violations[0])
	default:
		return fmt.Sprintf("%v: %d violations, first: %s", ErrInvariantViolation, len(e.Violations), e.Violations[0])
	}
}

func (e *InvariantViolationError) Is(target error) bool { return target == ErrInvariantViolation }

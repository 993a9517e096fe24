package oltp

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrReferentialIntegrity = errors.New("referential integrity violation")
	ErrDuplicateKey         = errors.New("duplicate key")
	ErrInvalidRecord        = errors.New("invalid record")
)

// NotFoundError is returned by primary key lookups.
type NotFoundError struct {
	Entity string
	ID     int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Entity, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// ReferentialIntegrityError reports a foreign key with no matching row.
type ReferentialIntegrityError struct {
	Entity string // table holding the foreign key
	ID     int64  // row id, or the encounter id for link rows
	Field  string
	Ref    string // referenced table
	RefID  int64
}

func (e *ReferentialIntegrityError) Error() string {
	return fmt.Sprintf("%s %d: %s %d references missing %s", e.Entity, e.ID, e.Field, e.RefID, e.Ref)
}

func (e *ReferentialIntegrityError) Is(target error) bool {
	return target == ErrReferentialIntegrity
}

// DuplicateKeyError reports a violated uniqueness constraint.
type DuplicateKeyError struct {
	Entity string
	Key    string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("%s: duplicate key %s", e.Entity, e.Key)
}

func (e *DuplicateKeyError) Is(target error) bool { return target == ErrDuplicateKey }

// InvalidRecordError reports a row whose values are inconsistent on their own.
type InvalidRecordError struct {
	Entity string
	ID     int64
	Reason string
}

func (e *InvalidRecordError) Error() string {
	return fmt.Sprintf("%s %d: %s", e.Entity, e.ID, e.Reason)
}

func (e *InvalidRecordError) Is(target error) bool { return target == ErrInvalidRecord }

package query

import (
	"errors"
	"fmt"
)

var (
	ErrDivideByZero   = errors.New("readmission rate undefined: zero discharges")
	ErrInvalidOptions = errors.New("invalid query options")
)

// ZeroDischargePolicy decides how Q3 reports a specialty with no discharges.
type ZeroDischargePolicy string

const (
	// ZeroDischargeOmit only reports specialties that have discharges, so a
	// zero denominator never arises.
	ZeroDischargeOmit  = ZeroDischargePolicy("omit")
	ZeroDischargeZero  = ZeroDischargePolicy("zero")
	ZeroDischargeNull  = ZeroDischargePolicy("null")
	ZeroDischargeError = ZeroDischargePolicy("error")
)

func (p ZeroDischargePolicy) Valid() bool {
	switch p {
	case ZeroDischargeOmit, ZeroDischargeZero, ZeroDischargeNull, ZeroDischargeError:
		return true
	}
	return false
}

// DivideByZeroError is returned under ZeroDischargeError.
type DivideByZeroError struct {
	Specialty string
}

func (e *DivideByZeroError) Error() string {
	return fmt.Sprintf("specialty %q: %v", e.Specialty, ErrDivideByZero)
}

func (e *DivideByZeroError) Is(target error) bool { return target == ErrDivideByZero }

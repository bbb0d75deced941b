package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate indicates a unique key such as a SKU already exists.
	ErrDuplicate = errors.New("duplicate entry")
	// ErrValidation indicates malformed input such as empty items or non-positive quantities.
	ErrValidation = errors.New("validation failed")
	// ErrInsufficientStock indicates a reservation larger than the available quantity.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrInvalidTransition indicates a status change outside the transition table.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrOverDelivery indicates delivered quantity would exceed the ordered quantity.
	ErrOverDelivery = errors.New("delivered quantity exceeds ordered quantity")
	// ErrInvalidReturnRequest indicates an ineligible order or a quantity above the returnable remainder.
	ErrInvalidReturnRequest = errors.New("invalid return request")
	// ErrBelowReserved indicates a stock count adjustment below the reserved quantity.
	ErrBelowReserved = errors.New("adjustment below reserved quantity")
	// ErrConcurrentModification indicates a stale version or a lost lock race.
	ErrConcurrentModification = errors.New("concurrent modification")

	// ErrInternal marks ledger invariant violations. They indicate a bug, not a business condition.
	ErrInternal = errors.New("internal invariant violation")
	// ErrInvalidRelease indicates a release larger than the reserved quantity.
	ErrInvalidRelease = errors.New("release exceeds reserved quantity")
	// ErrInvalidCommit indicates a commit larger than the reserved quantity.
	ErrInvalidCommit = errors.New("commit exceeds reserved quantity")
)

// InvariantError wraps a ledger invariant violation so that both the specific
// cause and ErrInternal match with errors.Is.
type InvariantError struct {
	Cause     error
	ProductID int64
	Requested int64
	Reserved  int64
}

func (e *InvariantError) Error() string {
	return e.Cause.Error()
}

// Is reports ErrInternal as a match in addition to the wrapped cause.
func (e *InvariantError) Is(target error) bool {
	return target == ErrInternal
}

func (e *InvariantError) Unwrap() error {
	return e.Cause
}

// ValidationErrorf builds a validation error carrying a specific message.
func ValidationErrorf(msg string) error {
	return &validationError{msg: msg}
}

type validationError struct {
	msg string
}

func (e *validationError) Error() string { return "validation failed: " + e.msg }

func (e *validationError) Unwrap() error { return ErrValidation }

// UserSafeMessage returns a message that can be shown to API consumers.
func UserSafeMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInternal):
		return "internal error"
	default:
		return err.Error()
	}
}

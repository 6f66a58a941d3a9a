package utils

import (
	"errors"
	"fmt"
)

var ErrorRecordNotFound = errors.New("record not found")

// ErrorInsufficientStock blocks the caller: the operation was refused and no
// state was mutated.
var ErrorInsufficientStock = errors.New("insufficient stock")

// ErrorConcurrencyConflict means a reconciliation computed a negative delta or
// its ledger write collided with another in-flight write for the same order.
// Callers must retry with a freshly recomputed baseline, never apply blindly.
var ErrorConcurrencyConflict = errors.New("concurrent reconciliation conflict")

var ErrorLockNotObtained = errors.New("could not obtain posting lock")

// WrapPersistence tags an underlying store failure. The operation is NOT
// assumed to have partially committed unless confirmed.
func WrapPersistence(op string, err error) error {
	return fmt.Errorf("persistence failure in %s: %w", op, err)
}

func ErrorPanic(err error) {
	if err != nil {
		panic(err)
	}
}

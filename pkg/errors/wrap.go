package errors

import (
	"errors"
	"fmt"
)

// Is reports whether err matches target, per the standard errors.Is
// contract. Re-exported so callers only need to import this package.
func Is(err, target error) bool { return errors.Is(err, target) }

// As finds the first error in err's chain matching target's type.
func As(err error, target interface{}) bool { return errors.As(err, target) }

// Wrap adds a message to err while preserving it for errors.Is/As.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf adds a formatted message to err while preserving it for
// errors.Is/As.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

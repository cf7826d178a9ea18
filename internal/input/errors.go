package input

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument reports a missing or empty required value.
	ErrInvalidArgument = errors.New("input: invalid argument")

	// ErrConfigurerFailed matches any *ConfigurerError via errors.Is.
	ErrConfigurerFailed = errors.New("input: configurer failed")

	// ErrNilConfigurer is the cause of a ConfigurerError for a nil
	// registration.
	ErrNilConfigurer = errors.New("input: nil configurer")
)

// ConfigurerError is returned by ToExecutionInput when a registered
// configurer fails. Index is the zero-based registration position.
type ConfigurerError struct {
	Index int
	Err   error
}

func (e *ConfigurerError) Error() string {
	return fmt.Sprintf("input: configurer %d failed: %v", e.Index, e.Err)
}

func (e *ConfigurerError) Unwrap() error { return e.Err }

func (e *ConfigurerError) Is(target error) bool { return target == ErrConfigurerFailed }

func invalidArgument(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, msg)
}

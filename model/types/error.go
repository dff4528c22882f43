package types

import (
	"errors"
	"fmt"
	"time"
)

// ErrCancelled is the cooperative-cancellation condition. Suspension points
// (process wait, socket wait, sleep, queue consume) return an error wrapping
// this sentinel once the run-scoped abort flag is set.
var ErrCancelled = errors.New("run cancelled")

// ProcessError indicates a process could not be created or signalled.
type ProcessError struct {
	Name  string
	Cause error
}

func (e *ProcessError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("process %s failed", e.Name)
	}
	return fmt.Sprintf("process %s failed: %v", e.Name, e.Cause)
}

func (e *ProcessError) Unwrap() error { return e.Cause }

// NewProcessError wraps cause as a process creation/signalling failure.
func NewProcessError(name string, cause error) error {
	return &ProcessError{Name: name, Cause: cause}
}

// ProcessTimeoutError indicates a wait exceeded its budget. The process it
// refers to is still running; the caller must stop it explicitly.
type ProcessTimeoutError struct {
	Name    string
	Timeout time.Duration
}

func (e *ProcessTimeoutError) Error() string {
	return fmt.Sprintf("process %s timed out after %s", e.Name, e.Timeout)
}

// NewProcessTimeoutError reports that name did not finish within timeout.
func NewProcessTimeoutError(name string, timeout time.Duration) error {
	return &ProcessTimeoutError{Name: name, Timeout: timeout}
}

// ConfigError indicates a bad descriptor set or engine configuration and is
// fatal to the whole run.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string { return e.Msg }

// NewConfigError creates a run-fatal configuration error.
func NewConfigError(format string, args ...interface{}) error {
	return &ConfigError{Msg: fmt.Sprintf(format, args...)}
}

// IsTimeout reports whether err is (or wraps) a process timeout.
func IsTimeout(err error) bool {
	var t *ProcessTimeoutError
	return errors.As(err, &t)
}

// IsCancelled reports whether err is (or wraps) the cancellation condition.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}

// IsConfigError reports whether err is (or wraps) a configuration error.
func IsConfigError(err error) bool {
	var c *ConfigError
	return errors.As(err, &c)
}

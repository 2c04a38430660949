package plugin

import (
	"errors"
	"fmt"
)

// ErrHandleShutdown is returned for calls on a handle after Shutdown.
var ErrHandleShutdown = errors.New("plugin handle is shut down")

// DataRetrievalError is the single cycle-level failure a poll surfaces.
// Cause is the first device or filesystem error hit in that cycle.
type DataRetrievalError struct {
	Cause error
}

func (e *DataRetrievalError) Error() string {
	return fmt.Sprintf("data retrieval failed: %v", e.Cause)
}

func (e *DataRetrievalError) Unwrap() error {
	return e.Cause
}

// ConfigurationError reports a configuration document that cannot be used.
type ConfigurationError struct {
	Field string
	Cause error
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid configuration: %v", e.Cause)
	}
	return fmt.Sprintf("invalid configuration: %s: %v", e.Field, e.Cause)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Cause
}

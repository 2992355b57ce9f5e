package model

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by stores when a record does not exist.
var ErrNotFound = errors.New("not found")

// ErrUnsupportedVersion is wrapped by ConfigurationError when the declared
// version is not in the rule store.
var ErrUnsupportedVersion = errors.New("unsupported version")

// ConfigurationError means the input cannot be processed with the current rule
// store. It is not retried.
type ConfigurationError struct {
	Version string
	Err     error
}

func (e *ConfigurationError) Error() string {
	if e.Version == "" {
		return fmt.Sprintf("configuration: %v", e.Err)
	}
	return fmt.Sprintf("configuration: version %q: %v", e.Version, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// ParseError means the input is malformed or lacks a mandatory header value.
// It is not retried.
type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err == nil {
		return "parse: " + e.Reason
	}
	return fmt.Sprintf("parse: %s: %v", e.Reason, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// InfrastructureError wraps a failure of the rule store, persistence, archive
// or output directory. The job is retried with backoff.
type InfrastructureError struct {
	Stage string
	Err   error
}

func (e *InfrastructureError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *InfrastructureError) Unwrap() error { return e.Err }

// Infra wraps err as an InfrastructureError for the given stage. A nil err
// stays nil.
func Infra(stage string, err error) error {
	if err == nil {
		return nil
	}
	return &InfrastructureError{Stage: stage, Err: err}
}

// IsPermanent reports whether retrying err cannot succeed without an external
// change to the input or the rule store.
func IsPermanent(err error) bool {
	var cfgErr *ConfigurationError
	var parseErr *ParseError
	return errors.As(err, &cfgErr) || errors.As(err, &parseErr)
}

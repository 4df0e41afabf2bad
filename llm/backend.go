// Package llm holds the generative text backends the reasoning engine can
// call, plus middleware that decorates them.
package llm

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrUnavailable is wrapped by failures caused by a backend that cannot
	// be used at all, such as missing credentials
	ErrUnavailable = errors.New("generative backend unavailable")
	// ErrMissingAPIKey is returned when a backend is configured without a key
	ErrMissingAPIKey = errors.New("API key not set")
	// ErrEmptyResponse is returned when the backend answered with no text
	ErrEmptyResponse = errors.New("generative backend returned empty content")
)

// Backend generates free text for a prompt
type Backend interface {
	Name() string
	Generate(ctx context.Context, prompt string) (string, error)
}

// PermanentError marks a failure that retrying cannot fix
type PermanentError struct {
	Err error
}

// NewPermanentError wraps err as permanent
func NewPermanentError(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// IsPermanent reports whether err, or anything it wraps, is a PermanentError
func IsPermanent(err error) bool {
	var p *PermanentError
	return errors.As(err, &p)
}

type disabled struct {
	reason string
}

// Disabled returns a backend that fails every call permanently. It stands in
// for a provider whose credentials are missing.
func Disabled(reason string) Backend {
	return &disabled{reason: reason}
}

func (d *disabled) Name() string { return "disabled" }

func (d *disabled) Generate(ctx context.Context, prompt string) (string, error) {
	return "", NewPermanentError(fmt.Errorf("%w: %s", ErrUnavailable, d.reason))
}

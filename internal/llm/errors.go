package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/ppiankov/verdict/internal/model"
)

// ErrAdapterTimeout is returned when a provider call exceeds its deadline
var ErrAdapterTimeout = errors.New("adapter timeout")

// AdapterError wraps a provider failure
type AdapterError struct {
	Provider string
	Err      error
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *AdapterError) Unwrap() error {
	return e.Err
}

// ParseFailure reports provider output that does not match the stage schema
type ParseFailure struct {
	Stage model.Stage
	Raw   string
	Err   error
}

func (e *ParseFailure) Error() string {
	return fmt.Sprintf("parse %s output: %v", e.Stage, e.Err)
}

func (e *ParseFailure) Unwrap() error {
	return e.Err
}

// Classify normalizes an invocation error. Deadline expiry becomes
// ErrAdapterTimeout, anything else is wrapped in an AdapterError.
func Classify(ctx context.Context, provider string, err error) error {
	if err == nil {
		return nil
	}
	var adapterErr *AdapterError
	if errors.As(err, &adapterErr) {
		return err
	}
	if errors.Is(err, ErrAdapterTimeout) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", provider, ErrAdapterTimeout)
	}
	return &AdapterError{Provider: provider, Err: err}
}

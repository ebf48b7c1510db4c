package llm

import (
	"context"
	"sync/atomic"
)

// Static is a deterministic Adapter that always returns the same answer.
// It counts invocations so callers can assert on routing.
type Static struct {
	Provider string
	Output   string
	Err      error

	calls atomic.Int64
}

// Name returns the provider name
func (s *Static) Name() string {
	if s.Provider == "" {
		return "static"
	}
	return s.Provider
}

// Invoke returns the configured output or error
func (s *Static) Invoke(ctx context.Context, _ Request) (*Response, error) {
	s.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, Classify(ctx, s.Name(), err)
	}
	if s.Err != nil {
		return nil, s.Err
	}
	return &Response{Output: s.Output, Model: s.Name()}, nil
}

// Calls returns how many times Invoke ran
func (s *Static) Calls() int {
	return int(s.calls.Load())
}

// Func adapts a function to the Adapter interface
type Func struct {
	Provider string
	Fn       func(ctx context.Context, req Request) (*Response, error)

	calls atomic.Int64
}

// Name returns the provider name
func (f *Func) Name() string {
	if f.Provider == "" {
		return "func"
	}
	return f.Provider
}

// Invoke calls Fn
func (f *Func) Invoke(ctx context.Context, req Request) (*Response, error) {
	f.calls.Add(1)
	return f.Fn(ctx, req)
}

// Calls returns how many times Invoke ran
func (f *Func) Calls() int {
	return int(f.calls.Load())
}

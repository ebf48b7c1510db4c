package stage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/ppiankov/verdict/internal/llm"
	"github.com/ppiankov/verdict/internal/logging"
	"github.com/ppiankov/verdict/internal/metrics"
	"github.com/ppiankov/verdict/internal/model"
)

var tracer = otel.Tracer("verdict/stage")

// Decoder turns a raw provider response into the stage value and the
// confidence used for gating.
type Decoder func(resp *llm.Response) (value any, confidence float64, err error)

// Raw keeps the provider output as-is and trusts the provider-reported confidence
func Raw(resp *llm.Response) (any, float64, error) {
	return resp.Output, resp.Confidence, nil
}

// Spec describes one confidence-gated stage invocation
type Spec struct {
	Stage   model.Stage
	System  string
	Payload string

	Primary  llm.Adapter
	Fallback llm.Adapter // optional

	Threshold       float64
	Timeout         time.Duration
	FallbackTimeout time.Duration // 0 means Timeout

	Decode Decoder
}

// Result is the outcome of a stage. Trace holds one entry per attempt and is
// populated even when Execute fails.
type Result struct {
	Output     any
	Confidence float64
	Route      model.Route
	Provider   string
	PromptID   string
	Trace      []model.TraceEntry
}

// StageFailure is returned when a stage produced no usable result
type StageFailure struct {
	Stage model.Stage
	Cause error
}

func (e *StageFailure) Error() string {
	return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Cause)
}

func (e *StageFailure) Unwrap() error {
	return e.Cause
}

// Executor runs stages with a timeout, a confidence gate and at most one
// sequential fallback. It holds no per-run state and is safe for concurrent use.
type Executor struct {
	log     *zap.Logger
	metrics *metrics.Metrics
}

// NewExecutor creates an executor. Both arguments may be nil.
func NewExecutor(log *zap.Logger, m *metrics.Metrics) *Executor {
	return &Executor{log: logging.OrNop(log), metrics: m}
}

type attempt struct {
	value      any
	confidence float64
	provider   string
	err        error
}

// Execute invokes the primary adapter and, when it fails or answers below
// the threshold, the fallback adapter exactly once.
func (e *Executor) Execute(ctx context.Context, spec Spec) (Result, error) {
	if spec.Primary == nil {
		return Result{}, &StageFailure{Stage: spec.Stage, Cause: &model.ConfigurationError{Field: string(spec.Stage), Reason: "no primary adapter bound"}}
	}

	req := llm.Request{Stage: spec.Stage, System: spec.System, Payload: spec.Payload}
	res := Result{PromptID: req.PromptID()}

	primary := e.attempt(ctx, spec, req, spec.Primary, spec.Timeout, model.RouteFast, &res)
	if err := ctx.Err(); err != nil {
		return res, &StageFailure{Stage: spec.Stage, Cause: err}
	}

	if primary.err == nil && (primary.confidence >= spec.Threshold || spec.Fallback == nil) {
		return e.accept(res, spec.Stage, primary, model.RouteFast), nil
	}
	if spec.Fallback == nil {
		return res, &StageFailure{Stage: spec.Stage, Cause: primary.err}
	}

	fallbackTimeout := spec.FallbackTimeout
	if fallbackTimeout <= 0 {
		fallbackTimeout = spec.Timeout
	}
	fallback := e.attempt(ctx, spec, req, spec.Fallback, fallbackTimeout, model.RouteFallback, &res)
	if err := ctx.Err(); err != nil {
		return res, &StageFailure{Stage: spec.Stage, Cause: err}
	}

	switch {
	case fallback.err == nil:
		return e.accept(res, spec.Stage, fallback, model.RouteFallback), nil
	case primary.err == nil:
		// low-confidence primary answer is still usable
		e.log.Warn("fallback failed, keeping low-confidence primary result",
			zap.String("stage", string(spec.Stage)),
			zap.Float64("confidence", primary.confidence),
			zap.Error(fallback.err))
		return e.accept(res, spec.Stage, primary, model.RouteFast), nil
	default:
		return res, &StageFailure{Stage: spec.Stage, Cause: errors.Join(primary.err, fallback.err)}
	}
}

func (e *Executor) accept(res Result, stage model.Stage, a attempt, route model.Route) Result {
	res.Output = a.value
	res.Confidence = a.confidence
	res.Route = route
	res.Provider = a.provider
	e.metrics.IncrementRoute(string(stage), string(route))
	return res
}

func (e *Executor) attempt(ctx context.Context, spec Spec, req llm.Request, adapter llm.Adapter, timeout time.Duration, route model.Route, res *Result) attempt {
	provider := adapter.Name()

	ctx, span := tracer.Start(ctx, "stage."+string(spec.Stage))
	span.SetAttributes(
		attribute.String("stage", string(spec.Stage)),
		attribute.String("provider", provider),
		attribute.String("route", string(route)),
	)
	defer span.End()

	callCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	a := attempt{provider: provider}

	resp, err := invoke(callCtx, adapter, req)
	if err == nil && resp == nil {
		err = fmt.Errorf("empty response")
	}
	if err != nil {
		a.err = llm.Classify(callCtx, provider, err)
	} else {
		decode := spec.Decode
		if decode == nil {
			decode = Raw
		}
		a.value, a.confidence, err = decode(resp)
		if err != nil {
			a.err = &llm.AdapterError{Provider: provider, Err: &llm.ParseFailure{Stage: spec.Stage, Raw: resp.Output, Err: err}}
		}
	}
	elapsed := time.Since(start)

	entry := model.TraceEntry{
		Stage:      spec.Stage,
		Provider:   provider,
		Route:      route,
		Confidence: a.confidence,
		Duration:   elapsed,
		PromptID:   res.PromptID,
		Status:     model.TraceCompleted,
	}

	outcome := "ok"
	switch {
	case a.err != nil:
		entry.Status = model.TraceFailed
		entry.Note = a.err.Error()
		outcome = "error"
		if errors.Is(a.err, llm.ErrAdapterTimeout) {
			outcome = "timeout"
		}
		span.RecordError(a.err)
		span.SetStatus(codes.Error, a.err.Error())
		e.log.Debug("stage attempt failed",
			zap.String("stage", string(spec.Stage)),
			zap.String("provider", provider),
			zap.Duration("elapsed", elapsed),
			zap.Error(a.err))
	case a.confidence < spec.Threshold:
		entry.Note = fmt.Sprintf("confidence %.2f below threshold %.2f", a.confidence, spec.Threshold)
	}
	span.SetAttributes(attribute.Float64("confidence", a.confidence))

	e.metrics.ObserveAttempt(string(spec.Stage), provider, outcome, elapsed)
	res.Trace = append(res.Trace, entry)
	return a
}

type invocation struct {
	resp *llm.Response
	err  error
}

// invoke returns when the adapter does or when ctx ends, whichever comes
// first. An adapter that ignores ctx is left to finish on its own.
func invoke(ctx context.Context, adapter llm.Adapter, req llm.Request) (*llm.Response, error) {
	done := make(chan invocation, 1)
	go func() {
		resp, err := adapter.Invoke(ctx, req)
		done <- invocation{resp: resp, err: err}
	}()

	select {
	case r := <-done:
		return r.resp, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

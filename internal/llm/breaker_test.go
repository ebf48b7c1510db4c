package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/verdict/internal/model"
)

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	inner := &Static{Provider: "flaky", Err: &AdapterError{Provider: "flaky", Err: errors.New("503")}}
	b := NewBreaker(inner, 2, time.Minute, nil)

	for i := 0; i < 2; i++ {
		_, err := b.Invoke(context.Background(), Request{})
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, b.State())

	_, err := b.Invoke(context.Background(), Request{})
	var adapterErr *AdapterError
	require.ErrorAs(t, err, &adapterErr)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 2, inner.Calls(), "open circuit must not reach the provider")
}

func TestBreaker_ParseFailuresDoNotTrip(t *testing.T) {
	inner := &Static{Provider: "chatty", Err: &ParseFailure{Stage: model.StageClaimExtraction, Raw: "nope", Err: errors.New("bad json")}}
	b := NewBreaker(inner, 1, time.Minute, nil)

	for i := 0; i < 3; i++ {
		_, _ = b.Invoke(context.Background(), Request{})
	}
	assert.Equal(t, gobreaker.StateClosed, b.State())
	assert.Equal(t, 3, inner.Calls())
}

func TestBreaker_PassesResponseThrough(t *testing.T) {
	b := NewBreaker(&Static{Provider: "ok", Output: `{"confidence":1}`}, 3, time.Minute, nil)

	resp, err := b.Invoke(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, `{"confidence":1}`, resp.Output)
	assert.Equal(t, "ok", b.Name())
}

func TestClassify(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	err := Classify(ctx, "p", context.DeadlineExceeded)
	assert.ErrorIs(t, err, ErrAdapterTimeout)

	err = Classify(context.Background(), "p", errors.New("boom"))
	var adapterErr *AdapterError
	require.ErrorAs(t, err, &adapterErr)
	assert.Equal(t, "p", adapterErr.Provider)

	assert.NoError(t, Classify(context.Background(), "p", nil))
}

// Package retry retries rate-limited generate calls with a fixed wait and reports
// every attempt as a lifecycle event.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/aschepis/backscratcher/storyqa/events"
	"github.com/aschepis/backscratcher/storyqa/llm"
)

const (
	DefaultMaxAttempts = 3
	DefaultWait        = 60 * time.Second
)

// Wrapper retries rate_limit errors from the wrapped client. Every other error
// ends the call after one attempt.
type Wrapper struct {
	next        llm.Client
	maxAttempts int
	wait        time.Duration
	sink        events.Sink
	newTimer    func() backoff.Timer
	now         func() time.Time
	logger      zerolog.Logger
}

// Option configures a Wrapper.
type Option func(*Wrapper)

// WithMaxAttempts bounds the number of backend calls. Values below 1 keep the default.
func WithMaxAttempts(n int) Option {
	return func(w *Wrapper) {
		if n > 0 {
			w.maxAttempts = n
		}
	}
}

// WithWait sets the fixed sleep between rate-limited attempts.
func WithWait(d time.Duration) Option {
	return func(w *Wrapper) { w.wait = d }
}

// WithSink sets the event sink.
func WithSink(s events.Sink) Option {
	return func(w *Wrapper) {
		if s != nil {
			w.sink = s
		}
	}
}

// WithTimer supplies the timer used for waits. newTimer is called once per Call.
func WithTimer(newTimer func() backoff.Timer) Option {
	return func(w *Wrapper) { w.newTimer = newTimer }
}

// WithClock replaces time.Now for elapsed-time measurements.
func WithClock(now func() time.Time) Option {
	return func(w *Wrapper) { w.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(w *Wrapper) { w.logger = logger.With().Str("component", "llm_retry").Logger() }
}

// New wraps next.
func New(next llm.Client, opts ...Option) *Wrapper {
	w := &Wrapper{
		next:        next,
		maxAttempts: DefaultMaxAttempts,
		wait:        DefaultWait,
		sink:        events.Discard,
		now:         time.Now,
		logger:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// MaxAttempts returns the configured attempt bound.
func (w *Wrapper) MaxAttempts() int { return w.maxAttempts }

// Generate implements llm.Client. The trace id and node come from ctx (see events.WithTrace).
func (w *Wrapper) Generate(ctx context.Context, prompt string, cfg llm.Config) (*llm.Response, error) {
	traceID, node := events.TraceFrom(ctx)
	return w.Call(ctx, prompt, cfg, traceID, node)
}

// Call invokes the wrapped client up to MaxAttempts times. On terminal failure it
// returns a nil response and the last error; it never panics.
func (w *Wrapper) Call(ctx context.Context, prompt string, cfg llm.Config, traceID, node string) (*llm.Response, error) {
	start := w.now()
	attempt := 0
	var (
		resp        *llm.Response
		lastElapsed int64
	)

	emit := func(name string, payload map[string]any) {
		w.sink.Emit(events.Event{
			Timestamp: w.now(),
			Name:      name,
			TraceID:   traceID,
			Node:      node,
			Payload:   payload,
		})
	}

	operation := func() error {
		attempt++
		callStart := w.now()
		emit(events.LLMAttempt, map[string]any{
			events.KeyAttempt:     attempt,
			events.KeyMaxAttempts: w.maxAttempts,
			events.KeyElapsedMS:   callStart.Sub(start).Milliseconds(),
		})

		r, err := w.generate(ctx, prompt, cfg)
		elapsed := w.now().Sub(callStart).Milliseconds()
		lastElapsed = elapsed

		if err == nil {
			resp = r
			emit(events.LLMSuccess, map[string]any{
				events.KeyAttempt:   attempt,
				events.KeyElapsedMS: elapsed,
			})
			return nil
		}

		if llm.IsRateLimitError(err) {
			payload := map[string]any{
				events.KeyAttempt:   attempt,
				events.KeyElapsedMS: elapsed,
				events.KeyError:     err.Error(),
			}
			if attempt < w.maxAttempts {
				payload[events.KeyWaitMS] = w.wait.Milliseconds()
			}
			emit(events.LLMRateLimited, payload)
			return err
		}
		return backoff.Permanent(err)
	}

	var b backoff.BackOff = backoff.NewConstantBackOff(w.wait)
	b = backoff.WithMaxRetries(b, uint64(w.maxAttempts-1)) //nolint:gosec // maxAttempts >= 1
	b = backoff.WithContext(b, ctx)

	notify := func(err error, next time.Duration) {
		w.logger.Warn().
			Str("trace_id", traceID).
			Str("node", node).
			Int("attempt", attempt).
			Dur("wait", next).
			Msg("rate limited, waiting before retry")
	}

	var timer backoff.Timer
	if w.newTimer != nil {
		timer = w.newTimer()
	}

	err := backoff.RetryNotifyWithTimer(operation, b, notify, timer)
	if err == nil {
		return resp, nil
	}

	err = asLLMError(err)
	var llmErr *llm.Error
	errType := ""
	if errors.As(err, &llmErr) {
		errType = string(llmErr.Type)
	}
	emit(events.LLMFailed, map[string]any{
		events.KeyAttempt:   attempt,
		events.KeyElapsedMS: lastElapsed,
		events.KeyTotalMS:   w.now().Sub(start).Milliseconds(),
		events.KeyError:     err.Error(),
		events.KeyErrorType: errType,
	})
	w.logger.Error().Err(err).
		Str("trace_id", traceID).
		Str("node", node).
		Int("attempts", attempt).
		Msg("llm call failed")
	return nil, err
}

// generate calls the wrapped client, turning a panic into a provider error.
func (w *Wrapper) generate(ctx context.Context, prompt string, cfg llm.Config) (resp *llm.Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			resp = nil
			err = llm.NewProviderError(fmt.Sprintf("backend panicked: %v", r), nil)
		}
	}()
	return w.next.Generate(ctx, prompt, cfg)
}

// asLLMError keeps the taxonomy intact for errors raised outside a backend,
// such as a context cancelled during a wait.
func asLLMError(err error) error {
	var llmErr *llm.Error
	if errors.As(err, &llmErr) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &llm.Error{Type: llm.ErrorTypeNetwork, Message: "call cancelled", ProviderErr: err}
	}
	return llm.NewProviderError("backend returned an untyped error", err)
}

var _ llm.Client = (*Wrapper)(nil)

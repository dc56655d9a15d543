package retry

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"stylist/internal/fault"
)

// Policy parameterizes one retry loop. Every provider call in the service
// goes through the same executor with a per-call policy instead of ad-hoc
// retry code at each call site.
type Policy struct {
	MaxAttempts    int
	BaseBackoff    time.Duration
	MaxBackoff     time.Duration
	AttemptTimeout time.Duration
	RetryableKinds []fault.Kind
}

// TransientOnly is the policy shared by single-shot provider calls: retry
// network-class failures, never validation or explicit rejections.
func TransientOnly(maxAttempts int, attemptTimeout time.Duration) Policy {
	return Policy{
		MaxAttempts:    maxAttempts,
		BaseBackoff:    time.Second,
		MaxBackoff:     30 * time.Second,
		AttemptTimeout: attemptTimeout,
		RetryableKinds: []fault.Kind{
			fault.KindRateLimited,
			fault.KindTimeout,
			fault.KindUpstreamUnavailable,
		},
	}
}

// Outcome reports the result of one executed retry loop. It exists only for
// the duration of that loop; callers read Err and can log the rest.
type Outcome struct {
	Attempts int
	Elapsed  time.Duration
	Err      error
}

// Executor runs operations under a policy. The sleep and jitter hooks are
// injectable so unit tests run without wall-clock delays.
type Executor struct {
	logger zerolog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(d time.Duration) time.Duration
}

// ExecutorOption customizes an Executor.
type ExecutorOption func(*Executor)

// WithSleep replaces the backoff sleep, used by tests to advance instantly.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) ExecutorOption {
	return func(e *Executor) {
		if sleep != nil {
			e.sleep = sleep
		}
	}
}

// WithJitter replaces the jitter function.
func WithJitter(jitter func(d time.Duration) time.Duration) ExecutorOption {
	return func(e *Executor) {
		if jitter != nil {
			e.jitter = jitter
		}
	}
}

// NewExecutor builds an executor logging retry activity at debug level.
func NewExecutor(logger *zerolog.Logger, opts ...ExecutorOption) *Executor {
	l := zerolog.New(io.Discard)
	if logger != nil {
		l = *logger
	}
	e := &Executor{
		logger: l,
		sleep:  sleepContext,
		jitter: defaultJitter,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Do runs op until it succeeds, a non-retryable kind occurs, the policy's
// attempts are exhausted, or ctx is done. Each attempt runs under its own
// timeout when the policy sets one; a per-attempt deadline classifies as a
// Timeout kind, which the policy may retry. At most one attempt is in
// flight at any moment.
func (e *Executor) Do(ctx context.Context, policy Policy, op func(ctx context.Context) error) Outcome {
	maxAttempts := policy.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	start := time.Now()
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			delay := e.backoff(policy, attempt)
			e.logger.Debug().
				Int("attempt", attempt).
				Int("max_attempts", maxAttempts).
				Dur("backoff", delay).
				Err(lastErr).
				Msg("retry: backing off before next attempt")
			if err := e.sleep(ctx, delay); err != nil {
				return Outcome{Attempts: attempt - 1, Elapsed: time.Since(start), Err: err}
			}
		}

		lastErr = e.attempt(ctx, policy, op)
		if lastErr == nil {
			return Outcome{Attempts: attempt, Elapsed: time.Since(start)}
		}
		if errors.Is(lastErr, context.Canceled) {
			return Outcome{Attempts: attempt, Elapsed: time.Since(start), Err: lastErr}
		}
		if !kindIn(fault.KindOf(lastErr), policy.RetryableKinds) {
			e.logger.Debug().Err(lastErr).Msg("retry: failure kind not retryable")
			return Outcome{Attempts: attempt, Elapsed: time.Since(start), Err: lastErr}
		}
	}
	e.logger.Warn().Int("attempts", maxAttempts).Err(lastErr).Msg("retry: attempts exhausted")
	return Outcome{Attempts: maxAttempts, Elapsed: time.Since(start), Err: lastErr}
}

func (e *Executor) attempt(ctx context.Context, policy Policy, op func(ctx context.Context) error) error {
	attemptCtx := ctx
	cancel := context.CancelFunc(func() {})
	if policy.AttemptTimeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, policy.AttemptTimeout)
	}
	defer cancel()

	err := op(attemptCtx)
	if err == nil {
		return nil
	}
	// A per-attempt deadline surfaces as a Timeout kind unless the parent
	// context is the one that expired.
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return fault.Wrap(fault.KindTimeout, "attempt deadline exceeded", err)
	}
	return err
}

func (e *Executor) backoff(policy Policy, attempt int) time.Duration {
	base := policy.BaseBackoff
	if base <= 0 {
		base = time.Second
	}
	max := policy.MaxBackoff
	if max <= 0 {
		max = 30 * time.Second
	}
	delay := base << uint(attempt-2) // attempt 2 sleeps base, 3 sleeps 2*base, ...
	if delay > max || delay <= 0 {
		delay = max
	}
	return delay + e.jitter(delay)
}

func kindIn(kind fault.Kind, kinds []fault.Kind) bool {
	for _, k := range kinds {
		if k == kind {
			return true
		}
	}
	return false
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// defaultJitter adds up to 25% of the delay to avoid synchronized retries.
func defaultJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(d)/4 + 1))
}

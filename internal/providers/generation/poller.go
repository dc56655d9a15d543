package generation

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"stylist/internal/fault"
	"stylist/internal/infra"
)

const (
	// DefaultBudget is the wall-clock ceiling for one generation job,
	// measured from successful submission.
	DefaultBudget = 120 * time.Second

	// DefaultPollInterval is the first wait before checking the record.
	DefaultPollInterval = 3 * time.Second

	// maxPollInterval bounds the grown interval.
	maxPollInterval = 10 * time.Second

	// intervalGrowth stretches the wait after every pending answer so a
	// slow task costs fewer status calls.
	intervalGrowth = 1.5
)

// TaskAPI is the slice of the provider client the poller needs.
type TaskAPI interface {
	Submit(ctx context.Context, req SubmitRequest) (string, error)
	Poll(ctx context.Context, taskID string) (*PollStatus, error)
	Download(ctx context.Context, resultURL string) ([]byte, error)
}

// PollerOption adjusts poller construction.
type PollerOption func(*Poller)

// WithBudget overrides the wall-clock budget per job.
func WithBudget(d time.Duration) PollerOption {
	return func(p *Poller) {
		if d > 0 {
			p.budget = d
		}
	}
}

// WithPollInterval overrides the initial poll interval.
func WithPollInterval(d time.Duration) PollerOption {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) PollerOption {
	return func(p *Poller) {
		if now != nil {
			p.now = now
		}
	}
}

// WithSleep replaces the inter-poll wait.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) PollerOption {
	return func(p *Poller) {
		if sleep != nil {
			p.sleep = sleep
		}
	}
}

// Poller drives a generation job from submission to a terminal state. It
// never blocks past its budget: a task the provider keeps reporting as
// pending ends as TimedOut, which is a distinct outcome from a task the
// provider reported as failed.
type Poller struct {
	api      TaskAPI
	logger   *infra.Logger
	budget   time.Duration
	interval time.Duration
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewPoller wraps the provider client in a budgeted polling loop.
func NewPoller(api TaskAPI, logger *infra.Logger, opts ...PollerOption) *Poller {
	if logger == nil {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	p := &Poller{
		api:      api,
		logger:   logger,
		budget:   DefaultBudget,
		interval: DefaultPollInterval,
		now:      time.Now,
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run submits the task and polls it to completion. The returned Job is
// always in a terminal state and carries either a Result or an Err; the
// error return mirrors job.Err for convenience.
func (p *Poller) Run(ctx context.Context, req SubmitRequest) (*Job, error) {
	job := &Job{ID: uuid.NewString(), State: StateCreated}
	log := p.logger.With().Str("job_id", job.ID).Logger()

	taskID, err := p.api.Submit(ctx, req)
	if err != nil {
		return p.fail(job, fmt.Errorf("generation: submit: %w", err)), job.Err
	}
	job.ProviderTaskID = taskID
	job.State = StateSubmitted
	job.SubmittedAt = p.now()
	job.Deadline = job.SubmittedAt.Add(p.budget)
	log.Info().Str("task_id", taskID).Time("deadline", job.Deadline).Msg("generation: job submitted")

	interval := p.interval
	for {
		if err := p.sleep(ctx, interval); err != nil {
			return p.fail(job, fmt.Errorf("generation: canceled while waiting: %w", err)), job.Err
		}
		if !p.now().Before(job.Deadline) {
			job.State = StateTimedOut
			job.Err = fault.New(fault.KindTimeout, "generation did not finish within the time budget")
			log.Warn().Int("attempts", job.Attempts).Msg("generation: job timed out")
			return job, job.Err
		}

		job.State = StatePolling
		job.Attempts++
		status, err := p.api.Poll(ctx, taskID)
		if err != nil {
			if ctx.Err() != nil {
				return p.fail(job, fmt.Errorf("generation: canceled: %w", ctx.Err())), job.Err
			}
			switch fault.KindOf(err) {
			case fault.KindRateLimited, fault.KindTimeout, fault.KindUpstreamUnavailable, fault.KindUnknown:
				// A flaky status endpoint does not condemn the task; the
				// budget check above bounds how long we keep trying.
				log.Warn().Err(err).Int("attempt", job.Attempts).Msg("generation: status check failed")
				interval = growInterval(interval)
				continue
			default:
				return p.fail(job, err), job.Err
			}
		}

		switch {
		case status.Pending:
			interval = growInterval(interval)
		case status.Succeeded:
			data, err := p.api.Download(ctx, status.ResultURL)
			if err != nil {
				return p.fail(job, fmt.Errorf("generation: download result: %w", err)), job.Err
			}
			job.State = StateSucceeded
			job.Result = &Result{URL: status.ResultURL, Data: data}
			log.Info().Int("attempts", job.Attempts).Int("bytes", len(data)).Msg("generation: job succeeded")
			return job, nil
		default:
			return p.fail(job, fault.New(fault.KindUpstreamRejected,
				fmt.Sprintf("generation failed: %s", status.ErrorMessage))), job.Err
		}
	}
}

func (p *Poller) fail(job *Job, err error) *Job {
	job.State = StateFailed
	job.Err = err
	p.logger.Warn().Str("job_id", job.ID).Err(err).Msg("generation: job failed")
	return job
}

func growInterval(d time.Duration) time.Duration {
	grown := time.Duration(float64(d) * intervalGrowth)
	if grown > maxPollInterval {
		return maxPollInterval
	}
	return grown
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

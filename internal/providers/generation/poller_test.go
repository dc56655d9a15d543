package generation

import (
	"context"
	"testing"
	"time"

	"stylist/internal/fault"
)

type pollStep struct {
	status *PollStatus
	err    error
}

type fakeAPI struct {
	taskID      string
	submitErr   error
	steps       []pollStep
	pollCalls   int
	data        []byte
	downloadErr error
}

func (f *fakeAPI) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	if f.submitErr != nil {
		return "", f.submitErr
	}
	return f.taskID, nil
}

func (f *fakeAPI) Poll(ctx context.Context, taskID string) (*PollStatus, error) {
	f.pollCalls++
	if f.pollCalls > len(f.steps) {
		return &PollStatus{Pending: true}, nil
	}
	step := f.steps[f.pollCalls-1]
	return step.status, step.err
}

func (f *fakeAPI) Download(ctx context.Context, resultURL string) ([]byte, error) {
	if f.downloadErr != nil {
		return nil, f.downloadErr
	}
	return f.data, nil
}

// fakeTime drives the poller without real waiting: every sleep advances
// the clock by exactly the requested duration.
type fakeTime struct {
	now    time.Time
	sleeps []time.Duration
}

func newFakeTime() *fakeTime {
	return &fakeTime{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeTime) Now() time.Time { return f.now }

func (f *fakeTime) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.now = f.now.Add(d)
	f.sleeps = append(f.sleeps, d)
	return nil
}

func newTestPoller(api TaskAPI, clock *fakeTime) *Poller {
	return NewPoller(api, nil, WithClock(clock.Now), WithSleep(clock.Sleep))
}

func TestRunSucceedsAfterPending(t *testing.T) {
	api := &fakeAPI{
		taskID: "task-1",
		steps: []pollStep{
			{status: &PollStatus{Pending: true}},
			{status: &PollStatus{Pending: true}},
			{status: &PollStatus{Succeeded: true, ResultURL: "https://cdn.nb/out.png"}},
		},
		data: []byte("png-bytes"),
	}
	clock := newFakeTime()
	poller := newTestPoller(api, clock)

	job, err := poller.Run(context.Background(), SubmitRequest{Prompt: "p", SourceImageURL: "u"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if job.State != StateSucceeded {
		t.Fatalf("state = %q", job.State)
	}
	if job.Attempts != 3 {
		t.Fatalf("attempts = %d, want 3", job.Attempts)
	}
	if job.Result == nil || string(job.Result.Data) != "png-bytes" {
		t.Fatalf("result = %+v", job.Result)
	}
	if job.ProviderTaskID != "task-1" {
		t.Fatalf("provider task id = %q", job.ProviderTaskID)
	}
	want := []time.Duration{3 * time.Second, 4500 * time.Millisecond, 6750 * time.Millisecond}
	if len(clock.sleeps) != len(want) {
		t.Fatalf("sleeps = %v", clock.sleeps)
	}
	for i, d := range want {
		if clock.sleeps[i] != d {
			t.Fatalf("sleep[%d] = %v, want %v", i, clock.sleeps[i], d)
		}
	}
}

func TestRunTimesOutWhilePending(t *testing.T) {
	api := &fakeAPI{taskID: "task-1"}
	clock := newFakeTime()
	poller := newTestPoller(api, clock)

	job, err := poller.Run(context.Background(), SubmitRequest{Prompt: "p", SourceImageURL: "u"})
	if job.State != StateTimedOut {
		t.Fatalf("state = %q, want timed out", job.State)
	}
	if fault.KindOf(err) != fault.KindTimeout {
		t.Fatalf("kind = %q, want timeout", fault.KindOf(err))
	}
	// Interval sequence: 3, 4.5, 6.75, then capped at 10. The 14th wait
	// pushes the clock past the 120s budget before another status call.
	if job.Attempts != 13 {
		t.Fatalf("attempts = %d, want 13", job.Attempts)
	}
	if api.pollCalls != 13 {
		t.Fatalf("poll calls = %d", api.pollCalls)
	}
	for _, d := range clock.sleeps {
		if d > maxPollInterval {
			t.Fatalf("sleep %v exceeds cap", d)
		}
	}
}

func TestRunFailsWhenProviderRejects(t *testing.T) {
	api := &fakeAPI{
		taskID: "task-1",
		steps: []pollStep{
			{status: &PollStatus{ErrorMessage: "content policy"}},
		},
	}
	clock := newFakeTime()
	poller := newTestPoller(api, clock)

	job, err := poller.Run(context.Background(), SubmitRequest{Prompt: "p", SourceImageURL: "u"})
	if job.State != StateFailed {
		t.Fatalf("state = %q, want failed", job.State)
	}
	if fault.KindOf(err) != fault.KindUpstreamRejected {
		t.Fatalf("kind = %q", fault.KindOf(err))
	}
	if api.pollCalls != 1 {
		t.Fatalf("poll calls = %d, want 1", api.pollCalls)
	}
}

func TestRunToleratesFlakyStatusEndpoint(t *testing.T) {
	api := &fakeAPI{
		taskID: "task-1",
		steps: []pollStep{
			{err: fault.New(fault.KindUpstreamUnavailable, "status check hiccup")},
			{status: &PollStatus{Succeeded: true, ResultURL: "https://cdn.nb/out.png"}},
		},
		data: []byte("x"),
	}
	clock := newFakeTime()
	poller := newTestPoller(api, clock)

	job, err := poller.Run(context.Background(), SubmitRequest{Prompt: "p", SourceImageURL: "u"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if job.State != StateSucceeded {
		t.Fatalf("state = %q", job.State)
	}
	if job.Attempts != 2 {
		t.Fatalf("attempts = %d, want 2", job.Attempts)
	}
}

func TestRunFailsFastOnSubmitError(t *testing.T) {
	api := &fakeAPI{submitErr: fault.New(fault.KindInvalidInput, "bad prompt")}
	clock := newFakeTime()
	poller := newTestPoller(api, clock)

	job, err := poller.Run(context.Background(), SubmitRequest{})
	if job.State != StateFailed {
		t.Fatalf("state = %q", job.State)
	}
	if fault.KindOf(err) != fault.KindInvalidInput {
		t.Fatalf("kind = %q", fault.KindOf(err))
	}
	if api.pollCalls != 0 {
		t.Fatalf("poll calls = %d, want 0", api.pollCalls)
	}
	if job.Attempts != 0 {
		t.Fatalf("attempts = %d", job.Attempts)
	}
}

func TestRunStopsWhenCallerCancels(t *testing.T) {
	api := &fakeAPI{taskID: "task-1"}
	clock := newFakeTime()
	poller := newTestPoller(api, clock)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	job, err := poller.Run(ctx, SubmitRequest{Prompt: "p", SourceImageURL: "u"})
	if job.State != StateFailed {
		t.Fatalf("state = %q", job.State)
	}
	if err == nil {
		t.Fatalf("expected cancellation error")
	}
	if api.pollCalls != 0 {
		t.Fatalf("poll calls = %d, want 0", api.pollCalls)
	}
}

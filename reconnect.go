package pwmixer

import (
	"context"
	"time"
)

// Reconnector retries the audio server connection with capped backoff
// (2/4/8/16/30s) whenever the controller's run loop exits unexpectedly,
// generalized from the teacher's adaptive device-poll backoff idiom.
type Reconnector struct {
	steps   []time.Duration
	attempt int
}

func NewReconnector() *Reconnector {
	return &Reconnector{steps: []time.Duration{
		2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second, 30 * time.Second,
	}}
}

// Next returns the backoff delay for the current attempt and advances
// the internal counter, capping at the last configured step.
func (r *Reconnector) Next() time.Duration {
	idx := r.attempt
	if idx >= len(r.steps) {
		idx = len(r.steps) - 1
	}
	r.attempt++
	return r.steps[idx]
}

// Reset clears the backoff state after a successful, sustained
// connection.
func (r *Reconnector) Reset() {
	r.attempt = 0
}

// Run drives runFn (the controller's Run) in a loop, applying backoff
// between attempts and stopping when ctx is canceled. If runFn survives
// longer than settleAfter, the backoff resets, so a long-lived session
// losing the audio server later starts its backoff again from the first
// step rather than continuing to escalate.
func (r *Reconnector) Run(ctx context.Context, settleAfter time.Duration, runFn func(ctx context.Context) error) {
	for {
		if ctx.Err() != nil {
			return
		}
		start := time.Now()
		err := runFn(ctx)
		if ctx.Err() != nil {
			return
		}
		if time.Since(start) >= settleAfter {
			r.Reset()
		}
		_ = err

		delay := r.Next()
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

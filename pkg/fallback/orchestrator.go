package fallback

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/kkkqkx123/open-agent-sub001/pkg/admission"
	"github.com/kkkqkx123/open-agent-sub001/pkg/backend"
	"github.com/kkkqkx123/open-agent-sub001/pkg/breaker"
)

// Target is one executable step in a fallback chain. The orchestrator
// never resolves targets itself; the caller binds each target's
// execution (a model call, a pool call) into Execute.
type Target struct {
	// Name is the target's stable identity. It keys the circuit breaker
	// and appears in attempt history.
	Name string

	// Scopes are the admission scopes a call against this target must
	// pass, outermost first.
	Scopes []admission.Scope

	// Execute runs one attempt against the target.
	Execute func(ctx context.Context) (*backend.Response, error)
}

// Plan describes one fallback-governed call.
type Plan struct {
	// Targets is the ordered chain, primary first.
	Targets []Target

	// MaxAttempts bounds execution attempts across the whole chain.
	// Targets skipped on an open breaker do not consume attempts.
	MaxAttempts int

	// RetryDelay pauses between consecutive failed attempts.
	RetryDelay time.Duration

	// Breaker configures the per-target circuit breakers.
	Breaker breaker.Settings
}

// Orchestrator walks fallback chains. It owns the breaker registry and
// attempt history shared by all calls; admission is consulted per
// target and rolled back on rejection.
type Orchestrator struct {
	breakers  *breaker.Registry
	admission *admission.Manager
	history   *History
	logger    *slog.Logger
}

// NewOrchestrator creates an orchestrator on shared breaker and
// admission state.
func NewOrchestrator(breakers *breaker.Registry, adm *admission.Manager) *Orchestrator {
	return &Orchestrator{
		breakers:  breakers,
		admission: adm,
		history:   NewHistory(),
		logger:    slog.Default().With("component", "fallback"),
	}
}

// History exposes the shared attempt history.
func (o *Orchestrator) History() *History {
	return o.history
}

// Breakers exposes the shared breaker registry for status reporting.
func (o *Orchestrator) Breakers() *breaker.Registry {
	return o.breakers
}

// Execute walks the plan's chain until a target succeeds or the attempt
// budget is spent.
//
// Per target: an open breaker skips the target without consuming an
// attempt; an admission rejection consumes an attempt and advances; an
// execution failure consumes an attempt, feeds the breaker and
// advances. The first success returns immediately.
func (o *Orchestrator) Execute(ctx context.Context, requestID string, plan Plan) (*backend.Response, error) {
	maxAttempts := plan.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = len(plan.Targets)
	}

	var delay backoff.BackOff = &backoff.ZeroBackOff{}
	if plan.RetryDelay > 0 {
		delay = backoff.NewConstantBackOff(plan.RetryDelay)
	}

	attempts := 0
	outcomes := make([]Outcome, 0, len(plan.Targets))

	for _, target := range plan.Targets {
		if attempts >= maxAttempts {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		br := o.breakers.GetWithSettings(target.Name, plan.Breaker)
		if !br.CanExecute() {
			o.logger.Debug("target skipped, breaker open",
				"request_id", requestID,
				"target", target.Name,
			)
			outcomes = append(outcomes, Outcome{
				Target:  target.Name,
				Skipped: true,
				Reason:  "circuit breaker open",
			})
			continue
		}

		if attempts > 0 {
			if err := o.pause(ctx, delay.NextBackOff()); err != nil {
				return nil, err
			}
		}
		attempts++

		ticket, ok := o.admission.Acquire(ctx, target.Scopes...)
		if !ok {
			outcomes = append(outcomes, Outcome{
				Target: target.Name,
				Reason: "admission rejected",
			})
			o.history.Record(Attempt{
				RequestID: requestID,
				Target:    target.Name,
				Error:     "admission rejected",
				Timestamp: time.Now(),
			})
			continue
		}

		start := time.Now()
		resp, err := target.Execute(ctx)
		ticket.Release()
		elapsed := time.Since(start)

		if err == nil {
			br.RecordSuccess()
			o.history.Record(Attempt{
				RequestID: requestID,
				Target:    target.Name,
				Model:     resp.Model,
				Success:   true,
				Timestamp: time.Now(),
				Elapsed:   elapsed,
			})
			if attempts > 1 || len(outcomes) > 0 {
				o.logger.Info("request served via fallback",
					"request_id", requestID,
					"target", target.Name,
					"attempts", attempts,
				)
			}
			return resp, nil
		}

		br.RecordFailure()
		outcomes = append(outcomes, Outcome{Target: target.Name, Reason: err.Error()})
		o.history.Record(Attempt{
			RequestID: requestID,
			Target:    target.Name,
			Error:     err.Error(),
			Timestamp: time.Now(),
			Elapsed:   elapsed,
		})
		o.logger.Warn("fallback attempt failed",
			"request_id", requestID,
			"target", target.Name,
			"attempt", attempts,
			"error", err,
		)

		// A cancelled caller is not chain exhaustion, even on the last
		// target.
		if cerr := ctx.Err(); cerr != nil {
			return nil, cerr
		}
	}

	return nil, &ExhaustedError{
		RequestID: requestID,
		Attempts:  attempts,
		Outcomes:  outcomes,
	}
}

// pause sleeps for d, abandoning early when the context ends.
func (o *Orchestrator) pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/kkkqkx123/open-agent-sub001/pkg/admission"
	"github.com/kkkqkx123/open-agent-sub001/pkg/backend"
	"github.com/kkkqkx123/open-agent-sub001/pkg/breaker"
	"github.com/kkkqkx123/open-agent-sub001/pkg/fallback"
	"github.com/kkkqkx123/open-agent-sub001/pkg/routing"
)

// Wrapper is the calling surface for one configured target. Wrappers
// are cheap and stateless; all shared state lives in the runtime.
type Wrapper interface {
	// Name returns the wrapper's target name.
	Name() string

	// Generate runs one request through routing, admission, breakers
	// and fallback.
	Generate(ctx context.Context, req *backend.Request) (*backend.Response, error)
}

// Result carries an asynchronous Generate outcome.
type Result struct {
	Response *backend.Response
	Err      error
}

// GenerateAsync runs Generate in a goroutine and delivers the outcome
// on the returned channel. The channel is buffered; the result is never
// lost if the caller reads late.
func GenerateAsync(ctx context.Context, w Wrapper, req *backend.Request) <-chan Result {
	ch := make(chan Result, 1)
	go func() {
		resp, err := w.Generate(ctx, req)
		ch <- Result{Response: resp, Err: err}
	}()
	return ch
}

// TaskGroup returns a wrapper for a task group reference such as
// "fast_group" or "fast_group.echelon1".
func (r *Runtime) TaskGroup(reference string) (*TaskGroupWrapper, error) {
	ref, err := routing.ParseReference(reference)
	if err != nil {
		return nil, err
	}
	// Fail fast on unknown references; the chain is still resolved per
	// call so reloads take effect.
	if _, err := r.table.Resolve(ref); err != nil {
		return nil, err
	}
	return &TaskGroupWrapper{runtime: r, ref: ref}, nil
}

// Pool returns a wrapper for a configured pool.
func (r *Runtime) Pool(name string) (*PoolWrapper, error) {
	if _, err := r.pools.Get(name); err != nil {
		return nil, err
	}
	return &PoolWrapper{runtime: r, name: name}, nil
}

// TaskGroupWrapper serves requests against a task group reference,
// walking the group's fallback chain on failure.
type TaskGroupWrapper struct {
	runtime *Runtime
	ref     routing.GroupReference
}

// Name returns the dotted reference this wrapper serves.
func (w *TaskGroupWrapper) Name() string {
	return w.ref.String()
}

// Generate executes the request. The fallback chain and limits are
// resolved against the current routing snapshot at call time.
func (w *TaskGroupWrapper) Generate(ctx context.Context, req *backend.Request) (*backend.Response, error) {
	r := w.runtime
	requestID := ensureRequestID(req)
	start := time.Now()

	plan, served, err := w.buildPlan(req)
	if err != nil {
		return nil, err
	}

	resp, err := r.orchestrator.Execute(ctx, requestID, plan)
	elapsed := time.Since(start)

	success := err == nil
	viaFallback := success && len(plan.Targets) > 0 && *served != plan.Targets[0].Name
	r.stats.RecordRequest(w.Name(), success, viaFallback, elapsed)
	r.metrics.recordRequest(w.Name(), resultLabel(err), elapsed)

	tokens := 0
	if resp != nil {
		tokens = resp.TokensUsed
	}
	r.usage.record(w.Name(), success, tokens)

	return resp, err
}

// buildPlan turns the group's fallback chain into executable targets.
// The returned served pointer names the target that produced the
// response, for fallback accounting.
func (w *TaskGroupWrapper) buildPlan(req *backend.Request) (fallback.Plan, *string, error) {
	r := w.runtime

	group, err := r.table.Group(w.ref.Group)
	if err != nil {
		return fallback.Plan{}, nil, err
	}
	chain, err := r.table.FallbackChain(w.ref)
	if err != nil {
		return fallback.Plan{}, nil, err
	}

	served := new(string)
	targets := make([]fallback.Target, 0, len(chain))
	for _, ref := range chain {
		ech, err := r.table.Echelon(ref)
		if err != nil {
			return fallback.Plan{}, nil, err
		}
		name := ech.Reference().String()
		call := w.echelonCall(ech, req)
		targets = append(targets, fallback.Target{
			Name: name,
			Scopes: []admission.Scope{
				{Level: admission.LevelGroup, Key: ref.Group},
				{Level: admission.LevelEchelon, Key: name},
			},
			Execute: func(ctx context.Context) (*backend.Response, error) {
				resp, err := call(ctx)
				if err == nil {
					*served = name
				}
				return resp, err
			},
		})
	}

	return fallback.Plan{
		Targets:     targets,
		MaxAttempts: group.Fallback.MaxAttempts,
		RetryDelay:  group.Fallback.RetryDelay,
		Breaker: breaker.Settings{
			FailureThreshold: group.Fallback.CircuitBreaker.FailureThreshold,
			RecoveryTime:     group.Fallback.CircuitBreaker.RecoveryTime,
		},
	}, served, nil
}

// echelonCall binds one attempt against an echelon: its models are
// tried in order, bounded by the echelon's retry budget.
func (w *TaskGroupWrapper) echelonCall(ech *routing.Echelon, req *backend.Request) func(ctx context.Context) (*backend.Response, error) {
	r := w.runtime
	exec := r.executors["default"]
	timeout := r.defaultTimeout(ech)

	retries := ech.MaxRetries
	if retries <= 0 || retries > len(ech.Models) {
		retries = len(ech.Models)
	}

	return func(ctx context.Context) (*backend.Response, error) {
		var lastErr error
		for _, model := range ech.Models[:retries] {
			callCtx, cancel := context.WithTimeout(ctx, timeout)
			resp, err := exec.Execute(callCtx, model, req)
			cancel()

			if err == nil {
				return resp, nil
			}
			lastErr = err
			if ctx.Err() != nil {
				return nil, err
			}
		}
		return nil, lastErr
	}
}

// PoolWrapper serves requests against one instance pool, with the
// pool's breaker and admission limits applied around the pool call.
type PoolWrapper struct {
	runtime *Runtime
	name    string
}

// Name returns the pool name.
func (w *PoolWrapper) Name() string {
	return w.name
}

// Generate executes the request against the pool. Instance rotation,
// per-instance retries and pool-to-pool fallback happen inside the
// pool manager; the orchestrator contributes the breaker and admission
// envelope.
func (w *PoolWrapper) Generate(ctx context.Context, req *backend.Request) (*backend.Response, error) {
	r := w.runtime
	requestID := ensureRequestID(req)
	start := time.Now()

	plan := fallback.Plan{
		Targets: []fallback.Target{{
			Name:   "pool:" + w.name,
			Scopes: []admission.Scope{{Level: admission.LevelPool, Key: w.name}},
			Execute: func(ctx context.Context) (*backend.Response, error) {
				return r.pools.Execute(ctx, w.name, req)
			},
		}},
		MaxAttempts: 1,
	}

	resp, err := r.orchestrator.Execute(ctx, requestID, plan)
	elapsed := time.Since(start)

	r.stats.RecordRequest(w.Name(), err == nil, false, elapsed)
	r.metrics.recordRequest(w.Name(), resultLabel(err), elapsed)

	tokens := 0
	if resp != nil {
		tokens = resp.TokensUsed
	}
	r.usage.record("pool:"+w.name, err == nil, tokens)

	return resp, err
}

func ensureRequestID(req *backend.Request) string {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	return req.ID
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, fallback.ErrExhausted):
		return "exhausted"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "error"
	}
}

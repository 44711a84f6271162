// Package backendtest provides a scriptable executor for tests.
package backendtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/kkkqkx123/open-agent-sub001/pkg/backend"
)

// Executor is a backend.Executor whose per-model behavior is scripted
// by tests. Models fail when marked failing; everything else succeeds
// with a canned response.
type Executor struct {
	mu      sync.Mutex
	failing map[string]bool
	calls   []string
	tokens  int
}

// New creates an executor where every model succeeds.
func New() *Executor {
	return &Executor{failing: make(map[string]bool)}
}

// SetFailing scripts a model to fail (or succeed again).
func (e *Executor) SetFailing(model string, failing bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failing[model] = failing
}

// SetTokens sets the token count reported on successful responses.
func (e *Executor) SetTokens(n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tokens = n
}

// Execute implements backend.Executor.
func (e *Executor) Execute(ctx context.Context, model string, req *backend.Request) (*backend.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.calls = append(e.calls, model)
	fail := e.failing[model]
	tokens := e.tokens
	e.mu.Unlock()

	if fail {
		return nil, fmt.Errorf("model %s unavailable", model)
	}
	return &backend.Response{
		Model:      model,
		Content:    "response from " + model,
		TokensUsed: tokens,
	}, nil
}

// Calls returns every model executed, in order.
func (e *Executor) Calls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.calls...)
}

// CallCount returns how many times a model was executed.
func (e *Executor) CallCount(model string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, m := range e.calls {
		if m == model {
			n++
		}
	}
	return n
}

// Reset clears the recorded calls.
func (e *Executor) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = nil
}

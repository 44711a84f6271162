package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/kkkqkx123/open-agent-sub001/pkg/storage"
)

// usageEvent is one settled request to fold into persisted usage state.
type usageEvent struct {
	target  string
	success bool
	tokens  int
}

// usageTracker persists per-target usage counters off the request path.
// Events are buffered on a channel and folded into storage by a single
// worker; persistence failures are logged and never fail a request.
type usageTracker struct {
	backend   storage.Backend
	events    chan usageEvent
	done      chan struct{}
	cron      *cron.Cron
	retention time.Duration
	logger    *slog.Logger
}

func newUsageTracker(backend storage.Backend, retention time.Duration) (*usageTracker, error) {
	t := &usageTracker{
		backend:   backend,
		events:    make(chan usageEvent, 256),
		done:      make(chan struct{}),
		cron:      cron.New(),
		retention: retention,
		logger:    slog.Default().With("component", "gateway.usage"),
	}

	// Prune stale records hourly.
	if _, err := t.cron.AddFunc("@every 1h", t.cleanup); err != nil {
		return nil, fmt.Errorf("failed to schedule usage cleanup: %w", err)
	}

	return t, nil
}

func (t *usageTracker) start() {
	go t.loop()
	t.cron.Start()
}

func (t *usageTracker) stop() {
	close(t.done)
	ctx := t.cron.Stop()
	<-ctx.Done()
}

// record enqueues an event. When the buffer is full the event is
// dropped rather than stalling the request path.
func (t *usageTracker) record(target string, success bool, tokens int) {
	select {
	case t.events <- usageEvent{target: target, success: success, tokens: tokens}:
	default:
		t.logger.Warn("usage event dropped, buffer full", "target", target)
	}
}

func (t *usageTracker) loop() {
	for {
		select {
		case ev := <-t.events:
			t.apply(ev)
		case <-t.done:
			// Drain what is already buffered before exiting.
			for {
				select {
				case ev := <-t.events:
					t.apply(ev)
				default:
					return
				}
			}
		}
	}
}

func (t *usageTracker) apply(ev usageEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	record, err := t.backend.Load(ctx, ev.target)
	if err != nil {
		t.logger.Error("failed to load usage record", "target", ev.target, "error", err)
		return
	}
	if record == nil {
		record = &storage.UsageRecord{Target: ev.target}
	}

	record.Requests++
	if ev.success {
		record.Successes++
	} else {
		record.Failures++
	}
	if ev.tokens > 0 {
		record.TokensUsed += uint64(ev.tokens)
	}
	record.LastUpdated = time.Now()

	if err := t.backend.Save(ctx, record); err != nil {
		t.logger.Error("failed to save usage record", "target", ev.target, "error", err)
	}
}

func (t *usageTracker) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	removed, err := t.backend.Cleanup(ctx, time.Now().Add(-t.retention))
	if err != nil {
		t.logger.Error("usage cleanup failed", "error", err)
		return
	}
	if removed > 0 {
		t.logger.Info("usage records pruned", "removed", removed)
	}
}

package background

import (
	"context"
	"fmt"
	"sync/atomic"

	"appraisal-fulfillment/pkg/metrics"

	"github.com/sourcegraph/conc"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("background",
	fx.Provide(NewTracker),
	fx.Invoke(registerShutdown),
)

// Tracker runs work that outlives the request that started it and lets
// shutdown wait for it. A panicking task is recovered and logged.
type Tracker struct {
	wg          conc.WaitGroup
	outstanding atomic.Int64
	closed      atomic.Bool
	metrics     *metrics.Metrics
}

func NewTracker(m *metrics.Metrics) *Tracker {
	return &Tracker{metrics: m}
}

// Go starts fn on its own goroutine. fn receives a context detached from the
// caller's cancellation so a client disconnect cannot abort it.
func (t *Tracker) Go(ctx context.Context, name string, fn func(ctx context.Context)) error {
	if t.closed.Load() {
		return fmt.Errorf("background tracker closed, rejecting %s", name)
	}

	detached := context.WithoutCancel(ctx)
	t.outstanding.Add(1)
	t.gauge(1)

	t.wg.Go(func() {
		defer func() {
			t.outstanding.Add(-1)
			t.gauge(-1)
			if r := recover(); r != nil {
				zap.L().Error("background task panicked", zap.String("task", name), zap.Any("panic", r))
			}
		}()
		fn(detached)
	})
	return nil
}

func (t *Tracker) Outstanding() int64 {
	return t.outstanding.Load()
}

// Wait blocks until every started task returns or ctx is done.
// Tasks started after Wait is called are rejected.
func (t *Tracker) Wait(ctx context.Context) error {
	t.closed.Store(true)

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for %d background tasks: %w", t.Outstanding(), ctx.Err())
	}
}

func (t *Tracker) gauge(delta float64) {
	if t.metrics != nil {
		t.metrics.BackgroundActive.Add(delta)
	}
}

func registerShutdown(lc fx.Lifecycle, t *Tracker) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			zap.L().Info("waiting for background tasks", zap.Int64("outstanding", t.Outstanding()))
			return t.Wait(ctx)
		},
	})
}

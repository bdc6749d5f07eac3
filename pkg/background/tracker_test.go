package background

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"appraisal-fulfillment/pkg/metrics"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func TestTrackerWaitsForTasks(t *testing.T) {
	tr := NewTracker(metrics.NewNop())

	release := make(chan struct{})
	var finished atomic.Int32
	for i := 0; i < 3; i++ {
		require.NoError(t, tr.Go(context.Background(), "run", func(context.Context) {
			<-release
			finished.Add(1)
		}))
	}
	require.EqualValues(t, 3, tr.Outstanding())

	close(release)
	require.NoError(t, tr.Wait(context.Background()))
	require.EqualValues(t, 3, finished.Load())
	require.Zero(t, tr.Outstanding())
}

func TestTrackerDetachesCancellation(t *testing.T) {
	tr := NewTracker(nil)

	ctx, cancel := context.WithCancel(context.Background())
	seen := make(chan error, 1)
	require.NoError(t, tr.Go(ctx, "run", func(ctx context.Context) {
		cancel()
		seen <- ctx.Err()
	}))

	require.NoError(t, tr.Wait(context.Background()))
	require.NoError(t, <-seen)
}

func TestTrackerWaitTimeout(t *testing.T) {
	tr := NewTracker(nil)
	block := make(chan struct{})
	defer close(block)

	require.NoError(t, tr.Go(context.Background(), "stuck", func(context.Context) { <-block }))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := tr.Wait(ctx)
	require.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestTrackerRejectsAfterWait(t *testing.T) {
	tr := NewTracker(nil)
	require.NoError(t, tr.Wait(context.Background()))
	require.Error(t, tr.Go(context.Background(), "late", func(context.Context) {}))
}

func TestTrackerRecoversPanic(t *testing.T) {
	tr := NewTracker(nil)
	require.NoError(t, tr.Go(context.Background(), "boom", func(context.Context) { panic("boom") }))
	require.NoError(t, tr.Wait(context.Background()))
	require.Zero(t, tr.Outstanding())
}

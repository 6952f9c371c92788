package main

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// ============================================================================
// Main loop
// ============================================================================
//
// Single cooperative loop, the only scheduler in the daemon:
//   - Poll the stack (accepts, received segments, posted work)
//   - Run one sampling pass
//   - Publish a broadcast if a reading changed
//   - Wait for new stack work or the sample interval, whichever comes first
//
// It returns only when ctx is canceled.
// ============================================================================

// runLoop drives the stack and the sampler until ctx is canceled.
// publish may be nil.
func runLoop(
	ctx context.Context,
	stack *Stack,
	sampler *Sampler,
	state *SensorState,
	interval time.Duration,
	publish func(StateBroadcast),
	logger *slog.Logger,
) error {
	if state == nil {
		return errors.New("loop: sensor state is nil")
	}

	last := state.Snapshot()
	first := true

	for {
		stack.Poll()

		sampler.Sample(state)

		snap := state.Snapshot()
		if publish != nil && (first || !snap.sameReadings(last)) {
			publish(BroadcastSensorChanged{State: snap, At: snap.SampledAt})
		}
		last = snap
		first = false

		if err := stack.WaitForWork(ctx, interval); err != nil {
			logger.Info("main loop stopping", "reason", err)
			return nil
		}
	}
}

// requestSnapshot asks the loop for a copy of the state.
// Safe to call from any goroutine.
func requestSnapshot(ctx context.Context, stack *Stack, state *SensorState) (StateSnapshot, error) {
	reply := make(chan StateSnapshot, 1)
	stack.Post(func() {
		reply <- state.Snapshot()
	})

	waitCtx := ctx
	if _, has := ctx.Deadline(); !has {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, snapshotTimeout)
		defer cancel()
	}

	select {
	case <-waitCtx.Done():
		return StateSnapshot{}, waitCtx.Err()
	case snap := <-reply:
		return snap, nil
	}
}

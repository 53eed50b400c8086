package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/courtres/internal/reservation"
)

func TestHostTickDispatchesDue(t *testing.T) {
	h := newHarness(t)
	due := h.scheduled(t, validParams, t0)
	later := h.scheduled(t, validParams, t0.Add(time.Hour))

	host := &Host{Actors: h.actors}
	host.Tick(context.Background())
	host.Wait()

	require.Equal(t, 1, h.booker.count())
	assert.Equal(t, due.ID(), h.booker.calls[0].id)
	assert.Nil(t, h.state(t, due).NextWakeTime, "fired alarm is claimed")
	assert.NotNil(t, h.state(t, later).NextWakeTime)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.WakeTotal.WithLabelValues("done")))
}

func TestHostNoConcurrentWakesPerActor(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.booker.block = make(chan struct{})
	a := h.scheduled(t, validParams, t0)

	host := &Host{Actors: h.actors}
	host.Tick(ctx)
	require.Eventually(t, func() bool { return h.booker.count() == 1 }, time.Second, time.Millisecond)

	lease := t0.Add(h.actors.Config.Lease)
	s := h.state(t, a)
	require.NotNil(t, s.NextWakeTime)
	assert.True(t, s.NextWakeTime.Equal(lease), "running wake holds a lease, got %v", s.NextWakeTime)

	// the lease runs out while the first wake is still booking
	h.clock.Advance(h.actors.Config.Lease + time.Second)
	host.Tick(ctx)
	host.Tick(ctx)
	assert.Equal(t, 1, h.booker.count())
	assert.NotNil(t, h.state(t, a).NextWakeTime, "skipped alarm stays armed")

	close(h.booker.block)
	host.Wait()
	assert.Nil(t, h.state(t, a).NextWakeTime, "settled wake drops its lease")

	host.Tick(ctx)
	host.Wait()
	assert.Equal(t, 1, h.booker.count())
}

func TestHostCountsFatal(t *testing.T) {
	h := newHarness(t)
	h.booker.errs = []error{reservation.NewError(reservation.KindUncertain, reservation.StepCustomerConfirm, "no completion marker")}
	h.scheduled(t, validParams, t0)

	host := &Host{Actors: h.actors}
	host.Tick(context.Background())
	host.Wait()

	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.WakeTotal.WithLabelValues("fatal")))
	last, ok := h.status.last()
	require.True(t, ok)
	assert.Equal(t, reservation.StatusFail, last.status)
}

func TestHostRunStopsOnCancel(t *testing.T) {
	h := newHarness(t)
	h.scheduled(t, validParams, t0)
	ctx, cancel := context.WithCancel(context.Background())
	host := &Host{Actors: h.actors, Interval: 10 * time.Millisecond}

	done := make(chan error, 1)
	go func() { done <- host.Run(ctx) }()
	require.Eventually(t, func() bool { return h.booker.count() == 1 }, time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

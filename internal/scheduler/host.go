package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/example/courtres/internal/actor"
)

// Host polls the backend for due alarms and runs each actor's OnWake.
type Host struct {
	Actors   *Actors
	Interval time.Duration
	Batch    int

	mu       sync.Mutex
	inflight map[string]struct{}
	wg       sync.WaitGroup
}

func (h *Host) Run(ctx context.Context) error {
	interval := h.Interval
	if interval <= 0 {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	// kick immediately
	h.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			h.wg.Wait()
			return ctx.Err()
		case <-t.C:
			h.Tick(ctx)
		}
	}
}

// Tick claims every due alarm once and starts its wake. It does not wait for
// the wakes to finish. A claimed alarm stays parked at now+lease until the
// wake settles it, so a wake lost to a crash fires again after the lease.
func (h *Host) Tick(ctx context.Context) {
	log := h.logger()
	now := h.clock().Now()
	batch := h.Batch
	if batch <= 0 {
		batch = 50
	}
	lease := h.Actors.Config.Lease
	if lease <= 0 {
		lease = DefaultConfig().Lease
	}

	due, err := h.Actors.Backend.DueAlarms(ctx, now, batch)
	if err != nil {
		log.Error("due alarms query failed", zap.Error(err))
		return
	}

	for _, a := range due {
		if !h.acquire(a.ID) {
			continue
		}
		ok, err := h.Actors.Backend.ClaimAlarm(ctx, a, now.Add(lease))
		if err != nil || !ok {
			if err != nil {
				log.Error("claim alarm failed", zap.String("actor_id", a.ID), zap.Error(err))
			}
			h.release(a.ID)
			continue
		}

		a := a
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			defer h.release(a.ID)
			h.wake(ctx, a, now)
		}()
	}
}

// Wait blocks until every started wake has returned.
func (h *Host) Wait() { h.wg.Wait() }

func (h *Host) wake(ctx context.Context, a actor.Alarm, polledAt time.Time) {
	m := h.Actors.Metrics
	m.WakeStarted()
	defer m.WakeFinished()

	log := h.logger().With(zap.String("actor_id", a.ID))
	log.Debug("wake", zap.Time("alarm_at", a.At), zap.Duration("lag", polledAt.Sub(a.At)))

	err := h.safeWake(ctx, a.ID)
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		log.Info("wake interrupted", zap.Error(err))
		m.IncWake("interrupted")
	default:
		log.Error("wake failed", zap.Error(err))
		m.IncWake("fatal")
	}
}

func (h *Host) safeWake(ctx context.Context, id string) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic in wake: %v", p)
		}
	}()
	return h.Actors.Get(id).OnWake(ctx)
}

func (h *Host) acquire(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.inflight == nil {
		h.inflight = map[string]struct{}{}
	}
	if _, busy := h.inflight[id]; busy {
		return false
	}
	h.inflight[id] = struct{}{}
	return true
}

func (h *Host) release(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.inflight, id)
}

func (h *Host) clock() actor.Clock {
	if h.Actors.Clock != nil {
		return h.Actors.Clock
	}
	return actor.SystemClock{}
}

func (h *Host) logger() *zap.Logger {
	if h.Actors.Log != nil {
		return h.Actors.Log
	}
	return zap.NewNop()
}

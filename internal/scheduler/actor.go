// Package scheduler runs reservation actors: each one holds a job's payload
// and execution time, wakes shortly before the booking window opens, and
// drives a single booking attempt per wake.
package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/example/courtres/internal/actor"
	"github.com/example/courtres/internal/obs"
	"github.com/example/courtres/internal/reservation"
	"github.com/example/courtres/internal/retry"
)

const (
	Namespace  = "RESERVE_ACTOR"
	NamePrefix = "reserve"

	keyParams     = "params"
	keyExecuteAt  = "execute_at"
	keyRetryState = "retry_state"
)

var (
	ErrNoExecuteAt   = errors.New("executeAt is required")
	ErrParamsNotJSON = errors.New("params must be a JSON object")
)

// StatusWriter records the outcome of a job. Writes are best-effort.
type StatusWriter interface {
	UpdateStatus(ctx context.Context, namespace, actorID string, status reservation.Status) error
}

type Config struct {
	Prefire     time.Duration
	MaxFineWait time.Duration
	Budget      retry.Budget
	// Lease is how long a claimed alarm stays parked before it fires again.
	// It must outlast the longest wake so only a crashed wake is repeated.
	Lease time.Duration
}

func DefaultConfig() Config {
	return Config{
		Prefire:     10 * time.Second,
		MaxFineWait: 20 * time.Second,
		Budget:      retry.DefaultBudget(),
		Lease:       6 * time.Minute,
	}
}

// Actors builds ReserveActor handles sharing one backend and one set of
// collaborators.
type Actors struct {
	Backend actor.Backend
	Booker  reservation.Booker
	Routes  *reservation.Routes
	Status  StatusWriter
	Clock   actor.Clock
	Config  Config
	Log     *zap.Logger
	Metrics *obs.Metrics
}

// New returns a fresh actor name and its derived id.
func (a *Actors) New() (name, id string) {
	name = actor.NewName(NamePrefix)
	return name, actor.IDFromName(name)
}

func (a *Actors) Get(id string) *ReserveActor {
	log := a.Log
	if log == nil {
		log = zap.NewNop()
	}
	clock := a.Clock
	if clock == nil {
		clock = actor.SystemClock{}
	}
	return &ReserveActor{
		id:    id,
		st:    a.Backend.Storage(id),
		a:     a,
		clock: clock,
		log:   log.With(zap.String("actor_id", id)),
	}
}

type ReserveActor struct {
	id    string
	st    actor.Storage
	a     *Actors
	clock actor.Clock
	log   *zap.Logger
}

// State is a read-only view of an actor's durable state.
type State struct {
	ID           string          `json:"id"`
	Params       json.RawMessage `json:"params,omitempty"`
	ExecuteAt    *time.Time      `json:"executeAt,omitempty"`
	NextWakeTime *time.Time      `json:"nextWakeTime,omitempty"`
	RetryState   *retry.State    `json:"retryState,omitempty"`
}

func (s State) Empty() bool {
	return s.Params == nil && s.ExecuteAt == nil && s.NextWakeTime == nil && s.RetryState == nil
}

func (r *ReserveActor) ID() string { return r.id }

// InitialWake is executeAt minus the prefire margin, never earlier than now.
func InitialWake(executeAt, now time.Time, prefire time.Duration) time.Time {
	wake := executeAt.Add(-prefire)
	if wake.Before(now) {
		return now
	}
	return wake
}

// Schedule overwrites any prior state and arms the first wake.
func (r *ReserveActor) Schedule(ctx context.Context, params json.RawMessage, executeAt time.Time) (time.Time, error) {
	if executeAt.IsZero() {
		return time.Time{}, ErrNoExecuteAt
	}
	trimmed := bytes.TrimSpace(params)
	if len(trimmed) == 0 || trimmed[0] != '{' || !json.Valid(trimmed) {
		return time.Time{}, ErrParamsNotJSON
	}

	if err := r.st.Put(ctx, keyParams, trimmed); err != nil {
		return time.Time{}, err
	}
	ms := strconv.FormatInt(executeAt.UnixMilli(), 10)
	if err := r.st.Put(ctx, keyExecuteAt, []byte(ms)); err != nil {
		return time.Time{}, err
	}
	if err := r.st.Delete(ctx, keyRetryState); err != nil {
		return time.Time{}, err
	}
	wake := actor.Millis(InitialWake(executeAt, r.clock.Now(), r.a.Config.Prefire))
	if err := r.st.SetAlarm(ctx, wake); err != nil {
		return time.Time{}, err
	}
	r.log.Info("scheduled",
		zap.Time("execute_at", executeAt),
		zap.Time("wake_at", wake))
	return wake, nil
}

func (r *ReserveActor) GetState(ctx context.Context) (State, error) {
	s := State{ID: r.id}
	raw, ok, err := r.st.Get(ctx, keyParams)
	if err != nil {
		return s, err
	}
	if ok {
		s.Params = json.RawMessage(raw)
	}
	if at, ok, err := r.executeAt(ctx); err != nil {
		return s, err
	} else if ok {
		s.ExecuteAt = &at
	}
	if at, ok, err := r.st.GetAlarm(ctx); err != nil {
		return s, err
	} else if ok {
		s.NextWakeTime = &at
	}
	var rs retry.State
	if ok, err := actor.GetJSON(ctx, r.st, keyRetryState, &rs); err != nil {
		return s, err
	} else if ok {
		s.RetryState = &rs
	}
	return s, nil
}

// Rollback disarms the alarm and erases every durable key.
func (r *ReserveActor) Rollback(ctx context.Context) error {
	if err := r.st.DeleteAlarm(ctx); err != nil {
		return err
	}
	if err := r.st.DeleteAll(ctx); err != nil {
		return err
	}
	r.log.Info("rolled back")
	return nil
}

func (r *ReserveActor) executeAt(ctx context.Context) (time.Time, bool, error) {
	raw, ok, err := r.st.Get(ctx, keyExecuteAt)
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	ms, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("execute_at %q: %w", raw, err)
	}
	return time.UnixMilli(ms), true, nil
}

// OnWake handles one alarm. A returned error is fatal for this job and has
// already been recorded as failed.
func (r *ReserveActor) OnWake(ctx context.Context) error {
	cfg := r.a.Config
	now := r.clock.Now()

	var prev *retry.State
	var rs retry.State
	ok, err := actor.GetJSON(ctx, r.st, keyRetryState, &rs)
	if err != nil {
		return err
	}
	if ok {
		prev = &rs
		if cfg.Budget.Exceeded(rs, now) {
			if err := actor.PutJSON(ctx, r.st, keyRetryState, cfg.Budget.Reset(now)); err != nil {
				return err
			}
			if err := r.st.SetAlarm(ctx, cfg.Budget.NextWake(now)); err != nil {
				return err
			}
			r.log.Warn("retry budget exhausted, window reset",
				zap.Int("attempt", rs.Attempt),
				zap.Time("window_started_at", rs.WindowStartedAt))
			r.a.Metrics.IncWake("budget_reset")
			return nil
		}
	}

	raw, _, err := r.st.Get(ctx, keyParams)
	if err != nil {
		return err
	}
	p, perr := reservation.DecodeParams(raw)
	executeAt, hasAt, err := r.executeAt(ctx)
	if err != nil {
		return err
	}
	if perr == nil && !hasAt {
		perr = ErrNoExecuteAt
	}
	if perr != nil {
		r.log.Warn("invalid job payload", zap.Error(perr))
		r.settle(ctx)
		r.markStatus(ctx, reservation.StatusFail)
		r.a.Metrics.IncWake("invalid")
		return nil
	}
	log := r.log.With(
		zap.Int("facility_id", p.FacilityID),
		zap.Int("court_no", p.CourtNo),
		zap.String("date", p.Date),
		zap.String("start", p.StartTime))

	route, ok := r.a.Routes.Resolve(p.FacilityID, p.CourtNo)
	if !ok {
		log.Warn("unsupported facility or court")
		r.settle(ctx)
		r.a.Metrics.IncWake("unsupported")
		return nil
	}

	remaining := executeAt.Sub(now)
	if remaining > cfg.MaxFineWait {
		// lead is capped at the fine-wait bound
		at := actor.Millis(executeAt.Add(-min(cfg.Prefire, cfg.MaxFineWait)))
		if err := r.st.SetAlarm(ctx, at); err != nil {
			return err
		}
		log.Info("woke early, re-armed", zap.Duration("remaining", remaining), zap.Time("wake_at", at))
		r.a.Metrics.IncWake("early")
		return nil
	}
	if remaining > 0 {
		if err := r.clock.Sleep(ctx, remaining); err != nil {
			return r.interrupted(ctx, err)
		}
	}

	// A started attempt runs to completion; shutdown only stops the next
	// one. The portal client's timeouts bound it.
	ctx = context.WithoutCancel(ctx)

	start := r.clock.Now()
	r.a.Metrics.ObserveFireDrift(start.Sub(executeAt))
	log.Info("booking", zap.Int("attempt", attemptOf(prev)+1))
	err = r.a.Booker.Book(ctx, r.id, p, route)
	done := r.clock.Now()

	if err == nil {
		r.settle(ctx)
		r.markStatus(ctx, reservation.StatusDone)
		if derr := r.st.Delete(ctx, keyRetryState); derr != nil {
			log.Warn("clear retry state", zap.Error(derr))
		}
		log.Info("booked")
		r.a.Metrics.IncWake("done")
		return nil
	}

	switch retry.Classify(err) {
	case retry.ClassTerminal:
		log.Warn("slot unavailable", zap.Error(err))
		r.settle(ctx)
		r.markStatus(ctx, reservation.StatusFail)
		r.a.Metrics.IncWake("terminal")
		return nil
	case retry.ClassRetryable:
		next := cfg.Budget.Next(prev, done)
		if perr := actor.PutJSON(ctx, r.st, keyRetryState, next); perr != nil {
			return perr
		}
		at := cfg.Budget.NextWake(done)
		if aerr := r.st.SetAlarm(ctx, at); aerr != nil {
			return aerr
		}
		log.Warn("retryable failure",
			zap.Error(err),
			zap.Int("attempt", next.Attempt),
			zap.Time("retry_at", at))
		r.a.Metrics.IncWake("retry")
		return nil
	default:
		r.settle(ctx)
		r.markStatus(ctx, reservation.StatusFail)
		return fmt.Errorf("reserve actor %s: %w", r.id, err)
	}
}

// settle drops the claim lease once the job has a final outcome.
func (r *ReserveActor) settle(ctx context.Context) {
	if err := r.st.DeleteAlarm(context.WithoutCancel(ctx)); err != nil {
		r.log.Error("drop alarm lease", zap.Error(err))
	}
}

// interrupted re-arms the alarm so a shutdown during the fine wait fires on
// the next start instead of waiting out the lease.
func (r *ReserveActor) interrupted(ctx context.Context, cause error) error {
	now := r.clock.Now()
	if err := r.st.SetAlarm(context.WithoutCancel(ctx), now); err != nil {
		r.log.Error("re-arm after interrupt", zap.Error(err))
	}
	return fmt.Errorf("reserve actor %s interrupted: %w", r.id, errors.Join(ctx.Err(), cause))
}

func (r *ReserveActor) markStatus(ctx context.Context, s reservation.Status) {
	if r.a.Status == nil {
		return
	}
	if err := r.a.Status.UpdateStatus(context.WithoutCancel(ctx), Namespace, r.id, s); err != nil {
		r.log.Warn("status update failed", zap.String("status", string(s)), zap.Error(err))
	}
}

func attemptOf(s *retry.State) int {
	if s == nil {
		return 0
	}
	return s.Attempt
}

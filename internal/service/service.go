// Package service creates, lists, and removes reservation jobs, keeping the
// catalog row and the scheduling actor in step.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/example/courtres/internal/actor"
	"github.com/example/courtres/internal/catalog"
	"github.com/example/courtres/internal/db"
	"github.com/example/courtres/internal/scheduler"
)

var ErrPastExecuteAt = errors.New("executeAt must be in the future")

type Catalog interface {
	List(ctx context.Context) ([]catalog.Reservation, error)
	Get(ctx context.Context, id int64) (catalog.Reservation, error)
	Insert(ctx context.Context, n catalog.NewReservation) (catalog.Reservation, error)
	Delete(ctx context.Context, id int64) (bool, error)
}

type Service struct {
	Catalog Catalog
	Actors  *scheduler.Actors
	Log     *zap.Logger
}

// Detail is a catalog row joined with its live actor state.
type Detail struct {
	catalog.Reservation
	Actor scheduler.State `json:"actor"`
}

func (s *Service) now() time.Time {
	if s.Actors.Clock != nil {
		return s.Actors.Clock.Now()
	}
	return time.Now()
}

func (s *Service) log() *zap.Logger {
	if s.Log != nil {
		return s.Log
	}
	return zap.NewNop()
}

// Create schedules a fresh actor, then records it. If the record cannot be
// written the actor is rolled back so it never fires unseen.
func (s *Service) Create(ctx context.Context, params json.RawMessage, executeAt time.Time) (catalog.Reservation, error) {
	now := s.now()
	if executeAt.IsZero() {
		return catalog.Reservation{}, scheduler.ErrNoExecuteAt
	}
	if !executeAt.After(now) {
		return catalog.Reservation{}, ErrPastExecuteAt
	}

	_, id := s.Actors.New()
	a := s.Actors.Get(id)
	log := s.log().With(zap.String("actor_id", id))

	if _, err := a.Schedule(ctx, params, executeAt); err != nil {
		s.rollback(ctx, a, log)
		return catalog.Reservation{}, fmt.Errorf("schedule: %w", err)
	}

	row, err := s.Catalog.Insert(ctx, catalog.NewReservation{
		Params:           params,
		ExecuteAt:        executeAt,
		ActorNamespace:   scheduler.Namespace,
		ActorID:          id,
		ActorScheduledAt: now,
	})
	if err != nil {
		s.rollback(ctx, a, log)
		return catalog.Reservation{}, err
	}
	log.Info("reservation created", zap.Int64("id", row.ID), zap.Time("execute_at", executeAt))
	return row, nil
}

func (s *Service) rollback(ctx context.Context, a *scheduler.ReserveActor, log *zap.Logger) {
	if err := a.Rollback(context.WithoutCancel(ctx)); err != nil {
		log.Error("actor rollback failed", zap.Error(err))
	}
}

func (s *Service) List(ctx context.Context) ([]catalog.Reservation, error) {
	return s.Catalog.List(ctx)
}

func (s *Service) Get(ctx context.Context, id int64) (Detail, error) {
	row, err := s.Catalog.Get(ctx, id)
	if err != nil {
		return Detail{}, err
	}
	st, err := s.Actors.Get(row.ActorID).GetState(ctx)
	if err != nil {
		return Detail{}, fmt.Errorf("actor state: %w", err)
	}
	return Detail{Reservation: row, Actor: st}, nil
}

// Delete disarms the actor before removing the row. It reports false when
// no such reservation exists.
func (s *Service) Delete(ctx context.Context, id int64) (bool, error) {
	row, err := s.Catalog.Get(ctx, id)
	if db.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := s.Actors.Get(row.ActorID).Rollback(ctx); err != nil {
		return false, fmt.Errorf("actor rollback: %w", err)
	}
	removed, err := s.Catalog.Delete(ctx, id)
	if err != nil {
		return false, err
	}
	s.log().Info("reservation deleted", zap.Int64("id", id), zap.String("actor_id", row.ActorID))
	return removed, nil
}

func (s *Service) Inspect(ctx context.Context, actorID string) (scheduler.State, error) {
	if err := actor.ValidateID(actorID); err != nil {
		return scheduler.State{}, err
	}
	return s.Actors.Get(actorID).GetState(ctx)
}

func (s *Service) Rollback(ctx context.Context, actorID string) error {
	if err := actor.ValidateID(actorID); err != nil {
		return err
	}
	return s.Actors.Get(actorID).Rollback(ctx)
}

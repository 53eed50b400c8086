// Package catalog is the queryable record of reservation jobs. Rows mirror
// actor state on a best-effort basis; the actor owns execution truth.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/example/courtres/internal/db"
	"github.com/example/courtres/internal/reservation"
)

type Reservation struct {
	ID               int64              `json:"id"`
	Params           json.RawMessage    `json:"params"`
	ExecuteAt        time.Time          `json:"executeAt"`
	Status           reservation.Status `json:"status"`
	ActorNamespace   string             `json:"actorNamespace"`
	ActorID          string             `json:"actorId"`
	ActorScheduledAt time.Time          `json:"actorScheduledAt"`
	CreatedAt        time.Time          `json:"createdAt"`
	UpdatedAt        time.Time          `json:"updatedAt"`
}

type NewReservation struct {
	Params           json.RawMessage
	ExecuteAt        time.Time
	ActorNamespace   string
	ActorID          string
	ActorScheduledAt time.Time
}

const columns = `id,params,execute_at,status,actor_namespace,actor_id,actor_scheduled_at,created_at,updated_at`

type Repo struct{ db *db.DB }

func NewRepo(d *db.DB) *Repo { return &Repo{db: d} }

func scan(row db.Row) (Reservation, error) {
	var (
		r      Reservation
		params string
		status string
	)
	if err := row.Scan(&r.ID, &params, &r.ExecuteAt, &status, &r.ActorNamespace, &r.ActorID,
		&r.ActorScheduledAt, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return Reservation{}, err
	}
	r.Params = json.RawMessage(params)
	r.Status = reservation.Status(status)
	return r, nil
}

func (r *Repo) List(ctx context.Context) ([]Reservation, error) {
	rows, err := r.db.Query(ctx, `SELECT `+columns+` FROM reservations ORDER BY execute_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Reservation
	for rows.Next() {
		res, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

func (r *Repo) Get(ctx context.Context, id int64) (Reservation, error) {
	res, err := scan(r.db.QueryRow(ctx, `SELECT `+columns+` FROM reservations WHERE id=$1`, id))
	if err != nil {
		return Reservation{}, db.WrapNotFound(err)
	}
	return res, nil
}

func (r *Repo) GetByActor(ctx context.Context, namespace, actorID string) (Reservation, error) {
	res, err := scan(r.db.QueryRow(ctx,
		`SELECT `+columns+` FROM reservations WHERE actor_namespace=$1 AND actor_id=$2`, namespace, actorID))
	if err != nil {
		return Reservation{}, db.WrapNotFound(err)
	}
	return res, nil
}

func (r *Repo) Insert(ctx context.Context, n NewReservation) (Reservation, error) {
	res, err := scan(r.db.QueryRow(ctx, `
INSERT INTO reservations(params,execute_at,actor_namespace,actor_id,actor_scheduled_at)
VALUES ($1,$2,$3,$4,$5)
RETURNING `+columns,
		string(n.Params), n.ExecuteAt, n.ActorNamespace, n.ActorID, n.ActorScheduledAt))
	if err != nil {
		return Reservation{}, fmt.Errorf("insert reservation: %w", err)
	}
	return res, nil
}

// Delete reports whether a row was removed.
func (r *Repo) Delete(ctx context.Context, id int64) (bool, error) {
	n, err := r.db.Exec(ctx, `DELETE FROM reservations WHERE id=$1`, id)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// UpdateStatus is a no-op when no row matches.
func (r *Repo) UpdateStatus(ctx context.Context, namespace, actorID string, status reservation.Status) error {
	_, err := r.db.Exec(ctx,
		`UPDATE reservations SET status=$3, updated_at=now() WHERE actor_namespace=$1 AND actor_id=$2`,
		namespace, actorID, string(status))
	return err
}

// Package actor provides durable, uniquely addressable actor state: a
// key-value store plus a one-shot re-armable wake alarm per actor id.
package actor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Storage is the durable state of one actor instance.
type Storage interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	DeleteAll(ctx context.Context) error

	GetAlarm(ctx context.Context) (time.Time, bool, error)
	SetAlarm(ctx context.Context, at time.Time) error
	DeleteAlarm(ctx context.Context) error
}

type Alarm struct {
	ID string
	At time.Time
}

// Backend owns the storage of every actor and indexes armed alarms.
type Backend interface {
	Storage(id string) Storage
	DueAlarms(ctx context.Context, now time.Time, limit int) ([]Alarm, error)
	// ClaimAlarm leases a fired alarm: if a.ID is still armed for a.At it is
	// moved to until in one compare-and-set, so a fired alarm is claimed
	// once and a wake that never finishes fires again after the lease.
	ClaimAlarm(ctx context.Context, a Alarm, until time.Time) (bool, error)
	Ping(ctx context.Context) error
	Close() error
}

var ErrInvalidID = errors.New("actor: invalid id")

// NewName returns a fresh unique actor name such as "reserve:<uuid>".
func NewName(prefix string) string {
	return prefix + ":" + uuid.NewString()
}

// IDFromName derives the stable 64-char hex id for a name.
func IDFromName(name string) string {
	sum := sha256.Sum256([]byte(name))
	return hex.EncodeToString(sum[:])
}

func ValidateID(id string) error {
	if len(id) != 64 {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	if _, err := hex.DecodeString(id); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

// Millis normalizes t to millisecond precision, the resolution alarms are
// stored at.
func Millis(t time.Time) time.Time {
	return time.UnixMilli(t.UnixMilli())
}

func GetJSON(ctx context.Context, st Storage, key string, dst any) (bool, error) {
	b, ok, err := st.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return false, fmt.Errorf("actor: decode %s: %w", key, err)
	}
	return true, nil
}

func PutJSON(ctx context.Context, st Storage, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("actor: encode %s: %w", key, err)
	}
	return st.Put(ctx, key, b)
}

// Package redisstore is an actor.Backend on Redis: one hash per actor for
// its kv state and a shared sorted set of alarms scored by unix millis.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	r "github.com/redis/go-redis/v9"

	"github.com/example/courtres/internal/actor"
)

const DefaultPrefix = "courtres"

// claimScript moves the alarm to the lease instant only if its score still
// equals the claimed instant.
var claimScript = r.NewScript(`
local s = redis.call('ZSCORE', KEYS[1], ARGV[1])
if s and tonumber(s) == tonumber(ARGV[2]) then
  redis.call('ZADD', KEYS[1], ARGV[3], ARGV[1])
  return 1
end
return 0
`)

type Store struct {
	rdb    *r.Client
	prefix string
}

func New(rdb *r.Client, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{rdb: rdb, prefix: prefix}
}

// Dial connects using a redis:// URL or a bare host:port address.
func Dial(ctx context.Context, addr, prefix string) (*Store, error) {
	opts, err := r.ParseURL(addr)
	if err != nil {
		opts = &r.Options{Addr: addr}
	}
	rdb := r.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redisstore: ping %s: %w", opts.Addr, err)
	}
	return New(rdb, prefix), nil
}

func (s *Store) alarmsKey() string      { return s.prefix + ":actor:alarms" }
func (s *Store) kvKey(id string) string { return s.prefix + ":actor:" + id + ":kv" }

func (s *Store) Close() error                   { return s.rdb.Close() }
func (s *Store) Ping(ctx context.Context) error { return s.rdb.Ping(ctx).Err() }

func (s *Store) Storage(id string) actor.Storage { return &storage{s: s, id: id} }

func (s *Store) DueAlarms(ctx context.Context, now time.Time, limit int) ([]actor.Alarm, error) {
	by := &r.ZRangeBy{Min: "-inf", Max: strconv.FormatInt(now.UnixMilli(), 10)}
	if limit > 0 {
		by.Count = int64(limit)
	}
	zs, err := s.rdb.ZRangeByScoreWithScores(ctx, s.alarmsKey(), by).Result()
	if err != nil {
		return nil, fmt.Errorf("redisstore: due alarms: %w", err)
	}
	out := make([]actor.Alarm, 0, len(zs))
	for _, z := range zs {
		id, _ := z.Member.(string)
		out = append(out, actor.Alarm{ID: id, At: time.UnixMilli(int64(z.Score))})
	}
	return out, nil
}

func (s *Store) ClaimAlarm(ctx context.Context, a actor.Alarm, until time.Time) (bool, error) {
	n, err := claimScript.Run(ctx, s.rdb, []string{s.alarmsKey()}, a.ID, a.At.UnixMilli(), until.UnixMilli()).Int()
	if err != nil {
		return false, fmt.Errorf("redisstore: claim alarm: %w", err)
	}
	return n == 1, nil
}

type storage struct {
	s  *Store
	id string
}

func (st *storage) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := st.s.rdb.HGet(ctx, st.s.kvKey(st.id), key).Bytes()
	if errors.Is(err, r.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redisstore: get %s: %w", key, err)
	}
	return v, true, nil
}

func (st *storage) Put(ctx context.Context, key string, value []byte) error {
	if err := st.s.rdb.HSet(ctx, st.s.kvKey(st.id), key, value).Err(); err != nil {
		return fmt.Errorf("redisstore: put %s: %w", key, err)
	}
	return nil
}

func (st *storage) Delete(ctx context.Context, key string) error {
	if err := st.s.rdb.HDel(ctx, st.s.kvKey(st.id), key).Err(); err != nil {
		return fmt.Errorf("redisstore: delete %s: %w", key, err)
	}
	return nil
}

func (st *storage) DeleteAll(ctx context.Context) error {
	if err := st.s.rdb.Del(ctx, st.s.kvKey(st.id)).Err(); err != nil {
		return fmt.Errorf("redisstore: delete all: %w", err)
	}
	return nil
}

func (st *storage) GetAlarm(ctx context.Context) (time.Time, bool, error) {
	score, err := st.s.rdb.ZScore(ctx, st.s.alarmsKey(), st.id).Result()
	if errors.Is(err, r.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("redisstore: get alarm: %w", err)
	}
	return time.UnixMilli(int64(score)), true, nil
}

func (st *storage) SetAlarm(ctx context.Context, at time.Time) error {
	z := r.Z{Score: float64(at.UnixMilli()), Member: st.id}
	if err := st.s.rdb.ZAdd(ctx, st.s.alarmsKey(), z).Err(); err != nil {
		return fmt.Errorf("redisstore: set alarm: %w", err)
	}
	return nil
}

func (st *storage) DeleteAlarm(ctx context.Context) error {
	if err := st.s.rdb.ZRem(ctx, st.s.alarmsKey(), st.id).Err(); err != nil {
		return fmt.Errorf("redisstore: delete alarm: %w", err)
	}
	return nil
}

// Package actortest holds the behavioural checks every actor.Backend must
// pass.
package actortest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/courtres/internal/actor"
)

// RunBackend exercises kv, alarm, and claim semantics against a fresh
// backend per subtest.
func RunBackend(t *testing.T, newBackend func(t *testing.T) actor.Backend) {
	t.Helper()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	t.Run("kv", func(t *testing.T) {
		ctx := context.Background()
		b := newBackend(t)
		st := b.Storage(actor.IDFromName("reserve:kv"))

		_, ok, err := st.Get(ctx, "params")
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, st.Put(ctx, "params", []byte(`{"a":1}`)))
		require.NoError(t, st.Put(ctx, "execute_at", []byte("123")))
		v, ok, err := st.Get(ctx, "params")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, `{"a":1}`, string(v))

		require.NoError(t, st.Put(ctx, "params", []byte(`{"a":2}`)))
		v, _, err = st.Get(ctx, "params")
		require.NoError(t, err)
		assert.Equal(t, `{"a":2}`, string(v))

		require.NoError(t, st.Delete(ctx, "params"))
		_, ok, err = st.Get(ctx, "params")
		require.NoError(t, err)
		assert.False(t, ok)
		require.NoError(t, st.Delete(ctx, "params"))

		require.NoError(t, st.DeleteAll(ctx))
		_, ok, err = st.Get(ctx, "execute_at")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("isolation", func(t *testing.T) {
		ctx := context.Background()
		b := newBackend(t)
		a := b.Storage(actor.IDFromName("reserve:a"))
		c := b.Storage(actor.IDFromName("reserve:c"))
		require.NoError(t, a.Put(ctx, "k", []byte("a")))
		require.NoError(t, c.Put(ctx, "k", []byte("c")))
		require.NoError(t, a.DeleteAll(ctx))

		v, ok, err := c.Get(ctx, "k")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "c", string(v))
	})

	t.Run("json", func(t *testing.T) {
		ctx := context.Background()
		st := newBackend(t).Storage(actor.IDFromName("reserve:json"))
		type state struct {
			Attempt int `json:"attempt"`
		}
		require.NoError(t, actor.PutJSON(ctx, st, "retry_state", state{Attempt: 3}))
		var got state
		ok, err := actor.GetJSON(ctx, st, "retry_state", &got)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, 3, got.Attempt)
	})

	t.Run("alarm", func(t *testing.T) {
		ctx := context.Background()
		b := newBackend(t)
		st := b.Storage(actor.IDFromName("reserve:alarm"))

		_, ok, err := st.GetAlarm(ctx)
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, st.SetAlarm(ctx, base.Add(time.Minute)))
		require.NoError(t, st.SetAlarm(ctx, base.Add(2*time.Minute)))
		at, ok, err := st.GetAlarm(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		assert.True(t, at.Equal(base.Add(2*time.Minute)), "re-arm replaces, got %s", at)

		require.NoError(t, st.DeleteAlarm(ctx))
		_, ok, err = st.GetAlarm(ctx)
		require.NoError(t, err)
		assert.False(t, ok)
		require.NoError(t, st.DeleteAlarm(ctx))
	})

	t.Run("due", func(t *testing.T) {
		ctx := context.Background()
		b := newBackend(t)
		ids := []string{actor.IDFromName("reserve:1"), actor.IDFromName("reserve:2"), actor.IDFromName("reserve:3")}
		require.NoError(t, b.Storage(ids[0]).SetAlarm(ctx, base.Add(-time.Minute)))
		require.NoError(t, b.Storage(ids[1]).SetAlarm(ctx, base.Add(-2*time.Minute)))
		require.NoError(t, b.Storage(ids[2]).SetAlarm(ctx, base.Add(time.Minute)))

		due, err := b.DueAlarms(ctx, base, 10)
		require.NoError(t, err)
		require.Len(t, due, 2)
		assert.Equal(t, ids[1], due[0].ID)
		assert.Equal(t, ids[0], due[1].ID)

		due, err = b.DueAlarms(ctx, base, 1)
		require.NoError(t, err)
		require.Len(t, due, 1)
		assert.Equal(t, ids[1], due[0].ID)
	})

	t.Run("claim", func(t *testing.T) {
		ctx := context.Background()
		b := newBackend(t)
		id := actor.IDFromName("reserve:claim")
		st := b.Storage(id)
		require.NoError(t, st.SetAlarm(ctx, base))

		due, err := b.DueAlarms(ctx, base, 10)
		require.NoError(t, err)
		require.Len(t, due, 1)

		lease := base.Add(5 * time.Minute)

		// re-armed between poll and claim: the stale claim must fail
		require.NoError(t, st.SetAlarm(ctx, base.Add(time.Minute)))
		ok, err := b.ClaimAlarm(ctx, due[0], lease)
		require.NoError(t, err)
		assert.False(t, ok)
		at, armed, err := st.GetAlarm(ctx)
		require.NoError(t, err)
		assert.True(t, armed)
		assert.True(t, base.Add(time.Minute).Equal(at), "stale claim left %v", at)

		ok, err = b.ClaimAlarm(ctx, actor.Alarm{ID: id, At: base.Add(time.Minute)}, lease)
		require.NoError(t, err)
		assert.True(t, ok)

		// the claim is a lease, not a delete
		at, armed, err = st.GetAlarm(ctx)
		require.NoError(t, err)
		require.True(t, armed)
		assert.True(t, lease.Equal(at), "leased alarm at %v", at)
		due, err = b.DueAlarms(ctx, base.Add(time.Minute), 10)
		require.NoError(t, err)
		assert.Empty(t, due)
		due, err = b.DueAlarms(ctx, lease, 10)
		require.NoError(t, err)
		require.Len(t, due, 1)
		assert.Equal(t, id, due[0].ID)

		ok, err = b.ClaimAlarm(ctx, actor.Alarm{ID: id, At: base.Add(time.Minute)}, lease)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("claim once under contention", func(t *testing.T) {
		ctx := context.Background()
		b := newBackend(t)
		id := actor.IDFromName("reserve:race")
		require.NoError(t, b.Storage(id).SetAlarm(ctx, base))

		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			wins int
		)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := b.ClaimAlarm(ctx, actor.Alarm{ID: id, At: base}, base.Add(time.Minute))
				assert.NoError(t, err)
				if ok {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, wins)
	})

	t.Run("ping", func(t *testing.T) {
		assert.NoError(t, newBackend(t).Ping(context.Background()))
	})
}

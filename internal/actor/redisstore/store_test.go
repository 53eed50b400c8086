package redisstore

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/example/courtres/internal/actor"
	"github.com/example/courtres/internal/actor/actortest"
)

// Requires a live server; set TEST_REDIS_ADDR (e.g. localhost:6379).
func TestStore(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	actortest.RunBackend(t, func(t *testing.T) actor.Backend {
		ctx := context.Background()
		prefix := "courtres-test-" + uuid.NewString()
		s, err := Dial(ctx, addr, prefix)
		require.NoError(t, err)
		t.Cleanup(func() {
			keys, _ := s.rdb.Keys(ctx, prefix+":*").Result()
			if len(keys) > 0 {
				s.rdb.Del(ctx, keys...)
			}
			s.Close()
		})
		return s
	})
}

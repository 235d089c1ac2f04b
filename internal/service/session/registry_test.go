package session_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/hangout/backend/internal/model/hangout"
	"github.com/zhouzirui/hangout/backend/internal/service/session"
)

func TestRegistryCreateAndGet(t *testing.T) {
	reg := session.NewRegistry()
	ctx := context.Background()

	entry, err := reg.Create(ctx)
	require.NoError(t, err)
	assert.Len(t, entry.ID(), 8)

	got, err := reg.Get(ctx, entry.ID())
	require.NoError(t, err)
	assert.Same(t, entry, got)

	snap := got.Snapshot()
	assert.Equal(t, hangout.StateCollecting, snap.State)
	assert.Nil(t, snap.Plan)
	assert.Zero(t, snap.PlanVersion)
}

func TestRegistryGetNotFound(t *testing.T) {
	reg := session.NewRegistry()
	_, err := reg.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
}

func TestRegistryCreateSkipsTakenIDs(t *testing.T) {
	ids := []string{"same1234", "same1234", "other123"}
	next := 0
	reg := session.NewRegistry(session.WithIDGenerator(func() string {
		id := ids[next]
		next++
		return id
	}))

	first, err := reg.Create(context.Background())
	require.NoError(t, err)
	second, err := reg.Create(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "same1234", first.ID())
	assert.Equal(t, "other123", second.ID())
}

func TestRegistryJoin(t *testing.T) {
	reg := session.NewRegistry()
	ctx := context.Background()

	fresh, created, err := reg.Join(ctx, "")
	require.NoError(t, err)
	assert.True(t, created)

	again, created, err := reg.Join(ctx, fresh.ID())
	require.NoError(t, err)
	assert.False(t, created)
	assert.Same(t, fresh, again)

	named, created, err := reg.Join(ctx, "team-dinner")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "team-dinner", named.ID())

	_, _, err = reg.Join(ctx, "../etc/passwd")
	assert.ErrorIs(t, err, session.ErrInvalidID)
	assert.Equal(t, 2, reg.Len())
}

func TestRegistryConcurrentAccess(t *testing.T) {
	reg := session.NewRegistry()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			entry, _, err := reg.Join(ctx, fmt.Sprintf("room-%d", i%4))
			if err != nil {
				t.Error(err)
				return
			}
			entry.Lock()
			entry.Update(func(s *hangout.Session) {
				s.AppendMessage(hangout.KindUser, "u", "hi", s.CreatedAt)
			})
			entry.Unlock()
			_ = entry.Snapshot()
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 4, reg.Len())
	total := 0
	for i := 0; i < 4; i++ {
		entry, err := reg.Get(ctx, fmt.Sprintf("room-%d", i))
		require.NoError(t, err)
		total += len(entry.Snapshot().Messages)
	}
	assert.Equal(t, 32, total)
}

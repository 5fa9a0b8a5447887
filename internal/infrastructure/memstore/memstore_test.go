package memstore

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hermitshell/hermitshell/internal/domain/approval"
	"github.com/hermitshell/hermitshell/internal/domain/delegation"
	"github.com/hermitshell/hermitshell/internal/infrastructure/clock"
)

var (
	_ approval.Store   = (*Store[*approval.Pending])(nil)
	_ delegation.Store = (*Store[*delegation.Request])(nil)
)

func TestStore_TakeFirstResolverWins(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := New[*delegation.Request](clock.Fake(now))
	r := delegation.NewRequest(uuid.New(), "alpha", 1, 1, "ops", "restart nginx", now, time.Hour)
	require.NoError(t, s.Put(ctx, r))

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := s.Take(ctx, r.ID); ok {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins)
	assert.Equal(t, 0, s.Len())
}

func TestStore_Duplicate(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	s := New[*approval.Pending](clock.Fake(now))
	p := approval.NewPending(uuid.New(), 1, "h", "rm x", uuid.New(), now, time.Minute)
	require.NoError(t, s.Put(ctx, p))
	assert.ErrorIs(t, s.Put(ctx, p), ErrDuplicate)
}

func TestStore_Expiry(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fc := clock.Fake(start)
	s := New[*approval.Pending](fc)

	short := approval.NewPending(uuid.New(), 1, "h1", "rm a", uuid.New(), start, time.Minute)
	long := approval.NewPending(uuid.New(), 1, "h2", "rm b", uuid.New(), start, time.Hour)
	require.NoError(t, s.Put(ctx, short))
	require.NoError(t, s.Put(ctx, long))

	assert.Len(t, s.List(ctx), 2)

	fc.Advance(2 * time.Minute)
	_, ok := s.Get(ctx, short.ID)
	assert.False(t, ok)
	_, ok = s.Take(ctx, short.ID)
	assert.False(t, ok)
	assert.Equal(t, []*approval.Pending{long}, s.List(ctx))

	expired := s.TakeExpired(ctx, fc.Now())
	require.Len(t, expired, 1)
	assert.Equal(t, short.ID, expired[0].ID)
	assert.Equal(t, 1, s.Len())
}

func TestStore_ListInsertionOrder(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	s := New[*approval.Pending](clock.Fake(now))
	var ids []string
	for i := 0; i < 5; i++ {
		p := approval.NewPending(uuid.New(), 1, "h", "cmd", uuid.New(), now, time.Hour)
		ids = append(ids, p.ID)
		require.NoError(t, s.Put(ctx, p))
	}
	var got []string
	for _, p := range s.List(ctx) {
		got = append(got, p.ID)
	}
	assert.Equal(t, ids, got)
}

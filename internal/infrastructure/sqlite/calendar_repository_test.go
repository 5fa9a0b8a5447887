package sqlite

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hermitshell/hermitshell/internal/domain/calendar"
)

func newRepo(t *testing.T, root string) *CalendarRepository {
	t.Helper()
	ws := NewWorkspaces(root, 4, zerolog.Nop())
	t.Cleanup(func() { _ = ws.Close() })
	return NewCalendarRepository(ws)
}

func mustEvent(t *testing.T, ws calendar.Workspace, prompt string, start time.Time, end *time.Time) *calendar.Event {
	t.Helper()
	e, err := calendar.NewEvent(ws.AgentID, ws.UserID, "", prompt, start, end)
	require.NoError(t, err)
	return e
}

func TestCalendarRepository_CreateGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t, t.TempDir())
	ws := calendar.Workspace{AgentID: uuid.New(), UserID: 42}

	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	e := mustEvent(t, ws, "summarize inbox", start, &end)
	e.Color = "#ff0000"
	require.NoError(t, repo.Create(ctx, ws, e))

	got, err := repo.Get(ctx, ws, e.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "summarize inbox", got.Title)
	assert.Equal(t, start, got.StartTime)
	require.NotNil(t, got.EndTime)
	assert.Equal(t, end, *got.EndTime)
	assert.Equal(t, "#ff0000", got.Color)
	assert.Equal(t, calendar.StatusScheduled, got.Status)
	assert.Nil(t, got.StartedAt)
	assert.Nil(t, got.Error)

	missing, err := repo.Get(ctx, ws, uuid.New())
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestCalendarRepository_ClaimDue(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t, t.TempDir())
	ws := calendar.Workspace{AgentID: uuid.New(), UserID: 7}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	due := mustEvent(t, ws, "due", now.Add(-time.Minute), nil)
	future := mustEvent(t, ws, "future", now.Add(time.Hour), nil)
	pastEnd := now.Add(-time.Minute)
	expired := mustEvent(t, ws, "window closed", now.Add(-time.Hour), &pastEnd)
	exact := mustEvent(t, ws, "exactly now", now, nil)
	for _, e := range []*calendar.Event{due, future, expired, exact} {
		require.NoError(t, repo.Create(ctx, ws, e))
	}

	won, err := repo.ClaimDue(ctx, ws, now)
	require.NoError(t, err)
	require.Len(t, won, 2)
	ids := map[uuid.UUID]bool{won[0].ID: true, won[1].ID: true}
	assert.True(t, ids[due.ID])
	assert.True(t, ids[exact.ID])

	got, err := repo.Get(ctx, ws, exact.ID)
	require.NoError(t, err)
	assert.Equal(t, calendar.StatusRunning, got.Status)
	require.NotNil(t, got.StartedAt)
	assert.Equal(t, now, *got.StartedAt)

	again, err := repo.ClaimDue(ctx, ws, now)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestCalendarRepository_ConcurrentClaimersPartition(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	ws := calendar.Workspace{AgentID: uuid.New(), UserID: 1}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	seed := newRepo(t, root)
	const events = 20
	for i := 0; i < events; i++ {
		require.NoError(t, seed.Create(ctx, ws, mustEvent(t, ws, fmt.Sprintf("job %d", i), now.Add(-time.Duration(i)*time.Second), nil)))
	}

	const claimers = 6
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[uuid.UUID]int)
	)
	for i := 0; i < claimers; i++ {
		repo := newRepo(t, root)
		wg.Add(1)
		go func() {
			defer wg.Done()
			won, err := repo.ClaimDue(ctx, ws, now)
			assert.NoError(t, err)
			mu.Lock()
			defer mu.Unlock()
			for _, e := range won {
				seen[e.ID]++
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, events)
	for id, n := range seen {
		assert.Equalf(t, 1, n, "event %s claimed %d times", id, n)
	}
}

func TestCalendarRepository_FinishAndCancel(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t, t.TempDir())
	ws := calendar.Workspace{AgentID: uuid.New(), UserID: 9}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	e := mustEvent(t, ws, "report", now.Add(-time.Second), nil)
	require.NoError(t, repo.Create(ctx, ws, e))

	err := repo.Finish(ctx, ws, e.ID, calendar.StatusCompleted, nil, now)
	assert.ErrorIs(t, err, calendar.ErrInvalidTransition, "scheduled events cannot finish")

	_, err = repo.ClaimDue(ctx, ws, now)
	require.NoError(t, err)
	msg := "sandbox timed out"
	require.NoError(t, repo.Finish(ctx, ws, e.ID, calendar.StatusFailed, &msg, now.Add(time.Minute)))

	got, err := repo.Get(ctx, ws, e.ID)
	require.NoError(t, err)
	assert.Equal(t, calendar.StatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, msg, *got.Error)
	require.NotNil(t, got.CompletedAt)

	ok, err := repo.Cancel(ctx, ws, e.ID)
	require.NoError(t, err)
	assert.False(t, ok, "terminal events cannot be cancelled")

	other := mustEvent(t, ws, "later", now.Add(time.Hour), nil)
	require.NoError(t, repo.Create(ctx, ws, other))
	ok, err = repo.Cancel(ctx, ws, other.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	won, err := repo.ClaimDue(ctx, ws, now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, won)
}

func TestCalendarRepository_UpdateOnlyScheduled(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t, t.TempDir())
	ws := calendar.Workspace{AgentID: uuid.New(), UserID: 3}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	e := mustEvent(t, ws, "draft", now.Add(time.Hour), nil)
	require.NoError(t, repo.Create(ctx, ws, e))

	e.Title = "renamed"
	e.StartTime = now.Add(2 * time.Hour)
	ok, err := repo.Update(ctx, ws, e)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := repo.Get(ctx, ws, e.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Title)
	assert.Equal(t, now.Add(2*time.Hour), got.StartTime)

	_, err = repo.ClaimDue(ctx, ws, now.Add(3*time.Hour))
	require.NoError(t, err)
	ok, err = repo.Update(ctx, ws, e)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWorkspaces_List(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	repo := newRepo(t, root)
	a := calendar.Workspace{AgentID: uuid.New(), UserID: 1}
	b := calendar.Workspace{AgentID: uuid.New(), UserID: 2}
	for _, ws := range []calendar.Workspace{a, b} {
		require.NoError(t, repo.Create(ctx, ws, mustEvent(t, ws, "hi", time.Now(), nil)))
	}

	got, err := repo.Workspaces(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []calendar.Workspace{a, b}, got)
}

func TestWorkspaces_ConcurrentFirstOpenSharesPool(t *testing.T) {
	ctx := context.Background()
	w := NewWorkspaces(t.TempDir(), 2, zerolog.Nop())
	t.Cleanup(func() { _ = w.Close() })
	repo := NewCalendarRepository(w)
	ws := calendar.Workspace{AgentID: uuid.New(), UserID: 7}

	const n = 8
	events := make([]*calendar.Event, n)
	for i := range events {
		events[i] = mustEvent(t, ws, fmt.Sprintf("job %d", i), time.Now(), nil)
	}
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = repo.Create(ctx, ws, events[i])
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	w.mu.Lock()
	assert.Len(t, w.pools, 1)
	w.mu.Unlock()

	got, err := repo.ListUpcoming(ctx, ws, time.Now().Add(-time.Hour), 0)
	require.NoError(t, err)
	assert.Len(t, got, n)
}

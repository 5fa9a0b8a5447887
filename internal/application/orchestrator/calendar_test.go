package orchestrator

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/hermitshell/hermitshell/internal/domain/audit"
	"github.com/hermitshell/hermitshell/internal/domain/calendar"
	calendarMocks "github.com/hermitshell/hermitshell/internal/domain/calendar/mocks"
	sandboxMocks "github.com/hermitshell/hermitshell/internal/domain/sandbox/mocks"
)

func TestPollCalendars_RunsDueEventOnce(t *testing.T) {
	h := newHarness(t, sandboxMocks.Lines("Inbox: 3 unread, nothing urgent."))
	ctx := context.Background()

	due, err := h.orch.ScheduleEvent(ctx, h.assistant.ID, EventInput{
		UserID: testUser, Title: "Inbox check", Prompt: "summarize my inbox", StartTime: h.clock.Now().Add(-time.Minute),
	})
	require.NoError(t, err)
	later, err := h.orch.ScheduleEvent(ctx, h.assistant.ID, EventInput{
		UserID: testUser, Prompt: "later", StartTime: h.clock.Now().Add(time.Hour),
	})
	require.NoError(t, err)

	assert.Equal(t, 1, h.orch.PollCalendars(ctx))
	assert.Equal(t, 0, h.orch.PollCalendars(ctx))
	assert.Equal(t, 1, h.engine.CreateCount())

	ws := calendar.Workspace{AgentID: h.assistant.ID, UserID: testUser}
	got, err := h.calendar.Get(ctx, ws, due.ID)
	require.NoError(t, err)
	assert.Equal(t, calendar.StatusCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)
	assert.Nil(t, got.Error)

	untouched, err := h.calendar.Get(ctx, ws, later.ID)
	require.NoError(t, err)
	assert.Equal(t, calendar.StatusScheduled, untouched.Status)

	var delivered bool
	for _, text := range h.sentTexts() {
		if strings.Contains(text, "Inbox check") && strings.Contains(text, "3 unread") {
			delivered = true
		}
	}
	assert.True(t, delivered)

	entries := h.auditEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, audit.ActionCalendar, entries[0].ActionType)
	assert.Greater(t, h.ledger.spentBy(h.assistant.ID), 0.0)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Claims.WithLabelValues("won")))
}

func TestPollCalendars_BudgetDenialFailsEvent(t *testing.T) {
	h := newHarness(t, sandboxMocks.Lines("never"))
	h.ledger.allow = false
	ctx := context.Background()

	e, err := h.orch.ScheduleEvent(ctx, h.assistant.ID, EventInput{
		UserID: testUser, Prompt: "report", StartTime: h.clock.Now(),
	})
	require.NoError(t, err)

	assert.Equal(t, 1, h.orch.PollCalendars(ctx))
	assert.Zero(t, h.engine.CreateCount())

	got, err := h.calendar.Get(ctx, calendar.Workspace{AgentID: h.assistant.ID, UserID: testUser}, e.ID)
	require.NoError(t, err)
	assert.Equal(t, calendar.StatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Contains(t, *got.Error, "budget")
	assert.NotNil(t, got.CompletedAt)
}

func TestPollCalendars_MissingAgentFailsEvent(t *testing.T) {
	h := newHarness(t, sandboxMocks.Lines("never"))
	ctx := context.Background()

	ws := calendar.Workspace{AgentID: uuid.New(), UserID: testUser}
	e, err := calendar.NewEvent(ws.AgentID, testUser, "orphan", "do it", h.clock.Now(), nil)
	require.NoError(t, err)
	require.NoError(t, h.calendar.Create(ctx, ws, e))

	assert.Equal(t, 1, h.orch.PollCalendars(ctx))
	assert.Zero(t, h.engine.CreateCount())

	got, err := h.calendar.Get(ctx, ws, e.ID)
	require.NoError(t, err)
	assert.Equal(t, calendar.StatusFailed, got.Status)
}

func TestPollCalendars_RuntimeFailureRecordsError(t *testing.T) {
	h := newHarness(t, nil)
	h.engine.CreateErr = assert.AnError
	ctx := context.Background()

	e, err := h.orch.ScheduleEvent(ctx, h.assistant.ID, EventInput{
		UserID: testUser, Prompt: "report", StartTime: h.clock.Now(),
	})
	require.NoError(t, err)

	assert.Equal(t, 1, h.orch.PollCalendars(ctx))

	got, err := h.calendar.Get(ctx, calendar.Workspace{AgentID: h.assistant.ID, UserID: testUser}, e.ID)
	require.NoError(t, err)
	assert.Equal(t, calendar.StatusFailed, got.Status)
	require.NotNil(t, got.Error)

	entries := h.auditEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, audit.StatusError, entries[0].Status)
}

func TestScheduleEvent_Validation(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.orch.ScheduleEvent(ctx, uuid.New(), EventInput{UserID: testUser, Prompt: "x", StartTime: h.clock.Now()})
	assert.ErrorIs(t, err, ErrUnknownAgent)

	_, err = h.orch.ScheduleEvent(ctx, h.assistant.ID, EventInput{UserID: testUser, Prompt: " ", StartTime: h.clock.Now()})
	assert.ErrorIs(t, err, calendar.ErrMissingPrompt)

	events, err := h.orch.UpcomingEvents(ctx, h.assistant.ID, testUser, 0)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestPollCalendars_RunsEventsWonBeforeClaimError(t *testing.T) {
	h := newHarness(t, sandboxMocks.Lines("Report sent."))
	ctx := context.Background()

	ctrl := gomock.NewController(t)
	cal := calendarMocks.NewMockRepository(ctrl)
	h.orch.Calendar = cal

	ws := calendar.Workspace{AgentID: h.assistant.ID, UserID: testUser}
	won, err := calendar.NewEvent(h.assistant.ID, testUser, "Weekly report", "send the report", h.clock.Now().Add(-time.Minute), nil)
	require.NoError(t, err)
	won.Status = calendar.StatusRunning

	cal.EXPECT().Workspaces(gomock.Any()).Return([]calendar.Workspace{ws}, nil)
	cal.EXPECT().ClaimDue(gomock.Any(), ws, gomock.Any()).Return([]*calendar.Event{won}, errors.New("disk I/O error"))

	var finished []calendar.Status
	cal.EXPECT().Finish(gomock.Any(), ws, won.ID, gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, _ calendar.Workspace, _ uuid.UUID, status calendar.Status, _ *string, _ time.Time) error {
			finished = append(finished, status)
			return nil
		})

	assert.Equal(t, 1, h.orch.PollCalendars(ctx))
	assert.Equal(t, 1, h.engine.CreateCount())
	assert.Equal(t, []calendar.Status{calendar.StatusCompleted}, finished)
}

package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hermitshell/hermitshell/internal/domain/audit"
	"github.com/hermitshell/hermitshell/internal/domain/calendar"
)

// PollCalendars claims every due event across all workspaces and runs the
// claimed ones, at most MaxParallel at a time. It returns after all claimed
// events have finished and reports how many ran.
func (o *Orchestrator) PollCalendars(ctx context.Context) int {
	workspaces, err := o.Calendar.Workspaces(ctx)
	if err != nil {
		o.logger.Error().Err(err).Msg("failed to list calendar workspaces")
		return 0
	}

	sem := make(chan struct{}, o.cfg.MaxParallel)
	var wg sync.WaitGroup
	ran := 0
	for _, ws := range workspaces {
		now := o.Clock.Now()
		// events won before a failure are already running and must still
		// be driven to a terminal status
		claimed, err := o.Calendar.ClaimDue(ctx, ws, now)
		if err != nil {
			o.logger.Error().Err(err).
				Str("agent_id", ws.AgentID.String()).
				Int64("user_id", ws.UserID).
				Int("claimed", len(claimed)).
				Msg("failed to claim due events")
		}
		o.Metrics.Claims.WithLabelValues("won").Add(float64(len(claimed)))

		for _, e := range claimed {
			ran++
			wg.Add(1)
			sem <- struct{}{}
			go func(ws calendar.Workspace, e *calendar.Event) {
				defer wg.Done()
				defer func() { <-sem }()
				o.runEvent(ctx, ws, e)
			}(ws, e)
		}
	}
	wg.Wait()
	return ran
}

// RunCalendarLoop polls every interval until ctx ends.
func (o *Orchestrator) RunCalendarLoop(ctx context.Context, interval time.Duration) {
	o.logger.Info().Dur("interval", interval).Msg("calendar loop started")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			o.logger.Info().Msg("calendar loop stopped")
			return
		case <-ticker.C:
			if n := o.PollCalendars(ctx); n > 0 {
				o.logger.Info().Int("events", n).Msg("calendar events processed")
			}
		}
	}
}

// runEvent drives one claimed event to completed or failed. Calendar runs
// report to the user's private chat.
func (o *Orchestrator) runEvent(ctx context.Context, ws calendar.Workspace, e *calendar.Event) {
	log := o.logger.With().Str("event_id", e.ID.String()).Str("agent_id", ws.AgentID.String()).Logger()
	chatID := ws.UserID

	a, err := o.Agents.GetByID(ctx, ws.AgentID)
	if err == nil && a == nil {
		err = ErrUnknownAgent
	}
	if err != nil {
		o.finishEvent(ctx, ws, e, calendar.StatusFailed, err.Error())
		log.Error().Err(err).Msg("calendar event agent unavailable")
		return
	}

	if !o.Ledger.CanSpend(ctx, a.ID) {
		o.finishEvent(ctx, ws, e, calendar.StatusFailed, ErrBudgetExceeded.Error())
		o.send(ctx, chatID, fmt.Sprintf("📅 %s skipped: %s", e.Title, failureText(a.Name, ErrBudgetExceeded)))
		return
	}

	res, err := o.execute(ctx, runRequest{
		trigger:  TriggerCalendar,
		agent:    a,
		userID:   ws.UserID,
		chatID:   chatID,
		message:  e.Prompt,
		approval: a.RequireApproval,
	})
	if err != nil {
		o.finishEvent(ctx, ws, e, calendar.StatusFailed, err.Error())
		entry := audit.NewEntry(a.ID, ws.UserID, audit.ActionCalendar, e.Prompt, err.Error(), audit.StatusError)
		if res != nil {
			entry.SandboxHandle = res.Handle
		}
		o.Audit.Log(ctx, entry)
		o.publishRun(TriggerCalendar, a, ws.UserID, entry.SandboxHandle, audit.StatusError)
		o.send(ctx, chatID, fmt.Sprintf("📅 %s\n\n%s", e.Title, failureText(a.Name, err)))
		log.Warn().Err(err).Msg("calendar event failed")
		return
	}

	reply := o.compose(ctx, ws, res)
	o.finishEvent(ctx, ws, e, calendar.StatusCompleted, "")
	o.Ledger.RecordSpend(ctx, a.ID, o.cfg.Cost.Estimate(e.Prompt, res.Output))

	entry := audit.NewEntry(a.ID, ws.UserID, audit.ActionCalendar, e.Prompt, reply, audit.StatusCompleted)
	entry.SandboxHandle = res.Handle
	o.Audit.Log(ctx, entry)
	o.publishRun(TriggerCalendar, a, ws.UserID, res.Handle, audit.StatusCompleted)

	o.deliver(ctx, chatID, a.Name, fmt.Sprintf("📅 %s\n\n%s", e.Title, reply))
	log.Info().Dur("duration", res.Duration).Msg("calendar event completed")
}

func (o *Orchestrator) finishEvent(ctx context.Context, ws calendar.Workspace, e *calendar.Event, status calendar.Status, errText string) {
	var errPtr *string
	if errText != "" {
		errPtr = &errText
	}
	if err := o.Calendar.Finish(context.WithoutCancel(ctx), ws, e.ID, status, errPtr, o.Clock.Now()); err != nil {
		o.logger.Error().Err(err).Str("event_id", e.ID.String()).Str("status", string(status)).Msg("failed to finish calendar event")
	}
}

// EventInput is an operator request to schedule a run.
type EventInput struct {
	UserID    int64
	Title     string
	Prompt    string
	StartTime time.Time
	EndTime   *time.Time
	Color     string
}

// ScheduleEvent creates a scheduled event for agentID.
func (o *Orchestrator) ScheduleEvent(ctx context.Context, agentID uuid.UUID, in EventInput) (*calendar.Event, error) {
	a, err := o.Agents.GetByID(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAgent, agentID)
	}
	e, err := calendar.NewEvent(agentID, in.UserID, in.Title, in.Prompt, in.StartTime, in.EndTime)
	if err != nil {
		return nil, err
	}
	e.Color = in.Color
	if err := o.Calendar.Create(ctx, calendar.Workspace{AgentID: agentID, UserID: in.UserID}, e); err != nil {
		return nil, fmt.Errorf("failed to create event: %w", err)
	}
	o.logger.Info().Str("event_id", e.ID.String()).Str("agent_id", agentID.String()).Msg("calendar event scheduled")
	return e, nil
}

// UpcomingEvents lists scheduled and running events of one workspace.
func (o *Orchestrator) UpcomingEvents(ctx context.Context, agentID uuid.UUID, userID int64, limit int) ([]*calendar.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	events, err := o.Calendar.ListUpcoming(ctx, calendar.Workspace{AgentID: agentID, UserID: userID}, o.Clock.Now(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	return events, nil
}

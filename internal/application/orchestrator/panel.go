package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hermitshell/hermitshell/internal/domain/calendar"
)

// Panel action verbs understood from agent frames.
const (
	PanelCalendarCreate = "CALENDAR_CREATE"
	PanelCalendarUpdate = "CALENDAR_UPDATE"
	PanelCalendarDelete = "CALENDAR_DELETE"
	PanelCalendarList   = "CALENDAR_LIST"
)

const listLimit = 10

var errMalformedAction = errors.New("malformed panel action")

type panelFrame struct {
	PanelActions []string `json:"panelActions"`
	Message      string   `json:"message"`
}

// panelResult is what a run's frames asked for.
type panelResult struct {
	message string
	notes   []string
}

// applyPanel interprets the structured frames of a run for workspace ws.
// A bad action is reported in notes and never fails the run.
func (o *Orchestrator) applyPanel(ctx context.Context, ws calendar.Workspace, frames []string) panelResult {
	var res panelResult
	for _, raw := range frames {
		var f panelFrame
		if err := json.Unmarshal([]byte(raw), &f); err != nil {
			continue
		}
		if f.Message != "" {
			res.message = f.Message
		}
		for _, action := range f.PanelActions {
			note, err := o.applyAction(ctx, ws, action)
			if err != nil {
				o.logger.Warn().Err(err).
					Str("agent_id", ws.AgentID.String()).
					Str("action", action).
					Msg("panel action rejected")
				res.notes = append(res.notes, fmt.Sprintf("⚠️ %s: %v", verbOf(action), err))
				continue
			}
			if note != "" {
				res.notes = append(res.notes, note)
			}
		}
	}
	return res
}

func verbOf(action string) string {
	verb, _, _ := strings.Cut(action, ":")
	return strings.TrimSpace(verb)
}

func (o *Orchestrator) applyAction(ctx context.Context, ws calendar.Workspace, action string) (string, error) {
	verb, args, _ := strings.Cut(strings.TrimSpace(action), ":")
	fields := strings.Split(args, "|")

	switch strings.TrimSpace(verb) {
	case PanelCalendarCreate:
		if len(fields) < 3 {
			return "", errMalformedAction
		}
		start, end, err := parseWindow(fields[2:])
		if err != nil {
			return "", err
		}
		e, err := calendar.NewEvent(ws.AgentID, ws.UserID, strings.TrimSpace(fields[0]), strings.TrimSpace(fields[1]), start, end)
		if err != nil {
			return "", err
		}
		if err := o.Calendar.Create(ctx, ws, e); err != nil {
			return "", err
		}
		return fmt.Sprintf("📅 Scheduled %q for %s", e.Title, e.StartTime.Format(time.RFC3339)), nil

	case PanelCalendarUpdate:
		if len(fields) < 4 {
			return "", errMalformedAction
		}
		id, err := uuid.Parse(strings.TrimSpace(fields[0]))
		if err != nil {
			return "", errMalformedAction
		}
		existing, err := o.Calendar.Get(ctx, ws, id)
		if err != nil {
			return "", err
		}
		if existing == nil {
			return "", fmt.Errorf("event %s not found", id)
		}
		start, end, err := parseWindow(fields[3:])
		if err != nil {
			return "", err
		}
		if title := strings.TrimSpace(fields[1]); title != "" {
			existing.Title = title
		}
		if prompt := strings.TrimSpace(fields[2]); prompt != "" {
			existing.Prompt = prompt
		}
		if end != nil && end.Before(start) {
			return "", calendar.ErrInvalidWindow
		}
		existing.StartTime = start
		existing.EndTime = end
		ok, err := o.Calendar.Update(ctx, ws, existing)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", calendar.ErrInvalidTransition
		}
		return fmt.Sprintf("📅 Updated %q", existing.Title), nil

	case PanelCalendarDelete:
		id, err := uuid.Parse(strings.TrimSpace(fields[0]))
		if err != nil {
			return "", errMalformedAction
		}
		ok, err := o.Calendar.Cancel(ctx, ws, id)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", calendar.ErrInvalidTransition
		}
		return "📅 Event cancelled", nil

	case PanelCalendarList:
		events, err := o.Calendar.ListUpcoming(ctx, ws, o.Clock.Now(), listLimit)
		if err != nil {
			return "", err
		}
		return formatEvents(events), nil
	}
	return "", errMalformedAction
}

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time %q", s)
}

// parseWindow reads start and the optional end.
func parseWindow(fields []string) (time.Time, *time.Time, error) {
	start, err := parseTime(fields[0])
	if err != nil {
		return time.Time{}, nil, err
	}
	if len(fields) < 2 || strings.TrimSpace(fields[1]) == "" {
		return start, nil, nil
	}
	end, err := parseTime(fields[1])
	if err != nil {
		return time.Time{}, nil, err
	}
	return start, &end, nil
}

func formatEvents(events []*calendar.Event) string {
	if len(events) == 0 {
		return "📅 No upcoming events."
	}
	var b strings.Builder
	b.WriteString("📅 Upcoming events:")
	for _, e := range events {
		fmt.Fprintf(&b, "\n• %s %s [%s] (%s)", e.StartTime.Format("2006-01-02 15:04"), e.Title, e.Status, e.ID)
	}
	return b.String()
}

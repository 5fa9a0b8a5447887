package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/hermitshell/hermitshell/internal/domain/calendar"
	"github.com/hermitshell/hermitshell/internal/domain/claim"
)

const eventColumns = `id, agent_id, user_id, title, prompt, start_time, COALESCE(end_time, 0), color, status,
	COALESCE(error, ''), COALESCE(started_at, 0), COALESCE(completed_at, 0), created_at`

// CalendarRepository implements calendar.Repository on per-workspace
// SQLite files.
type CalendarRepository struct {
	ws *Workspaces
}

func NewCalendarRepository(ws *Workspaces) *CalendarRepository {
	return &CalendarRepository{ws: ws}
}

func (r *CalendarRepository) Create(ctx context.Context, ws calendar.Workspace, e *calendar.Event) error {
	return r.ws.with(ctx, ws, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, `
			INSERT INTO calendar_events (id, agent_id, user_id, title, prompt, start_time, end_time, color, status, created_at)
			VALUES (?, ?, ?, ?, ?, ?, NULLIF(?, 0), ?, ?, ?)`,
			&sqlitex.ExecOptions{Args: []any{
				e.ID.String(), e.AgentID.String(), e.UserID, e.Title, e.Prompt,
				millis(e.StartTime), optMillis(e.EndTime), e.Color, string(e.Status), millis(e.CreatedAt),
			}})
		if err != nil {
			return fmt.Errorf("insert calendar event: %w", err)
		}
		return nil
	})
}

func (r *CalendarRepository) Get(ctx context.Context, ws calendar.Workspace, id uuid.UUID) (*calendar.Event, error) {
	var out *calendar.Event
	err := r.ws.with(ctx, ws, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT `+eventColumns+` FROM calendar_events WHERE id = ?`,
			&sqlitex.ExecOptions{
				Args: []any{id.String()},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					e, err := scanEvent(stmt)
					if err != nil {
						return err
					}
					out = e
					return nil
				},
			})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *CalendarRepository) ListUpcoming(ctx context.Context, ws calendar.Workspace, from time.Time, limit int) ([]*calendar.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []*calendar.Event
	err := r.ws.with(ctx, ws, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `
			SELECT `+eventColumns+` FROM calendar_events
			WHERE start_time >= ? OR status IN ('scheduled', 'running')
			ORDER BY start_time ASC LIMIT ?`,
			&sqlitex.ExecOptions{
				Args: []any{millis(from), int64(limit)},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					e, err := scanEvent(stmt)
					if err != nil {
						return err
					}
					out = append(out, e)
					return nil
				},
			})
	})
	return out, err
}

func (r *CalendarRepository) Update(ctx context.Context, ws calendar.Workspace, e *calendar.Event) (bool, error) {
	var changed int
	err := r.ws.with(ctx, ws, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, `
			UPDATE calendar_events
			SET title = ?, prompt = ?, start_time = ?, end_time = NULLIF(?, 0), color = ?
			WHERE id = ? AND status = 'scheduled'`,
			&sqlitex.ExecOptions{Args: []any{
				e.Title, e.Prompt, millis(e.StartTime), optMillis(e.EndTime), e.Color, e.ID.String(),
			}})
		changed = conn.Changes()
		return err
	})
	if err != nil {
		return false, fmt.Errorf("update calendar event: %w", err)
	}
	return changed == 1, nil
}

func (r *CalendarRepository) Cancel(ctx context.Context, ws calendar.Workspace, id uuid.UUID) (bool, error) {
	var won bool
	err := r.ws.with(ctx, ws, func(conn *sqlite.Conn) error {
		var err error
		won, err = claim.Try(ctx, func(context.Context) (int64, error) {
			err := sqlitex.Execute(conn,
				`UPDATE calendar_events SET status = 'cancelled' WHERE id = ? AND status = 'scheduled'`,
				&sqlitex.ExecOptions{Args: []any{id.String()}})
			return int64(conn.Changes()), err
		})
		return err
	})
	if err != nil {
		return false, fmt.Errorf("cancel calendar event: %w", err)
	}
	return won, nil
}

// ClaimDue selects due events and flips each to running with a guarded
// update. Concurrent pollers on the same file partition the due set.
func (r *CalendarRepository) ClaimDue(ctx context.Context, ws calendar.Workspace, now time.Time) ([]*calendar.Event, error) {
	var won []*calendar.Event
	err := r.ws.with(ctx, ws, func(conn *sqlite.Conn) error {
		var due []*calendar.Event
		err := sqlitex.Execute(conn, `
			SELECT `+eventColumns+` FROM calendar_events
			WHERE status = 'scheduled' AND start_time <= ? AND (end_time IS NULL OR end_time >= ?)
			ORDER BY start_time ASC`,
			&sqlitex.ExecOptions{
				Args: []any{millis(now), millis(now)},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					e, err := scanEvent(stmt)
					if err != nil {
						return err
					}
					due = append(due, e)
					return nil
				},
			})
		if err != nil {
			return fmt.Errorf("select due events: %w", err)
		}

		startedAt := millis(now)
		res, err := claim.Each(ctx, due, func(e *calendar.Event) claim.Guard {
			return func(context.Context) (int64, error) {
				err := sqlitex.Execute(conn,
					`UPDATE calendar_events SET status = 'running', started_at = ? WHERE id = ? AND status = 'scheduled'`,
					&sqlitex.ExecOptions{Args: []any{startedAt, e.ID.String()}})
				return int64(conn.Changes()), err
			}
		})
		for _, e := range res.Won {
			t := fromMillis(startedAt)
			e.Status = calendar.StatusRunning
			e.StartedAt = &t
		}
		won = res.Won
		return err
	})
	if err != nil {
		return won, fmt.Errorf("claim due events: %w", err)
	}
	return won, nil
}

func (r *CalendarRepository) Finish(ctx context.Context, ws calendar.Workspace, id uuid.UUID, status calendar.Status, errText *string, at time.Time) error {
	if status != calendar.StatusCompleted && status != calendar.StatusFailed {
		return calendar.ErrInvalidTransition
	}
	msg := ""
	if errText != nil {
		msg = *errText
	}
	var changed int
	err := r.ws.with(ctx, ws, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, `
			UPDATE calendar_events SET status = ?, error = NULLIF(?, ''), completed_at = ?
			WHERE id = ? AND status = 'running'`,
			&sqlitex.ExecOptions{Args: []any{string(status), msg, millis(at), id.String()}})
		changed = conn.Changes()
		return err
	})
	if err != nil {
		return fmt.Errorf("finish calendar event: %w", err)
	}
	if changed == 0 {
		return calendar.ErrInvalidTransition
	}
	return nil
}

func (r *CalendarRepository) Workspaces(_ context.Context) ([]calendar.Workspace, error) {
	return r.ws.List()
}

func scanEvent(stmt *sqlite.Stmt) (*calendar.Event, error) {
	id, err := uuid.Parse(stmt.ColumnText(0))
	if err != nil {
		return nil, fmt.Errorf("parse event id: %w", err)
	}
	agentID, err := uuid.Parse(stmt.ColumnText(1))
	if err != nil {
		return nil, fmt.Errorf("parse agent id: %w", err)
	}
	e := &calendar.Event{
		ID:        id,
		AgentID:   agentID,
		UserID:    stmt.ColumnInt64(2),
		Title:     stmt.ColumnText(3),
		Prompt:    stmt.ColumnText(4),
		StartTime: fromMillis(stmt.ColumnInt64(5)),
		Color:     stmt.ColumnText(7),
		Status:    calendar.Status(stmt.ColumnText(8)),
		CreatedAt: fromMillis(stmt.ColumnInt64(12)),
	}
	e.EndTime = optTime(stmt.ColumnInt64(6))
	if msg := stmt.ColumnText(9); msg != "" {
		e.Error = &msg
	}
	e.StartedAt = optTime(stmt.ColumnInt64(10))
	e.CompletedAt = optTime(stmt.ColumnInt64(11))
	return e, nil
}

func millis(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func optMillis(t *time.Time) int64 {
	if t == nil {
		return 0
	}
	return millis(*t)
}

func optTime(ms int64) *time.Time {
	if ms == 0 {
		return nil
	}
	t := fromMillis(ms)
	return &t
}

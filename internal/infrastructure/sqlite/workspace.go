package sqlite

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/hermitshell/hermitshell/internal/domain/calendar"
)

const dbFile = "calendar.db"

var pragmas = []string{
	"PRAGMA busy_timeout=5000",
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA temp_store=MEMORY",
}

const schema = `
CREATE TABLE IF NOT EXISTS calendar_events (
	id           TEXT PRIMARY KEY,
	agent_id     TEXT NOT NULL,
	user_id      INTEGER NOT NULL,
	title        TEXT NOT NULL,
	prompt       TEXT NOT NULL,
	start_time   INTEGER NOT NULL,
	end_time     INTEGER,
	color        TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL DEFAULT 'scheduled',
	error        TEXT,
	started_at   INTEGER,
	completed_at INTEGER,
	created_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_calendar_events_due ON calendar_events (status, start_time);
`

// Workspaces opens one SQLite database per (agent, user) pair under root,
// at root/<agent>/<user>/calendar.db. Pools are opened lazily and kept
// until Close.
type Workspaces struct {
	root     string
	poolSize int
	logger   zerolog.Logger

	mu    sync.Mutex
	pools map[string]*sqlitex.Pool
}

func NewWorkspaces(root string, poolSize int, logger zerolog.Logger) *Workspaces {
	if poolSize <= 0 {
		poolSize = 4
	}
	return &Workspaces{
		root:     root,
		poolSize: poolSize,
		logger:   logger.With().Str("component", "workspaces").Logger(),
		pools:    make(map[string]*sqlitex.Pool),
	}
}

// Path returns the database file of ws.
func (w *Workspaces) Path(ws calendar.Workspace) string {
	return filepath.Join(w.root, ws.AgentID.String(), strconv.FormatInt(ws.UserID, 10), dbFile)
}

func (w *Workspaces) pool(ws calendar.Workspace) (*sqlitex.Pool, error) {
	path := w.Path(ws)
	w.mu.Lock()
	p, ok := w.pools[path]
	w.mu.Unlock()
	if ok {
		return p, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create workspace dir: %w", err)
	}
	p, err := sqlitex.NewPool(path, sqlitex.PoolOptions{
		PoolSize:    w.poolSize,
		PrepareConn: prepareConn,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	w.mu.Lock()
	if existing, ok := w.pools[path]; ok {
		w.mu.Unlock()
		// lost the race for this workspace
		_ = p.Close()
		return existing, nil
	}
	w.pools[path] = p
	w.mu.Unlock()
	w.logger.Debug().Str("path", path).Msg("workspace opened")
	return p, nil
}

func prepareConn(conn *sqlite.Conn) error {
	for _, p := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, p, nil); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	return sqlitex.ExecuteScript(conn, schema, nil)
}

// with runs fn on a pooled connection of ws.
func (w *Workspaces) with(ctx context.Context, ws calendar.Workspace, fn func(conn *sqlite.Conn) error) error {
	p, err := w.pool(ws)
	if err != nil {
		return err
	}
	conn, err := p.Take(ctx)
	if err != nil {
		return fmt.Errorf("take connection: %w", err)
	}
	defer p.Put(conn)
	return fn(conn)
}

// List discovers every workspace database under root.
func (w *Workspaces) List() ([]calendar.Workspace, error) {
	matches, err := filepath.Glob(filepath.Join(w.root, "*", "*", dbFile))
	if err != nil {
		return nil, err
	}
	out := make([]calendar.Workspace, 0, len(matches))
	for _, m := range matches {
		userDir := filepath.Dir(m)
		agentDir := filepath.Dir(userDir)
		agentID, err := uuid.Parse(filepath.Base(agentDir))
		if err != nil {
			continue
		}
		userID, err := strconv.ParseInt(filepath.Base(userDir), 10, 64)
		if err != nil {
			continue
		}
		out = append(out, calendar.Workspace{AgentID: agentID, UserID: userID})
	}
	return out, nil
}

// Close closes every open pool.
func (w *Workspaces) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	var first error
	for path, p := range w.pools {
		if err := p.Close(); err != nil && first == nil {
			first = fmt.Errorf("close %s: %w", path, err)
		}
		delete(w.pools, path)
	}
	return first
}

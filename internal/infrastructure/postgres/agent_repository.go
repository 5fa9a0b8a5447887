package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hermitshell/hermitshell/internal/domain/agent"
)

const agentColumns = `id, name, role, image, require_approval, provider, status, created_at, updated_at`

// AgentRepository implements agent.Repository.
type AgentRepository struct {
	pool *pgxpool.Pool
}

func NewAgentRepository(pool *pgxpool.Pool) *AgentRepository {
	return &AgentRepository{pool: pool}
}

// Upsert inserts a by name, or refreshes its definition when the name
// exists. a.ID is overwritten with the stored ID.
func (r *AgentRepository) Upsert(ctx context.Context, a *agent.Agent) error {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO agents (id, name, role, image, require_approval, provider, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (name) DO UPDATE
		SET role=EXCLUDED.role,
			image=EXCLUDED.image,
			require_approval=EXCLUDED.require_approval,
			provider=EXCLUDED.provider,
			updated_at=EXCLUDED.updated_at
		RETURNING id, status, created_at
	`, a.ID, a.Name, a.Role, a.Image, a.RequireApproval, nullJSON(a.Provider), a.Status, a.CreatedAt, a.UpdatedAt)
	return row.Scan(&a.ID, &a.Status, &a.CreatedAt)
}

func (r *AgentRepository) GetByID(ctx context.Context, id uuid.UUID) (*agent.Agent, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+agentColumns+` FROM agents WHERE id=$1`, id)
	return scanAgent(row)
}

func (r *AgentRepository) GetByName(ctx context.Context, name string) (*agent.Agent, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+agentColumns+` FROM agents WHERE name=$1`, name)
	return scanAgent(row)
}

// FindByRole returns the oldest agent with role.
func (r *AgentRepository) FindByRole(ctx context.Context, role string) (*agent.Agent, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+agentColumns+` FROM agents WHERE lower(role)=lower($1) ORDER BY created_at ASC LIMIT 1`, role)
	return scanAgent(row)
}

func (r *AgentRepository) List(ctx context.Context) ([]*agent.Agent, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+agentColumns+` FROM agents ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*agent.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *AgentRepository) SetStatus(ctx context.Context, id uuid.UUID, status agent.Status) error {
	_, err := r.pool.Exec(ctx, `UPDATE agents SET status=$2, updated_at=NOW() WHERE id=$1`, id, status)
	return err
}

func scanAgent(row pgx.Row) (*agent.Agent, error) {
	var a agent.Agent
	var provider []byte
	if err := row.Scan(&a.ID, &a.Name, &a.Role, &a.Image, &a.RequireApproval, &provider, &a.Status, &a.CreatedAt, &a.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if len(provider) > 0 {
		a.Provider = provider
	}
	return &a, nil
}

func nullJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}

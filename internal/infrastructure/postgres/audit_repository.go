package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hermitshell/hermitshell/internal/domain/audit"
)

const auditColumns = `id, agent_id, user_id, action_type, command, output, full_response, sandbox_handle, status, approved_by, signature, created_at, resolved_at`

// AuditRepository implements audit.Repository.
type AuditRepository struct {
	pool *pgxpool.Pool
}

func NewAuditRepository(pool *pgxpool.Pool) *AuditRepository {
	return &AuditRepository{pool: pool}
}

func (r *AuditRepository) Create(ctx context.Context, e *audit.Entry) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO audit_log (`+auditColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, e.ID, e.AgentID, e.UserID, e.ActionType, e.Command, e.Output, e.FullResponse, e.SandboxHandle, e.Status, e.ApprovedBy, e.Signature, e.CreatedAt, e.ResolvedAt)
	return err
}

func (r *AuditRepository) GetByID(ctx context.Context, id uuid.UUID) (*audit.Entry, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+auditColumns+` FROM audit_log WHERE id=$1`, id)
	return scanAudit(row)
}

// Resolve is the only write that touches an existing row, and only while
// it is still pending.
func (r *AuditRepository) Resolve(ctx context.Context, id uuid.UUID, status audit.Status, approvedBy string) (bool, error) {
	if status == audit.StatusPending {
		return false, audit.ErrInvalidTransition
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE audit_log SET status=$2, approved_by=$3, resolved_at=NOW()
		WHERE id=$1 AND status='pending'
	`, id, status, approvedBy)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *AuditRepository) List(ctx context.Context, filter audit.Filter, limit, offset int) ([]*audit.Entry, error) {
	query := `SELECT ` + auditColumns + ` FROM audit_log`
	args := []interface{}{}
	idx := 1
	if filter.AgentID != nil {
		query += " WHERE agent_id=$" + itoa(idx)
		args = append(args, *filter.AgentID)
		idx++
	}
	if filter.Status != nil {
		query += addWhere(query) + " status=$" + itoa(idx)
		args = append(args, *filter.Status)
		idx++
	}
	if filter.ActionType != nil {
		query += addWhere(query) + " action_type=$" + itoa(idx)
		args = append(args, *filter.ActionType)
		idx++
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT $" + itoa(idx) + " OFFSET $" + itoa(idx+1)
	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*audit.Entry
	for rows.Next() {
		e, err := scanAudit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanAudit(row pgx.Row) (*audit.Entry, error) {
	var e audit.Entry
	if err := row.Scan(&e.ID, &e.AgentID, &e.UserID, &e.ActionType, &e.Command, &e.Output, &e.FullResponse, &e.SandboxHandle, &e.Status, &e.ApprovedBy, &e.Signature, &e.CreatedAt, &e.ResolvedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &e, nil
}

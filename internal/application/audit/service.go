package audit

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hermitshell/hermitshell/internal/domain/audit"
)

// Service writes and reads the audit log.
type Service struct {
	repo    audit.Repository
	logger  zerolog.Logger
	signKey []byte
}

// NewService creates a new audit service. An empty signKey disables signing.
func NewService(repo audit.Repository, logger zerolog.Logger, signKey []byte) *Service {
	return &Service{
		repo:    repo,
		signKey: signKey,
		logger:  logger.With().Str("service", "audit").Logger(),
	}
}

// Record signs and stores e.
func (s *Service) Record(ctx context.Context, e *audit.Entry) error {
	if len(s.signKey) > 0 {
		sig, err := audit.Sign(e, s.signKey)
		if err != nil {
			return fmt.Errorf("failed to sign audit entry: %w", err)
		}
		e.Signature = sig
	}
	if err := s.repo.Create(ctx, e); err != nil {
		return fmt.Errorf("failed to save audit entry: %w", err)
	}

	s.logger.Debug().
		Str("audit_id", e.ID.String()).
		Str("agent_id", e.AgentID.String()).
		Str("action_type", string(e.ActionType)).
		Str("status", string(e.Status)).
		Msg("audit entry created")
	return nil
}

// Log records e and only logs a failure. Callers on the user path use it so
// an audit outage never blocks a reply.
func (s *Service) Log(ctx context.Context, e *audit.Entry) {
	if err := s.Record(ctx, e); err != nil {
		s.logger.Error().Err(err).
			Str("agent_id", e.AgentID.String()).
			Str("action_type", string(e.ActionType)).
			Msg("failed to create audit entry")
	}
}

// Resolve applies the single terminal transition of a pending entry. It
// reports false when the entry was missing or already resolved.
func (s *Service) Resolve(ctx context.Context, id uuid.UUID, status audit.Status, by string) (bool, error) {
	ok, err := s.repo.Resolve(ctx, id, status, by)
	if err != nil {
		return false, fmt.Errorf("failed to resolve audit entry: %w", err)
	}
	if !ok {
		s.logger.Warn().Str("audit_id", id.String()).Str("status", string(status)).Msg("audit entry not pending")
	}
	return ok, nil
}

// QueryParams represents query parameters for audit listing.
type QueryParams struct {
	AgentID    *uuid.UUID
	Status     *string
	ActionType *string
	Limit      int
	Offset     int
}

// Query lists entries newest first.
func (s *Service) Query(ctx context.Context, params QueryParams) ([]*audit.Entry, error) {
	if params.Limit <= 0 {
		params.Limit = 50
	}
	if params.Limit > 200 {
		params.Limit = 200
	}
	filter := audit.Filter{AgentID: params.AgentID}
	if params.Status != nil {
		st := audit.Status(*params.Status)
		filter.Status = &st
	}
	if params.ActionType != nil {
		at := audit.ActionType(*params.ActionType)
		filter.ActionType = &at
	}
	entries, err := s.repo.List(ctx, filter, params.Limit, params.Offset)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to query audit log")
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	return entries, nil
}

// Verify checks the stored signature of entry id.
func (s *Service) Verify(ctx context.Context, id uuid.UUID) (bool, error) {
	if len(s.signKey) == 0 {
		return false, nil
	}
	e, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return false, fmt.Errorf("failed to get audit entry: %w", err)
	}
	if e == nil {
		return false, nil
	}
	ok, err := audit.Verify(e, s.signKey)
	if err != nil {
		return false, err
	}
	if !ok {
		s.logger.Warn().Str("audit_id", id.String()).Msg("audit signature mismatch")
	}
	return ok, nil
}

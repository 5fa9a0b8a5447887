package ledger

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hermitshell/hermitshell/internal/domain/budget"
	"github.com/hermitshell/hermitshell/internal/domain/claim"
	"github.com/hermitshell/hermitshell/internal/infrastructure/clock"
	"github.com/hermitshell/hermitshell/internal/infrastructure/metrics"
)

// Denial reasons reported to metrics.
const (
	ReasonExhausted   = "exhausted"
	ReasonMissing     = "missing"
	ReasonUnavailable = "unavailable"
)

// Service is the resource ledger: the per-agent daily spend cap.
type Service struct {
	repo    budget.Repository
	clock   clock.Clock
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// NewService creates a ledger service. m may be nil.
func NewService(repo budget.Repository, clk clock.Clock, m *metrics.Metrics, logger zerolog.Logger) *Service {
	if clk == nil {
		clk = clock.Real()
	}
	return &Service{
		repo:    repo,
		clock:   clk,
		metrics: m,
		logger:  logger.With().Str("service", "ledger").Logger(),
	}
}

// CanSpend reports whether agentID may start another run. It resets a stale
// day first. Any store failure or a missing budget denies.
func (s *Service) CanSpend(ctx context.Context, agentID uuid.UUID) bool {
	b, err := s.repo.Get(ctx, agentID)
	if err != nil {
		s.logger.Error().Err(err).Str("agent_id", agentID.String()).Msg("budget lookup failed")
		s.deny(ReasonUnavailable)
		return false
	}
	if b == nil {
		s.logger.Warn().Str("agent_id", agentID.String()).Msg("agent has no budget")
		s.deny(ReasonMissing)
		return false
	}

	today := budget.Day(s.clock.Now())
	if b.NeedsReset(today) {
		observed := b.LastResetDate
		won, err := claim.Try(ctx, func(ctx context.Context) (int64, error) {
			return s.repo.ResetIfStale(ctx, agentID, observed, today)
		})
		if err != nil {
			s.logger.Error().Err(err).Str("agent_id", agentID.String()).Msg("budget reset failed")
			s.deny(ReasonUnavailable)
			return false
		}
		if won {
			s.logger.Info().Str("agent_id", agentID.String()).Str("day", today).Msg("budget reset")
		}
		// Winner or loser, the row now reflects today; read it back.
		if b, err = s.repo.Get(ctx, agentID); err != nil || b == nil {
			s.logger.Error().Err(err).Str("agent_id", agentID.String()).Msg("budget reload failed")
			s.deny(ReasonUnavailable)
			return false
		}
	}

	if !b.CanSpend() {
		s.deny(ReasonExhausted)
		return false
	}
	return true
}

// RecordSpend adds amount to today's spend. Failures are logged only.
func (s *Service) RecordSpend(ctx context.Context, agentID uuid.UUID, amount float64) {
	if amount <= 0 {
		return
	}
	if err := s.repo.AddSpend(ctx, agentID, amount); err != nil {
		s.logger.Error().Err(err).Str("agent_id", agentID.String()).Float64("amount", amount).Msg("record spend failed")
	}
}

// Get returns the current budget of agentID, or nil.
func (s *Service) Get(ctx context.Context, agentID uuid.UUID) (*budget.Budget, error) {
	return s.repo.Get(ctx, agentID)
}

// Ensure creates a budget for agentID if none exists.
func (s *Service) Ensure(ctx context.Context, agentID uuid.UUID, dailyLimit float64) error {
	return s.repo.Create(ctx, budget.New(agentID, dailyLimit, s.clock.Now()))
}

func (s *Service) deny(reason string) {
	if s.metrics != nil {
		s.metrics.BudgetDenials.WithLabelValues(reason).Inc()
	}
}

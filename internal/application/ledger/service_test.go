package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/hermitshell/hermitshell/internal/domain/budget"
	budgetMocks "github.com/hermitshell/hermitshell/internal/domain/budget/mocks"
	"github.com/hermitshell/hermitshell/internal/infrastructure/clock"
	"github.com/hermitshell/hermitshell/internal/infrastructure/metrics"
)

func setup(t *testing.T, now time.Time) (*Service, *budgetMocks.MockRepository, *metrics.Metrics) {
	t.Helper()
	ctrl := gomock.NewController(t)
	repo := budgetMocks.NewMockRepository(ctrl)
	m := metrics.New(nil)
	return NewService(repo, clock.Fake(now), m, zerolog.Nop()), repo, m
}

func TestService_CanSpend(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.Local)
	today := budget.Day(now)
	agentID := uuid.New()

	t.Run("under limit", func(t *testing.T) {
		svc, repo, _ := setup(t, now)
		repo.EXPECT().Get(ctx, agentID).Return(&budget.Budget{AgentID: agentID, DailyLimit: 1, CurrentSpend: 0.5, LastResetDate: today}, nil)

		assert.True(t, svc.CanSpend(ctx, agentID))
	})

	t.Run("cap reached", func(t *testing.T) {
		svc, repo, m := setup(t, now)
		repo.EXPECT().Get(ctx, agentID).Return(&budget.Budget{AgentID: agentID, DailyLimit: 1, CurrentSpend: 1, LastResetDate: today}, nil)

		assert.False(t, svc.CanSpend(ctx, agentID))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.BudgetDenials.WithLabelValues(ReasonExhausted)))
	})

	t.Run("sub-micro residue still counts as cap", func(t *testing.T) {
		svc, repo, _ := setup(t, now)
		repo.EXPECT().Get(ctx, agentID).Return(&budget.Budget{AgentID: agentID, DailyLimit: 1, CurrentSpend: 0.9999999, LastResetDate: today}, nil)

		assert.False(t, svc.CanSpend(ctx, agentID))
	})

	t.Run("missing budget fails closed", func(t *testing.T) {
		svc, repo, m := setup(t, now)
		repo.EXPECT().Get(ctx, agentID).Return(nil, nil)

		assert.False(t, svc.CanSpend(ctx, agentID))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.BudgetDenials.WithLabelValues(ReasonMissing)))
	})

	t.Run("store error fails closed", func(t *testing.T) {
		svc, repo, _ := setup(t, now)
		repo.EXPECT().Get(ctx, agentID).Return(nil, errors.New("connection refused"))

		assert.False(t, svc.CanSpend(ctx, agentID))
	})

	t.Run("new day after cap resets and allows", func(t *testing.T) {
		svc, repo, _ := setup(t, now)
		yesterday := budget.Day(now.AddDate(0, 0, -1))
		gomock.InOrder(
			repo.EXPECT().Get(ctx, agentID).Return(&budget.Budget{AgentID: agentID, DailyLimit: 1, CurrentSpend: 1, LastResetDate: yesterday}, nil),
			repo.EXPECT().ResetIfStale(gomock.Any(), agentID, yesterday, today).Return(int64(1), nil),
			repo.EXPECT().Get(ctx, agentID).Return(&budget.Budget{AgentID: agentID, DailyLimit: 1, CurrentSpend: 0, LastResetDate: today}, nil),
		)

		assert.True(t, svc.CanSpend(ctx, agentID))
	})

	t.Run("losing the reset race rereads the winner's row", func(t *testing.T) {
		svc, repo, _ := setup(t, now)
		yesterday := budget.Day(now.AddDate(0, 0, -1))
		gomock.InOrder(
			repo.EXPECT().Get(ctx, agentID).Return(&budget.Budget{AgentID: agentID, DailyLimit: 1, CurrentSpend: 3, LastResetDate: yesterday}, nil),
			repo.EXPECT().ResetIfStale(gomock.Any(), agentID, yesterday, today).Return(int64(0), nil),
			repo.EXPECT().Get(ctx, agentID).Return(&budget.Budget{AgentID: agentID, DailyLimit: 1, CurrentSpend: 0.2, LastResetDate: today}, nil),
		)

		assert.True(t, svc.CanSpend(ctx, agentID))
	})

	t.Run("reset error fails closed", func(t *testing.T) {
		svc, repo, _ := setup(t, now)
		yesterday := budget.Day(now.AddDate(0, 0, -1))
		repo.EXPECT().Get(ctx, agentID).Return(&budget.Budget{AgentID: agentID, DailyLimit: 1, LastResetDate: yesterday}, nil)
		repo.EXPECT().ResetIfStale(gomock.Any(), agentID, yesterday, today).Return(int64(0), errors.New("timeout"))

		assert.False(t, svc.CanSpend(ctx, agentID))
	})
}

func TestService_RecordSpend(t *testing.T) {
	ctx := context.Background()
	agentID := uuid.New()

	t.Run("increments", func(t *testing.T) {
		svc, repo, _ := setup(t, time.Now())
		repo.EXPECT().AddSpend(ctx, agentID, 0.25).Return(nil)
		svc.RecordSpend(ctx, agentID, 0.25)
	})

	t.Run("failure is swallowed", func(t *testing.T) {
		svc, repo, _ := setup(t, time.Now())
		repo.EXPECT().AddSpend(ctx, agentID, 0.25).Return(errors.New("down"))
		require.NotPanics(t, func() { svc.RecordSpend(ctx, agentID, 0.25) })
	})

	t.Run("zero is skipped", func(t *testing.T) {
		svc, _, _ := setup(t, time.Now())
		svc.RecordSpend(ctx, agentID, 0)
	})
}

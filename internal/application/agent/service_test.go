package agent

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/hermitshell/hermitshell/internal/domain/agent"
	"github.com/hermitshell/hermitshell/internal/domain/agent/mocks"
)

type recordingBudgets struct {
	limits map[uuid.UUID]float64
	err    error
}

func (b *recordingBudgets) Ensure(_ context.Context, id uuid.UUID, limit float64) error {
	if b.err != nil {
		return b.err
	}
	b.limits[id] = limit
	return nil
}

func writeSeed(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agents.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadSeedFile(t *testing.T) {
	path := writeSeed(t, `
agents:
  - name: hermit
    role: assistant
    image: hermit/base:latest
    dailyLimit: 2
    provider:
      model: gpt-4o-mini
      temperature: 0.2
  - name: scout
    role: researcher
    image: hermit/research:latest
    requireApproval: true
`)
	f, err := LoadSeedFile(path)
	require.NoError(t, err)
	require.Len(t, f.Agents, 2)
	assert.Equal(t, 2.0, f.Agents[0].DailyLimit)
	assert.Equal(t, "gpt-4o-mini", f.Agents[0].Provider["model"])
	assert.True(t, f.Agents[1].RequireApproval)
}

func TestLoadSeedFile_Invalid(t *testing.T) {
	cases := map[string]string{
		"missing name":  "agents:\n  - image: x\n",
		"missing image": "agents:\n  - name: a\n",
		"negative":      "agents:\n  - name: a\n    image: x\n    dailyLimit: -1\n",
		"duplicate":     "agents:\n  - name: a\n    image: x\n  - name: a\n    image: y\n",
		"not yaml":      "agents: [",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadSeedFile(writeSeed(t, body))
			assert.Error(t, err)
		})
	}
}

func TestService_Seed(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockRepository(ctrl)
	budgets := &recordingBudgets{limits: map[uuid.UUID]float64{}}
	svc := NewService(repo, budgets, 1.5, zerolog.Nop())

	existing := uuid.New()
	repo.EXPECT().Upsert(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, a *agent.Agent) error {
		if a.Name == "hermit" {
			a.ID = existing
		}
		return nil
	}).Times(2)

	out, err := svc.Seed(context.Background(), &SeedFile{Agents: []Seed{
		{Name: "hermit", Image: "hermit/base", DailyLimit: 3, Provider: map[string]interface{}{"model": "m"}},
		{Name: "scout", Role: "researcher", Image: "hermit/research"},
	}})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, existing, out[0].ID)
	assert.Equal(t, "assistant", out[0].Role)
	assert.JSONEq(t, `{"model":"m"}`, string(out[0].Provider))
	assert.Equal(t, 3.0, budgets.limits[existing])
	assert.Equal(t, 1.5, budgets.limits[out[1].ID])
}

func TestService_SeedStopsOnError(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockRepository(ctrl)
	svc := NewService(repo, &recordingBudgets{limits: map[uuid.UUID]float64{}}, 1, zerolog.Nop())

	repo.EXPECT().Upsert(gomock.Any(), gomock.Any()).Return(errors.New("db down"))

	out, err := svc.Seed(context.Background(), &SeedFile{Agents: []Seed{
		{Name: "a", Image: "x"}, {Name: "b", Image: "y"},
	}})
	assert.ErrorContains(t, err, "db down")
	assert.Empty(t, out)
}

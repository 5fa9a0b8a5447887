package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/hermitshell/hermitshell/internal/domain/agent"
)

// Budgets creates missing budgets.
type Budgets interface {
	Ensure(ctx context.Context, agentID uuid.UUID, dailyLimit float64) error
}

// Seed is one agent entry of a seed file.
type Seed struct {
	Name            string                 `yaml:"name"`
	Role            string                 `yaml:"role"`
	Image           string                 `yaml:"image"`
	RequireApproval bool                   `yaml:"requireApproval"`
	DailyLimit      float64                `yaml:"dailyLimit"`
	Provider        map[string]interface{} `yaml:"provider"`
}

// SeedFile is the document read by seed-agents.
type SeedFile struct {
	Agents []Seed `yaml:"agents"`
}

// LoadSeedFile reads and validates a YAML seed file.
func LoadSeedFile(path string) (*SeedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	var f SeedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}
	seen := make(map[string]struct{}, len(f.Agents))
	for i, s := range f.Agents {
		if strings.TrimSpace(s.Name) == "" {
			return nil, fmt.Errorf("agent %d: name is required", i)
		}
		if s.Image == "" {
			return nil, fmt.Errorf("agent %s: image is required", s.Name)
		}
		if s.DailyLimit < 0 {
			return nil, fmt.Errorf("agent %s: dailyLimit must not be negative", s.Name)
		}
		if _, dup := seen[s.Name]; dup {
			return nil, fmt.Errorf("agent %s: duplicate name", s.Name)
		}
		seen[s.Name] = struct{}{}
	}
	return &f, nil
}

// Service manages the agent registry.
type Service struct {
	repo         agent.Repository
	budgets      Budgets
	defaultLimit float64
	logger       zerolog.Logger
}

func NewService(repo agent.Repository, budgets Budgets, defaultLimit float64, logger zerolog.Logger) *Service {
	return &Service{
		repo:         repo,
		budgets:      budgets,
		defaultLimit: defaultLimit,
		logger:       logger.With().Str("service", "agent").Logger(),
	}
}

// Seed upserts every agent of f and makes sure each has a budget. Existing
// budgets keep their spend.
func (s *Service) Seed(ctx context.Context, f *SeedFile) ([]*agent.Agent, error) {
	out := make([]*agent.Agent, 0, len(f.Agents))
	for _, seed := range f.Agents {
		role := seed.Role
		if role == "" {
			role = "assistant"
		}
		a := agent.New(seed.Name, role, seed.Image, seed.RequireApproval)
		if len(seed.Provider) > 0 {
			raw, err := json.Marshal(seed.Provider)
			if err != nil {
				return out, fmt.Errorf("agent %s: provider: %w", seed.Name, err)
			}
			a.Provider = raw
		}
		if err := s.repo.Upsert(ctx, a); err != nil {
			return out, fmt.Errorf("failed to upsert agent %s: %w", seed.Name, err)
		}

		limit := seed.DailyLimit
		if limit == 0 {
			limit = s.defaultLimit
		}
		if err := s.budgets.Ensure(ctx, a.ID, limit); err != nil {
			return out, fmt.Errorf("failed to create budget for %s: %w", seed.Name, err)
		}

		s.logger.Info().
			Str("agent_id", a.ID.String()).
			Str("name", a.Name).
			Str("role", a.Role).
			Float64("daily_limit", limit).
			Msg("agent seeded")
		out = append(out, a)
	}
	return out, nil
}

// List returns every agent.
func (s *Service) List(ctx context.Context) ([]*agent.Agent, error) {
	return s.repo.List(ctx)
}

package httpapi

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	appAudit "github.com/hermitshell/hermitshell/internal/application/audit"
	"github.com/hermitshell/hermitshell/internal/application/orchestrator"
	"github.com/hermitshell/hermitshell/internal/domain/agent"
	domainApproval "github.com/hermitshell/hermitshell/internal/domain/approval"
	"github.com/hermitshell/hermitshell/internal/domain/budget"
	"github.com/hermitshell/hermitshell/internal/domain/calendar"
	"github.com/hermitshell/hermitshell/internal/domain/delegation"
	"github.com/hermitshell/hermitshell/internal/infrastructure/sse"
)

// Orchestrator is what the chat webhook and operator routes drive.
type Orchestrator interface {
	HandleMessage(ctx context.Context, in orchestrator.Inbound) (string, error)
	HandleCallback(ctx context.Context, cb orchestrator.Callback) error
	PendingDelegations(ctx context.Context) []*delegation.Request
	ResolveDelegation(ctx context.Context, id string, approved bool, approver string) (*delegation.Request, string, error)
	ScheduleEvent(ctx context.Context, agentID uuid.UUID, in orchestrator.EventInput) (*calendar.Event, error)
	UpcomingEvents(ctx context.Context, agentID uuid.UUID, userID int64, limit int) ([]*calendar.Event, error)
}

// Approvals lists and resolves pending approvals.
type Approvals interface {
	List(ctx context.Context) []*domainApproval.Pending
	Resolve(ctx context.Context, id string, approved bool, approver string) (*domainApproval.Pending, error)
}

// Budgets reads an agent's budget.
type Budgets interface {
	Get(ctx context.Context, agentID uuid.UUID) (*budget.Budget, error)
}

// Check reports the health of one dependency.
type Check func(ctx context.Context) error

// Deps are the services behind the router.
type Deps struct {
	Orchestrator Orchestrator
	Approvals    Approvals
	Agents       agent.Repository
	Budgets      Budgets
	Audit        *appAudit.Service
	Hub          *sse.Hub
	Metrics      http.Handler
	Checks       map[string]Check
}

// Config holds router settings.
type Config struct {
	// Empty accepts webhook calls without the secret header.
	WebhookSecret  string
	JWTSecret      string
	JWTIssuer      string
	RequestTimeout time.Duration
}

// Server holds dependencies for HTTP handlers.
type Server struct {
	Deps
	cfg    Config
	logger zerolog.Logger

	// in-flight webhook updates
	updates sync.WaitGroup
}

func NewServer(deps Deps, cfg Config, logger zerolog.Logger) *Server {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 90 * time.Second
	}
	return &Server{
		Deps:   deps,
		cfg:    cfg,
		logger: logger.With().Str("service", "http").Logger(),
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.health)
	if s.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.Metrics)
	}
	r.Post("/telegram/webhook", s.telegramWebhook)

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.requireAuth)

		// long-lived stream, no request timeout
		r.Get("/events", s.sseEndpoint)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(s.cfg.RequestTimeout))

			r.Route("/agents", func(r chi.Router) {
				r.Get("/", s.listAgents)
				r.Get("/{agentId}/calendar", s.listCalendar)
				r.Post("/{agentId}/calendar", s.createCalendarEvent)
			})

			r.Route("/approvals", func(r chi.Router) {
				r.Get("/", s.listApprovals)
				r.Post("/{approvalId}/decide", s.decideApproval)
			})

			r.Route("/delegations", func(r chi.Router) {
				r.Get("/", s.listDelegations)
				r.Post("/{delegationId}/decide", s.decideDelegation)
			})

			r.Route("/audit", func(r chi.Router) {
				r.Get("/", s.queryAudit)
				r.Get("/{auditId}/verify", s.verifyAudit)
			})
		})
	})

	return r
}

// Wait blocks until every accepted webhook update has been processed.
func (s *Server) Wait() {
	s.updates.Wait()
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(s.Checks))
	for name, check := range s.Checks {
		if err := check(ctx); err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}
	state := "ok"
	if status != http.StatusOK {
		state = "degraded"
	}
	respondJSON(w, status, map[string]interface{}{"status": state, "checks": checks})
}

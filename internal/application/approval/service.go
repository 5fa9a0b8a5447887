package approval

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	appAudit "github.com/hermitshell/hermitshell/internal/application/audit"
	domainApproval "github.com/hermitshell/hermitshell/internal/domain/approval"
	"github.com/hermitshell/hermitshell/internal/domain/audit"
	"github.com/hermitshell/hermitshell/internal/domain/event"
	"github.com/hermitshell/hermitshell/internal/infrastructure/clock"
	"github.com/hermitshell/hermitshell/internal/infrastructure/metrics"
)

// ExpiredApprover is recorded as approvedBy when a request times out.
const ExpiredApprover = "system:expired"

// DefaultTTL matches how long the in-sandbox agent waits for a decision.
const DefaultTTL = 10 * time.Minute

// Gate owns pending approvals and their resolution.
type Gate struct {
	store    domainApproval.Store
	mailbox  domainApproval.Mailbox
	auditSvc *appAudit.Service
	events   event.Publisher
	clock    clock.Clock
	ttl      time.Duration
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// NewGate creates an approval gate. events and m may be nil.
func NewGate(
	store domainApproval.Store,
	mailbox domainApproval.Mailbox,
	auditSvc *appAudit.Service,
	events event.Publisher,
	clk clock.Clock,
	ttl time.Duration,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *Gate {
	if events == nil {
		events = event.Nop{}
	}
	if clk == nil {
		clk = clock.Real()
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Gate{
		store:    store,
		mailbox:  mailbox,
		auditSvc: auditSvc,
		events:   events,
		clock:    clk,
		ttl:      ttl,
		metrics:  m,
		logger:   logger.With().Str("service", "approval").Logger(),
	}
}

// Request records a pending audit entry and a pending approval for the
// action proposed inside sandbox handle.
func (g *Gate) Request(ctx context.Context, agentID uuid.UUID, userID int64, handle, action string) (*domainApproval.Pending, error) {
	entry := audit.NewEntry(agentID, userID, audit.ActionApproval, action, "", audit.StatusPending)
	entry.SandboxHandle = handle
	if err := g.auditSvc.Record(ctx, entry); err != nil {
		return nil, err
	}

	p := domainApproval.NewPending(agentID, userID, handle, action, entry.ID, g.clock.Now(), g.ttl)
	if err := g.store.Put(ctx, p); err != nil {
		return nil, err
	}

	g.logger.Info().
		Str("approval_id", p.ID).
		Str("agent_id", agentID.String()).
		Str("handle", handle).
		Msg("approval requested")
	g.events.Publish(event.ApprovalRequested, p)
	return p, nil
}

// Resolve claims request id and applies the decision. The first resolver
// wins; later or unknown ids return ErrUnknown.
func (g *Gate) Resolve(ctx context.Context, id string, approved bool, approver string) (*domainApproval.Pending, error) {
	p, ok := g.store.Take(ctx, id)
	if !ok {
		g.logger.Warn().Str("approval_id", id).Str("approver", approver).Msg("unknown or already resolved approval")
		return nil, domainApproval.ErrUnknown
	}
	d := domainApproval.DecisionDeny
	if approved {
		d = domainApproval.DecisionApprove
	}
	g.apply(ctx, p, d, approver)
	return p, nil
}

// Sweep resolves every expired request as denied and returns how many.
func (g *Gate) Sweep(ctx context.Context) int {
	expired := g.store.TakeExpired(ctx, g.clock.Now())
	for _, p := range expired {
		g.apply(ctx, p, domainApproval.DecisionDeny, ExpiredApprover)
	}
	return len(expired)
}

// Run sweeps on every tick until ctx is done.
func (g *Gate) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := g.Sweep(ctx); n > 0 {
				g.logger.Info().Int("count", n).Msg("expired approvals denied")
			}
		}
	}
}

// List returns pending requests in creation order.
func (g *Gate) List(ctx context.Context) []*domainApproval.Pending {
	return g.store.List(ctx)
}

func (g *Gate) apply(ctx context.Context, p *domainApproval.Pending, d domainApproval.Decision, approver string) {
	status := domainApproval.StatusFor(d)
	log := g.logger.With().
		Str("approval_id", p.ID).
		Str("agent_id", p.AgentID.String()).
		Str("handle", p.Handle).
		Str("status", string(status)).
		Str("approver", approver).
		Logger()

	if err := g.mailbox.Deliver(ctx, p.Handle, d); err != nil {
		log.Error().Err(err).Msg("decision delivery failed")
	}

	auditStatus := audit.StatusDenied
	if status == domainApproval.StatusApproved {
		auditStatus = audit.StatusApproved
	}
	if _, err := g.auditSvc.Resolve(ctx, p.AuditID, auditStatus, approver); err != nil {
		log.Error().Err(err).Msg("audit resolution failed")
	}

	if g.metrics != nil {
		g.metrics.Approvals.WithLabelValues("approval", string(status)).Inc()
	}
	g.events.Publish(event.ApprovalResolved, map[string]any{
		"id":       p.ID,
		"status":   status,
		"approver": approver,
	})
	log.Info().Msg("approval resolved")
}

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	appApproval "github.com/hermitshell/hermitshell/internal/application/approval"
	appAudit "github.com/hermitshell/hermitshell/internal/application/audit"
	"github.com/hermitshell/hermitshell/internal/domain/agent"
	domainApproval "github.com/hermitshell/hermitshell/internal/domain/approval"
	"github.com/hermitshell/hermitshell/internal/domain/calendar"
	"github.com/hermitshell/hermitshell/internal/domain/chat"
	"github.com/hermitshell/hermitshell/internal/domain/delegation"
	"github.com/hermitshell/hermitshell/internal/domain/event"
	"github.com/hermitshell/hermitshell/internal/domain/history"
	"github.com/hermitshell/hermitshell/internal/domain/sandbox"
	"github.com/hermitshell/hermitshell/internal/infrastructure/clock"
	"github.com/hermitshell/hermitshell/internal/infrastructure/metrics"
)

var (
	ErrUnauthorizedCaller = errors.New("caller is not on the allow-list")
	ErrBudgetExceeded     = errors.New("daily budget exceeded")
	ErrUnknownAgent       = errors.New("unknown agent")
	ErrUnknownApproval    = domainApproval.ErrUnknown
	ErrUnknownDelegation  = delegation.ErrUnknown
)

// Trigger labels.
const (
	TriggerChat       = "chat"
	TriggerCalendar   = "calendar"
	TriggerDelegation = "delegation"
)

// Runner runs sandboxes.
type Runner interface {
	Run(ctx context.Context, spec sandbox.Spec) (*sandbox.Result, error)
	Status(ctx context.Context, handle string) (sandbox.State, error)
	Stop(ctx context.Context, handle string) error
	Remove(ctx context.Context, handle string) error
}

// Ledger gates and records spend.
type Ledger interface {
	CanSpend(ctx context.Context, agentID uuid.UUID) bool
	RecordSpend(ctx context.Context, agentID uuid.UUID, amount float64)
}

// Approvals opens and resolves approval requests for gated commands.
type Approvals interface {
	Request(ctx context.Context, agentID uuid.UUID, userID int64, handle, action string) (*domainApproval.Pending, error)
	Resolve(ctx context.Context, id string, approved bool, approver string) (*domainApproval.Pending, error)
}

// Config holds orchestrator settings.
type Config struct {
	// Empty allows every caller.
	AllowedUsers    []int64
	DefaultAgent    string
	MaxTokens       int
	HistoryLimit    int
	OrchestratorURL string
	Cost            CostModel
	MaxParallel     int
	DelegationTTL   time.Duration
}

// Deps are the collaborators of an Orchestrator. Events, Clock and Metrics
// may be nil.
type Deps struct {
	Agents      agent.Repository
	Ledger      Ledger
	Approvals   Approvals
	Policy      *appApproval.Policy
	Runner      Runner
	Audit       *appAudit.Service
	History     history.Store
	Calendar    calendar.Repository
	Delegations delegation.Store
	Messenger   chat.Messenger
	Events      event.Publisher
	Clock       clock.Clock
	Metrics     *metrics.Metrics
}

// Orchestrator sequences every trigger through budget, approval, sandbox,
// spend and audit.
type Orchestrator struct {
	Deps
	cfg     Config
	allowed map[int64]struct{}
	logger  zerolog.Logger

	mu         sync.Mutex
	running    map[uuid.UUID]int
	lastHandle map[history.Key]string
}

func New(deps Deps, cfg Config, logger zerolog.Logger) *Orchestrator {
	if deps.Events == nil {
		deps.Events = event.Nop{}
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New(nil)
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1000
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 10
	}
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 4
	}
	if cfg.DelegationTTL <= 0 {
		cfg.DelegationTTL = appApproval.DefaultTTL
	}
	allowed := make(map[int64]struct{}, len(cfg.AllowedUsers))
	for _, id := range cfg.AllowedUsers {
		allowed[id] = struct{}{}
	}
	logger = logger.With().Str("service", "orchestrator").Logger()
	if len(allowed) == 0 {
		logger.Warn().Msg("chat allow-list is empty, every caller is accepted")
	}
	return &Orchestrator{
		Deps:       deps,
		cfg:        cfg,
		allowed:    allowed,
		logger:     logger,
		running:    make(map[uuid.UUID]int),
		lastHandle: make(map[history.Key]string),
	}
}

// Allowed reports whether userID may talk to agents.
func (o *Orchestrator) Allowed(userID int64) bool {
	if len(o.allowed) == 0 {
		return true
	}
	_, ok := o.allowed[userID]
	return ok
}

func unauthorized(userID int64) error {
	return fmt.Errorf("%w: user %d", ErrUnauthorizedCaller, userID)
}

// runRequest is one sandbox invocation.
type runRequest struct {
	trigger  string
	agent    *agent.Agent
	userID   int64
	chatID   int64
	message  string
	history  []sandbox.Message
	approval bool
}

func (o *Orchestrator) execute(ctx context.Context, req runRequest) (*sandbox.Result, error) {
	o.markRunning(ctx, req.agent.ID, 1)
	defer o.markRunning(context.WithoutCancel(ctx), req.agent.ID, -1)

	spec := sandbox.Spec{
		Image: req.agent.Image,
		Payload: sandbox.Payload{
			AgentID:         req.agent.ID,
			AgentName:       req.agent.Name,
			AgentRole:       req.agent.Role,
			Image:           req.agent.Image,
			UserID:          req.userID,
			UserMessage:     req.message,
			History:         req.history,
			MaxTokens:       o.cfg.MaxTokens,
			ApprovalEnabled: req.approval,
			OrchestratorURL: o.cfg.OrchestratorURL,
		},
	}
	if req.approval {
		spec.OnLine = o.watchApprovals(context.WithoutCancel(ctx), req)
	}

	started := time.Now()
	res, err := o.Runner.Run(ctx, spec)
	if err == nil && res.TimedOut {
		err = fmt.Errorf("%w: handle %s", sandbox.ErrTimeoutExpired, res.Handle)
	}

	outcome := "ok"
	switch {
	case errors.Is(err, sandbox.ErrTimeoutExpired):
		outcome = "timeout"
	case err != nil:
		outcome = "error"
	}
	o.Metrics.RunsTotal.WithLabelValues(req.trigger, outcome).Inc()
	o.Metrics.RunDuration.WithLabelValues(req.trigger, outcome).Observe(time.Since(started).Seconds())

	if res != nil {
		o.rememberHandle(history.Key{AgentID: req.agent.ID, UserID: req.userID}, res.Handle)
	}
	return res, err
}

// watchApprovals turns approval markers printed by the sandbox into pending
// approvals and approver prompts. It never blocks the output reader.
func (o *Orchestrator) watchApprovals(ctx context.Context, req runRequest) func(handle, line string) {
	return func(handle, line string) {
		idx := strings.Index(line, domainApproval.Marker)
		if idx < 0 {
			return
		}
		action := strings.TrimSpace(line[idx+len(domainApproval.Marker):])
		go func() {
			p, err := o.Approvals.Request(ctx, req.agent.ID, req.userID, handle, action)
			if err != nil {
				o.logger.Error().Err(err).Str("agent_id", req.agent.ID.String()).Msg("approval request failed")
				return
			}
			text := fmt.Sprintf("🔐 %s wants to run:\n%s\n\nApprove?", req.agent.Name, action)
			buttons := chat.DecisionButtons(chat.ActionApprove, chat.ActionDeny, p.ID)
			if _, err := o.Messenger.SendMessage(ctx, req.chatID, text, buttons); err != nil {
				o.logger.Error().Err(err).Str("approval_id", p.ID).Msg("approval prompt not delivered")
			}
		}()
	}
}

// markRunning tracks in-flight runs per agent and flips the agent between
// active and idle on the first start and last finish.
func (o *Orchestrator) markRunning(ctx context.Context, agentID uuid.UUID, delta int) {
	o.mu.Lock()
	before := o.running[agentID]
	after := before + delta
	if after <= 0 {
		delete(o.running, agentID)
		after = 0
	} else {
		o.running[agentID] = after
	}
	o.mu.Unlock()

	var status agent.Status
	switch {
	case before == 0 && after > 0:
		status = agent.StatusActive
	case before > 0 && after == 0:
		status = agent.StatusIdle
	default:
		return
	}
	if err := o.Agents.SetStatus(ctx, agentID, status); err != nil {
		o.logger.Warn().Err(err).Str("agent_id", agentID.String()).Str("status", string(status)).Msg("agent status not updated")
	}
}

// Running returns the number of in-flight runs of agentID.
func (o *Orchestrator) Running(agentID uuid.UUID) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running[agentID]
}

func (o *Orchestrator) rememberHandle(key history.Key, handle string) {
	if handle == "" {
		return
	}
	o.mu.Lock()
	o.lastHandle[key] = handle
	o.mu.Unlock()
}

func (o *Orchestrator) takeHandle(key history.Key, remove bool) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	h := o.lastHandle[key]
	if remove {
		delete(o.lastHandle, key)
	}
	return h
}

// failureText is the user-visible rendering of a run error.
func failureText(agentName string, err error) string {
	switch {
	case errors.Is(err, sandbox.ErrTimeoutExpired):
		return fmt.Sprintf("⏱️ %s ran out of time and was stopped. Try a smaller task.", agentName)
	case errors.Is(err, ErrBudgetExceeded):
		return fmt.Sprintf("💸 %s has used up today's budget. It resets at midnight.", agentName)
	default:
		return fmt.Sprintf("⚠️ %s could not finish: %v", agentName, err)
	}
}

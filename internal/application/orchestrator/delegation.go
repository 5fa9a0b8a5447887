package orchestrator

import (
	"context"
	"fmt"
	"time"

	appApproval "github.com/hermitshell/hermitshell/internal/application/approval"
	"github.com/hermitshell/hermitshell/internal/domain/agent"
	"github.com/hermitshell/hermitshell/internal/domain/audit"
	"github.com/hermitshell/hermitshell/internal/domain/calendar"
	"github.com/hermitshell/hermitshell/internal/domain/chat"
	"github.com/hermitshell/hermitshell/internal/domain/delegation"
	"github.com/hermitshell/hermitshell/internal/domain/event"
)

// DelegationEvent is published when a delegation is opened or resolved.
type DelegationEvent struct {
	ID         string `json:"id"`
	FromAgent  string `json:"fromAgent"`
	TargetRole string `json:"targetRole"`
	Task       string `json:"task"`
	Status     string `json:"status"`
	ResolvedBy string `json:"resolvedBy,omitempty"`
}

// requestDelegation stores a request for intent and sends the approver
// prompt.
func (o *Orchestrator) requestDelegation(ctx context.Context, from *agent.Agent, userID, chatID int64, intent delegation.Intent) error {
	req := delegation.NewRequest(from.ID, from.Name, userID, chatID, intent.TargetRole, intent.Task, o.Clock.Now(), o.cfg.DelegationTTL)
	if err := o.Delegations.Put(ctx, req); err != nil {
		o.logger.Error().Err(err).Str("agent_id", from.ID.String()).Msg("delegation not stored")
		return err
	}
	o.Metrics.Approvals.WithLabelValues("delegation", "requested").Inc()
	o.Events.Publish(event.DelegationRequested, delegationEvent(req, "pending", ""))

	text := fmt.Sprintf("🤝 %s wants to hand this to the %s agent:\n%s\n\nAllow?", from.Name, intent.TargetRole, intent.Task)
	buttons := chat.DecisionButtons(chat.ActionDelegationApprove, chat.ActionDelegationDeny, req.ID)
	if _, err := o.Messenger.SendMessage(ctx, chatID, text, buttons); err != nil {
		o.logger.Error().Err(err).Str("delegation_id", req.ID).Msg("delegation prompt not delivered")
	}
	return nil
}

// delegationNotice replaces the run's output while a delegation waits for
// approval.
func delegationNotice(from string, intent delegation.Intent, err error) string {
	if err != nil {
		return fmt.Sprintf("⚠️ %s wanted to hand this to the %s agent, but the request could not be opened.", from, intent.TargetRole)
	}
	return fmt.Sprintf("⏳ %s asked to hand this to the %s agent. Waiting for approval.", from, intent.TargetRole)
}

// PendingDelegations returns open delegation requests.
func (o *Orchestrator) PendingDelegations(ctx context.Context) []*delegation.Request {
	return o.Delegations.List(ctx)
}

// ResolveDelegation takes request id out of the store and acts on it. Only
// the first resolver gets the request; later ones see ErrUnknownDelegation.
// An approval runs the target agent on the task and relays its output to
// the original chat, which is also returned.
func (o *Orchestrator) ResolveDelegation(ctx context.Context, id string, approved bool, approver string) (*delegation.Request, string, error) {
	req, ok := o.Delegations.Take(ctx, id)
	if !ok {
		o.logger.Warn().Str("delegation_id", id).Msg("unknown or already resolved delegation")
		return nil, "", fmt.Errorf("%w: %s", ErrUnknownDelegation, id)
	}

	if !approved {
		o.Metrics.Approvals.WithLabelValues("delegation", "denied").Inc()
		o.Events.Publish(event.DelegationResolved, delegationEvent(req, "denied", approver))
		o.auditDelegation(ctx, req, "", "delegation denied", audit.StatusDenied, approver)
		o.send(ctx, req.ChatID, fmt.Sprintf("❌ Delegation to %s was denied.", req.TargetRole))
		return req, "", nil
	}

	o.Metrics.Approvals.WithLabelValues("delegation", "approved").Inc()
	o.Events.Publish(event.DelegationResolved, delegationEvent(req, "approved", approver))

	target, err := o.Agents.FindByRole(ctx, req.TargetRole)
	if err != nil {
		return req, "", o.failDelegation(ctx, req, approver, fmt.Errorf("find %s agent: %w", req.TargetRole, err))
	}
	if target == nil {
		return req, "", o.failDelegation(ctx, req, approver, fmt.Errorf("%w: no agent with role %q", ErrUnknownAgent, req.TargetRole))
	}
	if !o.Ledger.CanSpend(ctx, target.ID) {
		reply := failureText(target.Name, ErrBudgetExceeded)
		o.send(ctx, req.ChatID, reply)
		return req, reply, ErrBudgetExceeded
	}

	if err := o.Messenger.SendTyping(ctx, req.ChatID); err != nil {
		o.logger.Debug().Err(err).Msg("typing indicator failed")
	}

	res, err := o.execute(ctx, runRequest{
		trigger:  TriggerDelegation,
		agent:    target,
		userID:   req.UserID,
		chatID:   req.ChatID,
		message:  req.Task,
		approval: target.RequireApproval,
	})
	if err != nil {
		handle := ""
		if res != nil {
			handle = res.Handle
		}
		o.auditDelegation(ctx, req, handle, err.Error(), audit.StatusError, approver)
		o.publishRun(TriggerDelegation, target, req.UserID, handle, audit.StatusError)
		reply := failureText(target.Name, err)
		o.send(ctx, req.ChatID, reply)
		return req, reply, err
	}

	reply := o.compose(ctx, calendar.Workspace{AgentID: target.ID, UserID: req.UserID}, res)
	o.Ledger.RecordSpend(ctx, target.ID, o.cfg.Cost.Estimate(req.Task, res.Output))
	o.auditDelegation(ctx, req, res.Handle, reply, audit.StatusCompleted, approver)
	o.publishRun(TriggerDelegation, target, req.UserID, res.Handle, audit.StatusCompleted)

	reply = fmt.Sprintf("🤝 %s (for %s):\n\n%s", target.Name, req.FromAgentName, reply)
	o.deliver(ctx, req.ChatID, target.Name, reply)
	return req, reply, nil
}

func (o *Orchestrator) failDelegation(ctx context.Context, req *delegation.Request, approver string, err error) error {
	o.logger.Error().Err(err).Str("delegation_id", req.ID).Msg("delegation failed")
	o.auditDelegation(ctx, req, "", err.Error(), audit.StatusError, approver)
	o.send(ctx, req.ChatID, fmt.Sprintf("⚠️ Delegation to %s failed: %v", req.TargetRole, err))
	return err
}

func (o *Orchestrator) auditDelegation(ctx context.Context, req *delegation.Request, handle, response string, status audit.Status, approver string) {
	entry := audit.NewEntry(req.FromAgentID, req.UserID, audit.ActionDelegation, req.TargetRole+": "+req.Task, response, status)
	entry.SandboxHandle = handle
	if approver != "" {
		entry.ApprovedBy = &approver
	}
	o.Audit.Log(ctx, entry)
}

// SweepDelegations expires stale delegation requests and tells their chats.
func (o *Orchestrator) SweepDelegations(ctx context.Context) int {
	expired := o.Delegations.TakeExpired(ctx, o.Clock.Now())
	for _, req := range expired {
		o.Metrics.Approvals.WithLabelValues("delegation", "expired").Inc()
		o.Events.Publish(event.DelegationResolved, delegationEvent(req, "expired", ""))
		o.auditDelegation(ctx, req, "", "delegation expired", audit.StatusDenied, appApproval.ExpiredApprover)
		o.send(ctx, req.ChatID, fmt.Sprintf("⌛ Delegation to %s expired.", req.TargetRole))
	}
	if len(expired) > 0 {
		o.logger.Info().Int("count", len(expired)).Msg("expired delegations")
	}
	return len(expired)
}

// RunDelegationSweep calls SweepDelegations every interval until ctx ends.
func (o *Orchestrator) RunDelegationSweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.SweepDelegations(ctx)
		}
	}
}

func delegationEvent(req *delegation.Request, status, by string) DelegationEvent {
	return DelegationEvent{
		ID:         req.ID,
		FromAgent:  req.FromAgentName,
		TargetRole: req.TargetRole,
		Task:       req.Task,
		Status:     status,
		ResolvedBy: by,
	}
}

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/hermitshell/hermitshell/internal/domain/agent"
	"github.com/hermitshell/hermitshell/internal/domain/audit"
	"github.com/hermitshell/hermitshell/internal/domain/calendar"
	"github.com/hermitshell/hermitshell/internal/domain/chat"
	"github.com/hermitshell/hermitshell/internal/domain/delegation"
	"github.com/hermitshell/hermitshell/internal/domain/event"
	"github.com/hermitshell/hermitshell/internal/domain/history"
	"github.com/hermitshell/hermitshell/internal/domain/sandbox"
)

const hitlPrefix = "[HITL]"

// Inbound is a chat message from a user.
type Inbound struct {
	ChatID   int64
	UserID   int64
	Username string
	Text     string
}

// Callback is a button press from a user.
type Callback struct {
	ID        string
	ChatID    int64
	MessageID int64
	UserID    int64
	Approver  string
	Data      string
}

// RunEvent is published when a run finishes.
type RunEvent struct {
	Trigger string `json:"trigger"`
	AgentID string `json:"agentId"`
	UserID  int64  `json:"userId"`
	Handle  string `json:"sandboxHandle,omitempty"`
	Status  string `json:"status"`
}

// HandleMessage runs one chat turn and delivers the reply. The returned
// string is what was sent. Runtime failures are delivered as text and
// returned as the error.
func (o *Orchestrator) HandleMessage(ctx context.Context, in Inbound) (string, error) {
	if !o.Allowed(in.UserID) {
		o.logger.Warn().Int64("user_id", in.UserID).Str("username", in.Username).Msg("rejected message from unknown user")
		reply := "⛔ You are not authorized to use this bot."
		o.send(ctx, in.ChatID, reply)
		return reply, unauthorized(in.UserID)
	}

	text := strings.TrimSpace(in.Text)
	if text == "" {
		return "", nil
	}
	if strings.HasPrefix(text, "/") {
		reply, err := o.command(ctx, in, text)
		o.send(ctx, in.ChatID, reply)
		return reply, err
	}

	a, text, err := o.route(ctx, text)
	if err != nil {
		reply := fmt.Sprintf("🤷 %v", err)
		o.send(ctx, in.ChatID, reply)
		return reply, err
	}

	if !o.Ledger.CanSpend(ctx, a.ID) {
		reply := failureText(a.Name, ErrBudgetExceeded)
		o.send(ctx, in.ChatID, reply)
		return reply, ErrBudgetExceeded
	}

	gated := a.RequireApproval
	if o.Policy != nil {
		required, err := o.Policy.Required(a, in.UserID, text)
		if err != nil {
			o.logger.Warn().Err(err).Str("agent_id", a.ID.String()).Msg("approval policy failed, gating run")
		}
		gated = required
	}

	if err := o.Messenger.SendTyping(ctx, in.ChatID); err != nil {
		o.logger.Debug().Err(err).Msg("typing indicator failed")
	}

	key := history.Key{AgentID: a.ID, UserID: in.UserID}
	past, err := o.History.Recent(ctx, key, o.cfg.HistoryLimit)
	if err != nil {
		o.logger.Warn().Err(err).Str("agent_id", a.ID.String()).Msg("history unavailable")
		past = nil
	}

	res, err := o.execute(ctx, runRequest{
		trigger:  TriggerChat,
		agent:    a,
		userID:   in.UserID,
		chatID:   in.ChatID,
		message:  text,
		history:  past,
		approval: gated,
	})
	if err != nil {
		reply := failureText(a.Name, err)
		entry := audit.NewEntry(a.ID, in.UserID, audit.ActionChat, text, err.Error(), audit.StatusError)
		if res != nil {
			entry.SandboxHandle = res.Handle
		}
		o.Audit.Log(ctx, entry)
		o.publishRun(TriggerChat, a, in.UserID, entry.SandboxHandle, audit.StatusError)
		o.send(ctx, in.ChatID, reply)
		return reply, err
	}

	ws := calendar.Workspace{AgentID: a.ID, UserID: in.UserID}
	var reply, response string
	if intent, ok := delegation.Detect(res.Output); ok {
		// the raw output, marker included, goes to the audit entry only
		response = res.Output
		panel := o.applyPanel(ctx, ws, res.Frames)
		reply = delegationNotice(a.Name, intent, o.requestDelegation(ctx, a, in.UserID, in.ChatID, intent))
		if len(panel.notes) > 0 {
			reply += "\n\n" + strings.Join(panel.notes, "\n")
		}
	} else {
		reply = o.compose(ctx, ws, res)
		response = reply
	}

	o.Ledger.RecordSpend(ctx, a.ID, o.cfg.Cost.Estimate(text, res.Output))

	if err := o.History.Append(ctx, key,
		sandbox.Message{Role: "user", Content: text},
		sandbox.Message{Role: "assistant", Content: reply},
	); err != nil {
		o.logger.Warn().Err(err).Str("agent_id", a.ID.String()).Msg("history not saved")
	}

	entry := audit.NewEntry(a.ID, in.UserID, audit.ActionChat, text, response, audit.StatusCompleted)
	entry.SandboxHandle = res.Handle
	o.Audit.Log(ctx, entry)
	o.publishRun(TriggerChat, a, in.UserID, res.Handle, audit.StatusCompleted)

	o.deliver(ctx, in.ChatID, a.Name, reply)
	return reply, nil
}

// route picks the addressed agent. "@name rest" talks to name, anything
// else goes to the default agent.
func (o *Orchestrator) route(ctx context.Context, text string) (*agent.Agent, string, error) {
	name := o.cfg.DefaultAgent
	if strings.HasPrefix(text, "@") {
		head, rest, _ := strings.Cut(text[1:], " ")
		if head != "" && strings.TrimSpace(rest) != "" {
			name, text = head, strings.TrimSpace(rest)
		}
	}
	a, err := o.Agents.GetByName(ctx, name)
	if err != nil {
		return nil, "", err
	}
	if a == nil {
		return nil, "", fmt.Errorf("%w: %q", ErrUnknownAgent, name)
	}
	return a, text, nil
}

// compose builds the user-visible reply from a successful run.
func (o *Orchestrator) compose(ctx context.Context, ws calendar.Workspace, res *sandbox.Result) string {
	human := stripApprovalLines(res.Output)
	panel := o.applyPanel(ctx, ws, res.Frames)
	if (human == "" || human == sandbox.Placeholder) && panel.message != "" {
		human = panel.message
	}
	reply := sandbox.HumanOrPlaceholder(human)
	if len(panel.notes) > 0 {
		reply += "\n\n" + strings.Join(panel.notes, "\n")
	}
	return reply
}

// stripApprovalLines drops the sandbox's approval chatter, which the user
// already saw as a prompt with buttons.
func stripApprovalLines(output string) string {
	lines := strings.Split(output, "\n")
	kept := lines[:0]
	for _, l := range lines {
		if strings.HasPrefix(strings.TrimSpace(l), hitlPrefix) {
			continue
		}
		kept = append(kept, l)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

func (o *Orchestrator) command(ctx context.Context, in Inbound, text string) (string, error) {
	cmd, _, _ := strings.Cut(text, " ")
	cmd, _, _ = strings.Cut(cmd, "@")

	switch cmd {
	case "/start", "/help":
		return "🐚 HermitShell is listening. Message the default agent directly, or address another with @name.\n" +
			"/status shows your last sandbox, /reset stops it and clears history.", nil

	case "/status":
		a, _, err := o.route(ctx, "")
		if err != nil {
			return fmt.Sprintf("🤷 %v", err), err
		}
		handle := o.takeHandle(history.Key{AgentID: a.ID, UserID: in.UserID}, false)
		if handle == "" {
			return fmt.Sprintf("💤 %s has no sandbox for you yet.", a.Name), nil
		}
		st, err := o.Runner.Status(ctx, handle)
		if errors.Is(err, sandbox.ErrNotFound) {
			return fmt.Sprintf("💤 %s's last sandbox is gone.", a.Name), nil
		}
		if err != nil {
			return fmt.Sprintf("⚠️ Could not read sandbox status: %v", err), err
		}
		return fmt.Sprintf("📦 %s sandbox %s is %s.", a.Name, shortHandle(handle), st.Status), nil

	case "/reset":
		a, _, err := o.route(ctx, "")
		if err != nil {
			return fmt.Sprintf("🤷 %v", err), err
		}
		key := history.Key{AgentID: a.ID, UserID: in.UserID}
		if handle := o.takeHandle(key, true); handle != "" {
			if err := o.Runner.Stop(ctx, handle); err != nil && !errors.Is(err, sandbox.ErrNotFound) {
				o.logger.Warn().Err(err).Str("handle", handle).Msg("stop on reset failed")
			}
			if err := o.Runner.Remove(ctx, handle); err != nil && !errors.Is(err, sandbox.ErrNotFound) {
				o.logger.Warn().Err(err).Str("handle", handle).Msg("remove on reset failed")
			}
		}
		if err := o.History.Clear(ctx, key); err != nil {
			return fmt.Sprintf("⚠️ Could not clear history: %v", err), err
		}
		return fmt.Sprintf("🧹 %s starts fresh.", a.Name), nil
	}
	return "🤔 Unknown command. Try /help.", nil
}

func shortHandle(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

// HandleCallback resolves an approval or delegation button press.
func (o *Orchestrator) HandleCallback(ctx context.Context, cb Callback) error {
	if !o.Allowed(cb.UserID) {
		o.answer(ctx, cb.ID, "Not authorized")
		return unauthorized(cb.UserID)
	}
	parsed, err := chat.ParseCallback(cb.Data)
	if err != nil {
		o.answer(ctx, cb.ID, "Unknown action")
		return err
	}

	switch parsed.Action {
	case chat.ActionApprove, chat.ActionDeny:
		approved := parsed.Action == chat.ActionApprove
		p, err := o.Approvals.Resolve(ctx, parsed.ID, approved, cb.Approver)
		if err != nil {
			o.answer(ctx, cb.ID, "Request expired or already handled")
			o.edit(ctx, cb.ChatID, cb.MessageID, "⌛ This request expired or was already handled.")
			return err
		}
		verdict := "✅ Approved"
		if !approved {
			verdict = "❌ Denied"
		}
		o.answer(ctx, cb.ID, verdict)
		o.edit(ctx, cb.ChatID, cb.MessageID, fmt.Sprintf("%s by %s:\n%s", verdict, cb.Approver, p.Action))
		return nil

	case chat.ActionDelegationApprove, chat.ActionDelegationDeny:
		approved := parsed.Action == chat.ActionDelegationApprove
		o.answer(ctx, cb.ID, "Got it")
		req, _, err := o.ResolveDelegation(ctx, parsed.ID, approved, cb.Approver)
		if errors.Is(err, ErrUnknownDelegation) {
			o.edit(ctx, cb.ChatID, cb.MessageID, "⌛ This delegation expired or was already handled.")
			return err
		}
		if req != nil {
			verdict := "✅ Delegation approved"
			if !approved {
				verdict = "❌ Delegation denied"
			}
			o.edit(ctx, cb.ChatID, cb.MessageID, fmt.Sprintf("%s by %s:\n%s → %s: %s", verdict, cb.Approver, req.FromAgentName, req.TargetRole, req.Task))
		}
		return err
	}

	o.answer(ctx, cb.ID, "Unknown action")
	return fmt.Errorf("%w: %q", chat.ErrMalformedCallback, parsed.Action)
}

// deliver sends reply, falling back to a document when it is too long for
// one message.
func (o *Orchestrator) deliver(ctx context.Context, chatID int64, agentName, reply string) {
	if utf8.RuneCountInString(reply) <= chat.MaxMessageRunes {
		o.send(ctx, chatID, reply)
		return
	}
	caption := fmt.Sprintf("📄 %s's reply was too long for a message.", agentName)
	if err := o.Messenger.SendDocument(ctx, chatID, "reply.md", []byte(reply), caption); err != nil {
		o.logger.Error().Err(err).Int64("chat_id", chatID).Msg("reply document not delivered")
	}
}

func (o *Orchestrator) send(ctx context.Context, chatID int64, text string) {
	if _, err := o.Messenger.SendMessage(ctx, chatID, text, nil); err != nil {
		o.logger.Error().Err(err).Int64("chat_id", chatID).Msg("message not delivered")
	}
}

func (o *Orchestrator) edit(ctx context.Context, chatID, messageID int64, text string) {
	if messageID == 0 {
		return
	}
	if err := o.Messenger.EditMessage(ctx, chatID, messageID, text); err != nil {
		o.logger.Warn().Err(err).Int64("chat_id", chatID).Msg("message not edited")
	}
}

func (o *Orchestrator) answer(ctx context.Context, callbackID, text string) {
	if callbackID == "" {
		return
	}
	if err := o.Messenger.AnswerCallback(ctx, callbackID, text); err != nil {
		o.logger.Debug().Err(err).Msg("callback not answered")
	}
}

func (o *Orchestrator) publishRun(trigger string, a *agent.Agent, userID int64, handle string, status audit.Status) {
	o.Events.Publish(event.RunFinished, RunEvent{
		Trigger: trigger,
		AgentID: a.ID.String(),
		UserID:  userID,
		Handle:  handle,
		Status:  string(status),
	})
}

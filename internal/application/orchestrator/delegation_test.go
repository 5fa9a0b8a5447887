package orchestrator

import (
	"context"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hermitshell/hermitshell/internal/domain/audit"
	"github.com/hermitshell/hermitshell/internal/domain/chat"
	sandboxMocks "github.com/hermitshell/hermitshell/internal/domain/sandbox/mocks"
)

// byMessage answers with the lines registered for the run's user message.
func byMessage(replies map[string][]string) sandboxMocks.Script {
	return func(c *sandboxMocks.Container, w io.Writer, _ <-chan struct{}) {
		for _, kv := range c.Config.Env {
			msg, ok := strings.CutPrefix(kv, "USER_MSG=")
			if !ok {
				continue
			}
			for _, l := range replies[msg] {
				_, _ = io.WriteString(w, l+"\n")
			}
		}
	}
}

func delegatingHarness(t *testing.T) *harness {
	return newHarness(t, byMessage(map[string][]string{
		"I need research":          {"Handing this off.", "[DELEGATE:researcher] find three papers on WAL"},
		"find three papers on WAL": {"1. ARIES", "2. Aether", "3. SiloR"},
	}))
}

func openDelegation(t *testing.T, h *harness) chat.Callback {
	t.Helper()
	reply, err := h.orch.HandleMessage(context.Background(), msg("I need research"))
	require.NoError(t, err)
	assert.Contains(t, reply, "Waiting for approval")
	assert.NotContains(t, reply, "Handing this off.")

	prompt := h.nextPrompt(t)
	assert.Contains(t, prompt.text, "researcher")
	assert.Contains(t, prompt.text, "find three papers on WAL")
	cb, err := chat.ParseCallback(prompt.buttons[0][0].Data)
	require.NoError(t, err)
	assert.Equal(t, chat.ActionDelegationApprove, cb.Action)
	return cb
}

func TestDelegation_ApproveRunsTargetOnce(t *testing.T) {
	h := delegatingHarness(t)
	cb := openDelegation(t, h)
	require.Len(t, h.orch.PendingDelegations(context.Background()), 1)

	err := h.orch.HandleCallback(context.Background(), Callback{
		ID: "q1", ChatID: testChat, MessageID: 3, UserID: testUser, Approver: "@op", Data: cb.Data(),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, h.engine.CreateCount())
	assert.Empty(t, h.orch.PendingDelegations(context.Background()))

	var relayed bool
	for _, text := range h.sentTexts() {
		if strings.Contains(text, "scout") && strings.Contains(text, "ARIES") {
			relayed = true
		}
	}
	assert.True(t, relayed)
	assert.Greater(t, h.ledger.spentBy(h.research.ID), 0.0)

	err = h.orch.HandleCallback(context.Background(), Callback{
		ID: "q2", ChatID: testChat, MessageID: 3, UserID: testUser, Approver: "@op", Data: cb.Data(),
	})
	assert.ErrorIs(t, err, ErrUnknownDelegation)
	assert.Equal(t, 2, h.engine.CreateCount())
}

func TestDelegation_MarkerNeverReachesUser(t *testing.T) {
	h := delegatingHarness(t)
	openDelegation(t, h)

	for _, text := range h.sentTexts() {
		assert.NotContains(t, text, "[DELEGATE:")
		assert.NotContains(t, text, "Handing this off.")
	}
	for _, m := range h.historyTurns() {
		assert.NotContains(t, m.Content, "[DELEGATE:")
	}

	entries := h.auditEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, audit.ActionChat, entries[0].ActionType)
	assert.Contains(t, entries[0].FullResponse, "[DELEGATE:researcher]")
}

func TestDelegation_DenyCreatesNoSandbox(t *testing.T) {
	h := delegatingHarness(t)
	cb := openDelegation(t, h)

	req, out, err := h.orch.ResolveDelegation(context.Background(), cb.ID, false, "@op")
	require.NoError(t, err)
	require.NotNil(t, req)
	assert.Empty(t, out)
	assert.Equal(t, 1, h.engine.CreateCount())

	var denied int
	for _, e := range h.auditEntries() {
		if e.ActionType == audit.ActionDelegation && e.Status == audit.StatusDenied {
			denied++
			require.NotNil(t, e.ApprovedBy)
			assert.Equal(t, "@op", *e.ApprovedBy)
		}
	}
	assert.Equal(t, 1, denied)
}

func TestDelegation_ConcurrentResolversRunOnce(t *testing.T) {
	h := delegatingHarness(t)
	cb := openDelegation(t, h)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := h.orch.ResolveDelegation(context.Background(), cb.ID, true, "@op"); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, 2, h.engine.CreateCount())
}

func TestDelegation_SweepExpires(t *testing.T) {
	h := delegatingHarness(t)
	cb := openDelegation(t, h)

	assert.Zero(t, h.orch.SweepDelegations(context.Background()))
	h.clock.Advance(11 * time.Minute)
	assert.Equal(t, 1, h.orch.SweepDelegations(context.Background()))

	_, _, err := h.orch.ResolveDelegation(context.Background(), cb.ID, true, "@late")
	assert.ErrorIs(t, err, ErrUnknownDelegation)
	assert.Equal(t, 1, h.engine.CreateCount())
}

func TestDelegation_UnknownRoleFails(t *testing.T) {
	h := newHarness(t, sandboxMocks.Lines("[DELEGATE:lawyer] read the contract"))
	_, err := h.orch.HandleMessage(context.Background(), msg("help"))
	require.NoError(t, err)
	prompt := h.nextPrompt(t)
	cb, err := chat.ParseCallback(prompt.buttons[0][0].Data)
	require.NoError(t, err)

	_, _, err = h.orch.ResolveDelegation(context.Background(), cb.ID, true, "@op")
	assert.ErrorIs(t, err, ErrUnknownAgent)
	assert.Equal(t, 1, h.engine.CreateCount())
}

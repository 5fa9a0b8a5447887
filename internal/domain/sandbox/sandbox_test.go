package sandbox

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayload_Env(t *testing.T) {
	id := uuid.New()
	p := Payload{
		AgentID:         id,
		AgentName:       "hermit",
		AgentRole:       "ops",
		Image:           "hermit/base",
		UserID:          42,
		UserMessage:     "say \"hi\"\nthen stop",
		History:         []Message{{Role: "user", Content: "earlier"}, {Role: "assistant", Content: "ok"}},
		MaxTokens:       1000,
		ApprovalEnabled: true,
		OrchestratorURL: "http://172.17.0.1:3000",
	}
	env, err := p.Env()
	require.NoError(t, err)

	vars := map[string]string{}
	for _, kv := range env {
		k, v, _ := strings.Cut(kv, "=")
		vars[k] = v
	}
	assert.Equal(t, id.String(), vars["AGENT_ID"])
	assert.Equal(t, "42", vars["USER_ID"])
	assert.Equal(t, "true", vars["HITL_ENABLED"])
	assert.Equal(t, "1000", vars["MAX_TOKENS"])
	assert.Equal(t, p.UserMessage, vars["USER_MSG"])

	raw, err := base64.StdEncoding.DecodeString(vars["HISTORY"])
	require.NoError(t, err)
	var hist []Message
	require.NoError(t, json.Unmarshal(raw, &hist))
	assert.Equal(t, p.History, hist)
}

func TestPayload_EnvEmptyHistory(t *testing.T) {
	env, err := Payload{}.Env()
	require.NoError(t, err)
	for _, kv := range env {
		if strings.HasPrefix(kv, "HISTORY=") {
			raw, _ := base64.StdEncoding.DecodeString(strings.TrimPrefix(kv, "HISTORY="))
			assert.Equal(t, "[]", string(raw))
		}
		assert.False(t, strings.HasPrefix(kv, "ORCHESTRATOR_URL="))
	}
}

func TestSplitFrames(t *testing.T) {
	lines := []string{
		`{"level":"debug","msg":"calling provider"}`,
		"Here is the summary.",
		`   {"panelActions":["CALENDAR_LIST"]}`,
		"- item one\r",
		"",
	}
	human, frames := SplitFrames(lines)
	assert.Equal(t, "Here is the summary.\n- item one", human)
	assert.Equal(t, []string{`{"level":"debug","msg":"calling provider"}`, `{"panelActions":["CALENDAR_LIST"]}`}, frames)
}

func TestHumanOrPlaceholder(t *testing.T) {
	assert.Equal(t, Placeholder, HumanOrPlaceholder(" \n"))
	assert.Equal(t, "done", HumanOrPlaceholder("done"))
}

func TestTimeoutIsRuntimeFailure(t *testing.T) {
	assert.True(t, errors.Is(ErrTimeoutExpired, ErrRuntimeFailure))
	assert.False(t, errors.Is(ErrRuntimeFailure, ErrTimeoutExpired))
}

package sandbox

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrRuntimeFailure covers any create/start/stop/stream failure.
	ErrRuntimeFailure = errors.New("sandbox runtime failure")
	// ErrTimeoutExpired is the forced-stop variant of ErrRuntimeFailure.
	ErrTimeoutExpired = fmt.Errorf("%w: sandbox timed out", ErrRuntimeFailure)
	// ErrNotFound is returned for an unknown handle.
	ErrNotFound = errors.New("sandbox not found")
)

// Placeholder is returned when a run produced no human-readable output.
const Placeholder = "(no output)"

// Message is one short-term history turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Payload is everything the in-sandbox agent receives.
type Payload struct {
	AgentID         uuid.UUID
	AgentName       string
	AgentRole       string
	Image           string
	UserID          int64
	UserMessage     string
	History         []Message
	MaxTokens       int
	ApprovalEnabled bool
	OrchestratorURL string
}

// Env renders the payload as container environment. History travels as
// base64(JSON) so quoting and newlines survive.
func (p Payload) Env() ([]string, error) {
	history := p.History
	if history == nil {
		history = []Message{}
	}
	raw, err := json.Marshal(history)
	if err != nil {
		return nil, fmt.Errorf("encode history: %w", err)
	}
	env := []string{
		"AGENT_ID=" + p.AgentID.String(),
		"AGENT_NAME=" + p.AgentName,
		"AGENT_ROLE=" + p.AgentRole,
		"DOCKER_IMAGE=" + p.Image,
		"USER_ID=" + strconv.FormatInt(p.UserID, 10),
		"USER_MSG=" + p.UserMessage,
		"HISTORY=" + base64.StdEncoding.EncodeToString(raw),
		"MAX_TOKENS=" + strconv.Itoa(p.MaxTokens),
		"HITL_ENABLED=" + strconv.FormatBool(p.ApprovalEnabled),
	}
	if p.OrchestratorURL != "" {
		env = append(env, "ORCHESTRATOR_URL="+p.OrchestratorURL)
	}
	return env, nil
}

// Spec describes one run.
type Spec struct {
	Image   string
	Payload Payload
	// OnLine, if set, sees every complete output line as it arrives,
	// including structured frames. It must not block.
	OnLine func(handle, line string)
}

// Result is the outcome of one run. Output never contains text that
// arrived after the sandbox was stopped.
type Result struct {
	Handle   string
	Output   string
	Frames   []string
	TimedOut bool
	Duration time.Duration
}

// State is a point-in-time view of a sandbox.
type State struct {
	Handle    string    `json:"handle"`
	Status    string    `json:"status"`
	Running   bool      `json:"running"`
	ExitCode  int       `json:"exitCode"`
	StartedAt time.Time `json:"startedAt"`
}

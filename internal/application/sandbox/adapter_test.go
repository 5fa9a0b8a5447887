package sandbox

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hermitshell/hermitshell/internal/domain/approval"
	"github.com/hermitshell/hermitshell/internal/domain/sandbox"
	"github.com/hermitshell/hermitshell/internal/domain/sandbox/mocks"
)

func testLimits(timeout time.Duration) Limits {
	l := DefaultLimits()
	l.Timeout = timeout
	l.StopGrace = 10 * time.Millisecond
	return l
}

func testSpec() sandbox.Spec {
	return sandbox.Spec{
		Image: "hermit/base",
		Payload: sandbox.Payload{
			AgentID:     uuid.New(),
			AgentName:   "hermit",
			AgentRole:   "assistant",
			UserID:      99,
			UserMessage: "hello",
			MaxTokens:   500,
		},
	}
}

func TestAdapter_RunNormalCompletion(t *testing.T) {
	engine := mocks.NewFakeEngine(mocks.Lines(
		`{"level":"info","msg":"calling provider"}`,
		"Hello there.",
		`{"panelActions":["CALENDAR_LIST"]}`,
		"Anything else?",
	))
	a := NewAdapter(engine, testLimits(5*time.Second), nil, zerolog.Nop())

	res, err := a.Run(context.Background(), testSpec())
	require.NoError(t, err)
	assert.False(t, res.TimedOut)
	assert.Equal(t, "Hello there.\nAnything else?", res.Output)
	assert.Len(t, res.Frames, 2)
	assert.Equal(t, 1, engine.CreateCount())

	c, ok := engine.Container(res.Handle)
	if ok {
		assert.False(t, c.Running)
	}
}

func TestAdapter_RunAppliesLimitsAndPayload(t *testing.T) {
	engine := mocks.NewFakeEngine(mocks.Lines("ok"))
	limits := testLimits(5 * time.Second)
	a := NewAdapter(engine, limits, nil, zerolog.Nop())

	var cfg sandbox.ContainerConfig
	engine.Script = func(c *mocks.Container, w io.Writer, _ <-chan struct{}) {
		cfg = c.Config
		_, _ = io.WriteString(w, "ok\n")
	}

	_, err := a.Run(context.Background(), testSpec())
	require.NoError(t, err)

	assert.Equal(t, "hermit/base", cfg.Image)
	assert.Equal(t, int64(512*1024*1024), cfg.MemoryBytes)
	assert.Equal(t, limits.PidsLimit, cfg.PidsLimit)
	assert.Equal(t, limits.Network, cfg.Network)
	assert.True(t, cfg.AutoRemove)
	assert.Contains(t, cfg.Env, "USER_MSG=hello")
	assert.Contains(t, cfg.Env, "HITL_ENABLED=false")
}

func TestAdapter_RunEmptyOutputPlaceholder(t *testing.T) {
	engine := mocks.NewFakeEngine(mocks.Lines(`{"only":"frames"}`))
	a := NewAdapter(engine, testLimits(5*time.Second), nil, zerolog.Nop())

	res, err := a.Run(context.Background(), testSpec())
	require.NoError(t, err)
	assert.Equal(t, sandbox.Placeholder, res.Output)
}

func TestAdapter_RunTimeoutStopsAndKeepsOnlyPreStopOutput(t *testing.T) {
	lateWrite := make(chan error, 1)
	engine := mocks.NewFakeEngine(func(_ *mocks.Container, w io.Writer, stopped <-chan struct{}) {
		_, _ = io.WriteString(w, "partial work\n")
		<-stopped
		_, err := io.WriteString(w, "written after stop\n")
		lateWrite <- err
	})
	a := NewAdapter(engine, testLimits(50*time.Millisecond), nil, zerolog.Nop())

	res, err := a.Run(context.Background(), testSpec())
	require.NoError(t, err)
	assert.True(t, res.TimedOut)
	assert.Equal(t, "partial work", res.Output)
	assert.NotContains(t, res.Output, "after stop")

	select {
	case werr := <-lateWrite:
		assert.Error(t, werr)
	case <-time.After(time.Second):
		t.Fatal("script never observed stop")
	}
	assert.Equal(t, 1, engine.CreateCount())
	_, alive := engine.Container(res.Handle)
	if alive {
		c, _ := engine.Container(res.Handle)
		assert.False(t, c.Running)
	}
}

func TestAdapter_RunTimeoutWithNoOutput(t *testing.T) {
	engine := mocks.NewFakeEngine(func(_ *mocks.Container, _ io.Writer, stopped <-chan struct{}) {
		<-stopped
	})
	a := NewAdapter(engine, testLimits(30*time.Millisecond), nil, zerolog.Nop())

	res, err := a.Run(context.Background(), testSpec())
	require.NoError(t, err)
	assert.True(t, res.TimedOut)
	assert.Equal(t, sandbox.Placeholder, res.Output)
}

func TestAdapter_RunCreateFailure(t *testing.T) {
	engine := mocks.NewFakeEngine(nil)
	engine.CreateErr = errors.New("no such image")
	a := NewAdapter(engine, testLimits(time.Second), nil, zerolog.Nop())

	res, err := a.Run(context.Background(), testSpec())
	assert.Nil(t, res)
	assert.ErrorIs(t, err, sandbox.ErrRuntimeFailure)
	assert.Equal(t, 1, engine.CreateCount())
}

func TestAdapter_RunStartFailureCleansUp(t *testing.T) {
	engine := mocks.NewFakeEngine(nil)
	engine.StartErr = errors.New("oci runtime error")
	a := NewAdapter(engine, testLimits(time.Second), nil, zerolog.Nop())

	res, err := a.Run(context.Background(), testSpec())
	assert.Nil(t, res)
	assert.ErrorIs(t, err, sandbox.ErrRuntimeFailure)

	handles := engine.Handles()
	require.Len(t, handles, 1)
	_, alive := engine.Container(handles[0])
	if alive {
		c, _ := engine.Container(handles[0])
		assert.True(t, c.Removed || !c.Running)
	}
}

func TestAdapter_RunReadErrorStopsSandbox(t *testing.T) {
	engine := mocks.NewFakeEngine(func(_ *mocks.Container, w io.Writer, stopped <-chan struct{}) {
		_, _ = io.WriteString(w, "started\n")
		_ = w.(*io.PipeWriter).CloseWithError(errors.New("stream reset"))
		<-stopped
	})
	a := NewAdapter(engine, testLimits(5*time.Second), nil, zerolog.Nop())

	res, err := a.Run(context.Background(), testSpec())
	assert.Nil(t, res)
	assert.ErrorIs(t, err, sandbox.ErrRuntimeFailure)
	assert.ErrorContains(t, err, "stream reset")

	handles := engine.Handles()
	require.Len(t, handles, 1)
	c, ok := engine.Container(handles[0])
	require.True(t, ok)
	assert.Greater(t, c.Stops, 0)
	assert.False(t, c.Running)
}

func TestAdapter_RunKeepsLinesLongerThanScannerBuffer(t *testing.T) {
	long := strings.Repeat("a", 2<<20)
	engine := mocks.NewFakeEngine(mocks.Lines("hello", long, "bye"))
	a := NewAdapter(engine, testLimits(5*time.Second), nil, zerolog.Nop())

	res, err := a.Run(context.Background(), testSpec())
	require.NoError(t, err)
	assert.False(t, res.TimedOut)
	lines := strings.Split(res.Output, "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "hello", lines[0])
	assert.Len(t, lines[1], len(long))
	assert.Equal(t, "bye", lines[2])
}

func TestAdapter_RunCutsOversizedLine(t *testing.T) {
	engine := mocks.NewFakeEngine(mocks.Lines(strings.Repeat("b", maxLineBytes+1024), "tail"))
	a := NewAdapter(engine, testLimits(5*time.Second), nil, zerolog.Nop())

	res, err := a.Run(context.Background(), testSpec())
	require.NoError(t, err)
	lines := strings.Split(res.Output, "\n")
	require.Len(t, lines, 2)
	assert.Len(t, lines[0], maxLineBytes)
	assert.Equal(t, "tail", lines[1])
}

func TestAdapter_RunOnLineSeesEveryLine(t *testing.T) {
	engine := mocks.NewFakeEngine(mocks.Lines("one", `{"f":1}`, "two"))
	a := NewAdapter(engine, testLimits(time.Second), nil, zerolog.Nop())

	var mu sync.Mutex
	var seen []string
	spec := testSpec()
	spec.OnLine = func(_ string, line string) {
		mu.Lock()
		seen = append(seen, line)
		mu.Unlock()
	}
	_, err := a.Run(context.Background(), spec)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"one", `{"f":1}`, "two"}, seen)
}

func TestExecMailbox_Deliver(t *testing.T) {
	ctx := context.Background()

	t.Run("running sandbox gets exactly one sentinel", func(t *testing.T) {
		got := make(chan []string, 1)
		engine := mocks.NewFakeEngine(func(c *mocks.Container, w io.Writer, stopped <-chan struct{}) {
			_, _ = io.WriteString(w, approval.Marker+" rm -rf build\n")
			select {
			case cmd := <-c.ExecCh:
				got <- cmd
			case <-stopped:
			}
		})
		mb := NewExecMailbox(engine, zerolog.Nop())
		a := NewAdapter(engine, testLimits(2*time.Second), nil, zerolog.Nop())

		spec := testSpec()
		spec.OnLine = func(handle, line string) {
			go func() { _ = mb.Deliver(ctx, handle, approval.DecisionApprove) }()
		}
		res, err := a.Run(ctx, spec)
		require.NoError(t, err)
		assert.False(t, res.TimedOut)

		select {
		case cmd := <-got:
			assert.Equal(t, []string{"touch", approval.ApproveLockPath}, cmd)
		case <-time.After(time.Second):
			t.Fatal("no sentinel delivered")
		}
	})

	t.Run("missing sandbox is a no-op", func(t *testing.T) {
		engine := mocks.NewFakeEngine(nil)
		mb := NewExecMailbox(engine, zerolog.Nop())
		assert.NoError(t, mb.Deliver(ctx, "gone", approval.DecisionDeny))
	})

	t.Run("stopped sandbox is a no-op", func(t *testing.T) {
		engine := mocks.NewFakeEngine(nil)
		id, err := engine.Create(ctx, sandbox.ContainerConfig{Image: "x"})
		require.NoError(t, err)
		mb := NewExecMailbox(engine, zerolog.Nop())
		require.NoError(t, mb.Deliver(ctx, id, approval.DecisionDeny))
		c, _ := engine.Container(id)
		assert.Empty(t, c.Execs)
	})
}

func TestAdapter_StopRemoveMissingHandle(t *testing.T) {
	a := NewAdapter(mocks.NewFakeEngine(nil), testLimits(time.Second), nil, zerolog.Nop())
	assert.NoError(t, a.Stop(context.Background(), "nope"))
	assert.NoError(t, a.Remove(context.Background(), "nope"))
	_, err := a.Status(context.Background(), "nope")
	assert.ErrorIs(t, err, sandbox.ErrNotFound)
}

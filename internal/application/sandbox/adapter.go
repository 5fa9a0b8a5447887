package sandbox

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hermitshell/hermitshell/internal/domain/sandbox"
	"github.com/hermitshell/hermitshell/internal/infrastructure/metrics"
)

// Limits bounds every environment the adapter creates.
type Limits struct {
	MemoryBytes int64
	NanoCPUs    int64
	PidsLimit   int64
	Network     string
	Timeout     time.Duration
	StopGrace   time.Duration
}

// DefaultLimits returns 512 MiB, one CPU, 256 processes and a 60s timeout.
func DefaultLimits() Limits {
	return Limits{
		MemoryBytes: 512 * 1024 * 1024,
		NanoCPUs:    1_000_000_000,
		PidsLimit:   256,
		Network:     "hermit-sandbox",
		Timeout:     60 * time.Second,
		StopGrace:   2 * time.Second,
	}
}

const maxLineBytes = 4 << 20

// Adapter runs one ephemeral container per call.
type Adapter struct {
	engine  sandbox.Engine
	limits  Limits
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

func NewAdapter(engine sandbox.Engine, limits Limits, m *metrics.Metrics, logger zerolog.Logger) *Adapter {
	if m == nil {
		m = metrics.New(nil)
	}
	return &Adapter{
		engine:  engine,
		limits:  limits,
		metrics: m,
		logger:  logger.With().Str("service", "sandbox").Logger(),
	}
}

// Run creates, starts and watches one sandbox. A run that outlives the
// timeout is force-stopped and returned with TimedOut set and whatever
// output was captured before the stop.
func (a *Adapter) Run(ctx context.Context, spec sandbox.Spec) (*sandbox.Result, error) {
	env, err := spec.Payload.Env()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", sandbox.ErrRuntimeFailure, err)
	}
	image := spec.Image
	if image == "" {
		image = spec.Payload.Image
	}

	id, err := a.engine.Create(ctx, sandbox.ContainerConfig{
		Name:  "hermit-" + uuid.NewString()[:12],
		Image: image,
		Env:   env,
		Labels: map[string]string{
			"hermitshell.agent": spec.Payload.AgentID.String(),
			"hermitshell.user":  fmt.Sprint(spec.Payload.UserID),
		},
		MemoryBytes: a.limits.MemoryBytes,
		NanoCPUs:    a.limits.NanoCPUs,
		PidsLimit:   a.limits.PidsLimit,
		Network:     a.limits.Network,
		AutoRemove:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: create: %v", sandbox.ErrRuntimeFailure, err)
	}
	log := a.logger.With().Str("handle", short(id)).Str("agent_id", spec.Payload.AgentID.String()).Logger()

	stream, err := a.engine.Attach(ctx, id)
	if err != nil {
		a.teardown(id, log)
		return nil, fmt.Errorf("%w: attach: %v", sandbox.ErrRuntimeFailure, err)
	}
	defer stream.Close()

	started := time.Now()
	if err := a.engine.Start(ctx, id); err != nil {
		a.teardown(id, log)
		return nil, fmt.Errorf("%w: start: %v", sandbox.ErrRuntimeFailure, err)
	}
	a.metrics.ActiveSandboxes.Inc()
	defer a.metrics.ActiveSandboxes.Dec()
	log.Debug().Str("image", image).Msg("sandbox started")

	timer := time.NewTimer(a.limits.Timeout)
	defer timer.Stop()

	buf := newCapture(id, spec.OnLine)
	done := make(chan error, 1)
	go func() { done <- buf.consume(stream) }()

	select {
	case err := <-done:
		lines := buf.freeze()
		if err != nil {
			a.teardown(id, log)
			return nil, fmt.Errorf("%w: read output: %v", sandbox.ErrRuntimeFailure, err)
		}
		human, frames := sandbox.SplitFrames(lines)
		return &sandbox.Result{
			Handle:   id,
			Output:   sandbox.HumanOrPlaceholder(human),
			Frames:   frames,
			Duration: time.Since(started),
		}, nil

	case <-timer.C:
		lines := buf.freeze()
		a.teardown(id, log)
		_ = stream.Close()
		human, frames := sandbox.SplitFrames(lines)
		log.Warn().Dur("timeout", a.limits.Timeout).Int("lines", len(lines)).Msg("sandbox timed out, force stopped")
		return &sandbox.Result{
			Handle:   id,
			Output:   sandbox.HumanOrPlaceholder(human),
			Frames:   frames,
			TimedOut: true,
			Duration: time.Since(started),
		}, nil

	case <-ctx.Done():
		buf.freeze()
		a.teardown(id, log)
		_ = stream.Close()
		return nil, fmt.Errorf("%w: %v", sandbox.ErrRuntimeFailure, ctx.Err())
	}
}

// teardown force-stops and removes id on a fresh context so a cancelled
// caller still releases the container.
func (a *Adapter) teardown(id string, log zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), a.limits.StopGrace+10*time.Second)
	defer cancel()
	if err := a.engine.Stop(ctx, id, a.limits.StopGrace); err != nil && !errors.Is(err, sandbox.ErrNotFound) {
		log.Warn().Err(err).Msg("stop sandbox")
	}
	if err := a.engine.Remove(ctx, id); err != nil && !errors.Is(err, sandbox.ErrNotFound) {
		log.Warn().Err(err).Msg("remove sandbox")
	}
}

// Status reports the current state of handle.
func (a *Adapter) Status(ctx context.Context, handle string) (sandbox.State, error) {
	st, err := a.engine.Inspect(ctx, handle)
	if err != nil {
		return sandbox.State{}, err
	}
	st.Handle = handle
	return st, nil
}

// Stop stops handle. Stopping a missing sandbox is not an error.
func (a *Adapter) Stop(ctx context.Context, handle string) error {
	if err := a.engine.Stop(ctx, handle, a.limits.StopGrace); err != nil && !errors.Is(err, sandbox.ErrNotFound) {
		return fmt.Errorf("%w: stop: %v", sandbox.ErrRuntimeFailure, err)
	}
	return nil
}

// Remove force-removes handle. Removing a missing sandbox is not an error.
func (a *Adapter) Remove(ctx context.Context, handle string) error {
	if err := a.engine.Remove(ctx, handle); err != nil && !errors.Is(err, sandbox.ErrNotFound) {
		return fmt.Errorf("%w: remove: %v", sandbox.ErrRuntimeFailure, err)
	}
	return nil
}

// Ping checks the container runtime is reachable.
func (a *Adapter) Ping(ctx context.Context) error {
	return a.engine.Ping(ctx)
}

// capture collects output lines until frozen. Lines read after freeze are
// dropped.
type capture struct {
	mu     sync.Mutex
	handle string
	lines  []string
	frozen bool
	onLine func(handle, line string)
}

func newCapture(handle string, onLine func(string, string)) *capture {
	return &capture{handle: handle, onLine: onLine}
}

func (c *capture) add(line string) bool {
	c.mu.Lock()
	if c.frozen {
		c.mu.Unlock()
		return false
	}
	c.lines = append(c.lines, line)
	c.mu.Unlock()
	if c.onLine != nil {
		c.onLine(c.handle, line)
	}
	return true
}

func (c *capture) freeze() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frozen = true
	out := make([]string, len(c.lines))
	copy(out, c.lines)
	return out
}

// consume reads lines until EOF or freeze. A line longer than maxLineBytes
// is cut at the limit and the rest of it discarded; reading goes on.
func (c *capture) consume(r io.Reader) error {
	br := bufio.NewReaderSize(r, 64*1024)
	var line []byte
	for {
		frag, isPrefix, err := br.ReadLine()
		if room := maxLineBytes - len(line); room > 0 {
			if len(frag) > room {
				frag = frag[:room]
			}
			line = append(line, frag...)
		}
		if err != nil {
			if len(line) > 0 {
				c.add(string(line))
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || strings.Contains(err.Error(), "use of closed") {
				return nil
			}
			return err
		}
		if isPrefix {
			continue
		}
		if !c.add(string(line)) {
			return nil
		}
		line = line[:0]
	}
}

func short(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

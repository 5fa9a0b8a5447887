package docker

import (
	"context"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/rs/zerolog"

	"github.com/hermitshell/hermitshell/internal/domain/sandbox"
)

// Engine implements sandbox.Engine against a local Docker daemon. The
// client is shared by all runs; the daemon serializes requests.
type Engine struct {
	cli    *client.Client
	logger zerolog.Logger
}

// NewEngine connects using DOCKER_HOST and friends, or host overrides them.
func NewEngine(host string, logger zerolog.Logger) (*Engine, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	return &Engine{cli: cli, logger: logger.With().Str("component", "docker").Logger()}, nil
}

func (e *Engine) Close() error {
	return e.cli.Close()
}

func (e *Engine) Ping(ctx context.Context) error {
	_, err := e.cli.Ping(ctx)
	return err
}

// EnsureNetwork creates the sandbox bridge network if it is missing.
// Inter-container traffic on it is disabled so sandboxes cannot reach
// each other.
func (e *Engine) EnsureNetwork(ctx context.Context, name string) error {
	if name == "" {
		return nil
	}
	_, err := e.cli.NetworkInspect(ctx, name, network.InspectOptions{})
	if err == nil {
		return nil
	}
	if !client.IsErrNotFound(err) {
		return fmt.Errorf("inspect network %s: %w", name, err)
	}
	_, err = e.cli.NetworkCreate(ctx, name, network.CreateOptions{
		Driver: "bridge",
		Options: map[string]string{
			"com.docker.network.bridge.enable_icc": "false",
		},
		Labels: map[string]string{"hermitshell.managed": "true"},
	})
	if err != nil {
		return fmt.Errorf("create network %s: %w", name, err)
	}
	e.logger.Info().Str("network", name).Msg("sandbox network created")
	return nil
}

func (e *Engine) Create(ctx context.Context, cfg sandbox.ContainerConfig) (string, error) {
	var pids *int64
	if cfg.PidsLimit > 0 {
		p := cfg.PidsLimit
		pids = &p
	}
	host := &container.HostConfig{
		AutoRemove:  cfg.AutoRemove,
		NetworkMode: container.NetworkMode(cfg.Network),
		Resources: container.Resources{
			Memory:     cfg.MemoryBytes,
			MemorySwap: cfg.MemoryBytes,
			NanoCPUs:   cfg.NanoCPUs,
			PidsLimit:  pids,
		},
		SecurityOpt: []string{"no-new-privileges"},
		CapDrop:     []string{"NET_ADMIN", "SYS_ADMIN"},
	}
	resp, err := e.cli.ContainerCreate(ctx, &container.Config{
		Image:        cfg.Image,
		Env:          cfg.Env,
		Labels:       cfg.Labels,
		AttachStdout: true,
		AttachStderr: true,
	}, host, nil, nil, cfg.Name)
	if err != nil {
		return "", err
	}
	for _, w := range resp.Warnings {
		e.logger.Warn().Str("container", cfg.Name).Msg(w)
	}
	return resp.ID, nil
}

// Attach hijacks the container's stdout and stderr and demultiplexes them
// into one stream.
func (e *Engine) Attach(ctx context.Context, id string) (io.ReadCloser, error) {
	hj, err := e.cli.ContainerAttach(ctx, id, container.AttachOptions{
		Stream: true,
		Stdout: true,
		Stderr: true,
	})
	if err != nil {
		return nil, translate(err)
	}
	pr, pw := io.Pipe()
	go func() {
		_, err := stdcopy.StdCopy(pw, pw, hj.Reader)
		_ = pw.CloseWithError(err)
	}()
	return &attached{PipeReader: pr, close: hj.Close}, nil
}

type attached struct {
	*io.PipeReader
	close func()
}

func (a *attached) Close() error {
	a.close()
	return a.PipeReader.Close()
}

func (e *Engine) Start(ctx context.Context, id string) error {
	return translate(e.cli.ContainerStart(ctx, id, container.StartOptions{}))
}

func (e *Engine) Stop(ctx context.Context, id string, grace time.Duration) error {
	secs := int(math.Ceil(grace.Seconds()))
	return translate(e.cli.ContainerStop(ctx, id, container.StopOptions{Timeout: &secs}))
}

func (e *Engine) Remove(ctx context.Context, id string) error {
	return translate(e.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}))
}

// Exec runs cmd detached inside id.
func (e *Engine) Exec(ctx context.Context, id string, cmd []string) error {
	created, err := e.cli.ContainerExecCreate(ctx, id, container.ExecOptions{Cmd: cmd})
	if err != nil {
		return translate(err)
	}
	return translate(e.cli.ContainerExecStart(ctx, created.ID, container.ExecStartOptions{Detach: true}))
}

func (e *Engine) Inspect(ctx context.Context, id string) (sandbox.State, error) {
	info, err := e.cli.ContainerInspect(ctx, id)
	if err != nil {
		return sandbox.State{}, translate(err)
	}
	st := sandbox.State{Handle: id}
	if info.ContainerJSONBase != nil && info.State != nil {
		st.Status = info.State.Status
		st.Running = info.State.Running
		st.ExitCode = info.State.ExitCode
		if t, err := time.Parse(time.RFC3339Nano, info.State.StartedAt); err == nil {
			st.StartedAt = t
		}
	}
	return st, nil
}

func translate(err error) error {
	if err == nil {
		return nil
	}
	if client.IsErrNotFound(err) {
		return fmt.Errorf("%w: %v", sandbox.ErrNotFound, err)
	}
	return err
}

package sandbox

import (
	"context"
	"io"
	"time"
)

// ContainerConfig bounds one environment.
type ContainerConfig struct {
	Name        string
	Image       string
	Env         []string
	Labels      map[string]string
	MemoryBytes int64
	NanoCPUs    int64
	PidsLimit   int64
	Network     string
	AutoRemove  bool
}

// Engine is the subset of a container runtime the adapter depends on.
// Implementations must be safe for concurrent use.
type Engine interface {
	Ping(ctx context.Context) error
	Create(ctx context.Context, cfg ContainerConfig) (string, error)
	// Attach returns the combined stdout+stderr stream. It is called
	// before Start so no output is lost, and ends when the container exits.
	Attach(ctx context.Context, id string) (io.ReadCloser, error)
	Start(ctx context.Context, id string) error
	Stop(ctx context.Context, id string, grace time.Duration) error
	Remove(ctx context.Context, id string) error
	Exec(ctx context.Context, id string, cmd []string) error
	Inspect(ctx context.Context, id string) (State, error)
}

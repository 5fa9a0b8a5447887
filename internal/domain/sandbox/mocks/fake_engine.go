// Package mocks provides an in-memory sandbox.Engine for tests.
package mocks

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/hermitshell/hermitshell/internal/domain/sandbox"
)

// Script is the fake entry process. It writes output to w and returns when
// done; stopped is closed when the container is stopped from outside.
type Script func(c *Container, w io.Writer, stopped <-chan struct{})

// Container is one fake environment.
type Container struct {
	ID      string
	Config  sandbox.ContainerConfig
	Running bool
	Removed bool
	Stops   int
	Execs   [][]string

	// ExecCh receives every exec command, for scripts that wait on a mailbox.
	ExecCh chan []string

	pr       *io.PipeReader
	pw       *io.PipeWriter
	stopped  chan struct{}
	stopOnce sync.Once
}

// FakeEngine implements sandbox.Engine in memory.
type FakeEngine struct {
	mu         sync.Mutex
	seq        int
	containers map[string]*Container

	Script    Script
	CreateErr error
	StartErr  error
	PingErr   error
	ExecErr   error
	Creates   int
}

func NewFakeEngine(script Script) *FakeEngine {
	return &FakeEngine{containers: make(map[string]*Container), Script: script}
}

func (f *FakeEngine) Ping(context.Context) error { return f.PingErr }

func (f *FakeEngine) Create(_ context.Context, cfg sandbox.ContainerConfig) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Creates++
	if f.CreateErr != nil {
		return "", f.CreateErr
	}
	f.seq++
	pr, pw := io.Pipe()
	c := &Container{
		ID:      fmt.Sprintf("fake%012d", f.seq),
		Config:  cfg,
		ExecCh:  make(chan []string, 8),
		pr:      pr,
		pw:      pw,
		stopped: make(chan struct{}),
	}
	f.containers[c.ID] = c
	return c.ID, nil
}

func (f *FakeEngine) Attach(_ context.Context, id string) (io.ReadCloser, error) {
	c, err := f.get(id)
	if err != nil {
		return nil, err
	}
	return c.pr, nil
}

func (f *FakeEngine) Start(_ context.Context, id string) error {
	if f.StartErr != nil {
		return f.StartErr
	}
	c, err := f.get(id)
	if err != nil {
		return err
	}
	f.mu.Lock()
	c.Running = true
	script := f.Script
	f.mu.Unlock()

	go func() {
		if script != nil {
			script(c, c.pw, c.stopped)
		}
		f.exit(c)
	}()
	return nil
}

func (f *FakeEngine) exit(c *Container) {
	_ = c.pw.Close()
	f.mu.Lock()
	defer f.mu.Unlock()
	c.Running = false
	if c.Config.AutoRemove {
		c.Removed = true
	}
}

func (f *FakeEngine) Stop(_ context.Context, id string, _ time.Duration) error {
	c, err := f.get(id)
	if err != nil {
		return err
	}
	f.mu.Lock()
	c.Stops++
	c.Running = false
	if c.Config.AutoRemove {
		c.Removed = true
	}
	f.mu.Unlock()
	c.stopOnce.Do(func() {
		close(c.stopped)
		_ = c.pw.Close()
	})
	return nil
}

func (f *FakeEngine) Remove(_ context.Context, id string) error {
	c, err := f.get(id)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	c.Removed = true
	c.Running = false
	return nil
}

func (f *FakeEngine) Exec(_ context.Context, id string, cmd []string) error {
	c, err := f.get(id)
	if err != nil {
		return err
	}
	f.mu.Lock()
	if f.ExecErr != nil {
		f.mu.Unlock()
		return f.ExecErr
	}
	c.Execs = append(c.Execs, cmd)
	f.mu.Unlock()
	select {
	case c.ExecCh <- cmd:
	default:
	}
	return nil
}

func (f *FakeEngine) Inspect(_ context.Context, id string) (sandbox.State, error) {
	c, err := f.get(id)
	if err != nil {
		return sandbox.State{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	status := "exited"
	if c.Running {
		status = "running"
	}
	return sandbox.State{Handle: id, Status: status, Running: c.Running}, nil
}

// Container returns a snapshot copy of id's bookkeeping.
func (f *FakeEngine) Container(id string) (Container, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[id]
	if !ok {
		return Container{}, false
	}
	return Container{
		ID:      c.ID,
		Config:  c.Config,
		Running: c.Running,
		Removed: c.Removed,
		Stops:   c.Stops,
		Execs:   append([][]string(nil), c.Execs...),
	}, true
}

// Handles lists every container ever created, in creation order.
func (f *FakeEngine) Handles() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.containers))
	for i := 1; i <= f.seq; i++ {
		id := fmt.Sprintf("fake%012d", i)
		if _, ok := f.containers[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

func (f *FakeEngine) CreateCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Creates
}

func (f *FakeEngine) get(id string) (*Container, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[id]
	if !ok || c.Removed {
		return nil, sandbox.ErrNotFound
	}
	return c, nil
}

// Lines returns a Script that prints each line and exits.
func Lines(lines ...string) Script {
	return func(_ *Container, w io.Writer, _ <-chan struct{}) {
		for _, l := range lines {
			if _, err := io.WriteString(w, l+"\n"); err != nil {
				return
			}
		}
	}
}

package sandbox

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/hermitshell/hermitshell/internal/domain/approval"
	"github.com/hermitshell/hermitshell/internal/domain/sandbox"
)

// ExecMailbox delivers approval decisions by touching a sentinel file inside
// the sandbox. The in-sandbox agent polls for it.
type ExecMailbox struct {
	engine sandbox.Engine
	logger zerolog.Logger
}

func NewExecMailbox(engine sandbox.Engine, logger zerolog.Logger) *ExecMailbox {
	return &ExecMailbox{engine: engine, logger: logger.With().Str("service", "mailbox").Logger()}
}

// Deliver writes the sentinel for d. A sandbox that is gone or no longer
// running has nothing waiting, so delivery is skipped without error.
func (m *ExecMailbox) Deliver(ctx context.Context, handle string, d approval.Decision) error {
	if handle == "" {
		return nil
	}
	st, err := m.engine.Inspect(ctx, handle)
	if errors.Is(err, sandbox.ErrNotFound) {
		m.logger.Debug().Str("handle", short(handle)).Msg("sandbox gone, decision dropped")
		return nil
	}
	if err != nil {
		return fmt.Errorf("inspect sandbox: %w", err)
	}
	if !st.Running {
		return nil
	}
	err = m.engine.Exec(ctx, handle, []string{"touch", approval.LockPathFor(d)})
	if errors.Is(err, sandbox.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("write %s sentinel: %w", d, err)
	}
	return nil
}

package objfs

import (
	"context"
	"fmt"
	"time"

	"github.com/syncvault/syncvault/backend"
)

// sessionGate is the in-process session primitive for backends without a
// shared working tree to lock. It is reentrant by context and serializes
// concurrent callers through a single slot.
type sessionGate struct {
	slot chan struct{}
}

func newSessionGate() *sessionGate {
	return &sessionGate{slot: make(chan struct{}, 1)}
}

// gateKey marks a context as holding the gate.
type gateKey struct{}

func (g *sessionGate) run(ctx context.Context, timeout time.Duration, fn backend.SessionFunc) error {
	if held, _ := ctx.Value(gateKey{}).(*sessionGate); held == g {
		return fn(ctx)
	}

	if err := g.acquire(ctx, timeout); err != nil {
		return err
	}
	defer func() { <-g.slot }()

	return fn(context.WithValue(ctx, gateKey{}, g))
}

func (g *sessionGate) acquire(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		select {
		case g.slot <- struct{}{}:
			return nil
		case <-ctx.Done():
			return fmt.Errorf("session acquisition canceled: %w", ctx.Err())
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case g.slot <- struct{}{}:
		return nil
	case <-timer.C:
		return &backend.PathError{Op: "acquire", Path: "session", Err: backend.ErrLockTimeout}
	case <-ctx.Done():
		return fmt.Errorf("session acquisition canceled: %w", ctx.Err())
	}
}

package node

import (
	"context"
	"fmt"

	"github.com/natanbc/andesite/internal/player"
)

// HookResult tells the node whether to run a command.
type HookResult int

const (
	Continue HookResult = iota
	Abort
)

// Command describes a client command as seen by hooks.
type Command struct {
	// Op is the command name, e.g. "play" or "destroy".
	Op string

	Key player.Key

	// Payload is the decoded request, or nil for commands without one.
	Payload any
}

// Hook inspects a command before it runs. Hooks are called in registration
// order from the caller's goroutine; the first one returning Abort stops
// the command with [ErrAborted].
type Hook func(ctx context.Context, cmd Command) HookResult

func (n *Node) runHooks(ctx context.Context, cmd Command) error {
	for i, h := range n.hooks {
		if h(ctx, cmd) == Abort {
			n.log.Debug("node: command aborted by hook", "op", cmd.Op, "hook", i, "guild", cmd.Key.GuildID)
			return fmt.Errorf("%w: %s", ErrAborted, cmd.Op)
		}
	}
	return nil
}

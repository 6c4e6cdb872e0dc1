package agent

import (
	"fmt"

	"github.com/hazyhaar/treewatch/wire"
)

// ErrUnknownNode is returned by in-process calls naming an id the agent
// does not hold.
type ErrUnknownNode struct {
	ID wire.ID
}

func (e *ErrUnknownNode) Error() string {
	return fmt.Sprintf("agent: unknown node %d", e.ID)
}

// ErrNoDebugger is returned by SetBreakpoint when no Debugger is
// configured.
type ErrNoDebugger struct{}

func (ErrNoDebugger) Error() string { return "agent: no debugger configured" }

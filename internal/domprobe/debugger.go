package domprobe

import (
	"fmt"

	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/treewatch/agent"
)

// SetBreakpoint installs a conditional breakpoint at the handler's
// location. It satisfies agent.Debugger.
func (p *Probe) SetBreakpoint(h agent.Handler, condition string) (string, error) {
	if err := p.enableDebugger(); err != nil {
		return "", err
	}
	loc, err := parseLocation(h.Location)
	if err != nil {
		return "", err
	}
	res, err := proto.DebuggerSetBreakpoint{Location: loc, Condition: condition}.Call(p.page.Context(p.ctx))
	if err != nil {
		return "", fmt.Errorf("domprobe: set breakpoint: %w", err)
	}
	p.logger.Debug("domprobe: breakpoint set", "id", res.BreakpointID, "location", h.Location)
	return string(res.BreakpointID), nil
}

// RemoveBreakpoint removes a breakpoint installed by SetBreakpoint.
func (p *Probe) RemoveBreakpoint(id string) error {
	if err := p.enableDebugger(); err != nil {
		return err
	}
	err := proto.DebuggerRemoveBreakpoint{BreakpointID: proto.DebuggerBreakpointID(id)}.Call(p.page.Context(p.ctx))
	if err != nil {
		return fmt.Errorf("domprobe: remove breakpoint: %w", err)
	}
	return nil
}

func (p *Probe) enableDebugger() error {
	p.debugOnce.Do(func() {
		if p.page == nil {
			p.debugErr = fmt.Errorf("domprobe: no page")
			return
		}
		if _, err := (proto.DebuggerEnable{}).Call(p.page.Context(p.ctx)); err != nil {
			p.debugErr = fmt.Errorf("domprobe: enable debugger: %w", err)
		}
	})
	return p.debugErr
}

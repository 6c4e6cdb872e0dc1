package domprobe

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/treewatch/agent"
)

// Element is a DOM node of the probed page, usable as an agent container.
// It is comparable, so the agent can key ownership maps by it.
type Element struct {
	probe *Probe
	id    proto.DOMNodeID
}

// NodeID returns the CDP node id.
func (e Element) NodeID() proto.DOMNodeID { return e.id }

// XPath locates the element in the page.
func (e Element) XPath() string {
	e.probe.nodes.mu.RLock()
	defer e.probe.nodes.mu.RUnlock()
	return e.probe.nodes.xpathLocked(e.id)
}

func (e Element) Parent() agent.Container {
	p, ok := e.probe.nodes.parentOf(e.id)
	if !ok || p == 0 {
		return nil
	}
	return Element{probe: e.probe, id: p}
}

func (e Element) Visible() bool {
	return e.probe.nodes.has(e.id) && !e.probe.nodes.hidden(e.id)
}

// Handlers asks the page for the listeners of event bound on the element.
// Failures yield no handlers.
func (e Element) Handlers(event string) []agent.Handler {
	page := e.probe.page
	if page == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(e.probe.ctx, 5*time.Second)
	defer cancel()
	p := page.Context(ctx)

	obj, err := proto.DOMResolveNode{NodeID: e.id}.Call(p)
	if err != nil || obj.Object == nil {
		e.probe.logger.Debug("domprobe: resolve node failed", "node", e.id, "error", err)
		return nil
	}
	res, err := proto.DOMDebuggerGetEventListeners{ObjectID: obj.Object.ObjectID}.Call(p)
	if err != nil {
		e.probe.logger.Debug("domprobe: event listeners failed", "node", e.id, "error", err)
		return nil
	}

	var out []agent.Handler
	for _, l := range res.Listeners {
		if l.Type != event {
			continue
		}
		out = append(out, agent.Handler{
			Location: formatLocation(l.ScriptID, l.LineNumber, l.ColumnNumber),
			Receiver: e,
		})
	}
	return out
}

// formatLocation renders a script position as scriptId:line:column.
func formatLocation(script proto.RuntimeScriptID, line, column int) string {
	return fmt.Sprintf("%s:%d:%d", script, line, column)
}

func parseLocation(loc string) (*proto.DebuggerLocation, error) {
	parts := strings.Split(loc, ":")
	if len(parts) != 3 || parts[0] == "" {
		return nil, fmt.Errorf("domprobe: malformed location %q", loc)
	}
	line, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, fmt.Errorf("domprobe: location line: %w", err)
	}
	col, err := strconv.Atoi(parts[2])
	if err != nil {
		return nil, fmt.Errorf("domprobe: location column: %w", err)
	}
	return &proto.DebuggerLocation{
		ScriptID:     proto.RuntimeScriptID(parts[0]),
		LineNumber:   line,
		ColumnNumber: &col,
	}, nil
}

package agent

import (
	"fmt"
	"sort"

	"github.com/hazyhaar/treewatch/inspect"
	"github.com/hazyhaar/treewatch/objdiff"
	"github.com/hazyhaar/treewatch/wire"
)

// Inspect answers an inspection request in-process.
func (a *Agent) Inspect(req wire.InspectRequest) wire.InspectedElement {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.inspectLocked(req)
}

// inspectLocked builds the reply to inspectElement: not-found for an
// unknown id, path for a path lookup, full on the first inspection or
// after a change, and partial (only the expanded tabs) otherwise.
func (a *Agent) inspectLocked(req wire.InspectRequest) wire.InspectedElement {
	e, ok := a.nodes[req.ID]
	if !ok || !e.emitted {
		return wire.InspectedElement{ID: req.ID, Type: wire.InspectNotFound}
	}
	sections := e.sections()

	if len(req.Path) > 0 {
		raw, ok := inspect.GetIn(sections, req.Path)
		if !ok {
			return wire.InspectedElement{ID: req.ID, Type: wire.InspectNotFound}
		}
		value, cleaned := a.cfg.Serializer.Clean(raw)
		return wire.InspectedElement{
			ID:      req.ID,
			Type:    wire.InspectPath,
			Path:    req.Path,
			Value:   value,
			Cleaned: cleaned,
		}
	}

	typ := wire.InspectPartial
	names := req.ExpandedTabs
	if last, seen := a.inspected[req.ID]; !seen || last != e.version {
		typ = wire.InspectFull
		names = wire.Sections
		a.inspected[req.ID] = e.version
	}

	return wire.InspectedElement{ID: req.ID, Type: typ, Details: a.snapshotLocked(e, sections, names)}
}

// Snapshot returns every section of id without touching the inspection
// history, so observers keep receiving partial replies.
func (a *Agent) Snapshot(id wire.ID) wire.InspectedElement {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.nodes[id]
	if !ok || !e.emitted {
		return wire.InspectedElement{ID: id, Type: wire.InspectNotFound}
	}
	return wire.InspectedElement{ID: id, Type: wire.InspectFull, Details: a.snapshotLocked(e, e.sections(), wire.Sections)}
}

func (a *Agent) snapshotLocked(e *entry, sections map[string]any, names []string) *wire.Snapshot {
	snap := &wire.Snapshot{
		Name:     e.node.Name,
		Kind:     e.node.Kind,
		Sections: make(map[string]any, len(names)),
		Timing:   e.timing,
	}
	for _, name := range names {
		raw, ok := sections[name]
		if !ok {
			continue
		}
		value, cleaned := a.cfg.Serializer.Clean(raw)
		snap.Sections[name] = value
		if len(cleaned) > 0 {
			if snap.Cleaned == nil {
				snap.Cleaned = make(map[string][][]string)
			}
			snap.Cleaned[name] = cleaned
		}
	}
	return snap
}

// sections returns the raw detail payload keyed by section name. Removed
// keys of the changed sections become nil.
func (e *entry) sections() map[string]any {
	return map[string]any{
		wire.SectionOptions:           e.options,
		wire.SectionAttributes:        e.attributes,
		wire.SectionState:             e.state,
		wire.SectionChangedOptions:    removedAsNil(e.changedOptions),
		wire.SectionChangedAttributes: removedAsNil(e.changedAttributes),
		wire.SectionChangedState:      removedAsNil(e.changedState),
	}
}

func removedAsNil(diff map[string]any) map[string]any {
	if diff == nil {
		return nil
	}
	out := make(map[string]any, len(diff))
	for k, v := range diff {
		if _, gone := v.(objdiff.Removed); gone {
			v = nil
		}
		out[k] = v
	}
	return out
}

func sortIDs(ids []wire.ID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}

func typeName(v any) string { return fmt.Sprintf("%T", v) }

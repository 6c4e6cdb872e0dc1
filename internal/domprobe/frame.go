package domprobe

import (
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/treewatch/agent"
	"github.com/hazyhaar/treewatch/internal/render"
	"github.com/hazyhaar/treewatch/wire"
)

// Frame renders the element subtree under the configured selector. Text
// and comment nodes are left out; their mutations are attributed to the
// enclosing element.
func (p *Probe) Frame() ([]*render.Element, error) {
	root, err := p.selectRoot()
	if err != nil {
		return nil, err
	}
	if root == 0 {
		return nil, nil
	}
	p.nodes.mu.RLock()
	defer p.nodes.mu.RUnlock()
	return []*render.Element{p.elementLocked(root)}, nil
}

func (p *Probe) selectRoot() (proto.DOMNodeID, error) {
	p.nodes.mu.RLock()
	doc := p.nodes.root
	p.nodes.mu.RUnlock()
	if doc == 0 || p.page == nil {
		return 0, nil
	}
	res, err := proto.DOMQuerySelector{NodeID: doc, Selector: p.cfg.Selector}.Call(p.page.Context(p.ctx))
	if err != nil {
		return 0, err
	}
	return res.NodeID, nil
}

func (p *Probe) elementLocked(id proto.DOMNodeID) *render.Element {
	el := Element{probe: p, id: id}
	attrs := make(map[string]any, len(p.nodes.attrs[id]))
	for k, v := range p.nodes.attrs[id] {
		attrs[k] = v
	}
	out := &render.Element{
		Key:        el,
		Name:       p.nodes.labelLocked(id),
		Kind:       wire.KindContainer,
		Instance:   el,
		Containers: []agent.Container{el},
		Attributes: attrs,
		State:      map[string]any{"xpath": p.nodes.xpathLocked(id)},
	}
	for _, c := range p.nodes.children[id] {
		if p.nodes.types[c] == nodeElement {
			out.Children = append(out.Children, p.elementLocked(c))
		}
	}
	return out
}

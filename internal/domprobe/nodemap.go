package domprobe

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/go-rod/rod/lib/proto"
)

const (
	nodeElement  = 1
	nodeText     = 3
	nodeComment  = 8
	nodeDocument = 9
	nodeDoctype  = 10
)

// nodeMap mirrors the part of the page DOM that CDP reported, keyed by
// CDP node id.
type nodeMap struct {
	mu       sync.RWMutex
	types    map[proto.DOMNodeID]int
	tags     map[proto.DOMNodeID]string
	attrs    map[proto.DOMNodeID]map[string]string
	parent   map[proto.DOMNodeID]proto.DOMNodeID
	children map[proto.DOMNodeID][]proto.DOMNodeID
	root     proto.DOMNodeID
}

func newNodeMap() *nodeMap {
	nm := &nodeMap{}
	nm.clearLocked()
	return nm
}

func (nm *nodeMap) clearLocked() {
	nm.types = make(map[proto.DOMNodeID]int)
	nm.tags = make(map[proto.DOMNodeID]string)
	nm.attrs = make(map[proto.DOMNodeID]map[string]string)
	nm.parent = make(map[proto.DOMNodeID]proto.DOMNodeID)
	nm.children = make(map[proto.DOMNodeID][]proto.DOMNodeID)
	nm.root = 0
}

// load replaces the map with the tree returned by DOM.getDocument.
func (nm *nodeMap) load(doc *proto.DOMNode) {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	nm.clearLocked()
	if doc == nil {
		return
	}
	nm.root = doc.NodeID
	nm.walkLocked(doc)
}

func (nm *nodeMap) walkLocked(node *proto.DOMNode) {
	nm.types[node.NodeID] = node.NodeType
	nm.tags[node.NodeID] = strings.ToLower(node.NodeName)
	if len(node.Attributes) > 0 {
		attrs := make(map[string]string, len(node.Attributes)/2)
		for i := 0; i+1 < len(node.Attributes); i += 2 {
			attrs[node.Attributes[i]] = node.Attributes[i+1]
		}
		nm.attrs[node.NodeID] = attrs
	}
	for _, child := range node.Children {
		nm.parent[child.NodeID] = node.NodeID
		nm.children[node.NodeID] = append(nm.children[node.NodeID], child.NodeID)
		nm.walkLocked(child)
	}
	for _, sr := range node.ShadowRoots {
		nm.parent[sr.NodeID] = node.NodeID
		nm.walkLocked(sr)
	}
}

// insert registers node under parent after prev (0 inserts first).
func (nm *nodeMap) insert(parent, prev proto.DOMNodeID, node *proto.DOMNode) {
	nm.mu.Lock()
	defer nm.mu.Unlock()

	kids := nm.children[parent]
	at := 0
	if prev != 0 {
		if i := slices.Index(kids, prev); i >= 0 {
			at = i + 1
		} else {
			at = len(kids)
		}
	}
	nm.children[parent] = slices.Insert(kids, at, node.NodeID)
	nm.parent[node.NodeID] = parent
	nm.walkLocked(node)
}

// setChildren fills the children of parent as reported by DOM.setChildNodes.
func (nm *nodeMap) setChildren(parent proto.DOMNodeID, nodes []*proto.DOMNode) {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	for _, id := range nm.children[parent] {
		nm.removeLocked(id)
	}
	nm.children[parent] = nil
	for _, n := range nodes {
		nm.parent[n.NodeID] = parent
		nm.children[parent] = append(nm.children[parent], n.NodeID)
		nm.walkLocked(n)
	}
}

func (nm *nodeMap) remove(id proto.DOMNodeID) {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	nm.removeLocked(id)
}

func (nm *nodeMap) removeLocked(id proto.DOMNodeID) {
	for _, c := range nm.children[id] {
		nm.removeLocked(c)
	}
	if p, ok := nm.parent[id]; ok {
		kids := nm.children[p]
		if i := slices.Index(kids, id); i >= 0 {
			nm.children[p] = slices.Delete(kids, i, i+1)
		}
	}
	delete(nm.types, id)
	delete(nm.tags, id)
	delete(nm.attrs, id)
	delete(nm.parent, id)
	delete(nm.children, id)
}

func (nm *nodeMap) setAttr(id proto.DOMNodeID, name, value string) {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	if _, ok := nm.types[id]; !ok {
		return
	}
	if nm.attrs[id] == nil {
		nm.attrs[id] = make(map[string]string)
	}
	nm.attrs[id][name] = value
}

func (nm *nodeMap) removeAttr(id proto.DOMNodeID, name string) {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	delete(nm.attrs[id], name)
}

func (nm *nodeMap) parentOf(id proto.DOMNodeID) (proto.DOMNodeID, bool) {
	nm.mu.RLock()
	defer nm.mu.RUnlock()
	p, ok := nm.parent[id]
	return p, ok
}

func (nm *nodeMap) has(id proto.DOMNodeID) bool {
	nm.mu.RLock()
	defer nm.mu.RUnlock()
	_, ok := nm.types[id]
	return ok
}

// hidden reports whether id or one of its ancestors carries the hidden
// attribute or an inline display:none.
func (nm *nodeMap) hidden(id proto.DOMNodeID) bool {
	nm.mu.RLock()
	defer nm.mu.RUnlock()
	for cur, ok := id, true; ok; cur, ok = nm.parent[cur] {
		attrs := nm.attrs[cur]
		if _, h := attrs["hidden"]; h {
			return true
		}
		style := strings.ReplaceAll(strings.ToLower(attrs["style"]), " ", "")
		if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
			return true
		}
	}
	return false
}

// labelLocked renders an element as tag#id.class for display.
func (nm *nodeMap) labelLocked(id proto.DOMNodeID) string {
	tag := nm.tags[id]
	attrs := nm.attrs[id]
	var b strings.Builder
	b.WriteString(tag)
	if v := attrs["id"]; v != "" {
		b.WriteString("#" + v)
	}
	if v := strings.Fields(attrs["class"]); len(v) > 0 {
		b.WriteString("." + v[0])
	}
	return b.String()
}

// xpathLocked computes the XPath of an element from the mirror.
func (nm *nodeMap) xpathLocked(id proto.DOMNodeID) string {
	var parts []string
	for cur := id; ; {
		if nm.types[cur] != nodeElement {
			break
		}
		tag := nm.tags[cur]
		p, ok := nm.parent[cur]
		if !ok {
			parts = append(parts, tag)
			break
		}
		idx, total := 1, 0
		for _, sib := range nm.children[p] {
			if nm.types[sib] != nodeElement || nm.tags[sib] != tag {
				continue
			}
			total++
			if sib == cur {
				idx = total
			}
		}
		if total > 1 {
			parts = append(parts, fmt.Sprintf("%s[%d]", tag, idx))
		} else {
			parts = append(parts, tag)
		}
		cur = p
	}
	slices.Reverse(parts)
	return "/" + strings.Join(parts, "/")
}

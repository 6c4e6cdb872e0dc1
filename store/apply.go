package store

import (
	"slices"

	"github.com/hazyhaar/treewatch/wire"
)

// ApplyOperation returns list with op applied. list is never modified.
//
// Create inserts the node right after its parent's last descendant (or at
// the end when rootless) with depth = parent depth + 1. Delete removes
// exactly the named entry; cascading is the agent's job. Reorder moves the
// contiguous subtree blocks of the parent's children into the given order
// and returns list itself when the order already matches. Update has no
// structural effect.
func ApplyOperation(list []*wire.Node, op wire.Operation) ([]*wire.Node, error) {
	switch op.Kind {
	case wire.OpCreate:
		return applyCreate(list, op)
	case wire.OpDelete:
		i := indexOf(list, op.ID)
		if i < 0 {
			return list, nil
		}
		return slices.Concat(list[:i], list[i+1:]), nil
	case wire.OpReorder:
		return applyReorder(list, op.ID, op.Children)
	default:
		return list, nil
	}
}

func indexOf(list []*wire.Node, id wire.ID) int {
	return slices.IndexFunc(list, func(n *wire.Node) bool { return n.ID == id })
}

// subtreeEnd returns the index just past the descendants of list[i].
func subtreeEnd(list []*wire.Node, i int) int {
	depth := list[i].Depth
	j := i + 1
	for j < len(list) && list[j].Depth > depth {
		j++
	}
	return j
}

func applyCreate(list []*wire.Node, op wire.Operation) ([]*wire.Node, error) {
	n := op.Node()
	if op.ParentID == nil {
		n.Depth = 0
		return append(slices.Clip(list), &n), nil
	}
	pi := indexOf(list, *op.ParentID)
	if pi < 0 {
		return nil, &ErrMissingParent{ID: op.ID, ParentID: *op.ParentID}
	}
	n.Depth = list[pi].Depth + 1
	at := subtreeEnd(list, pi)
	return slices.Concat(list[:at], []*wire.Node{&n}, list[at:]), nil
}

func applyReorder(list []*wire.Node, parent wire.ID, order []wire.ID) ([]*wire.Node, error) {
	pi := indexOf(list, parent)
	if pi < 0 {
		return nil, &ErrMissingParent{ID: parent, ParentID: parent}
	}
	end := subtreeEnd(list, pi)
	childDepth := list[pi].Depth + 1

	var current []wire.ID
	blocks := make(map[wire.ID][]*wire.Node)
	for i := pi + 1; i < end; {
		j := subtreeEnd(list, i)
		if list[i].Depth == childDepth {
			current = append(current, list[i].ID)
			blocks[list[i].ID] = list[i:j]
		}
		i = j
	}

	next := make([]wire.ID, 0, len(current))
	seen := make(map[wire.ID]bool, len(current))
	for _, id := range order {
		if _, ok := blocks[id]; ok && !seen[id] {
			seen[id] = true
			next = append(next, id)
		}
	}
	for _, id := range current {
		if !seen[id] {
			next = append(next, id)
		}
	}
	if slices.Equal(current, next) {
		return list, nil
	}

	out := make([]*wire.Node, 0, len(list))
	out = append(out, list[:pi+1]...)
	for _, id := range next {
		out = append(out, blocks[id]...)
	}
	return append(out, list[end:]...), nil
}

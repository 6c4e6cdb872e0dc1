package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"

	"github.com/fxamacker/cbor/v2"
)

// OpKind is the tag of an Operation.
type OpKind uint8

const (
	OpCreate  OpKind = iota + 1 // [1, id, name, kind, parentId|null, logicParentId|null]
	OpUpdate                    // [2, id]
	OpDelete                    // [3, id]
	OpReorder                   // [4, parentId, childId...]
)

func (k OpKind) String() string {
	switch k {
	case OpCreate:
		return "create"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	case OpReorder:
		return "reorder"
	default:
		return fmt.Sprintf("op(%d)", uint8(k))
	}
}

// Operation is one node-level change of a synchronization pass. For
// OpReorder, ID is the parent and Children the new child order.
type Operation struct {
	Kind          OpKind
	ID            ID
	Name          string
	NodeKind      Kind
	ParentID      *ID
	LogicParentID *ID
	Children      []ID
}

// Create builds a create operation from a node.
func Create(n Node) Operation {
	return Operation{
		Kind:          OpCreate,
		ID:            n.ID,
		Name:          n.Name,
		NodeKind:      n.Kind,
		ParentID:      n.ParentID,
		LogicParentID: n.LogicParentID,
	}
}

// Update builds an update operation.
func Update(id ID) Operation { return Operation{Kind: OpUpdate, ID: id} }

// Delete builds a delete operation.
func Delete(id ID) Operation { return Operation{Kind: OpDelete, ID: id} }

// Reorder builds a reorder operation for the children of parent.
func Reorder(parent ID, children []ID) Operation {
	return Operation{Kind: OpReorder, ID: parent, Children: children}
}

// Node returns the node described by a create operation. Depth is left
// to the receiver.
func (op Operation) Node() Node {
	return Node{
		ID:            op.ID,
		Name:          op.Name,
		Kind:          op.NodeKind,
		ParentID:      op.ParentID,
		LogicParentID: op.LogicParentID,
	}
}

// Values flattens the operation into its array form.
func (op Operation) Values() []any {
	switch op.Kind {
	case OpCreate:
		return []any{int(op.Kind), int(op.ID), op.Name, int(op.NodeKind), optID(op.ParentID), optID(op.LogicParentID)}
	case OpReorder:
		vals := make([]any, 0, 2+len(op.Children))
		vals = append(vals, int(op.Kind), int(op.ID))
		for _, c := range op.Children {
			vals = append(vals, int(c))
		}
		return vals
	default:
		return []any{int(op.Kind), int(op.ID)}
	}
}

func optID(id *ID) any {
	if id == nil {
		return nil
	}
	return int(*id)
}

// ParseOperation decodes the array form produced by Values. Numbers may be
// json.Number, float64 or CBOR integers.
func ParseOperation(vals []any) (Operation, error) {
	if len(vals) < 2 {
		return Operation{}, &ErrMalformedOperation{Reason: fmt.Sprintf("want at least 2 elements, got %d", len(vals))}
	}
	k, err := toInt(vals[0])
	if err != nil {
		return Operation{}, &ErrMalformedOperation{Reason: "kind: " + err.Error()}
	}
	id, err := toInt(vals[1])
	if err != nil {
		return Operation{}, &ErrMalformedOperation{Reason: "id: " + err.Error()}
	}
	op := Operation{Kind: OpKind(k), ID: ID(id)}

	switch op.Kind {
	case OpUpdate, OpDelete:
		return op, nil
	case OpReorder:
		op.Children = make([]ID, 0, len(vals)-2)
		for i, v := range vals[2:] {
			c, err := toInt(v)
			if err != nil {
				return Operation{}, &ErrMalformedOperation{Reason: fmt.Sprintf("child %d: %v", i, err)}
			}
			op.Children = append(op.Children, ID(c))
		}
		return op, nil
	case OpCreate:
		if len(vals) > 2 {
			name, ok := vals[2].(string)
			if !ok && vals[2] != nil {
				return Operation{}, &ErrMalformedOperation{Reason: fmt.Sprintf("name: unexpected %T", vals[2])}
			}
			op.Name = name
		}
		if len(vals) > 3 && vals[3] != nil {
			nk, err := toInt(vals[3])
			if err != nil {
				return Operation{}, &ErrMalformedOperation{Reason: "node kind: " + err.Error()}
			}
			op.NodeKind = Kind(nk)
		}
		if op.ParentID, err = optionalID(vals, 4); err != nil {
			return Operation{}, &ErrMalformedOperation{Reason: "parent: " + err.Error()}
		}
		if op.LogicParentID, err = optionalID(vals, 5); err != nil {
			return Operation{}, &ErrMalformedOperation{Reason: "logic parent: " + err.Error()}
		}
		return op, nil
	default:
		return Operation{}, &ErrMalformedOperation{Reason: fmt.Sprintf("unknown kind %d", k)}
	}
}

func optionalID(vals []any, i int) (*ID, error) {
	if len(vals) <= i || vals[i] == nil {
		return nil, nil
	}
	n, err := toInt(vals[i])
	if err != nil {
		return nil, err
	}
	return IDRef(ID(n)), nil
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case uint64:
		if n > math.MaxInt {
			return 0, fmt.Errorf("%d overflows int", n)
		}
		return int(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("%v is not an integer", n)
		}
		return int(n), nil
	case json.Number:
		i, err := n.Int64()
		return int(i), err
	default:
		return 0, fmt.Errorf("unexpected %T", v)
	}
}

func (op Operation) MarshalJSON() ([]byte, error) {
	return json.Marshal(op.Values())
}

func (op *Operation) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var vals []any
	if err := dec.Decode(&vals); err != nil {
		return err
	}
	parsed, err := ParseOperation(vals)
	if err != nil {
		return err
	}
	*op = parsed
	return nil
}

func (op Operation) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(op.Values())
}

func (op *Operation) UnmarshalCBOR(data []byte) error {
	var vals []any
	if err := cbor.Unmarshal(data, &vals); err != nil {
		return err
	}
	parsed, err := ParseOperation(vals)
	if err != nil {
		return err
	}
	*op = parsed
	return nil
}

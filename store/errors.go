package store

import (
	"errors"
	"fmt"

	"github.com/hazyhaar/treewatch/wire"
)

// ErrMissingParent reports an operation naming a parent absent from the
// mirror. It means the operation log is inconsistent.
type ErrMissingParent struct {
	ID       wire.ID
	ParentID wire.ID
}

func (e *ErrMissingParent) Error() string {
	return fmt.Sprintf("store: node %d references missing parent %d", e.ID, e.ParentID)
}

// ErrClosed is returned by calls on a closed Store.
var ErrClosed = errors.New("store: closed")

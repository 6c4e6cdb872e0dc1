package model

import (
	"fmt"

	"github.com/hazyhaar/treewatch/wire"
)

// ErrNotFound is returned for ids absent from the item list.
type ErrNotFound struct {
	ID wire.ID
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("model: nonexistent item %d", e.ID)
}

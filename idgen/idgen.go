// Package idgen provides pluggable generation of the string identifiers the
// protocol exchanges: end-of-synchronization correlation tokens and
// breakpoint ids.
//
// Node ids are not produced here; they are dense integers owned by the
// agent's node table.
package idgen

import (
	"crypto/rand"
	"fmt"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// Generator produces unique string identifiers.
type Generator func() string

// UUIDv7 returns a Generator of RFC 9562 UUID v7 strings. Time-sortable,
// so correlation tokens of successive passes order naturally.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// ULID returns a Generator of lexicographically sortable ULIDs.
func ULID() Generator {
	return func() string {
		return ulid.Make().String()
	}
}

// NanoID returns a Generator of base-36 ids of the given length.
func NanoID(length int) Generator {
	const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	return func() string {
		buf := make([]byte, length)
		if _, err := rand.Read(buf); err != nil {
			panic("idgen: crypto/rand failed: " + err.Error())
		}
		for i := range buf {
			buf[i] = alphabet[int(buf[i])%len(alphabet)]
		}
		return string(buf)
	}
}

// Prefixed prepends prefix to every id of gen, e.g. "bp_" for breakpoints.
func Prefixed(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + gen()
	}
}

// ByName resolves a configured strategy: "uuidv7" (default), "ulid" or
// "nanoid" (16 characters).
func ByName(name string) (Generator, error) {
	switch name {
	case "", "uuidv7":
		return UUIDv7(), nil
	case "ulid":
		return ULID(), nil
	case "nanoid":
		return NanoID(16), nil
	default:
		return nil, fmt.Errorf("idgen: unknown strategy %q", name)
	}
}

// Default is UUIDv7.
var Default Generator = UUIDv7()

// New produces an id with the Default generator.
func New() string {
	return Default()
}

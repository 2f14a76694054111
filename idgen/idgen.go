// Package idgen names things: journal rows, request IDs and sniper workers.
package idgen

import (
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"
)

// Generator returns a fresh identifier on each call.
type Generator func() string

// Default generates UUID v7 strings, which sort by creation time.
var Default Generator = UUIDv7

// New calls Default.
func New() string { return Default() }

// UUIDv7 is a Generator of RFC 9562 version 7 UUIDs.
func UUIDv7() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Prefixed returns gen with prefix in front of every ID, e.g. "evt_".
func Prefixed(prefix string, gen Generator) Generator {
	return func() string { return prefix + gen() }
}

// Sequence counts from 1: "w1", "w2", and so on for prefix "w".
// Safe for concurrent use.
func Sequence(prefix string) Generator {
	var n atomic.Uint64
	return func() string {
		return prefix + strconv.FormatUint(n.Add(1), 10)
	}
}

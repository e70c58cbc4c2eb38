// Package identity produces the ephemeral handles clients use for one search.
package identity

import (
	"github.com/google/uuid"
)

// Generator yields a fresh opaque handle per call.
type Generator interface {
	NewHandle() string
}

// UUIDGenerator draws random v4 UUIDs.
type UUIDGenerator struct{}

func (UUIDGenerator) NewHandle() string {
	return uuid.NewString()
}

// Sequence replays fixed handles in order and then falls back to random ones.
// Tests use it to pin the offerer/answerer roles.
type Sequence struct {
	handles []string
	next    int
}

func NewSequence(handles ...string) *Sequence {
	return &Sequence{handles: handles}
}

func (s *Sequence) NewHandle() string {
	if s.next < len(s.handles) {
		h := s.handles[s.next]
		s.next++
		return h
	}
	return uuid.NewString()
}

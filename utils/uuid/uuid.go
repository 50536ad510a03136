// Package uuid generates identifiers for subscriptions and other
// created resources. The IDer interface lets tests substitute
// predictable IDs for the random UUIDs used in production.
package uuid

import "github.com/google/uuid"

// An IDer generates identifiers.
type IDer interface {
	ID() string
}

// UUID generates random UUID identifiers.
type UUID struct{}

// NewUUID creates a new UUID ID generator.
func NewUUID() *UUID {
	return &UUID{}
}

// ID generates a new UUID ID.
func (u *UUID) ID() string {
	return uuid.NewString()
}

// StaticIDs is an ID generator that cycles through a fixed list.
// Intended for tests that need predictable IDs.
type StaticIDs struct {
	ids []string
	i   int
}

// NewStaticIDs creates a new static ID generator over ids.
func NewStaticIDs(ids ...string) *StaticIDs {
	return &StaticIDs{ids: ids}
}

// ID returns the next ID, wrapping around at the end of the list.
func (s *StaticIDs) ID() string {
	id := s.ids[s.i%len(s.ids)]
	s.i++
	return id
}

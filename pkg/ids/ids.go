package ids

import "github.com/google/uuid"

// Generator produces identifiers for newly created entities. Injecting it
// keeps the engines deterministic under test.
type Generator interface {
	NewID() uuid.UUID
}

// UUIDGenerator generates random v4 UUIDs.
type UUIDGenerator struct{}

// NewUUIDGenerator creates the default generator.
func NewUUIDGenerator() *UUIDGenerator {
	return &UUIDGenerator{}
}

func (g *UUIDGenerator) NewID() uuid.UUID {
	return uuid.New()
}

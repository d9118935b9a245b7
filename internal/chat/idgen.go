package chat

import (
	"github.com/google/uuid"
)

// IDGenerator mints unique message ids. Abstracted so the assembler is
// deterministic under test.
type IDGenerator interface {
	NewID() string
}

// UUIDGenerator generates random UUIDv4 ids.
type UUIDGenerator struct{}

// NewID returns a new random id.
func (UUIDGenerator) NewID() string {
	return uuid.NewString()
}

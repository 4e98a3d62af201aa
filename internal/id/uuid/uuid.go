// Package uuid generates identifiers for refresh cycles and in-memory records.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator creates time-ordered UUIDv7 strings.
type Generator struct{}

// New creates a new Generator.
func New() Generator {
	return Generator{}
}

// NewID returns a UUIDv7 string.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}

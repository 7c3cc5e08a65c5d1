// Package uuid mints the identifiers duskcrawl attaches to a crawl run: the
// job ID stamped on every progress.Event and, transitively, every row a
// progress sink writes.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator produces UUIDv7 job identifiers; v7's embedded timestamp keeps
// job IDs sortable by start time in the progress store without a separate
// index.
type Generator struct{}

// NewUUIDGenerator creates a new Generator.
func NewUUIDGenerator() *Generator {
	return &Generator{}
}

// NewID returns a job ID as its canonical string form.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}
	return id.String(), nil
}

// NewRawID returns a job ID in the 16-byte form progress.Event carries.
func (Generator) NewRawID() (uuid.UUID, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.Nil, fmt.Errorf("generate job id: %w", err)
	}
	return id, nil
}

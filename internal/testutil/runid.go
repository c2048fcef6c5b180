package testutil

import (
	"fmt"
	"sync/atomic"

	"github.com/roach88/kloop/internal/engine"
)

// DefaultRunID is returned by a FixedRunID created with an empty ID.
const DefaultRunID = "run-test-default"

// FixedRunID returns the same run ID every time, so every kernel of a
// scenario lands in one run with a stable ID for golden comparison.
type FixedRunID struct {
	id string
}

var _ engine.RunIDGenerator = FixedRunID{}

// NewFixedRunID creates a fixed generator. An empty id selects DefaultRunID.
func NewFixedRunID(id string) FixedRunID {
	if id == "" {
		id = DefaultRunID
	}
	return FixedRunID{id: id}
}

// Generate returns the fixed ID.
func (g FixedRunID) Generate() string {
	return g.id
}

// SequentialRunIDs numbers runs "<prefix>-0001", "<prefix>-0002" and so on.
type SequentialRunIDs struct {
	prefix string
	n      atomic.Int64
}

var _ engine.RunIDGenerator = (*SequentialRunIDs)(nil)

// NewSequentialRunIDs creates a numbering generator.
func NewSequentialRunIDs(prefix string) *SequentialRunIDs {
	return &SequentialRunIDs{prefix: prefix}
}

// Generate returns the next numbered ID.
func (g *SequentialRunIDs) Generate() string {
	return fmt.Sprintf("%s-%04d", g.prefix, g.n.Add(1))
}

package sqlqueue

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Gate caps the number of concurrent holders. Waiting for a slot honours the context.
type Gate struct {
	sem      *semaphore.Weighted
	capacity int
}

// NewGate creates a gate admitting at most capacity concurrent holders.
func NewGate(capacity int) (*Gate, error) {
	if capacity <= 0 {
		return nil, ErrInvalidGateSize
	}

	return &Gate{sem: semaphore.NewWeighted(int64(capacity)), capacity: capacity}, nil
}

// MustNewGate is like NewGate but panics on error.
func MustNewGate(capacity int) *Gate {
	gate, err := NewGate(capacity)
	if err != nil {
		panic(err)
	}

	return gate
}

// Capacity returns the maximum number of concurrent holders.
func (g *Gate) Capacity() int {
	return g.capacity
}

// Enter blocks until a slot is free or ctx is done. The returned release
// function must be called exactly once.
func (g *Gate) Enter(ctx context.Context) (release func(), err error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	return func() { g.sem.Release(1) }, nil
}

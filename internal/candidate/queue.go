// Package candidate buffers network candidates on both sides of a negotiation.
package candidate

// Queue is a FIFO of candidates waiting for a precondition, typically the remote description.
type Queue[T any] struct {
	items []T
}

func (q *Queue[T]) Push(v T) {
	q.items = append(q.items, v)
}

// Drain returns all queued items in arrival order and empties the queue.
func (q *Queue[T]) Drain() []T {
	out := q.items
	q.items = nil
	return out
}

func (q *Queue[T]) Len() int { return len(q.items) }

func (q *Queue[T]) Reset() { q.items = nil }

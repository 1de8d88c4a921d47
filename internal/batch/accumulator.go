// Package batch holds items between accumulation and a bounded-size flush.
package batch

import (
	"context"
	"errors"
)

// Sink persists or emits one batch and reports how many items it handled.
// The slice is reused after Flush returns and must not be retained.
type Sink[T any] interface {
	Flush(ctx context.Context, items []T) (int, error)
}

// SinkFunc adapts a function to Sink.
type SinkFunc[T any] func(ctx context.Context, items []T) (int, error)

// Flush calls f.
func (f SinkFunc[T]) Flush(ctx context.Context, items []T) (int, error) {
	return f(ctx, items)
}

// Accumulator collects items in input order up to a fixed size. The driving
// loop calls Add for every item and Flush whenever Add reports the batch is
// full, plus once more at end of input.
type Accumulator[T any] struct {
	size    int
	items   []T
	sink    Sink[T]
	total   int
	batches int
}

// New returns an Accumulator flushing into sink in batches of at most size items.
func New[T any](size int, sink Sink[T]) (*Accumulator[T], error) {
	if size < 1 {
		return nil, errors.New("batch: size must be positive")
	}
	if sink == nil {
		return nil, errors.New("batch: nil sink")
	}
	return &Accumulator[T]{
		size:  size,
		items: make([]T, 0, min(size, 4096)),
		sink:  sink,
	}, nil
}

// Add appends item and reports whether the batch reached its size.
func (a *Accumulator[T]) Add(item T) (full bool) {
	a.items = append(a.items, item)
	return len(a.items) >= a.size
}

// Flush hands the pending items to the sink. An empty batch is a no-op. On
// error the pending items are kept so the caller can report them.
func (a *Accumulator[T]) Flush(ctx context.Context) (int, error) {
	if len(a.items) == 0 {
		return 0, nil
	}
	n, err := a.sink.Flush(ctx, a.items)
	if err != nil {
		return 0, err
	}
	clear(a.items)
	a.items = a.items[:0]
	a.total += n
	a.batches++
	return n, nil
}

// Len is the number of pending items.
func (a *Accumulator[T]) Len() int { return len(a.items) }

// Total is the sum of counts reported by successful flushes.
func (a *Accumulator[T]) Total() int { return a.total }

// Batches is the number of successful non-empty flushes.
func (a *Accumulator[T]) Batches() int { return a.batches }

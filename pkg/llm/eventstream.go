package llm

import (
	"context"
	"sync"
)

// IterResult represents a single iteration result.
type IterResult[T any] struct {
	Value T
	Done  bool
}

// EventStream is a generic async event stream.
// T is the event type, R is the final result type.
type EventStream[T any, R any] struct {
	mu            sync.Mutex
	queue         []T
	waiting       []chan IterResult[T]
	done          bool
	finalResultCh chan R
	isComplete    func(T) bool
	extractResult func(T) R
}

// NewEventStream creates a new EventStream.
func NewEventStream[T any, R any](
	isComplete func(T) bool,
	extractResult func(T) R,
) *EventStream[T, R] {
	return &EventStream[T, R]{
		finalResultCh: make(chan R, 1),
		isComplete:    isComplete,
		extractResult: extractResult,
	}
}

// Push pushes an event to the stream. A completing event marks the stream
// done and publishes the final result; events after that are dropped.
func (es *EventStream[T, R]) Push(event T) {
	es.mu.Lock()
	defer es.mu.Unlock()

	if es.done {
		return
	}
	if es.isComplete(event) {
		es.done = true
		es.finalResultCh <- es.extractResult(event)
	}

	if len(es.waiting) > 0 {
		waiter := es.waiting[0]
		es.waiting = es.waiting[1:]
		waiter <- IterResult[T]{Value: event}
		es.releaseWaitersLocked()
		return
	}
	es.queue = append(es.queue, event)
}

// End marks the stream as complete with the given result.
func (es *EventStream[T, R]) End(result R) {
	es.mu.Lock()
	defer es.mu.Unlock()

	if es.done {
		return
	}
	es.done = true
	es.finalResultCh <- result
	es.releaseWaitersLocked()
}

func (es *EventStream[T, R]) releaseWaitersLocked() {
	if !es.done {
		return
	}
	for _, waiter := range es.waiting {
		waiter <- IterResult[T]{Done: true}
	}
	es.waiting = nil
}

// Iterator returns a channel that yields events in push order.
// The channel is closed when the stream is complete or ctx is cancelled.
func (es *EventStream[T, R]) Iterator(ctx context.Context) <-chan IterResult[T] {
	ch := make(chan IterResult[T])

	go func() {
		defer close(ch)
		for {
			es.mu.Lock()
			if len(es.queue) > 0 {
				event := es.queue[0]
				es.queue = es.queue[1:]
				es.mu.Unlock()
				select {
				case ch <- IterResult[T]{Value: event}:
				case <-ctx.Done():
					return
				}
				continue
			}
			if es.done {
				es.mu.Unlock()
				return
			}
			waiter := make(chan IterResult[T], 1)
			es.waiting = append(es.waiting, waiter)
			es.mu.Unlock()

			select {
			case result := <-waiter:
				if result.Done {
					return
				}
				select {
				case ch <- result:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch
}

// Result returns a channel that delivers the final result.
func (es *EventStream[T, R]) Result() <-chan R {
	return es.finalResultCh
}

// IsDone returns true if the stream is complete.
func (es *EventStream[T, R]) IsDone() bool {
	es.mu.Lock()
	defer es.mu.Unlock()
	return es.done
}

// Package progress carries the in-order progress of long-running
// operations to their callers.
package progress

import (
	"context"
	"errors"
	"sync"
)

// Update is one value of a Stream. Exactly one of the following holds:
// Progress is set (an intermediate event), Completed is set (Result holds
// the final value), or Err is set.
type Update[P, R any] struct {
	Progress  P
	Completed bool
	Result    R
	Err       error
}

// Done reports whether u is the final value of its stream.
func (u Update[P, R]) Done() bool { return u.Completed || u.Err != nil }

// Stream is a lazily produced sequence of progress events terminated by a
// result or an error. The producer blocks until the consumer reads, so a
// stream that is never drained never completes.
type Stream[P, R any] struct {
	ch <-chan Update[P, R]

	once   sync.Once
	result R
	err    error
}

// Reporter is handed to the producer to emit intermediate events.
type Reporter[P any] func(P)

// Start runs fn on a new goroutine and returns its stream. Events passed
// to the reporter are delivered in order, followed by a single terminal
// update. If ctx is canceled while the producer is blocked on delivery,
// further events are dropped and the terminal update carries ctx.Err()
// unless fn already failed.
func Start[P, R any](ctx context.Context, fn func(ctx context.Context, report Reporter[P]) (R, error)) *Stream[P, R] {
	ch := make(chan Update[P, R])
	go func() {
		defer close(ch)
		canceled := false
		report := func(p P) {
			if canceled {
				return
			}
			select {
			case ch <- Update[P, R]{Progress: p}:
			case <-ctx.Done():
				canceled = true
			}
		}
		res, err := fn(ctx, report)
		final := Update[P, R]{Completed: err == nil, Result: res, Err: err}
		if err == nil && canceled {
			final = Update[P, R]{Err: ctx.Err()}
		}
		select {
		case ch <- final:
		case <-ctx.Done():
		}
	}()
	return &Stream[P, R]{ch: ch}
}

// Failed returns a stream that yields only err.
func Failed[P, R any](err error) *Stream[P, R] {
	ch := make(chan Update[P, R], 1)
	ch <- Update[P, R]{Err: err}
	close(ch)
	return &Stream[P, R]{ch: ch}
}

// Updates returns the channel of updates. It is closed after the terminal
// update.
func (s *Stream[P, R]) Updates() <-chan Update[P, R] { return s.ch }

// ErrIncomplete is returned by Wait when the stream closed without a
// terminal update.
var ErrIncomplete = errors.New("progress: stream ended without a result")

// Wait drains the stream, passing intermediate events to observe when it is
// non-nil, and returns the result. Calling Wait again returns the same
// values.
func (s *Stream[P, R]) Wait(observe func(P)) (R, error) {
	s.once.Do(func() {
		s.err = ErrIncomplete
		for u := range s.ch {
			switch {
			case u.Err != nil:
				s.err = u.Err
			case u.Completed:
				s.result, s.err = u.Result, nil
			case observe != nil:
				observe(u.Progress)
			}
		}
	})
	return s.result, s.err
}

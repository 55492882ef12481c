package db

import (
	"context"

	"github.com/imkira/go-observer"

	"github.com/kuitang/glyphnotes/internal/notes"
)

// ObserveAll streams the full note list, most recently edited first.
func (s *Store) ObserveAll(ctx context.Context) <-chan []notes.Note {
	return watch(ctx, s, "all", s.List)
}

// ObserveByID streams the note with id, or nil while it does not exist.
func (s *Store) ObserveByID(ctx context.Context, id int64) <-chan *notes.Note {
	return watch(ctx, s, "by_id", func(ctx context.Context) (*notes.Note, error) {
		n, err := s.Get(ctx, id)
		if err != nil {
			if isNotFound(err) {
				return nil, nil
			}
			return nil, err
		}
		return &n, nil
	})
}

// ObserveMostRecentlyCreated streams the row with the highest id, or nil.
func (s *Store) ObserveMostRecentlyCreated(ctx context.Context) <-chan *notes.Note {
	return watch(ctx, s, "most_recent", s.mostRecentlyCreated)
}

// watch runs load once up front and again after every change signal, sending
// each result on the returned channel. Signals that pile up while a value is
// being delivered collapse into a single re-query. A failed load is logged
// and skipped.
func watch[T any](ctx context.Context, s *Store, name string, load func(context.Context) (T, error)) <-chan T {
	stream := s.changes.Observe()
	out := make(chan T)

	go func() {
		defer close(out)

		send := func() bool {
			v, err := load(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return false
				}
				s.log.Warn("observer query failed", "observer", name, "error", err)
				return true
			}
			select {
			case <-ctx.Done():
				return false
			case out <- v:
				return true
			}
		}

		if !send() {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case <-stream.Changes():
				drain(stream)
				if !send() {
					return
				}
			}
		}
	}()

	return out
}

func drain(stream observer.Stream) {
	for stream.HasNext() {
		stream.Next()
	}
}

package editor

import (
	"context"
)

// ObserveDraft streams the draft state: the current value first, then the
// latest value after each change. Intermediate states may be skipped when
// the reader is slow. The channel closes when ctx ends or the session closes.
func (s *Session) ObserveDraft(ctx context.Context) <-chan DraftState {
	stream := s.state.Observe()
	out := make(chan DraftState)

	go func() {
		defer close(out)
		current := stream.Value().(DraftState)
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.ctx.Done():
				return
			case out <- current:
			}

			select {
			case <-ctx.Done():
				return
			case <-s.ctx.Done():
				return
			case <-stream.Changes():
				current = stream.Next().(DraftState)
				for stream.HasNext() {
					current = stream.Next().(DraftState)
				}
			}
		}
	}()

	return out
}

// ObserveTags streams the global tag list. The channel closes when ctx ends
// or the session closes.
func (s *Session) ObserveTags(ctx context.Context) <-chan []string {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.ctx, cancel)
	go func() {
		<-ctx.Done()
		stop()
	}()
	return s.registry.Observe(ctx)
}

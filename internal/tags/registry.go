package tags

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/kuitang/glyphnotes/internal/errs"
	"github.com/kuitang/glyphnotes/internal/logutil"
	"github.com/kuitang/glyphnotes/internal/notes"
	"github.com/kuitang/glyphnotes/internal/obs"
)

// DefaultConcurrency bounds the number of in-flight upserts during a fan-out.
const DefaultConcurrency = 4

// Registry is the live tag projection over a note store.
type Registry struct {
	store       notes.Store
	concurrency int
	limiter     *rate.Limiter
}

// Option configures a Registry.
type Option func(*Registry)

// WithConcurrency sets the maximum number of concurrent fan-out upserts.
// Values below one mean sequential.
func WithConcurrency(n int) Option {
	return func(r *Registry) {
		if n < 1 {
			n = 1
		}
		r.concurrency = n
	}
}

// WithLimiter paces fan-out upserts. A nil limiter disables pacing.
func WithLimiter(l *rate.Limiter) Option {
	return func(r *Registry) {
		r.limiter = l
	}
}

// NewRegistry creates a registry reading from store.
func NewRegistry(store notes.Store, opts ...Option) *Registry {
	r := &Registry{
		store:       store,
		concurrency: DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// All returns the current tag list.
func (r *Registry) All(ctx context.Context) ([]string, error) {
	list, err := r.store.List(ctx)
	if err != nil {
		return nil, errs.Wrap(errs.Persistence, "failed to list notes", err)
	}
	return AllTags(list), nil
}

// Observe streams the tag list, recomputed on every collection change.
// Consecutive identical lists are emitted once.
func (r *Registry) Observe(ctx context.Context) <-chan []string {
	in := r.store.ObserveAll(ctx)
	out := make(chan []string)

	go func() {
		defer close(out)
		var last []string
		first := true
		for list := range in {
			next := AllTags(list)
			if !first && slices.Equal(last, next) {
				continue
			}
			first = false
			last = next
			select {
			case <-ctx.Done():
				return
			case out <- next:
			}
		}
	}()

	return out
}

// Result describes a completed fan-out.
type Result struct {
	// Updated holds the rewritten notes, ordered by id.
	Updated []notes.Note
}

// FanoutError lists the notes whose upsert failed during a fan-out.
type FanoutError struct {
	Tag       string
	Attempted int
	Failed    map[int64]error
}

func (e *FanoutError) Error() string {
	return fmt.Sprintf("remove tag %q: %d of %d notes failed", e.Tag, len(e.Failed), e.Attempted)
}

// FailedIDs returns the failed note ids in ascending order.
func (e *FanoutError) FailedIDs() []int64 {
	ids := make([]int64, 0, len(e.Failed))
	for id := range e.Failed {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Unwrap exposes every per-note failure to errors.Is and errors.As.
func (e *FanoutError) Unwrap() []error {
	out := make([]error, 0, len(e.Failed))
	for _, id := range e.FailedIDs() {
		out = append(out, e.Failed[id])
	}
	return out
}

// DeleteEverywhere removes tag from every note carrying it, one upsert per
// note. Timestamps are left untouched. Every affected note is attempted even
// when some fail; failures come back as a PartialFailure wrapping a
// *FanoutError, alongside the notes that were updated.
func (r *Registry) DeleteEverywhere(ctx context.Context, tag string) (Result, error) {
	if notes.IsBlank(tag) {
		return Result{}, errs.New(errs.InvalidArgument, "tag is required")
	}

	affected, err := r.store.WithTag(ctx, tag)
	if err != nil {
		return Result{}, errs.Wrap(errs.Persistence, "failed to find notes with tag", err)
	}

	var (
		mu      sync.Mutex
		updated []notes.Note
		failed  = map[int64]error{}
	)

	var g errgroup.Group
	g.SetLimit(r.concurrency)
	for _, n := range affected {
		n := n
		g.Go(func() error {
			next := n.Clone()
			next.Tags = notes.RemoveTag(next.Tags, tag)

			err := r.wait(ctx)
			if err == nil {
				_, err = r.store.Upsert(ctx, next)
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed[n.ID] = fmt.Errorf("note %d: %w", n.ID, err)
				return nil
			}
			updated = append(updated, next)
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(updated, func(i, j int) bool { return updated[i].ID < updated[j].ID })
	res := Result{Updated: updated}

	log := obs.From(ctx).With("pkg", "tags")
	if len(failed) > 0 {
		fe := &FanoutError{Tag: tag, Attempted: len(affected), Failed: failed}
		log.Warn("tag removal incomplete",
			"tag", logutil.Title(tag),
			"attempted", len(affected),
			"failed_ids", fe.FailedIDs(),
		)
		return res, errs.Wrap(errs.PartialFailure, "some notes kept the tag", fe)
	}

	log.Info("tag removed", "tag", logutil.Title(tag), "notes", len(updated))
	return res, nil
}

func (r *Registry) wait(ctx context.Context) error {
	if r.limiter == nil {
		return ctx.Err()
	}
	return r.limiter.Wait(ctx)
}

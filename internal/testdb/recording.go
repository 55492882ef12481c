package testdb

import (
	"context"
	"sync"

	"github.com/kuitang/glyphnotes/internal/notes"
)

// RecordingStore wraps a notes.Store, recording every write and optionally
// failing writes chosen by the test.
type RecordingStore struct {
	notes.Store

	mu         sync.Mutex
	upserts    []notes.Note
	deletes    []notes.Note
	failUpsert func(notes.Note) error
	failDelete func(notes.Note) error
	failQuery  error
}

// NewRecording wraps inner.
func NewRecording(inner notes.Store) *RecordingStore {
	return &RecordingStore{Store: inner}
}

// FailUpserts makes Upsert return fn's error whenever it is non-nil.
// Pass nil to clear.
func (r *RecordingStore) FailUpserts(fn func(notes.Note) error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failUpsert = fn
}

// FailDeletes makes Delete return fn's error whenever it is non-nil.
func (r *RecordingStore) FailDeletes(fn func(notes.Note) error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failDelete = fn
}

// FailQueries makes WithTag return err. Pass nil to clear.
func (r *RecordingStore) FailQueries(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failQuery = err
}

func (r *RecordingStore) WithTag(ctx context.Context, tag string) ([]notes.Note, error) {
	r.mu.Lock()
	fail := r.failQuery
	r.mu.Unlock()

	if fail != nil {
		return nil, fail
	}
	return r.Store.WithTag(ctx, tag)
}

func (r *RecordingStore) Upsert(ctx context.Context, note notes.Note) (int64, error) {
	r.mu.Lock()
	r.upserts = append(r.upserts, note.Clone())
	fail := r.failUpsert
	r.mu.Unlock()

	if fail != nil {
		if err := fail(note); err != nil {
			return 0, err
		}
	}
	return r.Store.Upsert(ctx, note)
}

func (r *RecordingStore) Delete(ctx context.Context, note notes.Note) error {
	r.mu.Lock()
	r.deletes = append(r.deletes, note.Clone())
	fail := r.failDelete
	r.mu.Unlock()

	if fail != nil {
		if err := fail(note); err != nil {
			return err
		}
	}
	return r.Store.Delete(ctx, note)
}

// Upserts returns every attempted upsert, including failed ones.
func (r *RecordingStore) Upserts() []notes.Note {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notes.Note(nil), r.upserts...)
}

// UpsertCount returns the number of attempted upserts.
func (r *RecordingStore) UpsertCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.upserts)
}

// Deletes returns every attempted delete.
func (r *RecordingStore) Deletes() []notes.Note {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notes.Note(nil), r.deletes...)
}

// Reset clears the recorded writes.
func (r *RecordingStore) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upserts = nil
	r.deletes = nil
}

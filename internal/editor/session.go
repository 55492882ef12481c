// Package editor implements the note editing session: one draft, a
// debounced autosave, immediate persists for discrete actions and a
// dirty-checked final save on exit.
//
// All mutators are safe for concurrent use. Field updates only touch memory
// and re-arm the debounce timer; the I/O paths (Load, flushes, DeleteNote,
// DeleteTagEverywhere) are serialized per session so a new note is inserted
// at most once no matter how triggers interleave.
package editor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/imkira/go-observer"

	"github.com/kuitang/glyphnotes/internal/clock"
	"github.com/kuitang/glyphnotes/internal/errs"
	"github.com/kuitang/glyphnotes/internal/logutil"
	"github.com/kuitang/glyphnotes/internal/notes"
	"github.com/kuitang/glyphnotes/internal/obs"
	"github.com/kuitang/glyphnotes/internal/tags"
)

// DefaultDebounce is the quiet period after the last edit before autosave.
const DefaultDebounce = 500 * time.Millisecond

// ErrClosed is returned by I/O operations after Close.
var ErrClosed = errors.New("editing session closed")

// DraftState is a snapshot of the session for rendering.
type DraftState struct {
	Note      notes.Note
	IsNewNote bool
	// Dirty reports unsaved changes relative to the last load or save.
	Dirty bool
	// SaveErr is the most recent save failure, cleared by the next success.
	SaveErr error
}

// Session owns exactly one draft and decides when to write it.
type Session struct {
	store    notes.Store
	clock    clock.Clock
	debounce time.Duration
	registry *tags.Registry
	fanout   []tags.Option

	ctx    context.Context
	cancel context.CancelFunc
	log    *slog.Logger

	// flushMu serializes store I/O. Lock order: flushMu before mu.
	flushMu  sync.Mutex
	inflight sync.WaitGroup

	mu       sync.Mutex
	draft    notes.Note
	snapshot notes.Note
	isNew    bool
	saveErr  error
	timer    clock.Timer
	epoch    uint64
	closed   bool

	state observer.Property
}

// Option configures a Session.
type Option func(*Session)

// WithClock replaces the wall clock, mostly for tests.
func WithClock(c clock.Clock) Option {
	return func(s *Session) { s.clock = c }
}

// WithDebounce sets the autosave quiet period.
func WithDebounce(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.debounce = d
		}
	}
}

// WithRegistry shares an existing tag registry.
func WithRegistry(r *tags.Registry) Option {
	return func(s *Session) { s.registry = r }
}

// WithFanout configures the registry the session builds when none is given.
func WithFanout(opts ...tags.Option) Option {
	return func(s *Session) { s.fanout = append(s.fanout, opts...) }
}

// WithContext supplies the context whose values (correlation fields) the
// session logs with and hands to timer-driven saves. Its cancellation is
// ignored; Close ends the session.
func WithContext(ctx context.Context) Option {
	return func(s *Session) { s.ctx = ctx }
}

// New creates a session editing a fresh, unsaved note.
func New(store notes.Store, opts ...Option) *Session {
	s := &Session{
		store:    store,
		clock:    clock.Real{},
		debounce: DefaultDebounce,
		ctx:      context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.registry == nil {
		s.registry = tags.NewRegistry(store, s.fanout...)
	}

	base := context.WithoutCancel(s.ctx)
	if obs.CorrelationFromContext(base).SessionID == "" {
		base = obs.WithSession(base, obs.NewSessionID())
	}
	s.ctx, s.cancel = context.WithCancel(base)
	s.log = obs.From(s.ctx).With("pkg", "editor")

	s.draft = freshDraft()
	s.snapshot = freshDraft()
	s.isNew = true
	s.state = observer.NewProperty(s.stateLocked())
	return s
}

// ID returns the session correlation id.
func (s *Session) ID() string {
	return obs.CorrelationFromContext(s.ctx).SessionID
}

func freshDraft() notes.Note {
	return notes.Note{Tags: []string{}, Category: notes.DefaultCategory}
}

// persistable applies the normalization a save would apply, so dirty checks
// compare what would be written.
func persistable(n notes.Note) notes.Note {
	n = n.Clone()
	n.Tags = notes.NormalizeTags(n.Tags)
	n.Category = notes.CategoryOrDefault(n.Category)
	return n
}

// Load starts editing note id, or a fresh draft for notes.NewNoteID. Unsaved
// edits to the previous draft are discarded and its pending autosave is
// cancelled; a save already in progress completes first. A missing id
// returns a NotFound error and leaves the current draft untouched.
func (s *Session) Load(ctx context.Context, id int64) error {
	if err := s.begin(); err != nil {
		return err
	}
	defer s.inflight.Done()

	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	if id == notes.NewNoteID {
		s.mu.Lock()
		s.resetLocked(freshDraft(), true)
		s.mu.Unlock()
		s.log.Debug("editing new note")
		return nil
	}

	n, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, notes.ErrNotFound) {
			return errs.Wrap(errs.NotFound, fmt.Sprintf("note %d not found", id), notes.ErrNotFound)
		}
		return errs.Wrap(errs.Persistence, "failed to load note", err)
	}

	s.mu.Lock()
	s.resetLocked(n, false)
	s.mu.Unlock()
	s.log.Debug("editing note", "note_id", id, "title", logutil.Title(n.Title))
	return nil
}

// resetLocked replaces the draft and snapshot and invalidates timers and
// saves started for the previous draft. The snapshot is kept in persistable
// form so a stored row with padded or blank tags is not dirty. Caller holds mu.
func (s *Session) resetLocked(n notes.Note, isNew bool) {
	s.stopTimerLocked()
	s.epoch++
	s.draft = n.Clone()
	s.snapshot = persistable(n)
	s.isNew = isNew
	s.saveErr = nil
	s.publishLocked()
}

// UpdateTitle replaces the title and re-arms autosave.
func (s *Session) UpdateTitle(text string) {
	s.edit(func(d *notes.Note) { d.Title = text })
}

// UpdateContent replaces the content and re-arms autosave.
func (s *Session) UpdateContent(text string) {
	s.edit(func(d *notes.Note) { d.Content = text })
}

// UpdateTags replaces the tag list, trimmed and de-duplicated, and re-arms autosave.
func (s *Session) UpdateTags(list []string) {
	normalized := notes.NormalizeTags(list)
	s.edit(func(d *notes.Note) { d.Tags = normalized })
}

// UpdateCategory replaces the category and re-arms autosave. A blank
// category is saved as notes.DefaultCategory.
func (s *Session) UpdateCategory(text string) {
	s.edit(func(d *notes.Note) { d.Category = text })
}

func (s *Session) edit(apply func(*notes.Note)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	apply(&s.draft)
	s.armLocked()
	s.publishLocked()
}

// armLocked cancels any pending autosave and schedules a new one. Caller holds mu.
func (s *Session) armLocked() {
	s.stopTimerLocked()
	epoch := s.epoch
	s.timer = s.clock.AfterFunc(s.debounce, func() { s.onTimer(epoch) })
}

func (s *Session) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Session) onTimer(epoch uint64) {
	s.mu.Lock()
	if s.closed || s.epoch != epoch {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	s.inflight.Add(1)
	s.mu.Unlock()
	defer s.inflight.Done()

	// Failures are recorded on the draft state and retried by the next trigger.
	_ = s.flush(s.ctx, "debounce", epoch)
}

// TogglePin flips the pin state and saves immediately.
func (s *Session) TogglePin(ctx context.Context) error {
	epoch, err := s.mutateNow(func(d *notes.Note) { d.IsPinned = !d.IsPinned })
	if err != nil {
		return err
	}
	defer s.inflight.Done()
	return s.flush(ctx, "pin", epoch)
}

// Save cancels any pending autosave and saves now if the draft is dirty.
func (s *Session) Save(ctx context.Context) error {
	epoch, err := s.mutateNow(nil)
	if err != nil {
		return err
	}
	defer s.inflight.Done()
	return s.flush(ctx, "save", epoch)
}

// RequestExit is the final save before the session is torn down: it cancels
// any pending autosave and writes only if the draft differs from what was
// loaded or last saved. A blank new note is never written.
func (s *Session) RequestExit(ctx context.Context) error {
	epoch, err := s.mutateNow(nil)
	if err != nil {
		return err
	}
	defer s.inflight.Done()
	return s.flush(ctx, "exit", epoch)
}

// mutateNow applies an optional change, cancels the pending autosave and
// registers an in-flight operation. The caller must call inflight.Done.
func (s *Session) mutateNow(apply func(*notes.Note)) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, errs.Wrap(errs.Unavailable, "session closed", ErrClosed)
	}
	s.stopTimerLocked()
	if apply != nil {
		apply(&s.draft)
		s.publishLocked()
	}
	s.inflight.Add(1)
	return s.epoch, nil
}

// flush writes the draft if it is dirty and not a blank new note. It is a
// no-op when the session was reloaded after epoch was captured.
func (s *Session) flush(ctx context.Context, trigger string, epoch uint64) error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return nil
	}
	note := persistable(s.draft)
	isNew := s.isNew
	if notes.SameContent(note, s.snapshot) {
		s.mu.Unlock()
		return nil
	}
	if isNew && notes.IsBlank(note.Title) && notes.IsBlank(note.Content) {
		s.mu.Unlock()
		s.log.Debug("skipped blank new note", "trigger", trigger)
		return nil
	}

	now := s.clock.Now().UTC().Truncate(time.Millisecond)
	if isNew {
		note.ID = 0
		note.CreationDate = now
	} else {
		if now.Before(s.snapshot.LastEditDate) {
			now = s.snapshot.LastEditDate
		}
		if now.Before(note.CreationDate) {
			now = note.CreationDate
		}
	}
	note.LastEditDate = now
	s.mu.Unlock()

	id, err := s.store.Upsert(ctx, note)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		saveErr := errs.Wrap(errs.Persistence, "failed to save note", err)
		if s.epoch == epoch {
			s.saveErr = saveErr
			s.publishLocked()
		}
		s.log.Warn("note save failed",
			"trigger", trigger,
			"note_id", note.ID,
			"error", err,
		)
		return saveErr
	}

	note.ID = id
	if s.epoch == epoch {
		s.snapshot = note.Clone()
		s.draft.ID = id
		s.draft.CreationDate = note.CreationDate
		s.draft.LastEditDate = note.LastEditDate
		s.isNew = false
		s.saveErr = nil
		s.publishLocked()
	}
	s.log.Debug("note saved",
		"trigger", trigger,
		"note_id", id,
		"created", isNew,
		"title", logutil.Title(note.Title),
	)
	return nil
}

// DeleteNote deletes the loaded note and resets to a fresh draft. For a
// never-saved draft only the reset happens.
func (s *Session) DeleteNote(ctx context.Context) error {
	if err := s.begin(); err != nil {
		return err
	}
	defer s.inflight.Done()

	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.Lock()
	s.stopTimerLocked()
	target := s.draft.Clone()
	isNew := s.isNew
	s.mu.Unlock()

	if !isNew {
		if err := s.store.Delete(ctx, target); err != nil {
			s.log.Warn("note delete failed", "note_id", target.ID, "error", err)
			return errs.Wrap(errs.Persistence, "failed to delete note", err)
		}
		s.log.Info("note deleted", "note_id", target.ID)
	}

	s.mu.Lock()
	s.resetLocked(freshDraft(), true)
	s.mu.Unlock()
	return nil
}

// DeleteTagEverywhere removes tag from every stored note and from the open
// draft. Per-note failures do not stop the fan-out; they are reported as a
// PartialFailure error carrying a *tags.FanoutError.
func (s *Session) DeleteTagEverywhere(ctx context.Context, tag string) error {
	if err := s.begin(); err != nil {
		return err
	}
	defer s.inflight.Done()

	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	res, err := s.registry.DeleteEverywhere(ctx, tag)
	switch errs.CodeOf(err) {
	case errs.InvalidArgument, errs.Persistence:
		// Nothing was attempted; the draft keeps the tag.
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !notes.HasTag(s.draft.Tags, tag) {
		return err
	}
	s.draft.Tags = notes.RemoveTag(s.draft.Tags, tag)
	synced := false
	for _, n := range res.Updated {
		if !s.isNew && n.ID == s.draft.ID {
			s.snapshot.Tags = notes.RemoveTag(s.snapshot.Tags, tag)
			synced = true
			break
		}
	}
	if !synced && !s.closed {
		s.armLocked()
	}
	s.publishLocked()
	return err
}

// Draft returns the current draft state.
func (s *Session) Draft() DraftState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

func (s *Session) stateLocked() DraftState {
	return DraftState{
		Note:      s.draft.Clone(),
		IsNewNote: s.isNew,
		Dirty:     !notes.SameContent(persistable(s.draft), s.snapshot),
		SaveErr:   s.saveErr,
	}
}

func (s *Session) publishLocked() {
	s.state.Update(s.stateLocked())
}

// begin registers an in-flight operation unless the session is closed.
func (s *Session) begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errs.Wrap(errs.Unavailable, "session closed", ErrClosed)
	}
	s.inflight.Add(1)
	return nil
}

// Close cancels the pending autosave and every subscription, and waits for
// in-flight saves to finish. Unsaved edits are not written; call
// RequestExit first. Close is idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.stopTimerLocked()
	s.mu.Unlock()

	s.inflight.Wait()
	s.cancel()
}

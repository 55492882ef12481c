package editor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/kuitang/glyphnotes/internal/clock"
	"github.com/kuitang/glyphnotes/internal/errs"
	"github.com/kuitang/glyphnotes/internal/notes"
	"github.com/kuitang/glyphnotes/internal/tags"
	"github.com/kuitang/glyphnotes/internal/testdb"
)

var t0 = time.Date(2025, 4, 1, 10, 0, 0, 0, time.UTC)

type harness struct {
	store *testdb.RecordingStore
	clock *clock.Fake
	close func() error
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := openHarness(t)
	t.Cleanup(func() { _ = h.close() })
	return h
}

// openHarness works with rapid.T, which has no Cleanup; callers defer h.close.
func openHarness(t require.TestingT) *harness {
	s, err := testdb.NewStore()
	require.NoError(t, err)
	return &harness{store: testdb.NewRecording(s), clock: clock.NewFake(t0), close: s.Close}
}

func (h *harness) session(tb testing.TB, opts ...Option) *Session {
	tb.Helper()
	opts = append([]Option{WithClock(h.clock)}, opts...)
	s := New(h.store, opts...)
	tb.Cleanup(s.Close)
	return s
}

// seed inserts a note directly and clears the recorded writes.
func (h *harness) seed(tb testing.TB, n notes.Note) notes.Note {
	tb.Helper()
	if n.CreationDate.IsZero() {
		n.CreationDate = t0.Add(-time.Hour)
		n.LastEditDate = t0.Add(-time.Hour)
	}
	if n.Category == "" {
		n.Category = notes.DefaultCategory
	}
	id, err := h.store.Upsert(context.Background(), n)
	require.NoError(tb, err)
	n.ID = id
	h.store.Reset()
	return n
}

func TestSession_NewStartsFresh(t *testing.T) {
	h := newHarness(t)
	s := h.session(t)

	d := s.Draft()
	assert.True(t, d.IsNewNote)
	assert.False(t, d.Dirty)
	assert.Equal(t, notes.DefaultCategory, d.Note.Category)
	assert.NotEmpty(t, s.ID())
}

func TestSession_IdempotentFlush(t *testing.T) {
	h := newHarness(t)
	n := h.seed(t, notes.Note{Title: "t", Content: "c", Tags: []string{"a", "b"}})
	s := h.session(t)
	ctx := context.Background()

	require.NoError(t, s.Load(ctx, n.ID))
	require.NoError(t, s.Save(ctx))
	require.NoError(t, s.RequestExit(ctx))
	assert.Zero(t, h.store.UpsertCount())

	// Reordering tags is not a change.
	s.UpdateTags([]string{"b", "a"})
	h.clock.Advance(DefaultDebounce)
	require.NoError(t, s.RequestExit(ctx))
	assert.Zero(t, h.store.UpsertCount())
	assert.False(t, s.Draft().Dirty)
}

func TestSession_IdempotentFlushWithUnnormalizedRow(t *testing.T) {
	h := newHarness(t)
	n := h.seed(t, notes.Note{Title: "t", Content: "c", Tags: []string{"work", "", " work", " home "}, Category: " "})
	s := h.session(t)
	ctx := context.Background()

	require.NoError(t, s.Load(ctx, n.ID))
	assert.False(t, s.Draft().Dirty, "an untouched stored note is clean")
	require.NoError(t, s.Save(ctx))
	require.NoError(t, s.RequestExit(ctx))
	assert.Zero(t, h.store.UpsertCount())

	s.UpdateTitle("t2")
	require.NoError(t, s.RequestExit(ctx))
	require.Equal(t, 1, h.store.UpsertCount())
	assert.Equal(t, []string{"work", "home"}, h.store.Upserts()[0].Tags)
	assert.False(t, s.Draft().Dirty)
}

func testSession_UntouchedLoadNeverWrites(t *rapid.T) {
	h := openHarness(t)
	defer h.close()
	ctx := context.Background()

	stored := notes.Note{
		Title:        rapid.String().Draw(t, "title"),
		Content:      rapid.String().Draw(t, "content"),
		Tags:         rapid.SliceOfN(rapid.SampledFrom([]string{"", " ", "a", " a", "a ", "b", "\tb\n", "B"}), 0, 6).Draw(t, "tags"),
		Category:     rapid.SampledFrom([]string{"", " ", notes.DefaultCategory, "Work"}).Draw(t, "category"),
		IsPinned:     rapid.Bool().Draw(t, "pinned"),
		CreationDate: t0.Add(-time.Hour),
		LastEditDate: t0.Add(-time.Hour),
	}
	id, err := h.store.Upsert(ctx, stored)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	h.store.Reset()

	s := New(h.store, WithClock(h.clock))
	defer s.Close()
	if err := s.Load(ctx, id); err != nil {
		t.Fatalf("load: %v", err)
	}
	if s.Draft().Dirty {
		t.Fatalf("draft is dirty right after load: %+v", s.Draft().Note)
	}
	h.clock.Advance(DefaultDebounce)
	if err := s.RequestExit(ctx); err != nil {
		t.Fatalf("exit: %v", err)
	}
	if got := h.store.UpsertCount(); got != 0 {
		t.Fatalf("untouched exit wrote %d times", got)
	}
}

func TestSession_UntouchedLoadNeverWrites(t *testing.T) {
	rapid.Check(t, testSession_UntouchedLoadNeverWrites)
}

func FuzzSession_UntouchedLoadNeverWrites(f *testing.F) {
	f.Fuzz(rapid.MakeFuzz(testSession_UntouchedLoadNeverWrites))
}

func testSession_DebounceCollapse(t *rapid.T) {
	h := openHarness(t)
	defer h.close()
	s := New(h.store, WithClock(h.clock))
	defer s.Close()

	titles := rapid.SliceOfN(rapid.StringMatching(`[a-z]{1,8}`), 1, 20).Draw(t, "titles")
	for _, title := range titles {
		s.UpdateTitle(title)
		gap := rapid.Int64Range(0, int64(DefaultDebounce)-1).Draw(t, "gap")
		h.clock.Advance(time.Duration(gap))
		if h.store.UpsertCount() != 0 {
			t.Fatalf("saved before the quiet period elapsed")
		}
	}
	h.clock.Advance(DefaultDebounce)

	upserts := h.store.Upserts()
	if len(upserts) != 1 {
		t.Fatalf("expected exactly one upsert, got %d", len(upserts))
	}
	if want := titles[len(titles)-1]; upserts[0].Title != want {
		t.Fatalf("saved title %q, want %q", upserts[0].Title, want)
	}
}

func TestSession_DebounceCollapse(t *testing.T) {
	rapid.Check(t, testSession_DebounceCollapse)
}

func testSession_NoEmptyNoteCreation(t *rapid.T) {
	h := openHarness(t)
	defer h.close()
	s := New(h.store, WithClock(h.clock))
	defer s.Close()
	ctx := context.Background()

	blank := rapid.SampledFrom([]string{"", " ", "\t", "\n", "  \r\n "})
	s.UpdateTitle(blank.Draw(t, "title"))
	s.UpdateContent(blank.Draw(t, "content"))
	if rapid.Bool().Draw(t, "tags") {
		s.UpdateTags([]string{"orphan"})
	}
	if rapid.Bool().Draw(t, "pin") {
		if err := s.TogglePin(ctx); err != nil {
			t.Fatalf("toggle pin: %v", err)
		}
	}
	h.clock.Advance(time.Duration(rapid.Int64Range(0, int64(2*DefaultDebounce)).Draw(t, "wait")))
	if err := s.RequestExit(ctx); err != nil {
		t.Fatalf("exit: %v", err)
	}

	if n := h.store.UpsertCount(); n != 0 {
		t.Fatalf("blank new note issued %d upserts", n)
	}
}

func TestSession_NoEmptyNoteCreation(t *testing.T) {
	rapid.Check(t, testSession_NoEmptyNoteCreation)
}

func TestSession_CreationDateImmutable(t *testing.T) {
	h := newHarness(t)
	n := h.seed(t, notes.Note{Title: "old"})
	s := h.session(t)
	ctx := context.Background()

	require.NoError(t, s.Load(ctx, n.ID))
	prevEdit := n.LastEditDate
	for i := 0; i < 3; i++ {
		s.UpdateContent(fmt.Sprintf("rev %d", i))
		h.clock.Advance(DefaultDebounce)

		upserts := h.store.Upserts()
		require.Len(t, upserts, i+1)
		last := upserts[i]
		assert.Equal(t, n.ID, last.ID)
		assert.True(t, last.CreationDate.Equal(n.CreationDate), "creation date changed to %v", last.CreationDate)
		assert.False(t, last.LastEditDate.Before(prevEdit), "last edit went backwards")
		assert.False(t, last.LastEditDate.Before(last.CreationDate))
		prevEdit = last.LastEditDate
	}
}

func TestSession_PinImmediacy(t *testing.T) {
	h := newHarness(t)
	n := h.seed(t, notes.Note{Title: "pin me"})
	s := h.session(t)
	ctx := context.Background()

	require.NoError(t, s.Load(ctx, n.ID))
	s.UpdateContent("typed")
	require.NoError(t, s.TogglePin(ctx))

	upserts := h.store.Upserts()
	require.Len(t, upserts, 1, "pin persists without waiting for the debounce")
	assert.True(t, upserts[0].IsPinned)
	assert.Equal(t, "typed", upserts[0].Content)
	assert.Zero(t, h.clock.Pending(), "pin cancels the pending autosave")

	require.NoError(t, s.TogglePin(ctx))
	upserts = h.store.Upserts()
	require.Len(t, upserts, 2)
	assert.False(t, upserts[1].IsPinned)
}

func TestSession_RoundTrip(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	s := h.session(t)
	s.UpdateTitle("Groceries")
	s.UpdateContent("* milk\n* eggs")
	s.UpdateTags([]string{" errands ", "home", "errands"})
	s.UpdateCategory("Tasks")
	require.NoError(t, s.RequestExit(ctx))

	upserts := h.store.Upserts()
	require.Len(t, upserts, 1)
	saved := s.Draft()
	assert.False(t, saved.IsNewNote)
	assert.False(t, saved.Dirty)
	require.Positive(t, saved.Note.ID)

	other := h.session(t)
	require.NoError(t, other.Load(ctx, saved.Note.ID))
	got := other.Draft()
	assert.False(t, got.IsNewNote)
	assert.Equal(t, "Groceries", got.Note.Title)
	assert.Equal(t, "* milk\n* eggs", got.Note.Content)
	assert.Equal(t, []string{"errands", "home"}, got.Note.Tags)
	assert.Equal(t, "Tasks", got.Note.Category)
	assert.True(t, got.Note.CreationDate.Equal(saved.Note.CreationDate))
	assert.True(t, got.Note.LastEditDate.Equal(saved.Note.LastEditDate))
}

func testSession_RoundTrip(t *rapid.T) {
	h := openHarness(t)
	defer h.close()
	ctx := context.Background()
	s := New(h.store, WithClock(h.clock))
	defer s.Close()

	title := rapid.StringMatching(`[a-zA-Z0-9][a-zA-Z0-9 ]{0,29}`).Draw(t, "title")
	content := rapid.String().Draw(t, "content")
	tagList := rapid.SliceOfN(rapid.StringMatching(`[a-z]{1,6}`), 0, 5).Draw(t, "tags")
	pinned := rapid.Bool().Draw(t, "pinned")

	s.UpdateTitle(title)
	s.UpdateContent(content)
	s.UpdateTags(tagList)
	if pinned {
		if err := s.TogglePin(ctx); err != nil {
			t.Fatalf("pin: %v", err)
		}
	}
	if err := s.RequestExit(ctx); err != nil {
		t.Fatalf("exit: %v", err)
	}
	saved := s.Draft().Note

	loader := New(h.store, WithClock(h.clock))
	defer loader.Close()
	if err := loader.Load(ctx, saved.ID); err != nil {
		t.Fatalf("load: %v", err)
	}
	got := loader.Draft()
	if got.IsNewNote || got.Dirty {
		t.Fatalf("loaded draft state: %+v", got)
	}
	if got.Note.Title != title || got.Note.Content != content || got.Note.IsPinned != pinned {
		t.Fatalf("loaded %+v, saved %+v", got.Note, saved)
	}
	if !notes.SameTagSet(got.Note.Tags, notes.NormalizeTags(tagList)) {
		t.Fatalf("tags %q, want %q", got.Note.Tags, notes.NormalizeTags(tagList))
	}
	if !got.Note.CreationDate.Equal(saved.CreationDate) || !got.Note.LastEditDate.Equal(saved.LastEditDate) {
		t.Fatalf("timestamps %v/%v, want %v/%v", got.Note.CreationDate, got.Note.LastEditDate, saved.CreationDate, saved.LastEditDate)
	}
}

func TestSession_RoundTripProperties(t *testing.T) {
	rapid.Check(t, testSession_RoundTrip)
}

func TestSession_FailureKeepsDraftDirty(t *testing.T) {
	h := newHarness(t)
	n := h.seed(t, notes.Note{Title: "before"})
	s := h.session(t)
	ctx := context.Background()
	require.NoError(t, s.Load(ctx, n.ID))

	boom := errors.New("disk I/O error")
	h.store.FailUpserts(func(notes.Note) error { return boom })

	s.UpdateTitle("after")
	h.clock.Advance(DefaultDebounce)

	d := s.Draft()
	assert.True(t, d.Dirty)
	require.Error(t, d.SaveErr)
	assert.True(t, errs.Is(d.SaveErr, errs.Persistence))
	assert.ErrorIs(t, d.SaveErr, boom)

	err := s.RequestExit(ctx)
	assert.ErrorIs(t, err, boom)
	assert.True(t, s.Draft().Dirty)

	h.store.FailUpserts(nil)
	require.NoError(t, s.RequestExit(ctx))
	d = s.Draft()
	assert.False(t, d.Dirty)
	assert.NoError(t, d.SaveErr)

	got, err := h.store.Get(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, "after", got.Title)
}

func TestSession_FailedInsertStaysNew(t *testing.T) {
	h := newHarness(t)
	s := h.session(t)
	ctx := context.Background()

	h.store.FailUpserts(func(notes.Note) error { return errors.New("locked") })
	s.UpdateTitle("first")
	require.Error(t, s.Save(ctx))
	assert.True(t, s.Draft().IsNewNote)

	h.store.FailUpserts(nil)
	require.NoError(t, s.Save(ctx))
	assert.False(t, s.Draft().IsNewNote)

	list, err := h.store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestSession_LoadMissingIsNotFound(t *testing.T) {
	h := newHarness(t)
	s := h.session(t)

	s.UpdateTitle("keep me")
	err := s.Load(context.Background(), 777)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.NotFound))
	assert.ErrorIs(t, err, notes.ErrNotFound)
	assert.Equal(t, "keep me", s.Draft().Note.Title, "failed load leaves the draft alone")
}

func TestSession_ReloadCancelsPendingAutosave(t *testing.T) {
	h := newHarness(t)
	a := h.seed(t, notes.Note{Title: "A"})
	b := h.seed(t, notes.Note{Title: "B"})
	s := h.session(t)
	ctx := context.Background()

	require.NoError(t, s.Load(ctx, a.ID))
	s.UpdateTitle("A edited")
	require.NoError(t, s.Load(ctx, b.ID))
	h.clock.Advance(2 * DefaultDebounce)

	assert.Zero(t, h.store.UpsertCount())
	assert.Equal(t, "B", s.Draft().Note.Title)
	assert.False(t, s.Draft().Dirty)

	require.NoError(t, s.Load(ctx, notes.NewNoteID))
	assert.True(t, s.Draft().IsNewNote)
}

func TestSession_InsertThenUpdateNoDuplicates(t *testing.T) {
	h := newHarness(t)
	s := h.session(t)
	ctx := context.Background()

	s.UpdateTitle("one")
	h.clock.Advance(DefaultDebounce)
	s.UpdateTitle("two")
	h.clock.Advance(DefaultDebounce)
	require.NoError(t, s.RequestExit(ctx))

	upserts := h.store.Upserts()
	require.Len(t, upserts, 2)
	assert.Zero(t, upserts[0].ID, "first save inserts")
	assert.Equal(t, s.Draft().Note.ID, upserts[1].ID, "second save updates")

	list, err := h.store.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "two", list[0].Title)
}

func TestSession_ConcurrentTriggersCreateOneRow(t *testing.T) {
	h := newHarness(t)
	s := New(h.store, WithDebounce(time.Millisecond))
	t.Cleanup(s.Close)
	ctx := context.Background()

	s.UpdateTitle("racy")
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Save(ctx))
		}()
	}
	wg.Wait()
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, s.RequestExit(ctx))

	list, err := h.store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestSession_BlankCategoryIsNotPermanentlyDirty(t *testing.T) {
	h := newHarness(t)
	n := h.seed(t, notes.Note{Title: "cat", Category: "Work"})
	s := h.session(t)
	ctx := context.Background()
	require.NoError(t, s.Load(ctx, n.ID))

	s.UpdateCategory("  ")
	require.NoError(t, s.Save(ctx))
	upserts := h.store.Upserts()
	require.Len(t, upserts, 1)
	assert.Equal(t, notes.DefaultCategory, upserts[0].Category)

	assert.False(t, s.Draft().Dirty)
	require.NoError(t, s.Save(ctx))
	assert.Len(t, h.store.Upserts(), 1)
}

func TestSession_DeleteNote(t *testing.T) {
	h := newHarness(t)
	n := h.seed(t, notes.Note{Title: "bye"})
	s := h.session(t)
	ctx := context.Background()

	require.NoError(t, s.Load(ctx, n.ID))
	s.UpdateTitle("pending edit")
	require.NoError(t, s.DeleteNote(ctx))
	h.clock.Advance(DefaultDebounce)

	_, err := h.store.Get(ctx, n.ID)
	assert.ErrorIs(t, err, notes.ErrNotFound)
	assert.Zero(t, h.store.UpsertCount(), "pending autosave is dropped")
	assert.True(t, s.Draft().IsNewNote)

	// Deleting a never-saved draft only resets it.
	s.UpdateTitle("scratch")
	require.NoError(t, s.DeleteNote(ctx))
	assert.Len(t, h.store.Deletes(), 1)
	assert.Empty(t, s.Draft().Note.Title)
}

func TestSession_DeleteNoteFailure(t *testing.T) {
	h := newHarness(t)
	n := h.seed(t, notes.Note{Title: "stuck"})
	s := h.session(t)
	ctx := context.Background()
	require.NoError(t, s.Load(ctx, n.ID))

	h.store.FailDeletes(func(notes.Note) error { return errors.New("busy") })
	err := s.DeleteNote(ctx)
	assert.True(t, errs.Is(err, errs.Persistence))
	assert.Equal(t, n.ID, s.Draft().Note.ID)
}

func TestSession_DeleteTagEverywhere(t *testing.T) {
	h := newHarness(t)
	a := h.seed(t, notes.Note{Title: "A", Tags: []string{"x", "y"}})
	b := h.seed(t, notes.Note{Title: "B", Tags: []string{"y"}})
	h.seed(t, notes.Note{Title: "C", Tags: []string{"z"}})
	s := h.session(t, WithFanout(tags.WithConcurrency(1)))
	ctx := context.Background()

	require.NoError(t, s.Load(ctx, a.ID))
	require.NoError(t, s.DeleteTagEverywhere(ctx, "y"))

	upserts := h.store.Upserts()
	require.Len(t, upserts, 2)
	ids := []int64{upserts[0].ID, upserts[1].ID}
	assert.ElementsMatch(t, []int64{a.ID, b.ID}, ids)

	d := s.Draft()
	assert.Equal(t, []string{"x"}, d.Note.Tags)
	assert.False(t, d.Dirty, "draft snapshot follows the fan-out")

	require.NoError(t, s.RequestExit(ctx))
	assert.Len(t, h.store.Upserts(), 2)
}

func TestSession_DeleteTagEverywhereStripsUnsavedDraft(t *testing.T) {
	h := newHarness(t)
	h.seed(t, notes.Note{Title: "other", Tags: []string{"y"}})
	s := h.session(t)
	ctx := context.Background()

	s.UpdateTitle("new")
	s.UpdateTags([]string{"y", "keep"})
	require.NoError(t, s.DeleteTagEverywhere(ctx, "y"))
	assert.Equal(t, []string{"keep"}, s.Draft().Note.Tags)

	h.clock.Advance(DefaultDebounce)
	list, err := h.store.WithTag(ctx, "keep")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, []string{"keep"}, list[0].Tags)
}

func TestSession_DeleteTagEverywherePartialFailure(t *testing.T) {
	h := newHarness(t)
	a := h.seed(t, notes.Note{Title: "A", Tags: []string{"y"}})
	h.seed(t, notes.Note{Title: "B", Tags: []string{"y"}})
	s := h.session(t)

	h.store.FailUpserts(func(n notes.Note) error {
		if n.ID == a.ID {
			return errors.New("nope")
		}
		return nil
	})
	err := s.DeleteTagEverywhere(context.Background(), "y")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.PartialFailure))
	var fe *tags.FanoutError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, []int64{a.ID}, fe.FailedIDs())
}

func TestSession_DeleteTagEverywhereLookupFailureKeepsDraft(t *testing.T) {
	h := newHarness(t)
	n := h.seed(t, notes.Note{Title: "A", Tags: []string{"x", "y"}})
	s := h.session(t)
	ctx := context.Background()

	require.NoError(t, s.Load(ctx, n.ID))
	h.store.FailQueries(errors.New("database is locked"))
	err := s.DeleteTagEverywhere(ctx, "y")
	require.Error(t, err)
	assert.Equal(t, errs.Persistence, errs.CodeOf(err))

	d := s.Draft()
	assert.Equal(t, []string{"x", "y"}, d.Note.Tags, "draft keeps the tag when nothing was removed")
	assert.False(t, d.Dirty)

	h.clock.Advance(DefaultDebounce)
	assert.Zero(t, h.store.UpsertCount(), "no autosave is armed")
}

func TestSession_CloseCancelsAutosave(t *testing.T) {
	h := newHarness(t)
	s := New(h.store, WithClock(h.clock))
	ctx := context.Background()

	s.UpdateTitle("never saved")
	s.Close()
	s.Close()
	h.clock.Advance(DefaultDebounce)
	assert.Zero(t, h.store.UpsertCount())

	err := s.TogglePin(ctx)
	assert.ErrorIs(t, err, ErrClosed)
	assert.True(t, errs.Is(err, errs.Unavailable))
	assert.ErrorIs(t, s.Load(ctx, notes.NewNoteID), ErrClosed)

	s.UpdateTitle("ignored")
	assert.Equal(t, "never saved", s.Draft().Note.Title)
}

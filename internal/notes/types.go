package notes

import (
	"context"
	"errors"
	"time"
)

const (
	// NewNoteID is the id a caller passes to load a fresh, never-saved draft.
	NewNoteID int64 = -1

	// DefaultCategory is stored for notes without an explicit category.
	DefaultCategory = "General"
)

// ErrNotFound is returned when no note exists with the requested id.
var ErrNotFound = errors.New("note not found")

// Note is a persisted note row. ID zero means the store has not assigned one yet.
type Note struct {
	ID           int64     `json:"id"`
	Title        string    `json:"title"`
	Content      string    `json:"content"`
	Tags         []string  `json:"tags"`
	Category     string    `json:"category"`
	IsPinned     bool      `json:"is_pinned"`
	CreationDate time.Time `json:"creation_date"`
	LastEditDate time.Time `json:"last_edit_date"`
}

// Clone returns a copy that does not share the tag slice.
func (n Note) Clone() Note {
	n.Tags = append([]string(nil), n.Tags...)
	return n
}

// IsPersisted reports whether the store has assigned an id.
func (n Note) IsPersisted() bool {
	return n.ID > 0
}

// Writer persists notes.
type Writer interface {
	// Upsert inserts when the note is not persisted yet, otherwise it
	// replaces the row with the same id. It returns the row id.
	Upsert(ctx context.Context, note Note) (int64, error)
	Delete(ctx context.Context, note Note) error
}

// Reader performs one-shot reads.
type Reader interface {
	// Get returns ErrNotFound if the id does not exist.
	Get(ctx context.Context, id int64) (Note, error)
	// List returns every note, most recently edited first.
	List(ctx context.Context) ([]Note, error)
	// WithTag returns every note whose tag list contains tag exactly.
	WithTag(ctx context.Context, tag string) ([]Note, error)
}

// Observer exposes live views of the note collection. Every channel first
// delivers the current value, then a fresh value after each change (bursts
// may coalesce into one), and is closed once ctx is done.
type Observer interface {
	ObserveAll(ctx context.Context) <-chan []Note
	// ObserveByID emits nil while no note with id exists.
	ObserveByID(ctx context.Context, id int64) <-chan *Note
	// ObserveMostRecentlyCreated emits the row with the highest id, or nil.
	ObserveMostRecentlyCreated(ctx context.Context) <-chan *Note
}

// Store is the persistence collaborator consumed by the editing session and
// the tag registry.
type Store interface {
	Writer
	Reader
	Observer
}

package db

// Schema creates the notes table. Timestamps are unix milliseconds and tags
// are a JSON array of strings.
const Schema = `
CREATE TABLE IF NOT EXISTS notes (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    title TEXT NOT NULL DEFAULT '',
    content TEXT NOT NULL DEFAULT '',
    tags TEXT NOT NULL DEFAULT '[]',
    category TEXT NOT NULL DEFAULT 'General',
    is_pinned INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_notes_updated_at ON notes(updated_at DESC);
CREATE INDEX IF NOT EXISTS idx_notes_created_at ON notes(created_at DESC);
`

// Migrations contains idempotent ALTER TABLE statements for databases created
// before a column existed. Duplicate column errors are ignored.
const Migrations = `
ALTER TABLE notes ADD COLUMN category TEXT NOT NULL DEFAULT 'General';
ALTER TABLE notes ADD COLUMN is_pinned INTEGER NOT NULL DEFAULT 0;
ALTER TABLE notes ADD COLUMN tags TEXT NOT NULL DEFAULT '[]';
`

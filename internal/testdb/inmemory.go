// Package testdb builds stores for tests: a private in-memory SQLite store
// and a wrapper that records writes and injects failures.
package testdb

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kuitang/glyphnotes/internal/db"
)

// NewStore opens an empty, unseeded in-memory store.
func NewStore() (*db.Store, error) {
	s, err := db.Open(context.Background(), db.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory store: %w", err)
	}
	if err := applyFastSQLitePragmas(s.DB()); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to apply fast SQLite pragmas: %w", err)
	}
	return s, nil
}

func applyFastSQLitePragmas(sqlDB *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=MEMORY",
		"PRAGMA synchronous=OFF",
		"PRAGMA temp_store=MEMORY",
		"PRAGMA secure_delete=OFF",
	}
	for _, pragma := range pragmas {
		if _, err := sqlDB.Exec(pragma); err != nil {
			return err
		}
	}
	return nil
}

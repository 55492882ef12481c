package db

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kuitang/glyphnotes/internal/notes"
)

//go:embed seed.yaml
var seedYAML []byte

type seedNote struct {
	Title    string   `yaml:"title"`
	Content  string   `yaml:"content"`
	Tags     []string `yaml:"tags"`
	Category string   `yaml:"category"`
	Pinned   bool     `yaml:"pinned"`
}

// SeedNotes returns the welcome notes stamped with now.
func SeedNotes(now time.Time) ([]notes.Note, error) {
	var raw []seedNote
	if err := yaml.Unmarshal(seedYAML, &raw); err != nil {
		return nil, fmt.Errorf("parse seed notes: %w", err)
	}
	out := make([]notes.Note, 0, len(raw))
	for _, r := range raw {
		out = append(out, notes.Note{
			Title:        r.Title,
			Content:      r.Content,
			Tags:         notes.NormalizeTags(r.Tags),
			Category:     notes.CategoryOrDefault(r.Category),
			IsPinned:     r.Pinned,
			CreationDate: now,
			LastEditDate: now,
		})
	}
	return out, nil
}

func (s *Store) seed(ctx context.Context) error {
	seeds, err := SeedNotes(time.Now().UTC().Truncate(time.Millisecond))
	if err != nil {
		return err
	}
	for _, n := range seeds {
		if _, err := s.Upsert(ctx, n); err != nil {
			return fmt.Errorf("seed note %q: %w", n.Title, err)
		}
	}
	s.log.Info("seeded welcome notes", "count", len(seeds))
	return nil
}

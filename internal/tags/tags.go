// Package tags derives the global tag list from the note collection and
// implements destructive tag edits that fan out across every note.
package tags

import (
	"slices"
	"strings"

	"github.com/kuitang/glyphnotes/internal/notes"
)

// AllTags returns the distinct non-blank tags across list, sorted by byte
// order. Comparison is case-sensitive, so "Home" and "home" are both kept.
func AllTags(list []notes.Note) []string {
	seen := make(map[string]struct{})
	for _, n := range list {
		for _, tag := range n.Tags {
			if notes.IsBlank(tag) {
				continue
			}
			seen[tag] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for tag := range seen {
		out = append(out, tag)
	}
	slices.Sort(out)
	return out
}

// Filter returns the tags containing query, case-insensitively, keeping the
// input order. An empty query returns all tags.
func Filter(all []string, query string) []string {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return slices.Clone(all)
	}
	out := make([]string, 0, len(all))
	for _, tag := range all {
		if strings.Contains(strings.ToLower(tag), query) {
			out = append(out, tag)
		}
	}
	return out
}

// Package notes holds the note entity and the pure helpers shared by the
// editing session, the tag registry and the store: tag normalization,
// dirty-check equality, list ordering and caller-side filtering.
package notes

import (
	"slices"
	"strings"
)

// CategoryOrDefault returns DefaultCategory for a blank category.
func CategoryOrDefault(category string) string {
	if strings.TrimSpace(category) == "" {
		return DefaultCategory
	}
	return category
}

// IsBlank reports whether s is empty or whitespace only.
func IsBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}

// NormalizeTags trims every tag, drops blank ones and removes duplicates
// while keeping the first occurrence. Comparison is case-sensitive.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}

// HasTag reports whether tags contains tag exactly.
func HasTag(tags []string, tag string) bool {
	return slices.Contains(tags, tag)
}

// RemoveTag returns tags without any occurrence of tag.
func RemoveTag(tags []string, tag string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t != tag {
			out = append(out, t)
		}
	}
	return out
}

// SameTagSet compares two tag lists ignoring order and duplicates.
func SameTagSet(a, b []string) bool {
	setA := make(map[string]struct{}, len(a))
	for _, t := range a {
		setA[t] = struct{}{}
	}
	setB := make(map[string]struct{}, len(b))
	for _, t := range b {
		if _, ok := setA[t]; !ok {
			return false
		}
		setB[t] = struct{}{}
	}
	return len(setA) == len(setB)
}

// SameContent is the dirty-check equality: title, content, category, pin
// state and tag set. Ids and timestamps are write-time metadata and ignored.
func SameContent(a, b Note) bool {
	return a.Title == b.Title &&
		a.Content == b.Content &&
		a.Category == b.Category &&
		a.IsPinned == b.IsPinned &&
		SameTagSet(a.Tags, b.Tags)
}

// SortByLastEdit orders notes most recently edited first, newest id on ties.
func SortByLastEdit(list []Note) {
	slices.SortStableFunc(list, func(a, b Note) int {
		if c := b.LastEditDate.Compare(a.LastEditDate); c != 0 {
			return c
		}
		return compareIDDesc(a, b)
	})
}

// SortByCreation orders notes most recently created first, newest id on ties.
func SortByCreation(list []Note) {
	slices.SortStableFunc(list, func(a, b Note) int {
		if c := b.CreationDate.Compare(a.CreationDate); c != 0 {
			return c
		}
		return compareIDDesc(a, b)
	})
}

func compareIDDesc(a, b Note) int {
	switch {
	case a.ID > b.ID:
		return -1
	case a.ID < b.ID:
		return 1
	default:
		return 0
	}
}

// Pinned returns the pinned notes in their original order.
func Pinned(list []Note) []Note {
	out := make([]Note, 0, len(list))
	for _, n := range list {
		if n.IsPinned {
			out = append(out, n)
		}
	}
	return out
}

// Match reports whether query occurs, case-insensitively, in the title,
// the content or any tag. An empty query matches everything.
func Match(note Note, query string) bool {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return true
	}
	if strings.Contains(strings.ToLower(note.Title), query) ||
		strings.Contains(strings.ToLower(note.Content), query) {
		return true
	}
	for _, tag := range note.Tags {
		if strings.Contains(strings.ToLower(tag), query) {
			return true
		}
	}
	return false
}

// Filter returns the notes matching query in their original order.
func Filter(list []Note, query string) []Note {
	out := make([]Note, 0, len(list))
	for _, n := range list {
		if Match(n, query) {
			out = append(out, n)
		}
	}
	return out
}

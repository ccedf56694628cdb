package domain

import (
	"sort"
	"time"
)

// ListingItem is one discovered article reference. ID is unique within a source.
type ListingItem struct {
	ID         string
	Title      string
	ContentURL string
	CreatedAt  time.Time
	Digest     string
	Source     string
	Tags       []string
}

// Account identifies a source: its display name and the upstream id used to list it.
type Account struct {
	ID   string
	Name string
}

// CoverageState is the single contiguous interval already synchronized for a source.
type CoverageState struct {
	Source  string
	Covered Interval
}

// ItemTable holds a source's discovered items, newest first, without duplicate IDs.
type ItemTable struct {
	rows  []ListingItem
	index map[string]struct{}
}

func NewItemTable(rows ...ListingItem) *ItemTable {
	t := &ItemTable{index: make(map[string]struct{}, len(rows))}
	t.Merge(rows)
	return t
}

// Merge appends items not yet present (first occurrence wins) and re-sorts the
// whole table by CreatedAt descending. It returns the number of rows added.
func (t *ItemTable) Merge(items []ListingItem) int {
	if t.index == nil {
		t.index = make(map[string]struct{}, len(items))
	}

	added := 0
	for _, it := range items {
		if _, ok := t.index[it.ID]; ok {
			continue
		}
		t.index[it.ID] = struct{}{}
		t.rows = append(t.rows, it)
		added++
	}

	sort.SliceStable(t.rows, func(i, j int) bool {
		return t.rows[i].CreatedAt.After(t.rows[j].CreatedAt)
	})
	return added
}

func (t *ItemTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.rows)
}

// Rows returns a copy of the table rows.
func (t *ItemTable) Rows() []ListingItem {
	if t == nil {
		return nil
	}
	out := make([]ListingItem, len(t.rows))
	copy(out, t.rows)
	return out
}

// Filter returns the rows whose CreatedAt falls in window, inclusive on both ends.
func (t *ItemTable) Filter(window Interval) []ListingItem {
	var out []ListingItem
	for _, r := range t.Rows() {
		if window.Contains(r.CreatedAt) {
			out = append(out, r)
		}
	}
	return out
}

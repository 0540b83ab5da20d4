// Package priority decides which media session is the most relevant one to show.
//
// Sort returns entries in ascending display rank: the LAST element is the one
// the overlay shows on top. Callers index from the end.
package priority

import (
	"cmp"
	"maps"
	"math"
	"slices"
	"strings"
)

// Entry is anything that can be ranked against a source priority list.
// Sessions satisfy it, and so does any other record shape carrying the same
// three attributes.
type Entry interface {
	PrioritySource() string
	IsPlaying() bool
	Recency() int64
}

// Unlisted is the rank of a source that does not appear in the priority list
const Unlisted = math.MaxInt

// Rank returns the byte offset of source inside priorityList, matched
// case-insensitively as a raw substring. A source that is empty or absent from
// the list ranks Unlisted.
//
// The list is not split into lines: "spotify" matches inside
// "spotifyab.spotifymusic_...!spotify", and "bar" matches inside "foobar".
func Rank(source, priorityList string) int {
	if source == "" {
		return Unlisted
	}
	idx := strings.Index(strings.ToLower(priorityList), strings.ToLower(source))
	if idx < 0 {
		return Unlisted
	}
	return idx
}

type ranked[V any] struct {
	value   V
	rank    int
	recency int64
	playing bool
	seq     int
}

// Sort orders entries for display. Keys only fix the initial order so the
// result never depends on map iteration.
//
// The order, first to last:
//   - Playing entries come first, the rest after them.
//   - Outside the playing group, unlisted sources come first, then listed ones
//     from the bottom of the list to the top; equal ranks go oldest to newest.
//     The last element is therefore the preferred source, or the most recently
//     updated one when the list does not decide.
//   - Inside the playing group the same order runs in reverse.
//   - Full ties keep key order in both groups.
func Sort[K cmp.Ordered, V Entry](entries map[K]V, priorityList string) []V {
	if len(entries) == 0 {
		return []V{}
	}

	items := make([]ranked[V], 0, len(entries))
	for i, key := range slices.Sorted(maps.Keys(entries)) {
		v := entries[key]
		items = append(items, ranked[V]{
			value:   v,
			rank:    Rank(v.PrioritySource(), priorityList),
			recency: v.Recency(),
			playing: v.IsPlaying(),
			seq:     i,
		})
	}

	slices.SortStableFunc(items, compare[V])

	out := make([]V, len(items))
	for i, item := range items {
		out[i] = item.value
	}
	return out
}

// compare composes (playing, rank, recency) into one comparator
func compare[V any](a, b ranked[V]) int {
	if a.playing != b.playing {
		if a.playing {
			return -1
		}
		return 1
	}

	c := cmp.Or(
		cmp.Compare(b.rank, a.rank),
		cmp.Compare(a.recency, b.recency),
	)
	if a.playing {
		c = -c
	}
	return cmp.Or(c, cmp.Compare(a.seq, b.seq))
}

// Top returns the entry to display from a sorted slice
func Top[V any](sorted []V) (V, bool) {
	var zero V
	if len(sorted) == 0 {
		return zero, false
	}
	return sorted[len(sorted)-1], true
}

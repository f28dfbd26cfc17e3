// Package playlist holds the ordered track list and resolves next/previous
// indices under shuffle and repeat.
package playlist

import (
	"cmp"
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"
	"time"
)

// RepeatMode controls what happens at the ends of the list.
type RepeatMode int

const (
	RepeatOff RepeatMode = iota
	RepeatOne
	RepeatAll
)

func (r RepeatMode) String() string {
	switch r {
	case RepeatOne:
		return "One"
	case RepeatAll:
		return "All"
	default:
		return "Off"
	}
}

// Next cycles Off -> One -> All -> Off.
func (r RepeatMode) Next() RepeatMode {
	switch r {
	case RepeatOff:
		return RepeatOne
	case RepeatOne:
		return RepeatAll
	default:
		return RepeatOff
	}
}

// ParseRepeat accepts off, one or all in any case.
func ParseRepeat(s string) (RepeatMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "off":
		return RepeatOff, nil
	case "one":
		return RepeatOne, nil
	case "all":
		return RepeatAll, nil
	}
	return RepeatOff, fmt.Errorf("playlist: unknown repeat mode %q", s)
}

// SortMode selects the Sort key.
type SortMode int

const (
	SortName SortMode = iota
	SortDate
	SortSize
)

func (s SortMode) String() string {
	switch s {
	case SortDate:
		return "date"
	case SortSize:
		return "size"
	default:
		return "name"
	}
}

// ParseSort accepts name, date or size in any case.
func ParseSort(s string) (SortMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "name":
		return SortName, nil
	case "date":
		return SortDate, nil
	case "size":
		return SortSize, nil
	}
	return SortName, fmt.Errorf("playlist: unknown sort mode %q", s)
}

// TrackEntry is one playable file. Path is its identity.
type TrackEntry struct {
	DisplayName string
	Path        string
	Size        uint64
	Modified    time.Time
}

// Playlist is an ordered list with a current (playing) and a selected
// (highlighted) cursor, each -1 or a valid index. It is not safe for
// concurrent use.
type Playlist struct {
	items    []TrackEntry
	current  int
	selected int
	intn     func(n int) int
}

// New returns an empty playlist.
func New() *Playlist {
	return &Playlist{current: -1, selected: -1, intn: rand.IntN}
}

// SetRand replaces the random source used by shuffle. intn must return a
// value in [0, n).
func (p *Playlist) SetRand(intn func(n int) int) { p.intn = intn }

// Clear removes every entry and resets both cursors.
func (p *Playlist) Clear() {
	p.items = nil
	p.current = -1
	p.selected = -1
}

// Add appends e. The first entry added becomes selected.
func (p *Playlist) Add(e ...TrackEntry) {
	p.items = append(p.items, e...)
	if p.selected < 0 && len(p.items) > 0 {
		p.selected = 0
	}
}

// SetItems replaces the list and points both cursors at the first entry.
func (p *Playlist) SetItems(items []TrackEntry) {
	p.items = items
	p.current = -1
	if len(items) > 0 {
		p.current = 0
	}
	p.selected = p.current
}

// Items returns the backing slice. Callers must not modify it.
func (p *Playlist) Items() []TrackEntry { return p.items }

func (p *Playlist) Len() int { return len(p.items) }

// At returns entry i.
func (p *Playlist) At(i int) (TrackEntry, bool) {
	if i < 0 || i >= len(p.items) {
		return TrackEntry{}, false
	}
	return p.items[i], true
}

func (p *Playlist) Current() int  { return p.current }
func (p *Playlist) Selected() int { return p.selected }

// SetCurrent sets the current cursor; out-of-range values become -1.
func (p *Playlist) SetCurrent(i int) { p.current = p.valid(i) }

// SetSelected sets the selected cursor; out-of-range values become -1.
func (p *Playlist) SetSelected(i int) { p.selected = p.valid(i) }

func (p *Playlist) valid(i int) int {
	if i < 0 || i >= len(p.items) {
		return -1
	}
	return i
}

// NextIndex returns the entry to play after current, or -1 for none.
// RepeatOne overrides shuffle.
func (p *Playlist) NextIndex(repeat RepeatMode, shuffle bool) int {
	if len(p.items) == 0 {
		return -1
	}
	if repeat == RepeatOne && p.current >= 0 {
		return p.current
	}
	if shuffle {
		return p.RandomIndex(p.current)
	}
	next := p.current + 1
	if next >= len(p.items) {
		if repeat == RepeatAll {
			return 0
		}
		return -1
	}
	return next
}

// PrevIndex returns the entry before current, or -1 for none.
func (p *Playlist) PrevIndex(repeat RepeatMode) int {
	if len(p.items) == 0 {
		return -1
	}
	if repeat == RepeatOne && p.current >= 0 {
		return p.current
	}
	prev := p.current - 1
	if prev < 0 {
		if repeat == RepeatAll {
			return len(p.items) - 1
		}
		return -1
	}
	return prev
}

// RandomIndex picks uniformly among every index except exclude. A single
// entry list returns 0.
func (p *Playlist) RandomIndex(exclude int) int {
	switch len(p.items) {
	case 0:
		return -1
	case 1:
		return 0
	}
	if exclude < 0 || exclude >= len(p.items) {
		return p.intn(len(p.items))
	}
	// Draw from n-1 slots and skip over exclude.
	pick := p.intn(len(p.items) - 1)
	if pick >= exclude {
		pick++
	}
	return pick
}

// FindIndexByPath returns the index of the entry at path, or -1.
func (p *Playlist) FindIndexByPath(path string) int {
	return slices.IndexFunc(p.items, func(e TrackEntry) bool { return e.Path == path })
}

// Sort reorders the entries. Cursors keep their numeric values.
func (p *Playlist) Sort(mode SortMode) {
	var key func(a, b TrackEntry) int
	switch mode {
	case SortDate:
		key = func(a, b TrackEntry) int { return a.Modified.Compare(b.Modified) }
	case SortSize:
		key = func(a, b TrackEntry) int { return cmp.Compare(a.Size, b.Size) }
	default:
		key = func(a, b TrackEntry) int { return strings.Compare(a.DisplayName, b.DisplayName) }
	}
	slices.SortStableFunc(p.items, func(a, b TrackEntry) int {
		if c := key(a, b); c != 0 {
			return c
		}
		return strings.Compare(a.Path, b.Path)
	})
}

// Filter returns the backing indices of entries whose display name
// contains query, ignoring case. An empty query matches everything.
func (p *Playlist) Filter(query string) []int {
	q := strings.ToLower(strings.TrimSpace(query))
	out := make([]int, 0, len(p.items))
	for i, e := range p.items {
		if q == "" || strings.Contains(strings.ToLower(e.DisplayName), q) {
			out = append(out, i)
		}
	}
	return out
}

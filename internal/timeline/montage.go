package timeline

import "time"

// RepeatFoldThreshold is the minimum length of a trailing repeat loop.
// A shorter tail is folded into the previous loop instead of flashing the
// asset for a sub-threshold interval.
const RepeatFoldThreshold = 2 * time.Second

// Item places one Artwork (or a bare shape overlay) on a track at a given
// offset.
type Item struct {
	// Artwork is the asset played by this item. Nil means a bare shape
	// overlay with no media body.
	Artwork *Artwork

	// Offset is the item's start offset within its track.
	Offset time.Duration

	// Duration is the per-loop playback duration.
	Duration time.Duration

	// Repeat is how many times the item loops. Values below 1 mean 1.
	Repeat int

	// LastRepeatDuration is the length of the final loop when it differs
	// from Duration. Zero means the final loop is a full Duration.
	LastRepeatDuration time.Duration
}

// NewItem constructs an Item and folds a sub-threshold trailing loop into
// the previous one: with repeat > 1 and a final loop shorter than
// RepeatFoldThreshold, the tail is absorbed and repeat decremented.
func NewItem(artwork *Artwork, offset, duration time.Duration, repeat int, lastRepeat time.Duration) Item {
	if repeat < 1 {
		repeat = 1
	}

	if repeat > 1 && lastRepeat > 0 && lastRepeat < RepeatFoldThreshold {
		repeat--
		lastRepeat += duration
	}

	return Item{
		Artwork:            artwork,
		Offset:             offset,
		Duration:           duration,
		Repeat:             repeat,
		LastRepeatDuration: lastRepeat,
	}
}

// LoopDuration returns the duration of loop index i (0-based).
func (it Item) LoopDuration(i int) time.Duration {
	if i == it.Repeat-1 && it.LastRepeatDuration > 0 {
		return it.LastRepeatDuration
	}
	return it.Duration
}

// TotalDuration returns the duration across all loops.
func (it Item) TotalDuration() time.Duration {
	total := time.Duration(0)
	for i := 0; i < it.Repeat; i++ {
		total += it.LoopDuration(i)
	}
	return total
}

// Track is an ordered sequence of items, optionally bound to specific
// output screens.
type Track struct {
	// Items are ordered by offset within the track.
	Items []Item

	// Screens lists output identities this track is bound to. Empty means
	// no affinity.
	Screens []string
}

// HasScreen reports whether the track's affinity list contains screen.
func (t Track) HasScreen(screen string) bool {
	for _, s := range t.Screens {
		if s == screen {
			return true
		}
	}
	return false
}

// Duration returns the total playable duration of the track.
func (t Track) Duration() time.Duration {
	total := time.Duration(0)
	for _, it := range t.Items {
		total += it.TotalDuration()
	}
	return total
}

// Montage is a named ordered sequence of tracks plus optional per-screen
// track affinity.
type Montage struct {
	// ID is the globally stable montage identity.
	ID int64

	// Name is the display name.
	Name string

	// Tracks are the montage's ordered tracks.
	Tracks []Track

	// ScreenTracks maps an output identity to a preferred track index.
	// This is the montage's own affinity data, distinct from any external
	// screen reference consulted by the resolver.
	ScreenTracks map[string]int
}

// TrackAt returns the track at index i, or false when out of range.
// Out-of-range lookups are reported rather than clamped so callers can
// detect structural inconsistencies instead of playing the wrong content.
func (m *Montage) TrackAt(i int) (Track, bool) {
	if m == nil || i < 0 || i >= len(m.Tracks) {
		return Track{}, false
	}
	return m.Tracks[i], true
}

// Playlist is an ordered sequence of montage references. It owns no montage
// bodies; those live in the shared Cache keyed by montage ID, which allows
// partial loading and reuse across playlists.
type Playlist struct {
	// ID is the playlist identity. Playlist change detection compares IDs.
	ID int64

	// Name is the display name.
	Name string

	// MontageIDs are the referenced montages in play order.
	MontageIDs []int64

	// Loop wraps playback to montage 0 after the final montage.
	Loop bool

	// Random requests shuffled montage order.
	Random bool
}

// Len returns the number of montage references.
func (p *Playlist) Len() int {
	if p == nil {
		return 0
	}
	return len(p.MontageIDs)
}

package timeline

import "time"

// Cursor is an immutable playback position. A fresh value is produced on
// every transition and discarded afterward; nothing mutates a Cursor in
// place.
type Cursor struct {
	// Playlist is the active playlist, or nil in default ambient mode.
	Playlist *Playlist

	// MontageIndex addresses a montage within the playlist (or the
	// ambient order when Playlist is nil).
	MontageIndex int

	// TrackIndex addresses a track within the montage.
	TrackIndex int

	// ItemIndex addresses an item within the track.
	ItemIndex int

	// LoopIndex is the current repeat loop of the item.
	LoopIndex int

	// GlobalOffset is elapsed playback time across the whole timeline.
	GlobalOffset time.Duration

	// MediaOffset is elapsed time within the current media asset.
	MediaOffset time.Duration

	// Duration is the resolved duration of the current item loop.
	Duration time.Duration
}

// NewCursor returns a cursor at item 0, loop 0 of the given position with
// zeroed offsets.
func NewCursor(playlist *Playlist, montageIndex, trackIndex int) Cursor {
	return Cursor{
		Playlist:     playlist,
		MontageIndex: montageIndex,
		TrackIndex:   trackIndex,
	}
}

// Seek returns a cursor advanced by delta. With reset false both offsets
// move together; with reset true the media offset is zeroed independently
// of the global offset, which still accumulates delta. The two behaviors
// are distinguished by the explicit flag rather than the delta's magnitude.
func (c Cursor) Seek(delta time.Duration, reset bool) Cursor {
	next := c
	next.GlobalOffset += delta
	if next.GlobalOffset < 0 {
		next.GlobalOffset = 0
	}

	if reset {
		next.MediaOffset = 0
		return next
	}

	next.MediaOffset += delta
	if next.MediaOffset < 0 {
		next.MediaOffset = 0
	}
	return next
}

// WithDuration returns a copy carrying the resolved item-loop duration.
func (c Cursor) WithDuration(d time.Duration) Cursor {
	c.Duration = d
	return c
}

// SamePosition reports whether two cursors address the same timeline slot,
// ignoring offsets and duration.
func (c Cursor) SamePosition(o Cursor) bool {
	return c.MontageIndex == o.MontageIndex &&
		c.TrackIndex == o.TrackIndex &&
		c.ItemIndex == o.ItemIndex &&
		c.LoopIndex == o.LoopIndex &&
		playlistID(c.Playlist) == playlistID(o.Playlist)
}

// playlistID returns the playlist identity, or 0 for ambient mode.
func playlistID(p *Playlist) int64 {
	if p == nil {
		return 0
	}
	return p.ID
}

// OverrideMap records explicit track choices per montage index. It is
// consulted before any other track-resolution rule and cleared only on
// playlist change. The sequencer owns the map and is the only mutator.
type OverrideMap map[int]int

// NewOverrideMap creates an empty override map.
func NewOverrideMap() OverrideMap {
	return make(OverrideMap)
}

// Set records a track override for a montage index.
func (o OverrideMap) Set(montageIndex, trackIndex int) {
	o[montageIndex] = trackIndex
}

// Get returns the override for a montage index, or false when unset.
func (o OverrideMap) Get(montageIndex int) (int, bool) {
	t, ok := o[montageIndex]
	return t, ok
}

// Clear removes every recorded override.
func (o OverrideMap) Clear() {
	for k := range o {
		delete(o, k)
	}
}

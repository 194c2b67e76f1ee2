package timeline

import "time"

// ScreenRefFunc returns the preferred track index for a montage from the
// active output's external reference data. ok is false when the output has
// no recorded preference for that montage.
type ScreenRefFunc func(montageID int64) (trackIndex int, ok bool)

// Resolver answers position queries over the montage cache for one output.
// All methods are deterministic and total: an index outside bounds yields a
// "not found" result, never a panic and never a clamped substitute.
type Resolver struct {
	cache     *Cache
	screenID  string
	screenRef ScreenRefFunc
}

// NewResolver creates a resolver for the given cache and output identity.
// screenRef may be nil when no external screen reference data exists.
func NewResolver(cache *Cache, screenID string, screenRef ScreenRefFunc) *Resolver {
	return &Resolver{cache: cache, screenID: screenID, screenRef: screenRef}
}

// MontageAt resolves the montage at index within the playlist (or the
// ambient order when playlist is nil).
func (r *Resolver) MontageAt(playlist *Playlist, index int) (*Montage, bool) {
	id, ok := r.cache.MontageIDAt(playlist, index)
	if !ok {
		return nil, false
	}
	return r.cache.Get(id)
}

// ResolveTrack selects the track index to play for a montage.
// Precedence, first match wins:
//
//  1. an explicit navigation-supplied track index, if in range
//  2. a track whose screen-affinity list contains this output
//  3. the montage's per-screen track map entry for this output, if in range
//  4. a track index from the output's external reference data, if in range
//  5. fallback index 0
//
// A montage with no tracks resolves to no track at all.
func (r *Resolver) ResolveTrack(m *Montage, explicit *int) (int, bool) {
	if m == nil || len(m.Tracks) == 0 {
		return 0, false
	}

	if explicit != nil && *explicit >= 0 && *explicit < len(m.Tracks) {
		return *explicit, true
	}

	if r.screenID != "" {
		for i, track := range m.Tracks {
			if track.HasScreen(r.screenID) {
				return i, true
			}
		}
		if idx, ok := m.ScreenTracks[r.screenID]; ok && idx >= 0 && idx < len(m.Tracks) {
			return idx, true
		}
	}

	if r.screenRef != nil {
		if idx, ok := r.screenRef(m.ID); ok && idx >= 0 && idx < len(m.Tracks) {
			return idx, true
		}
	}

	return 0, true
}

// ResolveItem resolves the item addressed by the cursor. It is total:
// any out-of-range index yields false rather than an error or panic.
func (r *Resolver) ResolveItem(c Cursor) (Item, bool) {
	m, ok := r.MontageAt(c.Playlist, c.MontageIndex)
	if !ok {
		return Item{}, false
	}
	track, ok := m.TrackAt(c.TrackIndex)
	if !ok {
		return Item{}, false
	}
	if c.ItemIndex < 0 || c.ItemIndex >= len(track.Items) {
		return Item{}, false
	}
	return track.Items[c.ItemIndex], true
}

// ItemDuration returns the playback duration for the cursor's current loop
// of an item. An artwork's intrinsic duration takes precedence over the
// item's own duration when present.
func (r *Resolver) ItemDuration(c Cursor, it Item) time.Duration {
	if it.Artwork != nil && it.Artwork.Duration > 0 {
		return it.Artwork.Duration
	}
	return it.LoopDuration(c.LoopIndex)
}

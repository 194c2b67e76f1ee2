package timeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMontage() *Montage {
	return &Montage{
		ID: 1,
		Tracks: []Track{
			{Items: []Item{NewItem(nil, 0, 10*time.Second, 1, 0)}},
			{Screens: []string{"lobby"}, Items: []Item{NewItem(nil, 0, 8*time.Second, 1, 0)}},
			{Items: []Item{NewItem(nil, 0, 6*time.Second, 1, 0)}},
		},
		ScreenTracks: map[string]int{"atrium": 2},
	}
}

func intPtr(i int) *int { return &i }

func TestResolveTrackPrecedence(t *testing.T) {
	m := testMontage()

	tests := []struct {
		name      string
		screenID  string
		screenRef ScreenRefFunc
		explicit  *int
		wantIdx   int
		wantOK    bool
	}{
		{"explicit override wins", "lobby", nil, intPtr(2), 2, true},
		{"out-of-range override is ignored", "lobby", nil, intPtr(9), 1, true},
		{"negative override is ignored", "", nil, intPtr(-1), 0, true},
		{"screen affinity list", "lobby", nil, nil, 1, true},
		{"montage screen map", "atrium", nil, nil, 2, true},
		{"external reference data", "unknown", func(int64) (int, bool) { return 1, true }, nil, 1, true},
		{"out-of-range external reference falls through", "unknown", func(int64) (int, bool) { return 9, true }, nil, 0, true},
		{"fallback to zero", "unknown", nil, nil, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewResolver(NewCache(), tt.screenID, tt.screenRef)
			idx, ok := r.ResolveTrack(m, tt.explicit)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantIdx, idx)
		})
	}
}

func TestResolveTrackEmptyMontage(t *testing.T) {
	r := NewResolver(NewCache(), "lobby", nil)

	_, ok := r.ResolveTrack(&Montage{ID: 1}, nil)
	assert.False(t, ok)

	_, ok = r.ResolveTrack(nil, nil)
	assert.False(t, ok)
}

func TestResolveItemTotality(t *testing.T) {
	cache := NewCache()
	cache.Put(testMontage())
	playlist := &Playlist{ID: 1, MontageIDs: []int64{1}}
	r := NewResolver(cache, "", nil)

	tests := []struct {
		name   string
		cursor Cursor
		wantOK bool
	}{
		{"valid position", Cursor{Playlist: playlist}, true},
		{"montage out of range", Cursor{Playlist: playlist, MontageIndex: 3}, false},
		{"negative montage", Cursor{Playlist: playlist, MontageIndex: -1}, false},
		{"track out of range", Cursor{Playlist: playlist, TrackIndex: 5}, false},
		{"item out of range", Cursor{Playlist: playlist, ItemIndex: 2}, false},
		{"negative item", Cursor{Playlist: playlist, ItemIndex: -1}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := r.ResolveItem(tt.cursor)
			assert.Equal(t, tt.wantOK, ok)
		})
	}
}

func TestResolveItemAmbientMode(t *testing.T) {
	cache := NewCache()
	cache.Put(testMontage())
	cache.SetAmbientOrder([]int64{1})
	r := NewResolver(cache, "", nil)

	it, ok := r.ResolveItem(Cursor{Playlist: nil})
	require.True(t, ok)
	assert.Equal(t, 10*time.Second, it.Duration)
}

func TestItemDuration(t *testing.T) {
	r := NewResolver(NewCache(), "", nil)

	intrinsic := NewArtwork(9, KindVideo, "http://example.com/v.mp4", "", "v.mp4", 74*time.Second)
	withArtwork := NewItem(&intrinsic, 0, 30*time.Second, 1, 0)
	assert.Equal(t, 74*time.Second, r.ItemDuration(Cursor{}, withArtwork))

	unknown := NewArtwork(10, KindImage, "http://example.com/i.png", "", "i.png", 0)
	noIntrinsic := NewItem(&unknown, 0, 30*time.Second, 1, 0)
	assert.Equal(t, 30*time.Second, r.ItemDuration(Cursor{}, noIntrinsic))

	bare := NewItem(nil, 0, 15*time.Second, 2, 5*time.Second)
	assert.Equal(t, 15*time.Second, r.ItemDuration(Cursor{LoopIndex: 0}, bare))
	assert.Equal(t, 5*time.Second, r.ItemDuration(Cursor{LoopIndex: 1}, bare))
}

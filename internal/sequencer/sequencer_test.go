package sequencer

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wallplay/wallplay/internal/timeline"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakePresenter records everything the sequencer asks of the slots.
type fakePresenter struct {
	mu       sync.Mutex
	shows    []int64
	preloads []int64
	pauses   int
	resumes  int
	resets   int
	seeks    []time.Duration
	showing  bool
}

func (p *fakePresenter) Preload(ctx context.Context, art timeline.Artwork) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.preloads = append(p.preloads, art.ID)
	return nil
}

func (p *fakePresenter) Show(ctx context.Context, art timeline.Artwork) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.shows = append(p.shows, art.ID)
	p.showing = true
	return nil
}

func (p *fakePresenter) Pause(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pauses++
	return nil
}

func (p *fakePresenter) Resume(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resumes++
	return nil
}

func (p *fakePresenter) SetVolume(ctx context.Context, v float64) error { return nil }

func (p *fakePresenter) Seek(ctx context.Context, o time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seeks = append(p.seeks, o)
	return nil
}

func (p *fakePresenter) Reset(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resets++
	p.showing = false
}

func (p *fakePresenter) AnythingShown() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.showing
}

func (p *fakePresenter) preloadIDs() []int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int64(nil), p.preloads...)
}

func (p *fakePresenter) lastShown() (int64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.shows) == 0 {
		return 0, false
	}
	return p.shows[len(p.shows)-1], true
}

// montageOf builds a single-track montage from item durations. Artwork IDs
// are id*100+itemIndex.
func montageOf(id int64, durs ...time.Duration) *timeline.Montage {
	items := make([]timeline.Item, 0, len(durs))
	offset := time.Duration(0)
	for i, d := range durs {
		art := timeline.NewArtwork(id*100+int64(i), timeline.KindVideo,
			fmt.Sprintf("http://cdn/%d-%d.mp4", id, i), "", "v.mp4", 0)
		items = append(items, timeline.NewItem(&art, offset, d, 1, 0))
		offset += d
	}
	return &timeline.Montage{
		ID:     id,
		Name:   fmt.Sprintf("montage-%d", id),
		Tracks: []timeline.Track{{Items: items}},
	}
}

type seqRig struct {
	clock     *fakeClock
	cache     *timeline.Cache
	presenter *fakePresenter
	seq       *Sequencer
}

func newSeqRig(t *testing.T, montages ...*timeline.Montage) *seqRig {
	t.Helper()
	rig := &seqRig{
		clock:     newFakeClock(),
		cache:     timeline.NewCache(),
		presenter: &fakePresenter{},
	}
	for _, m := range montages {
		rig.cache.Put(m)
	}
	resolver := timeline.NewResolver(rig.cache, "", nil)
	cfg := DefaultConfig()
	cfg.Clock = rig.clock
	rig.seq = New(rig.cache, resolver, rig.presenter, cfg)
	return rig
}

func playlistOver(id int64, loop bool, montages ...*timeline.Montage) *timeline.Playlist {
	ids := make([]int64, len(montages))
	for i, m := range montages {
		ids[i] = m.ID
	}
	return &timeline.Playlist{ID: id, Name: "pl", MontageIDs: ids, Loop: loop}
}

func TestLoopedPlaylistSchedule(t *testing.T) {
	ctx := context.Background()
	m0 := montageOf(1, 74*time.Second)
	m1 := montageOf(2, 60*time.Second)
	rig := newSeqRig(t, m0, m1)

	rig.seq.AssumeNewPlaylist(ctx, playlistOver(10, true, m0, m1), 0)
	require.Equal(t, StatePlaying, rig.seq.State(), "a new playlist starts playback")

	rig.seq.Tick(ctx)
	c, ok := rig.seq.Cursor()
	require.True(t, ok)
	assert.Equal(t, 0, c.MontageIndex)

	rig.clock.advance(74 * time.Second)
	rig.seq.Tick(ctx)
	c, _ = rig.seq.Cursor()
	assert.Equal(t, 1, c.MontageIndex)
	assert.Equal(t, 74*time.Second, c.GlobalOffset)
	assert.Zero(t, c.MediaOffset)

	rig.clock.advance(60 * time.Second)
	rig.seq.Tick(ctx)
	c, _ = rig.seq.Cursor()
	assert.Equal(t, 0, c.MontageIndex, "looped playlist wraps to montage 0")
	assert.Equal(t, 134*time.Second, c.GlobalOffset)
	assert.Zero(t, c.MediaOffset)
}

func TestNoLoopEndsPlayback(t *testing.T) {
	ctx := context.Background()
	m0 := montageOf(1, 10*time.Second)
	m1 := montageOf(2, 10*time.Second)
	rig := newSeqRig(t, m0, m1)

	rig.seq.AssumeNewPlaylist(ctx, playlistOver(10, false, m0, m1), 0)
	rig.seq.Tick(ctx)

	rig.clock.advance(10 * time.Second)
	rig.seq.Tick(ctx)
	c, _ := rig.seq.Cursor()
	require.Equal(t, 1, c.MontageIndex)

	rig.clock.advance(10 * time.Second)
	rig.seq.Tick(ctx)

	assert.Equal(t, StateStopped, rig.seq.State(), "non-looping playlist ends, not wraps")
	c, _ = rig.seq.Cursor()
	assert.Equal(t, 1, c.MontageIndex, "no transition past the final montage")
}

func TestItemsAdvanceWithinTrack(t *testing.T) {
	ctx := context.Background()
	m := montageOf(1, 5*time.Second, 7*time.Second)
	rig := newSeqRig(t, m)

	rig.seq.AssumeNewPlaylist(ctx, playlistOver(10, true, m), 0)
	rig.seq.Tick(ctx)

	rig.clock.advance(5 * time.Second)
	rig.seq.Tick(ctx)

	c, _ := rig.seq.Cursor()
	assert.Equal(t, 0, c.MontageIndex)
	assert.Equal(t, 1, c.ItemIndex)
	shown, ok := rig.presenter.lastShown()
	require.True(t, ok)
	assert.Equal(t, int64(101), shown)
}

func TestRepeatLoopsAdvance(t *testing.T) {
	ctx := context.Background()
	art := timeline.NewArtwork(100, timeline.KindVideo, "http://cdn/r.mp4", "", "r.mp4", 0)
	m := &timeline.Montage{
		ID: 1,
		Tracks: []timeline.Track{{
			Items: []timeline.Item{timeline.NewItem(&art, 0, 4*time.Second, 3, 0)},
		}},
	}
	rig := newSeqRig(t, m)
	rig.seq.AssumeNewPlaylist(ctx, playlistOver(10, true, m), 0)
	rig.seq.Tick(ctx)

	rig.clock.advance(4 * time.Second)
	rig.seq.Tick(ctx)
	c, _ := rig.seq.Cursor()
	assert.Equal(t, 1, c.LoopIndex, "finished loop advances the loop index")
	assert.Equal(t, 0, c.ItemIndex)
	assert.Equal(t, 4*time.Second, c.GlobalOffset)
}

func TestPauseResumeKeepsOffsetsExact(t *testing.T) {
	ctx := context.Background()
	m := montageOf(1, 10*time.Second)
	rig := newSeqRig(t, m)
	rig.seq.AssumeNewPlaylist(ctx, playlistOver(10, true, m), 0)
	rig.seq.Tick(ctx)

	rig.clock.advance(5 * time.Second)
	rig.seq.Pause(ctx)
	assert.Equal(t, StatePaused, rig.seq.State())

	// Time passing while paused must not count as playback.
	rig.clock.advance(37 * time.Second)
	rig.seq.Tick(ctx)
	c, _ := rig.seq.Cursor()
	assert.Equal(t, 0, c.MontageIndex)

	rig.seq.Play(ctx, nil)
	rig.clock.advance(4*time.Second + 999*time.Millisecond)
	rig.seq.Tick(ctx)
	c, _ = rig.seq.Cursor()
	assert.Equal(t, 0, c.ItemIndex, "9.999s elapsed, item not over yet")

	rig.clock.advance(time.Millisecond)
	rig.seq.Tick(ctx)
	c, _ = rig.seq.Cursor()
	assert.Equal(t, 0, c.MontageIndex)
	assert.Equal(t, 10*time.Second, c.GlobalOffset, "offset continuity is millisecond-exact")
}

func TestTrackOverridePersistsAcrossMontageBoundary(t *testing.T) {
	ctx := context.Background()
	// Both montages carry two tracks; the viewer watches track 1.
	twoTrack := func(id int64) *timeline.Montage {
		m := montageOf(id, 8*time.Second)
		art := timeline.NewArtwork(id*100+50, timeline.KindVideo, "http://cdn/alt.mp4", "", "alt.mp4", 0)
		m.Tracks = append(m.Tracks, timeline.Track{
			Items: []timeline.Item{timeline.NewItem(&art, 0, 8*time.Second, 1, 0)},
		})
		return m
	}
	m0, m1 := twoTrack(1), twoTrack(2)
	rig := newSeqRig(t, m0, m1)
	rig.seq.AssumeNewPlaylist(ctx, playlistOver(10, true, m0, m1), 0)

	track := 1
	rig.seq.GoMontage(ctx, 0, &track)
	c, _ := rig.seq.Cursor()
	require.Equal(t, 1, c.TrackIndex)

	rig.clock.advance(8 * time.Second)
	rig.seq.Tick(ctx)
	c, _ = rig.seq.Cursor()
	assert.Equal(t, 1, c.MontageIndex)
	assert.Equal(t, 1, c.TrackIndex, "track choice carries across the montage boundary")
}

func TestGoMontageHonorsOverride(t *testing.T) {
	ctx := context.Background()
	m := montageOf(1, 8*time.Second)
	for i := 0; i < 2; i++ {
		art := timeline.NewArtwork(int64(200+i), timeline.KindVideo, "http://cdn/t.mp4", "", "t.mp4", 0)
		m.Tracks = append(m.Tracks, timeline.Track{
			Items: []timeline.Item{timeline.NewItem(&art, 0, 8*time.Second, 1, 0)},
		})
	}
	m2 := montageOf(2, 8*time.Second)
	rig := newSeqRig(t, m, m2)
	rig.seq.AssumeNewPlaylist(ctx, playlistOver(10, true, m2, m), 0)

	rig.seq.SetTrackOverride(1, 2)
	rig.seq.GoMontage(ctx, 1, nil)

	c, _ := rig.seq.Cursor()
	assert.Equal(t, 1, c.MontageIndex)
	assert.Equal(t, 2, c.TrackIndex, "recorded override wins over affinity data")
}

func TestGoPreviousWithinWindow(t *testing.T) {
	ctx := context.Background()
	m0 := montageOf(1, 30*time.Second)
	m1 := montageOf(2, 30*time.Second)
	rig := newSeqRig(t, m0, m1)
	rig.seq.AssumeNewPlaylist(ctx, playlistOver(10, true, m0, m1), 0)
	rig.seq.GoMontage(ctx, 1, nil)

	rig.clock.advance(9 * time.Second)
	rig.seq.GoPrevious(ctx)

	c, _ := rig.seq.Cursor()
	assert.Equal(t, 0, c.MontageIndex, "early goPrevious moves to the previous montage")
	assert.Equal(t, 0, c.ItemIndex)
}

func TestGoPreviousPastWindowRestartsMontage(t *testing.T) {
	ctx := context.Background()
	m0 := montageOf(1, 30*time.Second)
	m1 := montageOf(2, 15*time.Second, 15*time.Second)
	rig := newSeqRig(t, m0, m1)
	rig.seq.AssumeNewPlaylist(ctx, playlistOver(10, true, m0, m1), 0)
	rig.seq.GoMontage(ctx, 1, nil)

	rig.clock.advance(11 * time.Second)
	rig.seq.GoPrevious(ctx)

	c, _ := rig.seq.Cursor()
	assert.Equal(t, 1, c.MontageIndex, "late goPrevious restarts the current montage")
	assert.Equal(t, 0, c.ItemIndex)
}

func TestGoPreviousAtStartWrapsWhenLooping(t *testing.T) {
	ctx := context.Background()
	m0 := montageOf(1, 30*time.Second)
	m1 := montageOf(2, 30*time.Second)
	rig := newSeqRig(t, m0, m1)
	rig.seq.AssumeNewPlaylist(ctx, playlistOver(10, true, m0, m1), 0)
	rig.seq.Tick(ctx)

	rig.seq.GoPrevious(ctx)
	c, _ := rig.seq.Cursor()
	assert.Equal(t, 1, c.MontageIndex, "goPrevious at montage 0 wraps to the last montage")
}

func TestPreloadNearItemEnd(t *testing.T) {
	ctx := context.Background()
	m0 := montageOf(1, 10*time.Second)
	m1 := montageOf(2, 10*time.Second)
	rig := newSeqRig(t, m0, m1)
	rig.seq.AssumeNewPlaylist(ctx, playlistOver(10, true, m0, m1), 0)
	rig.seq.Tick(ctx)

	rig.clock.advance(8 * time.Second)
	rig.seq.Tick(ctx)
	assert.Empty(t, rig.presenter.preloadIDs(), "2s remaining is outside the lookahead window")

	rig.clock.advance(600 * time.Millisecond)
	rig.seq.Tick(ctx)
	require.Eventually(t, func() bool {
		ids := rig.presenter.preloadIDs()
		return len(ids) == 1 && ids[0] == 200
	}, time.Second, 5*time.Millisecond, "next montage's asset preloads inside the window")

	// Further ticks inside the cooldown do not preload again.
	rig.clock.advance(300 * time.Millisecond)
	rig.seq.Tick(ctx)
	assert.Len(t, rig.presenter.preloadIDs(), 1)
}

func TestPreloadCooldownAndDedupe(t *testing.T) {
	ctx := context.Background()
	m0 := montageOf(1, 10*time.Second)
	m1 := montageOf(2, 10*time.Second)
	rig := newSeqRig(t, m0, m1)
	rig.seq.AssumeNewPlaylist(ctx, playlistOver(10, true, m0, m1), 0)
	rig.seq.Tick(ctx)

	rig.clock.advance(8700 * time.Millisecond)
	rig.seq.Tick(ctx)
	require.Eventually(t, func() bool {
		return len(rig.presenter.preloadIDs()) == 1
	}, time.Second, 5*time.Millisecond)

	// Past the cooldown the same upcoming position is still preloaded
	// only once.
	rig.clock.advance(1100 * time.Millisecond)
	rig.seq.Tick(ctx)
	assert.Len(t, rig.presenter.preloadIDs(), 1, "an already-preloaded position is not re-requested")
}

// parkedPreloadPresenter holds Preload until released, simulating a slow
// asset fetch behind the slot manager.
type parkedPreloadPresenter struct {
	fakePresenter
	release chan struct{}
}

func (p *parkedPreloadPresenter) Preload(ctx context.Context, art timeline.Artwork) error {
	<-p.release
	return p.fakePresenter.Preload(ctx, art)
}

func TestTickPreloadDoesNotBlockCommands(t *testing.T) {
	ctx := context.Background()
	m0 := montageOf(1, 10*time.Second)
	m1 := montageOf(2, 10*time.Second)

	clock := newFakeClock()
	cache := timeline.NewCache()
	cache.Put(m0)
	cache.Put(m1)
	presenter := &parkedPreloadPresenter{release: make(chan struct{})}
	defer close(presenter.release)

	cfg := DefaultConfig()
	cfg.Clock = clock
	seq := New(cache, timeline.NewResolver(cache, "", nil), presenter, cfg)

	seq.AssumeNewPlaylist(ctx, playlistOver(10, true, m0, m1), 0)
	seq.Tick(ctx)

	// Inside the lookahead window the tick fires a preload that parks.
	clock.advance(8700 * time.Millisecond)
	seq.Tick(ctx)

	begin := time.Now()
	seq.Pause(ctx)
	assert.Less(t, time.Since(begin), 100*time.Millisecond,
		"transport command stalled behind an in-flight preload")
	assert.Equal(t, StatePaused, seq.State())
}

func TestPlaylistChangeClearsOverridesAndSlots(t *testing.T) {
	ctx := context.Background()
	m0 := montageOf(1, 10*time.Second)
	rig := newSeqRig(t, m0)
	rig.seq.AssumeNewPlaylist(ctx, playlistOver(10, true, m0), 0)
	require.Equal(t, 1, rig.presenter.resets, "first playlist is a genuine change")
	rig.seq.SetTrackOverride(0, 1)

	// Reload of the same playlist keeps overrides and slots.
	rig.seq.AssumeNewPlaylist(ctx, playlistOver(10, true, m0), 0)
	assert.Equal(t, 1, rig.presenter.resets)
	_, hasOverride := rig.seq.overrides.Get(0)
	assert.True(t, hasOverride)

	// A genuinely different playlist clears both.
	rig.seq.AssumeNewPlaylist(ctx, playlistOver(11, true, m0), 0)
	assert.Equal(t, 2, rig.presenter.resets)
	_, hasOverride = rig.seq.overrides.Get(0)
	assert.False(t, hasOverride)
	assert.Equal(t, StatePlaying, rig.seq.State(), "changed playlist resumes playback")
}

func TestAmbientModeAlwaysLoops(t *testing.T) {
	ctx := context.Background()
	m0 := montageOf(1, 10*time.Second)
	m1 := montageOf(2, 10*time.Second)
	rig := newSeqRig(t, m0, m1)
	rig.cache.SetAmbientOrder([]int64{1, 2})

	rig.seq.AssumeNewPlaylist(ctx, nil, 0)
	require.Equal(t, StateStopped, rig.seq.State(),
		"ambient identity equals the previous empty identity")
	rig.seq.Play(ctx, nil)
	rig.seq.Tick(ctx)

	rig.clock.advance(10 * time.Second)
	rig.seq.Tick(ctx)
	c, _ := rig.seq.Cursor()
	require.Equal(t, 1, c.MontageIndex)

	rig.clock.advance(10 * time.Second)
	rig.seq.Tick(ctx)
	c, _ = rig.seq.Cursor()
	assert.Equal(t, 0, c.MontageIndex, "ambient mode wraps without a loop flag")
	assert.Equal(t, StatePlaying, rig.seq.State())
}

func TestStructuralFailureSkipsTick(t *testing.T) {
	ctx := context.Background()
	rig := newSeqRig(t) // cache is empty: every montage reference dangles

	pl := &timeline.Playlist{ID: 10, MontageIDs: []int64{99}, Loop: true}
	rig.seq.AssumeNewPlaylist(ctx, pl, 0)

	for i := 0; i < 5; i++ {
		rig.clock.advance(time.Second)
		rig.seq.Tick(ctx)
	}
	assert.Equal(t, StatePlaying, rig.seq.State(), "unresolvable positions never kill the clock")
	_, ok := rig.seq.Cursor()
	assert.False(t, ok)
}

func TestTickReissuesDisplayUntilShown(t *testing.T) {
	ctx := context.Background()
	m := montageOf(1, 10*time.Second)
	rig := newSeqRig(t, m)
	rig.seq.AssumeNewPlaylist(ctx, playlistOver(10, true, m), 0)

	rig.seq.Tick(ctx)
	require.Len(t, rig.presenter.shows, 1)

	// Simulate the surface losing its content.
	rig.presenter.mu.Lock()
	rig.presenter.showing = false
	rig.presenter.mu.Unlock()

	rig.seq.Tick(ctx)
	assert.Len(t, rig.presenter.shows, 2, "display is re-issued while nothing is shown")
}

func TestStopPreservesPendingMontage(t *testing.T) {
	ctx := context.Background()
	m0 := montageOf(1, 10*time.Second)
	m1 := montageOf(2, 10*time.Second)
	rig := newSeqRig(t, m0, m1)
	rig.seq.AssumeNewPlaylist(ctx, playlistOver(10, true, m0, m1), 1)
	rig.seq.Tick(ctx)
	c, _ := rig.seq.Cursor()
	require.Equal(t, 1, c.MontageIndex)

	rig.seq.Stop(ctx)
	assert.Equal(t, StateStopped, rig.seq.State())
	_, ok := rig.seq.Cursor()
	assert.False(t, ok)

	rig.seq.Play(ctx, nil)
	rig.seq.Tick(ctx)
	c, _ = rig.seq.Cursor()
	assert.Equal(t, 1, c.MontageIndex, "playback restarts at the pending montage")
}

func TestOffsetClockExactPauseResume(t *testing.T) {
	clock := newFakeClock()
	oc := newOffsetClock(clock)

	oc.Start(0)
	clock.advance(5*time.Second + 123*time.Millisecond)
	oc.Pause()
	clock.advance(time.Hour)
	assert.Equal(t, 5*time.Second+123*time.Millisecond, oc.Offset())

	oc.Resume()
	clock.advance(time.Millisecond)
	assert.Equal(t, 5*time.Second+124*time.Millisecond, oc.Offset())

	// Many short pause/resume cycles accumulate zero drift.
	for i := 0; i < 1000; i++ {
		oc.Pause()
		clock.advance(time.Millisecond)
		oc.Resume()
	}
	assert.Equal(t, 5*time.Second+124*time.Millisecond, oc.Offset())
}

func TestOffsetClockStartWithOffset(t *testing.T) {
	clock := newFakeClock()
	oc := newOffsetClock(clock)

	oc.Start(30 * time.Second)
	clock.advance(2 * time.Second)
	assert.Equal(t, 32*time.Second, oc.Offset())

	oc.Stop()
	assert.Zero(t, oc.Offset())
}

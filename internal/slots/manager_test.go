package slots

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wallplay/wallplay/internal/fetcher"
	"github.com/wallplay/wallplay/internal/httpclient"
	"github.com/wallplay/wallplay/internal/stream"
	"github.com/wallplay/wallplay/internal/timeline"
)

// fakeSurface records every operation issued to it.
type fakeSurface struct {
	mu       sync.Mutex
	kind     timeline.MediaKind
	name     string
	calls    []string
	loaded   timeline.Artwork
	visible  bool
	volume   float64
	preloadE error
	showE    error
}

func (f *fakeSurface) record(op string) {
	f.mu.Lock()
	f.calls = append(f.calls, op)
	f.mu.Unlock()
}

func (f *fakeSurface) Preload(ctx context.Context, art timeline.Artwork) error {
	f.record("preload")
	if f.preloadE != nil {
		return f.preloadE
	}
	f.loaded = art
	return nil
}

func (f *fakeSurface) Show(ctx context.Context) error {
	f.record("show")
	if f.showE != nil {
		return f.showE
	}
	f.visible = true
	return nil
}

func (f *fakeSurface) Hide(ctx context.Context) error {
	f.record("hide")
	f.visible = false
	return nil
}

func (f *fakeSurface) Pause(ctx context.Context) error  { f.record("pause"); return nil }
func (f *fakeSurface) Resume(ctx context.Context) error { f.record("resume"); return nil }

func (f *fakeSurface) SetVolume(ctx context.Context, v float64) error {
	f.record("volume")
	f.volume = v
	return nil
}

func (f *fakeSurface) Seek(ctx context.Context, o time.Duration) error {
	f.record("seek")
	return nil
}

func (f *fakeSurface) countOf(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == op {
			n++
		}
	}
	return n
}

// testRig wires a manager over recording fake surfaces.
type testRig struct {
	manager  *Manager
	surfaces map[string]*fakeSurface // keyed kind+name
	now      time.Time
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	rig := &testRig{
		surfaces: make(map[string]*fakeSurface),
		now:      time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	factory := func(kind timeline.MediaKind, name string) Surface {
		s := &fakeSurface{kind: kind, name: name}
		rig.surfaces[string(kind)+name] = s
		return s
	}
	rig.manager = NewManager(factory, nil, DefaultConfig())
	rig.manager.now = func() time.Time { return rig.now }
	return rig
}

func (r *testRig) advance(d time.Duration) {
	r.now = r.now.Add(d)
}

func (r *testRig) surface(kind timeline.MediaKind, name string) *fakeSurface {
	return r.surfaces[string(kind)+name]
}

func videoArt(id int64) timeline.Artwork {
	return timeline.NewArtwork(id, timeline.KindVideo, "http://cdn/a.mp4", "", "a.mp4", 10*time.Second)
}

func TestPreloadBindsHiddenSlot(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	require.NoError(t, rig.manager.Preload(ctx, videoArt(1)))

	a := rig.surface(timeline.KindVideo, "A")
	assert.Equal(t, 1, a.countOf("preload"))
	assert.Zero(t, a.countOf("show"), "preload must not make content visible")
	_, shown := rig.manager.Shown(timeline.KindVideo)
	assert.False(t, shown)
}

func TestPreloadDebouncesDuplicates(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	art := videoArt(1)

	require.NoError(t, rig.manager.Preload(ctx, art))
	rig.advance(50 * time.Millisecond)
	require.NoError(t, rig.manager.Preload(ctx, art))

	a := rig.surface(timeline.KindVideo, "A")
	b := rig.surface(timeline.KindVideo, "B")
	assert.Equal(t, 1, a.countOf("preload")+b.countOf("preload"),
		"duplicate preload inside the window must collapse")
}

func TestPreloadResidentAssetIsNoop(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	art := videoArt(1)

	require.NoError(t, rig.manager.Preload(ctx, art))
	rig.advance(time.Second) // well past the debounce window
	require.NoError(t, rig.manager.Preload(ctx, art))

	a := rig.surface(timeline.KindVideo, "A")
	b := rig.surface(timeline.KindVideo, "B")
	assert.Equal(t, 1, a.countOf("preload")+b.countOf("preload"),
		"an asset resident in a slot must not be preloaded again")
}

func TestShowFlipsToPreloadedSlot(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	first := videoArt(1)
	require.NoError(t, rig.manager.Show(ctx, first))

	a := rig.surface(timeline.KindVideo, "A")
	require.True(t, a.visible)

	second := videoArt(2)
	require.NoError(t, rig.manager.Preload(ctx, second))
	b := rig.surface(timeline.KindVideo, "B")
	assert.Equal(t, 1, b.countOf("preload"), "second asset preloads into the opposite slot")
	assert.False(t, b.visible)

	require.NoError(t, rig.manager.Show(ctx, second))
	assert.True(t, b.visible)
	assert.False(t, a.visible, "outgoing slot is hidden on flip")
	assert.Equal(t, 1, a.countOf("hide"))

	shownArt, ok := rig.manager.Shown(timeline.KindVideo)
	require.True(t, ok)
	assert.Equal(t, int64(2), shownArt.ID)
}

func TestShowSameAssetResumesOnly(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	art := videoArt(1)

	require.NoError(t, rig.manager.Show(ctx, art))
	require.NoError(t, rig.manager.Show(ctx, art))

	a := rig.surface(timeline.KindVideo, "A")
	assert.Equal(t, 1, a.countOf("show"))
	assert.Equal(t, 1, a.countOf("resume"), "re-show of the visible asset only ensures playback")
}

func TestShowUnknownAssetPreloadsFirst(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	require.NoError(t, rig.manager.Show(ctx, videoArt(1)))

	a := rig.surface(timeline.KindVideo, "A")
	require.Equal(t, []string{"preload", "volume", "show"}, a.calls,
		"show of a cold asset preloads, applies volume, then shows")
}

func TestHiddenSlotRetainsContent(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	first := videoArt(1)
	second := videoArt(2)
	require.NoError(t, rig.manager.Show(ctx, first))
	require.NoError(t, rig.manager.Show(ctx, second))

	// The first asset's slot is hidden but still resident: navigating
	// back to it must not reload anything.
	rig.advance(time.Second)
	require.NoError(t, rig.manager.Preload(ctx, first))

	a := rig.surface(timeline.KindVideo, "A")
	assert.Equal(t, 1, a.countOf("preload"), "hidden slot content is retained, not reloaded")
}

func TestAtMostOneSlotVisible(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	for id := int64(1); id <= 5; id++ {
		require.NoError(t, rig.manager.Show(ctx, videoArt(id)))
		a := rig.surface(timeline.KindVideo, "A")
		b := rig.surface(timeline.KindVideo, "B")
		visible := 0
		if a.visible {
			visible++
		}
		if b.visible {
			visible++
		}
		assert.Equal(t, 1, visible, "exactly one slot visible after show %d", id)
	}
}

func TestVolumeAppliedToShownAndRemembered(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	require.NoError(t, rig.manager.Show(ctx, videoArt(1)))
	require.NoError(t, rig.manager.SetVolume(ctx, 0.25))

	a := rig.surface(timeline.KindVideo, "A")
	assert.Equal(t, 0.25, a.volume)

	// The remembered volume rides along on the next flip.
	require.NoError(t, rig.manager.Show(ctx, videoArt(2)))
	b := rig.surface(timeline.KindVideo, "B")
	assert.Equal(t, 0.25, b.volume)
}

func TestVolumeClamped(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	require.NoError(t, rig.manager.Show(ctx, videoArt(1)))

	require.NoError(t, rig.manager.SetVolume(ctx, 4.0))
	assert.Equal(t, 1.0, rig.surface(timeline.KindVideo, "A").volume)

	require.NoError(t, rig.manager.SetVolume(ctx, -1.0))
	assert.Equal(t, 0.0, rig.surface(timeline.KindVideo, "A").volume)
}

func TestStallResumesOnceThenSurfaces(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	var failed []timeline.Artwork
	rig.manager.SetFailureHandler(func(art timeline.Artwork, err error) {
		failed = append(failed, art)
	})

	require.NoError(t, rig.manager.Show(ctx, videoArt(1)))
	a := rig.surface(timeline.KindVideo, "A")

	require.NoError(t, rig.manager.ReportStall(ctx, timeline.KindVideo))
	assert.Equal(t, 1, a.countOf("resume"), "first stall earns one resume")
	assert.Empty(t, failed)

	err := rig.manager.ReportStall(ctx, timeline.KindVideo)
	assert.ErrorIs(t, err, ErrRepeatedStall)
	assert.Len(t, failed, 1, "repeated stall is surfaced, not retried")
	assert.Equal(t, 1, a.countOf("resume"))
}

func TestStallCountResetsOnNewShow(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	require.NoError(t, rig.manager.Show(ctx, videoArt(1)))
	require.NoError(t, rig.manager.ReportStall(ctx, timeline.KindVideo))

	require.NoError(t, rig.manager.Show(ctx, videoArt(2)))
	require.NoError(t, rig.manager.ReportStall(ctx, timeline.KindVideo),
		"a freshly shown asset gets its own resume attempt")
}

func TestResetClearsAllSlots(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	art := videoArt(1)

	require.NoError(t, rig.manager.Show(ctx, art))
	rig.manager.Reset(ctx)

	a := rig.surface(timeline.KindVideo, "A")
	assert.False(t, a.visible)
	assert.False(t, rig.manager.AnythingShown())

	// The asset is no longer resident: showing it again does real work.
	require.NoError(t, rig.manager.Show(ctx, art))
	assert.Equal(t, 2, a.countOf("preload"))
}

func TestPreloadFailureClearsDebounce(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	art := videoArt(1)

	// Seed the surfaces by touching the pair once, then inject failure.
	require.Error(t, func() error {
		rig.surfacesFor(timeline.KindVideo)
		rig.surface(timeline.KindVideo, "A").preloadE = errors.New("surface rejected asset")
		return rig.manager.Preload(ctx, art)
	}())

	// Immediately retrying must not be debounced away.
	rig.surface(timeline.KindVideo, "A").preloadE = nil
	require.NoError(t, rig.manager.Preload(ctx, art))
	assert.Equal(t, 2, rig.surface(timeline.KindVideo, "A").countOf("preload"))
}

// surfacesFor forces surface construction for a kind without issuing any
// slot operation.
func (r *testRig) surfacesFor(kind timeline.MediaKind) {
	r.manager.mu.Lock()
	defer r.manager.mu.Unlock()
	_, _ = r.manager.pairFor(kind)
}

func TestPauseAndResumeShownSlots(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	require.NoError(t, rig.manager.Show(ctx, videoArt(1)))
	require.NoError(t, rig.manager.Pause(ctx))
	require.NoError(t, rig.manager.Resume(ctx))

	a := rig.surface(timeline.KindVideo, "A")
	assert.Equal(t, 1, a.countOf("pause"))
	assert.Equal(t, 1, a.countOf("resume"))
}

func TestDebouncerWindow(t *testing.T) {
	d := newDebouncer(100 * time.Millisecond)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	assert.True(t, d.shouldAllow("x", base))
	assert.False(t, d.shouldAllow("x", base.Add(50*time.Millisecond)))
	assert.True(t, d.shouldAllow("y", base.Add(50*time.Millisecond)),
		"distinct keys do not contend")
	assert.True(t, d.shouldAllow("x", base.Add(150*time.Millisecond)))
}

// parkedRangeClient holds every request until its context expires,
// simulating an unreachable asset host.
type parkedRangeClient struct{}

func (parkedRangeClient) GetRange(ctx context.Context, url string, start, end int64) (*httpclient.RangeResult, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// bufferedFakeSurface is a fakeSurface that also accepts chunked delivery.
type bufferedFakeSurface struct {
	fakeSurface
	sink discardSink
}

func (b *bufferedFakeSurface) Sink() stream.BufferSink { return &b.sink }

type discardSink struct{}

func (discardSink) Append(ctx context.Context, data []byte) error { return nil }

func (discardSink) BufferedAhead() time.Duration { return 0 }

func (discardSink) Release() {}

func TestSlowDeliveryDoesNotBlockManager(t *testing.T) {
	fcfg := fetcher.DefaultConfig()
	fcfg.Timeout = 300 * time.Millisecond
	fcfg.Retry = fetcher.RetryPolicy{MaxAttempts: 1, BaseDelay: time.Millisecond}
	f := fetcher.New(parkedRangeClient{}, fcfg)
	defer f.Close()

	streams := func(url string, sink stream.BufferSink) *stream.Session {
		cfg := stream.DefaultConfig()
		cfg.ProbeSize = 64
		return stream.NewSession(f, sink, url, cfg)
	}
	factory := func(kind timeline.MediaKind, name string) Surface {
		return &bufferedFakeSurface{}
	}
	m := NewManager(factory, streams, DefaultConfig())
	ctx := context.Background()

	preloadErr := make(chan error, 1)
	go func() { preloadErr <- m.Preload(ctx, videoArt(1)) }()
	time.Sleep(50 * time.Millisecond) // delivery is now parked in its probe fetch

	// Transport commands must not queue behind the parked fetch.
	begin := time.Now()
	require.NoError(t, m.Pause(ctx))
	m.AnythingShown()
	assert.Less(t, time.Since(begin), 100*time.Millisecond,
		"manager calls stalled behind an in-flight preload")

	require.Error(t, <-preloadErr, "the unreachable asset fails its preload")
}

func TestDebouncerSuppressionDoesNotExtendWindow(t *testing.T) {
	d := newDebouncer(100 * time.Millisecond)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	require.True(t, d.shouldAllow("x", base))
	require.False(t, d.shouldAllow("x", base.Add(60*time.Millisecond)))
	assert.True(t, d.shouldAllow("x", base.Add(110*time.Millisecond)),
		"a suppressed request must not push the window out")
}

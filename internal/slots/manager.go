package slots

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/wallplay/wallplay/internal/stream"
	"github.com/wallplay/wallplay/internal/timeline"
)

// ErrNoSurface reports that no surface factory produced a surface for a
// requested media kind.
var ErrNoSurface = errors.New("no surface for media kind")

// ErrRepeatedStall reports a stall that persisted after the single
// automatic resume attempt.
var ErrRepeatedStall = errors.New("playback stalled repeatedly")

// slotState tracks one slot's position in its lifecycle. A slot never
// skips preloading when its content differs from what is resident.
type slotState int

const (
	slotIdle slotState = iota
	slotPreloading
	slotReady
	slotShown
)

func (s slotState) String() string {
	switch s {
	case slotIdle:
		return "idle"
	case slotPreloading:
		return "preloading"
	case slotReady:
		return "ready"
	case slotShown:
		return "shown"
	default:
		return "unknown"
	}
}

// slot is one half of a double-buffer pair.
type slot struct {
	name    string
	surface Surface
	state   slotState

	asset    timeline.Artwork
	resident bool

	// session delivers chunked bytes for the bound asset; nil for
	// progressive or non-streamable content. It is replaced only when
	// this slot is chosen for a new asset: the hidden slot keeps its
	// previous content and in-flight fetches alive until then.
	session *stream.Session

	// redelivered marks that the asset was already re-preloaded once
	// after a fatal session error.
	redelivered bool

	// epoch counts rebinds. Delivery runs with the manager lock
	// released; a bind that finds its epoch overtaken on relock was
	// superseded and abandons its result.
	epoch uint64

	stalls int
}

// pair is the A/B slot pair for one media kind. At most one of the two is
// shown at any time.
type pair struct {
	a, b  *slot
	shown *slot
}

// other returns the slot opposite the shown one, or A when nothing is
// shown yet.
func (p *pair) other() *slot {
	if p.shown == p.a {
		return p.b
	}
	return p.a
}

// residentSlot returns the slot holding the asset, if any.
func (p *pair) residentSlot(art timeline.Artwork) *slot {
	if p.a.resident && p.a.asset.ID == art.ID {
		return p.a
	}
	if p.b.resident && p.b.asset.ID == art.ID {
		return p.b
	}
	return nil
}

// StreamFactory builds a stream session delivering url into sink. The
// engine binds this to the shared chunk fetcher.
type StreamFactory func(url string, sink stream.BufferSink) *stream.Session

// FailureFunc is invoked when an asset cannot be delivered or shown after
// the manager's own retry. The sequencer moves on; the viewer sees the
// next item instead of a frozen screen.
type FailureFunc func(art timeline.Artwork, err error)

// Config holds slot manager configuration.
type Config struct {
	// DebounceWindow collapses duplicate preload requests for the same
	// asset arriving within it.
	DebounceWindow time.Duration

	// Logger is the structured logger.
	Logger *slog.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		DebounceWindow: 100 * time.Millisecond,
		Logger:         slog.Default(),
	}
}

// Manager owns the double-buffered presentation slots.
type Manager struct {
	mu sync.Mutex

	surfaces  SurfaceFactory
	streams   StreamFactory
	onFailure FailureFunc

	pairs    map[timeline.MediaKind]*pair
	debounce *debouncer
	volume   float64

	logger *slog.Logger
	now    func() time.Time
}

// NewManager creates a slot manager. streams may be nil, in which case
// surfaces fetch their assets themselves.
func NewManager(surfaces SurfaceFactory, streams StreamFactory, cfg Config) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.DebounceWindow <= 0 {
		cfg.DebounceWindow = 100 * time.Millisecond
	}
	return &Manager{
		surfaces: surfaces,
		streams:  streams,
		pairs:    make(map[timeline.MediaKind]*pair),
		debounce: newDebouncer(cfg.DebounceWindow),
		volume:   1.0,
		logger:   cfg.Logger.With(slog.String("component", "slots")),
		now:      time.Now,
	}
}

// SetFailureHandler installs the callback for asset-fatal delivery
// failures. Must be called before playback starts.
func (m *Manager) SetFailureHandler(fn FailureFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onFailure = fn
}

// pairFor returns the slot pair for a media kind, creating the two
// surfaces on first use.
func (m *Manager) pairFor(kind timeline.MediaKind) (*pair, error) {
	if p, ok := m.pairs[kind]; ok {
		return p, nil
	}
	sa := m.surfaces(kind, "A")
	sb := m.surfaces(kind, "B")
	if sa == nil || sb == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoSurface, kind)
	}
	p := &pair{
		a: &slot{name: "A", surface: sa},
		b: &slot{name: "B", surface: sb},
	}
	m.pairs[kind] = p
	return p, nil
}

func assetKey(art timeline.Artwork) string {
	return fmt.Sprintf("%s|%d|%s", art.Kind, art.ID, art.URL)
}

// Preload binds an asset to the slot opposite the shown one without
// making it visible. An asset already resident in either slot is left
// alone, and bursts of identical requests inside the debounce window
// collapse to one.
func (m *Manager) Preload(ctx context.Context, art timeline.Artwork) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.preloadLocked(ctx, art, false)
}

func (m *Manager) preloadLocked(ctx context.Context, art timeline.Artwork, bypassDebounce bool) error {
	p, err := m.pairFor(art.Kind)
	if err != nil {
		return err
	}
	if p.residentSlot(art) != nil {
		return nil
	}
	if !bypassDebounce && !m.debounce.shouldAllow(assetKey(art), m.now()) {
		return nil
	}

	target := p.other()
	return m.bindLocked(ctx, target, art)
}

// bindLocked replaces target's content with art: the previous session is
// destroyed now, exactly because the slot was chosen again.
//
// Called with m.mu held and returns with it held, but the lock is
// released around delivery and surface preload: both block on network
// fetches, and holding the manager lock across them would freeze every
// transport command behind one slow asset. The slot epoch detects a
// competing rebind in that window; the newer bind wins.
func (m *Manager) bindLocked(ctx context.Context, target *slot, art timeline.Artwork) error {
	if target.session != nil {
		target.session.Destroy()
		target.session = nil
	}
	target.asset = art
	target.resident = false
	target.redelivered = false
	target.state = slotPreloading
	target.epoch++
	epoch := target.epoch

	m.mu.Unlock()
	sess, err := m.deliver(ctx, target.surface, art)
	if err == nil {
		if perr := target.surface.Preload(ctx, art); perr != nil {
			if sess != nil {
				sess.Destroy()
				sess = nil
			}
			err = fmt.Errorf("preloading %q into slot %s: %w", art.Filename, target.name, perr)
		}
	}
	m.mu.Lock()

	if target.epoch != epoch {
		// Superseded while the lock was released.
		if sess != nil {
			sess.Destroy()
		}
		return nil
	}
	if err != nil {
		target.state = slotIdle
		m.debounce.forget(assetKey(art))
		return err
	}

	if sess != nil {
		target.session = sess
		go m.watchSession(target, sess, art)
	}
	target.resident = true
	target.state = slotReady
	m.logger.Debug("slot preloaded",
		slog.String("kind", string(art.Kind)),
		slog.String("slot", target.name),
		slog.Int64("artwork_id", art.ID),
	)
	return nil
}

// deliver starts chunked delivery into the surface's buffer sink when the
// asset and surface support it. The returned session is nil when the
// asset goes progressive: a non-fragmented asset is an expected outcome,
// and the surface falls back to fetching the URL itself. Runs without the
// manager lock; Start blocks on the probe fetch.
func (m *Manager) deliver(ctx context.Context, surface Surface, art timeline.Artwork) (*stream.Session, error) {
	if m.streams == nil {
		return nil, nil
	}
	if art.Kind != timeline.KindVideo && art.Kind != timeline.KindAudio {
		return nil, nil
	}
	buffered, ok := surface.(BufferSurface)
	if !ok {
		return nil, nil
	}

	sess := m.streams(art.URL, buffered.Sink())
	if err := sess.Start(ctx); err != nil {
		if errors.Is(err, stream.ErrNotFragmented) {
			m.logger.Debug("asset not fragmented, using progressive delivery",
				slog.Int64("artwork_id", art.ID))
			return nil, nil
		}
		return nil, fmt.Errorf("starting stream for %q: %w", art.Filename, err)
	}
	return sess, nil
}

// watchSession waits for a session's terminal outcome. Clean completion
// and destruction need nothing; a fatal delivery error earns the asset
// one re-preload before the failure handler is told.
func (m *Manager) watchSession(s *slot, sess *stream.Session, art timeline.Artwork) {
	<-sess.Done()
	err := sess.Err()
	if err == nil || errors.Is(err, stream.ErrDestroyed) {
		return
	}

	m.mu.Lock()
	if s.session != sess || s.asset.ID != art.ID {
		// The slot moved on while we waited.
		m.mu.Unlock()
		return
	}
	s.session = nil
	alreadyRetried := s.redelivered
	s.redelivered = true
	onFailure := m.onFailure

	if alreadyRetried {
		m.mu.Unlock()
		m.logger.Error("asset delivery failed after retry",
			slog.Int64("artwork_id", art.ID),
			slog.String("error", err.Error()),
		)
		if onFailure != nil {
			onFailure(art, err)
		}
		return
	}

	m.logger.Warn("stream session failed, re-preloading asset",
		slog.Int64("artwork_id", art.ID),
		slog.String("error", err.Error()),
	)
	epoch := s.epoch
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	newSess, redeliverErr := m.deliver(ctx, s.surface, art)

	m.mu.Lock()
	if s.epoch != epoch {
		// The slot was rebound during redelivery; its new owner wins.
		m.mu.Unlock()
		if newSess != nil {
			newSess.Destroy()
		}
		return
	}
	if redeliverErr == nil && newSess != nil {
		s.session = newSess
		go m.watchSession(s, newSess, art)
	}
	m.mu.Unlock()

	if redeliverErr != nil && onFailure != nil {
		onFailure(art, redeliverErr)
	}
}

// Show makes an asset visible. A preloaded asset flips visibility to its
// slot; the asset already shown just has playback ensured; anything else
// is preloaded first and then shown.
func (m *Manager) Show(ctx context.Context, art timeline.Artwork) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, err := m.pairFor(art.Kind)
	if err != nil {
		return err
	}

	resident := p.residentSlot(art)
	if resident == nil {
		if err := m.preloadLocked(ctx, art, true); err != nil {
			return err
		}
		resident = p.residentSlot(art)
		if resident == nil {
			return fmt.Errorf("asset %d not resident after preload", art.ID)
		}
	}

	if resident == p.shown {
		// Already visible; just make sure it is running.
		return resident.surface.Resume(ctx)
	}

	// Pause the outgoing slot before the incoming one becomes visible so
	// at most one element per kind is ever audible.
	if p.shown != nil {
		if err := p.shown.surface.Hide(ctx); err != nil {
			m.logger.Warn("hiding outgoing slot failed",
				slog.String("slot", p.shown.name),
				slog.String("error", err.Error()),
			)
		}
		p.shown.state = slotReady
	}

	if err := resident.surface.SetVolume(ctx, m.volume); err != nil {
		m.logger.Warn("applying volume to incoming slot failed",
			slog.String("error", err.Error()))
	}
	if err := resident.surface.Show(ctx); err != nil {
		return fmt.Errorf("showing %q in slot %s: %w", art.Filename, resident.name, err)
	}
	resident.state = slotShown
	resident.stalls = 0
	p.shown = resident

	m.logger.Debug("slot shown",
		slog.String("kind", string(art.Kind)),
		slog.String("slot", resident.name),
		slog.Int64("artwork_id", art.ID),
	)
	return nil
}

// Shown returns the asset currently visible for a media kind.
func (m *Manager) Shown(kind timeline.MediaKind) (timeline.Artwork, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pairs[kind]
	if !ok || p.shown == nil {
		return timeline.Artwork{}, false
	}
	return p.shown.asset, true
}

// AnythingShown reports whether any slot of any kind is visible.
func (m *Manager) AnythingShown() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.pairs {
		if p.shown != nil {
			return true
		}
	}
	return false
}

// Pause freezes playback on every shown slot.
func (m *Manager) Pause(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var firstErr error
	for _, p := range m.pairs {
		if p.shown == nil {
			continue
		}
		if err := p.shown.surface.Pause(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Resume continues playback on every shown slot.
func (m *Manager) Resume(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var firstErr error
	for _, p := range m.pairs {
		if p.shown == nil {
			continue
		}
		if err := p.shown.surface.Resume(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// SetVolume applies a volume to every shown slot and remembers it for
// slots shown later.
func (m *Manager) SetVolume(ctx context.Context, volume float64) error {
	if volume < 0 {
		volume = 0
	}
	if volume > 1 {
		volume = 1
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.volume = volume
	var firstErr error
	for _, p := range m.pairs {
		if p.shown == nil {
			continue
		}
		if err := p.shown.surface.SetVolume(ctx, volume); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Seek moves every shown slot's playback position.
func (m *Manager) Seek(ctx context.Context, offset time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var firstErr error
	for _, p := range m.pairs {
		if p.shown == nil {
			continue
		}
		if err := p.shown.surface.Seek(ctx, offset); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ReportStall tells the manager a shown surface stopped making progress.
// The first stall per shown asset earns a single resume attempt; a repeat
// is surfaced through the failure handler instead of being retried
// forever.
func (m *Manager) ReportStall(ctx context.Context, kind timeline.MediaKind) error {
	m.mu.Lock()
	p, ok := m.pairs[kind]
	if !ok || p.shown == nil {
		m.mu.Unlock()
		return nil
	}
	s := p.shown
	s.stalls++
	stalls := s.stalls
	art := s.asset
	onFailure := m.onFailure
	m.mu.Unlock()

	if stalls == 1 {
		m.logger.Warn("playback stalled, attempting resume",
			slog.Int64("artwork_id", art.ID))
		return s.surface.Resume(ctx)
	}

	err := fmt.Errorf("%w: %q", ErrRepeatedStall, art.Filename)
	if onFailure != nil {
		onFailure(art, err)
	}
	return err
}

// Reset forces every slot empty: sessions destroyed, surfaces hidden,
// residency cleared. Used on a genuine playlist change, where retained
// hidden content can never be shown again.
func (m *Manager) Reset(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for kind, p := range m.pairs {
		for _, s := range []*slot{p.a, p.b} {
			if s.session != nil {
				s.session.Destroy()
				s.session = nil
			}
			if s.state == slotShown {
				if err := s.surface.Hide(ctx); err != nil {
					m.logger.Warn("hiding slot during reset failed",
						slog.String("kind", string(kind)),
						slog.String("slot", s.name),
						slog.String("error", err.Error()),
					)
				}
			}
			s.asset = timeline.Artwork{}
			s.resident = false
			s.redelivered = false
			s.stalls = 0
			s.state = slotIdle
			s.epoch++ // invalidate any bind mid-delivery
		}
		p.shown = nil
	}
	m.debounce = newDebouncer(m.debounce.window)
}

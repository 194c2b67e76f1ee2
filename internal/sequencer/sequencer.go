package sequencer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/wallplay/wallplay/internal/timeline"
)

// State is the sequencer's playback state.
type State int

const (
	StateStopped State = iota
	StatePlaying
	StatePaused
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	default:
		return "unknown"
	}
}

// Presenter is the slot-manager surface the sequencer drives. It is kept
// as an interface so scheduling logic can be exercised without real render
// surfaces behind it.
type Presenter interface {
	Preload(ctx context.Context, art timeline.Artwork) error
	Show(ctx context.Context, art timeline.Artwork) error
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	SetVolume(ctx context.Context, volume float64) error
	Seek(ctx context.Context, offset time.Duration) error
	Reset(ctx context.Context)
	AnythingShown() bool
}

// Config holds sequencer configuration.
type Config struct {
	// TickInterval is the clock tick period.
	TickInterval time.Duration

	// PreloadLookahead is how close to an item's end the next asset is
	// preloaded into the idle slot.
	PreloadLookahead time.Duration

	// PreloadCooldown is the one-shot delay after a preload before
	// another may be issued. Very short items would otherwise trigger a
	// preload storm.
	PreloadCooldown time.Duration

	// PreviousWindow is how far into an item goPrevious still moves to
	// the previous montage instead of restarting the current one.
	PreviousWindow time.Duration

	// Clock supplies time; nil means the system clock.
	Clock Clock

	// Logger is the structured logger.
	Logger *slog.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		TickInterval:     300 * time.Millisecond,
		PreloadLookahead: 1500 * time.Millisecond,
		PreloadCooldown:  time.Second,
		PreviousWindow:   10 * time.Second,
		Clock:            RealClock{},
		Logger:           slog.Default(),
	}
}

// Sequencer is the clock-driven transition state machine. All state
// mutations happen under one lock: a tick and a command handler never
// compute a transition from stale state concurrently.
type Sequencer struct {
	mu sync.Mutex

	config    Config
	clock     Clock
	play      *offsetClock
	resolver  *timeline.Resolver
	cache     *timeline.Cache
	presenter Presenter
	logger    *slog.Logger

	state     State
	playlist  *timeline.Playlist
	overrides timeline.OverrideMap

	// cursor is nil until the first tick initializes it from
	// pendingMontage.
	cursor         *timeline.Cursor
	pendingMontage int

	cooldownUntil time.Time
	preloadedFor  timeline.Cursor
	havePreloaded bool
}

// New creates a sequencer over the given cache and presenter. Playback is
// stopped until Play.
func New(cache *timeline.Cache, resolver *timeline.Resolver, presenter Presenter, cfg Config) *Sequencer {
	if cfg.Clock == nil {
		cfg.Clock = RealClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 300 * time.Millisecond
	}
	return &Sequencer{
		config:    cfg,
		clock:     cfg.Clock,
		play:      newOffsetClock(cfg.Clock),
		resolver:  resolver,
		cache:     cache,
		presenter: presenter,
		overrides: timeline.NewOverrideMap(),
		logger:    cfg.Logger.With(slog.String("component", "sequencer")),
	}
}

// Run drives the tick loop until ctx is canceled.
func (s *Sequencer) Run(ctx context.Context) {
	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// State returns the current playback state.
func (s *Sequencer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Cursor returns the current playback position, if any.
func (s *Sequencer) Cursor() (timeline.Cursor, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cursor == nil {
		return timeline.Cursor{}, false
	}
	return *s.cursor, true
}

// Play starts playback, or resumes it after a pause. A non-nil offset
// restarts the clock at that position within the current item.
func (s *Sequencer) Play(ctx context.Context, offset *time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.state == StatePaused && offset == nil:
		s.play.Resume()
	case offset != nil:
		s.play.Start(*offset)
	default:
		s.play.Start(0)
	}
	s.state = StatePlaying

	if err := s.presenter.Resume(ctx); err != nil {
		s.logger.Warn("resuming presentation failed", slog.String("error", err.Error()))
	}
}

// Pause freezes the playback clock and the shown surfaces.
func (s *Sequencer) Pause(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StatePlaying {
		return
	}
	s.play.Pause()
	s.state = StatePaused

	if err := s.presenter.Pause(ctx); err != nil {
		s.logger.Warn("pausing presentation failed", slog.String("error", err.Error()))
	}
}

// Stop halts playback and discards the current position. The pending
// montage is preserved, so a later Play starts there.
func (s *Sequencer) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.play.Stop()
	s.state = StateStopped
	s.cursor = nil
	s.havePreloaded = false

	if err := s.presenter.Pause(ctx); err != nil {
		s.logger.Warn("pausing presentation failed", slog.String("error", err.Error()))
	}
}

// Seek moves the playback position within the current item.
func (s *Sequencer) Seek(ctx context.Context, offset time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cursor == nil {
		return
	}
	if offset < 0 {
		offset = 0
	}

	delta := offset - s.play.Offset()
	next := s.cursor.Seek(delta, false)
	s.cursor = &next

	wasPaused := s.state == StatePaused
	s.play.Start(offset)
	if wasPaused {
		s.play.Pause()
	}

	if err := s.presenter.Seek(ctx, offset); err != nil {
		s.logger.Warn("seeking presentation failed", slog.String("error", err.Error()))
	}
}

// SetVolume forwards a volume change to the presentation slots.
func (s *Sequencer) SetVolume(ctx context.Context, volume float64) {
	if err := s.presenter.SetVolume(ctx, volume); err != nil {
		s.logger.Warn("setting volume failed", slog.String("error", err.Error()))
	}
}

// Tick runs one scheduler cycle: recompute the offset, make sure something
// is on screen, transition when the current item's time is up, and preload
// the next asset near the item's end. A position that cannot be resolved
// is skipped; the next tick retries from current state.
func (s *Sequencer) Tick(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StatePlaying {
		return
	}

	if s.cursor == nil {
		if !s.initCursorLocked() {
			return
		}
		s.displayLocked(ctx)
	}

	if !s.presenter.AnythingShown() {
		s.displayLocked(ctx)
	}

	item, ok := s.resolver.ResolveItem(*s.cursor)
	if !ok {
		s.logger.Debug("no resolvable item at cursor",
			slog.Int("montage", s.cursor.MontageIndex),
			slog.Int("track", s.cursor.TrackIndex),
			slog.Int("item", s.cursor.ItemIndex),
		)
		return
	}
	duration := s.resolver.ItemDuration(*s.cursor, item)
	offset := s.play.Offset()

	if duration > 0 && offset >= duration {
		s.advanceLocked(ctx, duration)
		return
	}

	s.maybePreloadLocked(ctx, duration, offset)
}

// initCursorLocked builds the initial cursor from the pending montage.
func (s *Sequencer) initCursorLocked() bool {
	c, ok := s.cursorAtLocked(s.pendingMontage)
	if !ok {
		return false
	}
	s.cursor = &c
	return true
}

// cursorAtLocked builds a fresh cursor at item 0 of a montage index,
// resolving the track through the override map and the resolver's usual
// precedence.
func (s *Sequencer) cursorAtLocked(montageIndex int) (timeline.Cursor, bool) {
	m, ok := s.resolver.MontageAt(s.playlist, montageIndex)
	if !ok {
		s.logger.Debug("montage index unresolvable", slog.Int("montage", montageIndex))
		return timeline.Cursor{}, false
	}

	var explicit *int
	if t, ok := s.overrides.Get(montageIndex); ok {
		explicit = &t
	}
	track, ok := s.resolver.ResolveTrack(m, explicit)
	if !ok {
		s.logger.Debug("no resolvable track", slog.Int64("montage_id", m.ID))
		return timeline.Cursor{}, false
	}

	return timeline.NewCursor(s.playlist, montageIndex, track), true
}

// displayLocked issues a show for the cursor's current item.
func (s *Sequencer) displayLocked(ctx context.Context) {
	item, ok := s.resolver.ResolveItem(*s.cursor)
	if !ok || item.Artwork == nil || item.Artwork.Kind == timeline.KindEmpty {
		return
	}
	if err := s.presenter.Show(ctx, *item.Artwork); err != nil {
		s.logger.Warn("showing item failed",
			slog.Int64("artwork_id", item.Artwork.ID),
			slog.String("error", err.Error()),
		)
	}
}

// advanceLocked moves past the just-finished loop of the current item.
// playedDuration is the loop length being completed, used to accumulate
// the global offset exactly.
func (s *Sequencer) advanceLocked(ctx context.Context, playedDuration time.Duration) {
	next, ok := s.nextCursorLocked(*s.cursor)
	if !ok {
		s.logger.Info("end of playback")
		s.play.Stop()
		s.state = StateStopped
		return
	}

	advanced := s.cursor.Seek(playedDuration-s.cursor.MediaOffset, true)
	next.GlobalOffset = advanced.GlobalOffset
	s.cursor = &next
	s.havePreloaded = false
	s.play.Start(0)
	s.displayLocked(ctx)
}

// nextCursorLocked computes the position after the cursor's current loop:
// the item's next repeat loop, then the next item in the track, then the
// next montage (carrying the track index through the override map), then a
// wrap to montage 0 when the playlist loops. Ambient mode, with no
// playlist at all, always loops. ok is false at end-of-playback.
func (s *Sequencer) nextCursorLocked(c timeline.Cursor) (timeline.Cursor, bool) {
	item, ok := s.resolver.ResolveItem(c)
	if ok && c.LoopIndex+1 < item.Repeat {
		next := timeline.NewCursor(c.Playlist, c.MontageIndex, c.TrackIndex)
		next.ItemIndex = c.ItemIndex
		next.LoopIndex = c.LoopIndex + 1
		return next, true
	}

	m, ok := s.resolver.MontageAt(s.playlist, c.MontageIndex)
	if ok {
		if track, ok := m.TrackAt(c.TrackIndex); ok && c.ItemIndex+1 < len(track.Items) {
			next := timeline.NewCursor(c.Playlist, c.MontageIndex, c.TrackIndex)
			next.ItemIndex = c.ItemIndex + 1
			return next, true
		}
	}

	seqLen := s.cache.SequenceLen(s.playlist)
	nextMontage := c.MontageIndex + 1
	if nextMontage >= seqLen {
		loops := s.playlist == nil || s.playlist.Loop
		if !loops {
			return timeline.Cursor{}, false
		}
		nextMontage = 0
	}

	// Keep the viewer's track choice when crossing the montage boundary.
	s.overrides.Set(nextMontage, c.TrackIndex)
	return s.cursorAtLocked(nextMontage)
}

// maybePreloadLocked preloads the next position's asset into the idle slot
// once the current item is inside the lookahead window. A cooldown spaces
// out consecutive preloads so very short items cannot cause a storm.
func (s *Sequencer) maybePreloadLocked(ctx context.Context, duration, offset time.Duration) {
	if duration <= 0 || duration-offset > s.config.PreloadLookahead {
		return
	}
	now := s.clock.Now()
	if now.Before(s.cooldownUntil) {
		return
	}

	next, ok := s.nextCursorLocked(*s.cursor)
	if !ok {
		return
	}
	if s.havePreloaded && next.SamePosition(s.preloadedFor) {
		return
	}

	item, ok := s.resolver.ResolveItem(next)
	if !ok || item.Artwork == nil || item.Artwork.Kind == timeline.KindEmpty {
		return
	}

	// Mark the position before the fetch completes so later ticks do not
	// double-fire; a failed preload clears the mark for a retry. The fetch
	// itself runs off the tick goroutine: holding s.mu across a network
	// wait would freeze every transport command behind one slow asset.
	s.preloadedFor = next
	s.havePreloaded = true
	s.cooldownUntil = now.Add(s.config.PreloadCooldown)

	art := *item.Artwork
	go func() {
		if err := s.presenter.Preload(ctx, art); err != nil {
			s.logger.Warn("preloading next item failed",
				slog.Int64("artwork_id", art.ID),
				slog.String("error", err.Error()),
			)
			s.mu.Lock()
			if s.havePreloaded && next.SamePosition(s.preloadedFor) {
				s.havePreloaded = false
			}
			s.mu.Unlock()
		}
	}()
}

// GoNext advances to the next position immediately.
func (s *Sequencer) GoNext(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cursor == nil {
		return
	}

	item, ok := s.resolver.ResolveItem(*s.cursor)
	played := s.play.Offset()
	if ok {
		// Account the full loop as played so the global offset matches
		// the schedule, not the moment the viewer skipped.
		played = s.resolver.ItemDuration(*s.cursor, item)
	}
	s.advanceLocked(ctx, played)
}

// GoPrevious moves to the previous montage when the current item has been
// playing for no longer than the previous-window; otherwise it restarts
// the current montage at item 0.
func (s *Sequencer) GoPrevious(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cursor == nil {
		return
	}

	target := s.cursor.MontageIndex
	if s.play.Offset() <= s.config.PreviousWindow {
		target--
		if target < 0 {
			if s.playlist == nil || s.playlist.Loop {
				target = s.cache.SequenceLen(s.playlist) - 1
			} else {
				target = s.cursor.MontageIndex
			}
		}
		if target != s.cursor.MontageIndex {
			s.overrides.Set(target, s.cursor.TrackIndex)
		}
	}

	next, ok := s.cursorAtLocked(target)
	if !ok {
		return
	}
	next.GlobalOffset = s.cursor.GlobalOffset
	s.cursor = &next
	s.havePreloaded = false
	s.play.Start(0)
	s.displayLocked(ctx)
}

// GoMontage jumps to a montage by index. A non-nil track index is recorded
// in the override map before resolution. The jump always rebuilds a fresh
// cursor at item 0 and dispatches display, regardless of play/pause state.
func (s *Sequencer) GoMontage(ctx context.Context, montageIndex int, track *int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if track != nil {
		s.overrides.Set(montageIndex, *track)
	}

	next, ok := s.cursorAtLocked(montageIndex)
	if !ok {
		return
	}
	if s.cursor != nil {
		next.GlobalOffset = s.cursor.GlobalOffset
	}
	s.cursor = &next
	s.pendingMontage = montageIndex
	s.havePreloaded = false

	wasPaused := s.state == StatePaused
	s.play.Start(0)
	if wasPaused {
		s.play.Pause()
	}
	s.displayLocked(ctx)
}

// SetTrackOverride records an explicit track choice for a montage index
// without navigating.
func (s *Sequencer) SetTrackOverride(montageIndex, trackIndex int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overrides.Set(montageIndex, trackIndex)
}

// AssumeNewPlaylist installs a playlist (nil for ambient mode) and
// restarts scheduling at startMontage. A genuinely different playlist
// clears all track overrides and empties both presentation slots; a reload
// of the same playlist keeps them. Playback resumes automatically when it
// was already running, or when the playlist identity changed.
func (s *Sequencer) AssumeNewPlaylist(ctx context.Context, playlist *timeline.Playlist, startMontage int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wasPlaying := s.state == StatePlaying
	s.play.Stop()
	s.state = StateStopped

	changed := playlistIdentity(playlist) != playlistIdentity(s.playlist)
	if changed {
		s.overrides.Clear()
		s.presenter.Reset(ctx)
	}

	s.playlist = playlist
	s.pendingMontage = startMontage
	s.cursor = nil
	s.havePreloaded = false
	s.cooldownUntil = time.Time{}

	if wasPlaying || changed {
		s.play.Start(0)
		s.state = StatePlaying
	}

	s.logger.Info("playlist assumed",
		slog.Int64("playlist_id", playlistIdentity(playlist)),
		slog.Int("start_montage", startMontage),
		slog.Bool("changed", changed),
	)
}

// Playlist returns the active playlist, or nil in ambient mode.
func (s *Sequencer) Playlist() *timeline.Playlist {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playlist
}

func playlistIdentity(p *timeline.Playlist) int64 {
	if p == nil {
		return 0
	}
	return p.ID
}

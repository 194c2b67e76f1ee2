// Package engine assembles the playback pipeline: one explicitly
// constructed object owns the chunk fetcher, slot manager, sequencer, and
// snapshot store, and is torn down as a unit on shutdown. Nothing in the
// process reaches these through globals.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/wallplay/wallplay/internal/config"
	"github.com/wallplay/wallplay/internal/fetcher"
	"github.com/wallplay/wallplay/internal/httpclient"
	"github.com/wallplay/wallplay/internal/sequencer"
	"github.com/wallplay/wallplay/internal/slots"
	"github.com/wallplay/wallplay/internal/store"
	"github.com/wallplay/wallplay/internal/stream"
	"github.com/wallplay/wallplay/internal/timeline"
)

// Engine owns every long-lived playback component.
type Engine struct {
	config *config.Config
	logger *slog.Logger

	store     *store.Store
	snapshots *store.SnapshotRepository

	cache     *timeline.Cache
	resolver  *timeline.Resolver
	client    *httpclient.Client
	fetcher   *fetcher.Fetcher
	slots     *slots.Manager
	sequencer *sequencer.Sequencer

	cron      *cron.Cron
	startTime time.Time
	cancelRun context.CancelFunc
}

// New wires the engine from configuration. surfaces supplies the render
// surfaces behind the presentation slots.
func New(cfg *config.Config, surfaces slots.SurfaceFactory, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := store.Open(cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	// Range fetches go through a client with client-level retries off:
	// the fetcher's own policy governs chunk retries, and stacking the
	// two would multiply attempts.
	clientCfg := httpclient.DefaultConfig()
	clientCfg.Timeout = cfg.Fetcher.ChunkTimeout
	clientCfg.RetryAttempts = 0
	clientCfg.EnableDecompression = false
	clientCfg.Logger = logger
	client := httpclient.New(clientCfg)

	fetchCfg := fetcher.DefaultConfig()
	fetchCfg.MaxConcurrent = cfg.Fetcher.MaxConcurrentChunks
	fetchCfg.Timeout = cfg.Fetcher.ChunkTimeout
	fetchCfg.Retry = fetcher.RetryPolicy{
		MaxAttempts: cfg.Fetcher.RetryAttempts + 1,
		BaseDelay:   cfg.Fetcher.RetryBaseDelay,
	}
	fetchCfg.Logger = logger
	fetch := fetcher.New(client, fetchCfg)

	streamCfg := stream.DefaultConfig()
	streamCfg.ProbeSize = int64(cfg.Stream.ProbeSize)
	streamCfg.InitSegmentLimit = int64(cfg.Stream.InitSegmentLimit)
	streamCfg.ChunkSize = int64(cfg.Stream.ChunkSize)
	streamCfg.Lookahead = cfg.Stream.BufferLookahead
	streamCfg.Logger = logger
	streams := func(url string, sink stream.BufferSink) *stream.Session {
		return stream.NewSession(fetch, sink, url, streamCfg)
	}

	slotCfg := slots.DefaultConfig()
	slotCfg.DebounceWindow = cfg.Player.PreloadDebounce
	slotCfg.Logger = logger
	slotMgr := slots.NewManager(surfaces, streams, slotCfg)

	cache := timeline.NewCache()
	resolver := timeline.NewResolver(cache, cfg.Player.ScreenID, nil)

	seqCfg := sequencer.DefaultConfig()
	seqCfg.TickInterval = cfg.Player.TickInterval
	seqCfg.PreloadLookahead = cfg.Player.PreloadLookahead
	seqCfg.PreloadCooldown = cfg.Player.PreloadCooldown
	seqCfg.PreviousWindow = cfg.Player.PreviousWindow
	seqCfg.Logger = logger
	seq := sequencer.New(cache, resolver, slotMgr, seqCfg)

	e := &Engine{
		config:    cfg,
		logger:    logger.With(slog.String("component", "engine")),
		store:     db,
		snapshots: store.NewSnapshotRepository(db.DB()),
		cache:     cache,
		resolver:  resolver,
		client:    client,
		fetcher:   fetch,
		slots:     slotMgr,
		sequencer: seq,
		cron:      cron.New(cron.WithSeconds()),
		startTime: time.Now(),
	}

	slotMgr.SetFailureHandler(e.onAssetFailure)
	return e, nil
}

// onAssetFailure is told when an asset could not be delivered or shown
// after the slot manager's own retry. The schedule moves on; the viewer
// sees the next item instead of a frozen screen.
func (e *Engine) onAssetFailure(art timeline.Artwork, err error) {
	e.logger.Error("asset failed, advancing schedule",
		slog.Int64("artwork_id", art.ID),
		slog.String("filename", art.Filename),
		slog.String("error", err.Error()),
	)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	e.sequencer.GoNext(ctx)
}

// Start restores the last known timeline, schedules maintenance, and
// launches the sequencer's tick loop.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.restore(ctx); err != nil {
		// A corrupt snapshot must not stop the engine: the control
		// channel will push a fresh timeline.
		e.logger.Warn("restoring timeline failed", slog.String("error", err.Error()))
	}

	if e.config.Maintenance.Enabled {
		_, err := e.cron.AddFunc(e.config.Maintenance.Cron, e.runMaintenance)
		if err != nil {
			return fmt.Errorf("scheduling maintenance: %w", err)
		}
		e.cron.Start()
	}

	runCtx, cancel := context.WithCancel(context.Background())
	e.cancelRun = cancel
	go e.sequencer.Run(runCtx)

	e.logger.Info("engine started",
		slog.Duration("tick", e.config.Player.TickInterval),
		slog.String("screen_id", e.config.Player.ScreenID),
	)
	return nil
}

// Shutdown tears the engine down: sequencer stopped, slots cleared,
// fetches canceled, store closed.
func (e *Engine) Shutdown(ctx context.Context) error {
	if e.cancelRun != nil {
		e.cancelRun()
	}
	cronCtx := e.cron.Stop()
	select {
	case <-cronCtx.Done():
	case <-ctx.Done():
	}

	e.sequencer.Stop(ctx)
	e.slots.Reset(ctx)
	e.fetcher.Close()

	if err := e.store.Close(); err != nil {
		return fmt.Errorf("closing store: %w", err)
	}
	e.logger.Info("engine stopped")
	return nil
}

// restore reloads the montage cache and active playlist from the snapshot
// store, so playback resumes across restarts without waiting for the
// control channel.
func (e *Engine) restore(ctx context.Context) error {
	montages, err := e.snapshots.LatestMontages(ctx)
	if err != nil {
		return err
	}
	ambient := make([]int64, 0, len(montages))
	for _, snap := range montages {
		m, err := timeline.DecodeMontage(snap.Payload)
		if err != nil {
			e.logger.Warn("skipping undecodable montage snapshot",
				slog.Int64("montage_id", snap.MontageID),
				slog.String("error", err.Error()),
			)
			continue
		}
		e.cache.Put(m)
		ambient = append(ambient, m.ID)
	}
	e.cache.SetAmbientOrder(ambient)

	active, err := e.snapshots.ActivePlaylist(ctx)
	if err != nil {
		return err
	}
	if active == nil {
		return nil
	}

	playlist, inline, err := timeline.DecodePlaylist(active.Payload)
	if err != nil {
		return fmt.Errorf("decoding active playlist snapshot: %w", err)
	}
	for _, m := range inline {
		e.cache.Put(m)
	}
	e.sequencer.AssumeNewPlaylist(ctx, playlist, 0)

	e.logger.Info("timeline restored",
		slog.Int("montages", len(montages)),
		slog.Int64("playlist_id", playlist.ID),
	)
	return nil
}

// runMaintenance prunes stale snapshot revisions.
func (e *Engine) runMaintenance() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	result, err := e.snapshots.Prune(ctx,
		e.config.Maintenance.PlaylistRevisions,
		e.config.Maintenance.SnapshotRetention,
	)
	if err != nil {
		e.logger.Error("snapshot pruning failed", slog.String("error", err.Error()))
		return
	}
	if result.PlaylistRevisions > 0 || result.MontageRevisions > 0 {
		e.logger.Info("snapshots pruned",
			slog.Int64("playlist_revisions", result.PlaylistRevisions),
			slog.Int64("montage_revisions", result.MontageRevisions),
		)
	}
}

// IngestPlaylist decodes an inbound playlist document, persists it as the
// active revision, and hands it to the sequencer.
func (e *Engine) IngestPlaylist(ctx context.Context, raw []byte) (*timeline.Playlist, error) {
	playlist, montages, err := timeline.DecodePlaylist(raw)
	if err != nil {
		return nil, err
	}

	for _, m := range montages {
		e.cache.Put(m)
		if err := e.snapshotMontage(ctx, m); err != nil {
			return nil, err
		}
	}

	snap := &store.PlaylistSnapshot{
		PlaylistID: playlist.ID,
		Name:       playlist.Name,
		Active:     true,
		Payload:    raw,
	}
	if err := e.snapshots.SavePlaylist(ctx, snap); err != nil {
		return nil, fmt.Errorf("persisting playlist: %w", err)
	}

	e.sequencer.AssumeNewPlaylist(ctx, playlist, 0)
	return playlist, nil
}

// IngestMontage decodes a standalone montage document and adds it to the
// montage cache and the ambient order, as used in default ambient mode.
func (e *Engine) IngestMontage(ctx context.Context, raw []byte) (*timeline.Montage, error) {
	m, err := timeline.DecodeMontage(raw)
	if err != nil {
		return nil, err
	}
	e.cache.Put(m)

	order := e.cache.AmbientOrder()
	known := false
	for _, id := range order {
		if id == m.ID {
			known = true
			break
		}
	}
	if !known {
		e.cache.SetAmbientOrder(append(order, m.ID))
	}

	snap := &store.MontageSnapshot{
		MontageID: m.ID,
		Name:      m.Name,
		Payload:   raw,
	}
	if err := e.snapshots.SaveMontage(ctx, snap); err != nil {
		return nil, fmt.Errorf("persisting montage: %w", err)
	}
	return m, nil
}

// snapshotMontage persists one inline montage body from a playlist
// document.
func (e *Engine) snapshotMontage(ctx context.Context, m *timeline.Montage) error {
	payload, err := timeline.EncodeMontage(m)
	if err != nil {
		return fmt.Errorf("encoding montage %d: %w", m.ID, err)
	}
	snap := &store.MontageSnapshot{
		MontageID: m.ID,
		Name:      m.Name,
		Payload:   payload,
	}
	if err := e.snapshots.SaveMontage(ctx, snap); err != nil {
		return fmt.Errorf("persisting montage %d: %w", m.ID, err)
	}
	return nil
}

// Play starts or resumes playback; a non-nil offset restarts the clock at
// that position within the current item.
func (e *Engine) Play(ctx context.Context, offset *time.Duration) {
	e.sequencer.Play(ctx, offset)
}

// Pause freezes playback.
func (e *Engine) Pause(ctx context.Context) { e.sequencer.Pause(ctx) }

// Stop halts playback and discards the current position.
func (e *Engine) Stop(ctx context.Context) { e.sequencer.Stop(ctx) }

// Seek moves the playback position within the current item.
func (e *Engine) Seek(ctx context.Context, offset time.Duration) {
	e.sequencer.Seek(ctx, offset)
}

// Next advances to the next timeline position.
func (e *Engine) Next(ctx context.Context) { e.sequencer.GoNext(ctx) }

// Previous moves back per the previous-window rule.
func (e *Engine) Previous(ctx context.Context) { e.sequencer.GoPrevious(ctx) }

// GoMontage jumps to a montage by index, optionally pinning a track.
func (e *Engine) GoMontage(ctx context.Context, montageIndex int, track *int) {
	e.sequencer.GoMontage(ctx, montageIndex, track)
}

// SetVolume adjusts playback volume across the shown slots.
func (e *Engine) SetVolume(ctx context.Context, volume float64) {
	e.sequencer.SetVolume(ctx, volume)
}

// Status is a point-in-time snapshot of the engine for the control API.
type Status struct {
	State        string        `json:"state"`
	PlaylistID   int64         `json:"playlist_id,omitempty"`
	PlaylistName string        `json:"playlist_name,omitempty"`
	MontageIndex int           `json:"montage_index"`
	TrackIndex   int           `json:"track_index"`
	ItemIndex    int           `json:"item_index"`
	LoopIndex    int           `json:"loop_index"`
	GlobalOffset time.Duration `json:"global_offset"`
	Pending      int           `json:"pending_chunks"`
	Inflight     int           `json:"inflight_chunks"`
	Uptime       time.Duration `json:"uptime"`
}

// Status reports the engine's current playback position and fetch load.
func (e *Engine) Status() Status {
	st := Status{
		State:    e.sequencer.State().String(),
		Pending:  e.fetcher.Pending(),
		Inflight: e.fetcher.Inflight(),
		Uptime:   time.Since(e.startTime).Round(time.Second),
	}
	if p := e.sequencer.Playlist(); p != nil {
		st.PlaylistID = p.ID
		st.PlaylistName = p.Name
	}
	if c, ok := e.sequencer.Cursor(); ok {
		st.MontageIndex = c.MontageIndex
		st.TrackIndex = c.TrackIndex
		st.ItemIndex = c.ItemIndex
		st.LoopIndex = c.LoopIndex
		st.GlobalOffset = c.GlobalOffset
	}
	return st
}

// DB exposes the snapshot database for health checks.
func (e *Engine) DB() *store.Store { return e.store }

// Snapshots exposes the snapshot repository for revision listings.
func (e *Engine) Snapshots() *store.SnapshotRepository { return e.snapshots }

package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/wallplay/wallplay/internal/fetcher"
	"github.com/wallplay/wallplay/internal/httpclient"
)

// Errors returned by stream sessions.
var (
	// ErrNotFragmented reports that the asset carries no fragmentation
	// marker in its probe window. This is an expected fallback condition:
	// the caller switches to direct progressive delivery.
	ErrNotFragmented = errors.New("asset is not fragmented")

	// ErrInitFailed reports a failure while loading initialization
	// metadata. Init failures are fatal to the session.
	ErrInitFailed = errors.New("initialization load failed")

	// ErrOverlappingAppend reports a second append issued before the
	// previous append's completion was observed.
	ErrOverlappingAppend = errors.New("overlapping buffer append")

	// ErrDestroyed reports that the session was destroyed.
	ErrDestroyed = errors.New("stream session destroyed")
)

// BufferSink is the sequential append-only buffer a session delivers into.
// It models the player's internal decode buffer.
//
// Append blocks until the sink has committed the bytes; its return is the
// completion signal the session must observe before issuing the next
// append. BufferedAhead reports how much committed-but-unplayed content the
// sink currently holds.
type BufferSink interface {
	Append(ctx context.Context, data []byte) error
	BufferedAhead() time.Duration
	Release()
}

// Config holds stream session configuration.
type Config struct {
	// ProbeSize is how many leading bytes are scanned for the
	// fragmentation marker.
	ProbeSize int64

	// InitSegmentLimit bounds how large the initialization metadata may
	// be before the session refuses the asset.
	InitSegmentLimit int64

	// ChunkSize is the byte-range size per steady-state fetch.
	ChunkSize int64

	// Lookahead is the target amount of buffered-but-unplayed content.
	Lookahead time.Duration

	// PollInterval is how often the steady-state loop re-checks the
	// lookahead margin when the sink is ahead of target.
	PollInterval time.Duration

	// Priority is the queue priority for steady-state chunks.
	Priority fetcher.Priority

	// Logger is the structured logger.
	Logger *slog.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ProbeSize:        100 * 1024,
		InitSegmentLimit: 5 * 1024 * 1024,
		ChunkSize:        512 * 1024,
		Lookahead:        5 * time.Second,
		PollInterval:     200 * time.Millisecond,
		Priority:         fetcher.PriorityActive,
		Logger:           slog.Default(),
	}
}

// Session streams one asset into a buffer sink through the chunk fetcher.
type Session struct {
	id     uuid.UUID
	url    string
	fetch  *fetcher.Fetcher
	sink   BufferSink
	config Config
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	// appending guards the strict append ordering invariant.
	appending atomic.Bool

	totalSize int64
	offset    int64

	completed chan struct{}
	finishErr error
	finishOne sync.Once

	destroyOne sync.Once
}

// NewSession creates a session for one asset URL. Nothing is fetched until
// Start.
func NewSession(f *fetcher.Fetcher, sink BufferSink, url string, cfg Config) *Session {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 200 * time.Millisecond
	}
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.New()
	return &Session{
		id:        id,
		url:       url,
		fetch:     f,
		sink:      sink,
		config:    cfg,
		logger:    cfg.Logger.With(slog.String("session_id", id.String()[:8]), slog.String("url", url)),
		ctx:       ctx,
		cancel:    cancel,
		completed: make(chan struct{}),
	}
}

// ID returns the session identity.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// URL returns the asset URL this session delivers.
func (s *Session) URL() string {
	return s.url
}

// Start probes the asset, loads its initialization metadata, and launches
// the steady-state streaming loop.
//
// A missing fragmentation marker returns ErrNotFragmented without starting
// the loop; the caller falls back to progressive delivery. Failures while
// probing or loading initialization bytes are fatal and wrapped in
// ErrInitFailed.
func (s *Session) Start(ctx context.Context) error {
	header, err := s.fetch.Request(ctx, s.url, 0, s.config.ProbeSize-1, fetcher.PriorityInit)
	if err != nil {
		return fmt.Errorf("%w: probe: %v", ErrInitFailed, err)
	}
	s.totalSize = header.TotalSize

	// The probe window alone decides fragmentation: an asset whose first
	// fragment box starts beyond it cannot be delivered incrementally.
	end, ok := InitSegmentEnd(header.Data)
	if !ok {
		return ErrNotFragmented
	}
	if end > s.config.InitSegmentLimit {
		return fmt.Errorf("%w: initialization metadata spans %d bytes, limit %d", ErrInitFailed, end, s.config.InitSegmentLimit)
	}

	init := header.Data[:end]
	if err := s.append(ctx, init); err != nil {
		return fmt.Errorf("%w: appending init segment: %v", ErrInitFailed, err)
	}
	s.offset = int64(len(init))

	go s.streamLoop()
	return nil
}

// streamLoop keeps the sink's lookahead at target until the asset is fully
// delivered or the session is destroyed. A failed mid-stream chunk is
// logged and skipped; a single bad chunk must not kill an otherwise
// playable stream.
func (s *Session) streamLoop() {
	for {
		if s.ctx.Err() != nil {
			s.finish(ErrDestroyed)
			return
		}
		if s.totalSize > 0 && s.offset >= s.totalSize {
			s.finish(nil)
			return
		}

		if s.sink.BufferedAhead() >= s.config.Lookahead {
			select {
			case <-s.ctx.Done():
				s.finish(ErrDestroyed)
				return
			case <-time.After(s.config.PollInterval):
			}
			continue
		}

		end := s.offset + s.config.ChunkSize - 1
		if s.totalSize > 0 && end >= s.totalSize {
			end = s.totalSize - 1
		}

		res, err := s.fetch.Request(s.ctx, s.url, s.offset, end, s.config.Priority)
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, fetcher.ErrCanceled) {
				s.finish(ErrDestroyed)
				return
			}
			// When the server never reported a total size this range has
			// run past the end of the asset: delivery is complete.
			if errors.Is(err, httpclient.ErrRangeNotSatisfied) {
				s.finish(nil)
				return
			}
			s.logger.Warn("mid-stream chunk failed, skipping",
				slog.Int64("start", s.offset),
				slog.Int64("end", end),
				slog.String("error", err.Error()),
			)
			s.offset = end + 1
			continue
		}

		// An empty chunk is the other way a size-withholding server
		// signals end of asset.
		if len(res.Data) == 0 {
			s.finish(nil)
			return
		}

		if err := s.append(s.ctx, res.Data); err != nil {
			// The sink rejected bytes: fatal to this session, surfaced
			// through Err for the slot manager to act on.
			s.finish(fmt.Errorf("sink append: %w", err))
			return
		}
		s.offset += int64(len(res.Data))

		if res.TotalSize > 0 {
			s.totalSize = res.TotalSize
		}
	}
}

// append delivers one chunk and waits for the sink's completion signal.
// Overlapping appends for a single sink are a hard invariant violation.
func (s *Session) append(ctx context.Context, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if !s.appending.CompareAndSwap(false, true) {
		return ErrOverlappingAppend
	}
	defer s.appending.Store(false)
	return s.sink.Append(ctx, data)
}

// finish records the session outcome and signals completion once.
func (s *Session) finish(err error) {
	s.finishOne.Do(func() {
		s.finishErr = err
		close(s.completed)

		if err == nil {
			s.logger.Debug("stream complete", slog.Int64("bytes", s.offset))
		}
	})
}

// Done is closed when the session completes, fails, or is destroyed.
func (s *Session) Done() <-chan struct{} {
	return s.completed
}

// Err returns the terminal outcome after Done is closed: nil for a
// completed stream, ErrDestroyed after Destroy, or the fatal sink error.
func (s *Session) Err() error {
	select {
	case <-s.completed:
		return s.finishErr
	default:
		return nil
	}
}

// Destroy cancels outstanding fetches for this asset's URL and releases
// the sink. Fetches belonging to other URLs are unaffected.
func (s *Session) Destroy() {
	s.destroyOne.Do(func() {
		s.cancel()
		s.fetch.CancelURL(s.url)
		s.sink.Release()
		s.finish(ErrDestroyed)
	})
}

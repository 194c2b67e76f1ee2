package slots

import (
	"context"
	"log/slog"
	"time"

	"github.com/wallplay/wallplay/internal/timeline"
)

// LogSurface is a headless Surface that logs every operation. It backs
// the slots when no renderer bridge is attached, keeping the engine
// runnable on hosts without an output device.
type LogSurface struct {
	logger *slog.Logger
}

// NewLogSurface creates a log-only surface for the named slot.
func NewLogSurface(kind timeline.MediaKind, slotName string, logger *slog.Logger) *LogSurface {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSurface{
		logger: logger.With(
			slog.String("component", "surface"),
			slog.String("kind", string(kind)),
			slog.String("slot", slotName),
		),
	}
}

func (s *LogSurface) Preload(ctx context.Context, art timeline.Artwork) error {
	s.logger.Debug("preload",
		slog.Int64("artwork_id", art.ID),
		slog.String("filename", art.Filename),
	)
	return nil
}

func (s *LogSurface) Show(ctx context.Context) error {
	s.logger.Debug("show")
	return nil
}

func (s *LogSurface) Hide(ctx context.Context) error {
	s.logger.Debug("hide")
	return nil
}

func (s *LogSurface) Pause(ctx context.Context) error {
	s.logger.Debug("pause")
	return nil
}

func (s *LogSurface) Resume(ctx context.Context) error {
	s.logger.Debug("resume")
	return nil
}

func (s *LogSurface) SetVolume(ctx context.Context, volume float64) error {
	s.logger.Debug("set volume", slog.Float64("volume", volume))
	return nil
}

func (s *LogSurface) Seek(ctx context.Context, offset time.Duration) error {
	s.logger.Debug("seek", slog.Duration("offset", offset))
	return nil
}

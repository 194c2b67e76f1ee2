// Package slots manages the double-buffered presentation slots that sit
// between the sequencer and the render surfaces. Each media kind owns a
// pair of interchangeable slots; content is preloaded into the hidden slot
// and made visible with a flip, so the viewer never watches an asset
// buffer from scratch.
package slots

import (
	"context"
	"time"

	"github.com/wallplay/wallplay/internal/stream"
	"github.com/wallplay/wallplay/internal/timeline"
)

// Surface is the render-surface contract a slot drives. Implementations
// live outside this process (a player page, a projector bridge); the slot
// manager only assumes the operations below.
type Surface interface {
	// Preload binds an asset to the surface without making it visible.
	// It returns once the surface has accepted the binding; buffering
	// continues in the background.
	Preload(ctx context.Context, art timeline.Artwork) error

	// Show makes the surface visible and starts playback.
	Show(ctx context.Context) error

	// Hide pauses the surface and removes it from view.
	Hide(ctx context.Context) error

	// Pause freezes playback without changing visibility.
	Pause(ctx context.Context) error

	// Resume continues playback after Pause or a stall.
	Resume(ctx context.Context) error

	// SetVolume adjusts the surface volume in [0, 1].
	SetVolume(ctx context.Context, volume float64) error

	// Seek moves the surface's playback position.
	Seek(ctx context.Context, offset time.Duration) error
}

// BufferSurface is implemented by surfaces that accept chunked delivery
// through a stream session instead of fetching the asset themselves.
type BufferSurface interface {
	Surface

	// Sink returns the append-only buffer a stream session delivers
	// into. Each Preload binds a fresh sink.
	Sink() stream.BufferSink
}

// SurfaceFactory builds the surface backing one slot. It is called twice
// per media kind, once for each slot name.
type SurfaceFactory func(kind timeline.MediaKind, slotName string) Surface

// Package timeline defines the playback data model: playlists, montages,
// tracks, items, and the cursor that addresses a position within them.
// All model values are constructed once from inbound control data and are
// read-only afterward; only Cursor values are produced per transition.
package timeline

import (
	"net/url"
	"path"
	"strings"
	"time"
)

// MediaKind classifies a playable asset. The kind is decided once at
// ingestion time from explicit metadata; KindFromFilename exists as a
// last-resort constructor for records that carry no kind field.
type MediaKind string

// Supported media kinds.
const (
	KindVideo MediaKind = "video"
	KindImage MediaKind = "image"
	KindAudio MediaKind = "audio"
	KindHTML  MediaKind = "html"
	KindText  MediaKind = "text"

	// KindEmpty marks a bare shape overlay with no artwork body.
	KindEmpty MediaKind = "empty"
)

// Valid reports whether k is a known media kind.
func (k MediaKind) Valid() bool {
	switch k {
	case KindVideo, KindImage, KindAudio, KindHTML, KindText, KindEmpty:
		return true
	}
	return false
}

// extensionKinds maps lowercase filename extensions to media kinds.
var extensionKinds = map[string]MediaKind{
	".mp4":  KindVideo,
	".m4v":  KindVideo,
	".mov":  KindVideo,
	".webm": KindVideo,
	".jpg":  KindImage,
	".jpeg": KindImage,
	".png":  KindImage,
	".gif":  KindImage,
	".webp": KindImage,
	".mp3":  KindAudio,
	".m4a":  KindAudio,
	".aac":  KindAudio,
	".wav":  KindAudio,
	".html": KindHTML,
	".htm":  KindHTML,
	".txt":  KindText,
}

// KindFromFilename sniffs a media kind from a filename extension.
// This is a documented last resort for inbound records without an explicit
// kind; callers should prefer the kind field whenever it is present.
func KindFromFilename(name string) (MediaKind, bool) {
	kind, ok := extensionKinds[strings.ToLower(path.Ext(name))]
	return kind, ok
}

// Artwork is an immutable description of a playable asset.
// The only post-construction mutation is the one-time URL normalization
// performed by NewArtwork.
type Artwork struct {
	// ID is the globally stable artwork identity.
	ID int64

	// Kind is the media kind, decided at ingestion.
	Kind MediaKind

	// URL is the normalized source URL.
	URL string

	// Codec is an optional codec hint (e.g. "hvc1").
	Codec string

	// Filename is the original asset filename.
	Filename string

	// Duration is the asset's natural duration. Zero means unknown, in
	// which case the enclosing item's duration applies.
	Duration time.Duration
}

// NewArtwork constructs an Artwork, normalizing the source URL once.
// If kind is empty or unknown, the filename extension is sniffed as a
// last resort; assets that still cannot be classified become KindEmpty.
func NewArtwork(id int64, kind MediaKind, rawURL, codec, filename string, duration time.Duration) Artwork {
	if !kind.Valid() || kind == "" {
		if sniffed, ok := KindFromFilename(filename); ok {
			kind = sniffed
		} else {
			kind = KindEmpty
		}
	}

	return Artwork{
		ID:       id,
		Kind:     kind,
		URL:      normalizeURL(rawURL),
		Codec:    codec,
		Filename: filename,
		Duration: duration,
	}
}

// normalizeURL trims whitespace and re-encodes the URL through net/url so
// that equal assets compare equal by URL string. Unparseable URLs are kept
// verbatim; the fetcher will surface the failure.
func normalizeURL(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return trimmed
	}
	return u.String()
}

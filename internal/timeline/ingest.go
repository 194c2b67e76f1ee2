package timeline

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Inbound timeline records arrive as nested JSON from the control channel.
// Producers are loose about scalar types: numbers and booleans may arrive as
// strings, durations as fractional seconds. The flex types below coerce all
// accepted shapes at decode time so the model only ever sees typed values.

// flexInt64 decodes from a JSON number or numeric string.
type flexInt64 int64

func (f *flexInt64) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		// Some producers send integral floats like 5.0.
		fl, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil || fl != math.Trunc(fl) {
			return fmt.Errorf("invalid integer %q", s)
		}
		n = int64(fl)
	}
	*f = flexInt64(n)
	return nil
}

// flexBool decodes from a JSON bool, number, or string form of either.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	s := strings.ToLower(strings.Trim(string(data), `"`))
	switch s {
	case "true", "1":
		*f = true
	case "false", "0", "", "null":
		*f = false
	default:
		return fmt.Errorf("invalid boolean %q", s)
	}
	return nil
}

// flexSeconds decodes a duration expressed as (possibly fractional, possibly
// string-wrapped) seconds.
type flexSeconds time.Duration

func (f *flexSeconds) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	secs, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid duration %q", s)
	}
	*f = flexSeconds(time.Duration(secs * float64(time.Second)))
	return nil
}

// ArtworkRecord is the inbound shape of an artwork.
type ArtworkRecord struct {
	ID       flexInt64   `json:"id"`
	Kind     string      `json:"kind"`
	URL      string      `json:"url"`
	Codec    string      `json:"codec"`
	Filename string      `json:"filename"`
	Duration flexSeconds `json:"duration"`
}

// ItemRecord is the inbound shape of a track item.
type ItemRecord struct {
	Offset             flexSeconds    `json:"offset"`
	Duration           flexSeconds    `json:"duration"`
	Repeat             flexInt64      `json:"repeat"`
	LastRepeatDuration flexSeconds    `json:"last_repeat_duration"`
	Artwork            *ArtworkRecord `json:"artwork"`
}

// TrackRecord is the inbound shape of a track.
type TrackRecord struct {
	Screens []string     `json:"screens"`
	Items   []ItemRecord `json:"items"`
}

// MontageRecord is the inbound shape of a montage.
type MontageRecord struct {
	ID           flexInt64            `json:"id"`
	Name         string               `json:"name"`
	ScreenTracks map[string]flexInt64 `json:"screen_tracks"`
	Tracks       []TrackRecord        `json:"tracks"`
}

// PlaylistRecord is the inbound shape of a playlist. Montage bodies may be
// inlined under "montages" or referenced by id under "montage_ids"; either
// form yields the same playlist, with inlined bodies destined for the cache.
type PlaylistRecord struct {
	ID         flexInt64       `json:"id"`
	Name       string          `json:"name"`
	Loop       flexBool        `json:"loop"`
	Random     flexBool        `json:"random"`
	Montages   []MontageRecord `json:"montages"`
	MontageIDs []flexInt64     `json:"montage_ids"`
}

// DecodePlaylist decodes an inbound playlist document into a Playlist plus
// the montage bodies it carried inline. The caller stores the bodies in the
// shared cache.
func DecodePlaylist(data []byte) (*Playlist, []*Montage, error) {
	var rec PlaylistRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, nil, fmt.Errorf("decoding playlist: %w", err)
	}
	return BuildPlaylist(rec)
}

// BuildPlaylist converts a decoded playlist record into model values.
func BuildPlaylist(rec PlaylistRecord) (*Playlist, []*Montage, error) {
	if rec.ID == 0 {
		return nil, nil, fmt.Errorf("playlist is missing a stable id")
	}

	playlist := &Playlist{
		ID:     int64(rec.ID),
		Name:   rec.Name,
		Loop:   bool(rec.Loop),
		Random: bool(rec.Random),
	}

	montages := make([]*Montage, 0, len(rec.Montages))
	for i, mrec := range rec.Montages {
		m, err := BuildMontage(mrec)
		if err != nil {
			return nil, nil, fmt.Errorf("montage %d: %w", i, err)
		}
		montages = append(montages, m)
		playlist.MontageIDs = append(playlist.MontageIDs, m.ID)
	}
	for _, id := range rec.MontageIDs {
		playlist.MontageIDs = append(playlist.MontageIDs, int64(id))
	}

	if len(playlist.MontageIDs) == 0 {
		return nil, nil, fmt.Errorf("playlist %d references no montages", playlist.ID)
	}

	return playlist, montages, nil
}

// DecodeMontage decodes a standalone montage document, as received in
// default ambient mode where montages are addressed directly by the cache.
func DecodeMontage(data []byte) (*Montage, error) {
	var rec MontageRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decoding montage: %w", err)
	}
	return BuildMontage(rec)
}

// Outbound shapes mirror the inbound records with durations rendered as
// fractional seconds, so an encoded montage round-trips through
// DecodeMontage when a snapshot is restored.

type artworkOut struct {
	ID       int64   `json:"id"`
	Kind     string  `json:"kind"`
	URL      string  `json:"url,omitempty"`
	Codec    string  `json:"codec,omitempty"`
	Filename string  `json:"filename,omitempty"`
	Duration float64 `json:"duration,omitempty"`
}

type itemOut struct {
	Offset             float64     `json:"offset"`
	Duration           float64     `json:"duration,omitempty"`
	Repeat             int         `json:"repeat,omitempty"`
	LastRepeatDuration float64     `json:"last_repeat_duration,omitempty"`
	Artwork            *artworkOut `json:"artwork,omitempty"`
}

type trackOut struct {
	Screens []string  `json:"screens,omitempty"`
	Items   []itemOut `json:"items"`
}

type montageOut struct {
	ID           int64            `json:"id"`
	Name         string           `json:"name,omitempty"`
	ScreenTracks map[string]int64 `json:"screen_tracks,omitempty"`
	Tracks       []trackOut       `json:"tracks"`
}

func seconds(d time.Duration) float64 {
	return float64(d) / float64(time.Second)
}

// EncodeMontage serializes a montage into the inbound document shape.
func EncodeMontage(m *Montage) ([]byte, error) {
	out := montageOut{ID: m.ID, Name: m.Name}
	if len(m.ScreenTracks) > 0 {
		out.ScreenTracks = make(map[string]int64, len(m.ScreenTracks))
		for screen, idx := range m.ScreenTracks {
			out.ScreenTracks[screen] = int64(idx)
		}
	}
	for _, track := range m.Tracks {
		t := trackOut{Screens: track.Screens, Items: make([]itemOut, 0, len(track.Items))}
		for _, item := range track.Items {
			it := itemOut{
				Offset:             seconds(item.Offset),
				Duration:           seconds(item.Duration),
				Repeat:             item.Repeat,
				LastRepeatDuration: seconds(item.LastRepeatDuration),
			}
			if item.Artwork != nil {
				it.Artwork = &artworkOut{
					ID:       item.Artwork.ID,
					Kind:     string(item.Artwork.Kind),
					URL:      item.Artwork.URL,
					Codec:    item.Artwork.Codec,
					Filename: item.Artwork.Filename,
					Duration: seconds(item.Artwork.Duration),
				}
			}
			t.Items = append(t.Items, it)
		}
		out.Tracks = append(out.Tracks, t)
	}
	return json.Marshal(out)
}

// BuildMontage converts a decoded montage record into a model value.
// Item offsets must be monotonic within each track; a violation is a
// structural error surfaced to the caller, not silently reordered.
func BuildMontage(rec MontageRecord) (*Montage, error) {
	if rec.ID == 0 {
		return nil, fmt.Errorf("montage is missing a stable id")
	}

	m := &Montage{
		ID:   int64(rec.ID),
		Name: rec.Name,
	}

	if len(rec.ScreenTracks) > 0 {
		m.ScreenTracks = make(map[string]int, len(rec.ScreenTracks))
		for screen, idx := range rec.ScreenTracks {
			m.ScreenTracks[screen] = int(idx)
		}
	}

	for ti, trec := range rec.Tracks {
		track := Track{Screens: trec.Screens}
		lastOffset := time.Duration(-1)
		for ii, irec := range trec.Items {
			offset := time.Duration(irec.Offset)
			if offset < 0 || offset <= lastOffset && ii > 0 {
				return nil, fmt.Errorf("track %d item %d: offsets must be monotonic", ti, ii)
			}
			lastOffset = offset

			var artwork *Artwork
			if irec.Artwork != nil {
				a := NewArtwork(
					int64(irec.Artwork.ID),
					MediaKind(irec.Artwork.Kind),
					irec.Artwork.URL,
					irec.Artwork.Codec,
					irec.Artwork.Filename,
					time.Duration(irec.Artwork.Duration),
				)
				artwork = &a
			}

			track.Items = append(track.Items, NewItem(
				artwork,
				offset,
				time.Duration(irec.Duration),
				int(irec.Repeat),
				time.Duration(irec.LastRepeatDuration),
			))
		}
		m.Tracks = append(m.Tracks, track)
	}

	return m, nil
}

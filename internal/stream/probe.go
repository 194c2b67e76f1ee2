// Package stream delivers one asset's bytes into a sequential append-only
// buffer sink, pulling byte ranges through the shared chunk fetcher.
package stream

import (
	"encoding/binary"
)

// Container box types relevant to the probe.
const (
	boxTypeMoof = "moof"
	boxTypeMoov = "moov"
	boxHeader   = 8
)

// boxScanner walks ISO-BMFF box records: a 4-byte big-endian size followed
// by a 4-character ASCII type, with size==1 extending to a 64-bit size.
// The scan is tolerant of truncation: a partial trailing box ends the walk.
type boxScanner struct {
	data []byte
	pos  int
}

// next returns the next box type and its total size. ok is false when no
// complete header remains or the record is malformed.
func (s *boxScanner) next() (boxType string, size int64, ok bool) {
	if s.pos+boxHeader > len(s.data) {
		return "", 0, false
	}

	size = int64(binary.BigEndian.Uint32(s.data[s.pos:]))
	boxType = string(s.data[s.pos+4 : s.pos+boxHeader])
	headerLen := int64(boxHeader)

	if size == 1 {
		// Extended 64-bit size.
		if s.pos+16 > len(s.data) {
			return "", 0, false
		}
		size = int64(binary.BigEndian.Uint64(s.data[s.pos+boxHeader:]))
		headerLen = 16
	}

	if size < headerLen || !plausibleBoxType(boxType) {
		// Malformed record; stop scanning rather than walk garbage.
		return "", 0, false
	}

	s.pos += int(size)
	return boxType, size, true
}

// plausibleBoxType reports whether all four type characters are printable
// ASCII, which every real box type satisfies.
func plausibleBoxType(t string) bool {
	for i := 0; i < len(t); i++ {
		if t[i] < 0x20 || t[i] > 0x7e {
			return false
		}
	}
	return len(t) == 4
}

// isFragmented scans a leading slice of an asset for a movie-fragment box.
// Absence within the probe window means the asset cannot be delivered by
// incremental append and the caller should fall back to progressive
// delivery. This is an expected outcome, not an error.
func isFragmented(data []byte) bool {
	s := boxScanner{data: data}
	for {
		boxType, _, ok := s.next()
		if !ok {
			return false
		}
		if boxType == boxTypeMoof {
			return true
		}
	}
}

// InitSegmentEnd returns the byte offset where the initialization metadata
// ends: the position of the first movie-fragment box. ok is false when no
// fragment box starts within data, meaning more leading bytes are needed to
// cover the initialization segment.
func InitSegmentEnd(data []byte) (int64, bool) {
	s := boxScanner{data: data}
	for {
		start := int64(s.pos)
		boxType, _, ok := s.next()
		if !ok {
			return 0, false
		}
		if boxType == boxTypeMoof {
			return start, true
		}
	}
}

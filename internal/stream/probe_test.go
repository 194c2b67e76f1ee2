package stream

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// box builds an ISO-BMFF box with the given type and payload length.
func box(boxType string, payloadLen int) []byte {
	b := make([]byte, boxHeader+payloadLen)
	binary.BigEndian.PutUint32(b, uint32(len(b)))
	copy(b[4:], boxType)
	return b
}

// largeBox builds a box using the 64-bit extended size form.
func largeBox(boxType string, payloadLen int) []byte {
	b := make([]byte, 16+payloadLen)
	binary.BigEndian.PutUint32(b, 1)
	copy(b[4:], boxType)
	binary.BigEndian.PutUint64(b[8:], uint64(len(b)))
	return b
}

func concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func TestIsFragmented(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		expected bool
	}{
		{
			"fragmented asset",
			concat(box("ftyp", 16), box("moov", 120), box("moof", 64), box("mdat", 256)),
			true,
		},
		{
			"plain mp4 without fragments",
			concat(box("ftyp", 16), box("moov", 120), box("mdat", 4096)),
			false,
		},
		{
			"fragment behind extended-size box",
			concat(box("ftyp", 16), largeBox("moov", 64), box("moof", 32)),
			true,
		},
		{"empty buffer", nil, false},
		{"truncated header", []byte{0, 0, 0, 20, 'm', 'o'}, false},
		{"garbage", []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}, false},
		{
			"undersized box stops the walk",
			concat([]byte{0, 0, 0, 4, 'f', 't', 'y', 'p'}, box("moof", 8)),
			false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, isFragmented(tt.data))
		})
	}
}

func TestIsFragmentedTruncatedTail(t *testing.T) {
	// A moof whose declared size extends past the probe window still
	// counts: the marker's presence is what matters.
	data := concat(box("ftyp", 8), box("moof", 512))
	assert.True(t, isFragmented(data[:len(data)-200]))
}

func TestInitSegmentEnd(t *testing.T) {
	ftyp := box("ftyp", 16)
	moov := box("moov", 300)
	moof := box("moof", 64)

	data := concat(ftyp, moov, moof, box("mdat", 128))
	end, ok := InitSegmentEnd(data)
	require.True(t, ok)
	assert.Equal(t, int64(len(ftyp)+len(moov)), end)

	// No fragment visible yet: caller needs more bytes.
	_, ok = InitSegmentEnd(concat(ftyp, moov))
	assert.False(t, ok)

	_, ok = InitSegmentEnd(nil)
	assert.False(t, ok)
}

func TestPlausibleBoxType(t *testing.T) {
	assert.True(t, plausibleBoxType("moof"))
	assert.True(t, plausibleBoxType("ftyp"))
	assert.False(t, plausibleBoxType("mo"))
	assert.False(t, plausibleBoxType(string([]byte{0, 'a', 'b', 'c'})))
	assert.False(t, plausibleBoxType(string([]byte{0xff, 0xfe, 0x01, 0x02})))
}

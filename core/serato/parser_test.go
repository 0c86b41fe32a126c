package serato

import (
	"encoding/binary"
	"testing"
	"unicode/utf16"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// encodeUTF16BE 构造大端 UTF-16 文本，带终止零码元
func encodeUTF16BE(s string) []byte {
	units := utf16.Encode([]rune(s))
	out := make([]byte, 0, len(units)*2+2)
	for _, u := range units {
		out = binary.BigEndian.AppendUint16(out, u)
	}
	return binary.BigEndian.AppendUint16(out, 0)
}

func buildField(id uint32, value []byte) []byte {
	out := binary.BigEndian.AppendUint32(nil, id)
	out = binary.BigEndian.AppendUint32(out, uint32(len(value)))
	return append(out, value...)
}

func buildU32Field(id uint32, value uint32) []byte {
	return buildField(id, binary.BigEndian.AppendUint32(nil, value))
}

func buildChunk(tag string, payload []byte) []byte {
	out := []byte(tag)
	out = binary.BigEndian.AppendUint32(out, uint32(len(payload)))
	return append(out, payload...)
}

func buildOent(fields ...[]byte) []byte {
	var adat []byte
	for _, f := range fields {
		adat = append(adat, f...)
	}
	return buildChunk(chunkOent, buildChunk(chunkAdat, adat))
}

func TestParseSessionBytesFullEntry(t *testing.T) {
	buf := buildOent(
		buildField(fieldTitle, encodeUTF16BE("Strobe")),
		buildField(fieldArtist, encodeUTF16BE("Deadmau5")),
		buildField(fieldAlbum, encodeUTF16BE("For Lack of a Better Name")),
		buildField(fieldGenre, encodeUTF16BE("Progressive House")),
		buildField(fieldBPM, encodeUTF16BE("128.00")),
		buildField(fieldKey, encodeUTF16BE("Bm")),
		buildU32Field(fieldStartTime, 1700000000),
		buildU32Field(fieldDeck, 1),
	)

	entries := ParseSessionBytes(buf)
	require.Len(t, entries, 1)

	e := entries[0]
	assert.Equal(t, "Strobe", e.Title)
	assert.Equal(t, "Deadmau5", e.Artist)
	assert.Equal(t, "For Lack of a Better Name", e.Album)
	assert.Equal(t, "Progressive House", e.Genre)
	assert.Equal(t, 128.0, e.BPM)
	assert.Equal(t, "Bm", e.Key)
	assert.Equal(t, 1700000000, e.StartTime)
	assert.Equal(t, 1, e.Deck)
}

func TestParseSessionBytesMultipleEntriesAndForeignChunks(t *testing.T) {
	buf := buildChunk("vrsn", encodeUTF16BE("1.0/Serato Scratch LIVE Review"))
	buf = append(buf, buildOent(
		buildField(fieldTitle, encodeUTF16BE("One More Time")),
		buildU32Field(fieldDeck, 1),
	)...)
	buf = append(buf, buildChunk("uent", []byte{0xde, 0xad})...)
	buf = append(buf, buildOent(
		buildField(fieldTitle, encodeUTF16BE("Around the World")),
		buildU32Field(fieldDeck, 2),
	)...)

	entries := ParseSessionBytes(buf)
	require.Len(t, entries, 2)
	assert.Equal(t, "One More Time", entries[0].Title)
	assert.Equal(t, 1, entries[0].Deck)
	assert.Equal(t, "Around the World", entries[1].Title)
	assert.Equal(t, 2, entries[1].Deck)
}

func TestParseSessionBytesTruncatedKeepsCompleteEntries(t *testing.T) {
	complete := buildOent(buildField(fieldTitle, encodeUTF16BE("Strobe")))
	partial := buildOent(buildField(fieldTitle, encodeUTF16BE("Ghosts n Stuff")))

	// 第二条记录只写入一半，模拟边写边读
	buf := append(complete, partial[:len(partial)-6]...)

	entries := ParseSessionBytes(buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "Strobe", entries[0].Title)
}

func TestParseSessionBytesUnknownFieldsSkipped(t *testing.T) {
	buf := buildOent(
		buildField(999, []byte{0x01, 0x02, 0x03}),
		buildField(fieldTitle, encodeUTF16BE("Strobe")),
		buildU32Field(77, 42),
	)

	entries := ParseSessionBytes(buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "Strobe", entries[0].Title)
}

func TestParseSessionBytesNonNumericBPM(t *testing.T) {
	buf := buildOent(
		buildField(fieldTitle, encodeUTF16BE("Strobe")),
		buildField(fieldBPM, encodeUTF16BE("fast")),
	)

	entries := ParseSessionBytes(buf)
	require.Len(t, entries, 1)
	assert.Equal(t, 0.0, entries[0].BPM)
}

func TestParseSessionBytesMissingFieldsDefaultToZeroValues(t *testing.T) {
	buf := buildOent(buildField(fieldArtist, encodeUTF16BE("Deadmau5")))

	entries := ParseSessionBytes(buf)
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, "", e.Title)
	assert.Equal(t, "Deadmau5", e.Artist)
	assert.Equal(t, 0, e.Deck)
	assert.Equal(t, 0.0, e.BPM)
}

func TestParseSessionBytesOentWithoutAdatIgnored(t *testing.T) {
	buf := buildChunk(chunkOent, []byte("junk payload"))
	buf = append(buf, buildOent(buildField(fieldTitle, encodeUTF16BE("Strobe")))...)

	entries := ParseSessionBytes(buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "Strobe", entries[0].Title)
}

func TestParseSessionBytesEmptyAndGarbage(t *testing.T) {
	assert.Empty(t, ParseSessionBytes(nil))
	assert.Empty(t, ParseSessionBytes([]byte{0x01, 0x02, 0x03}))
}

func TestDecodeUTF16BEStopsAtNullUnit(t *testing.T) {
	raw := encodeUTF16BE("ab")
	raw = append(raw, encodeUTF16BE("cd")...)
	assert.Equal(t, "ab", decodeUTF16BE(raw))

	// 非 ASCII 码元
	assert.Equal(t, "北京", decodeUTF16BE(encodeUTF16BE("北京")))
}

func TestDecodeU32ShortBuffer(t *testing.T) {
	assert.Equal(t, uint32(0), decodeU32([]byte{0x01, 0x02}))
	assert.Equal(t, uint32(0x01020304), decodeU32([]byte{0x01, 0x02, 0x03, 0x04}))
}

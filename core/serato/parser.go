package serato

import (
	"encoding/binary"
	"strconv"
	"unicode/utf16"

	"BridgeFM/model"
)

// Serato session 文件是扁平的块序列：
// 4 字节 ASCII 标签 + 4 字节大端长度 + 载荷
// 曲目记录在 "oent" 块里，载荷是一个 "adat" 块，内部为
// 4 字节大端字段号 + 4 字节大端长度 + 值 的字段序列
const (
	chunkOent = "oent"
	chunkAdat = "adat"
)

// adat 字段号
const (
	fieldTitle     = 2
	fieldArtist    = 6
	fieldAlbum     = 8
	fieldGenre     = 10
	fieldBPM       = 13 // 文本形式的 BPM
	fieldKey       = 29
	fieldStartTime = 31 // u32
	fieldDeck      = 52 // u32
)

// ParseSessionBytes 从 session 文件字节流解析曲目记录
// 纯函数，永不报错；残缺输入返回已解析出的部分结果
func ParseSessionBytes(buf []byte) []model.SeratoEntry {
	var entries []model.SeratoEntry

	off := 0
	for off+8 <= len(buf) {
		tag := string(buf[off : off+4])
		length := int(binary.BigEndian.Uint32(buf[off+4 : off+8]))
		off += 8

		if length < 0 || off+length > len(buf) {
			// 块头声称的长度超出剩余字节，文件被截断，保留已有结果
			break
		}

		if tag == chunkOent {
			if entry, ok := parseOent(buf[off : off+length]); ok {
				entries = append(entries, entry)
			}
		}
		off += length
	}
	return entries
}

// parseOent 解析一个 oent 块载荷，内部应是一个 adat 块
func parseOent(buf []byte) (model.SeratoEntry, bool) {
	if len(buf) < 8 || string(buf[:4]) != chunkAdat {
		return model.SeratoEntry{}, false
	}

	length := int(binary.BigEndian.Uint32(buf[4:8]))
	body := buf[8:]
	if length < len(body) {
		body = body[:length]
	}
	return parseAdat(body), true
}

// parseAdat 解析 adat 字段序列，未知字段跳过，字段顺序不限
func parseAdat(buf []byte) model.SeratoEntry {
	var entry model.SeratoEntry

	off := 0
	for off+8 <= len(buf) {
		fieldID := int(binary.BigEndian.Uint32(buf[off : off+4]))
		length := int(binary.BigEndian.Uint32(buf[off+4 : off+8]))
		off += 8

		if length < 0 || off+length > len(buf) {
			// 字段声称的长度超出剩余字节，到此为止
			break
		}
		value := buf[off : off+length]
		off += length

		switch fieldID {
		case fieldTitle:
			entry.Title = decodeUTF16BE(value)
		case fieldArtist:
			entry.Artist = decodeUTF16BE(value)
		case fieldAlbum:
			entry.Album = decodeUTF16BE(value)
		case fieldGenre:
			entry.Genre = decodeUTF16BE(value)
		case fieldBPM:
			if bpm, err := strconv.ParseFloat(decodeUTF16BE(value), 64); err == nil {
				entry.BPM = bpm
			}
		case fieldKey:
			entry.Key = decodeUTF16BE(value)
		case fieldStartTime:
			entry.StartTime = int(decodeU32(value))
		case fieldDeck:
			entry.Deck = int(decodeU32(value))
		}
	}
	return entry
}

// decodeUTF16BE 解码大端 UTF-16 文本，遇到 16 位零码元或缓冲结束停止
func decodeUTF16BE(buf []byte) string {
	units := make([]uint16, 0, len(buf)/2)
	for i := 0; i+2 <= len(buf); i += 2 {
		u := binary.BigEndian.Uint16(buf[i : i+2])
		if u == 0 {
			break
		}
		units = append(units, u)
	}
	return string(utf16.Decode(units))
}

// decodeU32 读取大端 u32，不足 4 字节时返回 0
func decodeU32(buf []byte) uint32 {
	if len(buf) < 4 {
		return 0
	}
	return binary.BigEndian.Uint32(buf[:4])
}

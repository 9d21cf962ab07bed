package utils

import (
	"encoding/binary"
	"time"
)

// EncodeUnixMilli stores t as 8 big-endian bytes so encoded values sort by time.
func EncodeUnixMilli(t time.Time) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(t.UnixMilli()))
	return buf
}

// DecodeUnixMilli reverses EncodeUnixMilli. Short input yields the zero time.
func DecodeUnixMilli(b []byte) time.Time {
	if len(b) < 8 {
		return time.Time{}
	}
	return time.UnixMilli(int64(binary.BigEndian.Uint64(b))).UTC()
}

package ioctl

import (
	"encoding/binary"
	"unicode/utf16"

	"github.com/cohost-project/cohost/internal/cohosterr"
	"github.com/cohost-project/cohost/internal/ring"
)

// submitHeaderLen is the 16-byte {op:1, reserved:3, lba:8, len:4}
// header CoLinuxHandleVblkSubmit parses ahead of a write payload
// (original_source/driver_c/vblk.c).
const submitHeaderLen = 1 + 3 + 8 + 4

// decodeSubmitHeader parses a buffered-submit request's wire header
// and returns the trailing payload (the write data, or nil for a
// read). Mirrors CoLinuxHandleVblkSubmit's manual little-endian field
// extraction rather than leaving the layout implicit in caller code.
func decodeSubmitHeader(raw []byte) (op ring.Op, lba uint64, length uint32, payload []byte, err error) {
	if len(raw) < submitHeaderLen {
		return 0, 0, 0, nil, cohosterr.ErrBufferTooSmall
	}
	op = ring.Op(raw[0])
	lba = binary.LittleEndian.Uint64(raw[4:12])
	length = binary.LittleEndian.Uint32(raw[12:16])
	return op, lba, length, raw[submitHeaderLen:], nil
}

// encodeSubmitHeader is decodeSubmitHeader's inverse, used by tests
// and by any caller assembling a request the way a real guest would.
func encodeSubmitHeader(op ring.Op, lba uint64, length uint32, payload []byte) []byte {
	buf := make([]byte, submitHeaderLen+len(payload))
	buf[0] = byte(op)
	binary.LittleEndian.PutUint64(buf[4:12], lba)
	binary.LittleEndian.PutUint32(buf[12:16], length)
	copy(buf[submitHeaderLen:], payload)
	return buf
}

// rwHeaderLen is VBLK_RW_HDR{lba, len, flags}: the 16-byte header the
// direct read/write paths carry ahead of an MDL-mapped buffer.
const rwHeaderLen = 8 + 4 + 4

func decodeRWHeader(raw []byte) (lba uint64, length uint32, flags uint32, err error) {
	if len(raw) < rwHeaderLen {
		return 0, 0, 0, cohosterr.ErrInvalidParameter
	}
	lba = binary.LittleEndian.Uint64(raw[0:8])
	length = binary.LittleEndian.Uint32(raw[8:12])
	flags = binary.LittleEndian.Uint32(raw[12:16])
	return lba, length, flags, nil
}

// decodePageCount parses map_shared's 4-byte input buffer (mem.c's
// raw ULONG page count).
func decodePageCount(raw []byte) (int, error) {
	if len(raw) < 4 {
		return 0, cohosterr.ErrBufferTooSmall
	}
	return int(binary.LittleEndian.Uint32(raw[:4])), nil
}

// mapInfoPayloadLen is map_shared's output buffer size on the wire.
const mapInfoPayloadLen = 40

// encodeMapInfoPayload serializes a MapInfo the way map_shared's
// output buffer carries it on the wire: five little-endian fields in
// the first 32 bytes of a 40-byte buffer, whose last 8 bytes stay zero.
func encodeMapInfoPayload(userBase, kernelBase, size uint64, ver, flags uint32) []byte {
	buf := make([]byte, mapInfoPayloadLen)
	binary.LittleEndian.PutUint64(buf[0:8], userBase)
	binary.LittleEndian.PutUint64(buf[8:16], kernelBase)
	binary.LittleEndian.PutUint64(buf[16:24], size)
	binary.LittleEndian.PutUint32(buf[24:28], ver)
	binary.LittleEndian.PutUint32(buf[28:32], flags)
	return buf
}

// decodeUTF16Path decodes VBLK_SET_BACKING's input buffer, which
// carries a Windows-style path as UTF-16LE code units the way the
// original driver's PWCHAR/UNICODE_STRING input buffer does
// (original_source/driver_c/vblk.c).
func decodeUTF16Path(raw []byte) (string, error) {
	if len(raw) == 0 || len(raw)%2 != 0 {
		return "", cohosterr.ErrInvalidParameter
	}
	units := make([]uint16, len(raw)/2)
	for i := range units {
		units[i] = binary.LittleEndian.Uint16(raw[i*2 : i*2+2])
	}
	return string(utf16.Decode(units)), nil
}

// encodeUTF16Path is decodeUTF16Path's inverse, used by tests and by
// any caller assembling a request the way a real guest would.
func encodeUTF16Path(s string) []byte {
	units := utf16.Encode([]rune(s))
	buf := make([]byte, len(units)*2)
	for i, u := range units {
		binary.LittleEndian.PutUint16(buf[i*2:i*2+2], u)
	}
	return buf
}

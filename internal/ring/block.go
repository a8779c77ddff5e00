package ring

import (
	"encoding/binary"
	"hash/crc32"
)

const (
	flagChecksum uint16 = 1 << 0
	flagWrap     uint16 = 1 << 1

	offBlockLength     = 0
	offBlockMsgID      = 4
	offBlockFlags      = 8
	offBlockHeaderCRC  = 10
	offBlockPayloadCRC = 12
)

// blockHeader is the 16-byte frame header prefixing each message in the
// data area.
type blockHeader struct {
	length     uint32
	msgID      uint32
	flags      uint16
	headerCRC  uint16
	payloadCRC uint32
}

func computeHeaderCRC(length, msgID uint32) uint16 {
	var buf [8]byte
	binary.LittleEndian.PutUint32(buf[0:4], length)
	binary.LittleEndian.PutUint32(buf[4:8], msgID)
	return uint16(crc32.ChecksumIEEE(buf[:]))
}

func computePayloadCRC(payload []byte) uint32 {
	return crc32.ChecksumIEEE(payload)
}

// putBlockHeader encodes hdr into dst[0:16].
func putBlockHeader(dst []byte, hdr blockHeader) {
	binary.LittleEndian.PutUint32(dst[offBlockLength:], hdr.length)
	binary.LittleEndian.PutUint32(dst[offBlockMsgID:], hdr.msgID)
	binary.LittleEndian.PutUint16(dst[offBlockFlags:], hdr.flags)
	binary.LittleEndian.PutUint16(dst[offBlockHeaderCRC:], hdr.headerCRC)
	binary.LittleEndian.PutUint32(dst[offBlockPayloadCRC:], hdr.payloadCRC)
}

// parseBlockHeader decodes src[0:16] into a blockHeader.
func parseBlockHeader(src []byte) blockHeader {
	return blockHeader{
		length:     binary.LittleEndian.Uint32(src[offBlockLength:]),
		msgID:      binary.LittleEndian.Uint32(src[offBlockMsgID:]),
		flags:      binary.LittleEndian.Uint16(src[offBlockFlags:]),
		headerCRC:  binary.LittleEndian.Uint16(src[offBlockHeaderCRC:]),
		payloadCRC: binary.LittleEndian.Uint32(src[offBlockPayloadCRC:]),
	}
}

func (h blockHeader) isWrap() bool      { return h.flags&flagWrap != 0 }
func (h blockHeader) hasChecksum() bool { return h.flags&flagChecksum != 0 }

// framedSize returns the total on-wire size of a frame carrying a length
// byte payload: 16-byte header, payload, and padding to the next 4-byte
// boundary.
func framedSize(length uint32) uint32 {
	return blockHeaderSize + length + pad4(length)
}

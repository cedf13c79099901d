// Package wire implements the fixed little-endian message framing used on
// the SPICE stream device: an 8-byte header followed by a type-specific
// body. Every function here is a pure transform over byte slices; nothing
// in this package touches the device itself (see internal/streamport).
package wire

import (
	"encoding/binary"
	"fmt"
)

// ProtocolVersion is the only protocol_version this agent speaks.
const ProtocolVersion uint8 = 1

// Message types carried in Header.Type.
const (
	TypeCapabilities uint16 = 1
	TypeNotifyError  uint16 = 2
	TypeStartStop    uint16 = 3
	TypeData         uint16 = 4
	TypeFormat       uint16 = 5
	TypeCursor       uint16 = 6
)

// HeaderSize is the on-wire size of Header, in bytes.
const HeaderSize = 8

// CapabilitiesMaxBytes bounds an inbound Capabilities body.
const CapabilitiesMaxBytes = 1024

// NotifyErrorMaxTextBytes bounds the UTF-8 text tail of a NotifyError body,
// not counting the 4-byte error_code prefix.
const NotifyErrorMaxTextBytes = 1024

// NotifyErrorCodeSize is the size of the fixed error_code prefix.
const NotifyErrorCodeSize = 4

// Header is the fixed 8-byte message header.
type Header struct {
	ProtocolVersion uint8
	Padding         uint8
	Type            uint16
	Size            uint32 // body length, header excluded
}

// EncodeHeader serializes a header for the given type and body length.
func EncodeHeader(msgType uint16, bodyLen uint32) [HeaderSize]byte {
	var buf [HeaderSize]byte
	buf[0] = ProtocolVersion
	buf[1] = 0
	binary.LittleEndian.PutUint16(buf[2:4], msgType)
	binary.LittleEndian.PutUint32(buf[4:8], bodyLen)
	return buf
}

// DecodeHeader parses an 8-byte header, rejecting anything but the known
// protocol version.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, fmt.Errorf("wire: short header (%d bytes)", len(buf))
	}
	h := Header{
		ProtocolVersion: buf[0],
		Padding:         buf[1],
		Type:            binary.LittleEndian.Uint16(buf[2:4]),
		Size:            binary.LittleEndian.Uint32(buf[4:8]),
	}
	if h.ProtocolVersion != ProtocolVersion {
		return Header{}, &BadVersionError{Got: h.ProtocolVersion, Want: ProtocolVersion}
	}
	return h, nil
}

// BadVersionError is returned by DecodeHeader on a protocol_version mismatch.
type BadVersionError struct {
	Got, Want uint8
}

func (e *BadVersionError) Error() string {
	return fmt.Sprintf("wire: bad protocol version %d (expected %d)", e.Got, e.Want)
}

// formatBodySize is the on-wire size of a Format message body:
// width(4) + height(4) + codec(1) + 3 bytes of zero padding, matching the
// reference spice-protocol StreamMsgFormat layout.
const formatBodySize = 12

// EncodeFormat builds a Format message (header + body) announcing the
// dimensions and codec of the stream about to start.
func EncodeFormat(width, height uint32, codec uint8) []byte {
	hdr := EncodeHeader(TypeFormat, formatBodySize)
	out := make([]byte, 0, HeaderSize+formatBodySize)
	out = append(out, hdr[:]...)
	var body [formatBodySize]byte
	binary.LittleEndian.PutUint32(body[0:4], width)
	binary.LittleEndian.PutUint32(body[4:8], height)
	body[8] = codec
	// body[9:12] left zero: reserved padding.
	out = append(out, body[:]...)
	return out
}

// EncodeDataHeader builds just the header for a Data message; the caller
// writes the raw frame payload immediately after, without copying it into
// this function.
func EncodeDataHeader(bodyLen uint32) [HeaderSize]byte {
	return EncodeHeader(TypeData, bodyLen)
}

// EncodeCapabilitiesReply builds the empty-body Capabilities reply sent in
// response to every inbound Capabilities message.
func EncodeCapabilitiesReply() [HeaderSize]byte {
	return EncodeHeader(TypeCapabilities, 0)
}

// DecodeStartStop parses a StartStop body of the form
// [num_codecs, codec_id...]. It enforces num_codecs <= len(body)-1.
func DecodeStartStop(body []byte) (numCodecs uint8, codecs []uint8, err error) {
	if len(body) < 1 {
		return 0, nil, fmt.Errorf("wire: empty StartStop body")
	}
	numCodecs = body[0]
	maxCodecs := len(body) - 1
	if int(numCodecs) > maxCodecs {
		return 0, nil, fmt.Errorf("wire: num_codecs=%d > max_codecs=%d", numCodecs, maxCodecs)
	}
	codecs = append([]uint8(nil), body[1:1+int(numCodecs)]...)
	return numCodecs, codecs, nil
}

// EncodeStartStop is the inverse of DecodeStartStop, used by the wire
// round-trip tests and by any component that needs to echo a StartStop
// body byte-for-byte.
func EncodeStartStop(codecs []uint8) []byte {
	body := make([]byte, 1+len(codecs))
	body[0] = uint8(len(codecs))
	copy(body[1:], codecs)
	return body
}

// DecodeNotifyErrorCode reads the fixed-size error_code prefix of a
// NotifyError body.
func DecodeNotifyErrorCode(body []byte) (uint32, error) {
	if len(body) < NotifyErrorCodeSize {
		return 0, fmt.Errorf("wire: NotifyError body too small (%d bytes)", len(body))
	}
	return binary.LittleEndian.Uint32(body[:NotifyErrorCodeSize]), nil
}

// cursorHeaderSize is the fixed prefix of a Cursor message body:
// width(2) + height(2) + hot_x(2) + hot_y(2), followed by a raw RGBA pixmap.
const cursorHeaderSize = 8

// EncodeCursor builds a Cursor message (header + body) announcing a new
// cursor shape: a width x height RGBA bitmap with its hotspot at
// (hotX, hotY). The cursor updater is the only writer of this message type
// (spec §4.6).
func EncodeCursor(width, height, hotX, hotY uint16, rgba []byte) []byte {
	bodyLen := cursorHeaderSize + len(rgba)
	hdr := EncodeHeader(TypeCursor, uint32(bodyLen))
	out := make([]byte, 0, HeaderSize+bodyLen)
	out = append(out, hdr[:]...)
	var prefix [cursorHeaderSize]byte
	binary.LittleEndian.PutUint16(prefix[0:2], width)
	binary.LittleEndian.PutUint16(prefix[2:4], height)
	binary.LittleEndian.PutUint16(prefix[4:6], hotX)
	binary.LittleEndian.PutUint16(prefix[6:8], hotY)
	out = append(out, prefix[:]...)
	out = append(out, rgba...)
	return out
}

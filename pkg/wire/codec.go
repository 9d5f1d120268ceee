package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/cuemby/kbus/pkg/errdefs"
	"github.com/cuemby/kbus/pkg/message"
)

const (
	// StartGuard opens every frame.
	StartGuard uint32 = 0x7375624B
	// EndGuard closes every frame; it is StartGuard byte-reversed.
	EndGuard uint32 = 0x4B627573

	// HeaderSize is the fixed part of a frame before the name.
	HeaderSize = 56

	// MinFrameLength is the length of a frame with an empty name and no data.
	MinFrameLength = HeaderSize + 4 + 4
)

// Field offsets within the header.
const (
	offStartGuard = 0
	offID         = 4
	offInReplyTo  = 12
	offTo         = 20
	offFrom       = 24
	offOrigFrom   = 28
	offFinalTo    = 36
	offFlags      = 44
	offNameLen    = 48
	offDataLen    = 52
)

var order = binary.LittleEndian

// FramingError reports a byte frame that cannot be decoded.
type FramingError struct {
	Reason string
}

func (e *FramingError) Error() string {
	return "framing error: " + e.Reason
}

// Unwrap lets errors.Is match errdefs.ErrFraming.
func (e *FramingError) Unwrap() error {
	return errdefs.ErrFraming
}

func framingErr(format string, args ...any) error {
	return &FramingError{Reason: fmt.Sprintf(format, args...)}
}

// PaddedNameLen is the space a name of nameLen bytes occupies: the name, its
// NUL terminator, and zero padding to a 4-byte boundary.
func PaddedNameLen(nameLen int) int {
	return 4 * ((nameLen + 1 + 3) / 4)
}

// PaddedDataLen is the space data of dataLen bytes occupies, padded to a
// 4-byte boundary.
func PaddedDataLen(dataLen int) int {
	return 4 * ((dataLen + 3) / 4)
}

// TotalLength is the exact encoded length of a message with the given name
// and data lengths.
func TotalLength(nameLen, dataLen int) int {
	return HeaderSize + PaddedNameLen(nameLen) + PaddedDataLen(dataLen) + 4
}

// Encode serializes m into a single frame of exactly
// TotalLength(len(m.Name), len(m.Data)) bytes.
func Encode(m *message.Message) []byte {
	nameLen, dataLen := len(m.Name), len(m.Data)
	buf := make([]byte, TotalLength(nameLen, dataLen))

	order.PutUint32(buf[offStartGuard:], StartGuard)
	putID(buf[offID:], m.ID)
	putID(buf[offInReplyTo:], m.InReplyTo)
	order.PutUint32(buf[offTo:], uint32(m.To))
	order.PutUint32(buf[offFrom:], uint32(m.From))
	putOrigFrom(buf[offOrigFrom:], m.OrigFrom)
	putOrigFrom(buf[offFinalTo:], m.FinalTo)
	order.PutUint32(buf[offFlags:], uint32(m.Flags))
	order.PutUint32(buf[offNameLen:], uint32(nameLen))
	order.PutUint32(buf[offDataLen:], uint32(dataLen))

	// make() zeroed the NUL terminator and all padding.
	pos := HeaderSize
	copy(buf[pos:], m.Name)
	pos += PaddedNameLen(nameLen)
	copy(buf[pos:], m.Data)
	pos += PaddedDataLen(dataLen)

	order.PutUint32(buf[pos:], EndGuard)
	return buf
}

// Decode parses a frame produced by Encode.
func Decode(b []byte) (*message.Message, error) {
	if len(b) < HeaderSize {
		return nil, framingErr("frame is %d bytes, shorter than the %d byte header", len(b), HeaderSize)
	}
	if guard := order.Uint32(b[offStartGuard:]); guard != StartGuard {
		return nil, framingErr("start guard %#08x, expected %#08x", guard, StartGuard)
	}

	nameLen := uint64(order.Uint32(b[offNameLen:]))
	dataLen := uint64(order.Uint32(b[offDataLen:]))
	total := uint64(HeaderSize) + 4*((nameLen+4)/4) + 4*((dataLen+3)/4) + 4
	if uint64(len(b)) != total {
		return nil, framingErr("frame is %d bytes, header implies %d", len(b), total)
	}
	if guard := order.Uint32(b[total-4:]); guard != EndGuard {
		return nil, framingErr("end guard %#08x, expected %#08x", guard, EndGuard)
	}
	if b[HeaderSize+nameLen] != 0 {
		return nil, framingErr("name is not NUL terminated")
	}

	m := &message.Message{
		ID:        getID(b[offID:]),
		InReplyTo: getID(b[offInReplyTo:]),
		To:        message.EndpointID(order.Uint32(b[offTo:])),
		From:      message.EndpointID(order.Uint32(b[offFrom:])),
		OrigFrom:  getOrigFrom(b[offOrigFrom:]),
		FinalTo:   getOrigFrom(b[offFinalTo:]),
		Flags:     message.Flags(order.Uint32(b[offFlags:])),
		Name:      string(b[HeaderSize : HeaderSize+nameLen]),
	}
	if dataLen > 0 {
		start := uint64(HeaderSize) + 4*((nameLen+4)/4)
		m.Data = append([]byte(nil), b[start:start+dataLen]...)
	}
	return m, nil
}

func putID(b []byte, id message.ID) {
	order.PutUint32(b, id.NetworkID)
	order.PutUint32(b[4:], id.SerialNum)
}

func getID(b []byte) message.ID {
	return message.ID{NetworkID: order.Uint32(b), SerialNum: order.Uint32(b[4:])}
}

func putOrigFrom(b []byte, o message.OrigFrom) {
	order.PutUint32(b, o.NetworkID)
	order.PutUint32(b[4:], o.LocalID)
}

func getOrigFrom(b []byte) message.OrigFrom {
	return message.OrigFrom{NetworkID: order.Uint32(b), LocalID: order.Uint32(b[4:])}
}

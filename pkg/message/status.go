package message

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// Names of broker-generated messages.
const (
	StatusPrefix = "$.KBUS."

	NameReplierGoneAway   = "$.KBUS.Replier.GoneAway"
	NameReplierUnbound    = "$.KBUS.Replier.Unbound"
	NameReplierQueueFull  = "$.KBUS.Replier.QueueFull"
	NameReplierBindEvent  = "$.KBUS.ReplierBindEvent"
	NameReplierNotPresent = "$.KBUS.Replier.NotPresent"
)

// IsStatusName reports whether name is in the broker's reserved name space.
func IsStatusName(name string) bool {
	return strings.HasPrefix(name, StatusPrefix)
}

// ReplierBindEvent is the payload of a $.KBUS.ReplierBindEvent message.
type ReplierBindEvent struct {
	IsBind bool
	Binder EndpointID
	Name   string
}

const bindEventHeaderLen = 12

// Marshal encodes e as is_bind, binder, name_len (little-endian u32s)
// followed by the name bytes.
func (e ReplierBindEvent) Marshal() []byte {
	buf := make([]byte, bindEventHeaderLen+len(e.Name))
	var isBind uint32
	if e.IsBind {
		isBind = 1
	}
	binary.LittleEndian.PutUint32(buf[0:], isBind)
	binary.LittleEndian.PutUint32(buf[4:], uint32(e.Binder))
	binary.LittleEndian.PutUint32(buf[8:], uint32(len(e.Name)))
	copy(buf[bindEventHeaderLen:], e.Name)
	return buf
}

// ParseReplierBindEvent decodes the data of a $.KBUS.ReplierBindEvent.
func ParseReplierBindEvent(data []byte) (ReplierBindEvent, error) {
	if len(data) < bindEventHeaderLen {
		return ReplierBindEvent{}, fmt.Errorf("bind event payload too short: %d bytes", len(data))
	}
	nameLen := binary.LittleEndian.Uint32(data[8:])
	if uint64(len(data)-bindEventHeaderLen) < uint64(nameLen) {
		return ReplierBindEvent{}, fmt.Errorf("bind event name length %d exceeds payload", nameLen)
	}
	return ReplierBindEvent{
		IsBind: binary.LittleEndian.Uint32(data[0:]) != 0,
		Binder: EndpointID(binary.LittleEndian.Uint32(data[4:])),
		Name:   string(data[bindEventHeaderLen : bindEventHeaderLen+int(nameLen)]),
	}, nil
}

package message

import (
	"cmp"
	"fmt"
)

// EndpointID identifies an open endpoint on one broker. Zero means "unset"
// (for To: unaddressed).
type EndpointID uint32

// ID identifies a message. The zero ID is the "unset" sentinel.
type ID struct {
	NetworkID uint32
	SerialNum uint32
}

// IsZero reports whether id is the unset sentinel.
func (id ID) IsZero() bool {
	return id.NetworkID == 0 && id.SerialNum == 0
}

// Compare orders ids by (NetworkID, SerialNum). It returns -1, 0 or +1.
func (id ID) Compare(other ID) int {
	if c := cmp.Compare(id.NetworkID, other.NetworkID); c != 0 {
		return c
	}
	return cmp.Compare(id.SerialNum, other.SerialNum)
}

// Less reports whether id sorts before other.
func (id ID) Less(other ID) bool {
	return id.Compare(other) < 0
}

func (id ID) String() string {
	return fmt.Sprintf("[%d:%d]", id.NetworkID, id.SerialNum)
}

// OrigFrom records where a message really came from (or, used as FinalTo,
// where it is ultimately going) once it has crossed a bridge. The zero value
// means "same network, no bridging involved".
type OrigFrom struct {
	NetworkID uint32
	LocalID   uint32
}

// IsZero reports whether o is unset.
func (o OrigFrom) IsZero() bool {
	return o.NetworkID == 0 && o.LocalID == 0
}

// Compare orders values by (NetworkID, LocalID).
func (o OrigFrom) Compare(other OrigFrom) int {
	if c := cmp.Compare(o.NetworkID, other.NetworkID); c != 0 {
		return c
	}
	return cmp.Compare(o.LocalID, other.LocalID)
}

func (o OrigFrom) String() string {
	return fmt.Sprintf("{%d,%d}", o.NetworkID, o.LocalID)
}

// Package transport carries encoded kbus frames between two bridges.
//
// A Link is a reliable, ordered, bidirectional frame pipe. StreamLink runs
// over any net.Conn with each frame preceded by its u32 length; the gRPC
// link runs one bidirectional stream of the kbus.Bridge/Link method and
// sends each frame as one stream message.
package transport

import (
	"context"
	"errors"
)

// ErrClosed is returned by operations on a closed link or server.
var ErrClosed = errors.New("link closed")

// Link is a bidirectional frame pipe. WriteFrame may be called from several
// goroutines; ReadFrame expects a single reader. If ctx ends while a call is
// blocked it fails with ctx.Err(), after which the link may be unusable.
type Link interface {
	WriteFrame(ctx context.Context, frame []byte) error
	ReadFrame(ctx context.Context) ([]byte, error)
	Close() error
}

package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/cuemby/kbus/pkg/wire"
)

// StreamLink is a Link over a byte stream.
type StreamLink struct {
	conn     net.Conn
	maxFrame int

	writeMu sync.Mutex
	readMu  sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

// NewStreamLink wraps conn. maxFrame <= 0 selects wire.DefaultMaxFrameLength.
func NewStreamLink(conn net.Conn, maxFrame int) *StreamLink {
	return &StreamLink{conn: conn, maxFrame: maxFrame}
}

// DialStream connects to addr and wraps the connection.
func DialStream(ctx context.Context, network, addr string) (*StreamLink, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s %s: %w", network, addr, err)
	}
	return NewStreamLink(conn, 0), nil
}

// WriteFrame writes one length-prefixed frame.
func (l *StreamLink) WriteFrame(ctx context.Context, frame []byte) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	_ = l.conn.SetWriteDeadline(time.Time{})
	stop := context.AfterFunc(ctx, func() {
		_ = l.conn.SetWriteDeadline(time.Unix(1, 0))
	})
	defer stop()

	if err := wire.WriteFrame(l.conn, frame); err != nil {
		return l.translate(ctx, err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame. io.EOF means the peer closed
// the stream cleanly.
func (l *StreamLink) ReadFrame(ctx context.Context) ([]byte, error) {
	l.readMu.Lock()
	defer l.readMu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	_ = l.conn.SetReadDeadline(time.Time{})
	stop := context.AfterFunc(ctx, func() {
		_ = l.conn.SetReadDeadline(time.Unix(1, 0))
	})
	defer stop()

	frame, err := wire.ReadFrame(l.conn, l.maxFrame)
	if err != nil {
		return nil, l.translate(ctx, err)
	}
	return frame, nil
}

// Close closes the underlying connection.
func (l *StreamLink) Close() error {
	l.closeOnce.Do(func() {
		l.closeErr = l.conn.Close()
	})
	return l.closeErr
}

func (l *StreamLink) translate(ctx context.Context, err error) error {
	if ctx.Err() != nil && errors.Is(err, os.ErrDeadlineExceeded) {
		return ctx.Err()
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	return err
}

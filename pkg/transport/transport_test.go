package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/cuemby/kbus/pkg/message"
	"github.com/cuemby/kbus/pkg/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFrame(data string) []byte {
	return wire.Encode(message.NewAnnouncement("$.Link.Test", []byte(data)))
}

func TestStreamLinkRoundTrip(t *testing.T) {
	c1, c2 := net.Pipe()
	a := NewStreamLink(c1, 0)
	b := NewStreamLink(c2, 0)
	defer a.Close()
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	go func() {
		_ = a.WriteFrame(ctx, testFrame("one"))
		_ = a.WriteFrame(ctx, testFrame("two"))
	}()

	for _, want := range []string{"one", "two"} {
		frame, err := b.ReadFrame(ctx)
		require.NoError(t, err)
		m, err := wire.Decode(frame)
		require.NoError(t, err)
		assert.Equal(t, want, string(m.Data))
	}
}

func TestStreamLinkReadHonoursContext(t *testing.T) {
	c1, c2 := net.Pipe()
	defer c1.Close()
	b := NewStreamLink(c2, 0)
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := b.ReadFrame(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStreamLinkPeerClose(t *testing.T) {
	c1, c2 := net.Pipe()
	b := NewStreamLink(c2, 0)
	defer b.Close()
	require.NoError(t, c1.Close())

	_, err := b.ReadFrame(context.Background())
	assert.ErrorIs(t, err, io.EOF)
}

func TestStreamLinkClosed(t *testing.T) {
	c1, c2 := net.Pipe()
	defer c1.Close()
	b := NewStreamLink(c2, 0)
	require.NoError(t, b.Close())
	require.NoError(t, b.Close(), "second close is a no-op")

	err := b.WriteFrame(context.Background(), testFrame("late"))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestStreamLinkRejectsOversizedFrame(t *testing.T) {
	c1, c2 := net.Pipe()
	a := NewStreamLink(c1, 0)
	b := NewStreamLink(c2, 64)
	defer a.Close()
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go func() { _ = a.WriteFrame(ctx, testFrame("this payload pushes the frame over the limit")) }()

	_, err := b.ReadFrame(ctx)
	var fe *wire.FramingError
	assert.True(t, errors.As(err, &fe), "got %v", err)
}

func TestFrameCodec(t *testing.T) {
	var c frameCodec
	assert.Equal(t, "kbus-frame", c.Name())

	in := []byte{1, 2, 3}
	out, err := c.Marshal(&rawFrame{data: in})
	require.NoError(t, err)
	assert.Equal(t, in, out)

	var f rawFrame
	require.NoError(t, c.Unmarshal(out, &f))
	out[0] = 9
	assert.Equal(t, []byte{1, 2, 3}, f.data, "unmarshal copies the buffer")

	_, err = c.Marshal("nope")
	assert.Error(t, err)
	assert.Error(t, c.Unmarshal(in, new(int)))
}

func TestGRPCLink(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := NewGRPCServer()
	go func() { _ = srv.Serve(lis) }()
	defer srv.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := DialGRPC(ctx, lis.Addr().String())
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.WriteFrame(ctx, testFrame("hello")))

	server, err := srv.Accept(ctx)
	require.NoError(t, err)
	defer server.Close()

	frame, err := server.ReadFrame(ctx)
	require.NoError(t, err)
	m, err := wire.Decode(frame)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(m.Data))

	require.NoError(t, server.WriteFrame(ctx, testFrame("back")))
	frame, err = client.ReadFrame(ctx)
	require.NoError(t, err)
	m, err = wire.Decode(frame)
	require.NoError(t, err)
	assert.Equal(t, "back", string(m.Data))

	require.NoError(t, server.Close())
	_, err = client.ReadFrame(ctx)
	assert.Error(t, err, "client sees the server close the stream")
}

func TestGRPCServerAcceptAfterStop(t *testing.T) {
	srv := NewGRPCServer()
	srv.Stop()
	srv.Stop()

	_, err := srv.Accept(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

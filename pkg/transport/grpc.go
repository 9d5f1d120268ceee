package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/cuemby/kbus/pkg/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const (
	bridgeService = "kbus.Bridge"
	linkMethod    = "/kbus.Bridge/Link"
	codecName     = "kbus-frame"
)

// rawFrame is the only message type carried on the link stream.
type rawFrame struct {
	data []byte
}

// frameCodec passes frames through gRPC untouched.
type frameCodec struct{}

func (frameCodec) Marshal(v any) ([]byte, error) {
	f, ok := v.(*rawFrame)
	if !ok {
		return nil, fmt.Errorf("kbus-frame codec cannot marshal %T", v)
	}
	return f.data, nil
}

func (frameCodec) Unmarshal(data []byte, v any) error {
	f, ok := v.(*rawFrame)
	if !ok {
		return fmt.Errorf("kbus-frame codec cannot unmarshal into %T", v)
	}
	f.data = append([]byte(nil), data...)
	return nil
}

func (frameCodec) Name() string {
	return codecName
}

// linkHandler is the server side of the kbus.Bridge service.
type linkHandler interface {
	Link(stream grpc.ServerStream) error
}

var bridgeServiceDesc = grpc.ServiceDesc{
	ServiceName: bridgeService,
	HandlerType: (*linkHandler)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName: "Link",
			Handler: func(srv any, stream grpc.ServerStream) error {
				return srv.(linkHandler).Link(stream)
			},
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "kbus/bridge",
}

// frameStream is what client and server streams have in common.
type frameStream interface {
	SendMsg(m any) error
	RecvMsg(m any) error
	Context() context.Context
}

type grpcLink struct {
	stream  frameStream
	writeMu sync.Mutex

	closeOnce sync.Once
	done      chan struct{}
	onClose   func() error
	closeErr  error
}

func newGRPCLink(stream frameStream, onClose func() error) *grpcLink {
	return &grpcLink{stream: stream, done: make(chan struct{}), onClose: onClose}
}

func (l *grpcLink) WriteFrame(ctx context.Context, frame []byte) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-l.done:
		return ErrClosed
	default:
	}
	if err := l.stream.SendMsg(&rawFrame{data: frame}); err != nil {
		return fmt.Errorf("failed to send frame: %w", err)
	}
	return nil
}

// ReadFrame blocks in RecvMsg; cancelling ctx closes the link to unblock it.
func (l *grpcLink) ReadFrame(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() { _ = l.Close() })
	defer stop()

	var f rawFrame
	if err := l.stream.RecvMsg(&f); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if err == io.EOF {
			return nil, io.EOF
		}
		select {
		case <-l.done:
			return nil, ErrClosed
		default:
		}
		return nil, fmt.Errorf("failed to receive frame: %w", err)
	}
	return f.data, nil
}

func (l *grpcLink) Close() error {
	l.closeOnce.Do(func() {
		close(l.done)
		if l.onClose != nil {
			l.closeErr = l.onClose()
		}
	})
	return l.closeErr
}

// GRPCServer accepts bridge links over gRPC.
type GRPCServer struct {
	srv   *grpc.Server
	links chan *grpcLink
	done  chan struct{}
	once  sync.Once
}

// NewGRPCServer creates a server exposing the kbus.Bridge service.
func NewGRPCServer(opts ...grpc.ServerOption) *GRPCServer {
	s := &GRPCServer{
		links: make(chan *grpcLink),
		done:  make(chan struct{}),
	}
	opts = append(opts, grpc.ForceServerCodec(frameCodec{}))
	s.srv = grpc.NewServer(opts...)
	s.srv.RegisterService(&bridgeServiceDesc, s)
	return s
}

// Serve accepts connections on lis until Stop.
func (s *GRPCServer) Serve(lis net.Listener) error {
	logger := log.WithComponent("transport")
	logger.Info().
		Str("addr", lis.Addr().String()).
		Msg("Bridge gRPC server listening")
	return s.srv.Serve(lis)
}

// Link handles one kbus.Bridge/Link stream. The stream stays open until
// the accepted link is closed or the peer goes away.
func (s *GRPCServer) Link(stream grpc.ServerStream) error {
	l := newGRPCLink(stream, nil)

	select {
	case s.links <- l:
	case <-stream.Context().Done():
		return stream.Context().Err()
	case <-s.done:
		return ErrClosed
	}

	select {
	case <-l.done:
		return nil
	case <-stream.Context().Done():
		return stream.Context().Err()
	}
}

// Accept waits for the next peer link.
func (s *GRPCServer) Accept(ctx context.Context) (Link, error) {
	select {
	case l := <-s.links:
		return l, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		return nil, ErrClosed
	}
}

// Stop closes every link and stops serving.
func (s *GRPCServer) Stop() {
	s.once.Do(func() {
		close(s.done)
		s.srv.Stop()
	})
}

// DialGRPC opens a link to a GRPCServer at addr. Without options the
// connection is unencrypted.
func DialGRPC(ctx context.Context, addr string, opts ...grpc.DialOption) (Link, error) {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC client for %s: %w", addr, err)
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	stop := context.AfterFunc(ctx, cancel)
	stream, err := conn.NewStream(streamCtx, &bridgeServiceDesc.Streams[0], linkMethod, grpc.ForceCodec(frameCodec{}))
	stop()
	if err != nil {
		cancel()
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open bridge stream to %s: %w", addr, err)
	}

	return newGRPCLink(stream, func() error {
		_ = stream.CloseSend()
		cancel()
		return conn.Close()
	}), nil
}

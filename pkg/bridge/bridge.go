package bridge

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"

	"github.com/cuemby/kbus/pkg/binding"
	"github.com/cuemby/kbus/pkg/client"
	"github.com/cuemby/kbus/pkg/errdefs"
	"github.com/cuemby/kbus/pkg/events"
	"github.com/cuemby/kbus/pkg/log"
	"github.com/cuemby/kbus/pkg/message"
	"github.com/cuemby/kbus/pkg/metrics"
	"github.com/cuemby/kbus/pkg/transport"
	"github.com/cuemby/kbus/pkg/wire"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// NameHello opens every link. Its data is the sender's network id.
const NameHello = "$.KBUS.Bridge.Hello"

// DefaultQueueLimit is the queue capacity of the bridge's own endpoint.
const DefaultQueueLimit = 1000

// Bus is the broker surface a bridge needs. *broker.Broker implements it.
type Bus interface {
	client.Bus
	Bindings() []binding.Binding
}

// Config holds bridge configuration
type Config struct {
	// NetworkID identifies the local broker to the peer. Must be non-zero
	// and differ from the peer's.
	NetworkID uint32
	// QueueLimit is the capacity of the bridge endpoint's queue
	QueueLimit int
	// Events receives bridge.up and bridge.down when set
	Events *events.Broker
}

// Bridge joins a local broker to a peer bridge over a link. Messages seen on
// the local broker are forwarded to the peer; repliers bound on the peer are
// mirrored locally so requests to them route across the link.
type Bridge struct {
	cfg    Config
	bus    Bus
	link   transport.Link
	ksock  *client.Ksock
	logger zerolog.Logger

	peerNetwork uint32

	mu sync.Mutex
	// carried maps requests injected locally on behalf of the peer to
	// their original sender.
	carried map[message.ID]message.OrigFrom
	// proxies are the replier patterns bound here for the peer.
	proxies map[string]bool
}

// New opens the bridge endpoint on bus.
func New(bus Bus, link transport.Link, cfg Config) (*Bridge, error) {
	if cfg.NetworkID == 0 {
		return nil, fmt.Errorf("bridge network id must be non-zero")
	}
	if cfg.QueueLimit <= 0 {
		cfg.QueueLimit = DefaultQueueLimit
	}

	ks, err := client.Open(bus)
	if err != nil {
		return nil, err
	}
	if _, err := ks.SetQueueLimit(cfg.QueueLimit); err != nil {
		_ = ks.Close()
		return nil, err
	}
	if _, err := ks.SetOnlyOnce(true); err != nil {
		_ = ks.Close()
		return nil, err
	}

	id := uuid.NewString()
	return &Bridge{
		cfg:   cfg,
		bus:   bus,
		link:  link,
		ksock: ks,
		logger: log.WithBridgeID(id).With().
			Uint32("network_id", cfg.NetworkID).
			Uint32("endpoint_id", uint32(ks.ID())).
			Logger(),
		carried: make(map[message.ID]message.OrigFrom),
		proxies: make(map[string]bool),
	}, nil
}

// ID returns the bridge's endpoint id on the local broker
func (br *Bridge) ID() message.EndpointID {
	return br.ksock.ID()
}

// PeerNetwork returns the peer's network id once the handshake is done
func (br *Bridge) PeerNetwork() uint32 {
	return br.peerNetwork
}

// Run exchanges hellos with the peer and then carries messages both ways
// until ctx ends or the link fails. The bridge endpoint is closed on return,
// so requests it was elected to answer are orphaned. A lost link is
// reported as an error wrapping errdefs.ErrEndpointGone; cancelling ctx
// returns nil.
func (br *Bridge) Run(ctx context.Context) error {
	defer br.ksock.Close()
	defer br.link.Close()

	if err := br.handshake(ctx); err != nil {
		return err
	}

	// Listen before turning on bind reports so no bind is missed; a bind
	// seen twice is harmless.
	if err := br.ksock.Bind("$.*", false); err != nil {
		return fmt.Errorf("failed to bind bridge listener: %w", err)
	}
	br.ksock.ReportReplierBinds(true)

	br.logger.Info().Uint32("peer_network_id", br.peerNetwork).Msg("Bridge up")
	br.publish(events.EventBridgeUp)
	defer br.publish(events.EventBridgeDown)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errc := make(chan error, 2)
	go func() { errc <- br.inbound(runCtx) }()
	go func() { errc <- br.outbound(runCtx) }()

	err := <-errc
	cancel()
	_ = br.link.Close()
	<-errc

	if ctx.Err() != nil {
		br.logger.Info().Msg("Bridge stopped")
		return nil
	}
	br.logger.Warn().Err(err).Msg("Bridge link lost")
	return fmt.Errorf("bridge to network %d: %w: %w", br.peerNetwork, errdefs.ErrEndpointGone, err)
}

func (br *Bridge) handshake(ctx context.Context) error {
	payload := make([]byte, 4)
	binary.LittleEndian.PutUint32(payload, br.cfg.NetworkID)
	hello := &message.Message{Name: NameHello, Flags: message.FlagSynthetic, Data: payload}

	// Both sides say hello first; write concurrently so unbuffered links
	// cannot deadlock.
	werr := make(chan error, 1)
	go func() { werr <- br.link.WriteFrame(ctx, wire.Encode(hello)) }()

	frame, err := br.link.ReadFrame(ctx)
	if err != nil {
		<-werr
		return fmt.Errorf("bridge handshake: %w: %w", errdefs.ErrEndpointGone, err)
	}
	if err := <-werr; err != nil {
		return fmt.Errorf("bridge handshake: %w: %w", errdefs.ErrEndpointGone, err)
	}

	m, err := wire.Decode(frame)
	if err != nil {
		return fmt.Errorf("bridge handshake: %w", err)
	}
	if m.Name != NameHello || len(m.Data) < 4 {
		return fmt.Errorf("bridge handshake: expected %s, got %q: %w", NameHello, m.Name, errdefs.ErrFraming)
	}
	peer := binary.LittleEndian.Uint32(m.Data)
	if peer == 0 || peer == br.cfg.NetworkID {
		return fmt.Errorf("bridge handshake: peer network id %d conflicts with local %d", peer, br.cfg.NetworkID)
	}
	br.peerNetwork = peer
	return nil
}

// outbound announces the local repliers, then forwards what the bridge
// endpoint receives.
func (br *Bridge) outbound(ctx context.Context) error {
	for _, bd := range br.bus.Bindings() {
		if !bd.Replier || bd.Endpoint == br.ID() {
			continue
		}
		ev := message.ReplierBindEvent{IsBind: true, Binder: bd.Endpoint, Name: bd.Pattern}
		if err := br.send(ctx, bindEventMessage(ev)); err != nil {
			return err
		}
	}

	for {
		m, err := br.ksock.ReceiveWait(ctx)
		if err != nil {
			return err
		}
		out := br.outgoing(m)
		if out == nil {
			continue
		}
		if err := br.send(ctx, out); err != nil {
			return err
		}
	}
}

// outgoing decides whether and how m crosses to the peer. It returns nil
// for messages that stay local.
func (br *Bridge) outgoing(m *message.Message) *message.Message {
	self := br.ID()
	if m.From == self {
		return nil
	}
	if m.IsSynthetic() {
		return br.outgoingStatus(m)
	}
	if m.OrigFrom.NetworkID == br.cfg.NetworkID {
		return nil
	}

	out := m.Clone()
	out.Flags &^= message.FlagWantYouToReply | message.FlagAllOrWait | message.FlagAllOrFail
	br.stamp(out)

	switch {
	case m.IsRequest() && m.WantsUsToReply():
		// Elected as proxy replier: the peer answers.

	case m.IsRequest():
		out.Flags &^= message.FlagWantReply
		out.To = 0
		out.FinalTo = message.OrigFrom{}

	case m.IsReply() && m.To == self:
		br.mu.Lock()
		orig, ok := br.carried[m.InReplyTo]
		delete(br.carried, m.InReplyTo)
		br.mu.Unlock()
		if !ok {
			return nil
		}
		out.To = message.EndpointID(orig.LocalID)

	default:
		out.To = 0
	}
	return out
}

func (br *Bridge) outgoingStatus(m *message.Message) *message.Message {
	if m.Name == message.NameReplierBindEvent {
		ev, err := message.ParseReplierBindEvent(m.Data)
		if err != nil || ev.Binder == br.ID() {
			return nil
		}
		return bindEventMessage(ev)
	}
	if m.To != br.ID() {
		return nil
	}

	br.mu.Lock()
	_, ok := br.carried[m.InReplyTo]
	delete(br.carried, m.InReplyTo)
	br.mu.Unlock()
	if !ok {
		return nil
	}
	return &message.Message{
		Name:      m.Name,
		InReplyTo: m.InReplyTo,
		Flags:     message.FlagSynthetic,
	}
}

// stamp marks ids and provenance as belonging to the local network.
func (br *Bridge) stamp(m *message.Message) {
	if m.ID.NetworkID == 0 {
		m.ID.NetworkID = br.cfg.NetworkID
	}
	if !m.InReplyTo.IsZero() && m.InReplyTo.NetworkID == 0 {
		m.InReplyTo.NetworkID = br.cfg.NetworkID
	}
	if m.OrigFrom.IsZero() {
		m.OrigFrom = message.OrigFrom{NetworkID: br.cfg.NetworkID, LocalID: uint32(m.From)}
	}
}

// localise turns an id stamped with the local network back into the id
// the local broker assigned.
func (br *Bridge) localise(id message.ID) message.ID {
	if id.NetworkID == br.cfg.NetworkID {
		id.NetworkID = 0
	}
	return id
}

func (br *Bridge) send(ctx context.Context, m *message.Message) error {
	if err := br.link.WriteFrame(ctx, wire.Encode(m)); err != nil {
		return err
	}
	metrics.BridgeFrames.WithLabelValues("out").Inc()
	return nil
}

// inbound applies frames from the peer to the local broker.
func (br *Bridge) inbound(ctx context.Context) error {
	for {
		frame, err := br.link.ReadFrame(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("peer closed link: %w", err)
			}
			return err
		}
		metrics.BridgeFrames.WithLabelValues("in").Inc()

		m, err := wire.Decode(frame)
		if err != nil {
			return err
		}
		if err := br.apply(ctx, m); err != nil {
			return err
		}
	}
}

func (br *Bridge) apply(ctx context.Context, m *message.Message) error {
	switch {
	case m.IsSynthetic() && m.Name == NameHello:
		br.logger.Warn().Msg("Ignoring repeated hello")
	case m.IsSynthetic() && m.Name == message.NameReplierBindEvent:
		br.applyBindEvent(m)
	case m.IsSynthetic():
		br.applyStatus(m)
	case m.IsRequest():
		return br.applyRequest(ctx, m)
	default:
		br.inject(ctx, m)
	}
	return nil
}

func (br *Bridge) applyBindEvent(m *message.Message) {
	ev, err := message.ParseReplierBindEvent(m.Data)
	if err != nil {
		br.logger.Warn().Err(err).Msg("Bad bind event from peer")
		return
	}

	br.mu.Lock()
	defer br.mu.Unlock()

	if ev.IsBind {
		if br.proxies[ev.Name] {
			return
		}
		if err := br.ksock.Bind(ev.Name, true); err != nil {
			br.logger.Warn().Err(err).Str("pattern", ev.Name).Msg("Cannot proxy peer replier")
			return
		}
		br.proxies[ev.Name] = true
		br.logger.Debug().Str("pattern", ev.Name).Msg("Proxying peer replier")
		return
	}

	if !br.proxies[ev.Name] {
		return
	}
	delete(br.proxies, ev.Name)
	if err := br.ksock.Unbind(ev.Name, true); err != nil {
		br.logger.Warn().Err(err).Str("pattern", ev.Name).Msg("Failed to drop peer replier proxy")
	}
}

// applyStatus passes a status about a request we forwarded on to its
// original sender.
func (br *Bridge) applyStatus(m *message.Message) {
	id := br.localise(m.InReplyTo)
	if err := br.ksock.Relinquish(id, m.Name); err != nil {
		br.logger.Debug().Err(err).Str("request_id", id.String()).Msg("Status for unknown request")
	}
}

func (br *Bridge) applyRequest(ctx context.Context, m *message.Message) error {
	in := m.Clone()
	in.From = 0
	in.To = 0
	in.Flags = message.FlagWantReply | m.Flags&message.FlagUrgent
	if m.FinalTo.NetworkID == br.cfg.NetworkID {
		in.To = message.EndpointID(m.FinalTo.LocalID)
	}

	br.mu.Lock()
	br.carried[in.ID] = m.OrigFrom
	br.mu.Unlock()

	if _, err := br.ksock.Send(ctx, in); err != nil {
		br.mu.Lock()
		delete(br.carried, in.ID)
		br.mu.Unlock()

		br.logger.Debug().Err(err).Str("message", in.String()).Msg("Peer request not deliverable")
		status := &message.Message{
			Name:      message.NameReplierNotPresent,
			InReplyTo: in.ID,
			Flags:     message.FlagSynthetic,
		}
		return br.send(ctx, status)
	}
	return nil
}

func (br *Bridge) inject(ctx context.Context, m *message.Message) {
	in := m.Clone()
	in.From = 0
	in.Flags = m.Flags & message.FlagUrgent
	if !in.InReplyTo.IsZero() {
		in.InReplyTo = br.localise(in.InReplyTo)
	}
	if _, err := br.ksock.Send(ctx, in); err != nil {
		br.logger.Debug().Err(err).Str("message", in.String()).Msg("Peer message not deliverable")
	}
}

func (br *Bridge) publish(typ events.EventType) {
	if br.cfg.Events == nil {
		return
	}
	br.cfg.Events.Publish(&events.Event{
		Type:    typ,
		Message: string(typ),
		Metadata: map[string]string{
			"network_id":      strconv.FormatUint(uint64(br.cfg.NetworkID), 10),
			"peer_network_id": strconv.FormatUint(uint64(br.peerNetwork), 10),
			"endpoint_id":     strconv.FormatUint(uint64(br.ID()), 10),
		},
	})
}

func bindEventMessage(ev message.ReplierBindEvent) *message.Message {
	return &message.Message{
		Name:  message.NameReplierBindEvent,
		Flags: message.FlagSynthetic,
		Data:  ev.Marshal(),
	}
}

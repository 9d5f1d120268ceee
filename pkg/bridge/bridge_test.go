package bridge_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/cuemby/kbus/pkg/bridge"
	"github.com/cuemby/kbus/pkg/broker"
	"github.com/cuemby/kbus/pkg/client"
	"github.com/cuemby/kbus/pkg/errdefs"
	"github.com/cuemby/kbus/pkg/events"
	"github.com/cuemby/kbus/pkg/message"
	"github.com/cuemby/kbus/pkg/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

type side struct {
	bus    *broker.Broker
	bridge *bridge.Bridge
	conn   net.Conn
	done   chan error
}

// connect bridges two new brokers, network 1 and network 2, over a pipe
// and waits until both bridges are listening.
func connect(t *testing.T) (a, b *side) {
	t.Helper()
	a = &side{bus: broker.NewBroker(broker.Config{}), done: make(chan error, 1)}
	b = &side{bus: broker.NewBroker(broker.Config{}), done: make(chan error, 1)}
	t.Cleanup(a.bus.Stop)
	t.Cleanup(b.bus.Stop)
	startOn(t, a, b, 1, 2)
	return a, b
}

func startOn(t *testing.T, a, b *side, netA, netB uint32) {
	t.Helper()
	a.conn, b.conn = net.Pipe()

	var err error
	a.bridge, err = bridge.New(a.bus, transport.NewStreamLink(a.conn, 0), bridge.Config{NetworkID: netA})
	require.NoError(t, err)
	b.bridge, err = bridge.New(b.bus, transport.NewStreamLink(b.conn, 0), bridge.Config{NetworkID: netB})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { a.done <- a.bridge.Run(ctx) }()
	go func() { b.done <- b.bridge.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		waitDone(t, a)
		waitDone(t, b)
	})

	if netA == netB {
		return
	}
	require.Eventually(t, func() bool {
		return bound(a.bus, a.bridge.ID(), "$.*", false) && bound(b.bus, b.bridge.ID(), "$.*", false)
	}, waitFor, 5*time.Millisecond)
}

func waitDone(t *testing.T, s *side) {
	t.Helper()
	select {
	case <-s.done:
	case <-time.After(waitFor):
		t.Error("bridge did not stop")
	}
}

func bound(bus *broker.Broker, ep message.EndpointID, pattern string, replier bool) bool {
	for _, bd := range bus.Bindings() {
		if bd.Endpoint == ep && bd.Pattern == pattern && bd.Replier == replier {
			return true
		}
	}
	return false
}

func open(t *testing.T, bus *broker.Broker) *client.Ksock {
	t.Helper()
	k, err := client.Open(bus)
	require.NoError(t, err)
	return k
}

func replierIs(bus *broker.Broker, name string, want message.EndpointID) func() bool {
	return func() bool {
		id, err := bus.FindReplier(name)
		return err == nil && id == want
	}
}

func TestNewRejectsZeroNetwork(t *testing.T) {
	bus := broker.NewBroker(broker.Config{})
	defer bus.Stop()
	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()

	_, err := bridge.New(bus, transport.NewStreamLink(c1, 0), bridge.Config{})
	assert.Error(t, err)
}

func TestHandshakeRejectsSameNetwork(t *testing.T) {
	a := &side{bus: broker.NewBroker(broker.Config{}), done: make(chan error, 1)}
	b := &side{bus: broker.NewBroker(broker.Config{}), done: make(chan error, 1)}
	defer a.bus.Stop()
	defer b.bus.Stop()

	a.conn, b.conn = net.Pipe()
	ba, err := bridge.New(a.bus, transport.NewStreamLink(a.conn, 0), bridge.Config{NetworkID: 7})
	require.NoError(t, err)
	bb, err := bridge.New(b.bus, transport.NewStreamLink(b.conn, 0), bridge.Config{NetworkID: 7})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	go func() { b.done <- bb.Run(ctx) }()

	err = ba.Run(ctx)
	require.Error(t, err)
	assert.NotErrorIs(t, err, errdefs.ErrEndpointGone)
	assert.Error(t, <-b.done)
	assert.Equal(t, 0, a.bus.Endpoints(), "bridge endpoint closed after failed handshake")
}

func TestAnnouncementCrossesBridge(t *testing.T) {
	a, b := connect(t)
	assert.Equal(t, uint32(2), a.bridge.PeerNetwork())

	listener := open(t, b.bus)
	require.NoError(t, listener.Bind("$.Weather", false))
	local := open(t, a.bus)
	require.NoError(t, local.Bind("$.Weather", false))
	sender := open(t, a.bus)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()

	id, err := sender.Send(ctx, message.NewAnnouncement("$.Weather", []byte("sunny")))
	require.NoError(t, err)

	got, err := listener.ReceiveWait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "$.Weather", got.Name)
	assert.Equal(t, []byte("sunny"), got.Data)
	assert.Equal(t, message.ID{NetworkID: 1, SerialNum: id.SerialNum}, got.ID)
	assert.Equal(t, message.OrigFrom{NetworkID: 1, LocalID: uint32(sender.ID())}, got.OrigFrom)
	assert.Equal(t, b.bridge.ID(), got.From)

	// Nothing echoes back to network 1.
	time.Sleep(50 * time.Millisecond)
	n, err := local.QueueLen()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRequestReplyAcrossBridge(t *testing.T) {
	a, b := connect(t)

	svc := open(t, b.bus)
	require.NoError(t, svc.Bind("$.Svc.Echo", true))
	require.Eventually(t, replierIs(a.bus, "$.Svc.Echo", a.bridge.ID()), waitFor, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()

	go func() {
		req, err := svc.ReceiveWait(ctx)
		if err != nil {
			return
		}
		_, _ = svc.Reply(ctx, req, append([]byte("echo:"), req.Data...))
	}()

	caller := open(t, a.bus)
	rep, err := caller.Call(ctx, message.NewRequest("$.Svc.Echo", []byte("ping")))
	require.NoError(t, err)
	assert.False(t, rep.IsSynthetic())
	assert.Equal(t, []byte("echo:ping"), rep.Data)
	assert.Equal(t, a.bridge.ID(), rep.From)
	assert.Equal(t, caller.ID(), rep.To)
	assert.Equal(t, message.OrigFrom{NetworkID: 2, LocalID: uint32(svc.ID())}, rep.OrigFrom)

	last, err := caller.LastMessageID()
	require.NoError(t, err)
	assert.Equal(t, last, rep.InReplyTo)
	assert.Zero(t, a.bus.Outstanding())
	assert.Zero(t, b.bus.Outstanding())
}

func TestExistingRepliersAnnounced(t *testing.T) {
	a := &side{bus: broker.NewBroker(broker.Config{}), done: make(chan error, 1)}
	b := &side{bus: broker.NewBroker(broker.Config{}), done: make(chan error, 1)}
	t.Cleanup(a.bus.Stop)
	t.Cleanup(b.bus.Stop)

	svc := open(t, a.bus)
	require.NoError(t, svc.Bind("$.Clock.*", true))

	startOn(t, a, b, 1, 2)
	require.Eventually(t, replierIs(b.bus, "$.Clock.Now", b.bridge.ID()), waitFor, 5*time.Millisecond)

	require.NoError(t, svc.Unbind("$.Clock.*", true))
	require.Eventually(t, replierIs(b.bus, "$.Clock.Now", 0), waitFor, 5*time.Millisecond)
}

func TestLocalReplierWins(t *testing.T) {
	a := &side{bus: broker.NewBroker(broker.Config{}), done: make(chan error, 1)}
	b := &side{bus: broker.NewBroker(broker.Config{}), done: make(chan error, 1)}
	t.Cleanup(a.bus.Stop)
	t.Cleanup(b.bus.Stop)

	local := open(t, a.bus)
	require.NoError(t, local.Bind("$.Shared", true))
	remote := open(t, b.bus)
	require.NoError(t, remote.Bind("$.Shared", true))

	// Each side already has a replier, so neither proxies the other's.
	startOn(t, a, b, 1, 2)
	time.Sleep(50 * time.Millisecond)
	id, err := a.bus.FindReplier("$.Shared")
	require.NoError(t, err)
	assert.Equal(t, local.ID(), id)
	id, err = b.bus.FindReplier("$.Shared")
	require.NoError(t, err)
	assert.Equal(t, remote.ID(), id)
}

func TestStatusRelayedToSender(t *testing.T) {
	a, b := connect(t)

	svc := open(t, b.bus)
	require.NoError(t, svc.Bind("$.Flaky", true))
	require.Eventually(t, replierIs(a.bus, "$.Flaky", a.bridge.ID()), waitFor, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()

	caller := open(t, a.bus)
	id, err := caller.Send(ctx, message.NewRequest("$.Flaky", nil))
	require.NoError(t, err)

	req, err := svc.ReceiveWait(ctx)
	require.NoError(t, err)
	require.True(t, req.WantsUsToReply())
	require.NoError(t, svc.Close())

	st, err := caller.ReceiveWait(ctx)
	require.NoError(t, err)
	assert.True(t, st.IsSynthetic())
	assert.Equal(t, message.NameReplierGoneAway, st.Name)
	assert.Equal(t, id, st.InReplyTo)
	assert.Equal(t, a.bridge.ID(), st.From)
}

func TestLinkDropOrphansRequests(t *testing.T) {
	a, b := connect(t)

	svc := open(t, b.bus)
	require.NoError(t, svc.Bind("$.Slow", true))
	require.Eventually(t, replierIs(a.bus, "$.Slow", a.bridge.ID()), waitFor, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()

	caller := open(t, a.bus)
	id, err := caller.Send(ctx, message.NewRequest("$.Slow", nil))
	require.NoError(t, err)
	_, err = svc.ReceiveWait(ctx)
	require.NoError(t, err)

	require.NoError(t, a.conn.Close())

	select {
	case err := <-a.done:
		assert.ErrorIs(t, err, errdefs.ErrEndpointGone)
		a.done <- err
	case <-time.After(waitFor):
		t.Fatal("bridge did not notice the dropped link")
	}

	st, err := caller.ReceiveWait(ctx)
	require.NoError(t, err)
	assert.Equal(t, message.NameReplierGoneAway, st.Name)
	assert.Equal(t, id, st.InReplyTo)

	replier, err := a.bus.FindReplier("$.Slow")
	require.NoError(t, err)
	assert.Zero(t, replier, "the proxy went with the bridge endpoint")
}

func TestBridgeEvents(t *testing.T) {
	eb := events.NewBroker()
	eb.Start()
	defer eb.Stop()
	sub := eb.Subscribe(events.EventBridgeUp, events.EventBridgeDown)

	a := &side{bus: broker.NewBroker(broker.Config{}), done: make(chan error, 1)}
	b := &side{bus: broker.NewBroker(broker.Config{}), done: make(chan error, 1)}
	defer a.bus.Stop()
	defer b.bus.Stop()

	a.conn, b.conn = net.Pipe()
	ba, err := bridge.New(a.bus, transport.NewStreamLink(a.conn, 0), bridge.Config{NetworkID: 1, Events: eb})
	require.NoError(t, err)
	bb, err := bridge.New(b.bus, transport.NewStreamLink(b.conn, 0), bridge.Config{NetworkID: 2})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { a.done <- ba.Run(ctx) }()
	go func() { b.done <- bb.Run(ctx) }()

	select {
	case ev := <-sub:
		assert.Equal(t, events.EventBridgeUp, ev.Type)
		assert.Equal(t, "2", ev.Metadata["peer_network_id"])
	case <-time.After(waitFor):
		t.Fatal("no bridge.up event")
	}

	cancel()
	assert.NoError(t, <-a.done)
	assert.NoError(t, <-b.done)

	select {
	case ev := <-sub:
		assert.Equal(t, events.EventBridgeDown, ev.Type)
	case <-time.After(waitFor):
		t.Fatal("no bridge.down event")
	}
}

/*
Package bridge joins two kbus brokers over a transport link.

Each side runs one Bridge. A Bridge opens an endpoint on its local broker,
listens to "$.*" with only-once delivery, and turns on replier bind
reporting. After both sides exchange a $.KBUS.Bridge.Hello frame carrying
their network ids, every message the endpoint receives is considered for
forwarding.

# Architecture

	      network 1                                 network 2
	┌──────────────────────┐                  ┌──────────────────────┐
	│ broker A             │                  │ broker B             │
	│   bridge endpoint    │   outbound       │   bridge endpoint    │
	│   ($.* listener)  ═══╪═════════════════▶│   inject / relay     │
	│   inject / relay  ◀══╪══════════════════╪══ ($.* listener)     │
	│                      │       inbound    │                      │
	└──────────────────────┘  transport.Link  └──────────────────────┘
	                          (TCP or gRPC)

Run starts two goroutines per link:

  - outbound first announces every local replier binding, then forwards
    what the bridge endpoint receives
  - inbound decodes frames from the peer and applies them to the local
    broker

The first of the two to fail ends the link; Run closes the link, waits for
the other, and returns.

# Core Components

Bridge: one side of a link. It needs a broker (anything implementing Bus)
and a transport.Link that is already connected.

	br, err := bridge.New(b, link, bridge.Config{
		NetworkID:  1,
		QueueLimit: bridge.DefaultQueueLimit,
		Events:     eventBroker,
	})
	if err != nil {
		return err
	}
	err = br.Run(ctx)   // returns when the link fails or ctx ends

Bus: the broker surface the bridge needs, a client.Bus plus Bindings.
*broker.Broker implements it; tests may pass a fake.

# Handshake

Both sides write their hello and read the peer's concurrently, so an
unbuffered link cannot deadlock. The hello payload is the sender's network
id as four little-endian bytes. A peer id of 0, or one equal to the local
id, fails the handshake, since ids could no longer tell the two networks
apart.

# Repliers

A replier bound on one side is mirrored on the other: the peer bridge binds
the same pattern as a replier on its own broker. A Request for that name is
then elected to the bridge, forwarded with its id stamped with the local
network id, and injected on the peer with the id unchanged so the real
replier's Reply can be matched back. If the real replier goes away, unbinds
or is full, the status it causes is relayed and the originating bridge
relinquishes the request with the same status name.

A forwarded Request that the peer cannot deliver at all, because no
replier is bound there any more, is answered with
$.KBUS.Replier.NotPresent.

	broker A               bridge A ══ link ══ bridge B          broker B
	  Request $.Clock ──▶ (proxy replier)  ──▶  inject  ──▶  real replier
	  Reply         ◀──  carried to sender ◀──  forward ◀──  Reply
	  GoneAway      ◀──  Relinquish        ◀──  status  ◀──  replier closed

When the peer withdraws a replier, the proxy binding goes too, and local
requests for that name again fail with ErrAddressNotAvailable.

# Provenance

Forwarded messages get orig_from = (network, original sender) when unset. A
message whose orig_from already names the local network, or that the bridge
itself injected, is never sent back across the link. A Request whose
final_to names the receiving network is injected as a stateful request to
final_to.local_id.

Ids keep their network id across the link. A status or reply coming back
for an id stamped with the local network id is localised to (0, serial)
before it is handed to the local broker.

# Link loss

Run returns when the link fails, with an error wrapping
errdefs.ErrEndpointGone, and closes the bridge endpoint. Requests the
bridge was elected to answer become orphaned and their senders receive
$.KBUS.Replier.GoneAway. The proxy replier bindings go with the endpoint.

Run returns nil when ctx ends. kbusd wraps Run in a retry loop for the
dialling side; a listening kbusd accepts the next peer.

# Events and Metrics

With Config.Events set, Run publishes bridge.up after the handshake and
bridge.down when it returns, each with network_id, peer_network_id and
endpoint_id metadata. Frames are counted in

	kbus_bridge_frames_total{direction="in"|"out"}

# Troubleshooting

Handshake fails with a network id conflict: both kbusd instances were
started with the same network_id.

Requests across the link return NotPresent: the replier was bound on the
peer when the bind event crossed but unbound before the request arrived.

# See Also

  - pkg/transport for the TCP and gRPC links
  - pkg/broker for routing and request tracking
  - pkg/client for the endpoint handle the bridge uses
*/
package bridge

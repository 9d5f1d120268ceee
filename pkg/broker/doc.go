/*
Package broker implements the kbus routing engine.

A Broker owns a binding table and one bounded queue per open endpoint.
Send resolves the message name against the table, elects at most one
replier, applies admission control, and enqueues a private copy on every
recipient queue. Everything a client library, the bridge, or the admin
HTTP server does goes through the exported methods of *Broker.

# Architecture

	                    Send(ctx, from, msg)
	                           │
	                           ▼
	┌──────────────────────────────────────────────────────────┐
	│  validate     name, flags, size limits                   │
	│  resolve      binding.Table: replier election, listeners │
	│  admit        ALL_OR_FAIL / ALL_OR_WAIT / best effort     │
	│  deliver      assign id, clone, enqueue, track request   │
	└────────────────────────┬─────────────────────────────────┘
	                         │
	      ┌──────────────────┼──────────────────┐
	      ▼                  ▼                  ▼
	┌───────────┐      ┌───────────┐      ┌───────────┐
	│ endpoint 1│      │ endpoint 2│      │ endpoint 3│
	│  queue    │      │  queue    │      │  queue    │
	└─────┬─────┘      └─────┬─────┘      └─────┬─────┘
	      │                  │                  │
	      ▼                  ▼                  ▼
	 Receive / ReceiveWait / Wait on each endpoint

The broker also feeds two side channels: Prometheus counters in
pkg/metrics and lifecycle events on an optional *events.Broker.

# Core Components

Broker: the routing engine. It is safe for concurrent use.

	b := broker.NewBroker(broker.Config{
		DefaultQueueLimit: 100,
		MaxNameLength:     1000,
		Events:            eventBroker,
	})
	defer b.Stop()

Endpoint: an open handle with its own queue, only-once flag and last sent
id. Endpoint ids start at 1 and are never reused while the broker runs.

Request tracking: every Request delivered to a replier is remembered until
the replier answers, closes, unbinds, or relinquishes it.

# Usage Examples

## Request and reply

	svc, _ := b.Open()
	cli, _ := b.Open()
	_ = b.Bind(svc, "$.Time.Now", binding.RoleReplier)

	id, err := b.Send(ctx, cli, message.NewRequest("$.Time.Now", nil))
	req, _ := b.ReceiveWait(ctx, svc)   // req.WantsUsToReply() == true
	rep, _ := message.ReplyTo(req, []byte("12:00"))
	_, err = b.Send(ctx, svc, rep)       // answers id

## Announcements to listeners

	_ = b.Bind(logger, "$.Sensors.*", binding.RoleListener)
	_, _ = b.Send(ctx, sensor, message.NewAnnouncement("$.Sensors.Temp", data))

## Stateful requests

A stateful request names the replier it expects in To. If another endpoint
is now the elected replier the send fails with errdefs.ErrReplierChanged,
so a conversation never silently moves to a different replier.

# Requests and failure reporting

If the replier closes, unbinds the name, or never receives the copy
because its queue was full, the sender gets a synthetic status instead of
a Reply:

	$.KBUS.Replier.GoneAway    replier endpoint closed
	$.KBUS.Replier.Unbound     replier unbound the name
	$.KBUS.Replier.QueueFull   replier queue had no room

Status messages carry in_reply_to = the request id, are addressed to the
sender, come from the replier, and ignore queue limits. See pkg/queue for
what that means for a sender that never reads.

# Admission Control

The send flags choose what happens when a recipient queue is full:

	no flag        listener copies are dropped, a full replier
	               produces $.KBUS.Replier.QueueFull
	ALL_OR_FAIL    nothing is delivered, Send returns ErrQueueFull
	ALL_OR_WAIT    Send blocks until every queue has room or ctx ends

Demand is counted per endpoint, so an endpoint bound twice to a matching
pattern needs two free slots. An ALL_OR_WAIT send whose demand on one
endpoint exceeds that endpoint's whole limit fails with ErrQueueFull at
once, since no amount of waiting would make it fit. A cancelled wait
returns errdefs.ErrCancelled and delivers nothing.

A Reply addressed to its sender always needs room for one copy; it fails
with ErrQueueFull rather than being dropped.

# Message IDs

Local ids are (0, serial) with serial counting up from 1 under the broker
lock, so ids from one broker strictly increase. Serial 0 is skipped on
wrap, so an assigned id is never (0,0). Messages that arrive with a
non-zero network id, such as those injected by a bridge, keep their id.

# Replier Bind Events

With ReportReplierBinds on, every replier bind and unbind also sends a
$.KBUS.ReplierBindEvent announcement. The bridge relies on these to mirror
repliers across a link. Like statuses they ignore queue limits, so a
listener never misses one.

# Lifecycle Events

When Config.Events is set the broker publishes:

	endpoint.opened    endpoint_id
	endpoint.closed    endpoint_id
	binding.added      endpoint_id, pattern, replier
	binding.removed    endpoint_id, pattern, replier
	request.orphaned   request_id, sender, replier
	copy.dropped       endpoint_id, message_id, name, reason

copy.dropped reasons are "listener_full" and "replier_full". Closing an
endpoint reports its orphaned requests before its removed bindings.

# Locking

One broker lock serializes binding changes, routing, id assignment and
request tracking. Queues lock independently, so Receive on one endpoint
only takes the broker lock long enough to find its queue. An ALL_OR_WAIT
send releases the broker lock while it waits and resolves the route again
when it wakes, since bindings may have changed meanwhile.

# Monitoring Metrics

	kbus_messages_sent_total{kind}          messages accepted by Send
	kbus_copies_delivered_total             copies enqueued
	kbus_copies_dropped_total{reason}       listener_full, replier_full,
	                                        replier_unbound, endpoint_closed
	kbus_synthetic_messages_total{event}    statuses and bind events
	kbus_send_duration_seconds              Send latency

Gauges for endpoints, bindings and outstanding requests are sampled by
metrics.Collector through Endpoints, BindingCounts and Outstanding.

# Troubleshooting

Send returns ErrAddressNotAvailable: a Request was sent to a name with no
replier. FindReplier reports 0 in the same situation.

A sender collects QueueFull statuses: the replier is not reading fast
enough. Raise its limit with SetQueueLimit or have it read sooner.

ALL_OR_WAIT never returns: some recipient never reads. Pass a context with
a deadline.

# See Also

  - pkg/binding for pattern matching and replier election
  - pkg/queue for the per-endpoint queue
  - pkg/client for a per-endpoint handle over a Broker
  - pkg/bridge for joining two brokers
*/
package broker

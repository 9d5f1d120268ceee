package broker

import (
	"context"
	"errors"
	"fmt"

	"github.com/cuemby/kbus/pkg/errdefs"
	"github.com/cuemby/kbus/pkg/message"
	"github.com/cuemby/kbus/pkg/metrics"
)

// target is one copy of a message bound for one endpoint.
type target struct {
	ep *endpoint
	// replier marks the copy tagged WANT_YOU_TO_REPLY.
	replier bool
	// addressed marks the copy of a Reply sent to its to endpoint.
	addressed bool
}

type route struct {
	targets        []target
	replierPattern string
}

// demand counts copies per endpoint.
func (r route) demand() map[*endpoint]int {
	d := make(map[*endpoint]int, len(r.targets))
	for _, t := range r.targets {
		d[t.ep]++
	}
	return d
}

// Send routes a copy of msg from endpoint from to every matching binding
// and returns the id the message was given.
//
// A Request with no replier, or a stateful Request whose replier has
// changed, fails without delivering anything. With ALL_OR_FAIL every
// recipient queue must have room or nothing is delivered. With ALL_OR_WAIT
// the call blocks until every recipient has room, re-resolving recipients
// on each wake; it returns ErrCancelled if ctx ends or the sending endpoint
// closes first. Otherwise delivery is best effort: a full listener queue
// silently loses its copy, and a full replier queue turns into a
// $.KBUS.Replier.QueueFull status for the sender.
func (b *Broker) Send(ctx context.Context, from message.EndpointID, msg *message.Message) (message.ID, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.SendDuration)

	if err := b.validate(msg); err != nil {
		return message.ID{}, err
	}

	m := msg.Clone()
	m.Flags = m.Flags.SenderFlags()

	waited := false
	for {
		b.mu.Lock()
		sender, err := b.endpointLocked(from)
		if err != nil {
			b.mu.Unlock()
			if waited && errors.Is(err, errdefs.ErrEndpointGone) {
				return message.ID{}, fmt.Errorf("send %q: sender closed while waiting: %w", m.Name, errdefs.ErrCancelled)
			}
			return message.ID{}, err
		}

		rt, err := b.resolve(m)
		if err != nil {
			b.mu.Unlock()
			return message.ID{}, err
		}

		freed, err := b.admit(m, rt)
		if err != nil {
			b.mu.Unlock()
			return message.ID{}, err
		}

		if freed == nil {
			id := b.deliver(sender, m, rt)
			b.mu.Unlock()
			return id, nil
		}
		b.mu.Unlock()
		waited = true

		select {
		case <-freed:
		case <-sender.done:
			return message.ID{}, fmt.Errorf("send %q: sender closed while waiting: %w", m.Name, errdefs.ErrCancelled)
		case <-ctx.Done():
			return message.ID{}, fmt.Errorf("send %q: %w: %v", m.Name, errdefs.ErrCancelled, ctx.Err())
		case <-b.done:
			return message.ID{}, errdefs.ErrBrokerClosed
		}
	}
}

func (b *Broker) validate(m *message.Message) error {
	if err := message.ValidateName(m.Name, b.cfg.MaxNameLength); err != nil {
		return err
	}
	if m.Flags.Has(message.FlagAllOrWait | message.FlagAllOrFail) {
		return fmt.Errorf("send %q: ALL_OR_WAIT and ALL_OR_FAIL are exclusive: %w", m.Name, errdefs.ErrInvalidFlags)
	}
	if b.cfg.MaxMessageSize > 0 {
		if n := wireLength(m); n > b.cfg.MaxMessageSize {
			return fmt.Errorf("send %q: %d bytes exceeds %d: %w", m.Name, n, b.cfg.MaxMessageSize, errdefs.ErrMessageTooBig)
		}
	}
	return nil
}

// resolve computes the copies a send produces. Caller holds b.mu.
func (b *Broker) resolve(m *message.Message) (route, error) {
	var rt route
	res := b.table.Resolve(m.Name)

	switch m.Kind() {
	case message.KindRequest:
		if res.Replier == nil {
			return rt, fmt.Errorf("send %q: no replier bound: %w", m.Name, errdefs.ErrAddressNotAvailable)
		}
		if m.To != 0 && res.Replier.Endpoint != m.To {
			if _, alive := b.endpoints[m.To]; !alive {
				return rt, fmt.Errorf("send %q to %d: %w", m.Name, m.To, errdefs.ErrEndpointGone)
			}
			return rt, fmt.Errorf("send %q to %d: endpoint %d is replier now: %w",
				m.Name, m.To, res.Replier.Endpoint, errdefs.ErrReplierChanged)
		}
		rt.targets = append(rt.targets, target{ep: b.endpoints[res.Replier.Endpoint], replier: true})
		rt.replierPattern = res.Replier.Pattern

	case message.KindReply:
		if m.To != 0 {
			ep, ok := b.endpoints[m.To]
			if !ok {
				return rt, fmt.Errorf("reply %q to %d: %w", m.Name, m.To, errdefs.ErrAddressNotAvailable)
			}
			rt.targets = append(rt.targets, target{ep: ep, addressed: true})
		}
	}

	for _, l := range res.Listeners {
		rt.targets = append(rt.targets, target{ep: b.endpoints[l.Endpoint]})
	}

	// Only-once endpoints keep their first copy; the replier and addressed
	// copies come first.
	seen := make(map[*endpoint]bool, len(rt.targets))
	kept := rt.targets[:0]
	for _, t := range rt.targets {
		if t.ep.onlyOnce && seen[t.ep] {
			continue
		}
		seen[t.ep] = true
		kept = append(kept, t)
	}
	rt.targets = kept
	return rt, nil
}

// admit applies admission control. It returns a non-nil channel when an
// ALL_OR_WAIT send must wait for it before trying again. Caller holds b.mu.
func (b *Broker) admit(m *message.Message, rt route) (<-chan struct{}, error) {
	demand := rt.demand()

	switch {
	case m.Flags.Has(message.FlagAllOrFail):
		for ep, n := range demand {
			if !ep.queue.HasRoom(n) {
				return nil, fmt.Errorf("send %q: endpoint %d: %w", m.Name, ep.id, errdefs.ErrQueueFull)
			}
		}

	case m.Flags.Has(message.FlagAllOrWait):
		for ep, n := range demand {
			ok, freed := ep.queue.RoomOrWait(n)
			if ok {
				continue
			}
			// Waiting cannot help when the copies exceed the whole queue.
			if limit := ep.queue.Limit(); n > limit {
				return nil, fmt.Errorf("send %q: endpoint %d needs %d slots, limit %d: %w",
					m.Name, ep.id, n, limit, errdefs.ErrQueueFull)
			}
			return freed, nil
		}

	default:
		for _, t := range rt.targets {
			if t.addressed && !t.ep.queue.HasRoom(1) {
				return nil, fmt.Errorf("reply %q to %d: %w", m.Name, t.ep.id, errdefs.ErrQueueFull)
			}
		}
	}
	return nil, nil
}

// deliver stamps m and enqueues its copies. Caller holds b.mu.
func (b *Broker) deliver(sender *endpoint, m *message.Message, rt route) message.ID {
	if m.ID.NetworkID == 0 {
		m.ID = b.nextID()
	}
	m.From = sender.id
	sender.lastSent = m.ID

	if m.IsReply() {
		if r, ok := b.outstanding[m.InReplyTo]; ok && r.replier == sender.id {
			delete(b.outstanding, r.id)
		}
	}

	delivered := 0
	for _, t := range rt.targets {
		c := m.Clone()
		if t.replier {
			c.Flags |= message.FlagWantYouToReply
		}

		if t.ep.queue.Enqueue(c) {
			delivered++
			if t.replier {
				b.outstanding[m.ID] = &request{
					id:      m.ID,
					sender:  sender.id,
					replier: t.ep.id,
					pattern: rt.replierPattern,
				}
			}
			continue
		}

		if t.replier {
			metrics.CopiesDropped.WithLabelValues("replier_full").Inc()
			b.emitStatus(message.NameReplierQueueFull, m.ID, sender.id, t.ep.id)
			b.publishDropped(m, t.ep.id, "replier_full")
			b.logger.Warn().
				Str("request_id", m.ID.String()).
				Uint32("replier", uint32(t.ep.id)).
				Msg("Replier queue full")
			continue
		}
		metrics.CopiesDropped.WithLabelValues("listener_full").Inc()
		b.publishDropped(m, t.ep.id, "listener_full")
		b.logger.Debug().
			Str("message_id", m.ID.String()).
			Uint32("listener", uint32(t.ep.id)).
			Msg("Listener queue full, copy dropped")
	}

	metrics.MessagesSent.WithLabelValues(m.Kind().String()).Inc()
	metrics.CopiesDelivered.Add(float64(delivered))

	b.logger.Debug().
		Str("message", m.String()).
		Int("copies", len(rt.targets)).
		Int("delivered", delivered).
		Msg("Sent")
	return m.ID
}

package broker

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"sync"

	"github.com/cuemby/kbus/pkg/binding"
	"github.com/cuemby/kbus/pkg/errdefs"
	"github.com/cuemby/kbus/pkg/events"
	"github.com/cuemby/kbus/pkg/log"
	"github.com/cuemby/kbus/pkg/message"
	"github.com/cuemby/kbus/pkg/metrics"
	"github.com/cuemby/kbus/pkg/queue"
	"github.com/cuemby/kbus/pkg/wire"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Config holds broker configuration
type Config struct {
	// DefaultQueueLimit is the capacity of each new endpoint queue
	DefaultQueueLimit int
	// MaxNameLength bounds message names and binding patterns
	MaxNameLength int
	// MaxMessageSize bounds the wire length of a sent message. 0 means no limit.
	MaxMessageSize int
	// ReportReplierBinds emits $.KBUS.ReplierBindEvent messages from the start
	ReportReplierBinds bool
	// Events receives lifecycle events when set
	Events *events.Broker
}

type endpoint struct {
	id       message.EndpointID
	queue    *queue.Queue
	done     chan struct{}
	onlyOnce bool
	lastSent message.ID
}

// request tracks a Request delivered to a replier and not yet answered.
type request struct {
	id      message.ID
	sender  message.EndpointID
	replier message.EndpointID
	pattern string
}

// Broker routes messages between endpoints.
type Broker struct {
	cfg    Config
	logger zerolog.Logger

	mu           sync.RWMutex
	table        *binding.Table
	endpoints    map[message.EndpointID]*endpoint
	lastEndpoint message.EndpointID
	serial       uint32
	outstanding  map[message.ID]*request
	reportBinds  bool
	closed       bool
	done         chan struct{}
}

// NewBroker creates a broker. Zero config values select defaults.
func NewBroker(cfg Config) *Broker {
	if cfg.DefaultQueueLimit <= 0 {
		cfg.DefaultQueueLimit = queue.DefaultLimit
	}
	if cfg.MaxNameLength <= 0 {
		cfg.MaxNameLength = message.DefaultMaxNameLength
	}

	b := &Broker{
		cfg:         cfg,
		table:       binding.NewTable(cfg.MaxNameLength),
		endpoints:   make(map[message.EndpointID]*endpoint),
		outstanding: make(map[message.ID]*request),
		reportBinds: cfg.ReportReplierBinds,
		done:        make(chan struct{}),
	}
	b.logger = log.WithComponent("broker").With().Str("instance", uuid.NewString()).Logger()
	return b
}

// Open creates a new endpoint and returns its id. Ids are never reused.
func (b *Broker) Open() (message.EndpointID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0, errdefs.ErrBrokerClosed
	}

	b.lastEndpoint++
	ep := &endpoint{
		id:    b.lastEndpoint,
		queue: queue.New(b.cfg.DefaultQueueLimit),
		done:  make(chan struct{}),
	}
	b.endpoints[ep.id] = ep

	b.logger.Info().Uint32("endpoint_id", uint32(ep.id)).Msg("Endpoint opened")
	b.publish(events.EventEndpointOpened, "endpoint opened", map[string]string{
		"endpoint_id": strconv.FormatUint(uint64(ep.id), 10),
	})
	return ep.id, nil
}

// Close removes the endpoint, its bindings, and its queue. Every request
// the endpoint was elected to answer is orphaned with a
// $.KBUS.Replier.GoneAway status to its sender. A send blocked in
// ALL_OR_WAIT on behalf of this endpoint returns ErrCancelled.
func (b *Broker) Close(id message.EndpointID) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.endpoints[id]; !ok {
		return fmt.Errorf("close %d: %w", id, errdefs.ErrEndpointGone)
	}
	b.closeLocked(id)
	return nil
}

func (b *Broker) closeLocked(id message.EndpointID) {
	ep := b.endpoints[id]
	delete(b.endpoints, id)
	close(ep.done)

	// Statuses go out before the unbind reports so that anyone relaying
	// both sees the orphaned requests first.
	for _, r := range b.sortedOutstanding() {
		switch {
		case r.replier == id:
			b.orphan(r, message.NameReplierGoneAway)
		case r.sender == id:
			delete(b.outstanding, r.id)
		}
	}

	for _, bd := range b.table.RemoveEndpoint(id) {
		if bd.Replier {
			b.reportBind(false, id, bd.Pattern)
		}
		b.publishBinding(events.EventBindingRemoved, bd)
	}

	discarded := ep.queue.Close()
	if len(discarded) > 0 {
		metrics.CopiesDropped.WithLabelValues("endpoint_closed").Add(float64(len(discarded)))
	}

	b.logger.Info().
		Uint32("endpoint_id", uint32(id)).
		Int("discarded", len(discarded)).
		Msg("Endpoint closed")
	b.publish(events.EventEndpointClosed, "endpoint closed", map[string]string{
		"endpoint_id": strconv.FormatUint(uint64(id), 10),
	})
}

// Stop closes every endpoint and rejects further operations.
func (b *Broker) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	close(b.done)

	ids := make([]message.EndpointID, 0, len(b.endpoints))
	for id := range b.endpoints {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		b.closeLocked(id)
	}
	b.logger.Info().Msg("Broker stopped")
}

// Bind binds the endpoint to pattern as a listener or replier.
func (b *Broker) Bind(id message.EndpointID, pattern string, role binding.Role) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := b.endpointLocked(id); err != nil {
		return err
	}
	if err := b.table.Bind(id, pattern, role); err != nil {
		return err
	}

	bd := binding.Binding{Pattern: pattern, Endpoint: id, Replier: role == binding.RoleReplier}
	if bd.Replier {
		b.reportBind(true, id, pattern)
	}
	b.logger.Debug().Str("binding", bd.String()).Msg("Bound")
	b.publishBinding(events.EventBindingAdded, bd)
	return nil
}

// Unbind removes one binding. Removing a replier binding orphans the
// requests it was elected for with $.KBUS.Replier.Unbound and withdraws
// their unread copies from the endpoint's queue; listener copies stay.
func (b *Broker) Unbind(id message.EndpointID, pattern string, role binding.Role) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	ep, err := b.endpointLocked(id)
	if err != nil {
		return err
	}
	bd, err := b.table.Unbind(id, pattern, role)
	if err != nil {
		return err
	}

	if bd.Replier {
		orphaned := make(map[message.ID]bool)
		for _, r := range b.sortedOutstanding() {
			if r.replier == id && r.pattern == bd.Pattern {
				orphaned[r.id] = true
				b.orphan(r, message.NameReplierUnbound)
			}
		}
		if len(orphaned) > 0 {
			withdrawn := ep.queue.RemoveFunc(func(m *message.Message) bool {
				return m.WantsUsToReply() && orphaned[m.ID]
			})
			metrics.CopiesDropped.WithLabelValues("replier_unbound").Add(float64(len(withdrawn)))
		}
		b.reportBind(false, id, bd.Pattern)
	}

	b.logger.Debug().Str("binding", bd.String()).Msg("Unbound")
	b.publishBinding(events.EventBindingRemoved, bd)
	return nil
}

// Receive dequeues the next message for the endpoint without blocking. It
// returns nil when the queue is empty.
func (b *Broker) Receive(id message.EndpointID) (*message.Message, error) {
	ep, err := b.endpoint(id)
	if err != nil {
		return nil, err
	}
	m, ok := ep.queue.TryDequeue()
	if !ok {
		return nil, nil
	}
	return m, nil
}

// Wait blocks until the endpoint has a message queued, the endpoint
// closes, or ctx is done.
func (b *Broker) Wait(ctx context.Context, id message.EndpointID) error {
	for {
		ep, err := b.endpoint(id)
		if err != nil {
			return err
		}
		if ep.queue.Len() > 0 {
			return nil
		}

		select {
		case <-ep.queue.Wait():
		case <-ep.done:
			return fmt.Errorf("wait %d: %w", id, errdefs.ErrEndpointGone)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// ReceiveWait blocks until a message is available and dequeues it.
func (b *Broker) ReceiveWait(ctx context.Context, id message.EndpointID) (*message.Message, error) {
	for {
		if err := b.Wait(ctx, id); err != nil {
			return nil, err
		}
		m, err := b.Receive(id)
		if err != nil || m != nil {
			return m, err
		}
	}
}

func (b *Broker) endpoint(id message.EndpointID) (*endpoint, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.endpointLocked(id)
}

func (b *Broker) endpointLocked(id message.EndpointID) (*endpoint, error) {
	if b.closed {
		return nil, errdefs.ErrBrokerClosed
	}
	ep, ok := b.endpoints[id]
	if !ok {
		return nil, fmt.Errorf("endpoint %d: %w", id, errdefs.ErrEndpointGone)
	}
	return ep, nil
}

// nextID returns the next local id. Serial 0 is skipped on wrap so an
// assigned id is never the unset (0,0).
func (b *Broker) nextID() message.ID {
	b.serial++
	if b.serial == 0 {
		b.serial = 1
	}
	return message.ID{SerialNum: b.serial}
}

// orphan drops tracking for r and tells its sender why. Caller holds b.mu.
func (b *Broker) orphan(r *request, event string) {
	delete(b.outstanding, r.id)
	b.emitStatus(event, r.id, r.sender, r.replier)

	b.logger.Warn().
		Str("request_id", r.id.String()).
		Uint32("sender", uint32(r.sender)).
		Uint32("replier", uint32(r.replier)).
		Str("event", event).
		Msg("Request orphaned")
	b.publish(events.EventRequestOrphaned, event, map[string]string{
		"request_id": r.id.String(),
		"sender":     strconv.FormatUint(uint64(r.sender), 10),
		"replier":    strconv.FormatUint(uint64(r.replier), 10),
	})
}

// emitStatus queues a synthetic status on endpoint to, ignoring its queue
// limit. Caller holds b.mu.
func (b *Broker) emitStatus(name string, inReplyTo message.ID, to, from message.EndpointID) {
	ep, ok := b.endpoints[to]
	if !ok {
		return
	}
	s := message.NewStatus(name, inReplyTo, to, from, nil)
	s.ID = b.nextID()
	ep.queue.Force(s)
	metrics.SyntheticMessages.WithLabelValues(statusLabel(name)).Inc()
}

// reportBind sends a $.KBUS.ReplierBindEvent to its listeners when
// reporting is enabled. Caller holds b.mu.
func (b *Broker) reportBind(isBind bool, binder message.EndpointID, pattern string) {
	if !b.reportBinds {
		return
	}

	payload := message.ReplierBindEvent{IsBind: isBind, Binder: binder, Name: pattern}.Marshal()
	s := message.NewStatus(message.NameReplierBindEvent, message.ID{}, 0, 0, payload)
	s.ID = b.nextID()

	seen := make(map[message.EndpointID]bool)
	for _, l := range b.table.Resolve(message.NameReplierBindEvent).Listeners {
		ep := b.endpoints[l.Endpoint]
		if ep == nil || (ep.onlyOnce && seen[ep.id]) {
			continue
		}
		seen[ep.id] = true
		ep.queue.Force(s.Clone())
	}
	metrics.SyntheticMessages.WithLabelValues(statusLabel(message.NameReplierBindEvent)).Inc()
}

// sortedOutstanding returns tracked requests in id order. Caller holds b.mu.
func (b *Broker) sortedOutstanding() []*request {
	out := make([]*request, 0, len(b.outstanding))
	for _, r := range b.outstanding {
		out = append(out, r)
	}
	slices.SortFunc(out, func(x, y *request) int { return x.id.Compare(y.id) })
	return out
}

func (b *Broker) publish(typ events.EventType, msg string, meta map[string]string) {
	if b.cfg.Events == nil {
		return
	}
	b.cfg.Events.Publish(&events.Event{Type: typ, Message: msg, Metadata: meta})
}

func (b *Broker) publishBinding(typ events.EventType, bd binding.Binding) {
	b.publish(typ, bd.String(), map[string]string{
		"endpoint_id": strconv.FormatUint(uint64(bd.Endpoint), 10),
		"pattern":     bd.Pattern,
		"replier":     strconv.FormatBool(bd.Replier),
	})
}

func (b *Broker) publishDropped(m *message.Message, to message.EndpointID, reason string) {
	b.publish(events.EventCopyDropped, "copy dropped", map[string]string{
		"endpoint_id": strconv.FormatUint(uint64(to), 10),
		"message_id":  m.ID.String(),
		"name":        m.Name,
		"reason":      reason,
	})
}

func statusLabel(name string) string {
	return name[len(message.StatusPrefix):]
}

// wireLength is the encoded size of m.
func wireLength(m *message.Message) int {
	return wire.TotalLength(len(m.Name), len(m.Data))
}

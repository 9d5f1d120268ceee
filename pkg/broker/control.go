package broker

import (
	"fmt"

	"github.com/cuemby/kbus/pkg/binding"
	"github.com/cuemby/kbus/pkg/errdefs"
	"github.com/cuemby/kbus/pkg/message"
)

// SetQueueLimit sets the endpoint's queue capacity and returns the previous
// value. n == 0 only queries.
func (b *Broker) SetQueueLimit(id message.EndpointID, n int) (int, error) {
	if n < 0 {
		return 0, fmt.Errorf("queue limit %d for endpoint %d must not be negative", n, id)
	}
	ep, err := b.endpoint(id)
	if err != nil {
		return 0, err
	}
	return ep.queue.SetLimit(n), nil
}

// QueueLen returns the number of messages waiting on the endpoint.
func (b *Broker) QueueLen(id message.EndpointID) (int, error) {
	ep, err := b.endpoint(id)
	if err != nil {
		return 0, err
	}
	return ep.queue.Len(), nil
}

// SetOnlyOnce controls whether the endpoint receives at most one copy of
// each message, and returns the previous setting. The replier copy wins
// over listener copies.
func (b *Broker) SetOnlyOnce(id message.EndpointID, on bool) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ep, err := b.endpointLocked(id)
	if err != nil {
		return false, err
	}
	prev := ep.onlyOnce
	ep.onlyOnce = on
	return prev, nil
}

// SetReportReplierBinds turns $.KBUS.ReplierBindEvent messages on or off
// for the whole broker and returns the previous setting.
func (b *Broker) SetReportReplierBinds(on bool) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	prev := b.reportBinds
	b.reportBinds = on
	return prev
}

// FindReplier returns the endpoint a Request to name would be delivered
// to, or 0 when there is none.
func (b *Broker) FindReplier(name string) (message.EndpointID, error) {
	if err := message.ValidateName(name, b.cfg.MaxNameLength); err != nil {
		return 0, err
	}
	bd, ok := b.table.ReplierFor(name)
	if !ok {
		return 0, nil
	}
	return bd.Endpoint, nil
}

// LastMessageID returns the id of the last message the endpoint sent.
func (b *Broker) LastMessageID(id message.EndpointID) (message.ID, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ep, err := b.endpointLocked(id)
	if err != nil {
		return message.ID{}, err
	}
	return ep.lastSent, nil
}

// NumUnrepliedTo counts the requests the endpoint was elected to answer and
// has not answered yet.
func (b *Broker) NumUnrepliedTo(id message.EndpointID) (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if _, err := b.endpointLocked(id); err != nil {
		return 0, err
	}
	n := 0
	for _, r := range b.outstanding {
		if r.replier == id {
			n++
		}
	}
	return n, nil
}

// Relinquish abandons a request the endpoint was elected to answer. The
// sender receives a status named event, which must be a $.KBUS. name.
func (b *Broker) Relinquish(id message.EndpointID, requestID message.ID, event string) error {
	if !message.IsStatusName(event) {
		return fmt.Errorf("relinquish with %q: %w", event, errdefs.ErrInvalidName)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := b.endpointLocked(id); err != nil {
		return err
	}
	r, ok := b.outstanding[requestID]
	if !ok || r.replier != id {
		return fmt.Errorf("relinquish %s: not awaiting a reply from %d: %w", requestID, id, errdefs.ErrAddressNotAvailable)
	}
	b.orphan(r, event)
	return nil
}

// Bindings returns a snapshot of every binding in bind order.
func (b *Broker) Bindings() []binding.Binding {
	return b.table.List()
}

// Endpoints returns the number of open endpoints.
func (b *Broker) Endpoints() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.endpoints)
}

// BindingCounts returns the number of replier and listener bindings.
func (b *Broker) BindingCounts() (repliers, listeners int) {
	return b.table.Counts()
}

// Outstanding returns the number of requests awaiting a reply.
func (b *Broker) Outstanding() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.outstanding)
}

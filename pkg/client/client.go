package client

import (
	"context"
	"fmt"
	"sync"

	"github.com/cuemby/kbus/pkg/binding"
	"github.com/cuemby/kbus/pkg/message"
)

// Bus is the broker surface a Ksock needs. *broker.Broker implements it.
type Bus interface {
	Open() (message.EndpointID, error)
	Close(id message.EndpointID) error
	Bind(id message.EndpointID, pattern string, role binding.Role) error
	Unbind(id message.EndpointID, pattern string, role binding.Role) error
	Send(ctx context.Context, from message.EndpointID, m *message.Message) (message.ID, error)
	Receive(id message.EndpointID) (*message.Message, error)
	Wait(ctx context.Context, id message.EndpointID) error
	SetQueueLimit(id message.EndpointID, n int) (int, error)
	QueueLen(id message.EndpointID) (int, error)
	SetOnlyOnce(id message.EndpointID, on bool) (bool, error)
	SetReportReplierBinds(on bool) bool
	FindReplier(name string) (message.EndpointID, error)
	LastMessageID(id message.EndpointID) (message.ID, error)
	NumUnrepliedTo(id message.EndpointID) (int, error)
	Relinquish(id message.EndpointID, requestID message.ID, event string) error
}

// Ksock is one open connection to a bus. Bind, Send and the control calls
// may be used from any goroutine; receiving is meant for a single reader.
type Ksock struct {
	bus Bus
	id  message.EndpointID

	mu    sync.Mutex
	stash []*message.Message // set aside by Call, returned by Receive first
}

// Open opens a new endpoint on bus
func Open(bus Bus) (*Ksock, error) {
	id, err := bus.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open endpoint: %w", err)
	}
	return &Ksock{bus: bus, id: id}, nil
}

// ID returns the endpoint id
func (k *Ksock) ID() message.EndpointID {
	return k.id
}

// Close closes the endpoint
func (k *Ksock) Close() error {
	return k.bus.Close(k.id)
}

// Bind binds to pattern as a replier or a listener
func (k *Ksock) Bind(pattern string, replier bool) error {
	return k.bus.Bind(k.id, pattern, binding.RoleOf(replier))
}

// Unbind removes one binding for pattern in the given role
func (k *Ksock) Unbind(pattern string, replier bool) error {
	return k.bus.Unbind(k.id, pattern, binding.RoleOf(replier))
}

// UnbindAny removes the binding for pattern whatever its role. It fails
// with ErrAmbiguousUnbind when pattern is bound in both roles.
func (k *Ksock) UnbindAny(pattern string) error {
	return k.bus.Unbind(k.id, pattern, binding.RoleAny)
}

// Send sends m and returns its id
func (k *Ksock) Send(ctx context.Context, m *message.Message) (message.ID, error) {
	return k.bus.Send(ctx, k.id, m)
}

// Reply answers a request this endpoint received as its replier
func (k *Ksock) Reply(ctx context.Context, req *message.Message, data []byte, opts ...message.Option) (message.ID, error) {
	rep, err := message.ReplyTo(req, data, opts...)
	if err != nil {
		return message.ID{}, err
	}
	return k.Send(ctx, rep)
}

// Call sends a request and waits for the reply or status that answers it.
// Unrelated messages received meanwhile are kept for Receive.
func (k *Ksock) Call(ctx context.Context, req *message.Message) (*message.Message, error) {
	if !req.IsRequest() {
		return nil, fmt.Errorf("call %q: message is not a request", req.Name)
	}
	id, err := k.Send(ctx, req)
	if err != nil {
		return nil, err
	}

	var unrelated []*message.Message
	defer func() {
		if len(unrelated) > 0 {
			k.mu.Lock()
			k.stash = append(k.stash, unrelated...)
			k.mu.Unlock()
		}
	}()

	for {
		if err := k.bus.Wait(ctx, k.id); err != nil {
			return nil, err
		}
		m, err := k.bus.Receive(k.id)
		if err != nil {
			return nil, err
		}
		if m == nil {
			continue
		}
		if m.InReplyTo == id {
			return m, nil
		}
		unrelated = append(unrelated, m)
	}
}

// Receive returns the next message, or nil when none is waiting
func (k *Ksock) Receive() (*message.Message, error) {
	k.mu.Lock()
	if len(k.stash) > 0 {
		m := k.stash[0]
		k.stash = k.stash[1:]
		k.mu.Unlock()
		return m, nil
	}
	k.mu.Unlock()
	return k.bus.Receive(k.id)
}

// ReceiveWait blocks until a message arrives or ctx is done
func (k *Ksock) ReceiveWait(ctx context.Context) (*message.Message, error) {
	for {
		m, err := k.Receive()
		if err != nil || m != nil {
			return m, err
		}
		if err := k.bus.Wait(ctx, k.id); err != nil {
			return nil, err
		}
	}
}

// QueueLimit returns the endpoint's queue capacity
func (k *Ksock) QueueLimit() (int, error) {
	return k.bus.SetQueueLimit(k.id, 0)
}

// SetQueueLimit changes the queue capacity and returns the previous one
func (k *Ksock) SetQueueLimit(n int) (int, error) {
	if n <= 0 {
		return 0, fmt.Errorf("queue limit must be positive, got %d", n)
	}
	return k.bus.SetQueueLimit(k.id, n)
}

// QueueLen returns the number of messages waiting in the broker
func (k *Ksock) QueueLen() (int, error) {
	return k.bus.QueueLen(k.id)
}

// SetOnlyOnce asks for at most one copy of each message
func (k *Ksock) SetOnlyOnce(on bool) (bool, error) {
	return k.bus.SetOnlyOnce(k.id, on)
}

// ReportReplierBinds turns bus-wide replier bind events on or off
func (k *Ksock) ReportReplierBinds(on bool) bool {
	return k.bus.SetReportReplierBinds(on)
}

// FindReplier returns the endpoint that would answer a request to name
func (k *Ksock) FindReplier(name string) (message.EndpointID, error) {
	return k.bus.FindReplier(name)
}

// LastMessageID returns the id of the last message sent on this endpoint
func (k *Ksock) LastMessageID() (message.ID, error) {
	return k.bus.LastMessageID(k.id)
}

// NumUnrepliedTo counts requests this endpoint still has to answer
func (k *Ksock) NumUnrepliedTo() (int, error) {
	return k.bus.NumUnrepliedTo(k.id)
}

// Relinquish gives up a request without replying; its sender receives a
// status named event
func (k *Ksock) Relinquish(requestID message.ID, event string) error {
	return k.bus.Relinquish(k.id, requestID, event)
}

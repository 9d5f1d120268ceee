package message

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
)

// Flags is the message flag bitmask.
type Flags uint32

const (
	// FlagWantReply marks a message as a Request.
	FlagWantReply Flags = 1 << 0
	// FlagWantYouToReply is set by the broker on the copy delivered to the
	// elected replier only.
	FlagWantYouToReply Flags = 1 << 1
	// FlagSynthetic marks a broker-generated status message.
	FlagSynthetic Flags = 1 << 2
	// FlagUrgent queues the message ahead of non-urgent messages.
	FlagUrgent Flags = 1 << 3
	// FlagAllOrWait blocks the send until every recipient has room.
	FlagAllOrWait Flags = 1 << 8
	// FlagAllOrFail fails the send if any recipient is full.
	FlagAllOrFail Flags = 1 << 9

	// brokerOnly are bits a sender may not set.
	brokerOnly = FlagWantYouToReply | FlagSynthetic
)

var flagNames = []struct {
	flag Flags
	name string
}{
	{FlagWantReply, "WANT_A_REPLY"},
	{FlagWantYouToReply, "WANT_YOU_TO_REPLY"},
	{FlagSynthetic, "SYNTHETIC"},
	{FlagUrgent, "URGENT"},
	{FlagAllOrWait, "ALL_OR_WAIT"},
	{FlagAllOrFail, "ALL_OR_FAIL"},
}

// Has reports whether every bit in x is set in f.
func (f Flags) Has(x Flags) bool {
	return f&x == x
}

// SenderFlags returns f without the bits only the broker may set.
func (f Flags) SenderFlags() Flags {
	return f &^ brokerOnly
}

func (f Flags) String() string {
	if f == 0 {
		return "0"
	}
	var parts []string
	rest := f
	for _, fn := range flagNames {
		if f&fn.flag != 0 {
			parts = append(parts, fn.name)
			rest &^= fn.flag
		}
	}
	if rest != 0 {
		parts = append(parts, fmt.Sprintf("0x%x", uint32(rest)))
	}
	return strings.Join(parts, "|")
}

// Kind is the behavioural subtype of a message.
type Kind int

const (
	KindAnnouncement Kind = iota
	KindRequest
	KindReply
	KindStatus
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindReply:
		return "reply"
	case KindStatus:
		return "status"
	default:
		return "announcement"
	}
}

// ErrNoInReplyTo is returned when building a Reply without the id of the
// message being answered.
var ErrNoInReplyTo = errors.New("reply must specify in_reply_to")

// Message is a single bus message. Messages are treated as immutable once
// handed to a broker; the broker stores private copies.
type Message struct {
	ID        ID
	InReplyTo ID
	To        EndpointID
	From      EndpointID
	OrigFrom  OrigFrom
	FinalTo   OrigFrom
	Flags     Flags
	Name      string
	Data      []byte
}

// Option adjusts a message under construction.
type Option func(*Message)

// WithTo addresses the message to a specific endpoint.
func WithTo(to EndpointID) Option {
	return func(m *Message) { m.To = to }
}

// WithFlags sets additional flag bits.
func WithFlags(f Flags) Option {
	return func(m *Message) { m.Flags |= f }
}

// WithOrigFrom sets the originator provenance.
func WithOrigFrom(o OrigFrom) Option {
	return func(m *Message) { m.OrigFrom = o }
}

// WithFinalTo sets the ultimate replier provenance.
func WithFinalTo(o OrigFrom) Option {
	return func(m *Message) { m.FinalTo = o }
}

// WithID presets the message id. Brokers keep ids whose network id is set.
func WithID(id ID) Option {
	return func(m *Message) { m.ID = id }
}

// NewAnnouncement builds a message that expects no reply.
func NewAnnouncement(name string, data []byte, opts ...Option) *Message {
	m := build(name, data, opts)
	m.Flags &^= FlagWantReply | FlagWantYouToReply
	m.InReplyTo = ID{}
	return m
}

// NewRequest builds a message that demands a reply. Setting To (WithTo)
// makes it a stateful request.
func NewRequest(name string, data []byte, opts ...Option) *Message {
	m := build(name, data, opts)
	m.Flags |= FlagWantReply
	m.InReplyTo = ID{}
	return m
}

// NewReply builds a reply to the message identified by inReplyTo, addressed
// to the endpoint that sent it.
func NewReply(name string, inReplyTo ID, to EndpointID, data []byte, opts ...Option) (*Message, error) {
	if inReplyTo.IsZero() {
		return nil, ErrNoInReplyTo
	}
	m := build(name, data, opts)
	m.InReplyTo = inReplyTo
	m.To = to
	m.Flags &^= FlagWantReply | FlagWantYouToReply
	return m, nil
}

// ReplyTo builds the reply to a received request, which must have been
// delivered to the caller as its elected replier.
func ReplyTo(req *Message, data []byte, opts ...Option) (*Message, error) {
	if !req.WantsUsToReply() {
		return nil, fmt.Errorf("message %s %q was not delivered for us to reply to", req.ID, req.Name)
	}
	return NewReply(req.Name, req.ID, req.From, data, opts...)
}

// NewStatus builds a synthetic status message. Only brokers send these.
func NewStatus(name string, inReplyTo ID, to, from EndpointID, data []byte) *Message {
	return &Message{
		InReplyTo: inReplyTo,
		To:        to,
		From:      from,
		Flags:     FlagSynthetic,
		Name:      name,
		Data:      data,
	}
}

func build(name string, data []byte, opts []Option) *Message {
	m := &Message{Name: name, Data: data}
	for _, opt := range opts {
		opt(m)
	}
	m.Flags = m.Flags.SenderFlags()
	return m
}

// Kind returns the behavioural subtype of m.
func (m *Message) Kind() Kind {
	switch {
	case m.Flags.Has(FlagSynthetic):
		return KindStatus
	case !m.InReplyTo.IsZero():
		return KindReply
	case m.Flags.Has(FlagWantReply):
		return KindRequest
	default:
		return KindAnnouncement
	}
}

// IsRequest reports whether m demands a reply.
func (m *Message) IsRequest() bool { return m.Kind() == KindRequest }

// IsReply reports whether m answers another message.
func (m *Message) IsReply() bool { return m.Kind() == KindReply }

// IsSynthetic reports whether m was generated by a broker.
func (m *Message) IsSynthetic() bool { return m.Flags.Has(FlagSynthetic) }

// IsUrgent reports whether m jumps ahead of non-urgent messages.
func (m *Message) IsUrgent() bool { return m.Flags.Has(FlagUrgent) }

// IsStatefulRequest reports whether m is a request aimed at one replier.
func (m *Message) IsStatefulRequest() bool { return m.IsRequest() && m.To != 0 }

// WantsUsToReply reports whether this copy obliges its reader to reply.
func (m *Message) WantsUsToReply() bool {
	return m.Flags.Has(FlagWantReply | FlagWantYouToReply)
}

// Clone returns a deep copy of m.
func (m *Message) Clone() *Message {
	c := *m
	if m.Data != nil {
		c.Data = append([]byte(nil), m.Data...)
	}
	return &c
}

// Equivalent reports whether m and other carry the same content, ignoring
// id, flags, in_reply_to, from, orig_from and final_to.
func (m *Message) Equivalent(other *Message) bool {
	if m == nil || other == nil {
		return m == other
	}
	return m.To == other.To &&
		m.Name == other.Name &&
		bytes.Equal(m.Data, other.Data)
}

func (m *Message) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %q id=%s from=%d to=%d", m.Kind(), m.Name, m.ID, m.From, m.To)
	if !m.InReplyTo.IsZero() {
		fmt.Fprintf(&b, " in_reply_to=%s", m.InReplyTo)
	}
	if !m.OrigFrom.IsZero() {
		fmt.Fprintf(&b, " orig_from=%s", m.OrigFrom)
	}
	if !m.FinalTo.IsZero() {
		fmt.Fprintf(&b, " final_to=%s", m.FinalTo)
	}
	if m.Flags != 0 {
		fmt.Fprintf(&b, " flags=%s", m.Flags)
	}
	fmt.Fprintf(&b, " data_len=%d", len(m.Data))
	return b.String()
}

package message

import (
	"errors"
	"strings"
	"testing"

	"github.com/cuemby/kbus/pkg/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIDOrdering(t *testing.T) {
	ids := []ID{
		{0, 0}, {0, 1}, {0, 2}, {1, 0}, {1, 2}, {2, 1},
	}

	// Exactly one of <, ==, > holds for every pair, consistent with
	// (network_id, serial_num) ordering.
	for i, a := range ids {
		for j, b := range ids {
			c := a.Compare(b)
			switch {
			case i < j:
				assert.Equal(t, -1, c, "%s vs %s", a, b)
				assert.True(t, a.Less(b))
			case i == j:
				assert.Equal(t, 0, c, "%s vs %s", a, b)
				assert.False(t, a.Less(b))
			default:
				assert.Equal(t, 1, c, "%s vs %s", a, b)
				assert.False(t, a.Less(b))
			}
		}
	}

	assert.True(t, ID{}.IsZero())
	assert.False(t, ID{SerialNum: 1}.IsZero())
	assert.Equal(t, "[1:2]", ID{1, 2}.String())
}

func TestOrigFromCompare(t *testing.T) {
	assert.Equal(t, -1, OrigFrom{1, 2}.Compare(OrigFrom{2, 2}))
	assert.Equal(t, -1, OrigFrom{1, 2}.Compare(OrigFrom{1, 3}))
	assert.Equal(t, 0, OrigFrom{1, 2}.Compare(OrigFrom{1, 2}))
	assert.Equal(t, 1, OrigFrom{1, 2}.Compare(OrigFrom{0, 9}))
	assert.True(t, OrigFrom{}.IsZero())
}

func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		pattern bool
		wantErr bool
	}{
		{name: "simple", input: "$.Fred"},
		{name: "nested", input: "$.Fred.Jim.Bob2"},
		{name: "empty", input: "", wantErr: true},
		{name: "dollar only", input: "$", wantErr: true},
		{name: "prefix only", input: "$.", wantErr: true},
		{name: "no dot", input: "$x", wantErr: true},
		{name: "no dollar", input: "Fred", wantErr: true},
		{name: "punctuation", input: "$.Non-alphanumerics", wantErr: true},
		{name: "hash", input: "$.#", wantErr: true},
		{name: "trailing dot", input: "$.Fred.", wantErr: true},
		{name: "doubled dot", input: "$.Fred..Jim", wantErr: true},
		{name: "tripled dot", input: "$.Fred...Jim", wantErr: true},
		{name: "send to star", input: "$.Fred.*", wantErr: true},
		{name: "send to percent", input: "$.Fred.%", wantErr: true},
		{name: "pattern star", input: "$.Fred.*", pattern: true},
		{name: "pattern percent", input: "$.Fred.%", pattern: true},
		{name: "pattern everything", input: "$.*", pattern: true},
		{name: "wildcard not last", input: "$.*.Fred", pattern: true, wantErr: true},
		{name: "wildcard glued", input: "$.Fred*", pattern: true, wantErr: true},
		{name: "too long", input: "$." + strings.Repeat("a", DefaultMaxNameLength), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var err error
			if tt.pattern {
				err = ValidatePattern(tt.input, 0)
			} else {
				err = ValidateName(tt.input, 0)
			}
			if tt.wantErr {
				assert.True(t, errors.Is(err, errdefs.ErrInvalidName), "got %v", err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConstructorsForceKind(t *testing.T) {
	ann := NewAnnouncement("$.Fred", []byte("data"),
		WithFlags(FlagWantReply|FlagWantYouToReply|FlagUrgent))
	assert.Equal(t, KindAnnouncement, ann.Kind())
	assert.Equal(t, FlagUrgent, ann.Flags)

	req := NewRequest("$.Fred", nil, WithTo(7))
	assert.Equal(t, KindRequest, req.Kind())
	assert.True(t, req.IsStatefulRequest())
	assert.False(t, req.WantsUsToReply(), "senders cannot set WANT_YOU_TO_REPLY")

	_, err := NewReply("$.Fred", ID{}, 3, nil)
	assert.ErrorIs(t, err, ErrNoInReplyTo)

	rep, err := NewReply("$.Fred", ID{0, 9}, 3, []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, KindReply, rep.Kind())
	assert.Equal(t, EndpointID(3), rep.To)

	st := NewStatus(NameReplierGoneAway, ID{0, 9}, 3, 4, nil)
	assert.Equal(t, KindStatus, st.Kind())
	assert.True(t, st.IsSynthetic())
	assert.True(t, IsStatusName(st.Name))
}

func TestReplyTo(t *testing.T) {
	received := &Message{
		ID:    ID{0, 132},
		From:  27,
		To:    99,
		Flags: FlagWantReply | FlagWantYouToReply,
		Name:  "$.Fred",
		Data:  []byte("1234"),
	}

	rep, err := ReplyTo(received, nil)
	require.NoError(t, err)
	assert.Equal(t, EndpointID(27), rep.To)
	assert.Equal(t, ID{0, 132}, rep.InReplyTo)
	assert.Equal(t, "$.Fred", rep.Name)
	assert.Nil(t, rep.Data)

	// A listener's copy carries WANT_A_REPLY but not WANT_YOU_TO_REPLY.
	received.Flags = FlagWantReply
	_, err = ReplyTo(received, nil)
	assert.Error(t, err)
}

func TestEquivalent(t *testing.T) {
	a := &Message{ID: ID{0, 1}, From: 1, Flags: FlagUrgent, Name: "$.Fred", Data: []byte("12")}
	b := &Message{ID: ID{3, 4}, From: 2, InReplyTo: ID{0, 1}, OrigFrom: OrigFrom{1, 1}, Name: "$.Fred", Data: []byte("12")}
	assert.True(t, a.Equivalent(b))

	c := b.Clone()
	c.Data[0] = 'X'
	assert.False(t, a.Equivalent(c))
	assert.True(t, a.Equivalent(b), "clone must not alias data")

	d := a.Clone()
	d.To = 5
	assert.False(t, a.Equivalent(d))
}

func TestFlagsString(t *testing.T) {
	assert.Equal(t, "0", Flags(0).String())
	assert.Equal(t, "WANT_A_REPLY|URGENT", (FlagWantReply | FlagUrgent).String())
	assert.Equal(t, "SYNTHETIC|0x10", (FlagSynthetic | 0x10).String())
}

func TestReplierBindEventPayload(t *testing.T) {
	ev := ReplierBindEvent{IsBind: true, Binder: 42, Name: "$.Fred.Jim"}
	data := ev.Marshal()
	assert.Len(t, data, 12+len("$.Fred.Jim"))

	got, err := ParseReplierBindEvent(data)
	require.NoError(t, err)
	assert.Equal(t, ev, got)

	_, err = ParseReplierBindEvent(data[:5])
	assert.Error(t, err)
	_, err = ParseReplierBindEvent(data[:14])
	assert.Error(t, err)
}

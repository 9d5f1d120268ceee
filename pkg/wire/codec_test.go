package wire

import (
	"bytes"
	"encoding/hex"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/cuemby/kbus/pkg/errdefs"
	"github.com/cuemby/kbus/pkg/message"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wordDump renders a frame as one hex-encoded 4-byte word per line.
func wordDump(b []byte) []byte {
	var out strings.Builder
	for i := 0; i < len(b); i += 4 {
		out.WriteString(hex.EncodeToString(b[i : i+4]))
		out.WriteByte('\n')
	}
	return []byte(out.String())
}

func TestEncodeGolden(t *testing.T) {
	m := &message.Message{
		ID:    message.ID{NetworkID: 0, SerialNum: 5},
		From:  3,
		Flags: message.FlagWantReply,
		Name:  "$.Fred",
		Data:  []byte("dat"),
	}

	frame := Encode(m)
	require.Len(t, frame, TotalLength(6, 3))

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "request_frame", wordDump(frame))
}

func TestTotalLength(t *testing.T) {
	tests := []struct {
		nameLen, dataLen, want int
	}{
		{0, 0, 64},
		{3, 0, 64},
		{4, 0, 68},
		{6, 3, 72},
		{6, 4, 72},
		{6, 5, 76},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, TotalLength(tt.nameLen, tt.dataLen), "TotalLength(%d, %d)", tt.nameLen, tt.dataLen)
	}
	assert.Equal(t, MinFrameLength, TotalLength(0, 0))
}

func TestRoundTripEquivalent(t *testing.T) {
	names := []string{"$.A", "$.Fred", "$.Fred.Jim.Bob", "$." + strings.Repeat("x", 997)}
	datas := [][]byte{nil, {1}, []byte("12"), []byte("123"), []byte("1234"), bytes.Repeat([]byte("z"), 1001)}

	for _, name := range names {
		for _, data := range datas {
			m := &message.Message{
				ID:        message.ID{NetworkID: 2, SerialNum: 77},
				InReplyTo: message.ID{NetworkID: 1, SerialNum: 3},
				To:        9,
				From:      10,
				OrigFrom:  message.OrigFrom{NetworkID: 2, LocalID: 4},
				FinalTo:   message.OrigFrom{NetworkID: 1, LocalID: 8},
				Flags:     message.FlagWantReply | message.FlagUrgent,
				Name:      name,
				Data:      data,
			}
			frame := Encode(m)
			require.Len(t, frame, TotalLength(len(name), len(data)))

			got, err := Decode(frame)
			require.NoError(t, err)
			assert.True(t, got.Equivalent(m))
			assert.Equal(t, m.ID, got.ID)
			assert.Equal(t, m.InReplyTo, got.InReplyTo)
			assert.Equal(t, m.From, got.From)
			assert.Equal(t, m.OrigFrom, got.OrigFrom)
			assert.Equal(t, m.FinalTo, got.FinalTo)
			assert.Equal(t, m.Flags, got.Flags)
		}
	}
}

func TestDecodeFramingErrors(t *testing.T) {
	good := Encode(&message.Message{Name: "$.Fred", Data: []byte("abc")})

	badStart := append([]byte(nil), good...)
	badStart[0] ^= 0xFF

	badEnd := append([]byte(nil), good...)
	badEnd[len(badEnd)-1] ^= 0xFF

	noNul := append([]byte(nil), good...)
	noNul[HeaderSize+6] = 'x'

	tests := []struct {
		name  string
		frame []byte
	}{
		{name: "empty", frame: nil},
		{name: "short header", frame: good[:HeaderSize-1]},
		{name: "bad start guard", frame: badStart},
		{name: "truncated", frame: good[:len(good)-4]},
		{name: "trailing bytes", frame: append(append([]byte(nil), good...), 0, 0, 0, 0)},
		{name: "bad end guard", frame: badEnd},
		{name: "unterminated name", frame: noNul},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.frame)
			require.Error(t, err)
			assert.True(t, errors.Is(err, errdefs.ErrFraming), "got %v", err)
			var fe *FramingError
			assert.True(t, errors.As(err, &fe))
		})
	}
}

func TestStreamFrames(t *testing.T) {
	var buf bytes.Buffer
	first := message.NewAnnouncement("$.One", []byte("1"))
	second := message.NewRequest("$.Two.Three", nil)

	require.NoError(t, WriteMessage(&buf, first))
	require.NoError(t, WriteMessage(&buf, second))

	got, err := ReadMessage(&buf, 0)
	require.NoError(t, err)
	assert.True(t, got.Equivalent(first))

	got, err = ReadMessage(&buf, 0)
	require.NoError(t, err)
	assert.True(t, got.Equivalent(second))
	assert.True(t, got.IsRequest())

	_, err = ReadMessage(&buf, 0)
	assert.Equal(t, io.EOF, err)
}

func TestReadFrameLimits(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, message.NewAnnouncement("$.Big", make([]byte, 100))))
	_, err := ReadFrame(&buf, 64)
	assert.ErrorIs(t, err, errdefs.ErrFraming)

	buf.Reset()
	buf.Write([]byte{8, 0, 0, 0})
	_, err = ReadFrame(&buf, 0)
	assert.ErrorIs(t, err, errdefs.ErrFraming)

	buf.Reset()
	require.NoError(t, WriteMessage(&buf, message.NewAnnouncement("$.Cut", nil)))
	buf.Truncate(buf.Len() - 3)
	_, err = ReadFrame(&buf, 0)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

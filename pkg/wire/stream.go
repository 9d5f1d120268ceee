package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/cuemby/kbus/pkg/message"
)

// DefaultMaxFrameLength bounds frames read from a stream when the caller
// does not choose a limit.
const DefaultMaxFrameLength = 16 << 20

// WriteFrame writes frame to w preceded by its length as a little-endian
// u32, in a single Write.
func WriteFrame(w io.Writer, frame []byte) error {
	buf := make([]byte, 4+len(frame))
	binary.LittleEndian.PutUint32(buf, uint32(len(frame)))
	copy(buf[4:], frame)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame from r. maxLen <= 0 means
// DefaultMaxFrameLength. io.EOF is returned unwrapped when r ends cleanly
// between frames.
func ReadFrame(r io.Reader, maxLen int) ([]byte, error) {
	if maxLen <= 0 {
		maxLen = DefaultMaxFrameLength
	}

	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(prefix[:])
	if n < MinFrameLength {
		return nil, framingErr("length prefix %d is below the minimum frame length %d", n, MinFrameLength)
	}
	if uint64(n) > uint64(maxLen) {
		return nil, framingErr("length prefix %d exceeds limit %d", n, maxLen)
	}

	frame := make([]byte, n)
	if _, err := io.ReadFull(r, frame); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("failed to read %d byte frame: %w", n, err)
	}
	return frame, nil
}

// WriteMessage encodes m and writes it as one length-prefixed frame.
func WriteMessage(w io.Writer, m *message.Message) error {
	return WriteFrame(w, Encode(m))
}

// ReadMessage reads and decodes one length-prefixed frame.
func ReadMessage(r io.Reader, maxLen int) (*message.Message, error) {
	frame, err := ReadFrame(r, maxLen)
	if err != nil {
		return nil, err
	}
	return Decode(frame)
}

package base

import (
	"bufio"
	"fmt"
	"io"

	"github.com/mstream/rtspconn/pkg/liberrors"
)

// InterleavedFrameMagicByte is the first byte of an interleaved frame.
const InterleavedFrameMagicByte = 0x24

// InterleavedFrame is an interleaved frame, the data-frame message kind.
// It allows to transfer binary data within RTSP/TCP connections.
type InterleavedFrame struct {
	// channel ID
	Channel int

	// payload
	Payload []byte
}

// Unmarshal decodes an interleaved frame.
func (f *InterleavedFrame) Unmarshal(rb *bufio.Reader) error {
	return f.UnmarshalLimit(rb, DefaultMaxContentLength)
}

// UnmarshalLimit decodes an interleaved frame, capping the payload at
// payloadLimit bytes.
func (f *InterleavedFrame) UnmarshalLimit(rb *bufio.Reader, payloadLimit int64) error {
	var header [4]byte
	_, err := io.ReadFull(rb, header[:])
	if err != nil {
		return err
	}

	if header[0] != InterleavedFrameMagicByte {
		return liberrors.ErrMalformedMessage{Err: fmt.Errorf("invalid magic byte (0x%.2x)", header[0])}
	}

	payloadLen := int64(uint16(header[2])<<8 | uint16(header[3]))
	if payloadLen > payloadLimit {
		return liberrors.ErrMessageTooLarge{Length: payloadLen, Limit: payloadLimit}
	}

	f.Channel = int(header[1])
	f.Payload = make([]byte, payloadLen)

	_, err = io.ReadFull(rb, f.Payload)
	return err
}

// MarshalSize returns the size of an InterleavedFrame.
func (f InterleavedFrame) MarshalSize() int {
	return 4 + len(f.Payload)
}

// MarshalTo writes an InterleavedFrame.
func (f InterleavedFrame) MarshalTo(buf []byte) (int, error) {
	pos := 0

	pos += copy(buf[pos:], []byte{InterleavedFrameMagicByte, byte(f.Channel)})

	payloadLen := len(f.Payload)
	buf[pos] = byte(payloadLen >> 8)
	buf[pos+1] = byte(payloadLen)
	pos += 2

	pos += copy(buf[pos:], f.Payload)

	return pos, nil
}

// Marshal writes an InterleavedFrame.
func (f InterleavedFrame) Marshal() ([]byte, error) {
	buf := make([]byte, f.MarshalSize())
	_, err := f.MarshalTo(buf)
	return buf, err
}

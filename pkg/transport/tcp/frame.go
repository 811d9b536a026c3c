package tcp

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"tarun-kavipurapu/p2p-swarm/pkg/protocol"
)

// Header is the fixed-size frame header
// [Type (1 byte)] + [Length (4 bytes)]
const HeaderSize = 5

// writeFrameHeader writes the frame header to the writer
func writeFrameHeader(w io.Writer, msgType uint8, length uint32) error {
	buf := make([]byte, HeaderSize)
	buf[0] = msgType
	binary.BigEndian.PutUint32(buf[1:], length)

	_, err := w.Write(buf)
	return err
}

// readFrameHeader reads the frame header from the reader
// returns msgType, length, and error
func readFrameHeader(r io.Reader) (uint8, uint32, error) {
	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, 0, err
	}

	msgType := buf[0]
	length := binary.BigEndian.Uint32(buf[1:])

	return msgType, length, nil
}

func validType(t uint8) bool {
	switch t {
	case protocol.FrameTypeControl, protocol.FrameTypeStream, protocol.FrameTypeBroadcast:
		return true
	}
	return false
}

// WriteFrame writes header and payload in one call so a frame is never split
// across concurrent writers.
func WriteFrame(w io.Writer, f protocol.Frame) error {
	if !validType(f.Type) {
		return fmt.Errorf("%w: frame type %d", protocol.ErrMalformed, f.Type)
	}
	var buf bytes.Buffer
	buf.Grow(HeaderSize + len(f.Payload))
	if err := writeFrameHeader(&buf, f.Type, uint32(len(f.Payload))); err != nil {
		return err
	}
	buf.Write(f.Payload)
	_, err := w.Write(buf.Bytes())
	return err
}

// ReadFrame reads one frame, refusing payloads longer than maxSize.
func ReadFrame(r io.Reader, maxSize uint32) (protocol.Frame, error) {
	msgType, length, err := readFrameHeader(r)
	if err != nil {
		return protocol.Frame{}, err
	}
	if !validType(msgType) {
		return protocol.Frame{}, fmt.Errorf("%w: unknown frame type %d", protocol.ErrMalformed, msgType)
	}
	if maxSize > 0 && length > maxSize {
		return protocol.Frame{}, fmt.Errorf("%w: frame of %d bytes exceeds limit %d", protocol.ErrMalformed, length, maxSize)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return protocol.Frame{}, err
	}
	return protocol.Frame{Type: msgType, Payload: payload}, nil
}

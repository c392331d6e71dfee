// Package wire frames one JSON object per message over a byte stream.
//
// A frame is a 4-byte big-endian payload length followed by the payload.
// Requests and responses use the same framing; the codec enforces only that
// the payload is a JSON object.
package wire

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

const (
	headerSize = 4
	// MaxPayload bounds a single frame.
	MaxPayload = 4 << 20
)

var (
	ErrTransport = errors.New("transport error")
	ErrProtocol  = errors.New("protocol error")
)

// Message is a decoded frame. Numbers are kept as json.Number.
type Message map[string]any

// Decode binds the message into a typed value.
func (m Message) Decode(v any) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("%w: re-encode message: %v", ErrProtocol, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: decode message: %v", ErrProtocol, err)
	}
	return nil
}

// Encode returns the framed bytes for msg. msg must encode to a JSON object.
func Encode(msg any) ([]byte, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("%w: encode message: %v", ErrProtocol, err)
	}
	if trimmed := bytes.TrimSpace(payload); len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: message is not a mapping", ErrProtocol)
	}
	if len(payload) > MaxPayload {
		return nil, fmt.Errorf("%w: message of %d bytes exceeds limit", ErrProtocol, len(payload))
	}
	frame := make([]byte, headerSize+len(payload))
	binary.BigEndian.PutUint32(frame[:headerSize], uint32(len(payload)))
	copy(frame[headerSize:], payload)
	return frame, nil
}

// Send writes one complete frame, retrying short writes until the whole
// frame is flushed or the writer fails.
func Send(w io.Writer, msg any) error {
	frame, err := Encode(msg)
	if err != nil {
		return err
	}
	for written := 0; written < len(frame); {
		n, err := w.Write(frame[written:])
		written += n
		if err != nil {
			return fmt.Errorf("%w: write frame: %w", ErrTransport, err)
		}
		if n == 0 {
			return fmt.Errorf("%w: write frame: %w", ErrTransport, io.ErrShortWrite)
		}
	}
	return nil
}

// Receive blocks until exactly one frame has been read and decodes it.
func Receive(r io.Reader) (Message, error) {
	var header [headerSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("%w: read header: %w", ErrTransport, closedErr(err))
	}
	size := binary.BigEndian.Uint32(header[:])
	if size > MaxPayload {
		return nil, fmt.Errorf("%w: frame of %d bytes exceeds limit", ErrProtocol, size)
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("%w: read payload: %w", ErrTransport, closedErr(err))
	}
	return decodePayload(payload)
}

func decodePayload(payload []byte) (Message, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: malformed payload: %v", ErrProtocol, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data after message", ErrProtocol)
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: payload is %T, not a mapping", ErrProtocol, v)
	}
	return Message(m), nil
}

func closedErr(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

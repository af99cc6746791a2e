package proto

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"

	"github.com/fxamacker/cbor/v2"
)

// MaxFrameSize bounds the payload length accepted from a peer. A frame
// claiming more than this is treated as a protocol error, not an
// allocation request.
const MaxFrameSize = 1 << 20

var (
	ErrEmptyMessage   = errors.New("proto: message has no variant set")
	ErrUnknownVariant = errors.New("proto: unknown message variant")
	ErrFrameTooLarge  = errors.New("proto: frame exceeds size limit")
)

// Encode serializes a message as a single-entry CBOR map keyed by the
// variant name, so the payload stays self-describing.
func Encode(m Message) ([]byte, error) {
	env := make(map[string]any, 1)
	switch {
	case m.Login != nil:
		env["Login"] = m.Login
	case m.Join != nil:
		env["Join"] = m.Join
	case m.Leave != nil:
		env["Leave"] = m.Leave
	case m.Spawn != nil:
		env["Spawn"] = m.Spawn
	case m.Destroy != nil:
		env["Destroy"] = m.Destroy
	case m.TransformUpdate != nil:
		env["TransformUpdate"] = m.TransformUpdate
	default:
		return nil, ErrEmptyMessage
	}
	return cbor.Marshal(env)
}

// Decode parses a payload produced by Encode. Any malformed or
// unrecognized payload is an error; callers treat it as fatal for the
// connection it arrived on.
func Decode(data []byte) (Message, error) {
	var env map[string]cbor.RawMessage
	if err := cbor.Unmarshal(data, &env); err != nil {
		return Message{}, fmt.Errorf("proto: decode envelope: %w", err)
	}
	if len(env) != 1 {
		return Message{}, ErrUnknownVariant
	}

	var msg Message
	for name, raw := range env {
		var v any
		switch name {
		case "Login":
			msg.Login = new(Login)
			v = msg.Login
		case "Join":
			msg.Join = new(Join)
			v = msg.Join
		case "Leave":
			msg.Leave = new(Leave)
			v = msg.Leave
		case "Spawn":
			msg.Spawn = new(Spawn)
			v = msg.Spawn
		case "Destroy":
			msg.Destroy = new(Destroy)
			v = msg.Destroy
		case "TransformUpdate":
			msg.TransformUpdate = new(TransformUpdate)
			v = msg.TransformUpdate
		default:
			return Message{}, ErrUnknownVariant
		}
		if err := cbor.Unmarshal(raw, v); err != nil {
			return Message{}, fmt.Errorf("proto: decode %s: %w", name, err)
		}
	}
	return msg, nil
}

// Write frames and sends one message: u32 little-endian payload length,
// then the payload.
func Write(w io.Writer, m Message) error {
	payload, err := Encode(m)
	if err != nil {
		return err
	}
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("proto: write header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("proto: write payload: %w", err)
	}
	return nil
}

// Read receives one framed message. A clean peer close — EOF, broken
// pipe, or connection reset, on either the length read or the payload
// read — returns (nil, nil) so callers can tell "peer closed" from
// "corrupt data". A decode failure on well-framed bytes is an error.
func Read(r io.Reader) (*Message, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if isPeerClosed(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("proto: read header: %w", err)
	}

	size := binary.LittleEndian.Uint32(hdr[:])
	if size > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		if isPeerClosed(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("proto: read payload: %w", err)
	}

	msg, err := Decode(payload)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func isPeerClosed(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNRESET)
}

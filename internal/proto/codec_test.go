package proto

import (
	"bytes"
	"encoding/binary"
	"errors"
	"reflect"
	"testing"
)

func sampleMessages() []Message {
	behavior := "scripts/orbit.lua"
	return []Message{
		{Login: &Login{ID: "client-1"}},
		{Join: &Join{Scene: "r1"}},
		{Leave: &Leave{Scene: "r1"}},
		{Spawn: &Spawn{ID: "o1", Scene: "r1", Drawable: "cube"}},
		{Spawn: &Spawn{ID: "o2", Scene: "r1", Drawable: "cube", Behavior: &behavior}},
		{Destroy: &Destroy{ID: "o1", Scene: "r1"}},
		{TransformUpdate: &TransformUpdate{
			Scene: "r1", ID: "o1",
			T: [16]float32{1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0, 3.5, -2, 0.25, 1},
		}},
	}
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	for _, msg := range sampleMessages() {
		data, err := Encode(msg)
		if err != nil {
			t.Fatalf("encode %+v: %v", msg, err)
		}
		got, err := Decode(data)
		if err != nil {
			t.Fatalf("decode %+v: %v", msg, err)
		}
		if !reflect.DeepEqual(msg, got) {
			t.Fatalf("round trip mismatch:\nsent %+v\ngot  %+v", msg, got)
		}
	}
}

func TestEncode_EmptyMessageRejected(t *testing.T) {
	if _, err := Encode(Message{}); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
}

func TestWrite_FramesWithLittleEndianLength(t *testing.T) {
	var buf bytes.Buffer
	msg := Message{Join: &Join{Scene: "r1"}}
	if err := Write(&buf, msg); err != nil {
		t.Fatalf("write: %v", err)
	}

	frame := buf.Bytes()
	if len(frame) < 4 {
		t.Fatalf("frame too short: %d bytes", len(frame))
	}
	size := binary.LittleEndian.Uint32(frame[:4])
	if int(size) != len(frame)-4 {
		t.Fatalf("length prefix %d does not match payload %d", size, len(frame)-4)
	}

	got, err := Read(&buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got == nil || got.Join == nil || got.Join.Scene != "r1" {
		t.Fatalf("read back %+v", got)
	}
}

func TestRead_CleanCloseReturnsNil(t *testing.T) {
	// EOF before any frame.
	msg, err := Read(bytes.NewReader(nil))
	if err != nil || msg != nil {
		t.Fatalf("empty stream: msg=%v err=%v", msg, err)
	}

	// EOF inside the length prefix.
	msg, err = Read(bytes.NewReader([]byte{0x05, 0x00}))
	if err != nil || msg != nil {
		t.Fatalf("truncated header: msg=%v err=%v", msg, err)
	}

	// EOF inside the payload.
	var buf bytes.Buffer
	if err := Write(&buf, Message{Join: &Join{Scene: "r1"}}); err != nil {
		t.Fatalf("write: %v", err)
	}
	truncated := buf.Bytes()[:buf.Len()-2]
	msg, err = Read(bytes.NewReader(truncated))
	if err != nil || msg != nil {
		t.Fatalf("truncated payload: msg=%v err=%v", msg, err)
	}
}

func TestRead_MalformedPayloadIsFatal(t *testing.T) {
	// Well-framed bytes that are not a message envelope.
	payload := []byte{0x01} // CBOR unsigned 1, not a map
	frame := make([]byte, 4+len(payload))
	binary.LittleEndian.PutUint32(frame[:4], uint32(len(payload)))
	copy(frame[4:], payload)

	if _, err := Read(bytes.NewReader(frame)); err == nil {
		t.Fatal("expected decode error for malformed payload")
	}
}

func TestRead_UnknownVariantIsFatal(t *testing.T) {
	data, err := Encode(Message{Join: &Join{Scene: "r1"}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	// Corrupt the variant name: {"Join": ...} -> {"Xoin": ...}.
	data = bytes.Replace(data, []byte("Join"), []byte("Xoin"), 1)
	if _, err := Decode(data); !errors.Is(err, ErrUnknownVariant) {
		t.Fatalf("expected ErrUnknownVariant, got %v", err)
	}
}

func TestRead_OversizedFrameRejected(t *testing.T) {
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], MaxFrameSize+1)
	if _, err := Read(bytes.NewReader(hdr[:])); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
}

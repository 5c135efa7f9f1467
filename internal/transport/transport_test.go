package transport

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
	"time"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte(`{"type":"MSG","payload":"aGVsbG8="}`)

	if err := WriteFrame(&buf, payload); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}
	got, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("Round trip mismatch: got %q, want %q", got, payload)
	}
}

func TestReadFrameRejectsOversize(t *testing.T) {
	var buf bytes.Buffer
	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, maxFrameSize+1)
	buf.Write(header)

	if _, err := ReadFrame(&buf); err == nil {
		t.Fatal("Expected error for oversized frame")
	}
}

func TestReadFrameTruncated(t *testing.T) {
	var buf bytes.Buffer
	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, 100)
	buf.Write(header)
	buf.Write([]byte("short"))

	if _, err := ReadFrame(&buf); err == nil {
		t.Fatal("Expected error for truncated frame")
	}
}

func TestDialUnreachable(t *testing.T) {
	m := NewManager(200 * time.Millisecond)
	// Port 1 on loopback is essentially guaranteed closed.
	_, err := m.Dial("127.0.0.1:1")
	if !errors.Is(err, ErrUnreachable) {
		t.Fatalf("Expected ErrUnreachable, got %v", err)
	}
}

func TestAckWaiters(t *testing.T) {
	m := NewManager(time.Second)

	ch := m.RegisterAck("m1")
	go m.ResolveAck("m1")
	if err := m.WaitAck("m1", ch, time.Second); err != nil {
		t.Fatalf("Expected ack to resolve, got %v", err)
	}

	ch2 := m.RegisterAck("m2")
	if err := m.WaitAck("m2", ch2, 20*time.Millisecond); !errors.Is(err, ErrAckTimeout) {
		t.Fatalf("Expected ErrAckTimeout, got %v", err)
	}
	// Late ack for an abandoned waiter must be harmless.
	m.ResolveAck("m2")
}

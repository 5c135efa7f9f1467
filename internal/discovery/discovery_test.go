package discovery

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"
)

func TestHeartbeatListener(t *testing.T) {
	port := 9999
	peerChan := make(chan PeerInfo, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := StartListener(ctx, port, "my-node-id", peerChan); err != nil {
			// StartListener returns nil on context cancel, so real errors are failures
			t.Errorf("StartListener failed: %v", err)
		}
	}()

	time.Sleep(100 * time.Millisecond)

	addr, err := net.ResolveUDPAddr("udp", "127.0.0.1:9999")
	if err != nil {
		t.Fatalf("Failed to resolve addr: %v", err)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		t.Fatalf("Failed to dial UDP: %v", err)
	}
	defer conn.Close()

	packet := HeartbeatPacket{
		Type: "beat",
		ID:   "peer-node-id",
		Nick: "bob",
		Port: 12345,
		TS:   time.Now().Unix(),
	}
	data, _ := json.Marshal(packet)
	if _, err := conn.Write(data); err != nil {
		t.Fatalf("Failed to write packet: %v", err)
	}

	select {
	case info := <-peerChan:
		if info.Nick != "bob" {
			t.Errorf("Expected nick 'bob', got %q", info.Nick)
		}
		if _, port, _ := net.SplitHostPort(info.Addr); port != "12345" {
			t.Errorf("Expected advertised port 12345 in addr %q", info.Addr)
		}
	case <-time.After(1 * time.Second):
		t.Fatal("Timed out waiting for peer info")
	}

	// Our own beats must be ignored.
	packet.ID = "my-node-id"
	data, _ = json.Marshal(packet)
	if _, err := conn.Write(data); err != nil {
		t.Fatalf("Failed to write own packet: %v", err)
	}

	// Malformed data must not kill the listener.
	if _, err := conn.Write([]byte("{invalid-json")); err != nil {
		t.Fatalf("Failed to write malformed packet: %v", err)
	}

	packet.ID = "peer-node-id-2"
	packet.Nick = "carol"
	data, _ = json.Marshal(packet)
	if _, err := conn.Write(data); err != nil {
		t.Fatalf("Failed to write second packet: %v", err)
	}

	select {
	case info := <-peerChan:
		if info.Nick != "carol" {
			t.Errorf("Expected 'carol', got %q (own beat not filtered?)", info.Nick)
		}
	case <-time.After(1 * time.Second):
		t.Fatal("Timed out waiting for second peer info (listener might have crashed)")
	}
}

package tui

import (
	"testing"
	"time"

	"github.com/0xfern/lanline/internal/registry"
)

func TestPeerSorting(t *testing.T) {
	peers := []registry.Peer{
		{Identifier: "zebra", Reachable: true},
		{Identifier: "alpha", Reachable: false},
		{Identifier: "beta", Reachable: true},
	}

	sortPeers(peers)

	// Expected order:
	// 1. beta (reachable, b < z)
	// 2. zebra (reachable)
	// 3. alpha (offline)

	if peers[0].Identifier != "beta" {
		t.Errorf("Expected first peer to be beta, got %s", peers[0].Identifier)
	}
	if peers[1].Identifier != "zebra" {
		t.Errorf("Expected second peer to be zebra, got %s", peers[1].Identifier)
	}
	if peers[2].Identifier != "alpha" {
		t.Errorf("Expected third peer to be alpha, got %s", peers[2].Identifier)
	}
}

func TestParseSchedule(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	at, text, err := parseSchedule("/in 10s see you", now)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !at.Equal(now.Add(10 * time.Second)) {
		t.Errorf("Expected %v, got %v", now.Add(10*time.Second), at)
	}
	if text != "see you" {
		t.Errorf("Expected payload 'see you', got %q", text)
	}

	at, text, err = parseSchedule("/at 2026-03-02 09:30:00 morning", now)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	want := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	if !at.Equal(want) {
		t.Errorf("Expected %v, got %v", want, at)
	}
	if text != "morning" {
		t.Errorf("Expected payload 'morning', got %q", text)
	}

	if _, _, err := parseSchedule("/in nonsense", now); err == nil {
		t.Error("Expected error for malformed /in input")
	}
	if _, _, err := parseSchedule("/at 2026-03-02 oops", now); err == nil {
		t.Error("Expected error for malformed /at input")
	}
}

package registry

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/0xfern/lanline/internal/store"
)

// ErrNotFound is returned by Lookup for an unknown identifier.
var ErrNotFound = errors.New("peer not found")

// Peer is the in-memory view of a known remote node.
type Peer struct {
	Identifier string
	NodeID     string
	Addr       string
	Reachable  bool
	LastSeen   time.Time
}

// Event announces that a peer transitioned from unreachable to reachable.
// The delivery engine consumes these to drain the peer's outbound queue.
type Event struct {
	Identifier string
	Addr       string
}

// Registry maps peer identifiers to addresses and reachability state. Entries
// are never removed within a session; they go stale instead so queued-message
// linkage survives.
type Registry struct {
	mu     sync.RWMutex
	peers  map[string]*Peer
	events chan Event
	db     *gorm.DB
}

// New creates a Registry. db may be nil in tests; when set, peer rows are
// mirrored into the store on every update.
func New(db *gorm.DB) *Registry {
	return &Registry{
		peers:  make(map[string]*Peer),
		events: make(chan Event, 16),
		db:     db,
	}
}

// Register upserts a peer. A changed address is an update to the same peer
// record, never a new peer.
func (r *Registry) Register(identifier, nodeID, addr string) {
	r.mu.Lock()
	p, ok := r.peers[identifier]
	if !ok {
		p = &Peer{Identifier: identifier}
		r.peers[identifier] = p
	}
	p.NodeID = nodeID
	p.Addr = addr
	p.LastSeen = time.Now()
	snapshot := *p
	r.mu.Unlock()

	r.persist(snapshot)
}

// MarkReachable flips the reachability flag. A false->true transition emits an
// Event; re-asserting the current state is silent.
func (r *Registry) MarkReachable(identifier string, reachable bool) {
	r.mu.Lock()
	p, ok := r.peers[identifier]
	if !ok {
		r.mu.Unlock()
		return
	}
	wasReachable := p.Reachable
	p.Reachable = reachable
	if reachable {
		p.LastSeen = time.Now()
	}
	snapshot := *p
	r.mu.Unlock()

	r.persist(snapshot)

	if reachable && !wasReachable {
		select {
		case r.events <- Event{Identifier: identifier, Addr: snapshot.Addr}:
		default:
			// A pending event already covers this peer; the fallback drain
			// ticker picks up anything dropped here.
			slog.Warn("Registry event channel full", "peer", identifier)
		}
	}
}

// Lookup resolves an identifier to its current address.
func (r *Registry) Lookup(identifier string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.peers[identifier]
	if !ok || p.Addr == "" {
		return "", ErrNotFound
	}
	return p.Addr, nil
}

// Reachable reports whether the peer is currently considered contactable.
func (r *Registry) Reachable(identifier string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.peers[identifier]
	return ok && p.Reachable
}

// Snapshot returns a copy of all known peers.
func (r *Registry) Snapshot() []Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Peer, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, *p)
	}
	return out
}

// ExpireStale marks peers unreachable that have not been seen within ttl.
func (r *Registry) ExpireStale(ttl time.Duration) {
	threshold := time.Now().Add(-ttl)

	r.mu.Lock()
	var stale []string
	for id, p := range r.peers {
		if p.Reachable && p.LastSeen.Before(threshold) {
			stale = append(stale, id)
		}
	}
	r.mu.Unlock()

	for _, id := range stale {
		slog.Info("Peer went silent", "peer", id)
		r.MarkReachable(id, false)
	}
}

// Events is the reachable-transition stream consumed by the delivery engine.
func (r *Registry) Events() <-chan Event {
	return r.events
}

func (r *Registry) persist(p Peer) {
	if r.db == nil {
		return
	}
	err := store.UpsertPeer(r.db, store.Peer{
		Nick:      p.Identifier,
		NodeID:    p.NodeID,
		Addr:      p.Addr,
		LastSeen:  p.LastSeen,
		Reachable: p.Reachable,
	})
	if err != nil {
		slog.Error("Failed to persist peer", "peer", p.Identifier, "error", err)
	}
}

package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndLookup(t *testing.T) {
	r := New(nil)

	_, err := r.Lookup("bob")
	require.ErrorIs(t, err, ErrNotFound)

	r.Register("bob", "node-bob", "127.0.0.1:9001")
	addr, err := r.Lookup("bob")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9001", addr)

	// Re-registering with a new address updates the same record.
	r.Register("bob", "node-bob", "127.0.0.1:9002")
	addr, err = r.Lookup("bob")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9002", addr)
	assert.Len(t, r.Snapshot(), 1)
}

func TestReachableTransitionEmitsOnce(t *testing.T) {
	r := New(nil)
	r.Register("bob", "node-bob", "127.0.0.1:9001")

	r.MarkReachable("bob", true)
	select {
	case ev := <-r.Events():
		assert.Equal(t, "bob", ev.Identifier)
		assert.Equal(t, "127.0.0.1:9001", ev.Addr)
	default:
		t.Fatal("expected a reachable event")
	}

	// Same state again: no new event.
	r.MarkReachable("bob", true)
	select {
	case <-r.Events():
		t.Fatal("unexpected event on repeated mark")
	default:
	}

	// Flap back down and up: one more event.
	r.MarkReachable("bob", false)
	assert.False(t, r.Reachable("bob"))
	r.MarkReachable("bob", true)
	select {
	case ev := <-r.Events():
		assert.Equal(t, "bob", ev.Identifier)
	default:
		t.Fatal("expected event after flap")
	}
}

func TestExpireStale(t *testing.T) {
	r := New(nil)
	r.Register("bob", "node-bob", "127.0.0.1:9001")
	r.MarkReachable("bob", true)
	<-r.Events()

	// Fresh peer survives expiry.
	r.ExpireStale(time.Minute)
	assert.True(t, r.Reachable("bob"))

	time.Sleep(10 * time.Millisecond)
	r.ExpireStale(time.Nanosecond)
	assert.False(t, r.Reachable("bob"))

	// Entry stays in the registry, just unreachable.
	_, err := r.Lookup("bob")
	require.NoError(t, err)
}

func TestMarkReachableUnknownPeer(t *testing.T) {
	r := New(nil)
	r.MarkReachable("ghost", true)
	select {
	case <-r.Events():
		t.Fatal("unknown peer must not emit events")
	default:
	}
}

package transport

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"
)

var (
	// ErrUnreachable covers connection refused, dial timeout and write
	// failures. The delivery engine treats it as the signal to queue.
	ErrUnreachable = errors.New("peer unreachable")
	// ErrAckTimeout means the frame was written but no acknowledgement came
	// back within the bounded window. Treated like ErrUnreachable.
	ErrAckTimeout = errors.New("acknowledgement timed out")
)

// Link is one bidirectional connection to a peer. Writes are serialized so
// send paths and ack replies from the read loop cannot interleave frames.
type Link struct {
	conn net.Conn
	mu   sync.Mutex
}

func newLink(conn net.Conn) *Link {
	return &Link{conn: conn}
}

func (l *Link) WriteFrame(data []byte, timeout time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if timeout > 0 {
		l.conn.SetWriteDeadline(time.Now().Add(timeout))
		defer l.conn.SetWriteDeadline(time.Time{})
	}
	return WriteFrame(l.conn, data)
}

// ReadFrame blocks until the next inbound frame. Only the link's read loop
// calls this.
func (l *Link) ReadFrame() ([]byte, error) {
	return ReadFrame(l.conn)
}

func (l *Link) RemoteAddr() string {
	return l.conn.RemoteAddr().String()
}

func (l *Link) Close() error {
	return l.conn.Close()
}

// Manager owns the TCP listener, the per-peer link table and the ack waiter
// table. It knows nothing about the wire protocol beyond framing; read loops
// are provided by the delivery engine.
type Manager struct {
	dialTimeout time.Duration

	listener net.Listener

	mu    sync.Mutex
	links map[string]*Link // peer identifier -> live link

	acks sync.Map // message id -> chan struct{}
}

func NewManager(dialTimeout time.Duration) *Manager {
	return &Manager{
		dialTimeout: dialTimeout,
		links:       make(map[string]*Link),
	}
}

// Listen binds the TCP port and runs the accept loop. Each accepted
// connection gets its own goroutine running handler; the handler owns the
// link's lifetime.
func (m *Manager) Listen(port int, handler func(*Link)) error {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", port, err)
	}
	m.listener = listener

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				// Listener closed during shutdown.
				return
			}
			go handler(newLink(conn))
		}
	}()

	return nil
}

// Dial opens a connection with a bounded timeout. Dial failures are reported
// as ErrUnreachable.
func (m *Manager) Dial(addr string) (*Link, error) {
	conn, err := net.DialTimeout("tcp", addr, m.dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrUnreachable, addr, err)
	}
	return newLink(conn), nil
}

// Bind associates a live link with a peer identifier so later sends reuse it.
func (m *Manager) Bind(peer string, link *Link) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.links[peer]; ok && old != link {
		old.Close()
	}
	m.links[peer] = link
}

// PeerLink returns the cached link for a peer, if any.
func (m *Manager) PeerLink(peer string) (*Link, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	link, ok := m.links[peer]
	return link, ok
}

// Unbind drops the binding if it still points at the given link.
func (m *Manager) Unbind(peer string, link *Link) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.links[peer] == link {
		delete(m.links, peer)
	}
}

// DropPeer closes and forgets the peer's link.
func (m *Manager) DropPeer(peer string) {
	m.mu.Lock()
	link, ok := m.links[peer]
	delete(m.links, peer)
	m.mu.Unlock()
	if ok {
		link.Close()
	}
}

// RegisterAck prepares a waiter for the ack of the given message id. The
// returned channel fires once when ResolveAck is called.
func (m *Manager) RegisterAck(messageID string) <-chan struct{} {
	ch := make(chan struct{}, 1)
	m.acks.Store(messageID, ch)
	return ch
}

// ResolveAck completes a pending ack wait. Unknown ids are ignored; acks for
// retried sends can arrive after the waiter gave up.
func (m *Manager) ResolveAck(messageID string) {
	if v, ok := m.acks.LoadAndDelete(messageID); ok {
		close(v.(chan struct{}))
	}
}

// ReleaseAck discards a waiter that timed out.
func (m *Manager) ReleaseAck(messageID string) {
	m.acks.Delete(messageID)
}

// WaitAck blocks until the ack arrives or the window elapses.
func (m *Manager) WaitAck(messageID string, ch <-chan struct{}, timeout time.Duration) error {
	select {
	case <-ch:
		return nil
	case <-time.After(timeout):
		m.ReleaseAck(messageID)
		return ErrAckTimeout
	}
}

// CloseAll shuts the listener and every live link.
func (m *Manager) CloseAll() {
	if m.listener != nil {
		m.listener.Close()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for peer, link := range m.links {
		if err := link.Close(); err != nil {
			slog.Debug("Failed to close link", "peer", peer, "error", err)
		}
		delete(m.links, peer)
	}
}

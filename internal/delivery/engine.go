package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/0xfern/lanline/internal/config"
	"github.com/0xfern/lanline/internal/core"
	"github.com/0xfern/lanline/internal/discovery"
	"github.com/0xfern/lanline/internal/notify"
	"github.com/0xfern/lanline/internal/protocol"
	"github.com/0xfern/lanline/internal/registry"
	"github.com/0xfern/lanline/internal/store"
	"github.com/0xfern/lanline/internal/transport"
)

// ErrInvalidRecipient is surfaced by Submit for an empty or self-addressed
// receiver. The message is persisted as FAILED.
var ErrInvalidRecipient = errors.New("invalid recipient")

// Engine drives the message delivery state machine: direct sends with ack,
// queuing on unreachable peers, FIFO drain on reconnect, and inbound handling.
type Engine struct {
	db        *gorm.DB
	transport *transport.Manager
	registry  *registry.Registry
	identity  core.Identity
	cfg       config.Config
	sink      *notify.Dispatcher

	listenAddr string
	peerChan   chan discovery.PeerInfo

	drainMu sync.Mutex
	drains  map[string]*sync.Mutex
}

func NewEngine(db *gorm.DB, tm *transport.Manager, reg *registry.Registry, id core.Identity, cfg config.Config, sink *notify.Dispatcher, listenAddr string) *Engine {
	return &Engine{
		db:         db,
		transport:  tm,
		registry:   reg,
		identity:   id,
		cfg:        cfg,
		sink:       sink,
		listenAddr: listenAddr,
		peerChan:   make(chan discovery.PeerInfo, 10),
		drains:     make(map[string]*sync.Mutex),
	}
}

// Nick is this node's peer identifier.
func (e *Engine) Nick() string {
	return e.identity.Nick
}

// Start launches the accept loop, discovery, and the drain triggers. All
// goroutines stop when ctx is cancelled.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.transport.Listen(e.cfg.Port, func(link *transport.Link) {
		e.readLoop(link, "")
	}); err != nil {
		return fmt.Errorf("failed to start TCP listener: %w", err)
	}

	go func() {
		if err := discovery.StartHeartbeat(ctx, e.cfg.DiscoveryPort, e.cfg.Port, e.identity.NodeID, e.identity.Nick); err != nil {
			slog.Error("Heartbeat failed", "error", err)
		}
	}()

	go func() {
		if err := discovery.StartListener(ctx, e.cfg.DiscoveryPort, e.identity.NodeID, e.peerChan); err != nil {
			slog.Error("Discovery listener failed", "error", err)
		}
	}()

	go discovery.StartReaper(ctx, e.registry, e.cfg.PeerTTL)

	go e.processPeers(ctx)
	go e.processEvents(ctx)
	go e.fallbackDrain(ctx)

	return nil
}

// Submit accepts a new outgoing message. From the caller's point of view this
// always succeeds for a valid recipient: an unreachable peer just means the
// message lands in that peer's queue. Only store failures and invalid input
// are surfaced.
func (e *Engine) Submit(receiver, content string) (*store.Message, error) {
	msg := &store.Message{
		ID:        core.NewMessageID(),
		Sender:    e.identity.Nick,
		Receiver:  receiver,
		Content:   content,
		CreatedAt: time.Now().UnixNano(),
		Status:    store.StatusPending,
	}
	if err := store.SaveMessage(e.db, msg); err != nil {
		return nil, fmt.Errorf("failed to persist message: %w", err)
	}

	if receiver == "" || receiver == e.identity.Nick {
		if err := store.TransitionStatus(e.db, msg.ID, store.StatusFailed); err != nil {
			slog.Error("Failed to mark message failed", "id", msg.ID, "error", err)
		}
		msg.Status = store.StatusFailed
		return msg, ErrInvalidRecipient
	}

	e.Deliver(msg)
	return e.reload(msg)
}

// Deliver runs one delivery attempt for an already persisted message. The
// scheduler hands released messages here.
func (e *Engine) Deliver(msg *store.Message) {
	if err := e.attempt(msg); err != nil {
		slog.Info("Delivery attempt failed, message queued", "id", msg.ID, "peer", msg.Receiver, "error", err)
	}
}

// attempt tries a direct send. On success the message walks SENT then
// DELIVERED; any network failure parks it as QUEUED and flags the peer
// unreachable. The returned error reports only whether the send failed.
func (e *Engine) attempt(msg *store.Message) error {
	addr, err := e.registry.Lookup(msg.Receiver)
	if err != nil {
		e.queue(msg)
		return err
	}

	if err := e.sendMessage(msg.Receiver, addr, msg); err != nil {
		e.queue(msg)
		e.registry.MarkReachable(msg.Receiver, false)
		return err
	}

	for _, status := range []string{store.StatusSent, store.StatusDelivered} {
		if err := store.TransitionStatus(e.db, msg.ID, status); err != nil {
			slog.Error("Failed to record status", "id", msg.ID, "status", status, "error", err)
			return nil
		}
	}
	slog.Info("Message delivered", "id", msg.ID, "peer", msg.Receiver)
	return nil
}

func (e *Engine) queue(msg *store.Message) {
	if err := store.TransitionStatus(e.db, msg.ID, store.StatusQueued); err != nil {
		slog.Error("Failed to queue message", "id", msg.ID, "error", err)
	}
}

// Drain attempts delivery of every queued message for a peer in FIFO order,
// stopping at the first failure so ordering survives reachability flaps.
func (e *Engine) Drain(peer string) {
	mu := e.drainLock(peer)
	mu.Lock()
	defer mu.Unlock()

	queued, err := store.QueuedFor(e.db, peer)
	if err != nil {
		slog.Error("Failed to load queue", "peer", peer, "error", err)
		return
	}
	if len(queued) == 0 {
		return
	}

	slog.Info("Draining queue", "peer", peer, "pending", len(queued))
	for i := range queued {
		if err := e.attempt(&queued[i]); err != nil {
			slog.Info("Drain stopped", "peer", peer, "remaining", len(queued)-i, "error", err)
			return
		}
	}
}

func (e *Engine) drainLock(peer string) *sync.Mutex {
	e.drainMu.Lock()
	defer e.drainMu.Unlock()
	mu, ok := e.drains[peer]
	if !ok {
		mu = &sync.Mutex{}
		e.drains[peer] = mu
	}
	return mu
}

func (e *Engine) processPeers(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case info := <-e.peerChan:
			e.registry.Register(info.Nick, info.NodeID, info.Addr)
			e.registry.MarkReachable(info.Nick, true)
		}
	}
}

func (e *Engine) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-e.registry.Events():
			slog.Info("Peer became reachable", "peer", ev.Identifier, "addr", ev.Addr)
			go e.Drain(ev.Identifier)
		}
	}
}

// fallbackDrain is the periodic safety net behind the event path: any peer
// that is reachable and still has queued messages gets another drain pass.
func (e *Engine) fallbackDrain(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.DrainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			receivers, err := store.QueuedReceivers(e.db)
			if err != nil {
				slog.Error("Failed to list queued receivers", "error", err)
				continue
			}
			for _, peer := range receivers {
				if e.registry.Reachable(peer) {
					e.Drain(peer)
				}
			}
		}
	}
}

func (e *Engine) reload(msg *store.Message) (*store.Message, error) {
	var fresh store.Message
	if err := e.db.First(&fresh, "id = ?", msg.ID).Error; err != nil {
		return msg, nil
	}
	return &fresh, nil
}

// sendMessage pushes one message over the peer's link (dialing if needed) and
// blocks until the receiver's ack or a timeout.
func (e *Engine) sendMessage(peer, addr string, msg *store.Message) error {
	link, ok := e.transport.PeerLink(peer)
	if !ok {
		var err error
		link, err = e.transport.Dial(addr)
		if err != nil {
			return err
		}

		announce, err := protocol.Encode(protocol.TypeAnnounce, protocol.AnnouncePayload{
			NodeID:     e.identity.NodeID,
			Nick:       e.identity.Nick,
			ListenAddr: e.listenAddr,
		})
		if err != nil {
			link.Close()
			return err
		}
		if err := link.WriteFrame(announce, e.cfg.DialTimeout); err != nil {
			link.Close()
			return fmt.Errorf("%w: announce failed: %v", transport.ErrUnreachable, err)
		}

		e.transport.Bind(peer, link)
		go e.readLoop(link, peer)
	}

	data, err := protocol.Encode(protocol.TypeMsg, protocol.MsgPayload{
		ID:        msg.ID,
		Sender:    msg.Sender,
		Receiver:  msg.Receiver,
		Content:   msg.Content,
		CreatedAt: msg.CreatedAt,
	})
	if err != nil {
		return err
	}

	ackCh := e.transport.RegisterAck(msg.ID)
	if err := link.WriteFrame(data, e.cfg.DialTimeout); err != nil {
		e.transport.ReleaseAck(msg.ID)
		e.transport.DropPeer(peer)
		return fmt.Errorf("%w: write failed: %v", transport.ErrUnreachable, err)
	}

	return e.transport.WaitAck(msg.ID, ackCh, e.cfg.AckTimeout)
}

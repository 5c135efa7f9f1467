package delivery

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/0xfern/lanline/internal/notify"
	"github.com/0xfern/lanline/internal/protocol"
	"github.com/0xfern/lanline/internal/store"
	"github.com/0xfern/lanline/internal/transport"
)

// readLoop owns one link until it dies. peer is empty for accepted
// connections until the remote announces itself.
func (e *Engine) readLoop(link *transport.Link, peer string) {
	defer func() {
		link.Close()
		if peer != "" {
			e.transport.Unbind(peer, link)
		}
	}()

	for {
		payload, err := link.ReadFrame()
		if err != nil {
			return
		}

		var pkt protocol.Packet
		if err := json.Unmarshal(payload, &pkt); err != nil {
			// Unparseable wire data: drop the connection, never propagate.
			slog.Warn("Malformed frame, closing connection", "remote", link.RemoteAddr(), "error", err)
			return
		}

		switch pkt.Type {
		case protocol.TypeAnnounce:
			if id := e.handleAnnounce(link, pkt.Payload); id != "" {
				peer = id
			}
		case protocol.TypeMsg:
			e.handleMsg(link, pkt.Payload)
		case protocol.TypeAck:
			e.handleAck(pkt.Payload)
		default:
			slog.Warn("Unknown frame type", "type", pkt.Type, "remote", link.RemoteAddr())
		}
	}
}

func (e *Engine) handleAnnounce(link *transport.Link, payload []byte) string {
	var ann protocol.AnnouncePayload
	if err := json.Unmarshal(payload, &ann); err != nil || ann.Nick == "" {
		slog.Warn("Malformed announce", "remote", link.RemoteAddr(), "error", err)
		return ""
	}

	e.transport.Bind(ann.Nick, link)
	e.registry.Register(ann.Nick, ann.NodeID, ann.ListenAddr)
	e.registry.MarkReachable(ann.Nick, true)
	slog.Info("Peer announced", "peer", ann.Nick, "addr", ann.ListenAddr)
	return ann.Nick
}

// handleMsg persists an inbound message and acks it. Duplicates (a retried
// send whose ack we lost) are re-acked but neither re-stored nor re-notified.
// No ack is written when the store fails, so the sender keeps the message
// queued instead of losing it.
func (e *Engine) handleMsg(link *transport.Link, payload []byte) {
	var m protocol.MsgPayload
	if err := json.Unmarshal(payload, &m); err != nil || m.ID == "" {
		slog.Warn("Malformed message payload", "remote", link.RemoteAddr(), "error", err)
		return
	}

	exists, err := store.HasMessage(e.db, m.ID)
	if err != nil {
		slog.Error("Failed to check message", "id", m.ID, "error", err)
		return
	}

	if !exists {
		msg := &store.Message{
			ID:        m.ID,
			Sender:    m.Sender,
			Receiver:  m.Receiver,
			Content:   m.Content,
			CreatedAt: m.CreatedAt,
			Status:    store.StatusDelivered,
		}
		if err := store.SaveMessage(e.db, msg); err != nil {
			slog.Error("Failed to store inbound message", "id", m.ID, "error", err)
			return
		}
	}

	ack, err := protocol.Encode(protocol.TypeAck, protocol.AckPayload{MessageID: m.ID})
	if err == nil {
		if err := link.WriteFrame(ack, e.cfg.DialTimeout); err != nil {
			slog.Warn("Failed to send ack", "id", m.ID, "error", err)
		}
	}

	if !exists {
		e.sink.Publish(notify.Incoming{
			Sender:     m.Sender,
			Content:    m.Content,
			ReceivedAt: time.Now(),
		})
	}
}

func (e *Engine) handleAck(payload []byte) {
	var ack protocol.AckPayload
	if err := json.Unmarshal(payload, &ack); err != nil || ack.MessageID == "" {
		slog.Warn("Malformed ack payload", "error", err)
		return
	}
	e.transport.ResolveAck(ack.MessageID)
}

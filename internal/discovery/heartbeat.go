package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/0xfern/lanline/internal/registry"
)

// HeartbeatPacket is broadcast over UDP so peers on the same network segment
// find each other without manual connect commands.
type HeartbeatPacket struct {
	Type string `json:"type"`
	ID   string `json:"id"` // node id, used to skip our own beats
	Nick string `json:"nick"`
	Port int    `json:"port"` // TCP message port
	TS   int64  `json:"ts"`
}

// PeerInfo is what the listener hands to the consumer for each foreign beat.
type PeerInfo struct {
	NodeID string
	Nick   string
	Addr   string
}

// portSpread is how many consecutive UDP ports we target, so several peers on
// one host (distinct listen ports) all hear each other.
const portSpread = 6

// StartHeartbeat broadcasts a heartbeat packet every second.
func StartHeartbeat(ctx context.Context, discoveryPort, servicePort int, nodeID, nick string) error {
	targets := []string{"255.255.255.255", "127.0.0.1"}
	var conns []*net.UDPConn

	for _, host := range targets {
		for p := discoveryPort; p < discoveryPort+portSpread; p++ {
			addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", host, p))
			if err != nil {
				continue
			}
			conn, err := net.DialUDP("udp", nil, addr)
			if err == nil {
				conns = append(conns, conn)
			}
		}
	}

	if len(conns) == 0 {
		return fmt.Errorf("failed to dial any UDP broadcast addresses")
	}

	slog.Info("Heartbeat started", "targets", len(conns), "nick", nick)

	defer func() {
		for _, c := range conns {
			c.Close()
		}
	}()

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case t := <-ticker.C:
			packet := HeartbeatPacket{
				Type: "beat",
				ID:   nodeID,
				Nick: nick,
				Port: servicePort,
				TS:   t.Unix(),
			}
			data, err := json.Marshal(packet)
			if err != nil {
				continue
			}
			for _, c := range conns {
				_, _ = c.Write(data)
			}
		}
	}
}

// StartListener listens for heartbeats and sends peer info to the channel.
// Beats carrying our own node id are ignored.
func StartListener(ctx context.Context, port int, nodeID string, peerChan chan<- PeerInfo) error {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("failed to resolve listen address: %w", err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP: %w", err)
	}

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	buf := make([]byte, 4096)
	for {
		n, remoteAddr, err := conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("read error: %w", err)
			}
		}

		var packet HeartbeatPacket
		if err := json.Unmarshal(buf[:n], &packet); err != nil {
			slog.Warn("Failed to unmarshal heartbeat", "error", err)
			continue
		}

		if packet.Type != "beat" || packet.Nick == "" {
			continue
		}
		if packet.ID == nodeID {
			continue
		}

		peerAddr := fmt.Sprintf("%s:%d", remoteAddr.IP.String(), packet.Port)

		select {
		case peerChan <- PeerInfo{
			NodeID: packet.ID,
			Nick:   packet.Nick,
			Addr:   peerAddr,
		}:
		case <-ctx.Done():
			return nil
		}
	}
}

// StartReaper periodically expires peers that stopped heartbeating. The
// registry emits no event here; only a comeback does.
func StartReaper(ctx context.Context, reg *registry.Registry, ttl time.Duration) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reg.ExpireStale(ttl)
		}
	}
}

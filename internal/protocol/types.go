package protocol

import "encoding/json"

// Frame types
const (
	TypeAnnounce = "ANNOUNCE"
	TypeMsg      = "MSG"
	TypeAck      = "ACK"
)

// Packet is the generic container for all wire frames.
type Packet struct {
	Type    string `json:"type"`
	Payload []byte `json:"payload"`
}

// AnnouncePayload is the handshake frame sent as the first frame on every
// dialed connection: the peer introduces its identifier and where it listens.
type AnnouncePayload struct {
	NodeID     string `json:"node_id"`
	Nick       string `json:"nick"`
	ListenAddr string `json:"listen_addr"`
}

// MsgPayload carries one message.
type MsgPayload struct {
	ID        string `json:"id"`
	Sender    string `json:"sender"`
	Receiver  string `json:"receiver"`
	Content   string `json:"content"`
	CreatedAt int64  `json:"created_at"` // unix nanoseconds
}

// AckPayload confirms receipt of the message with the given id.
type AckPayload struct {
	MessageID string `json:"message_id"`
}

// Encode wraps a payload in a Packet and marshals the whole frame.
func Encode(typ string, payload any) ([]byte, error) {
	pBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Packet{Type: typ, Payload: pBytes})
}

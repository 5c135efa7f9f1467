package core

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
)

// Identity is the durable identity of this node. Nick is the logical peer
// identifier used for addressing, queuing and history; NodeID only exists so a
// node can recognize (and ignore) its own heartbeats.
type Identity struct {
	NodeID string `json:"node_id"`
	Nick   string `json:"nick"`
}

// LoadOrGenerateIdentity reads the identity file at path, or creates it with a
// fresh NodeID and the given nick. A nick already stored in the file wins over
// the argument, so the identifier stays stable across restarts.
func LoadOrGenerateIdentity(path, nick string) (Identity, error) {
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return Identity{}, fmt.Errorf("failed to read identity file: %w", err)
		}

		var id Identity
		if err := json.Unmarshal(data, &id); err != nil {
			return Identity{}, fmt.Errorf("failed to parse identity file: %w", err)
		}
		if id.NodeID != "" {
			if id.Nick == "" {
				id.Nick = nick
			}
			return id, nil
		}
	}

	id := Identity{NodeID: uuid.New().String(), Nick: nick}

	data, err := json.MarshalIndent(id, "", "  ")
	if err != nil {
		return Identity{}, fmt.Errorf("failed to marshal identity: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return Identity{}, fmt.Errorf("failed to write identity file: %w", err)
	}

	return id, nil
}

// NewMessageID mints a unique message id.
func NewMessageID() string {
	return uuid.New().String()
}

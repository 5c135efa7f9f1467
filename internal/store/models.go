package store

import (
	"time"
)

// Message statuses. Transitions only move forward: PENDING -> SENT/QUEUED ->
// DELIVERED, or PENDING -> FAILED. DELIVERED and FAILED are terminal.
const (
	StatusPending   = "pending"
	StatusSent      = "sent"
	StatusQueued    = "queued"
	StatusDelivered = "delivered"
	StatusFailed    = "failed"
)

var statusRank = map[string]int{
	StatusPending:   0,
	StatusQueued:    1,
	StatusSent:      2,
	StatusDelivered: 3,
	StatusFailed:    3,
}

type Peer struct {
	Nick      string `gorm:"primaryKey"`
	NodeID    string
	Addr      string
	LastSeen  time.Time
	Reachable bool
}

type Message struct {
	ID           string `gorm:"primaryKey"`
	Sender       string
	Receiver     string
	Content      string
	CreatedAt    int64 `gorm:"autoCreateTime:false"` // unix nanoseconds, set at authoring
	ScheduledFor int64 // unix nanoseconds, zero for immediate messages
	Status       string
}

// Scheduled reports whether the message carries a future-delivery timestamp.
func (m *Message) Scheduled() bool {
	return m.ScheduledFor != 0
}

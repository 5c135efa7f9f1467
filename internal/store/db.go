package store

import (
	"errors"
	"fmt"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// ErrFinalStatus is returned when a transition would move a message out of a
// terminal status or backwards along the delivery path.
var ErrFinalStatus = errors.New("message status is final")

func Init(path string) (*gorm.DB, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&Peer{}, &Message{}); err != nil {
		return nil, err
	}
	return db, nil
}

func SaveMessage(db *gorm.DB, msg *Message) error {
	return db.Create(msg).Error
}

// TransitionStatus advances a message along the delivery state machine.
// Re-asserting the current status is a no-op; regressions and any move out of
// a terminal status fail with ErrFinalStatus.
func TransitionStatus(db *gorm.DB, id, status string) error {
	return db.Transaction(func(tx *gorm.DB) error {
		var msg Message
		if err := tx.First(&msg, "id = ?", id).Error; err != nil {
			return fmt.Errorf("load message %s: %w", id, err)
		}
		if msg.Status == status {
			return nil
		}
		if msg.Status == StatusDelivered || msg.Status == StatusFailed {
			return ErrFinalStatus
		}
		if statusRank[status] < statusRank[msg.Status] {
			return ErrFinalStatus
		}
		return tx.Model(&Message{}).Where("id = ?", id).Update("status", status).Error
	})
}

func HasMessage(db *gorm.DB, id string) (bool, error) {
	var count int64
	err := db.Model(&Message{}).Where("id = ?", id).Count(&count).Error
	return count > 0, err
}

// QueuedFor returns the outbound queue for a receiver, oldest first. Insertion
// order equals delivery order.
func QueuedFor(db *gorm.DB, receiver string) ([]Message, error) {
	var messages []Message
	result := db.Where("receiver = ? AND status = ?", receiver, StatusQueued).
		Order("created_at asc").
		Find(&messages)
	return messages, result.Error
}

// QueuedReceivers lists receivers that currently have queued messages.
func QueuedReceivers(db *gorm.DB) ([]string, error) {
	var receivers []string
	result := db.Model(&Message{}).
		Where("status = ?", StatusQueued).
		Distinct().
		Pluck("receiver", &receivers)
	return receivers, result.Error
}

// DueScheduled returns scheduled messages whose due time is at or before now
// (unix nanoseconds), earliest first.
func DueScheduled(db *gorm.DB, now int64) ([]Message, error) {
	var messages []Message
	result := db.Where("status = ? AND scheduled_for > 0 AND scheduled_for <= ?", StatusPending, now).
		Order("scheduled_for asc").
		Find(&messages)
	return messages, result.Error
}

// NextScheduled returns the earliest pending scheduled message, or nil.
func NextScheduled(db *gorm.DB) (*Message, error) {
	var msg Message
	err := db.Where("status = ? AND scheduled_for > 0", StatusPending).
		Order("scheduled_for asc").
		First(&msg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// History returns messages exchanged with a peer, oldest first. An empty peer
// returns everything.
func History(db *gorm.DB, peer string, limit int) ([]Message, error) {
	var messages []Message
	q := db.Order("created_at asc")
	if peer != "" {
		q = q.Where("sender = ? OR receiver = ?", peer, peer)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	result := q.Find(&messages)
	return messages, result.Error
}

func UpsertPeer(db *gorm.DB, peer Peer) error {
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "nick"}},
		UpdateAll: true,
	}).Create(&peer).Error
}

func Peers(db *gorm.DB) ([]Peer, error) {
	var peers []Peer
	result := db.Order("nick asc").Find(&peers)
	return peers, result.Error
}

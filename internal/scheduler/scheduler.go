package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/0xfern/lanline/internal/core"
	"github.com/0xfern/lanline/internal/store"
)

var (
	// ErrInvalidSchedule rejects schedule times that are not strictly in the
	// future. The message is never persisted.
	ErrInvalidSchedule = errors.New("scheduled time must be in the future")
	// ErrNoReceiver rejects schedules without a receiver.
	ErrNoReceiver = errors.New("receiver required")
)

// Submitter is the delivery engine's hand-off point for released messages.
type Submitter interface {
	Deliver(msg *store.Message)
}

// Scheduler holds future-dated messages and releases each to the delivery
// engine exactly once when its time arrives. The Scheduled Set is a view over
// the store (PENDING rows with scheduled_for set), so restart recovery is
// just the loop's normal first query.
type Scheduler struct {
	db     *gorm.DB
	engine Submitter
	sender string

	mu   sync.Mutex
	wake chan struct{}
}

func New(db *gorm.DB, engine Submitter, sender string) *Scheduler {
	return &Scheduler{
		db:     db,
		engine: engine,
		sender: sender,
		wake:   make(chan struct{}, 1),
	}
}

// Schedule validates and persists a future-dated message. The loop is woken
// in case the new entry is due earlier than whatever it is sleeping towards.
func (s *Scheduler) Schedule(receiver, content string, at time.Time) (*store.Message, error) {
	if receiver == "" {
		return nil, ErrNoReceiver
	}
	if !at.After(time.Now()) {
		return nil, ErrInvalidSchedule
	}

	msg := &store.Message{
		ID:           core.NewMessageID(),
		Sender:       s.sender,
		Receiver:     receiver,
		Content:      content,
		CreatedAt:    time.Now().UnixNano(),
		ScheduledFor: at.UnixNano(),
		Status:       store.StatusPending,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := store.SaveMessage(s.db, msg); err != nil {
		return nil, fmt.Errorf("failed to persist scheduled message: %w", err)
	}
	s.kick()

	slog.Info("Message scheduled", "id", msg.ID, "peer", receiver, "at", at.Format(time.RFC3339))
	return msg, nil
}

func (s *Scheduler) kick() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run is the timer loop: sleep until the earliest due time, then release
// everything due. Entries already past due at startup (process was down
// through their due time) fire immediately.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		next, err := store.NextScheduled(s.db)
		if err != nil {
			slog.Error("Failed to query scheduled set", "error", err)
			if !s.pause(ctx, time.Second) {
				return
			}
			continue
		}

		if next == nil {
			select {
			case <-ctx.Done():
				return
			case <-s.wake:
			}
			continue
		}

		if delay := time.Until(time.Unix(0, next.ScheduledFor)); delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-s.wake:
				// An earlier entry may have arrived; re-derive the deadline.
				timer.Stop()
				continue
			case <-timer.C:
			}
		}

		s.release()
	}
}

// release hands every due message to the delivery engine. Deliver is
// synchronous and transitions the message out of PENDING, so a message can
// never be released twice.
func (s *Scheduler) release() {
	due, err := store.DueScheduled(s.db, time.Now().UnixNano())
	if err != nil {
		slog.Error("Failed to load due messages", "error", err)
		return
	}
	for i := range due {
		msg := due[i]
		slog.Info("Releasing scheduled message", "id", msg.ID, "peer", msg.Receiver)
		s.engine.Deliver(&msg)
	}
}

func (s *Scheduler) pause(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

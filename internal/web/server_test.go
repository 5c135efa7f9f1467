package web

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/0xfern/lanline/internal/registry"
	"github.com/0xfern/lanline/internal/scheduler"
	"github.com/0xfern/lanline/internal/store"
)

// MockNode implements the Node interface for testing
type MockNode struct {
	LastReceiver string
	LastContent  string
	LastSendAt   time.Time
	ScheduleErr  error
}

func (m *MockNode) Nick() string { return "alice" }

func (m *MockNode) Submit(receiver, content string) (*store.Message, error) {
	m.LastReceiver = receiver
	m.LastContent = content
	return &store.Message{ID: "m1", Sender: "alice", Receiver: receiver, Content: content, Status: store.StatusQueued}, nil
}

func (m *MockNode) Schedule(receiver, content string, at time.Time) (*store.Message, error) {
	if m.ScheduleErr != nil {
		return nil, m.ScheduleErr
	}
	m.LastReceiver = receiver
	m.LastContent = content
	m.LastSendAt = at
	return &store.Message{ID: "s1", Sender: "alice", Receiver: receiver, Content: content, Status: store.StatusPending}, nil
}

func setupTestServer(t *testing.T) (*Server, *MockNode, *gorm.DB) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Init(dbPath)
	if err != nil {
		t.Fatalf("Failed to open DB: %v", err)
	}

	node := &MockNode{}
	reg := registry.New(nil)
	reg.Register("bob", "node-bob", "127.0.0.1:9001")
	server := NewServer(db, node, reg, 8080)

	return server, node, db
}

func TestAPIMessages(t *testing.T) {
	server, _, db := setupTestServer(t)

	msg := store.Message{
		ID:        "msg1",
		Sender:    "bob",
		Receiver:  "alice",
		Content:   "Hello World",
		CreatedAt: time.Now().UnixNano(),
		Status:    store.StatusDelivered,
	}
	db.Create(&msg)

	req := httptest.NewRequest("GET", "/api/messages", nil)
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var messages []store.Message
	if err := json.NewDecoder(resp.Body).Decode(&messages); err != nil {
		t.Fatalf("Failed to decode JSON: %v", err)
	}
	if len(messages) != 1 {
		t.Errorf("Expected 1 message, got %d", len(messages))
	}
	if messages[0].Content != "Hello World" {
		t.Errorf("Expected content 'Hello World', got '%s'", messages[0].Content)
	}
}

func TestPostMessage(t *testing.T) {
	server, node, _ := setupTestServer(t)

	body, _ := json.Marshal(map[string]string{
		"receiver": "bob",
		"content":  "Hello Web",
	})

	req := httptest.NewRequest("POST", "/api/messages", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("Expected status 202, got %d", resp.StatusCode)
	}
	if node.LastReceiver != "bob" || node.LastContent != "Hello Web" {
		t.Errorf("Submit not called correctly: %q / %q", node.LastReceiver, node.LastContent)
	}

	var msg store.Message
	if err := json.NewDecoder(resp.Body).Decode(&msg); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if msg.Status != store.StatusQueued {
		t.Errorf("Expected queued status in response, got %q", msg.Status)
	}
}

func TestPostScheduleRejectsPastTime(t *testing.T) {
	server, node, _ := setupTestServer(t)
	node.ScheduleErr = scheduler.ErrInvalidSchedule

	body, _ := json.Marshal(map[string]interface{}{
		"receiver": "bob",
		"content":  "too late",
		"send_at":  time.Now().Add(-time.Hour).Format(time.RFC3339),
	})

	req := httptest.NewRequest("POST", "/api/schedule", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Result().StatusCode)
	}
}

func TestPostSchedule(t *testing.T) {
	server, node, _ := setupTestServer(t)

	at := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	body, _ := json.Marshal(map[string]interface{}{
		"receiver": "bob",
		"content":  "reminder",
		"send_at":  at.Format(time.RFC3339),
	})

	req := httptest.NewRequest("POST", "/api/schedule", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusAccepted {
		t.Errorf("Expected status 202, got %d", w.Result().StatusCode)
	}
	if !node.LastSendAt.Equal(at) {
		t.Errorf("Expected send_at %v, got %v", at, node.LastSendAt)
	}
}

func TestPeersAndStatus(t *testing.T) {
	server, _, db := setupTestServer(t)

	db.Create(&store.Message{ID: "q1", Sender: "alice", Receiver: "bob", Content: "x",
		CreatedAt: time.Now().UnixNano(), Status: store.StatusQueued})

	req := httptest.NewRequest("GET", "/api/peers", nil)
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)

	var peers []map[string]interface{}
	if err := json.NewDecoder(w.Result().Body).Decode(&peers); err != nil {
		t.Fatalf("Failed to decode peers: %v", err)
	}
	if len(peers) != 1 || peers[0]["identifier"] != "bob" {
		t.Errorf("Unexpected peers payload: %v", peers)
	}

	req = httptest.NewRequest("GET", "/api/status", nil)
	w = httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)

	var status map[string]interface{}
	if err := json.NewDecoder(w.Result().Body).Decode(&status); err != nil {
		t.Fatalf("Failed to decode status: %v", err)
	}
	if status["nick"] != "alice" {
		t.Errorf("Expected nick 'alice', got %v", status["nick"])
	}
	if status["queued_messages"] != float64(1) {
		t.Errorf("Expected 1 queued message, got %v", status["queued_messages"])
	}
}

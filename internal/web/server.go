package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"gorm.io/gorm"

	"github.com/0xfern/lanline/internal/delivery"
	"github.com/0xfern/lanline/internal/registry"
	"github.com/0xfern/lanline/internal/scheduler"
	"github.com/0xfern/lanline/internal/store"
)

// Node is the call surface the front end uses; the delivery engine and
// scheduler satisfy it together via nodeFacade.
type Node interface {
	Nick() string
	Submit(receiver, content string) (*store.Message, error)
	Schedule(receiver, content string, at time.Time) (*store.Message, error)
}

// nodeFacade glues engine and scheduler into the Node surface.
type nodeFacade struct {
	engine    *delivery.Engine
	scheduler *scheduler.Scheduler
}

func NewNode(engine *delivery.Engine, sched *scheduler.Scheduler) Node {
	return &nodeFacade{engine: engine, scheduler: sched}
}

func (n *nodeFacade) Nick() string { return n.engine.Nick() }

func (n *nodeFacade) Submit(receiver, content string) (*store.Message, error) {
	return n.engine.Submit(receiver, content)
}

func (n *nodeFacade) Schedule(receiver, content string, at time.Time) (*store.Message, error) {
	return n.scheduler.Schedule(receiver, content, at)
}

type Server struct {
	db       *gorm.DB
	node     Node
	registry *registry.Registry
	port     int
}

func NewServer(db *gorm.DB, node Node, reg *registry.Registry, port int) *Server {
	return &Server{
		db:       db,
		node:     node,
		registry: reg,
		port:     port,
	}
}

func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: s.Handler(),
	}

	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	slog.Info("Web server starting", "port", s.port)
	return srv.ListenAndServe()
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/messages", s.handleMessages)
	mux.HandleFunc("/api/schedule", s.handleSchedule)
	mux.HandleFunc("/api/peers", s.handlePeers)
	mux.HandleFunc("/api/status", s.handleStatus)
	return mux
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		s.handleSubmit(w, r)
		return
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	messages, err := store.History(s.db, r.URL.Query().Get("peer"), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(messages)
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Receiver string `json:"receiver"`
		Content  string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Content == "" {
		http.Error(w, "content required", http.StatusBadRequest)
		return
	}

	msg, err := s.node.Submit(req.Receiver, req.Content)
	if err != nil {
		if errors.Is(err, delivery.ErrInvalidRecipient) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(msg)
}

func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Receiver string    `json:"receiver"`
		Content  string    `json:"content"`
		SendAt   time.Time `json:"send_at"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	msg, err := s.node.Schedule(req.Receiver, req.Content, req.SendAt)
	if err != nil {
		if errors.Is(err, scheduler.ErrInvalidSchedule) || errors.Is(err, scheduler.ErrNoReceiver) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(msg)
}

func (s *Server) handlePeers(w http.ResponseWriter, r *http.Request) {
	type peerView struct {
		Identifier string    `json:"identifier"`
		Addr       string    `json:"addr"`
		Reachable  bool      `json:"reachable"`
		LastSeen   time.Time `json:"last_seen"`
	}

	peers := s.registry.Snapshot()
	out := make([]peerView, 0, len(peers))
	for _, p := range peers {
		out = append(out, peerView{
			Identifier: p.Identifier,
			Addr:       p.Addr,
			Reachable:  p.Reachable,
			LastSeen:   p.LastSeen,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	var queued int64
	if err := s.db.Model(&store.Message{}).Where("status = ?", store.StatusQueued).Count(&queued).Error; err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	reachable := 0
	for _, p := range s.registry.Snapshot() {
		if p.Reachable {
			reachable++
		}
	}

	status := map[string]interface{}{
		"nick":            s.node.Nick(),
		"peers":           len(s.registry.Snapshot()),
		"reachable_peers": reachable,
		"queued_messages": queued,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

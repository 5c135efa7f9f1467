package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/0xfern/lanline/internal/config"
	"github.com/0xfern/lanline/internal/core"
	"github.com/0xfern/lanline/internal/delivery"
	"github.com/0xfern/lanline/internal/logger"
	"github.com/0xfern/lanline/internal/notify"
	"github.com/0xfern/lanline/internal/registry"
	"github.com/0xfern/lanline/internal/scheduler"
	"github.com/0xfern/lanline/internal/store"
	"github.com/0xfern/lanline/internal/transport"
	"github.com/0xfern/lanline/internal/utils"
)

// A scripted peer for exercising a running node on the same host: it joins
// via discovery, sends one direct message and one scheduled message to the
// target nick, then lingers long enough to see the acks come back.
func main() {
	target := "Anonymous"
	cfg := config.Default()
	cfg.Nick = "TestBot"
	cfg.Port = 9002

	if err := logger.Init(fmt.Sprintf("lanline_%d.log", cfg.Port)); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	db, err := store.Init(fmt.Sprintf("lanline_%d.db", cfg.Port))
	if err != nil {
		log.Fatalf("Failed to init DB: %v", err)
	}

	id, err := core.LoadOrGenerateIdentity(fmt.Sprintf("identity_%d.json", cfg.Port), cfg.Nick)
	if err != nil {
		log.Fatalf("Failed to load identity: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dispatcher := notify.NewDispatcher(notify.SlogSink{})
	dispatcher.Start(ctx)

	ip, _ := utils.GetOutboundIP()
	reg := registry.New(db)
	tm := transport.NewManager(cfg.DialTimeout)
	defer tm.CloseAll()
	eng := delivery.NewEngine(db, tm, reg, id, cfg, dispatcher, fmt.Sprintf("%s:%d", ip, cfg.Port))

	fmt.Printf("Bot starting on port %d...\n", cfg.Port)
	if err := eng.Start(ctx); err != nil {
		log.Fatalf("Failed to start engine: %v", err)
	}

	sched := scheduler.New(db, eng, id.Nick)
	go sched.Run(ctx)

	// Give discovery a couple of heartbeat rounds to find the target.
	time.Sleep(3 * time.Second)

	msg := "Hello! I am a bot."
	fmt.Printf("Sending %q to %s...\n", msg, target)
	sent, err := eng.Submit(target, msg)
	if err != nil {
		log.Fatalf("Failed to submit: %v", err)
	}
	fmt.Printf("Message %s is %s\n", sent.ID, sent.Status)

	at := time.Now().Add(5 * time.Second)
	fmt.Printf("Scheduling a follow-up for %s...\n", at.Format("15:04:05"))
	if _, err := sched.Schedule(target, "This one was scheduled.", at); err != nil {
		log.Fatalf("Failed to schedule: %v", err)
	}

	fmt.Println("Staying online for 15 seconds...")
	time.Sleep(15 * time.Second)
	fmt.Println("Bot shutting down.")
}

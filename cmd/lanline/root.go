package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"

	"github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"

	"github.com/0xfern/lanline/internal/config"
	"github.com/0xfern/lanline/internal/core"
	"github.com/0xfern/lanline/internal/delivery"
	"github.com/0xfern/lanline/internal/logger"
	"github.com/0xfern/lanline/internal/notify"
	"github.com/0xfern/lanline/internal/registry"
	"github.com/0xfern/lanline/internal/scheduler"
	"github.com/0xfern/lanline/internal/store"
	"github.com/0xfern/lanline/internal/transport"
	"github.com/0xfern/lanline/internal/tui"
	"github.com/0xfern/lanline/internal/utils"
	"github.com/0xfern/lanline/internal/web"
)

var cfg = config.Default()

var rootCmd = &cobra.Command{
	Use:   "lanline",
	Short: "lanline CLI tool",
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the lanline node",
	Run: func(cmd *cobra.Command, args []string) {
		// If the message port was moved but the web port was left at its
		// default, shift the web port by the same offset so two nodes can
		// share a host.
		if cfg.Port != 9000 && cfg.WebPort == 8080 {
			offset := cfg.Port - 9000
			cfg.WebPort = 8080 + offset
			fmt.Printf("Auto-adjusting web port to %d (to match message port offset)\n", cfg.WebPort)
		}

		if err := logger.Init(fmt.Sprintf("lanline_%d.log", cfg.Port)); err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to initialize logger: %v\n", err)
			os.Exit(1)
		}

		if err := checkPort(cfg.Port); err != nil {
			fmt.Fprintf(os.Stderr, "Error: message port %d is already in use.\n", cfg.Port)
			os.Exit(1)
		}
		if err := checkPort(cfg.WebPort); err != nil {
			fmt.Fprintf(os.Stderr, "Error: web port %d is already in use.\n", cfg.WebPort)
			os.Exit(1)
		}

		slog.Info("Starting lanline", "port", cfg.Port, "nick", cfg.Nick)
		if cfg.DBPath == "" {
			cfg.DBPath = fmt.Sprintf("lanline_%d.db", cfg.Port)
		}
		db, err := store.Init(cfg.DBPath)
		if err != nil {
			slog.Error("Failed to init DB", "error", err)
			os.Exit(1)
		}

		identityPath := fmt.Sprintf("identity_%d.json", cfg.Port)
		id, err := core.LoadOrGenerateIdentity(identityPath, cfg.Nick)
		if err != nil {
			slog.Error("Failed to load identity", "error", err)
			os.Exit(1)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sinks := []notify.Sink{notify.SlogSink{}}
		if cfg.WebhookURL != "" {
			slog.Info("Webhook sink enabled")
			sinks = append(sinks, notify.NewWebhookSink(cfg.WebhookURL))
		}
		dispatcher := notify.NewDispatcher(sinks...)
		dispatcher.Start(ctx)

		ip, _ := utils.GetOutboundIP()
		listenAddr := fmt.Sprintf("%s:%d", ip, cfg.Port)

		reg := registry.New(db)
		tm := transport.NewManager(cfg.DialTimeout)
		defer tm.CloseAll()
		eng := delivery.NewEngine(db, tm, reg, id, cfg, dispatcher, listenAddr)
		if err := eng.Start(ctx); err != nil {
			slog.Error("Failed to start delivery engine", "error", err)
			os.Exit(1)
		}

		sched := scheduler.New(db, eng, id.Nick)
		go sched.Run(ctx)

		node := web.NewNode(eng, sched)
		webSrv := web.NewServer(db, node, reg, cfg.WebPort)
		go func() {
			if err := webSrv.Start(ctx); err != nil {
				slog.Error("Web server failed", "error", err)
				os.Exit(1)
			}
		}()

		url := fmt.Sprintf("http://%s:%d", ip, cfg.WebPort)
		qr, _ := qrcode.New(url, qrcode.Medium)

		fmt.Println("\nSCAN TO OPEN WEB UI:")
		fmt.Println(qr.ToString(false))
		fmt.Println("URL:", url)

		if os.Getenv("LANLINE_HEADLESS") == "true" {
			slog.Info("Running in HEADLESS mode (No TUI)")
			<-ctx.Done()
			return
		}
		if err := tui.StartTUI(db, node, reg); err != nil {
			slog.Error("TUI failed", "error", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(startCmd)
	startCmd.Flags().IntVarP(&cfg.Port, "port", "p", 9000, "TCP message port")
	startCmd.Flags().IntVarP(&cfg.DiscoveryPort, "discovery-port", "d", 9100, "Base UDP discovery port")
	startCmd.Flags().IntVarP(&cfg.WebPort, "web-port", "w", 8080, "Web interface port")
	startCmd.Flags().StringVarP(&cfg.Nick, "nick", "n", "Anonymous", "Nickname")
	startCmd.Flags().StringVar(&cfg.DBPath, "db", "", "Database path (default lanline_<port>.db)")
	startCmd.Flags().StringVar(&cfg.WebhookURL, "webhook", "", "Webhook URL notified on incoming messages")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func checkPort(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}

package cmd

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/chativa/chativa/internal/history"
	"github.com/chativa/chativa/internal/server"
)

var (
	serveHost string
	servePort int
	serveDB   string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the sandbox SSE backend",
	Long: `Start a local chat backend speaking the SSE connector's wire format:
GET /events, POST /send, GET /events/history, plus /healthz and /metrics.
Messages are persisted in a bbolt database and answered by an echo bot.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "listen host (default server.host)")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "listen port (default server.port)")
	serveCmd.Flags().StringVar(&serveDB, "db", "", "history database path (default server.dbPath)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveHost != "" {
		cfg.Server.Host = serveHost
	}
	if servePort != 0 {
		cfg.Server.Port = servePort
	}
	if serveDB != "" {
		cfg.Server.DBPath = serveDB
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := initLogger(cfg, os.Stderr)

	store, err := history.Open(cfg.DBPath())
	if err != nil {
		return err
	}
	defer store.Close()

	srv, err := server.New(server.Options{
		Addr:           net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		History:        store,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		RateLimit:      cfg.Server.RateLimit,
		RateBurst:      cfg.Server.RateBurst,
		ReplyDelay:     time.Duration(cfg.Server.ReplyDelayMs) * time.Millisecond,
		PageSize:       cfg.Server.PageSize,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("Sandbox server on http://%s:%d (history: %s)\n", cfg.Server.Host, cfg.Server.Port, cfg.DBPath())
	fmt.Println("Press Ctrl+C to stop")
	if err := srv.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	fmt.Println("Server stopped")
	return nil
}

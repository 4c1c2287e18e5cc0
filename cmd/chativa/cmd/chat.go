package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/chativa/chativa/internal/tui"
)

var (
	chatConnector string
	chatNoHistory bool
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Open the terminal chat client",
	Long: `Open an interactive chat session through the configured connector.

Type /history to page in older messages and /quit to leave. With the dummy
connector, "/genui weather", "/genui form" and "/genui progress" play the
generative UI demos.`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatConnector, "connector", "", "connector to use instead of widget.connector")
	chatCmd.Flags().BoolVar(&chatNoHistory, "no-history", false, "do not load history on connect")
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if chatConnector != "" {
		cfg.Widget.Connector = chatConnector
	}

	logFile, err := openLogFile()
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer logFile.Close()
	logger := initLogger(cfg, logFile)

	w, err := buildWidget(cfg, nil, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return tui.RunChat(ctx, w, tui.ChatOptions{
		Title:       cfg.Widget.Title,
		LoadHistory: cfg.Widget.LoadHistory && !chatNoHistory,
	})
}

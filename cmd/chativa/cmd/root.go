package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/chativa/chativa/internal/config"
	"github.com/chativa/chativa/internal/logging"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "chativa",
	Short: "Chativa - embeddable chat runtime",
	Long: `Chativa routes chat messages between a widget and pluggable backends
(DirectLine, SignalR, SSE, Telegram, LLM or an offline dummy), with an
extension pipeline for message processing and a sandbox SSE server for local
development.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default ~/.chativa/config.json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override (debug, info, warn, error)")

	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(connectorsCmd)
	rootCmd.AddCommand(setupCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig loads the configuration selected by --config.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	return cfg, nil
}

// initLogger installs the process logger writing to w.
func initLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	return logging.Init(cfg.Log.Level, cfg.Log.Format, w)
}

// openLogFile opens the log file used while a full-screen UI owns the
// terminal.
func openLogFile() (*os.File, error) {
	dir := config.GetConfigDir()
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}
	return os.OpenFile(dir+"/chativa.log", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
}

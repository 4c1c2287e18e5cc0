package cmd

import (
	"github.com/spf13/cobra"

	"github.com/chativa/chativa/internal/tui"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration status",
	Long:  "Display the current Chativa configuration: widget, connectors, extensions and sandbox server.",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	return tui.ShowStatus(cfg)
}

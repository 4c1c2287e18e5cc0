package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chativa/chativa/internal/tui"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Run interactive setup wizard",
	Long:  "Run the interactive setup wizard to pick a connector, style the widget and enable extensions.",
	RunE:  runSetup,
}

func runSetup(cmd *cobra.Command, args []string) error {
	cfg, err := tui.RunSetup(configPath)
	if err != nil {
		return fmt.Errorf("setup failed: %w", err)
	}

	fmt.Println()
	tui.ShowQuickStatus(cfg)

	fmt.Println()
	fmt.Println("You can now:")
	fmt.Println("  - Start chatting:        chativa chat")
	fmt.Println("  - Run the sandbox:       chativa serve")
	fmt.Println("  - Check the connector:   chativa connectors check")
	fmt.Println("  - View full status:      chativa status")

	return nil
}

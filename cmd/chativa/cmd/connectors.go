package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"github.com/chativa/chativa/internal/connector"
	"github.com/chativa/chativa/internal/connectors"
	"github.com/chativa/chativa/internal/message"
	"github.com/chativa/chativa/internal/tui"
)

var (
	checkTimeout time.Duration
	checkListen  time.Duration
)

var connectorsCmd = &cobra.Command{
	Use:   "connectors",
	Short: "List connectors",
	Long:  "List the available connectors and whether they are enabled in the configuration.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		tui.ShowConnectorList(cfg)
		return nil
	},
}

var connectorsCheckCmd = &cobra.Command{
	Use:       "check [kind]",
	Short:     "Connect and disconnect a connector to verify its settings",
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: connectors.Kinds(),
	RunE:      runConnectorsCheck,
}

func init() {
	connectorsCheckCmd.Flags().DurationVar(&checkTimeout, "timeout", 10*time.Second, "connect timeout")
	connectorsCheckCmd.Flags().DurationVar(&checkListen, "listen", 0, "print incoming traffic for this long before disconnecting")
	connectorsCmd.AddCommand(connectorsCheckCmd)
}

func runConnectorsCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	kind := cfg.Widget.Connector
	if len(args) == 1 {
		kind = args[0]
	}
	logger := initLogger(cfg, os.Stderr)

	c, err := connectors.New(cfg, kind, logger)
	if err != nil {
		return err
	}

	counts := watchConnector(c, os.Stdout)

	ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
	defer cancel()

	fmt.Printf("Connecting %s...\n", kind)
	start := time.Now()
	if err := c.Connect(ctx); err != nil {
		return fmt.Errorf("%s: connect failed: %w", kind, err)
	}
	fmt.Printf("  state: %s (%s)\n", c.State(), time.Since(start).Round(time.Millisecond))

	if page, err := connector.LoadHistory(ctx, c, ""); err == nil {
		fmt.Printf("  history: %d message(s), more: %t\n", len(page.Messages), page.HasMore)
	}

	if checkListen > 0 {
		fmt.Printf("  listening for %s...\n", checkListen)
		time.Sleep(checkListen)
		fmt.Printf("  received: %d message(s)\n", counts.messages.Load())
	}

	if err := c.Disconnect(context.Background()); err != nil {
		return fmt.Errorf("%s: disconnect failed: %w", kind, err)
	}
	fmt.Println("  ok")
	return nil
}

type trafficCounts struct {
	messages atomic.Int64
	drops    atomic.Int64
}

// watchConnector binds a printer and a counter to c.
func watchConnector(c connector.Connector, out io.Writer) *trafficCounts {
	counts := &trafficCounts{}
	var f connector.Fanout
	f.AddMessage(func(msg message.IncomingMessage) {
		fmt.Fprintf(out, "  <- [%s] %s\n", msg.Type, msg.Text())
	})
	f.AddMessage(func(message.IncomingMessage) { counts.messages.Add(1) })
	f.AddTyping(func(isTyping bool) {
		if isTyping {
			fmt.Fprintln(out, "  ... typing")
		}
	})
	f.AddDisconnect(func(reason string) {
		counts.drops.Add(1)
		fmt.Fprintf(out, "  disconnected: %s\n", reason)
	})
	f.Bind(c)
	return counts
}

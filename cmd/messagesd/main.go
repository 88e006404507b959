package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teranos/messagesd/cmd/messagesd/commands"
	"github.com/teranos/messagesd/logger"
)

var rootCmd = &cobra.Command{
	Use:   "messagesd",
	Short: "Unified messaging daemon",
	Long: `messagesd - one daemon for every messaging platform.

The daemon ingests Signal, WhatsApp, Discord, Telegram, Gmail, and git
commit logs into a single searchable archive, supervises each platform
connection with backoff recovery, and answers control commands over a
unix socket.

Available commands:
  daemon           - Run the daemon in the foreground
  status           - Show daemon and platform status
  health           - Run health checks against the running daemon
  start/stop       - Start or stop platform supervision
  restart          - Full stop/start cycle
  restart-platform - Cycle a single platform
  send             - Send a message through a platform
  search           - Full-text search the message archive
  config           - Manage configuration
  version          - Show version information

Examples:
  messagesd daemon                        # Run in foreground
  messagesd status                        # Table of platform states
  messagesd status -o json                # Same, machine readable
  messagesd send signal +15550001111 hi   # Send through Signal
  messagesd search "invoice march"        # Search the archive`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Config show pipes cleanly; everything else logs.
		if cmd.Name() == "show" {
			return nil
		}
		if err := logger.Initialize(false); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv)")

	rootCmd.AddCommand(commands.DaemonCmd)
	rootCmd.AddCommand(commands.StatusCmd)
	rootCmd.AddCommand(commands.HealthCmd)
	rootCmd.AddCommand(commands.StartCmd)
	rootCmd.AddCommand(commands.StopCmd)
	rootCmd.AddCommand(commands.RestartCmd)
	rootCmd.AddCommand(commands.RestartPlatformCmd)
	rootCmd.AddCommand(commands.SendCmd)
	rootCmd.AddCommand(commands.SearchCmd)
	rootCmd.AddCommand(commands.ConfigCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

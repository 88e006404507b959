package commands

import (
	"github.com/spf13/cobra"

	"github.com/teranos/messagesd/ipc"
	"github.com/teranos/messagesd/sym"
)

// StartCmd resumes platform supervision on a running daemon.
var StartCmd = &cobra.Command{
	Use:   "start",
	Short: sym.Open + " Start platform supervision",
	Long: sym.Open + ` Tell the running daemon to start its platforms.

The daemon process itself is started with 'messagesd daemon'; this
command revives supervision after a 'messagesd stop', re-running
platform discovery so newly authenticated platforms join.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return simpleCommand(ipc.Request{Type: ipc.CommandStart})
	},
}

// StopCmd halts platform supervision without killing the daemon.
var StopCmd = &cobra.Command{
	Use:   "stop",
	Short: sym.Close + " Stop platform supervision",
	Long: sym.Close + ` Tell the running daemon to stop its platforms.

Connections close in reverse priority order and the lifecycle record
is marked clean. The process and its control socket stay up, so
'messagesd start' can resume without restarting the daemon.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return simpleCommand(ipc.Request{Type: ipc.CommandStop})
	},
}

// RestartCmd cycles the whole daemon.
var RestartCmd = &cobra.Command{
	Use:   "restart",
	Short: sym.Open + " Restart platform supervision",
	Long:  sym.Open + ` Full stop/start cycle: every platform down, discovery re-run, every authenticated platform back up.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return simpleCommand(ipc.Request{Type: ipc.CommandRestart})
	},
}

// RestartPlatformCmd cycles one platform.
var RestartPlatformCmd = &cobra.Command{
	Use:   "restart-platform <platform>",
	Short: sym.Open + " Restart a single platform",
	Long: sym.Open + ` Cycle one platform's connection without touching the others.

Example:
  messagesd restart-platform signal`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return simpleCommand(ipc.Request{Type: ipc.CommandRestartPlatform, Platform: args[0]})
	},
}

package commands

import (
	"fmt"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/messagesd/daemon"
	"github.com/teranos/messagesd/errors"
	"github.com/teranos/messagesd/ipc"
	"github.com/teranos/messagesd/sym"
)

// StatusCmd shows daemon and platform status.
var StatusCmd = &cobra.Command{
	Use:   "status",
	Short: sym.Sock + " Show daemon and platform status",
	Long: sym.Sock + ` Query the running daemon for its status.

Shows the daemon's aggregate state, uptime, and one line per platform
with connection status, message count, and last activity.

Examples:
  messagesd status            # Human-readable table
  messagesd status -o json    # Machine readable
  messagesd status -o yaml`,
	RunE: runStatus,
}

func init() {
	addOutputFlag(StatusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	return withClient(func(cli *ipc.Client) error {
		resp, err := cli.Command(ipc.CommandStatus)
		if err != nil {
			return err
		}
		if !resp.Success {
			return errors.New(resp.Error)
		}

		if outputFormat != "table" {
			return renderData(resp.Data)
		}

		var st daemon.StatusResponse
		if err := ipc.DecodeData(resp, &st); err != nil {
			return err
		}
		renderStatusTable(st)
		return nil
	})
}

func renderStatusTable(st daemon.StatusResponse) {
	uptime := time.Duration(st.Daemon.UptimeSeconds) * time.Second
	fmt.Printf("%s messagesd %s (pid %d, up %s)\n\n",
		sym.Open, statusText(string(st.Daemon.Status)), st.Daemon.PID, uptime)

	if len(st.Platforms) == 0 {
		pterm.Warning.Println("No platforms registered; check credentials and config")
		return
	}

	for _, p := range st.Platforms {
		// Pad before coloring; escape codes would break the field width.
		status := statusText(fmt.Sprintf("%-12s", p.Status))
		line := fmt.Sprintf("  %s %-10s %s %6d messages",
			sym.PlatformGlyph(p.ID), sym.PlatformLabel(p.ID), status, p.MessageCount)
		if p.LastMessageISO != "" {
			line += "   last " + p.LastMessageISO
		}
		if p.LastError != "" {
			line += "   " + pterm.Gray(p.LastError)
		}
		fmt.Println(line)
	}

	fmt.Printf("\n  %d/%d platforms healthy\n", st.Summary.Healthy, st.Summary.Total)
}

package commands

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/messagesd/errors"
	"github.com/teranos/messagesd/health"
	"github.com/teranos/messagesd/ipc"
	"github.com/teranos/messagesd/sym"
)

// HealthCmd runs health checks against the running daemon.
var HealthCmd = &cobra.Command{
	Use:   "health",
	Short: sym.Health + " Run health checks against the running daemon",
	Long: sym.Health + ` Ask the daemon for a fresh health report.

Each platform is checked for connection state, activity staleness, and
recent error rate. The report also includes process memory and CPU.

Examples:
  messagesd health
  messagesd health -o json`,
	RunE: runHealth,
}

func init() {
	addOutputFlag(HealthCmd)
}

func runHealth(cmd *cobra.Command, args []string) error {
	return withClient(func(cli *ipc.Client) error {
		resp, err := cli.Command(ipc.CommandHealth)
		if err != nil {
			return err
		}
		if !resp.Success {
			return errors.New(resp.Error)
		}

		if outputFormat != "table" {
			return renderData(resp.Data)
		}

		var rep health.Report
		if err := ipc.DecodeData(resp, &rep); err != nil {
			return err
		}
		renderHealthTable(rep)
		return nil
	})
}

func renderHealthTable(rep health.Report) {
	fmt.Printf("%s Overall: %s (checked %s)\n\n",
		sym.Health, statusText(string(rep.Overall)), rep.CheckedAt.Format("15:04:05"))

	for _, c := range rep.Checks {
		mark := pterm.LightGreen("✓")
		if !c.Healthy {
			mark = pterm.LightRed("✗")
		}
		line := fmt.Sprintf("  %s %s %-10s", mark, sym.PlatformGlyph(c.Platform), sym.PlatformLabel(c.Platform))
		if c.Detail != "" {
			line += " " + pterm.Gray(c.Detail)
		}
		fmt.Println(line)
	}

	fmt.Printf("\n  Process: %.1f MB RSS, %.1f%% CPU\n", rep.Process.RSSMB, rep.Process.CPUPercent)
}

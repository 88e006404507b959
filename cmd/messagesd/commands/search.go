package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/messagesd/errors"
	"github.com/teranos/messagesd/ipc"
	"github.com/teranos/messagesd/message"
	"github.com/teranos/messagesd/sym"
)

var searchLimit int

// SearchCmd runs a full-text query against the message archive.
var SearchCmd = &cobra.Command{
	Use:   "search <query...>",
	Short: sym.Mail + " Full-text search the message archive",
	Long: sym.Mail + ` Search every ingested message across all platforms.

Queries use FTS5 syntax: bare words match anywhere, quoted phrases
match exactly, AND/OR/NOT combine terms.

Examples:
  messagesd search invoice march
  messagesd search '"follow up" AND gmail' --limit 50
  messagesd search standup -o json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func init() {
	addOutputFlag(SearchCmd)
	SearchCmd.Flags().IntVar(&searchLimit, "limit", 20, "Maximum results to return")
}

func runSearch(cmd *cobra.Command, args []string) error {
	return withClient(func(cli *ipc.Client) error {
		resp, err := cli.Do(ipc.Request{
			Type:  ipc.CommandSearch,
			Query: strings.Join(args, " "),
			Limit: searchLimit,
		})
		if err != nil {
			return err
		}
		if !resp.Success {
			return errors.New(resp.Error)
		}

		if outputFormat != "table" {
			return renderData(resp.Data)
		}

		var msgs []message.Message
		if err := ipc.DecodeData(resp, &msgs); err != nil {
			return err
		}
		renderSearchResults(msgs)
		return nil
	})
}

func renderSearchResults(msgs []message.Message) {
	if len(msgs) == 0 {
		pterm.Info.Println("No messages matched")
		return
	}

	for _, m := range msgs {
		when := time.UnixMilli(m.CreatedAt).Format("2006-01-02 15:04")
		author := m.Author.Name
		if author == "" {
			author = m.Author.Handle
		}
		fmt.Printf("  %s %s  %s  %s\n",
			sym.PlatformGlyph(m.Source.Platform),
			pterm.Gray(when),
			pterm.LightCyan(author),
			snippet(m.Content, 72))
	}
	fmt.Printf("\n  %d result(s)\n", len(msgs))
}

// snippet flattens newlines and truncates for one-line display.
func snippet(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}

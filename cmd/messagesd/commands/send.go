package commands

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/teranos/messagesd/ipc"
	"github.com/teranos/messagesd/sym"
)

// SendCmd relays a message through a connected platform.
var SendCmd = &cobra.Command{
	Use:   "send <platform> <target> <message...>",
	Short: sym.Mail + " Send a message through a platform",
	Long: sym.Mail + ` Send an outbound message through a connected platform.

The target's form is platform specific: a phone number for Signal and
WhatsApp, a channel id for Discord, a chat id for Telegram, an email
address for Gmail.

Examples:
  messagesd send signal +15550001111 running late, start without me
  messagesd send gmail bob@example.com lunch tomorrow?`,
	Args: cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return simpleCommand(ipc.Request{
			Type:     ipc.CommandSend,
			Platform: args[0],
			Target:   args[1],
			Body:     strings.Join(args[2:], " "),
		})
	},
}

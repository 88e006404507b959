package commands

import (
	"encoding/json"
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/teranos/messagesd/config"
	"github.com/teranos/messagesd/errors"
	"github.com/teranos/messagesd/ipc"
)

var outputFormat string

func addOutputFlag(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&outputFormat, "output", "o", "table", "Output format: table, json, yaml")
}

// withClient dials the control socket and runs fn over the connection.
func withClient(fn func(*ipc.Client) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	cli, err := ipc.Dial(cfg.SocketPath)
	if err != nil {
		if errors.IsDaemonNotRunning(err) {
			return errors.Newf("daemon is not running (socket %s); start it with 'messagesd daemon'", cfg.SocketPath)
		}
		return err
	}
	defer cli.Close()

	return fn(cli)
}

// simpleCommand sends one command and prints the daemon's reply.
func simpleCommand(req ipc.Request) error {
	return withClient(func(cli *ipc.Client) error {
		resp, err := cli.Do(req)
		if err != nil {
			return err
		}
		if !resp.Success {
			return errors.New(resp.Error)
		}
		if msg, ok := resp.Data.(string); ok {
			pterm.Success.Println(msg)
		}
		return nil
	})
}

// renderData prints response data in the requested machine format.
func renderData(data interface{}) error {
	switch outputFormat {
	case "json":
		out, err := json.MarshalIndent(data, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(out))
	case "yaml":
		out, err := yaml.Marshal(data)
		if err != nil {
			return fmt.Errorf("failed to marshal YAML: %w", err)
		}
		fmt.Print(string(out))
	default:
		return fmt.Errorf("unsupported format: %s (supported: table, json, yaml)", outputFormat)
	}
	return nil
}

// statusText colors a platform status for table output.
func statusText(status string) string {
	switch status {
	case "connected":
		return pterm.LightGreen(status)
	case "error":
		return pterm.LightRed(status)
	case "recovering", "starting":
		return pterm.Yellow(status)
	case "disconnected":
		return pterm.LightYellow(status)
	default:
		return pterm.Gray(status)
	}
}

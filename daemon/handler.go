package daemon

import (
	"context"
	"fmt"

	"github.com/teranos/messagesd/ipc"
)

// Handle dispatches one control command. The daemon satisfies
// ipc.Handler so the entrypoint can hand it straight to the server.
func (d *Daemon) Handle(ctx context.Context, req ipc.Request) ipc.Response {
	switch req.Type {
	case ipc.CommandStatus:
		return ipc.OK(d.Status())

	case ipc.CommandHealth:
		return ipc.OK(d.Health())

	case ipc.CommandStart:
		if err := d.Start(ctx); err != nil {
			return ipc.Fail(err)
		}
		return ipc.OK("Daemon started")

	case ipc.CommandStop:
		if err := d.Stop(ctx); err != nil {
			return ipc.Fail(err)
		}
		return ipc.OK("Daemon stopped")

	case ipc.CommandRestart:
		if err := d.Restart(ctx); err != nil {
			return ipc.Fail(err)
		}
		return ipc.OK("Daemon restarted")

	case ipc.CommandRestartPlatform:
		if req.Platform == "" {
			return ipc.Failf("restart-platform requires a platform")
		}
		if err := d.RestartPlatform(ctx, req.Platform); err != nil {
			return ipc.Fail(err)
		}
		return ipc.OK(fmt.Sprintf("Platform %s restarted", req.Platform))

	case ipc.CommandSend:
		if req.Platform == "" || req.Target == "" {
			return ipc.Failf("send requires a platform and a target")
		}
		if err := d.Send(ctx, req.Platform, req.Target, req.Body); err != nil {
			return ipc.Fail(err)
		}
		return ipc.OK("Message sent")

	case ipc.CommandSearch:
		if req.Query == "" {
			return ipc.Failf("search requires a query")
		}
		msgs, err := d.Search(req.Query, req.Limit)
		if err != nil {
			return ipc.Fail(err)
		}
		return ipc.OK(msgs)

	default:
		return ipc.Failf("unknown command: %s", req.Type)
	}
}

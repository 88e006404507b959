package daemon

import (
	"context"
	"os"
	"time"

	"github.com/teranos/messagesd/errors"
	"github.com/teranos/messagesd/health"
	"github.com/teranos/messagesd/message"
	"github.com/teranos/messagesd/state"
	"github.com/teranos/messagesd/version"
)

const defaultSearchLimit = 20

// StatusResponse is the control-socket status payload.
type StatusResponse struct {
	Daemon    DaemonInfo     `json:"daemon"`
	Platforms []PlatformInfo `json:"platforms"`
	Summary   Summary        `json:"summary"`
}

// DaemonInfo describes the process.
type DaemonInfo struct {
	Status        Status `json:"status"`
	PID           int    `json:"pid"`
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	StartedAtISO  string `json:"started_at_iso,omitempty"`
}

// PlatformInfo describes one registered platform. Counts are for the
// current run; the persisted lifetime totals live in the state store.
type PlatformInfo struct {
	ID             string `json:"id"`
	Status         string `json:"status"`
	MessageCount   int    `json:"message_count"`
	LastMessageISO string `json:"last_message_iso,omitempty"`
	LastError      string `json:"last_error,omitempty"`
}

// Summary counts connected platforms against registered ones.
type Summary struct {
	Healthy int `json:"healthy"`
	Total   int `json:"total"`
}

// Status reports the daemon and every registered platform.
func (d *Daemon) Status() StatusResponse {
	d.mu.Lock()
	status := d.status
	startedAt := d.startedAt
	running := d.running
	d.mu.Unlock()

	resp := StatusResponse{
		Daemon: DaemonInfo{
			Status:  status,
			PID:     os.Getpid(),
			Version: version.Get().Version,
		},
	}
	if running {
		resp.Daemon.UptimeSeconds = int64(time.Since(startedAt).Seconds())
		resp.Daemon.StartedAtISO = startedAt.UTC().Format(time.RFC3339)
	}

	snaps := d.manager.Snapshot()
	resp.Platforms = make([]PlatformInfo, 0, len(snaps))
	for _, s := range snaps {
		info := PlatformInfo{
			ID:           s.Platform,
			Status:       string(s.Status),
			MessageCount: s.Stats.MessageCount,
			LastError:    s.LastError,
		}
		if !s.LastMessage.IsZero() {
			info.LastMessageISO = s.LastMessage.UTC().Format(time.RFC3339)
		}
		resp.Platforms = append(resp.Platforms, info)

		if s.Status == state.StatusConnected {
			resp.Summary.Healthy++
		}
	}
	resp.Summary.Total = len(snaps)
	return resp
}

// Health runs a fresh pass over every platform and the process.
func (d *Daemon) Health() health.Report {
	return d.monitor.Report()
}

// Search queries the message archive. A non-positive limit searches
// with the default page size.
func (d *Daemon) Search(query string, limit int) ([]*message.Message, error) {
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	return d.normalizer.Messages().Search(query, limit)
}

// Send relays a message through a connected platform.
func (d *Daemon) Send(ctx context.Context, plat, target, body string) error {
	return d.manager.Send(ctx, plat, target, body)
}

// RestartPlatform cycles one platform without touching the others.
func (d *Daemon) RestartPlatform(ctx context.Context, plat string) error {
	if !d.manager.Has(plat) {
		return errors.Wrap(errors.ErrPlatformNotFound, plat)
	}
	return d.manager.Restart(ctx, plat)
}

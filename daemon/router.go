package daemon

import (
	"context"
	"time"

	"github.com/teranos/messagesd/db"
	"github.com/teranos/messagesd/health"
	"github.com/teranos/messagesd/platform"
	"github.com/teranos/messagesd/state"
)

const ingestTimeout = 30 * time.Second

// routePlatformEvents drains the manager bus for the daemon's
// lifetime. State writes happen on every event; user-facing
// notifications only while the daemon is running, so a planned
// shutdown does not announce each platform it tears down.
func (d *Daemon) routePlatformEvents() {
	defer d.wg.Done()

	for ev := range d.manager.Events() {
		switch ev.Kind {
		case platform.BusStarting:
			d.logger.Debugw("Platform starting", "platform", ev.Platform)

		case platform.BusConnected:
			now := time.Now().UTC()
			d.persist(ev.Platform, state.StatusConnected, state.Patch{LastConnected: &now})
			if d.isRunning() {
				d.notifier.Info("Platform connected", "", ev.Platform)
			}
			d.recompute()

		case platform.BusDisconnected:
			d.persist(ev.Platform, ev.Status, state.Patch{})
			if d.isRunning() {
				d.notifier.Warning("Platform disconnected", "", ev.Platform)
			}
			d.recompute()

		case platform.BusError:
			msg := errText(ev.Err)
			d.persist(ev.Platform, state.StatusError, state.Patch{LastError: &msg, ErrorInc: 1})
			if d.isRunning() {
				d.notifier.Error("Platform error", msg, ev.Platform)
			}
			d.recompute()

		case platform.BusRecovering:
			attempt := ev.Attempt
			d.persist(ev.Platform, state.StatusRecovering, state.Patch{ReconnectAttempts: &attempt})
			d.logger.Infow("Platform recovering",
				"platform", ev.Platform,
				"attempt", ev.Attempt,
				"delay", ev.Delay,
			)
			d.recompute()

		case platform.BusFailed:
			msg := errText(ev.Err)
			d.persist(ev.Platform, state.StatusError, state.Patch{LastError: &msg})
			if d.isRunning() {
				d.notifier.Error("Platform failed",
					"gave up after repeated reconnect attempts", ev.Platform)
			}
			d.recompute()

		case platform.BusMessage:
			d.ingestOne(ev)

		case platform.BusQR:
			if ev.QR != nil {
				d.logger.Infow("Platform requires QR pairing",
					"platform", ev.Platform,
					"expires_at", ev.QR.ExpiresAt,
				)
				if d.isRunning() {
					d.notifier.Info("Scan QR to pair", ev.QR.Data, ev.Platform)
				}
			}
		}
	}
}

// routeHealthEvents reacts to monitor verdicts until Close.
func (d *Daemon) routeHealthEvents() {
	defer d.wg.Done()

	for {
		select {
		case <-d.done:
			return
		case ev := <-d.monitor.Events():
			switch ev.Type {
			case health.EventRecovered:
				if d.isRunning() {
					d.notifier.Info("Platform recovered", "", ev.Platform)
				}
				d.recompute()
			case health.EventUnhealthy:
				d.recompute()
			}
		}
	}
}

// ingestOne normalizes a single inbound payload and records the
// activity against the platform row. Ingest failures are logged and
// counted but never stall the bus.
func (d *Daemon) ingestOne(ev platform.BusEvent) {
	if ev.Payload == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), ingestTimeout)
	defer cancel()

	res, err := d.normalizer.IngestBatch(ctx, ev.Platform, []platform.Payload{*ev.Payload})
	if err != nil {
		if db.IsDatabaseClosed(err) {
			d.logger.Debugw("Ingest skipped, database closed", "platform", ev.Platform)
			return
		}
		msg := errText(err)
		d.persist(ev.Platform, state.StatusConnected, state.Patch{LastError: &msg, ErrorInc: 1})
		d.logger.Errorw("Ingest failed", "platform", ev.Platform, "error", err)
		return
	}

	now := time.Now().UTC()
	d.persist(ev.Platform, state.StatusConnected, state.Patch{LastMessage: &now, MessageInc: res.Ingested})
	d.logger.Debugw("Message ingested",
		"platform", ev.Platform,
		"ingested", res.Ingested,
		"duplicates", res.Duplicates,
	)
}

// persist writes a platform row, logging rather than propagating
// storage trouble; the bus must keep moving.
func (d *Daemon) persist(plat string, status state.PlatformStatus, patch state.Patch) {
	if err := d.platforms.Save(plat, status, patch); err != nil {
		if db.IsDatabaseClosed(err) {
			return
		}
		d.logger.Errorw("Platform state write failed", "platform", plat, "error", err)
	}
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

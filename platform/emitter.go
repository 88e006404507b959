package platform

import (
	"sync"
	"time"
)

// eventBuffer is the per-adapter channel depth. Deep enough to absorb a
// fetch batch without blocking the adapter's read loop.
const eventBuffer = 64

// Emitter is the event plumbing adapters embed: the buffered event
// channel, ordered emission, and the self-reported stats snapshot.
// Adapters must not emit after Stop returns; the manager stops reading
// their channel once it shuts down.
type Emitter struct {
	platform string
	events   chan Event

	mu    sync.Mutex
	stats Stats
}

// NewEmitter creates the event plumbing for one platform.
func NewEmitter(platform string) *Emitter {
	return &Emitter{
		platform: platform,
		events:   make(chan Event, eventBuffer),
	}
}

// Events returns the adapter's event channel.
func (e *Emitter) Events() <-chan Event {
	return e.events
}

// IsConnected reports the adapter's view of its connection.
func (e *Emitter) IsConnected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats.IsConnected
}

// Stats returns the activity snapshot.
func (e *Emitter) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// EmitConnected marks the adapter connected and announces it.
func (e *Emitter) EmitConnected() {
	e.mu.Lock()
	e.stats.IsConnected = true
	e.mu.Unlock()
	e.events <- Event{Type: EventConnected, Platform: e.platform}
}

// EmitDisconnected marks the adapter disconnected and announces it.
func (e *Emitter) EmitDisconnected() {
	e.mu.Lock()
	e.stats.IsConnected = false
	e.mu.Unlock()
	e.events <- Event{Type: EventDisconnected, Platform: e.platform}
}

// EmitError records err in the stats and announces it.
func (e *Emitter) EmitError(err error) {
	e.mu.Lock()
	e.stats.ErrorCount++
	e.stats.LastError = err.Error()
	e.mu.Unlock()
	e.events <- Event{Type: EventError, Platform: e.platform, Err: err}
}

// EmitMessage records the activity and delivers one inbound payload.
func (e *Emitter) EmitMessage(p *Payload) {
	now := time.Now()
	e.mu.Lock()
	e.stats.MessageCount++
	e.stats.LastMessage = &now
	e.mu.Unlock()
	e.events <- Event{Type: EventMessage, Platform: e.platform, Payload: p}
}

// EmitQR delivers pairing data.
func (e *Emitter) EmitQR(qr *QRCode) {
	e.events <- Event{Type: EventQR, Platform: e.platform, QR: qr}
}

// SetConnected updates the connection flag without emitting.
func (e *Emitter) SetConnected(v bool) {
	e.mu.Lock()
	e.stats.IsConnected = v
	e.mu.Unlock()
}

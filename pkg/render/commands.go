package render

import (
	"time"

	"github.com/hyprside/shift/pkg/control"
	"github.com/hyprside/shift/pkg/wire"
)

// handleCommand dispatches one Command from the Control Plane (§4.3).
func (l *Loop) handleCommand(cmd control.Command, events chan<- control.Event) {
	switch c := cmd.(type) {
	case control.LinkFramebuffer:
		l.handleLink(c)
	case control.SwapRequest:
		l.handleSwap(c, events)
	case control.SetActiveSession:
		l.handleSetActive(c)
	case control.SessionRemoved:
		l.handleSessionRemoved(c)
	default:
		l.logger.Warn().Msg("render: unrecognized command type, ignoring")
	}
}

// handleLink imports both DMA-BUF slots as GL textures for (session,
// monitor) (§4.3 "DMA-BUF import"). Import failures are logged and the
// offending fd is closed; they do not terminate the loop.
func (l *Loop) handleLink(c control.LinkFramebuffer) {
	mon, ok := l.monitors[c.MonitorID]
	if !ok {
		l.logger.Warn().Str("monitor", c.MonitorID).Msg("framebuffer_link for unknown monitor, dropping")
		wire.CloseFDs(c.FDs[0], c.FDs[1])
		return
	}
	if err := mon.ctx.MakeCurrent(); err != nil {
		l.logger.Warn().Err(err).Str("monitor", c.MonitorID).Msg("make current failed during link")
		wire.CloseFDs(c.FDs[0], c.FDs[1])
		return
	}

	for i, slot := range [2]wire.Slot{wire.Slot0, wire.Slot1} {
		key := textureKey{c.SessionID, c.MonitorID, slot}
		if old, ok := l.textures[key]; ok {
			old.Destroy()
			delete(l.textures, key)
		}
		tex, err := mon.ctx.ImportDMABUF(c.Width, c.Height, c.Stride, c.Offset, c.FourCC, c.FDs[i])
		if err != nil {
			l.logger.Warn().Err(err).Str("session", c.SessionID).Str("monitor", c.MonitorID).
				Int("slot", int(slot)).Msg("dma-buf import failed")
			wire.CloseFDs(c.FDs[i])
			continue
		}
		l.textures[key] = tex
	}

	// A re-link invalidates whatever was previously being displayed for
	// this pair; the Control Plane resets ledger ownership to match.
	delete(l.front, sessionMonitorKey{c.SessionID, c.MonitorID})
	l.cancelFenceWaiter(c.SessionID, c.MonitorID, wire.Slot0)
	l.cancelFenceWaiter(c.SessionID, c.MonitorID, wire.Slot1)
	mon.dirty = true
}

// handleSwap validates and (subject to fence gating) promotes a slot
// (§4.3 "Buffer-request acknowledgement").
func (l *Loop) handleSwap(c control.SwapRequest, events chan<- control.Event) {
	key := textureKey{c.SessionID, c.MonitorID, c.Slot}

	if _, ok := l.monitors[c.MonitorID]; !ok {
		if c.FenceFD >= 0 {
			wire.CloseFDs(c.FenceFD)
		}
		events <- control.BufferRequestRejected{SessionID: c.SessionID, MonitorID: c.MonitorID, Slot: c.Slot, Reason: "unknown_monitor"}
		return
	}
	if _, ok := l.textures[key]; !ok {
		if c.FenceFD >= 0 {
			wire.CloseFDs(c.FenceFD)
		}
		events <- control.BufferRequestRejected{SessionID: c.SessionID, MonitorID: c.MonitorID, Slot: c.Slot, Reason: "unlinked_buffer"}
		return
	}

	events <- control.BufferRequestAck{SessionID: c.SessionID, MonitorID: c.MonitorID, Slot: c.Slot}
	if c.FenceFD < 0 {
		l.promote(key)
		return
	}
	l.awaitFence(key, c.FenceFD)
}

// handleSetActive switches which session's textures are composited,
// optionally starting a cross-fade (§3 "Transition State").
func (l *Loop) handleSetActive(c control.SetActiveSession) {
	l.activeSession = c.SessionID
	if c.Animation != "" {
		l.transition = &control.TransitionState{Animation: c.Animation, DurationMs: c.DurationMs, PreviousSession: c.PreviousSession}
		l.transitionStart = time.Now()
	} else {
		l.transition = nil
	}
	l.markAllDirty()
}

// handleSessionRemoved drops every texture, front entry, and fence waiter
// belonging to a removed session (§3 invariant 4).
func (l *Loop) handleSessionRemoved(c control.SessionRemoved) {
	for key, tex := range l.textures {
		if key.sessionID == c.SessionID {
			tex.Destroy()
			delete(l.textures, key)
		}
	}
	for key := range l.front {
		if key.sessionID == c.SessionID {
			delete(l.front, key)
		}
	}
	for key := range l.fenceWaiters {
		if key.sessionID == c.SessionID {
			l.cancelFenceWaiter(key.sessionID, key.monitorID, key.slot)
		}
	}
	if l.activeSession == c.SessionID {
		l.activeSession = ""
		l.transition = nil
	}
	l.markAllDirty()
}

func (l *Loop) promote(key textureKey) {
	l.front[sessionMonitorKey{key.sessionID, key.monitorID}] = key.slot
	if mon, ok := l.monitors[key.monitorID]; ok {
		mon.dirty = true
	}
}

func (l *Loop) markAllDirty() {
	for _, mon := range l.monitors {
		mon.dirty = true
	}
}

package render

import (
	"context"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/hyprside/shift/pkg/control"
	"github.com/hyprside/shift/pkg/drmkms"
	"github.com/hyprside/shift/pkg/gpu"
	"github.com/hyprside/shift/pkg/ident"
)

// addMonitor creates a GL/EGL context and a persistent scanout target for
// a newly discovered connector, binds it to the CRTC, and registers the
// monitor under a freshly minted MonitorId.
func (l *Loop) addMonitor(monID string, info drmkms.MonitorInfo) error {
	ctx, err := l.newContext(l.drm.EventFD())
	if err != nil {
		return fmt.Errorf("new gpu context: %w", err)
	}
	fd, stride, offset, err := ctx.CreateScanoutTarget(info.Width, info.Height, scanoutFourCC)
	if err != nil {
		ctx.Destroy()
		return fmt.Errorf("create scanout target: %w", err)
	}
	fbID, err := l.drm.ImportScanoutFB(info.Width, info.Height, stride, offset, scanoutFourCC, fd)
	if err != nil {
		ctx.Destroy()
		return fmt.Errorf("import scanout fb: %w", err)
	}
	if err := l.drm.SetCrtc(info, fbID); err != nil {
		l.drm.RemoveFB(fbID)
		ctx.Destroy()
		return fmt.Errorf("set crtc: %w", err)
	}

	l.monitors[monID] = &monitorState{connID: info.ID, info: info, ctx: ctx, fbID: fbID, dirty: true}
	l.connToMonitor[info.ID] = monID
	l.crtcToMonitor[info.CrtcID] = monID
	return nil
}

// removeMonitor tears down everything keyed on monID: textures, front
// entries, fence waiters, the scanout framebuffer, and the GL/EGL context
// (§3 invariant 5, "monitor removal purges all sessions for that
// monitor").
func (l *Loop) removeMonitor(monID string) {
	mon, ok := l.monitors[monID]
	if !ok {
		return
	}
	for key, tex := range l.textures {
		if key.monitorID == monID {
			tex.Destroy()
			delete(l.textures, key)
		}
	}
	for key := range l.front {
		if key.monitorID == monID {
			delete(l.front, key)
		}
	}
	for key := range l.fenceWaiters {
		if key.monitorID == monID {
			l.cancelFenceWaiter(key.sessionID, key.monitorID, key.slot)
		}
	}
	if err := l.drm.RemoveFB(mon.fbID); err != nil {
		l.logger.Warn().Err(err).Str("monitor", monID).Msg("remove fb failed")
	}
	if err := mon.ctx.Destroy(); err != nil {
		l.logger.Warn().Err(err).Str("monitor", monID).Msg("destroy gpu context failed")
	}
	delete(l.crtcToMonitor, mon.info.CrtcID)
	delete(l.connToMonitor, mon.connID)
	delete(l.monitors, monID)
}

// syncMonitors diffs the connectors DRM currently reports against the
// ones the loop already tracks, initializing newly appeared connectors
// and tearing down vanished ones (§4.3 "Monitor hot-plug").
func (l *Loop) syncMonitors(events chan<- control.Event) {
	discovered, err := l.drm.Enumerate()
	if err != nil {
		l.logger.Warn().Err(err).Msg("monitor enumerate failed during hotplug sync")
		return
	}

	seen := make(map[uint32]bool, len(discovered))
	for _, info := range discovered {
		seen[info.ID] = true
		if _, ok := l.connToMonitor[info.ID]; ok {
			continue
		}
		monID := ident.NewMonitorID()
		if err := l.addMonitor(monID, info); err != nil {
			l.logger.Warn().Err(err).Str("connector", info.Name).Msg("failed to initialize newly connected monitor")
			continue
		}
		events <- control.MonitorOnline{Monitor: toWireMonitorInfo(monID, info)}
	}

	var vanished []string
	for connID, monID := range l.connToMonitor {
		if !seen[connID] {
			vanished = append(vanished, monID)
		}
	}
	for _, monID := range vanished {
		name := l.monitors[monID].info.Name
		l.removeMonitor(monID)
		events <- control.MonitorOffline{MonitorID: monID, Name: name}
	}
}

// onDRMEvent drains pending page-flip-complete events, reports the
// flipped monitors to the Control Plane, then runs the hotplug diff (spec
// §4.3 step 5: "collect the list of monitors that flipped, emit PageFlip
// ..., then run monitor-sync").
func (l *Loop) onDRMEvent(events chan<- control.Event) {
	crtcIDs, err := l.drm.ReadPageFlipEvents()
	if err != nil {
		events <- control.FatalError{Reason: fmt.Sprintf("read page flip events: %v", err)}
		return
	}
	monitorIDs := make([]string, 0, len(crtcIDs))
	for _, crtc := range crtcIDs {
		if id, ok := l.crtcToMonitor[crtc]; ok {
			monitorIDs = append(monitorIDs, id)
		}
	}
	if len(monitorIDs) > 0 {
		events <- control.PageFlip{MonitorIDs: monitorIDs}
	}
	l.syncMonitors(events)
}

// watchDRM blocks on the DRM device fd becoming readable and forwards a
// notification to notify, until ctx is canceled. It is the one place this
// package waits on a raw fd outside the main select loop, since Go's
// select cannot multiplex directly on file descriptors.
func (l *Loop) watchDRM(ctx context.Context, notify chan<- struct{}) {
	drmFD := l.drm.EventFD()
	cancelR, cancelW, err := os.Pipe()
	if err != nil {
		l.logger.Error().Err(err).Msg("failed to create drm watcher cancel pipe")
		return
	}
	defer cancelR.Close()
	go func() {
		<-ctx.Done()
		cancelW.Close()
	}()

	fds := []unix.PollFd{
		{Fd: int32(drmFD), Events: unix.POLLIN},
		{Fd: int32(cancelR.Fd()), Events: unix.POLLIN},
	}
	for {
		_, err := unix.Poll(fds, -1)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			l.logger.Warn().Err(err).Msg("drm event poll failed")
			return
		}
		if fds[1].Revents != 0 {
			return
		}
		if fds[0].Revents&unix.POLLIN != 0 {
			select {
			case notify <- struct{}{}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// drawAndSubmit redraws every monitor marked dirty and submits a page
// flip for it (§4.3 steps 2-3, "Draw"/"Submit").
func (l *Loop) drawAndSubmit(events chan<- control.Event) {
	var elapsed uint32
	var transitionDone bool
	if l.transition != nil {
		elapsed = uint32(time.Since(l.transitionStart).Milliseconds())
		if l.transition.Progress(elapsed) >= 1 {
			transitionDone = true
		}
	}

	for monitorID, mon := range l.monitors {
		if !mon.dirty {
			continue
		}
		if err := mon.ctx.MakeCurrent(); err != nil {
			events <- control.FatalError{Reason: fmt.Sprintf("monitor %s: make current: %v", monitorID, err)}
			continue
		}
		if err := mon.ctx.Clear(); err != nil {
			l.logger.Warn().Err(err).Str("monitor", monitorID).Msg("clear failed")
		}

		viewport := gpu.Rect{X: 0, Y: 0, Width: mon.info.Width, Height: mon.info.Height}
		l.composite(mon, monitorID, viewport, elapsed)

		if err := mon.ctx.Flush(); err != nil {
			events <- control.FatalError{Reason: fmt.Sprintf("monitor %s: flush: %v", monitorID, err)}
			continue
		}
		if err := l.drm.RequestPageFlip(mon.info, mon.fbID); err != nil {
			l.logger.Warn().Err(err).Str("monitor", monitorID).Msg("page flip request failed")
			continue
		}
		mon.dirty = false
	}

	if transitionDone {
		l.transition = nil
	}
}

// composite draws the active session's front texture for monitorID, or
// blends it against the previous session's if a cross-fade is in
// progress (§3 "Transition State", Open Question (b)).
func (l *Loop) composite(mon *monitorState, monitorID string, viewport gpu.Rect, elapsedMs uint32) {
	if l.transition != nil {
		progress := l.transition.Progress(elapsedMs)
		if slot, ok := l.front[sessionMonitorKey{l.transition.PreviousSession, monitorID}]; ok {
			if tex, ok := l.textures[textureKey{l.transition.PreviousSession, monitorID, slot}]; ok {
				if err := mon.ctx.Draw(tex, viewport); err != nil {
					l.logger.Warn().Err(err).Str("monitor", monitorID).Msg("draw previous session failed")
				}
			}
		}
		if slot, ok := l.front[sessionMonitorKey{l.activeSession, monitorID}]; ok {
			if tex, ok := l.textures[textureKey{l.activeSession, monitorID, slot}]; ok {
				if err := mon.ctx.DrawBlend(tex, viewport, progress); err != nil {
					l.logger.Warn().Err(err).Str("monitor", monitorID).Msg("draw blend failed")
				}
			}
		}
		return
	}

	if l.activeSession == "" {
		return
	}
	slot, ok := l.front[sessionMonitorKey{l.activeSession, monitorID}]
	if !ok {
		return
	}
	tex, ok := l.textures[textureKey{l.activeSession, monitorID, slot}]
	if !ok {
		return
	}
	if err := mon.ctx.Draw(tex, viewport); err != nil {
		l.logger.Warn().Err(err).Str("monitor", monitorID).Msg("draw failed")
	}
}
